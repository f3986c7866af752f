package wallet

import (
	"context"
	"fmt"

	"github.com/chatloop/chatloop-backend/pkg/db/models"
	pkgerrors "github.com/chatloop/chatloop-backend/pkg/errors"
	"github.com/chatloop/chatloop-backend/pkg/pagination"
	"github.com/google/uuid"
)

// Page is one slice of a user's transaction history in append order.
type Page struct {
	Items      []models.WalletTransaction
	NextOffset int
	HasMore    bool
}

// HistoryPage is a keyset-paginated slice in reverse chronological order,
// for the dashboard listing.
type HistoryPage struct {
	Items  []models.WalletTransaction
	Cursor string
}

// Reader serves paginated reads of balances and transaction history. The
// log is append-only, so offset pages stay stable: later writes only ever
// land past the end of earlier pages.
type Reader interface {
	ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) (*Page, error)
	ListHistory(ctx context.Context, userID uuid.UUID, limit int, cursor string) (*HistoryPage, error)
}

type reader struct {
	repo   Repository
	ledger Ledger
}

// NewReader wires a wallet account reader.
func NewReader(repo Repository, ledger Ledger) (Reader, error) {
	if repo == nil {
		return nil, fmt.Errorf("wallet repository required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("wallet ledger required")
	}
	return &reader{repo: repo, ledger: ledger}, nil
}

func (r *reader) ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) (*Page, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if offset < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "offset must not be negative")
	}

	account, err := r.ledger.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}

	limit = pagination.NormalizeLimit(limit)
	rows, err := r.repo.ListTransactions(ctx, account.ID, limit+1, offset)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list transactions")
	}

	page := &Page{Items: rows, NextOffset: offset + len(rows)}
	if len(rows) > limit {
		page.Items = rows[:limit]
		page.NextOffset = offset + limit
		page.HasMore = true
	}
	return page, nil
}

func (r *reader) ListHistory(ctx context.Context, userID uuid.UUID, limit int, cursor string) (*HistoryPage, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}

	account, err := r.ledger.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}

	limit = pagination.NormalizeLimit(limit)
	var key *cursorKey
	if cursor != "" {
		parsed, err := pagination.ParseCursor(cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		key = &cursorKey{createdAt: parsed.CreatedAt, id: parsed.ID}
	}

	rows, err := r.repo.ListTransactionsBefore(ctx, account.ID, key, pagination.LimitWithBuffer(limit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list transaction history")
	}

	page := &HistoryPage{Items: rows}
	if len(rows) > limit {
		page.Items = rows[:limit]
		// The cursor pins the last returned row; the repository predicate is
		// strictly before it, so the next page starts at the row after.
		last := page.Items[limit-1]
		page.Cursor = pagination.EncodeCursor(pagination.Cursor{
			CreatedAt: last.CreatedAt,
			ID:        last.ID,
		})
	}
	return page, nil
}
