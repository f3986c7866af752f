package wallet

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/chatloop/chatloop-backend/pkg/db/models"
	"github.com/chatloop/chatloop-backend/pkg/enums"
	pkgerrors "github.com/chatloop/chatloop-backend/pkg/errors"
	"github.com/chatloop/chatloop-backend/pkg/money"
	"github.com/google/uuid"
)

func seedHistory(t *testing.T, h *ledgerHarness, userID uuid.UUID, count int) {
	t.Helper()
	for i := 0; i < count; i++ {
		_, err := h.ledger.Recharge(context.Background(), RechargeInput{
			UserID:    userID,
			Amount:    money.New(int64(i+1), enums.CurrencyUSD),
			Reference: fmt.Sprintf("seed-%d", i),
			Details:   fmt.Sprintf("seed %d", i),
		})
		if err != nil {
			t.Fatalf("seed recharge %d failed: %v", i, err)
		}
	}
}

func TestReader_ListTransactions_OffsetPaging(t *testing.T) {
	h := newLedgerHarness(t)
	reader, err := NewReader(h.repo, h.ledger)
	if err != nil {
		t.Fatalf("NewReader error: %v", err)
	}
	ctx := context.Background()
	userID := uuid.New()
	seedHistory(t, h, userID, 7)

	first, err := reader.ListTransactions(ctx, userID, 3, 0)
	if err != nil {
		t.Fatalf("first page error: %v", err)
	}
	if len(first.Items) != 3 || !first.HasMore || first.NextOffset != 3 {
		t.Fatalf("unexpected first page: %d items, hasMore=%v, next=%d", len(first.Items), first.HasMore, first.NextOffset)
	}

	second, err := reader.ListTransactions(ctx, userID, 3, first.NextOffset)
	if err != nil {
		t.Fatalf("second page error: %v", err)
	}
	if len(second.Items) != 3 || !second.HasMore {
		t.Fatalf("unexpected second page: %d items, hasMore=%v", len(second.Items), second.HasMore)
	}

	third, err := reader.ListTransactions(ctx, userID, 3, second.NextOffset)
	if err != nil {
		t.Fatalf("third page error: %v", err)
	}
	if len(third.Items) != 1 || third.HasMore {
		t.Fatalf("unexpected third page: %d items, hasMore=%v", len(third.Items), third.HasMore)
	}

	// Append order, no duplicates or gaps across pages.
	seen := map[uuid.UUID]bool{}
	var amounts []int64
	for _, item := range append(append(first.Items, second.Items...), third.Items...) {
		if seen[item.ID] {
			t.Fatalf("transaction %s appeared twice", item.ID)
		}
		seen[item.ID] = true
		amounts = append(amounts, item.Amount)
	}
	for i, amount := range amounts {
		if amount != int64(i+1) {
			t.Fatalf("pages out of append order at %d: %v", i, amounts)
		}
	}
}

func TestReader_ListTransactions_Validation(t *testing.T) {
	h := newLedgerHarness(t)
	reader, err := NewReader(h.repo, h.ledger)
	if err != nil {
		t.Fatalf("NewReader error: %v", err)
	}

	if _, err := reader.ListTransactions(context.Background(), uuid.Nil, 10, 0); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for nil user, got %v", err)
	}
	if _, err := reader.ListTransactions(context.Background(), uuid.New(), 10, -1); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for negative offset, got %v", err)
	}
}

func TestReader_ListHistory_CursorPaging(t *testing.T) {
	h := newLedgerHarness(t)
	reader, err := NewReader(h.repo, h.ledger)
	if err != nil {
		t.Fatalf("NewReader error: %v", err)
	}
	ctx := context.Background()
	userID := uuid.New()
	seedHistory(t, h, userID, 5)

	first, err := reader.ListHistory(ctx, userID, 2, "")
	if err != nil {
		t.Fatalf("first history page error: %v", err)
	}
	if len(first.Items) != 2 || first.Cursor == "" {
		t.Fatalf("unexpected first page: %d items, cursor=%q", len(first.Items), first.Cursor)
	}

	seen := map[uuid.UUID]bool{}
	cursor := ""
	total := 0
	for {
		page, err := reader.ListHistory(ctx, userID, 2, cursor)
		if err != nil {
			t.Fatalf("history page error: %v", err)
		}
		for _, item := range page.Items {
			if seen[item.ID] {
				t.Fatalf("transaction %s appeared twice", item.ID)
			}
			seen[item.ID] = true
			total++
		}
		if page.Cursor == "" {
			break
		}
		cursor = page.Cursor
	}
	if total != 5 {
		t.Fatalf("expected 5 transactions across pages, got %d", total)
	}

	if _, err := reader.ListHistory(ctx, userID, 2, "not-a-cursor"); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for bad cursor, got %v", err)
	}
	if _, err := reader.ListHistory(ctx, userID, 2, "   "); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for blank cursor, got %v", err)
	}
}

func TestReader_ListHistory_PageBoundaryKeepsEveryRow(t *testing.T) {
	h := newLedgerHarness(t)
	reader, err := NewReader(h.repo, h.ledger)
	if err != nil {
		t.Fatalf("NewReader error: %v", err)
	}
	ctx := context.Background()
	userID := uuid.New()
	account, err := h.ledger.GetOrCreate(ctx, userID)
	if err != nil {
		t.Fatalf("GetOrCreate error: %v", err)
	}

	// Distinct timestamps so page boundaries fall on the created_at key.
	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		txn := &models.WalletTransaction{
			AccountID:  account.ID,
			UserID:     &userID,
			ExternalID: fmt.Sprintf("hist-%d", i),
			Type:       enums.WalletTransactionTypeCredit,
			Amount:     int64(i + 1),
			Currency:   enums.CurrencyUSD,
			Status:     enums.WalletTransactionStatusCompleted,
			CreatedAt:  base.Add(time.Duration(i) * time.Second),
		}
		if err := h.repo.AppendTransaction(ctx, txn); err != nil {
			t.Fatalf("append transaction %d: %v", i, err)
		}
	}

	var amounts []int64
	cursor := ""
	for {
		page, err := reader.ListHistory(ctx, userID, 2, cursor)
		if err != nil {
			t.Fatalf("history page error: %v", err)
		}
		for _, item := range page.Items {
			amounts = append(amounts, item.Amount)
		}
		if page.Cursor == "" {
			break
		}
		cursor = page.Cursor
	}

	want := []int64{5, 4, 3, 2, 1}
	if len(amounts) != len(want) {
		t.Fatalf("expected %d rows across pages, got %v", len(want), amounts)
	}
	for i := range want {
		if amounts[i] != want[i] {
			t.Fatalf("history skipped or reordered rows at page boundary: %v", amounts)
		}
	}
}
