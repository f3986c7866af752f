package wallet

import (
	"context"
	"time"

	"github.com/chatloop/chatloop-backend/pkg/db/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository handles wallet account and transaction persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateAccount(ctx context.Context, account *models.WalletAccount) error
	FindAccountByUserID(ctx context.Context, userID uuid.UUID, forUpdate bool) (*models.WalletAccount, error)
	FindAccountByID(ctx context.Context, id uuid.UUID, forUpdate bool) (*models.WalletAccount, error)
	UpdateBalances(ctx context.Context, accountID uuid.UUID, balance, suspense int64) error
	AppendTransaction(ctx context.Context, txn *models.WalletTransaction) error
	FindTransactionByExternalID(ctx context.Context, externalID string) (*models.WalletTransaction, error)
	ListTransactions(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]models.WalletTransaction, error)
	ListTransactionsBefore(ctx context.Context, accountID uuid.UUID, cursor *cursorKey, limit int) ([]models.WalletTransaction, error)
}

// cursorKey is the keyset position for descending history reads.
type cursorKey struct {
	createdAt time.Time
	id        uuid.UUID
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a wallet repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// locked applies FOR UPDATE where the dialect supports row locks. SQLite
// serializes writers on the database lock instead.
func (r *repository) locked(query *gorm.DB, forUpdate bool) *gorm.DB {
	if !forUpdate || r.db.Dialector.Name() == "sqlite" {
		return query
	}
	return query.Clauses(clause.Locking{Strength: "UPDATE"})
}

func (r *repository) CreateAccount(ctx context.Context, account *models.WalletAccount) error {
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(account).Error
}

func (r *repository) FindAccountByUserID(ctx context.Context, userID uuid.UUID, forUpdate bool) (*models.WalletAccount, error) {
	var account models.WalletAccount
	query := r.locked(r.db.WithContext(ctx), forUpdate)
	if err := query.Where("user_id = ?", userID).First(&account).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func (r *repository) FindAccountByID(ctx context.Context, id uuid.UUID, forUpdate bool) (*models.WalletAccount, error) {
	var account models.WalletAccount
	query := r.locked(r.db.WithContext(ctx), forUpdate)
	if err := query.Where("id = ?", id).First(&account).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func (r *repository) UpdateBalances(ctx context.Context, accountID uuid.UUID, balance, suspense int64) error {
	return r.db.WithContext(ctx).
		Model(&models.WalletAccount{}).
		Where("id = ?", accountID).
		Updates(map[string]any{
			"balance":          balance,
			"suspense_balance": suspense,
		}).Error
}

func (r *repository) AppendTransaction(ctx context.Context, txn *models.WalletTransaction) error {
	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(txn).Error
}

func (r *repository) FindTransactionByExternalID(ctx context.Context, externalID string) (*models.WalletTransaction, error) {
	var txn models.WalletTransaction
	if err := r.db.WithContext(ctx).
		Where("external_id = ?", externalID).
		First(&txn).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &txn, nil
}

func (r *repository) ListTransactions(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]models.WalletTransaction, error) {
	var txns []models.WalletTransaction
	if err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Offset(offset).
		Find(&txns).Error; err != nil {
		return nil, err
	}
	return txns, nil
}

func (r *repository) ListTransactionsBefore(ctx context.Context, accountID uuid.UUID, cursor *cursorKey, limit int) ([]models.WalletTransaction, error) {
	query := r.db.WithContext(ctx).Where("account_id = ?", accountID)
	if cursor != nil {
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)", cursor.createdAt, cursor.createdAt, cursor.id)
	}
	var txns []models.WalletTransaction
	if err := query.
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&txns).Error; err != nil {
		return nil, err
	}
	return txns, nil
}
