package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/codevault-backend/pkg/db"
	"github.com/angelmondragon/codevault-backend/pkg/db/models"
	"github.com/angelmondragon/codevault-backend/pkg/enums"
	"github.com/angelmondragon/codevault-backend/pkg/pagination"
)

// Repository manages persistence for ledger entries and the balances they drive.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, entry *models.LedgerEntry) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.LedgerEntry, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.LedgerEntry, error)
	FindByGatewayIDForUpdate(ctx context.Context, gatewayIDs []string) (*models.LedgerEntry, error)
	FindByTransactionIDForUpdate(ctx context.Context, transactionID string) (*models.LedgerEntry, error)
	FindPendingDepositByCorrelationForUpdate(ctx context.Context, token string) (*models.LedgerEntry, error)
	UpdateIfStatus(ctx context.Context, id uuid.UUID, expected enums.LedgerEntryStatus, updates map[string]any) error
	CancelPendingDeposits(ctx context.Context, orderID uuid.UUID) (int64, error)
	ListByUser(ctx context.Context, userID uuid.UUID, params pagination.Params) ([]models.LedgerEntry, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.LedgerEntry, error)
	ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]models.LedgerEntry, error)
	AdjustBalance(ctx context.Context, userID uuid.UUID, delta decimal.Decimal) error
	Balance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, entry *models.LedgerEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.LedgerEntry, error) {
	return r.first(r.db.WithContext(ctx).Where("id = ?", id))
}

func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.LedgerEntry, error) {
	return r.first(r.locked(ctx).Where("id = ?", id))
}

func (r *repository) FindByGatewayIDForUpdate(ctx context.Context, gatewayIDs []string) (*models.LedgerEntry, error) {
	ids := make([]string, 0, len(gatewayIDs))
	for _, id := range gatewayIDs {
		if id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return r.first(r.locked(ctx).Where("gateway_transaction_id IN ? OR gateway_payment_id IN ?", ids, ids))
}

func (r *repository) FindByTransactionIDForUpdate(ctx context.Context, transactionID string) (*models.LedgerEntry, error) {
	if transactionID == "" {
		return nil, nil
	}
	return r.first(r.locked(ctx).Where("transaction_id = ?", transactionID))
}

func (r *repository) FindPendingDepositByCorrelationForUpdate(ctx context.Context, token string) (*models.LedgerEntry, error) {
	if token == "" {
		return nil, nil
	}
	return r.first(r.locked(ctx).
		Where("correlation_token = ? AND kind = ? AND status = ?", token, enums.LedgerKindDeposit, enums.LedgerStatusPending).
		Order("created_at DESC"))
}

// UpdateIfStatus applies updates only while the row still carries the expected status.
func (r *repository) UpdateIfStatus(ctx context.Context, id uuid.UUID, expected enums.LedgerEntryStatus, updates map[string]any) error {
	res := r.db.WithContext(ctx).
		Model(&models.LedgerEntry{}).
		Where("id = ? AND status = ?", id, expected).
		Updates(updates)
	return db.ExpectRows(res, 1)
}

func (r *repository) CancelPendingDeposits(ctx context.Context, orderID uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.LedgerEntry{}).
		Where("order_id = ? AND kind = ? AND status = ?", orderID, enums.LedgerKindDeposit, enums.LedgerStatusPending).
		Updates(map[string]any{"status": enums.LedgerStatusCancelled})
	return res.RowsAffected, res.Error
}

func (r *repository) ListByUser(ctx context.Context, userID uuid.UUID, params pagination.Params) ([]models.LedgerEntry, error) {
	var rows []models.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Scopes(pagination.Keyset(params)).
		Find(&rows).Error
	return rows, err
}

func (r *repository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.LedgerEntry, error) {
	var rows []models.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

// ListStalePending returns gateway deposits still open after createdBefore, oldest first.
func (r *repository) ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]models.LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []models.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("kind = ? AND status IN ? AND gateway_transaction_id IS NOT NULL AND created_at < ?",
			enums.LedgerKindDeposit,
			[]enums.LedgerEntryStatus{enums.LedgerStatusPending, enums.LedgerStatusProcessing},
			createdBefore).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// AdjustBalance adds delta to the user's balance. Debits never take the balance below zero.
func (r *repository) AdjustBalance(ctx context.Context, userID uuid.UUID, delta decimal.Decimal) error {
	if delta.IsZero() {
		return nil
	}
	query := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID)
	if delta.IsNegative() {
		query = query.Where("balance >= ?", delta.Neg())
	}
	res := query.Update("balance", gorm.Expr("balance + ?", delta))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrUserNotFound
	}
	return ErrInsufficientBalance
}

func (r *repository) Balance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	var user models.User
	err := r.db.WithContext(ctx).Select("id", "balance").Where("id = ?", userID).First(&user).Error
	if err != nil {
		if db.IsNotFound(err) {
			return decimal.Zero, ErrUserNotFound
		}
		return decimal.Zero, err
	}
	return user.Balance, nil
}

func (r *repository) locked(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"})
}

func (r *repository) first(query *gorm.DB) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	if err := query.First(&entry).Error; err != nil {
		if db.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}
