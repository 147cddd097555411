package inventory

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/codevault-backend/pkg/db"
	"github.com/angelmondragon/codevault-backend/pkg/db/models"
	"github.com/angelmondragon/codevault-backend/pkg/enums"
)

// Repository persists the credential pool.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	LockProduct(ctx context.Context, productID uuid.UUID) (*models.Product, error)
	FindProduct(ctx context.Context, productID uuid.UUID) (*models.Product, error)
	SelectAvailable(ctx context.Context, productID uuid.UUID, limit int) ([]uuid.UUID, error)
	Reserve(ctx context.Context, ids []uuid.UUID, orderID uuid.UUID, at time.Time) (int64, error)
	MarkSold(ctx context.Context, orderID uuid.UUID, at time.Time) (int64, error)
	Release(ctx context.Context, orderID uuid.UUID) (int64, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID, state enums.CredentialState) ([]models.Credential, error)
	CountByState(ctx context.Context, productID uuid.UUID, state enums.CredentialState) (int64, error)
	CountSoldForOrder(ctx context.Context, orderID uuid.UUID) (int64, error)
	Insert(ctx context.Context, rows []models.Credential) error
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// LockProduct takes the row lock that serializes allocations for one product.
func (r *repository) LockProduct(ctx context.Context, productID uuid.UUID) (*models.Product, error) {
	return r.product(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), productID)
}

func (r *repository) FindProduct(ctx context.Context, productID uuid.UUID) (*models.Product, error) {
	return r.product(r.db.WithContext(ctx), productID)
}

func (r *repository) product(query *gorm.DB, productID uuid.UUID) (*models.Product, error) {
	var product models.Product
	if err := query.Where("id = ?", productID).First(&product).Error; err != nil {
		if db.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &product, nil
}

func (r *repository) SelectAvailable(ctx context.Context, productID uuid.UUID, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.Credential{}).
		Where("product_id = ? AND state = ?", productID, enums.CredentialStateAvailable).
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

// Reserve flips the given credentials to reserved only while they are still available.
func (r *repository) Reserve(ctx context.Context, ids []uuid.UUID, orderID uuid.UUID, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Credential{}).
		Where("id IN ? AND state = ?", ids, enums.CredentialStateAvailable).
		Updates(map[string]any{
			"state":       enums.CredentialStateReserved,
			"order_id":    orderID,
			"reserved_at": at,
		})
	return res.RowsAffected, res.Error
}

func (r *repository) MarkSold(ctx context.Context, orderID uuid.UUID, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Credential{}).
		Where("order_id = ? AND state = ?", orderID, enums.CredentialStateReserved).
		Updates(map[string]any{
			"state":   enums.CredentialStateSold,
			"sold_at": at,
		})
	return res.RowsAffected, res.Error
}

func (r *repository) Release(ctx context.Context, orderID uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Credential{}).
		Where("order_id = ? AND state = ?", orderID, enums.CredentialStateReserved).
		Updates(map[string]any{
			"state":       enums.CredentialStateAvailable,
			"order_id":    nil,
			"reserved_at": nil,
		})
	return res.RowsAffected, res.Error
}

func (r *repository) ListByOrder(ctx context.Context, orderID uuid.UUID, state enums.CredentialState) ([]models.Credential, error) {
	var rows []models.Credential
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND state = ?", orderID, state).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) CountByState(ctx context.Context, productID uuid.UUID, state enums.CredentialState) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Credential{}).
		Where("product_id = ? AND state = ?", productID, state).
		Count(&count).Error
	return count, err
}

func (r *repository) CountSoldForOrder(ctx context.Context, orderID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Credential{}).
		Where("order_id = ? AND state = ?", orderID, enums.CredentialStateSold).
		Count(&count).Error
	return count, err
}

func (r *repository) Insert(ctx context.Context, rows []models.Credential) error {
	if len(rows) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(&rows, 200).Error
}

// secretOf returns the stored blob, defaulting to JSON null.
func secretOf(c models.Credential) json.RawMessage {
	if len(c.Secret) == 0 {
		return json.RawMessage("null")
	}
	return c.Secret
}
