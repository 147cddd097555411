package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/codevault-backend/pkg/db/models"
	"github.com/angelmondragon/codevault-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/codevault-backend/pkg/errors"
	"github.com/angelmondragon/codevault-backend/pkg/logger"
)

// Service owns the credential pool: available -> reserved -> sold, with release back to
// available for unpaid or cancelled orders.
type Service interface {
	Allocate(ctx context.Context, tx *gorm.DB, productID, orderID uuid.UUID, quantity int) ([]uuid.UUID, error)
	Finalize(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) ([]Delivery, error)
	Release(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (int64, error)
	CountSold(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (int64, error)
	Deliveries(ctx context.Context, orderID uuid.UUID) ([]Delivery, error)
	AddStock(ctx context.Context, productID uuid.UUID, secrets []json.RawMessage) (int, error)
	CountAvailable(ctx context.Context, productID uuid.UUID) (int64, error)
}

// Delivery is what the buyer receives for one sold credential.
type Delivery struct {
	CredentialID uuid.UUID       `json:"credential_id"`
	Secret       json.RawMessage `json:"secret"`
}

// ShortageDetails is attached to ErrInsufficientStock responses.
type ShortageDetails struct {
	ProductID uuid.UUID `json:"product_id"`
	Requested int       `json:"requested"`
	Available int64     `json:"available"`
}

type service struct {
	repo Repository
	logg *logger.Logger
	now  func() time.Time
}

func NewService(repo Repository, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("inventory repository required")
	}
	return &service{repo: repo, logg: logg, now: time.Now}, nil
}

// Allocate reserves exactly quantity credentials for the order or none at all. The product row
// lock serializes allocators; the guarded update keeps the result correct without it.
func (s *service) Allocate(ctx context.Context, tx *gorm.DB, productID, orderID uuid.UUID, quantity int) ([]uuid.UUID, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction required")
	}
	if quantity <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}

	var allocated []uuid.UUID
	err := tx.Transaction(func(inner *gorm.DB) error {
		repo := s.repo.WithTx(inner)
		product, err := repo.LockProduct(ctx, productID)
		if err != nil {
			return err
		}
		if product == nil {
			return ErrProductNotFound
		}

		ids, err := repo.SelectAvailable(ctx, productID, quantity)
		if err != nil {
			return err
		}
		if len(ids) < quantity {
			return shortage(productID, quantity, int64(len(ids)))
		}

		reserved, err := repo.Reserve(ctx, ids, orderID, s.now().UTC())
		if err != nil {
			return err
		}
		if reserved != int64(quantity) {
			return shortage(productID, quantity, reserved)
		}
		allocated = ids
		return nil
	})
	if err != nil {
		return nil, err
	}
	return allocated, nil
}

func shortage(productID uuid.UUID, requested int, available int64) error {
	return pkgerrors.Wrap(pkgerrors.CodeInsufficientStock, ErrInsufficientStock, "insufficient stock").
		WithDetails(ShortageDetails{ProductID: productID, Requested: requested, Available: available})
}

// Finalize marks the order's reserved credentials sold and returns what to deliver.
func (s *service) Finalize(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) ([]Delivery, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction required")
	}
	repo := s.repo.WithTx(tx)
	if _, err := repo.MarkSold(ctx, orderID, s.now().UTC()); err != nil {
		return nil, err
	}
	return soldDeliveries(ctx, repo, orderID)
}

// Deliveries returns the sold credentials of an order for the buyer's order view.
func (s *service) Deliveries(ctx context.Context, orderID uuid.UUID) ([]Delivery, error) {
	return soldDeliveries(ctx, s.repo, orderID)
}

func soldDeliveries(ctx context.Context, repo Repository, orderID uuid.UUID) ([]Delivery, error) {
	rows, err := repo.ListByOrder(ctx, orderID, enums.CredentialStateSold)
	if err != nil {
		return nil, err
	}
	deliveries := make([]Delivery, 0, len(rows))
	for _, row := range rows {
		deliveries = append(deliveries, Delivery{CredentialID: row.ID, Secret: secretOf(row)})
	}
	return deliveries, nil
}

// Release returns reserved credentials to the pool. Sold credentials are never touched.
func (s *service) Release(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (int64, error) {
	return s.repo.WithTx(tx).Release(ctx, orderID)
}

func (s *service) CountSold(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (int64, error) {
	return s.repo.WithTx(tx).CountSoldForOrder(ctx, orderID)
}

// AddStock imports credentials as available units of the product.
func (s *service) AddStock(ctx context.Context, productID uuid.UUID, secrets []json.RawMessage) (int, error) {
	if len(secrets) == 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "at least one credential is required")
	}
	product, err := s.repo.FindProduct(ctx, productID)
	if err != nil {
		return 0, err
	}
	if product == nil {
		return 0, ErrProductNotFound
	}

	rows := make([]models.Credential, 0, len(secrets))
	for i, secret := range secrets {
		if len(secret) == 0 || !json.Valid(secret) {
			return 0, pkgerrors.New(pkgerrors.CodeValidation, "credential secret must be valid JSON").
				WithDetails(map[string]int{"index": i})
		}
		rows = append(rows, models.Credential{
			ProductID: productID,
			Secret:    secret,
			State:     enums.CredentialStateAvailable,
		})
	}
	if err := s.repo.Insert(ctx, rows); err != nil {
		return 0, err
	}
	if s.logg != nil {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"product_id": productID.String(),
			"count":      len(rows),
		}), "credentials imported")
	}
	return len(rows), nil
}

func (s *service) CountAvailable(ctx context.Context, productID uuid.UUID) (int64, error) {
	return s.repo.CountByState(ctx, productID, enums.CredentialStateAvailable)
}
