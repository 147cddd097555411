package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/codevault-backend/internal/inventory"
	"github.com/angelmondragon/codevault-backend/internal/ledger"
	"github.com/angelmondragon/codevault-backend/pkg/db/models"
	dbtypes "github.com/angelmondragon/codevault-backend/pkg/db/types"
	"github.com/angelmondragon/codevault-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/codevault-backend/pkg/errors"
	"github.com/angelmondragon/codevault-backend/pkg/logger"
	"github.com/angelmondragon/codevault-backend/pkg/metrics"
	"github.com/angelmondragon/codevault-backend/pkg/outbox"
	"github.com/angelmondragon/codevault-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/codevault-backend/pkg/pagination"
)

const (
	maxQuantity         = 100
	shortageNotePrefix  = "insufficient stock"
	expiredCancelReason = "payment window expired"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitOnce(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type allocationMetrics interface {
	IncAllocation(outcome string)
}

// Service coordinates payment confirmation, credential allocation and cancellation for orders.
type Service interface {
	Checkout(ctx context.Context, input CheckoutInput) (*models.Order, error)
	MarkPaidTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, error)
	RetryAllocation(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	Cancel(ctx context.Context, input CancelInput) (*models.Order, error)
	Get(ctx context.Context, orderID, userID uuid.UUID) (*OrderDetail, error)
	FindForPayment(ctx context.Context, orderID, userID uuid.UUID) (*models.Order, error)
	ListForUser(ctx context.Context, userID uuid.UUID, params pagination.Params) (pagination.Page[OrderSummary], error)
	ExpireStale(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

// Options tunes checkout behaviour.
type Options struct {
	// ReferralRate is the share of a paid order credited to the buyer's referrer. Zero disables it.
	ReferralRate decimal.Decimal
}

type service struct {
	repo      Repository
	tx        txRunner
	ledger    ledger.Service
	inventory inventory.Service
	outbox    outboxPublisher
	metrics   allocationMetrics
	logg      *logger.Logger
	opts      Options
	now       func() time.Time
}

// NewService wires the order lifecycle with its collaborators.
func NewService(
	repo Repository,
	tx txRunner,
	ledgerSvc ledger.Service,
	inventorySvc inventory.Service,
	publisher outboxPublisher,
	m *metrics.PaymentMetrics,
	logg *logger.Logger,
	opts Options,
) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if ledgerSvc == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if inventorySvc == nil {
		return nil, fmt.Errorf("inventory service required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if opts.ReferralRate.IsNegative() || opts.ReferralRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("referral rate must be in [0, 1)")
	}
	if m == nil {
		m = metrics.NewPaymentMetrics(nil)
	}
	return &service{
		repo:      repo,
		tx:        tx,
		ledger:    ledgerSvc,
		inventory: inventorySvc,
		outbox:    publisher,
		metrics:   m,
		logg:      logg,
		opts:      opts,
		now:       time.Now,
	}, nil
}

func (s *service) Checkout(ctx context.Context, input CheckoutInput) (*models.Order, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if input.ProductID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}
	if input.Quantity <= 0 || input.Quantity > maxQuantity {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("quantity must be between 1 and %d", maxQuantity))
	}
	if !input.PaymentMethod.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unsupported payment method %q", input.PaymentMethod))
	}

	product, err := s.repo.FindProduct(ctx, input.ProductID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product")
	}
	if product == nil || !product.IsActive {
		return nil, ErrProductNotFound
	}

	available, err := s.inventory.CountAvailable(ctx, input.ProductID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count available stock")
	}
	if available < int64(input.Quantity) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInsufficientStock, inventory.ErrInsufficientStock, "insufficient stock").
			WithDetails(inventory.ShortageDetails{ProductID: input.ProductID, Requested: input.Quantity, Available: available})
	}

	var created *models.Order
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		now := s.now().UTC()
		order := &models.Order{
			OrderNumber:   NewOrderNumber(now),
			UserID:        input.UserID,
			ProductID:     product.ID,
			Quantity:      input.Quantity,
			UnitPrice:     product.Price,
			TotalAmount:   product.Price.Mul(decimal.NewFromInt(int64(input.Quantity))),
			Currency:      product.Currency,
			Status:        enums.OrderStatusPending,
			PaymentStatus: enums.PaymentStatusPending,
			PaymentMethod: input.PaymentMethod,
		}
		if err := repo.Create(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{UserID: input.UserID, Role: string(enums.UserRoleCustomer)},
			Data: payloads.OrderCreatedEvent{
				OrderID:       order.ID,
				OrderNumber:   order.OrderNumber,
				UserID:        order.UserID,
				ProductID:     order.ProductID,
				Quantity:      order.Quantity,
				TotalAmount:   order.TotalAmount,
				Currency:      order.Currency,
				PaymentMethod: order.PaymentMethod,
			},
			Version: 1,
		}); err != nil {
			return err
		}

		created = order
		if input.PaymentMethod != enums.PaymentMethodBalance {
			return nil
		}
		paid, err := s.MarkPaidTx(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		created = paid
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// MarkPaidTx settles a pending order from the buyer's balance and fulfils it inside tx. A
// stock shortage keeps the order in processing and still commits the payment.
func (s *service) MarkPaidTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction required")
	}
	repo := s.repo.WithTx(tx)
	order, err := repo.FindByIDForUpdate(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	if order.Status != enums.OrderStatusPending || order.PaymentStatus != enums.PaymentStatusPending {
		return nil, pkgerrors.Wrap(pkgerrors.CodeStateConflict, ErrOrderNotPayable, "order is not awaiting payment").
			WithDetails(map[string]string{"status": string(order.Status), "payment_status": string(order.PaymentStatus)})
	}

	purchase, err := s.ledger.RecordCompleted(ctx, tx, ledger.CompletedInput{
		UserID:   order.UserID,
		Kind:     enums.LedgerKindPurchase,
		Amount:   order.TotalAmount,
		Currency: order.Currency,
		OrderID:  &order.ID,
		Note:     "order " + order.OrderNumber,
	})
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if err := repo.UpdateIfStatus(ctx, order.ID, enums.OrderStatusPending, map[string]any{
		"status":         enums.OrderStatusProcessing,
		"payment_status": enums.PaymentStatusPaid,
		"paid_at":        now,
	}); err != nil {
		return nil, err
	}
	order.Status = enums.OrderStatusProcessing
	order.PaymentStatus = enums.PaymentStatusPaid
	order.PaidAt = &now

	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderPaid,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         outbox.SystemActor("orders"),
		Data: payloads.OrderPaidEvent{
			OrderID:       order.ID,
			UserID:        order.UserID,
			TransactionID: purchase.TransactionID,
			Amount:        order.TotalAmount,
			PaidAt:        now,
		},
		Version: 1,
	}); err != nil {
		return nil, err
	}

	if err := s.creditReferrer(ctx, tx, order); err != nil {
		return nil, err
	}

	if err := s.fulfill(ctx, tx, order, true); err != nil {
		return nil, err
	}
	return order, nil
}

// RetryAllocation re-runs allocation for a paid order held in processing. A shortage is
// returned to the caller and leaves the order untouched.
func (s *service) RetryAllocation(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var result *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := s.repo.WithTx(tx).FindByIDForUpdate(ctx, orderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		if order == nil {
			return ErrOrderNotFound
		}
		if order.Status != enums.OrderStatusProcessing || order.PaymentStatus != enums.PaymentStatusPaid {
			return pkgerrors.Wrap(pkgerrors.CodeStateConflict, ErrInvalidTransition, "only paid orders in processing can be allocated").
				WithDetails(map[string]string{"status": string(order.Status), "payment_status": string(order.PaymentStatus)})
		}
		if err := s.fulfill(ctx, tx, order, false); err != nil {
			return err
		}
		result = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) fulfill(ctx context.Context, tx *gorm.DB, order *models.Order, holdOnShortage bool) error {
	repo := s.repo.WithTx(tx)
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"order_id":   order.ID.String(),
		"product_id": order.ProductID.String(),
		"quantity":   order.Quantity,
	})

	ids, err := s.inventory.Allocate(ctx, tx, order.ProductID, order.ID, order.Quantity)
	if err != nil {
		if !errors.Is(err, inventory.ErrInsufficientStock) {
			return err
		}
		s.metrics.IncAllocation(metrics.AllocationInsufficientStock)
		s.logg.Error(logCtx, "paid order could not be allocated", err)
		if !holdOnShortage {
			return err
		}
		return s.holdForStock(ctx, tx, order, err)
	}

	if _, err := s.inventory.Finalize(ctx, tx, order.ID); err != nil {
		return err
	}

	now := s.now().UTC()
	if err := repo.UpdateIfStatus(ctx, order.ID, enums.OrderStatusProcessing, map[string]any{
		"status":                   enums.OrderStatusCompleted,
		"completed_at":             now,
		"allocated_credential_ids": dbtypes.UUIDArray(ids),
		"fulfillment_note":         nil,
	}); err != nil {
		return err
	}
	order.Status = enums.OrderStatusCompleted
	order.CompletedAt = &now
	order.AllocatedCredentialIDs = dbtypes.UUIDArray(ids)
	order.FulfillmentNote = nil

	s.metrics.IncAllocation(metrics.AllocationSucceeded)
	s.logg.Info(logCtx, "order delivered")

	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderDelivered,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         outbox.SystemActor("orders"),
		Data: payloads.OrderDeliveredEvent{
			OrderID:       order.ID,
			UserID:        order.UserID,
			CredentialIDs: ids,
			DeliveredAt:   now,
		},
		Version: 1,
	})
}

func (s *service) holdForStock(ctx context.Context, tx *gorm.DB, order *models.Order, cause error) error {
	details := inventory.ShortageDetails{ProductID: order.ProductID, Requested: order.Quantity}
	if typed := pkgerrors.As(cause); typed != nil {
		if d, ok := typed.Details().(inventory.ShortageDetails); ok {
			details = d
		}
	}

	note := fmt.Sprintf("%s: requested %d, available %d", shortageNotePrefix, details.Requested, details.Available)
	if err := s.repo.WithTx(tx).UpdateIfStatus(ctx, order.ID, enums.OrderStatusProcessing, map[string]any{
		"fulfillment_note": note,
	}); err != nil {
		return err
	}
	order.FulfillmentNote = &note

	// Repeated allocation attempts keep the order on hold but alert operators only once.
	return s.outbox.EmitOnce(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderStockShortage,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         outbox.SystemActor("orders"),
		Data: payloads.OrderStockShortageEvent{
			OrderID:   order.ID,
			ProductID: details.ProductID,
			Requested: details.Requested,
			Available: details.Available,
		},
		Version: 1,
	})
}

func (s *service) creditReferrer(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	if !s.opts.ReferralRate.IsPositive() {
		return nil
	}
	buyer, err := s.repo.WithTx(tx).FindUser(ctx, order.UserID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load buyer")
	}
	if buyer == nil || buyer.ReferrerID == nil || *buyer.ReferrerID == buyer.ID {
		return nil
	}
	commission := order.TotalAmount.Mul(s.opts.ReferralRate).Round(2)
	if !commission.IsPositive() {
		return nil
	}
	_, err = s.ledger.RecordCompleted(ctx, tx, ledger.CompletedInput{
		UserID:   *buyer.ReferrerID,
		Kind:     enums.LedgerKindReferralCommission,
		Amount:   commission,
		Currency: order.Currency,
		OrderID:  &order.ID,
		Note:     "referral for order " + order.OrderNumber,
	})
	return err
}

func (s *service) Cancel(ctx context.Context, input CancelInput) (*models.Order, error) {
	return s.cancel(ctx, input, false)
}

// cancel releases stock, voids open deposits and refunds a paid order. With unpaidOnly set the
// order must still be awaiting payment when the lock is taken.
func (s *service) cancel(ctx context.Context, input CancelInput, unpaidOnly bool) (*models.Order, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}

	var result *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindByIDForUpdate(ctx, input.OrderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		if order == nil {
			return ErrOrderNotFound
		}
		if input.ActorRole == enums.UserRoleCustomer && order.UserID != input.ActorUserID {
			return ErrOrderNotFound
		}
		if unpaidOnly && (order.Status != enums.OrderStatusPending || order.PaymentStatus != enums.PaymentStatusPending) {
			return ErrOrderNotPayable
		}
		if !CanTransition(order.Status, enums.OrderStatusCancelled) {
			return pkgerrors.Wrap(pkgerrors.CodeStateConflict, ErrInvalidTransition, "order cannot be cancelled").
				WithDetails(map[string]string{"status": string(order.Status)})
		}
		if order.Status == enums.OrderStatusProcessing {
			sold, err := s.inventory.CountSold(ctx, tx, order.ID)
			if err != nil {
				return err
			}
			if sold > 0 {
				return pkgerrors.Wrap(pkgerrors.CodeStateConflict, ErrInvalidTransition, "order already has delivered credentials").
					WithDetails(map[string]int64{"sold": sold})
			}
		}

		released, err := s.inventory.Release(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		voided, err := s.ledger.CancelPendingForOrder(ctx, tx, order.ID)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		updates := map[string]any{
			"status":       enums.OrderStatusCancelled,
			"cancelled_at": now,
		}
		if input.Reason != "" {
			updates["cancellation_reason"] = input.Reason
		}

		event := payloads.OrderCancelledEvent{
			OrderID:     order.ID,
			UserID:      order.UserID,
			Reason:      input.Reason,
			CancelledAt: now,
		}
		if order.PaymentStatus == enums.PaymentStatusPaid {
			refund, err := s.ledger.RecordCompleted(ctx, tx, ledger.CompletedInput{
				UserID:   order.UserID,
				Kind:     enums.LedgerKindRefund,
				Amount:   order.TotalAmount,
				Currency: order.Currency,
				OrderID:  &order.ID,
				Note:     "refund for order " + order.OrderNumber,
			})
			if err != nil {
				return err
			}
			updates["payment_status"] = enums.PaymentStatusRefunded
			order.PaymentStatus = enums.PaymentStatusRefunded
			event.Refunded = true
			event.RefundTransactionID = refund.TransactionID
		}

		if err := repo.UpdateIfStatus(ctx, order.ID, order.Status, updates); err != nil {
			return err
		}
		order.Status = enums.OrderStatusCancelled
		order.CancelledAt = &now
		if input.Reason != "" {
			order.CancellationReason = &input.Reason
		}

		logCtx := s.logg.WithFields(ctx, map[string]any{
			"order_id":          order.ID.String(),
			"released":          released,
			"voided_deposits":   voided,
			"refunded":          event.Refunded,
			"cancelled_by_role": string(input.ActorRole),
		})
		s.logg.Info(logCtx, "order cancelled")

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCancelled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         buildActor(input.ActorUserID, input.ActorRole),
			Data:          event,
			Version:       1,
		}); err != nil {
			return err
		}
		result = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) Get(ctx context.Context, orderID, userID uuid.UUID) (*OrderDetail, error) {
	order, err := s.FindForPayment(ctx, orderID, userID)
	if err != nil {
		return nil, err
	}
	var deliveries []inventory.Delivery
	if order.Status == enums.OrderStatusCompleted {
		deliveries, err = s.inventory.Deliveries(ctx, order.ID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load credentials")
		}
	}
	detail := detailFrom(*order, deliveries)
	return &detail, nil
}

// FindForPayment loads an order owned by userID.
func (s *service) FindForPayment(ctx context.Context, orderID, userID uuid.UUID) (*models.Order, error) {
	order, err := s.repo.FindForUser(ctx, orderID, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

func (s *service) ListForUser(ctx context.Context, userID uuid.UUID, params pagination.Params) (pagination.Page[OrderSummary], error) {
	rows, err := s.repo.ListByUser(ctx, userID, params)
	if err != nil {
		return pagination.Page[OrderSummary]{}, err
	}
	page := pagination.Build(rows, params.Limit, func(o models.Order) pagination.Cursor {
		return pagination.Cursor{CreatedAt: o.CreatedAt, ID: o.ID}
	})
	items := make([]OrderSummary, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, NewOrderSummary(order))
	}
	return pagination.Page[OrderSummary]{Items: items, NextCursor: page.NextCursor}, nil
}

// ExpireStale cancels orders that were never paid within olderThan. Each order is cancelled in
// its own transaction; failures are collected and the rest still proceed.
func (s *service) ExpireStale(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("expiry window must be positive")
	}
	stale, err := s.repo.ListUnpaidBefore(ctx, s.now().UTC().Add(-olderThan), limit)
	if err != nil {
		return 0, err
	}

	var errs error
	expired := 0
	for _, order := range stale {
		_, err := s.cancel(ctx, CancelInput{OrderID: order.ID, Reason: expiredCancelReason}, true)
		if err != nil {
			if errors.Is(err, ErrOrderNotPayable) {
				continue
			}
			errs = multierr.Append(errs, fmt.Errorf("expire order %s: %w", order.ID, err))
			continue
		}
		expired++
	}
	return expired, errs
}

func buildActor(userID uuid.UUID, role enums.UserRole) *outbox.ActorRef {
	if role == "" {
		return outbox.SystemActor("orders")
	}
	return &outbox.ActorRef{UserID: userID, Role: string(role)}
}
