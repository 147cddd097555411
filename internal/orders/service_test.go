package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/codevault-backend/internal/inventory"
	"github.com/angelmondragon/codevault-backend/internal/ledger"
	"github.com/angelmondragon/codevault-backend/pkg/db"
	"github.com/angelmondragon/codevault-backend/pkg/db/dbtest"
	"github.com/angelmondragon/codevault-backend/pkg/db/models"
	"github.com/angelmondragon/codevault-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/codevault-backend/pkg/errors"
	"github.com/angelmondragon/codevault-backend/pkg/logger"
	"github.com/angelmondragon/codevault-backend/pkg/metrics"
	"github.com/angelmondragon/codevault-backend/pkg/outbox"
	"github.com/angelmondragon/codevault-backend/pkg/pagination"
)

type fixture struct {
	client *db.Client
	svc    Service
	ledger ledger.Service
	stock  inventory.Service
}

func newFixture(t *testing.T, opts Options) fixture {
	t.Helper()
	client := dbtest.Open(t)
	logg := logger.New(logger.Options{ServiceName: "orders-test", Output: io.Discard})
	emitter := outbox.NewService(outbox.NewRepository(client.DB()), logg)

	ledgerSvc, err := ledger.NewService(ledger.NewRepository(client.DB()), emitter, logg)
	require.NoError(t, err)
	stock, err := inventory.NewService(inventory.NewRepository(client.DB()), logg)
	require.NoError(t, err)
	svc, err := NewService(NewRepository(client.DB()), client, ledgerSvc, stock, emitter,
		metrics.NewPaymentMetrics(prometheus.NewRegistry()), logg, opts)
	require.NoError(t, err)

	return fixture{client: client, svc: svc, ledger: ledgerSvc, stock: stock}
}

func (f fixture) seedUser(t *testing.T, balance string, referrer *uuid.UUID) models.User {
	t.Helper()
	user := models.User{
		Email:      uuid.NewString() + "@example.com",
		Role:       enums.UserRoleCustomer,
		Balance:    decimal.RequireFromString(balance),
		ReferrerID: referrer,
	}
	require.NoError(t, f.client.DB().Create(&user).Error)
	return user
}

func (f fixture) seedProduct(t *testing.T, price string, units int) models.Product {
	t.Helper()
	product := models.Product{Name: "VPN 12M", Price: decimal.RequireFromString(price), Currency: enums.CurrencyUSD, IsActive: true}
	require.NoError(t, f.client.DB().Create(&product).Error)
	if units > 0 {
		f.addStock(t, product.ID, units)
	}
	return product
}

func (f fixture) addStock(t *testing.T, productID uuid.UUID, units int) {
	t.Helper()
	secrets := make([]json.RawMessage, 0, units)
	for i := 0; i < units; i++ {
		secrets = append(secrets, json.RawMessage(fmt.Sprintf(`{"key":"%s"}`, uuid.NewString())))
	}
	_, err := f.stock.AddStock(context.Background(), productID, secrets)
	require.NoError(t, err)
}

func (f fixture) balance(t *testing.T, userID uuid.UUID) decimal.Decimal {
	t.Helper()
	bal, err := f.ledger.Balance(context.Background(), userID)
	require.NoError(t, err)
	return bal
}

func (f fixture) order(t *testing.T, id uuid.UUID) models.Order {
	t.Helper()
	var order models.Order
	require.NoError(t, f.client.DB().Where("id = ?", id).First(&order).Error)
	return order
}

func (f fixture) countCredentials(t *testing.T, productID uuid.UUID, state enums.CredentialState) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.client.DB().Model(&models.Credential{}).
		Where("product_id = ? AND state = ?", productID, state).Count(&n).Error)
	return n
}

func (f fixture) eventTypes(t *testing.T, aggregateID uuid.UUID) []enums.OutboxEventType {
	t.Helper()
	var rows []models.OutboxEvent
	require.NoError(t, f.client.DB().Where("aggregate_id = ?", aggregateID).Find(&rows).Error)
	out := make([]enums.OutboxEventType, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.EventType)
	}
	return out
}

func (f fixture) markPaid(orderID uuid.UUID) (*models.Order, error) {
	var order *models.Order
	err := f.client.WithTx(context.Background(), func(tx *gorm.DB) error {
		var err error
		order, err = f.svc.MarkPaidTx(context.Background(), tx, orderID)
		return err
	})
	return order, err
}

func (f fixture) checkout(t *testing.T, userID, productID uuid.UUID, qty int, method enums.PaymentMethod) *models.Order {
	t.Helper()
	order, err := f.svc.Checkout(context.Background(), CheckoutInput{
		UserID:        userID,
		ProductID:     productID,
		Quantity:      qty,
		PaymentMethod: method,
	})
	require.NoError(t, err)
	return order
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to enums.OrderStatus
		want     bool
	}{
		{enums.OrderStatusPending, enums.OrderStatusProcessing, true},
		{enums.OrderStatusPending, enums.OrderStatusCancelled, true},
		{enums.OrderStatusPending, enums.OrderStatusCompleted, false},
		{enums.OrderStatusProcessing, enums.OrderStatusCompleted, true},
		{enums.OrderStatusProcessing, enums.OrderStatusCancelled, true},
		{enums.OrderStatusProcessing, enums.OrderStatusPending, false},
		{enums.OrderStatusCompleted, enums.OrderStatusCancelled, false},
		{enums.OrderStatusCancelled, enums.OrderStatusPending, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestNewOrderNumberFormat(t *testing.T) {
	number := NewOrderNumber(time.Date(2026, 1, 14, 10, 0, 0, 0, time.UTC))
	require.True(t, strings.HasPrefix(number, "ORD-20260114-"))
	assert.Len(t, number, len("ORD-20260114-")+6)
	assert.Equal(t, strings.ToUpper(number), number)
}

func TestCheckoutWithBalanceDeliversCredentials(t *testing.T) {
	f := newFixture(t, Options{})
	user := f.seedUser(t, "100", nil)
	product := f.seedProduct(t, "25", 5)

	order := f.checkout(t, user.ID, product.ID, 2, enums.PaymentMethodBalance)

	assert.Equal(t, enums.OrderStatusCompleted, order.Status)
	assert.Equal(t, enums.PaymentStatusPaid, order.PaymentStatus)
	assert.True(t, order.TotalAmount.Equal(decimal.NewFromInt(50)))
	assert.Len(t, order.AllocatedCredentialIDs, 2)
	assert.True(t, f.balance(t, user.ID).Equal(decimal.NewFromInt(50)))
	assert.Equal(t, int64(2), f.countCredentials(t, product.ID, enums.CredentialStateSold))
	assert.Equal(t, int64(3), f.countCredentials(t, product.ID, enums.CredentialStateAvailable))

	stored := f.order(t, order.ID)
	assert.Equal(t, enums.OrderStatusCompleted, stored.Status)
	assert.ElementsMatch(t, []uuid.UUID(order.AllocatedCredentialIDs), []uuid.UUID(stored.AllocatedCredentialIDs))
	assert.NotNil(t, stored.PaidAt)
	assert.NotNil(t, stored.CompletedAt)

	entries, err := f.ledger.ListForOrder(context.Background(), order.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, enums.LedgerKindPurchase, entries[0].Kind)
	assert.Equal(t, enums.LedgerStatusCompleted, entries[0].Status)

	assert.ElementsMatch(t, []enums.OutboxEventType{
		enums.EventOrderCreated,
		enums.EventOrderPaid,
		enums.EventOrderDelivered,
	}, f.eventTypes(t, order.ID))

	detail, err := f.svc.Get(context.Background(), order.ID, user.ID)
	require.NoError(t, err)
	assert.Len(t, detail.Credentials, 2)
	assert.Len(t, detail.CredentialIDs, 2)
}

func TestCheckoutInsufficientBalancePersistsNothing(t *testing.T) {
	f := newFixture(t, Options{})
	user := f.seedUser(t, "10", nil)
	product := f.seedProduct(t, "25", 5)

	_, err := f.svc.Checkout(context.Background(), CheckoutInput{
		UserID:        user.ID,
		ProductID:     product.ID,
		Quantity:      1,
		PaymentMethod: enums.PaymentMethodBalance,
	})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeInsufficientBalance, pkgerrors.CodeOf(err))

	var count int64
	require.NoError(t, f.client.DB().Model(&models.Order{}).Count(&count).Error)
	assert.Zero(t, count)
	require.NoError(t, f.client.DB().Model(&models.OutboxEvent{}).Count(&count).Error)
	assert.Zero(t, count)
	assert.True(t, f.balance(t, user.ID).Equal(decimal.NewFromInt(10)))
	assert.Equal(t, int64(5), f.countCredentials(t, product.ID, enums.CredentialStateAvailable))
}

func TestCheckoutCryptoStaysPending(t *testing.T) {
	f := newFixture(t, Options{})
	user := f.seedUser(t, "0", nil)
	product := f.seedProduct(t, "25", 1)

	order := f.checkout(t, user.ID, product.ID, 1, enums.PaymentMethodCrypto)
	assert.Equal(t, enums.OrderStatusPending, order.Status)
	assert.Equal(t, enums.PaymentStatusPending, order.PaymentStatus)
	assert.Equal(t, int64(1), f.countCredentials(t, product.ID, enums.CredentialStateAvailable))
	assert.Equal(t, []enums.OutboxEventType{enums.EventOrderCreated}, f.eventTypes(t, order.ID))
}

func TestCheckoutValidation(t *testing.T) {
	f := newFixture(t, Options{})
	user := f.seedUser(t, "100", nil)
	product := f.seedProduct(t, "25", 1)

	_, err := f.svc.Checkout(context.Background(), CheckoutInput{UserID: user.ID, ProductID: product.ID, Quantity: 0, PaymentMethod: enums.PaymentMethodBalance})
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))

	_, err = f.svc.Checkout(context.Background(), CheckoutInput{UserID: user.ID, ProductID: product.ID, Quantity: 1, PaymentMethod: "card"})
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))

	_, err = f.svc.Checkout(context.Background(), CheckoutInput{UserID: user.ID, ProductID: uuid.New(), Quantity: 1, PaymentMethod: enums.PaymentMethodBalance})
	assert.ErrorIs(t, err, ErrProductNotFound)

	_, err = f.svc.Checkout(context.Background(), CheckoutInput{UserID: user.ID, ProductID: product.ID, Quantity: 2, PaymentMethod: enums.PaymentMethodBalance})
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)
	details, ok := pkgerrors.As(err).Details().(inventory.ShortageDetails)
	require.True(t, ok)
	assert.Equal(t, int64(1), details.Available)
}

func TestConcurrentPaidOrdersOverSingleCredential(t *testing.T) {
	f := newFixture(t, Options{})
	product := f.seedProduct(t, "25", 1)

	var orderIDs []uuid.UUID
	for i := 0; i < 2; i++ {
		user := f.seedUser(t, "25", nil)
		order := f.checkout(t, user.ID, product.ID, 1, enums.PaymentMethodCrypto)
		orderIDs = append(orderIDs, order.ID)
	}

	var wg sync.WaitGroup
	errs := make([]error, len(orderIDs))
	for i, id := range orderIDs {
		wg.Add(1)
		go func(i int, id uuid.UUID) {
			defer wg.Done()
			_, errs[i] = f.markPaid(id)
		}(i, id)
	}
	wg.Wait()

	completed, held := 0, 0
	for i, id := range orderIDs {
		require.NoError(t, errs[i])
		order := f.order(t, id)
		assert.Equal(t, enums.PaymentStatusPaid, order.PaymentStatus)
		switch order.Status {
		case enums.OrderStatusCompleted:
			completed++
			assert.Len(t, order.AllocatedCredentialIDs, 1)
		case enums.OrderStatusProcessing:
			held++
			require.NotNil(t, order.FulfillmentNote)
			assert.True(t, strings.HasPrefix(*order.FulfillmentNote, shortageNotePrefix))
			assert.Contains(t, f.eventTypes(t, id), enums.EventOrderStockShortage)
			assert.Empty(t, order.AllocatedCredentialIDs)
		default:
			t.Fatalf("unexpected status %s", order.Status)
		}
	}
	assert.Equal(t, 1, completed)
	assert.Equal(t, 1, held)
	assert.Equal(t, int64(1), f.countCredentials(t, product.ID, enums.CredentialStateSold))
}

func TestMarkPaidRejectsOrderNotAwaitingPayment(t *testing.T) {
	f := newFixture(t, Options{})
	user := f.seedUser(t, "100", nil)
	product := f.seedProduct(t, "25", 2)
	order := f.checkout(t, user.ID, product.ID, 1, enums.PaymentMethodBalance)

	_, err := f.markPaid(order.ID)
	require.ErrorIs(t, err, ErrOrderNotPayable)
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.CodeOf(err))
	assert.True(t, f.balance(t, user.ID).Equal(decimal.NewFromInt(75)))

	_, err = f.markPaid(uuid.New())
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestRetryAllocationAfterRestock(t *testing.T) {
	f := newFixture(t, Options{})
	user := f.seedUser(t, "50", nil)
	product := f.seedProduct(t, "25", 1)

	// The only unit is sold to someone else before this order gets paid.
	order := f.checkout(t, user.ID, product.ID, 1, enums.PaymentMethodCrypto)
	other := f.seedUser(t, "25", nil)
	f.checkout(t, other.ID, product.ID, 1, enums.PaymentMethodBalance)

	paid, err := f.markPaid(order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusProcessing, paid.Status)

	_, err = f.svc.RetryAllocation(context.Background(), order.ID)
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)
	assert.Equal(t, enums.OrderStatusProcessing, f.order(t, order.ID).Status)

	f.addStock(t, product.ID, 1)
	retried, err := f.svc.RetryAllocation(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCompleted, retried.Status)

	stored := f.order(t, order.ID)
	assert.Nil(t, stored.FulfillmentNote)
	assert.Len(t, stored.AllocatedCredentialIDs, 1)

	_, err = f.svc.RetryAllocation(context.Background(), order.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCancelProcessingOrderReleasesAndRefunds(t *testing.T) {
	f := newFixture(t, Options{})
	user := f.seedUser(t, "100", nil)
	product := f.seedProduct(t, "20", 5)
	order := f.checkout(t, user.ID, product.ID, 2, enums.PaymentMethodCrypto)

	// Payment recorded and stock reserved, delivery not yet finalized.
	require.NoError(t, f.client.WithTx(context.Background(), func(tx *gorm.DB) error {
		if _, err := f.ledger.RecordCompleted(context.Background(), tx, ledger.CompletedInput{
			UserID:   user.ID,
			Kind:     enums.LedgerKindPurchase,
			Amount:   order.TotalAmount,
			Currency: order.Currency,
			OrderID:  &order.ID,
		}); err != nil {
			return err
		}
		if err := tx.Model(&models.Order{}).Where("id = ?", order.ID).Updates(map[string]any{
			"status":         enums.OrderStatusProcessing,
			"payment_status": enums.PaymentStatusPaid,
		}).Error; err != nil {
			return err
		}
		_, err := f.stock.Allocate(context.Background(), tx, product.ID, order.ID, 2)
		return err
	}))
	assert.True(t, f.balance(t, user.ID).Equal(decimal.NewFromInt(60)))
	assert.Equal(t, int64(2), f.countCredentials(t, product.ID, enums.CredentialStateReserved))

	cancelled, err := f.svc.Cancel(context.Background(), CancelInput{
		OrderID:     order.ID,
		Reason:      "changed my mind",
		ActorUserID: user.ID,
		ActorRole:   enums.UserRoleCustomer,
	})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCancelled, cancelled.Status)
	assert.Equal(t, enums.PaymentStatusRefunded, cancelled.PaymentStatus)

	assert.Equal(t, int64(0), f.countCredentials(t, product.ID, enums.CredentialStateReserved))
	assert.Equal(t, int64(5), f.countCredentials(t, product.ID, enums.CredentialStateAvailable))
	assert.True(t, f.balance(t, user.ID).Equal(decimal.NewFromInt(100)))

	entries, err := f.ledger.ListForOrder(context.Background(), order.ID)
	require.NoError(t, err)
	kinds := make([]enums.LedgerEntryKind, 0, len(entries))
	for _, e := range entries {
		kinds = append(kinds, e.Kind)
		assert.Equal(t, enums.LedgerStatusCompleted, e.Status)
	}
	assert.ElementsMatch(t, []enums.LedgerEntryKind{enums.LedgerKindPurchase, enums.LedgerKindRefund}, kinds)

	stored := f.order(t, order.ID)
	require.NotNil(t, stored.CancellationReason)
	assert.Equal(t, "changed my mind", *stored.CancellationReason)
	assert.NotNil(t, stored.CancelledAt)
	assert.Contains(t, f.eventTypes(t, order.ID), enums.EventOrderCancelled)
}

func TestCancelPendingOrderVoidsDeposits(t *testing.T) {
	f := newFixture(t, Options{})
	user := f.seedUser(t, "0", nil)
	product := f.seedProduct(t, "25", 1)
	order := f.checkout(t, user.ID, product.ID, 1, enums.PaymentMethodCrypto)

	var deposit *models.LedgerEntry
	require.NoError(t, f.client.WithTx(context.Background(), func(tx *gorm.DB) error {
		var err error
		deposit, err = f.ledger.CreatePending(context.Background(), tx, ledger.PendingInput{
			UserID:               user.ID,
			Amount:               order.TotalAmount,
			Currency:             order.Currency,
			OrderID:              &order.ID,
			Gateway:              "nowpayments",
			GatewayTransactionID: "inv-1",
		})
		return err
	}))

	cancelled, err := f.svc.Cancel(context.Background(), CancelInput{OrderID: order.ID, ActorUserID: user.ID, ActorRole: enums.UserRoleCustomer})
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusPending, cancelled.PaymentStatus)

	stored, err := f.ledger.Get(context.Background(), deposit.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.LedgerStatusCancelled, stored.Status)
	assert.True(t, f.balance(t, user.ID).IsZero())
}

func TestCancelRules(t *testing.T) {
	f := newFixture(t, Options{})
	owner := f.seedUser(t, "100", nil)
	stranger := f.seedUser(t, "0", nil)
	product := f.seedProduct(t, "25", 2)

	pending := f.checkout(t, owner.ID, product.ID, 1, enums.PaymentMethodCrypto)
	_, err := f.svc.Cancel(context.Background(), CancelInput{OrderID: pending.ID, ActorUserID: stranger.ID, ActorRole: enums.UserRoleCustomer})
	assert.ErrorIs(t, err, ErrOrderNotFound)

	delivered := f.checkout(t, owner.ID, product.ID, 1, enums.PaymentMethodBalance)
	_, err = f.svc.Cancel(context.Background(), CancelInput{OrderID: delivered.ID, ActorUserID: owner.ID, ActorRole: enums.UserRoleAdmin})
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.CodeOf(err))

	_, err = f.svc.Cancel(context.Background(), CancelInput{OrderID: pending.ID, ActorUserID: uuid.New(), ActorRole: enums.UserRoleAdmin})
	require.NoError(t, err)
	_, err = f.svc.Cancel(context.Background(), CancelInput{OrderID: pending.ID, ActorUserID: owner.ID, ActorRole: enums.UserRoleCustomer})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestExpireStaleCancelsOnlyUnpaidOrders(t *testing.T) {
	f := newFixture(t, Options{})
	user := f.seedUser(t, "100", nil)
	product := f.seedProduct(t, "25", 3)

	unpaid := f.checkout(t, user.ID, product.ID, 1, enums.PaymentMethodCrypto)
	paid := f.checkout(t, user.ID, product.ID, 1, enums.PaymentMethodBalance)

	expired, err := f.svc.ExpireStale(context.Background(), time.Hour, 10)
	require.NoError(t, err)
	assert.Zero(t, expired)

	f.svc.(*service).now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	expired, err = f.svc.ExpireStale(context.Background(), time.Hour, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	stored := f.order(t, unpaid.ID)
	assert.Equal(t, enums.OrderStatusCancelled, stored.Status)
	require.NotNil(t, stored.CancellationReason)
	assert.Equal(t, expiredCancelReason, *stored.CancellationReason)
	assert.Equal(t, enums.OrderStatusCompleted, f.order(t, paid.ID).Status)

	_, err = f.svc.ExpireStale(context.Background(), 0, 10)
	assert.Error(t, err)
}

func TestReferralCommissionOnPaidOrder(t *testing.T) {
	f := newFixture(t, Options{ReferralRate: decimal.RequireFromString("0.1")})
	referrer := f.seedUser(t, "0", nil)
	buyer := f.seedUser(t, "100", &referrer.ID)
	product := f.seedProduct(t, "25", 2)

	order := f.checkout(t, buyer.ID, product.ID, 2, enums.PaymentMethodBalance)
	assert.Equal(t, enums.OrderStatusCompleted, order.Status)
	assert.True(t, f.balance(t, referrer.ID).Equal(decimal.NewFromInt(5)))
	assert.True(t, f.balance(t, buyer.ID).Equal(decimal.NewFromInt(50)))
}

func TestListForUserPages(t *testing.T) {
	f := newFixture(t, Options{})
	user := f.seedUser(t, "0", nil)
	other := f.seedUser(t, "0", nil)
	product := f.seedProduct(t, "1", 10)

	for i := 0; i < 3; i++ {
		f.checkout(t, user.ID, product.ID, 1, enums.PaymentMethodCrypto)
	}
	f.checkout(t, other.ID, product.ID, 1, enums.PaymentMethodCrypto)

	first, err := f.svc.ListForUser(context.Background(), user.ID, pagination.Params{Limit: 2})
	require.NoError(t, err)
	require.Len(t, first.Items, 2)
	require.NotEmpty(t, first.NextCursor)

	second, err := f.svc.ListForUser(context.Background(), user.ID, pagination.Params{Limit: 2, Cursor: first.NextCursor})
	require.NoError(t, err)
	require.Len(t, second.Items, 1)
	assert.Empty(t, second.NextCursor)

	seen := map[uuid.UUID]bool{}
	for _, item := range append(first.Items, second.Items...) {
		assert.False(t, seen[item.ID])
		seen[item.ID] = true
	}

	_, err = f.svc.Get(context.Background(), first.Items[0].ID, other.ID)
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestNewServiceValidatesDependencies(t *testing.T) {
	f := newFixture(t, Options{})
	logg := logger.New(logger.Options{Output: io.Discard})
	repo := NewRepository(f.client.DB())
	emitter := outbox.NewService(outbox.NewRepository(f.client.DB()), logg)

	_, err := NewService(nil, f.client, f.ledger, f.stock, emitter, nil, logg, Options{})
	assert.Error(t, err)
	_, err = NewService(repo, f.client, f.ledger, f.stock, emitter, nil, logg, Options{ReferralRate: decimal.NewFromInt(1)})
	assert.Error(t, err)
	_, err = NewService(repo, f.client, f.ledger, f.stock, emitter, nil, logg, Options{})
	assert.NoError(t, err)
}

func TestUpdateIfStatusRejectsSecondWriter(t *testing.T) {
	f := newFixture(t, Options{})
	product := f.seedProduct(t, "25", 1)
	user := f.seedUser(t, "0", nil)
	order := f.checkout(t, user.ID, product.ID, 1, enums.PaymentMethodCrypto)
	repo := NewRepository(f.client.DB())

	pay := func() error {
		return f.client.WithTx(context.Background(), func(tx *gorm.DB) error {
			return repo.WithTx(tx).UpdateIfStatus(context.Background(), order.ID, enums.OrderStatusPending, map[string]any{
				"status":         enums.OrderStatusProcessing,
				"payment_status": enums.PaymentStatusPaid,
			})
		})
	}

	require.NoError(t, pay())
	err := pay()
	require.ErrorIs(t, err, db.ErrConcurrentUpdate)
	assert.Contains(t, err.Error(), "updated 0")

	stored := f.order(t, order.ID)
	assert.Equal(t, enums.OrderStatusProcessing, stored.Status)
	assert.Equal(t, enums.PaymentStatusPaid, stored.PaymentStatus)
}
