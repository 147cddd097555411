package reconciliation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/codevault-backend/internal/inventory"
	"github.com/angelmondragon/codevault-backend/internal/ledger"
	"github.com/angelmondragon/codevault-backend/internal/orders"
	"github.com/angelmondragon/codevault-backend/pkg/db"
	"github.com/angelmondragon/codevault-backend/pkg/db/dbtest"
	"github.com/angelmondragon/codevault-backend/pkg/db/models"
	"github.com/angelmondragon/codevault-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/codevault-backend/pkg/errors"
	"github.com/angelmondragon/codevault-backend/pkg/logger"
	"github.com/angelmondragon/codevault-backend/pkg/metrics"
	"github.com/angelmondragon/codevault-backend/pkg/nowpayments"
	"github.com/angelmondragon/codevault-backend/pkg/outbox"
)

const ipnSecret = "test-ipn-secret"

type memStore struct {
	mu     sync.Mutex
	values map[string]string
	ttls   map[string]time.Duration
}

func newMemStore() *memStore {
	return &memStore{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[key], nil
}

func (m *memStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = fmt.Sprint(value)
	m.ttls[key] = ttl
	return true, nil
}

func (m *memStore) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.values, key)
		delete(m.ttls, key)
	}
	return nil
}

func (m *memStore) IdempotencyKey(scope, id string) string {
	return "cv:idempotency:" + scope + ":" + id
}

func (m *memStore) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.values)
}

func (m *memStore) ttl(key string) (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ttl, ok := m.ttls[key]
	return ttl, ok
}

type fixture struct {
	client *db.Client
	ledger ledger.Service
	orders orders.Service
	stock  inventory.Service
	svc    *Service
	reg    *prometheus.Registry
	store  *memStore
	user   models.User
}

func newFixture(t *testing.T, withGuard bool) fixture {
	t.Helper()
	client := dbtest.Open(t)
	logg := logger.New(logger.Options{ServiceName: "reconciliation-test", Output: io.Discard})
	emitter := outbox.NewService(outbox.NewRepository(client.DB()), logg)
	reg := prometheus.NewRegistry()
	m := metrics.NewPaymentMetrics(reg)

	ledgerSvc, err := ledger.NewService(ledger.NewRepository(client.DB()), emitter, logg)
	require.NoError(t, err)
	stock, err := inventory.NewService(inventory.NewRepository(client.DB()), logg)
	require.NoError(t, err)
	orderSvc, err := orders.NewService(orders.NewRepository(client.DB()), client, ledgerSvc, stock, emitter, m, logg, orders.Options{})
	require.NoError(t, err)
	verifier, err := nowpayments.NewClient("test-api-key", nowpayments.WithIPNSecret(ipnSecret))
	require.NoError(t, err)

	store := newMemStore()
	params := ServiceParams{
		Ledger:            ledgerSvc,
		Orders:            orderSvc,
		Verifier:          verifier,
		TransactionRunner: client,
		Metrics:           m,
		Logger:            logg,
		AmountEpsilon:     decimal.RequireFromString("0.01"),
	}
	if withGuard {
		guard, err := NewIdempotencyGuard(store, time.Hour)
		require.NoError(t, err)
		params.Guard = guard
	}
	svc, err := NewService(params)
	require.NoError(t, err)

	user := models.User{Email: uuid.NewString() + "@example.com", Role: enums.UserRoleCustomer}
	require.NoError(t, client.DB().Create(&user).Error)

	return fixture{client: client, ledger: ledgerSvc, orders: orderSvc, stock: stock, svc: svc, reg: reg, store: store, user: user}
}

func (f fixture) deposit(t *testing.T, amount, gatewayID string, orderID *uuid.UUID) *models.LedgerEntry {
	t.Helper()
	var entry *models.LedgerEntry
	require.NoError(t, f.client.WithTx(context.Background(), func(tx *gorm.DB) error {
		var err error
		entry, err = f.ledger.CreatePending(context.Background(), tx, ledger.PendingInput{
			UserID:               f.user.ID,
			Amount:               decimal.RequireFromString(amount),
			Currency:             enums.CurrencyUSD,
			OrderID:              orderID,
			CorrelationToken:     uuid.NewString(),
			Gateway:              "nowpayments",
			GatewayTransactionID: gatewayID,
		})
		return err
	}))
	return entry
}

func (f fixture) deliver(t *testing.T, fields map[string]any) (*Result, error) {
	t.Helper()
	raw, err := json.Marshal(fields)
	require.NoError(t, err)
	return f.svc.HandleWebhook(context.Background(), raw, nowpayments.Sign(ipnSecret, raw))
}

func (f fixture) entry(t *testing.T, id uuid.UUID) *models.LedgerEntry {
	t.Helper()
	entry, err := f.ledger.Get(context.Background(), id)
	require.NoError(t, err)
	return entry
}

func (f fixture) balance(t *testing.T) decimal.Decimal {
	t.Helper()
	bal, err := f.ledger.Balance(context.Background(), f.user.ID)
	require.NoError(t, err)
	return bal
}

func (f fixture) counter(t *testing.T, name, label, value string) float64 {
	t.Helper()
	mfs, err := f.reg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if label == "" {
				return metric.GetCounter().GetValue()
			}
			for _, pair := range metric.GetLabel() {
				if pair.GetName() == label && pair.GetValue() == value {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func payload(paymentID, invoiceID any, orderID, status, priceAmount string) map[string]any {
	fields := map[string]any{
		"payment_id":     paymentID,
		"order_id":       orderID,
		"payment_status": status,
		"price_currency": "usd",
		"pay_currency":   "btc",
		"pay_amount":     0.00077,
		"actually_paid":  0.00077,
	}
	if invoiceID != nil {
		fields["invoice_id"] = invoiceID
	}
	if priceAmount != "" {
		fields["price_amount"] = json.Number(priceAmount)
	}
	return fields
}

func TestWebhookCreditsOnceAcrossRedeliveries(t *testing.T) {
	f := newFixture(t, false)
	entry := f.deposit(t, "50", "4522625843", nil)

	for i := 0; i < 3; i++ {
		result, err := f.deliver(t, payload(5077125051, 4522625843, "", "finished", "50"))
		require.NoError(t, err)
		assert.Equal(t, enums.LedgerStatusCompleted, result.Current)
		assert.Equal(t, i == 0, result.Credited, "delivery %d", i)
		assert.Equal(t, ledger.MatchedGatewayID, result.MatchedBy)
	}

	assert.True(t, f.balance(t).Equal(decimal.NewFromInt(50)))
	stored := f.entry(t, entry.ID)
	assert.Equal(t, enums.LedgerStatusCompleted, stored.Status)
	assert.NotNil(t, stored.CompletedAt)
	require.NotNil(t, stored.PayCurrency)
	assert.Equal(t, "btc", *stored.PayCurrency)

	var completedEvents int64
	require.NoError(t, f.client.DB().Model(&models.OutboxEvent{}).
		Where("event_type = ? AND aggregate_id = ?", enums.EventPaymentCompleted, entry.ID).
		Count(&completedEvents).Error)
	assert.Equal(t, int64(1), completedEvents)
	assert.Equal(t, float64(3), f.counter(t, "codevault_payment_webhooks_total", "outcome", metrics.OutcomeProcessed))
	assert.Equal(t, float64(1), f.counter(t, "codevault_balance_credits_total", "source", SourceWebhook))
}

func TestWebhookNeverMovesBackwards(t *testing.T) {
	f := newFixture(t, false)
	entry := f.deposit(t, "20", "inv-backwards", nil)

	_, err := f.deliver(t, payload("pay-1", "inv-backwards", "", "finished", "20"))
	require.NoError(t, err)
	result, err := f.deliver(t, payload("pay-1", "inv-backwards", "", "confirming", "20"))
	require.NoError(t, err)
	assert.Equal(t, enums.LedgerStatusCompleted, result.Current)
	assert.False(t, result.Credited)

	assert.Equal(t, enums.LedgerStatusCompleted, f.entry(t, entry.ID).Status)
	assert.True(t, f.balance(t).Equal(decimal.NewFromInt(20)))
}

func TestWebhookGuardSkipsExactDuplicates(t *testing.T) {
	f := newFixture(t, true)
	f.deposit(t, "30", "inv-guard", nil)

	first, err := f.deliver(t, payload("pay-guard", "inv-guard", "", "finished", "30"))
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := f.deliver(t, payload("pay-guard", "inv-guard", "", "finished", "30"))
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, float64(1), f.counter(t, "codevault_payment_webhooks_total", "outcome", metrics.OutcomeDuplicate))
	assert.True(t, f.balance(t).Equal(decimal.NewFromInt(30)))
}

func TestWebhookGuardReleasedWhenProcessingFails(t *testing.T) {
	f := newFixture(t, true)

	_, err := f.deliver(t, payload("pay-unknown", nil, "missing-correlation", "finished", "10"))
	require.ErrorIs(t, err, ErrEntryNotFound)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))
	assert.Zero(t, f.store.size())
	assert.Equal(t, float64(1), f.counter(t, "codevault_payment_webhooks_total", "outcome", metrics.OutcomeNotFound))
}

func TestWebhookRejectsInvalidSignatureWithoutMutation(t *testing.T) {
	f := newFixture(t, true)
	entry := f.deposit(t, "50", "inv-sig", nil)
	raw, err := json.Marshal(payload("pay-sig", "inv-sig", "", "finished", "50"))
	require.NoError(t, err)

	for _, sig := range []string{"", "deadbeef", nowpayments.Sign("wrong-secret", raw)} {
		_, err := f.svc.HandleWebhook(context.Background(), raw, sig)
		require.ErrorIs(t, err, ErrSignatureInvalid)
		assert.Equal(t, pkgerrors.CodeUnauthorized, pkgerrors.CodeOf(err))
	}

	stored := f.entry(t, entry.ID)
	assert.Equal(t, enums.LedgerStatusPending, stored.Status)
	assert.Nil(t, stored.CompletedAt)
	assert.True(t, f.balance(t).IsZero())
	assert.Zero(t, f.store.size())
	assert.Equal(t, float64(3), f.counter(t, "codevault_payment_webhooks_total", "outcome", metrics.OutcomeSignatureInvalid))
}

func TestWebhookAmountMismatchCreditsExpected(t *testing.T) {
	f := newFixture(t, false)
	entry := f.deposit(t, "50", "inv-mismatch", nil)

	result, err := f.deliver(t, payload("pay-mismatch", "inv-mismatch", "", "finished", "49.5"))
	require.NoError(t, err)
	assert.True(t, result.AmountMismatch)
	assert.True(t, result.Credited)

	assert.True(t, f.balance(t).Equal(decimal.NewFromInt(50)))
	assert.Equal(t, float64(1), f.counter(t, "codevault_payment_amount_mismatch_total", "", ""))

	var doc struct {
		History []ledger.HistoryItem `json:"history"`
	}
	require.NoError(t, json.Unmarshal(f.entry(t, entry.ID).RawPayload, &doc))
	last := doc.History[len(doc.History)-1]
	assert.Equal(t, "49.5", last.PriceAmount)
	assert.Equal(t, "finished", last.GatewayStatus)
	assert.Equal(t, SourceWebhook, last.Source)
}

func TestWebhookResolvesByCorrelationAndBackfills(t *testing.T) {
	f := newFixture(t, false)
	entry := f.deposit(t, "15", "", nil)
	require.NotNil(t, entry.CorrelationToken)

	result, err := f.deliver(t, payload(6001, nil, *entry.CorrelationToken, "confirming", "15"))
	require.NoError(t, err)
	assert.Equal(t, ledger.MatchedCorrelation, result.MatchedBy)
	assert.Equal(t, enums.LedgerStatusProcessing, result.Current)

	stored := f.entry(t, entry.ID)
	require.NotNil(t, stored.GatewayTransactionID)
	assert.Equal(t, "6001", *stored.GatewayTransactionID)

	result, err = f.deliver(t, payload(6001, nil, *entry.CorrelationToken, "finished", "15"))
	require.NoError(t, err)
	assert.Equal(t, ledger.MatchedGatewayID, result.MatchedBy)
	assert.True(t, result.Credited)
}

func TestWebhookCompletesOrderEndToEnd(t *testing.T) {
	f := newFixture(t, false)
	product := models.Product{Name: "Streaming 1M", Price: decimal.NewFromInt(25), Currency: enums.CurrencyUSD, IsActive: true}
	require.NoError(t, f.client.DB().Create(&product).Error)
	secrets := make([]json.RawMessage, 0, 5)
	for i := 0; i < 5; i++ {
		secrets = append(secrets, json.RawMessage(fmt.Sprintf(`{"login":"acct%d"}`, i)))
	}
	_, err := f.stock.AddStock(context.Background(), product.ID, secrets)
	require.NoError(t, err)

	order, err := f.orders.Checkout(context.Background(), orders.CheckoutInput{
		UserID:        f.user.ID,
		ProductID:     product.ID,
		Quantity:      2,
		PaymentMethod: enums.PaymentMethodCrypto,
	})
	require.NoError(t, err)
	entry := f.deposit(t, "50", "inv-e2e", &order.ID)

	result, err := f.deliver(t, payload("pay-e2e", "inv-e2e", *entry.CorrelationToken, "confirmed", "50.00"))
	require.NoError(t, err)
	assert.True(t, result.Credited)
	assert.Equal(t, enums.OrderStatusCompleted, result.OrderStatus)

	// Credited by the deposit, then debited by the purchase.
	assert.True(t, f.balance(t).IsZero())
	var purchases int64
	require.NoError(t, f.client.DB().Model(&models.LedgerEntry{}).
		Where("order_id = ? AND kind = ? AND status = ?", order.ID, enums.LedgerKindPurchase, enums.LedgerStatusCompleted).
		Count(&purchases).Error)
	assert.Equal(t, int64(1), purchases)

	var stored models.Order
	require.NoError(t, f.client.DB().Where("id = ?", order.ID).First(&stored).Error)
	assert.Equal(t, enums.OrderStatusCompleted, stored.Status)
	assert.Equal(t, enums.PaymentStatusPaid, stored.PaymentStatus)
	assert.Len(t, stored.AllocatedCredentialIDs, 2)

	available, err := f.stock.CountAvailable(context.Background(), product.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), available)
	var sold int64
	require.NoError(t, f.client.DB().Model(&models.Credential{}).
		Where("product_id = ? AND state = ?", product.ID, enums.CredentialStateSold).Count(&sold).Error)
	assert.Equal(t, int64(2), sold)

	again, err := f.deliver(t, payload("pay-e2e", "inv-e2e", *entry.CorrelationToken, "finished", "50.00"))
	require.NoError(t, err)
	assert.False(t, again.Credited)
	assert.True(t, f.balance(t).IsZero())
}

func TestWebhookLateCompletionForCancelledOrderKeepsCredit(t *testing.T) {
	f := newFixture(t, false)
	product := models.Product{Name: "VPN 1M", Price: decimal.NewFromInt(40), Currency: enums.CurrencyUSD, IsActive: true}
	require.NoError(t, f.client.DB().Create(&product).Error)
	_, err := f.stock.AddStock(context.Background(), product.ID, []json.RawMessage{json.RawMessage(`{"key":"a"}`)})
	require.NoError(t, err)

	order, err := f.orders.Checkout(context.Background(), orders.CheckoutInput{
		UserID: f.user.ID, ProductID: product.ID, Quantity: 1, PaymentMethod: enums.PaymentMethodCrypto,
	})
	require.NoError(t, err)
	entry := f.deposit(t, "40", "inv-late", &order.ID)

	_, err = f.orders.Cancel(context.Background(), orders.CancelInput{OrderID: order.ID, ActorUserID: f.user.ID, ActorRole: enums.UserRoleCustomer})
	require.NoError(t, err)
	assert.Equal(t, enums.LedgerStatusCancelled, f.entry(t, entry.ID).Status)

	result, err := f.deliver(t, payload("pay-late", "inv-late", "", "finished", "40"))
	require.NoError(t, err)
	assert.True(t, result.Credited)
	assert.Equal(t, enums.LedgerStatusCancelled, result.Previous)
	assert.Empty(t, result.OrderStatus)
	assert.True(t, f.balance(t).Equal(decimal.NewFromInt(40)))

	var stored models.Order
	require.NoError(t, f.client.DB().Where("id = ?", order.ID).First(&stored).Error)
	assert.Equal(t, enums.OrderStatusCancelled, stored.Status)
}

func TestWebhookDepositShortOfOrderTotalKeepsCredit(t *testing.T) {
	f := newFixture(t, false)
	product := models.Product{Name: "Cloud 1Y", Price: decimal.NewFromInt(50), Currency: enums.CurrencyUSD, IsActive: true}
	require.NoError(t, f.client.DB().Create(&product).Error)
	_, err := f.stock.AddStock(context.Background(), product.ID, []json.RawMessage{json.RawMessage(`{"key":"b"}`)})
	require.NoError(t, err)
	order, err := f.orders.Checkout(context.Background(), orders.CheckoutInput{
		UserID: f.user.ID, ProductID: product.ID, Quantity: 1, PaymentMethod: enums.PaymentMethodCrypto,
	})
	require.NoError(t, err)
	f.deposit(t, "30", "inv-short", &order.ID)

	result, err := f.deliver(t, payload("pay-short", "inv-short", "", "finished", "30"))
	require.NoError(t, err)
	assert.True(t, result.Credited)
	assert.True(t, f.balance(t).Equal(decimal.NewFromInt(30)))

	var stored models.Order
	require.NoError(t, f.client.DB().Where("id = ?", order.ID).First(&stored).Error)
	assert.Equal(t, enums.OrderStatusPending, stored.Status)
	assert.Equal(t, enums.PaymentStatusPending, stored.PaymentStatus)
}

func TestWebhookMalformedPayload(t *testing.T) {
	f := newFixture(t, false)
	raw := []byte(`{"payment_id": [1,2]}`)

	_, err := f.svc.HandleWebhook(context.Background(), raw, nowpayments.Sign(ipnSecret, raw))
	require.ErrorIs(t, err, ErrMalformedPayload)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
}

func TestReconcileAppliesPollResult(t *testing.T) {
	f := newFixture(t, false)
	entry := f.deposit(t, "25", "inv-poll", nil)

	result, err := f.svc.Reconcile(context.Background(), entry.ID, &nowpayments.PaymentStatus{PaymentID: "pay-poll", Status: "expired"})
	require.NoError(t, err)
	assert.Equal(t, enums.LedgerStatusExpired, result.Current)
	assert.True(t, f.balance(t).IsZero())

	result, err = f.svc.Reconcile(context.Background(), entry.ID, &nowpayments.PaymentStatus{PaymentID: "pay-poll", Status: "finished"})
	require.NoError(t, err)
	assert.True(t, result.Credited)
	assert.True(t, f.balance(t).Equal(decimal.NewFromInt(25)))
	assert.Equal(t, float64(1), f.counter(t, "codevault_balance_credits_total", "source", SourcePoll))

	_, err = f.svc.Reconcile(context.Background(), uuid.New(), &nowpayments.PaymentStatus{Status: "finished"})
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestWebhookMatchedByInvoiceRecordsPaymentID(t *testing.T) {
	f := newFixture(t, false)
	entry := f.deposit(t, "50", "4522625843", nil)

	result, err := f.deliver(t, payload(5524759814, 4522625843, "", "confirming", "50"))
	require.NoError(t, err)
	assert.Equal(t, ledger.MatchedGatewayID, result.MatchedBy)

	stored := f.entry(t, entry.ID)
	require.NotNil(t, stored.GatewayTransactionID)
	assert.Equal(t, "4522625843", *stored.GatewayTransactionID)
	require.NotNil(t, stored.GatewayPaymentID)
	assert.Equal(t, "5524759814", *stored.GatewayPaymentID)

	// A later callback carrying only the payment id still finds the entry.
	result, err = f.deliver(t, payload(5524759814, nil, "", "finished", "50"))
	require.NoError(t, err)
	assert.Equal(t, entry.ID, result.EntryID)
	assert.True(t, result.Credited)
}

func TestWebhookInFlightClaimExpiresAfterCrash(t *testing.T) {
	f := newFixture(t, true)
	entry := f.deposit(t, "30", "inv-crash", nil)
	delivery := "pay-crash:finished"
	inFlightKey := f.store.IdempotencyKey(inFlightGuardScope, delivery)
	doneKey := f.store.IdempotencyKey(GuardScope, delivery)

	// A worker died after claiming the delivery and before committing.
	_, err := f.store.SetNX(context.Background(), inFlightKey, "2026-03-01T12:00:00Z", defaultDeliveryInFlight)
	require.NoError(t, err)

	_, err = f.deliver(t, payload("pay-crash", "inv-crash", "", "finished", "30"))
	require.ErrorIs(t, err, ErrDeliveryInFlight)
	assert.Equal(t, pkgerrors.CodeConflict, pkgerrors.CodeOf(err))
	assert.Equal(t, enums.LedgerStatusPending, f.entry(t, entry.ID).Status)

	ttl, ok := f.store.ttl(inFlightKey)
	require.True(t, ok)
	assert.Equal(t, defaultDeliveryInFlight, ttl)

	// The claim lapses and the provider's retry goes through.
	require.NoError(t, f.store.Del(context.Background(), inFlightKey))
	result, err := f.deliver(t, payload("pay-crash", "inv-crash", "", "finished", "30"))
	require.NoError(t, err)
	assert.True(t, result.Credited)
	assert.True(t, f.balance(t).Equal(decimal.NewFromInt(30)))

	_, held := f.store.ttl(inFlightKey)
	assert.False(t, held, "in-flight claim kept after commit")
	ttl, ok = f.store.ttl(doneKey)
	require.True(t, ok)
	assert.Equal(t, time.Hour, ttl)
}

// replayOnceRunner aborts the first attempt with a serialization failure so db.Client replays it.
type replayOnceRunner struct {
	client   *db.Client
	replayed bool
}

func (r *replayOnceRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.client.WithTx(ctx, func(tx *gorm.DB) error {
		if err := fn(tx); err != nil {
			return err
		}
		if !r.replayed {
			r.replayed = true
			return &pgconn.PgError{Code: "40001"}
		}
		return nil
	})
}

func TestCreditCountedOnceWhenTransactionReplays(t *testing.T) {
	f := newFixture(t, false)
	entry := f.deposit(t, "25", "inv-replay", nil)
	runner := &replayOnceRunner{client: f.client}
	svc := *f.svc
	svc.txRunner = runner

	result, err := svc.Reconcile(context.Background(), entry.ID, &nowpayments.PaymentStatus{
		PaymentID:   "pay-replay",
		Status:      "finished",
		PriceAmount: decimalPtr("24"),
	})
	require.NoError(t, err)
	require.True(t, runner.replayed)
	assert.True(t, result.Credited)
	assert.True(t, result.AmountMismatch)

	assert.True(t, f.balance(t).Equal(decimal.NewFromInt(25)))
	assert.Equal(t, float64(1), f.counter(t, "codevault_balance_credits_total", "source", SourcePoll))
	assert.Equal(t, float64(1), f.counter(t, "codevault_payment_amount_mismatch_total", "", ""))
}

func decimalPtr(v string) *decimal.Decimal {
	d := decimal.RequireFromString(v)
	return &d
}
