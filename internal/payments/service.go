package payments

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/codevault-backend/internal/ledger"
	"github.com/angelmondragon/codevault-backend/pkg/config"
	"github.com/angelmondragon/codevault-backend/pkg/db/models"
	"github.com/angelmondragon/codevault-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/codevault-backend/pkg/errors"
	"github.com/angelmondragon/codevault-backend/pkg/logger"
	"github.com/angelmondragon/codevault-backend/pkg/nowpayments"
)

// GatewayName is stored on ledger entries created for NOWPayments invoices.
const GatewayName = "nowpayments"

// Gateway is the subset of the NOWPayments client the payment flows rely on.
type Gateway interface {
	CreateInvoice(ctx context.Context, req nowpayments.InvoiceRequest) (*nowpayments.Invoice, error)
	GetPaymentStatus(ctx context.Context, paymentID string) (*nowpayments.PaymentStatus, error)
	ListCurrencies(ctx context.Context) ([]string, error)
	GetMinimumAmount(ctx context.Context, from, to string) (decimal.Decimal, error)
}

type orderLookup interface {
	FindForPayment(ctx context.Context, orderID, userID uuid.UUID) (*models.Order, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service creates gateway invoices and records them as pending deposits.
type Service interface {
	CreateInvoice(ctx context.Context, input CreateInvoiceInput) (*InvoiceResult, error)
	GetStatus(ctx context.Context, paymentID string) (*StatusResult, error)
	ListCurrencies(ctx context.Context) ([]string, error)
	MinimumAmount(ctx context.Context, from, to string) (decimal.Decimal, error)
}

// CreateInvoiceInput requests a deposit. When OrderID is set the amount and currency come from
// the order and the deposit is linked to it.
type CreateInvoiceInput struct {
	UserID      uuid.UUID
	Amount      decimal.Decimal
	Currency    enums.Currency
	PayCurrency string
	OrderID     *uuid.UUID
	PayerEmail  string
}

// InvoiceResult is returned to the payer.
type InvoiceResult struct {
	EntryID       uuid.UUID       `json:"entry_id"`
	TransactionID string          `json:"transaction_id"`
	ExternalID    string          `json:"external_id"`
	PayURL        string          `json:"pay_url"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      enums.Currency  `json:"currency"`
	OrderID       *uuid.UUID      `json:"order_id,omitempty"`
}

// StatusResult pairs the provider's payment document with its internal mapping.
type StatusResult struct {
	Mapped  enums.LedgerEntryStatus
	Payment *nowpayments.PaymentStatus
}

// Options carries the merchant-facing URLs and minimum-amount fallback.
type Options struct {
	DefaultCurrency   enums.Currency
	MinAmountFallback decimal.Decimal
	CallbackURL       string
	SuccessURL        string
	CancelURL         string
}

// OptionsFromConfig derives service options from the gateway config.
func OptionsFromConfig(cfg config.NowPaymentsConfig, publicURL string) Options {
	currency := enums.Currency(strings.ToUpper(strings.TrimSpace(cfg.DefaultCurrency)))
	if !currency.IsValid() {
		currency = enums.CurrencyUSD
	}
	return Options{
		DefaultCurrency:   currency,
		MinAmountFallback: cfg.MinAmountFallback,
		CallbackURL:       cfg.CallbackURL(publicURL),
		SuccessURL:        cfg.SuccessURL,
		CancelURL:         cfg.CancelURL,
	}
}

type service struct {
	gateway Gateway
	tx      txRunner
	ledger  ledger.Service
	orders  orderLookup
	logg    *logger.Logger
	opts    Options
	now     func() time.Time
}

// NewService wires the invoice flow.
func NewService(gateway Gateway, tx txRunner, ledgerSvc ledger.Service, orders orderLookup, logg *logger.Logger, opts Options) (Service, error) {
	if gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if ledgerSvc == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if orders == nil {
		return nil, fmt.Errorf("order lookup required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if opts.DefaultCurrency == "" {
		opts.DefaultCurrency = enums.CurrencyUSD
	}
	return &service{gateway: gateway, tx: tx, ledger: ledgerSvc, orders: orders, logg: logg, opts: opts, now: time.Now}, nil
}

// CreateInvoice asks the gateway for a hosted payment page and, only once that succeeded, stores
// a pending deposit keyed by the invoice id. The provisional id sent as the gateway order_id is
// kept as the correlation token.
func (s *service) CreateInvoice(ctx context.Context, input CreateInvoiceInput) (*InvoiceResult, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}

	amount := input.Amount
	currency := input.Currency
	description := "Balance top-up"
	if input.OrderID != nil {
		order, err := s.orders.FindForPayment(ctx, *input.OrderID, input.UserID)
		if err != nil {
			return nil, err
		}
		if order.Status != enums.OrderStatusPending || order.PaymentStatus != enums.PaymentStatusPending {
			return nil, pkgerrors.Wrap(pkgerrors.CodeStateConflict, ErrOrderNotPayable, "order is not awaiting payment").
				WithDetails(map[string]string{"status": string(order.Status), "payment_status": string(order.PaymentStatus)})
		}
		amount = order.TotalAmount
		currency = order.Currency
		description = "Order " + order.OrderNumber
	}
	if currency == "" {
		currency = s.opts.DefaultCurrency
	}
	if !currency.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unsupported currency %q", currency))
	}
	if !amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}

	priceCurrency := strings.ToLower(string(currency))
	minimum, err := s.MinimumAmount(ctx, priceCurrency, input.PayCurrency)
	if err != nil {
		return nil, err
	}
	if amount.LessThan(minimum) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, ErrBelowMinimum, "amount is below the gateway minimum").
			WithDetails(map[string]string{"minimum": minimum.String(), "currency": string(currency)})
	}

	correlation := uuid.NewString()
	invoice, err := s.gateway.CreateInvoice(ctx, nowpayments.InvoiceRequest{
		PriceAmount:      amount,
		PriceCurrency:    priceCurrency,
		PayCurrency:      input.PayCurrency,
		OrderID:          correlation,
		OrderDescription: description,
		IPNCallbackURL:   s.opts.CallbackURL,
		SuccessURL:       s.opts.SuccessURL,
		CancelURL:        s.opts.CancelURL,
		CustomerEmail:    input.PayerEmail,
	})
	if err != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"user_id": input.UserID.String(),
			"amount":  amount.String(),
		})
		s.logg.Error(logCtx, "invoice creation failed", err)
		return nil, err
	}

	var entry *models.LedgerEntry
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		entry, err = s.ledger.CreatePending(ctx, tx, ledger.PendingInput{
			UserID:               input.UserID,
			Amount:               amount,
			Currency:             currency,
			OrderID:              input.OrderID,
			CorrelationToken:     correlation,
			Gateway:              GatewayName,
			GatewayTransactionID: invoice.ID.String(),
			PayCurrency:          invoice.PayCurrency,
			Raw: ledger.HistoryItem{
				Source:       "invoice",
				MappedStatus: string(enums.LedgerStatusPending),
				PriceAmount:  amount.String(),
				ReceivedAt:   s.now().UTC(),
			},
		})
		return err
	})
	if err != nil {
		// The invoice exists at the provider but nothing references it locally; a callback for
		// it will be rejected as unmatched.
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"invoice_id":  invoice.ID.String(),
			"correlation": correlation,
		})
		s.logg.Error(logCtx, "failed to record pending deposit", err)
		return nil, err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"transaction_id": entry.TransactionID,
		"invoice_id":     invoice.ID.String(),
		"user_id":        input.UserID.String(),
	})
	s.logg.Info(logCtx, "invoice created")

	return &InvoiceResult{
		EntryID:       entry.ID,
		TransactionID: entry.TransactionID,
		ExternalID:    invoice.ID.String(),
		PayURL:        invoice.InvoiceURL,
		Amount:        amount,
		Currency:      currency,
		OrderID:       input.OrderID,
	}, nil
}

// GetStatus polls one payment. The provider keys this lookup by payment id, not invoice id.
func (s *service) GetStatus(ctx context.Context, paymentID string) (*StatusResult, error) {
	payment, err := s.gateway.GetPaymentStatus(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	return &StatusResult{Mapped: payment.Mapped(), Payment: payment}, nil
}

func (s *service) ListCurrencies(ctx context.Context) ([]string, error) {
	return s.gateway.ListCurrencies(ctx)
}

// MinimumAmount asks the gateway for the smallest payable amount and falls back to the
// configured default when the gateway cannot answer.
func (s *service) MinimumAmount(ctx context.Context, from, to string) (decimal.Decimal, error) {
	if strings.TrimSpace(from) == "" {
		from = strings.ToLower(string(s.opts.DefaultCurrency))
	}
	minimum, err := s.gateway.GetMinimumAmount(ctx, from, to)
	if err == nil && minimum.IsPositive() {
		return minimum, nil
	}
	if err != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{"currency_from": from, "currency_to": to})
		s.logg.Warn(logCtx, "minimum amount unavailable, using fallback")
	}
	if s.opts.MinAmountFallback.IsNegative() {
		return decimal.Zero, nil
	}
	return s.opts.MinAmountFallback, nil
}
