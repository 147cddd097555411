package reconciliation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/codevault-backend/internal/ledger"
	"github.com/angelmondragon/codevault-backend/internal/orders"
	"github.com/angelmondragon/codevault-backend/pkg/db/models"
	"github.com/angelmondragon/codevault-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/codevault-backend/pkg/errors"
	"github.com/angelmondragon/codevault-backend/pkg/logger"
	"github.com/angelmondragon/codevault-backend/pkg/metrics"
	"github.com/angelmondragon/codevault-backend/pkg/nowpayments"
)

const (
	SourceWebhook = "webhook"
	SourcePoll    = "poll"
)

var defaultAmountEpsilon = decimal.RequireFromString("0.01")

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type signatureVerifier interface {
	VerifySignature(rawPayload []byte, signatureHeader string) bool
}

type orderPayer interface {
	MarkPaidTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, error)
}

type ServiceParams struct {
	Ledger            ledger.Service
	Orders            orderPayer
	Verifier          signatureVerifier
	TransactionRunner txRunner
	Guard             *IdempotencyGuard
	Metrics           *metrics.PaymentMetrics
	Logger            *logger.Logger
	AmountEpsilon     decimal.Decimal
}

// Service maps gateway observations onto ledger and order transitions.
type Service struct {
	ledger   ledger.Service
	orders   orderPayer
	verifier signatureVerifier
	txRunner txRunner
	guard    *IdempotencyGuard
	metrics  *metrics.PaymentMetrics
	logg     *logger.Logger
	epsilon  decimal.Decimal
	now      func() time.Time
}

// Result describes what a single observation changed.
type Result struct {
	EntryID        uuid.UUID               `json:"entry_id,omitempty"`
	TransactionID  string                  `json:"transaction_id,omitempty"`
	MatchedBy      ledger.MatchedBy        `json:"matched_by,omitempty"`
	Previous       enums.LedgerEntryStatus `json:"previous_status,omitempty"`
	Current        enums.LedgerEntryStatus `json:"status,omitempty"`
	Credited       bool                    `json:"credited"`
	Duplicate      bool                    `json:"duplicate"`
	AmountMismatch bool                    `json:"amount_mismatch"`
	OrderID        *uuid.UUID              `json:"order_id,omitempty"`
	OrderStatus    enums.OrderStatus       `json:"order_status,omitempty"`
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger service required")
	}
	if params.Orders == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "orders service required")
	}
	if params.Verifier == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "signature verifier required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	epsilon := params.AmountEpsilon
	if !epsilon.IsPositive() {
		epsilon = defaultAmountEpsilon
	}
	m := params.Metrics
	if m == nil {
		m = metrics.NewPaymentMetrics(nil)
	}
	return &Service{
		ledger:   params.Ledger,
		orders:   params.Orders,
		verifier: params.Verifier,
		txRunner: params.TransactionRunner,
		guard:    params.Guard,
		metrics:  m,
		logg:     params.Logger,
		epsilon:  epsilon,
		now:      time.Now,
	}, nil
}

// HandleWebhook verifies and applies a gateway callback. Nothing is read or written before the
// signature checks out, and once it does the work is detached from the request context.
func (s *Service) HandleWebhook(ctx context.Context, rawBody []byte, signature string) (*Result, error) {
	if !s.verifier.VerifySignature(rawBody, signature) {
		s.metrics.IncWebhook(metrics.OutcomeSignatureInvalid)
		s.logg.Security(s.logg.WithFields(ctx, map[string]any{
			"provider":      "nowpayments",
			"signature_set": signature != "",
			"body_bytes":    len(rawBody),
		}), "webhook signature rejected")
		return nil, ErrSignatureInvalid
	}
	ctx = context.WithoutCancel(ctx)

	payment, err := nowpayments.ParsePaymentStatus(rawBody)
	if err != nil {
		s.metrics.IncWebhook(metrics.OutcomeError)
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, ErrMalformedPayload, "malformed webhook payload")
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"payment_id":     payment.PaymentID.String(),
		"invoice_id":     payment.InvoiceID.String(),
		"gateway_status": payment.Status,
	})

	deliveryKey := deliveryKeyFor(payment)
	guarded := s.guard != nil && deliveryKey != ""
	if guarded {
		done, err := s.guard.Processed(ctx, deliveryKey)
		switch {
		case err != nil:
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "webhook idempotency guard unavailable")
			guarded = false
		case done:
			s.metrics.IncWebhook(metrics.OutcomeDuplicate)
			s.logg.Info(ctx, "duplicate webhook delivery skipped")
			return &Result{Duplicate: true}, nil
		}
	}
	if guarded {
		first, err := s.guard.Claim(ctx, deliveryKey)
		switch {
		case err != nil:
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "webhook idempotency guard unavailable")
			guarded = false
		case !first:
			s.metrics.IncWebhook(metrics.OutcomeDuplicate)
			s.logg.Info(ctx, "webhook delivery already in progress")
			return nil, ErrDeliveryInFlight
		default:
			defer func() {
				if err := s.guard.Release(ctx, deliveryKey); err != nil {
					s.logg.Error(ctx, "failed to release webhook delivery claim", err)
				}
			}()
		}
	}

	result, err := s.apply(ctx, payment, rawBody, SourceWebhook, func(tx *gorm.DB) (*models.LedgerEntry, ledger.MatchedBy, error) {
		return s.ledger.FindForUpdate(ctx, tx, ledger.Lookup{
			GatewayIDs:       payment.ExternalIDs(),
			TransactionID:    payment.OrderID,
			CorrelationToken: payment.OrderID,
		})
	})
	if err != nil {
		if errors.Is(err, ErrEntryNotFound) {
			s.metrics.IncWebhook(metrics.OutcomeNotFound)
			s.logg.Warn(ctx, "webhook did not match any ledger entry")
			return nil, err
		}
		s.metrics.IncWebhook(metrics.OutcomeError)
		s.logg.Error(ctx, "webhook processing failed", err)
		return nil, err
	}

	if guarded {
		if err := s.guard.MarkProcessed(ctx, deliveryKey, s.now()); err != nil {
			s.logg.Error(ctx, "failed to record processed webhook delivery", err)
		}
	}
	s.metrics.IncWebhook(metrics.OutcomeProcessed)
	return result, nil
}

// Reconcile applies a payment document fetched from the gateway API to a known entry. The data
// came from an authenticated call, so no signature is involved.
func (s *Service) Reconcile(ctx context.Context, entryID uuid.UUID, payment *nowpayments.PaymentStatus) (*Result, error) {
	if payment == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment status is required")
	}
	raw, err := json.Marshal(payment)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode payment status")
	}
	return s.apply(ctx, payment, raw, SourcePoll, func(tx *gorm.DB) (*models.LedgerEntry, ledger.MatchedBy, error) {
		entry, err := s.ledger.LockByID(ctx, tx, entryID)
		if errors.Is(err, ledger.ErrEntryNotFound) {
			return nil, ledger.MatchedNone, nil
		}
		return entry, ledger.MatchedNone, err
	})
}

type locator func(tx *gorm.DB) (*models.LedgerEntry, ledger.MatchedBy, error)

func (s *Service) apply(ctx context.Context, payment *nowpayments.PaymentStatus, raw []byte, source string, locate locator) (*Result, error) {
	var result *Result
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		entry, matchedBy, err := locate(tx)
		if err != nil {
			return err
		}
		if entry == nil {
			return ErrEntryNotFound
		}

		mapped := payment.Mapped()
		history := ledger.HistoryItem{
			Source:        source,
			GatewayStatus: payment.Status,
			MappedStatus:  string(mapped),
			PayCurrency:   payment.PayCurrency,
			ReceivedAt:    s.now().UTC(),
			Payload:       json.RawMessage(raw),
		}
		if paid := payment.PaidAmount(); paid != nil {
			history.PayAmount = paid.String()
		}
		if reported, ok := payment.ReportedAmount(); ok {
			history.PriceAmount = reported.String()
		}

		var payCurrency *string
		if payment.PayCurrency != "" {
			payCurrency = &payment.PayCurrency
		}
		backfill := ""
		if matchedBy != ledger.MatchedGatewayID {
			if ids := payment.ExternalIDs(); len(ids) > 0 {
				backfill = ids[0]
			}
		}

		applied, err := s.ledger.Apply(ctx, tx, ledger.ApplyInput{
			Entry:                entry,
			Next:                 mapped,
			PayCurrency:          payCurrency,
			PayAmount:            payment.PaidAmount(),
			GatewayTransactionID: backfill,
			GatewayPaymentID:     payment.PaymentID.String(),
			History:              history,
			Source:               source,
		})
		if err != nil {
			return err
		}

		result = &Result{
			EntryID:       entry.ID,
			TransactionID: entry.TransactionID,
			MatchedBy:     matchedBy,
			Previous:      applied.Previous,
			Current:       applied.Current,
			Credited:      applied.Credited,
			OrderID:       entry.OrderID,
		}
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"transaction_id":  entry.TransactionID,
			"matched_by":      string(matchedBy),
			"previous_status": string(applied.Previous),
			"mapped_status":   string(mapped),
			"source":          source,
		})

		if applied.Transitioned {
			result.AmountMismatch = s.checkAmount(logCtx, entry, payment)
		}
		if !applied.Transitioned || applied.Current != enums.LedgerStatusCompleted {
			return nil
		}
		if entry.Kind != enums.LedgerKindDeposit || entry.OrderID == nil {
			return nil
		}

		order, err := s.orders.MarkPaidTx(ctx, tx, *entry.OrderID)
		switch {
		case err == nil:
			result.OrderStatus = order.Status
		case errors.Is(err, orders.ErrOrderNotPayable), errors.Is(err, orders.ErrOrderNotFound):
			s.logg.Warn(logCtx, "deposit completed for an order that is no longer payable; balance kept")
		case errors.Is(err, ledger.ErrInsufficientBalance):
			s.logg.Warn(logCtx, "deposit does not cover the order total; balance kept")
		default:
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	// Counted after commit: WithTx may replay the closure.
	if result.Credited {
		s.metrics.IncCredit(source)
	}
	if result.AmountMismatch {
		s.metrics.IncAmountMismatch()
	}
	return result, nil
}

// checkAmount compares the provider-reported price with the invoiced amount. The credit always
// uses the invoiced amount; a discrepancy is only recorded.
func (s *Service) checkAmount(ctx context.Context, entry *models.LedgerEntry, payment *nowpayments.PaymentStatus) bool {
	reported, ok := payment.ReportedAmount()
	if !ok {
		return false
	}
	if reported.Sub(entry.GrossAmount).Abs().LessThanOrEqual(s.epsilon) {
		return false
	}
	s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
		"expected_amount": entry.GrossAmount.String(),
		"reported_amount": reported.String(),
	}), "AmountMismatch")
	return true
}

func deliveryKeyFor(payment *nowpayments.PaymentStatus) string {
	ids := payment.ExternalIDs()
	if len(ids) == 0 || payment.Status == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s", ids[0], payment.Status)
}
