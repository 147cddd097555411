package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/codevault-backend/pkg/db/models"
	"github.com/angelmondragon/codevault-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/codevault-backend/pkg/errors"
	"github.com/angelmondragon/codevault-backend/pkg/logger"
	"github.com/angelmondragon/codevault-backend/pkg/outbox"
	"github.com/angelmondragon/codevault-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/codevault-backend/pkg/pagination"
)

// Service is the only writer of user balances. Every balance change is tied to a ledger entry
// reaching completed inside the caller's transaction.
type Service interface {
	CreatePending(ctx context.Context, tx *gorm.DB, input PendingInput) (*models.LedgerEntry, error)
	RecordCompleted(ctx context.Context, tx *gorm.DB, input CompletedInput) (*models.LedgerEntry, error)
	FindForUpdate(ctx context.Context, tx *gorm.DB, lookup Lookup) (*models.LedgerEntry, MatchedBy, error)
	LockByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.LedgerEntry, error)
	Apply(ctx context.Context, tx *gorm.DB, input ApplyInput) (*ApplyResult, error)
	CancelPendingForOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (int64, error)
	Get(ctx context.Context, id uuid.UUID) (*models.LedgerEntry, error)
	ListForUser(ctx context.Context, userID uuid.UUID, params pagination.Params) (pagination.Page[models.LedgerEntry], error)
	ListForOrder(ctx context.Context, orderID uuid.UUID) ([]models.LedgerEntry, error)
	ListStalePending(ctx context.Context, olderThan time.Duration, limit int) ([]models.LedgerEntry, error)
	Balance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error)
}

// PendingInput describes a deposit awaiting gateway confirmation.
type PendingInput struct {
	UserID               uuid.UUID
	Amount               decimal.Decimal
	Fee                  decimal.Decimal
	Currency             enums.Currency
	OrderID              *uuid.UUID
	TransactionID        string
	CorrelationToken     string
	Gateway              string
	GatewayTransactionID string
	PayCurrency          *string
	Raw                  any
}

// CompletedInput describes an internal movement that settles immediately.
type CompletedInput struct {
	UserID   uuid.UUID
	Kind     enums.LedgerEntryKind
	Amount   decimal.Decimal
	Currency enums.Currency
	OrderID  *uuid.UUID
	Note     string
}

// Lookup lists the identifiers a gateway callback may carry, in resolution order.
type Lookup struct {
	GatewayIDs       []string
	TransactionID    string
	CorrelationToken string
}

// MatchedBy records which identifier resolved an entry.
type MatchedBy string

const (
	MatchedNone          MatchedBy = ""
	MatchedGatewayID     MatchedBy = "gateway_transaction_id"
	MatchedTransactionID MatchedBy = "transaction_id"
	MatchedCorrelation   MatchedBy = "correlation_token"
)

// ApplyInput carries a mapped gateway observation for an entry locked by the caller.
type ApplyInput struct {
	Entry                *models.LedgerEntry
	Next                 enums.LedgerEntryStatus
	PayCurrency          *string
	PayAmount            *decimal.Decimal
	GatewayTransactionID string
	GatewayPaymentID     string
	History              any
	Source               string
}

// ApplyResult reports what Apply changed.
type ApplyResult struct {
	Previous     enums.LedgerEntryStatus
	Current      enums.LedgerEntryStatus
	Transitioned bool
	Credited     bool
}

type service struct {
	repo   Repository
	outbox outbox.Emitter
	logg   *logger.Logger
	now    func() time.Time
}

// NewService wires a ledger service with the provided repository.
func NewService(repo Repository, emitter outbox.Emitter, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	return &service{repo: repo, outbox: emitter, logg: logg, now: time.Now}, nil
}

func (s *service) CreatePending(ctx context.Context, tx *gorm.DB, input PendingInput) (*models.LedgerEntry, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if !input.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if input.Fee.IsNegative() || input.Fee.GreaterThan(input.Amount) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "fee must be between zero and the amount")
	}
	if !input.Currency.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unsupported currency %q", input.Currency))
	}

	now := s.now().UTC()
	entry := &models.LedgerEntry{
		TransactionID: input.TransactionID,
		UserID:        input.UserID,
		Kind:          enums.LedgerKindDeposit,
		GrossAmount:   input.Amount,
		Fee:           input.Fee,
		Currency:      input.Currency,
		Status:        enums.LedgerStatusPending,
		OrderID:       input.OrderID,
		PayCurrency:   input.PayCurrency,
	}
	if entry.TransactionID == "" {
		entry.TransactionID = NewTransactionID(now)
	}
	if input.CorrelationToken != "" {
		entry.CorrelationToken = stringPtr(input.CorrelationToken)
	}
	if input.Gateway != "" {
		entry.Gateway = stringPtr(input.Gateway)
	}
	if input.GatewayTransactionID != "" {
		entry.GatewayTransactionID = stringPtr(input.GatewayTransactionID)
	}
	if input.Raw != nil {
		raw, err := appendHistory(nil, input.Raw)
		if err != nil {
			return nil, err
		}
		entry.RawPayload = raw
	}

	if err := s.repo.WithTx(tx).Create(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *service) RecordCompleted(ctx context.Context, tx *gorm.DB, input CompletedInput) (*models.LedgerEntry, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction required")
	}
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if !input.Kind.IsValid() || input.Kind == enums.LedgerKindDeposit {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("kind %q cannot settle immediately", input.Kind))
	}
	if !input.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}

	repo := s.repo.WithTx(tx)
	now := s.now().UTC()
	entry := &models.LedgerEntry{
		TransactionID: NewTransactionID(now),
		UserID:        input.UserID,
		Kind:          input.Kind,
		GrossAmount:   input.Amount,
		Currency:      input.Currency,
		Status:        enums.LedgerStatusCompleted,
		OrderID:       input.OrderID,
		CompletedAt:   &now,
	}
	if input.Note != "" {
		raw, err := appendHistory(nil, map[string]any{"note": input.Note, "at": now})
		if err != nil {
			return nil, err
		}
		entry.RawPayload = raw
	}

	if err := repo.AdjustBalance(ctx, input.UserID, signed(input.Kind, input.Amount)); err != nil {
		return nil, err
	}
	if err := repo.Create(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// FindForUpdate resolves and locks the entry a callback refers to: gateway id first, then the
// internal transaction id, then a still-pending deposit carrying the correlation token.
func (s *service) FindForUpdate(ctx context.Context, tx *gorm.DB, lookup Lookup) (*models.LedgerEntry, MatchedBy, error) {
	repo := s.repo.WithTx(tx)

	entry, err := repo.FindByGatewayIDForUpdate(ctx, lookup.GatewayIDs)
	if err != nil || entry != nil {
		return entry, MatchedGatewayID, err
	}
	entry, err = repo.FindByTransactionIDForUpdate(ctx, lookup.TransactionID)
	if err != nil || entry != nil {
		return entry, MatchedTransactionID, err
	}
	entry, err = repo.FindPendingDepositByCorrelationForUpdate(ctx, lookup.CorrelationToken)
	if err != nil || entry != nil {
		return entry, MatchedCorrelation, err
	}
	return nil, MatchedNone, nil
}

func (s *service) LockByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.LedgerEntry, error) {
	entry, err := s.repo.WithTx(tx).FindByIDForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, ErrEntryNotFound
	}
	return entry, nil
}

// Apply records a gateway observation against a locked entry. The status moves only to a
// strictly higher rank, and the balance is credited only on the move into completed.
func (s *service) Apply(ctx context.Context, tx *gorm.DB, input ApplyInput) (*ApplyResult, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction required")
	}
	entry := input.Entry
	if entry == nil {
		return nil, ErrEntryNotFound
	}
	if !input.Next.IsValid() {
		return nil, fmt.Errorf("invalid ledger status %q", input.Next)
	}

	repo := s.repo.WithTx(tx)
	previous := entry.Status
	result := &ApplyResult{Previous: previous, Current: previous}
	now := s.now().UTC()

	updates := map[string]any{}
	if input.History != nil {
		raw, err := appendHistory(entry.RawPayload, input.History)
		if err != nil {
			return nil, err
		}
		updates["raw_payload"] = raw
		entry.RawPayload = raw
	}
	if input.PayCurrency != nil && *input.PayCurrency != "" {
		updates["pay_currency"] = *input.PayCurrency
		entry.PayCurrency = input.PayCurrency
	}
	if input.PayAmount != nil {
		updates["pay_amount"] = *input.PayAmount
		entry.PayAmount = input.PayAmount
	}
	if input.GatewayTransactionID != "" && entry.GatewayTransactionID == nil {
		updates["gateway_transaction_id"] = input.GatewayTransactionID
		entry.GatewayTransactionID = stringPtr(input.GatewayTransactionID)
	}
	if input.GatewayPaymentID != "" && entry.GatewayPaymentID == nil {
		updates["gateway_payment_id"] = input.GatewayPaymentID
		entry.GatewayPaymentID = stringPtr(input.GatewayPaymentID)
	}

	transition := previous.CanTransitionTo(input.Next)
	if transition {
		updates["status"] = input.Next
		if input.Next == enums.LedgerStatusCompleted {
			updates["completed_at"] = now
		}
	}
	if len(updates) == 0 {
		return result, nil
	}

	if err := repo.UpdateIfStatus(ctx, entry.ID, previous, updates); err != nil {
		return nil, err
	}
	if !transition {
		return result, nil
	}

	entry.Status = input.Next
	result.Current = input.Next
	result.Transitioned = true

	if input.Next == enums.LedgerStatusCompleted {
		entry.CompletedAt = &now
		if err := repo.AdjustBalance(ctx, entry.UserID, signed(entry.Kind, entry.NetAmount)); err != nil {
			return nil, err
		}
		result.Credited = entry.Kind.Direction() > 0
		if s.logg != nil {
			logCtx := s.logg.WithFields(ctx, map[string]any{
				"transaction_id":  entry.TransactionID,
				"user_id":         entry.UserID.String(),
				"amount":          entry.NetAmount.String(),
				"previous_status": previous,
				"source":          input.Source,
			})
			s.logg.Info(logCtx, "ledger entry completed")
		}
	}

	if err := s.emitStatus(ctx, tx, entry); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) emitStatus(ctx context.Context, tx *gorm.DB, entry *models.LedgerEntry) error {
	var eventType enums.OutboxEventType
	switch entry.Status {
	case enums.LedgerStatusCompleted:
		eventType = enums.EventPaymentCompleted
	case enums.LedgerStatusFailed, enums.LedgerStatusExpired:
		eventType = enums.EventPaymentFailed
	default:
		return nil
	}
	data := payloads.PaymentStatusEvent{
		LedgerEntryID: entry.ID,
		TransactionID: entry.TransactionID,
		UserID:        entry.UserID,
		OrderID:       entry.OrderID,
		Kind:          entry.Kind,
		Status:        entry.Status,
		Amount:        entry.NetAmount,
		Currency:      entry.Currency,
	}
	if entry.GatewayTransactionID != nil {
		data.GatewayTransactionID = *entry.GatewayTransactionID
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateLedgerEntry,
		AggregateID:   entry.ID,
		Actor:         outbox.SystemActor("ledger"),
		Data:          data,
	})
}

func (s *service) CancelPendingForOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (int64, error) {
	return s.repo.WithTx(tx).CancelPendingDeposits(ctx, orderID)
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.LedgerEntry, error) {
	entry, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, ErrEntryNotFound
	}
	return entry, nil
}

func (s *service) ListForUser(ctx context.Context, userID uuid.UUID, params pagination.Params) (pagination.Page[models.LedgerEntry], error) {
	rows, err := s.repo.ListByUser(ctx, userID, params)
	if err != nil {
		return pagination.Page[models.LedgerEntry]{}, err
	}
	return pagination.Build(rows, params.Limit, func(e models.LedgerEntry) pagination.Cursor {
		return pagination.Cursor{CreatedAt: e.CreatedAt, ID: e.ID}
	}), nil
}

func (s *service) ListForOrder(ctx context.Context, orderID uuid.UUID) ([]models.LedgerEntry, error) {
	return s.repo.ListByOrder(ctx, orderID)
}

func (s *service) ListStalePending(ctx context.Context, olderThan time.Duration, limit int) ([]models.LedgerEntry, error) {
	return s.repo.ListStalePending(ctx, s.now().UTC().Add(-olderThan), limit)
}

func (s *service) Balance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	return s.repo.Balance(ctx, userID)
}

func signed(kind enums.LedgerEntryKind, amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(decimal.NewFromInt(int64(kind.Direction())))
}

func stringPtr(v string) *string {
	return &v
}

// HistoryItem is the shape appended to raw_payload for each gateway observation.
type HistoryItem struct {
	Source        string          `json:"source"`
	GatewayStatus string          `json:"gateway_status,omitempty"`
	MappedStatus  string          `json:"mapped_status"`
	PayCurrency   string          `json:"pay_currency,omitempty"`
	PayAmount     string          `json:"pay_amount,omitempty"`
	PriceAmount   string          `json:"price_amount,omitempty"`
	ReceivedAt    time.Time       `json:"received_at"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}
