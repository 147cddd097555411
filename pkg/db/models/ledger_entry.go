package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/codevault-backend/pkg/enums"
)

// LedgerEntry records one monetary movement against a user's balance. NetAmount is always
// GrossAmount minus Fee. GatewayTransactionID is the id the entry was created under (the invoice
// for deposits); GatewayPaymentID is the provider payment id, known once a callback carries it.
type LedgerEntry struct {
	ID                   uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	TransactionID        string                  `gorm:"column:transaction_id;not null;uniqueIndex"`
	UserID               uuid.UUID               `gorm:"column:user_id;type:uuid;not null;index"`
	Kind                 enums.LedgerEntryKind   `gorm:"column:kind;type:text;not null"`
	GrossAmount          decimal.Decimal         `gorm:"column:gross_amount;type:numeric(20,8);not null"`
	Fee                  decimal.Decimal         `gorm:"column:fee;type:numeric(20,8);not null;default:0"`
	NetAmount            decimal.Decimal         `gorm:"column:net_amount;type:numeric(20,8);not null"`
	Currency             enums.Currency          `gorm:"column:currency;type:text;not null"`
	Status               enums.LedgerEntryStatus `gorm:"column:status;type:text;not null;default:'pending'"`
	OrderID              *uuid.UUID              `gorm:"column:order_id;type:uuid;index"`
	CorrelationToken     *string                 `gorm:"column:correlation_token;index"`
	Gateway              *string                 `gorm:"column:gateway"`
	GatewayTransactionID *string                 `gorm:"column:gateway_transaction_id;uniqueIndex"`
	GatewayPaymentID     *string                 `gorm:"column:gateway_payment_id;uniqueIndex"`
	PayCurrency          *string                 `gorm:"column:pay_currency"`
	PayAmount            *decimal.Decimal        `gorm:"column:pay_amount;type:numeric(30,12)"`
	RawPayload           json.RawMessage         `gorm:"column:raw_payload;type:jsonb"`
	CompletedAt          *time.Time              `gorm:"column:completed_at"`
	CreatedAt            time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

func (l *LedgerEntry) BeforeCreate(*gorm.DB) error {
	ensureID(&l.ID)
	l.NetAmount = l.GrossAmount.Sub(l.Fee)
	return nil
}
