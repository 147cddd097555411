package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/codevault-backend/pkg/enums"
)

// OrderCreatedEvent signals a new order after checkout.
type OrderCreatedEvent struct {
	OrderID       uuid.UUID           `json:"order_id"`
	OrderNumber   string              `json:"order_number"`
	UserID        uuid.UUID           `json:"user_id"`
	ProductID     uuid.UUID           `json:"product_id"`
	Quantity      int                 `json:"quantity"`
	TotalAmount   decimal.Decimal     `json:"total_amount"`
	Currency      enums.Currency      `json:"currency"`
	PaymentMethod enums.PaymentMethod `json:"payment_method"`
}

// OrderPaidEvent is emitted once the purchase entry debiting the buyer completes.
type OrderPaidEvent struct {
	OrderID       uuid.UUID       `json:"order_id"`
	UserID        uuid.UUID       `json:"user_id"`
	TransactionID string          `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
	PaidAt        time.Time       `json:"paid_at"`
}

// OrderDeliveredEvent lists the credentials handed over to the buyer.
type OrderDeliveredEvent struct {
	OrderID       uuid.UUID   `json:"order_id"`
	UserID        uuid.UUID   `json:"user_id"`
	CredentialIDs []uuid.UUID `json:"credential_ids"`
	DeliveredAt   time.Time   `json:"delivered_at"`
}

// OrderStockShortageEvent alerts operators that a paid order could not be allocated.
type OrderStockShortageEvent struct {
	OrderID   uuid.UUID `json:"order_id"`
	ProductID uuid.UUID `json:"product_id"`
	Requested int       `json:"requested"`
	Available int64     `json:"available"`
}

// OrderCancelledEvent is emitted whenever an order is cancelled or expires.
type OrderCancelledEvent struct {
	OrderID             uuid.UUID `json:"order_id"`
	UserID              uuid.UUID `json:"user_id"`
	Reason              string    `json:"reason,omitempty"`
	Refunded            bool      `json:"refunded"`
	RefundTransactionID string    `json:"refund_transaction_id,omitempty"`
	CancelledAt         time.Time `json:"cancelled_at"`
}

// PaymentStatusEvent reports a ledger entry reaching a terminal status.
type PaymentStatusEvent struct {
	LedgerEntryID        uuid.UUID               `json:"ledger_entry_id"`
	TransactionID        string                  `json:"transaction_id"`
	UserID               uuid.UUID               `json:"user_id"`
	OrderID              *uuid.UUID              `json:"order_id,omitempty"`
	Kind                 enums.LedgerEntryKind   `json:"kind"`
	Status               enums.LedgerEntryStatus `json:"status"`
	Amount               decimal.Decimal         `json:"amount"`
	Currency             enums.Currency          `json:"currency"`
	GatewayTransactionID string                  `json:"gateway_transaction_id,omitempty"`
}
