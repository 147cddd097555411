package orders

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/codevault-backend/internal/inventory"
	"github.com/angelmondragon/codevault-backend/pkg/db/models"
	"github.com/angelmondragon/codevault-backend/pkg/enums"
)

// CheckoutInput captures a buyer's request to purchase credentials of one product.
type CheckoutInput struct {
	UserID        uuid.UUID
	ProductID     uuid.UUID
	Quantity      int
	PaymentMethod enums.PaymentMethod
}

// CancelInput identifies the order to cancel and who asked for it. An empty ActorRole means
// the system (expiry job) is acting.
type CancelInput struct {
	OrderID     uuid.UUID
	Reason      string
	ActorUserID uuid.UUID
	ActorRole   enums.UserRole
}

// OrderSummary is the list representation of an order.
type OrderSummary struct {
	ID              uuid.UUID           `json:"id"`
	OrderNumber     string              `json:"order_number"`
	ProductID       uuid.UUID           `json:"product_id"`
	Quantity        int                 `json:"quantity"`
	TotalAmount     decimal.Decimal     `json:"total_amount"`
	Currency        enums.Currency      `json:"currency"`
	Status          enums.OrderStatus   `json:"status"`
	PaymentStatus   enums.PaymentStatus `json:"payment_status"`
	PaymentMethod   enums.PaymentMethod `json:"payment_method"`
	FulfillmentNote *string             `json:"fulfillment_note,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
}

// OrderDetail is what the owner sees for a single order, including delivered credentials.
type OrderDetail struct {
	OrderSummary
	UnitPrice          decimal.Decimal      `json:"unit_price"`
	CredentialIDs      []uuid.UUID          `json:"credential_ids"`
	Credentials        []inventory.Delivery `json:"credentials"`
	CancellationReason *string              `json:"cancellation_reason,omitempty"`
	PaidAt             *time.Time           `json:"paid_at,omitempty"`
	CompletedAt        *time.Time           `json:"completed_at,omitempty"`
	CancelledAt        *time.Time           `json:"cancelled_at,omitempty"`
}

// NewOrderSummary projects an order row onto its list representation.
func NewOrderSummary(order models.Order) OrderSummary {
	return OrderSummary{
		ID:              order.ID,
		OrderNumber:     order.OrderNumber,
		ProductID:       order.ProductID,
		Quantity:        order.Quantity,
		TotalAmount:     order.TotalAmount,
		Currency:        order.Currency,
		Status:          order.Status,
		PaymentStatus:   order.PaymentStatus,
		PaymentMethod:   order.PaymentMethod,
		FulfillmentNote: order.FulfillmentNote,
		CreatedAt:       order.CreatedAt,
	}
}

func detailFrom(order models.Order, deliveries []inventory.Delivery) OrderDetail {
	ids := make([]uuid.UUID, len(order.AllocatedCredentialIDs))
	copy(ids, order.AllocatedCredentialIDs)
	if deliveries == nil {
		deliveries = []inventory.Delivery{}
	}
	return OrderDetail{
		OrderSummary:       NewOrderSummary(order),
		UnitPrice:          order.UnitPrice,
		CredentialIDs:      ids,
		Credentials:        deliveries,
		CancellationReason: order.CancellationReason,
		PaidAt:             order.PaidAt,
		CompletedAt:        order.CompletedAt,
		CancelledAt:        order.CancelledAt,
	}
}
