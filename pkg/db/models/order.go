package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	dbtypes "github.com/angelmondragon/codevault-backend/pkg/db/types"
	"github.com/angelmondragon/codevault-backend/pkg/enums"
)

// Order is a single-product purchase of one or more credentials.
type Order struct {
	ID                     uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	OrderNumber            string              `gorm:"column:order_number;not null;uniqueIndex"`
	UserID                 uuid.UUID           `gorm:"column:user_id;type:uuid;not null;index"`
	ProductID              uuid.UUID           `gorm:"column:product_id;type:uuid;not null"`
	Quantity               int                 `gorm:"column:quantity;not null"`
	UnitPrice              decimal.Decimal     `gorm:"column:unit_price;type:numeric(20,8);not null"`
	TotalAmount            decimal.Decimal     `gorm:"column:total_amount;type:numeric(20,8);not null"`
	Currency               enums.Currency      `gorm:"column:currency;type:text;not null;default:'USD'"`
	Status                 enums.OrderStatus   `gorm:"column:status;type:text;not null;default:'pending'"`
	PaymentStatus          enums.PaymentStatus `gorm:"column:payment_status;type:text;not null;default:'pending'"`
	PaymentMethod          enums.PaymentMethod `gorm:"column:payment_method;type:text;not null"`
	AllocatedCredentialIDs dbtypes.UUIDArray   `gorm:"column:allocated_credential_ids;not null"`
	FulfillmentNote        *string             `gorm:"column:fulfillment_note"`
	CancellationReason     *string             `gorm:"column:cancellation_reason"`
	PaidAt                 *time.Time          `gorm:"column:paid_at"`
	CompletedAt            *time.Time          `gorm:"column:completed_at"`
	CancelledAt            *time.Time          `gorm:"column:cancelled_at"`
	CreatedAt              time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt              time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	ensureID(&o.ID)
	if o.AllocatedCredentialIDs == nil {
		o.AllocatedCredentialIDs = dbtypes.UUIDArray{}
	}
	return nil
}
