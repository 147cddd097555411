package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/codevault-backend/pkg/enums"
)

// Credential is one allocatable access code. OrderID is set iff the state is reserved or sold.
type Credential struct {
	ID         uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	ProductID  uuid.UUID             `gorm:"column:product_id;type:uuid;not null;index:idx_credentials_product_state,priority:1"`
	Secret     json.RawMessage       `gorm:"column:secret;type:jsonb;not null"`
	State      enums.CredentialState `gorm:"column:state;type:text;not null;default:'available';index:idx_credentials_product_state,priority:2"`
	OrderID    *uuid.UUID            `gorm:"column:order_id;type:uuid;index"`
	ReservedAt *time.Time            `gorm:"column:reserved_at"`
	SoldAt     *time.Time            `gorm:"column:sold_at"`
	CreatedAt  time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

func (c *Credential) BeforeCreate(*gorm.DB) error {
	ensureID(&c.ID)
	return nil
}
