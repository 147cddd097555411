package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/codevault-backend/pkg/enums"
)

// User is the account that owns a balance. Balance changes only through completed ledger entries.
type User struct {
	ID         uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	Email      string          `gorm:"column:email;type:text;not null;uniqueIndex"`
	Role       enums.UserRole  `gorm:"column:role;type:text;not null;default:'customer'"`
	Balance    decimal.Decimal `gorm:"column:balance;type:numeric(20,8);not null;default:0"`
	ReferrerID *uuid.UUID      `gorm:"column:referrer_id;type:uuid"`
	CreatedAt  time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (u *User) BeforeCreate(*gorm.DB) error {
	ensureID(&u.ID)
	return nil
}
