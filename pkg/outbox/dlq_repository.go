package outbox

import (
	"context"
	"errors"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/codevault-backend/pkg/db"
	"github.com/angelmondragon/codevault-backend/pkg/db/models"
)

const maxDLQMessageBytes = 1024

// ErrNotParked is returned when an event has no dead-letter row.
var ErrNotParked = errors.New("outbox event not dead-lettered")

// DLQRepository stores outbox rows the publisher gave up on.
type DLQRepository struct {
	db *gorm.DB
}

func NewDLQRepository(conn *gorm.DB) *DLQRepository {
	return &DLQRepository{db: conn}
}

// InsertTx parks a row. It must share the transaction that marks the outbox row terminal.
func (r *DLQRepository) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if entry.ErrorMessage != nil {
		clipped := clipMessage(*entry.ErrorMessage)
		entry.ErrorMessage = &clipped
	}
	return tx.Create(&entry).Error
}

func (r *DLQRepository) FindByEventID(ctx context.Context, eventID uuid.UUID) (*models.OutboxDLQ, error) {
	var row models.OutboxDLQ
	err := r.db.WithContext(ctx).Where("event_id = ?", eventID).Take(&row).Error
	if db.IsNotFound(err) {
		return nil, ErrNotParked
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// clipMessage keeps at most maxDLQMessageBytes without splitting a multi-byte rune.
func clipMessage(msg string) string {
	if len(msg) <= maxDLQMessageBytes {
		return msg
	}
	cut := maxDLQMessageBytes
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}
