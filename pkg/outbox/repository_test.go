package outbox

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/codevault-backend/pkg/db/dbtest"
	"github.com/angelmondragon/codevault-backend/pkg/db/models"
	"github.com/angelmondragon/codevault-backend/pkg/enums"
	"github.com/angelmondragon/codevault-backend/pkg/outbox/payloads"
)

func TestServiceEmitWritesEnvelope(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	svc := NewService(repo, nil)
	orderID := uuid.New()

	err := client.WithTx(context.Background(), func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Data:          payloads.OrderCreatedEvent{OrderID: orderID, Quantity: 1},
		})
	})
	require.NoError(t, err)

	rows, err := repo.ListByAggregate(nil, enums.AggregateOrder, orderID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, enums.EventOrderCreated, rows[0].EventType)
	require.Nil(t, rows[0].PublishedAt)
	require.Contains(t, string(rows[0].Payload), `"version":1`)
	require.Contains(t, string(rows[0].Payload), orderID.String())
}

func TestServiceEmitRollsBackWithTransaction(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	svc := NewService(repo, nil)
	orderID := uuid.New()

	boom := errors.New("boom")
	err := client.WithTx(context.Background(), func(tx *gorm.DB) error {
		if err := svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventOrderCancelled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Data:          payloads.OrderCancelledEvent{OrderID: orderID},
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	rows, err := repo.ListByAggregate(nil, enums.AggregateOrder, orderID)
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestServiceEmitOnce(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	svc := NewService(repo, nil)
	orderID := uuid.New()
	event := DomainEvent{
		EventType:     enums.EventOrderStockShortage,
		AggregateType: enums.AggregateOrder,
		AggregateID:   orderID,
		Data:          payloads.OrderStockShortageEvent{OrderID: orderID, Requested: 3},
	}

	for i := 0; i < 2; i++ {
		require.NoError(t, client.WithTx(context.Background(), func(tx *gorm.DB) error {
			return svc.EmitOnce(context.Background(), tx, event)
		}))
	}

	rows, err := repo.ListByAggregate(nil, enums.AggregateOrder, orderID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestRepositoryPublishLifecycle(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	dlq := NewDLQRepository(client.DB())

	first := models.OutboxEvent{EventType: enums.EventOrderPaid, AggregateType: enums.AggregateOrder, AggregateID: uuid.New(), Payload: []byte(`{}`)}
	second := models.OutboxEvent{EventType: enums.EventOrderDelivered, AggregateType: enums.AggregateOrder, AggregateID: uuid.New(), Payload: []byte(`{}`)}
	require.NoError(t, client.DB().Create(&first).Error)
	require.NoError(t, client.DB().Create(&second).Error)

	ctx := context.Background()
	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := repo.FetchUnpublishedForPublish(tx, 10, 3)
		require.NoError(t, err)
		require.Len(t, rows, 2)
		require.NoError(t, repo.MarkPublishedTx(tx, first.ID))
		require.NoError(t, repo.MarkFailedTx(tx, second.ID, errors.New("transient")))
		return nil
	}))

	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := repo.FetchUnpublishedForPublish(tx, 10, 3)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		require.Equal(t, second.ID, rows[0].ID)
		require.Equal(t, 1, rows[0].AttemptCount)
		require.NotNil(t, rows[0].LastError)

		require.NoError(t, dlq.InsertTx(tx, models.OutboxDLQ{
			EventID:       second.ID,
			EventType:     second.EventType,
			AggregateType: second.AggregateType,
			AggregateID:   second.AggregateID,
			Payload:       second.Payload,
			ErrorReason:   enums.OutboxDLQReasonMaxAttempts,
			AttemptCount:  3,
		}))
		return repo.MarkTerminalTx(tx, second.ID, errors.New("gave up"), 3)
	}))

	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := repo.FetchUnpublishedForPublish(tx, 10, 3)
		require.NoError(t, err)
		require.Empty(t, rows)
		return nil
	}))

	parked, err := dlq.FindByEventID(ctx, second.ID)
	require.NoError(t, err)
	require.NotNil(t, parked)
	require.Equal(t, enums.OutboxDLQReasonMaxAttempts, parked.ErrorReason)
}

func TestRepositoryDeletePublishedBefore(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())

	old := time.Now().UTC().Add(-48 * time.Hour)
	recent := time.Now().UTC()
	rows := []models.OutboxEvent{
		{EventType: enums.EventOrderPaid, AggregateType: enums.AggregateOrder, AggregateID: uuid.New(), Payload: []byte(`{}`), PublishedAt: &old},
		{EventType: enums.EventOrderPaid, AggregateType: enums.AggregateOrder, AggregateID: uuid.New(), Payload: []byte(`{}`), PublishedAt: &recent},
		{EventType: enums.EventOrderPaid, AggregateType: enums.AggregateOrder, AggregateID: uuid.New(), Payload: []byte(`{}`)},
	}
	for i := range rows {
		require.NoError(t, client.DB().Create(&rows[i]).Error)
	}

	var deleted int64
	require.NoError(t, client.WithTx(context.Background(), func(tx *gorm.DB) error {
		var err error
		deleted, err = repo.DeletePublishedBefore(tx, time.Now().UTC().Add(-24*time.Hour), 10)
		return err
	}))
	require.Equal(t, int64(1), deleted)

	var remaining int64
	require.NoError(t, client.DB().Model(&models.OutboxEvent{}).Count(&remaining).Error)
	require.Equal(t, int64(2), remaining)
}

func TestRepositoryDeletePublishedBeforeHonoursLimit(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())

	for i := range 3 {
		published := time.Now().UTC().Add(-time.Duration(72-i) * time.Hour)
		row := models.OutboxEvent{
			EventType:     enums.EventOrderPaid,
			AggregateType: enums.AggregateOrder,
			AggregateID:   uuid.New(),
			Payload:       []byte(`{}`),
			PublishedAt:   &published,
		}
		require.NoError(t, client.DB().Create(&row).Error)
	}

	cutoff := time.Now().UTC().Add(-24 * time.Hour)
	var first, second int64
	require.NoError(t, client.WithTx(context.Background(), func(tx *gorm.DB) error {
		var err error
		first, err = repo.DeletePublishedBefore(tx, cutoff, 2)
		return err
	}))
	require.NoError(t, client.WithTx(context.Background(), func(tx *gorm.DB) error {
		var err error
		second, err = repo.DeletePublishedBefore(tx, cutoff, 2)
		return err
	}))
	require.Equal(t, int64(2), first)
	require.Equal(t, int64(1), second)
}

func TestDLQRepositoryClipsLongMessages(t *testing.T) {
	client := dbtest.Open(t)
	dlq := NewDLQRepository(client.DB())
	eventID := uuid.New()
	long := strings.Repeat("é", maxDLQMessageBytes)

	require.NoError(t, client.WithTx(context.Background(), func(tx *gorm.DB) error {
		return dlq.InsertTx(tx, models.OutboxDLQ{
			EventID:       eventID,
			EventType:     enums.EventOrderPaid,
			AggregateType: enums.AggregateOrder,
			AggregateID:   uuid.New(),
			Payload:       []byte(`{}`),
			ErrorReason:   enums.OutboxDLQReasonNonRetryable,
			ErrorMessage:  &long,
		})
	}))

	parked, err := dlq.FindByEventID(context.Background(), eventID)
	require.NoError(t, err)
	require.NotNil(t, parked.ErrorMessage)
	require.LessOrEqual(t, len(*parked.ErrorMessage), maxDLQMessageBytes)
	require.True(t, utf8.ValidString(*parked.ErrorMessage))

	_, err = dlq.FindByEventID(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrNotParked)
}
