// Package registry maps outbox event types to the Pub/Sub topic and payload schema they travel with.
package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/angelmondragon/codevault-backend/pkg/config"
	"github.com/angelmondragon/codevault-backend/pkg/db/models"
	"github.com/angelmondragon/codevault-backend/pkg/enums"
	"github.com/angelmondragon/codevault-backend/pkg/outbox"
	"github.com/angelmondragon/codevault-backend/pkg/outbox/payloads"
)

// ErrUndeliverable marks a row that no amount of retrying will publish.
var ErrUndeliverable = errors.New("undeliverable outbox event")

// Undeliverable wraps a formatted reason in ErrUndeliverable.
func Undeliverable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUndeliverable, fmt.Sprintf(format, args...))
}

// Route is the delivery contract of one event type.
type Route struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topic         string
	decode        func(json.RawMessage) (any, error)
}

func route[T any](eventType enums.OutboxEventType, aggregate enums.OutboxAggregateType, topic string) Route {
	return Route{
		EventType:     eventType,
		AggregateType: aggregate,
		Topic:         topic,
		decode: func(raw json.RawMessage) (any, error) {
			payload := new(T)
			if err := json.Unmarshal(raw, payload); err != nil {
				return nil, err
			}
			return payload, nil
		},
	}
}

// ResolvedEvent is an outbox row checked against its route, with the payload decoded.
type ResolvedEvent struct {
	Route    Route
	Envelope outbox.PayloadEnvelope
	Payload  any
}

type EventRegistry struct {
	routes map[enums.OutboxEventType]Route
}

// NewEventRegistry routes order lifecycle events to the orders topic and operator-facing
// alerts to the notification topic.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	var missing []error
	if cfg.OrdersTopic == "" {
		missing = append(missing, errors.New("orders topic is required"))
	}
	if cfg.NotificationTopic == "" {
		missing = append(missing, errors.New("notification topic is required"))
	}
	if err := errors.Join(missing...); err != nil {
		return nil, err
	}

	orders, alerts := cfg.OrdersTopic, cfg.NotificationTopic
	routes := []Route{
		route[payloads.OrderCreatedEvent](enums.EventOrderCreated, enums.AggregateOrder, orders),
		route[payloads.OrderPaidEvent](enums.EventOrderPaid, enums.AggregateOrder, orders),
		route[payloads.OrderDeliveredEvent](enums.EventOrderDelivered, enums.AggregateOrder, orders),
		route[payloads.OrderCancelledEvent](enums.EventOrderCancelled, enums.AggregateOrder, orders),
		route[payloads.OrderStockShortageEvent](enums.EventOrderStockShortage, enums.AggregateOrder, alerts),
		route[payloads.PaymentStatusEvent](enums.EventPaymentCompleted, enums.AggregateLedgerEntry, alerts),
		route[payloads.PaymentStatusEvent](enums.EventPaymentFailed, enums.AggregateLedgerEntry, alerts),
	}
	reg := &EventRegistry{routes: make(map[enums.OutboxEventType]Route, len(routes))}
	for _, r := range routes {
		reg.routes[r.EventType] = r
	}
	return reg, nil
}

// Topics lists the distinct topics in sorted order.
func (r *EventRegistry) Topics() []string {
	topics := make([]string, 0, 2)
	for _, rt := range r.routes {
		if !slices.Contains(topics, rt.Topic) {
			topics = append(topics, rt.Topic)
		}
	}
	slices.Sort(topics)
	return topics
}

// Resolve checks event against its route and decodes the payload. Every error wraps
// ErrUndeliverable.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	rt, ok := r.routes[event.EventType]
	switch {
	case !ok:
		return nil, Undeliverable("unsupported event type %s", event.EventType)
	case rt.AggregateType != event.AggregateType:
		return nil, Undeliverable("aggregate mismatch: %s expects %s, row has %s", event.EventType, rt.AggregateType, event.AggregateType)
	case event.AggregateID == uuid.Nil:
		return nil, Undeliverable("missing aggregate_id")
	}

	var env outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &env); err != nil {
		return nil, Undeliverable("decode envelope: %v", err)
	}
	if data := bytes.TrimSpace(env.Data); len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, Undeliverable("%s has no payload", event.EventType)
	}
	payload, err := rt.decode(env.Data)
	if err != nil {
		return nil, Undeliverable("decode %s payload: %v", event.EventType, err)
	}
	return &ResolvedEvent{Route: rt, Envelope: env, Payload: payload}, nil
}
