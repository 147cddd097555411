package outbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/codevault-backend/pkg/enums"
)

// EnvelopeVersion is written when a DomainEvent leaves Version unset.
const EnvelopeVersion = 1

// ActorRef names who caused an event. System actors carry no user id.
type ActorRef struct {
	UserID uuid.UUID `json:"user_id,omitzero"`
	Role   string    `json:"role,omitempty"`
}

func SystemActor(source string) *ActorRef {
	return &ActorRef{Role: "system:" + source}
}

// DomainEvent is what services hand to Emit. Data is marshalled into the envelope.
type DomainEvent struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   uuid.UUID
	Actor         *ActorRef
	Data          any
	Version       int
	OccurredAt    time.Time
}

// PayloadEnvelope is the JSON stored in outbox_events.payload and published as the message body.
type PayloadEnvelope struct {
	EventID    string          `json:"event_id"`
	Version    int             `json:"version"`
	OccurredAt time.Time       `json:"occurred_at"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

func (e DomainEvent) validate() error {
	var errs []error
	if !e.EventType.IsValid() {
		errs = append(errs, fmt.Errorf("unknown event type %q", e.EventType))
	}
	if !e.AggregateType.IsValid() {
		errs = append(errs, fmt.Errorf("unknown aggregate type %q", e.AggregateType))
	}
	if e.AggregateID == uuid.Nil {
		errs = append(errs, errors.New("aggregate id is required"))
	}
	if e.Data == nil {
		errs = append(errs, errors.New("event data is required"))
	}
	return errors.Join(errs...)
}

// envelope wraps the event under a fresh event id.
func (e DomainEvent) envelope(now time.Time) (PayloadEnvelope, error) {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return PayloadEnvelope{}, fmt.Errorf("marshal %s data: %w", e.EventType, err)
	}
	env := PayloadEnvelope{
		EventID:    uuid.NewString(),
		Version:    e.Version,
		OccurredAt: e.OccurredAt.UTC(),
		Actor:      e.Actor,
		Data:       data,
	}
	if env.Version == 0 {
		env.Version = EnvelopeVersion
	}
	if e.OccurredAt.IsZero() {
		env.OccurredAt = now.UTC()
	}
	return env, nil
}
