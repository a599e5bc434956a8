package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/stockledger-backend/pkg/config"
	"github.com/angelmondragon/stockledger-backend/pkg/db/models"
	"github.com/angelmondragon/stockledger-backend/pkg/enums"
	"github.com/angelmondragon/stockledger-backend/pkg/outbox"
	"github.com/angelmondragon/stockledger-backend/pkg/outbox/payloads"
)

// EventDescriptor routes one event type to its topic. decode turns the
// envelope data into a typed payload and checks it against the row.
type EventDescriptor struct {
	EventType enums.OutboxEventType
	Topic     string
	Versions  []int
	decode    func(models.OutboxEvent, json.RawMessage) (any, error)
}

// ResolvedEvent is an outbox row ready to publish.
type ResolvedEvent struct {
	Descriptor  EventDescriptor
	Envelope    outbox.PayloadEnvelope
	Payload     any
	OrderingKey string
}

// EventRegistry resolves outbox rows by event type.
type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

// NonRetryableError marks a row that can never be published as stored.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error {
	return e.Err
}

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

func nonRetryable(format string, args ...any) error {
	return NonRetryableError{Err: fmt.Errorf(format, args...)}
}

// typed builds a descriptor whose payload decodes into T and is then
// checked by validate.
func typed[T any](eventType enums.OutboxEventType, topic string, validate func(models.OutboxEvent, *T) error) EventDescriptor {
	return EventDescriptor{
		EventType: eventType,
		Topic:     topic,
		Versions:  []int{outbox.EnvelopeVersion},
		decode: func(row models.OutboxEvent, data json.RawMessage) (any, error) {
			payload := new(T)
			if err := json.Unmarshal(data, payload); err != nil {
				return nil, nonRetryable("decode %s payload: %w", eventType, err)
			}
			if validate != nil {
				if err := validate(row, payload); err != nil {
					return nil, NewNonRetryableError(err)
				}
			}
			return payload, nil
		},
	}
}

// NewEventRegistry registers every event type the outbox writes.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	topic := strings.TrimSpace(cfg.AuditTopic)
	if topic == "" {
		return nil, fmt.Errorf("audit topic is required")
	}
	reg := &EventRegistry{entries: make(map[enums.OutboxEventType]EventDescriptor)}
	reg.register(typed(enums.EventAuditRecorded, topic, validateAudit))
	return reg, nil
}

// validateAudit rejects audit payloads that disagree with the row they were
// stored on; publishing them would misattribute the change.
func validateAudit(row models.OutboxEvent, event *payloads.AuditRecordedEvent) error {
	switch {
	case !event.Operation.IsValid():
		return fmt.Errorf("unknown audit operation %q", event.Operation)
	case event.Entity != "" && event.Entity != row.AggregateType:
		return fmt.Errorf("audit entity %s does not match aggregate %s", event.Entity, row.AggregateType)
	case event.EntityID != uuid.Nil && event.EntityID != row.AggregateID:
		return fmt.Errorf("audit entity id %s does not match aggregate id %s", event.EntityID, row.AggregateID)
	}
	return nil
}

func (r *EventRegistry) register(desc EventDescriptor) {
	if desc.decode == nil || desc.Topic == "" {
		return
	}
	r.entries[desc.EventType] = desc
}

// Topics lists the distinct topics events can be routed to.
func (r *EventRegistry) Topics() []string {
	topics := make([]string, 0, len(r.entries))
	for _, desc := range r.entries {
		if !slices.Contains(topics, desc.Topic) {
			topics = append(topics, desc.Topic)
		}
	}
	slices.Sort(topics)
	return topics
}

// Resolve decodes the row's envelope and payload. Every failure is
// non-retryable: the row's bytes will not change on the next attempt.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	switch {
	case !ok:
		return nil, nonRetryable("unsupported event type %s", event.EventType)
	case !event.AggregateType.IsValid():
		return nil, nonRetryable("unknown aggregate type %s", event.AggregateType)
	case event.AggregateID == uuid.Nil:
		return nil, nonRetryable("missing aggregate_id")
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return nil, nonRetryable("decode envelope: %w", err)
	}
	if !slices.Contains(desc.Versions, envelope.Version) {
		return nil, nonRetryable("unsupported envelope version %d for %s", envelope.Version, event.EventType)
	}
	if strings.TrimSpace(envelope.EventID) == "" {
		return nil, nonRetryable("envelope missing event id")
	}
	data := bytes.TrimSpace(envelope.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nonRetryable("payload missing for %s", event.EventType)
	}

	payload, err := desc.decode(event, data)
	if err != nil {
		return nil, err
	}
	return &ResolvedEvent{
		Descriptor:  desc,
		Envelope:    envelope,
		Payload:     payload,
		OrderingKey: OrderingKey(event),
	}, nil
}

// OrderingKey groups messages of one aggregate so subscribers receive them
// in commit order.
func OrderingKey(event models.OutboxEvent) string {
	return string(event.AggregateType) + ":" + event.AggregateID.String()
}
