package registry

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/stockledger-backend/pkg/config"
	"github.com/angelmondragon/stockledger-backend/pkg/db/models"
	"github.com/angelmondragon/stockledger-backend/pkg/enums"
	"github.com/angelmondragon/stockledger-backend/pkg/outbox"
	"github.com/angelmondragon/stockledger-backend/pkg/outbox/payloads"
)

func TestResolveDecodesAuditEvent(t *testing.T) {
	reg := newTestEventRegistry(t)
	saleID := uuid.New()
	event := saleRow(saleID, envelope(t, 1, payloads.AuditRecordedEvent{
		Entity:    enums.AggregateSaleTransaction,
		EntityID:  saleID,
		Operation: enums.AuditOperationConfirm,
		New:       json.RawMessage(`{"status":"confirmed"}`),
	}))

	resolved, err := reg.Resolve(event)
	require.NoError(t, err)
	assert.Equal(t, "audit-topic", resolved.Descriptor.Topic)
	assert.Equal(t, "sale_transaction:"+saleID.String(), resolved.OrderingKey)
	assert.NotEmpty(t, resolved.Envelope.EventID)

	payload, ok := resolved.Payload.(*payloads.AuditRecordedEvent)
	require.True(t, ok, "payload type %T", resolved.Payload)
	assert.Equal(t, enums.AuditOperationConfirm, payload.Operation)
	assert.Equal(t, saleID, payload.EntityID)
}

func TestResolveRejectsRowsThatCanNeverPublish(t *testing.T) {
	reg := newTestEventRegistry(t)
	saleID := uuid.New()
	valid := envelope(t, 1, payloads.AuditRecordedEvent{Operation: enums.AuditOperationCreate})

	tests := map[string]models.OutboxEvent{
		"unknown event type": {EventType: "mystery", AggregateType: enums.AggregateTerminal, AggregateID: uuid.New(), Payload: valid},
		"unknown aggregate":  {EventType: enums.EventAuditRecorded, AggregateType: "mystery", AggregateID: uuid.New(), Payload: valid},
		"missing aggregate":  {EventType: enums.EventAuditRecorded, AggregateType: enums.AggregateTerminal, Payload: valid},
		"garbage envelope":   saleRow(saleID, json.RawMessage(`{`)),
		"null payload":       saleRow(saleID, rawEnvelope(t, 1, uuid.NewString(), []byte("null"))),
		"future version":     saleRow(saleID, envelope(t, 2, payloads.AuditRecordedEvent{Operation: enums.AuditOperationCreate})),
		"missing event id":   saleRow(saleID, rawEnvelope(t, 1, "", []byte(`{"operation":"create"}`))),
		"unknown operation":  saleRow(saleID, envelope(t, 1, payloads.AuditRecordedEvent{Operation: "teleport"})),
		"entity mismatch": saleRow(saleID, envelope(t, 1, payloads.AuditRecordedEvent{
			Entity: enums.AggregateStockLevel, Operation: enums.AuditOperationReserve,
		})),
		"entity id mismatch": saleRow(saleID, envelope(t, 1, payloads.AuditRecordedEvent{
			Entity: enums.AggregateSaleTransaction, EntityID: uuid.New(), Operation: enums.AuditOperationCancel,
		})),
	}

	for name, event := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := reg.Resolve(event)
			var nonRetry NonRetryableError
			assert.ErrorAs(t, err, &nonRetry)
		})
	}
}

func TestNewEventRegistry(t *testing.T) {
	_, err := NewEventRegistry(config.PubSubConfig{AuditTopic: "  "})
	assert.Error(t, err)

	reg := newTestEventRegistry(t)
	assert.Equal(t, []string{"audit-topic"}, reg.Topics())
}

func TestNonRetryableErrorUnwraps(t *testing.T) {
	inner := assert.AnError
	err := NewNonRetryableError(inner)
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "non-retryable error", NonRetryableError{}.Error())
}

func newTestEventRegistry(t *testing.T) *EventRegistry {
	t.Helper()
	reg, err := NewEventRegistry(config.PubSubConfig{AuditTopic: "audit-topic"})
	require.NoError(t, err)
	return reg
}

func saleRow(id uuid.UUID, payload json.RawMessage) models.OutboxEvent {
	return models.OutboxEvent{
		EventType:     enums.EventAuditRecorded,
		AggregateType: enums.AggregateSaleTransaction,
		AggregateID:   id,
		Payload:       payload,
	}
}

func envelope(t *testing.T, version int, event payloads.AuditRecordedEvent) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(event)
	require.NoError(t, err)
	return rawEnvelope(t, version, uuid.NewString(), data)
}

func rawEnvelope(t *testing.T, version int, eventID string, data []byte) json.RawMessage {
	t.Helper()
	out, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    version,
		EventID:    eventID,
		OccurredAt: time.Now(),
		Data:       data,
	})
	require.NoError(t, err)
	return out
}
