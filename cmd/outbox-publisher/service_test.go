package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"github.com/angelmondragon/stockledger-backend/pkg/config"
	"github.com/angelmondragon/stockledger-backend/pkg/db/models"
	"github.com/angelmondragon/stockledger-backend/pkg/enums"
	"github.com/angelmondragon/stockledger-backend/pkg/logger"
	"github.com/angelmondragon/stockledger-backend/pkg/metrics"
	"github.com/angelmondragon/stockledger-backend/pkg/outbox"
	"github.com/angelmondragon/stockledger-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/stockledger-backend/pkg/outbox/registry"
	"github.com/angelmondragon/stockledger-backend/pkg/pubsub"
)

var _ pubSubClient = (*pubsub.Client)(nil)

func auditEvent(t *testing.T, entity enums.OutboxAggregateType) models.OutboxEvent {
	t.Helper()
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventAuditRecorded,
		AggregateType: entity,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelopePayload(t, uuid.NewString()),
		CreatedAt:     time.Now(),
	}
}

func auditResolution(operation enums.AuditOperation) *registry.ResolvedEvent {
	return &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{EventType: enums.EventAuditRecorded, Topic: "audit-topic"},
		Envelope: outbox.PayloadEnvelope{
			Actor: &outbox.ActorRef{TerminalCode: "POS-01"},
		},
		Payload: &payloads.AuditRecordedEvent{Operation: operation, CorrelationID: "req-1"},
	}
}

func TestProcessBatchContinuesAfterTransientFailure(t *testing.T) {
	repo := &fakeRepo{events: []models.OutboxEvent{
		auditEvent(t, enums.AggregateSaleTransaction),
		auditEvent(t, enums.AggregateStockLevel),
	}}
	pub := &fakePublisher{errs: []error{errors.New("transient"), nil}}
	reg := prometheus.NewRegistry()
	service := newTestService(t, repo, pub, &fakeRegistry{resolved: auditResolution(enums.AuditOperationConfirm)}, &fakeDLQRepo{}, nil)
	service.metrics = metrics.NewOutboxMetrics(reg)

	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if !processed {
		t.Fatalf("expected batch to report processed")
	}
	if len(repo.failed) != 1 || repo.failed[0] != repo.events[0].ID {
		t.Fatalf("expected first row marked failed, got %v", repo.failed)
	}
	if len(repo.published) != 1 || repo.published[0] != repo.events[1].ID {
		t.Fatalf("expected second row published, got %v", repo.published)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	outcomes := map[string]float64{}
	for _, family := range families {
		if family.GetName() != "stockledger_outbox_events_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "outcome" {
					outcomes[label.GetValue()] = metric.GetCounter().GetValue()
				}
			}
		}
	}
	if outcomes[metrics.OutboxRetried] != 1 || outcomes[metrics.OutboxPublished] != 1 {
		t.Fatalf("unexpected outcome counters %v", outcomes)
	}
}

func TestPublishCarriesAuditAttributes(t *testing.T) {
	event := auditEvent(t, enums.AggregateSaleTransaction)
	pub := &fakePublisher{errs: []error{nil}}
	service := newTestService(t, &fakeRepo{events: []models.OutboxEvent{event}}, pub, &fakeRegistry{resolved: auditResolution(enums.AuditOperationConfirm)}, &fakeDLQRepo{}, nil)

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if len(pub.messages) != 1 {
		t.Fatalf("expected one message, got %d", len(pub.messages))
	}
	attrs := pub.messages[0].Attributes
	expected := map[string]string{
		"event_type":     string(enums.EventAuditRecorded),
		"aggregate_type": string(enums.AggregateSaleTransaction),
		"aggregate_id":   event.AggregateID.String(),
		"operation":      "confirm",
		"correlation_id": "req-1",
		"terminal_code":  "POS-01",
	}
	for key, want := range expected {
		if attrs[key] != want {
			t.Fatalf("attribute %s: expected %q got %q", key, want, attrs[key])
		}
	}
	if !bytes.Equal(pub.messages[0].Data, event.Payload) {
		t.Fatalf("expected raw envelope as message data")
	}
}

func TestProcessBatchDeadLettersUnresolvableRows(t *testing.T) {
	event := auditEvent(t, enums.AggregateTerminal)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	dlq := &fakeDLQRepo{}
	resolver := &fakeRegistry{err: registry.NewNonRetryableError(errors.New("invalid payload"))}
	service := newTestService(t, repo, &fakePublisher{}, resolver, dlq, nil)

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if len(dlq.entries) != 1 {
		t.Fatalf("expected dlq entry, got %d", len(dlq.entries))
	}
	entry := dlq.entries[0]
	if entry.EventID != event.ID || !bytes.Equal(entry.Payload, event.Payload) {
		t.Fatalf("dlq entry does not mirror the outbox row: %+v", entry)
	}
	if entry.ErrorReason != enums.OutboxDLQReasonNonRetryable {
		t.Fatalf("unexpected error reason: %s", entry.ErrorReason)
	}
	if len(repo.terminal) != 1 {
		t.Fatalf("expected row marked terminal")
	}
}

func TestProcessBatchDeadLettersAfterMaxAttempts(t *testing.T) {
	event := auditEvent(t, enums.AggregateStockLevel)
	event.AttemptCount = 1
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	pub := &fakePublisher{errs: []error{errors.New("deadline exceeded")}}
	dlq := &fakeDLQRepo{}
	service := newTestService(t, repo, pub, &fakeRegistry{resolved: auditResolution(enums.AuditOperationReserve)}, dlq, &config.OutboxConfig{
		BatchSize:      1,
		PollIntervalMS: 100,
		MaxAttempts:    2,
	})

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if len(dlq.entries) != 1 {
		t.Fatalf("expected dlq entry, got %d", len(dlq.entries))
	}
	if dlq.entries[0].ErrorReason != enums.OutboxDLQReasonMaxAttempts {
		t.Fatalf("unexpected error reason: %s", dlq.entries[0].ErrorReason)
	}
	if len(repo.failed) != 0 {
		t.Fatalf("row should not be marked for retry")
	}
}

func TestProcessBatchDeadLettersWhenTopicUnavailable(t *testing.T) {
	event := auditEvent(t, enums.AggregateSaleTransaction)
	repo := &fakeRepo{events: []models.OutboxEvent{event}}
	dlq := &fakeDLQRepo{}
	service, err := NewService(ServiceParams{
		Config:        &config.Config{Outbox: config.OutboxConfig{BatchSize: 1, PollIntervalMS: 100, MaxAttempts: 5}},
		Logger:        logger.New(logger.Options{ServiceName: "outbox-publisher-test", Output: io.Discard}),
		DB:            fakeDB{},
		PubSub:        fakePubSubClient{},
		Repository:    repo,
		Registry:      &fakeRegistry{resolved: auditResolution(enums.AuditOperationCreate)},
		DLQRepository: dlq,
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if len(dlq.entries) != 1 || dlq.entries[0].ErrorReason != enums.OutboxDLQReasonNonRetryable {
		t.Fatalf("expected non-retryable dlq entry, got %+v", dlq.entries)
	}
	if len(repo.published) != 0 {
		t.Fatalf("nothing should be published without a topic")
	}
}

func TestProcessBatchEmpty(t *testing.T) {
	service := newTestService(t, &fakeRepo{}, &fakePublisher{}, &fakeRegistry{}, &fakeDLQRepo{}, nil)

	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if processed {
		t.Fatalf("expected empty batch to report idle")
	}
}

func TestNextBackoffCaps(t *testing.T) {
	base := 100 * time.Millisecond
	if got := nextBackoff(0, base, time.Second); got != 200*time.Millisecond {
		t.Fatalf("expected doubled base, got %s", got)
	}
	if got := nextBackoff(800*time.Millisecond, base, time.Second); got != time.Second {
		t.Fatalf("expected cap, got %s", got)
	}
}

func newTestService(t *testing.T, repo outboxRepository, pub publisher, resolver registryResolver, dlq dlqRepository, outboxCfg *config.OutboxConfig) *Service {
	t.Helper()
	cfg := &config.Config{Outbox: config.OutboxConfig{BatchSize: 2, PollIntervalMS: 100, MaxAttempts: 5}}
	if outboxCfg != nil {
		cfg.Outbox = *outboxCfg
	}
	service, err := NewService(ServiceParams{
		Config:           cfg,
		Logger:           logger.New(logger.Options{ServiceName: "outbox-publisher-test", Output: io.Discard}),
		DB:               fakeDB{},
		PubSub:           fakePubSubClient{},
		Repository:       repo,
		Registry:         resolver,
		DLQRepository:    dlq,
		PublisherFactory: func(string) publisher { return pub },
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service
}

func mustEnvelopePayload(tb testing.TB, eventID string) json.RawMessage {
	tb.Helper()
	payload, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    eventID,
		OccurredAt: time.Now(),
		Data:       json.RawMessage(`{"operation":"confirm"}`),
	})
	if err != nil {
		tb.Fatalf("marshal envelope: %v", err)
	}
	return payload
}

type fakeRepo struct {
	events    []models.OutboxEvent
	published []uuid.UUID
	failed    []uuid.UUID
	terminal  []uuid.UUID
}

func (f *fakeRepo) FetchUnpublishedForPublish(*gorm.DB, int, int) ([]models.OutboxEvent, error) {
	return f.events, nil
}

func (f *fakeRepo) MarkPublishedTx(_ *gorm.DB, id uuid.UUID) error {
	f.published = append(f.published, id)
	return nil
}

func (f *fakeRepo) MarkFailedTx(_ *gorm.DB, id uuid.UUID, _ error) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeRepo) MarkTerminalTx(_ *gorm.DB, id uuid.UUID, _ error, _ int) error {
	f.terminal = append(f.terminal, id)
	return nil
}

type fakeDB struct{}

func (fakeDB) Ping(context.Context) error { return nil }

func (fakeDB) WithTx(_ context.Context, fn func(*gorm.DB) error) error { return fn(nil) }

type fakePubSubClient struct{}

func (fakePubSubClient) Ping(context.Context) error { return nil }

func (fakePubSubClient) Topic(string) *pubsub.Topic { return nil }

type fakePublisher struct {
	errs     []error
	messages []*gcppubsub.Message
}

func (f *fakePublisher) Publish(_ context.Context, msg *gcppubsub.Message) (string, error) {
	f.messages = append(f.messages, msg)
	if len(f.errs) == 0 {
		return "server-id", nil
	}
	err := f.errs[0]
	f.errs = f.errs[1:]
	return "server-id", err
}

type fakeRegistry struct {
	resolved *registry.ResolvedEvent
	err      error
}

func (f *fakeRegistry) Resolve(event models.OutboxEvent) (*registry.ResolvedEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	resolved := *f.resolved
	resolved.Envelope.EventID = event.ID.String()
	resolved.Envelope.OccurredAt = event.CreatedAt
	return &resolved, nil
}

type fakeDLQRepo struct {
	entries []models.OutboxDLQ
}

func (f *fakeDLQRepo) InsertTx(_ *gorm.DB, entry models.OutboxDLQ) error {
	f.entries = append(f.entries, entry)
	return nil
}
