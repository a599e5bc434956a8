package audit

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/stockledger-backend/pkg/enums"
	"github.com/angelmondragon/stockledger-backend/pkg/logger"
	"github.com/angelmondragon/stockledger-backend/pkg/outbox"
	"github.com/angelmondragon/stockledger-backend/pkg/outbox/payloads"
)

// Actor is the caller identity threaded explicitly through service calls.
type Actor struct {
	UserID       *uuid.UUID
	TerminalCode string
	RequestID    string
}

// Entry is one audited change. Old and New are field snapshots and may be nil.
type Entry struct {
	Entity        enums.OutboxAggregateType
	EntityID      uuid.UUID
	Operation     enums.AuditOperation
	Old           any
	New           any
	Actor         Actor
	CorrelationID string
}

// Recorder receives audit entries after the originating change has committed.
// Implementations must never fail the caller.
type Recorder interface {
	Record(ctx context.Context, entry Entry)
}

type emitter interface {
	Emit(ctx context.Context, db *gorm.DB, event outbox.DomainEvent) error
}

// OutboxRecorder persists entries as outbox rows so they are published
// asynchronously.
type OutboxRecorder struct {
	db      *gorm.DB
	emitter emitter
	logg    *logger.Logger
	enabled bool
}

func NewOutboxRecorder(db *gorm.DB, emitter emitter, logg *logger.Logger, enabled bool) *OutboxRecorder {
	if logg == nil {
		logg = logger.Nop()
	}
	return &OutboxRecorder{db: db, emitter: emitter, logg: logg, enabled: enabled}
}

func (r *OutboxRecorder) Record(ctx context.Context, entry Entry) {
	if r == nil || !r.enabled || r.db == nil || r.emitter == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	logCtx := r.logg.WithFields(ctx, map[string]any{
		"audit_entity":    entry.Entity,
		"audit_entity_id": entry.EntityID.String(),
		"audit_operation": entry.Operation,
	})

	payload := payloads.AuditRecordedEvent{
		Entity:        entry.Entity,
		EntityID:      entry.EntityID,
		Operation:     entry.Operation,
		CorrelationID: entry.CorrelationID,
	}
	var err error
	if payload.Old, err = snapshot(entry.Old); err != nil {
		r.logg.Error(logCtx, "audit snapshot failed", err)
		return
	}
	if payload.New, err = snapshot(entry.New); err != nil {
		r.logg.Error(logCtx, "audit snapshot failed", err)
		return
	}

	err = r.emitter.Emit(ctx, r.db, outbox.DomainEvent{
		EventType:     enums.EventAuditRecorded,
		AggregateType: entry.Entity,
		AggregateID:   entry.EntityID,
		Actor:         actorRef(entry.Actor),
		Data:          payload,
	})
	if err != nil {
		r.logg.Error(logCtx, "audit record failed", err)
	}
}

func snapshot(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func actorRef(actor Actor) *outbox.ActorRef {
	if actor.UserID == nil && actor.TerminalCode == "" && actor.RequestID == "" {
		return nil
	}
	return &outbox.ActorRef{
		UserID:       actor.UserID,
		TerminalCode: actor.TerminalCode,
		RequestID:    actor.RequestID,
	}
}

// Nop discards entries.
type Nop struct{}

func (Nop) Record(context.Context, Entry) {}
