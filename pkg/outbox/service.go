package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/stockledger-backend/pkg/db/models"
	"github.com/angelmondragon/stockledger-backend/pkg/enums"
	"github.com/angelmondragon/stockledger-backend/pkg/logger"
)

var (
	ErrTxRequired      = errors.New("transaction required")
	ErrUnknownEvent    = errors.New("unknown outbox event type")
	ErrUnknownAggr     = errors.New("unknown outbox aggregate type")
	ErrMissingAggregID = errors.New("outbox event needs an aggregate id")
)

// DomainEvent is what a write path hands to Emit. Data is marshalled into
// the envelope as is.
type DomainEvent struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   uuid.UUID
	Actor         *ActorRef
	Data          any
	Version       int
	OccurredAt    time.Time
}

func (e DomainEvent) validate() error {
	switch {
	case !e.EventType.IsValid():
		return fmt.Errorf("%w: %q", ErrUnknownEvent, e.EventType)
	case !e.AggregateType.IsValid():
		return fmt.Errorf("%w: %q", ErrUnknownAggr, e.AggregateType)
	case e.AggregateID == uuid.Nil:
		return ErrMissingAggregID
	}
	return nil
}

// Service appends events to outbox_events inside the caller's transaction,
// so an event exists exactly when the change it describes was committed.
type Service struct {
	repo *Repository
	logg *logger.Logger
	now  func() time.Time
}

func NewService(repo *Repository, logg *logger.Logger) *Service {
	if logg == nil {
		logg = logger.Nop()
	}
	return &Service{repo: repo, logg: logg, now: func() time.Time { return time.Now().UTC() }}
}

// Emit inserts event using tx. The row id doubles as the envelope event id,
// which lets subscribers dedupe on the Pub/Sub event_id attribute and lets
// operators find the row behind any published message.
func (s *Service) Emit(ctx context.Context, tx *gorm.DB, event DomainEvent) error {
	if tx == nil {
		return ErrTxRequired
	}
	if err := event.validate(); err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	row, err := s.buildRow(event)
	if err != nil {
		return err
	}
	if err := s.repo.Insert(tx.WithContext(ctx), row); err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}

	s.logg.Debug(s.logg.WithFields(ctx, map[string]any{
		"outbox_event_id": row.ID.String(),
		"event_type":      event.EventType,
		"aggregate_type":  event.AggregateType,
		"aggregate_id":    event.AggregateID.String(),
	}), "outbox event queued")
	return nil
}

func (s *Service) buildRow(event DomainEvent) (models.OutboxEvent, error) {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return models.OutboxEvent{}, fmt.Errorf("marshal %s data: %w", event.EventType, err)
	}
	if event.Version == 0 {
		event.Version = EnvelopeVersion
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now()
	}
	if event.Actor.IsZero() {
		event.Actor = nil
	}

	id := uuid.New()
	envelope, err := json.Marshal(PayloadEnvelope{
		Version:    event.Version,
		EventID:    id.String(),
		OccurredAt: event.OccurredAt.UTC(),
		Actor:      event.Actor,
		Data:       data,
	})
	if err != nil {
		return models.OutboxEvent{}, fmt.Errorf("marshal envelope: %w", err)
	}
	return models.OutboxEvent{
		ID:            id,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       envelope,
	}, nil
}
