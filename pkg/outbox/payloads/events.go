package payloads

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/angelmondragon/stockledger-backend/pkg/enums"
)

// AuditRecordedEvent is the published form of one audit entry. Old and New hold
// the field snapshots before and after the change.
type AuditRecordedEvent struct {
	Entity        enums.OutboxAggregateType `json:"entity"`
	EntityID      uuid.UUID                 `json:"entity_id"`
	Operation     enums.AuditOperation      `json:"operation"`
	Old           json.RawMessage           `json:"old,omitempty"`
	New           json.RawMessage           `json:"new,omitempty"`
	CorrelationID string                    `json:"correlation_id,omitempty"`
}
