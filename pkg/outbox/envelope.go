package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EnvelopeVersion is stamped on every envelope Emit writes.
const EnvelopeVersion = 1

// ActorRef records who triggered the change. Operator calls carry UserID,
// terminal calls carry TerminalCode; RequestID ties the event to the log line.
type ActorRef struct {
	UserID       *uuid.UUID `json:"userId,omitempty"`
	TerminalCode string     `json:"terminalCode,omitempty"`
	RequestID    string     `json:"requestId,omitempty"`
}

// IsZero reports whether the actor carries nothing worth storing.
func (a *ActorRef) IsZero() bool {
	return a == nil || (a.UserID == nil && a.TerminalCode == "" && a.RequestID == "")
}

// PayloadEnvelope is the JSON stored in outbox_events.payload and published
// verbatim as the message body.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}
