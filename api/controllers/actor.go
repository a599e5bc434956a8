package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/stockledger-backend/api/middleware"
	"github.com/angelmondragon/stockledger-backend/internal/audit"
)

// actorFromRequest builds the audit actor from whatever the auth layers put
// on the request context.
func actorFromRequest(r *http.Request) audit.Actor {
	ctx := r.Context()
	actor := audit.Actor{RequestID: middleware.RequestIDFromContext(ctx)}
	if raw := middleware.UserIDFromContext(ctx); raw != "" {
		if id, err := uuid.Parse(raw); err == nil {
			actor.UserID = &id
		}
	}
	if terminal := middleware.TerminalFromContext(ctx); terminal != nil {
		actor.TerminalCode = terminal.Code
	}
	return actor
}
