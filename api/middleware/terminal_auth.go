package middleware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/stockledger-backend/api/responses"
	"github.com/angelmondragon/stockledger-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/stockledger-backend/pkg/errors"
	"github.com/angelmondragon/stockledger-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/stockledger-backend/pkg/redis"
	"github.com/angelmondragon/stockledger-backend/pkg/security"
)

const (
	HeaderTerminalID = "X-Terminal-ID"
	HeaderTimestamp  = "X-Timestamp"
	HeaderSignature  = "X-Signature"
)

// TerminalDirectory resolves terminals and records their liveness.
type TerminalDirectory interface {
	GetByCode(ctx context.Context, code string) (*models.Terminal, error)
	TouchHeartbeat(ctx context.Context, id uuid.UUID) error
}

// TerminalAuthParams configures the signed terminal gate.
type TerminalAuthParams struct {
	Terminals TerminalDirectory
	// Replay is optional; a nil guard disables replay detection.
	Replay pkgredis.ReplayGuard
	Window time.Duration
	Logger *logger.Logger
	Now    func() time.Time
}

// TerminalAuth verifies the HMAC signature of a terminal request and places
// the terminal in the request context.
func TerminalAuth(params TerminalAuthParams) func(http.Handler) http.Handler {
	now := params.Now
	if now == nil {
		now = time.Now
	}
	window := params.Window
	if window <= 0 {
		window = 5 * time.Minute
	}
	logg := params.Logger

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			code := strings.TrimSpace(r.Header.Get(HeaderTerminalID))
			timestamp := strings.TrimSpace(r.Header.Get(HeaderTimestamp))
			signature := strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderSignature)))
			if code == "" || timestamp == "" || signature == "" {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing terminal credentials"))
				return
			}
			if logg != nil {
				ctx = logg.WithTerminalCode(ctx, code)
			}

			if _, err := security.CheckTimestamp(timestamp, now(), window); err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid timestamp"))
				return
			}

			if params.Terminals == nil {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeDependency, "terminal directory unavailable"))
				return
			}
			terminal, err := params.Terminals.GetByCode(ctx, code)
			if err != nil {
				if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
					responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "unknown terminal"))
					return
				}
				responses.WriteError(ctx, logg, w, err)
				return
			}
			if !terminal.IsActive {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "terminal inactive"))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			if err := security.VerifyRequest(terminal.SecretKey, r.Method, r.URL.Path, timestamp, body, signature); err != nil {
				if errors.Is(err, security.ErrSignatureMismatch) && logg != nil {
					logg.Warn(ctx, "terminal.signature_mismatch")
				}
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid signature"))
				return
			}

			if params.Replay != nil {
				first, err := params.Replay.FirstSeen(ctx, terminal.Code, signature, window)
				if err != nil {
					responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check replay"))
					return
				}
				if !first {
					responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "signature already used"))
					return
				}
			}

			if err := params.Terminals.TouchHeartbeat(ctx, terminal.ID); err != nil && logg != nil {
				logg.Error(ctx, "terminal.heartbeat_failed", err)
			}

			ctx = WithTerminal(ctx, terminal)
			if logg != nil {
				ctx = logg.WithLocationID(ctx, terminal.LocationID.String())
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
