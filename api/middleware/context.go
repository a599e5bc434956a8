package middleware

import (
	"context"

	pkgAuth "github.com/angelmondragon/stockledger-backend/pkg/auth"
	"github.com/angelmondragon/stockledger-backend/pkg/db/models"
)

type contextKey string

const (
	ctxUserID   contextKey = "user_id"
	ctxClaims   contextKey = "claims"
	ctxTerminal contextKey = "terminal"
	ctxRequest  contextKey = "request_id"
)

// RequestIDFromContext returns the id assigned by RequestID.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxRequest).(string); ok {
		return v
	}
	return ""
}

func UserIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxUserID).(string); ok {
		return v
	}
	return ""
}

// ClaimsFromContext returns the verified access token claims, if any.
func ClaimsFromContext(ctx context.Context) *pkgAuth.AccessTokenClaims {
	if ctx == nil {
		return nil
	}
	if v, ok := ctx.Value(ctxClaims).(*pkgAuth.AccessTokenClaims); ok {
		return v
	}
	return nil
}

// TerminalFromContext returns the terminal authenticated by TerminalAuth.
func TerminalFromContext(ctx context.Context) *models.Terminal {
	if ctx == nil {
		return nil
	}
	if v, ok := ctx.Value(ctxTerminal).(*models.Terminal); ok {
		return v
	}
	return nil
}

// WithUserID injects the user identifier into the context.
func WithUserID(ctx context.Context, userID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxUserID, userID)
}

// WithClaims injects verified claims and the matching user id.
func WithClaims(ctx context.Context, claims *pkgAuth.AccessTokenClaims) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if claims == nil {
		return ctx
	}
	ctx = context.WithValue(ctx, ctxClaims, claims)
	return context.WithValue(ctx, ctxUserID, claims.UserID.String())
}

// WithTerminal injects an authenticated terminal for downstream handlers.
func WithTerminal(ctx context.Context, terminal *models.Terminal) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxTerminal, terminal)
}
