package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/angelmondragon/stockledger-backend/api/responses"
	pkgAuth "github.com/angelmondragon/stockledger-backend/pkg/auth"
	"github.com/angelmondragon/stockledger-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/stockledger-backend/pkg/errors"
	"github.com/angelmondragon/stockledger-backend/pkg/logger"
)

// RevocationChecker reports whether an access token id has been revoked.
type RevocationChecker interface {
	IsTokenRevoked(ctx context.Context, tokenID string) (bool, error)
}

// Auth validates a bearer token and seeds the request context with the claims.
func Auth(cfg config.JWTConfig, revocations RevocationChecker, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get("Authorization"))
			if raw == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			token := raw
			if strings.HasPrefix(strings.ToLower(token), "bearer ") {
				token = strings.TrimSpace(token[7:])
			}
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgAuth.ParseAccessToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			if claims.ID == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing token id"))
				return
			}

			if revocations != nil {
				revoked, err := revocations.IsTokenRevoked(r.Context(), claims.ID)
				if err != nil {
					responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check token revocation"))
					return
				}
				if revoked {
					responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "token revoked"))
					return
				}
			}

			ctx := WithClaims(r.Context(), claims)
			if logg != nil {
				ctx = logg.WithUserID(ctx, claims.UserID.String())
				if claims.IsSuperuser {
					ctx = logg.WithField(ctx, "superuser", true)
				}
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequirePermission ensures the authenticated operator holds resource.action.
func RequirePermission(resource, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				responses.WriteError(r.Context(), nil, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}
			if !claims.Can(resource, action) {
				responses.WriteError(r.Context(), nil, w, pkgerrors.New(pkgerrors.CodeForbidden, "missing permission").
					WithDetails(map[string]any{"permission": pkgAuth.Permission(resource, action)}))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
