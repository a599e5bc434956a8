package middleware

import (
	"context"
	"net/http"
	"regexp"

	"github.com/google/uuid"

	"github.com/angelmondragon/stockledger-backend/pkg/logger"
)

const HeaderRequestID = "X-Request-Id"

// requestIDPattern bounds caller supplied ids. The id is reused as the audit
// correlation id, so arbitrary header content is not accepted.
var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,64}$`)

// RequestID assigns every request an id, honouring a well formed inbound
// X-Request-Id, and echoes it on the response.
func RequestID(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get(HeaderRequestID)
			if !requestIDPattern.MatchString(reqID) {
				reqID = uuid.NewString()
			}
			w.Header().Set(HeaderRequestID, reqID)

			ctx := context.WithValue(r.Context(), ctxRequest, reqID)
			if logg != nil {
				ctx = logg.WithRequestID(ctx, reqID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
