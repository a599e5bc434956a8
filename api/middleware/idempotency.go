package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/stockledger-backend/api/responses"
	pkgerrors "github.com/angelmondragon/stockledger-backend/pkg/errors"
	"github.com/angelmondragon/stockledger-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/stockledger-backend/pkg/redis"
)

// IdempotencyHeader carries the client supplied replay key.
const IdempotencyHeader = "Idempotency-Key"

// inFlightTTL bounds how long a crashed request can block its key.
const inFlightTTL = 30 * time.Second

// IdempotencyPolicy configures replay protection for one route.
type IdempotencyPolicy struct {
	TTL      time.Duration
	Required bool
}

var (
	// IdempotencyOptional suits catalog and stock writes.
	IdempotencyOptional = IdempotencyPolicy{TTL: 24 * time.Hour}
	// IdempotencyRequired is used where a blind retry would double count,
	// such as manual reserve and release.
	IdempotencyRequired = IdempotencyPolicy{TTL: 24 * time.Hour, Required: true}
	// IdempotencySales keeps sale writes replayable for a week.
	IdempotencySales = IdempotencyPolicy{TTL: 7 * 24 * time.Hour}
)

const (
	recordInFlight = "in_flight"
	recordDone     = "done"
)

type idempotencyRecord struct {
	State       string `json:"state"`
	RequestHash string `json:"request_hash"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

// Idempotent replays the stored response for a repeated Idempotency-Key on
// the same user, method and path. A concurrent duplicate is refused while the
// first request runs; 5xx outcomes release the key so the client can retry.
func Idempotent(store pkgredis.IdempotencyStore, policy IdempotencyPolicy, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			clientKey := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
			if clientKey == "" {
				if policy.Required {
					responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required"))
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			hash := requestHash(body)
			key := store.IdempotencyKey(idempotencyScope(r), clientKey)

			claimed, err := claimKey(ctx, store, key, hash)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim idempotency key"))
				return
			}
			if !claimed {
				replayOrReject(ctx, store, key, hash, w, logg)
				return
			}

			capture := &responseCapture{ResponseWriter: w}
			next.ServeHTTP(capture, r)
			storeOutcome(context.WithoutCancel(ctx), store, key, hash, capture, policy.TTL, logg)
		})
	}
}

func claimKey(ctx context.Context, store pkgredis.IdempotencyStore, key, hash string) (bool, error) {
	marker, err := json.Marshal(idempotencyRecord{State: recordInFlight, RequestHash: hash})
	if err != nil {
		return false, err
	}
	return store.SetNX(ctx, key, string(marker), inFlightTTL)
}

func replayOrReject(ctx context.Context, store pkgredis.IdempotencyStore, key, hash string, w http.ResponseWriter, logg *logger.Logger) {
	stored, err := store.Get(ctx, key)
	if errors.Is(err, redis.Nil) {
		// the holder released the key between our claim and read
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "request with this Idempotency-Key is being retried, try again"))
		return
	}
	if err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read idempotency record"))
		return
	}

	var record idempotencyRecord
	if err := json.Unmarshal([]byte(stored), &record); err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency record"))
		return
	}
	switch {
	case record.RequestHash != hash:
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
	case record.State != recordDone:
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "request with this Idempotency-Key is still in progress"))
	default:
		if record.ContentType != "" {
			w.Header().Set("Content-Type", record.ContentType)
		}
		w.Header().Set("Idempotent-Replayed", "true")
		w.WriteHeader(record.Status)
		_, _ = w.Write(record.Body)
	}
}

func storeOutcome(ctx context.Context, store pkgredis.IdempotencyStore, key, hash string, capture *responseCapture, ttl time.Duration, logg *logger.Logger) {
	status := capture.statusOrOK()
	if status >= http.StatusInternalServerError {
		if err := store.Del(ctx, key); err != nil && logg != nil {
			logg.Error(ctx, "release idempotency key", err)
		}
		return
	}

	payload, err := json.Marshal(idempotencyRecord{
		State:       recordDone,
		RequestHash: hash,
		Status:      status,
		ContentType: capture.Header().Get("Content-Type"),
		Body:        capture.body.Bytes(),
	})
	if err == nil {
		err = store.Set(ctx, key, string(payload), ttl)
	}
	if err != nil && logg != nil {
		logg.Error(ctx, "persist idempotency record", err)
	}
}

func idempotencyScope(r *http.Request) string {
	return strings.Join([]string{UserIDFromContext(r.Context()), r.Method, r.URL.Path}, "|")
}

func requestHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (r *responseCapture) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseCapture) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *responseCapture) statusOrOK() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}
