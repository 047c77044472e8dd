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
	"path"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/tradeline-backend/api/responses"
	pkgerrors "github.com/angelmondragon/tradeline-backend/pkg/errors"
	"github.com/angelmondragon/tradeline-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/tradeline-backend/pkg/redis"
)

const (
	defaultIdempotencyTTL  = 24 * time.Hour
	criticalIdempotencyTTL = 7 * 24 * time.Hour

	// a claim outlives any handler; gateway calls are bounded well below it
	inFlightTTL = 2 * time.Minute

	idempotencyHeader = "Idempotency-Key"
	replayHeader      = "Idempotent-Replayed"
)

// idempotentRoute patterns use path.Match syntax, so * stands for one id
// segment.
type idempotentRoute struct {
	method  string
	pattern string
	ttl     time.Duration
}

var idempotentRoutes = []idempotentRoute{
	{http.MethodPost, "/api/v1/notifications/*/read", defaultIdempotencyTTL},
	{http.MethodPost, "/api/v1/notifications/read-all", defaultIdempotencyTTL},
	{http.MethodPost, "/api/v1/admin/payments/*/verify", defaultIdempotencyTTL},

	// money movement keeps its replay window for a week
	{http.MethodPost, "/api/v1/payments", criticalIdempotencyTTL},
	{http.MethodPost, "/api/v1/payments/*/cancel", criticalIdempotencyTTL},
	{http.MethodPost, "/api/v1/transactions/*/confirm-delivery", criticalIdempotencyTTL},
	{http.MethodPost, "/api/v1/transactions/*/refund", criticalIdempotencyTTL},
	{http.MethodPost, "/api/v1/admin/transactions/*/*", criticalIdempotencyTTL},
	{http.MethodPost, "/api/v1/admin/refunds/*/*", criticalIdempotencyTTL},
	{http.MethodPost, "/api/v1/admin/unmatched/*/*", criticalIdempotencyTTL},
}

// routeTTL reports the replay window for an idempotent route.
func routeTTL(method, urlPath string) (time.Duration, bool) {
	urlPath = strings.TrimRight(urlPath, "/")
	if urlPath == "" {
		return 0, false
	}
	for _, route := range idempotentRoutes {
		if route.method != method {
			continue
		}
		if ok, _ := path.Match(route.pattern, urlPath); ok {
			return route.ttl, true
		}
	}
	return 0, false
}

type replayState string

const (
	stateInFlight replayState = "in_flight"
	stateDone     replayState = "done"
)

// replayRecord is what sits under an idempotency key: first a bare claim,
// then the captured response once the handler finished below 500.
type replayRecord struct {
	State       replayState `json:"state"`
	Fingerprint string      `json:"fingerprint"`
	Status      int         `json:"status,omitempty"`
	ContentType string      `json:"content_type,omitempty"`
	Body        []byte      `json:"body,omitempty"`
}

func (rec replayRecord) encode() string {
	raw, _ := json.Marshal(rec)
	return string(raw)
}

func (rec replayRecord) writeTo(w http.ResponseWriter) {
	if rec.ContentType != "" {
		w.Header().Set("Content-Type", rec.ContentType)
	}
	w.Header().Set(replayHeader, "true")
	w.WriteHeader(rec.Status)
	_, _ = w.Write(rec.Body)
}

var (
	errKeyInFlight = pkgerrors.New(pkgerrors.CodeIdempotency, "request with this key is still in progress")
	errKeyReused   = pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body")
)

// Idempotency makes the money-moving POST routes safe to retry. The key is
// claimed before the handler runs so a concurrent duplicate gets 409 instead
// of a second execution. Responses below 500 are stored and replayed; server
// errors release the claim so the client's retry runs again.
func Idempotency(store pkgredis.ReplayStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ttl, ok := routeTTL(r.Method, r.URL.Path)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			clientKey := strings.TrimSpace(r.Header.Get(idempotencyHeader))
			if clientKey == "" {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, idempotencyHeader+" header required"))
				return
			}
			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			fingerprint := fingerprintOf(body)
			key := store.IdempotencyKey(strings.Join([]string{UserIDFromContext(ctx), r.Method, r.URL.Path}, "|"), clientKey)

			claimed, err := store.SetNX(ctx, key, replayRecord{State: stateInFlight, Fingerprint: fingerprint}.encode(), inFlightTTL)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim idempotency key"))
				return
			}
			if !claimed {
				replay(ctx, w, store, key, fingerprint, logg)
				return
			}

			capture := &responseCapture{ResponseWriter: w}
			stored := false
			defer func() {
				// a panic or server error must not pin the key until the claim expires
				if stored {
					return
				}
				if err := store.Del(context.WithoutCancel(ctx), key); err != nil {
					logg.Error(ctx, "release idempotency claim", err)
				}
			}()
			next.ServeHTTP(capture, r)

			if capture.code() >= http.StatusInternalServerError {
				return
			}
			done := replayRecord{
				State:       stateDone,
				Fingerprint: fingerprint,
				Status:      capture.code(),
				ContentType: capture.Header().Get("Content-Type"),
				Body:        capture.body.Bytes(),
			}
			if err := store.Set(context.WithoutCancel(ctx), key, done.encode(), ttl); err != nil {
				logg.Error(ctx, "persist idempotency record", err)
				return
			}
			stored = true
		})
	}
}

func replay(ctx context.Context, w http.ResponseWriter, store pkgredis.ReplayStore, key, fingerprint string, logg *logger.Logger) {
	raw, err := store.Get(ctx, key)
	switch {
	case errors.Is(err, redis.Nil):
		// released between SetNX and Get; the client retries
		responses.WriteError(ctx, logg, w, errKeyInFlight)
		return
	case err != nil:
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
		return
	}
	var rec replayRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency record"))
		return
	}
	switch {
	case rec.Fingerprint != fingerprint:
		responses.WriteError(ctx, logg, w, errKeyReused)
	case rec.State != stateDone:
		responses.WriteError(ctx, logg, w, errKeyInFlight)
	default:
		rec.writeTo(w)
	}
}

func fingerprintOf(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (c *responseCapture) code() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}

func (c *responseCapture) WriteHeader(code int) {
	c.status = code
	c.ResponseWriter.WriteHeader(code)
}

func (c *responseCapture) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}
