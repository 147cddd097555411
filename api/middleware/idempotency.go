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

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/codevault-backend/api/responses"
	pkgerrors "github.com/angelmondragon/codevault-backend/pkg/errors"
	"github.com/angelmondragon/codevault-backend/pkg/idempotency"
	"github.com/angelmondragon/codevault-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/codevault-backend/pkg/redis"
)

const (
	IdempotencyHeader = "Idempotency-Key"

	defaultIdempotencyTTL  = 24 * time.Hour
	criticalIdempotencyTTL = 7 * 24 * time.Hour
	inFlightTTL            = 2 * time.Minute
	inFlightScope          = "http:inflight"
)

// idempotentRoutes lists the mutating routes that require an Idempotency-Key. Globs follow
// path.Match, so '*' spans one path segment.
var idempotentRoutes = []struct {
	method string
	glob   string
	ttl    time.Duration
}{
	{http.MethodPost, "/api/v1/orders", criticalIdempotencyTTL},
	{http.MethodPost, "/api/v1/orders/*/cancel", criticalIdempotencyTTL},
	{http.MethodPost, "/api/v1/payments/invoices", criticalIdempotencyTTL},
	{http.MethodPost, "/api/v1/admin/orders/*/*", defaultIdempotencyTTL},
	{http.MethodPost, "/api/v1/admin/products/*/credentials", defaultIdempotencyTTL},
}

// storedResponse is the JSON kept in Redis for a completed request.
type storedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body"`
	RequestHash string `json:"request_hash"`
}

// Idempotency replays the stored response when a listed route sees a repeated Idempotency-Key.
// A duplicate that arrives while the first request is still running gets a conflict, and 5xx
// responses are never stored.
func Idempotency(store pkgredis.IdempotencyStore, logg *logger.Logger) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	claims, err := idempotency.NewManager(store, inFlightTTL)
	if err != nil {
		panic(err)
	}
	rp := &replayer{store: store, claims: claims, logg: logg}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ttl, ok := routeTTL(r.Method, routePattern(r))
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			if err := rp.serve(w, r, next, ttl); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
			}
		})
	}
}

type replayer struct {
	store  pkgredis.IdempotencyStore
	claims *idempotency.Manager
	logg   *logger.Logger
}

func (rp *replayer) serve(w http.ResponseWriter, r *http.Request, next http.Handler, ttl time.Duration) error {
	ctx := r.Context()
	clientKey := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	if clientKey == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, IdempotencyHeader+" header required")
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request")
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	scope := requestScope(r)
	key := rp.store.IdempotencyKey(scope, clientKey)
	hash := fingerprint(body)

	prior, err := rp.lookup(ctx, key)
	if err != nil {
		return err
	}
	if prior != nil {
		if prior.RequestHash != hash {
			return pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body")
		}
		prior.writeTo(w)
		return nil
	}

	inFlightID := scope + "|" + clientKey
	first, err := rp.claims.Claim(ctx, inFlightScope, inFlightID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim idempotency key")
	}
	if !first {
		return pkgerrors.New(pkgerrors.CodeIdempotency, "a request with this idempotency key is already in progress")
	}
	defer func() {
		if err := rp.claims.Release(context.WithoutCancel(ctx), inFlightScope, inFlightID); err != nil {
			rp.logError(ctx, "release idempotency claim", err)
		}
	}()

	capture := &responseCapture{ResponseWriter: w}
	next.ServeHTTP(capture, r)

	status := capture.statusCode()
	if status >= http.StatusInternalServerError {
		return nil
	}
	rp.save(ctx, key, ttl, storedResponse{
		Status:      status,
		ContentType: capture.Header().Get("Content-Type"),
		Body:        capture.body.Bytes(),
		RequestHash: hash,
	})
	return nil
}

func (rp *replayer) lookup(ctx context.Context, key string) (*storedResponse, error) {
	raw, err := rp.store.Get(ctx, key)
	switch {
	case errors.Is(err, redis.Nil):
		return nil, nil
	case err != nil:
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency")
	case raw == "":
		return nil, nil
	}
	var stored storedResponse
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency record")
	}
	return &stored, nil
}

// save runs after the handler has answered, so failures are only logged.
func (rp *replayer) save(ctx context.Context, key string, ttl time.Duration, resp storedResponse) {
	payload, err := json.Marshal(resp)
	if err != nil {
		rp.logError(ctx, "marshal idempotency record", err)
		return
	}
	if _, err := rp.store.SetNX(context.WithoutCancel(ctx), key, string(payload), ttl); err != nil {
		rp.logError(ctx, "persist idempotency record", err)
	}
}

func (rp *replayer) logError(ctx context.Context, msg string, err error) {
	if rp.logg != nil {
		rp.logg.Error(ctx, msg, err)
	}
}

func (s *storedResponse) writeTo(w http.ResponseWriter) {
	if s.ContentType != "" {
		w.Header().Set("Content-Type", s.ContentType)
	}
	w.Header().Set("Idempotent-Replayed", "true")
	w.WriteHeader(s.Status)
	_, _ = w.Write(s.Body)
}

// requestScope keys records per caller and route so two users never share a key.
func requestScope(r *http.Request) string {
	return strings.Join([]string{UserIDFromContext(r.Context()), r.Method, r.URL.Path}, "|")
}

func fingerprint(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// routePattern prefers the resolved chi pattern. Middleware mounted on a sub-router runs before
// the final route is matched, so a wildcard pattern falls back to the request path.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if pattern := rc.RoutePattern(); pattern != "" && !strings.Contains(pattern, "*") {
			return pattern
		}
	}
	p := r.URL.Path
	if len(p) > 1 {
		p = strings.TrimSuffix(p, "/")
	}
	return p
}

func routeTTL(method, pattern string) (time.Duration, bool) {
	if pattern == "" {
		return 0, false
	}
	for _, route := range idempotentRoutes {
		if route.method != method {
			continue
		}
		if ok, _ := path.Match(route.glob, pattern); ok {
			return route.ttl, true
		}
	}
	return 0, false
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
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

func (c *responseCapture) statusCode() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}
