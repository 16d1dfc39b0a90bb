package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/angelmondragon/keymarket-backend/api/responses"
	pkgerrors "github.com/angelmondragon/keymarket-backend/pkg/errors"
	"github.com/angelmondragon/keymarket-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/keymarket-backend/pkg/redis"
)

const (
	defaultIdempotencyTTL  = 24 * time.Hour
	criticalIdempotencyTTL = 7 * 24 * time.Hour
	inFlightTTL            = 30 * time.Second
	maxIdempotencyKeyLen   = 128
)

// IdempotencyHeader carries the client-chosen replay key; IdempotentReplayHeader
// marks a response served from the store.
const (
	IdempotencyHeader      = "Idempotency-Key"
	IdempotentReplayHeader = "Idempotent-Replayed"
)

type idempotencyRule struct {
	method   string
	prefix   string
	suffix   string
	ttl      time.Duration
	required bool
}

func (r idempotencyRule) matches(method, path string) bool {
	if r.method != method {
		return false
	}
	if r.suffix == "" {
		return path == r.prefix
	}
	return strings.HasPrefix(path, r.prefix) && strings.HasSuffix(path, r.suffix) && len(path) > len(r.prefix)+len(r.suffix)
}

var idempotencyRules = []idempotencyRule{
	{method: http.MethodPost, prefix: "/api/orders", ttl: defaultIdempotencyTTL},
	{method: http.MethodPost, prefix: "/api/orders/", suffix: "/refund", ttl: defaultIdempotencyTTL},
	{method: http.MethodPost, prefix: "/api/seller/products/", suffix: "/license-keys", ttl: defaultIdempotencyTTL},
	// admin money movements always need a key
	{method: http.MethodPut, prefix: "/api/admin/disputes/", suffix: "/resolve", ttl: criticalIdempotencyTTL, required: true},
	{method: http.MethodPost, prefix: "/api/admin/orders/", suffix: "/refund", ttl: criticalIdempotencyTTL, required: true},
}

func matchRule(method, path string) (idempotencyRule, bool) {
	path = strings.TrimSuffix(path, "/")
	if path == "" {
		return idempotencyRule{}, false
	}
	for _, rule := range idempotencyRules {
		if rule.matches(method, path) {
			return rule, true
		}
	}
	return idempotencyRule{}, false
}

type storedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Body        string `json:"body"`
	RequestHash string `json:"request_hash"`
}

type idempotencyGuard struct {
	store pkgredis.IdempotencyStore
	logg  *logger.Logger
}

// Idempotency replays the stored response for a repeated key, rejects a key
// reused with a different body and refuses a second request while the first
// is still running. Server faults are never stored.
func Idempotency(store pkgredis.IdempotencyStore, logg *logger.Logger) func(http.Handler) http.Handler {
	g := &idempotencyGuard{store: store, logg: logg}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rule, ok := matchRule(r.Method, r.URL.Path)
			if !ok || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			if err := g.serve(w, r, next, rule); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
			}
		})
	}
}

func (g *idempotencyGuard) serve(w http.ResponseWriter, r *http.Request, next http.Handler, rule idempotencyRule) error {
	clientKey := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	switch {
	case clientKey == "" && rule.required:
		return pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required")
	case clientKey == "":
		next.ServeHTTP(w, r)
		return nil
	case len(clientKey) > maxIdempotencyKeyLen:
		return pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header too long")
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request")
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	ctx := r.Context()
	digest := sha256.Sum256(body)
	requestHash := hex.EncodeToString(digest[:])
	key := g.store.IdempotencyKey(scopeFor(r), clientKey)

	stored, err := g.lookup(ctx, key)
	if err != nil {
		return err
	}
	if stored != nil {
		if stored.RequestHash != requestHash {
			return pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body")
		}
		replay(w, stored)
		return nil
	}

	lockKey := key + ":inflight"
	acquired, err := g.store.SetNX(ctx, lockKey, requestHash, inFlightTTL)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve idempotency key")
	}
	if !acquired {
		return pkgerrors.New(pkgerrors.CodeIdempotency, "a request with this idempotency key is in progress")
	}
	defer func() {
		if err := g.store.Del(context.WithoutCancel(ctx), lockKey); err != nil {
			g.logError(ctx, "release idempotency key", err)
		}
	}()

	capture := &responseCapture{ResponseWriter: w}
	next.ServeHTTP(capture, r)

	status := capture.status
	if status == 0 {
		status = http.StatusOK
	}
	if status >= http.StatusInternalServerError {
		return nil
	}
	payload, err := json.Marshal(storedResponse{
		Status:      status,
		ContentType: capture.Header().Get("Content-Type"),
		Body:        base64.StdEncoding.EncodeToString(capture.body.Bytes()),
		RequestHash: requestHash,
	})
	if err != nil {
		g.logError(ctx, "encode idempotency record", err)
		return nil
	}
	if err := g.store.Set(context.WithoutCancel(ctx), key, string(payload), rule.ttl); err != nil {
		g.logError(ctx, "persist idempotency record", err)
	}
	return nil
}

func (g *idempotencyGuard) lookup(ctx context.Context, key string) (*storedResponse, error) {
	raw, err := g.store.Get(ctx, key)
	if pkgredis.IsNil(err) || (err == nil && raw == "") {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency")
	}
	var stored storedResponse
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency record")
	}
	return &stored, nil
}

func (g *idempotencyGuard) logError(ctx context.Context, msg string, err error) {
	if g.logg != nil {
		g.logg.Error(ctx, msg, err)
	}
}

// scopeFor keeps keys from colliding across callers and endpoints.
func scopeFor(r *http.Request) string {
	principal := UserIDFromContext(r.Context())
	if principal == "" {
		principal = "anonymous"
	}
	return strings.Join([]string{principal, r.Method, strings.TrimSuffix(r.URL.Path, "/")}, "|")
}

func replay(w http.ResponseWriter, stored *storedResponse) {
	if stored.ContentType != "" {
		w.Header().Set("Content-Type", stored.ContentType)
	}
	w.Header().Set(IdempotentReplayHeader, "true")
	w.WriteHeader(stored.Status)
	if body, err := base64.StdEncoding.DecodeString(stored.Body); err == nil {
		_, _ = w.Write(body)
	}
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (c *responseCapture) WriteHeader(code int) {
	if c.status == 0 {
		c.status = code
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *responseCapture) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}
