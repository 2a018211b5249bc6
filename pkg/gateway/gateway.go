// Package gateway is the single path from typed API clients to the network.
// Every call is keyed, checked against the response cache, bounded by a
// timeout, and written back to the cache on success.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"fmgram/pkg/cache"
)

const (
	defaultTimeout = 10 * time.Second
	maxErrorBody   = 256
)

// Upstream performs one raw API call.
type Upstream interface {
	Call(ctx context.Context, operation string, params map[string]string) (status int, payload []byte, err error)
}

// Gateway fronts an Upstream with the tiered response cache.
type Gateway struct {
	upstream Upstream
	cache    *cache.Cache
	policy   *cache.TTLPolicy
	timeout  time.Duration
	coalesce bool
	logger   *slog.Logger
	group    singleflight.Group
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithTimeout bounds every upstream call.
func WithTimeout(timeout time.Duration) Option {
	return func(g *Gateway) {
		if timeout > 0 {
			g.timeout = timeout
		}
	}
}

// WithCoalescing toggles sharing of one upstream call between concurrent
// identical requests. It is enabled by default.
func WithCoalescing(enabled bool) Option {
	return func(g *Gateway) {
		g.coalesce = enabled
	}
}

// WithLogger configures gateway logging.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// New creates a gateway.
func New(upstream Upstream, store *cache.Cache, policy *cache.TTLPolicy, options ...Option) (*Gateway, error) {
	if upstream == nil {
		return nil, fmt.Errorf("new gateway: nil upstream")
	}
	if store == nil {
		return nil, fmt.Errorf("new gateway: nil cache")
	}
	if policy == nil {
		policy = cache.DefaultTTLPolicy()
	}

	gateway := &Gateway{
		upstream: upstream,
		cache:    store,
		policy:   policy,
		timeout:  defaultTimeout,
		coalesce: true,
		logger:   slog.Default(),
	}
	for _, option := range options {
		option(gateway)
	}

	return gateway, nil
}

// Fetch returns the payload for operation. A fresh cache entry is served
// without touching the network. Upstream failures surface as *FetchError.
func (g *Gateway) Fetch(ctx context.Context, operation string, params map[string]string) ([]byte, error) {
	key := cache.DeriveKey(keyParams(operation, params))
	ttl := g.policy.TTL(operation)

	if ttl > 0 {
		if entry, found := g.cache.Get(ctx, key); found {
			g.logger.DebugContext(ctx, "gateway cache hit", "operation", operation, "key", key)
			return entry.Value, nil
		}
	}

	if !g.coalesce {
		return g.fetchAndStore(ctx, operation, params, key, ttl)
	}

	result := g.group.DoChan(key, func() (any, error) {
		return g.fetchAndStore(context.WithoutCancel(ctx), operation, params, key, ttl)
	})
	select {
	case <-ctx.Done():
		return nil, &FetchError{Operation: operation, Cause: ctx.Err()}
	case shared := <-result:
		if shared.Err != nil {
			return nil, shared.Err
		}
		payload := shared.Val.([]byte)
		if shared.Shared {
			payload = append([]byte(nil), payload...)
		}
		return payload, nil
	}
}

func (g *Gateway) fetchAndStore(
	ctx context.Context,
	operation string,
	params map[string]string,
	key string,
	ttl time.Duration,
) ([]byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	started := time.Now()
	status, payload, err := g.upstream.Call(callCtx, operation, params)
	g.logger.DebugContext(ctx, "gateway upstream call",
		"operation", operation,
		"status", status,
		"elapsed", time.Since(started),
	)
	if err != nil {
		return nil, &FetchError{Operation: operation, StatusCode: status, Cause: err}
	}
	if status != http.StatusOK {
		return nil, &FetchError{Operation: operation, StatusCode: status, Body: truncate(payload, maxErrorBody)}
	}

	if ttl > 0 {
		if err := g.cache.Put(ctx, key, payload, ttl); err != nil {
			g.logger.WarnContext(ctx, "gateway cache write failed", "operation", operation, "key", key, "error", err)
		}
	}

	return payload, nil
}

// keyParams makes sure the operation is part of the key even when the
// upstream protocol does not carry it as a parameter.
func keyParams(operation string, params map[string]string) map[string]string {
	if _, exists := params["method"]; exists {
		return params
	}

	withMethod := make(map[string]string, len(params)+1)
	for field, value := range params {
		withMethod[field] = value
	}
	withMethod["method"] = operation

	return withMethod
}

func truncate(payload []byte, limit int) string {
	if len(payload) <= limit {
		return string(payload)
	}

	return string(payload[:limit])
}
