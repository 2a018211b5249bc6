package kernel

import (
	"context"
	"log/slog"
	"time"

	"fmgram/pkg/fmgram"
)

const (
	defaultModuleHookTimeout  = 5 * time.Second
	defaultShutdownTimeout    = 10 * time.Second
	defaultSubscriptionBuffer = 256
	defaultSubscriptionWorker = 1
	defaultHandlerTimeout     = 3 * time.Second
)

type config struct {
	moduleHookTimeout  time.Duration
	shutdownTimeout    time.Duration
	subscriptionBuffer int
	subscriptionWorker int
	handlerTimeout     time.Duration
	logger             *slog.Logger
	onAsyncError       func(context.Context, string, error)
	routing            routingConfig
}

// ModuleRoute narrows one module's inbound sources and picks its default
// outbound sink.
type ModuleRoute struct {
	// Sources restricts inbound delivery to matching event sources.
	Sources []fmgram.EventSource
	// Sink is used when an outbound request leaves its target sink empty.
	Sink *fmgram.EventSink
}

type routingConfig struct {
	defaultRoute *ModuleRoute
	moduleRoutes map[string]ModuleRoute
}

// Option mutates kernel construction configuration.
type Option func(*config)

func defaultConfig() config {
	logger := slog.Default()

	return config{
		moduleHookTimeout:  defaultModuleHookTimeout,
		shutdownTimeout:    defaultShutdownTimeout,
		subscriptionBuffer: defaultSubscriptionBuffer,
		subscriptionWorker: defaultSubscriptionWorker,
		handlerTimeout:     defaultHandlerTimeout,
		logger:             logger,
		onAsyncError:       logAsyncError(logger),
		routing: routingConfig{
			moduleRoutes: make(map[string]ModuleRoute),
		},
	}
}

func logAsyncError(logger *slog.Logger) func(context.Context, string, error) {
	return func(ctx context.Context, scope string, err error) {
		logger.ErrorContext(ctx, "fmgram async error", "scope", scope, "error", err)
	}
}

// positive returns an option that stores value through set when value > 0.
func positive[T int | time.Duration](value T, set func(*config, T)) Option {
	return func(cfg *config) {
		if value > 0 {
			set(cfg, value)
		}
	}
}

// WithModuleHookTimeout bounds OnRegister, OnStart and OnShutdown.
func WithModuleHookTimeout(timeout time.Duration) Option {
	return positive(timeout, func(cfg *config, v time.Duration) { cfg.moduleHookTimeout = v })
}

// WithShutdownTimeout bounds the whole shutdown sequence.
func WithShutdownTimeout(timeout time.Duration) Option {
	return positive(timeout, func(cfg *config, v time.Duration) { cfg.shutdownTimeout = v })
}

// WithDefaultSubscriptionBuffer configures default subscriber queue depth.
func WithDefaultSubscriptionBuffer(size int) Option {
	return positive(size, func(cfg *config, v int) { cfg.subscriptionBuffer = v })
}

// WithDefaultSubscriptionWorkers configures default subscriber worker count.
func WithDefaultSubscriptionWorkers(workers int) Option {
	return positive(workers, func(cfg *config, v int) { cfg.subscriptionWorker = v })
}

// WithDefaultHandlerTimeout configures default per-event handler timeout.
func WithDefaultHandlerTimeout(timeout time.Duration) Option {
	return positive(timeout, func(cfg *config, v time.Duration) { cfg.handlerTimeout = v })
}

// WithLogger sets the kernel logger and routes async errors to it.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) {
		if logger == nil {
			return
		}
		cfg.logger = logger
		cfg.onAsyncError = logAsyncError(logger)
	}
}

// WithAsyncErrorHandler replaces the async error sink.
func WithAsyncErrorHandler(handler func(context.Context, string, error)) Option {
	return func(cfg *config) {
		if handler != nil {
			cfg.onAsyncError = handler
		}
	}
}

// WithModuleRouting configures the fallback route and per-module overrides.
func WithModuleRouting(defaultRoute *ModuleRoute, routes map[string]ModuleRoute) Option {
	return func(cfg *config) {
		cfg.routing.defaultRoute = cloneRoute(defaultRoute)
		cfg.routing.moduleRoutes = make(map[string]ModuleRoute, len(routes))
		for moduleName, route := range routes {
			cfg.routing.moduleRoutes[moduleName] = *cloneRoute(&route)
		}
	}
}

func cloneRoute(route *ModuleRoute) *ModuleRoute {
	if route == nil {
		return nil
	}
	cloned := ModuleRoute{Sink: cloneSinkRef(route.Sink)}
	if len(route.Sources) > 0 {
		cloned.Sources = append([]fmgram.EventSource(nil), route.Sources...)
	}

	return &cloned
}
