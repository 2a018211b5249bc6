package fmgram

import "fmt"

// Service registry keys shared between cmd wiring and modules.
const (
	ServiceSinkDispatcher   = "fmgram.sink_dispatcher"
	ServiceEventSinkCatalog = "fmgram.event_sink_catalog"
	ServiceCommandCatalog   = "fmgram.command_catalog"
	ServiceAccountLinks     = "fmgram.account_links"
	ServiceLastFM           = "fmgram.lastfm"
	ServiceDiscogs          = "fmgram.discogs"
	ServicePaginator        = "fmgram.paginator"
	ServiceCacheSweeper     = "fmgram.cache_sweeper"
	// ServiceLogger resolves the process *slog.Logger.
	ServiceLogger = "fmgram.logger"
)

// ServiceRegistry provides runtime dependency injection to modules and drivers.
type ServiceRegistry interface {
	Register(name string, service any) error
	Resolve(name string) (any, error)
}

// ResolveAs resolves a service and casts it to the requested type.
func ResolveAs[T any](registry ServiceRegistry, name string) (T, error) {
	var zero T

	service, err := registry.Resolve(name)
	if err != nil {
		return zero, fmt.Errorf("resolve service %s: %w", name, err)
	}

	typed, ok := service.(T)
	if !ok {
		return zero, fmt.Errorf("resolve service %s: type assertion failed", name)
	}

	return typed, nil
}
