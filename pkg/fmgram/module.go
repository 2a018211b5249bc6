package fmgram

import "context"

// EventHandler processes a single neutral event.
type EventHandler func(ctx context.Context, event *Event) error

// EventDispatcher accepts neutral events for dispatching into the kernel.
type EventDispatcher interface {
	Publish(ctx context.Context, event *Event) error
}

// ModuleRuntime provides kernel facilities to modules during registration.
type ModuleRuntime interface {
	// Services exposes the service registry for dependency lookup.
	Services() ServiceRegistry
	// Subscribe registers an asynchronous event handler owned by the module.
	Subscribe(ctx context.Context, interest InterestSet, spec SubscriptionSpec, handler EventHandler) (Subscription, error)
}

// ModuleHandler binds one capability to the handler that serves it.
type ModuleHandler struct {
	Capability   Capability
	Subscription SubscriptionSpec
	Handler      EventHandler
}

// ModuleSpec declares everything the kernel wires for a module.
type ModuleSpec struct {
	Handlers []ModuleHandler
	// AdditionalCapabilities declares interests a module subscribes to manually in OnRegister.
	AdditionalCapabilities []Capability
	Commands               []CommandSpec
}

// Capabilities returns every capability declared by the spec.
func (s ModuleSpec) Capabilities() []Capability {
	capabilities := make([]Capability, 0, len(s.Handlers)+len(s.AdditionalCapabilities))
	for _, handler := range s.Handlers {
		capabilities = append(capabilities, handler.Capability)
	}

	return append(capabilities, s.AdditionalCapabilities...)
}

// Module is a lifecycle-aware plugin contract.
//
// Handlers may run on several workers, so modules must be concurrency-safe.
type Module interface {
	Name() string
	Spec() ModuleSpec
	OnStart(ctx context.Context) error
	OnShutdown(ctx context.Context) error
}

// ModuleRegistrar is implemented by modules that resolve services or register
// their own services during kernel registration.
type ModuleRegistrar interface {
	OnRegister(ctx context.Context, runtime ModuleRuntime) error
}

// Driver adapts an external platform into neutral events.
type Driver interface {
	Name() string
	// Start consumes platform updates and returns only after context
	// cancellation or a fatal error.
	Start(ctx context.Context, dispatcher EventDispatcher) error
	Shutdown(ctx context.Context) error
}
