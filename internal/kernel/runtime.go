package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"fmgram/pkg/fmgram"
)

// moduleRecord tracks one registered module and the subscriptions it owns.
type moduleRecord struct {
	name          string
	module        fmgram.Module
	capabilities  []fmgram.Capability
	subMu         sync.Mutex
	subscriptions []fmgram.Subscription
}

func (m *moduleRecord) addSubscription(subscription fmgram.Subscription) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	m.subscriptions = append(m.subscriptions, subscription)
}

// closeSubscriptions closes every tracked subscription. Repeated calls are no-ops.
func (m *moduleRecord) closeSubscriptions(ctx context.Context) error {
	m.subMu.Lock()
	subscriptions := m.subscriptions
	m.subscriptions = nil
	m.subMu.Unlock()

	var closeErr error
	for _, subscription := range subscriptions {
		if err := subscription.Close(ctx); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close subscription %s: %w", subscription.Name(), err))
		}
	}

	return closeErr
}

// moduleRuntime is the ModuleRuntime handed to one module.
type moduleRuntime struct {
	moduleName    string
	serviceLookup fmgram.ServiceRegistry
	bus           fmgram.EventBus
	record        *moduleRecord
	defaultSink   *fmgram.EventSink
}

// Services returns a registry view that applies the module's default sink
// to the sink dispatcher.
func (r *moduleRuntime) Services() fmgram.ServiceRegistry {
	return moduleServiceRegistry{
		base:        r.serviceLookup,
		defaultSink: cloneSinkRef(r.defaultSink),
	}
}

// Subscribe registers a module-owned subscription after capability checks.
func (r *moduleRuntime) Subscribe(
	ctx context.Context,
	interest fmgram.InterestSet,
	spec fmgram.SubscriptionSpec,
	handler fmgram.EventHandler,
) (fmgram.Subscription, error) {
	if spec.Name == "" {
		spec.Name = r.moduleName + "-subscription"
	}
	if err := assertSubscriptionAllowed(r.record.capabilities, interest); err != nil {
		return nil, fmt.Errorf("module %s subscribe %s: %w", r.moduleName, spec.Name, err)
	}

	subscription, err := r.bus.Subscribe(ctx, interest, spec, handler)
	if err != nil {
		return nil, fmt.Errorf("module %s subscribe %s: %w", r.moduleName, spec.Name, err)
	}
	r.record.addSubscription(subscription)

	return subscription, nil
}

// assertSubscriptionAllowed requires interest to be covered by at least one
// declared capability.
func assertSubscriptionAllowed(capabilities []fmgram.Capability, interest fmgram.InterestSet) error {
	if len(capabilities) == 0 {
		return fmt.Errorf("%w: module declares no capabilities", fmgram.ErrInvalidSubscription)
	}
	for _, capability := range capabilities {
		if capability.Interest.Allows(interest) {
			return nil
		}
	}

	return fmt.Errorf("%w: interest not covered by declared capabilities", fmgram.ErrInvalidSubscription)
}

type moduleServiceRegistry struct {
	base        fmgram.ServiceRegistry
	defaultSink *fmgram.EventSink
}

func (r moduleServiceRegistry) Register(name string, service any) error {
	if err := r.base.Register(name, service); err != nil {
		return fmt.Errorf("register service %s: %w", name, err)
	}

	return nil
}

func (r moduleServiceRegistry) Resolve(name string) (any, error) {
	service, err := r.base.Resolve(name)
	if err != nil {
		return nil, fmt.Errorf("resolve service %s: %w", name, err)
	}
	if name != fmgram.ServiceSinkDispatcher || r.defaultSink == nil {
		return service, nil
	}

	dispatcher, ok := service.(fmgram.SinkDispatcher)
	if !ok {
		return nil, fmt.Errorf("resolve service %s: type assertion failed", name)
	}

	return moduleSinkDispatcher{base: dispatcher, defaultSink: r.defaultSink}, nil
}

// moduleSinkDispatcher fills in the module's default sink on every request
// that does not name one.
type moduleSinkDispatcher struct {
	base        fmgram.SinkDispatcher
	defaultSink *fmgram.EventSink
}

func (d moduleSinkDispatcher) route(target fmgram.OutboundTarget) fmgram.OutboundTarget {
	if target.Sink == nil && d.defaultSink != nil {
		target.Sink = cloneSinkRef(d.defaultSink)
	}

	return target
}

func (d moduleSinkDispatcher) SendMessage(
	ctx context.Context,
	request fmgram.SendMessageRequest,
) (*fmgram.OutboundMessage, error) {
	request.Target = d.route(request.Target)
	message, err := d.base.SendMessage(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("routed send message: %w", err)
	}

	return message, nil
}

func (d moduleSinkDispatcher) EditMessage(ctx context.Context, request fmgram.EditMessageRequest) error {
	request.Target = d.route(request.Target)
	if err := d.base.EditMessage(ctx, request); err != nil {
		return fmt.Errorf("routed edit message: %w", err)
	}

	return nil
}

func (d moduleSinkDispatcher) DeleteMessage(ctx context.Context, request fmgram.DeleteMessageRequest) error {
	request.Target = d.route(request.Target)
	if err := d.base.DeleteMessage(ctx, request); err != nil {
		return fmt.Errorf("routed delete message: %w", err)
	}

	return nil
}

func (d moduleSinkDispatcher) AnnotateMessage(
	ctx context.Context,
	request fmgram.AnnotateMessageRequest,
) ([]string, error) {
	request.Target = d.route(request.Target)
	controlIDs, err := d.base.AnnotateMessage(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("routed annotate message: %w", err)
	}

	return controlIDs, nil
}

func (d moduleSinkDispatcher) RetractAnnotations(ctx context.Context, request fmgram.RetractAnnotationsRequest) error {
	request.Target = d.route(request.Target)
	if err := d.base.RetractAnnotations(ctx, request); err != nil {
		return fmt.Errorf("routed retract annotations: %w", err)
	}

	return nil
}

func cloneSinkRef(sink *fmgram.EventSink) *fmgram.EventSink {
	if sink == nil {
		return nil
	}
	cloned := *sink

	return &cloned
}

var _ fmgram.SinkDispatcher = moduleSinkDispatcher{}
