package driver

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"fmgram/pkg/fmgram"
)

// Definition is one configured driver instance.
type Definition struct {
	// Name identifies the instance and becomes its event source ID.
	Name string
	// Type selects the builder, for example "telegram".
	Type    string
	Enabled bool
	// Config is the raw driver-specific JSON object.
	Config []byte
}

// Runtime is one built driver instance.
type Runtime struct {
	Source fmgram.EventSource
	Driver fmgram.Driver
	// SinkDispatcher delivers outbound operations through this instance, when supported.
	SinkDispatcher fmgram.SinkDispatcher
}

// BuilderFunc builds one runtime from one driver definition.
type BuilderFunc func(ctx context.Context, definition Definition, logger *slog.Logger) (Runtime, error)

// Descriptor binds a driver type to its platform and builder.
type Descriptor struct {
	Type     string
	Platform fmgram.Platform
	Builder  BuilderFunc
}

// Registry maps driver types to builders. It is immutable after construction.
type Registry struct {
	descriptors map[string]Descriptor
}

// NewRegistry validates descriptors and indexes them by type.
func NewRegistry(descriptors []Descriptor) (*Registry, error) {
	indexed := make(map[string]Descriptor, len(descriptors))
	for _, descriptor := range descriptors {
		switch {
		case descriptor.Type == "":
			return nil, fmt.Errorf("new registry: empty descriptor type")
		case descriptor.Platform == "":
			return nil, fmt.Errorf("new registry type %s: empty platform", descriptor.Type)
		case descriptor.Builder == nil:
			return nil, fmt.Errorf("new registry type %s: nil builder", descriptor.Type)
		}
		if _, exists := indexed[descriptor.Type]; exists {
			return nil, fmt.Errorf("new registry type %s: duplicate", descriptor.Type)
		}
		indexed[descriptor.Type] = descriptor
	}

	return &Registry{descriptors: indexed}, nil
}

// Types returns registered driver types in sorted order.
func (r *Registry) Types() []string {
	if r == nil {
		return nil
	}
	types := make([]string, 0, len(r.descriptors))
	for driverType := range r.descriptors {
		types = append(types, driverType)
	}
	slices.Sort(types)

	return types
}

// PlatformForType resolves the platform a driver type produces events for.
func (r *Registry) PlatformForType(driverType string) (fmgram.Platform, error) {
	if r == nil {
		return "", fmt.Errorf("resolve platform: nil registry")
	}
	descriptor, exists := r.descriptors[driverType]
	if !exists {
		return "", fmt.Errorf("resolve platform: unsupported type %s", driverType)
	}

	return descriptor.Platform, nil
}

// BuildEnabled builds every enabled definition, failing on the first error.
// Runtimes without a source ID take the definition name.
func (r *Registry) BuildEnabled(ctx context.Context, definitions []Definition, logger *slog.Logger) ([]Runtime, error) {
	if r == nil {
		return nil, fmt.Errorf("build drivers: nil registry")
	}

	runtimes := make([]Runtime, 0, len(definitions))
	seenNames := make(map[string]struct{}, len(definitions))
	for _, definition := range definitions {
		if !definition.Enabled {
			continue
		}
		if definition.Name == "" {
			return nil, fmt.Errorf("build driver: empty name")
		}
		if _, exists := seenNames[definition.Name]; exists {
			return nil, fmt.Errorf("build driver %s: duplicate name", definition.Name)
		}
		seenNames[definition.Name] = struct{}{}

		runtime, err := r.build(ctx, definition, logger)
		if err != nil {
			return nil, fmt.Errorf("build driver %s type %s: %w", definition.Name, definition.Type, err)
		}
		runtimes = append(runtimes, runtime)
	}

	return runtimes, nil
}

func (r *Registry) build(ctx context.Context, definition Definition, logger *slog.Logger) (Runtime, error) {
	descriptor, exists := r.descriptors[definition.Type]
	if !exists {
		return Runtime{}, fmt.Errorf("unsupported type")
	}

	runtime, err := descriptor.Builder(ctx, definition, logger.With("driver", definition.Name))
	if err != nil {
		return Runtime{}, err
	}
	if runtime.Driver == nil {
		return Runtime{}, fmt.Errorf("nil driver")
	}
	if runtime.Source.Platform == "" {
		runtime.Source.Platform = descriptor.Platform
	}
	if runtime.Source.Platform != descriptor.Platform {
		return Runtime{}, fmt.Errorf("source platform %s, want %s", runtime.Source.Platform, descriptor.Platform)
	}
	if runtime.Source.ID == "" {
		runtime.Source.ID = definition.Name
	}

	return runtime, nil
}

// CompositeSinkDispatcher routes outbound operations to the driver instance
// named by the target sink. With exactly one sink configured, targets without
// a sink go to it.
type CompositeSinkDispatcher struct {
	sinks       []fmgram.EventSink
	dispatchers map[string]fmgram.SinkDispatcher
}

// NewCompositeSinkDispatcher indexes every runtime that has a sink dispatcher.
func NewCompositeSinkDispatcher(runtimes []Runtime) (*CompositeSinkDispatcher, error) {
	composite := &CompositeSinkDispatcher{dispatchers: make(map[string]fmgram.SinkDispatcher)}
	for _, runtime := range runtimes {
		if runtime.SinkDispatcher == nil {
			continue
		}
		id := runtime.Source.ID
		if id == "" {
			return nil, fmt.Errorf("new composite sink dispatcher: missing sink id")
		}
		if _, exists := composite.dispatchers[id]; exists {
			return nil, fmt.Errorf("new composite sink dispatcher: duplicate sink id %s", id)
		}
		composite.dispatchers[id] = runtime.SinkDispatcher
		composite.sinks = append(composite.sinks, fmgram.EventSink{Platform: runtime.Source.Platform, ID: id})
	}
	slices.SortFunc(composite.sinks, func(left, right fmgram.EventSink) int {
		switch {
		case left.ID < right.ID:
			return -1
		case left.ID > right.ID:
			return 1
		default:
			return 0
		}
	})

	return composite, nil
}

// SendMessage routes a send to one sink.
func (d *CompositeSinkDispatcher) SendMessage(
	ctx context.Context,
	request fmgram.SendMessageRequest,
) (*fmgram.OutboundMessage, error) {
	dispatcher, err := d.resolve(request.Target)
	if err != nil {
		return nil, fmt.Errorf("route send message: %w", err)
	}
	message, err := dispatcher.SendMessage(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("route send message: %w", err)
	}

	return message, nil
}

// EditMessage routes an edit to one sink.
func (d *CompositeSinkDispatcher) EditMessage(ctx context.Context, request fmgram.EditMessageRequest) error {
	return d.dispatch(request.Target, "edit message", func(dispatcher fmgram.SinkDispatcher) error {
		return dispatcher.EditMessage(ctx, request)
	})
}

// DeleteMessage routes a delete to one sink.
func (d *CompositeSinkDispatcher) DeleteMessage(ctx context.Context, request fmgram.DeleteMessageRequest) error {
	return d.dispatch(request.Target, "delete message", func(dispatcher fmgram.SinkDispatcher) error {
		return dispatcher.DeleteMessage(ctx, request)
	})
}

// AnnotateMessage routes control attachment to one sink.
func (d *CompositeSinkDispatcher) AnnotateMessage(
	ctx context.Context,
	request fmgram.AnnotateMessageRequest,
) ([]string, error) {
	var controlIDs []string
	err := d.dispatch(request.Target, "annotate message", func(dispatcher fmgram.SinkDispatcher) error {
		var err error
		controlIDs, err = dispatcher.AnnotateMessage(ctx, request)
		return err
	})
	if err != nil {
		return nil, err
	}

	return controlIDs, nil
}

// RetractAnnotations routes control removal to one sink.
func (d *CompositeSinkDispatcher) RetractAnnotations(ctx context.Context, request fmgram.RetractAnnotationsRequest) error {
	return d.dispatch(request.Target, "retract annotations", func(dispatcher fmgram.SinkDispatcher) error {
		return dispatcher.RetractAnnotations(ctx, request)
	})
}

// ListSinks returns every configured sink sorted by ID.
func (d *CompositeSinkDispatcher) ListSinks(ctx context.Context) ([]fmgram.EventSink, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("list sinks: %w", err)
	}

	return slices.Clone(d.sinks), nil
}

// ListSinksByPlatform returns configured sinks of one platform sorted by ID.
func (d *CompositeSinkDispatcher) ListSinksByPlatform(
	ctx context.Context,
	platform fmgram.Platform,
) ([]fmgram.EventSink, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("list sinks by platform: %w", err)
	}

	sinks := make([]fmgram.EventSink, 0, len(d.sinks))
	for _, sink := range d.sinks {
		if sink.Platform == platform {
			sinks = append(sinks, sink)
		}
	}

	return sinks, nil
}

func (d *CompositeSinkDispatcher) dispatch(
	target fmgram.OutboundTarget,
	operation string,
	fn func(fmgram.SinkDispatcher) error,
) error {
	dispatcher, err := d.resolve(target)
	if err != nil {
		return fmt.Errorf("route %s: %w", operation, err)
	}
	if err := fn(dispatcher); err != nil {
		return fmt.Errorf("route %s: %w", operation, err)
	}

	return nil
}

func (d *CompositeSinkDispatcher) resolve(target fmgram.OutboundTarget) (fmgram.SinkDispatcher, error) {
	if d == nil || len(d.sinks) == 0 {
		return nil, fmt.Errorf("%w: no sinks configured", fmgram.ErrOutboundUnsupported)
	}
	if target.Sink == nil {
		if len(d.sinks) == 1 {
			return d.dispatchers[d.sinks[0].ID], nil
		}
		return nil, fmt.Errorf("%w: missing target sink", fmgram.ErrOutboundUnsupported)
	}

	ref := *target.Sink
	if ref.ID != "" {
		dispatcher, exists := d.dispatchers[ref.ID]
		if !exists {
			return nil, fmt.Errorf("%w: sink %s not found", fmgram.ErrOutboundUnsupported, ref.ID)
		}
		if ref.Platform != "" {
			index := slices.IndexFunc(d.sinks, func(sink fmgram.EventSink) bool { return sink.ID == ref.ID })
			if d.sinks[index].Platform != ref.Platform {
				return nil, fmt.Errorf(
					"%w: sink %s platform mismatch: expected %s got %s",
					fmgram.ErrOutboundUnsupported,
					ref.ID,
					ref.Platform,
					d.sinks[index].Platform,
				)
			}
		}
		return dispatcher, nil
	}

	var matched []fmgram.EventSink
	for _, sink := range d.sinks {
		if sink.Platform == ref.Platform {
			matched = append(matched, sink)
		}
	}
	switch len(matched) {
	case 0:
		return nil, fmt.Errorf("%w: no sink for platform %s", fmgram.ErrOutboundUnsupported, ref.Platform)
	case 1:
		return d.dispatchers[matched[0].ID], nil
	default:
		return nil, fmt.Errorf("%w: ambiguous sink for platform %s", fmgram.ErrOutboundUnsupported, ref.Platform)
	}
}

var (
	_ fmgram.SinkDispatcher   = (*CompositeSinkDispatcher)(nil)
	_ fmgram.EventSinkCatalog = (*CompositeSinkDispatcher)(nil)
)
