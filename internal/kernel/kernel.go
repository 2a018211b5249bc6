package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"fmgram/pkg/fmgram"
)

// Kernel wires modules and drivers around one event bus and service registry.
type Kernel struct {
	cfg config

	bus      *EventBus
	services *ServiceRegistry

	mu          sync.RWMutex
	modules     map[string]*moduleRecord
	moduleOrder []string
	// commands is keyed by prefix plus every name a spec answers to, so an
	// alias and its canonical name share one registration.
	commands    map[string]commandRegistration
	drivers     map[string]fmgram.Driver
	driverOrder []string

	runMu   sync.Mutex
	running bool
}

// New creates a kernel and registers its command catalog service.
func New(options ...Option) *Kernel {
	cfg := defaultConfig()
	for _, option := range options {
		option(&cfg)
	}

	k := &Kernel{
		cfg:      cfg,
		services: NewServiceRegistry(),
		bus: NewEventBus(
			cfg.subscriptionBuffer,
			cfg.subscriptionWorker,
			cfg.handlerTimeout,
			cfg.onAsyncError,
		),
		modules:  make(map[string]*moduleRecord),
		commands: make(map[string]commandRegistration),
		drivers:  make(map[string]fmgram.Driver),
	}
	if err := k.services.Register(fmgram.ServiceCommandCatalog, &kernelCommandCatalog{kernel: k}); err != nil {
		cfg.onAsyncError(context.Background(), "register command catalog service", err)
	}

	return k
}

// EventBus exposes the kernel event bus to integration code.
func (k *Kernel) EventBus() fmgram.EventBus {
	return k.bus
}

// Services exposes the kernel service registry.
func (k *Kernel) Services() fmgram.ServiceRegistry {
	return k.services
}

// RegisterService registers a runtime service singleton.
func (k *Kernel) RegisterService(name string, service any) error {
	if err := k.services.Register(name, service); err != nil {
		return fmt.Errorf("register service %s: %w", name, err)
	}

	return nil
}

// RegisterModule validates a module spec, claims its commands, runs the
// optional OnRegister hook and subscribes its declared handlers. Any failure
// rolls the module back out of the kernel.
func (k *Kernel) RegisterModule(ctx context.Context, module fmgram.Module) error {
	if module == nil {
		return fmt.Errorf("register module: nil module")
	}
	name := module.Name()
	if name == "" {
		return fmt.Errorf("register module: empty module name")
	}

	spec := module.Spec()
	if err := validateModuleSpec(spec); err != nil {
		return fmt.Errorf("register module %s: %w", name, err)
	}
	record := &moduleRecord{
		name:         name,
		module:       module,
		capabilities: spec.Capabilities(),
	}
	if err := k.validateCapabilityDependencies(record.capabilities); err != nil {
		return fmt.Errorf("register module %s: %w", name, err)
	}
	if err := k.addModuleRecord(record); err != nil {
		return fmt.Errorf("register module %s: %w", name, err)
	}

	if err := k.wireModule(ctx, record, spec); err != nil {
		k.rollbackModuleRegistration(ctx, name, record)
		return fmt.Errorf("register module %s: %w", name, err)
	}

	return nil
}

func (k *Kernel) addModuleRecord(record *moduleRecord) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if _, exists := k.modules[record.name]; exists {
		return fmgram.ErrModuleAlreadyRegistered
	}
	k.modules[record.name] = record
	k.moduleOrder = append(k.moduleOrder, record.name)

	return nil
}

// wireModule performs the registration steps that can fail after the module
// record exists.
func (k *Kernel) wireModule(ctx context.Context, record *moduleRecord, spec fmgram.ModuleSpec) error {
	route := k.moduleRouteFor(record.name)
	runtime := &moduleRuntime{
		moduleName:    record.name,
		serviceLookup: k.services,
		bus:           k.bus,
		record:        record,
		defaultSink:   route.Sink,
	}

	if err := k.registerModuleCommands(record.name, spec.Commands); err != nil {
		return err
	}

	hookCtx, cancel := context.WithTimeout(ctx, k.cfg.moduleHookTimeout)
	defer cancel()

	if registrar, ok := record.module.(fmgram.ModuleRegistrar); ok {
		if err := runSafely("module "+record.name+" OnRegister", func() error {
			return registrar.OnRegister(hookCtx, runtime)
		}); err != nil {
			return err
		}
	}

	return registerDeclaredHandlers(hookCtx, record.name, route, runtime, spec.Handlers)
}

// RegisterDriver registers a platform driver.
func (k *Kernel) RegisterDriver(driver fmgram.Driver) error {
	if driver == nil {
		return fmt.Errorf("register driver: nil driver")
	}
	name := driver.Name()
	if name == "" {
		return fmt.Errorf("register driver: empty name")
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if _, exists := k.drivers[name]; exists {
		return fmt.Errorf("register driver %s: %w", name, fmgram.ErrDriverAlreadyRegistered)
	}
	k.drivers[name] = driver
	k.driverOrder = append(k.driverOrder, name)

	return nil
}

// Run starts modules and drivers, then blocks until ctx is canceled or a
// driver fails. Shutdown always runs before Run returns.
func (k *Kernel) Run(ctx context.Context) error {
	if err := k.startRun(); err != nil {
		return err
	}
	defer k.finishRun()

	if err := k.startModules(ctx); err != nil {
		return err
	}

	runCtx, runCancel := context.WithCancel(ctx)
	driverErr, waitDrivers := k.startDrivers(runCtx)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-driverErr:
	}

	runCancel()
	waitDrivers()

	shutdownErr := k.shutdownAll(ctx)
	if isContextCancellation(runErr) {
		runErr = nil
	}

	return errors.Join(runErr, shutdownErr)
}

func (k *Kernel) startRun() error {
	k.runMu.Lock()
	defer k.runMu.Unlock()

	if k.running {
		return fmt.Errorf("kernel run: already running")
	}
	k.running = true

	return nil
}

func (k *Kernel) finishRun() {
	k.runMu.Lock()
	k.running = false
	k.runMu.Unlock()
}

// startModules invokes OnStart in registration order.
func (k *Kernel) startModules(ctx context.Context) error {
	for _, record := range k.snapshotModules() {
		if err := k.runModuleHook(ctx, record, "OnStart", record.module.OnStart); err != nil {
			return fmt.Errorf("start module %s: %w", record.name, err)
		}
	}

	return nil
}

// startDrivers runs every driver in its own goroutine. The returned channel
// yields the first fatal driver error, or context.Canceled once all drivers
// have returned. wait blocks until drivers exit or the shutdown timeout passes.
func (k *Kernel) startDrivers(ctx context.Context) (<-chan error, func()) {
	errChannel := make(chan error, 1)
	done := make(chan struct{})
	var workers sync.WaitGroup

	dispatcher := k.newDriverEventDispatcher()
	for _, entry := range k.snapshotDrivers() {
		workers.Add(1)
		go func() {
			defer workers.Done()
			err := runSafely("driver "+entry.name+" Start", func() error {
				return entry.driver.Start(ctx, dispatcher)
			})
			if err == nil || isContextCancellation(err) {
				return
			}
			select {
			case errChannel <- fmt.Errorf("run driver %s: %w", entry.name, err):
			default:
			}
		}()
	}

	go func() {
		workers.Wait()
		close(done)
		select {
		case errChannel <- context.Canceled:
		default:
		}
	}()

	wait := func() {
		timer := time.NewTimer(k.cfg.shutdownTimeout)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
		}
	}

	return errChannel, wait
}

// shutdownAll stops drivers, then modules, then the bus. Cleanup runs on a
// context detached from cancellation and bounded by the shutdown timeout.
func (k *Kernel) shutdownAll(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.cfg.shutdownTimeout)
	defer cancel()

	shutdownErr := errors.Join(
		k.shutdownDrivers(shutdownCtx),
		k.shutdownModules(shutdownCtx),
		k.bus.Close(shutdownCtx),
	)
	if shutdownErr != nil {
		return fmt.Errorf("kernel shutdown: %w", shutdownErr)
	}

	return nil
}

// shutdownDrivers runs driver Shutdown in reverse registration order.
func (k *Kernel) shutdownDrivers(ctx context.Context) error {
	entries := k.snapshotDrivers()

	var shutdownErr error
	for idx := len(entries) - 1; idx >= 0; idx-- {
		entry := entries[idx]
		if err := runSafely("driver "+entry.name+" Shutdown", func() error {
			return entry.driver.Shutdown(ctx)
		}); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown driver %s: %w", entry.name, err))
		}
	}

	return shutdownErr
}

// shutdownModules closes subscriptions and runs OnShutdown in reverse order.
func (k *Kernel) shutdownModules(ctx context.Context) error {
	records := k.snapshotModules()

	var shutdownErr error
	for idx := len(records) - 1; idx >= 0; idx-- {
		record := records[idx]
		if err := record.closeSubscriptions(ctx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown module %s subscriptions: %w", record.name, err))
		}
		if err := k.runModuleHook(ctx, record, "OnShutdown", record.module.OnShutdown); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown module %s: %w", record.name, err))
		}
	}

	return shutdownErr
}

func (k *Kernel) runModuleHook(
	ctx context.Context,
	record *moduleRecord,
	hook string,
	fn func(context.Context) error,
) error {
	hookCtx, cancel := context.WithTimeout(ctx, k.cfg.moduleHookTimeout)
	defer cancel()

	return runSafely("module "+record.name+" "+hook, func() error {
		return fn(hookCtx)
	})
}

// rollbackModuleRegistration removes a partially registered module.
func (k *Kernel) rollbackModuleRegistration(ctx context.Context, name string, record *moduleRecord) {
	rollbackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.cfg.moduleHookTimeout)
	defer cancel()

	if err := record.closeSubscriptions(rollbackCtx); err != nil {
		k.cfg.onAsyncError(rollbackCtx, "rollback_module_registration", err)
	}
	k.unregisterModuleCommands(name)

	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.modules, name)
	k.moduleOrder = removeOrderedName(k.moduleOrder, name)
}

// snapshotModules returns module records in registration order.
func (k *Kernel) snapshotModules() []*moduleRecord {
	k.mu.RLock()
	defer k.mu.RUnlock()

	records := make([]*moduleRecord, 0, len(k.moduleOrder))
	for _, name := range k.moduleOrder {
		if record := k.modules[name]; record != nil {
			records = append(records, record)
		}
	}

	return records
}

type driverEntry struct {
	name   string
	driver fmgram.Driver
}

// snapshotDrivers returns drivers in registration order.
func (k *Kernel) snapshotDrivers() []driverEntry {
	k.mu.RLock()
	defer k.mu.RUnlock()

	entries := make([]driverEntry, 0, len(k.driverOrder))
	for _, name := range k.driverOrder {
		if driver := k.drivers[name]; driver != nil {
			entries = append(entries, driverEntry{name: name, driver: driver})
		}
	}

	return entries
}

func (k *Kernel) validateCapabilityDependencies(capabilities []fmgram.Capability) error {
	for _, capability := range capabilities {
		for _, serviceName := range capability.RequiredServices {
			if _, err := k.services.Resolve(serviceName); err != nil {
				return fmt.Errorf("capability %s requires service %s: %w", capability.Name, serviceName, err)
			}
		}
	}

	return nil
}

// registerDeclaredHandlers subscribes every ModuleSpec handler, narrowing its
// interest to the module route's sources when configured.
func registerDeclaredHandlers(
	ctx context.Context,
	moduleName string,
	route ModuleRoute,
	runtime *moduleRuntime,
	handlers []fmgram.ModuleHandler,
) error {
	for idx, declared := range handlers {
		spec := declared.Subscription
		if spec.Name == "" {
			spec.Name = fmt.Sprintf("%s-handler-%d", moduleName, idx+1)
		}
		interest := declared.Capability.Interest
		if len(route.Sources) > 0 {
			interest.Sources = append([]fmgram.EventSource(nil), route.Sources...)
		}
		if _, err := runtime.Subscribe(ctx, interest, spec, declared.Handler); err != nil {
			return fmt.Errorf("register handler %s for capability %s: %w", spec.Name, declared.Capability.Name, err)
		}
	}

	return nil
}

func (k *Kernel) moduleRouteFor(moduleName string) ModuleRoute {
	if route, exists := k.cfg.routing.moduleRoutes[moduleName]; exists {
		return route
	}
	if k.cfg.routing.defaultRoute != nil {
		return *k.cfg.routing.defaultRoute
	}

	return ModuleRoute{}
}

// validateModuleSpec rejects unnamed or duplicate capabilities, nil handlers,
// and commands whose names or aliases collide inside one module.
func validateModuleSpec(spec fmgram.ModuleSpec) error {
	seenCapabilities := make(map[string]struct{}, len(spec.Handlers)+len(spec.AdditionalCapabilities))
	claimCapability := func(name string) error {
		if name == "" {
			return fmt.Errorf("empty capability name")
		}
		if _, exists := seenCapabilities[name]; exists {
			return fmt.Errorf("duplicate capability name %s", name)
		}
		seenCapabilities[name] = struct{}{}
		return nil
	}

	seenSubscriptions := make(map[string]struct{}, len(spec.Handlers))
	for idx, handler := range spec.Handlers {
		if err := claimCapability(handler.Capability.Name); err != nil {
			return fmt.Errorf("module handler %d: %w", idx, err)
		}
		if handler.Handler == nil {
			return fmt.Errorf("module handler %s: nil handler", handler.Capability.Name)
		}
		if name := handler.Subscription.Name; name != "" {
			if _, exists := seenSubscriptions[name]; exists {
				return fmt.Errorf("module handler %s: duplicate subscription name %s", handler.Capability.Name, name)
			}
			seenSubscriptions[name] = struct{}{}
		}
	}
	for idx, capability := range spec.AdditionalCapabilities {
		if err := claimCapability(capability.Name); err != nil {
			return fmt.Errorf("additional capability %d: %w", idx, err)
		}
	}

	seenCommands := make(map[string]string, len(spec.Commands))
	for idx, command := range spec.Commands {
		if err := command.Validate(); err != nil {
			return fmt.Errorf("module command %d: %w", idx, err)
		}
		for _, name := range command.Names() {
			key := commandRegistryKey(command.Prefix, name)
			if owner, exists := seenCommands[key]; exists {
				return fmt.Errorf(
					"module command %d: %s already declared by %s",
					idx,
					formatCommandKey(command.Prefix, name),
					owner,
				)
			}
			seenCommands[key] = formatCommandKey(command.Prefix, command.Name)
		}
	}

	return nil
}

func removeOrderedName(ordered []string, target string) []string {
	filtered := make([]string, 0, len(ordered))
	for _, item := range ordered {
		if item != target {
			filtered = append(filtered, item)
		}
	}

	return filtered
}

func isContextCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
