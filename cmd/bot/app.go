package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"fmgram/internal/driver"
	"fmgram/internal/kernel"
	"fmgram/internal/platform/config"
	"fmgram/modules/discogs"
	"fmgram/modules/help"
	"fmgram/modules/housekeeping"
	"fmgram/modules/lastfm"
	"fmgram/modules/pagination"
	"fmgram/pkg/cache"
	discogsapi "fmgram/pkg/discogs"
	"fmgram/pkg/fmgram"
	"fmgram/pkg/gateway"
	lastfmapi "fmgram/pkg/lastfm"
	"fmgram/services/accounts"
)

const (
	defaultConfigFilePath     = "config/bot.json"
	alternateConfigFilePath   = "bin/config/bot.json"
	defaultModuleHookTimeout  = 3 * time.Second
	defaultShutdownTimeout    = 10 * time.Second
	defaultSubscriptionBuffer = 256
	defaultSubscriptionWorker = 2

	defaultMemoryEntries   = 4096
	defaultUpstreamTimeout = 10 * time.Second

	cacheFileName    = "cache.db"
	accountsFileName = "accounts.db"
)

var runtimeModuleNames = []string{"pagination", "lastfm", "discogs", "help", "housekeeping"}

type appConfig struct {
	logLevel slog.Level

	moduleHookTimeout   time.Duration
	shutdownTimeout     time.Duration
	subscriptionBuffer  int
	subscriptionWorkers int

	drivers        []driver.Definition
	routingDefault *kernel.ModuleRoute
	moduleRoutes   map[string]kernel.ModuleRoute

	cache        cacheConfig
	lastfm       lastfmConfig
	pagination   pagination.Config
	housekeeping housekeeping.Config
}

type cacheConfig struct {
	memoryEntries   int
	fallbackTTL     time.Duration
	ttlOverrides    map[string]time.Duration
	coalescing      bool
	upstreamTimeout time.Duration
}

type lastfmConfig struct {
	maxPages int
	fanOut   int
}

type fileConfig struct {
	LogLevel     string                 `json:"log_level"`
	Kernel       fileKernelConfig       `json:"kernel"`
	Drivers      []fileDriverEntry      `json:"drivers"`
	Routing      fileRoutingConfig      `json:"routing"`
	Cache        fileCacheConfig        `json:"cache"`
	LastFM       fileLastFMConfig       `json:"lastfm"`
	Pagination   filePaginationConfig   `json:"pagination"`
	Housekeeping fileHousekeepingConfig `json:"housekeeping"`
}

type fileKernelConfig struct {
	ModuleHookTimeout   string `json:"module_hook_timeout"`
	ShutdownTimeout     string `json:"shutdown_timeout"`
	SubscriptionBuffer  *int   `json:"subscription_buffer"`
	SubscriptionWorkers *int   `json:"subscription_workers"`
}

type fileDriverEntry struct {
	Name    string          `json:"name"`
	Type    string          `json:"type"`
	Enabled *bool           `json:"enabled"`
	Config  json.RawMessage `json:"config"`
}

type fileRoutingConfig struct {
	Default *fileModuleRoute           `json:"default"`
	Modules map[string]fileModuleRoute `json:"modules"`
}

type fileModuleRoute struct {
	Sources []fileSourceRef `json:"sources"`
	Sink    *fileSinkRef    `json:"sink"`
}

type fileSourceRef struct {
	Platform string `json:"platform"`
	ID       string `json:"id"`
}

type fileSinkRef struct {
	Platform string `json:"platform"`
	ID       string `json:"id"`
}

type fileCacheConfig struct {
	MemoryEntries   *int              `json:"memory_entries"`
	FallbackTTL     string            `json:"fallback_ttl"`
	TTL             map[string]string `json:"ttl"`
	Coalescing      *bool             `json:"coalescing"`
	UpstreamTimeout string            `json:"upstream_timeout"`
}

type fileLastFMConfig struct {
	MaxPages *int `json:"max_pages"`
	FanOut   *int `json:"fan_out"`
}

type filePaginationConfig struct {
	RegistrySize *int   `json:"registry_size"`
	RegistryTTL  string `json:"registry_ttl"`
}

type fileHousekeepingConfig struct {
	SweepInterval   string `json:"sweep_interval"`
	MemberRetention string `json:"member_retention"`
	OptimizeEvery   *int   `json:"optimize_every"`
	HealthFile      string `json:"health_file"`
	HealthInterval  string `json:"health_interval"`
}

// backends are the process-wide stores and API clients shared by modules.
type backends struct {
	bolt     *cache.BoltTier
	sweeper  *cache.Sweeper
	accounts *accounts.Store
	lastfm   *lastfmapi.Client
	discogs  *discogsapi.Client
}

func (b *backends) Close() error {
	var errs []error
	if b.accounts != nil {
		errs = append(errs, b.accounts.Close())
	}
	if b.bolt != nil {
		errs = append(errs, b.bolt.Close())
	}

	return errors.Join(errs...)
}

func run() error {
	env, err := config.LoadEnvironment()
	if err != nil {
		return fmt.Errorf("load environment: %w", err)
	}

	registry, err := driver.NewBuiltinRegistry()
	if err != nil {
		return fmt.Errorf("new builtin driver registry: %w", err)
	}

	cfg, err := loadConfig(env, registry)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.logLevel}))
	kernelRuntime := buildKernelRuntime(logger, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shared, err := buildBackends(ctx, logger, env, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := shared.Close(); closeErr != nil {
			logger.Error("close backends failed", "error", closeErr)
		}
	}()

	drivers, sinkDispatcher, err := buildDriverRuntime(ctx, logger, cfg, registry)
	if err != nil {
		return err
	}

	if err := registerRuntimeDrivers(kernelRuntime, drivers); err != nil {
		return err
	}
	if err := registerRuntimeServices(kernelRuntime, logger, sinkDispatcher, shared); err != nil {
		return err
	}
	if err := registerRuntimeModules(ctx, kernelRuntime, logger, cfg, shared); err != nil {
		return err
	}

	if err := kernelRuntime.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run kernel: %w", err)
	}

	return nil
}

func loadConfig(env config.Environment, registry *driver.Registry) (appConfig, error) {
	cfg := defaultAppConfig()
	configFile, err := resolveConfigFilePath(env.ConfigFile)
	if err != nil {
		return appConfig{}, err
	}

	if err := applyConfigFile(&cfg, configFile); err != nil {
		return appConfig{}, err
	}
	if rawLevel := strings.TrimSpace(env.LogLevel); rawLevel != "" {
		level, err := parseLogLevel(rawLevel)
		if err != nil {
			return appConfig{}, fmt.Errorf("parse FMGRAM_LOG_LEVEL: %w", err)
		}
		cfg.logLevel = level
	}
	if err := validateAppConfig(&cfg, registry); err != nil {
		return appConfig{}, fmt.Errorf("validate config file %s: %w", configFile, err)
	}

	return cfg, nil
}

func resolveConfigFilePath(explicit string) (string, error) {
	if configFile := strings.TrimSpace(explicit); configFile != "" {
		return configFile, nil
	}

	candidates := []string{defaultConfigFilePath, alternateConfigFilePath}
	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil {
			if info.IsDir() {
				return "", fmt.Errorf("config file %s is a directory", candidate)
			}
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat config file %s: %w", candidate, err)
		}
	}

	return "", fmt.Errorf(
		"config file not found; create %s or %s, or set FMGRAM_CONFIG_FILE",
		defaultConfigFilePath,
		alternateConfigFilePath,
	)
}

func defaultAppConfig() appConfig {
	return appConfig{
		logLevel: slog.LevelInfo,

		moduleHookTimeout:   defaultModuleHookTimeout,
		shutdownTimeout:     defaultShutdownTimeout,
		subscriptionBuffer:  defaultSubscriptionBuffer,
		subscriptionWorkers: defaultSubscriptionWorker,

		drivers:      make([]driver.Definition, 0),
		moduleRoutes: make(map[string]kernel.ModuleRoute),

		cache: cacheConfig{
			memoryEntries:   defaultMemoryEntries,
			fallbackTTL:     cache.DefaultFallbackTTL,
			ttlOverrides:    make(map[string]time.Duration),
			coalescing:      true,
			upstreamTimeout: defaultUpstreamTimeout,
		},
	}
}

func applyConfigFile(cfg *appConfig, path string) error {
	if cfg == nil {
		return fmt.Errorf("apply config file: nil config")
	}
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("config file path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	var parsed fileConfig
	if err := json.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if rawLevel := strings.TrimSpace(parsed.LogLevel); rawLevel != "" {
		level, err := parseLogLevel(rawLevel)
		if err != nil {
			return fmt.Errorf("parse log_level: %w", err)
		}
		cfg.logLevel = level
	}

	if err := applyKernelConfig(cfg, parsed.Kernel); err != nil {
		return err
	}

	cfg.drivers = make([]driver.Definition, 0, len(parsed.Drivers))
	for index, entry := range parsed.Drivers {
		enabled := true
		if entry.Enabled != nil {
			enabled = *entry.Enabled
		}
		cfg.drivers = append(cfg.drivers, driver.Definition{
			Name:    strings.TrimSpace(entry.Name),
			Type:    strings.TrimSpace(entry.Type),
			Enabled: enabled,
			Config:  append([]byte(nil), entry.Config...),
		})
		if len(entry.Config) == 0 {
			return fmt.Errorf("parse drivers[%d].config: required", index)
		}
	}

	cfg.routingDefault = nil
	if parsed.Routing.Default != nil {
		route, err := parseModuleRoute(*parsed.Routing.Default, "routing.default")
		if err != nil {
			return err
		}
		cfg.routingDefault = &route
	}

	cfg.moduleRoutes = make(map[string]kernel.ModuleRoute, len(parsed.Routing.Modules))
	for moduleName, rawRoute := range parsed.Routing.Modules {
		route, err := parseModuleRoute(rawRoute, fmt.Sprintf("routing.modules.%s", moduleName))
		if err != nil {
			return err
		}
		cfg.moduleRoutes[moduleName] = route
	}

	if err := applyCacheConfig(cfg, parsed.Cache); err != nil {
		return err
	}
	if err := applyFeatureConfig(cfg, parsed); err != nil {
		return err
	}

	return nil
}

func applyKernelConfig(cfg *appConfig, parsed fileKernelConfig) error {
	var err error
	if cfg.moduleHookTimeout, err = parsePositiveDuration(parsed.ModuleHookTimeout, cfg.moduleHookTimeout, "kernel.module_hook_timeout"); err != nil {
		return err
	}
	if cfg.shutdownTimeout, err = parsePositiveDuration(parsed.ShutdownTimeout, cfg.shutdownTimeout, "kernel.shutdown_timeout"); err != nil {
		return err
	}
	if cfg.subscriptionBuffer, err = parsePositiveInt(parsed.SubscriptionBuffer, cfg.subscriptionBuffer, "kernel.subscription_buffer"); err != nil {
		return err
	}
	if cfg.subscriptionWorkers, err = parsePositiveInt(parsed.SubscriptionWorkers, cfg.subscriptionWorkers, "kernel.subscription_workers"); err != nil {
		return err
	}

	return nil
}

func applyCacheConfig(cfg *appConfig, parsed fileCacheConfig) error {
	var err error
	if cfg.cache.memoryEntries, err = parsePositiveInt(parsed.MemoryEntries, cfg.cache.memoryEntries, "cache.memory_entries"); err != nil {
		return err
	}
	if cfg.cache.fallbackTTL, err = parsePositiveDuration(parsed.FallbackTTL, cfg.cache.fallbackTTL, "cache.fallback_ttl"); err != nil {
		return err
	}
	if cfg.cache.upstreamTimeout, err = parsePositiveDuration(parsed.UpstreamTimeout, cfg.cache.upstreamTimeout, "cache.upstream_timeout"); err != nil {
		return err
	}
	if parsed.Coalescing != nil {
		cfg.cache.coalescing = *parsed.Coalescing
	}

	cfg.cache.ttlOverrides = make(map[string]time.Duration, len(parsed.TTL))
	for operation, rawTTL := range parsed.TTL {
		ttl, err := time.ParseDuration(strings.TrimSpace(rawTTL))
		if err != nil {
			return fmt.Errorf("parse cache.ttl.%s: %w", operation, err)
		}
		if ttl < 0 {
			return fmt.Errorf("parse cache.ttl.%s: must be >= 0", operation)
		}
		cfg.cache.ttlOverrides[operation] = ttl
	}

	return nil
}

func applyFeatureConfig(cfg *appConfig, parsed fileConfig) error {
	var err error
	if cfg.lastfm.maxPages, err = parsePositiveInt(parsed.LastFM.MaxPages, cfg.lastfm.maxPages, "lastfm.max_pages"); err != nil {
		return err
	}
	if cfg.lastfm.fanOut, err = parsePositiveInt(parsed.LastFM.FanOut, cfg.lastfm.fanOut, "lastfm.fan_out"); err != nil {
		return err
	}

	if cfg.pagination.RegistrySize, err = parsePositiveInt(parsed.Pagination.RegistrySize, cfg.pagination.RegistrySize, "pagination.registry_size"); err != nil {
		return err
	}
	if cfg.pagination.RegistryTTL, err = parsePositiveDuration(parsed.Pagination.RegistryTTL, cfg.pagination.RegistryTTL, "pagination.registry_ttl"); err != nil {
		return err
	}

	house := parsed.Housekeeping
	if cfg.housekeeping.SweepInterval, err = parsePositiveDuration(house.SweepInterval, cfg.housekeeping.SweepInterval, "housekeeping.sweep_interval"); err != nil {
		return err
	}
	if cfg.housekeeping.MemberRetention, err = parsePositiveDuration(house.MemberRetention, cfg.housekeeping.MemberRetention, "housekeeping.member_retention"); err != nil {
		return err
	}
	if cfg.housekeeping.HealthInterval, err = parsePositiveDuration(house.HealthInterval, cfg.housekeeping.HealthInterval, "housekeeping.health_interval"); err != nil {
		return err
	}
	if cfg.housekeeping.OptimizeEvery, err = parsePositiveInt(house.OptimizeEvery, cfg.housekeeping.OptimizeEvery, "housekeeping.optimize_every"); err != nil {
		return err
	}
	cfg.housekeeping.HealthFile = strings.TrimSpace(house.HealthFile)

	return nil
}

// parsePositiveDuration returns fallback for an empty raw value.
func parsePositiveDuration(raw string, fallback time.Duration, field string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", field, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("parse %s: must be > 0", field)
	}

	return parsed, nil
}

func parsePositiveInt(raw *int, fallback int, field string) (int, error) {
	if raw == nil {
		return fallback, nil
	}
	if *raw <= 0 {
		return 0, fmt.Errorf("parse %s: must be > 0", field)
	}

	return *raw, nil
}

func parseModuleRoute(raw fileModuleRoute, scope string) (kernel.ModuleRoute, error) {
	if len(raw.Sources) == 0 {
		return kernel.ModuleRoute{}, fmt.Errorf("%s.sources is required", scope)
	}
	if raw.Sink == nil {
		return kernel.ModuleRoute{}, fmt.Errorf("%s.sink is required", scope)
	}

	sources := make([]fmgram.EventSource, 0, len(raw.Sources))
	for index, sourceRef := range raw.Sources {
		source := fmgram.EventSource{
			Platform: fmgram.Platform(strings.TrimSpace(sourceRef.Platform)),
			ID:       strings.TrimSpace(sourceRef.ID),
		}
		if source.Platform == "" && source.ID == "" {
			return kernel.ModuleRoute{}, fmt.Errorf("%s.sources[%d]: empty source reference", scope, index)
		}
		sources = append(sources, source)
	}

	sink := fmgram.EventSink{
		Platform: fmgram.Platform(strings.TrimSpace(raw.Sink.Platform)),
		ID:       strings.TrimSpace(raw.Sink.ID),
	}
	if sink.Platform == "" && sink.ID == "" {
		return kernel.ModuleRoute{}, fmt.Errorf("%s.sink: empty sink reference", scope)
	}

	return kernel.ModuleRoute{Sources: sources, Sink: &sink}, nil
}

func validateAppConfig(cfg *appConfig, registry *driver.Registry) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	if registry == nil {
		return fmt.Errorf("nil driver registry")
	}

	enabledDrivers := make([]driver.Definition, 0, len(cfg.drivers))
	enabledByName := make(map[string]driver.Definition, len(cfg.drivers))
	for _, definition := range cfg.drivers {
		if definition.Name == "" {
			return fmt.Errorf("drivers[].name is required")
		}
		if definition.Type == "" {
			return fmt.Errorf("drivers[%s].type is required", definition.Name)
		}
		if _, exists := enabledByName[definition.Name]; exists {
			return fmt.Errorf("drivers[%s]: duplicate name", definition.Name)
		}
		if !definition.Enabled {
			continue
		}
		if _, err := registry.PlatformForType(definition.Type); err != nil {
			return fmt.Errorf("drivers[%s].type: %w", definition.Name, err)
		}
		enabledDrivers = append(enabledDrivers, definition)
		enabledByName[definition.Name] = definition
	}
	if len(enabledDrivers) == 0 {
		return fmt.Errorf("at least one enabled driver is required")
	}

	knownModules := make(map[string]struct{}, len(runtimeModuleNames))
	for _, moduleName := range runtimeModuleNames {
		knownModules[moduleName] = struct{}{}
	}
	for moduleName := range cfg.moduleRoutes {
		if _, known := knownModules[moduleName]; !known {
			return fmt.Errorf("routing.modules.%s: unknown module", moduleName)
		}
	}

	for moduleName, route := range cfg.moduleRoutes {
		if err := validateRouteRefs(route, enabledByName, fmt.Sprintf("routing.modules.%s", moduleName)); err != nil {
			return err
		}
	}
	if cfg.routingDefault != nil {
		if err := validateRouteRefs(*cfg.routingDefault, enabledByName, "routing.default"); err != nil {
			return err
		}
	}

	if len(enabledDrivers) == 1 && cfg.routingDefault == nil {
		sole := enabledDrivers[0]
		platform, err := registry.PlatformForType(sole.Type)
		if err != nil {
			return fmt.Errorf("derive default route from driver %s: %w", sole.Name, err)
		}
		cfg.routingDefault = &kernel.ModuleRoute{
			Sources: []fmgram.EventSource{{Platform: platform, ID: sole.Name}},
			Sink:    &fmgram.EventSink{Platform: platform, ID: sole.Name},
		}
	}

	if len(enabledDrivers) >= 2 && cfg.routingDefault == nil {
		for _, moduleName := range runtimeModuleNames {
			if _, exists := cfg.moduleRoutes[moduleName]; !exists {
				return fmt.Errorf("routing.default is required in multi-driver mode unless all modules override")
			}
		}
	}

	return nil
}

func validateRouteRefs(
	route kernel.ModuleRoute,
	enabledByName map[string]driver.Definition,
	scope string,
) error {
	for index, source := range route.Sources {
		if source.ID != "" {
			if _, exists := enabledByName[source.ID]; !exists {
				return fmt.Errorf("%s.sources[%d]: unknown driver id %s", scope, index, source.ID)
			}
		}
	}
	if route.Sink != nil && route.Sink.ID != "" {
		if _, exists := enabledByName[route.Sink.ID]; !exists {
			return fmt.Errorf("%s.sink: unknown driver id %s", scope, route.Sink.ID)
		}
	}

	return nil
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported level %q", raw)
	}
}

func buildKernelRuntime(logger *slog.Logger, cfg appConfig) *kernel.Kernel {
	return kernel.New(
		kernel.WithLogger(logger),
		kernel.WithModuleHookTimeout(cfg.moduleHookTimeout),
		kernel.WithShutdownTimeout(cfg.shutdownTimeout),
		kernel.WithDefaultSubscriptionBuffer(cfg.subscriptionBuffer),
		kernel.WithDefaultSubscriptionWorkers(cfg.subscriptionWorkers),
		kernel.WithModuleRouting(cfg.routingDefault, cfg.moduleRoutes),
	)
}

// buildBackends opens the response cache, the account store and the API
// clients. The caller owns the returned backends and must Close them.
func buildBackends(ctx context.Context, logger *slog.Logger, env config.Environment, cfg appConfig) (*backends, error) {
	if err := os.MkdirAll(env.DataDir, 0o750); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", env.DataDir, err)
	}

	shared := &backends{}
	fail := func(err error) (*backends, error) {
		if closeErr := shared.Close(); closeErr != nil {
			logger.Error("close backends after failure", "error", closeErr)
		}
		return nil, err
	}

	memoryTier, err := cache.NewMemoryTier(cfg.cache.memoryEntries)
	if err != nil {
		return fail(fmt.Errorf("build memory cache tier: %w", err))
	}
	if shared.bolt, err = cache.OpenBoltTier(env.DataPath(cacheFileName)); err != nil {
		return fail(fmt.Errorf("build bolt cache tier: %w", err))
	}
	store, err := cache.New(
		[]cache.Tier{memoryTier, shared.bolt},
		cache.WithLogger(logger.With("component", "cache")),
	)
	if err != nil {
		return fail(fmt.Errorf("build response cache: %w", err))
	}
	shared.sweeper = cache.NewSweeper(shared.bolt, logger.With("component", "cache_sweeper"), time.Now)

	policy, err := cache.NewTTLPolicy(cache.DefaultTTLTable, cfg.cache.fallbackTTL)
	if err != nil {
		return fail(fmt.Errorf("build ttl policy: %w", err))
	}
	if policy, err = policy.WithOverrides(cfg.cache.ttlOverrides); err != nil {
		return fail(fmt.Errorf("apply ttl overrides: %w", err))
	}

	gatewayOptions := []gateway.Option{
		gateway.WithTimeout(cfg.cache.upstreamTimeout),
		gateway.WithCoalescing(cfg.cache.coalescing),
		gateway.WithLogger(logger.With("component", "gateway")),
	}

	lastfmUpstream, err := lastfmapi.NewHTTPUpstream(env.LastFMAPIKey)
	if err != nil {
		return fail(fmt.Errorf("build lastfm upstream: %w", err))
	}
	lastfmGateway, err := gateway.New(lastfmUpstream, store, policy, gatewayOptions...)
	if err != nil {
		return fail(fmt.Errorf("build lastfm gateway: %w", err))
	}
	if shared.lastfm, err = lastfmapi.NewClient(lastfmGateway); err != nil {
		return fail(fmt.Errorf("build lastfm client: %w", err))
	}

	if strings.TrimSpace(env.DiscogsToken) != "" {
		discogsUpstream, err := discogsapi.NewHTTPUpstream(env.DiscogsToken)
		if err != nil {
			return fail(fmt.Errorf("build discogs upstream: %w", err))
		}
		discogsGateway, err := gateway.New(discogsUpstream, store, policy, gatewayOptions...)
		if err != nil {
			return fail(fmt.Errorf("build discogs gateway: %w", err))
		}
		if shared.discogs, err = discogsapi.NewClient(discogsGateway); err != nil {
			return fail(fmt.Errorf("build discogs client: %w", err))
		}
	} else {
		logger.Info("discogs disabled; set DISCOGS_TOKEN to enable record commands")
	}

	if shared.accounts, err = accounts.Open(ctx, env.DataPath(accountsFileName)); err != nil {
		return fail(fmt.Errorf("open account store: %w", err))
	}

	return shared, nil
}

func buildDriverRuntime(
	ctx context.Context,
	logger *slog.Logger,
	cfg appConfig,
	registry *driver.Registry,
) ([]fmgram.Driver, *driver.CompositeSinkDispatcher, error) {
	if registry == nil {
		return nil, nil, fmt.Errorf("build drivers: nil driver registry")
	}

	runtimes, err := registry.BuildEnabled(ctx, cfg.drivers, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("build drivers: %w", err)
	}

	drivers := make([]fmgram.Driver, 0, len(runtimes))
	for _, runtime := range runtimes {
		drivers = append(drivers, runtime.Driver)
	}

	dispatcher, err := driver.NewCompositeSinkDispatcher(runtimes)
	if err != nil {
		return nil, nil, fmt.Errorf("build sink dispatcher: %w", err)
	}

	return drivers, dispatcher, nil
}

func registerRuntimeServices(
	kernelRuntime *kernel.Kernel,
	logger *slog.Logger,
	sinkDispatcher *driver.CompositeSinkDispatcher,
	shared *backends,
) error {
	if sinkDispatcher == nil {
		return fmt.Errorf("register sink dispatcher service: nil dispatcher")
	}
	if shared == nil {
		return fmt.Errorf("register backend services: nil backends")
	}

	services := []struct {
		name    string
		service any
	}{
		{name: fmgram.ServiceLogger, service: logger},
		{name: fmgram.ServiceSinkDispatcher, service: sinkDispatcher},
		{name: fmgram.ServiceEventSinkCatalog, service: sinkDispatcher},
		{name: fmgram.ServiceAccountLinks, service: shared.accounts},
		{name: fmgram.ServiceLastFM, service: shared.lastfm},
		{name: fmgram.ServiceCacheSweeper, service: shared.sweeper},
	}
	if shared.discogs != nil {
		services = append(services, struct {
			name    string
			service any
		}{name: fmgram.ServiceDiscogs, service: shared.discogs})
	}

	for _, entry := range services {
		if err := kernelRuntime.RegisterService(entry.name, entry.service); err != nil {
			return fmt.Errorf("register service %s: %w", entry.name, err)
		}
	}

	return nil
}

// registerRuntimeModules registers modules in dependency order: pagination
// publishes the paginator that the chart modules resolve on registration.
func registerRuntimeModules(
	ctx context.Context,
	kernelRuntime *kernel.Kernel,
	logger *slog.Logger,
	cfg appConfig,
	shared *backends,
) error {
	modules := []fmgram.Module{
		pagination.New(cfg.pagination),
		lastfm.New(
			lastfm.WithLogger(logger.With("module", "lastfm")),
			lastfm.WithMaxPages(cfg.lastfm.maxPages),
			lastfm.WithFanOut(cfg.lastfm.fanOut),
		),
	}
	if shared != nil && shared.discogs != nil {
		modules = append(modules, discogs.New())
	}
	modules = append(modules, help.New(), housekeeping.New(cfg.housekeeping))

	for _, module := range modules {
		if err := kernelRuntime.RegisterModule(ctx, module); err != nil {
			return fmt.Errorf("register %s module: %w", module.Name(), err)
		}
	}

	return nil
}

func registerRuntimeDrivers(kernelRuntime *kernel.Kernel, drivers []fmgram.Driver) error {
	for _, runtimeDriver := range drivers {
		if err := kernelRuntime.RegisterDriver(runtimeDriver); err != nil {
			return fmt.Errorf("register driver %s: %w", runtimeDriver.Name(), err)
		}
	}

	return nil
}
