// Package housekeeping runs periodic maintenance: cache sweeps, stale member
// pruning, database optimization and an optional liveness file.
package housekeeping

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"fmgram/pkg/fmgram"
)

const (
	defaultSweepInterval   = time.Hour
	defaultMemberRetention = 90 * 24 * time.Hour
	defaultOptimizeEvery   = 24
	defaultHealthInterval  = 30 * time.Second

	commandName = "housekeep"
)

// Config controls maintenance cadence.
type Config struct {
	SweepInterval time.Duration
	// MemberRetention drops conversation members not seen for this long.
	MemberRetention time.Duration
	// OptimizeEvery runs Optimize on every Nth sweep.
	OptimizeEvery int
	// HealthFile, when set, receives the current unix time every
	// HealthInterval.
	HealthFile     string
	HealthInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.SweepInterval <= 0 {
		c.SweepInterval = defaultSweepInterval
	}
	if c.MemberRetention <= 0 {
		c.MemberRetention = defaultMemberRetention
	}
	if c.OptimizeEvery <= 0 {
		c.OptimizeEvery = defaultOptimizeEvery
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = defaultHealthInterval
	}

	return c
}

// Sweeper purges expired cache records.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// MemberStore is the maintenance surface of the account store.
type MemberStore interface {
	PruneMembers(ctx context.Context, cutoff time.Time) (int64, error)
	Optimize(ctx context.Context) error
}

// Report summarizes one maintenance pass.
type Report struct {
	CacheRemoved   int
	MembersPruned  int64
	Optimized      bool
	CacheErr       error
	MembersErr     error
	OptimizeErr    error
	StartedAt      time.Time
	ElapsedSeconds float64
}

// Err joins every step failure.
func (r Report) Err() error {
	return errors.Join(r.CacheErr, r.MembersErr, r.OptimizeErr)
}

// Option mutates module configuration.
type Option func(*Module)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(module *Module) {
		if now != nil {
			module.now = now
		}
	}
}

// Module schedules maintenance passes while the kernel runs.
type Module struct {
	cfg    Config
	now    func() time.Time
	logger *slog.Logger

	sweeper    Sweeper
	members    MemberStore
	dispatcher fmgram.SinkDispatcher

	mu     sync.Mutex
	passes int
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a housekeeping module.
func New(cfg Config, options ...Option) *Module {
	module := &Module{
		cfg:    cfg.withDefaults(),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, option := range options {
		option(module)
	}

	return module
}

// Name returns the stable module identifier.
func (m *Module) Name() string {
	return "housekeeping"
}

// Spec declares the on-demand maintenance system command.
func (m *Module) Spec() fmgram.ModuleSpec {
	return fmgram.ModuleSpec{
		Handlers: []fmgram.ModuleHandler{
			{
				Capability: fmgram.Capability{
					Name:        "housekeeping-command-handler",
					Description: "runs one maintenance pass on demand",
					Interest: fmgram.InterestSet{
						Kinds:          []fmgram.EventKind{fmgram.EventKindSystemCommandReceived},
						RequireCommand: true,
						CommandNames:   []string{commandName},
					},
					RequiredServices: []string{
						fmgram.ServiceSinkDispatcher,
						fmgram.ServiceCacheSweeper,
						fmgram.ServiceAccountLinks,
					},
				},
				Subscription: fmgram.NewSerialSubscriptionSpec("housekeeping-commands", 5*time.Minute),
				Handler:      m.handleCommand,
			},
		},
		Commands: []fmgram.CommandSpec{
			{
				Prefix:      fmgram.CommandPrefixSystem,
				Name:        commandName,
				Description: "sweep the cache and prune stale members now",
			},
		},
	}
}

// OnRegister resolves dependencies required by this module.
func (m *Module) OnRegister(_ context.Context, runtime fmgram.ModuleRuntime) error {
	logger, err := fmgram.ResolveAs[*slog.Logger](runtime.Services(), fmgram.ServiceLogger)
	switch {
	case err == nil:
		m.logger = logger
	case errors.Is(err, fmgram.ErrServiceNotFound):
	default:
		return fmt.Errorf("housekeeping resolve logger: %w", err)
	}

	if m.sweeper, err = fmgram.ResolveAs[Sweeper](runtime.Services(), fmgram.ServiceCacheSweeper); err != nil {
		return fmt.Errorf("housekeeping resolve cache sweeper: %w", err)
	}
	if m.members, err = fmgram.ResolveAs[MemberStore](runtime.Services(), fmgram.ServiceAccountLinks); err != nil {
		return fmt.Errorf("housekeeping resolve member store: %w", err)
	}
	if m.dispatcher, err = fmgram.ResolveAs[fmgram.SinkDispatcher](runtime.Services(), fmgram.ServiceSinkDispatcher); err != nil {
		return fmt.Errorf("housekeeping resolve outbound dispatcher: %w", err)
	}

	return nil
}

// OnStart launches the maintenance loop. The loop stops on OnShutdown.
func (m *Module) OnStart(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return fmt.Errorf("housekeeping start: already running")
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.loop(loopCtx, m.done)

	return nil
}

// OnShutdown stops the maintenance loop and waits for the running pass.
func (m *Module) OnShutdown(ctx context.Context) error {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()
	if cancel == nil {
		return nil
	}

	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("housekeeping shutdown: %w", ctx.Err())
	}
}

func (m *Module) loop(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	sweepTicker := time.NewTicker(m.cfg.SweepInterval)
	defer sweepTicker.Stop()

	var healthTick <-chan time.Time
	if m.cfg.HealthFile != "" {
		healthTicker := time.NewTicker(m.cfg.HealthInterval)
		defer healthTicker.Stop()
		healthTick = healthTicker.C
		m.writeHealth(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-sweepTicker.C:
			m.RunPass(ctx)
		case <-healthTick:
			m.writeHealth(ctx)
		}
	}
}

// RunPass performs one maintenance pass. Step failures are logged and
// reported without stopping the remaining steps.
func (m *Module) RunPass(ctx context.Context) Report {
	m.mu.Lock()
	m.passes++
	optimize := m.passes%m.cfg.OptimizeEvery == 0
	m.mu.Unlock()

	report := Report{StartedAt: m.now()}
	report.CacheRemoved, report.CacheErr = m.sweeper.Sweep(ctx)
	report.MembersPruned, report.MembersErr = m.members.PruneMembers(ctx, report.StartedAt.Add(-m.cfg.MemberRetention))
	if optimize {
		report.OptimizeErr = m.members.Optimize(ctx)
		report.Optimized = report.OptimizeErr == nil
	}
	report.ElapsedSeconds = m.now().Sub(report.StartedAt).Seconds()

	if err := report.Err(); err != nil {
		m.logger.ErrorContext(ctx, "housekeeping pass failed",
			"cache_removed", report.CacheRemoved,
			"members_pruned", report.MembersPruned,
			"error", err,
		)
		return report
	}
	m.logger.InfoContext(ctx, "housekeeping pass finished",
		"cache_removed", report.CacheRemoved,
		"members_pruned", report.MembersPruned,
		"optimized", report.Optimized,
		"elapsed_seconds", report.ElapsedSeconds,
	)

	return report
}

// writeHealth replaces the health file with the current unix time.
func (m *Module) writeHealth(ctx context.Context) {
	payload := []byte(strconv.FormatInt(m.now().Unix(), 10) + "\n")
	dir := filepath.Dir(m.cfg.HealthFile)

	temp, err := os.CreateTemp(dir, ".health-*")
	if err != nil {
		m.logger.WarnContext(ctx, "housekeeping health file failed", "path", m.cfg.HealthFile, "error", err)
		return
	}
	_, writeErr := temp.Write(payload)
	closeErr := temp.Close()
	if err := errors.Join(writeErr, closeErr); err != nil {
		_ = os.Remove(temp.Name())
		m.logger.WarnContext(ctx, "housekeeping health file failed", "path", m.cfg.HealthFile, "error", err)
		return
	}
	if err := os.Rename(temp.Name(), m.cfg.HealthFile); err != nil {
		_ = os.Remove(temp.Name())
		m.logger.WarnContext(ctx, "housekeeping health file failed", "path", m.cfg.HealthFile, "error", err)
	}
}

func (m *Module) handleCommand(ctx context.Context, event *fmgram.Event) error {
	if event == nil || event.Command == nil || event.Command.Name != commandName {
		return nil
	}
	if event.Kind != fmgram.EventKindSystemCommandReceived {
		return nil
	}

	report := m.RunPass(ctx)
	text := fmt.Sprintf("🧹 Cache entries removed: %d\nStale members pruned: %d", report.CacheRemoved, report.MembersPruned)
	if err := report.Err(); err != nil {
		text += fmt.Sprintf("\n⚠️ %v", err)
	}

	target, err := fmgram.OutboundTargetFromEvent(event)
	if err != nil {
		return fmt.Errorf("housekeeping derive outbound target: %w", err)
	}
	if _, err := m.dispatcher.SendMessage(ctx, fmgram.SendMessageRequest{
		Target:           target,
		Text:             text,
		ReplyToMessageID: event.SourceMessageID(),
	}); err != nil {
		return fmt.Errorf("housekeeping send report: %w", err)
	}

	return nil
}

var (
	_ fmgram.Module          = (*Module)(nil)
	_ fmgram.ModuleRegistrar = (*Module)(nil)
)
