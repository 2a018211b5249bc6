package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"fmgram/internal/driver"
	"fmgram/internal/platform/config"
	"fmgram/pkg/fmgram"
)

const telegramDriverJSON = `"drivers":[{"name":"tg-main","type":"telegram","config":{"app_id":1,"app_hash":"hash"}}]`

func writeConfigFile(t *testing.T, path string, contents string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		t.Fatalf("create config dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
}

func newTestRegistry(t *testing.T) *driver.Registry {
	t.Helper()

	registry, err := driver.NewBuiltinRegistry()
	if err != nil {
		t.Fatalf("new builtin registry: %v", err)
	}

	return registry
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    slog.Level
		wantErr bool
	}{
		{name: "debug", input: "debug", want: slog.LevelDebug},
		{name: "info", input: "info", want: slog.LevelInfo},
		{name: "warn", input: "warn", want: slog.LevelWarn},
		{name: "warning", input: "warning", want: slog.LevelWarn},
		{name: "error", input: "error", want: slog.LevelError},
		{name: "invalid", input: "trace", wantErr: true},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			got, err := parseLogLevel(testCase.input)
			if testCase.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !testCase.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if testCase.wantErr {
				return
			}
			if got != testCase.want {
				t.Fatalf("level = %v, want %v", got, testCase.want)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	t.Run("loads all supported fields from config file", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "bot.json")
		writeConfigFile(t, configPath, `{
			"log_level":"warn",
			"kernel":{
				"module_hook_timeout":"7s",
				"shutdown_timeout":"15s",
				"subscription_buffer":64,
				"subscription_workers":5
			},
			`+telegramDriverJSON+`,
			"cache":{
				"memory_entries":512,
				"fallback_ttl":"90s",
				"ttl":{"user.getrecenttracks":"0s","discogs.release":"2h"},
				"coalescing":false,
				"upstream_timeout":"4s"
			},
			"lastfm":{"max_pages":5,"fan_out":8},
			"pagination":{"registry_size":32,"registry_ttl":"1h"},
			"housekeeping":{
				"sweep_interval":"15m",
				"member_retention":"720h",
				"optimize_every":6,
				"health_file":" /tmp/fmgram.health ",
				"health_interval":"10s"
			}
		}`)

		cfg, err := loadConfig(config.Environment{ConfigFile: configPath}, newTestRegistry(t))
		if err != nil {
			t.Fatalf("load config failed: %v", err)
		}

		if cfg.logLevel != slog.LevelWarn {
			t.Fatalf("log level = %v, want %v", cfg.logLevel, slog.LevelWarn)
		}
		if cfg.moduleHookTimeout != 7*time.Second {
			t.Fatalf("module hook timeout = %s, want 7s", cfg.moduleHookTimeout)
		}
		if cfg.shutdownTimeout != 15*time.Second {
			t.Fatalf("shutdown timeout = %s, want 15s", cfg.shutdownTimeout)
		}
		if cfg.subscriptionBuffer != 64 || cfg.subscriptionWorkers != 5 {
			t.Fatalf("subscription = %d/%d, want 64/5", cfg.subscriptionBuffer, cfg.subscriptionWorkers)
		}

		wantCache := cacheConfig{
			memoryEntries: 512,
			fallbackTTL:   90 * time.Second,
			ttlOverrides: map[string]time.Duration{
				"user.getrecenttracks": 0,
				"discogs.release":      2 * time.Hour,
			},
			coalescing:      false,
			upstreamTimeout: 4 * time.Second,
		}
		if diff := cmp.Diff(wantCache, cfg.cache, cmp.AllowUnexported(cacheConfig{})); diff != "" {
			t.Fatalf("cache config mismatch (-want +got):\n%s", diff)
		}
		if cfg.lastfm.maxPages != 5 || cfg.lastfm.fanOut != 8 {
			t.Fatalf("lastfm = %+v, want max_pages 5 fan_out 8", cfg.lastfm)
		}
		if cfg.pagination.RegistrySize != 32 || cfg.pagination.RegistryTTL != time.Hour {
			t.Fatalf("pagination = %+v, want 32 entries for 1h", cfg.pagination)
		}
		if cfg.housekeeping.SweepInterval != 15*time.Minute ||
			cfg.housekeeping.MemberRetention != 720*time.Hour ||
			cfg.housekeeping.OptimizeEvery != 6 ||
			cfg.housekeeping.HealthFile != "/tmp/fmgram.health" ||
			cfg.housekeeping.HealthInterval != 10*time.Second {
			t.Fatalf("housekeeping = %+v", cfg.housekeeping)
		}
	})

	t.Run("single driver derives default route", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "bot.json")
		writeConfigFile(t, configPath, `{`+telegramDriverJSON+`}`)

		cfg, err := loadConfig(config.Environment{ConfigFile: configPath}, newTestRegistry(t))
		if err != nil {
			t.Fatalf("load config failed: %v", err)
		}
		if cfg.routingDefault == nil {
			t.Fatal("routing default is nil")
		}
		want := []fmgram.EventSource{{Platform: fmgram.PlatformTelegram, ID: "tg-main"}}
		if diff := cmp.Diff(want, cfg.routingDefault.Sources); diff != "" {
			t.Fatalf("default sources mismatch (-want +got):\n%s", diff)
		}
		if !cfg.cache.coalescing || cfg.cache.memoryEntries != defaultMemoryEntries {
			t.Fatalf("cache defaults = %+v", cfg.cache)
		}
	})

	t.Run("environment log level overrides file", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "bot.json")
		writeConfigFile(t, configPath, `{"log_level":"warn",`+telegramDriverJSON+`}`)

		cfg, err := loadConfig(config.Environment{ConfigFile: configPath, LogLevel: "debug"}, newTestRegistry(t))
		if err != nil {
			t.Fatalf("load config failed: %v", err)
		}
		if cfg.logLevel != slog.LevelDebug {
			t.Fatalf("log level = %v, want %v", cfg.logLevel, slog.LevelDebug)
		}
	})

	t.Run("loads fallback path bin/config/bot.json when no explicit path is set", func(t *testing.T) {
		workDir := t.TempDir()
		configPath := filepath.Join(workDir, "bin", "config", "bot.json")
		writeConfigFile(t, configPath, `{"lastfm":{"max_pages":3},`+telegramDriverJSON+`}`)

		t.Chdir(workDir)

		cfg, err := loadConfig(config.Environment{}, newTestRegistry(t))
		if err != nil {
			t.Fatalf("load config failed: %v", err)
		}
		if cfg.lastfm.maxPages != 3 {
			t.Fatalf("lastfm max pages = %d, want 3", cfg.lastfm.maxPages)
		}
	})

	t.Run("invalid config values fail", func(t *testing.T) {
		tests := []struct {
			name       string
			fileJSON   string
			wantErrSub string
		}{
			{
				name:       "invalid log level",
				fileJSON:   `{"log_level":"trace",` + telegramDriverJSON + `}`,
				wantErrSub: "parse log_level",
			},
			{
				name:       "invalid kernel timeout",
				fileJSON:   `{"kernel":{"module_hook_timeout":"bad"},` + telegramDriverJSON + `}`,
				wantErrSub: "parse kernel.module_hook_timeout",
			},
			{
				name:       "non-positive kernel buffer",
				fileJSON:   `{"kernel":{"subscription_buffer":0},` + telegramDriverJSON + `}`,
				wantErrSub: "parse kernel.subscription_buffer",
			},
			{
				name:       "negative ttl override",
				fileJSON:   `{"cache":{"ttl":{"user.getinfo":"-1s"}},` + telegramDriverJSON + `}`,
				wantErrSub: "parse cache.ttl.user.getinfo",
			},
			{
				name:       "non-positive registry size",
				fileJSON:   `{"pagination":{"registry_size":0},` + telegramDriverJSON + `}`,
				wantErrSub: "parse pagination.registry_size",
			},
			{
				name:       "invalid sweep interval",
				fileJSON:   `{"housekeeping":{"sweep_interval":"soon"},` + telegramDriverJSON + `}`,
				wantErrSub: "parse housekeeping.sweep_interval",
			},
			{
				name:       "no drivers",
				fileJSON:   `{}`,
				wantErrSub: "at least one enabled driver is required",
			},
			{
				name:       "unknown driver type",
				fileJSON:   `{"drivers":[{"name":"x","type":"discord","config":{}}]}`,
				wantErrSub: "drivers[x].type",
			},
			{
				name: "unknown routed module",
				fileJSON: `{` + telegramDriverJSON + `,"routing":{"modules":{"pingpong":{
					"sources":[{"id":"tg-main"}],"sink":{"id":"tg-main"}}}}}`,
				wantErrSub: "routing.modules.pingpong: unknown module",
			},
		}

		for _, testCase := range tests {
			testCase := testCase
			t.Run(testCase.name, func(t *testing.T) {
				t.Parallel()

				configPath := filepath.Join(t.TempDir(), "bot.json")
				writeConfigFile(t, configPath, testCase.fileJSON)

				_, err := loadConfig(config.Environment{ConfigFile: configPath}, newTestRegistry(t))
				if err == nil {
					t.Fatal("expected error")
				}
				if !strings.Contains(err.Error(), testCase.wantErrSub) {
					t.Fatalf("error = %v, want substring %q", err, testCase.wantErrSub)
				}
			})
		}
	})

	t.Run("missing explicit config file fails", func(t *testing.T) {
		missing := filepath.Join(t.TempDir(), "missing.json")
		if _, err := loadConfig(config.Environment{ConfigFile: missing}, newTestRegistry(t)); err == nil {
			t.Fatal("expected error for missing config file")
		}
	})
}

func TestRegisterRuntimeModulesOrder(t *testing.T) {
	t.Parallel()

	if runtimeModuleNames[0] != "pagination" {
		t.Fatalf("first module = %q, want pagination", runtimeModuleNames[0])
	}
}
