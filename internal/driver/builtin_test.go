package driver

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"fmgram/internal/driver/telegram"
)

func TestNewBuiltinRegistryIncludesTelegram(t *testing.T) {
	t.Parallel()

	registry, err := NewBuiltinRegistry()
	if err != nil {
		t.Fatalf("new builtin registry failed: %v", err)
	}
	if diff := cmp.Diff([]string{telegram.DriverType}, registry.Types()); diff != "" {
		t.Fatalf("types mismatch (-want +got):\n%s", diff)
	}

	platform, err := registry.PlatformForType(telegram.DriverType)
	if err != nil {
		t.Fatalf("platform for telegram type failed: %v", err)
	}
	if platform != telegram.DriverPlatform {
		t.Fatalf("platform = %s, want %s", platform, telegram.DriverPlatform)
	}
}

func TestBuiltinTelegramRejectsMissingToken(t *testing.T) {
	t.Parallel()

	registry, err := NewBuiltinRegistry()
	if err != nil {
		t.Fatalf("new builtin registry failed: %v", err)
	}

	_, err = registry.BuildEnabled(context.Background(), []Definition{
		{Name: "tg-main", Type: telegram.DriverType, Enabled: true, Config: []byte(`{"app_id":1,"app_hash":"h","bot_token_env":"FMGRAM_TEST_UNSET_TOKEN"}`)},
	}, slog.Default())
	if err == nil || !strings.Contains(err.Error(), "bot_token") {
		t.Fatalf("build error = %v, want bot_token hint", err)
	}
}
