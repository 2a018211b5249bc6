package telegram

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseRuntimeConfig(t *testing.T) {
	t.Parallel()

	cfg, err := parseRuntimeConfig([]byte(`{
		"app_id": 1,
		"app_hash": " hash ",
		"bot_token": "123:abc",
		"publish_timeout": "5s",
		"update_buffer": 64
	}`))
	if err != nil {
		t.Fatalf("parse runtime config failed: %v", err)
	}

	got := struct {
		AppID           int
		AppHash         string
		BotToken        string
		PublishTimeout  time.Duration
		OutboundTimeout time.Duration
		AuthTimeout     time.Duration
		UpdateBuffer    int
		SessionFile     string
	}{cfg.appID, cfg.appHash, cfg.botToken, cfg.publishTimeout, cfg.outboundTimeout, cfg.authTimeout, cfg.updateBuffer, cfg.sessionFile}
	want := got
	want.AppID = 1
	want.AppHash = "hash"
	want.BotToken = "123:abc"
	want.PublishTimeout = 5 * time.Second
	want.OutboundTimeout = defaultOutboundTimeout
	want.AuthTimeout = defaultRuntimeAuthTimeout
	want.UpdateBuffer = 64
	want.SessionFile = defaultRuntimeSessionFile
	if got != want {
		t.Fatalf("config = %+v, want %+v", got, want)
	}
}

func TestParseRuntimeConfigRejectsInvalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		wantErr string
	}{
		{name: "empty", raw: ``, wantErr: "missing config"},
		{name: "malformed", raw: `{`, wantErr: "unmarshal"},
		{name: "bad duration", raw: `{"app_id":1,"app_hash":"h","bot_token":"t","publish_timeout":"bad"}`, wantErr: "publish_timeout"},
		{name: "negative duration", raw: `{"app_id":1,"app_hash":"h","bot_token":"t","auth_timeout":"-1s"}`, wantErr: "auth_timeout"},
		{name: "missing app id", raw: `{"app_hash":"h","bot_token":"t"}`, wantErr: "app_id"},
		{name: "missing app hash", raw: `{"app_id":1,"bot_token":"t"}`, wantErr: "app_hash"},
		{
			name:    "missing token",
			raw:     `{"app_id":1,"app_hash":"h","bot_token_env":"FMGRAM_TEST_UNSET_TOKEN"}`,
			wantErr: "bot_token",
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			_, err := parseRuntimeConfig([]byte(testCase.raw))
			if err == nil || !strings.Contains(err.Error(), testCase.wantErr) {
				t.Fatalf("parse error = %v, want containing %q", err, testCase.wantErr)
			}
		})
	}
}

func TestParseRuntimeConfigReadsTokenFromEnvironment(t *testing.T) {
	t.Setenv("FMGRAM_TEST_BOT_TOKEN", " 42:secret ")

	cfg, err := parseRuntimeConfig([]byte(`{"app_id":1,"app_hash":"h","bot_token_env":"FMGRAM_TEST_BOT_TOKEN"}`))
	if err != nil {
		t.Fatalf("parse runtime config failed: %v", err)
	}
	if cfg.botToken != "42:secret" {
		t.Fatalf("bot token = %q, want 42:secret", cfg.botToken)
	}
}

func TestNewGotdSessionStorage(t *testing.T) {
	t.Parallel()

	sessionPath := filepath.Join(t.TempDir(), "nested", "telegram", "session.json")
	storage, err := newGotdSessionStorage(sessionPath)
	if err != nil {
		t.Fatalf("new gotd session storage failed: %v", err)
	}
	if !filepath.IsAbs(storage.Path) {
		t.Fatalf("session path = %q, want absolute", storage.Path)
	}
	if _, err := newGotdSessionStorage("   "); err == nil {
		t.Fatal("expected empty path error")
	}
}
