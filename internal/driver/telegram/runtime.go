package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"fmgram/pkg/fmgram"

	"github.com/gotd/td/session"
	gotdtelegram "github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
)

const (
	defaultRuntimeSessionFile = "data/telegram/session.json"
	defaultRuntimeTokenEnv    = "TELEGRAM_BOT_TOKEN"
	defaultRuntimeAuthTimeout = 30 * time.Second
)

// runtimeConfig is the JSON shape of one telegram driver definition.
type runtimeConfig struct {
	AppID   int    `json:"app_id"`
	AppHash string `json:"app_hash"`
	// BotToken is normally left empty and read from BotTokenEnv.
	BotToken        string `json:"bot_token"`
	BotTokenEnv     string `json:"bot_token_env"`
	PublishTimeout  string `json:"publish_timeout"`
	OutboundTimeout string `json:"outbound_timeout"`
	AuthTimeout     string `json:"auth_timeout"`
	UpdateBuffer    int    `json:"update_buffer"`
	SessionFile     string `json:"session_file"`
}

type parsedRuntimeConfig struct {
	appID           int
	appHash         string
	botToken        string
	publishTimeout  time.Duration
	outboundTimeout time.Duration
	authTimeout     time.Duration
	updateBuffer    int
	sessionFile     string
}

// Built is one assembled telegram driver instance.
type Built struct {
	Source   fmgram.EventSource
	Driver   *Driver
	Outbound *SinkDispatcher
}

// BuildRuntimeFromConfig builds one bot runtime from a driver config payload.
func BuildRuntimeFromConfig(name string, logger *slog.Logger, rawConfig []byte) (Built, error) {
	cfg, err := parseRuntimeConfig(rawConfig)
	if err != nil {
		return Built{}, fmt.Errorf("parse telegram runtime config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	sessionStorage, err := newGotdSessionStorage(cfg.sessionFile)
	if err != nil {
		return Built{}, fmt.Errorf("new gotd session storage: %w", err)
	}

	updateChannel := NewGotdUpdateChannel(cfg.updateBuffer)
	client := gotdtelegram.NewClient(cfg.appID, cfg.appHash, gotdtelegram.Options{
		UpdateHandler:  updateChannel,
		SessionStorage: sessionStorage,
	})
	peers := NewPeerCache()
	reportAsync := func(ctx context.Context, err error) {
		logger.ErrorContext(ctx, "telegram driver async error", "error", err)
	}

	source, err := NewGotdBotSource(
		gotdBotClient{
			client: client,
			authenticate: func(ctx context.Context) error {
				return authenticateBot(ctx, logger, client, cfg)
			},
		},
		updateChannel.Updates(),
		NewDefaultGotdUpdateMapper(WithPeerCache(peers)),
		gotdCallbackAnswerer{api: client.API()},
		reportAsync,
	)
	if err != nil {
		return Built{}, fmt.Errorf("new gotd bot source: %w", err)
	}

	driver, err := NewDriver(
		source,
		NewDefaultDecoder(),
		WithName(name),
		WithPublishTimeout(cfg.publishTimeout),
		WithErrorHandler(reportAsync),
	)
	if err != nil {
		return Built{}, fmt.Errorf("new telegram driver: %w", err)
	}

	sourceRef := fmgram.EventSource{Platform: DriverPlatform, ID: name}
	outbound, err := NewOutboundDispatcher(
		client,
		peers,
		WithOutboundTimeout(cfg.outboundTimeout),
		WithOutboundLogger(logger),
		WithSinkRef(fmgram.EventSink{Platform: DriverPlatform, ID: name}),
	)
	if err != nil {
		return Built{}, fmt.Errorf("new telegram sink dispatcher: %w", err)
	}

	return Built{Source: sourceRef, Driver: driver, Outbound: outbound}, nil
}

func parseRuntimeConfig(raw []byte) (parsedRuntimeConfig, error) {
	if len(raw) == 0 {
		return parsedRuntimeConfig{}, fmt.Errorf("missing config")
	}

	var parsed runtimeConfig
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return parsedRuntimeConfig{}, fmt.Errorf("unmarshal: %w", err)
	}

	cfg := parsedRuntimeConfig{
		appID:           parsed.AppID,
		appHash:         strings.TrimSpace(parsed.AppHash),
		botToken:        strings.TrimSpace(parsed.BotToken),
		publishTimeout:  defaultPublishTimeout,
		outboundTimeout: defaultOutboundTimeout,
		authTimeout:     defaultRuntimeAuthTimeout,
		updateBuffer:    parsed.UpdateBuffer,
		sessionFile:     strings.TrimSpace(parsed.SessionFile),
	}
	if cfg.sessionFile == "" {
		cfg.sessionFile = defaultRuntimeSessionFile
	}
	if cfg.botToken == "" {
		tokenEnv := strings.TrimSpace(parsed.BotTokenEnv)
		if tokenEnv == "" {
			tokenEnv = defaultRuntimeTokenEnv
		}
		cfg.botToken = strings.TrimSpace(os.Getenv(tokenEnv))
	}

	durations := []struct {
		field string
		raw   string
		dst   *time.Duration
	}{
		{field: "publish_timeout", raw: parsed.PublishTimeout, dst: &cfg.publishTimeout},
		{field: "outbound_timeout", raw: parsed.OutboundTimeout, dst: &cfg.outboundTimeout},
		{field: "auth_timeout", raw: parsed.AuthTimeout, dst: &cfg.authTimeout},
	}
	for _, duration := range durations {
		value := strings.TrimSpace(duration.raw)
		if value == "" {
			continue
		}
		parsedDuration, err := time.ParseDuration(value)
		if err != nil {
			return parsedRuntimeConfig{}, fmt.Errorf("parse %s: %w", duration.field, err)
		}
		if parsedDuration <= 0 {
			return parsedRuntimeConfig{}, fmt.Errorf("parse %s: must be > 0", duration.field)
		}
		*duration.dst = parsedDuration
	}

	switch {
	case cfg.appID <= 0:
		return parsedRuntimeConfig{}, fmt.Errorf("app_id must be > 0")
	case cfg.appHash == "":
		return parsedRuntimeConfig{}, fmt.Errorf("app_hash is required")
	case cfg.botToken == "":
		return parsedRuntimeConfig{}, fmt.Errorf("bot_token is required; set it or the bot_token_env variable")
	}

	return cfg, nil
}

func newGotdSessionStorage(path string) (*session.FileStorage, error) {
	trimmedPath := strings.TrimSpace(path)
	if trimmedPath == "" {
		return nil, fmt.Errorf("empty session file path")
	}

	absPath, err := filepath.Abs(trimmedPath)
	if err != nil {
		return nil, fmt.Errorf("resolve absolute session file path: %w", err)
	}
	sessionDir := filepath.Dir(absPath)
	if err := os.MkdirAll(sessionDir, 0o700); err != nil {
		return nil, fmt.Errorf("create session directory %s: %w", sessionDir, err)
	}

	return &session.FileStorage{Path: absPath}, nil
}

type gotdBotClient struct {
	client       *gotdtelegram.Client
	authenticate func(ctx context.Context) error
}

// Run executes the client lifecycle and authenticates before invoking fn.
func (c gotdBotClient) Run(ctx context.Context, fn func(runCtx context.Context) error) error {
	if err := c.client.Run(ctx, func(runCtx context.Context) error {
		if err := c.authenticate(runCtx); err != nil {
			return fmt.Errorf("authenticate gotd client: %w", err)
		}
		return fn(runCtx)
	}); err != nil {
		return fmt.Errorf("run gotd bot client: %w", err)
	}

	return nil
}

func authenticateBot(
	ctx context.Context,
	logger *slog.Logger,
	client *gotdtelegram.Client,
	cfg parsedRuntimeConfig,
) error {
	authCtx, cancel := context.WithTimeout(ctx, cfg.authTimeout)
	defer cancel()

	status, err := client.Auth().Status(authCtx)
	if err != nil {
		return fmt.Errorf("check auth status: %w", err)
	}
	if status.Authorized {
		logger.InfoContext(ctx, "telegram session restored", "session_file", cfg.sessionFile)
		return nil
	}

	if _, err := client.Auth().Bot(authCtx, cfg.botToken); err != nil {
		return fmt.Errorf("authenticate bot: %w", err)
	}
	logger.InfoContext(ctx, "telegram bot authorized", "session_file", cfg.sessionFile)

	return nil
}

type gotdCallbackAnswerer struct {
	api *tg.Client
}

// AnswerCallback acknowledges a press without showing an alert.
func (a gotdCallbackAnswerer) AnswerCallback(ctx context.Context, queryID int64) error {
	if _, err := a.api.MessagesSetBotCallbackAnswer(ctx, &tg.MessagesSetBotCallbackAnswerRequest{
		QueryID: queryID,
	}); err != nil {
		return fmt.Errorf("set bot callback answer: %w", err)
	}

	return nil
}
