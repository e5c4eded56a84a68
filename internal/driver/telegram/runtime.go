package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gotd/td/session"
	gotdtelegram "github.com/gotd/td/telegram"
)

const (
	defaultRuntimePublishTimeout = 2 * time.Second
	defaultRuntimeAuthTimeout    = time.Minute
	defaultRuntimeUpdateBuffer   = 256
)

// Config holds the Telegram runtime settings.
type Config struct {
	AppID          int
	AppHash        string
	BotToken       string
	SessionFile    string
	PublishTimeout time.Duration
	UpdateBuffer   int
	AuthTimeout    time.Duration
}

func (c Config) withDefaults() Config {
	c.AppHash = strings.TrimSpace(c.AppHash)
	c.BotToken = strings.TrimSpace(c.BotToken)
	c.SessionFile = strings.TrimSpace(c.SessionFile)
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = defaultRuntimePublishTimeout
	}
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = defaultRuntimeAuthTimeout
	}
	if c.UpdateBuffer <= 0 {
		c.UpdateBuffer = defaultRuntimeUpdateBuffer
	}

	return c
}

// Validate checks required credentials.
func (c Config) Validate() error {
	if c.AppID <= 0 {
		return fmt.Errorf("app_id must be > 0")
	}
	if strings.TrimSpace(c.AppHash) == "" {
		return fmt.Errorf("app_hash is required")
	}
	if strings.TrimSpace(c.BotToken) == "" {
		return fmt.Errorf("bot_token is required")
	}
	if strings.TrimSpace(c.SessionFile) == "" {
		return fmt.Errorf("session_file is required")
	}

	return nil
}

// BuildRuntime wires one gotd bot client into a driver and its outbound
// dispatcher. Both share the peer cache fed by inbound updates.
func BuildRuntime(cfg Config, logger *slog.Logger) (*Driver, *SinkDispatcher, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("build telegram runtime: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	updateChannel, err := NewGotdUpdateChannel(cfg.UpdateBuffer)
	if err != nil {
		return nil, nil, fmt.Errorf("new gotd update channel: %w", err)
	}

	sessionStorage, err := newGotdSessionStorage(cfg.SessionFile)
	if err != nil {
		return nil, nil, fmt.Errorf("new gotd session storage: %w", err)
	}

	client := gotdtelegram.NewClient(cfg.AppID, cfg.AppHash, gotdtelegram.Options{
		UpdateHandler:  updateChannel,
		SessionStorage: sessionStorage,
	})

	peers := NewPeerCache()
	reportAsync := func(_ context.Context, err error) {
		logger.Error("telegram driver async error", "error", err)
	}
	source, err := NewGotdBotSource(
		gotdAuthenticatedClient{
			client: client,
			authenticate: func(ctx context.Context) error {
				return authenticateBot(ctx, logger, client, cfg)
			},
		},
		updateChannel,
		NewDefaultGotdUpdateMapper(WithPeerCache(peers)),
		reportAsync,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("new gotd bot source: %w", err)
	}

	driver, err := NewDriver(
		source,
		NewDefaultDecoder(),
		WithPublishTimeout(cfg.PublishTimeout),
		WithErrorHandler(reportAsync),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("new telegram driver: %w", err)
	}

	sink, err := NewOutboundDispatcher(
		client,
		peers,
		WithOutboundTimeout(cfg.PublishTimeout),
		WithOutboundLogger(logger),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("new telegram sink dispatcher: %w", err)
	}

	return driver, sink, nil
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

type gotdAuthenticatedClient struct {
	client       *gotdtelegram.Client
	authenticate func(ctx context.Context) error
}

// Run executes client runtime and performs authentication before invoking fn.
func (c gotdAuthenticatedClient) Run(ctx context.Context, fn func(runCtx context.Context) error) error {
	if c.client == nil {
		return fmt.Errorf("run gotd authenticated client: nil client")
	}
	if c.authenticate == nil {
		return fmt.Errorf("run gotd authenticated client: nil authenticate callback")
	}
	if fn == nil {
		return fmt.Errorf("run gotd authenticated client: nil run callback")
	}

	if err := c.client.Run(ctx, func(runCtx context.Context) error {
		if err := c.authenticate(runCtx); err != nil {
			return fmt.Errorf("authenticate gotd client: %w", err)
		}
		if err := fn(runCtx); err != nil {
			return fmt.Errorf("run gotd client callback: %w", err)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("run gotd authenticated client: %w", err)
	}

	return nil
}

func authenticateBot(
	ctx context.Context,
	logger *slog.Logger,
	client *gotdtelegram.Client,
	cfg Config,
) error {
	authCtx, cancel := context.WithTimeout(ctx, cfg.AuthTimeout)
	defer cancel()

	status, err := client.Auth().Status(authCtx)
	if err != nil {
		return fmt.Errorf("check auth status: %w", err)
	}
	if status.Authorized {
		logger.Info("telegram session restored from local storage", "session_file", cfg.SessionFile)
		return nil
	}

	if _, err := client.Auth().Bot(authCtx, cfg.BotToken); err != nil {
		return fmt.Errorf("authenticate bot: %w", err)
	}
	logger.Info("telegram authorized with bot token", "session_file", cfg.SessionFile)

	return nil
}
