package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"

	"npa-monitor/internal/catalog"
	"npa-monitor/internal/driver/telegram"
	"npa-monitor/internal/regulation"
	"npa-monitor/internal/retry"
	"npa-monitor/modules/digest"
	"npa-monitor/modules/menu"
	"npa-monitor/pkg/npa"
)

const (
	envConfigFile       = "NPA_CONFIG_FILE"
	envTelegramBotToken = "NPA_TELEGRAM_BOT_TOKEN"
	envTelegramAppHash  = "NPA_TELEGRAM_APP_HASH"

	dataDirName = "npa-monitor"

	defaultModuleHookTimeout  = 3 * time.Second
	defaultShutdownTimeout    = 10 * time.Second
	defaultSubscriptionBuffer = 256
	defaultSubscriptionWorker = 4
	defaultHandlerTimeout     = 3 * time.Second
)

var configFileCandidates = []string{
	"config/bot.yaml",
	"config/bot.json",
	"bin/config/bot.yaml",
}

type appConfig struct {
	logLevel slog.Level

	moduleHookTimeout   time.Duration
	shutdownTimeout     time.Duration
	subscriptionBuffer  int
	subscriptionWorkers int
	handlerTimeout      time.Duration

	telegramAppID          int
	telegramAppHash        string
	telegramBotToken       string
	telegramSessionFile    string
	telegramPublishTimeout time.Duration
	telegramUpdateBuffer   int
	telegramAuthTimeout    time.Duration

	regulationEndpoint       string
	regulationPageSize       int
	regulationRequestTimeout time.Duration
	regulationUserAgent      string

	fetchMaxRetries     int
	fetchInitialDelay   time.Duration
	fetchHandlerTimeout time.Duration

	cacheLimits catalog.Limits

	digestSchedule     string
	digestLocation     *time.Location
	digestSendInterval time.Duration
	digestMaxPages     int

	storePath     string
	metricsListen string
}

type fileConfig struct {
	LogLevel   string               `yaml:"log_level"`
	Kernel     fileKernelConfig     `yaml:"kernel"`
	Telegram   fileTelegramConfig   `yaml:"telegram"`
	Regulation fileRegulationConfig `yaml:"regulation"`
	Fetch      fileFetchConfig      `yaml:"fetch"`
	Cache      fileCacheConfig      `yaml:"cache"`
	Digest     fileDigestConfig     `yaml:"digest"`
	Store      fileStoreConfig      `yaml:"store"`
	Metrics    fileMetricsConfig    `yaml:"metrics"`
}

type fileKernelConfig struct {
	ModuleHookTimeout   string `yaml:"module_hook_timeout"`
	ShutdownTimeout     string `yaml:"shutdown_timeout"`
	SubscriptionBuffer  *int   `yaml:"subscription_buffer"`
	SubscriptionWorkers *int   `yaml:"subscription_workers"`
	HandlerTimeout      string `yaml:"handler_timeout"`
}

type fileTelegramConfig struct {
	AppID          *int   `yaml:"app_id"`
	AppHash        string `yaml:"app_hash"`
	BotToken       string `yaml:"bot_token"`
	SessionFile    string `yaml:"session_file"`
	PublishTimeout string `yaml:"publish_timeout"`
	UpdateBuffer   *int   `yaml:"update_buffer"`
	AuthTimeout    string `yaml:"auth_timeout"`
}

type fileRegulationConfig struct {
	Endpoint       string `yaml:"endpoint"`
	PageSize       *int   `yaml:"page_size"`
	RequestTimeout string `yaml:"request_timeout"`
	UserAgent      string `yaml:"user_agent"`
}

type fileFetchConfig struct {
	MaxRetries     *int   `yaml:"max_retries"`
	InitialDelay   string `yaml:"initial_delay"`
	HandlerTimeout string `yaml:"handler_timeout"`
}

type fileCacheConfig struct {
	Filings       fileCacheLimits `yaml:"filings"`
	Archive       fileCacheLimits `yaml:"archive"`
	Subscriptions fileCacheLimits `yaml:"subscriptions"`
}

type fileCacheLimits struct {
	MaxSize *int   `yaml:"max_size"`
	TTL     string `yaml:"ttl"`
}

type fileDigestConfig struct {
	Schedule     string `yaml:"schedule"`
	Timezone     string `yaml:"timezone"`
	SendInterval string `yaml:"send_interval"`
	MaxPages     *int   `yaml:"max_pages"`
}

type fileStoreConfig struct {
	Path string `yaml:"path"`
}

type fileMetricsConfig struct {
	Listen string `yaml:"listen"`
}

// loadConfig reads the config file at explicitPath, or the first candidate
// found when explicitPath is empty. Without any file the defaults are used
// only when required is false.
func loadConfig(explicitPath string, required bool) (appConfig, error) {
	cfg := defaultAppConfig()

	configFile, found, err := resolveConfigFilePath(explicitPath)
	if err != nil {
		return appConfig{}, err
	}
	if !found && required {
		return appConfig{}, fmt.Errorf(
			"config file not found; create one of %s, pass --config or set %s",
			strings.Join(configFileCandidates, ", "),
			envConfigFile,
		)
	}
	if found {
		if err := applyConfigFile(&cfg, configFile); err != nil {
			return appConfig{}, err
		}
	}
	applyEnvOverrides(&cfg)

	return cfg, nil
}

func resolveConfigFilePath(explicitPath string) (string, bool, error) {
	if configFile := strings.TrimSpace(explicitPath); configFile != "" {
		return configFile, true, nil
	}
	if configFile := strings.TrimSpace(os.Getenv(envConfigFile)); configFile != "" {
		return configFile, true, nil
	}

	for _, candidate := range configFileCandidates {
		info, err := os.Stat(candidate)
		if err == nil {
			if info.IsDir() {
				return "", false, fmt.Errorf("config file %s is a directory", candidate)
			}
			return candidate, true, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("stat config file %s: %w", candidate, err)
		}
	}

	return "", false, nil
}

func defaultAppConfig() appConfig {
	return appConfig{
		logLevel: slog.LevelInfo,

		moduleHookTimeout:   defaultModuleHookTimeout,
		shutdownTimeout:     defaultShutdownTimeout,
		subscriptionBuffer:  defaultSubscriptionBuffer,
		subscriptionWorkers: defaultSubscriptionWorker,
		handlerTimeout:      defaultHandlerTimeout,

		telegramSessionFile: filepath.Join(xdg.DataHome, dataDirName, "telegram-session.json"),

		regulationEndpoint:       regulation.DefaultEndpoint,
		regulationPageSize:       regulation.DefaultPageSize,
		regulationRequestTimeout: regulation.DefaultRequestTimeout,
		regulationUserAgent:      regulation.DefaultUserAgent,

		fetchMaxRetries:     retry.DefaultMaxRetries,
		fetchInitialDelay:   retry.DefaultInitialDelay,
		fetchHandlerTimeout: menu.DefaultHandlerTimeout,

		cacheLimits: catalog.DefaultLimits(),

		digestSchedule:     digest.DefaultSchedule,
		digestLocation:     npa.PublicationZone,
		digestSendInterval: digest.DefaultSendInterval,
		digestMaxPages:     catalog.DefaultDailyPages,

		storePath: filepath.Join(xdg.DataHome, dataDirName, "npa.db"),
	}
}

func applyConfigFile(cfg *appConfig, path string) error {
	if cfg == nil {
		return fmt.Errorf("apply config file: nil config")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	var parsed fileConfig
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&parsed); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if err := applyParsedConfig(cfg, parsed); err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}

	return nil
}

func applyParsedConfig(cfg *appConfig, parsed fileConfig) error {
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
	if err := applyTelegramConfig(cfg, parsed.Telegram); err != nil {
		return err
	}
	if err := applyRegulationConfig(cfg, parsed.Regulation, parsed.Fetch); err != nil {
		return err
	}
	if err := applyCacheConfig(cfg, parsed.Cache); err != nil {
		return err
	}
	if err := applyDigestConfig(cfg, parsed.Digest); err != nil {
		return err
	}

	if path := strings.TrimSpace(parsed.Store.Path); path != "" {
		cfg.storePath = path
	}
	cfg.metricsListen = strings.TrimSpace(parsed.Metrics.Listen)

	return nil
}

func applyKernelConfig(cfg *appConfig, parsed fileKernelConfig) error {
	if err := parsePositiveDuration(parsed.ModuleHookTimeout, "kernel.module_hook_timeout", &cfg.moduleHookTimeout); err != nil {
		return err
	}
	if err := parsePositiveDuration(parsed.ShutdownTimeout, "kernel.shutdown_timeout", &cfg.shutdownTimeout); err != nil {
		return err
	}
	if err := parsePositiveInt(parsed.SubscriptionBuffer, "kernel.subscription_buffer", &cfg.subscriptionBuffer); err != nil {
		return err
	}
	if err := parsePositiveDuration(parsed.HandlerTimeout, "kernel.handler_timeout", &cfg.handlerTimeout); err != nil {
		return err
	}

	return parsePositiveInt(parsed.SubscriptionWorkers, "kernel.subscription_workers", &cfg.subscriptionWorkers)
}

func applyTelegramConfig(cfg *appConfig, parsed fileTelegramConfig) error {
	if err := parsePositiveInt(parsed.AppID, "telegram.app_id", &cfg.telegramAppID); err != nil {
		return err
	}
	if value := strings.TrimSpace(parsed.AppHash); value != "" {
		cfg.telegramAppHash = value
	}
	if value := strings.TrimSpace(parsed.BotToken); value != "" {
		cfg.telegramBotToken = value
	}
	if value := strings.TrimSpace(parsed.SessionFile); value != "" {
		cfg.telegramSessionFile = value
	}
	if err := parsePositiveDuration(parsed.PublishTimeout, "telegram.publish_timeout", &cfg.telegramPublishTimeout); err != nil {
		return err
	}
	if err := parsePositiveInt(parsed.UpdateBuffer, "telegram.update_buffer", &cfg.telegramUpdateBuffer); err != nil {
		return err
	}

	return parsePositiveDuration(parsed.AuthTimeout, "telegram.auth_timeout", &cfg.telegramAuthTimeout)
}

func applyRegulationConfig(cfg *appConfig, parsed fileRegulationConfig, fetch fileFetchConfig) error {
	if value := strings.TrimSpace(parsed.Endpoint); value != "" {
		cfg.regulationEndpoint = value
	}
	if err := parsePositiveInt(parsed.PageSize, "regulation.page_size", &cfg.regulationPageSize); err != nil {
		return err
	}
	if err := parsePositiveDuration(parsed.RequestTimeout, "regulation.request_timeout", &cfg.regulationRequestTimeout); err != nil {
		return err
	}
	if value := strings.TrimSpace(parsed.UserAgent); value != "" {
		cfg.regulationUserAgent = value
	}
	if err := parsePositiveInt(fetch.MaxRetries, "fetch.max_retries", &cfg.fetchMaxRetries); err != nil {
		return err
	}

	if err := parsePositiveDuration(fetch.InitialDelay, "fetch.initial_delay", &cfg.fetchInitialDelay); err != nil {
		return err
	}

	return parsePositiveDuration(fetch.HandlerTimeout, "fetch.handler_timeout", &cfg.fetchHandlerTimeout)
}

func applyCacheConfig(cfg *appConfig, parsed fileCacheConfig) error {
	if err := applyCacheLimits(&cfg.cacheLimits.Filings, parsed.Filings, "cache.filings"); err != nil {
		return err
	}
	if err := applyCacheLimits(&cfg.cacheLimits.Archive, parsed.Archive, "cache.archive"); err != nil {
		return err
	}

	return applyCacheLimits(&cfg.cacheLimits.Subscriptions, parsed.Subscriptions, "cache.subscriptions")
}

func applyCacheLimits(limits *catalog.CacheLimits, parsed fileCacheLimits, scope string) error {
	if err := parsePositiveInt(parsed.MaxSize, scope+".max_size", &limits.MaxSize); err != nil {
		return err
	}

	return parsePositiveDuration(parsed.TTL, scope+".ttl", &limits.TTL)
}

func applyDigestConfig(cfg *appConfig, parsed fileDigestConfig) error {
	if value := strings.TrimSpace(parsed.Schedule); value != "" {
		cfg.digestSchedule = value
	}
	if name := strings.TrimSpace(parsed.Timezone); name != "" {
		location, err := time.LoadLocation(name)
		if err != nil {
			return fmt.Errorf("parse digest.timezone: %w", err)
		}
		cfg.digestLocation = location
	}
	if err := parsePositiveDuration(parsed.SendInterval, "digest.send_interval", &cfg.digestSendInterval); err != nil {
		return err
	}

	return parsePositiveInt(parsed.MaxPages, "digest.max_pages", &cfg.digestMaxPages)
}

func applyEnvOverrides(cfg *appConfig) {
	if value := strings.TrimSpace(os.Getenv(envTelegramBotToken)); value != "" {
		cfg.telegramBotToken = value
	}
	if value := strings.TrimSpace(os.Getenv(envTelegramAppHash)); value != "" {
		cfg.telegramAppHash = value
	}
}

func (c appConfig) telegramConfig() telegram.Config {
	return telegram.Config{
		AppID:          c.telegramAppID,
		AppHash:        c.telegramAppHash,
		BotToken:       c.telegramBotToken,
		SessionFile:    c.telegramSessionFile,
		PublishTimeout: c.telegramPublishTimeout,
		UpdateBuffer:   c.telegramUpdateBuffer,
		AuthTimeout:    c.telegramAuthTimeout,
	}
}

func parsePositiveDuration(raw string, field string, target *time.Duration) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	value, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse %s: %w", field, err)
	}
	if value <= 0 {
		return fmt.Errorf("parse %s: must be > 0", field)
	}
	*target = value

	return nil
}

func parsePositiveInt(raw *int, field string, target *int) error {
	if raw == nil {
		return nil
	}
	if *raw <= 0 {
		return fmt.Errorf("parse %s: must be > 0", field)
	}
	*target = *raw

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
