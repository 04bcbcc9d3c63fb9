package testsupport

import (
	"testing"

	"edicola/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	cfg := config.Default()
	cfg.Paths.DataDir = t.TempDir()
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Upstream.ManifestDelay = 0
	if err := cfg.Normalize(); err != nil {
		t.Fatalf("normalize config: %v", err)
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	return &cfg
}

// WithTelegram sets delivery channel credentials on the test config.
func WithTelegram(botToken, chatID string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Telegram.BotToken = botToken
		cfg.Telegram.ChatID = chatID
	}
}

// WithThresholdDate overrides the scheduler threshold date.
func WithThresholdDate(date string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Workflow.ThresholdDate = date
	}
}
