package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"block-streamer/internal/logging"
)

const envPrefix = "BLOCKSTREAM"

// ErrNoProviders is returned when the configuration lists no RPC providers.
var ErrNoProviders = errors.New("config: at least one provider must be configured")

// Config materialises application configuration.
type Config struct {
	App       AppConfig        `mapstructure:"app"`
	Logging   logging.Config   `mapstructure:"logging"`
	Stream    StreamConfig     `mapstructure:"stream"`
	Providers []ProviderConfig `mapstructure:"providers"`
	Output    OutputConfig     `mapstructure:"output"`
	Database  DatabaseConfig   `mapstructure:"database"`
	Telemetry TelemetryConfig  `mapstructure:"telemetry"`
	Alerting  AlertingConfig   `mapstructure:"alerting"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// StreamConfig governs polling cadence and provider health scoring.
type StreamConfig struct {
	ChainID           uint64        `mapstructure:"chain_id"`
	ExpectedBlockTime time.Duration `mapstructure:"expected_block_time"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	// StartBlock is the first block to emit; zero starts at the provider's head.
	StartBlock       uint64        `mapstructure:"start_block"`
	LagThreshold     time.Duration `mapstructure:"lag_threshold"`
	FailureRatio     float64       `mapstructure:"failure_ratio"`
	ScoreHalfLife    time.Duration `mapstructure:"score_half_life"`
	NoHealthyBackoff time.Duration `mapstructure:"no_healthy_backoff"`
}

// ProviderConfig describes one RPC endpoint. Order matters: the first entry starts active.
type ProviderConfig struct {
	Name string `mapstructure:"name"`
	URL  string `mapstructure:"url"`
	// URLTemplate takes precedence over URL; ${VAR} references are filled from the environment.
	URLTemplate     string        `mapstructure:"url_template"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxConcurrent   int64         `mapstructure:"max_concurrent"`
	RatePerSecond   float64       `mapstructure:"rate_per_second"`
	Burst           int           `mapstructure:"burst"`
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout"`
}

// OutputConfig selects where validated blocks are written.
type OutputConfig struct {
	Stdout bool `mapstructure:"stdout"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity. An empty DSN disables persistence.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
}

// TelemetryConfig controls the metrics and health HTTP server.
type TelemetryConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// AlertingConfig defines provider switch notifications.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Timeout  time.Duration  `mapstructure:"timeout"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// Load builds configuration from file, .env, environment, and defaults.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.resolveProviderURLs(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "blockstream")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("stream.chain_id", 1)
	v.SetDefault("stream.expected_block_time", "12s")
	v.SetDefault("stream.poll_interval", "2s")
	v.SetDefault("stream.start_block", 0)
	v.SetDefault("stream.lag_threshold", "30s")
	v.SetDefault("stream.failure_ratio", 0.2)
	v.SetDefault("stream.score_half_life", "60s")
	v.SetDefault("stream.no_healthy_backoff", "2s")

	v.SetDefault("output.stdout", true)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.write_timeout", "5s")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.listen_addr", ":9464")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.timeout", "10s")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			secondsToDurationHook(),
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

func (c *Config) resolveProviderURLs() error {
	for i := range c.Providers {
		p := &c.Providers[i]
		raw := p.URL
		if p.URLTemplate != "" {
			raw = p.URLTemplate
		}
		url, err := expandEnv(raw)
		if err != nil {
			return fmt.Errorf("provider %q url: %w", p.Name, err)
		}
		p.URL = url
	}
	return nil
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return ErrNoProviders
	}
	seen := make(map[string]struct{}, len(c.Providers))
	for i, p := range c.Providers {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("providers[%d].name must be set", i)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("provider name %q is duplicated", p.Name)
		}
		seen[p.Name] = struct{}{}
		if strings.TrimSpace(p.URL) == "" {
			return fmt.Errorf("provider %q needs url or url_template", p.Name)
		}
		if p.Timeout < 0 || p.MaxConcurrent < 0 || p.RatePerSecond < 0 {
			return fmt.Errorf("provider %q limits cannot be negative", p.Name)
		}
	}

	s := c.Stream
	if s.PollInterval <= 0 {
		return fmt.Errorf("stream.poll_interval must be greater than zero")
	}
	if s.ScoreHalfLife <= 0 {
		return fmt.Errorf("stream.score_half_life must be greater than zero")
	}
	if s.LagThreshold <= 0 {
		return fmt.Errorf("stream.lag_threshold must be greater than zero")
	}
	if s.ExpectedBlockTime > 0 && s.LagThreshold < s.ExpectedBlockTime {
		return fmt.Errorf("stream.lag_threshold (%s) must not be shorter than stream.expected_block_time (%s)", s.LagThreshold, s.ExpectedBlockTime)
	}
	if s.FailureRatio <= 0 || s.FailureRatio > 1 {
		return fmt.Errorf("stream.failure_ratio must be within (0, 1], got %v", s.FailureRatio)
	}
	if s.NoHealthyBackoff < 0 {
		return fmt.Errorf("stream.no_healthy_backoff cannot be negative")
	}

	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	if c.Telemetry.Enabled && c.Telemetry.ListenAddr == "" {
		return fmt.Errorf("telemetry.listen_addr must be set when telemetry is enabled")
	}
	return nil
}

// ProviderNames lists provider names in priority order.
func (c *Config) ProviderNames() []string {
	names := make([]string, len(c.Providers))
	for i, p := range c.Providers {
		names[i] = p.Name
	}
	return names
}
