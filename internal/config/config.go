// Package config defines the top-level configuration for the tickerplant
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by TICKERPLANT_* environment variables.
type Config struct {
	Feed     FeedConfig     `toml:"feed"`
	Ticklog  TicklogConfig  `toml:"ticklog"`
	Redis    RedisConfig    `toml:"redis"`
	Postgres PostgresConfig `toml:"postgres"`
	S3       S3Config       `toml:"s3"`
	Kafka    KafkaConfig    `toml:"kafka"`
	Archive  ArchiveConfig  `toml:"archive"`
	Backtest BacktestConfig `toml:"backtest"`
	Strategy StrategyConfig `toml:"strategy"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
	Venue    string         `toml:"venue"`
}

// FeedConfig holds the realtime session endpoint, channels and timings.
type FeedConfig struct {
	URL            string   `toml:"url"`
	Channels       []string `toml:"channels"`
	SettleDelay    duration `toml:"settle_delay"`
	ErrorBackoff   duration `toml:"error_backoff"`
	KickedCooldown duration `toml:"kicked_cooldown"`
	ReconnectMin   duration `toml:"reconnect_min"`
	ReconnectMax   duration `toml:"reconnect_max"`

	// Daily maintenance window, "HH:MM" in MaintenanceTZ.
	MaintenanceStart    string   `toml:"maintenance_start"`
	MaintenanceDuration duration `toml:"maintenance_duration"`
	MaintenanceResume   duration `toml:"maintenance_resume"`
	MaintenanceTZ       string   `toml:"maintenance_tz"`
}

// TicklogConfig holds the JSON-lines tick file parameters.
type TicklogConfig struct {
	Enabled      bool     `toml:"enabled"`
	Dir          string   `toml:"dir"`
	BookThrottle duration `toml:"book_throttle"`
	MaxSizeMB    int      `toml:"max_size_mb"`
	MaxBackups   int      `toml:"max_backups"`
	Compress     bool     `toml:"compress"`
	Daily        bool     `toml:"daily"`
}

// RedisConfig holds Redis connection and latest-state cache parameters.
type RedisConfig struct {
	Enabled      bool     `toml:"enabled"`
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	KeyPrefix    string   `toml:"key_prefix"`
	RateTTL      duration `toml:"rate_ttl"`
	BookDepth    int      `toml:"book_depth"`
	BookTTL      duration `toml:"book_ttl"`
	StreamMaxLen int64    `toml:"stream_max_len"`
	OpTimeout    duration `toml:"op_timeout"`
}

// PostgresConfig holds PostgreSQL connection and trade recording parameters.
type PostgresConfig struct {
	Enabled       bool     `toml:"enabled"`
	DSN           string   `toml:"dsn"`
	Host          string   `toml:"host"`
	Port          int      `toml:"port"`
	Database      string   `toml:"database"`
	User          string   `toml:"user"`
	Password      string   `toml:"password"`
	SSLMode       string   `toml:"ssl_mode"`
	PoolMaxConns  int      `toml:"pool_max_conns"`
	PoolMinConns  int      `toml:"pool_min_conns"`
	RunMigrations bool     `toml:"run_migrations"`
	BatchSize     int      `toml:"batch_size"`
	FlushInterval duration `toml:"flush_interval"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// KafkaConfig holds event streaming parameters.
type KafkaConfig struct {
	Enabled          bool     `toml:"enabled"`
	Brokers          []string `toml:"brokers"`
	TopicPrefix      string   `toml:"topic_prefix"`
	Kinds            []string `toml:"kinds"`
	BatchTimeout     duration `toml:"batch_timeout"`
	RequireAll       bool     `toml:"require_all"`
	AutoCreateTopics bool     `toml:"auto_create_topics"`
}

// ArchiveConfig holds the tick file archiver schedule.
type ArchiveConfig struct {
	Cron                 string   `toml:"cron"`
	MinAge               duration `toml:"min_age"`
	Prefix               string   `toml:"prefix"`
	MultipartThresholdMB int      `toml:"multipart_threshold_mb"`
	DeleteLocal          bool     `toml:"delete_local"`
}

// BacktestConfig holds replay parameters. Since and Until are RFC3339 and
// may be empty.
type BacktestConfig struct {
	Source  string `toml:"source"` // "local" or "s3"
	Dir     string `toml:"dir"`
	Since   string `toml:"since"`
	Until   string `toml:"until"`
	Persist bool   `toml:"persist"`
}

// Window parses Since and Until. Empty values yield zero times.
func (b BacktestConfig) Window() (since, until time.Time, err error) {
	if b.Since != "" {
		if since, err = time.Parse(time.RFC3339, b.Since); err != nil {
			return since, until, fmt.Errorf("backtest: since: %w", err)
		}
	}
	if b.Until != "" {
		if until, err = time.Parse(time.RFC3339, b.Until); err != nil {
			return since, until, fmt.Errorf("backtest: until: %w", err)
		}
	}
	return since, until, nil
}

// StrategyConfig holds the strategy and simulated execution parameters.
type StrategyConfig struct {
	Name        string         `toml:"name"`
	Live        bool           `toml:"live"` // run against the live feed in record mode
	ModelID     string         `toml:"model_id"`
	Instrument  string         `toml:"instrument"`
	Size        float64        `toml:"size"`
	MaxPosition float64        `toml:"max_position"`
	Params      map[string]any `toml:"params"`

	MarketSubmitLatency  duration `toml:"market_submit_latency"`
	MarketReceiveLatency duration `toml:"market_receive_latency"`
	LimitSubmitLatency   duration `toml:"limit_submit_latency"`
	LimitReceiveLatency  duration `toml:"limit_receive_latency"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"` // requests per window per client, 0 disables
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	QueueSize         int      `toml:"queue_size"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Feed: FeedConfig{
			URL: "wss://ws.lightstream.bitflyer.com/json-rpc",
			Channels: []string{
				"lightning_board_snapshot_BTC_JPY",
				"lightning_board_BTC_JPY",
				"lightning_executions_BTC_JPY",
			},
			SettleDelay:         duration{3 * time.Second},
			ErrorBackoff:        duration{time.Second},
			KickedCooldown:      duration{300 * time.Second},
			ReconnectMin:        duration{5 * time.Second},
			ReconnectMax:        duration{30 * time.Second},
			MaintenanceStart:    "19:00",
			MaintenanceDuration: duration{10 * time.Minute},
			MaintenanceResume:   duration{15 * time.Minute},
			MaintenanceTZ:       "UTC",
		},
		Ticklog: TicklogConfig{
			Enabled:      true,
			Dir:          "data/ticks",
			BookThrottle: duration{100 * time.Millisecond},
			MaxSizeMB:    1024,
			MaxBackups:   14,
			Compress:     true,
			Daily:        true,
		},
		Redis: RedisConfig{
			Enabled:      false,
			Addr:         "localhost:6379",
			DB:           0,
			PoolSize:     20,
			MaxRetries:   3,
			TLSEnabled:   false,
			KeyPrefix:    "tp:",
			RateTTL:      duration{time.Minute},
			BookDepth:    50,
			BookTTL:      duration{time.Minute},
			StreamMaxLen: 100_000,
			OpTimeout:    duration{250 * time.Millisecond},
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "tickerplant",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
			BatchSize:     500,
			FlushInterval: duration{2 * time.Second},
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "tickerplant-ticks",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Kafka: KafkaConfig{
			Enabled:      false,
			Brokers:      []string{"localhost:9092"},
			TopicPrefix:  "tickerplant",
			Kinds:        []string{"Rate", "MarketTrade"},
			BatchTimeout: duration{50 * time.Millisecond},
		},
		Archive: ArchiveConfig{
			Cron:                 "30 0 * * *",
			MinAge:               duration{time.Hour},
			Prefix:               "ticks",
			MultipartThresholdMB: 64,
			DeleteLocal:          false,
		},
		Backtest: BacktestConfig{
			Source: "local",
		},
		Strategy: StrategyConfig{
			Name:                 "mean_reversion",
			Instrument:           "BTCJPY",
			Size:                 0.01,
			MaxPosition:          0.05,
			Params:               map[string]any{},
			MarketSubmitLatency:  duration{100 * time.Millisecond},
			MarketReceiveLatency: duration{time.Second},
			LimitSubmitLatency:   duration{100 * time.Millisecond},
			LimitReceiveLatency:  duration{time.Second},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   0,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events:    []string{"feed.kicked", "feed.error", "feed.maintenance", "feed.recovered", "backtest.done"},
			QueueSize: 32,
		},
		Mode:     "record",
		LogLevel: "info",
		Venue:    "bitflyer",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"record":   true,
	"backtest": true,
	"archive":  true,
	"full":     true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validKinds = map[string]bool{
	"Rate":        true,
	"MarketBook":  true,
	"MarketTrade": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	mode := strings.ToLower(c.Mode)

	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: record, backtest, archive, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}
	if c.Venue == "" {
		errs = append(errs, "venue must not be empty")
	}

	records := mode == "record" || mode == "full"

	// Feed
	if records {
		if c.Feed.URL == "" {
			errs = append(errs, "feed: url must not be empty")
		}
		if len(c.Feed.Channels) == 0 {
			errs = append(errs, "feed: at least one channel is required")
		}
	}
	if c.Feed.ReconnectMin.Duration <= 0 {
		errs = append(errs, "feed: reconnect_min must be > 0")
	}
	if c.Feed.ReconnectMax.Duration < c.Feed.ReconnectMin.Duration {
		errs = append(errs, "feed: reconnect_max must not be below reconnect_min")
	}
	if c.Feed.MaintenanceStart != "" {
		if _, err := time.Parse("15:04", c.Feed.MaintenanceStart); err != nil {
			errs = append(errs, fmt.Sprintf("feed: maintenance_start %q must be HH:MM", c.Feed.MaintenanceStart))
		}
	}
	if _, err := time.LoadLocation(c.Feed.MaintenanceTZ); err != nil {
		errs = append(errs, fmt.Sprintf("feed: unknown maintenance_tz %q", c.Feed.MaintenanceTZ))
	}

	// Ticklog
	if c.Ticklog.Enabled || mode == "archive" || mode == "full" {
		if c.Ticklog.Dir == "" {
			errs = append(errs, "ticklog: dir must not be empty")
		}
	}
	if c.Ticklog.MaxBackups < 0 {
		errs = append(errs, "ticklog: max_backups must be >= 0")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}
	if (mode == "archive" || mode == "full") && !c.S3.Enabled {
		errs = append(errs, "s3: must be enabled for mode "+mode)
	}

	// Kafka
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, "kafka: at least one broker is required")
		}
		if c.Kafka.TopicPrefix == "" {
			errs = append(errs, "kafka: topic_prefix must not be empty")
		}
		for _, k := range c.Kafka.Kinds {
			if !validKinds[k] {
				errs = append(errs, fmt.Sprintf("kafka: unknown kind %q (valid: Rate, MarketBook, MarketTrade)", k))
			}
		}
	}

	// Archive
	if mode == "archive" || mode == "full" {
		if c.Archive.Cron == "" {
			errs = append(errs, "archive: cron must not be empty")
		}
	}

	// Backtest
	if mode == "backtest" {
		switch c.Backtest.Source {
		case "local":
		case "s3":
			if !c.S3.Enabled {
				errs = append(errs, "backtest: source s3 requires s3.enabled")
			}
		default:
			errs = append(errs, fmt.Sprintf("backtest: unknown source %q (valid: local, s3)", c.Backtest.Source))
		}
		if c.Backtest.Persist && !c.Postgres.Enabled {
			errs = append(errs, "backtest: persist requires postgres.enabled")
		}
		if _, _, err := c.Backtest.Window(); err != nil {
			errs = append(errs, err.Error())
		}
	}

	// Strategy
	if mode == "backtest" || c.Strategy.Live {
		if c.Strategy.Name == "" {
			errs = append(errs, "strategy: name must not be empty")
		}
		if c.Strategy.Instrument == "" {
			errs = append(errs, "strategy: instrument must not be empty")
		}
		if c.Strategy.Size <= 0 {
			errs = append(errs, "strategy: size must be > 0")
		}
		if c.Strategy.MaxPosition < 0 {
			errs = append(errs, "strategy: max_position must be >= 0")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && !c.Redis.Enabled {
			errs = append(errs, "server: rate_limit requires redis.enabled")
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
