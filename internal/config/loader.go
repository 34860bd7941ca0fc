package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies TICKERPLANT_* environment variable overrides,
// and returns the final Config. An empty path skips the file. The returned
// Config has NOT been validated; the caller should invoke Config.Validate()
// after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known TICKERPLANT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Feed ──
	setStr(&cfg.Feed.URL, "TICKERPLANT_FEED_URL")
	setStringSlice(&cfg.Feed.Channels, "TICKERPLANT_FEED_CHANNELS")
	setDuration(&cfg.Feed.KickedCooldown, "TICKERPLANT_FEED_KICKED_COOLDOWN")
	setDuration(&cfg.Feed.ReconnectMin, "TICKERPLANT_FEED_RECONNECT_MIN")
	setDuration(&cfg.Feed.ReconnectMax, "TICKERPLANT_FEED_RECONNECT_MAX")
	setStr(&cfg.Feed.MaintenanceStart, "TICKERPLANT_FEED_MAINTENANCE_START")
	setStr(&cfg.Feed.MaintenanceTZ, "TICKERPLANT_FEED_MAINTENANCE_TZ")

	// ── Ticklog ──
	setBool(&cfg.Ticklog.Enabled, "TICKERPLANT_TICKLOG_ENABLED")
	setStr(&cfg.Ticklog.Dir, "TICKERPLANT_TICKLOG_DIR")
	setDuration(&cfg.Ticklog.BookThrottle, "TICKERPLANT_TICKLOG_BOOK_THROTTLE")
	setInt(&cfg.Ticklog.MaxBackups, "TICKERPLANT_TICKLOG_MAX_BACKUPS")
	setBool(&cfg.Ticklog.Compress, "TICKERPLANT_TICKLOG_COMPRESS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "TICKERPLANT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "TICKERPLANT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TICKERPLANT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TICKERPLANT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "TICKERPLANT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "TICKERPLANT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "TICKERPLANT_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "TICKERPLANT_REDIS_KEY_PREFIX")
	setInt64(&cfg.Redis.StreamMaxLen, "TICKERPLANT_REDIS_STREAM_MAX_LEN")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "TICKERPLANT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "TICKERPLANT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "TICKERPLANT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "TICKERPLANT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "TICKERPLANT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "TICKERPLANT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "TICKERPLANT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "TICKERPLANT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "TICKERPLANT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "TICKERPLANT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "TICKERPLANT_POSTGRES_RUN_MIGRATIONS")
	setInt(&cfg.Postgres.BatchSize, "TICKERPLANT_POSTGRES_BATCH_SIZE")
	setDuration(&cfg.Postgres.FlushInterval, "TICKERPLANT_POSTGRES_FLUSH_INTERVAL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "TICKERPLANT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "TICKERPLANT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "TICKERPLANT_S3_REGION")
	setStr(&cfg.S3.Bucket, "TICKERPLANT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "TICKERPLANT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "TICKERPLANT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "TICKERPLANT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "TICKERPLANT_S3_FORCE_PATH_STYLE")

	// ── Kafka ──
	setBool(&cfg.Kafka.Enabled, "TICKERPLANT_KAFKA_ENABLED")
	setStringSlice(&cfg.Kafka.Brokers, "TICKERPLANT_KAFKA_BROKERS")
	setStr(&cfg.Kafka.TopicPrefix, "TICKERPLANT_KAFKA_TOPIC_PREFIX")
	setStringSlice(&cfg.Kafka.Kinds, "TICKERPLANT_KAFKA_KINDS")
	setBool(&cfg.Kafka.RequireAll, "TICKERPLANT_KAFKA_REQUIRE_ALL")

	// ── Archive ──
	setStr(&cfg.Archive.Cron, "TICKERPLANT_ARCHIVE_CRON")
	setDuration(&cfg.Archive.MinAge, "TICKERPLANT_ARCHIVE_MIN_AGE")
	setStr(&cfg.Archive.Prefix, "TICKERPLANT_ARCHIVE_PREFIX")
	setBool(&cfg.Archive.DeleteLocal, "TICKERPLANT_ARCHIVE_DELETE_LOCAL")

	// ── Backtest ──
	setStr(&cfg.Backtest.Source, "TICKERPLANT_BACKTEST_SOURCE")
	setStr(&cfg.Backtest.Dir, "TICKERPLANT_BACKTEST_DIR")
	setStr(&cfg.Backtest.Since, "TICKERPLANT_BACKTEST_SINCE")
	setStr(&cfg.Backtest.Until, "TICKERPLANT_BACKTEST_UNTIL")
	setBool(&cfg.Backtest.Persist, "TICKERPLANT_BACKTEST_PERSIST")

	// ── Strategy ──
	setStr(&cfg.Strategy.Name, "TICKERPLANT_STRATEGY_NAME")
	setBool(&cfg.Strategy.Live, "TICKERPLANT_STRATEGY_LIVE")
	setStr(&cfg.Strategy.ModelID, "TICKERPLANT_STRATEGY_MODEL_ID")
	setStr(&cfg.Strategy.Instrument, "TICKERPLANT_STRATEGY_INSTRUMENT")
	setFloat64(&cfg.Strategy.Size, "TICKERPLANT_STRATEGY_SIZE")
	setFloat64(&cfg.Strategy.MaxPosition, "TICKERPLANT_STRATEGY_MAX_POSITION")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "TICKERPLANT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "TICKERPLANT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "TICKERPLANT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "TICKERPLANT_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "TICKERPLANT_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "TICKERPLANT_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "TICKERPLANT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TICKERPLANT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "TICKERPLANT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "TICKERPLANT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "TICKERPLANT_MODE")
	setStr(&cfg.LogLevel, "TICKERPLANT_LOG_LEVEL")
	setStr(&cfg.Venue, "TICKERPLANT_VENUE")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
