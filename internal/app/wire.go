package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/tickerplant/internal/blob/s3"
	"github.com/alanyoungcy/tickerplant/internal/cache/redis"
	"github.com/alanyoungcy/tickerplant/internal/config"
	"github.com/alanyoungcy/tickerplant/internal/domain"
	"github.com/alanyoungcy/tickerplant/internal/identity"
	"github.com/alanyoungcy/tickerplant/internal/notify"
	"github.com/alanyoungcy/tickerplant/internal/server/handler"
	"github.com/alanyoungcy/tickerplant/internal/store/postgres"
	"github.com/alanyoungcy/tickerplant/internal/stream/kafka"
)

// Dependencies bundles the backends the modes run against. Each optional
// backend is nil unless enabled in the configuration.
type Dependencies struct {
	Identity domain.Identity

	// Stores
	TradeStore domain.TradeStore
	OrderStore domain.OrderStore

	// Caches
	RateCache   domain.RateCache
	BookCache   domain.BookCache
	SignalBus   domain.SignalBus
	RateLimiter domain.RateLimiter

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader

	// Streaming
	Producer domain.MessageProducer

	// Notifications
	Notifier *notify.Notifier

	// Checks probes every connected backend for /api/health.
	Checks map[string]handler.Check
}

// Wire connects every enabled backend and returns the dependencies together
// with a cleanup function that should be called on shutdown to release
// resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Checks: make(map[string]handler.Check)}

	id, err := identity.FromHost()
	if err != nil {
		id = identity.New(nil)
		logger.WarnContext(ctx, "no hardware address, using anonymous data center",
			slog.String("error", err.Error()),
		)
	}
	deps.Identity = id

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:             cfg.Postgres.DSN,
			Host:            cfg.Postgres.Host,
			Port:            cfg.Postgres.Port,
			Database:        cfg.Postgres.Database,
			User:            cfg.Postgres.User,
			Password:        cfg.Postgres.Password,
			SSLMode:         cfg.Postgres.SSLMode,
			MaxConns:        cfg.Postgres.PoolMaxConns,
			MinConns:        cfg.Postgres.PoolMinConns,
			ApplicationName: "tickerplant",
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.TradeStore = postgres.NewTradeStore(pool)
		deps.OrderStore = postgres.NewOrderStore(pool)
		deps.Checks["postgres"] = pgClient.Ping
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.RateCache = redis.NewRateCache(redisClient, cfg.Redis.RateTTL.Duration)
		deps.BookCache = redis.NewBookCache(redisClient, cfg.Redis.BookDepth, cfg.Redis.BookTTL.Duration)
		deps.SignalBus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.Checks["redis"] = redisClient.Ping
	}

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Kafka ---
	if cfg.Kafka.Enabled {
		producer, err := kafka.NewProducer(kafka.ProducerConfig{
			Brokers:          cfg.Kafka.Brokers,
			BatchTimeout:     cfg.Kafka.BatchTimeout.Duration,
			RequireAll:       cfg.Kafka.RequireAll,
			AutoCreateTopics: cfg.Kafka.AutoCreateTopics,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: kafka: %w", err)
		}
		closers = append(closers, func() { _ = producer.Close() })
		deps.Producer = producer
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender("", cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
