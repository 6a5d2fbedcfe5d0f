package bootstrap

import (
	"context"
	"time"

	"formrelay/adapter/in/worker"
	"formrelay/adapter/out/messaging"
	"formrelay/adapter/out/mongodb"
	"formrelay/adapter/out/persistence"
	"formrelay/adapter/out/webhook"
	"formrelay/config"
	"formrelay/core/port/out"
	"formrelay/core/service/classification"
	"formrelay/core/service/formsettings"
	"formrelay/core/service/submission"
	"formrelay/infra/database"
	"formrelay/infra/middleware"
	"formrelay/pkg/cache"
	"formrelay/pkg/logger"
	"formrelay/pkg/metrics"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

type Dependencies struct {
	Config  *config.Config
	DB      *pgxpool.Pool
	SQLDB   *sqlx.DB
	Redis   *redis.Client
	MongoDB *mongo.Client
	Metrics *metrics.Registry

	// Repositories
	SettingsRepo    out.FormSettingsRepository
	DeliveryArchive out.DeliveryArchive

	// Delivery
	Producer   *messaging.RedisProducer
	Sender     *webhook.Sender
	Pool       *worker.Pool
	Dispatcher out.DeliveryDispatcher

	// Services
	Classifier          *classification.Classifier
	SubmissionService   *submission.Service
	FormSettingsService *formsettings.Service

	Blacklist *middleware.TokenBlacklist
}

// NewDependencies connects the configured backends and wires the services.
// Postgres, Redis and MongoDB are optional; a configured backend that cannot
// be reached is an error only for Postgres.
func NewDependencies(cfg *config.Config) (*Dependencies, func(), error) {
	deps := &Dependencies{Config: cfg, Metrics: metrics.Global()}
	var cleanups []func()

	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Postgres
	if cfg.DatabaseURL != "" {
		db, err := database.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		deps.DB = db
		cleanups = append(cleanups, db.Close)

		sqlDB, err := database.NewSQLX(ctx, cfg.DatabaseURL)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		deps.SQLDB = sqlDB
		cleanups = append(cleanups, func() { sqlDB.Close() })
		logger.Info("postgres connected")
	} else {
		logger.Warn("DATABASE_URL not set, per-form settings are disabled")
	}

	// Redis
	if cfg.RedisURL != "" {
		redisClient, err := database.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn("Redis connection failed: %v", err)
		} else {
			deps.Redis = redisClient
			cleanups = append(cleanups, func() { redisClient.Close() })
			deps.Blacklist = middleware.NewTokenBlacklist(redisClient)
		}
	}

	// MongoDB
	if cfg.MongoDBURL != "" {
		mongoClient, err := mongodb.NewClient(ctx, cfg.MongoDBURL)
		if err != nil {
			logger.Warn("MongoDB connection failed: %v", err)
		} else {
			deps.MongoDB = mongoClient
			cleanups = append(cleanups, func() {
				mongoClient.Disconnect(context.Background())
			})

			archive := mongodb.NewDeliveryArchive(mongoClient.Database(cfg.MongoDBName))
			if err := archive.EnsureIndexes(ctx); err != nil {
				logger.Warn("Failed to ensure delivery archive indexes: %v", err)
			}
			deps.DeliveryArchive = archive
		}
	}

	// Settings repository
	if deps.SQLDB != nil {
		adapter := persistence.NewFormSettingsAdapter(deps.SQLDB)
		if err := adapter.EnsureSchema(ctx); err != nil {
			cleanup()
			return nil, nil, err
		}
		deps.SettingsRepo = adapter
		if deps.Redis != nil {
			deps.SettingsRepo = persistence.NewCachedFormSettingsAdapter(adapter,
				cache.NewRedisCache(deps.Redis, "relay:settings"), cfg.SettingsCacheTTL)
		}
		deps.FormSettingsService = formsettings.NewService(deps.SettingsRepo, cfg.ExcludedFormIDs)
	}

	// Classifier
	var ruleset *classification.Ruleset
	if cfg.RulesetFile != "" {
		rs, err := classification.LoadRulesetFile(cfg.RulesetFile)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		ruleset = rs
		logger.Info("ruleset loaded from %s (%d rules)", cfg.RulesetFile, rs.RuleCount())
	}
	deps.Classifier = classification.NewClassifier(ruleset, classification.NewValueNormalizer(cfg.CheckedMarkers))

	// Delivery
	deps.Sender = webhook.NewSender(webhook.Config{
		URL:         cfg.WebhookURL,
		AllowedHost: cfg.WebhookAllowedHost,
		Timeout:     cfg.WebhookTimeout,
	}, logger.Component("webhook"))
	if err := deps.Sender.Validate(); err != nil {
		logger.Warn("webhook is not usable, deliveries will be rejected: %v", err)
	}

	processor := worker.NewDeliveryProcessor(deps.Sender, deps.DeliveryArchive, deps.Metrics, logger.Component("delivery"))
	deps.Pool = worker.NewPool(processor, &worker.PoolConfig{
		Workers:    cfg.WorkerCount,
		QueueSize:  cfg.WorkerQueueSize,
		MaxRetries: cfg.WorkerMaxRetries,
		JobTimeout: cfg.WebhookTimeout * 3,
		RetryBase:  time.Second,
	}, logger.Component("worker"))

	if deps.StreamsEnabled() {
		deps.Producer = messaging.NewRedisProducer(deps.Redis)
		deps.Dispatcher = deps.Producer
	} else {
		deps.Dispatcher = worker.NewPoolDispatcher(deps.Pool)
	}

	loc, err := cfg.Location()
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	deps.SubmissionService = submission.NewService(submission.Config{
		PayloadPrefix:    cfg.PayloadPrefix,
		DefaultFormTitle: cfg.DefaultFormTitle,
		ExcludedFormIDs:  cfg.ExcludedFormIDs,
		Location:         loc,
	}, deps.Classifier, deps.SettingsRepo, deps.Dispatcher, deps.Metrics)

	return deps, cleanup, nil
}

// StreamsEnabled reports whether deliveries travel through Redis Streams.
func (d *Dependencies) StreamsEnabled() bool {
	return d.Redis != nil && d.Config.UseStreams()
}

// QueueDepth reports deliveries waiting in the stream or the local pool.
func (d *Dependencies) QueueDepth(ctx context.Context) (int64, error) {
	if d.Producer != nil {
		return d.Producer.Len(ctx)
	}
	return int64(d.Pool.QueueLen()), nil
}

// HealthCheck pings every configured backend.
func (d *Dependencies) HealthCheck(ctx context.Context) error {
	if d.DB != nil {
		if err := d.DB.Ping(ctx); err != nil {
			return err
		}
	}
	if d.Redis != nil {
		if err := d.Redis.Ping(ctx).Err(); err != nil {
			return err
		}
	}
	if d.MongoDB != nil {
		if err := d.MongoDB.Ping(ctx, nil); err != nil {
			return err
		}
	}
	return nil
}
