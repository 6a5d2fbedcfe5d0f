package http

import (
	"context"
	"time"

	"formrelay/infra/database"
	"formrelay/pkg/metrics"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

// HealthDeps are the backends reported by the health endpoints. Nil entries
// are reported as not configured.
type HealthDeps struct {
	Postgres *pgxpool.Pool
	SQL      *sqlx.DB
	Redis    *redis.Client
	Mongo    *mongo.Client
	Metrics  *metrics.Registry

	// QueueDepth reports deliveries waiting to be sent.
	QueueDepth func(ctx context.Context) (int64, error)
	// BreakerState reports the webhook circuit breaker state.
	BreakerState func() string
}

type HealthHandler struct {
	deps    HealthDeps
	started time.Time
}

func NewHealthHandler(deps HealthDeps) *HealthHandler {
	if deps.Metrics == nil {
		deps.Metrics = metrics.Global()
	}
	return &HealthHandler{deps: deps, started: time.Now()}
}

func (h *HealthHandler) Register(app *fiber.App) {
	app.Get("/health", h.Health)
	app.Get("/ready", h.Ready)
}

// RegisterStats registers the stats endpoint on router.
func (h *HealthHandler) RegisterStats(router fiber.Router) {
	router.Get("/stats", h.Stats)
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	check := func(name string, configured bool, ping func() error) {
		if !configured {
			checks[name] = "not configured"
			return
		}
		if err := ping(); err != nil {
			checks[name] = "unhealthy: " + err.Error()
			allHealthy = false
			return
		}
		checks[name] = "healthy"
	}

	check("postgres", h.deps.Postgres != nil, func() error { return h.deps.Postgres.Ping(ctx) })
	check("redis", h.deps.Redis != nil, func() error { return h.deps.Redis.Ping(ctx).Err() })
	check("mongodb", h.deps.Mongo != nil, func() error { return h.deps.Mongo.Ping(ctx, nil) })

	status := "ready"
	statusCode := fiber.StatusOK
	if !allHealthy {
		status = "not ready"
		statusCode = fiber.StatusServiceUnavailable
	}

	return c.Status(statusCode).JSON(fiber.Map{
		"status":    status,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *HealthHandler) Stats(c *fiber.Ctx) error {
	stats := fiber.Map{
		"uptime_sec": int64(time.Since(h.started).Seconds()),
		"metrics":    h.deps.Metrics.Snapshot(),
	}

	if h.deps.Postgres != nil {
		stats["postgres"] = database.GetPoolStats(h.deps.Postgres)
	}
	if h.deps.SQL != nil {
		db := metrics.GetDBPoolStats(h.deps.SQL.DB)
		pool := db.ToMap()
		pool["health"] = db.Health()
		stats["settings_db"] = pool
	}
	if h.deps.Redis != nil {
		stats["redis"] = database.GetRedisStats(h.deps.Redis)
	}
	if h.deps.QueueDepth != nil {
		if depth, err := h.deps.QueueDepth(c.UserContext()); err == nil {
			stats["queue_depth"] = depth
		}
	}
	if h.deps.BreakerState != nil {
		stats["webhook_breaker"] = h.deps.BreakerState()
	}

	return c.JSON(stats)
}
