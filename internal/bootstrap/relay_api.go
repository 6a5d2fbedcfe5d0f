package bootstrap

import (
	"context"
	"strings"
	"time"

	"formrelay/adapter/in/http"
	"formrelay/config"
	"formrelay/infra/middleware"
	"formrelay/pkg/logger"
	"formrelay/pkg/ratelimit"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

func NewAPI(cfg *config.Config) (*fiber.App, func(), error) {
	initLogger(cfg, "formrelay-api")

	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize dependencies")
		return nil, nil, err
	}

	// Without streams the API process delivers on its own pool.
	if !deps.StreamsEnabled() {
		if err := deps.Pool.Start(); err != nil {
			cleanup()
			return nil, nil, err
		}
		depsCleanup := cleanup
		cleanup = func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			deps.Pool.Stop(ctx)
			depsCleanup()
		}
	}

	app := newApp(cfg)

	limiter := middleware.NewRateLimiter(cfg.RateLimitPerMin, time.Minute)
	appCleanup := cleanup
	cleanup = func() {
		limiter.Stop()
		appCleanup()
	}

	health := http.NewHealthHandler(http.HealthDeps{
		Postgres:     deps.DB,
		SQL:          deps.SQLDB,
		Redis:        deps.Redis,
		Mongo:        deps.MongoDB,
		Metrics:      deps.Metrics,
		QueueDepth:   deps.QueueDepth,
		BreakerState: deps.Sender.BreakerState,
	})
	health.Register(app)

	rateLimit := limiter.Handler()
	if deps.Redis != nil {
		rateLimit = middleware.DistributedRateLimit(
			ratelimit.NewSlidingWindowLimiter(deps.Redis, cfg.RateLimitPerMin, time.Minute))
	}

	api := app.Group("/api/v1",
		rateLimit,
		middleware.MaxBodySize(cfg.BodyLimitBytes),
		middleware.ValidateContentType(),
	)
	health.RegisterStats(api)

	http.NewSubmissionHandler(deps.SubmissionService).Register(api)

	if deps.FormSettingsService != nil {
		auth := middleware.AdminJWTAuth(cfg.AdminJWTSecret, deps.Blacklist)
		http.NewFormSettingsHandler(deps.FormSettingsService, deps.DeliveryArchive, deps.Blacklist).
			Register(api, auth)
	} else {
		logger.Warn("admin form settings API disabled: no settings store")
	}

	logger.Info("API initialized (streams=%t, archive=%t)", deps.StreamsEnabled(), deps.DeliveryArchive != nil)
	return app, cleanup, nil
}

func newApp(cfg *config.Config) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(),
		DisableStartupMessage: cfg.IsProduction(),
		StrictRouting:         false,
		CaseSensitive:         false,

		JSONEncoder: json.Marshal,
		JSONDecoder: json.Unmarshal,

		BodyLimit:    cfg.BodyLimitBytes,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,

		ServerHeader:       "",
		DisableDefaultDate: true,
	})

	// Global middleware stack (order matters)
	app.Use(middleware.Recover())
	app.Use(middleware.RequestID())
	app.Use(middleware.SecurityHeaders())
	app.Use(middleware.RequestLogger())

	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	allowOrigins := strings.Join(cfg.AllowedOrigins, ",")
	allowCredentials := true
	if allowOrigins == "" || allowOrigins == "*" {
		if cfg.IsProduction() {
			allowOrigins = ""
			allowCredentials = false
		} else {
			allowOrigins = "http://localhost:3000,http://localhost:5173"
		}
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowOrigins,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization,X-Request-ID",
		ExposeHeaders:    "X-Request-ID,X-RateLimit-Limit,X-RateLimit-Remaining,X-RateLimit-Reset",
		AllowCredentials: allowCredentials,
		MaxAge:           86400,
	}))

	return app
}

func initLogger(cfg *config.Config, service string) {
	level := logger.ParseLevel(cfg.LogLevel)
	if cfg.IsDevelopment() && level > logger.LevelDebug {
		level = logger.LevelDebug
	}
	logger.Init(logger.Config{
		Level:   level,
		Service: service,
	})
}
