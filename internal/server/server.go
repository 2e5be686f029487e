package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/deadnet/config"
	"github.com/mohammad-safakhou/deadnet/internal/feed"
	openai_provider "github.com/mohammad-safakhou/deadnet/internal/oracle/openai"
	"github.com/mohammad-safakhou/deadnet/internal/search"
	"github.com/mohammad-safakhou/deadnet/internal/sim"
	"github.com/mohammad-safakhou/deadnet/internal/store"
	"github.com/mohammad-safakhou/deadnet/internal/telemetry"
)

// Run wires all shared dependencies and serves the API until the
// listener fails. addr overrides server.address when non-empty.
func Run(cfg *config.Config, addr string) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// unified HTTP error handler with structured JSON and logging
	httpLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		httpLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })

	registry := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(registry)
	if cfg.Telemetry.Enabled {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}

	ctx := context.Background()
	dsn := cfg.Storage.Postgres.DSN()
	if err := Migrate("file://migrations", dsn, "up", 0); err != nil {
		return fmt.Errorf("migrating: %w", err)
	}
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return err
	}

	var rdb *redis.Client
	if cfg.Storage.Redis.Host != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.Redis.Addr(),
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis connection failed (%s): %w", cfg.Storage.Redis.Addr(), err)
		}
	}

	if cfg.LLM.APIKey == "" {
		return fmt.Errorf("llm.api_key not configured")
	}
	provider := openai_provider.NewClient(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Model, cfg.LLM.MaxTokens, cfg.LLM.Timeout)

	simLogger := log.New(log.Writer(), "[SIM] ", log.LstdFlags)
	driver := sim.NewDriver(st, st, provider, cfg.Simulation, cfg.LLM.Temperature, simLogger, metrics)

	feedLogger := log.New(log.Writer(), "[FEED] ", log.LstdFlags)
	reconciler := feed.NewReconciler(st, feed.NewTree(cfg.Simulation.MarkTTL), feedLogger, metrics)
	if err := reconciler.Start(ctx); err != nil {
		return fmt.Errorf("starting feed reconciler: %w", err)
	}

	searchLogger := log.New(log.Writer(), "[SEARCH] ", log.LstdFlags)
	index, err := search.NewIndex(searchLogger)
	if err != nil {
		return fmt.Errorf("creating search index: %w", err)
	}
	if err := index.Start(ctx, st); err != nil {
		return fmt.Errorf("starting search index: %w", err)
	}

	if cfg.Server.JWTSecret == "" {
		return fmt.Errorf("server.jwt_secret not configured")
	}
	secret := []byte(cfg.Server.JWTSecret)

	api := e.Group("/api")
	auth := &AuthHandler{Store: st, Secret: secret}
	auth.Register(api.Group("/auth"))

	ph := &PostsHandler{Store: st, Feed: reconciler, Search: index, Rdb: rdb}
	ph.Register(api)

	ah := &AgentsHandler{Store: st}
	ah.Register(api.Group("/agents"))

	sh := &SimulationHandler{Driver: driver, Store: st, Logger: simLogger}
	sh.Register(api.Group("/simulation"), secret)

	sched := &Scheduler{
		Driver: driver,
		Store:  st,
		Rdb:    rdb,
		Cron:   cfg.Simulation.Cron,
		Logger: log.New(log.Writer(), "[SCHED] ", log.LstdFlags),
		Stop:   make(chan struct{}),
	}
	sched.Start()

	if addr == "" {
		addr = cfg.Server.Address
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}
