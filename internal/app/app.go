// Package app wires configuration, storage and services into the API process.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"visitorlog/internal/audit"
	"visitorlog/internal/auth"
	"visitorlog/internal/checkin"
	"visitorlog/internal/clock"
	"visitorlog/internal/compliance"
	"visitorlog/internal/config"
	"visitorlog/internal/handler"
	"visitorlog/internal/httpmiddleware"
	"visitorlog/internal/identity"
	"visitorlog/internal/importer"
	"visitorlog/internal/metrics"
	"visitorlog/internal/presence"
	"visitorlog/internal/queue"
	"visitorlog/internal/retention"
	"visitorlog/internal/roster"
	"visitorlog/internal/search"
	"visitorlog/internal/store"
)

// Backend is everything the services need from storage. Both the Postgres
// and the in-memory store implement it.
type Backend interface {
	presence.Store
	importer.Store
	retention.Store
	roster.Store
	checkin.VisitorStore
	auth.TokenStore
	audit.Store
	identity.Finder
	search.Source
	handler.AuditLog
	Ping(ctx context.Context) error
}

// Resources are the external connections owned by the process.
type Resources struct {
	Backend Backend
	Queue   queue.Queue
	DB      *store.DB
	Redis   *store.Redis
}

// Open connects the configured store and queue backends.
func Open(ctx context.Context, cfg config.App, logger *slog.Logger) (*Resources, error) {
	res := &Resources{}
	if cfg.QueueBackend == "redis" || cfg.PurgeLockBackend == "redis" || cfg.RateLimitBackend == "redis" {
		res.Redis = store.NewRedis(cfg.RedisAddr)
	}

	switch cfg.StoreBackend {
	case "memory":
		logger.Warn("using in-memory store; data is lost on restart")
		res.Backend = store.NewMemory()
	case "postgres":
		db, err := store.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			res.Close()
			return nil, err
		}
		res.DB = db
		pg := store.NewPostgres(db.Client)
		if err := pg.InitSchema(ctx); err != nil {
			res.Close()
			return nil, err
		}
		res.Backend = pg
	default:
		res.Close()
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}

	switch cfg.QueueBackend {
	case "memory":
		res.Queue = queue.NewInMemory(256)
	case "redis":
		rq := queue.NewRedisQueue(res.Redis.Client, "visitorlog:audit")
		rq.OnError = func(err error) { logger.Warn("audit queue error", "error", err) }
		res.Queue = rq
	default:
		res.Close()
		return nil, fmt.Errorf("unknown QUEUE_BACKEND %q", cfg.QueueBackend)
	}
	return res, nil
}

// HealthChecks reports one check per connection the process holds.
func (r *Resources) HealthChecks() map[string]handler.HealthCheck {
	checks := map[string]handler.HealthCheck{}
	if r.DB != nil {
		checks["store"] = r.DB.Healthy
	} else {
		b := r.Backend
		checks["store"] = func(ctx context.Context) bool { return b.Ping(ctx) == nil }
	}
	if r.Redis != nil {
		checks["redis"] = r.Redis.Healthy
	}
	return checks
}

// Close releases the connections.
func (r *Resources) Close() {
	_ = r.DB.Close()
	_ = r.Redis.Close()
}

// API is the HTTP server process.
type API struct {
	cfg    config.App
	logger *slog.Logger
	res    *Resources
	purger *retention.Purger
	router *gin.Engine
}

// NewAPI builds every service and the router.
func NewAPI(cfg config.App, res *Resources, reg prometheus.Registerer, logger *slog.Logger) (*API, error) {
	policy := cfg.Policy
	clk := clock.System
	m := metrics.New(reg)
	rec := audit.NewPublisher(res.Queue, logger)

	var marker retention.Marker
	switch cfg.PurgeLockBackend {
	case "file":
		marker = retention.NewFileMarker(cfg.PurgeLockPath)
	case "redis":
		marker = retention.NewRedisMarker(res.Redis.Client, "")
	default:
		return nil, fmt.Errorf("unknown PURGE_LOCK_BACKEND %q", cfg.PurgeLockBackend)
	}

	var limiter httpmiddleware.Limiter
	switch cfg.RateLimitBackend {
	case "memory":
		limiter = httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	case "redis":
		limiter = httpmiddleware.NewRedisWindow(res.Redis.Client, cfg.RateLimitPerMin)
	default:
		return nil, fmt.Errorf("unknown RATE_LIMIT_BACKEND %q", cfg.RateLimitBackend)
	}

	b := res.Backend
	resolver := identity.NewResolver(b)
	calc := compliance.NewCalculator(policy, clk)
	tracker := presence.NewTracker(b, rec, m, clk, policy.Location, logger.With("component", "presence"))
	purger := retention.NewPurger(b, marker, policy, clk, rec, m, logger.With("component", "retention"))

	health := res.HealthChecks()

	h := handler.New(handler.Deps{
		CheckIn:  checkin.NewService(resolver, calc, tracker, b, rec, m, logger.With("component", "checkin")),
		Tracker:  tracker,
		Search:   search.NewRanker(b, policy),
		Importer: importer.NewReconciler(resolver, calc, b, policy, rec, m, logger.With("component", "importer")),
		Purger:   purger,
		Roster:   roster.New(b, calc, logger.With("component", "roster")),
		Auth: auth.NewService(b, auth.Options{
			Issuer:       cfg.JWTIssuer,
			SigningKey:   cfg.JWTSigningKey,
			AccessTTL:    cfg.AccessTTL,
			RefreshTTL:   cfg.RefreshTTL,
			AdminKeyHash: cfg.AdminKeyHash,
		}, logger.With("component", "auth")),
		Audit:      b,
		Health:     health,
		Location:   policy.Location,
		SigningKey: cfg.JWTSigningKey,
		Issuer:     cfg.JWTIssuer,
		Limiter:    httpmiddleware.Middleware(limiter, logger),
		Logger:     logger.With("component", "http"),
	})

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))
	r.Use(httpmiddleware.SecurityHeaders())
	metricsHandler := promhttp.Handler()
	if g, ok := reg.(prometheus.Gatherer); ok {
		metricsHandler = promhttp.HandlerFor(g, promhttp.HandlerOpts{})
	}
	r.GET("/metrics", gin.WrapH(metricsHandler))
	h.Register(r)

	return &API{cfg: cfg, logger: logger, res: res, purger: purger, router: r}, nil
}

// Router exposes the configured gin engine.
func (a *API) Router() *gin.Engine { return a.router }

// Run serves HTTP until ctx is cancelled. With the in-memory queue the audit
// worker runs in this process, since nothing else can drain it.
func (a *API) Run(ctx context.Context) error {
	a.purger.RunOpportunistically(ctx)

	srv := &http.Server{
		Addr:         ":" + a.cfg.HTTPPort,
		Handler:      a.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("starting server", "port", a.cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if a.cfg.QueueBackend == "memory" {
		worker := audit.NewWorker(a.res.Backend, a.res.Queue, a.logger.With("component", "audit"))
		g.Go(func() error { return worker.Run(gctx) })
	}
	return g.Wait()
}
