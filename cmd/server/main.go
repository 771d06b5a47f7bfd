package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/welldanyogia/secure-login/backend/internal/archive"
	"github.com/welldanyogia/secure-login/backend/internal/auth"
	"github.com/welldanyogia/secure-login/backend/internal/config"
	"github.com/welldanyogia/secure-login/backend/internal/health"
	"github.com/welldanyogia/secure-login/backend/internal/logger"
	"github.com/welldanyogia/secure-login/backend/internal/metrics"
	authmw "github.com/welldanyogia/secure-login/backend/internal/middleware"
	"github.com/welldanyogia/secure-login/backend/internal/repository"
	"github.com/welldanyogia/secure-login/backend/internal/session"
)

// Version is set at build time
var Version = "dev"

func main() {
	log := logger.New(logger.DefaultConfig())
	slog.SetDefault(log)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	dbPool, err := setupDatabase(cfg, log)
	if err != nil {
		log.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbPool.Close()

	// audit_logs goes through sqlx on the same pool
	db := sqlx.NewDb(stdlib.OpenDBFromPool(dbPool), "pgx")
	defer db.Close()

	dbCollector := metrics.NewDBStatsCollector(dbPool, db.DB, log)
	dbCollector.Start(15 * time.Second)
	defer dbCollector.Stop()

	store, redisClient, err := setupSessionStore(cfg, log)
	if err != nil {
		log.Error("failed to set up session store", slog.Any("error", err))
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	var arch *archive.Archive
	tree, err := archive.NewTree(&cfg.Archive)
	if err != nil {
		log.Error("failed to set up activity archive", slog.Any("error", err))
		os.Exit(1)
	}
	if tree != nil {
		arch = archive.New(tree, log)
		log.Info("activity archive enabled", slog.String("backend", cfg.Archive.Backend))
	}

	tokens := auth.NewTokenService(auth.TokenServiceConfig{
		Secret: cfg.Session.RememberTokenSecret,
		Expiry: cfg.Session.RememberTokenExpiry,
		Issuer: cfg.Session.Issuer,
	})
	attempts := repository.NewLoginAttemptRepository(dbPool)
	sessions := auth.NewSessionManager(store, repository.NewSessionRepository(dbPool), tokens, cfg.Session.Timeout, log)

	deps := auth.AuthServiceDeps{
		Users:    repository.NewUserRepository(dbPool),
		Attempts: attempts,
		Audit:    repository.NewAuditRepo(db),
		Sessions: sessions,
		Limiter: auth.NewRateLimiter(attempts, auth.RatePolicy{
			Window:      cfg.RateLimit.Window,
			MaxAttempts: cfg.RateLimit.MaxAttempts,
		}),
		Logger: log,
	}
	if arch != nil {
		deps.Archive = arch
	}
	authService := auth.NewAuthService(deps)

	cookies := auth.NewCookieManager([]byte(cfg.Session.Secret), cfg.Session.CookieSecure)
	authHandler := auth.NewAuthHandler(authService, cookies, log)
	sessionMW := authmw.NewSessionMiddleware(sessions, cookies, log)

	throttle := authmw.NewRequestThrottle(cfg.Server.AuthRequestsPerMinute, auth.ClientIP)
	stopCleanup := make(chan struct{})
	go throttle.Limiter().RunCleanup(stopCleanup)
	defer close(stopCleanup)

	checks := []health.Check{
		{Name: "database", Pinger: health.PingFunc(func(ctx context.Context) error {
			return metrics.PingDatabase(ctx, dbPool)
		}), Required: true},
	}
	if redisClient != nil {
		checks = append(checks, health.Check{Name: "redis", Pinger: health.RedisPinger(redisClient), Required: true})
	}
	if arch != nil {
		checks = append(checks, health.Check{Name: "archive", Pinger: arch})
	}
	healthHandler := health.NewHandler(health.Config{Checks: checks, Version: Version})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(authmw.NewLoggingMiddleware(log, "/health", "/health/live", "/health/ready", "/metrics").Handler)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", auth.CSRFHeader},
		ExposedHeaders:   []string{"Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", healthHandler.Health)
	r.Get("/health/live", healthHandler.Liveness)
	r.Get("/health/ready", healthHandler.Readiness)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		auth.RegisterRoutes(r, authHandler, sessionMW.RequireSession, throttle.Handler)
	})

	addr := cfg.Server.Host + ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("starting server", slog.String("addr", addr), slog.String("version", Version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")
	healthHandler.SetReady(false)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", slog.Any("error", err))
	}

	log.Info("server exited")
}

// setupDatabase creates and configures the database connection pool
func setupDatabase(cfg *config.Config, log *slog.Logger) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 5 * time.Minute
	poolConfig.MaxConnIdleTime = 1 * time.Minute
	poolConfig.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info("connected to database",
		slog.String("database", cfg.Database.DBName),
		slog.String("host", cfg.Database.Host),
		slog.String("port", cfg.Database.Port),
	)
	return pool, nil
}

// setupSessionStore returns a Redis backed store when REDIS_URL is set and an
// in-memory store otherwise
func setupSessionStore(cfg *config.Config, log *slog.Logger) (session.Store, *redis.Client, error) {
	if cfg.Redis.URL == "" {
		log.Warn("REDIS_URL not set, keeping sessions in process memory")
		store := session.NewMemoryStore()
		go sweepSessions(store, time.Minute, log)
		return store, nil, nil
	}

	client, err := session.NewRedisClient(cfg.Redis.URL)
	if err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	log.Info("using redis session store")
	return session.NewRedisStore(client), client, nil
}

func sweepSessions(store *session.MemoryStore, interval time.Duration, log *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		if removed := store.Sweep(); removed > 0 {
			log.Debug("swept expired sessions", slog.Int("removed", removed), slog.Int("remaining", store.Len()))
		}
	}
}
