package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/tari-project/aurora-push/internal/api"
	"github.com/tari-project/aurora-push/internal/auth"
	"github.com/tari-project/aurora-push/internal/config"
	"github.com/tari-project/aurora-push/internal/db"
	"github.com/tari-project/aurora-push/internal/metrics"
	"github.com/tari-project/aurora-push/internal/observ"
	"github.com/tari-project/aurora-push/internal/providers"
	"github.com/tari-project/aurora-push/internal/push"
	"github.com/tari-project/aurora-push/internal/redis"
	"github.com/tari-project/aurora-push/internal/relay"
	"github.com/tari-project/aurora-push/internal/reminder"
)

const version = "2.0.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting aurora push relay",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.String("version", version),
		zap.String("push_provider", cfg.PushProvider),
		zap.Bool("reminders_enabled", cfg.RemindersEnabled),
	)

	ctx := context.Background()

	database, err := db.New(ctx, db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	tokens := db.NewTokenRepository(database, logger)

	router, err := providers.NewRouter(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to configure push providers: %w", err)
	}

	var scheduler relay.Reminders
	if cfg.RemindersEnabled {
		descriptors := reminder.DefaultDescriptors(reminder.Offsets{
			First:   cfg.ReminderFirstAfter,
			Second:  cfg.ReminderSecondAfter,
			Expired: cfg.ReminderExpiredAfter,
		}, cfg.Ticker)
		if err := descriptors.Validate(); err != nil {
			return fmt.Errorf("invalid reminder descriptors: %w", err)
		}
		scheduler = reminder.NewScheduler(db.NewReminderRepository(database, logger), descriptors, logger)
	}

	service := relay.NewService(tokens, router, scheduler, relay.Config{
		Network:         providers.Network(cfg),
		Ticker:          cfg.Ticker,
		ExpirePushAfter: cfg.ExpirePushAfter,
	}, logger)

	gate := auth.NewGate(cfg.AppAPIKey, auth.NewSchnorrVerifier(auth.WalletSigningDomain), logger)

	// Send throttling needs Redis; without it sends are unthrottled.
	var sendLimit func(http.Handler) http.Handler
	redisClient, err := redis.New(ctx, redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		logger.Warn("redis unavailable, send rate limiting disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
	} else {
		defer redisClient.Close()
		limiter := redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
			Limit:  cfg.SendRateLimit,
			Window: time.Minute,
			Prefix: "send",
		})
		sendLimit = api.RateLimitMiddleware(limiter, logger, "send", api.SenderKeyFunc)
	}

	var keyPath string
	if providers.Network(cfg) == push.NetworkAPNS {
		keyPath = cfg.APNSKeyPath
	}
	handler := api.NewHandler(logger, service, gate, tokens, api.Options{
		APNSKeyPath: keyPath,
		Version:     version,
		Production:  cfg.Env == "production",
	})

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration_ms", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	})

	handler.Routes(r, sendLimit)
	r.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}
