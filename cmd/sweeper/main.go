package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/tari-project/aurora-push/internal/config"
	"github.com/tari-project/aurora-push/internal/db"
	"github.com/tari-project/aurora-push/internal/observ"
	"github.com/tari-project/aurora-push/internal/providers"
	"github.com/tari-project/aurora-push/internal/redis"
	"github.com/tari-project/aurora-push/internal/reminder"
	"github.com/tari-project/aurora-push/internal/sqs"
)

// lockTTL bounds how long a crashed sweeper can block the next one.
const lockTTL = 10 * time.Minute

func main() {
	trigger := flag.Bool("trigger", false, "enqueue a sweep trigger on SWEEP_QUEUE_URL and exit")
	flag.Parse()

	if err := run(*trigger); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(enqueueOnly bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if enqueueOnly {
		return enqueue(ctx, cfg, logger)
	}

	sweeper, cleanup, err := newSweeper(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	switch {
	case cfg.SweepQueueURL != "":
		consumer, err := sqs.NewConsumer(ctx, sqs.Config{
			Region:   cfg.AWSRegion,
			QueueURL: cfg.SweepQueueURL,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to create sqs consumer: %w", err)
		}
		logger.Info("waiting for sweep triggers", zap.String("queue_url", cfg.SweepQueueURL))
		consumer.Run(ctx, func(ctx context.Context) error {
			_, err := sweeper.Run(ctx)
			return err
		})
		return nil

	case cfg.SweepSchedule != "":
		return schedule(ctx, cfg.SweepSchedule, sweeper, logger)

	default:
		res, err := sweeper.Run(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Processed %d reminders. Sent %d reminder push notifications.\n", res.Found, res.Sent)
		return nil
	}
}

func newSweeper(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*reminder.Sweeper, func(), error) {
	database, err := db.New(ctx, db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	cleanup := []func(){database.Close}

	router, err := providers.NewRouter(ctx, cfg, logger)
	if err != nil {
		database.Close()
		return nil, nil, fmt.Errorf("failed to configure push providers: %w", err)
	}

	descriptors := reminder.DefaultDescriptors(reminder.Offsets{
		First:   cfg.ReminderFirstAfter,
		Second:  cfg.ReminderSecondAfter,
		Expired: cfg.ReminderExpiredAfter,
	}, cfg.Ticker)
	if err := descriptors.Validate(); err != nil {
		database.Close()
		return nil, nil, fmt.Errorf("invalid reminder descriptors: %w", err)
	}

	sweeper := reminder.NewSweeper(
		db.NewReminderRepository(database, logger),
		db.NewTokenRepository(database, logger),
		router,
		descriptors,
		reminder.SweepConfig{
			Network:         providers.Network(cfg),
			StaleAfter:      cfg.ReminderStaleAfter,
			ExpirePushAfter: cfg.ReminderExpirePushAfter,
		},
		logger,
	)

	redisClient, err := redis.New(ctx, redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		logger.Warn("redis unavailable, sweeps are not mutually excluded", zap.Error(err))
	} else {
		cleanup = append(cleanup, func() { _ = redisClient.Close() })
		sweeper.WithLock(redis.NewLock(redisClient, logger, "reminder-sweep", lockTTL))
	}

	return sweeper, func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}, nil
}

func schedule(ctx context.Context, spec string, sweeper *reminder.Sweeper, logger *zap.Logger) error {
	cronLogger := observ.CronLogger(logger)
	c := cron.New(cron.WithLogger(cronLogger), cron.WithChain(
		cron.Recover(cronLogger),
		cron.SkipIfStillRunning(cronLogger),
	))

	if _, err := c.AddFunc(spec, func() {
		if _, err := sweeper.Run(ctx); err != nil {
			if errors.Is(err, redis.ErrLockHeld) {
				logger.Info("another sweeper holds the lock, skipping")
				return
			}
			logger.Error("reminder sweep failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("invalid SWEEP_SCHEDULE %q: %w", spec, err)
	}

	logger.Info("reminder sweeps scheduled", zap.String("schedule", spec))
	c.Start()

	<-ctx.Done()
	logger.Info("stopping sweep scheduler")
	<-c.Stop().Done()
	return nil
}

func enqueue(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if cfg.SweepQueueURL == "" {
		return errors.New("SWEEP_QUEUE_URL is not set")
	}

	producer, err := sqs.NewProducer(ctx, sqs.Config{
		Region:   cfg.AWSRegion,
		QueueURL: cfg.SweepQueueURL,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create sqs producer: %w", err)
	}

	id, err := producer.Enqueue(ctx, "cli")
	if err != nil {
		return err
	}
	logger.Info("sweep trigger enqueued", zap.String("message_id", id))
	return nil
}
