package reminder

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tari-project/aurora-push/internal/db"
	"github.com/tari-project/aurora-push/internal/metrics"
	"github.com/tari-project/aurora-push/internal/push"
)

// Source is the read/retire side of the reminder table.
type Source interface {
	DueReminders(ctx context.Context, now time.Time) ([]*db.Reminder, error)
	DeleteReminder(ctx context.Context, id uuid.UUID) error
}

// TokenSource resolves device tokens for an identity.
type TokenSource interface {
	LookupTokens(ctx context.Context, identity string) ([]*db.DeviceToken, error)
}

// Dispatcher delivers a payload to one target.
type Dispatcher interface {
	Deliver(ctx context.Context, target push.Target, p push.Payload) push.Result
}

// Locker guards a sweep against concurrent runs.
type Locker interface {
	Acquire(ctx context.Context) (func(context.Context) error, error)
}

// SweepConfig holds the sweep policy.
type SweepConfig struct {
	// Network is the push network wallet tokens are routed over.
	Network string
	// StaleAfter is how long past its fire time a reminder is still worth sending.
	StaleAfter time.Duration
	// ExpirePushAfter is the provider-side TTL of a reminder notification.
	ExpirePushAfter time.Duration
}

// Result tallies one sweep. Found = Sent + Stale + Failed + Skipped.
type Result struct {
	Found   int
	Sent    int
	Stale   int
	Failed  int
	Skipped int
}

// Sweeper delivers due reminders. Records are processed sequentially and a
// failure on one never stops the rest.
type Sweeper struct {
	reminders   Source
	tokens      TokenSource
	router      Dispatcher
	locker      Locker
	descriptors Descriptors
	cfg         SweepConfig
	logger      *zap.Logger
	now         func() time.Time
}

// NewSweeper creates a sweeper. descriptors must pass Validate.
func NewSweeper(reminders Source, tokens TokenSource, router Dispatcher, descriptors Descriptors, cfg SweepConfig, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		reminders:   reminders,
		tokens:      tokens,
		router:      router,
		descriptors: descriptors,
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
	}
}

// WithLock makes every Run hold l for its duration.
func (s *Sweeper) WithLock(l Locker) *Sweeper {
	s.locker = l
	return s
}

// Run performs one sweep. It returns an error only if the lock could not be
// taken or the due reminders could not be loaded.
func (s *Sweeper) Run(ctx context.Context) (Result, error) {
	if s.locker != nil {
		release, err := s.locker.Acquire(ctx)
		if err != nil {
			return Result{}, fmt.Errorf("acquire sweep lock: %w", err)
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("failed to release sweep lock", zap.Error(err))
			}
		}()
	}

	start := s.now()

	due, err := s.reminders.DueReminders(ctx, start)
	if err != nil {
		return Result{}, fmt.Errorf("load due reminders: %w", err)
	}

	res := Result{Found: len(due)}
	for _, r := range due {
		switch s.process(ctx, r) {
		case outcomeSent:
			res.Sent++
		case outcomeStale:
			res.Stale++
		case outcomeSkipped:
			res.Skipped++
		default:
			res.Failed++
		}
	}

	metrics.RecordSweep(res.Found, res.Sent, res.Stale, res.Failed, res.Skipped, s.now().Sub(start))

	s.logger.Info("reminder sweep complete",
		zap.Int("found", res.Found),
		zap.Int("sent", res.Sent),
		zap.Int("stale", res.Stale),
		zap.Int("failed", res.Failed),
		zap.Int("skipped", res.Skipped),
	)

	return res, nil
}

type outcome int

const (
	outcomeFailed outcome = iota
	outcomeSent
	outcomeStale
	outcomeSkipped
)

func (s *Sweeper) process(ctx context.Context, r *db.Reminder) outcome {
	log := s.logger.With(
		zap.String("reminder_id", r.ID.String()),
		zap.String("pub_key", r.Identity),
		zap.String("type", r.Type),
	)

	now := s.now()
	if now.Sub(r.SendAt) > s.cfg.StaleAfter {
		log.Warn("dropping stale reminder", zap.Time("send_at", r.SendAt))
		s.retire(ctx, r, log)
		return outcomeStale
	}

	kind, err := ParseType(r.Type)
	if err != nil {
		log.Error("reminder has no descriptor", zap.Error(err))
		return outcomeFailed
	}
	desc, ok := s.descriptors[kind]
	if !ok {
		log.Error("reminder has no descriptor", zap.Error(ErrUnknownType))
		return outcomeFailed
	}
	if !desc.Enabled {
		log.Debug("reminder type disabled, dropping")
		s.retire(ctx, r, log)
		return outcomeSkipped
	}

	tokens, err := s.tokens.LookupTokens(ctx, r.Identity)
	if err != nil {
		log.Error("failed to look up device tokens", zap.Error(err))
		return outcomeFailed
	}
	if len(tokens) == 0 {
		log.Info("no device registered, keeping reminder")
		return outcomeSkipped
	}

	payload := push.Alert(desc.Title, desc.Body, now.Add(s.cfg.ExpirePushAfter))

	delivered := 0
	for _, tok := range tokens {
		result := s.router.Deliver(ctx, push.TargetFor(s.cfg.Network, tok), payload)
		if result.Success {
			delivered++
			continue
		}
		log.Warn("reminder delivery failed", zap.String("detail", result.Detail))
	}

	if delivered == 0 {
		return outcomeFailed
	}

	s.retire(ctx, r, log)
	return outcomeSent
}

func (s *Sweeper) retire(ctx context.Context, r *db.Reminder, log *zap.Logger) {
	if err := s.reminders.DeleteReminder(ctx, r.ID); err != nil {
		log.Error("failed to delete reminder", zap.Error(err))
	}
}
