package reminder

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tari-project/aurora-push/internal/db"
	"github.com/tari-project/aurora-push/internal/metrics"
)

// Store is the write side of the reminder table.
type Store interface {
	InsertReminders(ctx context.Context, reminders []*db.Reminder) error
	CancelReminders(ctx context.Context, identity string) (int64, error)
}

// Scheduler writes the reminder batch for a transaction lifecycle event.
type Scheduler struct {
	store       Store
	descriptors Descriptors
	logger      *zap.Logger
	now         func() time.Time
}

// NewScheduler creates a scheduler. descriptors must pass Validate.
func NewScheduler(store Store, descriptors Descriptors, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		store:       store,
		descriptors: descriptors,
		logger:      logger,
		now:         time.Now,
	}
}

type entry struct {
	identity string
	kind     Type
}

// ScheduleForRecipientPath is triggered when a sender initiates a transfer.
// It reminds the recipient to accept and tells both sides when it expires.
func (s *Scheduler) ScheduleForRecipientPath(ctx context.Context, recipient, sender string) error {
	return s.schedule(ctx, []entry{
		{recipient, RecipientFirst},
		{recipient, RecipientSecond},
		{recipient, RecipientExpired},
		{sender, SenderExpired},
	})
}

// ScheduleForSenderPath is triggered when the recipient accepts. It reminds
// the sender to finalize and tells both sides when it expires.
func (s *Scheduler) ScheduleForSenderPath(ctx context.Context, recipient, sender string) error {
	return s.schedule(ctx, []entry{
		{sender, SenderFirst},
		{sender, SenderSecond},
		{sender, SenderBroadcastExpired},
		{recipient, RecipientBroadcastExpired},
	})
}

// CancelAll drops every pending reminder for identity.
func (s *Scheduler) CancelAll(ctx context.Context, identity string) (int64, error) {
	n, err := s.store.CancelReminders(ctx, identity)
	if err != nil {
		return 0, fmt.Errorf("cancel reminders: %w", err)
	}
	return n, nil
}

// schedule inserts the batch in one transaction. Every fire time is relative
// to the same trigger instant.
func (s *Scheduler) schedule(ctx context.Context, entries []entry) error {
	triggeredAt := s.now()

	batch := make([]*db.Reminder, 0, len(entries))
	for _, e := range entries {
		desc, ok := s.descriptors[e.kind]
		if !ok {
			return fmt.Errorf("schedule %s: %w", e.kind, ErrUnknownType)
		}
		if !desc.Enabled {
			continue
		}
		batch = append(batch, &db.Reminder{
			Identity: db.NormalizeIdentity(e.identity),
			Type:     string(e.kind),
			SendAt:   triggeredAt.Add(desc.Offset),
		})
	}

	if len(batch) == 0 {
		return nil
	}

	if err := s.store.InsertReminders(ctx, batch); err != nil {
		return fmt.Errorf("schedule reminders: %w", err)
	}

	for _, r := range batch {
		metrics.RecordReminderScheduled(r.Type)
	}

	s.logger.Info("reminders scheduled",
		zap.Int("count", len(batch)),
		zap.String("first_type", batch[0].Type),
	)

	return nil
}
