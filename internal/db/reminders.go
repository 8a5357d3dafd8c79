package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ReminderRepository is the access layer over reminder_notifications.
type ReminderRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewReminderRepository creates a new reminder repository
func NewReminderRepository(db *DB, logger *zap.Logger) *ReminderRepository {
	return &ReminderRepository{
		db:     db,
		logger: logger,
	}
}

// InsertReminders writes a batch of reminders in a single transaction. Either
// every row is stored or none is.
func (r *ReminderRepository) InsertReminders(ctx context.Context, reminders []*Reminder) error {
	if len(reminders) == 0 {
		return nil
	}

	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `
		INSERT INTO reminder_notifications (id, pub_key, reminder_type, send_at)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`

	for _, rem := range reminders {
		if rem.ID == uuid.Nil {
			rem.ID = uuid.New()
		}
		rem.Identity = NormalizeIdentity(rem.Identity)

		err := tx.QueryRow(ctx, query, rem.ID, rem.Identity, rem.Type, rem.SendAt).Scan(&rem.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert %s reminder: %w", rem.Type, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	r.logger.Debug("reminders scheduled", zap.Int("count", len(reminders)))

	return nil
}

// DueReminders returns every reminder with send_at at or before now, oldest first.
func (r *ReminderRepository) DueReminders(ctx context.Context, now time.Time) ([]*Reminder, error) {
	query := `
		SELECT id, pub_key, reminder_type, send_at, created_at
		FROM reminder_notifications
		WHERE send_at <= $1
		ORDER BY send_at ASC
	`

	rows, err := r.db.Pool().Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("query due reminders: %w", err)
	}
	defer rows.Close()

	var reminders []*Reminder
	for rows.Next() {
		var rem Reminder
		if err := rows.Scan(&rem.ID, &rem.Identity, &rem.Type, &rem.SendAt, &rem.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		reminders = append(reminders, &rem)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return reminders, nil
}

// DeleteReminder removes a single reminder by id.
func (r *ReminderRepository) DeleteReminder(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.Pool().Exec(ctx, `DELETE FROM reminder_notifications WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete reminder: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("reminder %s: %w", id, ErrNotFound)
	}

	return nil
}

// CancelReminders deletes every pending reminder for an identity and reports
// how many were removed.
func (r *ReminderRepository) CancelReminders(ctx context.Context, identity string) (int64, error) {
	identity = NormalizeIdentity(identity)

	result, err := r.db.Pool().Exec(ctx, `DELETE FROM reminder_notifications WHERE pub_key = $1`, identity)
	if err != nil {
		return 0, fmt.Errorf("cancel reminders: %w", err)
	}

	r.logger.Info("reminders cancelled",
		zap.String("pub_key", identity),
		zap.Int64("count", result.RowsAffected()),
	)

	return result.RowsAffected(), nil
}
