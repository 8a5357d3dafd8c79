package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/tari-project/aurora-push/internal/observ"
)

// TokenRepository is the access layer over push_tokens.
type TokenRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewTokenRepository creates a new token repository
func NewTokenRepository(db *DB, logger *zap.Logger) *TokenRepository {
	return &TokenRepository{
		db:     db,
		logger: logger,
	}
}

// UpsertToken inserts or updates the (identity, token) pair. A nil or empty app
// or user id never clears a previously stored value.
func (r *TokenRepository) UpsertToken(ctx context.Context, reg TokenRegistration) error {
	identity := NormalizeIdentity(reg.Identity)
	if identity == "" || reg.Token == "" {
		return ErrInvalidToken
	}

	query := `
		INSERT INTO push_tokens (pub_key, token, platform, sandbox, app_id, user_id, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NOW())
		ON CONFLICT (pub_key, token)
		DO UPDATE SET
			platform = EXCLUDED.platform,
			sandbox = EXCLUDED.sandbox,
			app_id = COALESCE(EXCLUDED.app_id, push_tokens.app_id),
			user_id = COALESCE(EXCLUDED.user_id, push_tokens.user_id),
			updated_at = NOW()
	`

	result, err := r.db.Pool().Exec(ctx, query,
		identity,
		reg.Token,
		reg.Platform,
		reg.Sandbox,
		reg.AppID,
		reg.UserID,
	)
	if err != nil {
		r.logger.Error("failed to upsert push token",
			zap.Error(err),
			zap.String("pub_key", identity),
		)
		return fmt.Errorf("upsert push token: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("upsert push token: no rows affected")
	}

	r.logger.Debug("push token registered",
		zap.String("pub_key", identity),
		observ.Token(reg.Token),
		zap.String("platform", reg.Platform),
		zap.Bool("sandbox", reg.Sandbox),
	)

	return nil
}

// RemoveToken deletes the (identity, token) pair. Returns ErrNotFound if no row matched.
func (r *TokenRepository) RemoveToken(ctx context.Context, identity, token string) error {
	identity = NormalizeIdentity(identity)

	result, err := r.db.Pool().Exec(ctx,
		`DELETE FROM push_tokens WHERE pub_key = $1 AND token = $2`,
		identity, token,
	)
	if err != nil {
		return fmt.Errorf("delete push token: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("push token %s for %s: %w", observ.RedactToken(token), identity, ErrNotFound)
	}

	r.logger.Debug("push token removed",
		zap.String("pub_key", identity),
		observ.Token(token),
	)

	return nil
}

// LookupTokens returns every token registered against a pub key. An empty
// slice means there is no device to notify.
func (r *TokenRepository) LookupTokens(ctx context.Context, identity string) ([]*DeviceToken, error) {
	query := `
		SELECT pub_key, token, platform, sandbox, app_id, user_id, updated_at
		FROM push_tokens
		WHERE pub_key = $1
	`

	rows, err := r.db.Pool().Query(ctx, query, NormalizeIdentity(identity))
	if err != nil {
		return nil, fmt.Errorf("query push tokens: %w", err)
	}

	return scanTokens(rows)
}

// LookupAppTokens returns every token registered with the given app id or user id.
func (r *TokenRepository) LookupAppTokens(ctx context.Context, appID, userID string) ([]*DeviceToken, error) {
	query := `
		SELECT pub_key, token, platform, sandbox, app_id, user_id, updated_at
		FROM push_tokens
		WHERE app_id = $1 OR user_id = $2
	`

	rows, err := r.db.Pool().Query(ctx, query, appID, userID)
	if err != nil {
		return nil, fmt.Errorf("query app push tokens: %w", err)
	}

	return scanTokens(rows)
}

// HealthProbe reports whether the store answers a trivial query.
func (r *TokenRepository) HealthProbe(ctx context.Context) bool {
	var one int
	if err := r.db.Pool().QueryRow(ctx, `SELECT 1`).Scan(&one); err != nil {
		r.logger.Warn("database health probe failed", zap.Error(err))
		return false
	}
	return one == 1
}

func scanTokens(rows pgx.Rows) ([]*DeviceToken, error) {
	defer rows.Close()

	tokens := []*DeviceToken{}
	for rows.Next() {
		var t DeviceToken
		err := rows.Scan(
			&t.Identity,
			&t.Token,
			&t.Platform,
			&t.Sandbox,
			&t.AppID,
			&t.UserID,
			&t.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan push token: %w", err)
		}
		tokens = append(tokens, &t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return tokens, nil
}
