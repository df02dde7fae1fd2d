package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
	"github.com/vkudelin/agent-registry/internal/infrastructure/observability"
	"github.com/vkudelin/agent-registry/internal/models"
	pkgerrors "github.com/vkudelin/agent-registry/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// PostgresTokenRepository persists refresh-token records in the
// refresh_tokens table, keyed by the token string and indexed by
// (user_id, created_at) for compaction and by expires_at for sweeping.
type PostgresTokenRepository struct {
	db *sql.DB
}

func NewPostgresTokenRepository(db *sql.DB) *PostgresTokenRepository {
	return &PostgresTokenRepository{db: db}
}

func (r *PostgresTokenRepository) Create(ctx context.Context, token string, userID int32, expiresAt time.Time) (*models.RefreshToken, error) {
	var err error
	tracer := otel.Tracer("token-repository")
	ctx, span := tracer.Start(ctx, "CreateRefreshToken")
	span.SetAttributes(attribute.Int("user_id", int(userID)))
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("CreateRefreshToken", status).Inc()
		observability.RepositoryDuration.WithLabelValues("CreateRefreshToken").Observe(time.Since(start).Seconds())
	}()

	if token == "" {
		err = fmt.Errorf("%w: token cannot be empty", pkgerrors.ErrInvalidInput)
		return nil, err
	}

	query := `
	INSERT INTO refresh_tokens (token, user_id, expires_at)
	VALUES ($1, $2, $3)
	RETURNING id, created_at
	`
	record := &models.RefreshToken{
		Token:     token,
		UserID:    userID,
		ExpiresAt: expiresAt,
	}
	err = r.db.QueryRowContext(ctx, query, token, userID, expiresAt).Scan(&record.ID, &record.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			slog.Error("refresh token collision", "method", "Create", "user_id", userID)
			err = fmt.Errorf("%w: duplicate refresh token", pkgerrors.ErrStorage)
			return nil, err
		}
		slog.Error("failed to create refresh token", "method", "Create", "user_id", userID, "error", err)
		err = fmt.Errorf("%w: %v", pkgerrors.ErrStorage, err)
		return nil, err
	}

	return record, nil
}

func (r *PostgresTokenRepository) FindByToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	query := `SELECT id, token, user_id, expires_at, created_at FROM refresh_tokens WHERE token = $1`

	var record models.RefreshToken
	err := r.db.QueryRowContext(ctx, query, token).Scan(
		&record.ID,
		&record.Token,
		&record.UserID,
		&record.ExpiresAt,
		&record.CreatedAt,
	)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, pkgerrors.ErrTokenNotFound
	case err != nil:
		return nil, fmt.Errorf("failed to find refresh token: %w", err)
	}
	return &record, nil
}

func (r *PostgresTokenRepository) DeleteByToken(ctx context.Context, token string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE token = $1`, token)
	if err != nil {
		return false, fmt.Errorf("failed to delete refresh token: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return affected > 0, nil
}

// Compact deletes everything except the keepCount newest rows for the user.
// A single statement, so concurrent logins for the same user cannot race a
// read-then-delete window.
func (r *PostgresTokenRepository) Compact(ctx context.Context, userID int32, keepCount int) (int64, error) {
	var err error
	tracer := otel.Tracer("token-repository")
	ctx, span := tracer.Start(ctx, "CompactRefreshTokens")
	span.SetAttributes(attribute.Int("user_id", int(userID)), attribute.Int("keep_count", keepCount))
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("CompactRefreshTokens", status).Inc()
		observability.RepositoryDuration.WithLabelValues("CompactRefreshTokens").Observe(time.Since(start).Seconds())
	}()

	if keepCount < 0 {
		keepCount = 0
	}

	query := `
	DELETE FROM refresh_tokens
	WHERE user_id = $1
	AND id NOT IN (
		SELECT id FROM refresh_tokens
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	)`
	result, err := r.db.ExecContext(ctx, query, userID, keepCount)
	if err != nil {
		slog.Error("failed to compact refresh tokens", "method", "Compact", "user_id", userID, "error", err)
		err = fmt.Errorf("%w: %v", pkgerrors.ErrStorage, err)
		return 0, err
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		err = fmt.Errorf("failed to read rows affected: %w", err)
		return 0, err
	}

	if deleted > 0 {
		slog.Info("compacted refresh tokens", "method", "Compact", "user_id", userID, "deleted", deleted)
	}
	return deleted, nil
}

// SweepExpired removes rows strictly past their expiry. Running it twice with
// no intervening writes deletes nothing the second time.
func (r *PostgresTokenRepository) SweepExpired(ctx context.Context) (int64, error) {
	var err error
	tracer := otel.Tracer("token-repository")
	ctx, span := tracer.Start(ctx, "SweepExpiredTokens")
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("SweepExpiredTokens", status).Inc()
		observability.RepositoryDuration.WithLabelValues("SweepExpiredTokens").Observe(time.Since(start).Seconds())
	}()

	result, err := r.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE expires_at < NOW()`)
	if err != nil {
		slog.Error("failed to sweep expired tokens", "method", "SweepExpired", "error", err)
		err = fmt.Errorf("%w: %v", pkgerrors.ErrStorage, err)
		return 0, err
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		err = fmt.Errorf("failed to read rows affected: %w", err)
		return 0, err
	}
	return deleted, nil
}

func (r *PostgresTokenRepository) Stats(ctx context.Context) (*models.TokenStats, error) {
	stats := &models.TokenStats{}

	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE expires_at < NOW()) FROM refresh_tokens`,
	).Scan(&stats.Total, &stats.Expired)
	if err != nil {
		return nil, fmt.Errorf("failed to count refresh tokens: %w", err)
	}
	stats.Active = stats.Total - stats.Expired

	rows, err := r.db.QueryContext(ctx, `
	SELECT user_id, COUNT(*) AS token_count
	FROM refresh_tokens
	GROUP BY user_id
	ORDER BY token_count DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to count tokens by user: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var entry models.UserTokenCount
		if err := rows.Scan(&entry.UserID, &entry.TokenCount); err != nil {
			return nil, fmt.Errorf("failed to scan token count: %w", err)
		}
		stats.ByUser = append(stats.ByUser, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate token counts: %w", err)
	}
	return stats, nil
}
