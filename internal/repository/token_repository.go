package repository

import (
	"context"
	"time"

	"github.com/vkudelin/agent-registry/internal/models"
)

// TokenRepository is the durable store of issued refresh tokens.
type TokenRepository interface {
	Create(ctx context.Context, token string, userID int32, expiresAt time.Time) (*models.RefreshToken, error)
	FindByToken(ctx context.Context, token string) (*models.RefreshToken, error)

	// DeleteByToken reports whether a row was actually removed, so callers can
	// detect a stale token without treating it as an error.
	DeleteByToken(ctx context.Context, token string) (bool, error)

	// Compact removes all but the keepCount most recently created tokens for
	// the user in a single set-based statement.
	Compact(ctx context.Context, userID int32, keepCount int) (int64, error)

	// SweepExpired removes every token past its expires_at and returns the
	// number of rows deleted.
	SweepExpired(ctx context.Context) (int64, error)

	Stats(ctx context.Context) (*models.TokenStats, error)
}
