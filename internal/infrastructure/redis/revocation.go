package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	stderrors "errors"
)

// RevocationRegistry is a TTL denylist for access tokens invalidated before
// their natural expiry. Entries lapse on their own; there is no delete path.
// An IsRevoked lookup runs on every authenticated request, so it is a single
// keyed GET and nothing else.
type RevocationRegistry struct {
	client RedisClient
}

func NewRevocationRegistry(client RedisClient) *RevocationRegistry {
	return &RevocationRegistry{client: client}
}

func revocationKey(token string) string {
	return fmt.Sprintf("revoked:%s", token)
}

// Revoke denylists token for ttl. A non-positive ttl means the token has
// already expired on its own and revoking it is a no-op.
func (r *RevocationRegistry) Revoke(ctx context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, revocationKey(token), "revoked", ttl); err != nil {
		slog.Error("failed to revoke token", "ttl", ttl, "error", err)
		return err
	}
	return nil
}

func (r *RevocationRegistry) IsRevoked(ctx context.Context, token string) (bool, error) {
	_, err := r.client.Get(ctx, revocationKey(token))
	if stderrors.Is(err, ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
