// Package session tracks revoked access tokens so a leaked token can be cut
// off before it expires.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redislib "github.com/redis/go-redis/v9"
)

// maxRevocationTTL bounds how long a revocation marker lives when the token
// expiry is unknown.
const maxRevocationTTL = 24 * time.Hour

type revocationStore interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	RevokedTokenKey(tokenID string) string
}

// RevocationChecker exposes the read-only surface needed by middleware.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// RevocationList is a Redis-backed deny list keyed by token id (jti).
type RevocationList struct {
	store revocationStore
	now   func() time.Time
}

func NewRevocationList(store revocationStore) (*RevocationList, error) {
	if store == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &RevocationList{store: store, now: time.Now}, nil
}

// Revoke denies tokenID until expiresAt; a zero expiresAt uses the maximum.
func (l *RevocationList) Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error {
	tokenID = strings.TrimSpace(tokenID)
	if tokenID == "" {
		return fmt.Errorf("token id is required")
	}
	ttl := maxRevocationTTL
	if !expiresAt.IsZero() {
		ttl = expiresAt.Sub(l.now())
		if ttl <= 0 {
			return nil
		}
	}
	return l.store.Set(ctx, l.store.RevokedTokenKey(tokenID), "1", ttl)
}

// Restore lifts a revocation.
func (l *RevocationList) Restore(ctx context.Context, tokenID string) error {
	if strings.TrimSpace(tokenID) == "" {
		return fmt.Errorf("token id is required")
	}
	return l.store.Del(ctx, l.store.RevokedTokenKey(tokenID))
}

func (l *RevocationList) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	if strings.TrimSpace(tokenID) == "" {
		return false, nil
	}
	if _, err := l.store.Get(ctx, l.store.RevokedTokenKey(tokenID)); err != nil {
		if errors.Is(err, redislib.Nil) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
