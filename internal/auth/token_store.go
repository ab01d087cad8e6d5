package auth

import (
	"context"
	"strconv"
	"time"

	"techorbit/internal/cache"
)

const revokedSessionsKeyPrefix = "sessions:revoked_before:"

// SessionRevoker invalidates every token a user was issued before a point in time.
type SessionRevoker interface {
	RevokeSessions(ctx context.Context, userID string, at time.Time) error
	IsRevoked(ctx context.Context, claims *Claims) bool
}

// TokenStore keeps per-user revocation markers in Redis.
type TokenStore struct {
	cache *cache.Client
}

// Ensure TokenStore implements SessionRevoker
var _ SessionRevoker = (*TokenStore)(nil)

// NewTokenStore creates a new token store.
func NewTokenStore(cache *cache.Client) *TokenStore {
	return &TokenStore{cache: cache}
}

// RevokeSessions marks tokens issued before at as invalid. The marker lives as
// long as the longest token could.
func (s *TokenStore) RevokeSessions(ctx context.Context, userID string, at time.Time) error {
	key := revokedSessionsKeyPrefix + userID
	value := strconv.FormatInt(at.Unix(), 10)
	return s.cache.Set(ctx, key, []byte(value), RememberedSessionExpiry)
}

// IsRevoked reports whether the token predates the user's revocation marker.
// Token timestamps have second precision, so a token issued in the same second
// as the revocation stays valid.
func (s *TokenStore) IsRevoked(ctx context.Context, claims *Claims) bool {
	if claims == nil || claims.IssuedAt == nil {
		return false
	}
	data, err := s.cache.Get(ctx, revokedSessionsKeyPrefix+claims.UserID)
	if err != nil || data == nil {
		return false // fail safe
	}
	revokedAt, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return false
	}
	return claims.IssuedAt.Unix() < revokedAt
}
