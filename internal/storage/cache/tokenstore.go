package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/tinywideclouds/go-maintenance-notify/pkg/dispatch"
	"github.com/tinywideclouds/go-maintenance-notify/pkg/notify"
)

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get returns the value or a specific error if not found.
	Get(ctx context.Context, key string, dest interface{}) error
	// Set stores the value with a TTL.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Del removes the key.
	Del(ctx context.Context, key string) error
}

// CachedTokenStore is a Decorator that adds Read-Aside caching to any TokenStore.
type CachedTokenStore struct {
	realStore dispatch.TokenStore
	cache     CacheClient
	ttl       time.Duration
}

// NewCachedTokenStore creates the decorator.
func NewCachedTokenStore(realStore dispatch.TokenStore, cache CacheClient, ttl time.Duration) *CachedTokenStore {
	return &CachedTokenStore{
		realStore: realStore,
		cache:     cache,
		ttl:       ttl,
	}
}

// --- READ PATH (Read-Aside) ---

func (s *CachedTokenStore) DevicesForUser(ctx context.Context, userID string) ([]notify.DeviceToken, error) {
	key := s.cacheKey(userID)
	var cached []notify.DeviceToken

	// 1. Try Cache
	err := s.cache.Get(ctx, key, &cached)
	if err == nil {
		// Cache Hit
		return cached, nil
	}

	// 2. Fallback to Real Store (Postgres)
	fresh, err := s.realStore.DevicesForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	// 3. Populate Cache (Fire and Forget)
	// We ignore errors here because caching is an optimization, not a transaction.
	// If Redis is down, we just serve from DB.
	_ = s.cache.Set(ctx, key, fresh, s.ttl)

	return fresh, nil
}

// --- WRITE PATHS (Invalidate-on-Write) ---

func (s *CachedTokenStore) Register(ctx context.Context, device notify.DeviceToken) error {
	// 1. Write to Source of Truth
	if err := s.realStore.Register(ctx, device); err != nil {
		return err
	}
	// 2. Invalidate Cache
	return s.invalidate(ctx, device.UserID)
}

// Deactivate clears the cache even though the DB write already succeeded.
// A stale cache entry would keep pushing to a token the user just removed.
func (s *CachedTokenStore) Deactivate(ctx context.Context, userID, token string) error {
	if err := s.realStore.Deactivate(ctx, userID, token); err != nil {
		return err
	}
	return s.invalidate(ctx, userID)
}

func (s *CachedTokenStore) DeactivateTokens(ctx context.Context, tokens []string) ([]string, error) {
	userIDs, err := s.realStore.DeactivateTokens(ctx, tokens)
	if err != nil {
		return nil, err
	}
	for _, id := range userIDs {
		// Best effort: the swept rows are already inactive in Postgres,
		// the cache just catches up on the next read if Del fails.
		_ = s.invalidate(ctx, id)
	}
	return userIDs, nil
}

// --- Helpers ---

func (s *CachedTokenStore) invalidate(ctx context.Context, userID string) error {
	// We delete the key. The next read is forced to go to Postgres.
	// This ensures immediate consistency for "Disable Notifications" actions.
	return s.cache.Del(ctx, s.cacheKey(userID))
}

func (s *CachedTokenStore) cacheKey(userID string) string {
	return fmt.Sprintf("notify:tokens:%s", userID)
}
