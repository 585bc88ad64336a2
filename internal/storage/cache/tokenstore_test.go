package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-maintenance-notify/internal/storage/cache"
	"github.com/tinywideclouds/go-maintenance-notify/pkg/notify"
)

// --- Mocks ---
type MockCache struct {
	mock.Mock
}

func (m *MockCache) Get(ctx context.Context, key string, dest interface{}) error {
	args := m.Called(ctx, key, dest)
	return args.Error(0)
}
func (m *MockCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return m.Called(ctx, key, value, ttl).Error(0)
}
func (m *MockCache) Del(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

type MockRealStore struct {
	mock.Mock
}

func (m *MockRealStore) Register(ctx context.Context, device notify.DeviceToken) error {
	return m.Called(ctx, device).Error(0)
}
func (m *MockRealStore) Deactivate(ctx context.Context, userID, token string) error {
	return m.Called(ctx, userID, token).Error(0)
}
func (m *MockRealStore) DeactivateTokens(ctx context.Context, tokens []string) ([]string, error) {
	args := m.Called(ctx, tokens)
	return args.Get(0).([]string), args.Error(1)
}
func (m *MockRealStore) DevicesForUser(ctx context.Context, userID string) ([]notify.DeviceToken, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).([]notify.DeviceToken), args.Error(1)
}

func TestCachedStore_ImmediateInvalidation(t *testing.T) {
	ctx := context.Background()
	mockCache := new(MockCache)
	mockDB := new(MockRealStore)

	// Decorate the DB
	store := cache.NewCachedTokenStore(mockDB, mockCache, 1*time.Hour)
	userID := "annoyed-user"
	cacheKey := "notify:tokens:annoyed-user"

	t.Run("Deactivate invalidates cache immediately", func(t *testing.T) {
		token := "stale-token"

		// 1. Expect DB call
		mockDB.On("Deactivate", ctx, userID, token).Return(nil)

		// 2. Expect Cache DELETE (Crucial!)
		mockCache.On("Del", ctx, cacheKey).Return(nil)

		// Act
		err := store.Deactivate(ctx, userID, token)

		// Assert
		require.NoError(t, err)
		mockDB.AssertExpectations(t)
		mockCache.AssertExpectations(t)
	})

	t.Run("Subsequent read hits DB (Cache Miss)", func(t *testing.T) {
		// 1. Expect Cache Miss (simulating the delete worked)
		mockCache.On("Get", ctx, cacheKey, mock.Anything).Return(assert.AnError) // Error implies miss

		// 2. Expect DB Read (Source of Truth)
		// Return no devices (user removed their only token)
		empty := []notify.DeviceToken{}
		mockDB.On("DevicesForUser", ctx, userID).Return(empty, nil)

		// 3. Expect Cache SET (Refilling with empty state)
		mockCache.On("Set", ctx, cacheKey, empty, mock.Anything).Return(nil)

		// Act
		devices, err := store.DevicesForUser(ctx, userID)

		// Assert
		require.NoError(t, err)
		require.Empty(t, devices)
		mockDB.AssertExpectations(t)
	})
}

func TestCachedStore_SweepInvalidatesEveryOwner(t *testing.T) {
	ctx := context.Background()
	mockCache := new(MockCache)
	mockDB := new(MockRealStore)

	store := cache.NewCachedTokenStore(mockDB, mockCache, 1*time.Hour)

	tokens := []string{"tok-1", "tok-2"}
	mockDB.On("DeactivateTokens", ctx, tokens).Return([]string{"user-a", "user-b"}, nil)
	mockCache.On("Del", ctx, "notify:tokens:user-a").Return(nil)
	mockCache.On("Del", ctx, "notify:tokens:user-b").Return(nil)

	userIDs, err := store.DeactivateTokens(ctx, tokens)

	require.NoError(t, err)
	require.Equal(t, []string{"user-a", "user-b"}, userIDs)
	mockDB.AssertExpectations(t)
	mockCache.AssertExpectations(t)
}

func TestCachedStore_CacheHitSkipsDB(t *testing.T) {
	ctx := context.Background()
	mockCache := new(MockCache)
	mockDB := new(MockRealStore)

	store := cache.NewCachedTokenStore(mockDB, mockCache, 1*time.Hour)

	cached := []notify.DeviceToken{{UserID: "user-a", Token: "tok-1", Platform: notify.PlatformFCM, IsActive: true}}
	mockCache.On("Get", ctx, "notify:tokens:user-a", mock.Anything).
		Run(func(args mock.Arguments) {
			dest := args.Get(2).(*[]notify.DeviceToken)
			*dest = cached
		}).Return(nil)

	devices, err := store.DevicesForUser(ctx, "user-a")

	require.NoError(t, err)
	require.Equal(t, cached, devices)
	mockDB.AssertNotCalled(t, "DevicesForUser", mock.Anything, mock.Anything)
	mockCache.AssertExpectations(t)
}
