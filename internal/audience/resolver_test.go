package audience_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-maintenance-notify/internal/audience"
	"github.com/tinywideclouds/go-maintenance-notify/pkg/notify"
)

// --- Mocks ---

type mockAudienceStore struct {
	mock.Mock
}

func (m *mockAudienceStore) ActiveDevices(ctx context.Context, sel notify.Selector) ([]notify.DeviceToken, error) {
	args := m.Called(ctx, sel)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]notify.DeviceToken), args.Error(1)
}

func (m *mockAudienceStore) Preferences(ctx context.Context, userIDs []string) (map[string]notify.Preferences, error) {
	args := m.Called(ctx, userIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]notify.Preferences), args.Error(1)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func device(user, token string) notify.DeviceToken {
	return notify.DeviceToken{UserID: user, Token: token, Platform: notify.PlatformFCM, IsActive: true}
}

// --- Tests ---

func TestResolve_EmptySelector(t *testing.T) {
	store := new(mockAudienceStore)
	resolver := audience.NewResolver(store, newTestLogger())

	// No filters and no broadcast flag must never reach the store.
	aud, err := resolver.Resolve(context.Background(), notify.Selector{}, notify.CategoryInfo)

	require.NoError(t, err)
	assert.Empty(t, aud.Devices)
	store.AssertNotCalled(t, "ActiveDevices", mock.Anything, mock.Anything)
}

func TestResolve_ExplicitTokens(t *testing.T) {
	store := new(mockAudienceStore)
	resolver := audience.NewResolver(store, newTestLogger())

	t.Run("Deduplicates token list", func(t *testing.T) {
		sel := notify.Selector{Token: "tok-a", Tokens: []string{"tok-b", "tok-a"}}

		aud, err := resolver.Resolve(context.Background(), sel, "")

		require.NoError(t, err)
		assert.Equal(t, []string{"tok-a", "tok-b"}, aud.Tokens())
		store.AssertNotCalled(t, "ActiveDevices", mock.Anything, mock.Anything)
	})

	t.Run("Explicit tokens skip preference filtering", func(t *testing.T) {
		sel := notify.Selector{Tokens: []string{"tok-x"}}

		aud, err := resolver.Resolve(context.Background(), sel, notify.CategoryEmergency)

		require.NoError(t, err)
		assert.Len(t, aud.Devices, 1)
		store.AssertNotCalled(t, "Preferences", mock.Anything, mock.Anything)
	})
}

func TestResolve_UserFilters(t *testing.T) {
	ctx := context.Background()

	t.Run("Deduplicates across users and platforms", func(t *testing.T) {
		store := new(mockAudienceStore)
		resolver := audience.NewResolver(store, newTestLogger())

		sel := notify.Selector{Roles: []string{"technician"}}
		store.On("ActiveDevices", ctx, sel).Return([]notify.DeviceToken{
			device("u1", "tok-1"),
			device("u2", "tok-2"),
			device("u2", "tok-1"), // same physical device registered twice
		}, nil)

		aud, err := resolver.Resolve(ctx, sel, "")

		require.NoError(t, err)
		assert.Equal(t, []string{"tok-1", "tok-2"}, aud.Tokens())
	})

	t.Run("Idempotent read for unchanged store", func(t *testing.T) {
		store := new(mockAudienceStore)
		resolver := audience.NewResolver(store, newTestLogger())

		sel := notify.Selector{Departments: []string{"machining"}}
		store.On("ActiveDevices", ctx, sel).Return([]notify.DeviceToken{
			device("u1", "tok-1"), device("u2", "tok-2"),
		}, nil)

		first, err := resolver.Resolve(ctx, sel, "")
		require.NoError(t, err)
		second, err := resolver.Resolve(ctx, sel, "")
		require.NoError(t, err)

		assert.Equal(t, first.Tokens(), second.Tokens())
	})

	t.Run("Drops devices whose owner disabled the category", func(t *testing.T) {
		store := new(mockAudienceStore)
		resolver := audience.NewResolver(store, newTestLogger())

		sel := notify.Selector{Broadcast: true}
		store.On("ActiveDevices", ctx, sel).Return([]notify.DeviceToken{
			device("u1", "tok-1"),
			device("u2", "tok-2"),
			device("u3", "tok-3"),
		}, nil)

		optedOut := notify.DefaultPreferences()
		optedOut.PMSchedule = false
		globallyOff := notify.DefaultPreferences()
		globallyOff.Enabled = false

		// u3 has no record at all: defaults to allowed.
		store.On("Preferences", ctx, []string{"u1", "u2", "u3"}).Return(map[string]notify.Preferences{
			"u1": optedOut,
			"u2": globallyOff,
		}, nil)

		aud, err := resolver.Resolve(ctx, sel, notify.CategoryPMSchedule)

		require.NoError(t, err)
		assert.Equal(t, []string{"tok-3"}, aud.Tokens())
	})

	t.Run("Info category gated only by global flag", func(t *testing.T) {
		store := new(mockAudienceStore)
		resolver := audience.NewResolver(store, newTestLogger())

		sel := notify.Selector{UserIDs: []string{"u1"}}
		store.On("ActiveDevices", ctx, sel).Return([]notify.DeviceToken{device("u1", "tok-1")}, nil)

		allCategoriesOff := notify.Preferences{Enabled: true}
		store.On("Preferences", ctx, []string{"u1"}).Return(map[string]notify.Preferences{
			"u1": allCategoriesOff,
		}, nil)

		aud, err := resolver.Resolve(ctx, sel, notify.CategoryInfo)

		require.NoError(t, err)
		assert.Len(t, aud.Devices, 1)
	})
}

func TestAudience_Buckets(t *testing.T) {
	aud := audience.Audience{Devices: []notify.DeviceToken{
		{UserID: "u1", Token: "fcm-1", Platform: notify.PlatformFCM},
		{UserID: "u1", Token: "apns-1", Platform: notify.PlatformAPNS},
		{UserID: "u2", Token: "fcm-2", Platform: notify.PlatformFCM},
	}}

	buckets := aud.Buckets()

	assert.Len(t, buckets[notify.PlatformFCM], 2)
	assert.Len(t, buckets[notify.PlatformAPNS], 1)
	assert.Equal(t, []string{"u1", "u2"}, aud.UserIDs())
}
