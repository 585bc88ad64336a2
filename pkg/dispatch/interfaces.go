// Package dispatch defines the contracts between the fan-out core and its
// platform dispatchers and stores.
package dispatch

import (
	"context"

	"github.com/tinywideclouds/go-maintenance-notify/pkg/notify"
)

// Dispatcher defines the contract for a component that can send notifications
// to a specific platform (e.g., Apple's APNS, Google's FCM).
// Provider delivery errors are reflected in the Outcome, never returned:
// the error return is reserved for failures that prevent the call entirely.
type Dispatcher interface {
	Dispatch(ctx context.Context, tokens []string, content notify.Content, data map[string]string, opts notify.Options) (notify.Outcome, error)
}

// TokenStore defines the contract for managing user device tokens.
// It allows the service to remember "where" to send notifications for a user.
type TokenStore interface {
	// Register adds or reactivates a device token for a user (upsert on
	// the (user, token) pair).
	Register(ctx context.Context, token notify.DeviceToken) error

	// Deactivate flips one of the user's tokens inactive. Idempotent.
	Deactivate(ctx context.Context, userID, token string) error

	// DeactivateTokens flips tokens inactive by value regardless of owner
	// (the janitor path) and returns the affected user IDs so cache layers
	// can invalidate.
	DeactivateTokens(ctx context.Context, tokens []string) ([]string, error)

	// DevicesForUser returns the user's active devices.
	DevicesForUser(ctx context.Context, userID string) ([]notify.DeviceToken, error)
}

// AudienceStore answers the resolver's selector queries.
type AudienceStore interface {
	// ActiveDevices returns active devices matching every provided
	// user-attribute filter, in a deterministic order.
	ActiveDevices(ctx context.Context, sel notify.Selector) ([]notify.DeviceToken, error)

	// Preferences returns stored preference records for the given users.
	// Users without a record are absent from the map.
	Preferences(ctx context.Context, userIDs []string) (map[string]notify.Preferences, error)
}

// PreferenceStore manages a user's own preference record.
type PreferenceStore interface {
	GetPreferences(ctx context.Context, userID string) (notify.Preferences, bool, error)
	UpsertPreferences(ctx context.Context, userID string, prefs notify.Preferences) error
}

// DispatchLogStore appends one audit row per fan-out call.
type DispatchLogStore interface {
	Record(ctx context.Context, log notify.DispatchLog) error
}

// InboxStore creates in-app notification rows alongside push dispatch.
type InboxStore interface {
	CreateMessages(ctx context.Context, msgs []notify.Message) error
}
