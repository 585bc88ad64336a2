// Package audience resolves a dispatch selector into the deduplicated set of
// active, preference-permitting device tokens.
package audience

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tinywideclouds/go-maintenance-notify/pkg/dispatch"
	"github.com/tinywideclouds/go-maintenance-notify/pkg/notify"
)

// Audience is the resolved recipient set, deduplicated by token value.
type Audience struct {
	Devices []notify.DeviceToken
}

// Tokens returns the token values in resolution order.
func (a Audience) Tokens() []string {
	tokens := make([]string, 0, len(a.Devices))
	for _, d := range a.Devices {
		tokens = append(tokens, d.Token)
	}
	return tokens
}

// Buckets groups the audience per platform, preserving resolution order.
func (a Audience) Buckets() map[notify.Platform][]notify.DeviceToken {
	buckets := make(map[notify.Platform][]notify.DeviceToken)
	for _, d := range a.Devices {
		buckets[d.Platform] = append(buckets[d.Platform], d)
	}
	return buckets
}

// UserIDs returns the distinct owning users, in resolution order. Devices
// addressed by explicit token have no known owner and are skipped.
func (a Audience) UserIDs() []string {
	seen := make(map[string]struct{}, len(a.Devices))
	ids := make([]string, 0, len(a.Devices))
	for _, d := range a.Devices {
		if d.UserID == "" {
			continue
		}
		if _, ok := seen[d.UserID]; ok {
			continue
		}
		seen[d.UserID] = struct{}{}
		ids = append(ids, d.UserID)
	}
	return ids
}

// Resolver turns selectors into audiences using the audience store.
type Resolver struct {
	store  dispatch.AudienceStore
	logger *slog.Logger
}

func NewResolver(store dispatch.AudienceStore, logger *slog.Logger) *Resolver {
	return &Resolver{
		store:  store,
		logger: logger.With("component", "AudienceResolver"),
	}
}

// Resolve applies the selector and, when a category is given, drops devices
// whose owner has disabled that category (or push globally). Users without a
// preference record default to "allowed". An empty selector resolves to zero
// recipients; it never silently broadcasts.
func (r *Resolver) Resolve(ctx context.Context, sel notify.Selector, category notify.Category) (Audience, error) {
	if sel.Empty() {
		r.logger.Debug("Empty selector, resolving to no recipients")
		return Audience{}, nil
	}

	var devices []notify.DeviceToken

	// Explicit tokens are direct addresses: no user attributes to join, no
	// preference record to consult.
	for _, t := range sel.ExplicitTokens() {
		devices = append(devices, notify.DeviceToken{
			Token:    t,
			Platform: notify.PlatformFCM,
			IsActive: true,
		})
	}

	if sel.HasUserFilters() {
		stored, err := r.store.ActiveDevices(ctx, sel)
		if err != nil {
			return Audience{}, fmt.Errorf("audience query failed: %w", err)
		}

		if category != "" {
			stored, err = r.filterByPreference(ctx, stored, category)
			if err != nil {
				return Audience{}, err
			}
		}
		devices = append(devices, stored...)
	}

	return Audience{Devices: dedupe(devices)}, nil
}

func (r *Resolver) filterByPreference(ctx context.Context, devices []notify.DeviceToken, category notify.Category) ([]notify.DeviceToken, error) {
	if len(devices) == 0 {
		return devices, nil
	}

	userIDs := Audience{Devices: devices}.UserIDs()
	prefs, err := r.store.Preferences(ctx, userIDs)
	if err != nil {
		return nil, fmt.Errorf("preference query failed: %w", err)
	}

	kept := devices[:0]
	dropped := 0
	for _, d := range devices {
		p, ok := prefs[d.UserID]
		if !ok {
			p = notify.DefaultPreferences()
		}
		if !p.Allows(category) {
			dropped++
			continue
		}
		kept = append(kept, d)
	}
	if dropped > 0 {
		r.logger.Debug("Preference filter dropped devices", "category", category, "dropped", dropped)
	}
	return kept, nil
}

// dedupe keeps the first occurrence of each token value. A token must appear
// at most once in the set handed to any single dispatch.
func dedupe(devices []notify.DeviceToken) []notify.DeviceToken {
	seen := make(map[string]struct{}, len(devices))
	out := make([]notify.DeviceToken, 0, len(devices))
	for _, d := range devices {
		if _, ok := seen[d.Token]; ok {
			continue
		}
		seen[d.Token] = struct{}{}
		out = append(out, d)
	}
	return out
}
