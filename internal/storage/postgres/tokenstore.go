package postgres

import (
	"context"
	"fmt"

	"github.com/tinywideclouds/go-maintenance-notify/pkg/notify"
)

// Register upserts on the (user, token) pair. Re-registering a deactivated
// token reactivates it: the device came back.
func (s *Store) Register(ctx context.Context, token notify.DeviceToken) error {
	platform := token.Platform
	if platform == "" {
		platform = notify.PlatformFCM
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO device_tokens (user_id, token, platform, device_info, is_active, last_used_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), TRUE, now())
		ON CONFLICT (user_id, token) DO UPDATE
		SET platform     = EXCLUDED.platform,
		    device_info  = COALESCE(EXCLUDED.device_info, device_tokens.device_info),
		    is_active    = TRUE,
		    last_used_at = now()
	`, token.UserID, token.Token, string(platform), token.DeviceInfo)
	if err != nil {
		return fmt.Errorf("register device token: %w", err)
	}
	return nil
}

// Deactivate flips one of the user's tokens inactive. Missing rows are fine:
// unregister is idempotent.
func (s *Store) Deactivate(ctx context.Context, userID, token string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE device_tokens
		SET is_active = FALSE, last_used_at = now()
		WHERE user_id = $1 AND token = $2 AND is_active
	`, userID, token)
	if err != nil {
		return fmt.Errorf("deactivate device token: %w", err)
	}
	return nil
}

// DeactivateTokens is the janitor path: deactivation by token value across
// all users. Returns the affected owners for cache invalidation.
func (s *Store) DeactivateTokens(ctx context.Context, tokens []string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE device_tokens
		SET is_active = FALSE, last_used_at = now()
		WHERE token = ANY($1) AND is_active
		RETURNING user_id
	`, tokens)
	if err != nil {
		return nil, fmt.Errorf("deactivate invalid tokens: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]struct{})
	var userIDs []string
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return nil, fmt.Errorf("scan deactivated owner: %w", err)
		}
		if _, ok := seen[uid]; ok {
			continue
		}
		seen[uid] = struct{}{}
		userIDs = append(userIDs, uid)
	}
	return userIDs, rows.Err()
}

// DevicesForUser returns the user's active devices, newest registration first.
func (s *Store) DevicesForUser(ctx context.Context, userID string) ([]notify.DeviceToken, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, token, platform, COALESCE(device_info, ''), is_active, last_used_at
		FROM device_tokens
		WHERE user_id = $1 AND is_active
		ORDER BY last_used_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query user devices: %w", err)
	}
	defer rows.Close()

	var devices []notify.DeviceToken
	for rows.Next() {
		var d notify.DeviceToken
		var platform string
		if err := rows.Scan(&d.UserID, &d.Token, &platform, &d.DeviceInfo, &d.IsActive, &d.LastUsedAt); err != nil {
			return nil, fmt.Errorf("scan device token: %w", err)
		}
		d.Platform = notify.Platform(platform)
		devices = append(devices, d)
	}
	return devices, rows.Err()
}
