package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/tinywideclouds/go-maintenance-notify/pkg/notify"
)

// ActiveDevices answers the resolver's selector query. Every provided filter
// is a conjunctive constraint; the resolver guarantees at least one filter or
// an explicit broadcast before calling, so an unfiltered query here really
// means broadcast. Output order is fixed so repeated reads are identical.
func (s *Store) ActiveDevices(ctx context.Context, sel notify.Selector) ([]notify.DeviceToken, error) {
	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString(`
		SELECT dt.user_id, dt.token, dt.platform, COALESCE(dt.device_info, ''), dt.is_active, dt.last_used_at
		FROM device_tokens dt
		JOIN users u ON u.id = dt.user_id
		WHERE dt.is_active`)

	addFilter := func(clause string, value any) {
		args = append(args, value)
		fmt.Fprintf(&sb, " AND %s = ANY($%d)", clause, len(args))
	}
	if len(sel.UserIDs) > 0 {
		addFilter("dt.user_id", sel.UserIDs)
	}
	if len(sel.Roles) > 0 {
		addFilter("u.role", sel.Roles)
	}
	if len(sel.Departments) > 0 {
		addFilter("u.department", sel.Departments)
	}
	sb.WriteString(" ORDER BY dt.user_id, dt.token")

	rows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query audience devices: %w", err)
	}
	defer rows.Close()

	var devices []notify.DeviceToken
	for rows.Next() {
		var d notify.DeviceToken
		var platform string
		if err := rows.Scan(&d.UserID, &d.Token, &platform, &d.DeviceInfo, &d.IsActive, &d.LastUsedAt); err != nil {
			return nil, fmt.Errorf("scan audience device: %w", err)
		}
		d.Platform = notify.Platform(platform)
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// Preferences fetches stored records for the given users. Users without a
// record are simply absent; the resolver treats absence as "allowed".
func (s *Store) Preferences(ctx context.Context, userIDs []string) (map[string]notify.Preferences, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, enabled, emergency, long_repair, completed, pm_schedule
		FROM notification_preferences
		WHERE user_id = ANY($1)
	`, userIDs)
	if err != nil {
		return nil, fmt.Errorf("query preferences: %w", err)
	}
	defer rows.Close()

	prefs := make(map[string]notify.Preferences)
	for rows.Next() {
		var uid string
		var p notify.Preferences
		if err := rows.Scan(&uid, &p.Enabled, &p.Emergency, &p.LongRepair, &p.Completed, &p.PMSchedule); err != nil {
			return nil, fmt.Errorf("scan preference: %w", err)
		}
		prefs[uid] = p
	}
	return prefs, rows.Err()
}

// GetPreferences returns a user's record, reporting whether one exists.
func (s *Store) GetPreferences(ctx context.Context, userID string) (notify.Preferences, bool, error) {
	prefs, err := s.Preferences(ctx, []string{userID})
	if err != nil {
		return notify.Preferences{}, false, err
	}
	p, ok := prefs[userID]
	return p, ok, nil
}

// UpsertPreferences writes the user's record wholesale.
func (s *Store) UpsertPreferences(ctx context.Context, userID string, p notify.Preferences) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notification_preferences (user_id, enabled, emergency, long_repair, completed, pm_schedule, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (user_id) DO UPDATE
		SET enabled     = EXCLUDED.enabled,
		    emergency   = EXCLUDED.emergency,
		    long_repair = EXCLUDED.long_repair,
		    completed   = EXCLUDED.completed,
		    pm_schedule = EXCLUDED.pm_schedule,
		    updated_at  = now()
	`, userID, p.Enabled, p.Emergency, p.LongRepair, p.Completed, p.PMSchedule)
	if err != nil {
		return fmt.Errorf("upsert preferences: %w", err)
	}
	return nil
}
