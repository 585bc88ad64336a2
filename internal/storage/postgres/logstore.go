package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/tinywideclouds/go-maintenance-notify/pkg/notify"
)

// Record appends one audit row per fan-out call.
func (s *Store) Record(ctx context.Context, log notify.DispatchLog) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO dispatch_logs (id, type, title, body, target, success_count, failure_count, errors, sent_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9)
	`, log.ID, string(log.Category), log.Title, log.Body, log.Target,
		log.SuccessCount, log.FailureCount, log.Errors, log.SentAt)
	if err != nil {
		return fmt.Errorf("insert dispatch log: %w", err)
	}
	return nil
}

// CreateMessages batch-inserts in-app notification rows, one per recipient.
func (s *Store) CreateMessages(ctx context.Context, msgs []notify.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, m := range msgs {
		data, err := json.Marshal(m.Data)
		if err != nil {
			return fmt.Errorf("marshal notification data: %w", err)
		}
		batch.Queue(`
			INSERT INTO notifications (id, user_id, type, title, message, data, is_read)
			VALUES ($1, $2, $3, $4, $5, $6, FALSE)
		`, m.ID, m.UserID, string(m.Category), m.Title, m.Body, data)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer func() { _ = results.Close() }()

	for range msgs {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("insert in-app notification: %w", err)
		}
	}
	return nil
}
