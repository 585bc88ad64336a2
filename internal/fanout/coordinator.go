// Package fanout runs the Resolver -> Dispatcher -> Logger -> Janitor sequence
// for one dispatch call. Both the HTTP API and the Pub/Sub pipeline delegate
// here, so the two ingestion paths cannot drift apart.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tinywideclouds/go-maintenance-notify/internal/audience"
	"github.com/tinywideclouds/go-maintenance-notify/pkg/dispatch"
	"github.com/tinywideclouds/go-maintenance-notify/pkg/notify"
)

// ErrInvalidRequest marks validation failures so the HTTP layer can answer
// 400 instead of 500.
var ErrInvalidRequest = errors.New("invalid dispatch request")

// Resolver is the audience lookup seam, satisfied by *audience.Resolver.
type Resolver interface {
	Resolve(ctx context.Context, sel notify.Selector, category notify.Category) (audience.Audience, error)
}

// Sweeper is the post-dispatch cleanup seam, satisfied by *janitor.Janitor.
type Sweeper interface {
	Sweep(ctx context.Context, tokens []string, out notify.Outcome) int
}

// platformOrder fixes the dispatch order so counts and error indices are
// deterministic for a given audience.
var platformOrder = []notify.Platform{notify.PlatformFCM, notify.PlatformAPNS, notify.PlatformWebPush}

type Coordinator struct {
	resolver    Resolver
	dispatchers map[notify.Platform]dispatch.Dispatcher
	inbox       dispatch.InboxStore
	logs        dispatch.DispatchLogStore
	sweeper     Sweeper
	logger      *slog.Logger
}

func NewCoordinator(
	resolver Resolver,
	dispatchers map[notify.Platform]dispatch.Dispatcher,
	inbox dispatch.InboxStore,
	logs dispatch.DispatchLogStore,
	sweeper Sweeper,
	logger *slog.Logger,
) *Coordinator {
	return &Coordinator{
		resolver:    resolver,
		dispatchers: dispatchers,
		inbox:       inbox,
		logs:        logs,
		sweeper:     sweeper,
		logger:      logger.With("component", "FanoutCoordinator"),
	}
}

// Dispatch performs one complete fan-out. The returned Result always
// satisfies Sent+Failed == Total == number of unique resolved tokens.
// Provider failures live in Result.Errors; the error return covers only
// validation and resolution.
func (c *Coordinator) Dispatch(ctx context.Context, req notify.DispatchRequest) (notify.Result, error) {
	if err := req.Validate(); err != nil {
		return notify.Result{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	aud, err := c.resolver.Resolve(ctx, req.Selector, req.Category())
	if err != nil {
		return notify.Result{}, err
	}

	// In-app rows are written before push delivery so the notification
	// survives even if every push fails.
	c.createInboxMessages(ctx, aud, req)

	var agg notify.Outcome
	buckets := aud.Buckets()
	for _, platform := range platformOrder {
		devices := buckets[platform]
		if len(devices) == 0 {
			continue
		}
		tokens := audience.Audience{Devices: devices}.Tokens()

		d, ok := c.dispatchers[platform]
		if !ok {
			agg.Failed += len(tokens)
			agg.Errors = append(agg.Errors, fmt.Sprintf("%s: no dispatcher configured", platform))
			continue
		}

		out, err := d.Dispatch(ctx, tokens, req.Notification, req.Data, req.Options)
		agg.Merge(out)
		if err != nil {
			// The dispatcher stopped early; every unaccounted token failed.
			remaining := len(tokens) - out.Sent - out.Failed
			if remaining > 0 {
				agg.Failed += remaining
			}
			agg.Errors = append(agg.Errors, fmt.Sprintf("%s dispatch aborted: %v", platform, err))
		}

		c.sweeper.Sweep(ctx, tokens, out)
	}

	c.record(ctx, req, agg)

	c.logger.Info("Dispatch complete",
		"target", req.Selector.Describe(),
		"sent", agg.Sent,
		"failed", agg.Failed,
		"total", len(aud.Devices),
	)

	return notify.Result{
		Sent:   agg.Sent,
		Failed: agg.Failed,
		Total:  len(aud.Devices),
		Errors: agg.Errors,
	}, nil
}

func (c *Coordinator) createInboxMessages(ctx context.Context, aud audience.Audience, req notify.DispatchRequest) {
	userIDs := aud.UserIDs()
	if len(userIDs) == 0 {
		return
	}

	category := req.Category()
	if category == "" {
		category = notify.CategoryInfo
	}

	msgs := make([]notify.Message, 0, len(userIDs))
	for _, uid := range userIDs {
		msgs = append(msgs, notify.Message{
			ID:       uuid.NewString(),
			UserID:   uid,
			Category: category,
			Title:    req.Notification.Title,
			Body:     req.Notification.Body,
			Data:     req.Data,
		})
	}

	if err := c.inbox.CreateMessages(ctx, msgs); err != nil {
		// In-app durability is best effort relative to the push path.
		c.logger.Warn("Failed to create in-app notifications", "count", len(msgs), "err", err)
	}
}

func (c *Coordinator) record(ctx context.Context, req notify.DispatchRequest, agg notify.Outcome) {
	log := notify.DispatchLog{
		ID:           uuid.NewString(),
		Category:     req.Category(),
		Title:        req.Notification.Title,
		Body:         req.Notification.Body,
		Target:       req.Selector.Describe(),
		SuccessCount: agg.Sent,
		FailureCount: agg.Failed,
		Errors:       agg.Errors,
		SentAt:       time.Now().UTC(),
	}
	if err := c.logs.Record(ctx, log); err != nil {
		c.logger.Warn("Failed to record dispatch log", "err", err)
	}
}
