package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-maintenance-notify/internal/fanout"
	"github.com/tinywideclouds/go-maintenance-notify/pkg/notify"
)

// Coordinator is the fan-out entry point the processor delegates to.
type Coordinator interface {
	Dispatch(ctx context.Context, req notify.DispatchRequest) (notify.Result, error)
}

// NewProcessor creates the logic that handles queued dispatch requests.
// The coordinator owns resolution, per-platform dispatch and token cleanup;
// the processor's job is deciding what is retryable.
func NewProcessor(
	coordinator Coordinator,
	logger *slog.Logger,
) messagepipeline.StreamProcessor[notify.DispatchRequest] {

	return func(ctx context.Context, original messagepipeline.Message, request *notify.DispatchRequest) error {
		procLogger := logger.With(
			"target", request.Selector.Describe(),
			"category", request.Category(),
			"pubsub_msg_id", original.ID,
		)

		result, err := coordinator.Dispatch(ctx, *request)
		if err != nil {
			if errors.Is(err, fanout.ErrInvalidRequest) {
				// The transformer validates first, but a rejection here is
				// still unretryable; Ack rather than loop through the DLQ.
				procLogger.Warn("Dropping invalid dispatch request", "err", err)
				return nil
			}
			// Infrastructure failure (store down, resolution failed).
			// Returning the error Nacks the message for redelivery.
			procLogger.Error("Dispatch failed", "err", err)
			return err
		}

		if result.Total == 0 {
			procLogger.Info("No devices matched; dropping notification.")
			return nil
		}

		// Per-token provider failures are recorded in the result and the
		// dispatch log; they are not retryable at the message level.
		procLogger.Info("Dispatched",
			"sent", result.Sent,
			"failed", result.Failed,
			"total", result.Total,
		)
		return nil
	}
}
