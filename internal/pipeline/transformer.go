// Package pipeline contains the message processing components for the service.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-maintenance-notify/pkg/notify"
)

// DispatchRequestTransformer is a dataflow Transformer that safely unmarshals
// and validates a raw message payload into a structured notify.DispatchRequest.
func DispatchRequestTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*notify.DispatchRequest, bool, error) {
	var req notify.DispatchRequest

	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		// Malformed payloads are poison; skip=true lets the StreamingService
		// handle the Nack/DLQ logic instead of retrying forever.
		return nil, true, fmt.Errorf("failed to unmarshal dispatch request from message %s: %w", msg.ID, err)
	}

	if err := req.Validate(); err != nil {
		// Structurally sound JSON with bad content is equally unretryable.
		return nil, true, fmt.Errorf("invalid dispatch request in message %s: %w", msg.ID, err)
	}

	return &req, false, nil
}
