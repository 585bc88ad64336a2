// Package apns provides the client for the Apple Push Notification Service.
package apns

import (
	"fmt"
	"log/slog"
	"time"

	"context"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"

	"github.com/tinywideclouds/go-maintenance-notify/pkg/notify"
)

// APNSClient defines the subset of the apns2.Client methods we use.
// This allows mocking for unit tests.
type APNSClient interface {
	Push(n *apns2.Notification) (*apns2.Response, error)
}

type Dispatcher struct {
	client APNSClient
	topic  string // The App Bundle ID (e.g. com.amms.maintenance)
	logger *slog.Logger
}

// Config holds the credentials required to sign APNs tokens.
type Config struct {
	KeyID    string
	TeamID   string
	BundleID string
	// P8KeyContent is the raw string content of the .p8 file
	P8KeyContent string
}

// NewDispatcher creates a configured APNS dispatcher.
// It parses the P8 key immediately to fail fast on startup if credentials are bad.
func NewDispatcher(cfg Config, logger *slog.Logger) (*Dispatcher, error) {
	authKey, err := token.AuthKeyFromBytes([]byte(cfg.P8KeyContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs P8 key: %w", err)
	}

	tokenSource := &token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	}

	return &Dispatcher{
		client: apns2.NewTokenClient(tokenSource),
		topic:  cfg.BundleID,
		logger: logger.With("component", "APNSDispatcher"),
	}, nil
}

// NewDispatcherWithClient wires a preconstructed client, used by tests.
func NewDispatcherWithClient(client APNSClient, bundleID string, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		client: client,
		topic:  bundleID,
		logger: logger.With("component", "APNSDispatcher"),
	}
}

// Dispatch sends the notification to a batch of APNs tokens.
// The APNs HTTP/2 API is unary (one request per token), so tokens are pushed
// sequentially; a transport failure affects only that token. Invalid-token
// reasons are returned by value for the janitor.
func (d *Dispatcher) Dispatch(
	ctx context.Context,
	tokens []string,
	content notify.Content,
	data map[string]string,
	opts notify.Options,
) (notify.Outcome, error) {
	var out notify.Outcome
	if len(tokens) == 0 {
		return out, nil
	}

	builder := payload.NewPayload().
		AlertTitle(content.Title).
		AlertBody(content.Body).
		Sound("default")
	for k, v := range data {
		builder.Custom(k, v)
	}

	for i, deviceToken := range tokens {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		n := &apns2.Notification{
			DeviceToken: deviceToken,
			Topic:       d.topic,
			Payload:     builder,
			CollapseID:  opts.CollapseKey,
		}
		if opts.Priority == "high" {
			n.Priority = apns2.PriorityHigh
		}
		if opts.TTLSeconds > 0 {
			n.Expiration = time.Now().Add(time.Duration(opts.TTLSeconds) * time.Second)
		}

		res, err := d.client.Push(n)
		if err != nil {
			d.logger.Error("APNs transport failed", "err", err)
			out.Failed++
			out.Errors = append(out.Errors, fmt.Sprintf("Token %d: apns transport failed: %v", i, err))
			continue
		}

		if res.Sent() {
			out.Sent++
			continue
		}

		out.Failed++
		out.Errors = append(out.Errors, fmt.Sprintf("Token %d: %s", i, res.Reason))

		switch res.Reason {
		case apns2.ReasonBadDeviceToken, apns2.ReasonUnregistered, apns2.ReasonDeviceTokenNotForTopic:
			// Token is dead. Add to cleanup list.
			out.Invalid = append(out.Invalid, deviceToken)
		default:
			// Other rejections (TopicDisallowed, PayloadEmpty) are logged but
			// the token might be fine; only our configuration is wrong.
			d.logger.Warn("APNs rejected notification", "reason", res.Reason, "status", res.StatusCode)
		}
	}

	return out, nil
}
