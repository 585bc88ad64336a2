// Package fcm dispatches notifications through Firebase Cloud Messaging.
package fcm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"firebase.google.com/go/v4/messaging"

	"github.com/tinywideclouds/go-maintenance-notify/pkg/notify"
)

// multicastLimit is the SDK cap on tokens per SendEachForMulticast call.
const multicastLimit = 500

const webIcon = "/icons/icon-192x192.png"

// MessagingClient defines the subset of the Firebase Messaging API we use.
// This interface allows us to mock the client for unit testing.
type MessagingClient interface {
	SendEachForMulticast(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

type Dispatcher struct {
	client MessagingClient
	logger *slog.Logger
}

// NewDispatcher accepts the concrete client but stores it as the interface.
// Note: *messaging.Client automatically satisfies this interface.
func NewDispatcher(client MessagingClient, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		client: client,
		logger: logger.With("component", "FCMDispatcher"),
	}
}

// Dispatch splits tokens into provider-sized chunks and issues one multicast
// per chunk. A transport failure fails that whole chunk; per-token delivery
// failures become "Token <index>: <message>" strings where the index is the
// token's position in the full input list. Permanently-invalid tokens are
// returned by value for the janitor. Nothing is retried.
func (d *Dispatcher) Dispatch(ctx context.Context, tokens []string, content notify.Content, data map[string]string, opts notify.Options) (notify.Outcome, error) {
	var out notify.Outcome
	if len(tokens) == 0 {
		return out, nil
	}

	for start := 0; start < len(tokens); start += multicastLimit {
		end := min(start+multicastLimit, len(tokens))
		chunk := tokens[start:end]

		br, err := d.client.SendEachForMulticast(ctx, d.buildMessage(chunk, content, data, opts))
		if err != nil {
			// The whole chunk is gone; record it and move on.
			d.logger.Error("FCM multicast transport failed", "chunk_size", len(chunk), "err", err)
			out.Failed += len(chunk)
			out.Errors = append(out.Errors, fmt.Sprintf("chunk %d: fcm transport failed: %v", start/multicastLimit, err))
			continue
		}

		out.Sent += br.SuccessCount
		out.Failed += br.FailureCount

		for i, resp := range br.Responses {
			if resp.Success {
				continue
			}
			out.Errors = append(out.Errors, fmt.Sprintf("Token %d: %v", start+i, resp.Error))

			if messaging.IsRegistrationTokenNotRegistered(resp.Error) || messaging.IsInvalidArgument(resp.Error) {
				out.Invalid = append(out.Invalid, chunk[i])
			}
		}
	}

	d.logger.Debug("FCM dispatch complete", "sent", out.Sent, "failed", out.Failed, "invalid", len(out.Invalid))
	return out, nil
}

func (d *Dispatcher) buildMessage(chunk []string, content notify.Content, data map[string]string, opts notify.Options) *messaging.MulticastMessage {
	msg := &messaging.MulticastMessage{
		Tokens: chunk,
		Data:   data,
		Notification: &messaging.Notification{
			Title:    content.Title,
			Body:     content.Body,
			ImageURL: content.Image,
		},
		Webpush: &messaging.WebpushConfig{
			Notification: &messaging.WebpushNotification{
				Title: content.Title,
				Body:  content.Body,
				Icon:  webIcon,
			},
		},
	}

	android := &messaging.AndroidConfig{CollapseKey: opts.CollapseKey}
	switch opts.Priority {
	case "high":
		android.Priority = "high"
	case "normal":
		android.Priority = "normal"
	}
	if opts.TTLSeconds > 0 {
		ttl := time.Duration(opts.TTLSeconds) * time.Second
		android.TTL = &ttl
	}
	msg.Android = android

	return msg
}
