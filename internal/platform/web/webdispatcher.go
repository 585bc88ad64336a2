// Package web dispatches notifications to browser push endpoints using VAPID.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"

	"github.com/tinywideclouds/go-maintenance-notify/maintenancenotify/config"
	"github.com/tinywideclouds/go-maintenance-notify/pkg/notify"
)

const defaultTTL = 60

type Dispatcher struct {
	subscriber string
	privateKey string
	publicKey  string
	logger     *slog.Logger
	httpClient *http.Client
}

func NewDispatcher(cfg config.VapidConfig, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		privateKey: cfg.PrivateKey,
		publicKey:  cfg.PublicKey,
		subscriber: cfg.SubscriberEmail,
		logger:     logger.With("component", "WebPushDispatcher"),
		httpClient: &http.Client{},
	}
}

// Dispatch sends to browser subscriptions. Each token is the serialized
// PushSubscription JSON the browser handed the client at subscribe time.
// Unparseable subscriptions and 404/410 endpoints are returned as invalid;
// other failures are recorded and left alone.
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

	// The service worker expects the same payload shape FCM delivers:
	// {"notification": {...}, "data": {...}}.
	payloadBytes, err := json.Marshal(map[string]any{
		"notification": map[string]string{
			"title": content.Title,
			"body":  content.Body,
		},
		"data": data,
	})
	if err != nil {
		return out, fmt.Errorf("failed to marshal payload: %w", err)
	}

	ttl := defaultTTL
	if opts.TTLSeconds > 0 {
		ttl = opts.TTLSeconds
	}
	urgency := webpush.UrgencyNormal
	if opts.Priority == "high" {
		urgency = webpush.UrgencyHigh
	}

	for i, raw := range tokens {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		var sub webpush.Subscription
		if err := json.Unmarshal([]byte(raw), &sub); err != nil || sub.Endpoint == "" {
			// A subscription we cannot even parse will never deliver.
			out.Failed++
			out.Errors = append(out.Errors, fmt.Sprintf("Token %d: malformed web subscription", i))
			out.Invalid = append(out.Invalid, raw)
			continue
		}

		resp, err := webpush.SendNotification(payloadBytes, &sub, &webpush.Options{
			Subscriber:      d.subscriber,
			VAPIDPublicKey:  d.publicKey,
			VAPIDPrivateKey: d.privateKey,
			TTL:             ttl,
			Topic:           opts.CollapseKey,
			Urgency:         urgency,
			HTTPClient:      d.httpClient,
		})

		if err != nil {
			// Transport error (DNS, Timeout) - record and skip, don't deactivate.
			d.logger.Error("WebPush transport error", "endpoint", sub.Endpoint, "err", err)
			out.Failed++
			out.Errors = append(out.Errors, fmt.Sprintf("Token %d: webpush transport failed: %v", i, err))
			continue
		}

		switch resp.StatusCode {
		case http.StatusCreated:
			out.Sent++
		case http.StatusGone, http.StatusNotFound:
			// 410 Gone / 404 Not Found -> subscription is dead, return for cleanup
			out.Failed++
			out.Errors = append(out.Errors, fmt.Sprintf("Token %d: endpoint gone (%d)", i, resp.StatusCode))
			out.Invalid = append(out.Invalid, raw)
		default:
			d.logger.Warn("WebPush rejected", "status", resp.StatusCode, "endpoint", sub.Endpoint)
			out.Failed++
			out.Errors = append(out.Errors, fmt.Sprintf("Token %d: webpush status %d", i, resp.StatusCode))
		}
		_ = resp.Body.Close()
	}

	return out, nil
}
