package web_test

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-maintenance-notify/internal/platform/web"
	"github.com/tinywideclouds/go-maintenance-notify/maintenancenotify/config"
	"github.com/tinywideclouds/go-maintenance-notify/pkg/notify"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// subscriptionJSON builds a serialized browser subscription with a real P-256
// key pair so the library's payload encryption succeeds.
func subscriptionJSON(t *testing.T, endpoint string) string {
	t.Helper()

	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	auth := make([]byte, 16)
	_, err = rand.Read(auth)
	require.NoError(t, err)

	raw, err := json.Marshal(map[string]any{
		"endpoint": endpoint,
		"keys": map[string]string{
			"p256dh": base64.RawURLEncoding.EncodeToString(priv.PublicKey().Bytes()),
			"auth":   base64.RawURLEncoding.EncodeToString(auth),
		},
	})
	require.NoError(t, err)
	return string(raw)
}

func TestWebDispatch_Lifecycle(t *testing.T) {
	// Simulates the browser vendor's push server.
	mockServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("Authorization"))

		switch r.URL.Path {
		case "/success":
			w.WriteHeader(http.StatusCreated)
		case "/expired":
			w.WriteHeader(http.StatusGone)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer mockServer.Close()

	privateKey, publicKey, err := webpush.GenerateVAPIDKeys()
	require.NoError(t, err)

	dispatcher := web.NewDispatcher(config.VapidConfig{
		PrivateKey:      privateKey,
		PublicKey:       publicKey,
		SubscriberEmail: "mailto:alerts@amms.example.com",
	}, newTestLogger())

	ctx := context.Background()
	content := notify.Content{Title: "Repair complete", Body: "CNC-012 back in service"}
	data := map[string]string{"type": "completed"}

	tokens := []string{
		subscriptionJSON(t, mockServer.URL+"/success"),
		subscriptionJSON(t, mockServer.URL+"/expired"),
	}

	out, err := dispatcher.Dispatch(ctx, tokens, content, data, notify.Options{})

	require.NoError(t, err) // 410/500 are reported, never returned
	assert.Equal(t, 1, out.Sent)
	assert.Equal(t, 1, out.Failed)
	require.Len(t, out.Invalid, 1)
	assert.Equal(t, tokens[1], out.Invalid[0])
	require.Len(t, out.Errors, 1)
	assert.Contains(t, out.Errors[0], "Token 1:")
}

func TestWebDispatch_MalformedSubscription(t *testing.T) {
	dispatcher := web.NewDispatcher(config.VapidConfig{
		PrivateKey:      "unused",
		PublicKey:       "unused",
		SubscriberEmail: "mailto:alerts@amms.example.com",
	}, newTestLogger())

	out, err := dispatcher.Dispatch(context.Background(), []string{"not-json"}, notify.Content{Title: "t", Body: "b"}, nil, notify.Options{})

	require.NoError(t, err)
	assert.Zero(t, out.Sent)
	assert.Equal(t, 1, out.Failed)
	// A subscription that cannot be parsed will never deliver: clean it up.
	assert.Equal(t, []string{"not-json"}, out.Invalid)
}
