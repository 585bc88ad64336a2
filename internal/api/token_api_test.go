package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-maintenance-notify/internal/api"
	"github.com/tinywideclouds/go-maintenance-notify/pkg/notify"
)

// --- Mocks ---
type MockTokenStore struct {
	mock.Mock
}

func (m *MockTokenStore) Register(ctx context.Context, device notify.DeviceToken) error {
	args := m.Called(ctx, device)
	return args.Error(0)
}
func (m *MockTokenStore) Deactivate(ctx context.Context, userID, token string) error {
	args := m.Called(ctx, userID, token)
	return args.Error(0)
}
func (m *MockTokenStore) DeactivateTokens(ctx context.Context, tokens []string) ([]string, error) {
	args := m.Called(ctx, tokens)
	return args.Get(0).([]string), args.Error(1)
}
func (m *MockTokenStore) DevicesForUser(ctx context.Context, userID string) ([]notify.DeviceToken, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).([]notify.DeviceToken), args.Error(1)
}

// --- Setup ---
func setupAPI(t *testing.T) (*api.TokenAPI, *MockTokenStore) {
	mockStore := new(MockTokenStore)
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	return api.NewTokenAPI(mockStore, logger), mockStore
}

// Helper to inject UserID into context (simulating Auth Middleware)
func withUser(req *http.Request, userID string) *http.Request {
	ctx := middleware.ContextWithUserID(req.Context(), userID)
	return req.WithContext(ctx)
}

// --- Tests ---

func TestRegisterToken(t *testing.T) {
	apiHandler, mockStore := setupAPI(t)

	t.Run("Success defaults to fcm", func(t *testing.T) {
		payload := map[string]string{"token": "fcm-token-abc", "device_info": "pixel-8"}
		body, _ := json.Marshal(payload)

		req := withUser(httptest.NewRequest("POST", "/api/v1/notifications/register", bytes.NewReader(body)), "user-123")
		w := httptest.NewRecorder()

		mockStore.On("Register", mock.Anything, notify.DeviceToken{
			UserID:     "user-123",
			Token:      "fcm-token-abc",
			Platform:   notify.PlatformFCM,
			DeviceInfo: "pixel-8",
			IsActive:   true,
		}).Return(nil)

		apiHandler.Register(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		mockStore.AssertExpectations(t)
	})

	t.Run("Explicit apns platform", func(t *testing.T) {
		payload := map[string]string{"token": "apns-token", "platform": "apns"}
		body, _ := json.Marshal(payload)
		req := withUser(httptest.NewRequest("POST", "/api/v1/notifications/register", bytes.NewReader(body)), "user-123")
		w := httptest.NewRecorder()

		mockStore.On("Register", mock.Anything, mock.MatchedBy(func(d notify.DeviceToken) bool {
			return d.Platform == notify.PlatformAPNS && d.Token == "apns-token"
		})).Return(nil)

		apiHandler.Register(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("Rejects Empty Token", func(t *testing.T) {
		payload := map[string]string{"token": ""} // Empty
		body, _ := json.Marshal(payload)
		req := withUser(httptest.NewRequest("POST", "/api/v1/notifications/register", bytes.NewReader(body)), "user-123")
		w := httptest.NewRecorder()

		apiHandler.Register(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Rejects Unknown Platform", func(t *testing.T) {
		payload := map[string]string{"token": "tok", "platform": "pager"}
		body, _ := json.Marshal(payload)
		req := withUser(httptest.NewRequest("POST", "/api/v1/notifications/register", bytes.NewReader(body)), "user-123")
		w := httptest.NewRecorder()

		apiHandler.Register(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Rejects Missing Auth", func(t *testing.T) {
		payload := map[string]string{"token": "tok"}
		body, _ := json.Marshal(payload)
		req := httptest.NewRequest("POST", "/api/v1/notifications/register", bytes.NewReader(body))
		w := httptest.NewRecorder()

		apiHandler.Register(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestRegisterWeb(t *testing.T) {
	apiHandler, mockStore := setupAPI(t)

	t.Run("Success stores serialized subscription", func(t *testing.T) {
		payload := `{"endpoint": "https://push.example.com/sub/xyz", "keys": {"p256dh": "BNc...", "auth": "tBH..."}}`
		req := withUser(httptest.NewRequest("POST", "/api/v1/notifications/register/web", bytes.NewReader([]byte(payload))), "user-123")
		w := httptest.NewRecorder()

		mockStore.On("Register", mock.Anything, mock.MatchedBy(func(d notify.DeviceToken) bool {
			if d.Platform != notify.PlatformWebPush || d.UserID != "user-123" {
				return false
			}
			// The stored token must round-trip back to the subscription
			var sub struct {
				Endpoint string `json:"endpoint"`
			}
			if err := json.Unmarshal([]byte(d.Token), &sub); err != nil {
				return false
			}
			return sub.Endpoint == "https://push.example.com/sub/xyz"
		})).Return(nil)

		apiHandler.RegisterWeb(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		mockStore.AssertExpectations(t)
	})

	t.Run("Rejects Missing Keys (Invalid Object)", func(t *testing.T) {
		// Missing 'keys'
		invalidPayload := `{"endpoint": "https://valid.com"}`
		req := withUser(httptest.NewRequest("POST", "/api/v1/notifications/register/web", bytes.NewReader([]byte(invalidPayload))), "user-123")
		w := httptest.NewRecorder()

		apiHandler.RegisterWeb(w, req)

		// Should detect incomplete object
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestUnregister(t *testing.T) {
	apiHandler, mockStore := setupAPI(t)

	t.Run("Deactivates and stays 204 even on store error", func(t *testing.T) {
		payload := map[string]string{"token": "stale-token"}
		body, _ := json.Marshal(payload)
		req := withUser(httptest.NewRequest("POST", "/api/v1/notifications/unregister", bytes.NewReader(body)), "user-123")
		w := httptest.NewRecorder()

		mockStore.On("Deactivate", mock.Anything, "user-123", "stale-token").Return(assert.AnError)

		apiHandler.Unregister(w, req)

		// Unregister is idempotent from the client's view
		assert.Equal(t, http.StatusNoContent, w.Code)
		mockStore.AssertExpectations(t)
	})
}

func TestDevices(t *testing.T) {
	apiHandler, mockStore := setupAPI(t)

	t.Run("Lists the caller's active devices", func(t *testing.T) {
		req := withUser(httptest.NewRequest("GET", "/api/v1/notifications/devices", nil), "user-123")
		w := httptest.NewRecorder()

		mockStore.On("DevicesForUser", mock.Anything, "user-123").Return([]notify.DeviceToken{
			{UserID: "user-123", Token: "fcm-token-abc", Platform: notify.PlatformFCM, IsActive: true},
			{UserID: "user-123", Token: "apns-token", Platform: notify.PlatformAPNS, IsActive: true},
		}, nil)

		apiHandler.Devices(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var devices []notify.DeviceToken
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &devices))
		assert.Len(t, devices, 2)
		assert.Equal(t, "fcm-token-abc", devices[0].Token)
		mockStore.AssertExpectations(t)
	})

	t.Run("Empty list serializes as an array, not null", func(t *testing.T) {
		req := withUser(httptest.NewRequest("GET", "/api/v1/notifications/devices", nil), "user-empty")
		w := httptest.NewRecorder()

		mockStore.On("DevicesForUser", mock.Anything, "user-empty").Return([]notify.DeviceToken(nil), nil)

		apiHandler.Devices(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, "[]", w.Body.String())
	})

	t.Run("Missing auth context is rejected", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/v1/notifications/devices", nil)
		w := httptest.NewRecorder()

		apiHandler.Devices(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}
