package api

import (
	"encoding/json"
	"net/http"

	"log/slog"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/tinywideclouds/go-maintenance-notify/pkg/dispatch"
	"github.com/tinywideclouds/go-maintenance-notify/pkg/notify"
)

type TokenAPI struct {
	Store  dispatch.TokenStore
	Logger *slog.Logger
}

func NewTokenAPI(store dispatch.TokenStore, logger *slog.Logger) *TokenAPI {
	return &TokenAPI{
		Store:  store,
		Logger: logger,
	}
}

// --- DOOR A: Mobile (FCM / APNs) ---

type RegisterTokenRequest struct {
	Token      string `json:"token"`
	Platform   string `json:"platform"`
	DeviceInfo string `json:"device_info"`
}

func (api *TokenAPI) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middleware.GetUserIDFromContext(ctx)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req RegisterTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if req.Token == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing token")
		return
	}

	platform := notify.Platform(req.Platform)
	if platform == "" {
		platform = notify.PlatformFCM
	}
	if !platform.Valid() {
		response.WriteJSONError(w, http.StatusBadRequest, "unknown platform")
		return
	}

	device := notify.DeviceToken{
		UserID:     userID,
		Token:      req.Token,
		Platform:   platform,
		DeviceInfo: req.DeviceInfo,
		IsActive:   true,
	}
	if err := api.Store.Register(ctx, device); err != nil {
		api.Logger.Error("failed to register token", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// --- DOOR B: Web (VAPID) ---

// WebSubscription mirrors the PushSubscription.toJSON() shape the browser hands out.
type WebSubscription struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
	DeviceInfo string `json:"device_info"`
}

func (api *TokenAPI) RegisterWeb(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middleware.GetUserIDFromContext(ctx)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	// We decode directly into the browser's subscription shape
	var sub WebSubscription
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		api.Logger.Error("RegisterWeb: JSON Decode failed", "err", err)
		response.WriteJSONError(w, http.StatusBadRequest, "invalid subscription json")
		return
	}

	// Validate the Web Object (The "Big JSON" keys must exist)
	if sub.Endpoint == "" || len(sub.Keys.P256dh) == 0 || len(sub.Keys.Auth) == 0 {
		api.Logger.Warn("RegisterWeb: Validation failed", "reason", "missing fields")
		response.WriteJSONError(w, http.StatusBadRequest, "incomplete subscription object")
		return
	}

	// The whole subscription JSON is the "token" for the webpush dispatcher.
	serialized, err := json.Marshal(struct {
		Endpoint string `json:"endpoint"`
		Keys     struct {
			P256dh string `json:"p256dh"`
			Auth   string `json:"auth"`
		} `json:"keys"`
	}{Endpoint: sub.Endpoint, Keys: sub.Keys})
	if err != nil {
		response.WriteJSONError(w, http.StatusInternalServerError, "failed to serialize subscription")
		return
	}

	device := notify.DeviceToken{
		UserID:     userID,
		Token:      string(serialized),
		Platform:   notify.PlatformWebPush,
		DeviceInfo: sub.DeviceInfo,
		IsActive:   true,
	}
	if err := api.Store.Register(ctx, device); err != nil {
		api.Logger.Error("failed to register web subscription", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	api.Logger.Info("RegisterWeb: Subscription registered", "user", userID, "endpoint", sub.Endpoint)

	w.WriteHeader(http.StatusNoContent)
}

// Devices lists the caller's active device registrations.
func (api *TokenAPI) Devices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middleware.GetUserIDFromContext(ctx)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	devices, err := api.Store.DevicesForUser(ctx, userID)
	if err != nil {
		api.Logger.Error("failed to list devices", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	if devices == nil {
		devices = []notify.DeviceToken{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(devices); err != nil {
		api.Logger.Error("failed to encode device list", "err", err)
	}
}

func (api *TokenAPI) Unregister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middleware.GetUserIDFromContext(ctx)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req RegisterTokenRequest // We can reuse the struct since it just holds "token"
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if req.Token == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing token")
		return
	}

	if err := api.Store.Deactivate(ctx, userID, req.Token); err != nil {
		// Log but don't fail hard; idempotency is preferred for unregister
		api.Logger.Warn("failed to unregister token", "err", err)
	}

	w.WriteHeader(http.StatusNoContent)
}
