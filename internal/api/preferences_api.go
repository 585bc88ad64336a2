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

type PreferencesAPI struct {
	Store  dispatch.PreferenceStore
	Logger *slog.Logger
}

func NewPreferencesAPI(store dispatch.PreferenceStore, logger *slog.Logger) *PreferencesAPI {
	return &PreferencesAPI{
		Store:  store,
		Logger: logger,
	}
}

// Get returns the caller's preferences, falling back to the defaults when the
// user has never saved a record.
func (api *PreferencesAPI) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middleware.GetUserIDFromContext(ctx)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	prefs, found, err := api.Store.GetPreferences(ctx, userID)
	if err != nil {
		api.Logger.Error("failed to load preferences", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	if !found {
		prefs = notify.DefaultPreferences()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(prefs)
}

func (api *PreferencesAPI) Put(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := middleware.GetUserIDFromContext(ctx)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var prefs notify.Preferences
	if err := json.NewDecoder(r.Body).Decode(&prefs); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := api.Store.UpsertPreferences(ctx, userID, prefs); err != nil {
		api.Logger.Error("failed to save preferences", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
