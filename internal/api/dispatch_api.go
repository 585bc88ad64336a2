package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/tinywideclouds/go-maintenance-notify/internal/fanout"
	"github.com/tinywideclouds/go-maintenance-notify/pkg/notify"
)

// DispatchService is the fan-out entry point the handler delegates to.
type DispatchService interface {
	Dispatch(ctx context.Context, req notify.DispatchRequest) (notify.Result, error)
}

type DispatchAPI struct {
	Service  DispatchService
	Logger   *slog.Logger
	validate *validator.Validate
}

func NewDispatchAPI(service DispatchService, logger *slog.Logger) *DispatchAPI {
	return &DispatchAPI{
		Service:  service,
		Logger:   logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// NotificationDTO is the visible payload part of a dispatch request.
type NotificationDTO struct {
	Title string `json:"title" validate:"required,max=200"`
	Body  string `json:"body" validate:"required,max=2000"`
	Image string `json:"image" validate:"omitempty,url"`
}

// OptionsDTO carries provider delivery hints.
type OptionsDTO struct {
	Priority    string `json:"priority" validate:"omitempty,oneof=high normal"`
	TTL         int    `json:"ttl" validate:"omitempty,min=0"`
	CollapseKey string `json:"collapse_key"`
}

// DispatchRequestDTO is the HTTP shape of a fan-out request: targeting fields
// at the top level, payload under "notification", delivery hints under
// "options". The Pub/Sub path accepts the same nesting.
type DispatchRequestDTO struct {
	Token        string            `json:"token"`
	Tokens       []string          `json:"tokens"`
	UserIDs      []string          `json:"user_ids"`
	Roles        []string          `json:"roles"`
	Departments  []string          `json:"departments"`
	Broadcast    bool              `json:"broadcast"`
	Notification NotificationDTO   `json:"notification" validate:"required"`
	Data         map[string]string `json:"data"`
	Options      OptionsDTO        `json:"options"`
}

type DispatchResponseDTO struct {
	Success bool     `json:"success"`
	Sent    int      `json:"sent"`
	Failed  int      `json:"failed"`
	Total   int      `json:"total"`
	Errors  []string `json:"errors,omitempty"`
}

func (api *DispatchAPI) Dispatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var dto DispatchRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := api.validate.Struct(&dto); err != nil {
		api.Logger.Warn("dispatch request failed validation", "err", err)
		response.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	req := notify.DispatchRequest{
		Selector: notify.Selector{
			Token:       dto.Token,
			Tokens:      dto.Tokens,
			UserIDs:     dto.UserIDs,
			Roles:       dto.Roles,
			Departments: dto.Departments,
			Broadcast:   dto.Broadcast,
		},
		Notification: notify.Content{
			Title: dto.Notification.Title,
			Body:  dto.Notification.Body,
			Image: dto.Notification.Image,
		},
		Data: dto.Data,
		Options: notify.Options{
			Priority:    dto.Options.Priority,
			TTLSeconds:  dto.Options.TTL,
			CollapseKey: dto.Options.CollapseKey,
		},
	}

	result, err := api.Service.Dispatch(ctx, req)
	if err != nil {
		if errors.Is(err, fanout.ErrInvalidRequest) {
			response.WriteJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		api.Logger.Error("dispatch failed", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "dispatch failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(DispatchResponseDTO{
		Success: result.Failed == 0,
		Sent:    result.Sent,
		Failed:  result.Failed,
		Total:   result.Total,
		Errors:  result.Errors,
	})
}
