// Package api provides the JSON HTTP handlers of the Sidekick server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/ashureev/sidekick/internal/calendar"
	"github.com/ashureev/sidekick/internal/config"
	"github.com/ashureev/sidekick/internal/identity"
	"github.com/ashureev/sidekick/internal/store"
	"github.com/go-chi/chi/v5"
)

const (
	healthCheckTimeout = 5 * time.Second
	maxFormBodySize    = 64 << 10
)

// Handler serves the calendar panel, config and health endpoints.
type Handler struct {
	repo     store.Repository
	calendar *calendar.Client
	cfg      *config.Config
}

// NewHandler creates a new Handler. cal may be nil when the calendar is not
// configured.
func NewHandler(repo store.Repository, cal *calendar.Client, cfg *config.Config) *Handler {
	if cfg == nil {
		cfg = &config.Config{}
	}
	return &Handler{repo: repo, calendar: cal, cfg: cfg}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// RegisterRoutes registers the routes of this handler.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/me", h.GetMe)
	r.Get("/api/config", h.GetConfig)
	r.Get("/api/health", h.Health)
	r.Get("/api/calendar/events", h.ListEvents)
	r.Post("/api/calendar/events", h.CreateEvent)
	r.Get("/api/calendar/timezones", h.GetTimezones)
	r.Post("/api/calendar/prepare", h.PrepareEvent)
}

// GetMe returns the current anonymous identity.
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.repo.GetUser(r.Context(), userID)
	if err != nil || user == nil {
		Error(w, http.StatusUnauthorized, "user not found")
		return
	}

	JSON(w, http.StatusOK, map[string]any{
		"user_id":     user.UserID,
		"username":    user.Username,
		"session_id":  identity.SessionIDFromContext(r.Context()),
		"session_ttl": int64(h.cfg.SessionTTL.Seconds()),
	})
}

// GetConfig returns the feature flags the frontend needs.
func (h *Handler) GetConfig(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]any{
		"provider":         h.cfg.LLM.Provider,
		"model":            h.cfg.LLM.Model,
		"planner_enabled":  h.cfg.Agent.PlannerEnabled,
		"browser_enabled":  h.cfg.Browser.Enabled,
		"code_runner":      h.cfg.CodeRunner.Enabled,
		"search_enabled":   h.cfg.Search.SerperAPIKey != "",
		"notify_enabled":   h.cfg.Notify.Topic != "",
		"calendar_enabled": h.calendar != nil && fileExists(h.cfg.Calendar.TokenPath),
	})
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

// Health returns the health status of the API and its dependencies.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := map[string]any{"status": "healthy", "checks": checks}
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status["status"] = "degraded"
		checks["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	JSON(w, statusCode, status)
}

// CreateEvent handles the calendar panel's Add Event button.
func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	if h.calendar == nil {
		Error(w, http.StatusServiceUnavailable, "calendar is not configured")
		return
	}

	var form calendar.EventForm
	if !decode(w, r, &form) {
		return
	}
	if msg := calendar.ValidateEvent(form); msg != "" {
		Error(w, http.StatusBadRequest, msg)
		return
	}

	out, err := h.calendar.CreateEvent(r.Context(), calendar.EventInput{
		Summary:     form.Summary,
		Description: form.Description,
		Start:       form.Start,
		End:         form.End,
		Timezone:    form.Timezone,
	})
	if err != nil {
		writeCalendarError(w, err)
		return
	}
	JSON(w, http.StatusCreated, map[string]string{"output": out})
}

// ListEvents handles the calendar panel's List Upcoming Events button.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	if h.calendar == nil {
		Error(w, http.StatusServiceUnavailable, "calendar is not configured")
		return
	}

	maxResults := calendar.DefaultMaxResults
	if v := r.URL.Query().Get("max_results"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 250 {
			Error(w, http.StatusBadRequest, "max_results must be between 1 and 250")
			return
		}
		maxResults = n
	}

	events, err := h.calendar.Upcoming(r.Context(), r.URL.Query().Get("calendar_id"), maxResults)
	if err != nil {
		writeCalendarError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{
		"events": events,
		"output": calendar.FormatEvents(events),
	})
}

// GetTimezones returns the timezone dropdown choices.
func (h *Handler) GetTimezones(w http.ResponseWriter, _ *http.Request) {
	choices, def := calendar.Timezones(h.cfg.Calendar.DefaultTimezone)
	JSON(w, http.StatusOK, map[string]any{
		"timezones": choices,
		"default":   def,
	})
}

type prepareRequest struct {
	StartDate string `json:"start_date"`
	StartTime string `json:"start_time"`
	EndDate   string `json:"end_date"`
	EndTime   string `json:"end_time"`
}

// PrepareEvent combines the date and time fields as the user types.
func (h *Handler) PrepareEvent(w http.ResponseWriter, r *http.Request) {
	var req prepareRequest
	if !decode(w, r, &req) {
		return
	}
	start, end, msg := calendar.PrepareDateTimes(req.StartDate, req.StartTime, req.EndDate, req.EndTime)
	JSON(w, http.StatusOK, map[string]string{
		"start":   start,
		"end":     end,
		"message": msg,
	})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeCalendarError(w http.ResponseWriter, err error) {
	var apiErr *calendar.APIError
	if errors.As(err, &apiErr) {
		Error(w, http.StatusBadGateway, err.Error())
		return
	}
	Error(w, http.StatusInternalServerError, err.Error())
}
