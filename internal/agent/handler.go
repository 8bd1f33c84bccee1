package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/sidekick/internal/api"
	"github.com/ashureev/sidekick/internal/config"
	"github.com/ashureev/sidekick/internal/identity"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// defaultMaxRequestBodySize is the default maximum allowed request body size (1MB).
const defaultMaxRequestBodySize = 1 << 20

// Handler serves the chat HTTP endpoints.
type Handler struct {
	agent       *Service
	rateLimiter *RateLimiter
	log         ConversationLogger
	cfg         *config.Config
}

// NewHandler creates a chat handler. cfg may be nil for defaults.
func NewHandler(service *Service, conversationLogger ConversationLogger, cfg *config.Config) *Handler {
	if conversationLogger == nil {
		conversationLogger = noopConversationLogger{}
	}

	rateLimitRequests := 10
	rateLimitWindow := time.Minute
	if cfg != nil {
		rateLimitRequests = cfg.RateLimit.RequestsPerWindow
		rateLimitWindow = cfg.RateLimit.WindowDuration
	}

	return &Handler{
		agent:       service,
		rateLimiter: NewRateLimiter(rateLimitRequests, rateLimitWindow),
		log:         conversationLogger,
		cfg:         cfg,
	}
}

// RegisterRoutes registers the chat routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/chat", h.HandleChat)
	r.Get("/api/history", h.HandleHistory)
	r.Post("/api/reset", h.HandleReset)
	r.Get("/api/stats", h.HandleStats)
}

// HandleChat handles POST /api/chat and streams the superstep as SSE.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if !h.rateLimiter.Allow(userID) {
		api.Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	maxBodySize := int64(defaultMaxRequestBodySize)
	if h.cfg != nil && h.cfg.SSE.MaxRequestBodySize > 0 {
		maxBodySize = h.cfg.SSE.MaxRequestBodySize
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		api.Error(w, http.StatusBadRequest, "message is required")
		return
	}

	req.UserID = userID
	req.SessionID = sessionID
	reqID := chiMiddleware.GetReqID(r.Context())

	slog.Info("Chat request",
		"user_id", userID,
		"session_id", sessionID,
		"message_length", len(req.Message),
	)
	h.logEvent(req.UserID, req.SessionID, "chat_http", "outbound", "chat_user_message", req.Message, map[string]any{
		"request_id":       reqID,
		"success_criteria": req.SuccessCriteria,
	})

	flusher, ok := w.(http.Flusher)
	if !ok {
		api.Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	retryDelay := 5 * time.Second
	if h.cfg != nil {
		retryDelay = h.cfg.SSE.RetryDelay
	}
	if _, err := fmt.Fprintf(w, "retry: %d\n\n", retryDelay.Milliseconds()); err != nil {
		slog.Warn("failed to write SSE retry header", "error", err, "user_id", userID)
		return
	}
	flusher.Flush()

	events := 0
	for ev, err := range h.agent.Chat(r.Context(), req) {
		if err != nil {
			slog.Error("Chat stream failed", "user_id", userID, "session_id", sessionID, "error", err)
			h.logEvent(userID, sessionID, "chat_http", "inbound", "chat_error", err.Error(), map[string]any{
				"request_id": reqID,
				"events":     events,
			})
			if writeErr := writeSSEJSON(w, EventError, &Event{Type: EventError, Content: err.Error()}); writeErr != nil {
				slog.Warn("failed to write SSE error event", "error", writeErr)
				return
			}
			flusher.Flush()
			return
		}

		events++
		if ev.Type == EventDone {
			h.logEvent(userID, sessionID, "chat_http", "inbound", "chat_assistant_message", ev.Reply, map[string]any{
				"request_id": reqID,
				"feedback":   ev.Feedback,
				"iterations": ev.Iteration,
				"events":     events,
			})
		}
		if err := writeSSEJSON(w, ev.Type, ev); err != nil {
			slog.Warn("failed to write SSE event", "error", err, "user_id", userID)
			return
		}
		flusher.Flush()
	}
}

// HandleHistory handles GET /api/history.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	history, err := h.agent.History(r.Context(), userID, sessionID)
	if err != nil {
		slog.Error("Failed to load history", "user_id", userID, "session_id", sessionID, "error", err)
		api.Error(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	api.JSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"history":    history,
	})
}

// HandleReset handles POST /api/reset.
func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := h.agent.ResetSession(r.Context(), userID, sessionID); err != nil {
		if errors.Is(err, ErrBusy) {
			api.Error(w, http.StatusConflict, err.Error())
			return
		}
		slog.Error("Failed to reset session", "user_id", userID, "session_id", sessionID, "error", err)
		api.Error(w, http.StatusInternalServerError, "failed to reset session")
		return
	}
	h.logEvent(userID, sessionID, "chat_http", "outbound", "chat_reset", "", nil)
	api.JSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// HandleStats handles GET /api/stats.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	api.JSON(w, http.StatusOK, h.agent.GetStats())
}

func (h *Handler) logEvent(userID, sessionID, channel, direction, eventType, content string, meta map[string]any) {
	h.log.Log(ConversationLogEvent{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		UserID:     userID,
		SessionID:  sessionID,
		Channel:    channel,
		Direction:  direction,
		EventType:  eventType,
		ContentRaw: content,
		Content:    cleanForReadability(content),
		Meta:       meta,
	})
}

// Close releases handler resources.
func (h *Handler) Close() {
	h.rateLimiter.Stop()
	if h.agent != nil {
		h.agent.Close()
	}
	if h.log != nil {
		if err := h.log.Close(); err != nil {
			slog.Warn("failed to close conversation logger", "error", err)
		}
	}
}

// RateLimiter returns the per-user chat limiter, for sharing with the
// websocket channel.
func (h *Handler) RateLimiter() *RateLimiter {
	return h.rateLimiter
}

// GetService returns the underlying agent service.
func (h *Handler) GetService() *Service {
	return h.agent
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func writeSSEJSON(w io.Writer, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event, err)
	}
	return writeSSE(w, event, string(data))
}
