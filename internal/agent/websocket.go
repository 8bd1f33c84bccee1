package agent

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ashureev/sidekick/internal/identity"
	"github.com/ashureev/sidekick/internal/store"
	"github.com/coder/websocket"
)

// WebSocketHandler serves the chat over a websocket at /ws/chat.
type WebSocketHandler struct {
	repo          store.Repository
	agent         *Service
	sm            *SessionManager
	limiter       *RateLimiter
	log           ConversationLogger
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates a new WebSocket handler. limiter is shared with
// the HTTP chat endpoint so both channels draw on one per-user budget; nil
// disables limiting.
func NewWebSocketHandler(repo store.Repository, service *Service, sm *SessionManager, limiter *RateLimiter, conversationLogger ConversationLogger, allowedOrigin string, isDev bool) *WebSocketHandler {
	if conversationLogger == nil {
		conversationLogger = noopConversationLogger{}
	}
	return &WebSocketHandler{
		repo:          repo,
		agent:         service,
		sm:            sm,
		limiter:       limiter,
		log:           conversationLogger,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// wsMessage is a client frame.
type wsMessage struct {
	Type            string `json:"type"`
	Content         string `json:"content,omitempty"`
	SuccessCriteria string `json:"success_criteria,omitempty"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	slog.Info("WebSocket connection request", "user_id", userID, "session_id", sessionID, "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	h.sm.Register(userID, sessionID, ws)
	defer h.sm.Unregister(userID, sessionID, ws)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var wg sync.WaitGroup
	h.inputLoop(ctx, ws, &wg, userID, sessionID)
	cancel()
	wg.Wait()
	slog.Info("Chat socket ended", "user_id", userID, "session_id", sessionID)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || h.allowedOrigin == "" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

// inputLoop reads frames until the socket closes. Chat supersteps run on wg
// so pings and resets are still answered while the graph works.
func (h *WebSocketHandler) inputLoop(ctx context.Context, ws *websocket.Conn, wg *sync.WaitGroup, userID, sessionID string) {
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "user_id", userID)
			} else if ctx.Err() == nil {
				slog.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			h.writeError(ws, "invalid message")
			continue
		}

		switch msg.Type {
		case "chat":
			if h.limiter != nil && !h.limiter.Allow(userID) {
				h.writeError(ws, "rate limit exceeded")
				continue
			}
			req := ChatRequest{
				Message:         msg.Content,
				SuccessCriteria: msg.SuccessCriteria,
				UserID:          userID,
				SessionID:       sessionID,
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				h.runChat(ctx, ws, req)
			}()
		case "reset":
			if err := h.agent.ResetSession(ctx, userID, sessionID); err != nil {
				h.writeError(ws, err.Error())
				continue
			}
			if err := h.writeJSON(ws, map[string]string{"type": "reset"}); err != nil {
				slog.Debug("Failed to send reset acknowledgment", "error", err)
			}
		case "ping":
			if err := h.writeJSON(ws, map[string]string{"type": "pong"}); err != nil {
				slog.Debug("Failed to send pong", "error", err)
			}
		default:
			h.writeError(ws, "unknown message type "+msg.Type)
			continue
		}

		go func() {
			updateCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := h.repo.UpdateLastSeen(updateCtx, userID, time.Now()); err != nil {
				slog.Warn("Failed to update last seen", "error", err)
			}
		}()
	}
}

func (h *WebSocketHandler) runChat(ctx context.Context, ws *websocket.Conn, req ChatRequest) {
	h.log.Log(ConversationLogEvent{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		UserID:    req.UserID, SessionID: req.SessionID,
		Channel: "chat_ws", Direction: "outbound", EventType: "chat_user_message",
		ContentRaw: req.Message, Content: cleanForReadability(req.Message),
	})

	for ev, err := range h.agent.Chat(ctx, req) {
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				h.writeError(ws, err.Error())
			}
			return
		}
		if ev.Type == EventDone {
			h.log.Log(ConversationLogEvent{
				Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
				UserID:    req.UserID, SessionID: req.SessionID,
				Channel: "chat_ws", Direction: "inbound", EventType: "chat_assistant_message",
				ContentRaw: ev.Reply, Content: cleanForReadability(ev.Reply),
				Meta: map[string]any{"feedback": ev.Feedback, "iterations": ev.Iteration},
			})
		}
		if err := h.writeJSON(ws, ev); err != nil {
			slog.Debug("Failed to send chat event", "error", err, "user_id", req.UserID)
			return
		}
	}
}

func (h *WebSocketHandler) writeError(ws *websocket.Conn, content string) {
	if err := h.writeJSON(ws, map[string]string{"type": EventError, "content": content}); err != nil {
		slog.Debug("Failed to send error frame", "error", err)
	}
}

func (h *WebSocketHandler) writeJSON(ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ws.Write(context.Background(), websocket.MessageText, data)
}
