package agent

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/ashureev/sidekick/internal/domain"
	"github.com/ashureev/sidekick/internal/llm"
	"github.com/ashureev/sidekick/internal/store"
	"github.com/ashureev/sidekick/internal/tools"
	"github.com/google/uuid"
)

var (
	// ErrBusy is returned when a session already runs a superstep.
	ErrBusy = errors.New("a request is already running for this session")
	// ErrEmptyMessage is returned for blank user input.
	ErrEmptyMessage = errors.New("message is required")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("agent manager is closed")
)

const (
	toolEventPreview = 500
	persistTimeout   = 5 * time.Second
)

// ToolsetFunc returns the base tools of one session.
type ToolsetFunc func(userID, sessionID string) []tools.Tool

// ManagerConfig wires a Manager.
type ManagerConfig struct {
	Model   llm.ChatModel
	Repo    store.Repository
	Tools   ToolsetFunc
	Roles   Roles
	Options Options
	// OnRelease runs when a session is reset, evicted or closed.
	OnRelease func(userID, sessionID string)
}

type session struct {
	run    sync.Mutex
	userID string
	id     string
	sk     *Sidekick
	// expired is set under run once the TTL worker has torn the session down.
	expired bool
}

// Manager keeps one Sidekick per (user, session) and persists every thread
// through the repository.
type Manager struct {
	cfg ManagerConfig

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool

	supersteps atomic.Int64
	toolNames  []string
}

// NewManager creates a manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Model == nil || cfg.Repo == nil {
		return nil, errors.New("agent manager needs a model and a repository")
	}
	if cfg.Tools == nil {
		cfg.Tools = func(string, string) []tools.Tool { return nil }
	}

	template, err := NewSidekick("", cfg.Model, cfg.Tools("", ""), cfg.Roles, cfg.Options)
	if err != nil {
		return nil, err
	}

	return &Manager{
		cfg:       cfg,
		sessions:  make(map[string]*session),
		toolNames: template.ToolNames(),
	}, nil
}

func sessionKey(userID, sessionID string) string {
	return userID + ":" + sessionID
}

func (m *Manager) session(ctx context.Context, userID, sessionID string) (*session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	key := sessionKey(userID, sessionID)
	if s, ok := m.sessions[key]; ok {
		return s, nil
	}

	binding, err := m.cfg.Repo.GetChatSession(ctx, userID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load chat session: %w", err)
	}
	threadID := uuid.NewString()
	if binding != nil {
		threadID = binding.ThreadID
	} else if err := m.cfg.Repo.UpsertChatSession(ctx, &domain.ChatSession{
		UserID: userID, SessionID: sessionID, ThreadID: threadID,
	}); err != nil {
		return nil, fmt.Errorf("create chat session: %w", err)
	}

	sk, err := NewSidekick(threadID, m.cfg.Model, m.cfg.Tools(userID, sessionID), m.cfg.Roles, m.cfg.Options)
	if err != nil {
		return nil, err
	}
	s := &session{userID: userID, id: sessionID, sk: sk}
	m.sessions[key] = s
	slog.Info("Sidekick session created", "user_id", userID, "session_id", sessionID, "thread_id", threadID)
	return s, nil
}

// Chat implements Processor.
func (m *Manager) Chat(ctx context.Context, req ChatRequest) iter.Seq2[*Event, error] {
	return func(yield func(*Event, error) bool) {
		if strings.TrimSpace(req.Message) == "" {
			yield(nil, ErrEmptyMessage)
			return
		}
		sess, err := m.acquire(ctx, req.UserID, req.SessionID)
		if err != nil {
			yield(nil, err)
			return
		}
		defer sess.run.Unlock()

		m.superstep(ctx, sess, req, yield)
	}
}

// acquire returns the session locked for one superstep, or ErrBusy.
func (m *Manager) acquire(ctx context.Context, userID, sessionID string) (*session, error) {
	for {
		sess, err := m.session(ctx, userID, sessionID)
		if err != nil {
			return nil, err
		}
		if !sess.run.TryLock() {
			return nil, ErrBusy
		}
		if !sess.expired {
			return sess, nil
		}
		// Expired between lookup and lock; the next lookup starts a fresh one.
		sess.run.Unlock()
	}
}

func (m *Manager) superstep(ctx context.Context, sess *session, req ChatRequest, yield func(*Event, error) bool) {
	threadID := sess.sk.ThreadID()
	log := slog.With("user_id", sess.userID, "session_id", sess.id, "thread_id", threadID)

	cp, err := m.cfg.Repo.GetCheckpoint(ctx, threadID)
	if err != nil {
		yield(nil, fmt.Errorf("load checkpoint: %w", err))
		return
	}
	if cp == nil {
		cp = &domain.Checkpoint{ThreadID: threadID}
	}
	if err := m.cfg.Repo.UpsertChatSession(ctx, &domain.ChatSession{
		UserID: sess.userID, SessionID: sess.id, ThreadID: threadID,
	}); err != nil {
		log.Warn("Failed to touch chat session", "error", err)
	}

	criteria := strings.TrimSpace(req.SuccessCriteria)
	if criteria == "" {
		criteria = DefaultSuccessCriteria
	}
	state := State{SuccessCriteria: criteria}
	state = state.appendMessages(cp.Messages...)
	state = state.appendMessages(domain.Message{Role: domain.RoleUser, Content: req.Message})

	start := time.Now()
	seen := len(state.Messages)
	final := state
	for step, err := range sess.sk.Stream(ctx, state) {
		final = step.State
		if err != nil {
			log.Error("Superstep failed", "node", step.Node, "error", err)
			yield(nil, err)
			return
		}
		if !yield(&Event{Type: EventStep, Node: step.Node, Iteration: final.Iterations, Subtasks: stepSubtasks(step.Node, final)}, nil) {
			return
		}
		for _, ev := range messageEvents(step.Node, final.Messages[seen:]) {
			if !yield(ev, nil) {
				return
			}
		}
		seen = len(final.Messages)
	}

	n := len(final.Messages)
	if n < 2 {
		yield(nil, errors.New("superstep produced no reply"))
		return
	}
	reply := final.Messages[n-2].Content
	feedback := final.Messages[n-1].Content

	cp.Messages = final.Messages
	cp.Transcript = append(cp.Transcript,
		domain.ChatEntry{Role: domain.RoleUser, Content: req.Message},
		domain.ChatEntry{Role: domain.RoleAssistant, Content: reply},
		domain.ChatEntry{Role: domain.RoleAssistant, Content: feedback},
	)

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := m.cfg.Repo.PutCheckpoint(persistCtx, cp); err != nil {
		yield(nil, fmt.Errorf("save checkpoint: %w", err))
		return
	}
	if err := m.cfg.Repo.UpsertChatSession(persistCtx, &domain.ChatSession{
		UserID: sess.userID, SessionID: sess.id, ThreadID: threadID,
	}); err != nil {
		log.Warn("Failed to touch chat session", "error", err)
	}

	m.supersteps.Add(1)
	log.Info("Superstep completed",
		"iterations", final.Iterations,
		"success_criteria_met", final.SuccessCriteriaMet,
		"user_input_needed", final.UserInputNeeded,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	yield(&Event{
		Type:      EventDone,
		Iteration: final.Iterations,
		Reply:     reply,
		Feedback:  feedback,
		History:   cp.Transcript,
	}, nil)
}

func stepSubtasks(node string, s State) []string {
	if node == NodePlanner {
		return s.Subtasks
	}
	return nil
}

func messageEvents(node string, msgs []domain.Message) []*Event {
	var events []*Event
	for _, msg := range msgs {
		switch {
		case msg.Role == domain.RoleTool:
			events = append(events, &Event{Type: EventTool, Node: node, Tool: msg.Name, Content: preview(msg.Content, toolEventPreview)})
		case msg.HasToolCalls():
			if msg.Content != "" {
				events = append(events, &Event{Type: EventMessage, Node: node, Content: msg.Content})
			}
			for _, call := range msg.ToolCalls {
				events = append(events, &Event{Type: EventTool, Node: node, Tool: call.Name})
			}
		case msg.Content != "":
			events = append(events, &Event{Type: EventMessage, Node: node, Content: msg.Content})
		}
	}
	return events
}

func preview(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

// History implements Processor.
func (m *Manager) History(ctx context.Context, userID, sessionID string) ([]domain.ChatEntry, error) {
	binding, err := m.cfg.Repo.GetChatSession(ctx, userID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load chat session: %w", err)
	}
	if binding == nil {
		return []domain.ChatEntry{}, nil
	}
	cp, err := m.cfg.Repo.GetCheckpoint(ctx, binding.ThreadID)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	if cp == nil || cp.Transcript == nil {
		return []domain.ChatEntry{}, nil
	}
	return cp.Transcript, nil
}

// ResetSession implements Processor.
func (m *Manager) ResetSession(ctx context.Context, userID, sessionID string) error {
	key := sessionKey(userID, sessionID)

	m.mu.Lock()
	sess, ok := m.sessions[key]
	if ok {
		if !sess.run.TryLock() {
			m.mu.Unlock()
			return ErrBusy
		}
		defer sess.run.Unlock()
		delete(m.sessions, key)
	}
	m.mu.Unlock()

	binding, err := m.cfg.Repo.GetChatSession(ctx, userID, sessionID)
	if err != nil {
		return fmt.Errorf("load chat session: %w", err)
	}
	if binding != nil {
		if err := m.cfg.Repo.DeleteCheckpoint(ctx, binding.ThreadID); err != nil {
			return fmt.Errorf("delete checkpoint: %w", err)
		}
	}

	threadID := uuid.NewString()
	if err := m.cfg.Repo.UpsertChatSession(ctx, &domain.ChatSession{
		UserID: userID, SessionID: sessionID, ThreadID: threadID,
	}); err != nil {
		return fmt.Errorf("rebind chat session: %w", err)
	}

	m.release(userID, sessionID)
	slog.Info("Sidekick session reset", "user_id", userID, "session_id", sessionID, "thread_id", threadID)
	return nil
}

// Expire tears down an idle session. It holds the session while cleanup
// runs so no superstep can start. When cleanup reports true the session is
// forgotten and OnRelease runs. Expire returns false without calling cleanup
// when a superstep is running.
func (m *Manager) Expire(userID, sessionID string, cleanup func() bool) bool {
	key := sessionKey(userID, sessionID)

	m.mu.Lock()
	sess, ok := m.sessions[key]
	if !ok {
		// Placeholder so a chat arriving meanwhile answers ErrBusy.
		sess = &session{userID: userID, id: sessionID}
		m.sessions[key] = sess
	}
	if !sess.run.TryLock() {
		m.mu.Unlock()
		return false
	}
	m.mu.Unlock()

	expired := cleanup == nil || cleanup()

	m.mu.Lock()
	if m.sessions[key] == sess && (expired || sess.sk == nil) {
		delete(m.sessions, key)
	}
	m.mu.Unlock()
	if expired {
		sess.expired = true
		m.release(userID, sessionID)
	}
	sess.run.Unlock()
	return true
}

func (m *Manager) release(userID, sessionID string) {
	if m.cfg.OnRelease != nil {
		m.cfg.OnRelease(userID, sessionID)
	}
}

// GetStats implements Processor.
func (m *Manager) GetStats() Stats {
	m.mu.Lock()
	active := len(m.sessions)
	m.mu.Unlock()

	return Stats{
		Model:          m.cfg.Model.Name(),
		ActiveSessions: active,
		Supersteps:     m.supersteps.Load(),
		Tools:          m.toolNames,
	}
}

// Close implements Processor.
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*session)
	m.closed = true
	m.mu.Unlock()

	for _, s := range sessions {
		m.release(s.userID, s.id)
	}
}
