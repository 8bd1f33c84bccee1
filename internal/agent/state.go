// Package agent runs the Sidekick pipeline: a planner, a tool-using worker
// with researcher and coder delegates, and an evaluator that checks each
// answer against the user's success criteria.
package agent

import (
	"slices"

	"github.com/ashureev/sidekick/internal/domain"
)

// DefaultSuccessCriteria applies when the user leaves the criteria empty.
const DefaultSuccessCriteria = "The answer should be clear and accurate"

// Graph node names.
const (
	NodePlanner   = "planner"
	NodeWorker    = "worker"
	NodeTools     = "tools"
	NodeEvaluator = "evaluator"
)

// State flows through the graph. Nodes return a modified copy.
type State struct {
	Messages           []domain.Message
	SuccessCriteria    string
	FeedbackOnWork     string
	SuccessCriteriaMet bool
	UserInputNeeded    bool
	Subtasks           []string
	Iterations         int
}

func (s State) appendMessages(msgs ...domain.Message) State {
	s.Messages = append(slices.Clip(s.Messages), msgs...)
	return s
}

func (s State) last() (domain.Message, bool) {
	if len(s.Messages) == 0 {
		return domain.Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

func (s State) lastUserMessage() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == domain.RoleUser {
			return s.Messages[i].Content
		}
	}
	return ""
}

// ChatRequest is one user turn.
type ChatRequest struct {
	Message         string `json:"message"`
	SuccessCriteria string `json:"success_criteria"`
	UserID          string `json:"-"`
	SessionID       string `json:"-"`
}

// Event types streamed to clients.
const (
	EventStep    = "step"
	EventTool    = "tool"
	EventMessage = "message"
	EventDone    = "done"
	EventError   = "error"
)

// Event is a progress notification of a superstep.
type Event struct {
	Type      string             `json:"type"`
	Node      string             `json:"node,omitempty"`
	Tool      string             `json:"tool,omitempty"`
	Content   string             `json:"content,omitempty"`
	Iteration int                `json:"iteration,omitempty"`
	Reply     string             `json:"reply,omitempty"`
	Feedback  string             `json:"feedback,omitempty"`
	Subtasks  []string           `json:"subtasks,omitempty"`
	History   []domain.ChatEntry `json:"history,omitempty"`
}

// Stats summarizes the agent runtime.
type Stats struct {
	Model          string   `json:"model"`
	ActiveSessions int      `json:"active_sessions"`
	Supersteps     int64    `json:"supersteps"`
	Tools          []string `json:"tools"`
}
