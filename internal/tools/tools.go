// Package tools defines the functions the agents may call and a registry that
// executes them on behalf of the model.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/ashureev/sidekick/internal/domain"
	"github.com/ashureev/sidekick/internal/llm"
)

// ErrUnknownTool is returned when a call names no registered tool.
var ErrUnknownTool = errors.New("unknown tool")

// Tool is a function exposed to the model.
type Tool interface {
	Name() string
	Description() string
	// Parameters returns the JSON schema of the arguments object.
	Parameters() map[string]any
	Call(ctx context.Context, args json.RawMessage) (string, error)
}

// Func adapts a function with typed arguments into a Tool.
type Func[A any] struct {
	ToolName        string
	ToolDescription string
	Schema          map[string]any
	Fn              func(ctx context.Context, args A) (string, error)
}

// Name implements Tool.
func (f *Func[A]) Name() string { return f.ToolName }

// Description implements Tool.
func (f *Func[A]) Description() string { return f.ToolDescription }

// Parameters implements Tool.
func (f *Func[A]) Parameters() map[string]any {
	if f.Schema == nil {
		return Object(nil)
	}
	return f.Schema
}

// Call implements Tool.
func (f *Func[A]) Call(ctx context.Context, raw json.RawMessage) (string, error) {
	var args A
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &args); err != nil {
			return "", fmt.Errorf("invalid arguments for %s: %w", f.ToolName, err)
		}
	}
	return f.Fn(ctx, args)
}

// Object builds a JSON schema object with the given properties. Properties
// listed in required are marked mandatory.
func Object(props map[string]any, required ...string) map[string]any {
	if props == nil {
		props = map[string]any{}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// String describes a string property.
func String(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

// Integer describes an integer property.
func Integer(description string) map[string]any {
	return map[string]any{"type": "integer", "description": description}
}

// Boolean describes a boolean property.
func Boolean(description string) map[string]any {
	return map[string]any{"type": "boolean", "description": description}
}

// Result is the outcome of one tool call.
type Result struct {
	CallID   string
	Name     string
	Output   string
	Err      error
	Duration time.Duration
}

// Message converts the result into a tool message for the conversation.
func (r Result) Message() domain.Message {
	return domain.Message{
		Role:       domain.RoleTool,
		Content:    r.Output,
		Name:       r.Name,
		ToolCallID: r.CallID,
	}
}

// Registry holds the tools available to an agent.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates a registry with the given tools.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// Register adds or replaces a tool.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns the tools sorted by name.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Names returns the sorted tool names.
func (r *Registry) Names() []string {
	list := r.List()
	names := make([]string, len(list))
	for i, t := range list {
		names[i] = t.Name()
	}
	return names
}

// Len reports the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Specs describes the tools for the model.
func (r *Registry) Specs() []llm.ToolSpec {
	list := r.List()
	specs := make([]llm.ToolSpec, len(list))
	for i, t := range list {
		specs[i] = llm.ToolSpec{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		}
	}
	return specs
}

// Subset returns a registry holding only the named tools that exist here.
func (r *Registry) Subset(names ...string) *Registry {
	sub := NewRegistry()
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, t := range r.tools {
		if slices.Contains(names, name) {
			sub.tools[name] = t
		}
	}
	return sub
}

// Execute runs one tool call. Failures are reported as "Error: ..." output so
// the model can react to them; Err keeps the cause for logging.
func (r *Registry) Execute(ctx context.Context, call domain.ToolCall) Result {
	start := time.Now()
	res := Result{CallID: call.ID, Name: call.Name}

	t, ok := r.Get(call.Name)
	if !ok {
		res.Err = fmt.Errorf("%w: %s", ErrUnknownTool, call.Name)
	} else {
		res.Output, res.Err = t.Call(ctx, call.Arguments)
	}
	res.Duration = time.Since(start)

	if res.Err != nil {
		res.Output = "Error: " + res.Err.Error()
		slog.Warn("Tool call failed", "tool", call.Name, "call_id", call.ID, "error", res.Err)
	} else {
		slog.Debug("Tool call completed", "tool", call.Name, "call_id", call.ID, "duration_ms", res.Duration.Milliseconds())
	}
	return res
}
