package agent

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/cloudwego/eino/compose"
)

// ErrRecursionLimit is returned when a superstep executes more nodes than
// Options.RecursionLimit allows.
var ErrRecursionLimit = errors.New("agent: recursion limit reached")

// maxRunStepsSlack leaves room for the engine's own bookkeeping steps so the
// per-node count below is what ends a runaway loop.
const maxRunStepsSlack = 5

// Step reports one executed node and the state it produced.
type Step struct {
	Index int
	Node  string
	State State
}

// runTrace is the graph's local state: one per Invoke. Eino serializes the
// state handlers, so the fields need no locking.
type runTrace struct {
	limit    int
	steps    int
	failed   error
	limitHit bool
	emit     func(context.Context, Step) error
}

type traceKey struct{}

func traceFromContext(ctx context.Context) *runTrace {
	if t, ok := ctx.Value(traceKey{}).(*runTrace); ok {
		return t
	}
	return &runTrace{}
}

// compile builds the planner/worker/tools/evaluator graph.
func (sk *Sidekick) compile(ctx context.Context) (compose.Runnable[State, State], error) {
	g := compose.NewGraph[State, State](compose.WithGenLocalState(traceFromContext))

	nodes := []struct {
		name string
		fn   func(context.Context, State) (State, error)
	}{
		{NodeWorker, sk.workerNode},
		{NodeTools, sk.toolsNode},
		{NodeEvaluator, sk.evaluatorNode},
	}
	if sk.opts.PlannerEnabled {
		nodes = append(nodes, struct {
			name string
			fn   func(context.Context, State) (State, error)
		}{NodePlanner, sk.plannerNode})
	}
	for _, n := range nodes {
		if err := addNode(g, n.name, n.fn); err != nil {
			return nil, err
		}
	}

	entry := NodeWorker
	if sk.opts.PlannerEnabled {
		entry = NodePlanner
		if err := g.AddEdge(NodePlanner, NodeWorker); err != nil {
			return nil, err
		}
	}
	if err := g.AddEdge(compose.START, entry); err != nil {
		return nil, err
	}
	if err := g.AddBranch(NodeWorker, compose.NewGraphBranch(routeWorker, map[string]bool{
		NodeTools:     true,
		NodeEvaluator: true,
	})); err != nil {
		return nil, err
	}
	if err := g.AddEdge(NodeTools, NodeWorker); err != nil {
		return nil, err
	}
	if err := g.AddBranch(NodeEvaluator, compose.NewGraphBranch(sk.routeEvaluation, map[string]bool{
		NodeWorker:  true,
		compose.END: true,
	})); err != nil {
		return nil, err
	}

	return g.Compile(ctx,
		compose.WithGraphName("sidekick"),
		compose.WithNodeTriggerMode(compose.AnyPredecessor),
		compose.WithMaxRunSteps(sk.opts.RecursionLimit+maxRunStepsSlack),
	)
}

// addNode registers fn with handlers that count executions against the
// recursion limit, record the node's error and report the step.
func addNode(g *compose.Graph[State, State], name string, fn func(context.Context, State) (State, error)) error {
	run := func(ctx context.Context, in State) (State, error) {
		out, err := fn(ctx, in)
		if err != nil {
			err = fmt.Errorf("node %s: %w", name, err)
			_ = compose.ProcessState(ctx, func(_ context.Context, t *runTrace) error {
				if t.failed == nil {
					t.failed = err
				}
				return nil
			})
		}
		return out, err
	}

	return g.AddLambdaNode(name, compose.InvokableLambda(run),
		compose.WithNodeName(name),
		compose.WithStatePreHandler(func(_ context.Context, in State, t *runTrace) (State, error) {
			if t.limit > 0 && t.steps >= t.limit {
				t.limitHit = true
				return in, fmt.Errorf("%w: %d steps without finishing", ErrRecursionLimit, t.limit)
			}
			t.steps++
			return in, nil
		}),
		compose.WithStatePostHandler(func(ctx context.Context, out State, t *runTrace) (State, error) {
			if t.emit == nil {
				return out, nil
			}
			return out, t.emit(ctx, Step{Index: t.steps - 1, Node: name, State: out})
		}),
	)
}

// invoke runs the compiled graph with t as its local state and maps the
// engine's error back to the node that caused it.
func (sk *Sidekick) invoke(ctx context.Context, s State, t *runTrace) (State, error) {
	t.limit = sk.opts.RecursionLimit
	out, err := sk.runnable.Invoke(context.WithValue(ctx, traceKey{}, t), s)
	if err == nil {
		return out, nil
	}
	switch {
	case t.failed != nil:
		return s, t.failed
	case t.limitHit:
		return s, fmt.Errorf("%w: %d steps without finishing", ErrRecursionLimit, t.limit)
	case ctx.Err() != nil:
		return s, ctx.Err()
	}
	return s, fmt.Errorf("run sidekick graph: %w", err)
}

// Run executes one superstep and returns the final state.
func (sk *Sidekick) Run(ctx context.Context, s State) (State, error) {
	return sk.invoke(ctx, s, &runTrace{})
}

// Stream executes one superstep, yielding after every node. A non-nil error
// is yielded once and ends the sequence. Stopping early cancels the run.
func (sk *Sidekick) Stream(ctx context.Context, s State) iter.Seq2[Step, error] {
	return func(yield func(Step, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		steps := make(chan Step)
		done := make(chan error, 1)
		t := &runTrace{
			emit: func(ctx context.Context, st Step) error {
				select {
				case steps <- st:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			},
		}

		go func() {
			_, err := sk.invoke(ctx, s, t)
			close(steps)
			done <- err
		}()

		last := Step{State: s}
		for st := range steps {
			last = st
			if !yield(st, nil) {
				cancel()
				for range steps {
				}
				<-done
				return
			}
		}
		if err := <-done; err != nil {
			yield(last, err)
		}
	}
}
