// Package sched turns a validated pipeline graph into an execution,
// respecting dependency order over a pluggable backend.
package sched

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"volpipe/internal/graph"
	"volpipe/internal/op"
)

// Observer receives stage state transitions as they happen. Implementations
// must be fast; they are called with the scheduler lock held.
type Observer interface {
	StageTransition(stageID string, st graph.State)
}

// Scheduler executes a validated graph. It owns the per-run mutable state:
// stage states and produced output values. The graph itself is never
// mutated.
type Scheduler struct {
	Graph    *graph.Graph
	Invoker  op.Invoker
	WorkRoot string

	// Optional collaborators.
	Log      *slog.Logger
	Metrics  *Metrics
	Observer Observer

	order []string // topological dispatch order, fixed at construction

	mu      sync.Mutex
	state   graph.RunState
	outputs graph.Outputs
}

// Result is the summary of one execution attempt.
type Result struct {
	Final   graph.RunState
	Order   []string // stages in dispatch order
	Outputs graph.Outputs
}

// Err returns nil when every stage completed, otherwise the run-level
// failure.
func (r *Result) Err() error {
	if r == nil {
		return fmt.Errorf("no result")
	}
	if r.Final.Succeeded() {
		return nil
	}
	for _, id := range r.Order {
		if r.Final[id] == graph.Failed {
			return graph.OperationFailuref("stage %q failed", id)
		}
	}
	// A failed stage may never have been dispatched (infrastructure error).
	for id, st := range r.Final {
		if st == graph.Failed {
			return graph.OperationFailuref("stage %q failed", id)
		}
	}
	return graph.OperationFailuref("run did not complete")
}

// New creates a scheduler for the given graph. The graph is validated here;
// no stage runs before validation passes.
func New(g *graph.Graph, invoker op.Invoker, workRoot string) (*Scheduler, error) {
	if g == nil {
		return nil, fmt.Errorf("nil graph")
	}
	if invoker == nil {
		return nil, fmt.Errorf("nil invoker")
	}
	if workRoot == "" {
		return nil, fmt.Errorf("work root is required")
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &Scheduler{
		Graph:    g,
		Invoker:  invoker,
		WorkRoot: workRoot,
		order:    g.TopoOrder(),
		state:    graph.NewRunState(g),
		outputs:  make(graph.Outputs),
	}, nil
}

// StateSnapshot returns a copy of the current run state.
func (s *Scheduler) StateSnapshot() graph.RunState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// nextReady returns, under the lock, the stages eligible for dispatch in
// topological order, transitioning each Pending stage whose upstreams have
// all completed to Ready.
func (s *Scheduler) nextReady() []string {
	ready := make([]string, 0)
	for _, id := range s.order {
		st := s.state[id]
		if st == graph.Ready {
			ready = append(ready, id)
			continue
		}
		if st != graph.Pending {
			continue
		}
		if !s.upstreamsCompleted(id) {
			continue
		}
		s.state[id] = graph.Ready
		s.notify(id, graph.Ready)
		ready = append(ready, id)
	}
	return ready
}

func (s *Scheduler) upstreamsCompleted(id string) bool {
	for _, c := range s.Graph.InboundConnections(id) {
		if s.state[c.From] != graph.Completed {
			return false
		}
	}
	return true
}

// dispatch transitions a Ready stage to Running.
func (s *Scheduler) dispatch(id string) error {
	if err := graph.Transition(s.state, id, graph.Ready, graph.Running); err != nil {
		return err
	}
	s.notify(id, graph.Running)
	return nil
}

// complete records a stage's outputs and marks it Completed.
func (s *Scheduler) complete(id string, outs map[string]graph.Value) error {
	if err := graph.Transition(s.state, id, graph.Running, graph.Completed); err != nil {
		return err
	}
	s.outputs.Set(id, outs)
	s.notify(id, graph.Completed)
	return nil
}

// fail marks a stage Failed and blocks its descendants.
func (s *Scheduler) fail(id string) error {
	before := s.state.Clone()
	if err := graph.FailAndBlock(s.Graph, s.state, id); err != nil {
		return err
	}
	for sid, st := range s.state {
		if before[sid] != st {
			s.notify(sid, st)
		}
	}
	return nil
}

func (s *Scheduler) notify(id string, st graph.State) {
	if s.Observer != nil {
		s.Observer.StageTransition(id, st)
	}
	if s.Log != nil {
		s.Log.Info("stage transition", "stage", id, "state", string(st))
	}
}

// runStage resolves the stage's inputs and invokes its operation, expanding
// fan-out stages one invocation per element. Called without the lock held.
//
// On any element failure no partial output list is returned: the stage's
// outputs are all-or-nothing.
func (s *Scheduler) runStage(ctx context.Context, id string) (map[string]graph.Value, error) {
	s.mu.Lock()
	st, ok := s.Graph.Stage(id)
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("unknown stage %q", id)
	}
	bound, err := s.Graph.ResolveInputs(st, s.outputs)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	outs, err := s.invokeResolved(ctx, st, bound)
	if s.Metrics != nil {
		s.Metrics.observe(st.Op().Name, err, time.Since(start))
	}
	return outs, err
}

func (s *Scheduler) invokeResolved(ctx context.Context, st *graph.Stage, bound map[string]graph.Value) (map[string]graph.Value, error) {
	d := st.Op()

	if !st.IsFanOut() {
		inputs, err := graph.ScalarInputs(st, bound)
		if err != nil {
			return nil, err
		}
		produced, err := s.Invoker.Invoke(ctx, d, inputs, st.WorkDir(s.WorkRoot))
		if err != nil {
			return nil, graph.OperationFailuref("stage %q: %v", st.ID(), err)
		}
		outs := make(map[string]graph.Value, len(d.OutputSlots))
		for _, slot := range d.OutputSlots {
			if d.IsListOutput(slot) {
				outs[slot] = graph.List(produced[slot]...)
			} else {
				outs[slot] = graph.Scalar(produced[slot][0])
			}
		}
		return outs, nil
	}

	elems, err := graph.Expand(st, bound)
	if err != nil {
		return nil, err
	}
	collected := make(map[string][]string, len(d.OutputSlots))
	for _, el := range elems {
		produced, err := s.Invoker.Invoke(ctx, d, el.Inputs, st.ElementWorkDir(s.WorkRoot, el.Index))
		if err != nil {
			return nil, graph.OperationFailuref("stage %q element %d: %v", st.ID(), el.Index, err)
		}
		for _, slot := range d.OutputSlots {
			collected[slot] = append(collected[slot], produced[slot][0])
		}
	}
	outs := make(map[string]graph.Value, len(d.OutputSlots))
	for _, slot := range d.OutputSlots {
		outs[slot] = graph.List(collected[slot]...)
	}
	return outs, nil
}

func (s *Scheduler) result(order []string) *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(graph.Outputs, len(s.outputs))
	for k, v := range s.outputs {
		out[k] = v
	}
	return &Result{Final: s.state.Clone(), Order: order, Outputs: out}
}
