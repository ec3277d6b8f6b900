package graph

import (
	"container/heap"
	"fmt"
)

// State is the runtime execution state of a stage.
//
// States are intentionally separated from the Graph, which is immutable
// after validation: the same graph can be executed repeatedly, each run
// carrying its own RunState.
type State string

const (
	Pending   State = "PENDING"
	Ready     State = "READY"
	Running   State = "RUNNING"
	Completed State = "COMPLETED"
	Failed    State = "FAILED"
	Blocked   State = "BLOCKED"
)

// IsTerminal reports whether the state is final for a run.
func IsTerminal(s State) bool {
	switch s {
	case Completed, Failed, Blocked:
		return true
	default:
		return false
	}
}

// RunState maps stage id to its current state for one execution attempt.
type RunState map[string]State

// NewRunState initializes every stage of g to Pending.
func NewRunState(g *Graph) RunState {
	rs := make(RunState, len(g.stages))
	for _, s := range g.stages {
		rs[s.id] = Pending
	}
	return rs
}

// Clone returns a copy of the state map.
func (rs RunState) Clone() RunState {
	cp := make(RunState, len(rs))
	for k, v := range rs {
		cp[k] = v
	}
	return cp
}

// AllTerminal reports whether every stage has reached a terminal state.
func (rs RunState) AllTerminal() bool {
	for _, st := range rs {
		if !IsTerminal(st) {
			return false
		}
	}
	return true
}

// Succeeded reports whether every stage completed.
func (rs RunState) Succeeded() bool {
	for _, st := range rs {
		if st != Completed {
			return false
		}
	}
	return true
}

// Transition performs a validated state change for one stage. The caller
// supplies the expected prior state so races surface as errors rather than
// silent overwrites.
func Transition(rs RunState, stageID string, from, to State) error {
	cur, ok := rs[stageID]
	if !ok {
		return fmt.Errorf("unknown stage in run state: %q", stageID)
	}
	if cur != from {
		return fmt.Errorf("invalid transition for %q: expected %s, got %s", stageID, from, cur)
	}
	if !isAllowedTransition(from, to) {
		return fmt.Errorf("disallowed transition for %q: %s -> %s", stageID, from, to)
	}
	rs[stageID] = to
	return nil
}

func isAllowedTransition(from, to State) bool {
	switch from {
	case Pending:
		return to == Ready || to == Blocked
	case Ready:
		return to == Running || to == Blocked
	case Running:
		return to == Completed || to == Failed
	default:
		return false
	}
}

// FailAndBlock transitions stageID from Running to Failed and transitively
// marks every downstream dependent Blocked.
//
// Traversal is in deterministic declaration-index order. A downstream stage
// already Running indicates a scheduling bug and is reported as an
// invariant violation.
func FailAndBlock(g *Graph, rs RunState, stageID string) error {
	if g == nil {
		return fmt.Errorf("nil graph")
	}
	s, ok := g.byID[stageID]
	if !ok {
		return fmt.Errorf("unknown stage: %q", stageID)
	}
	cur, ok := rs[stageID]
	if !ok {
		return fmt.Errorf("unknown stage in run state: %q", stageID)
	}
	if cur != Running && cur != Failed {
		return fmt.Errorf("cannot fail %q from state %s", stageID, cur)
	}
	if cur == Running {
		rs[stageID] = Failed
	}

	start := s.declIndex
	visited := make([]bool, len(g.stages))
	visited[start] = true

	hq := &intMinHeap{}
	heap.Init(hq)
	for _, d := range g.downstream(start) {
		heap.Push(hq, d)
	}

	for hq.Len() > 0 {
		u := heap.Pop(hq).(int)
		if visited[u] {
			continue
		}
		visited[u] = true

		id := g.stages[u].id
		switch rs[id] {
		case Pending, Ready:
			rs[id] = Blocked
		case Running:
			return fmt.Errorf("invariant violation: downstream stage %q is RUNNING during failure propagation", id)
		default:
			// Already terminal; leave unchanged.
		}

		for _, v := range g.downstream(u) {
			if !visited[v] {
				heap.Push(hq, v)
			}
		}
	}
	return nil
}
