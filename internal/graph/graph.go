package graph

import (
	"container/heap"
	"fmt"
	"sort"
)

// Graph is the full pipeline: a set of stages plus the connections routing
// data between them.
//
// Construction order is irrelevant; stages and connections may be added in
// any order before Validate. After a successful Validate the graph is
// treated as immutable by the scheduler.
type Graph struct {
	stages []*Stage // declaration order
	byID   map[string]*Stage

	conns []Connection
	// inbound[target][slot] is the single connection feeding that slot.
	inbound map[string]map[string]Connection

	// Derived by Validate.
	outgoing [][]int // by declaration index, sorted ascending
	incoming [][]int
	indeg    []int
	built    bool
}

// New creates an empty pipeline graph.
func New() *Graph {
	return &Graph{
		byID:    make(map[string]*Stage),
		inbound: make(map[string]map[string]Connection),
	}
}

// AddStage registers a stage. Stage ids must be unique within the graph.
func (g *Graph) AddStage(s *Stage) error {
	if s == nil {
		return fmt.Errorf("nil stage")
	}
	if s.id == "" {
		return fmt.Errorf("stage id is required")
	}
	if _, dup := g.byID[s.id]; dup {
		return fmt.Errorf("duplicate stage id: %q", s.id)
	}
	if err := s.op.Validate(); err != nil {
		return fmt.Errorf("stage %q: %w", s.id, err)
	}
	s.declIndex = len(g.stages)
	g.byID[s.id] = s
	g.stages = append(g.stages, s)
	g.built = false
	return nil
}

// Connect registers a connection between two stages already in the graph.
//
// Each target input slot accepts at most one binding, literal or connection.
func (g *Graph) Connect(c Connection) error {
	if !c.validMode() {
		return fmt.Errorf("connection %s: unknown mode %q", c, c.Mode)
	}
	from, ok := g.byID[c.From]
	if !ok {
		return fmt.Errorf("connection %s: unknown source stage %q", c, c.From)
	}
	to, ok := g.byID[c.To]
	if !ok {
		return fmt.Errorf("connection %s: unknown target stage %q", c, c.To)
	}
	if !from.op.HasOutput(c.FromSlot) {
		return fmt.Errorf("connection %s: source has no output slot %q", c, c.FromSlot)
	}
	if !to.op.HasInput(c.ToSlot) {
		return fmt.Errorf("connection %s: target has no input slot %q", c, c.ToSlot)
	}
	if _, lit := to.literals[c.ToSlot]; lit {
		return fmt.Errorf("connection %s: target slot already bound to a literal", c)
	}
	if slots, ok := g.inbound[c.To]; ok {
		if _, dup := slots[c.ToSlot]; dup {
			return fmt.Errorf("connection %s: target slot already connected", c)
		}
	}
	if c.From == c.To {
		return cycleErrorf([]string{c.From, c.To})
	}
	if c.Mode == IndexSelect && c.Index < 0 {
		return fmt.Errorf("connection %s: negative selection index %d", c, c.Index)
	}

	if g.inbound[c.To] == nil {
		g.inbound[c.To] = make(map[string]Connection)
	}
	g.inbound[c.To][c.ToSlot] = c
	g.conns = append(g.conns, c)
	g.built = false
	return nil
}

// Stage returns a stage by id.
func (g *Graph) Stage(id string) (*Stage, bool) {
	s, ok := g.byID[id]
	return s, ok
}

// Stages returns all stages in declaration order.
func (g *Graph) Stages() []*Stage {
	out := make([]*Stage, len(g.stages))
	copy(out, g.stages)
	return out
}

// Connections returns all connections in registration order.
func (g *Graph) Connections() []Connection {
	out := make([]Connection, len(g.conns))
	copy(out, g.conns)
	return out
}

// Inbound returns the connection feeding the given input slot, if any.
func (g *Graph) Inbound(stageID, slot string) (Connection, bool) {
	slots, ok := g.inbound[stageID]
	if !ok {
		return Connection{}, false
	}
	c, ok := slots[slot]
	return c, ok
}

// InboundConnections returns all connections feeding the given stage.
func (g *Graph) InboundConnections(stageID string) []Connection {
	s, ok := g.byID[stageID]
	if !ok {
		return nil
	}
	out := make([]Connection, 0, len(g.inbound[stageID]))
	// Iterate in slot declaration order for determinism.
	for _, slot := range s.op.InputSlots {
		if c, ok := g.inbound[stageID][slot]; ok {
			out = append(out, c)
		}
	}
	return out
}

// build derives adjacency structures from the connection set.
func (g *Graph) build() {
	n := len(g.stages)
	g.outgoing = make([][]int, n)
	g.incoming = make([][]int, n)
	g.indeg = make([]int, n)

	type edge struct{ from, to int }
	seen := make(map[edge]struct{}, len(g.conns))
	for _, c := range g.conns {
		e := edge{from: g.byID[c.From].declIndex, to: g.byID[c.To].declIndex}
		if _, dup := seen[e]; dup {
			continue // parallel connections collapse to one dependency edge
		}
		seen[e] = struct{}{}
		g.outgoing[e.from] = append(g.outgoing[e.from], e.to)
		g.incoming[e.to] = append(g.incoming[e.to], e.from)
		g.indeg[e.to]++
	}
	for i := range g.outgoing {
		sort.Ints(g.outgoing[i])
		sort.Ints(g.incoming[i])
	}
	g.built = true
}

// TopoOrder returns a deterministic topological ordering of stage ids.
//
// Ties are broken by stage declaration order, so repeated runs of the same
// pipeline dispatch in the same sequence.
func (g *Graph) TopoOrder() []string {
	if !g.built {
		g.build()
	}
	order := g.topoOrderIndices()
	ids := make([]string, 0, len(order))
	for _, i := range order {
		ids = append(ids, g.stages[i].id)
	}
	return ids
}

func (g *Graph) topoOrderIndices() []int {
	indeg := make([]int, len(g.indeg))
	copy(indeg, g.indeg)

	ready := &intMinHeap{}
	heap.Init(ready)
	for i := range indeg {
		if indeg[i] == 0 {
			heap.Push(ready, i)
		}
	}

	out := make([]int, 0, len(indeg))
	for ready.Len() > 0 {
		u := heap.Pop(ready).(int)
		out = append(out, u)
		for _, v := range g.outgoing[u] {
			indeg[v]--
			if indeg[v] == 0 {
				heap.Push(ready, v)
			}
		}
	}
	return out
}

// Upstream returns the declaration indices of direct dependencies of the
// stage at declaration index i.
func (g *Graph) upstream(i int) []int {
	if !g.built {
		g.build()
	}
	return g.incoming[i]
}

// Downstream returns the declaration indices of direct dependents of the
// stage at declaration index i.
func (g *Graph) downstream(i int) []int {
	if !g.built {
		g.build()
	}
	return g.outgoing[i]
}

type intMinHeap []int

func (h intMinHeap) Len() int           { return len(h) }
func (h intMinHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h intMinHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *intMinHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *intMinHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
