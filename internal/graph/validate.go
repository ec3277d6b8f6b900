package graph

// Validate checks the graph for structural soundness before execution:
//
//   - the dependency relation derived from connections must be acyclic
//   - every declared input slot of every stage must be bound exactly once,
//     to a literal or to a connection
//   - connection modes must be compatible with the target slot's shape
//   - zip arities checkable from literals must agree
//
// Validate is idempotent and has no side effects; it may be called any
// number of times, before or after adding more stages and connections.
func (g *Graph) Validate() error {
	if len(g.stages) == 0 {
		return unboundf("graph has no stages")
	}
	g.build()

	order := g.topoOrderIndices()
	if len(order) != len(g.stages) {
		return cycleErrorf(g.findCycle())
	}

	for _, s := range g.stages {
		if err := g.validateStage(s); err != nil {
			return err
		}
	}
	return nil
}

func (g *Graph) validateStage(s *Stage) error {
	for _, slot := range s.op.InputSlots {
		_, lit := s.literals[slot]
		conn, connected := g.Inbound(s.id, slot)
		if !lit && !connected {
			return unboundf("stage %q input slot %q", s.id, slot)
		}
		if connected {
			if err := g.validateConnectionMode(s, slot, conn); err != nil {
				return err
			}
		}
	}

	if !s.fanOut {
		// Literal lists feeding a plain stage must have been narrowed by the
		// caller; a plain slot holds one value.
		for slot, v := range s.literals {
			if v.IsList() {
				return arityf("stage %q: literal list bound to non-iterated slot %q", s.id, slot)
			}
		}
		return nil
	}

	if len(s.iterSlots) == 0 {
		return unboundf("fan-out stage %q declares no iterated slots", s.id)
	}
	// Element outputs are flattened into one list per slot; a list-valued
	// element output would nest and has no representation downstream.
	if len(s.op.OutputGlobs) > 0 {
		return arityf("fan-out stage %q: operation %q declares list-valued outputs", s.id, s.op.Name)
	}
	for _, it := range s.iterSlots {
		if !s.op.HasInput(it) {
			return unboundf("fan-out stage %q iterates unknown slot %q", s.id, it)
		}
	}

	// Zip arity over literal lists is checkable statically.
	if !s.nested {
		want := -1
		for _, it := range s.iterSlots {
			v, ok := s.literals[it]
			if !ok {
				continue
			}
			if !v.IsList() {
				return arityf("fan-out stage %q: iterated slot %q bound to a scalar literal", s.id, it)
			}
			if want < 0 {
				want = v.Len()
			} else if v.Len() != want {
				return arityf("fan-out stage %q: iterated literals have lengths %d and %d", s.id, want, v.Len())
			}
		}
	}
	return nil
}

func (g *Graph) validateConnectionMode(target *Stage, slot string, c Connection) error {
	iterated := target.fanOut && target.isIterSlot(slot)
	switch c.Mode {
	case Direct:
		if iterated {
			return arityf("connection %s: iterated slot requires zip or cross", c)
		}
		if target.fanOut {
			return arityf("connection %s: fan-out fixed slot requires broadcast or index_select", c)
		}
	case IndexSelect:
		if iterated {
			return arityf("connection %s: iterated slot requires zip or cross", c)
		}
	case Broadcast:
		if iterated {
			return arityf("connection %s: broadcast cannot feed an iterated slot", c)
		}
		if !target.fanOut {
			return arityf("connection %s: broadcast target is not a fan-out stage", c)
		}
	case Zip:
		if !iterated {
			return arityf("connection %s: zip target slot is not iterated", c)
		}
		if target.nested {
			return arityf("connection %s: zip into a nested fan-out, use cross", c)
		}
	case Cross:
		if !iterated {
			return arityf("connection %s: cross target slot is not iterated", c)
		}
		if !target.nested {
			return arityf("connection %s: cross into a zipped fan-out, use zip", c)
		}
	}
	return nil
}

// findCycle performs a deterministic DFS over declaration indices and
// returns one cycle as a stage id path. Traversal order is fixed, so the
// same graph always reports the same witness.
func (g *Graph) findCycle() []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)

	color := make([]int, len(g.stages))
	parent := make([]int, len(g.stages))
	for i := range parent {
		parent[i] = -1
	}

	var cycle []int
	var dfs func(u int) bool
	dfs = func(u int) bool {
		color[u] = gray
		for _, v := range g.outgoing[u] {
			if color[v] == white {
				parent[v] = u
				if dfs(v) {
					return true
				}
				continue
			}
			if color[v] == gray {
				cycle = append(cycle, v)
				cur := u
				for cur != -1 && cur != v {
					cycle = append(cycle, cur)
					cur = parent[cur]
				}
				cycle = append(cycle, v)
				return true
			}
		}
		color[u] = black
		return false
	}

	for i := 0; i < len(g.stages); i++ {
		if color[i] != white {
			continue
		}
		if dfs(i) {
			break
		}
	}
	if len(cycle) == 0 {
		return nil
	}

	out := make([]string, 0, len(cycle))
	for i := len(cycle) - 1; i >= 0; i-- {
		out = append(out, g.stages[cycle[i]].id)
	}
	return out
}
