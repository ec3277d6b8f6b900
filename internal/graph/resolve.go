package graph

// Outputs accumulates the values produced by completed stages, keyed by
// stage id then output slot.
type Outputs map[string]map[string]Value

// Set records the produced values of one stage.
func (o Outputs) Set(stageID string, vals map[string]Value) {
	o[stageID] = vals
}

// Get returns the value a stage produced on a slot.
func (o Outputs) Get(stageID, slot string) (Value, bool) {
	vals, ok := o[stageID]
	if !ok {
		return Value{}, false
	}
	v, ok := vals[slot]
	return v, ok
}

// ResolveInputs computes the concrete value bound to every input slot of s,
// applying each inbound connection's combination rule.
//
// Resolution is lazy by construction: the scheduler only calls this once
// every transitive upstream of s has completed, so every referenced source
// value is present in produced.
func (g *Graph) ResolveInputs(s *Stage, produced Outputs) (map[string]Value, error) {
	bound := make(map[string]Value, len(s.op.InputSlots))
	for _, slot := range s.op.InputSlots {
		if v, ok := s.literals[slot]; ok {
			bound[slot] = v
			continue
		}
		c, ok := g.Inbound(s.id, slot)
		if !ok {
			return nil, unboundf("stage %q input slot %q", s.id, slot)
		}
		src, ok := produced.Get(c.From, c.FromSlot)
		if !ok {
			return nil, OperationFailuref("connection %s: source value not produced", c)
		}
		v, err := combine(c, src)
		if err != nil {
			return nil, err
		}
		bound[slot] = v
	}
	return bound, nil
}

// combine applies a connection's combination rule to the source value.
func combine(c Connection, src Value) (Value, error) {
	switch c.Mode {
	case Direct, Broadcast:
		if src.IsList() {
			return Value{}, arityf("connection %s: list source feeding a scalar slot, use index_select", c)
		}
		return src, nil
	case IndexSelect:
		if !src.IsList() {
			return Value{}, arityf("connection %s: index_select on a scalar source", c)
		}
		if c.Index >= src.Len() {
			return Value{}, arityf("connection %s: index %d out of range for list of length %d", c, c.Index, src.Len())
		}
		return Scalar(src.Elem(c.Index)), nil
	case Zip:
		if !src.IsList() {
			return Value{}, arityf("connection %s: zip requires a list source", c)
		}
		return src, nil
	case Cross:
		if !src.IsList() {
			// A shared scalar crossed into an expansion is a list of one.
			return List(src.ScalarValue()), nil
		}
		return src, nil
	default:
		return Value{}, arityf("connection %s: unknown mode", c)
	}
}

// ScalarInputs narrows the resolved values of a plain stage to the scalar
// map an invoker consumes.
func ScalarInputs(s *Stage, bound map[string]Value) (map[string]string, error) {
	in := make(map[string]string, len(bound))
	for slot, v := range bound {
		if v.IsList() {
			return nil, arityf("stage %q: list value on non-iterated slot %q", s.id, slot)
		}
		in[slot] = v.ScalarValue()
	}
	return in, nil
}
