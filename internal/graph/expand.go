package graph

// Element is one expanded invocation of a fan-out stage: the scalar input
// bindings for one combination of iterated-list elements.
//
// Index is the flattened position in expansion order and determines both
// the element's working directory and its position in every output list.
type Element struct {
	Index  int
	Inputs map[string]string
}

// Expand computes the per-element inputs of fan-out stage s from its
// resolved slot values.
//
// Zipped expansion requires every iterated list to have the same length N
// and produces N elements, element k taking element k of each list. Nested
// expansion produces the full cross-product, ordered lexicographically over
// the declared iterated-slot order (the last declared slot varies fastest).
// Non-iterated slots are held fixed across all elements.
func Expand(s *Stage, bound map[string]Value) ([]Element, error) {
	if !s.fanOut {
		return nil, arityf("stage %q is not a fan-out stage", s.id)
	}

	fixed := make(map[string]string)
	lists := make([][]string, 0, len(s.iterSlots))
	for _, slot := range s.op.InputSlots {
		v, ok := bound[slot]
		if !ok {
			return nil, unboundf("stage %q input slot %q", s.id, slot)
		}
		if s.isIterSlot(slot) {
			continue
		}
		if v.IsList() {
			return nil, arityf("stage %q: list value on non-iterated slot %q", s.id, slot)
		}
		fixed[slot] = v.ScalarValue()
	}
	for _, slot := range s.iterSlots {
		v, ok := bound[slot]
		if !ok {
			return nil, unboundf("fan-out stage %q iterated slot %q", s.id, slot)
		}
		if !v.IsList() {
			return nil, arityf("fan-out stage %q: iterated slot %q resolved to a scalar", s.id, slot)
		}
		lists = append(lists, v.Elems())
	}

	if s.nested {
		return expandCross(s, fixed, lists), nil
	}
	return expandZip(s, fixed, lists)
}

func expandZip(s *Stage, fixed map[string]string, lists [][]string) ([]Element, error) {
	n := len(lists[0])
	for i, l := range lists {
		if len(l) != n {
			return nil, arityf("fan-out stage %q: slot %q has length %d, want %d",
				s.id, s.iterSlots[i], len(l), n)
		}
	}

	elems := make([]Element, 0, n)
	for k := 0; k < n; k++ {
		in := cloneInputs(fixed)
		for i, slot := range s.iterSlots {
			in[slot] = lists[i][k]
		}
		elems = append(elems, Element{Index: k, Inputs: in})
	}
	return elems, nil
}

func expandCross(s *Stage, fixed map[string]string, lists [][]string) []Element {
	total := 1
	for _, l := range lists {
		total *= len(l)
	}
	if total == 0 {
		return nil
	}

	elems := make([]Element, 0, total)
	coords := make([]int, len(lists))
	for k := 0; k < total; k++ {
		in := cloneInputs(fixed)
		for i, slot := range s.iterSlots {
			in[slot] = lists[i][coords[i]]
		}
		elems = append(elems, Element{Index: k, Inputs: in})

		// Advance odometer, last declared slot fastest.
		for i := len(coords) - 1; i >= 0; i-- {
			coords[i]++
			if coords[i] < len(lists[i]) {
				break
			}
			coords[i] = 0
		}
	}
	return elems
}

func cloneInputs(m map[string]string) map[string]string {
	cp := make(map[string]string, len(m)+2)
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
