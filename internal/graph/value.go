package graph

// Value is one datum flowing along a connection: either a scalar (a single
// artifact path or literal) or an ordered list of scalars.
//
// Lists arise from fan-out stage outputs and from literal list bindings;
// everything else is scalar.
type Value struct {
	elems []string
	list  bool
}

// Scalar wraps a single value.
func Scalar(s string) Value {
	return Value{elems: []string{s}}
}

// List wraps an ordered list value. A list of length one is still a list;
// narrowing to a scalar is always an explicit index selection.
func List(elems ...string) Value {
	cp := make([]string, len(elems))
	copy(cp, elems)
	return Value{elems: cp, list: true}
}

// IsList reports whether v is list-shaped.
func (v Value) IsList() bool { return v.list }

// Len returns the element count (1 for scalars).
func (v Value) Len() int { return len(v.elems) }

// ScalarValue returns the scalar payload. It is only meaningful when
// IsList() is false.
func (v Value) ScalarValue() string {
	if len(v.elems) == 0 {
		return ""
	}
	return v.elems[0]
}

// Elem returns the i'th element.
func (v Value) Elem(i int) string { return v.elems[i] }

// Elems returns a copy of all elements.
func (v Value) Elems() []string {
	cp := make([]string, len(v.elems))
	copy(cp, v.elems)
	return cp
}
