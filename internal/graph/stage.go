package graph

import (
	"fmt"
	"path/filepath"

	"volpipe/internal/op"
)

// Stage is one instantiated operation bound to concrete inputs: the atomic
// execution unit of a pipeline.
//
// A fan-out stage additionally declares one or more input slots as iterated:
// at execution time it expands into one invocation per element combination
// across those slots, and produces an ordered output list per output slot.
//
// Stages are created during graph construction and never structurally
// mutated afterwards; only runtime state (tracked by the scheduler) changes.
type Stage struct {
	id string
	op op.Descriptor

	literals map[string]Value

	fanOut    bool
	iterSlots []string
	nested    bool

	declIndex int // position in graph declaration order
}

// NewStage creates a plain stage around the given operation.
func NewStage(id string, d op.Descriptor) *Stage {
	return &Stage{id: id, op: d, literals: make(map[string]Value)}
}

// NewFanOutStage creates a stage that replicates its operation across the
// elements of the iterated input slots.
//
// With nested=false the iterated lists are zipped element-wise and must have
// equal length. With nested=true the expansion is the full cross-product,
// ordered lexicographically over the declared iterSlots order.
func NewFanOutStage(id string, d op.Descriptor, iterSlots []string, nested bool) *Stage {
	s := NewStage(id, d)
	s.fanOut = true
	s.iterSlots = append([]string(nil), iterSlots...)
	s.nested = nested
	return s
}

// ID returns the stage identifier, unique within its graph.
func (s *Stage) ID() string { return s.id }

// Op returns the stage's operation descriptor.
func (s *Stage) Op() op.Descriptor { return s.op }

// IsFanOut reports whether the stage expands over iterated inputs.
func (s *Stage) IsFanOut() bool { return s.fanOut }

// IterSlots returns the declared iterated slots, in declaration order.
func (s *Stage) IterSlots() []string { return append([]string(nil), s.iterSlots...) }

// Nested reports whether the expansion is a cross-product rather than a zip.
func (s *Stage) Nested() bool { return s.nested }

// Bind attaches a literal value to an input slot. Binding the same slot
// twice, or a slot the operation does not declare, is an error.
func (s *Stage) Bind(slot string, v Value) error {
	if !s.op.HasInput(slot) {
		return fmt.Errorf("stage %q: operation %q has no input slot %q", s.id, s.op.Name, slot)
	}
	if _, dup := s.literals[slot]; dup {
		return fmt.Errorf("stage %q: input slot %q bound twice", s.id, slot)
	}
	s.literals[slot] = v
	return nil
}

// Literal returns the literal bound to slot, if any.
func (s *Stage) Literal(slot string) (Value, bool) {
	v, ok := s.literals[slot]
	return v, ok
}

// WorkDir returns the stage's private working directory under root.
func (s *Stage) WorkDir(root string) string {
	return filepath.Join(root, s.id)
}

// ElementWorkDir returns the working directory for one fan-out element,
// keyed by its flattened expansion index.
func (s *Stage) ElementWorkDir(root string, index int) string {
	return filepath.Join(root, s.id, fmt.Sprintf("%d", index))
}

func (s *Stage) isIterSlot(slot string) bool {
	for _, it := range s.iterSlots {
		if it == slot {
			return true
		}
	}
	return false
}
