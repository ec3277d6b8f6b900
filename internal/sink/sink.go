// Package sink materializes selected pipeline artifacts into a persistent
// output layout under renamed, run-indexed filenames.
package sink

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"volpipe/internal/graph"
)

// ErrSinkCopy reports a failed artifact copy: a missing source artifact or
// an unwritable destination. Any copy failure fails the whole run.
var ErrSinkCopy = errors.New("sink copy failed")

// Mapping routes one produced (stage, slot) artifact to an output filename.
//
// When the source value is a list, Template must contain the run-index
// marker "{run}", replaced per element with a 1-based, zero-padded two-digit
// index in list order. Scalar sources use Template verbatim.
type Mapping struct {
	Stage    string
	Slot     string
	Template string
}

// Sink copies configured artifacts into OutDir after execution. It is the
// single writer of the output location.
type Sink struct {
	OutDir   string
	Mappings []Mapping
}

// Add appends a mapping.
func (s *Sink) Add(stage, slot, template string) {
	s.Mappings = append(s.Mappings, Mapping{Stage: stage, Slot: slot, Template: template})
}

// Materialize copies every mapped artifact from the run's outputs into the
// output directory.
func (s *Sink) Materialize(outputs graph.Outputs) error {
	if err := os.MkdirAll(s.OutDir, 0o755); err != nil {
		return fmt.Errorf("%w: creating output directory %q: %v", ErrSinkCopy, s.OutDir, err)
	}
	for _, m := range s.Mappings {
		v, ok := outputs.Get(m.Stage, m.Slot)
		if !ok {
			return fmt.Errorf("%w: stage %q produced no output slot %q", ErrSinkCopy, m.Stage, m.Slot)
		}
		if err := s.materializeOne(m, v); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) materializeOne(m Mapping, v graph.Value) error {
	if !v.IsList() {
		return s.copy(v.ScalarValue(), m.Template)
	}
	if !strings.Contains(m.Template, "{run}") {
		return fmt.Errorf("%w: list artifact %s.%s needs a {run} marker in template %q",
			ErrSinkCopy, m.Stage, m.Slot, m.Template)
	}
	for i := 0; i < v.Len(); i++ {
		name := strings.ReplaceAll(m.Template, "{run}", RunIndex(i))
		if err := s.copy(v.Elem(i), name); err != nil {
			return err
		}
	}
	return nil
}

// RunIndex formats the 1-based, zero-padded run index for list position i.
func RunIndex(i int) string {
	return fmt.Sprintf("%02d", i+1)
}

func (s *Sink) copy(src, name string) error {
	dst := filepath.Join(s.OutDir, name)

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("%w: missing artifact %q: %v", ErrSinkCopy, src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("%w: opening destination %q: %v", ErrSinkCopy, dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("%w: copying %q to %q: %v", ErrSinkCopy, src, dst, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("%w: closing %q: %v", ErrSinkCopy, dst, err)
	}
	return nil
}
