// Package op defines the declarative model of an external processing
// operation and the contract for invoking one.
//
// An operation is a black box: given a fully bound set of input artifacts it
// either produces every declared output artifact or fails. The engine never
// inspects what a tool computes, only that its output contract is met.
package op

import "fmt"

// Descriptor is the immutable declarative description of one external
// processing step.
//
// InputSlots and OutputSlots are the named data ports of the operation.
// Params are fixed key/value settings baked in at definition time; they are
// not data-dependent and never change between invocations.
//
// Argv is the command template realized at invocation time. Each token is
// either a literal, or a placeholder:
//
//	{in:slot}     the bound input value for slot
//	{out:slot}    the artifact path declared for the output slot
//	{param:key}   the fixed parameter value for key
//
// OutputFiles maps each scalar output slot to the artifact filename the
// tool is expected to produce inside the invocation's working directory.
// OutputGlobs maps list-valued output slots to a glob over the working
// directory; matches are collected sorted, so list order is deterministic.
// Every declared output slot appears in exactly one of the two maps.
type Descriptor struct {
	Name        string
	InputSlots  []string
	OutputSlots []string
	Params      map[string]string
	Argv        []string
	OutputFiles map[string]string
	OutputGlobs map[string]string

	// AuxFiles are small input files materialized into the working
	// directory before the tool runs, e.g. an acquisition-parameter table
	// derived from fixed parameters. Keyed by filename, value is content.
	AuxFiles map[string]string
}

// HasInput reports whether the descriptor declares the named input slot.
func (d Descriptor) HasInput(slot string) bool {
	for _, s := range d.InputSlots {
		if s == slot {
			return true
		}
	}
	return false
}

// HasOutput reports whether the descriptor declares the named output slot.
func (d Descriptor) HasOutput(slot string) bool {
	for _, s := range d.OutputSlots {
		if s == slot {
			return true
		}
	}
	return false
}

// IsListOutput reports whether the named output slot is list-valued.
func (d Descriptor) IsListOutput(slot string) bool {
	_, ok := d.OutputGlobs[slot]
	return ok
}

// Validate checks internal consistency of the descriptor definition.
func (d Descriptor) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("operation name is required")
	}
	for _, slot := range d.OutputSlots {
		_, file := d.OutputFiles[slot]
		_, glob := d.OutputGlobs[slot]
		if file == glob {
			return fmt.Errorf("operation %q: output slot %q needs exactly one of an artifact file or a glob", d.Name, slot)
		}
	}
	return nil
}
