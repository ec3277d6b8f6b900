package graph

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCycle reports a dependency cycle among stages.
	ErrCycle = errors.New("cycle detected")

	// ErrUnboundInput reports a declared input slot with neither a literal
	// value nor a connection.
	ErrUnboundInput = errors.New("unbound input slot")

	// ErrFanOutArity reports mismatched list lengths in a zip expansion or
	// connection.
	ErrFanOutArity = errors.New("fan-out arity mismatch")

	// ErrOperation reports an external invocation that failed or produced
	// incomplete outputs.
	ErrOperation = errors.New("operation failed")
)

// BuildError wraps construction and execution failures with their kind, so
// callers can branch on errors.Is while keeping a descriptive message.
type BuildError struct {
	Kind error
	Msg  string
}

func (e *BuildError) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *BuildError) Unwrap() error { return e.Kind }

func cycleErrorf(path []string) error {
	msg := ""
	if len(path) > 0 {
		msg = strings.Join(path, " -> ")
	}
	return &BuildError{Kind: ErrCycle, Msg: msg}
}

func unboundf(format string, args ...any) error {
	return &BuildError{Kind: ErrUnboundInput, Msg: fmt.Sprintf(format, args...)}
}

func arityf(format string, args ...any) error {
	return &BuildError{Kind: ErrFanOutArity, Msg: fmt.Sprintf(format, args...)}
}

// OperationFailuref wraps an execution-time invocation failure.
func OperationFailuref(format string, args ...any) error {
	return &BuildError{Kind: ErrOperation, Msg: fmt.Sprintf(format, args...)}
}
