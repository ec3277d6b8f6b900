package sched

import (
	"context"
	"fmt"
	"runtime"
	"time"
)

// Backend is an execution strategy for a scheduler. Implementations differ
// only in how stage executions are dispatched; dependency ordering, state
// transitions, and failure propagation are common scheduler behavior.
type Backend interface {
	Name() string
	Run(ctx context.Context, s *Scheduler) (*Result, error)
}

// Backend identifiers accepted by NewBackend.
const (
	BackendSequential    = "sequential"
	BackendLocalParallel = "local-parallel"
	BackendRemoteBatch   = "remote-batch"
)

// NewBackend builds a backend by name. kwargs is an open-ended map passed
// through from the invocation; each backend reads the keys it understands
// and ignores the rest.
//
// Recognized kwargs:
//
//	local-parallel: n_workers (int)
//	remote-batch:   poll_ms (int)
func NewBackend(name string, kwargs map[string]any) (Backend, error) {
	switch name {
	case BackendSequential, "":
		return Sequential{}, nil
	case BackendLocalParallel:
		workers := intArg(kwargs, "n_workers", runtime.NumCPU())
		if workers <= 0 {
			return nil, fmt.Errorf("backend %q: n_workers must be > 0", name)
		}
		return LocalParallel{Workers: workers}, nil
	case BackendRemoteBatch:
		poll := time.Duration(intArg(kwargs, "poll_ms", 500)) * time.Millisecond
		if poll <= 0 {
			return nil, fmt.Errorf("backend %q: poll_ms must be > 0", name)
		}
		return &RemoteBatch{System: NewLocalBatch(), PollInterval: poll}, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", name)
	}
}

// intArg extracts an integer-valued kwarg, tolerating the float coercion
// applied by the invocation parser.
func intArg(kwargs map[string]any, key string, def int) int {
	v, ok := kwargs[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return def
	}
}
