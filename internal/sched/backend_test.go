package sched

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewBackend_Selection(t *testing.T) {
	b, err := NewBackend("", nil)
	if err != nil || b.Name() != BackendSequential {
		t.Fatalf("default backend = %v, %v", b, err)
	}

	b, err = NewBackend(BackendLocalParallel, map[string]any{"n_workers": 4})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lp := b.(LocalParallel); lp.Workers != 4 {
		t.Fatalf("workers = %d", lp.Workers)
	}

	b, err = NewBackend(BackendRemoteBatch, map[string]any{"poll_ms": 50})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rb := b.(*RemoteBatch); rb.PollInterval != 50*time.Millisecond {
		t.Fatalf("poll interval = %v", rb.PollInterval)
	}

	if _, err := NewBackend("slurm", nil); err == nil {
		t.Fatalf("expected unknown backend error")
	}
}

func TestNewBackend_KwargCoercion(t *testing.T) {
	// Invocation parsing may deliver numbers as float64; the backend
	// tolerates that.
	b, err := NewBackend(BackendLocalParallel, map[string]any{"n_workers": float64(8)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lp := b.(LocalParallel); lp.Workers != 8 {
		t.Fatalf("workers = %d", lp.Workers)
	}

	if _, err := NewBackend(BackendLocalParallel, map[string]any{"n_workers": 0}); err == nil {
		t.Fatalf("expected worker count error")
	}
	if _, err := NewBackend(BackendRemoteBatch, map[string]any{"poll_ms": -1}); err == nil {
		t.Fatalf("expected poll interval error")
	}
}

func TestMetrics_CountsExecutions(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	s, err := New(chainGraph(t), &fakeInvoker{fail: map[string]bool{"op-b": true}}, t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.Metrics = m
	if _, err := (Sequential{}).Run(context.Background(), s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := testutil.ToFloat64(m.StageExecutions.WithLabelValues("op-a", "completed")); got != 1 {
		t.Fatalf("op-a completed = %v", got)
	}
	if got := testutil.ToFloat64(m.StageExecutions.WithLabelValues("op-b", "failed")); got != 1 {
		t.Fatalf("op-b failed = %v", got)
	}
}
