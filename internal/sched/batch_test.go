package sched

import (
	"context"
	"errors"
	"testing"
	"time"

	"volpipe/internal/graph"
)

func waitStatus(t *testing.T, b *LocalBatch, jobID string, want JobStatus) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		st, err := b.Status(context.Background(), jobID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if st == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %q never reached %s", jobID, want)
}

func TestLocalBatch_JobLifecycle(t *testing.T) {
	b := NewLocalBatch()

	if err := b.Submit(context.Background(), Job{
		ID:      "j1",
		StageID: "a",
		Execute: func(context.Context) error { return nil },
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitStatus(t, b, "j1", JobSucceeded)

	if err := b.Submit(context.Background(), Job{
		ID:      "j2",
		StageID: "b",
		Execute: func(context.Context) error { return errors.New("boom") },
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitStatus(t, b, "j2", JobFailed)
}

func TestLocalBatch_RejectsDuplicateAndEmptyIDs(t *testing.T) {
	b := NewLocalBatch()
	noop := func(context.Context) error { return nil }

	if err := b.Submit(context.Background(), Job{Execute: noop}); err == nil {
		t.Fatalf("expected empty id error")
	}
	if err := b.Submit(context.Background(), Job{ID: "j1", Execute: noop}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := b.Submit(context.Background(), Job{ID: "j1", Execute: noop}); err == nil {
		t.Fatalf("expected duplicate id error")
	}
	if _, err := b.Status(context.Background(), "nope"); err == nil {
		t.Fatalf("expected unknown job error")
	}
}

func TestRemoteBatch_CompletesChain(t *testing.T) {
	inv := &fakeInvoker{}
	b := &RemoteBatch{System: NewLocalBatch(), PollInterval: 5 * time.Millisecond}
	res := runWith(t, b, chainGraph(t), inv)

	if err := res.Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Final.Succeeded() {
		t.Fatalf("final state = %v", res.Final)
	}
}

func TestRemoteBatch_FailureBlocksDescendants(t *testing.T) {
	inv := &fakeInvoker{fail: map[string]bool{"op-b": true}}
	b := &RemoteBatch{System: NewLocalBatch(), PollInterval: 5 * time.Millisecond}
	res := runWith(t, b, chainGraph(t), inv)

	if res.Final["b"] != graph.Failed || res.Final["c"] != graph.Blocked {
		t.Fatalf("b = %s, c = %s", res.Final["b"], res.Final["c"])
	}
	if res.Final["d"] != graph.Completed {
		t.Fatalf("d = %s", res.Final["d"])
	}
	if err := res.Err(); !errors.Is(err, graph.ErrOperation) {
		t.Fatalf("expected ErrOperation, got %v", err)
	}
}

func TestRemoteBatch_RequiresSystem(t *testing.T) {
	s, err := New(chainGraph(t), &fakeInvoker{}, t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := (&RemoteBatch{}).Run(context.Background(), s); err == nil {
		t.Fatalf("expected missing system error")
	}
}
