package sched

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"volpipe/internal/graph"
	"volpipe/internal/op"
)

// wideGraph builds one source fanning into n independent middle stages,
// all feeding a final join.
func wideGraph(t *testing.T, n int) *graph.Graph {
	t.Helper()
	g := graph.New()
	if err := g.AddStage(graph.NewStage("src", testOp("op-src", nil, []string{"out"}))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	joinIns := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id := string(rune('a' + i))
		if err := g.AddStage(graph.NewStage(id, testOp("op-"+id, []string{"in"}, []string{"out"}))); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := g.Connect(graph.Connect("src", "out", id, "in")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		joinIns = append(joinIns, "in_"+id)
	}
	if err := g.AddStage(graph.NewStage("join", testOp("op-join", joinIns, []string{"out"}))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < n; i++ {
		id := string(rune('a' + i))
		if err := g.Connect(graph.Connect(id, "out", "join", "in_"+id)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	return g
}

func TestLocalParallel_CompletesWideGraph(t *testing.T) {
	inv := &fakeInvoker{}
	res := runWith(t, LocalParallel{Workers: 3}, wideGraph(t, 5), inv)

	if err := res.Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Order) != 7 {
		t.Fatalf("dispatched %d stages, want 7", len(res.Order))
	}
	if res.Order[0] != "src" || res.Order[len(res.Order)-1] != "join" {
		t.Fatalf("order = %v", res.Order)
	}
}

func TestLocalParallel_BoundsConcurrency(t *testing.T) {
	var cur, peak atomic.Int32
	inv := &gateInvoker{
		body: func() {
			n := cur.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			cur.Add(-1)
		},
	}

	res := runWith(t, LocalParallel{Workers: 2}, wideGraph(t, 6), inv)
	if err := res.Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p := peak.Load(); p > 2 {
		t.Fatalf("observed %d concurrent stages, want <= 2", p)
	}
}

func TestLocalParallel_FailureBlocksDescendants(t *testing.T) {
	inv := &fakeInvoker{fail: map[string]bool{"op-b": true}}
	res := runWith(t, LocalParallel{Workers: 2}, chainGraph(t), inv)

	if res.Final["b"] != graph.Failed || res.Final["c"] != graph.Blocked {
		t.Fatalf("b = %s, c = %s", res.Final["b"], res.Final["c"])
	}
	if res.Final["d"] != graph.Completed {
		t.Fatalf("d = %s, want COMPLETED", res.Final["d"])
	}
	if err := res.Err(); !errors.Is(err, graph.ErrOperation) {
		t.Fatalf("expected ErrOperation, got %v", err)
	}
}

func TestLocalParallel_RejectsZeroWorkers(t *testing.T) {
	s, err := New(chainGraph(t), &fakeInvoker{}, t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := (LocalParallel{}).Run(context.Background(), s); err == nil {
		t.Fatalf("expected worker count error")
	}
}

func TestLocalParallel_CancellationStopsNewDispatches(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{}, 16)
	inv := &gateInvoker{body: func() {
		started <- struct{}{}
		time.Sleep(50 * time.Millisecond)
	}}

	s, err := New(chainGraph(t), inv, t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	go func() {
		<-started
		cancel()
	}()

	res, err := (LocalParallel{Workers: 2}).Run(ctx, s)
	if err == nil {
		t.Fatalf("expected cancellation error")
	}
	// Whatever was in flight when the run was cancelled still finished.
	for id, st := range res.Final {
		if st == graph.Running {
			t.Fatalf("stage %q left RUNNING after cancellation", id)
		}
	}
}

// gateInvoker runs a caller-supplied body per invocation, then reports
// success with synthesized outputs.
type gateInvoker struct {
	body func()
}

func (g *gateInvoker) Invoke(ctx context.Context, d op.Descriptor, inputs map[string]string, workDir string) (map[string][]string, error) {
	if g.body != nil {
		g.body()
	}
	f := &fakeInvoker{}
	return f.Invoke(ctx, d, inputs, workDir)
}
