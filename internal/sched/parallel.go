package sched

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"volpipe/internal/graph"
)

// LocalParallel dispatches dependency-satisfied stages concurrently across
// a bounded worker pool. Independent branches of the graph proceed in
// parallel; each stage still executes in its own working directory, so
// concurrently running stages share no mutable state.
type LocalParallel struct {
	Workers int
}

func (LocalParallel) Name() string { return BackendLocalParallel }

type stageDone struct {
	id   string
	outs map[string]graph.Value
	err  error
}

func (b LocalParallel) Run(ctx context.Context, s *Scheduler) (*Result, error) {
	if b.Workers <= 0 {
		return nil, fmt.Errorf("worker count must be > 0")
	}

	workCh := make(chan string)
	doneCh := make(chan stageDone, b.Workers)

	eg := new(errgroup.Group)
	for i := 0; i < b.Workers; i++ {
		eg.Go(func() error {
			// In-flight stages run to completion even if the run is
			// cancelled; cancellation only stops new dispatches.
			runCtx := context.WithoutCancel(ctx)
			for id := range workCh {
				outs, err := s.runStage(runCtx, id)
				doneCh <- stageDone{id: id, outs: outs, err: err}
			}
			return nil
		})
	}
	stop := func() {
		close(workCh)
		_ = eg.Wait() // workers only return nil
	}

	order := make([]string, 0, len(s.order))
	inFlight := 0
	cancelled := false

	for {
		// Dispatch everything eligible, bounded by the worker count.
		s.mu.Lock()
		if !cancelled {
			for _, id := range s.nextReady() {
				if inFlight >= b.Workers {
					break
				}
				if err := s.dispatch(id); err != nil {
					s.mu.Unlock()
					stop()
					return s.result(order), err
				}
				order = append(order, id)
				inFlight++
				// Hand off outside the lock would race with doneCh below;
				// the send cannot block because inFlight <= Workers.
				workCh <- id
			}
		}
		idle := inFlight == 0
		finished := idle && (cancelled || s.state.AllTerminal())
		stuck := idle && !finished
		s.mu.Unlock()

		if finished {
			stop()
			res := s.result(order)
			if cancelled {
				return res, fmt.Errorf("run cancelled: %w", ctx.Err())
			}
			return res, nil
		}
		if stuck {
			stop()
			return s.result(order), fmt.Errorf("no ready stages but run not finished")
		}

		var d stageDone
		if cancelled {
			// Already winding down: just drain in-flight completions.
			d = <-doneCh
		} else {
			select {
			case <-ctx.Done():
				// Stop dispatching; in-flight stages are allowed to finish
				// and are drained through doneCh on subsequent iterations.
				cancelled = true
				continue
			case d = <-doneCh:
			}
		}
		s.mu.Lock()
		if d.err != nil {
			if s.Log != nil {
				s.Log.Error("stage failed", "stage", d.id, "err", d.err)
			}
			if err := s.fail(d.id); err != nil {
				s.mu.Unlock()
				stop()
				return s.result(order), err
			}
		} else if err := s.complete(d.id, d.outs); err != nil {
			s.mu.Unlock()
			stop()
			return s.result(order), err
		}
		inFlight--
		s.mu.Unlock()
	}
}

var _ Backend = LocalParallel{}
