package sched

import (
	"context"
	"fmt"
)

// Sequential runs one stage at a time, in topological order.
//
// A stage failure does not stop the run: stages on independent branches
// still execute, and only the failed stage's descendants are blocked.
type Sequential struct{}

func (Sequential) Name() string { return BackendSequential }

func (Sequential) Run(ctx context.Context, s *Scheduler) (*Result, error) {
	order := make([]string, 0, len(s.order))

	for {
		if err := ctx.Err(); err != nil {
			// Cooperative cancellation: nothing in flight, stop dispatching.
			return s.result(order), fmt.Errorf("run cancelled: %w", err)
		}

		s.mu.Lock()
		ready := s.nextReady()
		if len(ready) == 0 {
			allDone := s.state.AllTerminal()
			s.mu.Unlock()
			if allDone {
				return s.result(order), nil
			}
			return s.result(order), fmt.Errorf("no ready stages but run not finished")
		}
		next := ready[0]
		if err := s.dispatch(next); err != nil {
			s.mu.Unlock()
			return s.result(order), err
		}
		s.mu.Unlock()

		order = append(order, next)
		outs, runErr := s.runStage(ctx, next)

		s.mu.Lock()
		if runErr != nil {
			if s.Log != nil {
				s.Log.Error("stage failed", "stage", next, "err", runErr)
			}
			if err := s.fail(next); err != nil {
				s.mu.Unlock()
				return s.result(order), err
			}
			s.mu.Unlock()
			continue
		}
		if err := s.complete(next, outs); err != nil {
			s.mu.Unlock()
			return s.result(order), err
		}
		s.mu.Unlock()
	}
}

var _ Backend = Sequential{}
