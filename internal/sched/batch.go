package sched

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"volpipe/internal/graph"
)

// JobStatus is the externally observed state of a submitted batch job.
type JobStatus string

const (
	JobQueued    JobStatus = "QUEUED"
	JobRunning   JobStatus = "RUNNING"
	JobSucceeded JobStatus = "SUCCEEDED"
	JobFailed    JobStatus = "FAILED"
)

// Job is one stage execution handed to a batch system. Execute carries the
// whole invocation; the batch system only controls when and where it runs.
type Job struct {
	ID      string
	StageID string
	Execute func(ctx context.Context) error
}

// BatchSystem abstracts an external batch scheduler. Submissions are
// asynchronous; completion is observed by polling Status.
type BatchSystem interface {
	Submit(ctx context.Context, j Job) error
	Status(ctx context.Context, jobID string) (JobStatus, error)
}

// LocalBatch is an in-process batch system: each job runs on its own
// goroutine. It stands in for a real cluster submission client and is the
// default system for the remote-batch backend.
type LocalBatch struct {
	mu     sync.Mutex
	status map[string]JobStatus
}

// NewLocalBatch creates an empty in-process batch system.
func NewLocalBatch() *LocalBatch {
	return &LocalBatch{status: make(map[string]JobStatus)}
}

func (b *LocalBatch) Submit(ctx context.Context, j Job) error {
	if j.ID == "" {
		return fmt.Errorf("job id is required")
	}
	b.mu.Lock()
	if _, dup := b.status[j.ID]; dup {
		b.mu.Unlock()
		return fmt.Errorf("duplicate job id %q", j.ID)
	}
	b.status[j.ID] = JobRunning
	b.mu.Unlock()

	go func() {
		err := j.Execute(ctx)
		b.mu.Lock()
		if err != nil {
			b.status[j.ID] = JobFailed
		} else {
			b.status[j.ID] = JobSucceeded
		}
		b.mu.Unlock()
	}()
	return nil
}

func (b *LocalBatch) Status(_ context.Context, jobID string) (JobStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.status[jobID]
	if !ok {
		return "", fmt.Errorf("unknown job id %q", jobID)
	}
	return st, nil
}

// RemoteBatch submits each stage as an independent job to a batch system
// and polls for completion before releasing dependents. The engine itself
// stays single-threaded, tracking job handles only.
//
// Job identifiers embed a fresh uuid, so concurrent pipeline runs sharing
// one batch system never collide.
type RemoteBatch struct {
	System       BatchSystem
	PollInterval time.Duration
}

func (*RemoteBatch) Name() string { return BackendRemoteBatch }

func (b *RemoteBatch) Run(ctx context.Context, s *Scheduler) (*Result, error) {
	if b.System == nil {
		return nil, fmt.Errorf("no batch system configured")
	}
	poll := b.PollInterval
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	runID := uuid.NewString()

	// Stage outputs come back from job goroutines through this map; the
	// scheduler state itself is only touched on the polling thread.
	var resMu sync.Mutex
	results := make(map[string]map[string]graph.Value)

	inFlight := make(map[string]string) // stage id -> job id
	order := make([]string, 0, len(s.order))
	cancelled := false

	for {
		s.mu.Lock()
		if !cancelled {
			for _, id := range s.nextReady() {
				if err := s.dispatch(id); err != nil {
					s.mu.Unlock()
					return s.result(order), err
				}
				order = append(order, id)

				stageID := id
				job := Job{
					ID:      fmt.Sprintf("%s-%s-%s", runID, stageID, uuid.NewString()),
					StageID: stageID,
					Execute: func(jctx context.Context) error {
						outs, err := s.runStage(jctx, stageID)
						if err != nil {
							return err
						}
						resMu.Lock()
						results[stageID] = outs
						resMu.Unlock()
						return nil
					},
				}
				inFlight[stageID] = job.ID
				// Submitted jobs run to completion even if the run is
				// cancelled; cancellation only stops new submissions.
				if err := b.System.Submit(context.WithoutCancel(ctx), job); err != nil {
					// Submission itself failed; the stage never ran.
					delete(inFlight, stageID)
					if ferr := s.fail(stageID); ferr != nil {
						s.mu.Unlock()
						return s.result(order), ferr
					}
				}
			}
		}
		idle := len(inFlight) == 0
		finished := idle && (cancelled || s.state.AllTerminal())
		stuck := idle && !finished
		s.mu.Unlock()

		if finished {
			res := s.result(order)
			if cancelled {
				return res, fmt.Errorf("run cancelled: %w", ctx.Err())
			}
			return res, nil
		}
		if stuck {
			return s.result(order), fmt.Errorf("no ready stages but run not finished")
		}

		if !cancelled {
			select {
			case <-ctx.Done():
				// Let submitted jobs finish; stop submitting new ones.
				cancelled = true
			case <-time.After(poll):
			}
		} else {
			time.Sleep(poll)
		}

		// Poll every in-flight job. Stage order here is deterministic via
		// the topological order.
		for _, stageID := range s.order {
			jobID, ok := inFlight[stageID]
			if !ok {
				continue
			}
			st, err := b.System.Status(context.Background(), jobID)
			if err != nil {
				return s.result(order), fmt.Errorf("polling job %q: %w", jobID, err)
			}
			switch st {
			case JobSucceeded:
				delete(inFlight, stageID)
				resMu.Lock()
				outs := results[stageID]
				resMu.Unlock()
				s.mu.Lock()
				if err := s.complete(stageID, outs); err != nil {
					s.mu.Unlock()
					return s.result(order), err
				}
				s.mu.Unlock()
			case JobFailed:
				delete(inFlight, stageID)
				s.mu.Lock()
				if s.Log != nil {
					s.Log.Error("stage failed", "stage", stageID, "job", jobID)
				}
				if err := s.fail(stageID); err != nil {
					s.mu.Unlock()
					return s.result(order), err
				}
				s.mu.Unlock()
			default:
				// Still queued or running.
			}
		}
	}
}

var _ Backend = (*RemoteBatch)(nil)
