package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"volpipe/internal/op"
	"volpipe/internal/preproc"
	"volpipe/internal/sched"
	"volpipe/internal/session"
	"volpipe/internal/track"
)

type Result struct {
	ExitCode  int
	RunID     string
	RunResult *sched.Result
}

// Execute maps a canonical Invocation to a pipeline execution.
//
// Responsibilities:
//   - Resolve the input scans against the data directory.
//   - Prepare OutDir using the overwrite policy (no stale files).
//   - Persist the session record before any stage runs.
//   - Record the run and its stage transitions in the tracking store.
//   - Translate engine outcomes to semantic exit codes.
func Execute(ctx context.Context, inv Invocation, log *slog.Logger) (res Result, execErr error) {
	res.ExitCode = ExitInternalError
	if log == nil {
		log = slog.Default()
	}

	sess := &session.Session{
		Subject:      inv.Subject,
		DataDir:      inv.DataDir,
		PEDim:        inv.PEDim,
		OutDir:       inv.OutDir,
		WorkDir:      inv.WorkDir,
		Backend:      inv.Backend,
		BackendArgs:  inv.BackendArgs,
		ReadoutTimes: inv.ReadoutTimes,
	}
	if err := sess.Discover(inv.Layout, inv.Runs, inv.RefScan, inv.DistortFwd, inv.DistortRev); err != nil {
		res.ExitCode = ExitConfigError
		return res, err
	}

	if err := prepareOutputDir(sess.OutDir); err != nil {
		res.ExitCode = ExitConfigError
		return res, err
	}
	if err := os.MkdirAll(sess.WorkDir, 0o755); err != nil {
		res.ExitCode = ExitConfigError
		return res, fmt.Errorf("create working directory: %w", err)
	}

	// Persist the session record first so a failed run still leaves its
	// provenance behind.
	if err := sess.Save(filepath.Join(sess.OutDir, "session.json")); err != nil {
		res.ExitCode = ExitConfigError
		return res, err
	}

	backend, err := sched.NewBackend(inv.Backend, inv.BackendArgs)
	if err != nil {
		res.ExitCode = ExitConfigError
		return res, err
	}

	g, out, err := preproc.Build(sess)
	if err != nil {
		res.ExitCode = ExitConfigError
		return res, err
	}

	scheduler, err := sched.New(g, &op.CommandInvoker{}, sess.WorkDir)
	if err != nil {
		res.ExitCode = ExitConfigError
		return res, err
	}
	scheduler.Log = log
	scheduler.Metrics = sched.NewMetrics(prometheus.NewRegistry())

	// Run tracking is best-effort: a broken store does not stop the run.
	store, err := track.Open(filepath.Join(sess.WorkDir, "runs.db"))
	if err != nil {
		log.Warn("run tracking disabled", "error", err)
		store = nil
	}
	res.RunID = uuid.NewString()
	if store != nil {
		defer func() { _ = store.Close() }()
		if err := store.BeginRun(res.RunID, sess.Subject, backend.Name()); err != nil {
			log.Warn("run tracking disabled", "error", err)
			store = nil
		} else {
			scheduler.Observer = &track.Recorder{Store: store, RunID: res.RunID}
		}
	}

	finish := func(status string) {
		if store != nil {
			_ = store.FinishRun(res.RunID, status)
		}
	}

	defer func() {
		if r := recover(); r != nil {
			res.ExitCode = ExitInternalError
			res.RunResult = nil
			execErr = fmt.Errorf("panic: %v", r)
			finish("failed")
		}
	}()

	log.Info("starting pipeline",
		"subject", sess.Subject,
		"runs", len(sess.FuncRuns),
		"backend", backend.Name(),
		"run_id", res.RunID)

	rr, err := backend.Run(ctx, scheduler)
	if err != nil {
		finish("failed")
		res.ExitCode = ExitInternalError
		return res, err
	}
	res.RunResult = rr
	if rerr := rr.Err(); rerr != nil {
		finish("failed")
		res.ExitCode = ExitPipelineFailure
		return res, rerr
	}

	if err := out.Materialize(rr.Outputs); err != nil {
		finish("failed")
		res.ExitCode = ExitInternalError
		return res, err
	}

	finish("completed")
	log.Info("pipeline completed", "run_id", res.RunID, "outdir", sess.OutDir)
	res.ExitCode = ExitSuccess
	return res, nil
}

func prepareOutputDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("output dir is empty")
	}
	clean := filepath.Clean(dir)
	if clean == "/" {
		return fmt.Errorf("refusing to operate on output dir '/'")
	}
	info, err := os.Stat(clean)
	if err != nil {
		if os.IsNotExist(err) {
			return os.MkdirAll(clean, 0o755)
		}
		return fmt.Errorf("stat output dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("output dir is not a directory: %s", clean)
	}
	entries, err := os.ReadDir(clean)
	if err != nil {
		return fmt.Errorf("read output dir: %w", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(clean, e.Name())); err != nil {
			return fmt.Errorf("clear output dir: %w", err)
		}
	}
	return nil
}
