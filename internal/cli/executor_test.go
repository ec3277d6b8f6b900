package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"volpipe/internal/session"
)

func fixtureDataDir(t *testing.T) string {
	t.Helper()
	data := t.TempDir()
	for _, d := range []string{"04+func_run1", "05+func_run2", "03+sbref", "08+se_ap", "09+se_pa"} {
		dir := filepath.Join(data, d)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := os.WriteFile(filepath.Join(dir, "scan.nii"), []byte("nifti"), 0o644); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	return data
}

func fixtureInvocation(t *testing.T) Invocation {
	t.Helper()
	return Invocation{
		Subject:    "sub-01",
		DataDir:    fixtureDataDir(t),
		OutDir:     filepath.Join(t.TempDir(), "out"),
		WorkDir:    t.TempDir(),
		Layout:     session.LayoutPrisma,
		Runs:       []int{4, 5},
		RefScan:    3,
		DistortFwd: "8",
		DistortRev: "9",
		PEDim:      "y",
		Backend:    "sequential",
	}
}

func TestRun_InvalidInvocation(t *testing.T) {
	res, err := Run(context.Background(), []string{"-subject", "sub-01"}, nil)
	if err == nil {
		t.Fatalf("expected error")
	}
	if res.ExitCode != ExitInvalidInvocation {
		t.Fatalf("exit code = %d, want %d", res.ExitCode, ExitInvalidInvocation)
	}
}

func TestExecute_MissingScansIsConfigError(t *testing.T) {
	inv := fixtureInvocation(t)
	inv.Runs = []int{4, 5, 6} // run 6 does not exist

	res, err := Execute(context.Background(), inv, nil)
	if err == nil {
		t.Fatalf("expected error")
	}
	if res.ExitCode != ExitConfigError {
		t.Fatalf("exit code = %d, want %d", res.ExitCode, ExitConfigError)
	}
}

func TestExecute_UnknownBackendIsConfigError(t *testing.T) {
	inv := fixtureInvocation(t)
	inv.Backend = "slurm"

	res, err := Execute(context.Background(), inv, nil)
	if err == nil {
		t.Fatalf("expected error")
	}
	if res.ExitCode != ExitConfigError {
		t.Fatalf("exit code = %d, want %d", res.ExitCode, ExitConfigError)
	}

	// The session record is persisted before backend selection, so even a
	// misconfigured run leaves its provenance behind.
	sess, err := session.Load(filepath.Join(inv.OutDir, "session.json"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess.Subject != "sub-01" || len(sess.FuncRuns) != 2 {
		t.Fatalf("persisted session = %+v", sess)
	}
}

func TestExecute_ClearsStaleOutputs(t *testing.T) {
	inv := fixtureInvocation(t)
	if err := os.MkdirAll(inv.OutDir, 0o755); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stale := filepath.Join(inv.OutDir, "stale.nii.gz")
	if err := os.WriteFile(stale, []byte("old"), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	inv.Backend = "slurm" // stop after output preparation

	if _, err := Execute(context.Background(), inv, nil); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("stale output survived: %v", err)
	}
}
