package cli

import (
	"errors"
	"reflect"
	"testing"

	"volpipe/internal/session"
)

func validArgs() []string {
	return []string{
		"-subject", "sub-01",
		"-datadir", "raw",
		"-outdir", "/results/sub-01",
		"-workdir", "/scratch/sub-01",
		"-runs", "4,5,6,7",
		"-refscan", "3",
		"-distort", "8",
		"-distortrev", "9",
	}
}

func TestParseInvocation_Canonicalizes(t *testing.T) {
	inv, err := ParseInvocation(validArgs())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if inv.Subject != "sub-01" {
		t.Fatalf("subject = %q", inv.Subject)
	}
	// Relative paths resolve under the working directory.
	if inv.DataDir != "/scratch/sub-01/raw" {
		t.Fatalf("datadir = %q", inv.DataDir)
	}
	// Absolute paths pass through.
	if inv.OutDir != "/results/sub-01" {
		t.Fatalf("outdir = %q", inv.OutDir)
	}
	if !reflect.DeepEqual(inv.Runs, []int{4, 5, 6, 7}) {
		t.Fatalf("runs = %v", inv.Runs)
	}
	if inv.Layout != session.LayoutPrisma {
		t.Fatalf("layout = %q", inv.Layout)
	}
	if inv.PEDim != "y" {
		t.Fatalf("pedim = %q", inv.PEDim)
	}
	if inv.Backend != "sequential" {
		t.Fatalf("backend = %q", inv.Backend)
	}
}

func TestParseInvocation_BackendArgs(t *testing.T) {
	args := append(validArgs(),
		"-backend", "local-parallel",
		"-backend-args", "n_workers:4,queue:long")
	inv, err := ParseInvocation(args)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inv.BackendArgs["n_workers"] != 4 || inv.BackendArgs["queue"] != "long" {
		t.Fatalf("backend args = %v", inv.BackendArgs)
	}
}

func TestParseInvocation_ReadoutTimes(t *testing.T) {
	inv, err := ParseInvocation(append(validArgs(), "-readout-times", "0.05,0.05,0.06,0.06"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(inv.ReadoutTimes, []float64{0.05, 0.05, 0.06, 0.06}) {
		t.Fatalf("readout times = %v", inv.ReadoutTimes)
	}

	if _, err := ParseInvocation(append(validArgs(), "-readout-times", "0.05,0.05,0.06")); err == nil {
		t.Fatalf("expected odd-count error")
	}
	if _, err := ParseInvocation(append(validArgs(), "-readout-times", "fast")); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestParseInvocation_Rejections(t *testing.T) {
	drop := func(flag string) []string {
		args := validArgs()
		out := args[:0:0]
		for i := 0; i < len(args); i += 2 {
			if args[i] == flag {
				continue
			}
			out = append(out, args[i], args[i+1])
		}
		return out
	}

	cases := map[string][]string{
		"missing workdir":        drop("-workdir"),
		"missing subject":        drop("-subject"),
		"missing runs":           drop("-runs"),
		"missing refscan":        drop("-refscan"),
		"missing distort":        drop("-distort"),
		"relative workdir":       append(drop("-workdir"), "-workdir", "scratch"),
		"bad run number":         append(drop("-runs"), "-runs", "4,five"),
		"bad layout":             append(validArgs(), "-layout", "dicom"),
		"bad pedim":              append(validArgs(), "-pedim", "t"),
		"unknown flag":           append(validArgs(), "-cluster", "x"),
		"positional args":        append(validArgs(), "stray"),
		"malformed backend-args": append(validArgs(), "-backend-args", "a=b"),
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseInvocation(args)
			if err == nil {
				t.Fatalf("expected error")
			}
			var invErr *InvocationError
			if !errors.As(err, &invErr) {
				t.Fatalf("expected InvocationError, got %T", err)
			}
			if invErr.ExitCode != ExitInvalidInvocation {
				t.Fatalf("exit code = %d", invErr.ExitCode)
			}
		})
	}
}

func TestExitCodeFor(t *testing.T) {
	if got := ExitCodeFor(nil); got != ExitSuccess {
		t.Fatalf("nil error = %d", got)
	}
	if got := ExitCodeFor(invalidInvocationf("bad")); got != ExitInvalidInvocation {
		t.Fatalf("invocation error = %d", got)
	}
	if got := ExitCodeFor(errors.New("boom")); got != ExitInternalError {
		t.Fatalf("unknown error = %d", got)
	}
}
