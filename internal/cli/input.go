package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"volpipe/internal/session"
)

const (
	ExitSuccess           = 0
	ExitPipelineFailure   = 1
	ExitInvalidInvocation = 2
	ExitConfigError       = 3
	ExitInternalError     = 4
)

// Invocation is the fully canonicalized, deterministic description of a run.
//
// All paths are normalized (Clean) and all relative paths are resolved
// relative to WorkDir.
//
// NOTE: WorkDir is required and must be absolute; this prevents any
// dependency on the process current working directory.
type Invocation struct {
	Subject string
	DataDir string
	OutDir  string
	WorkDir string

	Layout     session.Layout
	Runs       []int
	RefScan    int
	DistortFwd string
	DistortRev string
	PEDim      string

	ReadoutTimes []float64

	Backend     string
	BackendArgs map[string]any

	OriginalData string
	OriginalOut  string
}

type InvocationError struct {
	ExitCode int
	Message  string
}

func (e *InvocationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func invalidInvocationf(format string, args ...any) error {
	return &InvocationError{ExitCode: ExitInvalidInvocation, Message: fmt.Sprintf(format, args...)}
}

// ParseInvocation parses CLI flags into a canonical Invocation.
//
// Determinism goals:
//   - Does not read env vars.
//   - Does not read/assume the process CWD.
//   - Requires WorkDir to be explicit and absolute.
func ParseInvocation(args []string) (Invocation, error) {
	fs := flag.NewFlagSet("volpipe", flag.ContinueOnError)
	fs.SetOutput(io.Discard) // parsing errors are returned, not printed

	var subject string
	var dataDir string
	var outDir string
	var workDir string
	var layout string
	var runs string
	var refScan int
	var distortFwd string
	var distortRev string
	var peDim string
	var readout string
	var backend string
	var backendArgs string

	fs.StringVar(&subject, "subject", "", "Subject identifier. Required.")
	fs.StringVar(&dataDir, "datadir", "", "Raw data directory. Required.")
	fs.StringVar(&outDir, "outdir", "", "Output directory. Required.")
	fs.StringVar(&workDir, "workdir", "", "Absolute working directory. Required.")
	fs.StringVar(&layout, "layout", string(session.LayoutPrisma), "Data layout: prisma|bids")
	fs.StringVar(&runs, "runs", "", "Comma-separated functional run numbers. Required.")
	fs.IntVar(&refScan, "refscan", 0, "Reference scan number. Required.")
	fs.StringVar(&distortFwd, "distort", "", "Forward-PE distortion scan (number or label). Required.")
	fs.StringVar(&distortRev, "distortrev", "", "Reversed-PE distortion scan (number or label). Required.")
	fs.StringVar(&peDim, "pedim", "y", "Phase-encode dimension: x|y|z")
	fs.StringVar(&readout, "readout-times", "", "Comma-separated per-volume readout times (optional).")
	fs.StringVar(&backend, "backend", "sequential", "Execution backend: sequential|local-parallel|remote-batch")
	fs.StringVar(&backendArgs, "backend-args", "", "Backend arguments as key:value[,key:value...]")

	// We intentionally do not accept environment-derived defaults.
	if err := fs.Parse(args); err != nil {
		return Invocation{}, invalidInvocationf("%v", err)
	}
	if fs.NArg() != 0 {
		return Invocation{}, invalidInvocationf("unexpected positional arguments: %q", strings.Join(fs.Args(), " "))
	}

	workDir = filepath.Clean(workDir)
	if workDir == "" || workDir == "." {
		return Invocation{}, invalidInvocationf("--workdir is required")
	}
	if !filepath.IsAbs(workDir) {
		return Invocation{}, invalidInvocationf("--workdir must be an absolute path (got %q)", workDir)
	}

	if strings.TrimSpace(subject) == "" {
		return Invocation{}, invalidInvocationf("--subject is required")
	}
	if dataDir == "" {
		return Invocation{}, invalidInvocationf("--datadir is required")
	}
	if outDir == "" {
		return Invocation{}, invalidInvocationf("--outdir is required")
	}
	if refScan <= 0 {
		return Invocation{}, invalidInvocationf("--refscan is required")
	}
	if distortFwd == "" || distortRev == "" {
		return Invocation{}, invalidInvocationf("--distort and --distortrev are required")
	}

	parsedLayout, err := parseLayout(layout)
	if err != nil {
		return Invocation{}, err
	}
	parsedRuns, err := parseRuns(runs)
	if err != nil {
		return Invocation{}, err
	}
	parsedReadout, err := parseReadoutTimes(readout)
	if err != nil {
		return Invocation{}, err
	}

	switch peDim {
	case "x", "y", "z":
	default:
		return Invocation{}, invalidInvocationf("invalid --pedim %q (expected x|y|z)", peDim)
	}

	kwargs, err := session.ParseBackendArgs(backendArgs)
	if err != nil {
		return Invocation{}, invalidInvocationf("%v", err)
	}

	resolvedData, err := resolveUnderWorkDir(workDir, dataDir)
	if err != nil {
		return Invocation{}, err
	}
	resolvedOut, err := resolveUnderWorkDir(workDir, outDir)
	if err != nil {
		return Invocation{}, err
	}

	return Invocation{
		Subject:      subject,
		DataDir:      resolvedData,
		OutDir:       resolvedOut,
		WorkDir:      workDir,
		Layout:       parsedLayout,
		Runs:         parsedRuns,
		RefScan:      refScan,
		DistortFwd:   distortFwd,
		DistortRev:   distortRev,
		PEDim:        peDim,
		ReadoutTimes: parsedReadout,
		Backend:      backend,
		BackendArgs:  kwargs,
		OriginalData: dataDir,
		OriginalOut:  outDir,
	}, nil
}

func parseLayout(raw string) (session.Layout, error) {
	n := strings.ToLower(strings.TrimSpace(raw))
	switch session.Layout(n) {
	case session.LayoutPrisma, session.LayoutBIDS:
		return session.Layout(n), nil
	case "":
		return "", invalidInvocationf("--layout is required")
	default:
		return "", invalidInvocationf("invalid --layout %q (expected prisma|bids)", raw)
	}
}

func parseRuns(raw string) ([]int, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, invalidInvocationf("--runs is required")
	}
	parts := strings.Split(raw, ",")
	runs := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n <= 0 {
			return nil, invalidInvocationf("invalid run number %q in --runs", p)
		}
		runs = append(runs, n)
	}
	return runs, nil
}

func parseReadoutTimes(raw string) ([]float64, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	times := make([]float64, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil || f <= 0 {
			return nil, invalidInvocationf("invalid readout time %q in --readout-times", p)
		}
		times = append(times, f)
	}
	if len(times)%2 != 0 {
		return nil, invalidInvocationf("--readout-times needs an even number of entries, got %d", len(times))
	}
	return times, nil
}

func resolveUnderWorkDir(workDir, p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", invalidInvocationf("path must not be empty")
	}
	clean := filepath.Clean(p)
	if clean == "." {
		return "", invalidInvocationf("path must not be '.'")
	}

	// If absolute, accept as-is; it is still deterministic.
	// If relative, resolve under WorkDir.
	if filepath.IsAbs(clean) {
		return clean, nil
	}

	// WorkDir is required to be absolute, so Join does not consult process CWD.
	return filepath.Clean(filepath.Join(workDir, clean)), nil
}

// ExitCodeFor extracts a semantic exit code from a ParseInvocation error.
// If the error is not a known invocation error, it returns ExitInternalError.
func ExitCodeFor(err error) int {
	var invErr *InvocationError
	if errors.As(err, &invErr) && invErr != nil {
		if invErr.ExitCode != 0 {
			return invErr.ExitCode
		}
		return ExitInvalidInvocation
	}
	if err == nil {
		return ExitSuccess
	}
	return ExitInternalError
}
