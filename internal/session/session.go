// Package session holds the configuration record of one preprocessing run:
// the resolved input scans, the output and working locations, and the
// execution backend selection.
//
// The record is assembled once, before graph construction, and persisted to
// the output directory for provenance. Nothing reads it back during the
// run.
package session

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// Session is the configuration record for one run.
type Session struct {
	Subject string `json:"subject"`
	DataDir string `json:"data"`

	// Resolved input scan paths.
	FuncRuns       []string `json:"epis"`
	RefScan        string   `json:"sbref"`
	DistortForward string   `json:"distort_PE"`
	DistortReverse string   `json:"distort_revPE"`

	// PEDim is the phase-encode dimension: x, y, or z.
	PEDim string `json:"PE_dim"`

	OutDir  string `json:"out"`
	WorkDir string `json:"working_dir"`

	Backend     string         `json:"plugin"`
	BackendArgs map[string]any `json:"plugin_args"`

	// ReadoutTimes are the per-volume readout times handed to field-map
	// estimation, one per merged distortion volume. Configurable rather
	// than fixed: equal values are the common acquisition but not a given.
	ReadoutTimes []float64 `json:"readout_times"`
}

// Validate checks the record is complete enough to build a pipeline.
func (s *Session) Validate() error {
	var errs []error
	if strings.TrimSpace(s.Subject) == "" {
		errs = append(errs, errors.New("subject is required"))
	}
	if len(s.FuncRuns) == 0 {
		errs = append(errs, errors.New("at least one functional run is required"))
	}
	if s.RefScan == "" {
		errs = append(errs, errors.New("reference scan is required"))
	}
	if s.DistortForward == "" || s.DistortReverse == "" {
		errs = append(errs, errors.New("both distortion scans are required"))
	}
	switch s.PEDim {
	case "x", "y", "z":
	default:
		errs = append(errs, fmt.Errorf("invalid phase-encode dimension %q", s.PEDim))
	}
	if s.OutDir == "" {
		errs = append(errs, errors.New("output directory is required"))
	}
	if s.WorkDir == "" {
		errs = append(errs, errors.New("working directory is required"))
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

// ParseBackendArgs parses a flat "key:value[,key:value...]" string into the
// backend keyword-argument map. Values are coerced to int, then float, then
// left as text.
func ParseBackendArgs(raw string) (map[string]any, error) {
	args := make(map[string]any)
	if strings.TrimSpace(raw) == "" {
		return args, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(pair, ":")
		if !ok || strings.Contains(v, ":") {
			return nil, fmt.Errorf("backend arg %q: want exactly one colon per entry", pair)
		}
		if n, err := strconv.Atoi(v); err == nil {
			args[k] = n
			continue
		}
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			args[k] = f
			continue
		}
		args[k] = v
	}
	return args, nil
}

// Layout identifies how the raw data directory is structured.
type Layout string

const (
	// LayoutPrisma is data straight off the scanner: one NN+series
	// directory per scan, each holding a single volume file.
	LayoutPrisma Layout = "prisma"

	// LayoutBIDS is a BIDS session directory with func/ and fmap/
	// subdirectories.
	LayoutBIDS Layout = "bids"
)

// Discover resolves scan numbers (prisma) or phase-encode labels (bids)
// against the data directory and fills the session's input paths.
//
// distortFwd and distortRev are scan numbers for the prisma layout and
// two-letter phase-encode labels (e.g. AP, PA) for bids.
func (s *Session) Discover(layout Layout, runs []int, refScan int, distortFwd, distortRev string) error {
	switch layout {
	case LayoutPrisma:
		return s.discoverPrisma(runs, refScan, distortFwd, distortRev)
	case LayoutBIDS:
		return s.discoverBIDS(runs, refScan, distortFwd, distortRev)
	default:
		return fmt.Errorf("unknown data layout %q", layout)
	}
}

func (s *Session) discoverPrisma(runs []int, refScan int, distortFwd, distortRev string) error {
	pattern := func(n int) string {
		return filepath.Join(s.DataDir, fmt.Sprintf("%02d+*", n), "*.nii")
	}

	s.FuncRuns = s.FuncRuns[:0]
	for _, r := range runs {
		p, err := globOne(pattern(r))
		if err != nil {
			return fmt.Errorf("functional run %d: %w", r, err)
		}
		s.FuncRuns = append(s.FuncRuns, p)
	}

	var err error
	if s.RefScan, err = globOne(pattern(refScan)); err != nil {
		return fmt.Errorf("reference scan %d: %w", refScan, err)
	}

	// Prisma layouts address distortion scans by number too.
	fwd, err := strconv.Atoi(distortFwd)
	if err != nil {
		return fmt.Errorf("distortion scan %q: want a scan number in the prisma layout", distortFwd)
	}
	rev, err := strconv.Atoi(distortRev)
	if err != nil {
		return fmt.Errorf("distortion scan %q: want a scan number in the prisma layout", distortRev)
	}
	if s.DistortForward, err = globOne(pattern(fwd)); err != nil {
		return fmt.Errorf("distortion scan %d: %w", fwd, err)
	}
	if s.DistortReverse, err = globOne(pattern(rev)); err != nil {
		return fmt.Errorf("reversed distortion scan %d: %w", rev, err)
	}
	return nil
}

func (s *Session) discoverBIDS(runs []int, refScan int, distortFwd, distortRev string) error {
	funcPattern := func(n int, suffix string) string {
		return filepath.Join(s.DataDir, "func", fmt.Sprintf("*-%02d_%s.nii", n, suffix))
	}
	fmapPattern := func(label string) string {
		return filepath.Join(s.DataDir, "fmap", fmt.Sprintf("*-%s_epi.nii", label))
	}

	s.FuncRuns = s.FuncRuns[:0]
	for _, r := range runs {
		p, err := globOne(funcPattern(r, "bold"))
		if err != nil {
			return fmt.Errorf("functional run %d: %w", r, err)
		}
		s.FuncRuns = append(s.FuncRuns, p)
	}

	var err error
	if s.RefScan, err = globOne(funcPattern(refScan, "sbref")); err != nil {
		return fmt.Errorf("reference scan %d: %w", refScan, err)
	}
	if s.DistortForward, err = globOne(fmapPattern(distortFwd)); err != nil {
		return fmt.Errorf("distortion scan %q: %w", distortFwd, err)
	}
	if s.DistortReverse, err = globOne(fmapPattern(distortRev)); err != nil {
		return fmt.Errorf("reversed distortion scan %q: %w", distortRev, err)
	}
	return nil
}

func globOne(pattern string) (string, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no file matches %q", pattern)
	}
	return matches[0], nil
}
