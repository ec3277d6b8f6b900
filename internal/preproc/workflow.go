// Package preproc builds the functional preprocessing pipeline: motion
// correction against a single-band reference, registration to the
// distortion scans, field-map estimation and unwarping, registration to
// anatomy, and per-run application of the combined transforms.
//
// Every processing step delegates to an external tool; this package only
// declares the operations and wires the graph.
package preproc

import (
	"fmt"
	"strings"

	"volpipe/internal/graph"
	"volpipe/internal/session"
	"volpipe/internal/sink"
)

// Stage ids, also the per-stage working directory names.
const (
	StageRealign       = "realign"
	StageRegToDistort  = "reg2distort"
	StageMergeDistort  = "merge_distort"
	StageUnwarpDistort = "unwarp_distort"
	StageUnwarpRef     = "unwarp_ref"
	StageMeanUnwarped  = "mean_unwarped_distort"
	StageRegToAnat     = "reg2anat"
	StageConcatRigids  = "concat_rigids"
	StageCorrectRuns   = "correct_runs"
	StageMergeRuns     = "merge_runs"
)

// Build assembles the preprocessing graph and its output sink from a
// validated session record. The returned graph is not yet validated; the
// scheduler does that before running.
func Build(sess *session.Session) (*graph.Graph, *sink.Sink, error) {
	if err := sess.Validate(); err != nil {
		return nil, nil, err
	}

	encSpec, err := encodingSpec(sess.PEDim, sess.ReadoutTimes)
	if err != nil {
		return nil, nil, err
	}

	g := graph.New()

	// Realign every volume of each functional run to the reference scan.
	realign := graph.NewFanOutStage(StageRealign, realignOp(), []string{"in_file"}, false)
	if err := realign.Bind("in_file", graph.List(sess.FuncRuns...)); err != nil {
		return nil, nil, err
	}
	if err := realign.Bind("ref_file", graph.Scalar(sess.RefScan)); err != nil {
		return nil, nil, err
	}

	// Register the reference scan to the same-PE distortion scan.
	reg2dist := graph.NewStage(StageRegToDistort, registerOp())
	if err := reg2dist.Bind("in_file", graph.Scalar(sess.RefScan)); err != nil {
		return nil, nil, err
	}
	if err := reg2dist.Bind("reference", graph.Scalar(sess.DistortForward)); err != nil {
		return nil, nil, err
	}

	// Merge the two opposite-PE distortion scans for field estimation.
	mergeDist := graph.NewStage(StageMergeDistort, mergePairOp())
	if err := mergeDist.Bind("in_first", graph.Scalar(sess.DistortForward)); err != nil {
		return nil, nil, err
	}
	if err := mergeDist.Bind("in_second", graph.Scalar(sess.DistortReverse)); err != nil {
		return nil, nil, err
	}

	unwarpDist := graph.NewStage(StageUnwarpDistort, fieldEstimateOp(encSpec))
	unwarpRef := graph.NewStage(StageUnwarpRef, applyFieldOp())
	meanUnwarped := graph.NewStage(StageMeanUnwarped, temporalMeanOp())
	reg2anat := graph.NewStage(StageRegToAnat, anatRegisterOp(sess.Subject))

	// Combine each run's motion transform with the shared
	// reference-to-distortion matrix: N transforms x 1 matrix.
	concatRigids := graph.NewFanOutStage(StageConcatRigids, concatTransformOp(),
		[]string{"in_file", "in_file2"}, true)

	// Apply premat and warpfield to each realigned run.
	correctRuns := graph.NewFanOutStage(StageCorrectRuns, applyWarpOp(),
		[]string{"in_file", "ref_file", "premat"}, false)

	// Re-merge each corrected run into the canonical 4D artifact.
	mergeRuns := graph.NewFanOutStage(StageMergeRuns, mergeRunOp(),
		[]string{"in_files"}, false)

	for _, s := range []*graph.Stage{
		realign, reg2dist, mergeDist, unwarpDist, unwarpRef,
		meanUnwarped, reg2anat, concatRigids, correctRuns, mergeRuns,
	} {
		if err := g.AddStage(s); err != nil {
			return nil, nil, err
		}
	}

	conns := []graph.Connection{
		graph.Connect(StageMergeDistort, "merged_file", StageUnwarpDistort, "in_file"),

		graph.Connect(StageRegToDistort, "out_file", StageUnwarpRef, "in_files"),
		graph.Connect(StageUnwarpDistort, "out_enc_file", StageUnwarpRef, "encoding_file"),
		graph.Connect(StageUnwarpDistort, "out_fieldcoef", StageUnwarpRef, "in_topup_fieldcoef"),
		graph.Connect(StageUnwarpDistort, "out_movpar", StageUnwarpRef, "in_topup_movpar"),

		graph.Connect(StageUnwarpDistort, "out_corrected", StageMeanUnwarped, "in_file"),
		graph.Connect(StageMeanUnwarped, "out_file", StageRegToAnat, "source_file"),

		graph.ConnectCross(StageRealign, "mat_file", StageConcatRigids, "in_file"),
		graph.ConnectCross(StageRegToDistort, "out_matrix_file", StageConcatRigids, "in_file2"),

		graph.ConnectZip(StageRealign, "out_file", StageCorrectRuns, "in_file"),
		graph.ConnectZip(StageRealign, "out_file", StageCorrectRuns, "ref_file"),
		graph.ConnectZip(StageConcatRigids, "out_file", StageCorrectRuns, "premat"),
		graph.ConnectIndex(StageUnwarpDistort, "out_warps", StageCorrectRuns, "field_file", 0),

		graph.ConnectZip(StageCorrectRuns, "out_file", StageMergeRuns, "in_files"),
	}
	for _, c := range conns {
		if err := g.Connect(c); err != nil {
			return nil, nil, err
		}
	}

	out := &sink.Sink{OutDir: sess.OutDir}
	out.Add(StageMergeRuns, "merged_file", "timeseries_corrected_run{run}.nii.gz")
	out.Add(StageUnwarpDistort, "out_corrected", "distortion_corrected.nii.gz")
	out.Add(StageMeanUnwarped, "out_file", "distortion_corrected_mean.nii.gz")
	out.Add(StageUnwarpRef, "out_corrected", "sbref_reg_unwarped.nii.gz")
	out.Add(StageRegToAnat, "out_reg_file", "distort2anat_tkreg.dat")

	return g, out, nil
}

// encodingSpec renders the acquisition-parameter table for field-map
// estimation: one line per merged distortion volume, phase-encode vector
// plus readout time. Half the volumes are forward-encoded, half reversed.
func encodingSpec(peDim string, readoutTimes []float64) (string, error) {
	var fwd string
	switch peDim {
	case "x":
		fwd = "1 0 0"
	case "y":
		fwd = "0 1 0"
	case "z":
		fwd = "0 0 1"
	default:
		return "", fmt.Errorf("invalid phase-encode dimension %q", peDim)
	}
	rev := strings.ReplaceAll(fwd, "1", "-1")

	n := len(readoutTimes)
	if n == 0 {
		readoutTimes = []float64{1, 1, 1, 1, 1, 1}
		n = 6
	}
	if n%2 != 0 {
		return "", fmt.Errorf("need an even number of readout times, got %d", n)
	}

	var b strings.Builder
	for i, rt := range readoutTimes {
		dir := fwd
		if i >= n/2 {
			dir = rev
		}
		fmt.Fprintf(&b, "%s %g\n", dir, rt)
	}
	return b.String(), nil
}
