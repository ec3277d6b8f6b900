package preproc

import "volpipe/internal/op"

// Operation descriptors for the external tools the pipeline composes. Each
// is a black box to the engine: a command template plus the artifacts it is
// contracted to produce.

// realignOp motion-corrects one functional run against the reference scan.
func realignOp() op.Descriptor {
	return op.Descriptor{
		Name:        "mcflirt",
		InputSlots:  []string{"in_file", "ref_file"},
		OutputSlots: []string{"out_file", "mat_file"},
		Argv: []string{
			"mcflirt",
			"-in", "{in:in_file}",
			"-reffile", "{in:ref_file}",
			"-out", "{out:out_file}",
			"-mats", "-plots",
		},
		OutputFiles: map[string]string{
			"out_file": "realigned.nii.gz",
			"mat_file": "realigned.nii.gz.mat",
		},
	}
}

// registerOp rigidly registers the reference scan to the same-PE
// distortion scan.
func registerOp() op.Descriptor {
	return op.Descriptor{
		Name:        "flirt",
		InputSlots:  []string{"in_file", "reference"},
		OutputSlots: []string{"out_file", "out_matrix_file"},
		Params:      map[string]string{"dof": "6"},
		Argv: []string{
			"flirt",
			"-in", "{in:in_file}",
			"-ref", "{in:reference}",
			"-out", "{out:out_file}",
			"-omat", "{out:out_matrix_file}",
			"-dof", "{param:dof}",
		},
		OutputFiles: map[string]string{
			"out_file":        "sbref_reg.nii.gz",
			"out_matrix_file": "sbref2dist.mat",
		},
	}
}

// mergePairOp concatenates the two opposite-PE distortion scans in time.
func mergePairOp() op.Descriptor {
	return op.Descriptor{
		Name:        "fslmerge",
		InputSlots:  []string{"in_first", "in_second"},
		OutputSlots: []string{"merged_file"},
		Params:      map[string]string{"dimension": "t"},
		Argv: []string{
			"fslmerge", "-{param:dimension}",
			"{out:merged_file}",
			"{in:in_first}", "{in:in_second}",
		},
		OutputFiles: map[string]string{"merged_file": "distortion_merged.nii.gz"},
	}
}

// fieldEstimateOp estimates the susceptibility warpfield from the merged
// opposite-PE scans. encSpec is the acquisition-parameter table content,
// materialized next to the tool before it runs.
func fieldEstimateOp(encSpec string) op.Descriptor {
	return op.Descriptor{
		Name:        "topup",
		InputSlots:  []string{"in_file"},
		OutputSlots: []string{"out_fieldcoef", "out_movpar", "out_enc_file", "out_corrected", "out_warps"},
		Params:      map[string]string{"config": "b02b0.cnf"},
		Argv: []string{
			"topup",
			"--imain={in:in_file}",
			"--datain=acqparams.txt",
			"--config={param:config}",
			"--out=topup",
			"--iout={out:out_corrected}",
			"--dfout=warpfield",
		},
		OutputFiles: map[string]string{
			"out_fieldcoef": "topup_fieldcoef.nii.gz",
			"out_movpar":    "topup_movpar.txt",
			"out_enc_file":  "acqparams.txt",
			"out_corrected": "distortion_corrected.nii.gz",
		},
		OutputGlobs: map[string]string{"out_warps": "warpfield_*.nii.gz"},
		AuxFiles:    map[string]string{"acqparams.txt": encSpec},
	}
}

// applyFieldOp unwarps the registered reference scan with the estimated
// field.
func applyFieldOp() op.Descriptor {
	return op.Descriptor{
		Name:        "applytopup",
		InputSlots:  []string{"in_files", "encoding_file", "in_topup_fieldcoef", "in_topup_movpar"},
		OutputSlots: []string{"out_corrected"},
		Params:      map[string]string{"in_index": "1", "method": "jac"},
		Argv: []string{
			"applytopup",
			"--imain={in:in_files}",
			"--datain={in:encoding_file}",
			"--inindex={param:in_index}",
			"--topup={in:in_topup_fieldcoef}",
			"--method={param:method}",
			"--out={out:out_corrected}",
		},
		OutputFiles: map[string]string{"out_corrected": "sbref_unwarped.nii.gz"},
	}
}

// temporalMeanOp averages the unwarped distortion scans over time.
func temporalMeanOp() op.Descriptor {
	return op.Descriptor{
		Name:        "fslmaths",
		InputSlots:  []string{"in_file"},
		OutputSlots: []string{"out_file"},
		Argv: []string{
			"fslmaths", "{in:in_file}", "-Tmean", "{out:out_file}",
		},
		OutputFiles: map[string]string{"out_file": "distortion_mean.nii.gz"},
	}
}

// anatRegisterOp registers the mean unwarped scan to the subject's
// anatomy. Computes but does not apply the registration.
func anatRegisterOp(subject string) op.Descriptor {
	return op.Descriptor{
		Name:        "bbregister",
		InputSlots:  []string{"source_file"},
		OutputSlots: []string{"out_reg_file", "out_fsl_file"},
		Params: map[string]string{
			"subject_id":    subject,
			"contrast_type": "t2",
			"init":          "fsl",
		},
		Argv: []string{
			"bbregister",
			"--s", "{param:subject_id}",
			"--mov", "{in:source_file}",
			"--reg", "{out:out_reg_file}",
			"--fslmat", "{out:out_fsl_file}",
			"--{param:contrast_type}",
			"--init-{param:init}",
		},
		OutputFiles: map[string]string{
			"out_reg_file": "distort2anat_tkreg.dat",
			"out_fsl_file": "distort2anat_flirt.mat",
		},
	}
}

// concatTransformOp composes one run's motion transform with the shared
// reference-to-distortion matrix.
func concatTransformOp() op.Descriptor {
	return op.Descriptor{
		Name:        "convert_xfm",
		InputSlots:  []string{"in_file", "in_file2"},
		OutputSlots: []string{"out_file"},
		Argv: []string{
			"convert_xfm",
			"-omat", "{out:out_file}",
			"-concat", "{in:in_file2}", "{in:in_file}",
		},
		OutputFiles: map[string]string{"out_file": "combined.mat"},
	}
}

// applyWarpOp applies the combined rigid transform and warpfield to one
// realigned run.
func applyWarpOp() op.Descriptor {
	return op.Descriptor{
		Name:        "applywarp",
		InputSlots:  []string{"in_file", "ref_file", "premat", "field_file"},
		OutputSlots: []string{"out_file"},
		Params:      map[string]string{"interp": "spline"},
		Argv: []string{
			"applywarp",
			"--in={in:in_file}",
			"--ref={in:ref_file}",
			"--premat={in:premat}",
			"--warp={in:field_file}",
			"--interp={param:interp}",
			"--rel",
			"--out={out:out_file}",
		},
		OutputFiles: map[string]string{"out_file": "corrected.nii.gz"},
	}
}

// mergeRunOp writes one run's corrected series as the canonical 4D
// artifact.
func mergeRunOp() op.Descriptor {
	return op.Descriptor{
		Name:        "fslmerge",
		InputSlots:  []string{"in_files"},
		OutputSlots: []string{"merged_file"},
		Params:      map[string]string{"dimension": "t"},
		Argv: []string{
			"fslmerge", "-{param:dimension}",
			"{out:merged_file}",
			"{in:in_files}",
		},
		OutputFiles: map[string]string{"merged_file": "timeseries_corrected.nii.gz"},
	}
}
