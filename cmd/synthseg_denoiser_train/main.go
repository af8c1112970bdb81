// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// synthseg_denoiser_train trains a label-map denoiser: a UNet mapping noisy
// anatomical segmentations to their clean counterparts, fed by pairs that are
// augmented on the fly (random deformation, cropping, erosion/dilation).
//
// Minimal usage:
//
//	synthseg_denoiser_train --inputs 'noisy/*.npy' --targets 'clean/*.npy' --model_dir ~/denoiser
//
// Checkpoints land in <model_dir>/wl2 and <model_dir>/dice, one per epoch.
package main

import (
	"flag"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/synthseg/augment"
	"github.com/gomlx/synthseg/denoiser"
	"github.com/gomlx/synthseg/labelmap"

	_ "github.com/gomlx/gomlx/backends/default"
)

var (
	flagInputs   = flag.String("inputs", "", "Noisy label maps: comma-separated paths or glob patterns (.npy/.npz). Required.")
	flagTargets  = flag.String("targets", "", "Clean label maps, paired with --inputs by sorted order. Required.")
	flagModelDir = flag.String("model_dir", "", "Directory that receives checkpoints, one subdirectory per training phase. Required.")

	flagInputLabels  = flag.String("input_labels", "", "Optional .npy/.npz listing the input label values; when empty the input volumes are scanned.")
	flagTargetLabels = flag.String("target_labels", "", "Optional .npy/.npz listing the target label values; defaults to the input catalog.")
	flagSubjectsProb = flag.String("subjects_prob", "", "Optional .npy/.npz with one sampling weight per pair; uniform when empty.")
	flagCheckpoint   = flag.String("checkpoint", "", "Optional checkpoint directory whose weights seed the first trained phase.")
	flagSeed         = flag.Int64("seed", 0, "Seed for sampling and augmentation randomness; 0 draws a fresh one.")

	flagBatchSize     = flag.Int("batch_size", 1, "Number of pairs per training step.")
	flagOutputShape   = flag.String("output_shape", "", "Crop shape, e.g. '160' or '160,160,192'; empty keeps the native shape.")
	flagCacheFraction = flag.Float64("cache_fraction", 0.5, "Fraction of system RAM the volume cache may use; 0 disables preloading.")

	flagScaling       = flag.Float64("scaling", 0.2, "Half-range of the random scaling around 1; 0 disables it.")
	flagRotation      = flag.Float64("rotation", 15, "Half-range of the random rotation in degrees; 0 disables it.")
	flagShearing      = flag.Float64("shearing", 0.012, "Half-range of the random shearing; 0 disables it.")
	flagTranslation   = flag.Float64("translation", 0, "Half-range of the random translation in voxels; 0 disables it.")
	flagNonlinStd     = flag.Float64("nonlin_std", 3, "Cap on the elastic deformation standard deviation; 0 disables it.")
	flagNonlinScale   = flag.Float64("nonlin_scale", 0.04, "Resolution of the elastic field relative to the volume shape.")
	flagProbMorph     = flag.Float64("prob_erosion_dilation", 0.3, "Probability of eroding or dilating the noisy branch.")
	flagMinMorph      = flag.Int("min_erosion_dilation", 4, "Smallest erosion/dilation radius.")
	flagMaxMorph      = flag.Int("max_erosion_dilation", 5, "Largest erosion/dilation radius.")

	flagLevels     = flag.Int("levels", 5, "Number of UNet resolution levels.")
	flagConvs      = flag.Int("conv_per_level", 2, "Convolutions per UNet level.")
	flagKernelSize = flag.Int("kernel_size", 5, "Convolution kernel size.")
	flagFeatures   = flag.Int("features", 16, "Feature maps of the first level.")
	flagFeatMult   = flag.Int("feat_mult", 2, "Feature multiplier per level down.")
	flagActivation = flag.String("activation", "elu", "Activation of the convolution blocks.")
	flagSkipN      = flag.Int("skip_n_concat", 2, "How many of the topmost skip connections to keep.")
	flagBatchNorm  = flag.Bool("batch_norm", true, "Whether convolution blocks use batch normalization.")

	flagLearningRate  = flag.Float64("learning_rate", 1e-4, "Adam learning rate of both phases.")
	flagWL2Epochs     = flag.Int("wl2_epochs", 1, "Epochs of the weighted-L2 warm-up phase; 0 skips it.")
	flagDiceEpochs    = flag.Int("dice_epochs", 50, "Epochs of the soft-Dice phase; 0 skips it.")
	flagStepsPerEpoch = flag.Int("steps_per_epoch", 10000, "Steps per epoch, which is also the checkpointing period.")
)

func main() {
	ctx := context.New()
	settings := commandline.CreateContextSettingsFlag(ctx, "")
	klog.InitFlags(nil)
	flag.Parse()
	if err := exceptions.TryCatch[error](func() { run(ctx, *settings) }); err != nil {
		klog.Fatalf("Failed: %+v", err)
	}
}

func run(ctx *context.Context, settings string) {
	must.M1(commandline.ParseContextSettings(ctx, settings))

	inputs := must.M1(expandPaths("inputs", *flagInputs))
	targets := must.M1(expandPaths("targets", *flagTargets))

	cfg := denoiser.NewConfig(inputs, targets, must.M1(fsutil.ReplaceTildeInDir(*flagModelDir)))
	cfg.InputLabels = labelmap.Spec{Path: *flagInputLabels}
	cfg.TargetLabels = labelmap.Spec{Path: *flagTargetLabels}
	cfg.SubjectsProb = labelmap.WeightsSpec{Path: *flagSubjectsProb}
	cfg.Checkpoint = must.M1(fsutil.ReplaceTildeInDir(*flagCheckpoint))
	cfg.Seed = *flagSeed

	cfg.BatchSize = *flagBatchSize
	cfg.OutputShape = must.M1(parseDims(*flagOutputShape))
	cfg.CacheFraction = *flagCacheFraction

	cfg.ScalingBounds = halfRangeOrDisabled(*flagScaling)
	cfg.RotationBounds = halfRangeOrDisabled(*flagRotation)
	cfg.ShearingBounds = halfRangeOrDisabled(*flagShearing)
	cfg.TranslationBounds = halfRangeOrDisabled(*flagTranslation)
	cfg.NonlinStd = *flagNonlinStd
	cfg.NonlinScale = *flagNonlinScale
	cfg.ProbErosionDilation = *flagProbMorph
	cfg.MinErosionDilation = *flagMinMorph
	cfg.MaxErosionDilation = *flagMaxMorph

	cfg.Levels = *flagLevels
	cfg.ConvsPerLevel = *flagConvs
	cfg.KernelSize = *flagKernelSize
	cfg.Features = *flagFeatures
	cfg.FeatureMultiplier = *flagFeatMult
	cfg.Activation = *flagActivation
	cfg.SkipNConcatenations = *flagSkipN
	cfg.BatchNorm = *flagBatchNorm

	cfg.LearningRate = *flagLearningRate
	cfg.WL2Epochs = *flagWL2Epochs
	cfg.DiceEpochs = *flagDiceEpochs
	cfg.StepsPerEpoch = *flagStepsPerEpoch

	cfg.Backend = backends.MustNew()
	cfg.Context = ctx
	must.M(denoiser.Train(cfg))
}

// expandPaths splits a comma-separated flag value and expands glob patterns,
// keeping the expansion of each pattern in sorted order so that --inputs and
// --targets pair up.
func expandPaths(flagName, value string) ([]string, error) {
	var paths []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		part, err := fsutil.ReplaceTildeInDir(part)
		if err != nil {
			return nil, err
		}
		if strings.ContainsAny(part, "*?[") {
			matches, err := filepath.Glob(part)
			if err != nil {
				return nil, errors.Wrapf(err, "invalid --%s pattern %q", flagName, part)
			}
			if len(matches) == 0 {
				return nil, errors.Errorf("--%s pattern %q matched no files", flagName, part)
			}
			paths = append(paths, matches...)
		} else {
			paths = append(paths, part)
		}
	}
	if len(paths) == 0 {
		return nil, errors.Errorf("--%s is required", flagName)
	}
	return paths, nil
}

// parseDims parses a comma-separated list of dimensions, e.g. "160,160,192".
func parseDims(value string) ([]int, error) {
	if value == "" {
		return nil, nil
	}
	parts := strings.Split(value, ",")
	dims := make([]int, 0, len(parts))
	for _, part := range parts {
		d, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, errors.Wrapf(err, "invalid --output_shape %q", value)
		}
		dims = append(dims, d)
	}
	return dims, nil
}

func halfRangeOrDisabled(halfRange float64) augment.Bounds {
	if halfRange <= 0 {
		return augment.Disabled()
	}
	return augment.HalfRange(halfRange)
}
