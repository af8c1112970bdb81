// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package denoiser trains a UNet to map noisy anatomical label maps to clean
// target label maps. Training pairs are synthesized on the fly by the augment
// package (random spatial deformation, shared crop, random erosion/dilation
// of the noisy branch), and the optimization runs in two sequential phases: a
// weighted-L2 warm-up fitting the pre-softmax likelihood, then soft-Dice
// fine-tuning of the class probabilities. Model state is checkpointed at
// every epoch boundary, one directory per phase.
package denoiser

import (
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"

	"github.com/gomlx/synthseg/augment"
	"github.com/gomlx/synthseg/labelmap"
	"github.com/gomlx/synthseg/unet"
)

// Config collects every knob of a training run. NewConfig fills in the
// defaults; zero values elsewhere mean "disabled" (e.g. TranslationBounds).
type Config struct {
	// InputLabelPaths and TargetLabelPaths are parallel lists of label-map
	// files (.npy or .npz): element i of the first list is the noisy
	// segmentation the network learns to correct into element i of the
	// second. Required, equal lengths.
	InputLabelPaths  []string
	TargetLabelPaths []string

	// ModelDir receives the checkpoints, one subdirectory per phase
	// ("wl2", "dice"). Required.
	ModelDir string

	// InputLabels and TargetLabels select the label catalogs of each side.
	// Empty specs mean: infer the input catalog by scanning the input
	// volumes, and default the target catalog to the input catalog.
	InputLabels  labelmap.Spec
	TargetLabels labelmap.Spec

	// SubjectsProb weights the sampling of pairs; empty means uniform.
	SubjectsProb labelmap.WeightsSpec

	// CacheFraction bounds the in-memory volume cache to this fraction of
	// total system RAM; volumes that don't fit are read from disk per step.
	// Zero or negative disables preloading.
	CacheFraction float64

	// BatchSize is the number of pairs per training step.
	BatchSize int

	// OutputShape optionally crops the volumes to this spatial shape before
	// they enter the network; a single entry applies to every axis. The
	// resolved shape is rounded down to a multiple of 2^Levels so every
	// pooling stage halves evenly. Nil means no cropping beyond that
	// rounding.
	OutputShape []int

	// Affine sampling bounds: scaling factors centered at 1, rotation in
	// degrees, shearing coefficients and translation in voxels centered at 0.
	ScalingBounds     augment.Bounds
	RotationBounds    augment.Bounds
	ShearingBounds    augment.Bounds
	TranslationBounds augment.Bounds

	// NonlinStd caps the standard deviation of the elastic deformation
	// field (0 disables it); NonlinScale is the coarse field resolution
	// relative to the volume shape.
	NonlinStd   float64
	NonlinScale float64

	// ProbErosionDilation is the probability of degrading the noisy branch
	// with a random erosion or dilation of radius in
	// [MinErosionDilation, MaxErosionDilation].
	ProbErosionDilation float64
	MinErosionDilation  int
	MaxErosionDilation  int

	// UNet architecture.
	Levels              int
	ConvsPerLevel       int
	KernelSize          int
	Features            int
	FeatureMultiplier   int
	Activation          string
	SkipNConcatenations int
	BatchNorm           bool

	// LearningRate for the Adam optimizer of both phases.
	LearningRate float64

	// WL2Epochs and DiceEpochs are the lengths of the two phases; a
	// non-positive count skips that phase, but at least one must be
	// positive. StepsPerEpoch is also the checkpointing frequency.
	WL2Epochs     int
	DiceEpochs    int
	StepsPerEpoch int

	// Checkpoint optionally points at a checkpoint directory whose weights
	// seed the first executed phase.
	Checkpoint string

	// Seed fixes the sampling RNG and the graph random state; 0 draws a
	// fresh nondeterministic state.
	Seed int64

	// Backend executes the graphs. Required by Train.
	Backend backends.Backend

	// Context holds the model variables and hyperparameters. Train creates
	// a fresh one when nil.
	Context *context.Context
}

// NewConfig returns a Config with the standard denoiser training settings
// for the given label-map pair lists and checkpoint directory.
func NewConfig(inputLabelPaths, targetLabelPaths []string, modelDir string) *Config {
	return &Config{
		InputLabelPaths:     inputLabelPaths,
		TargetLabelPaths:    targetLabelPaths,
		ModelDir:            modelDir,
		CacheFraction:       0.5,
		BatchSize:           1,
		ScalingBounds:       augment.HalfRange(0.2),
		RotationBounds:      augment.HalfRange(15),
		ShearingBounds:      augment.HalfRange(0.012),
		TranslationBounds:   augment.Disabled(),
		NonlinStd:           3.0,
		NonlinScale:         0.04,
		ProbErosionDilation: 0.3,
		MinErosionDilation:  4,
		MaxErosionDilation:  5,
		Levels:              5,
		ConvsPerLevel:       2,
		KernelSize:          5,
		Features:            16,
		FeatureMultiplier:   2,
		Activation:          "elu",
		SkipNConcatenations: 2,
		BatchNorm:           true,
		LearningRate:        1e-4,
		WL2Epochs:           1,
		DiceEpochs:          50,
		StepsPerEpoch:       10000,
	}
}

// Validate rejects configurations that cannot train, before any file is read
// or graph is built. Deeper issues (missing files, shape mismatches between
// paired volumes, bad bounds arities) surface later, from the I/O layer or
// from graph construction.
func (cfg *Config) Validate() error {
	if cfg.WL2Epochs <= 0 && cfg.DiceEpochs <= 0 {
		return errors.Errorf("either WL2Epochs or DiceEpochs must be positive, got %d and %d",
			cfg.WL2Epochs, cfg.DiceEpochs)
	}
	if len(cfg.InputLabelPaths) == 0 {
		return errors.New("no input label maps given")
	}
	if len(cfg.InputLabelPaths) != len(cfg.TargetLabelPaths) {
		return errors.Errorf("got %d input and %d target label maps, the lists must be parallel",
			len(cfg.InputLabelPaths), len(cfg.TargetLabelPaths))
	}
	if cfg.ModelDir == "" {
		return errors.New("ModelDir is required")
	}
	if cfg.BatchSize < 1 {
		return errors.Errorf("BatchSize must be at least 1, got %d", cfg.BatchSize)
	}
	if cfg.StepsPerEpoch < 1 {
		return errors.Errorf("StepsPerEpoch must be at least 1, got %d", cfg.StepsPerEpoch)
	}
	if cfg.LearningRate <= 0 {
		return errors.Errorf("LearningRate must be positive, got %g", cfg.LearningRate)
	}
	return nil
}

// pipeline assembles the augmentation configuration around the resolved crop
// shape and input catalog.
func (cfg *Config) pipeline(cropShape []int, inputCatalog *labelmap.Catalog) *augment.Pipeline {
	return &augment.Pipeline{
		Scaling:             cfg.ScalingBounds,
		Rotation:            cfg.RotationBounds,
		Shearing:            cfg.ShearingBounds,
		Translation:         cfg.TranslationBounds,
		NonlinStd:           cfg.NonlinStd,
		NonlinScale:         cfg.NonlinScale,
		CropShape:           cropShape,
		ProbErosionDilation: cfg.ProbErosionDilation,
		MinErosionDilation:  cfg.MinErosionDilation,
		MaxErosionDilation:  cfg.MaxErosionDilation,
		Labels:              inputCatalog,
	}
}

// unetConfig maps the architecture knobs onto the UNet factory.
func (cfg *Config) unetConfig() unet.Config {
	return unet.Config{
		Levels:              cfg.Levels,
		ConvsPerLevel:       cfg.ConvsPerLevel,
		KernelSize:          cfg.KernelSize,
		Features:            cfg.Features,
		FeatureMultiplier:   cfg.FeatureMultiplier,
		Activation:          cfg.Activation,
		SkipNConcatenations: cfg.SkipNConcatenations,
		BatchNorm:           cfg.BatchNorm,
	}
}
