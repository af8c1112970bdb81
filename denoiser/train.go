// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package denoiser

import (
	"math/rand"
	"path/filepath"
	"time"

	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/losses"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/synthseg/augment"
	"github.com/gomlx/synthseg/labelmap"
)

// phase describes one stage of the training schedule: which model head the
// loss fits, and for how many epochs.
type phase struct {
	name    string
	epochs  int
	modelFn func(ctx *context.Context, spec any, inputs []*graph.Node) []*graph.Node
	loss    losses.LossFn
}

// Train synthesizes noisy/clean pairs from cfg's label maps and runs the
// two-phase schedule: WL2Epochs of weighted L2 on the likelihood head, then
// DiceEpochs of soft Dice on the probability head. Each phase checkpoints
// into its own subdirectory of ModelDir at every epoch boundary, and the
// Dice phase continues from the variables the WL2 phase left in the context.
func Train(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Backend == nil {
		return errors.New("Config.Backend is required")
	}

	inputCatalog, err := labelmap.Resolve(cfg.InputLabels, cfg.InputLabelPaths)
	if err != nil {
		return errors.WithMessage(err, "resolving the input label catalog")
	}
	targetCatalog := inputCatalog
	if !cfg.TargetLabels.IsZero() {
		targetCatalog, err = labelmap.Resolve(cfg.TargetLabels, cfg.TargetLabelPaths)
		if err != nil {
			return errors.WithMessage(err, "resolving the target label catalog")
		}
	}

	// The first input volume fixes the spatial shape of the whole run.
	native, err := labelmap.VolumeShape(cfg.InputLabelPaths[0])
	if err != nil {
		return err
	}
	cropShape, err := augment.ResolveCropShape(native, cfg.OutputShape, 1<<cfg.Levels)
	if err != nil {
		return err
	}

	weights, err := labelmap.ResolveWeights(cfg.SubjectsProb, len(cfg.InputLabelPaths))
	if err != nil {
		return err
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	ds := newDataset(cfg, native, weights, rand.New(rand.NewSource(seed)))
	if err = ds.preload(cfg.CacheFraction); err != nil {
		return err
	}

	ctx := cfg.Context
	if ctx == nil {
		ctx = context.New()
	}
	if cfg.Seed != 0 {
		ctx.SetRNGStateFromSeed(cfg.Seed)
	}
	if cfg.Checkpoint != "" {
		if _, err = checkpoints.Load(ctx).Dir(cfg.Checkpoint).Done(); err != nil {
			return errors.WithMessagef(err, "loading the seed checkpoint from %q", cfg.Checkpoint)
		}
		klog.Infof("Seeding model variables from checkpoint %q.", cfg.Checkpoint)
	}

	m := &model{
		pipeline: cfg.pipeline(cropShape, inputCatalog.Unique()),
		network:  cfg.unetConfig(),
	}
	targetUnique := targetCatalog.Unique()
	phases := []phase{
		{name: "wl2", epochs: cfg.WL2Epochs, modelFn: m.wl2Model, loss: weightedL2Loss(targetUnique)},
		{name: "dice", epochs: cfg.DiceEpochs, modelFn: m.diceModel, loss: softDiceLoss(targetUnique)},
	}
	for _, ph := range phases {
		if ph.epochs <= 0 {
			continue
		}
		if err = runPhase(cfg, ctx, ds, ph); err != nil {
			return errors.WithMessagef(err, "%s phase", ph.name)
		}
	}
	return nil
}

// runPhase trains one phase with its own optimizer state and checkpoint
// directory.
func runPhase(cfg *Config, ctx *context.Context, ds train.Dataset, ph phase) error {
	dir := filepath.Join(cfg.ModelDir, ph.name)
	checkpoint, err := checkpoints.Build(ctx).Dir(dir).Keep(-1).Done()
	if err != nil {
		return err
	}
	optimizer := optimizers.Adam().LearningRate(cfg.LearningRate).Scope(ph.name).Done()
	trainer := train.NewTrainer(cfg.Backend, ctx, ph.modelFn, ph.loss, optimizer, nil, nil)
	loop := train.NewLoop(trainer)
	commandline.AttachProgressBar(loop)
	train.EveryNSteps(loop, cfg.StepsPerEpoch, "checkpointing", 100, checkpoint.OnStepFn)

	klog.Infof("%s phase: %d epoch(s) of %d steps, checkpoints in %s.",
		ph.name, ph.epochs, cfg.StepsPerEpoch, dir)
	metrics, err := loop.RunSteps(ds, ph.epochs*cfg.StepsPerEpoch)
	if err != nil {
		return err
	}
	for ii, metric := range metrics {
		klog.Infof("%s phase done: %s=%s", ph.name, trainer.TrainMetrics()[ii].Name(), metric)
	}
	return nil
}
