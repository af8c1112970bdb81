// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package denoiser

import (
	"math/rand"
	"slices"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"

	"github.com/gomlx/synthseg/labelmap"
)

// dataset is the infinite train.Dataset feeding the two training phases: each
// Yield draws BatchSize pair indices (weighted when subjects-prob is given),
// loads the int32 volume pairs and stacks them into fresh batch tensors. The
// augmentation itself happens inside the model graph, so the inputs are two
// raw [batch, spatial...] volumes and there are no label tensors.
//
// Pulled from a single goroutine by the training loop.
type dataset struct {
	name            string
	batchSize       int
	inputs, targets *labelmap.Source
	dims            []int
	weights         []float64 // normalized to sum 1; nil means uniform
	rng             *rand.Rand
}

func newDataset(cfg *Config, dims []int, weights []float64, rng *rand.Rand) *dataset {
	return &dataset{
		name:      "label-map pairs",
		batchSize: cfg.BatchSize,
		inputs:    labelmap.NewSource(cfg.InputLabelPaths),
		targets:   labelmap.NewSource(cfg.TargetLabelPaths),
		dims:      dims,
		weights:   weights,
		rng:       rng,
	}
}

// preload moves both sides into memory when they fit the cache budget.
func (ds *dataset) preload(maxFraction float64) error {
	if _, err := ds.inputs.Preload(maxFraction / 2); err != nil {
		return err
	}
	if ds.inputs.Cached() {
		_, err := ds.targets.Preload(maxFraction / 2)
		return err
	}
	return nil
}

func (ds *dataset) Name() string { return ds.name }

// Reset implements train.Dataset. The stream is infinite, there is nothing
// to rewind.
func (ds *dataset) Reset() {}

// Yield implements train.Dataset. It never returns io.EOF.
func (ds *dataset) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	batchShape := shapes.Make(dtypes.Int32, append([]int{ds.batchSize}, ds.dims...)...)
	noisy := tensors.FromShape(batchShape)
	target := tensors.FromShape(batchShape)
	for b := 0; b < ds.batchSize; b++ {
		i := ds.sample()
		if err = ds.fill(noisy, b, ds.inputs, i); err != nil {
			return nil, nil, nil, err
		}
		if err = ds.fill(target, b, ds.targets, i); err != nil {
			return nil, nil, nil, err
		}
	}
	return ds, []*tensors.Tensor{noisy, target}, nil, nil
}

// sample draws one pair index, honoring the subjects-prob weighting.
func (ds *dataset) sample() int {
	if ds.weights == nil {
		return ds.rng.Intn(ds.inputs.Len())
	}
	r := ds.rng.Float64()
	for i, w := range ds.weights {
		r -= w
		if r < 0 {
			return i
		}
	}
	return len(ds.weights) - 1
}

// fill copies volume i of src into slot b of the batch tensor.
func (ds *dataset) fill(batch *tensors.Tensor, b int, src *labelmap.Source, i int) error {
	vol, err := src.Volume(i)
	if err != nil {
		return err
	}
	if !slices.Equal(vol.Shape().Dimensions, ds.dims) {
		return errors.Errorf("label map %q has shape %v, want %v like the first input volume",
			src.Path(i), vol.Shape().Dimensions, ds.dims)
	}
	voxels := vol.Size()
	return tensors.ConstFlatData(vol, func(flat []int32) {
		_ = tensors.MutableFlatData(batch, func(out []int32) {
			copy(out[b*voxels:(b+1)*voxels], flat)
		})
	})
}
