// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package denoiser

import (
	"testing"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train/losses"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/synthseg/labelmap"
)

func mustCatalog(t *testing.T, values ...int32) *labelmap.Catalog {
	c, err := labelmap.New(values)
	require.NoError(t, err)
	return c
}

// evalLoss runs lossFn over one (prediction, raw target) pair given as Go
// multi-dimensional slices.
func evalLoss(t *testing.T, lossFn losses.LossFn, pred, target any) float64 {
	backend := graphtest.BuildTestBackend()
	exec := MustNewExec(backend, func(p, gt *Node) *Node {
		return lossFn(nil, []*Node{p, gt})
	})
	out := exec.MustExec(pred, target)[0]
	return float64(tensors.ToScalar[float32](out))
}

func TestWeightedL2Loss(t *testing.T) {
	lossFn := weightedL2Loss(mustCatalog(t, 0, 9))

	// Exact predictions: the likelihood target is +5 on the true channel and
	// -5 elsewhere.
	perfect := [][][]float32{{{5, -5}, {-5, 5}}}
	target := [][]int32{{0, 9}}
	assert.InDelta(t, 0, evalLoss(t, lossFn, perfect, target), 1e-6)

	// One foreground voxel off by 2 on its true channel:
	// num = 1*(3-5)^2 = 4, den = sum(w)*channels = 1*2, loss = 2.
	offByTwo := [][][]float32{{{5, -5}, {-5, 3}}}
	assert.InDelta(t, 2.0, evalLoss(t, lossFn, offByTwo, target), 1e-6)
}

func TestWeightedL2LossIgnoresBackground(t *testing.T) {
	lossFn := weightedL2Loss(mustCatalog(t, 0, 9))
	target := [][]int32{{0, 9}}

	clean := [][][]float32{{{5, -5}, {-5, 3}}}
	// Same prediction with a large extra error on the background voxel.
	dirty := [][][]float32{{{1, -5}, {-5, 3}}}
	assert.InDelta(t, evalLoss(t, lossFn, clean, target), evalLoss(t, lossFn, dirty, target), 1e-6)
}

func TestSoftDiceLoss(t *testing.T) {
	lossFn := softDiceLoss(mustCatalog(t, 0, 9))
	target := [][]int32{{0, 9}}

	perfect := [][][]float32{{{1, 0}, {0, 1}}}
	assert.InDelta(t, 0, evalLoss(t, lossFn, perfect, target), 1e-6)

	// dice_0 = 2*0.8/(1+0.8), dice_1 = 2*0.6/(1+0.4), loss = 1 - their mean.
	probs := [][][]float32{{{0.8, 0.2}, {0.4, 0.6}}}
	assert.InDelta(t, 0.12698413, evalLoss(t, lossFn, probs, target), 1e-5)
}

func TestSoftDiceLossClipsPredictions(t *testing.T) {
	lossFn := softDiceLoss(mustCatalog(t, 0, 9))

	// Out-of-range values are clipped to [0, 1] before the overlap sums; the
	// absent class contributes a zero dice score without dividing by zero.
	probs := [][][]float32{{{-1, 2}}}
	target := [][]int32{{9}}
	assert.InDelta(t, 0.5, evalLoss(t, lossFn, probs, target), 1e-6)
}

func TestLossesRejectCatalogChannelMismatch(t *testing.T) {
	lossFn := weightedL2Loss(mustCatalog(t, 0, 5, 9))
	probs := [][][]float32{{{1, 0}, {0, 1}}}
	target := [][]int32{{0, 9}}
	require.Panics(t, func() { evalLoss(t, lossFn, probs, target) })
}
