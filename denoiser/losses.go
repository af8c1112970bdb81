// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package denoiser

import (
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/train/losses"

	"github.com/gomlx/synthseg/labelmap"
)

// wl2TargetValue scales the regression reference of the warm-up phase: the
// likelihood is fit to +5 on the true channel and -5 elsewhere.
const wl2TargetValue = 5.0

// oneHotTarget remaps the raw int32 target volume through the catalog LUT
// and one-hot encodes it to the prediction's channel width and dtype.
func oneHotTarget(catalog *labelmap.Catalog, target, pred *Node) *Node {
	g := pred.Graph()
	n := pred.Shape().Dim(-1)
	if catalog.Len() != n {
		exceptions.Panicf("denoiser: target catalog has %d labels but the prediction has %d channels",
			catalog.Len(), n)
	}
	lut := Const(g, catalog.CompactLUT())
	dense := Gather(lut, InsertAxes(target, -1))
	return OneHot(dense, n, pred.DType())
}

// weightedL2Loss builds the WL2 phase loss over (likelihood, rawTarget)
// model outputs: squared error against the +/-5 one-hot reference, each
// voxel weighted by its foreground mass (1 - background probability), summed
// and normalized by total weight times the channel count.
//
// The target rides along as predictions[1]; the labels slice is unused (the
// dataset yields none).
func weightedL2Loss(catalog *labelmap.Catalog) losses.LossFn {
	return func(labels, predictions []*Node) *Node {
		pred := predictions[0]
		gt := oneHotTarget(catalog, predictions[1], pred)

		// [batch, spatial..., 1], broadcast over the channel axis.
		weights := AddScalar(OneMinus(Slice(gt, AxisRange().Spacer(), AxisElem(0))), 1e-8)
		ref := MulScalar(AddScalar(MulScalar(gt, 2), -1), wl2TargetValue)
		num := ReduceAllSum(Mul(weights, Square(Sub(pred, ref))))
		den := MulScalar(ReduceAllSum(weights), float64(pred.Shape().Dim(-1)))
		return Div(num, den)
	}
}

// softDiceLoss builds the Dice phase loss over (probabilities, rawTarget)
// model outputs: one minus the soft Dice coefficient, averaged over batch
// elements and classes, with the overlap sums taken over the spatial axes.
func softDiceLoss(catalog *labelmap.Catalog) losses.LossFn {
	return func(labels, predictions []*Node) *Node {
		pred := ClipScalar(predictions[0], 0, 1)
		gt := oneHotTarget(catalog, predictions[1], pred)

		axes := spatialAxes(pred)
		top := MulScalar(ReduceSum(Mul(gt, pred), axes...), 2)
		bottom := Add(ReduceSum(Square(gt), axes...), ReduceSum(Square(pred), axes...))
		dice := Div(top, AddScalar(bottom, 1e-7)) // [batch, numClasses]
		return OneMinus(ReduceAllMean(dice))
	}
}

// spatialAxes lists every axis of x but the leading batch and trailing
// channel axes.
func spatialAxes(x *Node) []int {
	axes := make([]int, 0, x.Rank()-2)
	for a := 1; a < x.Rank()-1; a++ {
		axes = append(axes, a)
	}
	return axes
}
