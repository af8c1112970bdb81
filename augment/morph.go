// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package augment

import (
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
)

// morphStage degrades the noisy branch with a random morphological operation.
// Per batch element, with probability ProbErosionDilation, the foreground
// (non-zero labels) is either eroded or dilated, chosen 50/50, by a radius
// uniform in [MinErosionDilation, MaxErosionDilation]. Erosion turns the
// peeled voxels into background; dilation grows structures outwards, newly
// covered voxels taking the strongest label within reach. The target never
// passes through here: boundary damage on one side of the pair is exactly the
// noise the network learns to undo.
func (p *Pipeline) morphStage(ctx *context.Context, noisy *Node) *Node {
	g := noisy.Graph()
	batch := noisy.Shape().Dim(0)

	// Pooling wants a trailing channel axis.
	x := InsertAxes(noisy, -1)
	foreground := GreaterThan(x, ScalarZero(g, x.DType()))
	mask := ConvertDType(foreground, dtypes.Float32)
	labels := ConvertDType(x, dtypes.Float32)

	// Iterated window-3 poolings: r rounds give a radius-r (window 2r+1)
	// erosion or dilation of the foreground mask.
	maxRadius := p.MaxErosionDilation
	eroded := make([]*Node, maxRadius+1)
	dilated := make([]*Node, maxRadius+1)
	filler := make([]*Node, maxRadius+1)
	eroded[0], dilated[0], filler[0] = mask, mask, labels
	for r := 1; r <= maxRadius; r++ {
		eroded[r] = MinPool(eroded[r-1]).Window(3).Strides(1).PadSame().Done()
		dilated[r] = MaxPool(dilated[r-1]).Window(3).Strides(1).PadSame().Done()
		filler[r] = MaxPool(filler[r-1]).Window(3).Strides(1).PadSame().Done()
	}

	radius := ctx.RandomIntN(g, int32(maxRadius-p.MinErosionDilation+1), shapes.Make(dtypes.Int32, batch))
	radius = AddScalar(radius, float64(p.MinErosionDilation))
	selected := func(chain []*Node) *Node {
		out := chain[p.MinErosionDilation]
		for r := p.MinErosionDilation + 1; r <= maxRadius; r++ {
			out = Where(Equal(radius, Const(g, int32(r))), chain[r], out)
		}
		return out
	}

	half := Const(g, float32(0.5))
	erodedLabels := Where(GreaterThan(selected(eroded), half), x, ZerosLike(x))
	ring := And(GreaterThan(selected(dilated), half), Not(foreground))
	dilatedLabels := Where(ring, ConvertDType(selected(filler), x.DType()), x)

	dilate := ctx.RandomBernoulli(Const(g, float32(0.5)), shapes.Make(dtypes.Bool, batch))
	morphed := Where(dilate, dilatedLabels, erodedLabels)
	apply := ctx.RandomBernoulli(Const(g, float32(p.ProbErosionDilation)), shapes.Make(dtypes.Bool, batch))
	return Squeeze(Where(apply, morphed, x), -1)
}
