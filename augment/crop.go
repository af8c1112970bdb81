// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package augment

import (
	"slices"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
)

// cropStage slices both volumes down to CropShape with one offset shared by
// the pair and by every batch element, keeping the two branches voxel-aligned.
// During training the offset is uniform over the valid range, otherwise the
// crop is centered. Volumes already at CropShape pass through untouched.
func (p *Pipeline) cropStage(ctx *context.Context, noisy, target *Node, training bool) (*Node, *Node) {
	g := noisy.Graph()
	batch := noisy.Shape().Dim(0)
	dims := noisy.Shape().Dimensions[1:]
	if slices.Equal(dims, p.CropShape) {
		return noisy, target
	}
	starts := make([]*Node, len(dims)+1)
	starts[0] = Const(g, int32(0))
	for a, d := range dims {
		span := d - p.CropShape[a]
		switch {
		case span == 0:
			starts[a+1] = Const(g, int32(0))
		case training:
			starts[a+1] = ctx.RandomIntN(g, int32(span+1), shapes.Make(dtypes.Int32))
		default:
			starts[a+1] = Const(g, int32(span/2))
		}
	}
	sizes := append([]int{batch}, p.CropShape...)
	return DynamicSlice(noisy, starts, sizes), DynamicSlice(target, starts, sizes)
}
