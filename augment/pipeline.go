// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package augment

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"

	"github.com/gomlx/synthseg/labelmap"
)

// Pipeline holds the resolved augmentation configuration and builds the
// in-graph stages. The zero value is not usable: CropShape and Labels must be
// set, the remaining fields default to "no augmentation".
type Pipeline struct {
	// Scaling, Rotation, Shearing and Translation bound the per-batch-element
	// affine draw. Rotation is in degrees, translation in voxels.
	Scaling, Rotation, Shearing, Translation Bounds

	// NonlinStd caps the standard deviation of the elastic displacement
	// field, in voxels; zero disables the field. NonlinScale sets the
	// resolution of the coarse field relative to the volume shape.
	NonlinStd, NonlinScale float64

	// CropShape is the spatial shape after the shared crop, one entry per
	// spatial axis. See ResolveCropShape.
	CropShape []int

	// ProbErosionDilation is the per-batch-element probability of degrading
	// the noisy branch with a morphological operation. When it fires, erosion
	// or dilation is chosen 50/50 with a radius uniform in
	// [MinErosionDilation, MaxErosionDilation].
	ProbErosionDilation                    float64
	MinErosionDilation, MaxErosionDilation int

	// Labels maps raw label values to the dense channel indices of the
	// one-hot encoding.
	Labels *labelmap.Catalog
}

// Apply builds the augmentation chain over one batch of volumes. noisy and
// target must be int32 with identical [batch, spatial...] shapes and 2 or 3
// spatial axes. It returns the one-hot encoded noisy tensor
// ([batch, spatial..., n] float32, n the catalog size) and the target with
// its raw int32 label values ([batch, spatial...]). Both volumes see the same
// deformation and the same crop window, so the pair stays voxel-aligned; only
// the noisy branch is morphologically degraded.
//
// The random stages only run when ctx is set for training. Otherwise the crop
// is centered and deformation and morphology are skipped.
func (p *Pipeline) Apply(ctx *context.Context, noisy, target *Node) (oneHot, intTarget *Node) {
	g := noisy.Graph()
	p.validate(noisy, target)
	training := ctx.IsTraining(g)

	if training && p.deformEnabled() {
		noisy, target = p.deformStage(ctx, noisy, target)
	}
	noisy, target = p.cropStage(ctx, noisy, target, training)
	if training && p.ProbErosionDilation > 0 {
		noisy = p.morphStage(ctx, noisy)
	}
	return p.encodeStage(noisy, target)
}

func (p *Pipeline) validate(noisy, target *Node) {
	if p.Labels == nil || p.Labels.Len() == 0 {
		exceptions.Panicf("augment: pipeline requires a non-empty label catalog")
	}
	if noisy.DType() != dtypes.Int32 || target.DType() != dtypes.Int32 {
		exceptions.Panicf("augment: volumes must be int32, got %s and %s", noisy.DType(), target.DType())
	}
	if !noisy.Shape().Equal(target.Shape()) {
		exceptions.Panicf("augment: noisy and target shapes differ: %s vs %s", noisy.Shape(), target.Shape())
	}
	rank := noisy.Rank()
	if rank != 3 && rank != 4 {
		exceptions.Panicf("augment: volumes must be [batch, spatial...] with 2 or 3 spatial axes, got rank %d", rank)
	}
	dims := noisy.Shape().Dimensions[1:]
	if len(p.CropShape) != len(dims) {
		exceptions.Panicf("augment: crop shape %v does not match %d spatial axes", p.CropShape, len(dims))
	}
	for a, c := range p.CropShape {
		if c < 1 || c > dims[a] {
			exceptions.Panicf("augment: crop shape %v does not fit volume shape %v", p.CropShape, dims)
		}
	}
	if p.ProbErosionDilation < 0 || p.ProbErosionDilation > 1 {
		exceptions.Panicf("augment: erosion/dilation probability %g outside [0, 1]", p.ProbErosionDilation)
	}
	if p.ProbErosionDilation > 0 && (p.MinErosionDilation < 1 || p.MaxErosionDilation < p.MinErosionDilation) {
		exceptions.Panicf("augment: invalid erosion/dilation radius range [%d, %d]",
			p.MinErosionDilation, p.MaxErosionDilation)
	}
	if p.NonlinStd < 0 {
		exceptions.Panicf("augment: negative elastic field std %g", p.NonlinStd)
	}
	if p.NonlinStd > 0 && (p.NonlinScale <= 0 || p.NonlinScale > 1) {
		exceptions.Panicf("augment: elastic field scale %g outside (0, 1]", p.NonlinScale)
	}
}
