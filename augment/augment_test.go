// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package augment

import (
	"testing"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/synthseg/labelmap"
)

func TestResolveCropShape(t *testing.T) {
	got, err := ResolveCropShape([]int{181, 217, 181}, nil, 32)
	require.NoError(t, err)
	assert.Equal(t, []int{160, 192, 160}, got)

	got, err = ResolveCropShape([]int{181, 217, 181}, []int{96}, 32)
	require.NoError(t, err)
	assert.Equal(t, []int{96, 96, 96}, got)

	// Requests larger than the volume clamp to the native extent first.
	got, err = ResolveCropShape([]int{64, 64}, []int{128, 32}, 16)
	require.NoError(t, err)
	assert.Equal(t, []int{64, 32}, got)

	_, err = ResolveCropShape([]int{30, 64}, nil, 32)
	require.Error(t, err)

	_, err = ResolveCropShape([]int{64, 64, 64}, []int{32, 32}, 16)
	require.Error(t, err)

	_, err = ResolveCropShape([]int{64, 64}, []int{32, 32}, 0)
	require.Error(t, err)
}

func TestBoundsRanges(t *testing.T) {
	low, high := Disabled().ranges(1, 3)
	assert.Equal(t, []float64{1, 1, 1}, low)
	assert.Equal(t, []float64{1, 1, 1}, high)

	low, high = HalfRange(0.2).ranges(1, 2)
	assert.InDeltaSlice(t, []float64{0.8, 0.8}, low, 1e-9)
	assert.InDeltaSlice(t, []float64{1.2, 1.2}, high, 1e-9)

	low, high = PerAxis([]float64{-1, 0}, []float64{1, 2}).ranges(0, 2)
	assert.Equal(t, []float64{-1, 0}, low)
	assert.Equal(t, []float64{1, 2}, high)

	require.Panics(t, func() { PerAxis([]float64{0}, []float64{1}).ranges(0, 3) })

	assert.True(t, Disabled().IsDisabled())
	assert.False(t, HalfRange(0).IsDisabled())
	assert.Equal(t, "disabled", Disabled().String())
}

// applyPipeline executes p.Apply over the pair and returns the materialized
// (oneHot, intTarget) tensors.
func applyPipeline(t *testing.T, p *Pipeline, training bool, noisy, target *tensors.Tensor) (*tensors.Tensor, *tensors.Tensor) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	exec := context.MustNewExec(backend, ctx, func(ctx *context.Context, noisy, target *Node) (*Node, *Node) {
		ctx.SetTraining(noisy.Graph(), training)
		return p.Apply(ctx, noisy, target)
	})
	results := exec.MustExec(noisy, target)
	require.Len(t, results, 2)
	return results[0], results[1]
}

func TestApplyEncodeOnly(t *testing.T) {
	catalog, err := labelmap.New([]int32{0, 5, 9})
	require.NoError(t, err)
	p := &Pipeline{CropShape: []int{2, 2}, Labels: catalog}
	noisy := tensors.FromFlatDataAndDimensions([]int32{0, 5, 9, 0}, 1, 2, 2)
	target := tensors.FromFlatDataAndDimensions([]int32{5, 5, 9, 9}, 1, 2, 2)
	oneHot, intTarget := applyPipeline(t, p, false, noisy, target)

	assert.Equal(t, dtypes.Float32, oneHot.Shape().DType)
	assert.Equal(t, []int{1, 2, 2, 3}, oneHot.Shape().Dimensions)
	assert.Equal(t, dtypes.Int32, intTarget.Shape().DType)
	// The target keeps its raw label values, only the noisy branch is encoded.
	assert.Equal(t, []int32{5, 5, 9, 9}, tensors.MustCopyFlatData[int32](intTarget))
	assert.Equal(t, []float32{
		1, 0, 0,
		0, 1, 0,
		0, 0, 1,
		1, 0, 0,
	}, tensors.MustCopyFlatData[float32](oneHot))
}

func TestApplyCenteredCrop(t *testing.T) {
	values := make([]int32, 36)
	for i := range values {
		values[i] = int32(i)
	}
	catalog, err := labelmap.New(values)
	require.NoError(t, err)
	p := &Pipeline{CropShape: []int{4, 4}, Labels: catalog}
	vol := tensors.FromFlatDataAndDimensions(values, 1, 6, 6)
	_, intTarget := applyPipeline(t, p, false, vol, vol)

	assert.Equal(t, []int{1, 4, 4}, intTarget.Shape().Dimensions)
	want := make([]int32, 0, 16)
	for r := 1; r <= 4; r++ {
		for c := 1; c <= 4; c++ {
			want = append(want, int32(r*6+c))
		}
	}
	assert.Equal(t, want, tensors.MustCopyFlatData[int32](intTarget))
}

// With identical inputs and no morphological noise, the noisy and target
// branches must come out voxel-aligned no matter what transform was drawn:
// the crop offset and the deformation are shared by the pair.
func TestApplyDeformAlignment(t *testing.T) {
	catalog, err := labelmap.New([]int32{0, 1, 2})
	require.NoError(t, err)
	p := &Pipeline{
		Scaling:     HalfRange(0.2),
		Rotation:    HalfRange(15),
		Shearing:    HalfRange(0.012),
		NonlinStd:   3,
		NonlinScale: 0.125,
		CropShape:   []int{8, 8},
		Labels:      catalog,
	}
	flat := make([]int32, 16*16)
	for i := range flat {
		switch {
		case i%16 < 5:
			flat[i] = 0
		case i%16 < 11:
			flat[i] = 1
		default:
			flat[i] = 2
		}
	}
	vol := tensors.FromFlatDataAndDimensions(flat, 1, 16, 16)

	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	exec := context.MustNewExec(backend, ctx, func(ctx *context.Context, noisy, target *Node) (*Node, *Node) {
		ctx.SetTraining(noisy.Graph(), true)
		oneHot, intTarget := p.Apply(ctx, noisy, target)
		return ArgMax(oneHot, -1), intTarget
	})
	for range 4 {
		results := exec.MustExec(vol, vol)
		assert.Equal(t, []int{1, 8, 8}, results[1].Shape().Dimensions)
		assert.Equal(t,
			tensors.MustCopyFlatData[int32](results[1]),
			tensors.MustCopyFlatData[int32](results[0]))
	}
}

func TestApplyMorphTargetUntouched(t *testing.T) {
	catalog, err := labelmap.New([]int32{0, 7})
	require.NoError(t, err)
	p := &Pipeline{
		CropShape:           []int{8, 8},
		ProbErosionDilation: 1,
		MinErosionDilation:  1,
		MaxErosionDilation:  2,
		Labels:              catalog,
	}
	flat := make([]int32, 64)
	for r := 2; r < 6; r++ {
		for c := 2; c < 6; c++ {
			flat[r*8+c] = 7
		}
	}
	vol := tensors.FromFlatDataAndDimensions(flat, 1, 8, 8)
	oneHot, intTarget := applyPipeline(t, p, true, vol, vol)

	// The target branch never sees the morphological noise.
	assert.Equal(t, flat, tensors.MustCopyFlatData[int32](intTarget))

	// The noisy branch stays a valid one-hot encoding over the catalog.
	oh := tensors.MustCopyFlatData[float32](oneHot)
	require.Len(t, oh, 64*2)
	for i := 0; i < len(oh); i += 2 {
		assert.Equal(t, float32(1), oh[i]+oh[i+1])
	}
}

func TestApplyShapes3D(t *testing.T) {
	catalog, err := labelmap.New([]int32{0, 1})
	require.NoError(t, err)
	p := &Pipeline{
		Scaling:             HalfRange(0.1),
		Rotation:            HalfRange(10),
		Translation:         HalfRange(2),
		CropShape:           []int{4, 8, 8},
		ProbErosionDilation: 0.5,
		MinErosionDilation:  1,
		MaxErosionDilation:  1,
		Labels:              catalog,
	}
	flat := make([]int32, 2*8*8*8)
	for i := range flat {
		if i%3 == 0 {
			flat[i] = 1
		}
	}
	vol := tensors.FromFlatDataAndDimensions(flat, 2, 8, 8, 8)
	oneHot, intTarget := applyPipeline(t, p, true, vol, vol)
	assert.Equal(t, []int{2, 4, 8, 8, 2}, oneHot.Shape().Dimensions)
	assert.Equal(t, []int{2, 4, 8, 8}, intTarget.Shape().Dimensions)
	assert.Equal(t, dtypes.Int32, intTarget.Shape().DType)
}
