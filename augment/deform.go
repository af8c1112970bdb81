// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package augment

import (
	"math"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
)

// deformEnabled reports whether any affine family or the elastic field can
// move a voxel; when false the stage is dropped from the graph.
func (p *Pipeline) deformEnabled() bool {
	return !p.Scaling.IsDisabled() || !p.Rotation.IsDisabled() ||
		!p.Shearing.IsDisabled() || !p.Translation.IsDisabled() || p.NonlinStd > 0
}

// deformStage warps both volumes by one random spatial transform per batch
// element: an affine that scales, shears, rotates and translates about the
// volume centre, plus an optional smooth elastic displacement field. Both
// volumes are resampled at the same warped coordinates with nearest-neighbor
// lookups, so label values stay categorical and the pair stays voxel-aligned.
func (p *Pipeline) deformStage(ctx *context.Context, noisy, target *Node) (*Node, *Node) {
	coords := p.warpCoordinates(ctx, noisy)
	return resampleNearest(noisy, coords), resampleNearest(target, coords)
}

// warpCoordinates returns, for every output voxel, the input-space coordinate
// to sample, shaped [batch, numVoxels, n] (float32, in voxel units).
func (p *Pipeline) warpCoordinates(ctx *context.Context, vol *Node) *Node {
	g := vol.Graph()
	batch := vol.Shape().Dim(0)
	dims := vol.Shape().Dimensions[1:]
	n := len(dims)
	numVoxels := sizeOf(dims)

	// Voxel grid relative to the volume centre, shared by the whole batch.
	axes := make([]*Node, n)
	for a := 0; a < n; a++ {
		axes[a] = Reshape(Iota(g, shapes.Make(dtypes.Float32, dims...), a), numVoxels)
	}
	grid := Stack(axes, -1) // [numVoxels, n]
	centre := make([]float32, n)
	for a, d := range dims {
		centre[a] = float32(d-1) / 2
	}
	centreRow := Const(g, [][]float32{centre}) // [1, n]
	grid = Sub(grid, centreRow)

	affine := p.sampleAffine(ctx, g, batch, n)      // [batch, n, n]
	coords := Einsum("bij,vj->bvi", affine, grid)   // [batch, numVoxels, n]
	coords = Add(coords, Reshape(centreRow, 1, 1, n))

	if !p.Translation.IsDisabled() {
		shift := sampleBounds(ctx, g, batch, p.Translation, 0, n)
		coords = Add(coords, InsertAxes(shift, 1)) // [batch, 1, n]
	}
	if p.NonlinStd > 0 {
		coords = Add(coords, p.elasticField(ctx, g, batch, dims))
	}
	return coords
}

// sampleAffine draws the linear part of the transform per batch element,
// composed as rotation * shearing * scaling, shaped [batch, n, n].
func (p *Pipeline) sampleAffine(ctx *context.Context, g *Graph, batch, n int) *Node {
	scaling := sampleBounds(ctx, g, batch, p.Scaling, 1, n)
	nAngles := 1
	if n == 3 {
		nAngles = 3
	}
	rotation := sampleBounds(ctx, g, batch, p.Rotation, 0, nAngles)
	shearing := sampleBounds(ctx, g, batch, p.Shearing, 0, n*n-n)

	m := batchMatMul(shearMatrices(g, shearing, n), scaleMatrices(g, scaling))
	return batchMatMul(rotationMatrices(rotation, n), m)
}

// sampleBounds draws count values per batch element, uniform within the
// resolved ranges of b. Disabled bounds yield the centre without consuming
// randomness, so the graph stays identical across runs in that case.
func sampleBounds(ctx *context.Context, g *Graph, batch int, b Bounds, centre float64, count int) *Node {
	low, high := b.ranges(centre, count)
	lowRow := make([]float32, count)
	spanRow := make([]float32, count)
	for i := range low {
		lowRow[i] = float32(low[i])
		spanRow[i] = float32(high[i] - low[i])
	}
	if b.IsDisabled() {
		return BroadcastToDims(Const(g, [][]float32{lowRow}), batch, count)
	}
	u := ctx.RandomUniform(g, shapes.Make(dtypes.Float32, batch, count))
	return Add(Const(g, [][]float32{lowRow}), Mul(u, Const(g, [][]float32{spanRow})))
}

func batchMatMul(a, b *Node) *Node { return Einsum("bij,bjk->bik", a, b) }

// rotationMatrices converts sampled angles in degrees to rotation matrices:
// one angle in 2-D, one per axis in 3-D.
func rotationMatrices(angles *Node, n int) *Node {
	g := angles.Graph()
	batch := angles.Shape().Dim(0)
	rad := MulScalar(angles, math.Pi/180)
	cos, sin := Cos(rad), Sin(rad)
	at := func(x *Node, i int) *Node {
		return Reshape(Slice(x, AxisRange(), AxisElem(i)), batch)
	}
	if n == 2 {
		c, s := at(cos, 0), at(sin, 0)
		return Reshape(Stack([]*Node{c, Neg(s), s, c}, -1), batch, 2, 2)
	}
	one := Ones(g, shapes.Make(dtypes.Float32, batch))
	zero := ZerosLike(one)
	c0, s0 := at(cos, 0), at(sin, 0)
	c1, s1 := at(cos, 1), at(sin, 1)
	c2, s2 := at(cos, 2), at(sin, 2)
	rx := Reshape(Stack([]*Node{
		one, zero, zero,
		zero, c0, Neg(s0),
		zero, s0, c0,
	}, -1), batch, 3, 3)
	ry := Reshape(Stack([]*Node{
		c1, zero, s1,
		zero, one, zero,
		Neg(s1), zero, c1,
	}, -1), batch, 3, 3)
	rz := Reshape(Stack([]*Node{
		c2, Neg(s2), zero,
		s2, c2, zero,
		zero, zero, one,
	}, -1), batch, 3, 3)
	return batchMatMul(rz, batchMatMul(ry, rx))
}

// shearMatrices places the sampled values on the off-diagonal entries of an
// identity matrix, in row-major order.
func shearMatrices(g *Graph, shearing *Node, n int) *Node {
	batch := shearing.Shape().Dim(0)
	m := n*n - n
	placement := make([][]float32, m)
	slot := 0
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			row := make([]float32, n*n)
			row[i*n+j] = 1
			placement[slot] = row
			slot++
		}
	}
	flat := Einsum("bs,sf->bf", shearing, Const(g, placement)) // [batch, n*n]
	flat = Add(flat, Const(g, [][]float32{flatIdentity(n)}))
	return Reshape(flat, batch, n, n)
}

// scaleMatrices builds diagonal matrices from per-axis scaling factors.
func scaleMatrices(g *Graph, scaling *Node) *Node {
	batch := scaling.Shape().Dim(0)
	n := scaling.Shape().Dim(1)
	placement := make([][]float32, n)
	for i := 0; i < n; i++ {
		row := make([]float32, n*n)
		row[i*n+i] = 1
		placement[i] = row
	}
	flat := Einsum("bs,sf->bf", scaling, Const(g, placement))
	return Reshape(flat, batch, n, n)
}

func flatIdentity(n int) []float32 {
	id := make([]float32, n*n)
	for i := 0; i < n; i++ {
		id[i*n+i] = 1
	}
	return id
}

// elasticField samples the smooth displacement field: a coarse normal field
// whose standard deviation is itself drawn uniformly from [0, NonlinStd),
// bilinearly upsampled to the full volume shape. The result is flattened to
// [batch, numVoxels, n], in voxel units.
func (p *Pipeline) elasticField(ctx *context.Context, g *Graph, batch int, dims []int) *Node {
	n := len(dims)
	small := make([]int, n)
	for a, d := range dims {
		small[a] = int(math.Ceil(float64(d) * p.NonlinScale))
		if small[a] < 1 {
			small[a] = 1
		}
		if small[a] > d {
			small[a] = d
		}
	}
	fieldDims := append(append([]int{batch}, small...), n)
	field := ctx.RandomNormal(g, shapes.Make(dtypes.Float32, fieldDims...))
	std := ctx.RandomUniform(g, shapes.Make(dtypes.Float32))
	field = Mul(field, MulScalar(std, p.NonlinStd))
	upSizes := append(append([]int{NoInterpolation}, dims...), NoInterpolation)
	field = Interpolate(field, upSizes...).Bilinear().Done()
	return Reshape(field, batch, sizeOf(dims), n)
}

// resampleNearest reads vol at fractional coordinates, rounding to the
// closest voxel and clamping at the volume borders. coords must be
// [batch, numVoxels, n]; the result restores vol's [batch, spatial...] shape.
func resampleNearest(vol *Node, coords *Node) *Node {
	g := vol.Graph()
	batch := vol.Shape().Dim(0)
	dims := vol.Shape().Dimensions[1:]
	n := len(dims)
	numVoxels := sizeOf(dims)

	strides := make([]int, n)
	strides[n-1] = 1
	for a := n - 2; a >= 0; a-- {
		strides[a] = strides[a+1] * dims[a+1]
	}
	rounded := Round(coords)
	var flat *Node
	for a := 0; a < n; a++ {
		axis := Reshape(Slice(rounded, AxisRange(), AxisRange(), AxisElem(a)), batch, numVoxels)
		axis = ClipScalar(axis, 0, float64(dims[a]-1))
		idx := MulScalar(ConvertDType(axis, dtypes.Int32), float64(strides[a]))
		if flat == nil {
			flat = idx
		} else {
			flat = Add(flat, idx)
		}
	}
	batchBase := Iota(g, shapes.Make(dtypes.Int32, batch, numVoxels), 0)
	global := Add(MulScalar(batchBase, float64(numVoxels)), flat)
	gathered := Gather(Reshape(vol, batch*numVoxels), InsertAxes(global, -1))
	return Reshape(gathered, vol.Shape().Dimensions...)
}

func sizeOf(dims []int) int {
	size := 1
	for _, d := range dims {
		size *= d
	}
	return size
}
