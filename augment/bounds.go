// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package augment builds the in-graph augmentation chain that turns batches
// of (noisy, target) label-map volumes into training tensors: random spatial
// deformation, a crop shared by both volumes, random erosion/dilation of the
// noisy branch and a final remap to dense one-hot labels.
//
// Every stage is a pure graph builder. Randomness comes from the context's
// random-state variable (Context.RandomUniform and friends), so each executed
// training step draws fresh values without any host-side state.
package augment

import (
	"fmt"

	"github.com/gomlx/exceptions"
)

// Bounds describes the sampling range of one family of affine parameters
// (scaling, rotation, shearing or translation). Values are drawn uniformly,
// independently per batch element, within the resolved per-component ranges.
type Bounds struct {
	kind      boundsKind
	halfRange float64
	low, high []float64
}

type boundsKind int

const (
	boundsDisabled boundsKind = iota
	boundsHalfRange
	boundsPerAxis
)

// Disabled pins the parameter family at its neutral value (1 for scaling, 0
// for the others), removing it from the augmentation.
func Disabled() Bounds { return Bounds{kind: boundsDisabled} }

// HalfRange samples every component uniformly in [centre-r, centre+r], where
// the centre is the family's neutral value.
func HalfRange(r float64) Bounds {
	return Bounds{kind: boundsHalfRange, halfRange: r}
}

// PerAxis samples component i uniformly in [low[i], high[i]]. The component
// count depends on the family: n for scaling and translation, n*(n-1) for
// shearing (off-diagonal entries in row-major order) and 1 (2-D) or 3 (3-D)
// for rotation, with n the number of spatial axes. Lengths are checked when
// the deformation graph is built.
func PerAxis(low, high []float64) Bounds {
	return Bounds{kind: boundsPerAxis, low: low, high: high}
}

// IsDisabled reports whether the family is pinned at its neutral value.
func (b Bounds) IsDisabled() bool { return b.kind == boundsDisabled }

// String implements fmt.Stringer, used when logging the run configuration.
func (b Bounds) String() string {
	switch b.kind {
	case boundsDisabled:
		return "disabled"
	case boundsHalfRange:
		return fmt.Sprintf("+/-%g", b.halfRange)
	default:
		return fmt.Sprintf("per-axis[low=%v high=%v]", b.low, b.high)
	}
}

// ranges resolves the bounds to count concrete [low, high] intervals centered
// at centre. Explicit per-axis bounds must match the component count exactly.
func (b Bounds) ranges(centre float64, count int) (low, high []float64) {
	low = make([]float64, count)
	high = make([]float64, count)
	switch b.kind {
	case boundsDisabled:
		for i := range low {
			low[i], high[i] = centre, centre
		}
	case boundsHalfRange:
		for i := range low {
			low[i], high[i] = centre-b.halfRange, centre+b.halfRange
		}
	case boundsPerAxis:
		if len(b.low) != count || len(b.high) != count {
			exceptions.Panicf("augment: per-axis bounds with %d/%d components, expected %d",
				len(b.low), len(b.high), count)
		}
		copy(low, b.low)
		copy(high, b.high)
	}
	return
}
