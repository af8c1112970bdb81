// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package augment

import (
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
)

// encodeStage converts the cropped label volumes into network tensors. The
// noisy branch is remapped through the catalog LUT to dense indices in [0, n)
// and one-hot expanded on a new trailing channel axis (float32). The target
// keeps its raw int32 label values; the losses remap it against their own
// catalog.
func (p *Pipeline) encodeStage(noisy, target *Node) (oneHot, intTarget *Node) {
	g := noisy.Graph()
	lut := Const(g, p.Labels.CompactLUT())
	dense := Gather(lut, InsertAxes(noisy, -1))
	oneHot = OneHot(dense, p.Labels.Len(), dtypes.Float32)
	return oneHot, target
}
