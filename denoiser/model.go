// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package denoiser

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"

	"github.com/gomlx/synthseg/augment"
	"github.com/gomlx/synthseg/unet"
)

// model chains the augmentation pipeline into the UNet to form the
// end-to-end trainable graph. Both phases build their graphs through the
// same context scopes, so the Dice phase starts from the variables the WL2
// phase trained.
type model struct {
	pipeline *augment.Pipeline
	network  unet.Config
}

// forward builds the full graph over one batch of raw volume pairs:
// augmentation of the pair, then the network over the one-hot noisy branch.
func (m *model) forward(ctx *context.Context, inputs []*Node) (likelihood, probs, target *Node) {
	var oneHot *Node
	oneHot, target = m.pipeline.Apply(ctx, inputs[0], inputs[1])
	likelihood, probs = unet.Build(ctx, m.network, oneHot)
	return
}

// wl2Model is the warm-up phase model function: the prediction fit by the
// loss is the pre-softmax likelihood. The augmented raw target rides along
// as a second output for the loss to consume.
func (m *model) wl2Model(ctx *context.Context, _ any, inputs []*Node) []*Node {
	likelihood, _, target := m.forward(ctx, inputs)
	return []*Node{likelihood, target}
}

// diceModel is the fine-tuning phase model function: the prediction is the
// softmax probabilities.
func (m *model) diceModel(ctx *context.Context, _ any, inputs []*Node) []*Node {
	_, probs, target := m.forward(ctx, inputs)
	return []*Node{probs, target}
}
