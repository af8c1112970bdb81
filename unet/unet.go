// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package unet assembles the encoder-decoder segmentation network used by
// the denoiser: a fixed ladder of convolution blocks with max-pool
// downsampling, nearest-neighbor upsampling and skip connections, where the
// finest skips can be suppressed to force reconstruction through the coarse
// representation.
package unet

import (
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/gomlx/pkg/ml/layers/batchnorm"
)

// Config fixes the static architecture of the network.
type Config struct {
	// Levels is the number of resolutions. Every level below the first halves
	// each spatial axis, so inputs must divide by 2^(Levels-1).
	Levels int

	// ConvsPerLevel convolutions run at each level, on both paths.
	ConvsPerLevel int

	// KernelSize of every convolution except the 1x1 likelihood head.
	KernelSize int

	// Features is the channel count of the finest level; level l carries
	// Features*FeatureMultiplier^l channels.
	Features          int
	FeatureMultiplier int

	// Activation names the nonlinearity after each convolution: "elu" (the
	// default) or any name the framework's activation registry resolves
	// ("relu", "swish", ...).
	Activation string

	// SkipNConcatenations suppresses that many of the finest skip
	// connections, so the cleaned map is rebuilt from the coarse
	// representation instead of copied from the noisy input.
	SkipNConcatenations int

	// BatchNorm adds channels-axis batch normalization after every
	// convolution except the likelihood head.
	BatchNorm bool
}

// Build assembles the network over x, shaped [batch, spatial..., channels]
// with 2 or 3 spatial axes. The channel width of x (the one-hot label
// encoding) is also the width of the output heads. It returns the
// unnormalized likelihood map and its channel-axis softmax, both shaped like
// x.
func Build(ctx *context.Context, cfg Config, x *Node) (likelihood, probs *Node) {
	if cfg.Levels < 1 || cfg.ConvsPerLevel < 1 {
		exceptions.Panicf("unet: invalid architecture: %d levels with %d convolutions per level",
			cfg.Levels, cfg.ConvsPerLevel)
	}
	if cfg.SkipNConcatenations < 0 || cfg.SkipNConcatenations > cfg.Levels-1 {
		exceptions.Panicf("unet: cannot suppress %d of %d skip connections",
			cfg.SkipNConcatenations, cfg.Levels-1)
	}
	numClasses := x.Shape().Dim(-1)

	skips := make([]*Node, 0, cfg.Levels-1)
	for level := range cfg.Levels {
		x = convBlock(ctx.Inf("%03d-encoder", level), cfg, x, cfg.Features*pow(cfg.FeatureMultiplier, level))
		if level < cfg.Levels-1 {
			skips = append(skips, x)
			x = MaxPool(x).Window(2).Done()
		}
	}
	for level := cfg.Levels - 2; level >= 0; level-- {
		x = upSample(x)
		if level >= cfg.SkipNConcatenations {
			x = Concatenate([]*Node{skips[level], x}, -1)
		}
		x = convBlock(ctx.Inf("%03d-decoder", level), cfg, x, cfg.Features*pow(cfg.FeatureMultiplier, level))
	}

	likelihood = layers.Convolution(ctx.In("likelihood"), x).
		Filters(numClasses).KernelSize(1).PadSame().Done()
	probs = Softmax(likelihood, -1)
	return
}

// convBlock applies ConvsPerLevel convolutions, each followed by optional
// batch normalization and the configured activation.
func convBlock(ctx *context.Context, cfg Config, x *Node, features int) *Node {
	for conv := range cfg.ConvsPerLevel {
		convCtx := ctx.Inf("conv-%d", conv)
		x = layers.Convolution(convCtx, x).
			Filters(features).KernelSize(cfg.KernelSize).PadSame().Done()
		if cfg.BatchNorm {
			x = batchnorm.New(convCtx.In("norm"), x, -1).Done()
		}
		x = activate(cfg.Activation, x)
	}
	return x
}

// upSample doubles every spatial axis with nearest-neighbor interpolation,
// mirroring the encoder's max-pool halving.
func upSample(x *Node) *Node {
	dims := x.Shape().Dimensions
	sizes := make([]int, len(dims))
	sizes[0] = NoInterpolation
	sizes[len(dims)-1] = NoInterpolation
	for a := 1; a < len(dims)-1; a++ {
		sizes[a] = dims[a] * 2
	}
	return Interpolate(x, sizes...).Nearest().Done()
}

// activate applies the configured nonlinearity. "elu" is implemented here,
// everything else resolves through the framework's activation registry.
func activate(name string, x *Node) *Node {
	if name == "" || name == "elu" {
		return Elu(x)
	}
	return activations.Apply(activations.FromName(name), x)
}

// Elu implements the exponential linear unit: x where x > 0, exp(x)-1
// elsewhere.
func Elu(x *Node) *Node {
	return Where(
		GreaterThan(x, ScalarZero(x.Graph(), x.DType())),
		x,
		MinusOne(Exp(x)))
}

func pow(base, exp int) int {
	r := 1
	for range exp {
		r *= base
	}
	return r
}
