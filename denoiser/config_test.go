// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package denoiser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseConfig() *Config {
	return NewConfig([]string{"in.npy"}, []string{"target.npy"}, "/tmp/denoiser")
}

func TestNewConfigDefaults(t *testing.T) {
	cfg := baseConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 1, cfg.BatchSize)
	assert.Equal(t, 0.5, cfg.CacheFraction)
	assert.False(t, cfg.ScalingBounds.IsDisabled())
	assert.False(t, cfg.RotationBounds.IsDisabled())
	assert.False(t, cfg.ShearingBounds.IsDisabled())
	assert.True(t, cfg.TranslationBounds.IsDisabled())
	assert.Equal(t, 3.0, cfg.NonlinStd)
	assert.Equal(t, 0.04, cfg.NonlinScale)
	assert.Equal(t, 0.3, cfg.ProbErosionDilation)
	assert.Equal(t, 4, cfg.MinErosionDilation)
	assert.Equal(t, 5, cfg.MaxErosionDilation)
	assert.Equal(t, 5, cfg.Levels)
	assert.Equal(t, 2, cfg.ConvsPerLevel)
	assert.Equal(t, 5, cfg.KernelSize)
	assert.Equal(t, 16, cfg.Features)
	assert.Equal(t, 2, cfg.FeatureMultiplier)
	assert.Equal(t, "elu", cfg.Activation)
	assert.Equal(t, 2, cfg.SkipNConcatenations)
	assert.True(t, cfg.BatchNorm)
	assert.Equal(t, 1e-4, cfg.LearningRate)
	assert.Equal(t, 1, cfg.WL2Epochs)
	assert.Equal(t, 50, cfg.DiceEpochs)
	assert.Equal(t, 10000, cfg.StepsPerEpoch)
}

func TestValidateRejectsEmptySchedule(t *testing.T) {
	cfg := baseConfig()
	cfg.WL2Epochs, cfg.DiceEpochs = 0, 0
	require.ErrorContains(t, cfg.Validate(), "WL2Epochs or DiceEpochs must be positive")

	cfg.WL2Epochs, cfg.DiceEpochs = -3, 0
	require.ErrorContains(t, cfg.Validate(), "must be positive")

	// The schedule check fires before anything else is inspected.
	require.ErrorContains(t, (&Config{}).Validate(), "WL2Epochs or DiceEpochs")
}

func TestValidateRejectsBadInputs(t *testing.T) {
	cfg := baseConfig()
	cfg.InputLabelPaths, cfg.TargetLabelPaths = nil, nil
	require.ErrorContains(t, cfg.Validate(), "no input label maps")

	cfg = baseConfig()
	cfg.TargetLabelPaths = append(cfg.TargetLabelPaths, "extra.npy")
	require.ErrorContains(t, cfg.Validate(), "parallel")

	cfg = baseConfig()
	cfg.ModelDir = ""
	require.ErrorContains(t, cfg.Validate(), "ModelDir")

	cfg = baseConfig()
	cfg.BatchSize = 0
	require.ErrorContains(t, cfg.Validate(), "BatchSize")

	cfg = baseConfig()
	cfg.StepsPerEpoch = 0
	require.ErrorContains(t, cfg.Validate(), "StepsPerEpoch")

	cfg = baseConfig()
	cfg.LearningRate = -1
	require.ErrorContains(t, cfg.Validate(), "LearningRate")
}
