// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package labelmap

import (
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// WeightsSpec selects the relative importance with which label-map pairs are
// sampled: explicit values, or a 1-D .npy file holding them. An empty spec
// means uniform sampling.
type WeightsSpec struct {
	Values []float64
	Path   string
}

// IsZero reports whether the spec selects uniform sampling.
func (s WeightsSpec) IsZero() bool { return len(s.Values) == 0 && s.Path == "" }

// ResolveWeights loads and normalizes sampling weights for n label-map pairs.
// The weights don't have to be probabilistic, only non-negative with a
// positive sum; they are returned normalized to sum to 1. An empty spec
// returns nil, meaning uniform sampling.
func ResolveWeights(spec WeightsSpec, n int) ([]float64, error) {
	var weights []float64
	switch {
	case len(spec.Values) > 0:
		weights = append(weights, spec.Values...)
	case spec.Path != "":
		t, err := numpyFloats(spec.Path)
		if err != nil {
			return nil, errors.WithMessagef(err, "reading sampling weights from %q", spec.Path)
		}
		weights = t
	default:
		return nil, nil
	}
	if len(weights) != n {
		return nil, errors.Errorf("got %d sampling weights for %d label-map pairs", len(weights), n)
	}
	var sum float64
	for i, w := range weights {
		if w < 0 {
			return nil, errors.Errorf("sampling weight #%d is negative (%g)", i, w)
		}
		sum += w
	}
	if sum <= 0 {
		return nil, errors.New("sampling weights must have a positive sum")
	}
	for i := range weights {
		weights[i] /= sum
	}
	return weights, nil
}

func numpyFloats(path string) ([]float64, error) {
	t, err := loadNumpy(path)
	if err != nil {
		return nil, err
	}
	if t.Rank() > 1 {
		return nil, errors.Errorf("weights file must hold a 1-D array, got shape %s", t.Shape())
	}
	out := make([]float64, t.Size())
	switch t.DType() {
	case dtypes.Float64:
		copy(out, tensors.MustCopyFlatData[float64](t))
	case dtypes.Float32:
		for i, v := range tensors.MustCopyFlatData[float32](t) {
			out[i] = float64(v)
		}
	default:
		asInt, err := castToInt32(t)
		if err != nil {
			return nil, err
		}
		for i, v := range tensors.MustCopyFlatData[int32](asInt) {
			out[i] = float64(v)
		}
	}
	return out, nil
}
