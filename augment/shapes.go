// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package augment

import (
	"github.com/pkg/errors"
)

// ResolveCropShape computes the working spatial shape of the pipeline from
// the native volume shape. crop may be nil (keep the native shape), hold a
// single value applied to every axis, or one value per axis. Each axis is
// clamped to the native extent and then rounded down to a multiple of
// divisor, so the result always fits inside the volume and survives the
// network's halving path (divisor = 2^levels).
func ResolveCropShape(native, crop []int, divisor int) ([]int, error) {
	if divisor < 1 {
		return nil, errors.Errorf("shape divisor must be >= 1, got %d", divisor)
	}
	if len(native) == 0 {
		return nil, errors.New("native volume shape is empty")
	}
	for _, d := range native {
		if d < 1 {
			return nil, errors.Errorf("invalid native volume shape %v", native)
		}
	}
	resolved := make([]int, len(native))
	switch {
	case len(crop) == 0:
		copy(resolved, native)
	case len(crop) == 1:
		for i := range resolved {
			resolved[i] = crop[0]
		}
	case len(crop) == len(native):
		copy(resolved, crop)
	default:
		return nil, errors.Errorf("crop shape %v has %d axes, volumes have %d", crop, len(crop), len(native))
	}
	for i, d := range resolved {
		if d < 1 {
			return nil, errors.Errorf("invalid crop shape %v", resolved)
		}
		if d > native[i] {
			d = native[i]
		}
		d -= d % divisor
		if d == 0 {
			return nil, errors.Errorf("axis %d: %d voxels cannot hold a multiple of %d", i, native[i], divisor)
		}
		resolved[i] = d
	}
	return resolved, nil
}
