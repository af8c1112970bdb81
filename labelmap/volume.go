// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package labelmap

import (
	"path/filepath"
	"strings"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/core/tensors/numpy"
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
)

// NpzVolumeKey is the entry name preferred when loading volumes from .npz
// archives. If absent and the archive holds exactly one entry, that entry is
// used instead.
const NpzVolumeKey = "vol_data"

// Spec selects where a label catalog comes from. Values wins when non-empty,
// then Path (a 1-D .npy file with the values); if both are empty the catalog
// is inferred by scanning volumes.
type Spec struct {
	Values []int32
	Path   string
}

// IsZero reports whether the spec selects inference.
func (s Spec) IsZero() bool { return len(s.Values) == 0 && s.Path == "" }

// Resolve builds the Catalog selected by spec. volumePaths is only read when
// the spec is empty and the catalog must be inferred.
func Resolve(spec Spec, volumePaths []string) (*Catalog, error) {
	switch {
	case len(spec.Values) > 0:
		return New(spec.Values)
	case spec.Path != "":
		return FromFile(spec.Path)
	default:
		return FromVolumes(volumePaths)
	}
}

// LoadVolume reads a volumetric label map from a .npy or .npz file and
// returns it as an int32 tensor with the file's dimensions. Integer and
// float dtypes are accepted and truncated to int32.
func LoadVolume(path string) (*tensors.Tensor, error) {
	t, err := loadNumpy(path)
	if err != nil {
		return nil, err
	}
	return castToInt32(t)
}

func loadNumpy(path string) (*tensors.Tensor, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".npy":
		t, err := numpy.FromNpyFile(path)
		if err != nil {
			return nil, errors.WithMessagef(err, "loading %q", path)
		}
		return t, nil
	case ".npz":
		entries, err := numpy.FromNpzFile(path)
		if err != nil {
			return nil, errors.WithMessagef(err, "loading %q", path)
		}
		if t, found := entries[NpzVolumeKey]; found {
			return t, nil
		}
		if len(entries) != 1 {
			return nil, errors.Errorf("npz file %q has %d entries and none named %q, cannot choose a volume",
				path, len(entries), NpzVolumeKey)
		}
		var t *tensors.Tensor
		for _, entry := range entries {
			t = entry
		}
		return t, nil
	default:
		return nil, errors.Errorf("unsupported label-map file %q: want .npy or .npz", path)
	}
}

// VolumeShape returns the spatial dimensions of the label map stored at path.
func VolumeShape(path string) ([]int, error) {
	t, err := LoadVolume(path)
	if err != nil {
		return nil, err
	}
	return t.Shape().Dimensions, nil
}

func castToInt32(t *tensors.Tensor) (*tensors.Tensor, error) {
	switch t.DType() {
	case dtypes.Int32:
		return t, nil
	case dtypes.Int8:
		return flatToInt32[int8](t)
	case dtypes.Int16:
		return flatToInt32[int16](t)
	case dtypes.Int64:
		return flatToInt32[int64](t)
	case dtypes.Uint8:
		return flatToInt32[uint8](t)
	case dtypes.Uint16:
		return flatToInt32[uint16](t)
	case dtypes.Uint32:
		return flatToInt32[uint32](t)
	case dtypes.Uint64:
		return flatToInt32[uint64](t)
	case dtypes.Float32:
		return flatToInt32[float32](t)
	case dtypes.Float64:
		return flatToInt32[float64](t)
	default:
		return nil, errors.Errorf("label map has unsupported dtype %s, want an integer or float type", t.DType())
	}
}

func flatToInt32[T interface {
	constraints.Integer | constraints.Float
	dtypes.Supported
}](t *tensors.Tensor) (*tensors.Tensor, error) {
	out := make([]int32, t.Size())
	err := tensors.ConstFlatData(t, func(flat []T) {
		for i, v := range flat {
			out[i] = int32(v)
		}
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "converting label map to int32")
	}
	return tensors.FromFlatDataAndDimensions(out, t.Shape().Dimensions...), nil
}
