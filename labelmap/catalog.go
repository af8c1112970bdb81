// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package labelmap handles anatomical label catalogs and label-map volumes.
//
// A label map is a volumetric array of integer class identifiers (int32 here).
// A training run works with two catalogs of label values -- one describing the
// noisy input maps, one describing the clean targets -- which can be given
// explicitly, read from a 1-D .npy file, or inferred by scanning the volumes
// themselves. The catalog also provides the dense remapping table used to
// bring raw label values into the contiguous [0, N) index space consumed by
// one-hot encoding and by the losses.
package labelmap

import (
	"slices"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// Catalog is an ordered list of segmentation label values.
//
// The order is the one given by the caller (or ascending, when inferred from
// volumes) and defines the width and channel order of the one-hot encodings
// derived from it. Values must be non-negative; label maps use small integer
// class identifiers.
type Catalog struct {
	labels []int32
	max    int32
}

// New creates a Catalog from explicit label values, keeping their order.
func New(values []int32) (*Catalog, error) {
	if len(values) == 0 {
		return nil, errors.New("label catalog cannot be empty")
	}
	c := &Catalog{labels: slices.Clone(values)}
	for _, v := range values {
		if v < 0 {
			return nil, errors.Errorf("label catalog contains negative value %d, label values must be >= 0", v)
		}
		c.max = max(c.max, v)
	}
	return c, nil
}

// FromFile reads the label values from a 1-D .npy (or .npz) file, keeping
// their stored order.
func FromFile(path string) (*Catalog, error) {
	t, err := LoadVolume(path)
	if err != nil {
		return nil, errors.WithMessagef(err, "reading label catalog from %q", path)
	}
	if t.Rank() > 1 {
		return nil, errors.Errorf("label catalog file %q must hold a 1-D array, got shape %s", path, t.Shape())
	}
	return New(tensors.MustCopyFlatData[int32](t))
}

// FromVolumes infers a Catalog by scanning the given label-map files and
// collecting the union of their values, in ascending order.
func FromVolumes(paths []string) (*Catalog, error) {
	if len(paths) == 0 {
		return nil, errors.New("cannot infer label catalog from an empty list of volumes")
	}
	seen := make(map[int32]struct{})
	for _, path := range paths {
		t, err := LoadVolume(path)
		if err != nil {
			return nil, errors.WithMessagef(err, "inferring label catalog")
		}
		for _, v := range tensors.MustCopyFlatData[int32](t) {
			seen[v] = struct{}{}
		}
	}
	values := make([]int32, 0, len(seen))
	for v := range seen {
		values = append(values, v)
	}
	slices.Sort(values)
	return New(values)
}

// Labels returns a copy of the catalog values, in catalog order.
func (c *Catalog) Labels() []int32 { return slices.Clone(c.labels) }

// Len returns the number of entries, i.e. the width of one-hot encodings
// built from this catalog.
func (c *Catalog) Len() int { return len(c.labels) }

// MaxLabel returns the largest label value in the catalog.
func (c *Catalog) MaxLabel() int32 { return c.max }

// Unique returns a catalog with the sorted unique values of c.
// Remapping of raw label maps is always done against sorted unique values.
func (c *Catalog) Unique() *Catalog {
	values := c.Labels()
	slices.Sort(values)
	values = slices.Compact(values)
	return &Catalog{labels: values, max: c.max}
}

// CompactLUT returns a dense lookup table of size MaxLabel()+1 mapping each
// catalog value to its catalog position. For duplicated values the first
// position wins. Values not in the catalog map to 0, the background index.
//
// The table is meant to be used as a graph constant, gathering with the raw
// label values as indices.
func (c *Catalog) CompactLUT() []int32 {
	lut := make([]int32, c.max+1)
	for idx := len(c.labels) - 1; idx >= 0; idx-- {
		lut[c.labels[idx]] = int32(idx)
	}
	return lut
}
