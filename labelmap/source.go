// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package labelmap

import (
	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pbnjay/memory"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

// Source serves the label-map volumes of one side of the training pairs,
// optionally preloaded into memory. Reads after a successful Preload are
// served from the cache; otherwise every Volume call hits the disk, which is
// how the volumes are consumed when they don't fit in memory.
//
// Source is not safe for concurrent use; the training loop pulls batches from
// a single goroutine.
type Source struct {
	paths []string
	cache []*tensors.Tensor
}

// NewSource creates a Source for the given volume files.
func NewSource(paths []string) *Source {
	return &Source{paths: paths}
}

// Len returns the number of volumes.
func (s *Source) Len() int { return len(s.paths) }

// Path returns the file path of volume i.
func (s *Source) Path(i int) string { return s.paths[i] }

// Cached reports whether the volumes are held in memory.
func (s *Source) Cached() bool { return s.cache != nil }

// Preload loads every volume into memory, if the projected total stays within
// maxFraction of the system memory -- the projection assumes all volumes have
// the first one's size, which holds for training data prepared for this
// trainer. It returns whether the cache was populated. maxFraction <= 0
// disables preloading.
func (s *Source) Preload(maxFraction float64) (bool, error) {
	if maxFraction <= 0 || len(s.paths) == 0 || s.cache != nil {
		return s.cache != nil, nil
	}
	first, err := LoadVolume(s.paths[0])
	if err != nil {
		return false, err
	}
	budget := uint64(maxFraction * float64(memory.TotalMemory()))
	projected := uint64(first.Memory()) * uint64(len(s.paths))
	if projected > budget {
		klog.Infof("label maps stay on disk: %d volumes (~%s) exceed the %s cache budget",
			len(s.paths), humanize.Bytes(projected), humanize.Bytes(budget))
		return false, nil
	}

	pBar := progressbar.NewOptions(len(s.paths),
		progressbar.OptionSetDescription("Loading label maps"),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("volumes"),
		progressbar.OptionSetTheme(progressbar.ThemeUnicode),
	)
	cache := make([]*tensors.Tensor, len(s.paths))
	cache[0] = first
	_ = pBar.Add(1)
	var total = uint64(first.Memory())
	for i := 1; i < len(s.paths); i++ {
		if cache[i], err = LoadVolume(s.paths[i]); err != nil {
			_ = pBar.Close()
			return false, err
		}
		total += uint64(cache[i].Memory())
		_ = pBar.Add(1)
	}
	_ = pBar.Close()
	s.cache = cache
	klog.Infof("cached %d label maps (%s) in memory", len(s.paths), humanize.Bytes(total))
	return true, nil
}

// Volume returns volume i, from the cache when preloaded.
func (s *Source) Volume(i int) (*tensors.Tensor, error) {
	if i < 0 || i >= len(s.paths) {
		return nil, errors.Errorf("volume index %d out of range [0, %d)", i, len(s.paths))
	}
	if s.cache != nil {
		return s.cache[i], nil
	}
	return LoadVolume(s.paths[i])
}
