// sim/levels.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import (
	"fmt"
	"log/slog"
	"slices"

	av "github.com/tcengine/tcengine/aviation"
	"github.com/tcengine/tcengine/math"
)

// LevelIndex buckets aircraft by altitude band so that conflict checks
// only need to consider aircraft in the same or adjacent bands. Band i
// covers [base+i*height, base+(i+1)*height). The number of bands is fixed
// when the index is created.
type LevelIndex struct {
	base    float32
	height  float32
	buckets [][]*av.Aircraft
}

// NewLevelIndex returns an index whose lowest band starts at the lowest
// airport elevation rounded down to a multiple of vertSep and whose
// highest band is at least 1500ft above the world ceiling.
func NewLevelIndex(lowestElevation, maxAltitude, vertSep float32) (*LevelIndex, error) {
	if vertSep < 100 {
		return nil, ErrVerticalSepTooSmall
	}
	base := math.Floor(lowestElevation/vertSep) * vertSep
	n := int(math.Ceil((maxAltitude+1500)/vertSep)) - int(base/vertSep)
	if n <= 0 {
		return nil, fmt.Errorf("ceiling %.0f, base %.0f: %w", maxAltitude, base, ErrWorldCeilingTooLow)
	}
	return &LevelIndex{
		base:    base,
		height:  vertSep,
		buckets: make([][]*av.Aircraft, n),
	}, nil
}

func (li *LevelIndex) Base() float32      { return li.base }
func (li *LevelIndex) BandHeight() float32 { return li.height }
func (li *LevelIndex) NumLevels() int      { return len(li.buckets) }

// Band returns the band index for the altitude; it may be outside
// [0, NumLevels()).
func (li *LevelIndex) Band(alt float32) int {
	return math.FloorDiv(alt-li.base, li.height)
}

func (li *LevelIndex) inRange(band int) bool {
	return band >= 0 && band < len(li.buckets)
}

// Update moves the aircraft to the bucket for its current altitude and
// returns true if its bucket changed. Aircraft whose altitude is outside
// the indexed range are left in no bucket with Level -1.
func (li *LevelIndex) Update(ac *av.Aircraft) bool {
	band := li.Band(ac.Altitude)
	if !li.inRange(band) {
		band = -1
	}
	if band == ac.Level {
		return false
	}
	li.Remove(ac)
	if band != -1 {
		li.buckets[band] = append(li.buckets[band], ac)
	}
	ac.Level = band
	return true
}

// Remove takes the aircraft out of the index; it is a no-op if the
// aircraft is not in it.
func (li *LevelIndex) Remove(ac *av.Aircraft) {
	if li.inRange(ac.Level) {
		li.buckets[ac.Level] = slices.DeleteFunc(li.buckets[ac.Level],
			func(a *av.Aircraft) bool { return a.ID == ac.ID })
	}
	ac.Level = -1
}

func (li *LevelIndex) bandRange(lo, hi float32) (int, int) {
	return max(0, li.Band(lo)), min(len(li.buckets)-1, li.Band(hi))
}

// Count returns the number of indexed aircraft in the bands covering
// the altitudes [lo, hi].
func (li *LevelIndex) Count(lo, hi float32) int {
	b0, b1 := li.bandRange(lo, hi)
	n := 0
	for b := b0; b <= b1; b++ {
		n += len(li.buckets[b])
	}
	return n
}

// AircraftInWindow returns the indexed aircraft in the bands covering
// the altitudes [lo, hi].
func (li *LevelIndex) AircraftInWindow(lo, hi float32) []*av.Aircraft {
	var acs []*av.Aircraft
	b0, b1 := li.bandRange(lo, hi)
	for b := b0; b <= b1; b++ {
		acs = append(acs, li.buckets[b]...)
	}
	return acs
}

// Levels returns the buckets, lowest band first. Callers must not modify
// them.
func (li *LevelIndex) Levels() [][]*av.Aircraft {
	return li.buckets
}

func (li *LevelIndex) LogValue() slog.Value {
	n := 0
	for _, b := range li.buckets {
		n += len(b)
	}
	return slog.GroupValue(
		slog.Float64("base", float64(li.base)),
		slog.Float64("height", float64(li.height)),
		slog.Int("levels", len(li.buckets)),
		slog.Int("aircraft", n))
}
