// aviation/airspace.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package aviation

import (
	"github.com/tcengine/tcengine/math"
	"github.com/tcengine/tcengine/util"
)

///////////////////////////////////////////////////////////////////////////
// Area

// Area is a 2D region in the local plane: either a polygon given by its
// vertices or a circle given by its center and radius (nm).
type Area struct {
	Vertices [][2]float32 `json:"vertices,omitempty"`
	Center   [2]float32   `json:"center,omitempty"`
	Radius   float32      `json:"radius,omitempty"`

	bounds math.Extent2D
}

func (a *Area) IsCircle() bool { return len(a.Vertices) == 0 }

func (a *Area) PostDeserialize(e *util.ErrorLogger) {
	switch {
	case len(a.Vertices) > 0 && a.Radius > 0:
		e.Error(ErrInvalidAreaType)
	case len(a.Vertices) == 0 && a.Radius <= 0:
		e.Error(ErrInvalidAreaType)
	case len(a.Vertices) > 0 && len(a.Vertices) < 3:
		e.ErrorString("polygon needs at least 3 vertices, got %d", len(a.Vertices))
	}

	if a.IsCircle() {
		a.bounds = math.Extent2DFromPoints([][2]float32{a.Center}).Expand(a.Radius)
	} else {
		a.bounds = math.Extent2DFromPoints(a.Vertices)
	}
}

func (a *Area) Inside(p [2]float32) bool {
	if a == nil {
		return false
	}
	if a.IsCircle() {
		return math.Distance2f(p, a.Center) <= a.Radius
	}
	if a.bounds != (math.Extent2D{}) && !a.bounds.Inside(p) {
		return false
	}
	return math.PointInPolygon(p, a.Vertices)
}

///////////////////////////////////////////////////////////////////////////
// MinAltSector

// MinAltSector is a minimum vectoring altitude area or, if Restricted is
// set, an area aircraft may not enter at any altitude below MinAlt (a
// zero MinAlt restricts it at all altitudes).
type MinAltSector struct {
	Area
	MinAlt     float32 `json:"min_alt"`
	Restricted bool    `json:"restricted"`
}

// BelowMinimum reports whether altitude is low enough to be checked against
// the sector; points within 25ft of the minimum are allowed.
func (m *MinAltSector) BelowMinimum(alt float32) bool {
	if m.Restricted && m.MinAlt == 0 {
		return true
	}
	return alt <= m.MinAlt-25
}

///////////////////////////////////////////////////////////////////////////
// RouteZone

// RouteZone is the protected corridor around one leg of a published
// route. Aircraft inside it above MinAlt are exempt from MVA checks.
type RouteZone struct {
	Start  [2]float32 `json:"start"`
	End    [2]float32 `json:"end"`
	Width  float32    `json:"width"` // nm, full width
	MinAlt float32    `json:"min_alt"`
}

const DefaultRouteZoneWidth = 6

func (z RouteZone) Contains(p [2]float32, alt float32) bool {
	if z.MinAlt > 0 && alt <= z.MinAlt-25 {
		return false
	}
	w := z.Width
	if w == 0 {
		w = DefaultRouteZoneWidth
	}
	return math.PointSegmentDistance(p, z.Start, z.End) <= w/2
}

// DeviatedFromRoute reports whether the point is outside every one of the
// given route zones.
func DeviatedFromRoute(zones []RouteZone, p [2]float32, alt float32) bool {
	for _, z := range zones {
		if z.Contains(p, alt) {
			return false
		}
	}
	return true
}

///////////////////////////////////////////////////////////////////////////
// Sector

type Sector struct {
	ID         SectorID `json:"-"`
	Name       string   `json:"name"`
	Controller string   `json:"controller"`
	Area
}

///////////////////////////////////////////////////////////////////////////
// Storm

// Storm is a grid of thunderstorm cells centered on Origin. Cell (i, j)
// covers [Origin+i*CellSize, Origin+(i+1)*CellSize) in x and likewise in
// y, for i, j in [-HalfWidth, HalfWidth).
type Storm struct {
	Origin    [2]float32 `json:"origin"`
	CellSize  float32    `json:"cell_size"`
	HalfWidth int        `json:"half_width"`
	Top       float32    `json:"top"` // ft
	// Intensity[i+HalfWidth][j+HalfWidth], 0-10.
	Intensity [][]int `json:"intensity"`
}

func (s *Storm) PostDeserialize(e *util.ErrorLogger) {
	if s.CellSize <= 0 {
		e.ErrorString("storm cell_size must be positive")
	}
	if len(s.Intensity) != 2*s.HalfWidth {
		e.ErrorString("storm intensity has %d columns, expected %d", len(s.Intensity), 2*s.HalfWidth)
	}
	for i, col := range s.Intensity {
		if len(col) != 2*s.HalfWidth {
			e.ErrorString("storm intensity column %d has %d cells, expected %d", i, len(col), 2*s.HalfWidth)
		}
	}
}

// CellIntensity returns the intensity of cell (i, j), or 0 outside the grid.
func (s *Storm) CellIntensity(i, j int) int {
	i, j = i+s.HalfWidth, j+s.HalfWidth
	if i < 0 || i >= len(s.Intensity) || j < 0 || j >= len(s.Intensity[i]) {
		return 0
	}
	return s.Intensity[i][j]
}

// RedCellCount returns the number of cells at or above threshold within
// radius cells of the one containing p; points above the storm top see
// none.
func (s *Storm) RedCellCount(p [2]float32, alt float32, radius int, threshold int) int {
	if alt > s.Top || s.CellSize <= 0 {
		return 0
	}
	ci := math.FloorDiv(p[0]-s.Origin[0], s.CellSize)
	cj := math.FloorDiv(p[1]-s.Origin[1], s.CellSize)

	n := 0
	for i := -radius; i <= radius; i++ {
		for j := -radius; j <= radius; j++ {
			if s.CellIntensity(ci+i, cj+j) >= threshold {
				n++
			}
		}
	}
	return n
}
