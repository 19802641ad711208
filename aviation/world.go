// aviation/world.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package aviation

import (
	"cmp"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/tcengine/tcengine/util"
)

// World is the static description of the simulated airspace: airports
// and their runways, sectors, minimum altitude areas, and storms.
type World struct {
	Name                 string  `json:"name"`
	MaxAltitude          float32 `json:"max_altitude"`
	TerminalCeiling      float32 `json:"terminal_ceiling"`
	TowerHandoffAltitude float32 `json:"tower_handoff_altitude"`
	// Predicted conflicts above this altitude are resolved automatically
	// for aircraft under centre control. Defaults to TerminalCeiling.
	AccStartAltitude float32 `json:"acc_start_altitude"`

	PrimaryBoundary Area           `json:"primary_boundary"`
	Sectors         []Sector       `json:"sectors"`
	MinAltSectors   []MinAltSector `json:"min_alt_sectors"`
	Storms          []Storm        `json:"storms"`
	Airports        []*Airport     `json:"airports"`

	// All runways of all airports, indexed by RunwayID.
	Runways []*Runway `json:"-"`
}

func LoadWorldFile(path string) (*World, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	w, err := LoadWorld(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return w, nil
}

// LoadWorld decodes and validates a world; all validation problems are
// reported together in the returned error.
func LoadWorld(r io.Reader) (*World, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	if dups := util.FindDuplicateJSONKeys(b); len(dups) > 0 {
		var keys []string
		for _, d := range dups {
			keys = append(keys, strings.TrimPrefix(d.Path+"."+d.Key, "."))
		}
		return nil, fmt.Errorf("%w: %s", ErrDuplicateJSONKeys, strings.Join(keys, ", "))
	}

	var w World
	if err := util.UnmarshalJSONBytes(b, &w); err != nil {
		return nil, err
	}

	var e util.ErrorLogger
	w.PostDeserialize(&e)
	if err := e.Err(ErrInvalidWorld); err != nil {
		return nil, err
	}
	return &w, nil
}

func (w *World) PostDeserialize(e *util.ErrorLogger) {
	defer e.CheckDepth(e.CurrentDepth())

	if len(w.Airports) == 0 {
		e.Error(ErrNoAirports)
		return
	}

	// Assign arena IDs first so that cross references can be resolved.
	w.Runways = nil
	for i, ap := range w.Airports {
		ap.ID = AirportID(i)
		for _, rwy := range ap.Runways {
			rwy.ID = RunwayID(len(w.Runways))
			rwy.Airport = ap.ID
			w.Runways = append(w.Runways, rwy)
		}
	}

	seen := make(map[string]bool)
	for _, ap := range w.Airports {
		e.Push("airport " + ap.ICAO)
		if seen[ap.ICAO] {
			e.ErrorString("airport defined multiple times")
		}
		seen[ap.ICAO] = true
		ap.PostDeserialize(e)
		e.Pop()
	}
	for _, ap := range w.Airports {
		e.Push("airport " + ap.ICAO)
		ap.resolveDependencyRules(w, e)
		e.Pop()
	}

	if w.MaxAltitude <= w.LowestAirportElevation() {
		e.Error(ErrInvalidMaximumAltitude)
	}
	if w.TerminalCeiling == 0 {
		w.TerminalCeiling = w.MaxAltitude
	}
	if w.AccStartAltitude == 0 {
		w.AccStartAltitude = w.TerminalCeiling
	}

	if len(w.PrimaryBoundary.Vertices) > 0 || w.PrimaryBoundary.Radius > 0 {
		e.Push("primary_boundary")
		w.PrimaryBoundary.PostDeserialize(e)
		e.Pop()
	}

	for i := range w.Sectors {
		e.Push(fmt.Sprintf("sector %d", i))
		w.Sectors[i].ID = SectorID(i)
		w.Sectors[i].Area.PostDeserialize(e)
		e.Pop()
	}

	for i := range w.MinAltSectors {
		e.Push(fmt.Sprintf("min_alt_sector %d", i))
		w.MinAltSectors[i].Area.PostDeserialize(e)
		e.Pop()
	}
	// Highest minimum first so that the MVA check can stop at the first
	// sector the aircraft is above; unconditional restricted areas lead.
	slices.SortStableFunc(w.MinAltSectors, func(a, b MinAltSector) int {
		ka, kb := a.MinAlt, b.MinAlt
		if a.Restricted && a.MinAlt == 0 {
			ka = 1e9
		}
		if b.Restricted && b.MinAlt == 0 {
			kb = 1e9
		}
		return cmp.Compare(kb, ka)
	})

	for i := range w.Storms {
		e.Push(fmt.Sprintf("storm %d", i))
		w.Storms[i].PostDeserialize(e)
		e.Pop()
	}
}

// Airport returns the airport with the given ID or nil.
func (w *World) Airport(id AirportID) *Airport {
	if id < 0 || int(id) >= len(w.Airports) {
		return nil
	}
	return w.Airports[id]
}

func (w *World) AirportByICAO(icao string) (*Airport, bool) {
	for _, ap := range w.Airports {
		if ap.ICAO == icao {
			return ap, true
		}
	}
	return nil, false
}

// Runway returns the runway with the given ID or nil.
func (w *World) Runway(id RunwayID) *Runway {
	if id < 0 || int(id) >= len(w.Runways) {
		return nil
	}
	return w.Runways[id]
}

func (w *World) Sector(id SectorID) *Sector {
	if id < 0 || int(id) >= len(w.Sectors) {
		return nil
	}
	return &w.Sectors[id]
}

// Approach returns the approach the aircraft is cleared for at its
// arrival airport, if any.
func (w *World) Approach(ac *Aircraft) (*Approach, bool) {
	if ac.Clearance.Approach == "" {
		return nil, false
	}
	ap := w.Airport(ac.ArrivalAirport)
	if ap == nil {
		return nil, false
	}
	return ap.Approach(ac.Clearance.Approach)
}

func (w *World) LowestAirportElevation() float32 {
	if len(w.Airports) == 0 {
		return 0
	}
	return slices.MinFunc(w.Airports, func(a, b *Airport) int {
		return cmp.Compare(a.Elevation, b.Elevation)
	}).Elevation
}

// InsidePrimaryBoundary reports whether p is inside the terminal area; a
// world without a boundary contains everything.
func (w *World) InsidePrimaryBoundary(p [2]float32) bool {
	if len(w.PrimaryBoundary.Vertices) == 0 && w.PrimaryBoundary.Radius == 0 {
		return true
	}
	return w.PrimaryBoundary.Inside(p)
}
