// sim/sector.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import (
	"log/slog"

	av "github.com/tcengine/tcengine/aviation"
	"github.com/tcengine/tcengine/log"
	"github.com/tcengine/tcengine/math"

	lru "github.com/hashicorp/golang-lru/v2"
)

type sectorCell struct{ i, j int }

// SectorResolver hands aircraft between the tower, the numbered terminal
// sectors, and the centre. Sector membership is resolved from the
// position the aircraft will reach TrackExtrapolateS seconds ahead so
// that aircraft skirting a boundary are not passed back and forth.
type SectorResolver struct {
	cfg   SectorConfig
	world *av.World
	// Point-in-sector results keyed by position quantized to
	// CacheQuantumNM; SectorCentre is stored when no sector contains the
	// cell.
	cache *lru.Cache[sectorCell, av.SectorID]

	post func(Event)
	lg   *log.Logger
}

func NewSectorResolver(cfg SectorConfig, world *av.World, post func(Event), lg *log.Logger) *SectorResolver {
	if cfg.CacheSize <= 0 {
		lg.Warn("invalid sector cache size, using the default", slog.Int("cache_size", cfg.CacheSize))
		cfg.CacheSize = DefaultConfig().Sectors.CacheSize
	}
	// lru.New only fails for non-positive sizes.
	cache, _ := lru.New[sectorCell, av.SectorID](cfg.CacheSize)

	return &SectorResolver{
		cfg:   cfg,
		world: world,
		cache: cache,
		post:  post,
		lg:    lg,
	}
}

// SectorAt returns the numbered sector containing p, resolved at the
// center of p's cache cell.
func (sr *SectorResolver) SectorAt(p [2]float32) (av.SectorID, bool) {
	q := sr.cfg.CacheQuantumNM
	cell := sectorCell{math.FloorDiv(p[0], q), math.FloorDiv(p[1], q)}
	id, ok := sr.cache.Get(cell)
	if !ok {
		c := [2]float32{(float32(cell.i) + 0.5) * q, (float32(cell.j) + 0.5) * q}
		id = av.SectorCentre
		for i := range sr.world.Sectors {
			if sr.world.Sectors[i].Inside(c) {
				id = sr.world.Sectors[i].ID
				break
			}
		}
		sr.cache.Add(cell, id)
	}
	return id, id != av.SectorCentre
}

func (sr *SectorResolver) extrapolate(ac *av.Aircraft) [2]float32 {
	return math.Add2f(ac.Position, math.Scale2f(ac.Track, sr.cfg.TrackExtrapolateS/3600))
}

// Update applies the sector transitions for every airborne aircraft.
func (sr *SectorResolver) Update(aircraft []*av.Aircraft) {
	for _, ac := range aircraft {
		if !ac.Valid() || ac.Status.OnRunway() {
			continue
		}
		if to := sr.next(ac); to != ac.Sector {
			from := ac.Sector
			ac.Sector = to
			sr.lg.Debug("sector change", slog.String("callsign", ac.Callsign),
				slog.String("from", from.String()), slog.String("to", to.String()))
			sr.post(Event{Type: SectorChangedEvent, Aircraft: ac.ID, Callsign: ac.Callsign,
				FromSector: from, ToSector: to})
		}
	}
}

// next returns the sector that should be controlling the aircraft.
func (sr *SectorResolver) next(ac *av.Aircraft) av.SectorID {
	ceiling := sr.world.TerminalCeiling
	inside := sr.world.InsidePrimaryBoundary(ac.Position)

	switch ac.Sector {
	case av.SectorTower:
		if ac.Type != av.FlightTypeDeparture || ac.Altitude < sr.world.TowerHandoffAltitude {
			return av.SectorTower
		}
		if ac.Altitude > ceiling || !inside {
			return av.SectorCentre
		}
		if id, ok := sr.SectorAt(sr.extrapolate(ac)); ok {
			return id
		}
		if id, ok := sr.SectorAt(ac.Position); ok {
			return id
		}
		return av.SectorCentre

	case av.SectorCentre:
		descending := ac.VerticalRate < 0 || ac.Type == av.FlightTypeArrival
		if ac.Altitude >= ceiling || !inside || !descending {
			return av.SectorCentre
		}
		if id, ok := sr.SectorAt(sr.extrapolate(ac)); ok {
			return id
		}
		return av.SectorCentre

	default:
		if ac.Altitude > ceiling || !inside {
			return av.SectorCentre
		}
		if sec := sr.world.Sector(ac.Sector); sec != nil && sec.Inside(ac.Position) {
			return ac.Sector
		}
		// Outside the current sector: only move if the aircraft is
		// heading into a different one.
		if id, ok := sr.SectorAt(sr.extrapolate(ac)); ok {
			return id
		}
		return ac.Sector
	}
}
