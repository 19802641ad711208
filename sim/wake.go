// sim/wake.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import (
	"log/slog"
	"slices"

	av "github.com/tcengine/tcengine/aviation"
	"github.com/tcengine/tcengine/log"
	"github.com/tcengine/tcengine/math"
)

// WakeZone is one segment of the wake trail left behind an aircraft.
type WakeZone struct {
	ID       int
	Owner    av.AircraftID
	Start    [2]float32 // older end
	End      [2]float32
	Altitude float32
	Wake     av.WakeCategory
	Recat    av.RecatCategory
	// Distance flown by the owner since it laid the zone, nm.
	DistFromOwner float32
	AgeS          float32
}

type wakeTrail struct {
	lastDot [2]float32
	lastAlt float32
	zones   []*WakeZone // oldest first
}

// WakeManager maintains the wake trails of all wake-generating aircraft
// and answers whether a follower is inside one it must stay clear of.
// Zones are bucketed by altitude using the same banding as the
// LevelIndex.
type WakeManager struct {
	cfg     WakeConfig
	vertSep float32
	matrix  av.WakeMatrix
	levels  *LevelIndex

	bands  [][]*WakeZone
	trails map[av.AircraftID]*wakeTrail
	nextID int

	post func(Event)
	lg   *log.Logger
}

func NewWakeManager(cfg WakeConfig, vertSep float32, matrix av.WakeMatrix, levels *LevelIndex,
	post func(Event), lg *log.Logger) *WakeManager {
	return &WakeManager{
		cfg:     cfg,
		vertSep: vertSep,
		matrix:  matrix,
		levels:  levels,
		bands:   make([][]*WakeZone, levels.NumLevels()),
		trails:  make(map[av.AircraftID]*wakeTrail),
		post:    post,
		lg:      lg,
	}
}

// Update ages existing zones by dt seconds, drops expired ones, and lays
// new zones behind every airborne wake-generating aircraft that has
// moved at least the trail spacing since its last zone.
func (wm *WakeManager) Update(aircraft []*av.Aircraft, dt float32) {
	for _, ac := range aircraft {
		tr, ok := wm.trails[ac.ID]
		if ok {
			for _, z := range tr.zones {
				z.AgeS += dt
			}
			n := 0
			for n < len(tr.zones) && tr.zones[n].AgeS > wm.cfg.MaxAgeS {
				n++
			}
			wm.drop(ac, tr, n)
		}

		if !ac.Valid() || ac.Status.OnRunway() || !wm.matrix.GeneratesWake(ac.WakeCategory) {
			continue
		}

		if !ok {
			wm.trails[ac.ID] = &wakeTrail{lastDot: ac.Position, lastAlt: ac.Altitude}
			continue
		}

		d := math.Distance2f(tr.lastDot, ac.Position)
		if d < wm.cfg.TrailSpacing {
			continue
		}
		for _, z := range tr.zones {
			z.DistFromOwner += d
		}

		z := &WakeZone{
			ID:       wm.nextID,
			Owner:    ac.ID,
			Start:    tr.lastDot,
			End:      ac.Position,
			Altitude: (tr.lastAlt + ac.Altitude) / 2,
			Wake:     ac.WakeCategory,
			Recat:    ac.Recat,
		}
		wm.nextID++
		tr.zones = append(tr.zones, z)
		tr.lastDot, tr.lastAlt = ac.Position, ac.Altitude
		wm.addToBand(z)
		wm.post(Event{Type: WakeZoneAddedEvent, Aircraft: ac.ID, Callsign: ac.Callsign, WakeZone: z.ID})

		if excess := len(tr.zones) - wm.cfg.MaxZones; excess > 0 {
			wm.drop(ac, tr, excess)
		}
	}

	// Trails whose owner no longer exists; RemoveOwner normally handles
	// these but the aircraft may have been removed without it.
	if len(wm.trails) > len(aircraft) {
		live := make(map[av.AircraftID]bool, len(aircraft))
		for _, ac := range aircraft {
			live[ac.ID] = true
		}
		for id := range wm.trails {
			if !live[id] {
				wm.lg.Warn("sweeping wake trail of missing aircraft", slog.Int("aircraft", int(id)))
				wm.RemoveOwner(id)
			}
		}
	}
}

// drop removes the n oldest zones of the trail.
func (wm *WakeManager) drop(ac *av.Aircraft, tr *wakeTrail, n int) {
	for _, z := range tr.zones[:n] {
		wm.removeFromBand(z)
		wm.post(Event{Type: WakeZoneRemovedEvent, Aircraft: ac.ID, Callsign: ac.Callsign, WakeZone: z.ID})
	}
	tr.zones = tr.zones[n:]
}

func (wm *WakeManager) band(z *WakeZone) int {
	return wm.levels.Band(z.Altitude)
}

func (wm *WakeManager) addToBand(z *WakeZone) {
	if b := wm.band(z); b >= 0 && b < len(wm.bands) {
		wm.bands[b] = append(wm.bands[b], z)
	}
}

func (wm *WakeManager) removeFromBand(z *WakeZone) {
	if b := wm.band(z); b >= 0 && b < len(wm.bands) {
		wm.bands[b] = slices.DeleteFunc(wm.bands[b], func(o *WakeZone) bool { return o == z })
	}
}

// RemoveOwner deletes every zone laid by the given aircraft.
func (wm *WakeManager) RemoveOwner(id av.AircraftID) {
	tr, ok := wm.trails[id]
	if !ok {
		return
	}
	for _, z := range tr.zones {
		wm.removeFromBand(z)
		wm.post(Event{Type: WakeZoneRemovedEvent, Aircraft: id, WakeZone: z.ID})
	}
	delete(wm.trails, id)

	// Zones may remain in a band if their owner's trail was replaced;
	// make sure nothing owned by the aircraft is left behind.
	for b := range wm.bands {
		wm.bands[b] = slices.DeleteFunc(wm.bands[b], func(z *WakeZone) bool { return z.Owner == id })
	}
}

// Infringes returns the owner of a wake zone the follower is inside and
// must be separated from, if any. Wake sinks, so only zones between the
// follower's altitude and one vertical separation above it count.
func (wm *WakeManager) Infringes(follower *av.Aircraft) (av.AircraftID, bool) {
	b := wm.levels.Band(follower.Altitude)
	for _, band := range []int{b, b + 1} {
		if band < 0 || band >= len(wm.bands) {
			continue
		}
		for _, z := range wm.bands[band] {
			if z.Owner == follower.ID {
				continue
			}
			if z.Altitude < follower.Altitude || z.Altitude > follower.Altitude+wm.vertSep {
				continue
			}
			if math.PointSegmentDistance(follower.Position, z.Start, z.End) > wm.cfg.HalfWidth {
				continue
			}
			req := wm.matrix.Distance(z.Wake, z.Recat, follower.WakeCategory, follower.Recat)
			if req > 0 && z.DistFromOwner < req {
				return z.Owner, true
			}
		}
	}
	return NoAircraft, false
}

// Zones returns copies of all current zones in the order they were laid.
func (wm *WakeManager) Zones() []WakeZone {
	var zones []WakeZone
	for _, tr := range wm.trails {
		for _, z := range tr.zones {
			zones = append(zones, *z)
		}
	}
	slices.SortFunc(zones, func(a, b WakeZone) int { return a.ID - b.ID })
	return zones
}

// ZoneCount returns the number of zones owned by the aircraft.
func (wm *WakeManager) ZoneCount(id av.AircraftID) int {
	if tr, ok := wm.trails[id]; ok {
		return len(tr.zones)
	}
	return 0
}
