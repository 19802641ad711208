// sim/conflict.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import (
	"fmt"
	"log/slog"
	"slices"

	av "github.com/tcengine/tcengine/aviation"
	"github.com/tcengine/tcengine/log"
	"github.com/tcengine/tcengine/math"
)

type ConflictReason int

const (
	ReasonNormal ConflictReason = iota
	ReasonSameApproach
	ReasonParallelDependentApproach
	ReasonParallelIndependentApproach // NTZ
	ReasonMVA
	ReasonSIDSTARMVA
	ReasonRestricted
	ReasonWake
	ReasonStorm
	ReasonEmergencySeparation
)

var reasonNames = []string{"normal", "same-approach", "parallel-dependent", "ntz", "mva", "sid-star-mva",
	"restricted", "wake", "storm", "emergency"}

func (r ConflictReason) String() string {
	if r >= 0 && int(r) < len(reasonNames) {
		return reasonNames[r]
	}
	return fmt.Sprintf("reason(%d)", int(r))
}

func (r ConflictReason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Conflict is one loss of separation: between two aircraft, between an
// aircraft and a minimum altitude area, an aircraft inside a wake zone
// (Aircraft2 is the wake's owner), or an aircraft in a storm.
type Conflict struct {
	Aircraft1 av.AircraftID
	Aircraft2 av.AircraftID // NoAircraft for single-aircraft conflicts
	Callsign1 string
	Callsign2 string `json:",omitempty"`
	// Index into World.MinAltSectors, or -1.
	MinAltSector     int
	Reason           ConflictReason
	LatSepRequiredNM float32
	VertSepRequired  float32 `json:",omitempty"`
}

func (c Conflict) IsPair() bool { return c.Aircraft2 != NoAircraft }

type conflictKey struct {
	a1, a2 av.AircraftID
	msa    int
	wake   bool
}

// key identifies the conflict across ticks irrespective of its reason,
// except that a wake conflict and a separation conflict between the same
// two aircraft are distinct.
func (c Conflict) key() conflictKey {
	a1, a2 := c.Aircraft1, c.Aircraft2
	if c.IsPair() && c.Reason != ReasonWake && a2 < a1 {
		a1, a2 = a2, a1
	}
	return conflictKey{a1: a1, a2: a2, msa: c.MinAltSector, wake: c.Reason == ReasonWake}
}

func (c Conflict) String() string {
	if c.IsPair() {
		return fmt.Sprintf("%s/%s %s %.1fnm", c.Callsign1, c.Callsign2, c.Reason, c.LatSepRequiredNM)
	}
	return fmt.Sprintf("%s %s msa %d", c.Callsign1, c.Reason, c.MinAltSector)
}

func (c Conflict) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("aircraft1", c.Callsign1),
		slog.String("reason", c.Reason.String()),
		slog.Float64("lat_sep", float64(c.LatSepRequiredNM)),
	}
	if c.IsPair() {
		attrs = append(attrs, slog.String("aircraft2", c.Callsign2))
	}
	if c.MinAltSector != -1 {
		attrs = append(attrs, slog.Int("min_alt_sector", c.MinAltSector))
	}
	return slog.GroupValue(attrs...)
}

///////////////////////////////////////////////////////////////////////////
// Separation rules

// separationRules evaluates the pairwise and single-aircraft separation
// rules against the static world; it is shared by the detector and the
// trajectory predictor.
type separationRules struct {
	cfg   SeparationConfig
	world *av.World
}

// inhibited reports whether the pair is exempt from separation checks.
func (s *separationRules) inhibited(a1, a2 *av.Aircraft) bool {
	if a1.ID == a2.ID {
		return true
	}
	if s.belowInhibitAGL(a1) || s.belowInhibitAGL(a2) {
		return true
	}
	if s.inDifferentApproachNOZs(a1, a2) || s.inDifferentDepartureNOZs(a1, a2) {
		return true
	}
	if s.divergentDepartures(a1, a2) {
		return true
	}
	if a1.Status.Has(av.StatusRecentGoAround) || a2.Status.Has(av.StatusRecentGoAround) {
		return true
	}
	return a1.Status.Has(av.StatusVisualApproach) || a2.Status.Has(av.StatusVisualApproach)
}

func (s *separationRules) belowInhibitAGL(ac *av.Aircraft) bool {
	var elev float32
	if ap := s.world.Airport(ac.HomeAirport()); ap != nil {
		elev = ap.Elevation
	}
	return ac.Altitude-elev < s.cfg.InhibitBelowAGL
}

// inDifferentApproachNOZs reports whether the two aircraft are each in
// the normal operating zone of their own approach within one group of
// simultaneous approaches, and the zones differ.
func (s *separationRules) inDifferentApproachNOZs(a1, a2 *av.Aircraft) bool {
	if a1.ArrivalAirport == av.NoAirport || a1.ArrivalAirport != a2.ArrivalAirport {
		return false
	}
	if a1.Clearance.Approach == "" || a2.Clearance.Approach == "" {
		return false
	}
	ap := s.world.Airport(a1.ArrivalAirport)
	if ap == nil {
		return false
	}

	zoneFor := func(group []av.ApproachNOZ, ac *av.Aircraft) int {
		for i := range group {
			if slices.Contains(group[i].Approaches, ac.Clearance.Approach) && group[i].Inside(ac.Position) {
				return i
			}
		}
		return -1
	}
	for _, group := range ap.ApproachNOZGroups {
		z1, z2 := zoneFor(group, a1), zoneFor(group, a2)
		if z1 != -1 && z2 != -1 && z1 != z2 {
			return true
		}
	}
	return false
}

func (s *separationRules) inDifferentDepartureNOZs(a1, a2 *av.Aircraft) bool {
	if a1.Type != av.FlightTypeDeparture || a2.Type != av.FlightTypeDeparture {
		return false
	}
	if a1.DepartureAirport == av.NoAirport || a1.DepartureAirport != a2.DepartureAirport || a1.Runway == a2.Runway {
		return false
	}
	r1, r2 := s.world.Runway(a1.Runway), s.world.Runway(a2.Runway)
	if r1 == nil || r2 == nil || r1.DepartureNOZ == nil || r2.DepartureNOZ == nil {
		return false
	}
	return r1.DepartureNOZ.Inside(a1.Position) && r2.DepartureNOZ.Inside(a2.Position)
}

// divergentDepartures reports whether two departures from the same
// airport that are both allowed to diverge have tracks diverging by at
// least the configured angle.
func (s *separationRules) divergentDepartures(a1, a2 *av.Aircraft) bool {
	if !a1.Status.Has(av.StatusDivergentDepartureAllowed) || !a2.Status.Has(av.StatusDivergentDepartureAllowed) {
		return false
	}
	if a1.DepartureAirport == av.NoAirport || a1.DepartureAirport != a2.DepartureAirport {
		return false
	}
	ap := s.world.Airport(a1.DepartureAirport)
	if ap == nil {
		return false
	}

	left, right := a1, a2
	b1 := math.VectorHeading(math.Sub2f(a1.Position, ap.Position))
	b2 := math.VectorHeading(math.Sub2f(a2.Position, ap.Position))
	if math.HeadingSignedTurn(b1, b2) < 0 {
		left, right = a2, a1
	}
	return math.HeadingSignedTurn(left.TrackHeading(), right.TrackHeading()) >= s.cfg.DivergentDepartureDeg
}

// minima returns the lateral (nm) and vertical (ft) separation the pair
// requires and the reason that applies if it is lost.
func (s *separationRules) minima(a1, a2 *av.Aircraft) (float32, float32, ConflictReason) {
	lat, vert, reason := s.cfg.MinLateralSep, s.cfg.VerticalSep, ReasonNormal

	if a1.Status.Has(av.StatusEmergency) || a2.Status.Has(av.StatusEmergency) {
		vert /= 2
		reason = ReasonEmergencySeparation
	}

	app1, ok1 := s.world.Approach(a1)
	app2, ok2 := s.world.Approach(a2)
	if !ok1 || !ok2 || a1.ArrivalAirport != a2.ArrivalAirport {
		return lat, vert, reason
	}
	est1 := app1.Established(a1.Position, a1.TrackHeading())
	est2 := app2.Established(a2.Position, a2.TrackHeading())

	if app1.Runway != app2.Runway {
		if est1 && est2 {
			lat, reason = s.cfg.DependentParallelSep, ReasonParallelDependentApproach
		}
		if s.inNTZ(a1, a2, app1.Runway, app2.Runway) {
			reason = ReasonParallelIndependentApproach
		}
	} else if est1 && est2 &&
		app1.DistanceToThreshold(a1.Position) < s.cfg.SameApproachMaxDist &&
		app2.DistanceToThreshold(a2.Position) < s.cfg.SameApproachMaxDist {
		lat, reason = s.cfg.SameApproachSep, ReasonSameApproach
	}
	return lat, vert, reason
}

// inNTZ reports whether either aircraft is inside a no-transgression zone
// of a runway configuration that has both runways as arrival runways.
func (s *separationRules) inNTZ(a1, a2 *av.Aircraft, r1, r2 av.RunwayID) bool {
	ap := s.world.Airport(a1.ArrivalAirport)
	if ap == nil {
		return false
	}
	for _, cfg := range ap.Configurations {
		if !slices.Contains(cfg.Arrivals, r1) || !slices.Contains(cfg.Arrivals, r2) {
			continue
		}
		for i := range cfg.NTZs {
			if cfg.NTZs[i].Inside(a1.Position) || cfg.NTZs[i].Inside(a2.Position) {
				return true
			}
		}
	}
	return false
}

// separated classifies the pair's separation: lost (a conflict),
// nearly lost (a potential conflict), or fine.
func (s *separationRules) separated(dist, dalt, lat, vert float32) (conflict, potential bool) {
	if dist < lat && dalt < vert-s.cfg.AltitudeTolerance {
		return true, false
	}
	return false, dist < lat+s.cfg.PotentialMargin && dalt < vert
}

// minAltConflict returns the index of the minimum altitude sector the
// aircraft is busting, if any, and the reason.
func (s *separationRules) minAltConflict(ac *av.Aircraft) (int, ConflictReason, bool) {
	return s.minAltConflictAt(ac, ac.Position, ac.Altitude)
}

// minAltConflictAt is minAltConflict for the aircraft at a given
// position and altitude; the predictor uses it for projected points.
func (s *separationRules) minAltConflictAt(ac *av.Aircraft, p [2]float32, alt float32) (int, ConflictReason, bool) {
	vertCaptured := ac.Status.Has(av.StatusGlideslopeCaptured) || ac.Status.Has(av.StatusVisualApproach)
	aboveROC := false
	if app, ok := s.world.Approach(ac); ok && !vertCaptured {
		aboveROC = app.Established(p, ac.TrackHeading()) && app.AboveGlideslopeROC(p, alt)
	}
	deviated := av.DeviatedFromRoute(ac.RouteZones, p, alt)

	for i := range s.world.MinAltSectors {
		msa := &s.world.MinAltSectors[i]
		if !msa.BelowMinimum(alt) {
			// Sorted by descending minimum; nothing later applies.
			break
		}
		if !msa.Inside(p) {
			continue
		}
		if msa.Restricted {
			return i, ReasonRestricted, true
		}
		if vertCaptured || aboveROC {
			continue
		}
		if (!ac.Clearance.Vectored && !deviated) || ac.Status.Has(av.StatusRecentGoAround) {
			continue
		}
		if deviated {
			return i, ReasonSIDSTARMVA, true
		}
		return i, ReasonMVA, true
	}
	return -1, ReasonNormal, false
}

///////////////////////////////////////////////////////////////////////////
// ConflictDetector

// ConflictDetector recomputes the conflict and potential conflict lists
// from scratch each tick. It never modifies aircraft.
type ConflictDetector struct {
	rules     separationRules
	stormCfg  StormConfig
	wake      *WakeManager
	aircraft  *AircraftTable
	lg        *log.Logger
	Conflicts []Conflict
	Potential []Conflict

	pairs map[conflictKey]int
}

func NewConflictDetector(cfg Config, world *av.World, wake *WakeManager, aircraft *AircraftTable,
	lg *log.Logger) *ConflictDetector {
	return &ConflictDetector{
		rules:    separationRules{cfg: cfg.Separation, world: world},
		stormCfg: cfg.Storms,
		wake:     wake,
		aircraft: aircraft,
		lg:       lg,
		pairs:    make(map[conflictKey]int),
	}
}

// Detect scans every pair of aircraft in each level and the level above
// it, then checks each eligible aircraft for minimum altitude, wake, and
// storm conflicts.
func (cd *ConflictDetector) Detect(levels [][]*av.Aircraft, eligible []*av.Aircraft) {
	cd.Conflicts = cd.Conflicts[:0]
	cd.Potential = cd.Potential[:0]
	clear(cd.pairs)

	for i, level := range levels {
		for j, a1 := range level {
			if !a1.Valid() {
				continue
			}
			for _, a2 := range level[j+1:] {
				cd.checkPair(a1, a2)
			}
			if i+1 < len(levels) {
				for _, a2 := range levels[i+1] {
					cd.checkPair(a1, a2)
				}
			}
		}
	}

	for _, ac := range eligible {
		if !ac.Valid() {
			continue
		}
		idx, reason, belowMin := cd.rules.minAltConflict(ac)
		if belowMin {
			cd.Conflicts = append(cd.Conflicts, Conflict{
				Aircraft1:        ac.ID,
				Aircraft2:        NoAircraft,
				Callsign1:        ac.Callsign,
				MinAltSector:     idx,
				Reason:           reason,
				LatSepRequiredNM: cd.rules.cfg.MinLateralSep,
			})
		}

		// Wake conflicts are pair records and are kept alongside a
		// minimum altitude conflict; a storm conflict is not.
		if cd.wake != nil {
			if owner, ok := cd.wake.Infringes(ac); ok {
				cd.addWake(ac, owner)
			}
		}

		if !belowMin && cd.inStorm(ac) {
			cd.Conflicts = append(cd.Conflicts, Conflict{
				Aircraft1:    ac.ID,
				Aircraft2:    NoAircraft,
				Callsign1:    ac.Callsign,
				MinAltSector: -1,
				Reason:       ReasonStorm,
			})
		}
	}
}

func (cd *ConflictDetector) checkPair(a1, a2 *av.Aircraft) {
	if !a2.Valid() || cd.rules.inhibited(a1, a2) {
		return
	}

	lat, vert, reason := cd.rules.minima(a1, a2)
	dist := math.Distance2f(a1.Position, a2.Position)
	dalt := math.Abs(a1.Altitude - a2.Altitude)

	c := Conflict{
		Aircraft1:        a1.ID,
		Aircraft2:        a2.ID,
		Callsign1:        a1.Callsign,
		Callsign2:        a2.Callsign,
		MinAltSector:     -1,
		Reason:           reason,
		LatSepRequiredNM: lat,
		VertSepRequired:  vert,
	}
	conflict, potential := cd.rules.separated(dist, dalt, lat, vert)
	if conflict {
		cd.pairs[c.key()] = len(cd.Conflicts)
		cd.Conflicts = append(cd.Conflicts, c)
	} else if potential {
		cd.Potential = append(cd.Potential, c)
	}
}

// addWake records a wake conflict unless the pair already has a
// separation conflict, which takes priority.
func (cd *ConflictDetector) addWake(follower *av.Aircraft, owner av.AircraftID) {
	c := Conflict{
		Aircraft1:    follower.ID,
		Aircraft2:    owner,
		Callsign1:    follower.Callsign,
		MinAltSector: -1,
		Reason:       ReasonNormal,
	}
	if _, ok := cd.pairs[c.key()]; ok {
		return
	}

	c.Reason = ReasonWake
	if leader, ok := cd.aircraft.Get(owner); ok {
		c.Callsign2 = leader.Callsign
		c.LatSepRequiredNM = cd.wake.matrix.Distance(leader.WakeCategory, leader.Recat,
			follower.WakeCategory, follower.Recat)
	}
	cd.Conflicts = append(cd.Conflicts, c)
}

func (cd *ConflictDetector) inStorm(ac *av.Aircraft) bool {
	for i := range cd.rules.world.Storms {
		if cd.rules.world.Storms[i].RedCellCount(ac.Position, ac.Altitude, 1, cd.stormCfg.Threshold) >= cd.stormCfg.RedCells {
			return true
		}
	}
	return false
}
