// sim/release.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import (
	"fmt"
	"log/slog"
	gomath "math"

	av "github.com/tcengine/tcengine/aviation"
	"github.com/tcengine/tcengine/log"
	"github.com/tcengine/tcengine/rand"
)

// Movement records the most recent departure or touchdown on a runway.
type Movement struct {
	Valid  bool
	Wake   av.WakeCategory
	Recat  av.RecatCategory
	SinceS float32
}

func (m Movement) LogValue() slog.Value {
	if !m.Valid {
		return slog.StringValue("none")
	}
	return slog.GroupValue(
		slog.String("wake", m.Wake.String()),
		slog.String("recat", m.Recat.String()),
		slog.Float64("since_s", float64(m.SinceS)))
}

// NextArrival is the closest aircraft established on an approach to a
// runway.
type NextArrival struct {
	Aircraft   av.AircraftID
	DistanceNM float32
	TimeS      float32 // to the threshold at the current ground speed
}

// RunwayState is the mutable state of a runway, indexed by RunwayID.
type RunwayState struct {
	PrevDeparture Movement
	PrevArrival   Movement
	Occupied      bool
	NextArrival   NextArrival
}

// AirportState is the mutable state of an airport, indexed by AirportID.
type AirportState struct {
	// Departures owed; grows with the departure rate and shrinks with
	// each release. It goes negative when departures are released ahead
	// of schedule.
	Backlog        int
	BacklogTimerS  float32
	NextDeparture  av.AircraftID
	SinceGoAroundS float32
}

// TrafficState holds the runway and airport state shared by the spawner
// and the release sequencer.
type TrafficState struct {
	Runways  []RunwayState
	Airports []AirportState
}

const noGoAround = gomath.MaxFloat32

func NewTrafficState(w *av.World) *TrafficState {
	ts := &TrafficState{
		Runways:  make([]RunwayState, len(w.Runways)),
		Airports: make([]AirportState, len(w.Airports)),
	}
	for i := range ts.Runways {
		ts.Runways[i].NextArrival.Aircraft = NoAircraft
	}
	for i := range ts.Airports {
		ts.Airports[i].NextDeparture = NoAircraft
		ts.Airports[i].SinceGoAroundS = noGoAround
	}
	return ts
}

func (ts *TrafficState) Runway(id av.RunwayID) (*RunwayState, bool) {
	if id < 0 || int(id) >= len(ts.Runways) {
		return nil, false
	}
	return &ts.Runways[id], true
}

func (ts *TrafficState) Airport(id av.AirportID) (*AirportState, bool) {
	if id < 0 || int(id) >= len(ts.Airports) {
		return nil, false
	}
	return &ts.Airports[id], true
}

// AdditionalDepartureTime returns the extra seconds added between
// departures given an airport's departure backlog: none when it is far
// behind, up to 320 seconds when it is far ahead.
func AdditionalDepartureTime(backlog int) int {
	switch {
	case backlog >= 10:
		return 0
	case backlog >= -20:
		return 120 * (10 - backlog) / 30
	case backlog >= -40:
		return 120 + 200*(-20-backlog)/20
	default:
		return 320
	}
}

///////////////////////////////////////////////////////////////////////////
// ReleaseSequencer

// ReleaseSequencer decides when each airport's next departure may take
// off. A departure is released from a runway only when the runway and
// every runway it depends on pass their checks; otherwise it waits for a
// later tick.
type ReleaseSequencer struct {
	cfg      ReleaseConfig
	world    *av.World
	matrix   av.WakeMatrix
	state    *TrafficState
	aircraft *AircraftTable
	rand     rand.Rand
	// Aircraft that were on landing roll as of the last refresh.
	landing map[av.AircraftID]bool

	post func(Event)
	lg   *log.Logger
}

func NewReleaseSequencer(cfg ReleaseConfig, world *av.World, matrix av.WakeMatrix, state *TrafficState,
	aircraft *AircraftTable, r rand.Rand, post func(Event), lg *log.Logger) *ReleaseSequencer {
	return &ReleaseSequencer{
		cfg:      cfg,
		world:    world,
		matrix:   matrix,
		state:    state,
		aircraft: aircraft,
		rand:     r,
		landing:  make(map[av.AircraftID]bool),
		post:     post,
		lg:       lg,
	}
}

// UpdateTimers advances the runway and airport timers by dt seconds.
func (rs *ReleaseSequencer) UpdateTimers(dt float32) {
	for i := range rs.state.Runways {
		r := &rs.state.Runways[i]
		if r.PrevDeparture.Valid {
			r.PrevDeparture.SinceS += dt
		}
		if r.PrevArrival.Valid {
			r.PrevArrival.SinceS += dt
		}
	}
	for i := range rs.state.Airports {
		if ap := &rs.state.Airports[i]; ap.SinceGoAroundS != noGoAround {
			ap.SinceGoAroundS += dt
		}
	}
}

// Refresh recomputes runway occupancy, each runway's next arrival, and
// the go-around timers from the current aircraft, and records
// touchdowns as previous arrivals.
func (rs *ReleaseSequencer) Refresh(aircraft []*av.Aircraft) {
	for i := range rs.state.Runways {
		r := &rs.state.Runways[i]
		r.Occupied = false
		r.NextArrival = NextArrival{Aircraft: NoAircraft}
	}

	landing := make(map[av.AircraftID]bool)
	for _, ac := range aircraft {
		if !ac.Valid() {
			continue
		}

		if ac.Status.Has(av.StatusRecentGoAround) {
			if ap, ok := rs.state.Airport(ac.ArrivalAirport); ok {
				ap.SinceGoAroundS = 0
			}
		}

		if ac.Status.Has(av.StatusTakeoffRoll) || ac.Status.Has(av.StatusLandingRoll) {
			rs.occupy(ac.Runway)
		}

		if ac.Status.Has(av.StatusLandingRoll) {
			landing[ac.ID] = true
			if !rs.landing[ac.ID] {
				if r, ok := rs.state.Runway(ac.Runway); ok {
					r.PrevArrival = Movement{Valid: true, Wake: ac.WakeCategory, Recat: ac.Recat}
				} else {
					rs.lg.Warn("landing aircraft has no runway", slog.Any("aircraft", ac))
				}
			}
			continue
		}

		if ac.Type == av.FlightTypeArrival && !ac.Status.OnRunway() {
			rs.updateNextArrival(ac)
		}
	}
	rs.landing = landing
}

func (rs *ReleaseSequencer) occupy(id av.RunwayID) {
	r, ok := rs.state.Runway(id)
	if !ok {
		return
	}
	r.Occupied = true
	if rwy := rs.world.Runway(id); rwy != nil {
		if opp, ok := rs.state.Runway(rwy.Opposite); ok {
			opp.Occupied = true
		}
	}
}

func (rs *ReleaseSequencer) updateNextArrival(ac *av.Aircraft) {
	app, ok := rs.world.Approach(ac)
	if !ok {
		return
	}
	captured := ac.Status.Has(av.StatusGlideslopeCaptured) || ac.Status.Has(av.StatusVisualApproach)
	if !captured && !app.Established(ac.Position, ac.TrackHeading()) {
		return
	}
	r, ok := rs.state.Runway(app.Runway)
	if !ok {
		return
	}

	dist := app.DistanceToThreshold(ac.Position)
	if r.NextArrival.Aircraft != NoAircraft && r.NextArrival.DistanceNM <= dist {
		return
	}
	t := float32(gomath.MaxFloat32)
	if gs := ac.GroundSpeed(); gs > 0 {
		t = dist / gs * 3600
	}
	r.NextArrival = NextArrival{Aircraft: ac.ID, DistanceNM: dist, TimeS: t}
}

// Release evaluates every runway active for departures and clears the
// airport's next departure for takeoff from the first one that passes
// all checks.
func (rs *ReleaseSequencer) Release() {
	for _, ap := range rs.world.Airports {
		st := &rs.state.Airports[ap.ID]
		if ap.ClosedForDepartures || st.NextDeparture == NoAircraft {
			continue
		}
		dep, ok := rs.aircraft.Get(st.NextDeparture)
		if !ok {
			rs.lg.Warn("next departure is not in the aircraft table", slog.Int("aircraft", int(st.NextDeparture)),
				slog.String("airport", ap.ICAO))
			st.NextDeparture = NoAircraft
			continue
		}

		for _, rwy := range ap.Runways {
			if !rwy.ActiveDeparture {
				continue
			}
			if reason := rs.Check(rwy, dep); reason != "" {
				rs.lg.Debug("departure held", slog.String("callsign", dep.Callsign),
					slog.String("runway", rwy.Name), slog.String("reason", reason))
				continue
			}
			rs.clearForTakeoff(ap, rwy, dep)
			break
		}
	}
}

// Check returns the reason the departure cannot be released from the
// runway now, or "" if it can.
func (rs *ReleaseSequencer) Check(rwy *av.Runway, dep *av.Aircraft) string {
	ap := rs.world.Airport(rwy.Airport)
	st := &rs.state.Airports[rwy.Airport]
	additional := float32(AdditionalDepartureTime(st.Backlog))

	if reason := rs.checkRelation(av.RelationSame, rwy.ID, dep, additional); reason != "" {
		return reason
	}
	if st.SinceGoAroundS < rs.cfg.GoAroundCooldownS {
		return "recent go-around"
	}
	if rwy.Opposite != av.NoRunway {
		if reason := rs.checkRelation(av.RelationOpposite, rwy.Opposite, dep, additional); reason != "" {
			return reason
		}
	}
	for _, id := range rwy.DependentParallel {
		if reason := rs.checkRelation(av.RelationDependentParallel, id, dep, additional); reason != "" {
			return reason
		}
	}
	for _, id := range rwy.DependentOpposite {
		if reason := rs.checkRelation(av.RelationDependentOpposite, id, dep, additional); reason != "" {
			return reason
		}
	}
	for _, id := range rwy.Crossing {
		if reason := rs.checkRelation(av.RelationCrossing, id, dep, additional); reason != "" {
			return reason
		}
	}
	for _, rule := range ap.DependencyRules {
		if !rule.AppliesTo(rwy.ID) || rule.Other == av.NoRunway {
			continue
		}
		if reason := rs.checkRelation(rule.Relation, rule.Other, dep, additional); reason != "" {
			return rule.AirportICAO + " " + reason
		}
	}
	if ac := rs.protectionZoneTraffic(rwy, dep); ac != nil {
		return "protection zone: " + ac.Callsign
	}
	return ""
}

// checkRelation checks the state of runway id as it affects a departure
// from a runway with which it has the given relation.
func (rs *ReleaseSequencer) checkRelation(rel av.RunwayRelation, id av.RunwayID, dep *av.Aircraft, additional float32) string {
	r, ok := rs.state.Runway(id)
	if !ok {
		return ""
	}
	name := rs.world.Runway(id).Name
	fail := func(what string) string { return fmt.Sprintf("%s runway %s: %s", rel, name, what) }
	next := r.NextArrival
	hasNext := next.Aircraft != NoAircraft

	wakeTime := func(m Movement) float32 {
		return float32(rs.matrix.DepartureTime(m.Wake, m.Recat, dep.WakeCategory, dep.Recat))
	}
	movementTimers := func() string {
		if r.PrevDeparture.Valid && r.PrevDeparture.SinceS < wakeTime(r.PrevDeparture)+additional {
			return fail("previous departure")
		}
		if r.PrevArrival.Valid && r.PrevArrival.SinceS < wakeTime(r.PrevArrival) {
			return fail("previous arrival")
		}
		return ""
	}

	switch rel {
	case av.RelationSame:
		if r.Occupied {
			return fail("occupied")
		}
		if reason := movementTimers(); reason != "" {
			return reason
		}
		if hasNext && next.TimeS < rs.cfg.SameRunwayArrivalS {
			return fail("arrival inbound")
		}

	case av.RelationOpposite:
		if r.Occupied {
			return fail("occupied")
		}
		if reason := movementTimers(); reason != "" {
			return reason
		}
		if hasNext && next.DistanceNM < rs.cfg.OppositeArrivalNM {
			return fail("arrival inbound")
		}

	case av.RelationDependentParallel:
		if hasNext && next.TimeS < rs.cfg.SameRunwayArrivalS {
			return fail("arrival inbound")
		}
		if r.PrevDeparture.Valid && r.PrevDeparture.SinceS < rs.cfg.DependentBaseS+additional {
			return fail("previous departure")
		}

	case av.RelationDependentOpposite:
		if hasNext && next.DistanceNM < rs.cfg.OppositeArrivalNM {
			return fail("arrival inbound")
		}
		if r.PrevDeparture.Valid && r.PrevDeparture.SinceS < rs.cfg.DependentBaseS+additional {
			return fail("previous departure")
		}

	case av.RelationCrossing:
		if r.Occupied {
			return fail("occupied")
		}
		if hasNext && next.TimeS < rs.cfg.CrossingArrivalS {
			return fail("arrival inbound")
		}
		if r.PrevDeparture.Valid && r.PrevDeparture.SinceS < additional {
			return fail("previous departure")
		}
	}
	return ""
}

// protectionZoneTraffic returns an airborne aircraft inside the runway's
// initial-climb protection zone, if there is one. Earlier departures from
// the same runway are spaced by the departure timers and are not
// considered.
func (rs *ReleaseSequencer) protectionZoneTraffic(rwy *av.Runway, dep *av.Aircraft) *av.Aircraft {
	for _, ac := range rs.aircraft.All() {
		if ac.ID == dep.ID || !ac.Valid() || ac.Status.OnRunway() {
			continue
		}
		if ac.Type == av.FlightTypeDeparture && ac.Runway == rwy.ID {
			continue
		}
		if rwy.ProtectionZoneContains(ac.Position, ac.Altitude) {
			return ac
		}
	}
	return nil
}

// clearForTakeoff lines the departure up on the runway with a SID
// clearance and starts its takeoff roll.
func (rs *ReleaseSequencer) clearForTakeoff(ap *av.Airport, rwy *av.Runway, dep *av.Aircraft) {
	dep.DepartureAirport = ap.ID
	dep.Runway = rwy.ID
	dep.Position = rwy.Threshold
	dep.Altitude = rwy.Elevation
	dep.Track = [2]float32{}
	dep.Status = (dep.Status &^ av.StatusWaitingTakeoff) | av.StatusTakeoffRoll
	dep.Clearance.Heading = rwy.Heading
	dep.Clearance.Altitude = rwy.InitialClimb
	dep.Clearance.Vectored = false

	var sids []*av.Procedure
	for i := range ap.SIDs {
		if ap.SIDs[i].Runway == rwy.ID {
			sids = append(sids, &ap.SIDs[i])
		}
	}
	if len(sids) > 0 {
		sid := rand.SampleSlice(rs.rand, sids)
		dep.Clearance.SID = sid.Name
		dep.RouteZones = sid.Zones
		if sid.InitialClimb > 0 {
			dep.Clearance.Altitude = sid.InitialClimb
		}
	} else {
		rs.lg.Warn("no SID for runway", slog.String("airport", ap.ICAO), slog.String("runway", rwy.Name))
	}

	r := &rs.state.Runways[rwy.ID]
	r.PrevDeparture = Movement{Valid: true, Wake: dep.WakeCategory, Recat: dep.Recat}
	rs.occupy(rwy.ID)

	st := &rs.state.Airports[ap.ID]
	st.Backlog--
	st.NextDeparture = NoAircraft

	rs.lg.Info("cleared for takeoff", slog.Any("aircraft", dep), slog.String("runway", rwy.Name),
		slog.Int("backlog", st.Backlog))
	rs.post(Event{Type: ClearedForTakeoffEvent, Aircraft: dep.ID, Callsign: dep.Callsign, Runway: rwy.ID})
}
