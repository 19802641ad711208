// sim/trajectory.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import (
	"log/slog"

	av "github.com/tcengine/tcengine/aviation"
	"github.com/tcengine/tcengine/log"
	"github.com/tcengine/tcengine/math"
	"github.com/tcengine/tcengine/util"
)

// TrajectoryPoint is the projected state of an aircraft at the end of
// time step Step (1-based; step k is k*StepS seconds ahead).
type TrajectoryPoint struct {
	Aircraft av.AircraftID
	Position [2]float32
	Altitude float32
	Step     int
}

// PredictedConflict is the earliest projected loss of separation for a
// pair (or an aircraft and a minimum altitude sector).
type PredictedConflict struct {
	Conflict
	Step  int
	TimeS float32
}

// AltitudeHold records an aircraft that has been given a temporary
// altitude to resolve a predicted conflict; Final is the altitude it was
// cleared to before.
type AltitudeHold struct {
	Current float32
	Final   float32
}

// TrajectoryPredictor projects eligible aircraft a few minutes ahead on a
// slower cadence than the tick and reports the conflicts it finds. It
// also resolves predicted conflicts between aircraft under centre control
// by issuing temporary altitudes and releases those holds once the
// original altitude is clear.
type TrajectoryPredictor struct {
	cfg    TrajectoryConfig
	rules  *separationRules
	world  *av.World
	levels *LevelIndex
	nSteps int

	// pool holds every projected point of the current cycle; bins and
	// byAircraft index into it.
	pool       []TrajectoryPoint
	bins       [][][]int // [step-1][band]
	byAircraft map[av.AircraftID][]int
	scratch    []TrajectoryPoint

	Predicted []PredictedConflict
	holds     map[av.AircraftID]*AltitudeHold
	sinceRun  float32

	aircraft *AircraftTable
	post     func(Event)
	lg       *log.Logger
}

func NewTrajectoryPredictor(cfg TrajectoryConfig, rules *separationRules, levels *LevelIndex,
	aircraft *AircraftTable, post func(Event), lg *log.Logger) *TrajectoryPredictor {
	n := int(cfg.HorizonS / cfg.StepS)
	tp := &TrajectoryPredictor{
		cfg:        cfg,
		rules:      rules,
		world:      rules.world,
		levels:     levels,
		nSteps:     n,
		bins:       make([][][]int, n),
		byAircraft: make(map[av.AircraftID][]int),
		holds:      make(map[av.AircraftID]*AltitudeHold),
		aircraft:   aircraft,
		post:       post,
		lg:         lg,
	}
	for i := range tp.bins {
		tp.bins[i] = make([][]int, levels.NumLevels())
	}
	return tp
}

// Due advances the predictor's clock by dt seconds and reports whether
// a prediction cycle should run.
func (tp *TrajectoryPredictor) Due(dt float32) bool {
	tp.sinceRun += dt
	if tp.sinceRun+1e-3 >= tp.cfg.IntervalS {
		tp.sinceRun = 0
		return true
	}
	return false
}

func (tp *TrajectoryPredictor) NumSteps() int { return tp.nSteps }

// Run projects the eligible aircraft, finds predicted conflicts, updates
// the predicted-conflict status flags, and processes altitude holds.
func (tp *TrajectoryPredictor) Run(aircraft []*av.Aircraft) {
	tp.reset()

	var eligible []*av.Aircraft
	for _, ac := range aircraft {
		if Eligible(ac) {
			eligible = append(eligible, ac)
			tp.project(ac, tp.targetAltitude(ac))
		} else {
			ac.Status &^= av.StatusPredictedConflict
		}
	}

	newPairs := tp.detect()

	for _, ac := range eligible {
		ac.Status &^= av.StatusPredictedConflict
	}
	for _, pc := range tp.Predicted {
		for _, id := range []av.AircraftID{pc.Aircraft1, pc.Aircraft2} {
			if ac, ok := tp.aircraft.Get(id); ok {
				ac.Status |= av.StatusPredictedConflict
			}
		}
	}

	if tp.cfg.ResolveACC {
		for _, pc := range newPairs {
			tp.resolveACC(pc)
		}
	}
	tp.updateHolds()
}

func (tp *TrajectoryPredictor) reset() {
	tp.pool = tp.pool[:0]
	for k := range tp.bins {
		for b := range tp.bins[k] {
			tp.bins[k][b] = tp.bins[k][b][:0]
		}
	}
	clear(tp.byAircraft)
	tp.Predicted = tp.Predicted[:0]
}

// targetAltitude returns the altitude the aircraft is expected to fly
// to: its hold altitude if it has one, its glidepath floor once
// established on the glideslope, and otherwise its cleared altitude.
func (tp *TrajectoryPredictor) targetAltitude(ac *av.Aircraft) float32 {
	if h, ok := tp.holds[ac.ID]; ok {
		return h.Current
	}
	if ac.Status.Has(av.StatusGlideslopeCaptured) {
		if app, ok := tp.world.Approach(ac); ok {
			if rwy := tp.world.Runway(app.Runway); rwy != nil {
				return rwy.Elevation - 10
			}
		}
	}
	if ac.Clearance.Altitude == 0 {
		return ac.Altitude
	}
	return ac.Clearance.Altitude
}

// extrapolate returns the aircraft's projected points for the full
// horizon flying toward targetAlt, appending them to pts.
func (tp *TrajectoryPredictor) extrapolate(ac *av.Aircraft, targetAlt float32, pts []TrajectoryPoint) []TrajectoryPoint {
	pos, alt := ac.Position, ac.Altitude
	hdg, gs := ac.TrackHeading(), ac.GroundSpeed()
	dt := tp.cfg.StepS

	rate := math.Abs(ac.VerticalRate)
	if rate == 0 {
		rate = tp.cfg.DefaultVerticalRate
	}

	for k := 1; k <= tp.nSteps; k++ {
		if ac.Clearance.Vectored {
			if turn := math.HeadingSignedTurn(hdg, ac.Clearance.Heading); math.Abs(turn) > 5 {
				maxTurn := tp.cfg.TurnRate * dt
				hdg = math.NormalizeHeading(hdg + math.Clamp(turn, -maxTurn, maxTurn))
			} else {
				hdg = ac.Clearance.Heading
			}
		}

		if ac.Clearance.Speed > 0 {
			dv := tp.cfg.SpeedChangeRate * dt
			gs += math.Clamp(ac.Clearance.Speed-gs, -dv, dv)
		}
		pos = math.Add2f(pos, math.Scale2f(math.HeadingVector(hdg), gs*dt/3600))

		dalt := rate * dt / 60
		alt += math.Clamp(targetAlt-alt, -dalt, dalt)

		pts = append(pts, TrajectoryPoint{Aircraft: ac.ID, Position: pos, Altitude: alt, Step: k})
	}
	return pts
}

func (tp *TrajectoryPredictor) project(ac *av.Aircraft, targetAlt float32) {
	start := len(tp.pool)
	tp.pool = tp.extrapolate(ac, targetAlt, tp.pool)
	for i := start; i < len(tp.pool); i++ {
		p := &tp.pool[i]
		tp.byAircraft[ac.ID] = append(tp.byAircraft[ac.ID], i)
		if b := tp.levels.Band(p.Altitude); b >= 0 && b < tp.levels.NumLevels() {
			tp.bins[p.Step-1][b] = append(tp.bins[p.Step-1][b], i)
		}
	}
}

// Points returns the projected points of the aircraft from the most
// recent cycle, in step order.
func (tp *TrajectoryPredictor) Points(id av.AircraftID) []TrajectoryPoint {
	var pts []TrajectoryPoint
	for _, i := range tp.byAircraft[id] {
		pts = append(pts, tp.pool[i])
	}
	return pts
}

// pairConflict reports whether the two projected points are in conflict
// and returns the conflict record if so.
func (tp *TrajectoryPredictor) pairConflict(a1, a2 *av.Aircraft, p1, p2 TrajectoryPoint) (Conflict, bool) {
	if tp.rules.inhibited(a1, a2) {
		return Conflict{}, false
	}
	lat, vert, reason := tp.rules.minima(a1, a2)
	dist := math.Distance2f(p1.Position, p2.Position)
	dalt := math.Abs(p1.Altitude - p2.Altitude)
	if conflict, _ := tp.rules.separated(dist, dalt, lat, vert); !conflict {
		return Conflict{}, false
	}
	return Conflict{
		Aircraft1:        a1.ID,
		Aircraft2:        a2.ID,
		Callsign1:        a1.Callsign,
		Callsign2:        a2.Callsign,
		MinAltSector:     -1,
		Reason:           reason,
		LatSepRequiredNM: lat,
		VertSepRequired:  vert,
	}, true
}

// detect finds the earliest predicted conflict of each pair and aircraft.
// It returns the newly predicted pairs along with their projected
// mid-altitude for centre resolution.
func (tp *TrajectoryPredictor) detect() []predictedPair {
	seen := make(map[conflictKey]bool)
	var pairs []predictedPair

	for k := range tp.bins {
		bands := tp.bins[k]
		for b, band := range bands {
			for j, i1 := range band {
				p1 := tp.pool[i1]
				a1, ok := tp.aircraft.Get(p1.Aircraft)
				if !ok {
					continue
				}

				check := func(i2 int) {
					p2 := tp.pool[i2]
					a2, ok := tp.aircraft.Get(p2.Aircraft)
					if !ok {
						return
					}
					c, ok := tp.pairConflict(a1, a2, p1, p2)
					if !ok || seen[c.key()] {
						return
					}
					seen[c.key()] = true
					tp.Predicted = append(tp.Predicted, PredictedConflict{Conflict: c, Step: k + 1,
						TimeS: float32(k+1) * tp.cfg.StepS})
					pairs = append(pairs, predictedPair{a1: a1, a2: a2, midAlt: (p1.Altitude + p2.Altitude) / 2})
				}
				for _, i2 := range band[j+1:] {
					check(i2)
				}
				if b+1 < len(bands) {
					for _, i2 := range bands[b+1] {
						check(i2)
					}
				}
			}
		}
	}

	// Predicted minimum altitude conflicts, earliest step per aircraft.
	ids := util.SortedMapKeys(tp.byAircraft)
	for _, id := range ids {
		ac, ok := tp.aircraft.Get(id)
		if !ok {
			continue
		}
		for _, i := range tp.byAircraft[id] {
			p := tp.pool[i]
			if idx, reason, ok := tp.rules.minAltConflictAt(ac, p.Position, p.Altitude); ok {
				tp.Predicted = append(tp.Predicted, PredictedConflict{
					Conflict: Conflict{
						Aircraft1:        ac.ID,
						Aircraft2:        NoAircraft,
						Callsign1:        ac.Callsign,
						MinAltSector:     idx,
						Reason:           reason,
						LatSepRequiredNM: tp.rules.cfg.MinLateralSep,
					},
					Step:  p.Step,
					TimeS: float32(p.Step) * tp.cfg.StepS,
				})
				break
			}
		}
	}

	return pairs
}

type predictedPair struct {
	a1, a2 *av.Aircraft
	midAlt float32
}

///////////////////////////////////////////////////////////////////////////
// Altitude holds

// AddHold records a temporary altitude for the aircraft; Final is the
// altitude it will be released to. An existing hold keeps its Final.
func (tp *TrajectoryPredictor) AddHold(id av.AircraftID, current, final float32) {
	if h, ok := tp.holds[id]; ok {
		h.Current = current
		return
	}
	tp.holds[id] = &AltitudeHold{Current: current, Final: final}
}

func (tp *TrajectoryPredictor) Hold(id av.AircraftID) (AltitudeHold, bool) {
	if h, ok := tp.holds[id]; ok {
		return *h, true
	}
	return AltitudeHold{}, false
}

// Holds returns a copy of the current holds.
func (tp *TrajectoryPredictor) Holds() map[av.AircraftID]AltitudeHold {
	m := make(map[av.AircraftID]AltitudeHold, len(tp.holds))
	for id, h := range tp.holds {
		m[id] = *h
	}
	return m
}

// RemoveAircraft drops any hold for an aircraft that has left the sim.
func (tp *TrajectoryPredictor) RemoveAircraft(id av.AircraftID) {
	delete(tp.holds, id)
}

func verticalTrend(ac *av.Aircraft, target float32) int {
	switch {
	case target > ac.Altitude+100:
		return 1
	case target < ac.Altitude-100:
		return -1
	default:
		return 0
	}
}

// resolveACC assigns temporary altitudes to a pair predicted to conflict
// above the ACC start altitude, stopping climbing aircraft below and
// descending aircraft above the conflict altitude.
func (tp *TrajectoryPredictor) resolveACC(pp predictedPair) {
	if pp.midAlt < tp.world.AccStartAltitude {
		return
	}
	ac1, ac2 := pp.a1, pp.a2
	floor := math.Floor(pp.midAlt/1000) * 1000
	ceil := math.Ceil(pp.midAlt/1000) * 1000
	if ceil == floor {
		ceil += 1000
	}

	var alt1, alt2 float32 // zero means no change
	t1, t2 := verticalTrend(ac1, tp.targetAltitude(ac1)), verticalTrend(ac2, tp.targetAltitude(ac2))
	switch {
	case t1 < 0 && t2 > 0:
		alt1, alt2 = ceil, floor
	case t1 > 0 && t2 < 0:
		alt1, alt2 = floor, ceil
	case t1 > 0 && t2 > 0 && ac1.Altitude != ac2.Altitude:
		if ac1.Altitude < ac2.Altitude {
			alt1 = floor - 1000
		} else {
			alt2 = floor - 1000
		}
	case t1 < 0 && t2 < 0 && ac1.Altitude != ac2.Altitude:
		if ac1.Altitude > ac2.Altitude {
			alt1 = ceil + 1000
		} else {
			alt2 = ceil + 1000
		}
	case t1 == 0 && t2 == 0:
		arr1, arr2 := ac1.Type == av.FlightTypeArrival, ac2.Type == av.FlightTypeArrival
		dep1, dep2 := ac1.Type == av.FlightTypeDeparture, ac2.Type == av.FlightTypeDeparture
		switch {
		case arr1 && dep2:
			alt1, alt2 = floor, ceil
		case dep1 && arr2:
			alt1, alt2 = ceil, floor
		case arr1 && arr2:
			alt1 = floor - 1000
		case dep1 && dep2:
			alt1 = ceil + 1000
		}
	}

	tp.assignTemporaryAltitude(ac1, alt1)
	tp.assignTemporaryAltitude(ac2, alt2)
}

func (tp *TrajectoryPredictor) assignTemporaryAltitude(ac *av.Aircraft, alt float32) {
	if alt == 0 || ac.Sector != av.SectorCentre || alt == tp.targetAltitude(ac) {
		return
	}
	final := ac.Clearance.Altitude
	if final == 0 {
		final = ac.Altitude
	}
	tp.AddHold(ac.ID, alt, final)
	tp.lg.Debug("temporary altitude", slog.Any("aircraft", ac), slog.Float64("altitude", float64(alt)))
	tp.post(Event{Type: TemporaryAltitudeEvent, Aircraft: ac.ID, Callsign: ac.Callsign, Altitude: alt})
}

// clearAt reports whether the aircraft, flying to alt, is projected to
// stay clear of every other aircraft and minimum altitude sector for the
// full horizon.
func (tp *TrajectoryPredictor) clearAt(ac *av.Aircraft, alt float32) bool {
	tp.scratch = tp.extrapolate(ac, alt, tp.scratch[:0])
	for _, p := range tp.scratch {
		if _, _, ok := tp.rules.minAltConflictAt(ac, p.Position, p.Altitude); ok {
			return false
		}

		b := tp.levels.Band(p.Altitude)
		for band := b - 1; band <= b+1; band++ {
			if band < 0 || band >= tp.levels.NumLevels() {
				continue
			}
			for _, i := range tp.bins[p.Step-1][band] {
				other := tp.pool[i]
				if other.Aircraft == ac.ID {
					continue
				}
				oac, ok := tp.aircraft.Get(other.Aircraft)
				if !ok {
					continue
				}
				if _, conflict := tp.pairConflict(ac, oac, p, other); conflict {
					return false
				}
			}
		}
	}
	return true
}

// updateHolds tries to move each held aircraft back toward its final
// altitude: the highest 1000ft step toward it that is projected clear is
// found by binary search. Reaching the final altitude releases the hold
// and tells the aircraft to resume its own navigation.
func (tp *TrajectoryPredictor) updateHolds() {
	for _, id := range util.SortedMapKeys(tp.holds) {
		h := tp.holds[id]
		ac, ok := tp.aircraft.Get(id)
		if !ok {
			delete(tp.holds, id)
			continue
		}
		if ac.Sector != av.SectorCentre {
			// Handed off below centre: the hold no longer applies.
			tp.post(Event{Type: ResumeOwnNavigationEvent, Aircraft: id, Callsign: ac.Callsign, Altitude: h.Final})
			delete(tp.holds, id)
			continue
		}

		offset := int(math.Abs(h.Final-h.Current)/1000 + 0.5)
		dir := math.Sign(h.Final - h.Current)
		candidate := func(n int) float32 {
			if n == offset {
				return h.Final
			}
			return h.Current + dir*float32(n)*1000
		}

		from, to := 0, offset
		for from < to {
			curr := (from + to + 1) / 2
			if tp.clearAt(ac, candidate(curr)) {
				from = curr
			} else {
				to = curr - 1
			}
		}

		switch {
		case from == offset:
			tp.lg.Debug("resuming own navigation", slog.Any("aircraft", ac), slog.Float64("altitude", float64(h.Final)))
			tp.post(Event{Type: ResumeOwnNavigationEvent, Aircraft: id, Callsign: ac.Callsign, Altitude: h.Final})
			delete(tp.holds, id)
		case from > 0:
			h.Current = candidate(from)
			tp.post(Event{Type: TemporaryAltitudeEvent, Aircraft: id, Callsign: ac.Callsign, Altitude: h.Current})
		}
	}
}

func (tp *TrajectoryPredictor) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("points", len(tp.pool)),
		slog.Int("predicted", len(tp.Predicted)),
		slog.Int("holds", len(tp.holds)))
}
