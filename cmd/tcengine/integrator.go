// cmd/tcengine/integrator.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package main

import (
	"log/slog"

	av "github.com/tcengine/tcengine/aviation"
	"github.com/tcengine/tcengine/log"
	"github.com/tcengine/tcengine/math"
	"github.com/tcengine/tcengine/sim"
)

const (
	climbRate        = 2000 // fpm
	descentRate      = 1500 // fpm
	turnRate         = 3    // deg/s
	takeoffAccel     = 5    // kt/s
	rotateSpeed      = 150  // kt
	climbSpeed       = 250  // kt
	approachSpeed    = 160  // kt
	finalFixNM       = 10
	approachAltAGL   = 3000
	glideslopeFtNM   = 318 // 3 degrees
	touchdownNM      = 0.5
	landingRolloutS  = 40
	airborneAGL      = 200
	descentStartNM   = 30
	establishRangeNM = 1.5
)

// deadReckoner moves the aircraft between engine ticks in place of a
// flight model: straight lines and standard-rate turns, fixed climb and
// descent rates, a straight-in approach to the first active arrival
// runway, and a takeoff roll for released departures. It runs on the
// engine goroutine, before each step.
type deadReckoner struct {
	e   *sim.Engine
	sub *sim.EventsSubscription
	lg  *log.Logger

	// Temporary altitudes issued by the engine, by aircraft.
	tempAlt     map[av.AircraftID]float32
	runways     map[av.AircraftID]av.RunwayID
	established map[av.AircraftID]bool
	rolloutS    map[av.AircraftID]float32
}

func newDeadReckoner(e *sim.Engine, lg *log.Logger) *deadReckoner {
	return &deadReckoner{
		e:           e,
		sub:         e.Subscribe(),
		lg:          lg,
		tempAlt:     make(map[av.AircraftID]float32),
		runways:     make(map[av.AircraftID]av.RunwayID),
		established: make(map[av.AircraftID]bool),
		rolloutS:    make(map[av.AircraftID]float32),
	}
}

func (d *deadReckoner) Integrate(dt float32) {
	d.processEvents()

	var remove []av.AircraftID
	for _, ac := range d.e.Aircraft().All() {
		switch {
		case ac.Status.Has(av.StatusWaitingTakeoff):
		case ac.Status.Has(av.StatusTakeoffRoll):
			d.takeoffRoll(ac, dt)
		case ac.Status.Has(av.StatusLandingRoll):
			d.rolloutS[ac.ID] += dt
			ac.Track = math.Scale2f(ac.Track, 0.9)
			ac.Position = math.Add2f(ac.Position, math.Scale2f(ac.Track, dt/3600))
			if d.rolloutS[ac.ID] >= landingRolloutS {
				remove = append(remove, ac.ID)
			}
		case ac.Type == av.FlightTypeArrival:
			d.arrival(ac, dt)
		default:
			hdg := ac.TrackHeading()
			if ac.Clearance.Vectored {
				hdg = ac.Clearance.Heading
			}
			speed := ac.GroundSpeed()
			if ac.Type == av.FlightTypeDeparture && speed < climbSpeed {
				speed = min(climbSpeed, speed+takeoffAccel*dt)
			}
			d.fly(ac, hdg, speed, d.targetAltitude(ac), dt)
			if !d.e.World.InsidePrimaryBoundary(ac.Position) {
				remove = append(remove, ac.ID)
			}
		}
	}

	for _, id := range remove {
		d.e.RemoveAircraft(id)
	}
}

func (d *deadReckoner) processEvents() {
	for _, ev := range d.sub.Get() {
		switch ev.Type {
		case sim.TemporaryAltitudeEvent:
			d.tempAlt[ev.Aircraft] = ev.Altitude
		case sim.ResumeOwnNavigationEvent:
			delete(d.tempAlt, ev.Aircraft)
		case sim.ClearedForTakeoffEvent:
			d.lg.Debug("takeoff roll", slog.String("callsign", ev.Callsign), slog.Int("runway", int(ev.Runway)))
		case sim.AircraftRemovedEvent:
			delete(d.tempAlt, ev.Aircraft)
			delete(d.runways, ev.Aircraft)
			delete(d.established, ev.Aircraft)
			delete(d.rolloutS, ev.Aircraft)
		}
	}
}

func (d *deadReckoner) targetAltitude(ac *av.Aircraft) float32 {
	if alt, ok := d.tempAlt[ac.ID]; ok {
		return alt
	}
	if ac.Clearance.Altitude != 0 {
		return ac.Clearance.Altitude
	}
	return ac.Altitude
}

// fly turns toward hdg at the standard rate, moves along the track at
// speed, and climbs or descends toward alt.
func (d *deadReckoner) fly(ac *av.Aircraft, hdg, speed, alt, dt float32) {
	cur := ac.TrackHeading()
	maxTurn := turnRate * dt
	turn := math.Clamp(math.HeadingSignedTurn(cur, hdg), -maxTurn, maxTurn)
	ac.Track = math.Scale2f(math.HeadingVector(cur+turn), speed)
	ac.Position = math.Add2f(ac.Position, math.Scale2f(ac.Track, dt/3600))

	var rate float32
	if ac.Altitude < alt {
		rate = climbRate
	} else if ac.Altitude > alt {
		rate = -descentRate
	}
	if delta := rate * dt / 60; math.Abs(alt-ac.Altitude) <= math.Abs(delta) {
		ac.Altitude = alt
		ac.VerticalRate = 0
	} else {
		ac.Altitude += delta
		ac.VerticalRate = rate
	}
}

func (d *deadReckoner) takeoffRoll(ac *av.Aircraft, dt float32) {
	rwy := d.e.World.Runway(ac.Runway)
	if rwy == nil {
		d.lg.Warn("takeoff roll without a runway", slog.Any("aircraft", ac))
		ac.Status &^= av.StatusTakeoffRoll
		return
	}

	gs := ac.GroundSpeed() + takeoffAccel*dt
	ac.Track = math.Scale2f(math.HeadingVector(rwy.Heading), gs)
	ac.Position = math.Add2f(ac.Position, math.Scale2f(ac.Track, dt/3600))
	if gs >= rotateSpeed {
		ac.Altitude += climbRate * dt / 60
		ac.VerticalRate = climbRate
	}
	if ac.Altitude > rwy.Elevation+airborneAGL {
		ac.Status &^= av.StatusTakeoffRoll
	}
}

// landingRunway picks the first active arrival runway at the aircraft's
// arrival airport and sticks with it.
func (d *deadReckoner) landingRunway(ac *av.Aircraft) *av.Runway {
	if id, ok := d.runways[ac.ID]; ok {
		return d.e.World.Runway(id)
	}
	ap := d.e.World.Airport(ac.ArrivalAirport)
	if ap == nil {
		return nil
	}
	for _, rwy := range ap.Runways {
		if rwy.ActiveArrival {
			d.runways[ac.ID] = rwy.ID
			return rwy
		}
	}
	return nil
}

func (d *deadReckoner) arrival(ac *av.Aircraft, dt float32) {
	rwy := d.landingRunway(ac)
	if rwy == nil {
		d.fly(ac, ac.TrackHeading(), ac.GroundSpeed(), d.targetAltitude(ac), dt)
		return
	}
	dist := math.Distance2f(ac.Position, rwy.Threshold)

	if !d.established[ac.ID] {
		fix := math.Add2f(rwy.Threshold, math.Scale2f(math.HeadingVector(rwy.Heading), -finalFixNM))
		hdg := math.VectorHeading(math.Sub2f(fix, ac.Position))
		if ac.Clearance.Vectored {
			hdg = ac.Clearance.Heading
		}
		alt := d.targetAltitude(ac)
		if _, held := d.tempAlt[ac.ID]; !held && dist < descentStartNM {
			alt = min(alt, rwy.Elevation+approachAltAGL)
		}
		d.fly(ac, hdg, ac.GroundSpeed(), alt, dt)

		if math.Distance2f(ac.Position, fix) < establishRangeNM {
			d.established[ac.ID] = true
			ac.Clearance.Vectored = false
			if appr := approachTo(d.e.World.Airport(rwy.Airport), rwy.ID); appr != nil {
				ac.Clearance.Approach = appr.Name
				if appr.GlideslopeAngle > 0 {
					ac.Status |= av.StatusGlideslopeCaptured
				}
			}
			d.lg.Debug("established", slog.String("callsign", ac.Callsign), slog.String("runway", rwy.Name))
		}
		return
	}

	speed := max(approachSpeed, ac.GroundSpeed()-dt)
	d.fly(ac, math.VectorHeading(math.Sub2f(rwy.Threshold, ac.Position)), speed,
		rwy.Elevation+dist*glideslopeFtNM, dt)

	if dist < touchdownNM {
		ac.Altitude = rwy.Elevation
		ac.VerticalRate = 0
		ac.Runway = rwy.ID
		ac.Status = (ac.Status &^ av.StatusGlideslopeCaptured) | av.StatusLandingRoll
		d.lg.Debug("touchdown", slog.String("callsign", ac.Callsign), slog.String("runway", rwy.Name))
	}
}

func approachTo(ap *av.Airport, rwy av.RunwayID) *av.Approach {
	if ap == nil {
		return nil
	}
	for _, appr := range ap.Approaches {
		if appr.Runway == rwy {
			return appr
		}
	}
	return nil
}
