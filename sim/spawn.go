// sim/spawn.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import (
	"fmt"
	"log/slog"

	av "github.com/tcengine/tcengine/aviation"
	"github.com/tcengine/tcengine/log"
	"github.com/tcengine/tcengine/math"
	"github.com/tcengine/tcengine/rand"
)

// Spawner creates arrivals on a timer whose period depends on the
// traffic mode, and keeps one next departure waiting at each airport
// that is open for departures and not too far ahead of its departure
// rate.
type Spawner struct {
	cfg      TrafficConfig
	world    *av.World
	state    *TrafficState
	aircraft *AircraftTable
	levels   *LevelIndex
	rand     rand.Rand

	ArrivalTimerS float32
	// Jitter applied to the previous flow-rate interval; it is taken back
	// out of the next one so that the long-run rate does not drift.
	prevOffsetS float32

	add    func(*av.Aircraft) error
	remove func(av.AircraftID)
	lg     *log.Logger
}

func NewSpawner(cfg TrafficConfig, world *av.World, state *TrafficState, aircraft *AircraftTable,
	levels *LevelIndex, r rand.Rand, add func(*av.Aircraft) error, remove func(av.AircraftID),
	lg *log.Logger) *Spawner {
	return &Spawner{
		cfg:      cfg,
		world:    world,
		state:    state,
		aircraft: aircraft,
		levels:   levels,
		rand:     r,
		add:      add,
		remove:   remove,
		lg:       lg,
	}
}

// Update runs the arrival timer and the departure backlog for dt
// seconds, spawning whatever is due.
func (s *Spawner) Update(dt float32) {
	s.updateArrivals(dt)
	if s.cfg.Departures {
		s.updateDepartures(dt)
	}
}

func (s *Spawner) updateArrivals(dt float32) {
	s.ArrivalTimerS -= dt
	if s.ArrivalTimerS >= 0 {
		return
	}

	switch s.cfg.Mode {
	case TrafficModeNormal, TrafficModeArrivalsToControl:
		count := s.aircraft.Count(av.FlightTypeArrival)
		s.ArrivalTimerS = math.Clamp(90-10*float32(s.cfg.TargetArrivals-count), 50, 80)
		if count >= s.cfg.TargetArrivals {
			return
		}

	case TrafficModeFlowRate:
		interval := 3600 / s.cfg.ArrivalFlowRate
		s.ArrivalTimerS = -s.prevOffsetS + interval
		s.prevOffsetS = interval * s.rand.Uniform(-0.1, 0.1)
		s.ArrivalTimerS += s.prevOffsetS

	default:
		s.lg.Warnf("%s: %v", s.cfg.Mode, ErrInvalidTrafficMode)
		s.ArrivalTimerS = 60
		return
	}

	s.SpawnArrival()
}

// SpawnArrival creates an arrival at a random open airport, weighted by
// the airports' arrival weights, on one of its STARs. It returns nil if
// no arrival could be created.
func (s *Spawner) SpawnArrival() *av.Aircraft {
	idx := rand.SampleWeighted(s.rand, s.world.Airports, func(ap *av.Airport) int {
		if ap.ClosedForArrivals || len(ap.STARs) == 0 {
			return 0
		}
		return ap.ArrivalWeight
	})
	if idx == -1 {
		s.lg.Debug("no airport open for arrivals")
		return nil
	}
	ap := s.world.Airports[idx]
	star := rand.SampleSlice(s.rand, ap.STARs)

	ac := s.newAircraft(ap, av.FlightTypeArrival)
	if ac == nil {
		return nil
	}

	alt := s.spawnAltitude(star)
	ac.ArrivalAirport = ap.ID
	ac.Position = star.Entry
	ac.Altitude = alt
	ac.IAS, ac.GS = star.EntrySpeed, star.EntrySpeed
	ac.Track = math.Scale2f(math.HeadingVector(star.EntryHeading), star.EntrySpeed)
	ac.RouteZones = star.Zones
	ac.Sector = av.SectorCentre
	ac.Clearance = av.Clearance{
		Altitude: min(math.Floor(alt/1000)*1000, (math.Ceil(s.world.MaxAltitude/1000)-1)*1000),
		Heading:  star.EntryHeading,
		Speed:    star.EntrySpeed,
		STAR:     star.Name,
	}

	if err := s.add(ac); err != nil {
		s.lg.Warn("unable to add arrival", slog.Any("aircraft", ac), slog.Any("error", err))
		return nil
	}
	return ac
}

// spawnAltitude returns the 1000ft step in the STAR's entry range with
// the fewest aircraft nearby in altitude, preferring higher altitudes.
func (s *Spawner) spawnAltitude(star av.Procedure) float32 {
	lo, hi := star.EntryMinAltitude, star.EntryMaxAltitude
	if hi == 0 {
		hi = max(lo, s.world.TerminalCeiling)
	}
	lo = math.Ceil(lo/1000) * 1000
	hi = math.Floor(hi/1000) * 1000
	if hi < lo {
		return lo
	}

	best, bestCount := hi, -1
	for alt := hi; alt >= lo; alt -= 1000 {
		n := s.levels.Count(alt-s.cfg.SpawnWindowFt/2, alt+s.cfg.SpawnWindowFt/2)
		if bestCount == -1 || n < bestCount {
			best, bestCount = alt, n
		}
	}
	return best
}

func (s *Spawner) updateDepartures(dt float32) {
	for _, ap := range s.world.Airports {
		st := &s.state.Airports[ap.ID]

		if ap.DepartureRate > 0 {
			interval := 3600 / float32(ap.DepartureRate)
			st.BacklogTimerS += dt
			for st.BacklogTimerS >= interval {
				st.BacklogTimerS -= interval
				st.Backlog++
			}
		}

		if ap.ClosedForDepartures {
			if st.NextDeparture != NoAircraft {
				s.lg.Info("airport closed for departures, removing next departure", slog.String("airport", ap.ICAO))
				s.remove(st.NextDeparture)
				st.NextDeparture = NoAircraft
			}
			continue
		}

		if st.NextDeparture == NoAircraft && st.Backlog > -ap.MaxAdvanceDepartures {
			if ac := s.spawnDeparture(ap); ac != nil {
				st.NextDeparture = ac.ID
			}
		}
	}
}

// spawnDeparture creates a departure waiting for takeoff at the airport.
func (s *Spawner) spawnDeparture(ap *av.Airport) *av.Aircraft {
	ac := s.newAircraft(ap, av.FlightTypeDeparture)
	if ac == nil {
		return nil
	}
	ac.DepartureAirport = ap.ID
	ac.Position = ap.Position
	ac.Altitude = ap.Elevation
	ac.Sector = av.SectorTower
	ac.Status |= av.StatusWaitingTakeoff

	if err := s.add(ac); err != nil {
		s.lg.Warn("unable to add departure", slog.Any("aircraft", ac), slog.Any("error", err))
		return nil
	}
	return ac
}

// newAircraft picks an airline for the airport and returns an aircraft
// with a callsign that is not in use, or nil if there is none.
func (s *Spawner) newAircraft(ap *av.Airport, ft av.FlightType) *av.Aircraft {
	idx := rand.SampleWeighted(s.rand, ap.Airlines, func(al av.AirlineSpecifier) int { return al.Weight })
	if idx == -1 {
		s.lg.Warn("no airlines available", slog.String("airport", ap.ICAO))
		return nil
	}
	al := ap.Airlines[idx]

	callsign, ok := s.callsign(al.ICAO)
	if !ok {
		s.lg.Warn("unable to find an unused callsign", slog.String("airline", al.ICAO))
		return nil
	}

	ac := av.NewAircraft(s.aircraft.NextID(), callsign, ft)
	ac.WakeCategory = al.Wake
	ac.Recat = al.Recat
	return ac
}

func (s *Spawner) callsign(airline string) (string, bool) {
	for range 30 {
		cs := fmt.Sprintf("%s%d", airline, 100+s.rand.Intn(s.cfg.CallsignMax-100))
		if _, ok := s.aircraft.ByCallsign(cs); !ok {
			return cs, true
		}
	}
	return "", false
}

func (s *Spawner) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("mode", s.cfg.Mode),
		slog.Float64("arrival_timer_s", float64(s.ArrivalTimerS)),
		slog.Float64("prev_offset_s", float64(s.prevOffsetS)))
}
