// sim/spawn_test.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import (
	"testing"

	av "github.com/tcengine/tcengine/aviation"
	"github.com/tcengine/tcengine/rand"
)

type testSpawner struct {
	*Spawner
	world    *av.World
	state    *TrafficState
	aircraft *AircraftTable
	levels   *LevelIndex
	removed  []av.AircraftID
}

func makeTestSpawner(t *testing.T, cfg TrafficConfig) *testSpawner {
	t.Helper()
	w := makeTestWorld(t)
	levels, err := NewLevelIndex(0, w.MaxAltitude, 1000)
	if err != nil {
		t.Fatal(err)
	}
	ts := &testSpawner{
		world:    w,
		state:    NewTrafficState(w),
		aircraft: NewAircraftTable(),
		levels:   levels,
	}
	ts.Spawner = NewSpawner(cfg, w, ts.state, ts.aircraft, levels, rand.New(1), ts.aircraft.Add,
		func(id av.AircraftID) {
			ts.removed = append(ts.removed, id)
			ts.aircraft.Remove(id)
		}, makeTestLogger(t))
	return ts
}

func TestSpawnNormal(t *testing.T) {
	cfg := DefaultConfig().Traffic
	cfg.Departures = false
	s := makeTestSpawner(t, cfg)

	s.Update(1)
	if n := s.aircraft.Count(av.FlightTypeArrival); n != 1 {
		t.Fatalf("arrivals: got %d, want 1", n)
	}
	// 90-10*(8-0) clamped to [50, 80].
	if s.ArrivalTimerS != 50 {
		t.Errorf("arrival timer: got %v, want 50", s.ArrivalTimerS)
	}

	ac := s.aircraft.All()[0]
	if ac.Position != [2]float32{-40, 0} || ac.Clearance.STAR != "WEST1" {
		t.Errorf("arrival not at the STAR entry: %v %+v", ac.Position, ac.Clearance)
	}
	if ac.Altitude != 9000 || ac.Clearance.Altitude != 9000 {
		t.Errorf("altitude: got %v cleared %v, want 9000", ac.Altitude, ac.Clearance.Altitude)
	}
	if ac.Sector != av.SectorCentre || ac.ArrivalAirport != 0 || ac.GroundSpeed() < 249 {
		t.Errorf("arrival state: %+v", ac)
	}
	if ac.Callsign[:3] != "TST" || ac.WakeCategory != av.WakeMedium {
		t.Errorf("airline: got %s %s", ac.Callsign, ac.WakeCategory)
	}

	// The timer has to go negative.
	for range 50 {
		s.Update(1)
	}
	if n := s.aircraft.Count(av.FlightTypeArrival); n != 1 {
		t.Errorf("spawned before the timer expired: %d arrivals", n)
	}
	s.Update(1)
	if n := s.aircraft.Count(av.FlightTypeArrival); n != 2 {
		t.Errorf("arrivals after timer: got %d, want 2", n)
	}
}

func TestSpawnTargetReached(t *testing.T) {
	cfg := DefaultConfig().Traffic
	cfg.Departures = false
	cfg.TargetArrivals = 2
	s := makeTestSpawner(t, cfg)

	for i, cs := range []string{"ARR1", "ARR2"} {
		s.aircraft.Add(av.NewAircraft(av.AircraftID(i), cs, av.FlightTypeArrival))
	}
	s.Update(1)
	if n := s.aircraft.Len(); n != 2 {
		t.Errorf("spawned with the arrival target reached: %d aircraft", n)
	}
	if s.ArrivalTimerS != 80 {
		t.Errorf("arrival timer: got %v, want 80", s.ArrivalTimerS)
	}
}

func TestSpawnUnknownMode(t *testing.T) {
	cfg := DefaultConfig().Traffic
	cfg.Departures = false
	cfg.Mode = "rush_hour"
	s := makeTestSpawner(t, cfg)

	s.Update(1)
	if s.aircraft.Len() != 0 {
		t.Errorf("spawned in an unknown mode")
	}
	if s.ArrivalTimerS != 60 {
		t.Errorf("arrival timer: got %v, want 60", s.ArrivalTimerS)
	}
}

func TestSpawnFlowRate(t *testing.T) {
	cfg := DefaultConfig().Traffic
	cfg.Departures = false
	cfg.Mode = TrafficModeFlowRate
	cfg.ArrivalFlowRate = 20
	s := makeTestSpawner(t, cfg)

	n := 0
	s.add = func(ac *av.Aircraft) error {
		n++
		return nil
	}
	for range 36000 {
		s.Update(1)
		if s.prevOffsetS < -18.001 || s.prevOffsetS > 18.001 {
			t.Fatalf("offset %v outside +/-10%% of the interval", s.prevOffsetS)
		}
	}
	// 20 per hour for 10 hours, give or take rounding to whole ticks.
	if n < 198 || n > 202 {
		t.Errorf("arrivals in 10 hours: got %d, want ~200", n)
	}
}

func TestSpawnAltitude(t *testing.T) {
	s := makeTestSpawner(t, DefaultConfig().Traffic)
	for i, alt := range []float32{9000, 8000} {
		ac := makeAircraft(av.AircraftID(100+i), "OCC"+string(rune('A'+i)), [2]float32{}, alt, 0, 0)
		s.levels.Update(ac)
	}
	star := s.world.Airports[0].STARs[0]
	if alt := s.spawnAltitude(star); alt != 6000 {
		t.Errorf("spawn altitude: got %v, want 6000", alt)
	}

	// With no upper bound the terminal ceiling is used.
	star.EntryMinAltitude, star.EntryMaxAltitude = 9500, 0
	if alt := s.spawnAltitude(star); alt != 10000 {
		t.Errorf("spawn altitude: got %v, want 10000", alt)
	}
}

func TestSpawnDepartures(t *testing.T) {
	cfg := DefaultConfig().Traffic
	cfg.TargetArrivals = 0
	s := makeTestSpawner(t, cfg)
	ap := s.world.Airports[0]
	ap.DepartureRate = 30
	st := &s.state.Airports[ap.ID]

	s.Update(1)
	dep, ok := s.aircraft.Get(st.NextDeparture)
	if !ok {
		t.Fatalf("no departure spawned")
	}
	if !dep.Status.Has(av.StatusWaitingTakeoff) || dep.Sector != av.SectorTower || dep.DepartureAirport != ap.ID {
		t.Errorf("departure state: %+v", dep)
	}
	if s.state.Airports[1].NextDeparture != NoAircraft {
		t.Errorf("departure spawned at a closed airport")
	}

	// One departure owed every 120 seconds.
	for range 239 {
		s.Update(1)
	}
	if st.Backlog != 2 {
		t.Errorf("backlog: got %d, want 2", st.Backlog)
	}
	if s.aircraft.Count(av.FlightTypeDeparture) != 1 {
		t.Errorf("more than one departure waiting")
	}

	ap.ClosedForDepartures = true
	s.Update(1)
	if st.NextDeparture != NoAircraft || len(s.removed) != 1 || s.removed[0] != dep.ID {
		t.Errorf("closing the airport did not remove the waiting departure")
	}
}

func TestSpawnDeparturesAhead(t *testing.T) {
	cfg := DefaultConfig().Traffic
	cfg.TargetArrivals = 0
	s := makeTestSpawner(t, cfg)
	st := &s.state.Airports[0]

	st.Backlog = -s.world.Airports[0].MaxAdvanceDepartures
	s.Update(1)
	if st.NextDeparture != NoAircraft {
		t.Errorf("departure spawned too far ahead of the departure rate")
	}
	st.Backlog++
	s.Update(1)
	if st.NextDeparture == NoAircraft {
		t.Errorf("no departure spawned")
	}
}
