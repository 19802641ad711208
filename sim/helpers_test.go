// sim/helpers_test.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import (
	"strings"
	"testing"

	av "github.com/tcengine/tcengine/aviation"
	"github.com/tcengine/tcengine/log"
	"github.com/tcengine/tcengine/math"
)

// Runway 09 has an opposite (27), a crossing runway (18), a dependent
// parallel (09R), a dependent opposite (27R), and depends on OTHR 36 as
// a crossing runway.
const testWorldJSON = `{
  "name": "simtest",
  "max_altitude": 20000,
  "terminal_ceiling": 10000,
  "tower_handoff_altitude": 1500,
  "primary_boundary": {"center": [0, 0], "radius": 60},
  "sectors": [
    {"name": "west", "controller": "W", "vertices": [[-60, -60], [0, -60], [0, 60], [-60, 60]]},
    {"name": "east", "controller": "E", "vertices": [[0, -60], [60, -60], [60, 60], [0, 60]]}
  ],
  "min_alt_sectors": [
    {"vertices": [[10, 10], [20, 10], [20, 20], [10, 20]], "min_alt": 3000},
    {"center": [-20, -20], "radius": 2, "restricted": true}
  ],
  "storms": [
    {"origin": [30, -30], "cell_size": 1, "half_width": 2, "top": 30000,
     "intensity": [[8, 8, 8, 8], [8, 8, 8, 8], [8, 8, 8, 8], [8, 8, 8, 8]]}
  ],
  "airports": [
    {
      "icao": "TEST",
      "position": [0, 0],
      "elevation": 0,
      "runways": [
        {"name": "09", "threshold": [-1, 0], "heading": 90, "opposite": "27", "crossing": ["18"],
         "dependent_parallel": ["09R"], "dependent_opposite": ["27R"],
         "active_departure": true, "active_arrival": true},
        {"name": "27", "threshold": [1, 0], "heading": 270, "opposite": "09"},
        {"name": "18", "threshold": [0, 1], "heading": 180, "crossing": ["09"]},
        {"name": "09R", "threshold": [-1, -1], "heading": 90, "opposite": "27R"},
        {"name": "27R", "threshold": [1, -1], "heading": 270, "opposite": "09R"}
      ],
      "approaches": [
        {"name": "ILS09", "runway": "09", "glideslope_angle": 3},
        {"name": "ILS09R", "runway": "09R", "glideslope_angle": 3},
        {"name": "ILS27", "runway": "27", "glideslope_angle": 3}
      ],
      "configurations": [
        {"name": "west", "arrival_runways": ["09", "09R"], "departure_runways": ["09"],
         "ntzs": [{"vertices": [[-20, -0.7], [-1, -0.7], [-1, -0.3], [-20, -0.3]]}]}
      ],
      "sids": [{"name": "EAST1", "runway": "09", "initial_climb": 5000}],
      "stars": [
        {"name": "WEST1", "entry": [-40, 0], "entry_heading": 90, "entry_speed": 250,
         "entry_min_altitude": 6000, "entry_max_altitude": 9000}
      ],
      "airlines": [{"icao": "TST", "weight": 1, "wake": "M", "recat": "D"}],
      "dependency_rules": [
        {"runway": "09", "airport": "OTHR", "other_runway": "36", "relation": "crossing"}
      ]
    },
    {
      "icao": "OTHR",
      "position": [20, -20],
      "elevation": 0,
      "closed_for_departures": true,
      "runways": [{"name": "36", "threshold": [20, -21], "heading": 360}]
    }
  ]
}`

func makeTestWorld(t *testing.T) *av.World {
	t.Helper()
	w, err := av.LoadWorld(strings.NewReader(testWorldJSON))
	if err != nil {
		t.Fatalf("LoadWorld: %v", err)
	}
	return w
}

func makeTestLogger(t *testing.T) *log.Logger {
	return log.New(false, "debug", t.TempDir())
}

// makeTestConfig returns the default configuration with automatic
// traffic turned off.
func makeTestConfig() Config {
	cfg := DefaultConfig()
	cfg.Traffic.TargetArrivals = 0
	cfg.Traffic.Departures = false
	cfg.Trajectory.ResolveACC = false
	return cfg
}

func makeTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	e, err := NewEngine(makeTestWorld(t), cfg, 1, makeTestLogger(t))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(e.Destroy)
	return e
}

// addAircraft adds an en-route aircraft flying a constant heading and
// cleared to its current altitude.
func addAircraft(t *testing.T, e *Engine, callsign string, p [2]float32, alt, hdg, gs float32) *av.Aircraft {
	t.Helper()
	ac := makeAircraft(e.Aircraft().NextID(), callsign, p, alt, hdg, gs)
	if err := e.AddAircraft(ac); err != nil {
		t.Fatalf("AddAircraft %s: %v", callsign, err)
	}
	return ac
}

func makeAircraft(id av.AircraftID, callsign string, p [2]float32, alt, hdg, gs float32) *av.Aircraft {
	ac := av.NewAircraft(id, callsign, av.FlightTypeEnroute)
	ac.Position = p
	ac.Altitude = alt
	ac.Track = math.Scale2f(math.HeadingVector(hdg), gs)
	ac.GS, ac.IAS = gs, gs
	ac.Clearance = av.Clearance{Altitude: alt, Heading: hdg}
	return ac
}

func stepN(e *Engine, n int) {
	for range n {
		e.Step()
	}
}

func countEvents(events []Event, t EventType) int {
	n := 0
	for _, ev := range events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func runwayID(t *testing.T, w *av.World, icao, name string) av.RunwayID {
	t.Helper()
	ap, ok := w.AirportByICAO(icao)
	if !ok {
		t.Fatalf("%s: no such airport", icao)
	}
	rwy, ok := ap.Runway(name)
	if !ok {
		t.Fatalf("%s %s: no such runway", icao, name)
	}
	return rwy.ID
}
