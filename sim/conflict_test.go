// sim/conflict_test.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import (
	"slices"
	"testing"

	av "github.com/tcengine/tcengine/aviation"
	"github.com/tcengine/tcengine/math"
)

func TestLateralSeparation(t *testing.T) {
	cfg := makeTestConfig()
	cfg.Separation.MinLateralSep = 5
	e := makeTestEngine(t, cfg)

	addAircraft(t, e, "TST100", [2]float32{-40, 20}, 5000, 0, 0)
	b := addAircraft(t, e, "TST200", [2]float32{-36, 20}, 5000, 0, 0)

	e.Step()
	snap := e.Snapshot()
	if len(snap.Conflicts) != 1 {
		t.Fatalf("4nm apart: got %d conflicts, want 1: %v", len(snap.Conflicts), snap.Conflicts)
	}
	c := snap.Conflicts[0]
	if c.Reason != ReasonNormal {
		t.Errorf("reason: got %v, want normal", c.Reason)
	}
	cs := []string{c.Callsign1, c.Callsign2}
	slices.Sort(cs)
	if cs[0] != "TST100" || cs[1] != "TST200" {
		t.Errorf("callsigns: got %v", cs)
	}
	if c.LatSepRequiredNM != 5 {
		t.Errorf("required separation: got %v, want 5", c.LatSepRequiredNM)
	}

	b.Position = [2]float32{-34, 20}
	e.Step()
	snap = e.Snapshot()
	if len(snap.Conflicts) != 0 {
		t.Errorf("6nm apart: got %d conflicts, want 0: %v", len(snap.Conflicts), snap.Conflicts)
	}
	if len(snap.Potential) != 1 {
		t.Errorf("6nm apart: got %d potential conflicts, want 1", len(snap.Potential))
	}

	b.Position = [2]float32{-20, 20}
	e.Step()
	snap = e.Snapshot()
	if len(snap.Conflicts) != 0 || len(snap.Potential) != 0 {
		t.Errorf("20nm apart: got %d conflicts, %d potential", len(snap.Conflicts), len(snap.Potential))
	}
}

func TestVerticalSeparation(t *testing.T) {
	for _, test := range []struct {
		name       string
		alt1, alt2 float32
		conflicts  int
	}{
		{"same band", 5000, 5500, 1},
		{"adjacent bands", 4900, 5500, 1},
		{"970ft", 5000, 5970, 1},
		{"980ft, within the altitude tolerance", 5000, 5980, 0},
		{"exactly the minimum", 5000, 6000, 0},
		{"two bands apart", 5000, 7500, 0},
	} {
		t.Run(test.name, func(t *testing.T) {
			e := makeTestEngine(t, makeTestConfig())
			addAircraft(t, e, "TST100", [2]float32{-40, 20}, test.alt1, 0, 0)
			addAircraft(t, e, "TST200", [2]float32{-40, 21}, test.alt2, 0, 0)
			e.Step()
			if n := len(e.Snapshot().Conflicts); n != test.conflicts {
				t.Errorf("got %d conflicts, want %d", n, test.conflicts)
			}
		})
	}
}

func TestConflictStartedOnce(t *testing.T) {
	e := makeTestEngine(t, makeTestConfig())
	sub := e.Subscribe()

	addAircraft(t, e, "TST100", [2]float32{-40, 20}, 5000, 0, 0)
	b := addAircraft(t, e, "TST200", [2]float32{-40, 21}, 5000, 0, 0)

	stepN(e, 3)
	b.Position = [2]float32{-40, 40}
	stepN(e, 2)

	events := sub.Get()
	if n := countEvents(events, ConflictStartedEvent); n != 1 {
		t.Errorf("conflict started events: got %d, want 1", n)
	}
	if n := countEvents(events, ConflictEndedEvent); n != 1 {
		t.Errorf("conflict ended events: got %d, want 1", n)
	}
	// One new conflict (5%) plus one penalty period with it active.
	if s := e.Snapshot().Score; s != 949 {
		t.Errorf("score: got %d, want 949", s)
	}
}

// makeArrival returns an arrival to TEST cleared for the approach, tracking
// along heading hdg.
func makeArrival(t *testing.T, e *Engine, callsign, approach string, p [2]float32, alt, hdg float32) *av.Aircraft {
	t.Helper()
	ac := makeAircraft(e.Aircraft().NextID(), callsign, p, alt, hdg, 150)
	ac.Type = av.FlightTypeArrival
	ac.ArrivalAirport = 0
	ac.Clearance.Approach = approach
	if err := e.AddAircraft(ac); err != nil {
		t.Fatal(err)
	}
	return ac
}

func TestApproachSeparation(t *testing.T) {
	for _, test := range []struct {
		name       string
		app1, app2 string
		p1, p2     [2]float32
		conflict   bool
		reason     ConflictReason
	}{
		{"same approach within 2.5nm", "ILS09", "ILS09", [2]float32{-5, 0}, [2]float32{-7.2, 0}, true, ReasonSameApproach},
		{"same approach 2.8nm", "ILS09", "ILS09", [2]float32{-5, 0}, [2]float32{-7.8, 0}, false, 0},
		{"same approach beyond 10nm", "ILS09", "ILS09", [2]float32{-13, 0}, [2]float32{-15.8, 0}, true, ReasonNormal},
		{"dependent parallel", "ILS09", "ILS09R", [2]float32{-5, 0}, [2]float32{-5, -1}, true, ReasonParallelDependentApproach},
		{"dependent parallel 2.2nm", "ILS09", "ILS09R", [2]float32{-5, 0}, [2]float32{-7, -1}, false, 0},
		{"in the NTZ", "ILS09", "ILS09R", [2]float32{-5, -0.4}, [2]float32{-5, -1}, true, ReasonParallelIndependentApproach},
	} {
		t.Run(test.name, func(t *testing.T) {
			e := makeTestEngine(t, makeTestConfig())
			makeArrival(t, e, "TST100", test.app1, test.p1, 2500, 90)
			makeArrival(t, e, "TST200", test.app2, test.p2, 2500, 90)
			e.Step()

			conflicts := e.Snapshot().Conflicts
			if !test.conflict {
				if len(conflicts) != 0 {
					t.Errorf("unexpected conflicts %v", conflicts)
				}
				return
			}
			if len(conflicts) != 1 {
				t.Fatalf("got %d conflicts, want 1: %v", len(conflicts), conflicts)
			}
			if conflicts[0].Reason != test.reason {
				t.Errorf("reason: got %v, want %v", conflicts[0].Reason, test.reason)
			}
		})
	}
}

func TestSeparationInhibited(t *testing.T) {
	for _, test := range []struct {
		name  string
		setup func(a1, a2 *av.Aircraft)
	}{
		{"below 1000ft AGL", func(a1, a2 *av.Aircraft) {
			a1.Altitude, a2.Altitude = 800, 900
		}},
		{"recent go-around", func(a1, a2 *av.Aircraft) {
			a1.Status |= av.StatusRecentGoAround
		}},
		{"visual approach", func(a1, a2 *av.Aircraft) {
			a2.Status |= av.StatusVisualApproach
		}},
		{"not conflict eligible", func(a1, a2 *av.Aircraft) {
			a1.ConflictEligible = false
		}},
		{"on the runway", func(a1, a2 *av.Aircraft) {
			a1.Status |= av.StatusTakeoffRoll
		}},
		{"invalid position", func(a1, a2 *av.Aircraft) {
			a1.Position[0] = float32(math.Sqrt(-1))
		}},
	} {
		t.Run(test.name, func(t *testing.T) {
			e := makeTestEngine(t, makeTestConfig())
			a1 := addAircraft(t, e, "TST100", [2]float32{-40, 20}, 3000, 0, 0)
			a2 := addAircraft(t, e, "TST200", [2]float32{-40, 21}, 3000, 0, 0)
			test.setup(a1, a2)
			e.Step()
			if c := e.Snapshot().Conflicts; len(c) != 0 {
				t.Errorf("got conflicts %v", c)
			}
		})
	}
}

func TestEmergencySeparation(t *testing.T) {
	for _, test := range []struct {
		name      string
		emergency bool
		dalt      float32
		conflict  bool
		reason    ConflictReason
	}{
		{"normal 600ft", false, 600, true, ReasonNormal},
		{"emergency 600ft", true, 600, false, 0},
		{"emergency 400ft", true, 400, true, ReasonEmergencySeparation},
	} {
		t.Run(test.name, func(t *testing.T) {
			e := makeTestEngine(t, makeTestConfig())
			a1 := addAircraft(t, e, "TST100", [2]float32{-40, 20}, 5000, 0, 0)
			addAircraft(t, e, "TST200", [2]float32{-40, 21}, 5000+test.dalt, 0, 0)
			if test.emergency {
				a1.Status |= av.StatusEmergency
			}
			e.Step()
			c := e.Snapshot().Conflicts
			if !test.conflict {
				if len(c) != 0 {
					t.Errorf("got conflicts %v", c)
				}
				return
			}
			if len(c) != 1 || c[0].Reason != test.reason {
				t.Errorf("got %v, want one %v conflict", c, test.reason)
			}
		})
	}
}

func TestMinimumAltitudeConflicts(t *testing.T) {
	for _, test := range []struct {
		name   string
		pos    [2]float32
		alt    float32
		setup  func(ac *av.Aircraft)
		want   bool
		reason ConflictReason
		msa    int
	}{
		{"vectored below MVA", [2]float32{15, 15}, 2500, func(ac *av.Aircraft) {
			ac.Clearance.Vectored = true
			ac.RouteZones = []av.RouteZone{{Start: [2]float32{0, 15}, End: [2]float32{30, 15}}}
		}, true, ReasonMVA, 1},
		{"vectored off route", [2]float32{15, 15}, 2500, func(ac *av.Aircraft) { ac.Clearance.Vectored = true },
			true, ReasonSIDSTARMVA, 1},
		{"vectored at MVA", [2]float32{15, 15}, 3000, func(ac *av.Aircraft) { ac.Clearance.Vectored = true },
			false, 0, 0},
		{"vectored within 25ft of MVA", [2]float32{15, 15}, 2980, func(ac *av.Aircraft) { ac.Clearance.Vectored = true },
			false, 0, 0},
		{"on route", [2]float32{15, 15}, 2500, func(ac *av.Aircraft) {
			ac.RouteZones = []av.RouteZone{{Start: [2]float32{0, 15}, End: [2]float32{30, 15}}}
		}, false, 0, 0},
		{"deviated from route", [2]float32{15, 15}, 2500, func(ac *av.Aircraft) {
			ac.RouteZones = []av.RouteZone{{Start: [2]float32{0, 30}, End: [2]float32{30, 30}}}
		}, true, ReasonSIDSTARMVA, 1},
		{"recent go-around", [2]float32{15, 15}, 2500, func(ac *av.Aircraft) {
			ac.Clearance.Vectored = true
			ac.Status |= av.StatusRecentGoAround
		}, false, 0, 0},
		{"restricted area", [2]float32{-20, -20}, 12000, func(ac *av.Aircraft) {}, true, ReasonRestricted, 0},
		{"storm", [2]float32{30.5, -29.5}, 12000, func(ac *av.Aircraft) {}, true, ReasonStorm, -1},
		{"above storm", [2]float32{30.5, -29.5}, 31000, func(ac *av.Aircraft) {}, false, 0, 0},
	} {
		t.Run(test.name, func(t *testing.T) {
			e := makeTestEngine(t, makeTestConfig())
			ac := addAircraft(t, e, "TST100", test.pos, test.alt, 0, 0)
			test.setup(ac)
			e.Step()
			c := e.Snapshot().Conflicts
			if !test.want {
				if len(c) != 0 {
					t.Errorf("got conflicts %v", c)
				}
				return
			}
			if len(c) != 1 {
				t.Fatalf("got %d conflicts, want 1: %v", len(c), c)
			}
			if c[0].Reason != test.reason || c[0].MinAltSector != test.msa || c[0].IsPair() {
				t.Errorf("got %+v, want reason %v sector %d", c[0], test.reason, test.msa)
			}
		})
	}
}

func TestWakeConflict(t *testing.T) {
	e := makeTestEngine(t, makeTestConfig())

	heavy := addAircraft(t, e, "HVY1", [2]float32{-40, 30}, 5000, 90, 250)
	heavy.WakeCategory = av.WakeHeavy
	follower := addAircraft(t, e, "TST100", [2]float32{-40, 20}, 4900, 90, 250)

	for i := range 8 {
		heavy.Position = [2]float32{-40 + 0.6*float32(i), 30}
		e.Step()
	}
	if zones := e.Snapshot().WakeZones; len(zones) != 7 {
		t.Fatalf("got %d wake zones, want 7", len(zones))
	}

	// In the oldest zone, 3.9nm behind the heavy.
	follower.Position = [2]float32{-39.7, 30}
	e.Step()
	c := e.Snapshot().Conflicts
	if len(c) != 1 {
		t.Fatalf("got %d conflicts, want 1: %v", len(c), c)
	}
	if c[0].Reason != ReasonWake || c[0].Aircraft1 != follower.ID || c[0].Aircraft2 != heavy.ID {
		t.Errorf("got %+v, want wake conflict behind HVY1", c[0])
	}
	if c[0].LatSepRequiredNM != 5 {
		t.Errorf("wake separation: got %v, want 5", c[0].LatSepRequiredNM)
	}

	// Close enough to the heavy for a separation conflict, which takes
	// priority over the wake.
	follower.Position = [2]float32{-36.6, 30}
	e.Step()
	c = e.Snapshot().Conflicts
	if len(c) != 1 || c[0].Reason != ReasonNormal {
		t.Errorf("got %v, want a single normal conflict", c)
	}
}

func TestWakeConflictBelowMinimumAltitude(t *testing.T) {
	e := makeTestEngine(t, makeTestConfig())

	heavy := addAircraft(t, e, "HVY1", [2]float32{11, 15}, 3100, 90, 250)
	heavy.WakeCategory = av.WakeHeavy
	follower := addAircraft(t, e, "TST100", [2]float32{-40, -40}, 2600, 90, 250)
	follower.Clearance.Vectored = true

	for i := range 8 {
		heavy.Position = [2]float32{11 + 0.6*float32(i), 15}
		e.Step()
	}

	// Below the 3000ft MVA and in the oldest zone behind the heavy.
	follower.Position = [2]float32{11.3, 15}
	e.Step()
	c := e.Snapshot().Conflicts
	if len(c) != 2 {
		t.Fatalf("got %d conflicts, want 2: %v", len(c), c)
	}
	var mva, wake bool
	for _, cf := range c {
		switch {
		case cf.Reason == ReasonSIDSTARMVA && cf.Aircraft1 == follower.ID && !cf.IsPair():
			mva = true
		case cf.Reason == ReasonWake && cf.Aircraft1 == follower.ID && cf.Aircraft2 == heavy.ID:
			wake = true
		}
	}
	if !mva || !wake {
		t.Errorf("got %v, want a minimum altitude and a wake conflict for TST100", c)
	}
}

func TestConflictKey(t *testing.T) {
	a := Conflict{Aircraft1: 1, Aircraft2: 2, MinAltSector: -1, Reason: ReasonNormal}
	b := Conflict{Aircraft1: 2, Aircraft2: 1, MinAltSector: -1, Reason: ReasonSameApproach}
	if a.key() != b.key() {
		t.Errorf("pair key depends on order or reason")
	}
	w := Conflict{Aircraft1: 1, Aircraft2: 2, MinAltSector: -1, Reason: ReasonWake}
	if w.key() == a.key() {
		t.Errorf("wake and separation conflicts share a key")
	}
	m := Conflict{Aircraft1: 1, Aircraft2: NoAircraft, MinAltSector: 3, Reason: ReasonMVA}
	if m.IsPair() || m.key() == a.key() {
		t.Errorf("minimum altitude conflict treated as a pair")
	}
}
