// sim/wake_test.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import (
	"testing"

	av "github.com/tcengine/tcengine/aviation"
)

func makeTestWakeManager(t *testing.T, cfg WakeConfig) (*WakeManager, *[]Event) {
	t.Helper()
	levels, err := NewLevelIndex(0, 20000, 1000)
	if err != nil {
		t.Fatal(err)
	}
	var events []Event
	post := func(ev Event) { events = append(events, ev) }
	return NewWakeManager(cfg, 1000, av.WakeMatrix{}, levels, post, makeTestLogger(t)), &events
}

func TestWakeTrail(t *testing.T) {
	cfg := DefaultConfig().Wake
	cfg.MaxZones = 2
	wm, events := makeTestWakeManager(t, cfg)

	heavy := makeAircraft(1, "HVY1", [2]float32{0, 0}, 5000, 90, 250)
	heavy.WakeCategory = av.WakeHeavy

	wm.Update([]*av.Aircraft{heavy}, 1)
	if wm.ZoneCount(heavy.ID) != 0 {
		t.Errorf("first sighting should not lay a zone")
	}

	heavy.Position = [2]float32{0.3, 0}
	wm.Update([]*av.Aircraft{heavy}, 1)
	if wm.ZoneCount(heavy.ID) != 0 {
		t.Errorf("zone laid before the trail spacing was covered")
	}

	heavy.Position = [2]float32{0.6, 0}
	wm.Update([]*av.Aircraft{heavy}, 1)
	heavy.Position = [2]float32{1.2, 0}
	wm.Update([]*av.Aircraft{heavy}, 1)
	if n := wm.ZoneCount(heavy.ID); n != 2 {
		t.Fatalf("zones: got %d, want 2", n)
	}
	zones := wm.Zones()
	if zones[0].Start != [2]float32{0, 0} || zones[0].End != [2]float32{0.6, 0} {
		t.Errorf("zone 0: got %v-%v", zones[0].Start, zones[0].End)
	}
	if zones[0].DistFromOwner < 0.59 || zones[0].DistFromOwner > 0.61 {
		t.Errorf("zone 0 distance from owner: got %v, want 0.6", zones[0].DistFromOwner)
	}

	// A third zone pushes out the oldest.
	heavy.Position = [2]float32{1.8, 0}
	wm.Update([]*av.Aircraft{heavy}, 1)
	zones = wm.Zones()
	if len(zones) != 2 || zones[0].ID != 1 {
		t.Errorf("after overflow: got %d zones, first ID %d; want 2, 1", len(zones), zones[0].ID)
	}
	if n := countEvents(*events, WakeZoneAddedEvent); n != 3 {
		t.Errorf("zone added events: got %d, want 3", n)
	}
	if n := countEvents(*events, WakeZoneRemovedEvent); n != 1 {
		t.Errorf("zone removed events: got %d, want 1", n)
	}

	wm.RemoveOwner(heavy.ID)
	if len(wm.Zones()) != 0 {
		t.Errorf("zones remain after RemoveOwner")
	}
	for b, band := range wm.bands {
		if len(band) != 0 {
			t.Errorf("band %d still holds %d zones", b, len(band))
		}
	}
}

func TestWakeZonesExpire(t *testing.T) {
	cfg := DefaultConfig().Wake
	cfg.MaxAgeS = 10
	wm, _ := makeTestWakeManager(t, cfg)

	heavy := makeAircraft(1, "HVY1", [2]float32{0, 0}, 5000, 90, 250)
	heavy.WakeCategory = av.WakeHeavy
	wm.Update([]*av.Aircraft{heavy}, 1)
	heavy.Position = [2]float32{1, 0}
	wm.Update([]*av.Aircraft{heavy}, 1)
	if wm.ZoneCount(heavy.ID) != 1 {
		t.Fatalf("expected one zone")
	}

	for range 10 {
		wm.Update([]*av.Aircraft{heavy}, 1)
	}
	if wm.ZoneCount(heavy.ID) != 1 {
		t.Errorf("zone expired early")
	}
	wm.Update([]*av.Aircraft{heavy}, 1)
	if wm.ZoneCount(heavy.ID) != 0 {
		t.Errorf("zone older than max_age_s was kept")
	}
}

func TestWakeInfringes(t *testing.T) {
	wm, _ := makeTestWakeManager(t, DefaultConfig().Wake)

	heavy := makeAircraft(1, "HVY1", [2]float32{0, 0}, 5000, 90, 250)
	heavy.WakeCategory = av.WakeHeavy
	light := makeAircraft(2, "LGT1", [2]float32{0, 5}, 5000, 90, 250)
	light.WakeCategory = av.WakeLight

	for _, p := range [][2]float32{{0, 0}, {0.6, 0}, {1.2, 0}} {
		heavy.Position = p
		light.Position = [2]float32{p[0], 5}
		wm.Update([]*av.Aircraft{heavy, light}, 1)
	}
	if wm.ZoneCount(light.ID) != 0 {
		t.Errorf("light aircraft laid wake zones")
	}

	for _, test := range []struct {
		name string
		pos  [2]float32
		alt  float32
		wake av.WakeCategory
		want bool
	}{
		{"behind, slightly below", [2]float32{0.3, 0.1}, 4900, av.WakeMedium, true},
		{"behind, level", [2]float32{0.3, 0}, 5000, av.WakeMedium, true},
		{"above the wake", [2]float32{0.3, 0}, 5100, av.WakeMedium, false},
		{"more than one separation below", [2]float32{0.3, 0}, 3900, av.WakeMedium, false},
		{"off to the side", [2]float32{0.3, 1}, 4900, av.WakeMedium, false},
		{"heavy follower", [2]float32{0.3, 0}, 4900, av.WakeHeavy, true},
		{"super follower", [2]float32{0.3, 0}, 4900, av.WakeSuper, false},
	} {
		f := makeAircraft(3, "FLW1", test.pos, test.alt, 90, 250)
		f.WakeCategory = test.wake
		owner, ok := wm.Infringes(f)
		if ok != test.want {
			t.Errorf("%s: got %v, want %v", test.name, ok, test.want)
		}
		if ok && owner != heavy.ID {
			t.Errorf("%s: owner %d, want %d", test.name, owner, heavy.ID)
		}
	}

	// The owner is never in its own wake.
	if _, ok := wm.Infringes(heavy); ok {
		t.Errorf("owner infringes its own wake")
	}
}
