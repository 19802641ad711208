// sim/aircraft.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import (
	"fmt"
	"slices"

	av "github.com/tcengine/tcengine/aviation"
)

// NoAircraft is stored in place of an aircraft ID where there is none,
// e.g. the second aircraft of a single-aircraft conflict.
const NoAircraft av.AircraftID = -1

// AircraftTable owns the live aircraft. Aircraft are iterated in the
// order they were added so that every stage sees the same ordering from
// tick to tick.
type AircraftTable struct {
	aircraft   []*av.Aircraft
	byID       map[av.AircraftID]*av.Aircraft
	byCallsign map[string]*av.Aircraft
	nextID     av.AircraftID
}

func NewAircraftTable() *AircraftTable {
	return &AircraftTable{
		byID:       make(map[av.AircraftID]*av.Aircraft),
		byCallsign: make(map[string]*av.Aircraft),
	}
}

// NextID returns an aircraft ID that has not been used by the table.
func (t *AircraftTable) NextID() av.AircraftID {
	id := t.nextID
	t.nextID++
	return id
}

func (t *AircraftTable) Add(ac *av.Aircraft) error {
	if _, ok := t.byCallsign[ac.Callsign]; ok {
		return fmt.Errorf("%s: %w", ac.Callsign, ErrDuplicateCallsign)
	}
	if _, ok := t.byID[ac.ID]; ok {
		return fmt.Errorf("aircraft ID %d already in use: %w", ac.ID, ErrInvalidAircraft)
	}
	t.aircraft = append(t.aircraft, ac)
	t.byID[ac.ID] = ac
	t.byCallsign[ac.Callsign] = ac
	t.nextID = max(t.nextID, ac.ID+1)
	return nil
}

func (t *AircraftTable) Remove(id av.AircraftID) (*av.Aircraft, bool) {
	ac, ok := t.byID[id]
	if !ok {
		return nil, false
	}
	delete(t.byID, id)
	delete(t.byCallsign, ac.Callsign)
	t.aircraft = slices.DeleteFunc(t.aircraft, func(a *av.Aircraft) bool { return a.ID == id })
	return ac, true
}

func (t *AircraftTable) Get(id av.AircraftID) (*av.Aircraft, bool) {
	ac, ok := t.byID[id]
	return ac, ok
}

func (t *AircraftTable) ByCallsign(cs string) (*av.Aircraft, bool) {
	ac, ok := t.byCallsign[cs]
	return ac, ok
}

// All returns the aircraft in insertion order. The slice must not be
// modified by the caller.
func (t *AircraftTable) All() []*av.Aircraft {
	return t.aircraft
}

func (t *AircraftTable) Len() int { return len(t.aircraft) }

// Count returns the number of aircraft of the given flight type.
func (t *AircraftTable) Count(ft av.FlightType) int {
	n := 0
	for _, ac := range t.aircraft {
		if ac.Type == ft {
			n++
		}
	}
	return n
}

// Eligible reports whether the aircraft takes part in conflict detection
// and prediction this tick.
func Eligible(ac *av.Aircraft) bool {
	return ac.ConflictEligible && !ac.Status.OnRunway() && ac.Valid()
}
