// aviation/airport.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package aviation

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/tcengine/tcengine/math"
	"github.com/tcengine/tcengine/util"
)

type Airport struct {
	ID        AirportID  `json:"-"`
	ICAO      string     `json:"icao"`
	Position  [2]float32 `json:"position"`
	Elevation float32    `json:"elevation"`

	Runways        []*Runway             `json:"runways"`
	Approaches     []*Approach           `json:"approaches"`
	Configurations []RunwayConfiguration `json:"configurations"`
	// Each group lists the normal operating zones of a set of
	// simultaneous approaches.
	ApproachNOZGroups [][]ApproachNOZ    `json:"approach_noz_groups"`
	DependencyRules   []DependencyRule   `json:"dependency_rules"`
	SIDs              []Procedure        `json:"sids"`
	STARs             []Procedure        `json:"stars"`
	Airlines          []AirlineSpecifier `json:"airlines"`

	ArrivalWeight        int  `json:"arrival_weight"`
	DepartureRate        int  `json:"departure_rate"` // per hour
	MaxAdvanceDepartures int  `json:"max_advance_departures"`
	ClosedForArrivals    bool `json:"closed_for_arrivals"`
	ClosedForDepartures  bool `json:"closed_for_departures"`
}

func (ap *Airport) Runway(name string) (*Runway, bool) {
	for _, rwy := range ap.Runways {
		if rwy.Name == name {
			return rwy, true
		}
	}
	return nil, false
}

func (ap *Airport) Approach(name string) (*Approach, bool) {
	for _, a := range ap.Approaches {
		if a.Name == name {
			return a, true
		}
	}
	return nil, false
}

func (ap *Airport) SID(name string) (*Procedure, bool) {
	for i := range ap.SIDs {
		if ap.SIDs[i].Name == name {
			return &ap.SIDs[i], true
		}
	}
	return nil, false
}

///////////////////////////////////////////////////////////////////////////
// Runway

type Runway struct {
	ID        RunwayID   `json:"-"`
	Airport   AirportID  `json:"-"`
	Name      string     `json:"name"`
	Threshold [2]float32 `json:"threshold"`
	Heading   float32    `json:"heading"`
	Elevation float32    `json:"elevation"`
	// Length of the initial-climb protection zone, nm; zero uses the
	// default.
	ProtectionLength float32 `json:"protection_length"`
	// Altitude of the runway's SIDs' initial climb; if unset, it is taken
	// from the highest initial climb of any SID from this runway.
	InitialClimb float32 `json:"initial_climb"`

	ActiveArrival   bool  `json:"active_arrival"`
	ActiveDeparture bool  `json:"active_departure"`
	DepartureNOZ    *Area `json:"departure_noz,omitempty"`

	OppositeName           string   `json:"opposite"`
	DependentParallelNames []string `json:"dependent_parallel"`
	DependentOppositeNames []string `json:"dependent_opposite"`
	CrossingNames          []string `json:"crossing"`

	Opposite          RunwayID   `json:"-"`
	DependentParallel []RunwayID `json:"-"`
	DependentOpposite []RunwayID `json:"-"`
	Crossing          []RunwayID `json:"-"`
}

const (
	DefaultProtectionLength = 5   // nm
	ProtectionWidth         = 2.5 // nm
)

// ProtectionZoneContains reports whether the given point is inside the
// initial-climb protection zone: a rectangle from the threshold along the
// runway heading whose length grows with the initial climb altitude.
func (r *Runway) ProtectionZoneContains(p [2]float32, alt float32) bool {
	if alt > r.InitialClimb+500 {
		return false
	}
	length := r.ProtectionLength
	if length == 0 {
		// Roughly a 300ft/nm climb gradient to the initial climb altitude.
		length = math.Clamp((r.InitialClimb-r.Elevation)/300, DefaultProtectionLength, 15)
	}
	return math.PointInRotatedRect(p, r.Threshold, r.Heading, length, ProtectionWidth)
}

func (r *Runway) String() string { return r.Name }

///////////////////////////////////////////////////////////////////////////
// Approach

type Approach struct {
	Name       string   `json:"name"`
	RunwayName string   `json:"runway"`
	Runway     RunwayID `json:"-"`
	// Inbound final approach course; zero uses the runway heading.
	Course float32 `json:"course"`
	// Glideslope angle in degrees; zero for non-precision approaches.
	GlideslopeAngle float32 `json:"glideslope_angle"`
	// Maximum distance from the threshold at which an aircraft can be
	// established; zero uses DefaultLocalizerRange.
	LocalizerRange float32 `json:"localizer_range"`

	threshold [2]float32
	elevation float32
}

const (
	DefaultLocalizerRange = 25  // nm
	EstablishedOffset     = 0.5 // nm either side of the centerline
	EstablishedTrackDiff  = 30  // degrees
)

func (a *Approach) Threshold() [2]float32 { return a.threshold }

func (a *Approach) DistanceToThreshold(p [2]float32) float32 {
	return math.Distance2f(p, a.threshold)
}

// Established reports whether an aircraft at p with the given track is
// established on the final approach course: within the localizer range,
// on the approach side of the threshold, close to the centerline, and
// tracking roughly inbound.
func (a *Approach) Established(p [2]float32, track float32) bool {
	rng := a.LocalizerRange
	if rng == 0 {
		rng = DefaultLocalizerRange
	}
	inbound := math.HeadingVector(a.Course)
	d := math.Sub2f(a.threshold, p) // aircraft to threshold
	along := math.Dot(d, inbound)
	if along <= 0 || along > rng {
		return false
	}
	outer := math.Sub2f(a.threshold, math.Scale2f(inbound, rng))
	if math.Abs(math.SignedPointLineDistance(p, outer, a.threshold)) > EstablishedOffset {
		return false
	}
	return math.HeadingDifference(track, a.Course) <= EstablishedTrackDiff
}

// AboveGlideslopeROC reports whether the altitude is above the
// obstacle-clearance slope under the glideslope at that distance from the
// threshold. Non-precision approaches never are.
func (a *Approach) AboveGlideslopeROC(p [2]float32, alt float32) bool {
	if a.GlideslopeAngle <= 0 {
		return false
	}
	distFt := a.DistanceToThreshold(p) * 6076.12
	return alt > a.elevation+distFt*a.GlideslopeAngle/102
}

///////////////////////////////////////////////////////////////////////////
// Runway configurations, NOZs, NTZs

type RunwayConfiguration struct {
	Name             string   `json:"name"`
	ArrivalRunways   []string `json:"arrival_runways"`
	DepartureRunways []string `json:"departure_runways"`
	// No-transgression zones between simultaneous independent approaches.
	NTZs []Area `json:"ntzs"`

	Arrivals   []RunwayID `json:"-"`
	Departures []RunwayID `json:"-"`
}

type ApproachNOZ struct {
	Approaches []string `json:"approaches"`
	Area
}

///////////////////////////////////////////////////////////////////////////
// DependencyRule

type RunwayRelation int

const (
	RelationSame RunwayRelation = iota
	RelationOpposite
	RelationDependentParallel
	RelationDependentOpposite
	RelationCrossing
)

var relationNames = []string{"same", "opposite", "dependent_parallel", "dependent_opposite", "crossing"}

func (r RunwayRelation) String() string {
	if int(r) < len(relationNames) {
		return relationNames[r]
	}
	return fmt.Sprintf("relation(%d)", int(r))
}

func (r RunwayRelation) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

func (r *RunwayRelation) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if idx := slices.Index(relationNames, s); idx != -1 {
		*r = RunwayRelation(idx)
		return nil
	}
	return fmt.Errorf("%q: %w", s, ErrInvalidRunwayRelation)
}

// DependencyRule makes departures from one of this airport's runways
// depend on a runway at another airport, evaluated as if the two runways
// had the given relation.
type DependencyRule struct {
	RunwayName   string         `json:"runway"` // empty applies to all runways
	AirportICAO  string         `json:"airport"`
	OtherRunway  string         `json:"other_runway"`
	Relation     RunwayRelation `json:"relation"`
	DepartureRwy RunwayID       `json:"-"` // NoRunway for all
	Other        RunwayID       `json:"-"`
}

func (d DependencyRule) AppliesTo(rwy RunwayID) bool {
	return d.DepartureRwy == NoRunway || d.DepartureRwy == rwy
}

///////////////////////////////////////////////////////////////////////////
// Procedures and airlines

// Procedure is a SID or STAR. STARs carry the arrival entry state used
// when spawning arrivals.
type Procedure struct {
	Name         string      `json:"name"`
	RunwayName   string      `json:"runway,omitempty"`
	Runway       RunwayID    `json:"-"`
	InitialClimb float32     `json:"initial_climb,omitempty"`
	Zones        []RouteZone `json:"zones"`

	Entry            [2]float32 `json:"entry,omitempty"`
	EntryHeading     float32    `json:"entry_heading,omitempty"`
	EntrySpeed       float32    `json:"entry_speed,omitempty"`
	EntryMinAltitude float32    `json:"entry_min_altitude,omitempty"`
	EntryMaxAltitude float32    `json:"entry_max_altitude,omitempty"`
}

type AirlineSpecifier struct {
	ICAO   string        `json:"icao"`
	Weight int           `json:"weight"`
	Wake   WakeCategory  `json:"wake"`
	Recat  RecatCategory `json:"recat"`
}

///////////////////////////////////////////////////////////////////////////
// Validation

const DefaultMaxAdvanceDepartures = 10

func (ap *Airport) PostDeserialize(e *util.ErrorLogger) {
	defer e.CheckDepth(e.CurrentDepth())

	if ap.ICAO == "" {
		e.ErrorString("airport is missing \"icao\"")
	}
	if len(ap.Runways) == 0 {
		e.ErrorString("no runways specified")
	}
	if ap.ArrivalWeight == 0 {
		ap.ArrivalWeight = 1
	}
	if ap.MaxAdvanceDepartures == 0 {
		ap.MaxAdvanceDepartures = DefaultMaxAdvanceDepartures
	}
	if ap.DepartureRate < 0 {
		e.ErrorString("departure_rate cannot be negative")
	}

	runwayID := func(name string) RunwayID {
		if rwy, ok := ap.Runway(name); ok {
			return rwy.ID
		}
		e.ErrorString("%s: %v", name, ErrUnknownRunway)
		return NoRunway
	}
	runwayIDs := func(names []string) []RunwayID {
		var ids []RunwayID
		for _, n := range names {
			if id := runwayID(n); id != NoRunway {
				ids = append(ids, id)
			}
		}
		return ids
	}

	for _, rwy := range ap.Runways {
		e.Push("runway " + rwy.Name)
		rwy.Opposite = NoRunway
		if rwy.OppositeName != "" {
			rwy.Opposite = runwayID(rwy.OppositeName)
			if opp, ok := ap.Runway(rwy.OppositeName); ok &&
				math.HeadingDifference(opp.Heading, math.OppositeHeading(rwy.Heading)) > 10 {
				e.ErrorString("opposite runway %s: heading %v is not the reciprocal of %v", opp.Name, opp.Heading, rwy.Heading)
			}
		}
		rwy.DependentParallel = runwayIDs(rwy.DependentParallelNames)
		rwy.DependentOpposite = runwayIDs(rwy.DependentOppositeNames)
		rwy.Crossing = runwayIDs(rwy.CrossingNames)
		if rwy.Elevation == 0 {
			rwy.Elevation = ap.Elevation
		}
		if rwy.DepartureNOZ != nil {
			rwy.DepartureNOZ.PostDeserialize(e)
		}
		e.Pop()
	}

	for _, appr := range ap.Approaches {
		e.Push("approach " + appr.Name)
		if rwy, ok := ap.Runway(appr.RunwayName); !ok {
			e.ErrorString("%s: %v", appr.RunwayName, ErrUnknownRunway)
			appr.Runway = NoRunway
		} else {
			appr.Runway = rwy.ID
			appr.threshold = rwy.Threshold
			appr.elevation = rwy.Elevation
			if appr.Course == 0 {
				appr.Course = rwy.Heading
			}
		}
		e.Pop()
	}

	for i := range ap.Configurations {
		cfg := &ap.Configurations[i]
		e.Push("configuration " + cfg.Name)
		cfg.Arrivals = runwayIDs(cfg.ArrivalRunways)
		cfg.Departures = runwayIDs(cfg.DepartureRunways)
		for j := range cfg.NTZs {
			cfg.NTZs[j].PostDeserialize(e)
		}
		e.Pop()
	}

	for i, group := range ap.ApproachNOZGroups {
		e.Push(fmt.Sprintf("approach NOZ group %d", i))
		for j := range group {
			for _, name := range group[j].Approaches {
				if _, ok := ap.Approach(name); !ok {
					e.ErrorString("%s: %v", name, ErrUnknownApproach)
				}
			}
			group[j].Area.PostDeserialize(e)
		}
		e.Pop()
	}

	sidClimb := make(map[RunwayID]float32)
	for i := range ap.SIDs {
		sid := &ap.SIDs[i]
		e.Push("SID " + sid.Name)
		sid.Runway = runwayID(sid.RunwayName)
		sidClimb[sid.Runway] = max(sidClimb[sid.Runway], sid.InitialClimb)
		e.Pop()
	}
	for i := range ap.STARs {
		star := &ap.STARs[i]
		e.Push("STAR " + star.Name)
		star.Runway = NoRunway
		if star.RunwayName != "" {
			star.Runway = runwayID(star.RunwayName)
		}
		if star.EntryMaxAltitude < star.EntryMinAltitude {
			e.ErrorString("entry_max_altitude %.0f is below entry_min_altitude %.0f",
				star.EntryMaxAltitude, star.EntryMinAltitude)
		}
		e.Pop()
	}

	for _, rwy := range ap.Runways {
		if rwy.InitialClimb == 0 {
			rwy.InitialClimb = sidClimb[rwy.ID]
		}
		if rwy.InitialClimb == 0 {
			rwy.InitialClimb = rwy.Elevation + 3000
		}
	}

	for _, al := range ap.Airlines {
		if al.Weight < 0 {
			e.ErrorString("airline %s: weight cannot be negative", al.ICAO)
		}
	}
}

// resolveDependencyRules is run after every airport has been loaded since
// the rules may name runways at airports later in the file.
func (ap *Airport) resolveDependencyRules(w *World, e *util.ErrorLogger) {
	for i := range ap.DependencyRules {
		rule := &ap.DependencyRules[i]
		e.Push(fmt.Sprintf("dependency rule %d", i))

		rule.DepartureRwy = NoRunway
		if rule.RunwayName != "" {
			if rwy, ok := ap.Runway(rule.RunwayName); ok {
				rule.DepartureRwy = rwy.ID
			} else {
				e.ErrorString("%s: %v", rule.RunwayName, ErrUnknownRunway)
			}
		}

		rule.Other = NoRunway
		if other, ok := w.AirportByICAO(rule.AirportICAO); !ok {
			e.ErrorString("%s: %v", rule.AirportICAO, ErrUnknownAirport)
		} else if rwy, ok := other.Runway(rule.OtherRunway); !ok {
			e.ErrorString("%s %s: %v", rule.AirportICAO, rule.OtherRunway, ErrUnknownRunway)
		} else {
			rule.Other = rwy.ID
		}
		e.Pop()
	}
}
