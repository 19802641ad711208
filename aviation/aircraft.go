// aviation/aircraft.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package aviation

import (
	"fmt"
	"log/slog"
	gomath "math"
	"strings"

	"github.com/tcengine/tcengine/math"
)

// Arena identifiers. Aircraft, runways, airports, and sectors refer to
// each other by these rather than by pointer; the owning tables live in
// World (static) and sim.Engine (aircraft).
type (
	AircraftID int32
	AirportID  int
	RunwayID   int
	SectorID   int
)

const (
	NoAirport AirportID = -1
	NoRunway  RunwayID  = -1

	// Sector sentinels; numbered sectors are indices into World.Sectors.
	SectorTower  SectorID = -1
	SectorCentre SectorID = -2
)

func (s SectorID) String() string {
	switch s {
	case SectorTower:
		return "tower"
	case SectorCentre:
		return "centre"
	default:
		return fmt.Sprintf("sector %d", int(s))
	}
}

type FlightType int

const (
	FlightTypeArrival FlightType = iota
	FlightTypeDeparture
	FlightTypeEnroute
)

func (f FlightType) String() string {
	return [...]string{"arrival", "departure", "en-route"}[f]
}

///////////////////////////////////////////////////////////////////////////
// StatusFlags

// StatusFlags are transient markers set on an aircraft by the surrounding
// simulation (go-arounds, runway phases, approach modes) or, for
// StatusPredictedConflict, by the trajectory predictor.
type StatusFlags uint32

const (
	StatusRecentGoAround StatusFlags = 1 << iota
	StatusWaitingTakeoff
	StatusTakeoffRoll
	StatusLandingRoll
	StatusVisualApproach
	StatusGlideslopeCaptured
	StatusDivergentDepartureAllowed
	StatusEmergency
	StatusPredictedConflict
)

var statusNames = []string{"recent-go-around", "waiting-takeoff", "takeoff-roll", "landing-roll",
	"visual-approach", "glideslope-captured", "divergent-departure", "emergency", "predicted-conflict"}

func (s StatusFlags) Has(f StatusFlags) bool { return s&f != 0 }

func (s StatusFlags) String() string {
	var names []string
	for i, n := range statusNames {
		if s&(1<<i) != 0 {
			names = append(names, n)
		}
	}
	return strings.Join(names, "|")
}

// OnRunway reports whether the aircraft is on the ground in a runway
// phase that excludes it from conflict checks and prediction.
func (s StatusFlags) OnRunway() bool {
	return s.Has(StatusWaitingTakeoff | StatusTakeoffRoll | StatusLandingRoll)
}

///////////////////////////////////////////////////////////////////////////
// Clearance

// Clearance is the aircraft's active clearance as exposed by the
// clearance-execution subsystem. The engine only reads it.
type Clearance struct {
	Altitude float32 `json:"altitude"` // cleared altitude, ft
	Heading  float32 `json:"heading"`  // target heading, degrees
	Speed    float32 `json:"speed"`    // target IAS, kt
	Vectored bool    `json:"vectored"` // true when on an assigned heading rather than a route
	Approach string  `json:"approach,omitempty"`
	SID      string  `json:"sid,omitempty"`
	STAR     string  `json:"star,omitempty"`
}

///////////////////////////////////////////////////////////////////////////
// Aircraft

type Aircraft struct {
	ID       AircraftID
	Callsign string

	Position     [2]float32 // nm, local plane
	Altitude     float32    // ft
	Track        [2]float32 // ground track vector, kt
	IAS, GS      float32
	VerticalRate float32 // fpm

	Type             FlightType
	ConflictEligible bool
	Level            int // current conflict-level index or -1
	WakeCategory     WakeCategory
	Recat            RecatCategory
	Sector           SectorID
	Status           StatusFlags
	Clearance        Clearance

	ArrivalAirport   AirportID
	DepartureAirport AirportID
	Runway           RunwayID
	RouteZones       []RouteZone
}

// NewAircraft returns an aircraft with the sentinel identifiers set so
// that it refers to no airport, runway, or conflict level.
func NewAircraft(id AircraftID, callsign string, ft FlightType) *Aircraft {
	return &Aircraft{
		ID:               id,
		Callsign:         callsign,
		Type:             ft,
		ConflictEligible: true,
		Level:            -1,
		WakeCategory:     WakeMedium,
		Recat:            RecatD,
		Sector:           SectorCentre,
		ArrivalAirport:   NoAirport,
		DepartureAirport: NoAirport,
		Runway:           NoRunway,
	}
}

// Valid reports whether the aircraft has the state the conflict and
// sequencing code depend on; invalid aircraft are skipped for the tick.
func (ac *Aircraft) Valid() bool {
	if ac == nil || ac.Callsign == "" {
		return false
	}
	for _, v := range []float32{ac.Position[0], ac.Position[1], ac.Altitude, ac.Track[0], ac.Track[1]} {
		if gomath.IsNaN(float64(v)) || gomath.IsInf(float64(v), 0) {
			return false
		}
	}
	return true
}

// TrackHeading returns the heading of the ground track; an aircraft with
// no ground speed reports its target heading.
func (ac *Aircraft) TrackHeading() float32 {
	if ac.Track == [2]float32{} {
		return ac.Clearance.Heading
	}
	return math.VectorHeading(ac.Track)
}

// GroundSpeed returns the length of the ground track vector, falling back
// to GS when no track is set.
func (ac *Aircraft) GroundSpeed() float32 {
	if gs := math.Length2f(ac.Track); gs > 0 {
		return gs
	}
	return ac.GS
}

// HomeAirport is the airport whose elevation is used for the AGL
// inhibition: the arrival airport if there is one, else the departure
// airport.
func (ac *Aircraft) HomeAirport() AirportID {
	if ac.ArrivalAirport != NoAirport {
		return ac.ArrivalAirport
	}
	return ac.DepartureAirport
}

func (ac *Aircraft) LogValue() slog.Value {
	if ac == nil {
		return slog.StringValue("(nil)")
	}
	return slog.GroupValue(
		slog.String("callsign", ac.Callsign),
		slog.Int("id", int(ac.ID)),
		slog.String("type", ac.Type.String()),
		slog.Any("position", ac.Position),
		slog.Float64("altitude", float64(ac.Altitude)),
		slog.Float64("gs", float64(ac.GroundSpeed())),
		slog.Int("level", ac.Level),
		slog.String("sector", ac.Sector.String()),
		slog.String("status", ac.Status.String()))
}
