// sim/config.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/tcengine/tcengine/log"
	"github.com/tcengine/tcengine/util"

	"github.com/BurntSushi/toml"
)

// Config holds the engine's tuning parameters. It is loaded from TOML;
// keys that are absent keep their DefaultConfig values.
type Config struct {
	TickSeconds float32 `toml:"tick_seconds"`

	Separation SeparationConfig `toml:"separation"`
	Wake       WakeConfig       `toml:"wake"`
	Trajectory TrajectoryConfig `toml:"trajectory"`
	Traffic    TrafficConfig    `toml:"traffic"`
	Release    ReleaseConfig    `toml:"release"`
	Sectors    SectorConfig     `toml:"sectors"`
	Storms     StormConfig      `toml:"storms"`
	Scoring    ScoringConfig    `toml:"scoring"`
}

type SeparationConfig struct {
	MinLateralSep         float32 `toml:"min_lateral_sep"`        // nm
	VerticalSep           float32 `toml:"vertical_sep"`           // ft
	SameApproachSep       float32 `toml:"same_approach_sep"`      // nm
	SameApproachMaxDist   float32 `toml:"same_approach_max_dist"` // nm from threshold
	DependentParallelSep  float32 `toml:"dependent_parallel_sep"` // nm
	InhibitBelowAGL       float32 `toml:"inhibit_below_agl"`      // ft
	DivergentDepartureDeg float32 `toml:"divergent_departure_deg"`
	AltitudeTolerance     float32 `toml:"altitude_tolerance"` // ft

	// Pairs within MinLateralSep+PotentialMargin that are not in
	// conflict are reported as potential conflicts.
	PotentialMargin float32 `toml:"potential_margin"` // nm
}

type WakeConfig struct {
	UseRecat     bool    `toml:"use_recat"`
	TrailSpacing float32 `toml:"trail_spacing_nm"`
	HalfWidth    float32 `toml:"half_width_nm"`
	MaxZones     int     `toml:"max_zones"` // per owner
	MaxAgeS      float32 `toml:"max_age_s"`
}

type TrajectoryConfig struct {
	IntervalS           float32 `toml:"interval_s"`
	StepS               float32 `toml:"step_s"`
	HorizonS            float32 `toml:"horizon_s"`
	TurnRate            float32 `toml:"turn_rate"`             // deg/s
	DefaultVerticalRate float32 `toml:"default_vertical_rate"` // fpm
	SpeedChangeRate     float32 `toml:"speed_change_rate"`     // kt/s
	ResolveACC          bool    `toml:"resolve_acc"`
}

const (
	TrafficModeNormal            = "normal"
	TrafficModeArrivalsToControl = "arrivals_to_control"
	TrafficModeFlowRate          = "flow_rate"
)

type TrafficConfig struct {
	Mode string `toml:"mode"`
	// Arrival count ceiling for the normal and arrivals_to_control modes.
	TargetArrivals int `toml:"target_arrivals"`
	// Arrivals per hour for flow_rate mode.
	ArrivalFlowRate float32 `toml:"arrival_flow_rate"`
	// Callsign digits are drawn from [100, CallsignMax).
	CallsignMax int `toml:"callsign_max"`
	// Width of the altitude window used when picking a spawn altitude.
	SpawnWindowFt float32 `toml:"spawn_window_ft"`
	Departures    bool    `toml:"departures"`
}

type ReleaseConfig struct {
	GoAroundCooldownS  float32 `toml:"go_around_cooldown_s"`
	SameRunwayArrivalS float32 `toml:"same_runway_arrival_s"`
	OppositeArrivalNM  float32 `toml:"opposite_arrival_nm"`
	CrossingArrivalS   float32 `toml:"crossing_arrival_s"`
	DependentBaseS     float32 `toml:"dependent_base_s"`
}

type SectorConfig struct {
	TrackExtrapolateS float32 `toml:"track_extrapolate_s"`
	CacheSize         int     `toml:"cache_size"`
	CacheQuantumNM    float32 `toml:"cache_quantum_nm"`
}

type StormConfig struct {
	Threshold int `toml:"threshold"` // cell intensity counted as red
	RedCells  int `toml:"red_cells"` // red cells around the aircraft for a conflict
}

type ScoringConfig struct {
	Initial        int     `toml:"initial"`
	ConflictFactor float64 `toml:"conflict_factor"`
	PenaltyPeriodS float32 `toml:"penalty_period_s"`
}

func DefaultConfig() Config {
	return Config{
		TickSeconds: 1,
		Separation: SeparationConfig{
			MinLateralSep:         3,
			VerticalSep:           1000,
			SameApproachSep:       2.5,
			SameApproachMaxDist:   10,
			DependentParallelSep:  2,
			PotentialMargin:       2,
			InhibitBelowAGL:       1000,
			DivergentDepartureDeg: 15,
			AltitudeTolerance:     25,
		},
		Wake: WakeConfig{
			TrailSpacing: 0.5,
			HalfWidth:    0.4,
			MaxZones:     16,
			MaxAgeS:      150,
		},
		Trajectory: TrajectoryConfig{
			IntervalS:           5,
			StepS:               5,
			HorizonS:            120,
			TurnRate:            3,
			DefaultVerticalRate: 2000,
			SpeedChangeRate:     1,
			ResolveACC:          true,
		},
		Traffic: TrafficConfig{
			Mode:            TrafficModeNormal,
			TargetArrivals:  8,
			ArrivalFlowRate: 20,
			CallsignMax:     1000,
			SpawnWindowFt:   2000,
			Departures:      true,
		},
		Release: ReleaseConfig{
			GoAroundCooldownS:  120,
			SameRunwayArrivalS: 60,
			OppositeArrivalNM:  15,
			CrossingArrivalS:   30,
			DependentBaseS:     60,
		},
		Sectors: SectorConfig{
			TrackExtrapolateS: 30,
			CacheSize:         4096,
			CacheQuantumNM:    0.25,
		},
		Storms: StormConfig{
			Threshold: 7,
			RedCells:  5,
		},
		Scoring: ScoringConfig{
			Initial:        1000,
			ConflictFactor: 0.95,
			PenaltyPeriodS: 3,
		},
	}
}

// LoadConfig reads the TOML file at path on top of DefaultConfig. Keys
// in the file that don't correspond to a Config field are logged but
// are not an error.
func LoadConfig(path string, lg *log.Logger) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return ParseConfig(string(b), lg)
}

func ParseConfig(s string, lg *log.Logger) (Config, error) {
	c := DefaultConfig()
	md, err := toml.Decode(s, &c)
	if err != nil {
		return Config{}, err
	}

	if undec := md.Undecoded(); len(undec) > 0 {
		var keys []string
		for _, k := range undec {
			keys = append(keys, k.String())
		}
		lg.Warn("ignoring unknown configuration keys", slog.String("keys", strings.Join(keys, ", ")))
	}

	var e util.ErrorLogger
	c.Validate(&e)
	e.LogErrors(lg)
	if err := e.Err(ErrInvalidConfig); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate reports parameters that would make the engine misbehave.
// Unknown traffic modes are not reported here; the spawner warns and
// falls back when it encounters one.
func (c *Config) Validate(e *util.ErrorLogger) {
	check := func(ok bool, name string, v any) {
		if !ok {
			e.ErrorString("%s: invalid value %v", name, v)
		}
	}

	e.Push("separation")
	check(c.Separation.MinLateralSep > 0, "min_lateral_sep", c.Separation.MinLateralSep)
	if c.Separation.VerticalSep < 100 {
		e.Error(fmt.Errorf("%.0f: %w", c.Separation.VerticalSep, ErrVerticalSepTooSmall))
	}
	check(c.Separation.SameApproachSep > 0, "same_approach_sep", c.Separation.SameApproachSep)
	check(c.Separation.DependentParallelSep > 0, "dependent_parallel_sep", c.Separation.DependentParallelSep)
	check(c.Separation.AltitudeTolerance >= 0 && c.Separation.AltitudeTolerance < c.Separation.VerticalSep,
		"altitude_tolerance", c.Separation.AltitudeTolerance)
	e.Pop()

	e.Push("wake")
	check(c.Wake.TrailSpacing > 0, "trail_spacing_nm", c.Wake.TrailSpacing)
	check(c.Wake.MaxZones > 0, "max_zones", c.Wake.MaxZones)
	check(c.Wake.MaxAgeS > 0, "max_age_s", c.Wake.MaxAgeS)
	e.Pop()

	e.Push("trajectory")
	check(c.Trajectory.StepS > 0, "step_s", c.Trajectory.StepS)
	check(c.Trajectory.HorizonS >= c.Trajectory.StepS, "horizon_s", c.Trajectory.HorizonS)
	check(c.Trajectory.IntervalS >= c.TickSeconds, "interval_s", c.Trajectory.IntervalS)
	check(c.Trajectory.TurnRate > 0, "turn_rate", c.Trajectory.TurnRate)
	e.Pop()

	e.Push("traffic")
	check(c.Traffic.TargetArrivals >= 0, "target_arrivals", c.Traffic.TargetArrivals)
	check(c.Traffic.Mode != TrafficModeFlowRate || c.Traffic.ArrivalFlowRate > 0,
		"arrival_flow_rate", c.Traffic.ArrivalFlowRate)
	check(c.Traffic.CallsignMax > 100, "callsign_max", c.Traffic.CallsignMax)
	e.Pop()

	check(c.TickSeconds > 0, "tick_seconds", c.TickSeconds)
	check(c.Sectors.CacheSize > 0, "sectors.cache_size", c.Sectors.CacheSize)
	check(c.Sectors.CacheQuantumNM > 0, "sectors.cache_quantum_nm", c.Sectors.CacheQuantumNM)
	check(c.Scoring.PenaltyPeriodS > 0, "scoring.penalty_period_s", c.Scoring.PenaltyPeriodS)
	check(c.Scoring.ConflictFactor > 0 && c.Scoring.ConflictFactor <= 1, "scoring.conflict_factor",
		c.Scoring.ConflictFactor)
}
