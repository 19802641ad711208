// sim/engine.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	av "github.com/tcengine/tcengine/aviation"
	"github.com/tcengine/tcengine/log"
	"github.com/tcengine/tcengine/rand"
	"github.com/tcengine/tcengine/util"

	"github.com/brunoga/deep"
)

// Snapshot is a deep copy of the engine state at the end of a tick. It
// is safe to read from any goroutine.
type Snapshot struct {
	Tick      int
	TimeS     float64
	Aircraft  []av.Aircraft
	Conflicts []Conflict
	Potential []Conflict
	Predicted []PredictedConflict
	Runways   []RunwayState
	Airports  []AirportState
	WakeZones []WakeZone
	Holds     map[av.AircraftID]AltitudeHold
	Score     int
	HighScore int
}

type stage struct {
	name string
	run  func(dt float32)
}

// Engine runs the traffic and conflict pipeline over a world. Aircraft
// state is owned by the goroutine that calls Step (directly or through
// Run): the aircraft table, AddAircraft, RemoveAircraft, and the runway
// and hold commands must only be used from it. Other goroutines read
// Snapshot.
type Engine struct {
	World  *av.World
	Config Config
	Tick   int
	TimeS  float64

	lg          *log.Logger
	rand        rand.Rand
	eventStream *EventStream

	aircraft  *AircraftTable
	traffic   *TrafficState
	levels    *LevelIndex
	wake      *WakeManager
	detector  *ConflictDetector
	predictor *TrajectoryPredictor
	release   *ReleaseSequencer
	spawner   *Spawner
	sectors   *SectorResolver
	scorer    *Scorer

	stages []stage

	mu       *util.LoggingMutex
	snapshot Snapshot
	running  atomic.Bool
}

// NewEngine builds an engine for the world. The seed makes runs
// reproducible; all random choices are drawn from a single generator.
func NewEngine(world *av.World, cfg Config, seed int64, lg *log.Logger) (*Engine, error) {
	levels, err := NewLevelIndex(world.LowestAirportElevation(), world.MaxAltitude, cfg.Separation.VerticalSep)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		World:       world,
		Config:      cfg,
		lg:          lg,
		rand:        rand.New(seed),
		eventStream: NewEventStream(lg),
		aircraft:    NewAircraftTable(),
		traffic:     NewTrafficState(world),
		levels:      levels,
		mu:          util.NewLoggingMutex("engine"),
	}

	matrix := av.WakeMatrix{
		UseRecat: cfg.Wake.UseRecat,
		Warn: func(w av.WakeCategory) {
			lg.Warn("unknown wake category, treating as heavy", slog.Int("category", int(w)))
		},
	}

	e.wake = NewWakeManager(cfg.Wake, cfg.Separation.VerticalSep, matrix, levels, e.post, lg)
	e.detector = NewConflictDetector(cfg, world, e.wake, e.aircraft, lg)
	e.predictor = NewTrajectoryPredictor(cfg.Trajectory, &e.detector.rules, levels, e.aircraft, e.post, lg)
	e.release = NewReleaseSequencer(cfg.Release, world, matrix, e.traffic, e.aircraft, e.rand, e.post, lg)
	e.spawner = NewSpawner(cfg.Traffic, world, e.traffic, e.aircraft, levels, e.rand, e.AddAircraft,
		func(id av.AircraftID) { e.RemoveAircraft(id) }, lg)
	e.sectors = NewSectorResolver(cfg.Sectors, world, e.post, lg)
	e.scorer = NewScorer(cfg.Scoring, e.post, lg)

	e.stages = []stage{
		{"timers", func(dt float32) { e.release.UpdateTimers(dt) }},
		{"spawn", e.spawner.Update},
		{"runways", func(float32) { e.release.Refresh(e.aircraft.All()) }},
		{"release", func(float32) { e.release.Release() }},
		{"levels", func(float32) { e.updateLevels() }},
		{"wake", func(dt float32) { e.wake.Update(e.aircraft.All(), dt) }},
		{"conflicts", e.detectConflicts},
		{"sectors", func(float32) { e.sectors.Update(e.aircraft.All()) }},
		{"trajectory", func(dt float32) {
			if e.predictor.Due(dt) {
				e.predictor.Run(e.aircraft.All())
			}
		}},
		{"publish", func(float32) { e.publish() }},
	}

	e.publish()
	return e, nil
}

func (e *Engine) post(ev Event) {
	ev.Tick = e.Tick
	e.eventStream.Post(ev)
}

// Step runs one tick of the pipeline.
func (e *Engine) Step() {
	start := time.Now()

	e.Tick++
	dt := e.Config.TickSeconds
	e.TimeS += float64(dt)
	for _, st := range e.stages {
		stageStart := time.Now()
		st.run(dt)
		if d := time.Since(stageStart); d > 100*time.Millisecond && !util.DebuggerIsRunning() {
			e.lg.Warn("slow pipeline stage", slog.String("stage", st.name), slog.Duration("duration", d))
		}
	}

	if d := time.Since(start); d > 200*time.Millisecond && !util.DebuggerIsRunning() {
		e.lg.Warn("unexpectedly long engine tick", slog.Duration("duration", d), slog.Any("engine", e))
	}
}

func (e *Engine) updateLevels() {
	for _, ac := range e.aircraft.All() {
		if Eligible(ac) {
			e.levels.Update(ac)
		} else {
			e.levels.Remove(ac)
		}
	}
}

func (e *Engine) detectConflicts(dt float32) {
	var eligible []*av.Aircraft
	for _, ac := range e.aircraft.All() {
		if Eligible(ac) {
			eligible = append(eligible, ac)
		}
	}
	e.detector.Detect(e.levels.Levels(), eligible)
	e.scorer.Update(e.detector.Conflicts, dt)
}

func (e *Engine) publish() {
	s := Snapshot{
		Tick:      e.Tick,
		TimeS:     e.TimeS,
		Aircraft:  make([]av.Aircraft, 0, e.aircraft.Len()),
		Conflicts: e.detector.Conflicts,
		Potential: e.detector.Potential,
		Predicted: e.predictor.Predicted,
		Runways:   e.traffic.Runways,
		Airports:  e.traffic.Airports,
		WakeZones: e.wake.Zones(),
		Holds:     e.predictor.Holds(),
		Score:     e.scorer.Score,
		HighScore: e.scorer.HighScore,
	}
	for _, ac := range e.aircraft.All() {
		s.Aircraft = append(s.Aircraft, *ac)
	}
	s = deep.MustCopy(s)

	e.mu.Lock(e.lg)
	e.snapshot = s
	e.mu.Unlock(e.lg)
}

// Snapshot returns the state published at the end of the most recent
// tick. Callers must not modify it.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock(e.lg)
	defer e.mu.Unlock(e.lg)
	return e.snapshot
}

// Run steps the engine in real time, once per TickSeconds, until ctx is
// canceled. integrate, if non-nil, is called with the tick duration
// before each step to advance the aircraft.
func (e *Engine) Run(ctx context.Context, integrate func(dt float32)) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrEngineAlreadyRunning
	}
	defer e.running.Store(false)

	ticker := time.NewTicker(time.Duration(e.Config.TickSeconds * float32(time.Second)))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if integrate != nil {
				integrate(e.Config.TickSeconds)
			}
			e.Step()
		}
	}
}

// RunTicks steps the engine n times as fast as possible, checking ctx
// between ticks.
func (e *Engine) RunTicks(ctx context.Context, n int, integrate func(dt float32)) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrEngineAlreadyRunning
	}
	defer e.running.Store(false)

	for range n {
		if err := ctx.Err(); err != nil {
			return err
		}
		if integrate != nil {
			integrate(e.Config.TickSeconds)
		}
		e.Step()
	}
	return nil
}

func (e *Engine) Subscribe() *EventsSubscription {
	return e.eventStream.Subscribe()
}

func (e *Engine) Destroy() {
	e.eventStream.Destroy()
}

///////////////////////////////////////////////////////////////////////////
// Aircraft

// Aircraft returns the live aircraft table.
func (e *Engine) Aircraft() *AircraftTable {
	return e.aircraft
}

// AddAircraft adds an aircraft created by the caller; it takes part in
// the pipeline from the next stage that looks at it. Its ID must come
// from Aircraft().NextID().
func (e *Engine) AddAircraft(ac *av.Aircraft) error {
	if ac.Callsign == "" {
		return fmt.Errorf("missing callsign: %w", ErrInvalidAircraft)
	}
	ac.Level = -1
	if err := e.aircraft.Add(ac); err != nil {
		return err
	}
	e.lg.Debug("added aircraft", slog.Any("aircraft", ac))
	e.post(Event{Type: AircraftSpawnedEvent, Aircraft: ac.ID, Callsign: ac.Callsign})
	return nil
}

// RemoveAircraft removes the aircraft along with its wake trail, level
// bucket, altitude hold, and any next-departure slot it holds.
func (e *Engine) RemoveAircraft(id av.AircraftID) bool {
	ac, ok := e.aircraft.Remove(id)
	if !ok {
		return false
	}
	e.levels.Remove(ac)
	e.wake.RemoveOwner(id)
	e.predictor.RemoveAircraft(id)
	for i := range e.traffic.Airports {
		if e.traffic.Airports[i].NextDeparture == id {
			e.traffic.Airports[i].NextDeparture = NoAircraft
		}
	}

	e.lg.Debug("removed aircraft", slog.Any("aircraft", ac))
	e.post(Event{Type: AircraftRemovedEvent, Aircraft: id, Callsign: ac.Callsign})
	return true
}

///////////////////////////////////////////////////////////////////////////
// Commands

// AssignTemporaryAltitude holds the aircraft at alt until the trajectory
// predictor finds its cleared altitude clear again.
func (e *Engine) AssignTemporaryAltitude(callsign string, alt float32) error {
	ac, ok := e.aircraft.ByCallsign(callsign)
	if !ok {
		return fmt.Errorf("%s: %w", callsign, ErrUnknownAircraft)
	}
	final := ac.Clearance.Altitude
	if final == 0 {
		final = ac.Altitude
	}
	e.predictor.AddHold(ac.ID, alt, final)
	e.post(Event{Type: TemporaryAltitudeEvent, Aircraft: ac.ID, Callsign: ac.Callsign, Altitude: alt})
	return nil
}

// CancelTemporaryAltitude drops the aircraft's hold without waiting for
// its cleared altitude to be clear.
func (e *Engine) CancelTemporaryAltitude(callsign string) error {
	ac, ok := e.aircraft.ByCallsign(callsign)
	if !ok {
		return fmt.Errorf("%s: %w", callsign, ErrUnknownAircraft)
	}
	h, ok := e.predictor.Hold(ac.ID)
	if !ok {
		return fmt.Errorf("%s: %w", callsign, ErrNoAltitudeHold)
	}
	e.predictor.RemoveAircraft(ac.ID)
	e.post(Event{Type: ResumeOwnNavigationEvent, Aircraft: ac.ID, Callsign: ac.Callsign, Altitude: h.Final})
	return nil
}

// SetRunwayActive sets whether a runway is used for arrivals and
// departures.
func (e *Engine) SetRunwayActive(icao, runway string, arrivals, departures bool) error {
	ap, ok := e.World.AirportByICAO(icao)
	if !ok {
		return fmt.Errorf("%s: %w", icao, av.ErrUnknownAirport)
	}
	rwy, ok := ap.Runway(runway)
	if !ok {
		return fmt.Errorf("%s %s: %w", icao, runway, av.ErrUnknownRunway)
	}
	rwy.ActiveArrival, rwy.ActiveDeparture = arrivals, departures
	e.lg.Info("runway configuration changed", slog.String("airport", icao), slog.String("runway", runway),
		slog.Bool("arrivals", arrivals), slog.Bool("departures", departures))
	return nil
}

// NextDeparture returns the aircraft waiting to depart from the airport.
func (e *Engine) NextDeparture(ap av.AirportID) (*av.Aircraft, bool) {
	st, ok := e.traffic.Airport(ap)
	if !ok || st.NextDeparture == NoAircraft {
		return nil, false
	}
	return e.aircraft.Get(st.NextDeparture)
}

func (e *Engine) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("tick", e.Tick),
		slog.Int("aircraft", e.aircraft.Len()),
		slog.Any("levels", e.levels),
		slog.Int("conflicts", len(e.detector.Conflicts)),
		slog.Any("predictor", e.predictor),
		slog.Any("spawner", e.spawner),
		slog.Int("score", e.scorer.Score))
}
