// sim/eventstream.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import (
	"fmt"
	"log/slog"
	"maps"
	"runtime"
	"slices"
	"sync"
	"time"

	av "github.com/tcengine/tcengine/aviation"
	"github.com/tcengine/tcengine/log"
)

// EventStream is a pub/sub queue for the decisions the engine makes each
// tick: releases, sector changes, altitude holds, wake zones, conflicts.
// Subscribers see the events posted after they subscribed; events are
// dropped when there are no subscribers.
type EventStream struct {
	mu            sync.Mutex
	events        []Event
	subscriptions map[*EventsSubscription]any
	lastPost      time.Time
	warnedLong    bool
	done          chan struct{}
	lg            *log.Logger
}

type EventsSubscription struct {
	stream *EventStream
	// offset into EventStream.events of the first event the subscriber
	// has not yet seen.
	offset      int
	source      string
	lastGet     time.Time
	warnedNoGet bool
}

func (e *EventsSubscription) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("offset", e.offset),
		slog.String("source", e.source),
		slog.Time("last_get", e.lastGet))
}

// NewEventStream returns a stream with a background goroutine that
// compacts it and reports stalled subscribers; call Destroy to stop it.
func NewEventStream(lg *log.Logger) *EventStream {
	es := &EventStream{
		subscriptions: make(map[*EventsSubscription]any),
		lastPost:      time.Now(),
		done:          make(chan struct{}),
		lg:            lg,
	}
	go es.monitor()
	return es
}

func (e *EventStream) Subscribe() *EventsSubscription {
	// Record the callsite so that subscribers that stop calling Get can be
	// identified in the logs.
	_, fn, line, _ := runtime.Caller(1)

	e.mu.Lock()
	defer e.mu.Unlock()

	sub := &EventsSubscription{
		stream:  e,
		offset:  len(e.events),
		source:  fmt.Sprintf("%s:%d", fn, line),
		lastGet: time.Now(),
	}
	e.subscriptions[sub] = nil
	return sub
}

func (e *EventStream) monitor() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-e.done:
			return
		case <-ticker.C:
		}

		e.mu.Lock()
		e.compact()

		if len(e.events) > 10000 && !e.warnedLong {
			e.lg.Warn("long event stream", slog.Int("length", len(e.events)),
				log.AnyPointerSlice("subscriptions", slices.Collect(maps.Keys(e.subscriptions))))
			e.warnedLong = true
		}

		// Only complain about idle subscribers while events are still
		// being posted.
		if time.Since(e.lastPost) < 5*time.Second {
			for sub := range e.subscriptions {
				if d := time.Since(sub.lastGet); d > 30*time.Second && !sub.warnedNoGet {
					e.lg.Warn("subscriber has not called Get() recently",
						slog.Duration("duration", d), slog.Any("subscriber", sub))
					sub.warnedNoGet = true
				}
			}
		}
		e.mu.Unlock()
	}
}

func (e *EventsSubscription) Unsubscribe() {
	e.stream.mu.Lock()
	defer e.stream.mu.Unlock()

	if _, ok := e.stream.subscriptions[e]; !ok {
		e.stream.lg.Errorf("Attempted to unsubscribe invalid subscription: %+v", e)
	}
	delete(e.stream.subscriptions, e)
}

func (e *EventStream) Post(event Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.lg.Debug("posted event", slog.Any("event", event))

	if len(e.subscriptions) > 0 {
		e.lastPost = time.Now()
		e.events = append(e.events, event)
	}
}

// Get returns the events posted since the previous call to Get.
func (e *EventsSubscription) Get() []Event {
	e.stream.mu.Lock()
	defer e.stream.mu.Unlock()

	if _, ok := e.stream.subscriptions[e]; !ok {
		e.stream.lg.Errorf("Attempted to get with unregistered subscription: %+v", e)
		return nil
	}

	events := slices.Clone(e.stream.events[e.offset:])
	e.offset = len(e.stream.events)
	e.lastGet = time.Now()
	e.warnedNoGet = false
	return events
}

func (e *EventStream) Destroy() {
	e.mu.Lock()
	defer e.mu.Unlock()

	select {
	case <-e.done:
	default:
		close(e.done)
	}
	clear(e.subscriptions)
}

// compact drops the events that every subscriber has already consumed.
func (e *EventStream) compact() {
	minOffset := len(e.events)
	for sub := range e.subscriptions {
		minOffset = min(minOffset, sub.offset)
	}

	if minOffset > cap(e.events)/2 {
		n := copy(e.events, e.events[minOffset:])
		e.events = e.events[:n]
		for sub := range e.subscriptions {
			sub.offset -= minOffset
		}
		e.warnedLong = false
	}
}

func (e *EventStream) LogValue() slog.Value {
	e.mu.Lock()
	defer e.mu.Unlock()

	items := []slog.Attr{slog.Int("len", len(e.events)), slog.Int("cap", cap(e.events))}
	if len(e.events) > 0 {
		items = append(items, slog.Any("last_element", e.events[len(e.events)-1]))
	}
	items = append(items, log.AnyPointerSlice("subscriptions", slices.Collect(maps.Keys(e.subscriptions))))
	return slog.GroupValue(items...)
}

///////////////////////////////////////////////////////////////////////////

type EventType int

const (
	ClearedForTakeoffEvent EventType = iota
	SectorChangedEvent
	ResumeOwnNavigationEvent
	TemporaryAltitudeEvent
	WakeZoneAddedEvent
	WakeZoneRemovedEvent
	ConflictStartedEvent
	ConflictEndedEvent
	ScoreChangedEvent
	AircraftSpawnedEvent
	AircraftRemovedEvent
	NumEventTypes
)

func (t EventType) String() string {
	return []string{"ClearedForTakeoff", "SectorChanged", "ResumeOwnNavigation", "TemporaryAltitude",
		"WakeZoneAdded", "WakeZoneRemoved", "ConflictStarted", "ConflictEnded", "ScoreChanged",
		"AircraftSpawned", "AircraftRemoved"}[t]
}

type Event struct {
	Type     EventType
	Tick     int
	Aircraft av.AircraftID
	Callsign string

	Runway     av.RunwayID // ClearedForTakeoffEvent
	FromSector av.SectorID // SectorChangedEvent
	ToSector   av.SectorID
	Altitude   float32   // TemporaryAltitudeEvent, ResumeOwnNavigationEvent
	WakeZone   int       // WakeZoneAddedEvent, WakeZoneRemovedEvent
	Conflict   *Conflict // ConflictStartedEvent, ConflictEndedEvent
	Score      int       // ScoreChangedEvent
}

func (e *Event) String() string {
	switch e.Type {
	case ClearedForTakeoffEvent:
		return fmt.Sprintf("%s: %s runway %d", e.Type, e.Callsign, e.Runway)
	case SectorChangedEvent:
		return fmt.Sprintf("%s: %s %s->%s", e.Type, e.Callsign, e.FromSector, e.ToSector)
	case TemporaryAltitudeEvent, ResumeOwnNavigationEvent:
		return fmt.Sprintf("%s: %s %.0f", e.Type, e.Callsign, e.Altitude)
	case WakeZoneAddedEvent, WakeZoneRemovedEvent:
		return fmt.Sprintf("%s: %s zone %d", e.Type, e.Callsign, e.WakeZone)
	case ConflictStartedEvent, ConflictEndedEvent:
		return fmt.Sprintf("%s: %s", e.Type, e.Conflict)
	case ScoreChangedEvent:
		return fmt.Sprintf("%s: %d", e.Type, e.Score)
	default:
		return fmt.Sprintf("%s: %s", e.Type, e.Callsign)
	}
}

func (e Event) LogValue() slog.Value {
	attrs := []slog.Attr{slog.String("type", e.Type.String()), slog.Int("tick", e.Tick)}
	if e.Callsign != "" {
		attrs = append(attrs, slog.String("callsign", e.Callsign))
	}
	switch e.Type {
	case ClearedForTakeoffEvent:
		attrs = append(attrs, slog.Int("runway", int(e.Runway)))
	case SectorChangedEvent:
		attrs = append(attrs, slog.String("from", e.FromSector.String()), slog.String("to", e.ToSector.String()))
	case TemporaryAltitudeEvent, ResumeOwnNavigationEvent:
		attrs = append(attrs, slog.Float64("altitude", float64(e.Altitude)))
	case WakeZoneAddedEvent, WakeZoneRemovedEvent:
		attrs = append(attrs, slog.Int("wake_zone", e.WakeZone))
	case ConflictStartedEvent, ConflictEndedEvent:
		if e.Conflict != nil {
			attrs = append(attrs, slog.Any("conflict", *e.Conflict))
		}
	case ScoreChangedEvent:
		attrs = append(attrs, slog.Int("score", e.Score))
	}
	return slog.GroupValue(attrs...)
}
