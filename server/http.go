// server/http.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	gomath "math"
	"net"
	"net/http"
	"runtime"
	"strconv"
	"text/template"
	"time"

	av "github.com/tcengine/tcengine/aviation"
	"github.com/tcengine/tcengine/log"
	"github.com/tcengine/tcengine/sim"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/iancoleman/orderedmap"
	"github.com/shirou/gopsutil/cpu"
)

const DefaultPort = 6502

// SnapshotSource is anything that can provide the most recently published
// engine state; *sim.Engine is one.
type SnapshotSource interface {
	Snapshot() sim.Snapshot
}

// StatusServer serves a human-readable status page and a read-only JSON
// API over engine snapshots. It never touches live engine state.
type StatusServer struct {
	Port int

	world     *av.World
	src       SnapshotSource
	lg        *log.Logger
	startTime time.Time
	router    chi.Router
}

func NewStatusServer(world *av.World, src SnapshotSource, lg *log.Logger) *StatusServer {
	s := &StatusServer{
		world:     world,
		src:       src,
		lg:        lg.With(slog.String("component", "http")),
		startTime: time.Now(),
	}

	r := chi.NewRouter()
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/sup", s.statsHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/snapshot", s.snapshotHandler)
		r.Get("/conflicts", s.conflictsHandler)
		r.Get("/runways", s.runwaysHandler)
		r.Get("/aircraft/{callsign}", s.aircraftHandler)
	})

	// /debug/pprof/ and /debug/vars
	r.Mount("/debug", middleware.Profiler())

	s.router = r
	return s
}

func (s *StatusServer) Handler() http.Handler {
	return s.router
}

// Launch listens on the first free port starting at port and serves
// until ctx is canceled.
func (s *StatusServer) Launch(ctx context.Context, port int) error {
	var listener net.Listener
	var err error
	for i := range 10 {
		if listener, err = net.Listen("tcp", ":"+strconv.Itoa(port+i)); err == nil {
			s.Port = listener.Addr().(*net.TCPAddr).Port
			break
		}
	}
	if err != nil {
		return fmt.Errorf("unable to start HTTP server: %w", err)
	}
	s.lg.Infof("Launching HTTP server on port %d", s.Port)

	srv := &http.Server{Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.lg.Errorf("HTTP server error: %v", err)
		}
	}()
	return nil
}

func (s *StatusServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.lg.Debug("HTTP request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr),
				slog.Int("status", ww.Status()),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)))
		}()

		next.ServeHTTP(ww, r)
	})
}

func (s *StatusServer) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		s.lg.Errorf("JSON encode: %v", err)
	}
}

///////////////////////////////////////////////////////////////////////////
// Status page

type serverStats struct {
	Uptime           time.Duration
	AllocMemory      uint64
	TotalAllocMemory uint64
	SysMemory        uint64
	NumGC            uint32
	NumGoRoutines    int
	CPUUsage         int

	World  string
	Engine engineStatus
}

type engineStatus struct {
	Tick               int
	Time               time.Duration
	Arrivals           int
	Departures         int
	Conflicts          int
	Potential          int
	Predicted          int
	Score, HighScore   int
	TemporaryAltitudes int
}

func (es engineStatus) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("tick", es.Tick),
		slog.Int("arrivals", es.Arrivals),
		slog.Int("departures", es.Departures),
		slog.Int("conflicts", es.Conflicts),
		slog.Int("score", es.Score))
}

func makeEngineStatus(snap sim.Snapshot) engineStatus {
	es := engineStatus{
		Tick:               snap.Tick,
		Time:               time.Duration(snap.TimeS * float64(time.Second)).Round(time.Second),
		Conflicts:          len(snap.Conflicts),
		Potential:          len(snap.Potential),
		Predicted:          len(snap.Predicted),
		Score:              snap.Score,
		HighScore:          snap.HighScore,
		TemporaryAltitudes: len(snap.Holds),
	}
	for _, ac := range snap.Aircraft {
		switch ac.Type {
		case av.FlightTypeArrival:
			es.Arrivals++
		case av.FlightTypeDeparture:
			es.Departures++
		}
	}
	return es
}

var statsTemplate = template.Must(template.New("").Parse(`
<!DOCTYPE html>
<html>
<head>
<title>tcengine status</title>
</head>
<style>
table {
  border-collapse: collapse;
  width: 100%;
}

th, td {
  border: 1px solid #dddddd;
  padding: 8px;
  text-align: left;
}

tr:nth-child(even) {
  background-color: #f2f2f2;
}
</style>
<body>
<h1>Server Status</h1>
<ul>
  <li>Uptime: {{.Uptime}}</li>
  <li>CPU usage: {{.CPUUsage}}%</li>
  <li>Allocated memory: {{.AllocMemory}} MB</li>
  <li>Total allocated memory: {{.TotalAllocMemory}} MB</li>
  <li>System memory: {{.SysMemory}} MB</li>
  <li>Garbage collection passes: {{.NumGC}}</li>
  <li>Running goroutines: {{.NumGoRoutines}}</li>
</ul>

<h1>Engine Status: {{.World}}</h1>
<table>
  <tr>
  <th>Tick</th>
  <th>Time</th>
  <th>Arrivals</th>
  <th>Departures</th>
  <th>Conflicts</th>
  <th>Potential</th>
  <th>Predicted</th>
  <th>Temporary Altitudes</th>
  <th>Score</th>
  </tr>
{{with .Engine}}
  <tr>
  <td>{{.Tick}}</td>
  <td>{{.Time}}</td>
  <td>{{.Arrivals}}</td>
  <td>{{.Departures}}</td>
  <td>{{.Conflicts}}</td>
  <td>{{.Potential}}</td>
  <td>{{.Predicted}}</td>
  <td>{{.TemporaryAltitudes}}</td>
  <td>{{.Score}} (high {{.HighScore}})</td>
  </tr>
{{end}}
</table>

</body>
</html>
`))

func (s *StatusServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	stats := serverStats{
		Uptime:           time.Since(s.startTime).Round(time.Second),
		AllocMemory:      m.Alloc / (1024 * 1024),
		TotalAllocMemory: m.TotalAlloc / (1024 * 1024),
		SysMemory:        m.Sys / (1024 * 1024),
		NumGC:            m.NumGC,
		NumGoRoutines:    runtime.NumGoroutine(),
		World:            s.world.Name,
		Engine:           makeEngineStatus(s.src.Snapshot()),
	}
	if usage, err := cpu.Percent(time.Second, false); err == nil && len(usage) > 0 {
		stats.CPUUsage = int(gomath.Round(usage[0]))
	}

	if err := statsTemplate.Execute(w, stats); err != nil {
		s.lg.Errorf("status page: %v", err)
	}
	s.lg.Info("served stats request", slog.Any("engine", stats.Engine))
}

///////////////////////////////////////////////////////////////////////////
// JSON API

func (s *StatusServer) snapshotHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.src.Snapshot())
}

type conflictsResponse struct {
	Tick      int                     `json:"tick"`
	Conflicts []sim.Conflict          `json:"conflicts"`
	Potential []sim.Conflict          `json:"potential"`
	Predicted []sim.PredictedConflict `json:"predicted"`
}

func (s *StatusServer) conflictsHandler(w http.ResponseWriter, r *http.Request) {
	snap := s.src.Snapshot()
	resp := conflictsResponse{
		Tick:      snap.Tick,
		Conflicts: snap.Conflicts,
		Potential: snap.Potential,
		Predicted: snap.Predicted,
	}
	// Empty lists rather than nulls.
	if resp.Conflicts == nil {
		resp.Conflicts = []sim.Conflict{}
	}
	if resp.Potential == nil {
		resp.Potential = []sim.Conflict{}
	}
	if resp.Predicted == nil {
		resp.Predicted = []sim.PredictedConflict{}
	}
	s.writeJSON(w, resp)
}

type movementStatus struct {
	Wake   av.WakeCategory `json:"wake"`
	SinceS float32         `json:"since_s"`
}

type runwayStatus struct {
	Occupied      bool            `json:"occupied"`
	NextArrival   string          `json:"next_arrival,omitempty"`
	NextArrivalNM float32         `json:"next_arrival_nm,omitempty"`
	NextArrivalS  float32         `json:"next_arrival_s,omitempty"`
	PrevDeparture *movementStatus `json:"prev_departure,omitempty"`
	PrevArrival   *movementStatus `json:"prev_arrival,omitempty"`
}

func makeMovementStatus(m sim.Movement) *movementStatus {
	if !m.Valid {
		return nil
	}
	return &movementStatus{Wake: m.Wake, SinceS: m.SinceS}
}

// runwaysHandler reports each runway's state keyed by "ICAO/runway", in
// the order the runways are declared in the world.
func (s *StatusServer) runwaysHandler(w http.ResponseWriter, r *http.Request) {
	snap := s.src.Snapshot()

	callsigns := make(map[av.AircraftID]string, len(snap.Aircraft))
	for _, ac := range snap.Aircraft {
		callsigns[ac.ID] = ac.Callsign
	}

	om := orderedmap.New()
	for i, rs := range snap.Runways {
		if i >= len(s.world.Runways) {
			break
		}
		rwy := s.world.Runways[i]
		st := runwayStatus{
			Occupied:      rs.Occupied,
			PrevDeparture: makeMovementStatus(rs.PrevDeparture),
			PrevArrival:   makeMovementStatus(rs.PrevArrival),
		}
		if rs.NextArrival.Aircraft != sim.NoAircraft {
			st.NextArrival = callsigns[rs.NextArrival.Aircraft]
			st.NextArrivalNM = rs.NextArrival.DistanceNM
			st.NextArrivalS = rs.NextArrival.TimeS
		}
		om.Set(s.world.Airport(rwy.Airport).ICAO+"/"+rwy.Name, st)
	}
	s.writeJSON(w, om)
}

func (s *StatusServer) aircraftHandler(w http.ResponseWriter, r *http.Request) {
	callsign := chi.URLParam(r, "callsign")
	snap := s.src.Snapshot()
	for _, ac := range snap.Aircraft {
		if ac.Callsign == callsign {
			s.writeJSON(w, ac)
			return
		}
	}
	http.Error(w, callsign+": unknown aircraft", http.StatusNotFound)
}
