// server/http_test.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	av "github.com/tcengine/tcengine/aviation"
	"github.com/tcengine/tcengine/log"
	"github.com/tcengine/tcengine/sim"
)

type fixedSource struct {
	snap sim.Snapshot
}

func (f *fixedSource) Snapshot() sim.Snapshot { return f.snap }

func makeTestServer(t *testing.T) *StatusServer {
	t.Helper()

	ap := &av.Airport{ID: 0, ICAO: "TEST"}
	r09 := &av.Runway{ID: 0, Airport: 0, Name: "09"}
	r27 := &av.Runway{ID: 1, Airport: 0, Name: "27"}
	ap.Runways = []*av.Runway{r09, r27}
	w := &av.World{Name: "servertest", Airports: []*av.Airport{ap}, Runways: []*av.Runway{r09, r27}}

	snap := sim.Snapshot{
		Tick:  12,
		TimeS: 12,
		Aircraft: []av.Aircraft{
			{ID: 1, Callsign: "TST100", Altitude: 5000, Type: av.FlightTypeArrival},
			{ID: 2, Callsign: "TST200", Altitude: 5000, Type: av.FlightTypeDeparture},
		},
		Conflicts: []sim.Conflict{{Aircraft1: 1, Aircraft2: 2, Callsign1: "TST100", Callsign2: "TST200",
			MinAltSector: -1, Reason: sim.ReasonNormal, LatSepRequiredNM: 3}},
		Runways: []sim.RunwayState{
			{Occupied: true, NextArrival: sim.NextArrival{Aircraft: 1, DistanceNM: 5, TimeS: 120},
				PrevDeparture: sim.Movement{Valid: true, Wake: av.WakeHeavy, SinceS: 30}},
			{NextArrival: sim.NextArrival{Aircraft: sim.NoAircraft}},
		},
		Score:     950,
		HighScore: 1000,
	}

	return NewStatusServer(w, &fixedSource{snap: snap}, log.New(false, "debug", t.TempDir()))
}

func get(t *testing.T, s *StatusServer, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestConflictsEndpoint(t *testing.T) {
	s := makeTestServer(t)
	rec := get(t, s, "/api/v1/conflicts")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type: got %q", ct)
	}

	var resp struct {
		Tick      int `json:"tick"`
		Conflicts []struct {
			Callsign1 string
			Callsign2 string
			Reason    string
		} `json:"conflicts"`
		Potential []json.RawMessage `json:"potential"`
		Predicted []json.RawMessage `json:"predicted"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Tick != 12 || len(resp.Conflicts) != 1 {
		t.Fatalf("got %+v", resp)
	}
	if c := resp.Conflicts[0]; c.Callsign1 != "TST100" || c.Callsign2 != "TST200" || c.Reason != "normal" {
		t.Errorf("conflict: got %+v", c)
	}
	if !strings.Contains(rec.Body.String(), `"potential": []`) {
		t.Errorf("potential conflicts not an empty list: %s", rec.Body.String())
	}
}

func TestRunwaysEndpoint(t *testing.T) {
	s := makeTestServer(t)
	rec := get(t, s, "/api/v1/runways")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	i09, i27 := strings.Index(body, `"TEST/09"`), strings.Index(body, `"TEST/27"`)
	if i09 == -1 || i27 == -1 || i09 > i27 {
		t.Errorf("runways not in declaration order: %s", body)
	}

	var resp map[string]struct {
		Occupied      bool    `json:"occupied"`
		NextArrival   string  `json:"next_arrival"`
		NextArrivalNM float32 `json:"next_arrival_nm"`
		PrevDeparture *struct {
			SinceS float32 `json:"since_s"`
		} `json:"prev_departure"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	r09 := resp["TEST/09"]
	if !r09.Occupied || r09.NextArrival != "TST100" || r09.NextArrivalNM != 5 {
		t.Errorf("09: got %+v", r09)
	}
	if r09.PrevDeparture == nil || r09.PrevDeparture.SinceS != 30 {
		t.Errorf("09 previous departure: got %+v", r09.PrevDeparture)
	}
	if r27 := resp["TEST/27"]; r27.Occupied || r27.NextArrival != "" || r27.PrevDeparture != nil {
		t.Errorf("27: got %+v", r27)
	}
}

func TestAircraftEndpoint(t *testing.T) {
	s := makeTestServer(t)

	rec := get(t, s, "/api/v1/aircraft/TST200")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	var ac struct {
		ID       int
		Callsign string
		Altitude float32
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &ac); err != nil {
		t.Fatal(err)
	}
	if ac.ID != 2 || ac.Callsign != "TST200" || ac.Altitude != 5000 {
		t.Errorf("got %+v", ac)
	}

	if rec := get(t, s, "/api/v1/aircraft/NOPE"); rec.Code != http.StatusNotFound {
		t.Errorf("unknown aircraft: got %d, want 404", rec.Code)
	}
}

func TestSnapshotEndpoint(t *testing.T) {
	s := makeTestServer(t)
	rec := get(t, s, "/api/v1/snapshot")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	var snap struct {
		Tick      int
		Score     int
		HighScore int
		Aircraft  []json.RawMessage
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatal(err)
	}
	if snap.Tick != 12 || snap.Score != 950 || snap.HighScore != 1000 || len(snap.Aircraft) != 2 {
		t.Errorf("got %+v", snap)
	}
}

func TestEngineStatus(t *testing.T) {
	s := makeTestServer(t)
	es := makeEngineStatus(s.src.Snapshot())
	if es.Arrivals != 1 || es.Departures != 1 || es.Conflicts != 1 || es.Score != 950 {
		t.Errorf("got %+v", es)
	}
	if es.Time.Seconds() != 12 {
		t.Errorf("time: got %v, want 12s", es.Time)
	}
}

func TestUnknownRoute(t *testing.T) {
	s := makeTestServer(t)
	if rec := get(t, s, "/api/v2/conflicts"); rec.Code != http.StatusNotFound {
		t.Errorf("got %d, want 404", rec.Code)
	}
}
