// util/util_test.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package util

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/vmihailenco/msgpack/v5"
)

func TestFindDuplicateJSONKeys(t *testing.T) {
	tests := []struct {
		name     string
		json     string
		expected []DuplicateJSONKey
	}{
		{
			name: "no duplicates",
			json: `{"a": 1, "b": 2, "c": 3}`,
		},
		{
			name:     "duplicate at root",
			json:     `{"a": 1, "b": 2, "a": 3}`,
			expected: []DuplicateJSONKey{{Path: "", Key: "a"}},
		},
		{
			name:     "duplicate runway in airport",
			json:     `{"airports": {"EGLL": {"runways": 1, "runways": 2}}}`,
			expected: []DuplicateJSONKey{{Path: "airports.EGLL", Key: "runways"}},
		},
		{
			name: "same key in sibling objects",
			json: `{"runways": [{"name": "27L"}, {"name": "27R"}]}`,
		},
		{
			name:     "duplicate inside array element",
			json:     `{"sectors": [{"id": 1, "id": 2}], "x": [1, 2, 3]}`,
			expected: []DuplicateJSONKey{{Path: "sectors", Key: "id"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := FindDuplicateJSONKeys([]byte(tt.json))
			if len(result) != len(tt.expected) {
				t.Fatalf("got %d duplicates (%v), want %d", len(result), result, len(tt.expected))
			}
			for i, exp := range tt.expected {
				if result[i] != exp {
					t.Errorf("duplicate %d: got %+v, want %+v", i, result[i], exp)
				}
			}
		})
	}
}

func TestUnmarshalJSONErrorPosition(t *testing.T) {
	var v struct {
		Altitude int `json:"altitude"`
	}
	err := UnmarshalJSONBytes([]byte("{\n  \"altitude\": \"high\"\n}"), &v)
	if err == nil {
		t.Fatalf("expected type error")
	}
	if !strings.Contains(err.Error(), "line 2") {
		t.Errorf("error %q does not report line 2", err)
	}

	if err := UnmarshalJSON(strings.NewReader(`{"altitude": 3000}`), &v); err != nil {
		t.Errorf("unexpected error: %v", err)
	} else if v.Altitude != 3000 {
		t.Errorf("altitude: got %d, want 3000", v.Altitude)
	}
}

func TestErrorLogger(t *testing.T) {
	var e ErrorLogger
	if e.Err(nil) != nil {
		t.Errorf("empty logger returned an error")
	}

	e.Push("airport EGLL")
	e.Push("runway 27L")
	e.ErrorString("opposite runway %q not found", "09R")
	e.Pop()
	e.Error(errors.New("no runways"))
	e.Pop()

	if e.CurrentDepth() != 0 {
		t.Errorf("depth: got %d, want 0", e.CurrentDepth())
	}
	errs := e.Errors()
	if len(errs) != 2 {
		t.Fatalf("got %d errors, want 2", len(errs))
	}
	if errs[0] != `airport EGLL / runway 27L: opposite runway "09R" not found` {
		t.Errorf("unexpected message %q", errs[0])
	}

	base := errors.New("invalid world")
	if err := e.Err(base); !errors.Is(err, base) {
		t.Errorf("Err does not wrap base error: %v", err)
	}
}

func TestStoreRetrieveObject(t *testing.T) {
	type payload struct {
		Callsigns []string
		Score     int
	}
	path := filepath.Join(t.TempDir(), "sub", "obj.msgpack.zst")
	in := payload{Callsigns: []string{"BAW123", "EZY45"}, Score: 87}
	if err := StoreObject(path, in); err != nil {
		t.Fatalf("StoreObject: %v", err)
	}

	var out payload
	if err := RetrieveObject(path, &out); err != nil {
		t.Fatalf("RetrieveObject: %v", err)
	}
	if out.Score != in.Score || !slices.Equal(out.Callsigns, in.Callsigns) {
		t.Errorf("got %+v, want %+v", out, in)
	}
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func TestRecorder(t *testing.T) {
	var buf bytes.Buffer
	r, err := NewRecorder(nopCloser{&buf})
	if err != nil {
		t.Fatal(err)
	}
	for i := range 5 {
		if err := r.Record(map[string]int{"tick": i}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	if r.Count() != 5 {
		t.Errorf("count: got %d, want 5", r.Count())
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if err := r.Record(1); !errors.Is(err, ErrRecorderClosed) {
		t.Errorf("record after close: got %v, want ErrRecorderClosed", err)
	}

	var ticks []int
	err = ReadRecording(&buf, func(dec *msgpack.Decoder) error {
		var m map[string]int
		if err := dec.Decode(&m); err != nil {
			return err
		}
		ticks = append(ticks, m["tick"])
		return nil
	})
	if err != nil {
		t.Fatalf("ReadRecording: %v", err)
	}
	if !slices.Equal(ticks, []int{0, 1, 2, 3, 4}) {
		t.Errorf("ticks: got %v", ticks)
	}
}

func TestCreateRecorder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec", "run.zst")
	r, err := CreateRecorder(path)
	if err != nil {
		t.Fatal(err)
	}
	r.Record("hello")
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if fi, err := os.Stat(path); err != nil || fi.Size() == 0 {
		t.Errorf("recording not written: %v", err)
	}
}

func TestGeneric(t *testing.T) {
	if Select(true, 1, 2) != 1 || Select(false, 1, 2) != 2 {
		t.Errorf("Select returned the wrong value")
	}
	keys := SortedMapKeys(map[string]int{"b": 1, "a": 2, "c": 3})
	if !slices.Equal(keys, []string{"a", "b", "c"}) {
		t.Errorf("SortedMapKeys: got %v", keys)
	}
	even := FilterSlice([]int{1, 2, 3, 4}, func(i int) bool { return i%2 == 0 })
	if !slices.Equal(even, []int{2, 4}) {
		t.Errorf("FilterSlice: got %v", even)
	}
}
