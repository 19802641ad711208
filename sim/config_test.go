// sim/config_test.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/tcengine/tcengine/log"
	"github.com/tcengine/tcengine/util"
)

func TestDefaultConfigValid(t *testing.T) {
	c := DefaultConfig()
	var e util.ErrorLogger
	c.Validate(&e)
	if e.HaveErrors() {
		t.Errorf("default configuration has errors: %s", e.String())
	}
}

func TestParseConfig(t *testing.T) {
	lg := makeTestLogger(t)

	c, err := ParseConfig(`
tick_seconds = 0.5

[separation]
min_lateral_sep = 5

[traffic]
mode = "flow_rate"
arrival_flow_rate = 30
`, lg)
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if c.TickSeconds != 0.5 {
		t.Errorf("tick_seconds: got %v, want 0.5", c.TickSeconds)
	}
	if c.Separation.MinLateralSep != 5 {
		t.Errorf("min_lateral_sep: got %v, want 5", c.Separation.MinLateralSep)
	}
	if c.Separation.VerticalSep != 1000 {
		t.Errorf("vertical_sep should keep its default: got %v", c.Separation.VerticalSep)
	}
	if c.Traffic.Mode != TrafficModeFlowRate || c.Traffic.ArrivalFlowRate != 30 {
		t.Errorf("traffic: got %+v", c.Traffic)
	}

	// Unknown keys are logged, not rejected.
	if _, err := ParseConfig("[separation]\nmin_lateral_separation = 5\n", lg); err != nil {
		t.Errorf("unknown key: unexpected error %v", err)
	}
}

func TestParseConfigErrors(t *testing.T) {
	lg := makeTestLogger(t)

	for _, test := range []struct {
		toml string
		is   error
		msg  string
	}{
		{"[separation]\nvertical_sep = 50\n", ErrVerticalSepTooSmall, "separation: 50"},
		{"[separation]\nmin_lateral_sep = 0\n", ErrInvalidConfig, "min_lateral_sep"},
		{"[trajectory]\nstep_s = 10\nhorizon_s = 5\n", ErrInvalidConfig, "horizon_s"},
		{"[traffic]\nmode = \"flow_rate\"\narrival_flow_rate = 0\n", ErrInvalidConfig, "arrival_flow_rate"},
		{"[scoring]\npenalty_period_s = 0\n", ErrInvalidConfig, "penalty_period_s"},
	} {
		_, err := ParseConfig(test.toml, lg)
		if err == nil {
			t.Errorf("%q: expected an error", test.toml)
			continue
		}
		if !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("%q: %v is not ErrInvalidConfig", test.toml, err)
		}
		if test.is != ErrInvalidConfig && !strings.Contains(err.Error(), test.is.Error()) {
			t.Errorf("%q: %v does not mention %v", test.toml, err, test.is)
		}
		if !strings.Contains(err.Error(), test.msg) {
			t.Errorf("%q: %v does not mention %q", test.toml, err, test.msg)
		}
	}

	if _, err := ParseConfig("tick_seconds = [", lg); err == nil {
		t.Errorf("malformed TOML: expected an error")
	}
}

func TestParseConfigLogsErrors(t *testing.T) {
	var buf bytes.Buffer
	lg := log.NewWriter(&buf, "info")

	if _, err := ParseConfig("[separation]\nmin_lateral_sep = 0\n", lg); err == nil {
		t.Fatalf("expected an error")
	}
	if !strings.Contains(buf.String(), "min_lateral_sep") {
		t.Errorf("validation error not logged: %q", buf.String())
	}
}
