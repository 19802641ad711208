// sim/errors.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package sim

import (
	"errors"
)

var (
	ErrDuplicateCallsign    = errors.New("Duplicate callsign")
	ErrInvalidAircraft      = errors.New("Invalid aircraft state")
	ErrInvalidConfig        = errors.New("Invalid configuration")
	ErrInvalidTrafficMode   = errors.New("Invalid traffic mode")
	ErrNoAltitudeHold       = errors.New("Aircraft has no temporary altitude hold")
	ErrUnknownAircraft      = errors.New("Unknown aircraft")
	ErrVerticalSepTooSmall  = errors.New("Vertical separation must be at least 100ft")
	ErrWorldCeilingTooLow   = errors.New("World ceiling is below the level index base")
	ErrEngineAlreadyRunning = errors.New("Engine is already running")
)
