// aviation/errors.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package aviation

import "errors"

var (
	ErrDuplicateJSONKeys      = errors.New("duplicate keys in world JSON")
	ErrInvalidAreaType        = errors.New("area must have either vertices or a radius")
	ErrInvalidRecatCategory   = errors.New("invalid RECAT category")
	ErrInvalidRunwayRelation  = errors.New("invalid runway relation")
	ErrInvalidWorld           = errors.New("invalid world")
	ErrNoAirports             = errors.New("world has no airports")
	ErrUnknownAirport         = errors.New("unknown airport")
	ErrUnknownApproach        = errors.New("unknown approach")
	ErrUnknownRunway          = errors.New("unknown runway")
	ErrInvalidMaximumAltitude = errors.New("maximum altitude must be above the lowest airport")
)
