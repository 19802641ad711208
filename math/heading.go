// math/heading.go
// Copyright(c) 2022-2025 vice contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package math

// HeadingDifference returns the minimum difference between two
// headings. (i.e., the result is always in the range [0,180].)
func HeadingDifference(a float32, b float32) float32 {
	var d float32
	if a > b {
		d = a - b
	} else {
		d = b - a
	}
	if d > 180 {
		d = 360 - d
	}
	return d
}

// HeadingSignedTurn returns the turn from cur to target; positive values
// are right (clockwise) turns. We first find the angle to rotate the
// target heading by so that it's aligned with 180 degrees. This lets us
// not worry about the complexities of the wrap around at 0/360..
func HeadingSignedTurn(cur, target float32) float32 {
	rot := NormalizeHeading(180 - target)
	return 180 - NormalizeHeading(cur+rot) // w.r.t. 180 target
}

// Reduces it to [0,360).
func NormalizeHeading(h float32) float32 {
	if h < 0 {
		return 360 - NormalizeHeading(-h)
	}
	return Mod(h, 360)
}

func OppositeHeading(h float32) float32 {
	return NormalizeHeading(h + 180)
}

// HeadingVector returns the unit vector pointing along the given heading.
func HeadingVector(h float32) [2]float32 {
	r := Radians(h)
	return [2]float32{Sin(r), Cos(r)}
}

// VectorHeading returns the heading of the given vector; the zero vector
// has heading 0.
func VectorHeading(v [2]float32) float32 {
	if v[0] == 0 && v[1] == 0 {
		return 0
	}
	return NormalizeHeading(Degrees(Atan2(v[0], v[1])))
}
