// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package motion

import "math"

// XYToPolar converts cartesian (x, y) to a radius and an angle in degrees.
// The origin maps to (0, 0).
func XYToPolar(x, y float64) (r, theta float64) {
	return math.Hypot(x, y), math.Atan2(y, x) * 180 / math.Pi
}

// PolarToXY converts a radius and an angle in degrees to cartesian (x, y).
func PolarToXY(r, theta float64) (x, y float64) {
	rad := theta * math.Pi / 180
	return r * math.Cos(rad), r * math.Sin(rad)
}

// PolarSteps converts cartesian (x, y), in radial steps, to the nearest
// radial and angular step counts.
func (g Geometry) PolarSteps(x, y int) (radial, angular int) {
	r, theta := XYToPolar(float64(x), float64(y))
	return int(math.Round(r)), int(math.Round(theta * g.StepsPerDegree()))
}

// XYSteps converts a step position to the nearest cartesian (x, y) in radial
// steps.
func (g Geometry) XYSteps(p Position) (x, y int) {
	fx, fy := PolarToXY(float64(p.Radial), float64(p.Angular)/g.StepsPerDegree())
	return int(math.Round(fx)), int(math.Round(fy))
}
