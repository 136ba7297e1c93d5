// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package motion turns position requests into safe, ordered axis commands
// for the plate scanner and tracks where the sensor is.
package motion

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// Shape is the outline of the plate the sensor travels over.
type Shape string

const (
	Circle Shape = "circle"
	Square Shape = "square"
)

// ParseShape accepts "circle" or "square", case-insensitively.
func ParseShape(s string) (Shape, error) {
	switch Shape(strings.ToLower(strings.TrimSpace(s))) {
	case Circle:
		return Circle, nil
	case Square:
		return Square, nil
	default:
		return "", fmt.Errorf("unknown platform shape %q (want circle or square)", s)
	}
}

// Geometry holds the fixed limits of one platform, all in motor steps.
type Geometry struct {
	Shape Shape `json:"shape"`

	// AngMaxSteps is one full rotation.
	AngMaxSteps int `json:"ang_max_steps"`
	AngMinSteps int `json:"ang_min_steps"`

	// RadMaxSteps reaches the corner of a square plate; RadMaxSafe reaches
	// the edge, the largest radius that is safe at every angle.
	RadMaxSteps int `json:"rad_max_steps"`
	RadMinSteps int `json:"rad_min_steps"`
	RadMaxSafe  int `json:"rad_max_safe"`

	// SensorWidth shrinks the square envelope from 1.0 at the edges to 0.91
	// at the corners.
	SensorWidth bool `json:"sensor_width"`
}

// DefaultGeometry returns the lab platform limits for shape.
func DefaultGeometry(shape Shape) Geometry {
	return Geometry{
		Shape:       shape,
		AngMaxSteps: 720,
		AngMinSteps: 0,
		RadMaxSteps: 10000,
		RadMinSteps: 0,
		RadMaxSafe:  7300,
		SensorWidth: true,
	}
}

// LoadGeometry reads a JSON file of overrides on top of the defaults for
// shape. Fields omitted from the file keep their default values.
func LoadGeometry(path string, shape Shape) (Geometry, error) {
	g := DefaultGeometry(shape)

	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return g, fmt.Errorf("geometry file must have .json extension, got %q", ext)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return g, fmt.Errorf("failed to read geometry file: %w", err)
	}
	if err := json.Unmarshal(data, &g); err != nil {
		return g, fmt.Errorf("failed to parse geometry JSON: %w", err)
	}
	if err := g.Validate(); err != nil {
		return g, fmt.Errorf("invalid geometry: %w", err)
	}
	return g, nil
}

// Validate checks that the limits describe a usable platform.
func (g Geometry) Validate() error {
	if _, err := ParseShape(string(g.Shape)); err != nil {
		return err
	}
	if g.AngMaxSteps <= 0 {
		return fmt.Errorf("ang_max_steps must be positive, got %d", g.AngMaxSteps)
	}
	if g.AngMinSteps < 0 || g.AngMinSteps >= g.AngMaxSteps {
		return fmt.Errorf("ang_min_steps must be in [0, %d), got %d", g.AngMaxSteps, g.AngMinSteps)
	}
	if g.RadMinSteps < 0 {
		return fmt.Errorf("rad_min_steps must be non-negative, got %d", g.RadMinSteps)
	}
	if g.RadMaxSteps <= g.RadMinSteps {
		return fmt.Errorf("rad_max_steps (%d) must exceed rad_min_steps (%d)", g.RadMaxSteps, g.RadMinSteps)
	}
	if g.RadMaxSafe <= g.RadMinSteps || g.RadMaxSafe > g.RadMaxSteps {
		return fmt.Errorf("rad_max_safe must be in (%d, %d], got %d", g.RadMinSteps, g.RadMaxSteps, g.RadMaxSafe)
	}
	return nil
}

// StepsPerDegree converts degrees of rotation to angular steps.
func (g Geometry) StepsPerDegree() float64 {
	return float64(g.AngMaxSteps) / 360
}

// NormalizeAngle maps any angular step count onto [0, AngMaxSteps).
func (g Geometry) NormalizeAngle(a int) int {
	n := g.AngMaxSteps
	return ((a % n) + n) % n
}

// Envelope is the largest safe radius at angular step a.
func (g Geometry) Envelope(a int) float64 {
	if g.Shape != Square {
		return float64(g.RadMaxSafe)
	}

	theta := float64(a) / float64(g.AngMaxSteps) * 2 * math.Pi
	limit := float64(g.RadMaxSafe)
	if g.SensorWidth {
		c := math.Cos(2 * theta)
		limit *= 0.91 + 0.09*c*c
	}
	return limit * math.Min(math.Abs(1/math.Cos(theta)), math.Abs(1/math.Sin(theta)))
}

// SweptEnvelope is the smallest Envelope over every angular step between
// from and to inclusive, i.e. the largest radius that clears the walls for
// the whole rotation.
func (g Geometry) SweptEnvelope(from, to int) float64 {
	if from > to {
		from, to = to, from
	}
	if g.Shape != Square {
		return float64(g.RadMaxSafe)
	}

	limits := make([]float64, 0, to-from+1)
	for a := from; a <= to; a++ {
		limits = append(limits, g.Envelope(a))
	}
	return floats.Min(limits)
}

// SafePolar reports whether the sensor may sit at radius r and angular step
// a. Use it to filter scan paths before moving.
func (g Geometry) SafePolar(r, a int) bool {
	if r < g.RadMinSteps || r > g.RadMaxSteps {
		return false
	}
	return float64(r) <= g.Envelope(g.NormalizeAngle(a))
}

// SafeXY reports whether the cartesian position (x, y), in radial steps, is
// inside the plate.
func (g Geometry) SafeXY(x, y int) bool {
	limit := g.RadMaxSafe
	if g.Shape == Square {
		return x >= -limit && x <= limit && y >= -limit && y <= limit
	}
	return math.Hypot(float64(x), float64(y)) <= float64(limit)
}
