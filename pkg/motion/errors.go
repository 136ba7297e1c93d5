// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package motion

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfRange is returned for targets outside the static radial bounds,
	// or beyond the safe radius of a circular platform.
	ErrOutOfRange = errors.New("position out of range")

	// ErrUnsafeForAngle is returned when the radial target exceeds the square
	// platform's envelope at the destination angle.
	ErrUnsafeForAngle = errors.New("radial position unsafe for angle")

	// ErrHomingIncomplete is returned when a limit switch did not confirm
	// during homing. The tracked position is no longer trusted.
	ErrHomingIncomplete = errors.New("homing incomplete")

	// ErrPositionUnknown is returned by gated controllers asked to move
	// before the position has been restored or homed.
	ErrPositionUnknown = errors.New("position unknown, home the scanner first")

	// ErrNoRecord is returned by a PositionStore with nothing saved.
	ErrNoRecord = errors.New("no position record")

	// ErrCorruptRecord is returned when a saved record cannot be parsed.
	ErrCorruptRecord = errors.New("corrupt position record")
)

// RangeError describes a rejected target. It unwraps to ErrOutOfRange or
// ErrUnsafeForAngle.
type RangeError struct {
	Err      error
	Radial   int
	Angular  int
	Limit    float64
	LimitMin float64
}

func (e *RangeError) Error() string {
	if errors.Is(e.Err, ErrUnsafeForAngle) {
		return fmt.Sprintf("radial position %d outside safe range %.0f for angular steps %d",
			e.Radial, e.Limit, e.Angular)
	}
	return fmt.Sprintf("radial position %d outside safe range %.0f-%.0f",
		e.Radial, e.LimitMin, e.Limit)
}

func (e *RangeError) Unwrap() error {
	return e.Err
}

// XYError is returned by cartesian moves whose target lies outside the safe
// region of the platform.
type XYError struct {
	X, Y  int
	Limit int
}

func (e *XYError) Error() string {
	return fmt.Sprintf("position (%d, %d) outside safe range of %d-%d", e.X, e.Y, -e.Limit, e.Limit)
}

func (e *XYError) Unwrap() error {
	return ErrOutOfRange
}
