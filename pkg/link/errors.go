// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"errors"
	"fmt"
)

var (
	// ErrDeviceNotFound is returned by Open when no candidate transport opens.
	ErrDeviceNotFound = errors.New("no device found")

	// ErrConnectionClosed is returned when waiting on a connection whose
	// receive task has stopped and no bound was given for the wait.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrWriteFailed wraps transport write failures.
	ErrWriteFailed = errors.New("failed to write command")

	// ErrNoReply is returned by typed commands whose reply did not arrive
	// within the configured reply timeout.
	ErrNoReply = errors.New("no reply from device")
)

// ErrorMarker prefixes every error line sent by the device.
const ErrorMarker = "ERR:"

// DeviceError is a device-reported failure. It aborts the command that was
// waiting when the line arrived; the connection remains usable.
type DeviceError struct {
	Command string
	Line    string
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device error during %q: %s", e.Command, e.Line)
}
