// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SampleRate converts the step period echoed by a_set/r_set from device
// samples to seconds.
const SampleRate = 48e3

// Axis selects one of the two motors.
type Axis byte

const (
	Radial  Axis = 'r'
	Angular Axis = 'a'
)

func (a Axis) String() string {
	switch a {
	case Radial:
		return "radial"
	case Angular:
		return "angular"
	default:
		return fmt.Sprintf("axis(%q)", byte(a))
	}
}

// verb builds the wire verb for this axis, e.g. Radial.verb("go") == "r_go".
func (a Axis) verb(op string) string {
	return string(a) + "_" + op
}

// payload returns the reply text after the echoed verb.
func payload(line, prefix string) string {
	return strings.TrimSpace(strings.TrimPrefix(line, prefix))
}

// expect runs a typed command bounded by timeout and turns a no-match into
// ErrNoReply.
func (c *Client) expect(ctx context.Context, command, prefix string, timeout time.Duration) (string, error) {
	line, ok, err := c.SendAndWait(ctx, command, prefix, timeout)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w to %q within %v", ErrNoReply, command, timeout)
	}
	return line, nil
}

// GoAxis starts a relative move of steps on axis. The reply only
// acknowledges the command; use AxisIdle to learn when motion ends.
func (c *Client) GoAxis(ctx context.Context, axis Axis, steps int) error {
	verb := axis.verb("go")
	_, err := c.expect(ctx, fmt.Sprintf("%s %d", verb, steps), verb, c.replyTimeout)
	return err
}

// AxisIdle reports whether axis has finished all queued motion.
func (c *Client) AxisIdle(ctx context.Context, axis Axis) (bool, error) {
	verb := axis.verb("idle")
	line, err := c.expect(ctx, verb, verb, c.replyTimeout)
	if err != nil {
		return false, err
	}
	return strings.HasPrefix(payload(line, verb), "true"), nil
}

// HomeAxis drives axis against its limit switch. The device answers once the
// switch is reached; a bare acknowledgement counts as success.
func (c *Client) HomeAxis(ctx context.Context, axis Axis) (bool, error) {
	verb := axis.verb("home")
	line, err := c.expect(ctx, verb, verb, c.homeTimeout)
	if err != nil {
		return false, err
	}
	return parseSuccess(payload(line, verb)), nil
}

func parseSuccess(s string) bool {
	if s == "" {
		return true
	}
	fields := strings.Fields(s)
	switch strings.ToLower(fields[0]) {
	case "true", "1", "ok", "done":
		return true
	default:
		return false
	}
}

// SetRate sets the step period of axis and returns the period the device
// actually applied, in seconds.
func (c *Client) SetRate(ctx context.Context, axis Axis, dt float64) (float64, error) {
	verb := axis.verb("set")
	line, err := c.expect(ctx, fmt.Sprintf("%s %f", verb, dt), verb, c.replyTimeout)
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(payload(line, verb))
	if len(fields) == 0 {
		return 0, fmt.Errorf("malformed %s reply %q", verb, line)
	}
	samples, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, fmt.Errorf("malformed %s reply %q: %w", verb, line, err)
	}
	return float64(samples) / SampleRate, nil
}

// Status returns the device status line without its prefix.
func (c *Client) Status(ctx context.Context) (string, error) {
	line, err := c.expect(ctx, "status", "status", c.replyTimeout)
	if err != nil {
		return "", err
	}
	return payload(line, "status"), nil
}

// Debug toggles firmware debug output.
func (c *Client) Debug(ctx context.Context) error {
	_, err := c.expect(ctx, "debug", "debug", c.replyTimeout)
	return err
}
