// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package motion

import (
	"context"
	"fmt"
	"strings"

	"github.com/Thermoquad/chladni/pkg/link"
)

// homingOrder pulls the sensor in before rotating it home.
var homingOrder = []link.Axis{link.Radial, link.Angular}

// Home drives both axes against their limit switches and resets the tracked
// position to the origin.
//
// If a switch is not confirmed the position is set to the origin but marked
// unknown, the operator must acknowledge a warning naming the axis, and
// ErrHomingIncomplete is returned. Homing is never retried automatically.
func (c *Controller) Home(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.logf("Homing")
	if err := c.settle(ctx); err != nil {
		return err
	}

	var failed []string
	for _, axis := range homingOrder {
		ok, err := c.dev.HomeAxis(ctx, axis)
		if err != nil {
			c.known = false
			return fmt.Errorf("homing %s axis: %w", axis, err)
		}
		if !ok {
			failed = append(failed, axis.String())
		}
	}

	if err := c.waitIdle(ctx, homingOrder...); err != nil {
		c.known = false
		return fmt.Errorf("homing: %w", err)
	}
	c.pos = Position{}

	if len(failed) > 0 {
		c.known = false
		axes := strings.Join(failed, " and ")
		warning := fmt.Sprintf("HOMING FAILED: the %s limit switch was not reached.\n"+
			"The scanner position is unknown. Inspect the apparatus and home again before moving it.", axes)
		if err := c.operator.Acknowledge(ctx, warning); err != nil {
			return fmt.Errorf("%w (%s axis): acknowledgement: %v", ErrHomingIncomplete, axes, err)
		}
		return fmt.Errorf("%w (%s axis)", ErrHomingIncomplete, axes)
	}

	c.known = true
	c.persist()
	c.logf("Homed")
	return nil
}
