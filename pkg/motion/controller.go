// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package motion

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Thermoquad/chladni/pkg/link"
)

// DefaultPollInterval is how often idle status is polled while waiting.
const DefaultPollInterval = 100 * time.Millisecond

// Device is the slice of the link the controller needs. *link.Client
// satisfies it.
type Device interface {
	SendAndWait(ctx context.Context, command, prefix string, timeout time.Duration) (string, bool, error)
	GoAxis(ctx context.Context, axis link.Axis, steps int) error
	AxisIdle(ctx context.Context, axis link.Axis) (bool, error)
	HomeAxis(ctx context.Context, axis link.Axis) (bool, error)
}

// Controller moves the sensor only along safe paths and tracks its position.
// All motion calls are serialized.
type Controller struct {
	mu sync.Mutex

	dev      Device
	geom     Geometry
	store    PositionStore
	operator Operator
	poll     time.Duration
	gated    bool
	logf     func(format string, v ...interface{})

	pos   Position
	known bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithStore persists the position in s. The default is an empty MemoryStore.
func WithStore(s PositionStore) Option {
	return func(c *Controller) { c.store = s }
}

// WithOperator routes notices and homing warnings to o. The default logs
// them without blocking.
func WithOperator(o Operator) Option {
	return func(c *Controller) { c.operator = o }
}

// WithPollInterval sets the idle polling interval.
func WithPollInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.poll = d
		}
	}
}

// WithHomingGate refuses moves with ErrPositionUnknown until the position is
// restored from the store or confirmed by homing.
func WithHomingGate(gated bool) Option {
	return func(c *Controller) { c.gated = gated }
}

// WithLogger replaces the diagnostic logger. Passing nil mutes it.
func WithLogger(f func(format string, v ...interface{})) Option {
	return func(c *Controller) {
		if f == nil {
			f = func(string, ...interface{}) {}
		}
		c.logf = f
	}
}

// NewController validates g and restores the last saved position. A missing
// or corrupt record leaves the controller at the origin with an unknown
// position and tells the operator.
func NewController(dev Device, g Geometry, opts ...Option) (*Controller, error) {
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("invalid geometry: %w", err)
	}

	c := &Controller{
		dev:   dev,
		geom:  g,
		store: NewMemoryStore(),
		poll:  DefaultPollInterval,
		logf:  log.Printf,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.operator == nil {
		c.operator = logOperator{logf: c.logf}
	}

	c.restore()
	return c, nil
}

func (c *Controller) restore() {
	pos, written, err := c.store.Load()
	if err == nil && (pos.Radial < c.geom.RadMinSteps || pos.Radial > c.geom.RadMaxSteps) {
		err = fmt.Errorf("%w: radial %d outside %d-%d",
			ErrCorruptRecord, pos.Radial, c.geom.RadMinSteps, c.geom.RadMaxSteps)
	}
	if err != nil {
		c.operator.Notice(fmt.Sprintf("Position unknown (%v). Assuming origin; home the scanner before trusting positions.", err))
		return
	}

	pos.Angular = c.geom.NormalizeAngle(pos.Angular)
	c.pos = pos
	c.known = true
	if written.IsZero() {
		c.logf("Restored position %v", pos)
	} else {
		c.logf("Restored position %v saved %s", pos, written.Format(time.RFC3339))
	}
}

// Position returns the tracked position.
func (c *Controller) Position() Position {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pos
}

// PositionKnown reports whether the tracked position was restored or homed.
func (c *Controller) PositionKnown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.known
}

// Geometry returns the platform limits.
func (c *Controller) Geometry() Geometry {
	return c.geom
}

// Preview plans a move to (r, a) from the current position without issuing
// anything.
func (c *Controller) Preview(r, a int) (Plan, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.geom.Plan(c.pos, r, a)
}

// MoveAbs moves the sensor to radius r and angular step a. It returns once
// both axes report idle and the new position is saved.
func (c *Controller) MoveAbs(ctx context.Context, r, a int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.moveLocked(ctx, r, a)
}

// MoveRel moves both axes by the given step counts.
func (c *Controller) MoveRel(ctx context.Context, dr, da int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.moveLocked(ctx, c.pos.Radial+dr, c.pos.Angular+da)
}

// RadMoveAbs moves the radial axis to r, keeping the angle.
func (c *Controller) RadMoveAbs(ctx context.Context, r int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.moveLocked(ctx, r, c.pos.Angular)
}

// RadMoveRel moves the radial axis by dr steps.
func (c *Controller) RadMoveRel(ctx context.Context, dr int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.moveLocked(ctx, c.pos.Radial+dr, c.pos.Angular)
}

// AngMoveAbs rotates to angular step a, keeping the radius.
func (c *Controller) AngMoveAbs(ctx context.Context, a int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.moveLocked(ctx, c.pos.Radial, a)
}

// AngMoveRel rotates by da steps. The target wraps onto one rotation, so a
// step below zero turns the long way round rather than past the home index.
func (c *Controller) AngMoveRel(ctx context.Context, da int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.moveLocked(ctx, c.pos.Radial, c.pos.Angular+da)
}

// CartMoveAbs moves to cartesian (x, y), measured in radial steps from the
// centre. Rounding to whole steps may shift the final position slightly.
func (c *Controller) CartMoveAbs(ctx context.Context, x, y int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cartMoveLocked(ctx, x, y)
}

// CartMoveRel moves by (dx, dy) from the current cartesian position.
func (c *Controller) CartMoveRel(ctx context.Context, dx, dy int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	x, y := c.geom.XYSteps(c.pos)
	return c.cartMoveLocked(ctx, x+dx, y+dy)
}

func (c *Controller) cartMoveLocked(ctx context.Context, x, y int) error {
	if !c.geom.SafeXY(x, y) {
		return &XYError{X: x, Y: y, Limit: c.geom.RadMaxSafe}
	}
	r, a := c.geom.PolarSteps(x, y)
	return c.moveLocked(ctx, r, a)
}

// Raw sends a protocol command outside position tracking. It still waits
// its turn behind any move in progress.
func (c *Controller) Raw(ctx context.Context, command, prefix string, timeout time.Duration) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dev.SendAndWait(ctx, command, prefix, timeout)
}

func (c *Controller) moveLocked(ctx context.Context, r, a int) error {
	if c.gated && !c.known {
		return ErrPositionUnknown
	}

	plan, err := c.geom.Plan(c.pos, r, a)
	if err != nil {
		return err
	}
	if plan.Empty() {
		return nil
	}

	if plan.Retreat {
		c.logf("Retreating radius to %d for rotation by %d steps", plan.RetreatTo, plan.Target.Angular-plan.From.Angular)
	}
	if plan.AngleFirst {
		c.logf("Rotating angle first")
	}
	c.logf("Moving to %v", plan.Target)

	if err := c.execute(ctx, plan); err != nil {
		return err
	}
	c.logf("Final position: %v", c.pos)
	return nil
}

// execute runs the plan step by step. Each Wait commits the deltas issued on
// its axes once they are idle. If a wait is cut short, every delta already
// issued is committed anyway since the device finishes accepted moves.
func (c *Controller) execute(ctx context.Context, plan Plan) error {
	if plan.Empty() {
		return nil
	}
	if err := c.settle(ctx); err != nil {
		return err
	}

	issued := make(map[link.Axis]int)

	for _, step := range plan.Steps {
		switch step.Kind {
		case Go:
			if err := c.dev.GoAxis(ctx, step.Axis, step.Steps); err != nil {
				c.commit(issued, link.Radial, link.Angular)
				var devErr *link.DeviceError
				if !errors.As(err, &devErr) {
					// Unacknowledged moves may or may not be running.
					c.known = false
				}
				return fmt.Errorf("%s move of %d steps: %w", step.Axis, step.Steps, err)
			}
			issued[step.Axis] += step.Steps

		case Wait:
			if err := c.waitIdle(ctx, step.Axes...); err != nil {
				c.commit(issued, link.Radial, link.Angular)
				return err
			}
			c.commit(issued, step.Axes...)
		}
	}
	return nil
}

// settle waits for both axes to finish whatever they were last told to do.
// A move cut short by its caller may still be running on the device.
func (c *Controller) settle(ctx context.Context) error {
	if err := c.waitIdle(ctx, link.Radial, link.Angular); err != nil {
		return fmt.Errorf("waiting for previous move: %w", err)
	}
	return nil
}

// waitIdle polls until every listed axis reports idle.
func (c *Controller) waitIdle(ctx context.Context, axes ...link.Axis) error {
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()

	for {
		idle := true
		for _, axis := range axes {
			ok, err := c.dev.AxisIdle(ctx, axis)
			if err != nil {
				return fmt.Errorf("waiting for %s axis: %w", axis, err)
			}
			if !ok {
				idle = false
				break
			}
		}
		if idle {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// commit applies the issued deltas of axes to the tracked position and saves
// it. Nothing is saved when there was nothing to apply.
func (c *Controller) commit(issued map[link.Axis]int, axes ...link.Axis) {
	changed := false
	for _, axis := range axes {
		delta, ok := issued[axis]
		if !ok {
			continue
		}
		delete(issued, axis)
		switch axis {
		case link.Radial:
			c.pos.Radial += delta
		case link.Angular:
			c.pos.Angular = c.geom.NormalizeAngle(c.pos.Angular + delta)
		}
		changed = true
	}
	if changed {
		c.persist()
	}
}

func (c *Controller) persist() {
	if err := c.store.Save(c.pos); err != nil {
		c.logf("Failed to save position %v: %v", c.pos, err)
	}
}
