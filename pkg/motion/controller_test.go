// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package motion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/chladni/pkg/link"
)

// mockDevice records every primitive command in wire form.
type mockDevice struct {
	mu  sync.Mutex
	log []string

	// busy is how many idle polls report false after each go on an axis.
	busy    map[link.Axis]int
	pending map[link.Axis]int

	goErr   map[link.Axis]error
	homeOK  map[link.Axis]bool
	idleErr error
}

func newMockDevice() *mockDevice {
	return &mockDevice{
		busy:    make(map[link.Axis]int),
		pending: make(map[link.Axis]int),
		goErr:   make(map[link.Axis]error),
		homeOK:  map[link.Axis]bool{link.Radial: true, link.Angular: true},
	}
}

func (m *mockDevice) SendAndWait(_ context.Context, command, prefix string, _ time.Duration) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log = append(m.log, command)
	return prefix, true, nil
}

func (m *mockDevice) GoAxis(_ context.Context, axis link.Axis, steps int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log = append(m.log, fmt.Sprintf("%c_go %d", byte(axis), steps))
	if err := m.goErr[axis]; err != nil {
		return err
	}
	m.pending[axis] = m.busy[axis]
	return nil
}

func (m *mockDevice) AxisIdle(_ context.Context, axis link.Axis) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log = append(m.log, fmt.Sprintf("%c_idle", byte(axis)))
	if m.idleErr != nil {
		return false, m.idleErr
	}
	if m.pending[axis] > 0 {
		m.pending[axis]--
		return false, nil
	}
	return true, nil
}

func (m *mockDevice) HomeAxis(_ context.Context, axis link.Axis) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log = append(m.log, fmt.Sprintf("%c_home", byte(axis)))
	return m.homeOK[axis], nil
}

func (m *mockDevice) commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.log...)
}

func (m *mockDevice) clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log = nil
}

type mockOperator struct {
	mu       sync.Mutex
	notices  []string
	warnings []string
}

func (o *mockOperator) Notice(msg string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.notices = append(o.notices, msg)
}

func (o *mockOperator) Acknowledge(_ context.Context, warning string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.warnings = append(o.warnings, warning)
	return nil
}

func newTestController(t *testing.T, dev Device, g Geometry, opts ...Option) *Controller {
	t.Helper()
	opts = append([]Option{WithLogger(nil), WithPollInterval(time.Millisecond)}, opts...)
	c, err := NewController(dev, g, opts...)
	require.NoError(t, err)
	return c
}

func TestMoveAbs_RetreatsBeforeRotating(t *testing.T) {
	dev := newMockDevice()
	store := NewMemoryStore(Position{Radial: 9000, Angular: 90})
	c := newTestController(t, dev, DefaultGeometry(Square), WithStore(store))

	require.NoError(t, c.MoveAbs(context.Background(), 9000, 270))

	want := []string{
		"r_idle", "a_idle",
		"r_go -1700", "r_idle", "a_idle",
		"a_go 180", "a_idle",
		"r_go 1700", "r_idle", "a_idle",
	}
	if diff := cmp.Diff(want, dev.commands()); diff != "" {
		t.Errorf("command sequence mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, Position{Radial: 9000, Angular: 270}, c.Position())
	saved, _, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, Position{Radial: 9000, Angular: 270}, saved)
	assert.Equal(t, 3, store.Saves(), "one save per committed phase")
}

func TestMoveAbs_Idempotent(t *testing.T) {
	dev := newMockDevice()
	c := newTestController(t, dev, DefaultGeometry(Square))
	ctx := context.Background()

	require.NoError(t, c.MoveAbs(ctx, 5000, 200))
	dev.clear()

	require.NoError(t, c.MoveAbs(ctx, 5000, 200))
	assert.Empty(t, dev.commands())
}

func TestMoveAbs_RejectedIssuesNothing(t *testing.T) {
	g := DefaultGeometry(Square)
	g.RadMaxSteps = 14142
	g.RadMaxSafe = 10000

	dev := newMockDevice()
	store := NewMemoryStore(Position{})
	c := newTestController(t, dev, g, WithStore(store))

	err := c.MoveAbs(context.Background(), 12000, 0)
	assert.ErrorIs(t, err, ErrUnsafeForAngle)
	assert.Empty(t, dev.commands())
	assert.Equal(t, Position{}, c.Position())
	assert.Equal(t, 0, store.Saves())
}

func TestMoveAbs_WaitsForBothAxes(t *testing.T) {
	dev := newMockDevice()
	dev.busy[link.Angular] = 2
	c := newTestController(t, dev, DefaultGeometry(Circle))

	require.NoError(t, c.MoveAbs(context.Background(), 1000, 40))

	want := []string{
		"r_idle", "a_idle",
		"a_go 40", "r_go 1000",
		"r_idle", "a_idle",
		"r_idle", "a_idle",
		"r_idle", "a_idle",
	}
	if diff := cmp.Diff(want, dev.commands()); diff != "" {
		t.Errorf("command sequence mismatch (-want +got):\n%s", diff)
	}
}

func TestMoveAbs_CancelledWaitStillCommits(t *testing.T) {
	dev := newMockDevice()
	dev.busy[link.Radial] = 1 << 30
	store := NewMemoryStore(Position{})
	c := newTestController(t, dev, DefaultGeometry(Circle), WithStore(store))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := c.MoveAbs(ctx, 2000, 60)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	want := Position{Radial: 2000, Angular: 60}
	assert.Equal(t, want, c.Position(), "issued moves are committed")
	saved, _, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, want, saved)
}

func TestMoveAbs_WaitsForCancelledMoveToFinish(t *testing.T) {
	dev := newMockDevice()
	dev.busy[link.Angular] = 1 << 30
	c := newTestController(t, dev, DefaultGeometry(Square),
		WithStore(NewMemoryStore(Position{Radial: 9000, Angular: 90})))

	// Cut the rotation short once the sensor has retreated.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.MoveAbs(ctx, 9000, 270), context.DeadlineExceeded)
	assert.Equal(t, Position{Radial: 7300, Angular: 270}, c.Position())

	// The plate is still turning for three more polls.
	dev.mu.Lock()
	dev.busy[link.Angular] = 0
	dev.pending[link.Angular] = 3
	dev.mu.Unlock()
	dev.clear()

	require.NoError(t, c.MoveAbs(context.Background(), 9000, 270))

	want := []string{
		"r_idle", "a_idle",
		"r_idle", "a_idle",
		"r_idle", "a_idle",
		"r_idle", "a_idle",
		"r_go 1700", "r_idle", "a_idle",
	}
	if diff := cmp.Diff(want, dev.commands()); diff != "" {
		t.Errorf("command sequence mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, Position{Radial: 9000, Angular: 270}, c.Position())
}

func TestMoveAbs_CancelledBeforeDeviceIdleIssuesNothing(t *testing.T) {
	dev := newMockDevice()
	dev.pending[link.Radial] = 1 << 30
	store := NewMemoryStore(Position{})
	c := newTestController(t, dev, DefaultGeometry(Circle), WithStore(store))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, c.MoveAbs(ctx, 1000, 0), context.DeadlineExceeded)
	for _, cmd := range dev.commands() {
		assert.Equal(t, "r_idle", cmd, "only idle polls before the device settles")
	}
	assert.Equal(t, Position{}, c.Position())
	assert.True(t, c.PositionKnown())
	assert.Equal(t, 0, store.Saves())
}

func TestMoveAbs_DeviceErrorCommitsIssuedAxes(t *testing.T) {
	dev := newMockDevice()
	dev.goErr[link.Radial] = &link.DeviceError{Command: "r_go 500", Line: "ERR: limit"}
	c := newTestController(t, dev, DefaultGeometry(Circle), WithStore(NewMemoryStore(Position{})))

	err := c.MoveAbs(context.Background(), 500, 20)

	var devErr *link.DeviceError
	require.True(t, errors.As(err, &devErr), "got %v", err)
	assert.Equal(t, Position{Radial: 0, Angular: 20}, c.Position())
	assert.True(t, c.PositionKnown(), "a refused move leaves the position trusted")
}

func TestMoveAbs_NoReplyMarksPositionUnknown(t *testing.T) {
	dev := newMockDevice()
	dev.goErr[link.Angular] = link.ErrNoReply
	c := newTestController(t, dev, DefaultGeometry(Circle), WithStore(NewMemoryStore(Position{})))

	err := c.MoveAbs(context.Background(), 0, 20)
	assert.ErrorIs(t, err, link.ErrNoReply)
	assert.False(t, c.PositionKnown())
}

func TestRelativeAndSingleAxisMoves(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		start Position
		move  func(c *Controller) error
		want  []string
		final Position
	}{
		{
			name:  "move rel",
			start: Position{Radial: 1000, Angular: 100},
			move:  func(c *Controller) error { return c.MoveRel(ctx, 500, -20) },
			want:  []string{"r_idle", "a_idle", "a_go -20", "r_go 500", "r_idle", "a_idle"},
			final: Position{Radial: 1500, Angular: 80},
		},
		{
			name:  "rad move abs",
			start: Position{Radial: 1000, Angular: 100},
			move:  func(c *Controller) error { return c.RadMoveAbs(ctx, 250) },
			want:  []string{"r_idle", "a_idle", "r_go -750", "r_idle", "a_idle"},
			final: Position{Radial: 250, Angular: 100},
		},
		{
			name:  "rad move rel",
			start: Position{Radial: 1000, Angular: 100},
			move:  func(c *Controller) error { return c.RadMoveRel(ctx, 30) },
			want:  []string{"r_idle", "a_idle", "r_go 30", "r_idle", "a_idle"},
			final: Position{Radial: 1030, Angular: 100},
		},
		{
			name:  "ang move abs",
			start: Position{Radial: 1000, Angular: 100},
			move:  func(c *Controller) error { return c.AngMoveAbs(ctx, 0) },
			want:  []string{"r_idle", "a_idle", "a_go -100", "r_idle", "a_idle"},
			final: Position{Radial: 1000, Angular: 0},
		},
		{
			name:  "ang move rel forward",
			start: Position{Radial: 0, Angular: 100},
			move:  func(c *Controller) error { return c.AngMoveRel(ctx, 50) },
			want:  []string{"r_idle", "a_idle", "a_go 50", "r_idle", "a_idle"},
			final: Position{Radial: 0, Angular: 150},
		},
		{
			name:  "ang move rel below zero turns the long way",
			start: Position{Radial: 0, Angular: 10},
			move:  func(c *Controller) error { return c.AngMoveRel(ctx, -20) },
			want:  []string{"r_idle", "a_idle", "a_go 700", "r_idle", "a_idle"},
			final: Position{Radial: 0, Angular: 710},
		},
		{
			name:  "ang move rel past a full turn",
			start: Position{Radial: 0, Angular: 700},
			move:  func(c *Controller) error { return c.AngMoveRel(ctx, 30) },
			want:  []string{"r_idle", "a_idle", "a_go -690", "r_idle", "a_idle"},
			final: Position{Radial: 0, Angular: 10},
		},
		{
			name:  "cart move abs",
			start: Position{},
			move:  func(c *Controller) error { return c.CartMoveAbs(ctx, 0, 1000) },
			want:  []string{"r_idle", "a_idle", "a_go 180", "r_go 1000", "r_idle", "a_idle"},
			final: Position{Radial: 1000, Angular: 180},
		},
		{
			name:  "cart move rel",
			start: Position{Radial: 1000, Angular: 0},
			move:  func(c *Controller) error { return c.CartMoveRel(ctx, 0, 1000) },
			want:  []string{"r_idle", "a_idle", "a_go 90", "r_go 414", "r_idle", "a_idle"},
			final: Position{Radial: 1414, Angular: 90},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := newMockDevice()
			c := newTestController(t, dev, DefaultGeometry(Circle), WithStore(NewMemoryStore(tt.start)))

			require.NoError(t, tt.move(c))
			if diff := cmp.Diff(tt.want, dev.commands()); diff != "" {
				t.Errorf("command sequence mismatch (-want +got):\n%s", diff)
			}
			assert.Equal(t, tt.final, c.Position())
		})
	}
}

func TestCartMoveAbs_OutsidePlate(t *testing.T) {
	dev := newMockDevice()
	c := newTestController(t, dev, DefaultGeometry(Circle))

	err := c.CartMoveAbs(context.Background(), 8000, 0)
	assert.ErrorIs(t, err, ErrOutOfRange)
	var xyErr *XYError
	assert.True(t, errors.As(err, &xyErr))
	assert.Empty(t, dev.commands())
}

func TestPreview(t *testing.T) {
	dev := newMockDevice()
	c := newTestController(t, dev, DefaultGeometry(Square), WithStore(NewMemoryStore(Position{Radial: 9000, Angular: 90})))

	plan, err := c.Preview(9000, 270)
	require.NoError(t, err)
	assert.True(t, plan.Retreat)
	assert.Empty(t, dev.commands(), "preview issues nothing")
}

func TestRaw(t *testing.T) {
	dev := newMockDevice()
	c := newTestController(t, dev, DefaultGeometry(Square))

	line, ok, err := c.Raw(context.Background(), "status", "status", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "status", line)
	assert.Equal(t, []string{"status"}, dev.commands())
}

func TestNewController_RestoresPosition(t *testing.T) {
	op := &mockOperator{}
	c := newTestController(t, newMockDevice(), DefaultGeometry(Square),
		WithStore(NewMemoryStore(Position{Radial: 300, Angular: 725})), WithOperator(op))

	assert.True(t, c.PositionKnown())
	assert.Equal(t, Position{Radial: 300, Angular: 5}, c.Position(), "angle is normalized")
	assert.Empty(t, op.notices)
}

func TestNewController_MissingRecord(t *testing.T) {
	op := &mockOperator{}
	c := newTestController(t, newMockDevice(), DefaultGeometry(Square), WithOperator(op))

	assert.False(t, c.PositionKnown())
	assert.Equal(t, Position{}, c.Position())
	require.Len(t, op.notices, 1)
	assert.Contains(t, op.notices[0], "Position unknown")
}

func TestNewController_RecordOutOfBounds(t *testing.T) {
	op := &mockOperator{}
	c := newTestController(t, newMockDevice(), DefaultGeometry(Square),
		WithStore(NewMemoryStore(Position{Radial: 99999})), WithOperator(op))

	assert.False(t, c.PositionKnown())
	assert.Equal(t, Position{}, c.Position())
	assert.Len(t, op.notices, 1)
}

func TestNewController_InvalidGeometry(t *testing.T) {
	g := DefaultGeometry(Square)
	g.AngMaxSteps = 0
	_, err := NewController(newMockDevice(), g, WithLogger(nil))
	assert.Error(t, err)
}

func TestHomingGate(t *testing.T) {
	dev := newMockDevice()
	c := newTestController(t, dev, DefaultGeometry(Circle), WithHomingGate(true))

	err := c.MoveAbs(context.Background(), 100, 0)
	assert.ErrorIs(t, err, ErrPositionUnknown)
	assert.Empty(t, dev.commands())

	require.NoError(t, c.Home(context.Background()))
	require.NoError(t, c.MoveAbs(context.Background(), 100, 0))
}

func TestHome(t *testing.T) {
	dev := newMockDevice()
	store := NewMemoryStore(Position{Radial: 4000, Angular: 300})
	c := newTestController(t, dev, DefaultGeometry(Square), WithStore(store))

	require.NoError(t, c.Home(context.Background()))

	want := []string{"r_idle", "a_idle", "r_home", "a_home", "r_idle", "a_idle"}
	if diff := cmp.Diff(want, dev.commands()); diff != "" {
		t.Errorf("command sequence mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, Position{}, c.Position())
	assert.True(t, c.PositionKnown())
	saved, _, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, Position{}, saved)
}

func TestHome_SwitchNotReached(t *testing.T) {
	tests := []struct {
		name     string
		failing  []link.Axis
		wantAxis string
	}{
		{"angular", []link.Axis{link.Angular}, "angular limit switch"},
		{"radial", []link.Axis{link.Radial}, "radial limit switch"},
		{"both", []link.Axis{link.Radial, link.Angular}, "radial and angular limit switch"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := newMockDevice()
			for _, axis := range tt.failing {
				dev.homeOK[axis] = false
			}
			op := &mockOperator{}
			store := NewMemoryStore(Position{Radial: 4000, Angular: 300})
			c := newTestController(t, dev, DefaultGeometry(Square),
				WithStore(store), WithOperator(op), WithHomingGate(true))

			err := c.Home(context.Background())
			assert.ErrorIs(t, err, ErrHomingIncomplete)
			assert.False(t, c.PositionKnown())
			assert.Equal(t, Position{}, c.Position())
			assert.Equal(t, 0, store.Saves(), "an unconfirmed origin is not saved")

			require.Len(t, op.warnings, 1)
			assert.Contains(t, op.warnings[0], tt.wantAxis)

			assert.ErrorIs(t, c.MoveAbs(context.Background(), 100, 0), ErrPositionUnknown)
		})
	}
}

func TestMotionIsSerialized(t *testing.T) {
	dev := newMockDevice()
	c := newTestController(t, dev, DefaultGeometry(Circle))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.RadMoveRel(ctx, 10))
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, c.Position().Radial)
}
