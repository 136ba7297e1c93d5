// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Simulator is an in-process stand-in for the scanner firmware. It speaks the
// same line protocol over Read/Write so a Client can drive it exactly as it
// would a serial port. Each step takes the axis step period; a zero period
// makes every move finish immediately.
type Simulator struct {
	mu     sync.Mutex
	cond   *sync.Cond
	out    bytes.Buffer
	in     []byte
	closed bool

	axes map[Axis]*simAxis

	// homeFails makes the next homing of an axis report a missed switch.
	homeFails map[Axis]bool
	// failNext injects an error reply for the next command with this verb.
	failNext map[string]string

	received []string
	now      func() time.Time
}

type simAxis struct {
	position  int
	period    time.Duration
	busyUntil time.Time
}

// NewSimulator creates a simulator whose axes step every stepPeriod.
func NewSimulator(stepPeriod time.Duration) *Simulator {
	s := &Simulator{
		axes: map[Axis]*simAxis{
			Radial:  {period: stepPeriod},
			Angular: {period: stepPeriod},
		},
		homeFails: make(map[Axis]bool),
		failNext:  make(map[string]string),
		now:       time.Now,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Read blocks until a reply is available or the simulator is closed.
func (s *Simulator) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.out.Len() == 0 && !s.closed {
		s.cond.Wait()
	}
	if s.out.Len() == 0 {
		return 0, io.EOF
	}
	return s.out.Read(p)
}

// Write accepts command bytes and answers every complete line.
func (s *Simulator) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, io.ErrClosedPipe
	}

	s.in = append(s.in, p...)
	for {
		i := bytes.IndexByte(s.in, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimSpace(string(s.in[:i]))
		s.in = s.in[i+1:]
		if line == "" {
			continue
		}
		s.received = append(s.received, line)
		s.reply(s.handle(line))
	}
	return len(p), nil
}

// Close ends the stream; pending Reads return io.EOF once drained.
func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.cond.Broadcast()
	return nil
}

// Inject queues an unsolicited line, as firmware debug output would.
func (s *Simulator) Inject(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reply(line)
}

// FailNext makes the next command with verb answer with an error line.
func (s *Simulator) FailNext(verb, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext[verb] = message
}

// FailHoming makes the next homing of axis report that its switch was not
// reached.
func (s *Simulator) FailHoming(axis Axis) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.homeFails[axis] = true
}

// Position returns the simulated step count of axis.
func (s *Simulator) Position(axis Axis) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.axes[axis].position
}

// Received returns every command line written so far.
func (s *Simulator) Received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.received...)
}

func (s *Simulator) reply(line string) {
	s.out.WriteString(line)
	s.out.WriteByte('\n')
	s.cond.Broadcast()
}

func (s *Simulator) handle(line string) string {
	fields := strings.Fields(line)
	verb := fields[0]

	if msg, ok := s.failNext[verb]; ok {
		delete(s.failNext, verb)
		return ErrorMarker + " " + msg
	}

	switch verb {
	case "reset":
		now := s.now()
		for _, ax := range s.axes {
			ax.busyUntil = now
		}
		return "reset"
	case "status":
		return fmt.Sprintf("status ok r=%d a=%d", s.axes[Radial].position, s.axes[Angular].position)
	case "debug":
		return "debug"
	}

	axis, op, ok := strings.Cut(verb, "_")
	if !ok || len(axis) != 1 {
		return ErrorMarker + " unknown command " + verb
	}
	ax, ok := s.axes[Axis(axis[0])]
	if !ok {
		return ErrorMarker + " unknown axis " + axis
	}

	switch op {
	case "go":
		if len(fields) < 2 {
			return ErrorMarker + " missing steps"
		}
		steps, err := strconv.Atoi(fields[1])
		if err != nil {
			return ErrorMarker + " bad steps " + fields[1]
		}
		now := s.now()
		start := ax.busyUntil
		if start.Before(now) {
			start = now
		}
		ax.busyUntil = start.Add(time.Duration(abs(steps)) * ax.period)
		ax.position += steps
		return fmt.Sprintf("%s %d", verb, steps)
	case "idle":
		return fmt.Sprintf("%s %t", verb, !s.now().Before(ax.busyUntil))
	case "home":
		a := Axis(axis[0])
		if s.homeFails[a] {
			delete(s.homeFails, a)
			return verb + " false"
		}
		ax.position = 0
		ax.busyUntil = s.now()
		return verb + " true"
	case "set":
		if len(fields) < 2 {
			return ErrorMarker + " missing period"
		}
		dt, err := strconv.ParseFloat(fields[1], 64)
		if err != nil || dt < 0 {
			return ErrorMarker + " bad period " + fields[1]
		}
		ax.period = time.Duration(dt * float64(time.Second))
		return fmt.Sprintf("%s %d", verb, int(dt*SampleRate))
	default:
		return ErrorMarker + " unknown command " + verb
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
