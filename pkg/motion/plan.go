// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package motion

import (
	"fmt"
	"math"
	"strings"

	"github.com/Thermoquad/chladni/pkg/link"
)

// Position is a sensor location in motor steps.
type Position struct {
	Radial  int
	Angular int
}

func (p Position) String() string {
	return fmt.Sprintf("(%d, %d)", p.Radial, p.Angular)
}

// StepKind distinguishes issuing a move from waiting on one.
type StepKind int

const (
	// Go issues a relative move on Axis.
	Go StepKind = iota
	// Wait polls until every axis in Axes reports idle.
	Wait
)

// Step is one primitive action of a Plan.
type Step struct {
	Kind  StepKind
	Axis  link.Axis
	Steps int
	Axes  []link.Axis
}

func goStep(axis link.Axis, steps int) Step {
	return Step{Kind: Go, Axis: axis, Steps: steps}
}

func waitStep(axes ...link.Axis) Step {
	return Step{Kind: Wait, Axes: axes}
}

// String renders the step in wire terms, e.g. "r_go -1700" or
// "wait r_idle a_idle".
func (s Step) String() string {
	if s.Kind == Go {
		return fmt.Sprintf("%c_go %d", byte(s.Axis), s.Steps)
	}
	parts := []string{"wait"}
	for _, a := range s.Axes {
		parts = append(parts, fmt.Sprintf("%c_idle", byte(a)))
	}
	return strings.Join(parts, " ")
}

// Plan is the ordered primitive sequence for one move.
type Plan struct {
	From   Position
	Target Position

	// Retreat is set when the sensor must first pull in to RetreatTo so the
	// rotation clears the walls.
	Retreat   bool
	RetreatTo int

	// AngleFirst is set when the radial target lies beyond the constant safe
	// radius, so rotation must finish before the final radial move.
	AngleFirst bool

	Steps []Step
}

// Empty reports whether the plan issues no commands.
func (p Plan) Empty() bool {
	return len(p.Steps) == 0
}

func (p Plan) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%v -> %v", p.From, p.Target)
	if p.Retreat {
		fmt.Fprintf(&b, " retreat to %d", p.RetreatTo)
	}
	if p.AngleFirst {
		b.WriteString(" angle first")
	}
	for _, s := range p.Steps {
		fmt.Fprintf(&b, "\n  %s", s)
	}
	return b.String()
}

// Plan validates the target (r, a) against the platform limits and orders
// the primitive commands that move the sensor there from from. The angular
// target is normalized onto one rotation and the delta is taken directly, so
// rotation never crosses the home index. Validation only reads; a rejected
// target yields a *RangeError and no steps.
func (g Geometry) Plan(from Position, r, a int) (Plan, error) {
	if r < g.RadMinSteps || r > g.RadMaxSteps {
		return Plan{}, &RangeError{
			Err:      ErrOutOfRange,
			Radial:   r,
			Angular:  a,
			Limit:    float64(g.RadMaxSteps),
			LimitMin: float64(g.RadMinSteps),
		}
	}

	dest := g.NormalizeAngle(a)
	if limit := g.Envelope(dest); float64(r) > limit {
		err := ErrOutOfRange
		if g.Shape == Square {
			err = ErrUnsafeForAngle
		}
		return Plan{}, &RangeError{
			Err:      err,
			Radial:   r,
			Angular:  dest,
			Limit:    limit,
			LimitMin: float64(g.RadMinSteps),
		}
	}

	p := Plan{From: from, Target: Position{Radial: r, Angular: dest}}
	radial := from.Radial
	angDelta := dest - from.Angular

	if angDelta != 0 {
		swept := g.SweptEnvelope(from.Angular, dest)
		if float64(radial) > swept {
			p.Retreat = true
			p.RetreatTo = min(r, int(math.Floor(swept)))
			p.Steps = append(p.Steps,
				goStep(link.Radial, p.RetreatTo-radial),
				waitStep(link.Radial, link.Angular))
			radial = p.RetreatTo
		}
	}

	p.AngleFirst = r > g.RadMaxSafe
	radDelta := r - radial

	if angDelta != 0 {
		p.Steps = append(p.Steps, goStep(link.Angular, angDelta))
		if p.AngleFirst && radDelta != 0 {
			p.Steps = append(p.Steps, waitStep(link.Angular))
		}
	}
	if radDelta != 0 {
		p.Steps = append(p.Steps, goStep(link.Radial, radDelta))
	}
	if angDelta != 0 || radDelta != 0 {
		p.Steps = append(p.Steps, waitStep(link.Radial, link.Angular))
	}
	return p, nil
}
