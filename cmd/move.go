// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/chladni/pkg/link"
	"github.com/Thermoquad/chladni/pkg/motion"
)

var (
	moveRelative bool
	moveDegrees  bool
	moveDryRun   bool
)

var moveCmd = &cobra.Command{
	Use:   "move RADIAL ANGULAR",
	Short: "Move the sensor to a polar position",
	Long: `Move the sensor to an absolute polar position given in motor steps.

The move is validated against the platform envelope before anything is sent.
If the sensor is too far out to rotate safely it is pulled in first, and a
target beyond the edge radius is reached by rotating before extending.

Angular targets wrap onto one rotation and are approached directly, never
across the home index: from 10 steps, a target of -10 turns forward to 710.

Roughly 1 radial step is 0.01 mm and 1 angular step is 0.5 degrees.

Examples:
  # Move to radius 5000, angle 90 steps (45 degrees)
  chladni move 5000 90

  # Step outward 100 and rotate back 10 steps
  chladni move --rel 100 -10

  # Give the angle in degrees
  chladni move --degrees 5000 45

  # Show the command sequence without moving
  chladni move --dry-run 9000 270

Exit codes:
  0 - Move completed
  1 - Move rejected or failed
  2 - Connection error`,
	Args: cobra.ExactArgs(2),
	RunE: runMove,
}

func init() {
	rootCmd.AddCommand(moveCmd)
	moveCmd.Flags().BoolVar(&moveRelative, "rel", false, "Treat arguments as offsets from the current position")
	moveCmd.Flags().BoolVar(&moveDegrees, "degrees", false, "Angular argument is in degrees instead of steps")
	moveCmd.Flags().BoolVar(&moveDryRun, "dry-run", false, "Print the planned command sequence without moving")
}

// parseSteps accepts integers and decimals; decimals round to whole steps.
func parseSteps(s string) (int, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid step count %q", s)
	}
	return int(math.Round(v)), nil
}

func runMove(cmd *cobra.Command, args []string) error {
	r, err := parseSteps(args[0])
	if err != nil {
		return err
	}
	a, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("invalid angle %q", args[1])
	}

	ctx, cancel := signalContext()
	defer cancel()

	p := openPlatform(ctx)
	defer p.Close()

	if moveDegrees {
		a *= p.ctrl.Geometry().StepsPerDegree()
	}
	angular := int(math.Round(a))

	fmt.Printf("Chladni - Move\n")
	fmt.Printf("Connection: %s\n", p.connInfo)
	printPosition(p.ctrl)

	if moveRelative {
		pos := p.ctrl.Position()
		r += pos.Radial
		angular += pos.Angular
	}

	plan, err := p.ctrl.Preview(r, angular)
	if err != nil {
		moveFailed(err)
	}
	printPlan(plan)

	if moveDryRun {
		return nil
	}

	if err := p.ctrl.MoveAbs(ctx, r, angular); err != nil {
		printPosition(p.ctrl)
		moveFailed(err)
	}

	printPosition(p.ctrl)
	return nil
}

func printPlan(plan motion.Plan) {
	if plan.Empty() {
		fmt.Println(mutedStyle.Render("Already there, nothing to do"))
		return
	}
	fmt.Printf("%s %v -> %v\n", labelStyle.Render("Plan:"), plan.From, plan.Target)
	if plan.Retreat {
		fmt.Println(warnStyle.Render(fmt.Sprintf("  retreating radius to %d before rotating", plan.RetreatTo)))
	}
	if plan.AngleFirst {
		fmt.Println(warnStyle.Render("  rotating before extending past the edge radius"))
	}
	for _, s := range plan.Steps {
		fmt.Printf("  %s\n", s)
	}
}

// moveFailed explains why the scanner did not move and exits with code 1.
func moveFailed(err error) {
	var devErr *link.DeviceError
	switch {
	case errors.Is(err, motion.ErrPositionUnknown):
		fmt.Fprintf(os.Stderr, "REFUSED: %v\nRun 'chladni home' first.\n", err)
	case errors.Is(err, motion.ErrUnsafeForAngle), errors.Is(err, motion.ErrOutOfRange):
		fmt.Fprintf(os.Stderr, "REJECTED: %v\n", err)
	case errors.Is(err, motion.ErrHomingIncomplete):
		fmt.Fprintf(os.Stderr, "HOMING INCOMPLETE: %v\n", err)
	case errors.As(err, &devErr):
		fmt.Fprintf(os.Stderr, "DEVICE ERROR: %s (during %q)\n", devErr.Line, devErr.Command)
	case errors.Is(err, link.ErrNoReply):
		fmt.Fprintf(os.Stderr, "TIMEOUT: %v\n", err)
	case errors.Is(err, link.ErrConnectionClosed), errors.Is(err, link.ErrWriteFailed):
		connectionFailed(err)
	default:
		fmt.Fprintf(os.Stderr, "FAILED: %v\n", err)
	}
	os.Exit(1)
}
