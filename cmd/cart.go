// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/chladni/pkg/motion"
)

var (
	cartRelative bool
	cartDryRun   bool
)

var cartCmd = &cobra.Command{
	Use:   "cart X Y",
	Short: "Move the sensor to a cartesian position on the plate",
	Long: `Move the sensor to a point given in plate coordinates, in radial motor
steps from the center. The point must lie inside the plate; it is converted to
the nearest polar step position and then moved like 'chladni move'.

Examples:
  # Move to a point on the diagonal
  chladni cart 3000 3000

  # Step 500 along x
  chladni cart --rel 500 0

Exit codes:
  0 - Move completed
  1 - Move rejected or failed
  2 - Connection error`,
	Args: cobra.ExactArgs(2),
	RunE: runCart,
}

func init() {
	rootCmd.AddCommand(cartCmd)
	cartCmd.Flags().BoolVar(&cartRelative, "rel", false, "Treat arguments as offsets from the current position")
	cartCmd.Flags().BoolVar(&cartDryRun, "dry-run", false, "Print the planned command sequence without moving")
}

func runCart(cmd *cobra.Command, args []string) error {
	x, err := parseSteps(args[0])
	if err != nil {
		return err
	}
	y, err := parseSteps(args[1])
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	p := openPlatform(ctx)
	defer p.Close()

	fmt.Printf("Chladni - Cartesian Move\n")
	fmt.Printf("Connection: %s\n", p.connInfo)
	printPosition(p.ctrl)

	geom := p.ctrl.Geometry()
	tx, ty := x, y
	if cartRelative {
		cx, cy := geom.XYSteps(p.ctrl.Position())
		tx += cx
		ty += cy
	}

	if !geom.SafeXY(tx, ty) {
		moveFailed(&motion.XYError{X: tx, Y: ty, Limit: geom.RadMaxSafe})
	}

	r, a := geom.PolarSteps(tx, ty)
	plan, err := p.ctrl.Preview(r, a)
	if err != nil {
		moveFailed(err)
	}
	printPlan(plan)

	if cartDryRun {
		return nil
	}

	if cartRelative {
		err = p.ctrl.CartMoveRel(ctx, x, y)
	} else {
		err = p.ctrl.CartMoveAbs(ctx, x, y)
	}
	if err != nil {
		printPosition(p.ctrl)
		moveFailed(err)
	}

	printPosition(p.ctrl)
	return nil
}
