// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"math"
	"time"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/floats"

	"github.com/Thermoquad/chladni/pkg/motion"
)

var (
	scanStep   int
	scanFrom   int
	scanTo     int
	scanDwell  time.Duration
	scanDryRun bool
	scanReturn bool
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Sweep the sensor along the platform bounds",
	Long: `Drive the sensor through a sequence of positions, checking each one
against the platform before moving. Points outside the safe region are
skipped and reported.

Exit codes:
  0 - Sweep completed
  1 - A move failed
  2 - Connection error`,
}

var scanPolarCmd = &cobra.Command{
	Use:   "polar",
	Short: "Trace the envelope through one full rotation",
	Long: `Visit every --step angular steps from the home index around one full
rotation, extending the sensor to the envelope radius at each angle.

Examples:
  # Trace the edge every 5 degrees
  chladni scan polar --step 10

  # Show the points without moving
  chladni scan polar --dry-run`,
	RunE: runScanPolar,
}

var scanCartCmd = &cobra.Command{
	Use:   "cart",
	Short: "Walk the plate diagonal",
	Long: `Visit points (i, i) on the plate diagonal from --from to --to in steps of
--step, all in radial motor steps. Near the corners the sensor housing
meets the walls before the plate edge does, so those points are skipped.

Examples:
  # Corner to corner
  chladni scan cart --from -7000 --to 7000 --step 200`,
	RunE: runScanCart,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.AddCommand(scanPolarCmd)
	scanCmd.AddCommand(scanCartCmd)

	scanCmd.PersistentFlags().DurationVar(&scanDwell, "dwell", 0, "Pause at each point")
	scanCmd.PersistentFlags().BoolVar(&scanDryRun, "dry-run", false, "List the points without moving")
	scanCmd.PersistentFlags().BoolVar(&scanReturn, "return", true, "Return to the origin when done")

	scanPolarCmd.Flags().IntVar(&scanStep, "step", 10, "Angular steps between points")
	scanCartCmd.Flags().IntVar(&scanStep, "step", 200, "Radial steps between points")
	scanCartCmd.Flags().IntVar(&scanFrom, "from", -7000, "First diagonal coordinate")
	scanCartCmd.Flags().IntVar(&scanTo, "to", 7000, "Last diagonal coordinate")
}

// span returns evenly spaced values from lo toward hi, step apart, ending at
// the last value not past hi.
func span(lo, hi, step int) []float64 {
	if step <= 0 || hi < lo {
		return nil
	}
	n := (hi-lo)/step + 1
	if n == 1 {
		return []float64{float64(lo)}
	}
	return floats.Span(make([]float64, n), float64(lo), float64(lo+(n-1)*step))
}

// scanPoint is one stop of a sweep.
type scanPoint struct {
	Target motion.Position
	Label  string
	Safe   bool
}

// polarSweep extends to the envelope at every step angles of one rotation.
func polarSweep(g motion.Geometry, step int) []scanPoint {
	var points []scanPoint
	for _, v := range span(0, g.AngMaxSteps-1, step) {
		a := int(v)
		r := int(math.Floor(g.Envelope(a)))
		if r > g.RadMaxSteps {
			r = g.RadMaxSteps
		}
		points = append(points, scanPoint{
			Target: motion.Position{Radial: r, Angular: a},
			Label:  fmt.Sprintf("a=%d (%.1f deg)", a, float64(a)/g.StepsPerDegree()),
			Safe:   g.SafePolar(r, a),
		})
	}
	return points
}

// diagonalSweep visits (i, i) for i from lo to hi.
func diagonalSweep(g motion.Geometry, lo, hi, step int) []scanPoint {
	var points []scanPoint
	for _, v := range span(lo, hi, step) {
		i := int(v)
		r, a := g.PolarSteps(i, i)
		points = append(points, scanPoint{
			Target: motion.Position{Radial: r, Angular: a},
			Label:  fmt.Sprintf("x=y=%d", i),
			Safe:   g.SafeXY(i, i) && g.SafePolar(r, a),
		})
	}
	return points
}

func runScanPolar(cmd *cobra.Command, args []string) error {
	geom, err := loadGeometry()
	if err != nil {
		return err
	}
	if scanStep <= 0 {
		return fmt.Errorf("--step must be positive")
	}
	return runScan("Polar Bounds", polarSweep(geom, scanStep))
}

func runScanCart(cmd *cobra.Command, args []string) error {
	geom, err := loadGeometry()
	if err != nil {
		return err
	}
	if scanStep <= 0 || scanTo < scanFrom {
		return fmt.Errorf("need --step > 0 and --from <= --to")
	}
	return runScan("Cartesian Bounds", diagonalSweep(geom, scanFrom, scanTo, scanStep))
}

func runScan(title string, points []scanPoint) error {
	if scanDryRun {
		fmt.Printf("Chladni - Scan %s (dry run)\n", title)
		for i, pt := range points {
			printScanPoint(i, len(points), pt)
		}
		return nil
	}

	ctx, cancel := signalContext()
	defer cancel()

	p := openPlatform(ctx)
	defer p.Close()

	fmt.Printf("Chladni - Scan %s\n", title)
	fmt.Printf("Connection: %s\n", p.connInfo)
	printPosition(p.ctrl)
	fmt.Println()

	visited, skipped := 0, 0
	for i, pt := range points {
		printScanPoint(i, len(points), pt)
		if !pt.Safe {
			skipped++
			continue
		}
		if err := p.ctrl.MoveAbs(ctx, pt.Target.Radial, pt.Target.Angular); err != nil {
			printPosition(p.ctrl)
			moveFailed(err)
		}
		visited++
		if scanDwell > 0 {
			select {
			case <-ctx.Done():
				moveFailed(ctx.Err())
			case <-time.After(scanDwell):
			}
		}
	}

	if scanReturn {
		if err := p.ctrl.MoveAbs(ctx, 0, 0); err != nil {
			moveFailed(err)
		}
	}

	fmt.Printf("\n--- Scan statistics ---\n")
	fmt.Printf("%d points, %d visited, %d skipped\n", len(points), visited, skipped)
	printPosition(p.ctrl)
	return nil
}

func printScanPoint(i, n int, pt scanPoint) {
	line := fmt.Sprintf("%3d/%d  %-20s -> %v", i+1, n, pt.Label, pt.Target)
	if !pt.Safe {
		fmt.Println(warnStyle.Render(line + "  SKIPPED (unsafe)"))
		return
	}
	fmt.Println(line)
}
