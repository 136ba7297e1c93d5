// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/chladni/pkg/link"
)

var speedAxis string

var speedCmd = &cobra.Command{
	Use:   "speed SECONDS",
	Short: "Set the step period of an axis",
	Long: `Set the time between steps of one axis. The firmware counts in samples of
its 48 kHz clock, so the period actually applied is rounded; it is printed
after the change.

Examples:
  # One radial step every millisecond
  chladni speed 0.001

  # Slow the turntable
  chladni speed --axis a 0.005

Exit codes:
  0 - Rate applied
  1 - Rate rejected
  2 - Connection error`,
	Args: cobra.ExactArgs(1),
	RunE: runSpeed,
}

func init() {
	rootCmd.AddCommand(speedCmd)
	speedCmd.Flags().StringVar(&speedAxis, "axis", "r", "Axis to change (r or a)")
}

func parseAxis(s string) (link.Axis, error) {
	switch s {
	case "r", "radial":
		return link.Radial, nil
	case "a", "angular":
		return link.Angular, nil
	}
	return 0, fmt.Errorf("unknown axis %q (use r or a)", s)
}

func runSpeed(cmd *cobra.Command, args []string) error {
	axis, err := parseAxis(speedAxis)
	if err != nil {
		return err
	}
	dt, err := strconv.ParseFloat(args[0], 64)
	if err != nil || dt <= 0 {
		return fmt.Errorf("invalid step period %q", args[0])
	}

	ctx, cancel := signalContext()
	defer cancel()

	client, connInfo, err := OpenLink(ctx, nil)
	if err != nil {
		connectionFailed(err)
	}
	defer client.Close()

	fmt.Printf("Chladni - Speed\n")
	fmt.Printf("Connection: %s\n", connInfo)

	applied, err := client.SetRate(ctx, axis, dt)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FAILED: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%s %s step period %s (%.0f steps/sec)\n",
		labelStyle.Render("Applied:"), axis,
		valueStyle.Render(fmt.Sprintf("%.6fs", applied)), 1/applied)
	return nil
}
