// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/chladni/pkg/motion"
)

var whereCmd = &cobra.Command{
	Use:   "where",
	Short: "Show the saved scanner position without connecting",
	Long: `Read the position record and report where the sensor was left, in motor
steps and plate coordinates, along with the local envelope at that angle.

Exit codes:
  0 - A valid record was found
  1 - No record, or the record is unreadable`,
	RunE: runWhere,
}

func init() {
	rootCmd.AddCommand(whereCmd)
}

func runWhere(cmd *cobra.Command, args []string) error {
	geom, err := loadGeometry()
	if err != nil {
		return err
	}

	store := positionStore()
	if fs, ok := store.(*motion.FileStore); ok {
		fmt.Printf("%s %s\n", labelStyle.Render("Record:"), fs.Path())
	}

	pos, written, err := store.Load()
	if err != nil {
		if errors.Is(err, motion.ErrNoRecord) {
			fmt.Println(warnStyle.Render("No position record. Run 'chladni home' first."))
		} else {
			fmt.Println(warnStyle.Render(fmt.Sprintf("Unusable record: %v", err)))
		}
		os.Exit(1)
	}

	x, y := geom.XYSteps(pos)
	fmt.Printf("%s r=%d a=%d  %s x=%d y=%d\n",
		labelStyle.Render("Position:"), pos.Radial, pos.Angular,
		labelStyle.Render("XY:"), x, y)
	fmt.Printf("%s %.0f steps at %.1f degrees\n",
		labelStyle.Render("Envelope:"), geom.Envelope(pos.Angular),
		float64(geom.NormalizeAngle(pos.Angular))/geom.StepsPerDegree())
	if !written.IsZero() {
		fmt.Printf("%s %s (%s ago)\n", labelStyle.Render("Written:"),
			written.Format(time.RFC3339), time.Since(written).Round(time.Second))
	}
	if pos.Radial > geom.RadMaxSafe {
		fmt.Println(warnStyle.Render("Sensor is beyond the edge radius; rotation will retreat first."))
	}
	return nil
}
