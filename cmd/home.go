// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/chladni/pkg/motion"
)

var homeCmd = &cobra.Command{
	Use:   "home",
	Short: "Drive both axes to their limit switches",
	Long: `Home the scanner: the radial axis is pulled in to its switch first, then
the angular axis turns to its index. On success the tracked position becomes
the origin and is saved.

If either switch is not reached a warning is shown and must be acknowledged.
The position is then left unknown and moves are refused until homing
succeeds. Homing is never retried automatically.

Exit codes:
  0 - Both switches reached
  1 - Homing incomplete or failed
  2 - Connection error`,
	RunE: runHome,
}

func init() {
	rootCmd.AddCommand(homeCmd)
}

func runHome(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	p := openPlatform(ctx)
	defer p.Close()

	fmt.Printf("Chladni - Home\n")
	fmt.Printf("Connection: %s\n", p.connInfo)
	printPosition(p.ctrl)

	fmt.Println(mutedStyle.Render("Homing radial then angular axis..."))
	if err := p.ctrl.Home(ctx); err != nil {
		printPosition(p.ctrl)
		moveFailed(err)
	}

	fmt.Println(valueStyle.Render("Homed"))
	printPosition(p.ctrl)
	if fs, ok := p.store.(*motion.FileStore); ok {
		fmt.Printf("%s %s\n", labelStyle.Render("Record:"), fs.Path())
	}
	return nil
}
