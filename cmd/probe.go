// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/chladni/pkg/link"
)

var probeFirmwareDebug bool

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Find the scanner and report its status",
	Long: `Open the scanner link, complete the reset handshake and query status.

Without --port or --url every candidate serial port is tried in turn until
one completes the handshake: enumerated ports first, then the usual names for
the scanner's USB serial adapter.

Examples:
  # Search the usual serial ports
  chladni probe

  # Check a WebSocket bridge
  chladni probe --url ws://bridge.local/scanner --username admin

  # Toggle firmware debug output after connecting
  chladni probe --firmware-debug

Exit codes:
  0 - Scanner found and answered status
  1 - Scanner found but status failed
  2 - Connection error`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().BoolVar(&probeFirmwareDebug, "firmware-debug", false, "Toggle firmware debug output")
}

func runProbe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	client, connInfo, err := OpenLink(ctx, nil)
	if err != nil {
		if errors.Is(err, link.ErrDeviceNotFound) {
			fmt.Fprintf(os.Stderr, "No scanner answered on: %v\n", candidatePorts())
		}
		connectionFailed(err)
	}
	defer client.Close()

	fmt.Printf("Chladni - Probe\n")
	fmt.Printf("Connection: %s\n\n", connInfo)

	status, err := client.Status(ctx)
	if err != nil {
		fmt.Printf("STATUS FAILED: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%s %s\n", labelStyle.Render("Status:"), valueStyle.Render(status))

	if probeFirmwareDebug {
		if err := client.Debug(ctx); err != nil {
			fmt.Printf("DEBUG FAILED: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s toggled\n", labelStyle.Render("Firmware debug:"))
	}

	fmt.Printf("\n%s", client.Statistics())
	return nil
}
