// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/chladni/pkg/link"
)

var rawLogStats bool

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display every protocol line as it arrives",
	Long: `Continuously display the lines sent by the scanner, with timestamps.

The log is a passive observer: it never consumes replies, so it can run
alongside commands on a shared bridge. Device error lines are highlighted.

Supports serial, WebSocket and simulated connections.

Exit codes:
  0 - Stopped by the user or the connection closed
  2 - Connection error`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().BoolVar(&rawLogStats, "stats", true, "Print link statistics on exit")
}

func runRawLog(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	client, connInfo, err := OpenLink(ctx, nil)
	if err != nil {
		connectionFailed(err)
	}
	defer client.Close()

	fmt.Printf("Chladni - Raw Line Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	id, lines := client.Subscribe()
	defer client.Unsubscribe(id)

	// The subscription stays open when the transport drops, so watch the
	// receive task separately.
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if rawLogStats {
				fmt.Printf("\n%s", client.Statistics())
			}
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			fmt.Println(formatRawLine(time.Now(), line))
		case <-ticker.C:
			if err := client.ReadErr(); err != nil {
				log.Printf("Connection closed: %v", err)
				return nil
			}
		}
	}
}

func formatRawLine(t time.Time, line string) string {
	stamp := mutedStyle.Render(t.Format("15:04:05.000"))
	if strings.HasPrefix(line, link.ErrorMarker) {
		return fmt.Sprintf("[%s] %s", stamp, warnStyle.Render(line))
	}
	return fmt.Sprintf("[%s] %s", stamp, line)
}
