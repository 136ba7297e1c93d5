// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/chladni/pkg/link"
)

var (
	linkTestDuration time.Duration
	linkTestInterval time.Duration
)

var linkTestCmd = &cobra.Command{
	Use:   "link_test",
	Short: "Test link stability by polling status",
	Long: `Keep the scanner link open and query status at a fixed interval, counting
replies, timeouts and device errors. Useful for debugging flaky cables and
bridges. Nothing is moved.

Exit codes:
  0 - Every status query was answered
  1 - One or more queries failed
  2 - Connection error`,
	RunE: runLinkTest,
}

func init() {
	rootCmd.AddCommand(linkTestCmd)
	linkTestCmd.Flags().DurationVar(&linkTestDuration, "duration", 30*time.Second, "Test duration")
	linkTestCmd.Flags().DurationVar(&linkTestInterval, "interval", time.Second, "Time between status queries")
}

func runLinkTest(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	client, connInfo, err := OpenLink(ctx, nil)
	if err != nil {
		connectionFailed(err)
	}
	defer client.Close()

	fmt.Printf("Chladni - Link Stability Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Duration: %v  Interval: %v\n\n", linkTestDuration, linkTestInterval)

	ticker := time.NewTicker(linkTestInterval)
	defer ticker.Stop()

	start := time.Now()
	endTime := start.Add(linkTestDuration)
	answered, failed := 0, 0

	result := func(verdict string) {
		fmt.Printf("\n--- Test Results ---\n")
		fmt.Printf("Duration: %v\n", time.Since(start).Round(time.Millisecond))
		fmt.Printf("Queries answered: %d\n", answered)
		fmt.Printf("Queries failed: %d\n", failed)
		fmt.Printf("\n%s", client.Statistics())
		fmt.Printf("Result: %s\n", verdict)
	}

	for time.Now().Before(endTime) {
		select {
		case <-ctx.Done():
			result("INTERRUPTED")
			os.Exit(1)
		case <-ticker.C:
		}

		stamp := time.Now().Format("15:04:05.000")
		qStart := time.Now()
		status, err := client.Status(ctx)

		var devErr *link.DeviceError
		switch {
		case err == nil:
			answered++
			fmt.Printf("[%s] status %s (rtt=%v)\n", stamp, status, time.Since(qStart).Round(time.Millisecond))
		case errors.As(err, &devErr), errors.Is(err, link.ErrNoReply):
			failed++
			fmt.Printf("[%s] %s\n", stamp, warnStyle.Render(err.Error()))
		default:
			failed++
			fmt.Printf("\n[%s] Connection error: %v\n", stamp, err)
			result("FAILED (connection error)")
			os.Exit(1)
		}

		if rerr := client.ReadErr(); rerr != nil {
			fmt.Printf("\n[%s] Connection error: %v\n", stamp, rerr)
			result("FAILED (connection error)")
			os.Exit(1)
		}
	}

	if failed > 0 {
		result("FAILED (missed replies)")
		os.Exit(1)
	}
	result("PASSED (link stable)")
	return nil
}
