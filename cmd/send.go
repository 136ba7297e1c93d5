// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/chladni/pkg/link"
)

var (
	sendPrefix  string
	sendTimeout time.Duration
	sendCount   int
)

var sendCmd = &cobra.Command{
	Use:   "send COMMAND [ARGS...]",
	Short: "Send a raw protocol command and wait for its reply",
	Long: `Write one protocol line and wait for the first reply starting with the
expected prefix. Unrelated lines are discarded; a device error line aborts the
wait.

The prefix defaults to the command verb, which is how the firmware echoes
every reply. Raw commands bypass the motion controller entirely: a raw r_go
or a_go is not checked against the envelope and is not tracked.

Examples:
  # Measure round trip time
  chladni send status --count 5

  # Query an axis
  chladni send r_idle

  # Wait for a specific prefix
  chladni send --prefix reset reset

Exit codes:
  0 - Every command was answered
  1 - One or more commands failed or timed out
  2 - Connection error`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVar(&sendPrefix, "prefix", "", "Reply prefix to wait for (default: command verb)")
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 5*time.Second, "Timeout for each reply (0 waits forever)")
	sendCmd.Flags().IntVar(&sendCount, "count", 1, "Number of times to send the command")
}

func runSend(cmd *cobra.Command, args []string) error {
	command := strings.Join(args, " ")
	prefix := sendPrefix
	if prefix == "" {
		prefix = args[0]
	}
	if sendCount < 1 {
		return fmt.Errorf("--count must be at least 1")
	}

	ctx, cancel := signalContext()
	defer cancel()

	client, connInfo, err := OpenLink(ctx, nil)
	if err != nil {
		connectionFailed(err)
	}
	defer client.Close()

	fmt.Printf("Chladni - Send\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Command: %q  Prefix: %q  Timeout: %v\n\n", command, prefix, sendTimeout)

	successCount := 0
	failCount := 0
	var total time.Duration

	for i := 1; i <= sendCount; i++ {
		if sendCount > 1 {
			fmt.Printf("%d/%d: ", i, sendCount)
		}

		start := time.Now()
		line, ok, err := client.SendAndWait(ctx, command, prefix, sendTimeout)
		rtt := time.Since(start)

		var devErr *link.DeviceError
		switch {
		case errors.As(err, &devErr):
			fmt.Printf("DEVICE ERROR: %s\n", devErr.Line)
			failCount++
		case errors.Is(err, link.ErrConnectionClosed), errors.Is(err, link.ErrWriteFailed):
			connectionFailed(err)
		case err != nil:
			fmt.Printf("FAILED: %v\n", err)
			os.Exit(1)
		case !ok:
			if client.ReadErr() != nil {
				connectionFailed(client.ReadErr())
			}
			fmt.Printf("TIMEOUT (no %q reply in %v)\n", prefix, sendTimeout)
			failCount++
		default:
			fmt.Printf("%s  rtt=%v\n", valueStyle.Render(line), rtt.Round(time.Millisecond))
			total += rtt
			successCount++
		}

		if i < sendCount {
			time.Sleep(100 * time.Millisecond)
		}
	}

	if sendCount > 1 {
		fmt.Printf("\n--- %s statistics ---\n", args[0])
		fmt.Printf("%d sent, %d answered, %.0f%% lost",
			sendCount, successCount, float64(failCount)/float64(sendCount)*100)
		if successCount > 0 {
			fmt.Printf(", avg rtt=%v", (total / time.Duration(successCount)).Round(time.Millisecond))
		}
		fmt.Println()
	}

	if failCount > 0 {
		os.Exit(1)
	}
	return nil
}
