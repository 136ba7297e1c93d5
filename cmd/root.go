// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/chladni/pkg/link"
	"github.com/Thermoquad/chladni/pkg/motion"
)

var (
	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Simulation
	simulate       bool
	simStepPeriod  time.Duration
	simFailHomeArg string

	// Platform flags
	shapeName    string
	geometryPath string
	statePath    string

	// Protocol timing
	replyTimeout     time.Duration
	homeTimeout      time.Duration
	handshakeTimeout time.Duration
	pollInterval     time.Duration

	debug       bool
	metricsAddr string
)

var rootCmd = &cobra.Command{
	Use:   "chladni",
	Short: "Vibrating plate scanner controller",
	Long: `Chladni - A CLI tool for driving the two-axis sensor scanner of the
vibrating plate lab.

Every move is checked against the platform envelope and ordered so the sensor
never meets a wall: the radius is pulled in before rotating past an edge, and
rotation finishes before extending toward a corner. The position is tracked
across runs in a small state file.

Connection modes:
  Serial:    --port /dev/ttyACM0 [--baud 115200]  (probes common ports if omitted)
  WebSocket: --url ws://host/path [--username user]
  Simulated: --simulate

For WebSocket authentication, the password is read from the CHLADNI_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:       "1.0.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device (probe candidates if empty)")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	// Simulation
	rootCmd.PersistentFlags().BoolVar(&simulate, "simulate", false, "Drive an in-process simulated scanner instead of hardware")
	rootCmd.PersistentFlags().DurationVar(&simStepPeriod, "sim-step", time.Millisecond, "Simulated time per motor step")
	rootCmd.PersistentFlags().StringVar(&simFailHomeArg, "sim-fail-home", "", "Simulate a missed limit switch on axis (r or a)")

	// Platform flags
	rootCmd.PersistentFlags().StringVar(&shapeName, "shape", string(motion.Square), "Platform shape (circle or square)")
	rootCmd.PersistentFlags().StringVar(&geometryPath, "geometry", "", "JSON file overriding platform limits")
	rootCmd.PersistentFlags().StringVar(&statePath, "state", "", "Position record file (default: user config dir)")

	// Protocol timing
	rootCmd.PersistentFlags().DurationVar(&replyTimeout, "reply-timeout", 5*time.Second, "Maximum wait for a command reply")
	rootCmd.PersistentFlags().DurationVar(&homeTimeout, "home-timeout", 2*time.Minute, "Maximum wait for a homing reply")
	rootCmd.PersistentFlags().DurationVar(&handshakeTimeout, "handshake-timeout", link.DefaultHandshakeTimeout, "Wait per reset attempt during the handshake")
	rootCmd.PersistentFlags().DurationVar(&pollInterval, "poll", motion.DefaultPollInterval, "Idle polling interval while moving")

	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Trace every protocol line")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus /metrics on this address (e.g. :9090)")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
