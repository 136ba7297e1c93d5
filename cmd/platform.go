// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/term"

	"github.com/Thermoquad/chladni/pkg/link"
	"github.com/Thermoquad/chladni/pkg/motion"
)

var (
	bannerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("9")).
			Border(lipgloss.DoubleBorder()).
			BorderForeground(lipgloss.Color("9")).
			Padding(1, 2)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))
)

// platform is an open link plus the controller driving it.
type platform struct {
	client   *link.Client
	ctrl     *motion.Controller
	store    motion.PositionStore
	connInfo string
	metrics  *http.Server
}

// signalContext is cancelled by Ctrl+C.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

// connectionFailed reports a transport error and exits with code 2.
func connectionFailed(err error) {
	fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
	os.Exit(2)
}

// loadGeometry applies --shape and --geometry.
func loadGeometry() (motion.Geometry, error) {
	shape, err := motion.ParseShape(shapeName)
	if err != nil {
		return motion.Geometry{}, err
	}
	if geometryPath != "" {
		return motion.LoadGeometry(geometryPath, shape)
	}
	return motion.DefaultGeometry(shape), nil
}

// defaultStatePath is the position record under the user config directory.
func defaultStatePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "chladni", "position.txt")
}

// positionStore picks where the position record lives. A simulated scanner
// always starts homed, so without --state it keeps its record in memory.
func positionStore() motion.PositionStore {
	if simulate && statePath == "" {
		return motion.NewMemoryStore(motion.Position{})
	}
	path := statePath
	if path == "" {
		path = defaultStatePath()
	}
	return motion.NewFileStore(path)
}

// newOperator prompts on the terminal. Without one, warnings are still
// printed but nobody can press Enter, so acknowledgement returns at once;
// the homing gate keeps the scanner locked either way.
func newOperator() motion.Operator {
	op := &motion.ConsoleOperator{
		In:     os.Stdin,
		Out:    os.Stderr,
		Banner: func(s string) string { return bannerStyle.Render(s) },
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		op.In = strings.NewReader("")
	}
	return op
}

func controllerLogf() func(string, ...interface{}) {
	if debug {
		return log.Printf
	}
	return nil
}

// openPlatform connects to the scanner and restores its position. Commands
// that move the sensor should use it; connection failures exit with code 2.
// Extra options are applied after the defaults.
func openPlatform(ctx context.Context, extra ...motion.Option) *platform {
	geom, err := loadGeometry()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	metrics, metricsSrv, err := serveMetrics(metricsAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Metrics error: %v\n", err)
		os.Exit(1)
	}

	client, connInfo, err := OpenLink(ctx, metrics)
	if err != nil {
		connectionFailed(err)
	}

	store := positionStore()
	opts := []motion.Option{
		motion.WithStore(store),
		motion.WithPollInterval(pollInterval),
		motion.WithHomingGate(true),
		motion.WithLogger(controllerLogf()),
		motion.WithOperator(newOperator()),
	}
	opts = append(opts, extra...)

	ctrl, err := motion.NewController(client, geom, opts...)
	if err != nil {
		client.Close()
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	return &platform{
		client:   client,
		ctrl:     ctrl,
		store:    store,
		connInfo: connInfo,
		metrics:  metricsSrv,
	}
}

func (p *platform) Close() {
	p.client.Close()
	if p.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = p.metrics.Shutdown(ctx)
	}
}

// serveMetrics exposes link metrics on addr. An empty addr disables them.
func serveMetrics(addr string) (*link.Metrics, *http.Server, error) {
	if addr == "" {
		return nil, nil, nil
	}

	m, err := link.NewMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		return nil, nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server exited: %v", err)
		}
	}()

	log.Printf("serving Prometheus metrics on %s", addr)
	return m, srv, nil
}

// printPosition shows the tracked position in steps and cartesian terms.
func printPosition(ctrl *motion.Controller) {
	pos := ctrl.Position()
	x, y := ctrl.Geometry().XYSteps(pos)
	state := valueStyle.Render("known")
	if !ctrl.PositionKnown() {
		state = warnStyle.Render("UNKNOWN (home first)")
	}
	fmt.Printf("%s r=%d a=%d  %s x=%d y=%d  %s %s\n",
		labelStyle.Render("Position:"), pos.Radial, pos.Angular,
		labelStyle.Render("XY:"), x, y,
		labelStyle.Render("State:"), state)
}
