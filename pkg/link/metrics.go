// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Reply outcomes used as the "outcome" label of link_replies_total.
const (
	OutcomeMatched     = "matched"
	OutcomeDiscarded   = "discarded"
	OutcomeDeviceError = "device_error"
	OutcomeTimeout     = "timeout"
)

// Metrics bundles the Prometheus collectors for one link.
type Metrics struct {
	gatherer prometheus.Gatherer

	Commands      *prometheus.CounterVec
	Replies       *prometheus.CounterVec
	LinesReceived prometheus.Counter
	ReplyDuration *prometheus.HistogramVec
}

// NewMetrics registers link metrics against reg, defaulting to the global
// registry when nil. Registering twice against the same registry returns the
// existing collectors.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	commands, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "link_commands_total",
		Help: "Commands written to the device, labeled by command verb.",
	}, []string{"command"}), "link_commands_total")
	if err != nil {
		return nil, err
	}

	replies, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "link_replies_total",
		Help: "Lines consumed by waiting commands, labeled by outcome.",
	}, []string{"outcome"}), "link_replies_total")
	if err != nil {
		return nil, err
	}

	lines := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "link_lines_received_total",
		Help: "Lines read from the transport by the receive task.",
	})
	if err := reg.Register(lines); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil, err
		}
		existing, ok := are.ExistingCollector.(prometheus.Counter)
		if !ok {
			return nil, fmt.Errorf("collector link_lines_received_total already registered with incompatible type")
		}
		lines = existing
	}

	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "link_reply_duration_seconds",
		Help:    "Time from writing a command to receiving its matching reply.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"command"})
	if err := reg.Register(durations); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil, err
		}
		existing, ok := are.ExistingCollector.(*prometheus.HistogramVec)
		if !ok {
			return nil, fmt.Errorf("collector link_reply_duration_seconds already registered with incompatible type")
		}
		durations = existing
	}

	return &Metrics{
		gatherer:      gatherer,
		Commands:      commands,
		Replies:       replies,
		LinesReceived: lines,
		ReplyDuration: durations,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (m *Metrics) Handler() http.Handler {
	gatherer := m.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) observeCommand(command string) {
	if m == nil {
		return
	}
	m.Commands.WithLabelValues(verb(command)).Inc()
}

func (m *Metrics) observeReply(outcome string) {
	if m == nil {
		return
	}
	m.Replies.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeLine() {
	if m == nil {
		return
	}
	m.LinesReceived.Inc()
}

func (m *Metrics) observeDuration(command string, d time.Duration) {
	if m == nil {
		return
	}
	m.ReplyDuration.WithLabelValues(verb(command)).Observe(d.Seconds())
}

// verb keeps label cardinality bounded: "a_go 120" is recorded as "a_go".
func verb(command string) string {
	command = strings.TrimSpace(command)
	if i := strings.IndexByte(command, ' '); i >= 0 {
		command = command[:i]
	}
	if command == "" {
		return "unknown"
	}
	return command
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}
