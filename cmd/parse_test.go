// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/chladni/pkg/link"
	"github.com/Thermoquad/chladni/pkg/motion"
)

func TestParseSteps(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"100", 100, false},
		{"-250", -250, false},
		{"12.6", 13, false},
		{"-0.4", 0, false},
		{"abc", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseSteps(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseTarget(t *testing.T) {
	tests := []struct {
		in      string
		a, b    int
		wantErr bool
	}{
		{"3000 90", 3000, 90, false},
		{"3000,90", 3000, 90, false},
		{" -500 , 12 ", -500, 12, false},
		{"3000", 0, 0, true},
		{"1 2 3", 0, 0, true},
		{"x 2", 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			a, b, err := parseTarget(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.a, a)
			assert.Equal(t, tt.b, b)
		})
	}
}

func TestParseAxis(t *testing.T) {
	for in, want := range map[string]link.Axis{
		"r":       link.Radial,
		"radial":  link.Radial,
		"a":       link.Angular,
		"angular": link.Angular,
	} {
		got, err := parseAxis(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := parseAxis("z")
	assert.Error(t, err)
}

func TestCandidatePorts_ExplicitPortOnly(t *testing.T) {
	saved := portName
	t.Cleanup(func() { portName = saved })

	portName = "/dev/ttyACM7"
	assert.Equal(t, []string{"/dev/ttyACM7"}, candidatePorts())
}

func TestCandidatePorts_IncludesFallbacks(t *testing.T) {
	saved := portName
	t.Cleanup(func() { portName = saved })

	portName = ""
	ports := candidatePorts()
	require.NotEmpty(t, ports)

	seen := make(map[string]bool)
	for _, p := range ports {
		assert.False(t, seen[p], "duplicate candidate %s", p)
		seen[p] = true
	}
}

func TestFormatRawLine(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 30, 15, 250e6, time.UTC)

	got := formatRawLine(at, "r_go 100")
	assert.Contains(t, got, "12:30:15.250")
	assert.Contains(t, got, "r_go 100")

	got = formatRawLine(at, "ERR: limit")
	assert.True(t, strings.Contains(got, "ERR: limit"))
}

func TestLoadGeometry_Flags(t *testing.T) {
	savedShape, savedPath := shapeName, geometryPath
	t.Cleanup(func() { shapeName, geometryPath = savedShape, savedPath })

	shapeName, geometryPath = "circle", ""
	g, err := loadGeometry()
	require.NoError(t, err)
	assert.Equal(t, "circle", string(g.Shape))

	shapeName = "hexagon"
	_, err = loadGeometry()
	assert.Error(t, err)
}

func TestNewOperator_Banner(t *testing.T) {
	op, ok := newOperator().(*motion.ConsoleOperator)
	require.True(t, ok)
	require.NotNil(t, op.Banner)
	assert.Contains(t, op.Banner("Radial limit switch not found"), "Radial limit switch not found")
}
