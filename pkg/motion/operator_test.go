// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package motion

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsoleOperator_Acknowledge(t *testing.T) {
	var out bytes.Buffer
	op := &ConsoleOperator{In: strings.NewReader("\n"), Out: &out}

	require.NoError(t, op.Acknowledge(context.Background(), "radial switch missed"))
	assert.Contains(t, out.String(), "radial switch missed")
	assert.Contains(t, out.String(), "Press Enter")
}

func TestConsoleOperator_Banner(t *testing.T) {
	var out bytes.Buffer
	op := &ConsoleOperator{
		In:     strings.NewReader("\n"),
		Out:    &out,
		Banner: func(s string) string { return "<<" + s + ">>" },
	}

	require.NoError(t, op.Acknowledge(context.Background(), "check it"))
	assert.Contains(t, out.String(), "<<check it>>")

	op.Notice("hello")
	assert.Contains(t, out.String(), "hello\n")
}

func TestConsoleOperator_BlocksUntilCancelled(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()

	op := &ConsoleOperator{In: r, Out: io.Discard}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := op.Acknowledge(ctx, "nobody home")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLogOperator(t *testing.T) {
	var logged []string
	op := logOperator{logf: func(format string, v ...interface{}) {
		logged = append(logged, format)
	}}

	op.Notice("hi")
	require.NoError(t, op.Acknowledge(context.Background(), "warn"))
	assert.Len(t, logged, 2)
}
