// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package motion

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// Operator is the human at the bench.
type Operator interface {
	// Notice shows an informational message.
	Notice(msg string)
	// Acknowledge shows a warning and blocks until the operator confirms it
	// or ctx ends.
	Acknowledge(ctx context.Context, warning string) error
}

// ConsoleOperator prints to Out and waits for Enter on In.
type ConsoleOperator struct {
	In  io.Reader
	Out io.Writer

	// Banner renders warnings; nil prints them framed in plain text.
	Banner func(string) string
}

func (o *ConsoleOperator) Notice(msg string) {
	fmt.Fprintln(o.Out, msg)
}

func (o *ConsoleOperator) Acknowledge(ctx context.Context, warning string) error {
	if o.Banner != nil {
		fmt.Fprintln(o.Out, o.Banner(warning))
	} else {
		rule := strings.Repeat("!", 60)
		fmt.Fprintf(o.Out, "%s\n%s\n%s\n", rule, warning, rule)
	}
	fmt.Fprint(o.Out, "Press Enter to acknowledge...")

	done := make(chan error, 1)
	go func() {
		_, err := bufio.NewReader(o.In).ReadString('\n')
		if err == io.EOF {
			err = nil
		}
		done <- err
	}()

	select {
	case err := <-done:
		fmt.Fprintln(o.Out)
		return err
	case <-ctx.Done():
		fmt.Fprintln(o.Out)
		return ctx.Err()
	}
}

// logOperator reports through the controller logger and never blocks. It is
// the default when no console is attached.
type logOperator struct {
	logf func(format string, v ...interface{})
}

func (o logOperator) Notice(msg string) {
	o.logf("%s", msg)
}

func (o logOperator) Acknowledge(_ context.Context, warning string) error {
	o.logf("WARNING: %s", warning)
	return nil
}
