// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/chladni/pkg/link"
	"github.com/Thermoquad/chladni/pkg/motion"
)

var (
	controlRadialJog  int
	controlAngularJog int
)

var controlCmd = &cobra.Command{
	Use:   "control",
	Short: "Interactive TUI for jogging the scanner",
	Long: `Jog and position the scanner from an interactive terminal UI.

Features:
  - Arrow keys or hjkl jog the radial and angular axes
  - Goto prompts for polar (g) and cartesian (x) targets
  - Homing (H) with on-screen acknowledgement of switch failures
  - Live protocol traffic and link statistics
  - Esc cancels a move in progress; steps already issued are kept

Every move goes through the same envelope checks as 'chladni move'.

Supports serial, WebSocket and simulated connections.

Exit codes:
  0 - Session ended normally
  1 - Terminal UI failed
  2 - Connection error`,
	RunE: runControl,
}

func init() {
	rootCmd.AddCommand(controlCmd)
	controlCmd.Flags().IntVar(&controlRadialJog, "radial-jog", 100, "Radial steps per key press")
	controlCmd.Flags().IntVar(&controlAngularJog, "angular-jog", 2, "Angular steps per key press")
}

func runControl(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	op := newTUIOperator()
	p := openPlatform(ctx, motion.WithOperator(op))
	defer p.Close()

	m := initialControlModel(ctx, p.ctrl, p.client, p.connInfo, op)
	m.radialJog = controlRadialJog
	m.angularJog = controlAngularJog

	prog := tea.NewProgram(m, tea.WithAltScreen())

	id, lines := p.client.Subscribe()
	defer p.client.Unsubscribe(id)
	go feedLines(ctx, prog, p.client, lines)

	_, err := prog.Run()
	cancel()
	if err != nil {
		return fmt.Errorf("TUI error: %v", err)
	}

	// Blocks until an interrupted move has committed.
	printPosition(p.ctrl)
	return nil
}

// feedLines forwards received lines to the TUI in batches at a fixed rate
// and reports when the receive task stops.
func feedLines(ctx context.Context, prog *tea.Program, client *link.Client, lines <-chan string) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	var batch []string
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			batch = append(batch, line)
		case <-ticker.C:
			if len(batch) > 0 {
				prog.Send(lineBatchMsg{lines: batch, at: time.Now()})
				batch = nil
			}
			if err := client.ReadErr(); err != nil {
				prog.Send(connectionLostMsg{err: err})
				return
			}
		}
	}
}

// tuiOperator routes controller warnings into the TUI. Acknowledge blocks
// until the user dismisses the warning on screen.
type tuiOperator struct {
	prompts chan operatorPromptMsg
}

func newTUIOperator() *tuiOperator {
	return &tuiOperator{prompts: make(chan operatorPromptMsg, 8)}
}

func (o *tuiOperator) Notice(msg string) {
	select {
	case o.prompts <- operatorPromptMsg{text: msg}:
	default:
	}
}

func (o *tuiOperator) Acknowledge(ctx context.Context, warning string) error {
	ack := make(chan struct{})
	select {
	case o.prompts <- operatorPromptMsg{text: warning, ack: ack}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// next waits for the following prompt.
func (o *tuiOperator) next() tea.Msg {
	return <-o.prompts
}
