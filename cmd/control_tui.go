// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/chladni/pkg/link"
	"github.com/Thermoquad/chladni/pkg/motion"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

const (
	maxLogEntries     = 100
	maxTrafficEntries = 200
	eventLogHeight    = 8
)

// Input modes
const (
	inputNone = iota
	inputPolar
	inputCart
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

type logEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

// controlModel is the Bubble Tea model for the jog TUI
type controlModel struct {
	ctx      context.Context
	ctrl     *motion.Controller
	client   *link.Client
	connInfo string
	operator *tuiOperator

	// Jog sizes in steps
	radialJog  int
	angularJog int

	// Last position read from the controller while idle
	pos   motion.Position
	known bool

	// Move in progress
	busy       bool
	busyLabel  string
	cancelMove context.CancelFunc
	spinner    spinner.Model

	// Goto prompt
	input     textinput.Model
	inputMode int

	// Warning waiting for acknowledgement
	prompt *operatorPromptMsg

	events  []logEntry
	traffic []logEntry

	// UI state
	width          int
	height         int
	quitting       bool
	connectionLost bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type controlTickMsg time.Time

type lineBatchMsg struct {
	lines []string
	at    time.Time
}

type connectionLostMsg struct {
	err error
}

// operatorPromptMsg carries a controller message. A nil ack marks a notice
// that needs no response.
type operatorPromptMsg struct {
	text string
	ack  chan struct{}
}

type moveDoneMsg struct {
	label string
	err   error
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialControlModel(ctx context.Context, ctrl *motion.Controller, client *link.Client, connInfo string, op *tuiOperator) controlModel {
	ti := textinput.New()
	ti.CharLimit = 24
	ti.Width = 20

	sp := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("11"))),
	)

	m := controlModel{
		ctx:        ctx,
		ctrl:       ctrl,
		client:     client,
		connInfo:   connInfo,
		operator:   op,
		radialJog:  100,
		angularJog: 2,
		spinner:    sp,
		input:      ti,
		inputMode:  inputNone,
		events:     make([]logEntry, 0),
		traffic:    make([]logEntry, 0),
		width:      80,
		height:     24,
	}
	m.refreshPosition()
	return m
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m controlModel) Init() tea.Cmd {
	return tea.Batch(controlTickCmd(), m.operator.next)
}

func controlTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return controlTickMsg(t)
	})
}

func (m controlModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case controlTickMsg:
		m.client.Statistics().CalculateRates()
		return m, controlTickCmd()

	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case lineBatchMsg:
		for _, line := range msg.lines {
			isErr := strings.HasPrefix(line, link.ErrorMarker)
			m.traffic = appendEntry(m.traffic, logEntry{timestamp: msg.at, message: line, isError: isErr}, maxTrafficEntries)
			if isErr {
				m.addLogEntry("Device: "+line, true)
			}
		}

	case connectionLostMsg:
		m.connectionLost = true
		m.addLogEntry(fmt.Sprintf("Connection lost: %v", msg.err), true)

	case operatorPromptMsg:
		if msg.ack == nil {
			m.addLogEntry(msg.text, true)
		} else {
			m.prompt = &msg
		}
		return m, m.operator.next

	case moveDoneMsg:
		return m.finishMove(msg), nil
	}

	if m.inputMode != inputNone {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m controlModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()

	if key == "ctrl+c" {
		return m.quit()
	}

	if m.prompt != nil {
		if key == "enter" {
			close(m.prompt.ack)
			m.prompt = nil
			m.addLogEntry("Warning acknowledged", false)
		}
		return m, nil
	}

	if m.inputMode != inputNone {
		return m.handleInputKey(msg)
	}

	switch key {
	case "q":
		return m.quit()

	case "esc":
		if m.busy && m.cancelMove != nil {
			m.cancelMove()
			m.addLogEntry("Stopping after steps already issued", false)
		}
		return m, nil

	case "+", "=":
		m.radialJog *= 2
		m.angularJog *= 2
		return m, nil

	case "-", "_":
		m.radialJog = max(1, m.radialJog/2)
		m.angularJog = max(1, m.angularJog/2)
		return m, nil
	}

	if m.busy {
		return m, nil
	}
	if m.connectionLost {
		m.addLogEntry("Cannot move: connection lost", true)
		return m, nil
	}

	switch key {
	case "up", "k":
		return m.jog(link.Radial, m.radialJog)
	case "down", "j":
		return m.jog(link.Radial, -m.radialJog)
	case "right", "l":
		return m.jog(link.Angular, m.angularJog)
	case "left", "h":
		return m.jog(link.Angular, -m.angularJog)

	case "g":
		return m.openInput(inputPolar, "radial angular")
	case "x":
		return m.openInput(inputCart, "x y")

	case "0":
		return m.startMove("Move to origin", func(ctx context.Context) error {
			return m.ctrl.MoveAbs(ctx, 0, 0)
		})

	case "H":
		return m.startMove("Homing", func(ctx context.Context) error {
			return m.ctrl.Home(ctx)
		})
	}

	return m, nil
}

func (m controlModel) handleInputKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.closeInput()
		return m, nil

	case "enter":
		mode := m.inputMode
		value := m.input.Value()
		m.closeInput()

		a, b, err := parseTarget(value)
		if err != nil {
			m.addLogEntry(err.Error(), true)
			return m, nil
		}
		if mode == inputCart {
			return m.startMove(fmt.Sprintf("Move to x=%d y=%d", a, b), func(ctx context.Context) error {
				return m.ctrl.CartMoveAbs(ctx, a, b)
			})
		}
		return m.startMove(fmt.Sprintf("Move to %v", motion.Position{Radial: a, Angular: b}), func(ctx context.Context) error {
			return m.ctrl.MoveAbs(ctx, a, b)
		})
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m controlModel) quit() (tea.Model, tea.Cmd) {
	if m.cancelMove != nil {
		m.cancelMove()
	}
	if m.prompt != nil {
		close(m.prompt.ack)
		m.prompt = nil
	}
	m.quitting = true
	return m, tea.Quit
}

func (m controlModel) openInput(mode int, placeholder string) (tea.Model, tea.Cmd) {
	if m.busy {
		return m, nil
	}
	m.inputMode = mode
	m.input.Placeholder = placeholder
	m.input.SetValue("")
	return m, m.input.Focus()
}

func (m *controlModel) closeInput() {
	m.inputMode = inputNone
	m.input.Blur()
	m.input.SetValue("")
}

// parseTarget reads two step counts separated by spaces or a comma.
func parseTarget(s string) (int, int, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == ','
	})
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("expected two numbers, got %q", s)
	}
	a, err := parseSteps(fields[0])
	if err != nil {
		return 0, 0, err
	}
	b, err := parseSteps(fields[1])
	if err != nil {
		return 0, 0, err
	}
	return a, b, nil
}

func (m controlModel) jog(axis link.Axis, steps int) (tea.Model, tea.Cmd) {
	label := fmt.Sprintf("Jog %s %+d", axis, steps)
	if axis == link.Radial {
		return m.startMove(label, func(ctx context.Context) error {
			return m.ctrl.RadMoveRel(ctx, steps)
		})
	}
	return m.startMove(label, func(ctx context.Context) error {
		return m.ctrl.AngMoveRel(ctx, steps)
	})
}

// startMove runs fn off the UI goroutine. The controller serializes motion,
// so only one move is started at a time.
func (m controlModel) startMove(label string, fn func(ctx context.Context) error) (tea.Model, tea.Cmd) {
	ctx, cancel := context.WithCancel(m.ctx)
	m.busy = true
	m.busyLabel = label
	m.cancelMove = cancel
	m.addLogEntry(label, false)

	move := func() tea.Msg {
		return moveDoneMsg{label: label, err: fn(ctx)}
	}
	return m, tea.Batch(m.spinner.Tick, move)
}

func (m controlModel) finishMove(msg moveDoneMsg) controlModel {
	if m.cancelMove != nil {
		m.cancelMove()
	}
	m.busy = false
	m.busyLabel = ""
	m.cancelMove = nil
	m.refreshPosition()

	if msg.err != nil {
		m.addLogEntry(describeMoveError(msg.label, msg.err), true)
		return m
	}
	m.addLogEntry(fmt.Sprintf("%s done at %v", msg.label, m.pos), false)
	return m
}

func describeMoveError(label string, err error) string {
	var devErr *link.DeviceError
	switch {
	case errors.Is(err, context.Canceled):
		return label + " stopped"
	case errors.Is(err, motion.ErrPositionUnknown):
		return label + " refused: position unknown, press H to home"
	case errors.Is(err, motion.ErrUnsafeForAngle), errors.Is(err, motion.ErrOutOfRange):
		return fmt.Sprintf("%s rejected: %v", label, err)
	case errors.As(err, &devErr):
		return fmt.Sprintf("%s failed: device reported %s", label, devErr.Line)
	}
	return fmt.Sprintf("%s failed: %v", label, err)
}

// refreshPosition reads the controller. Only call it while no move is
// running, since the controller holds its lock for the whole move.
func (m *controlModel) refreshPosition() {
	m.pos = m.ctrl.Position()
	m.known = m.ctrl.PositionKnown()
}

func appendEntry(entries []logEntry, e logEntry, limit int) []logEntry {
	entries = append(entries, e)
	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries
}

func (m *controlModel) addLogEntry(message string, isError bool) {
	m.events = appendEntry(m.events, logEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	}, maxLogEntries)
}

//////////////////////////////////////////////////////////////
// View
//////////////////////////////////////////////////////////////

func (m controlModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	s.WriteString(titleStyle.Render("CHLADNI CONTROL"))
	s.WriteString(" ")
	connStatus := m.connInfo
	if m.connectionLost {
		connStatus = errorStyle.Render("DISCONNECTED")
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | q=quit", connStatus)))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render("arrows/hjkl=jog  +/-=jog size  g=goto  x=goto xy  0=origin  H=home  esc=stop"))
	s.WriteString("\n\n")

	if m.prompt != nil {
		s.WriteString(bannerStyle.Render(m.prompt.text + "\n\nPress Enter to acknowledge"))
		s.WriteString("\n\n")
	}

	s.WriteString(boxStyle.Width(m.width - 4).Render(m.renderPosition()))
	s.WriteString("\n")

	switch {
	case m.inputMode != inputNone:
		s.WriteString(labelStyle.Render("Goto: "))
		s.WriteString(m.input.View())
	case m.busy:
		s.WriteString(m.spinner.View())
		s.WriteString(" ")
		s.WriteString(m.busyLabel)
	default:
		s.WriteString(headerStyle.Render("Ready"))
	}
	s.WriteString("\n\n")

	s.WriteString(m.renderStatisticsBar(errorStyle, boxStyle))
	s.WriteString("\n")
	s.WriteString(m.renderTraffic(headerStyle, errorStyle, boxStyle))
	s.WriteString("\n")
	s.WriteString(m.renderEventLog(headerStyle, errorStyle, boxStyle))

	return s.String()
}

func (m controlModel) renderPosition() string {
	geom := m.ctrl.Geometry()
	x, y := geom.XYSteps(m.pos)

	state := valueStyle.Render("KNOWN")
	if !m.known {
		state = warnStyle.Render("UNKNOWN - press H to home")
	}

	deg := float64(geom.NormalizeAngle(m.pos.Angular)) / geom.StepsPerDegree()
	return fmt.Sprintf("%s %s  %s %s (%.1f deg)  %s %s  %s\n%s %s  %s %s  %s r=%d a=%d",
		labelStyle.Render("Radial:"), valueStyle.Render(fmt.Sprintf("%d", m.pos.Radial)),
		labelStyle.Render("Angular:"), valueStyle.Render(fmt.Sprintf("%d", m.pos.Angular)), deg,
		labelStyle.Render("XY:"), valueStyle.Render(fmt.Sprintf("%d, %d", x, y)),
		state,
		labelStyle.Render("Envelope:"), valueStyle.Render(fmt.Sprintf("%.0f", geom.Envelope(m.pos.Angular))),
		labelStyle.Render("Shape:"), valueStyle.Render(string(geom.Shape)),
		labelStyle.Render("Jog:"), m.radialJog, m.angularJog)
}

func (m controlModel) renderStatisticsBar(errorStyle, boxStyle lipgloss.Style) string {
	snap := m.client.Statistics().Snapshot()

	errCount := valueStyle.Render("0")
	if n := snap.DeviceErrors + snap.Timeouts; n > 0 {
		errCount = errorStyle.Render(fmt.Sprintf("%d", n))
	}

	content := fmt.Sprintf("%s %s  %s %s  %s %s  %s %s  %s %s",
		labelStyle.Render("Sent:"), valueStyle.Render(fmt.Sprintf("%d", snap.CommandsSent)),
		labelStyle.Render("Received:"), valueStyle.Render(fmt.Sprintf("%d", snap.LinesReceived)),
		labelStyle.Render("Discarded:"), valueStyle.Render(fmt.Sprintf("%d", snap.Discarded)),
		labelStyle.Render("Errors:"), errCount,
		labelStyle.Render("Rate:"), valueStyle.Render(fmt.Sprintf("%.1f lines/s", snap.LineRate)),
	)
	return boxStyle.Width(m.width - 4).Render(content)
}

func (m controlModel) renderTraffic(headerStyle, errorStyle, boxStyle lipgloss.Style) string {
	var s strings.Builder
	s.WriteString(labelStyle.Render("TRAFFIC"))
	s.WriteString("\n")

	// Leave room for the panels above and the event log below.
	height := m.height - 22
	if height < 3 {
		height = 3
	}
	writeEntries(&s, m.traffic, height, headerStyle, errorStyle, "  (no traffic yet)")
	return boxStyle.Width(m.width - 4).Render(s.String())
}

func (m controlModel) renderEventLog(headerStyle, errorStyle, boxStyle lipgloss.Style) string {
	var s strings.Builder
	s.WriteString(labelStyle.Render("EVENTS"))
	s.WriteString("\n")
	writeEntries(&s, m.events, eventLogHeight, headerStyle, errorStyle, "  (no events yet)")
	return boxStyle.Width(m.width - 4).Render(s.String())
}

func writeEntries(s *strings.Builder, entries []logEntry, height int, headerStyle, errorStyle lipgloss.Style, empty string) {
	if len(entries) == 0 {
		s.WriteString(headerStyle.Render(empty))
		return
	}

	start := len(entries) - height
	if start < 0 {
		start = 0
	}
	for _, entry := range entries[start:] {
		msg := entry.message
		if entry.isError {
			msg = errorStyle.Render(msg)
		}
		s.WriteString(fmt.Sprintf("%s %s\n", headerStyle.Render(entry.timestamp.Format("15:04:05.000")), msg))
	}
}
