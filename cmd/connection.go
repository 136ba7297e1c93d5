// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"go.bug.st/serial"
	"golang.org/x/term"

	"github.com/Thermoquad/chladni/pkg/link"
)

// SerialConnection wraps a serial port
type SerialConnection struct {
	port serial.Port
}

func (s *SerialConnection) Read(p []byte) (int, error) {
	return s.port.Read(p)
}

func (s *SerialConnection) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

func (s *SerialConnection) Close() error {
	return s.port.Close()
}

// ErrConnectionClosed is returned when reading from a closed WebSocket connection
var ErrConnectionClosed = fmt.Errorf("websocket connection closed")

// WebSocketConnection exposes a serial bridge's WebSocket as a byte stream.
// Each message carries raw serial bytes; line framing is left to the link.
type WebSocketConnection struct {
	conn      *websocket.Conn
	buf       []byte
	bufOffset int
	closed    bool // Track if connection has failed/closed
}

func (w *WebSocketConnection) Read(p []byte) (int, error) {
	// Return immediately if connection is known to be closed
	if w.closed {
		return 0, ErrConnectionClosed
	}

	// If we have buffered data, return it first
	if w.bufOffset < len(w.buf) {
		n := copy(p, w.buf[w.bufOffset:])
		w.bufOffset += n
		return n, nil
	}

	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			w.closed = true
			return 0, err
		}

		// Bridges send the ASCII protocol as text frames; some forward
		// the raw UART as binary. Control frames are skipped.
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}
		if len(data) == 0 {
			continue
		}

		w.buf = data
		w.bufOffset = 0
		n := copy(p, w.buf)
		w.bufOffset = n
		return n, nil
	}
}

func (w *WebSocketConnection) Write(p []byte) (int, error) {
	err := w.conn.WriteMessage(websocket.TextMessage, p)
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *WebSocketConnection) Close() error {
	return w.conn.Close()
}

// OpenSerialConnection opens a serial port connection
func OpenSerialConnection(portName string, baudRate int) (link.Transport, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}

	return &SerialConnection{port: port}, nil
}

// OpenWebSocketConnection opens a WebSocket connection with HTTP Basic auth
func OpenWebSocketConnection(wsURL, username, password string, skipSSLVerify bool) (link.Transport, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
		// OK
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: skipSSLVerify,
		}
	}

	headers := http.Header{}
	if username != "" && password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}

	return &WebSocketConnection{conn: conn}, nil
}

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	if pw := os.Getenv("CHLADNI_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// candidatePorts lists the serial ports to probe, in order. An explicit
// --port is the only candidate; otherwise enumerated ports come first,
// followed by the usual names for the scanner's USB serial adapter.
func candidatePorts() []string {
	if portName != "" {
		return []string{portName}
	}

	seen := make(map[string]bool)
	var ports []string
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			ports = append(ports, name)
		}
	}

	if list, err := serial.GetPortsList(); err == nil {
		for _, p := range list {
			add(p)
		}
	}

	if runtime.GOOS == "windows" {
		for i := 2; i < 10; i++ {
			add(fmt.Sprintf("COM%d", i))
		}
	} else {
		for i := 0; i < 4; i++ {
			add(fmt.Sprintf("/dev/ttyACM%d", i))
			add(fmt.Sprintf("/dev/ttyUSB%d", i))
		}
	}
	return ports
}

// linkOptions builds client options from the global flags.
func linkOptions(metrics *link.Metrics) []link.Option {
	opts := []link.Option{
		link.WithDebug(debug),
		link.WithReplyTimeout(replyTimeout),
		link.WithHomeTimeout(homeTimeout),
		link.WithHandshakeTimeout(handshakeTimeout),
		link.WithMetrics(metrics),
	}
	if !debug {
		opts = append(opts, link.WithLogger(quietLogf))
	}
	return opts
}

// quietLogf keeps warnings but drops the per-line chatter that only helps
// when debugging the protocol.
func quietLogf(format string, v ...interface{}) {
	if strings.HasPrefix(format, "Unmatched") {
		return
	}
	log.Printf(format, v...)
}

// OpenLink connects to the scanner selected by the flags and completes the
// reset handshake. The returned description names the transport.
func OpenLink(ctx context.Context, metrics *link.Metrics) (*link.Client, string, error) {
	opts := linkOptions(metrics)

	if simulate {
		sim := link.NewSimulator(simStepPeriod)
		switch strings.ToLower(simFailHomeArg) {
		case "":
		case "r", "radial":
			sim.FailHoming(link.Radial)
		case "a", "angular":
			sim.FailHoming(link.Angular)
		default:
			return nil, "", fmt.Errorf("unknown axis %q for --sim-fail-home", simFailHomeArg)
		}
		c := link.New(sim, opts...)
		if err := c.Reset(ctx); err != nil {
			c.Close()
			return nil, "", err
		}
		return c, "Simulator", nil
	}

	if wsURL != "" {
		password := ""
		if wsUsername != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, "", err
			}
		}

		conn, err := OpenWebSocketConnection(wsURL, wsUsername, password, wsNoSSLVerify)
		if err != nil {
			return nil, "", err
		}
		c := link.New(conn, opts...)
		if err := c.Reset(ctx); err != nil {
			c.Close()
			return nil, "", err
		}
		return c, fmt.Sprintf("WebSocket: %s", wsURL), nil
	}

	open := func(name string) (link.Transport, error) {
		if debug {
			log.Printf("Attempting '%s'", name)
		}
		return OpenSerialConnection(name, baudRate)
	}
	c, name, err := link.Open(ctx, candidatePorts(), open, opts...)
	if err != nil {
		return nil, "", err
	}
	return c, fmt.Sprintf("Serial: %s @ %d baud", name, baudRate), nil
}
