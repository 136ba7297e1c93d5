// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package link implements the host side of the plate scanner's line
// protocol. A single background task reads newline-terminated replies into a
// FIFO queue; callers issue one command at a time and consume exactly the
// reply they asked for.
package link

import (
	"bufio"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"
)

// DefaultHandshakeTimeout bounds each wait for the reset acknowledgement.
const DefaultHandshakeTimeout = time.Second

// MaxLineLength is the longest line the receive task accepts. Longer lines
// are dropped and reading continues with the next one.
const MaxLineLength = 64 * 1024

// Transport is the open byte stream to the device (serial port, WebSocket
// bridge or simulator).
type Transport interface {
	io.Reader
	io.Writer
	io.Closer
}

// Opener opens the transport identified by name.
type Opener func(name string) (Transport, error)

// Client multiplexes one transport into synchronous request/reply exchanges.
type Client struct {
	conn  Transport
	lines *lineQueue

	// commandMu keeps at most one SendAndWait outstanding. Replies carry no
	// correlation id, so overlapping waits would steal each other's lines.
	commandMu sync.Mutex

	subscribers  map[string]chan string
	subscriberMu sync.Mutex

	stats   *Statistics
	metrics *Metrics

	logf             func(format string, v ...interface{})
	debug            bool
	replyTimeout     time.Duration
	homeTimeout      time.Duration
	handshakeTimeout time.Duration

	done      chan struct{}
	closeOnce sync.Once
	readErrMu sync.Mutex
	readErr   error
}

// Option configures a Client.
type Option func(*Client)

// WithLogger replaces the diagnostic logger. Passing nil mutes it.
func WithLogger(f func(format string, v ...interface{})) Option {
	return func(c *Client) {
		if f == nil {
			f = func(string, ...interface{}) {}
		}
		c.logf = f
	}
}

// WithDebug enables per-line protocol tracing.
func WithDebug(debug bool) Option {
	return func(c *Client) { c.debug = debug }
}

// WithMetrics records traffic into m.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithReplyTimeout bounds the wait for replies to typed commands. Zero waits
// without bound.
func WithReplyTimeout(d time.Duration) Option {
	return func(c *Client) { c.replyTimeout = d }
}

// WithHomeTimeout bounds the wait for homing replies, which arrive only once
// the axis reaches its limit switch. Zero waits without bound.
func WithHomeTimeout(d time.Duration) Option {
	return func(c *Client) { c.homeTimeout = d }
}

// WithHandshakeTimeout sets how long each reset attempt waits for its
// acknowledgement.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.handshakeTimeout = d
		}
	}
}

// Open tries each candidate in order and connects to the first one that
// opens. It then starts the receive task and performs the reset handshake.
func Open(ctx context.Context, candidates []string, open Opener, opts ...Option) (*Client, string, error) {
	var conn Transport
	var name string
	for _, candidate := range candidates {
		t, err := open(candidate)
		if err != nil {
			continue
		}
		conn, name = t, candidate
		break
	}
	if conn == nil {
		return nil, "", fmt.Errorf("%w (tried %s)", ErrDeviceNotFound, strings.Join(candidates, ", "))
	}

	c := New(conn, opts...)
	c.logf("Got device %s", name)
	if err := c.Reset(ctx); err != nil {
		c.Close()
		return nil, "", err
	}
	return c, name, nil
}

// New wraps an open transport and starts the receive task. No handshake is
// performed; call Reset when the device state is unknown.
func New(conn Transport, opts ...Option) *Client {
	c := &Client{
		conn:             conn,
		lines:            newLineQueue(),
		subscribers:      make(map[string]chan string),
		stats:            NewStatistics(),
		logf:             log.Printf,
		handshakeTimeout: DefaultHandshakeTimeout,
		done:             make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.receive()
	return c
}

// receive pushes every line onto the queue unfiltered. Demultiplexing is the
// waiting caller's job.
func (c *Client) receive() {
	defer c.lines.close()

	r := bufio.NewReaderSize(c.conn, MaxLineLength)
	var err error
	for {
		var raw []byte
		raw, err = r.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			c.logf("dropping line longer than %d bytes", MaxLineLength)
			if err = skipLine(r); err != nil {
				break
			}
			continue
		}
		if err == nil || len(raw) > 0 {
			c.deliver(strings.TrimRight(string(raw), "\r\n"))
		}
		if err != nil {
			break
		}
	}

	c.readErrMu.Lock()
	c.readErr = err
	c.readErrMu.Unlock()

	select {
	case <-c.done:
	default:
		c.logf("receive task stopped: %v", err)
	}
}

func (c *Client) deliver(line string) {
	c.stats.lineReceived()
	c.metrics.observeLine()
	if c.debug {
		c.logf("<- %s", line)
	}
	c.lines.push(line)
	c.publish(line)
}

// skipLine discards input up to and including the next newline.
func skipLine(r *bufio.Reader) error {
	for {
		_, err := r.ReadSlice('\n')
		if !errors.Is(err, bufio.ErrBufferFull) {
			return err
		}
	}
}

// ReadErr returns the error that ended the receive task, or nil while it is
// still running.
func (c *Client) ReadErr() error {
	c.readErrMu.Lock()
	defer c.readErrMu.Unlock()
	return c.readErr
}

// Statistics returns the live traffic counters.
func (c *Client) Statistics() *Statistics {
	return c.stats
}

// Pending reports how many received lines are still waiting to be consumed.
func (c *Client) Pending() int {
	return c.lines.len()
}

// Reset absorbs any reply backlog or half-finished command left by a prior
// session. It waits briefly for a reset acknowledgement, writes "reset" if
// none arrived, and repeats until one is seen. Resetting is idempotent on the
// device so the loop retries without limit; only ctx stops it.
func (c *Client) Reset(ctx context.Context) error {
	c.commandMu.Lock()
	defer c.commandMu.Unlock()

	for {
		_, ok, err := c.waitFor(ctx, "reset", "reset", c.handshakeTimeout, true)
		if err != nil {
			return fmt.Errorf("reset handshake: %w", err)
		}
		if ok {
			return nil
		}
		if c.ReadErr() != nil {
			return fmt.Errorf("reset handshake: %w", ErrConnectionClosed)
		}
		if c.debug {
			c.logf("resetting")
		}
		if err := c.write("reset"); err != nil {
			return fmt.Errorf("reset handshake: %w", err)
		}
	}
}

// SendAndWait writes command and returns the first received line starting
// with prefix. Lines that do not match are logged and discarded; a line
// carrying the device error marker aborts the wait with a *DeviceError.
//
// A positive timeout bounds the whole wait. When it elapses, or when the
// connection drops while a bounded wait is pending, SendAndWait returns
// matched == false and a nil error so callers can poll. A zero timeout waits
// until a match, a device error, a closed connection or ctx cancellation.
func (c *Client) SendAndWait(ctx context.Context, command, prefix string, timeout time.Duration) (line string, matched bool, err error) {
	c.commandMu.Lock()
	defer c.commandMu.Unlock()

	if err := c.write(command); err != nil {
		return "", false, err
	}
	return c.waitFor(ctx, command, prefix, timeout, false)
}

func (c *Client) write(command string) error {
	command = strings.TrimRight(command, "\r\n") + "\n"
	if c.debug {
		c.logf("-> %s", strings.TrimSpace(command))
	}
	n, err := io.WriteString(c.conn, command)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	if n != len(command) {
		return fmt.Errorf("%w: short write (%d of %d bytes)", ErrWriteFailed, n, len(command))
	}
	c.stats.commandSent()
	c.metrics.observeCommand(command)
	return nil
}

// waitFor must be called with commandMu held. During the reset handshake
// device errors are stale backlog, so tolerateErrors discards them instead.
func (c *Client) waitFor(ctx context.Context, command, prefix string, timeout time.Duration, tolerateErrors bool) (string, bool, error) {
	start := time.Now()

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		line, err := c.lines.pop(ctx, deadline)
		switch {
		case errors.Is(err, errQueueTimeout):
			c.stats.timeout()
			c.metrics.observeReply(OutcomeTimeout)
			if c.debug {
				c.logf("no %q reply within %v", prefix, timeout)
			}
			return "", false, nil
		case errors.Is(err, errQueueClosed):
			if timeout > 0 {
				c.stats.timeout()
				c.metrics.observeReply(OutcomeTimeout)
				return "", false, nil
			}
			return "", false, ErrConnectionClosed
		case err != nil:
			return "", false, err
		}

		if strings.HasPrefix(line, ErrorMarker) && !tolerateErrors {
			c.stats.deviceError()
			c.metrics.observeReply(OutcomeDeviceError)
			c.logf("%s", line)
			return "", false, &DeviceError{Command: strings.TrimSpace(command), Line: line}
		}
		if strings.HasPrefix(line, prefix) {
			c.stats.matched()
			c.metrics.observeReply(OutcomeMatched)
			c.metrics.observeDuration(command, time.Since(start))
			return line, true, nil
		}

		c.stats.discarded()
		c.metrics.observeReply(OutcomeDiscarded)
		c.logf("Unmatched: %s", line)
	}
}

// randomID generates a random subscriber ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe registers a passive observer of every received line. Observers
// never consume replies; a slow observer misses lines rather than stalling
// the receive task.
func (c *Client) Subscribe() (string, <-chan string) {
	id := randomID()
	ch := make(chan string, 64)
	c.subscriberMu.Lock()
	defer c.subscriberMu.Unlock()
	c.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes and closes a subscriber channel.
func (c *Client) Unsubscribe(id string) {
	c.subscriberMu.Lock()
	defer c.subscriberMu.Unlock()
	if ch, ok := c.subscribers[id]; ok {
		close(ch)
		delete(c.subscribers, id)
	}
}

func (c *Client) publish(line string) {
	c.subscriberMu.Lock()
	defer c.subscriberMu.Unlock()
	for _, ch := range c.subscribers {
		select {
		case ch <- line:
		default:
		}
	}
}

// Close closes the transport and all subscriber channels. The receive task
// exits once the pending read returns.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()

		c.subscriberMu.Lock()
		for id, ch := range c.subscribers {
			close(ch)
			delete(c.subscribers, id)
		}
		c.subscriberMu.Unlock()
	})
	return err
}
