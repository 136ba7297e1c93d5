// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	errQueueTimeout = errors.New("queue wait timed out")
	errQueueClosed  = errors.New("queue closed")
)

// lineQueue is an unbounded FIFO of received lines. The receive task is the
// only producer; the consumer is whichever SendAndWait currently holds the
// command lock.
type lineQueue struct {
	mu     sync.Mutex
	items  []string
	closed bool

	// ready carries at most one pending wakeup. push signals after appending,
	// so a consumer that drains the slice before waiting never misses a line.
	ready chan struct{}
}

func newLineQueue() *lineQueue {
	return &lineQueue{ready: make(chan struct{}, 1)}
}

func (q *lineQueue) push(line string) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, line)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// close marks the end of input. Lines already queued can still be popped.
func (q *lineQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *lineQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// pop removes the oldest line. A nil deadline blocks until a line arrives,
// the queue closes or ctx ends.
func (q *lineQueue) pop(ctx context.Context, deadline <-chan time.Time) (string, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			line := q.items[0]
			q.items[0] = ""
			q.items = q.items[1:]
			q.mu.Unlock()
			return line, nil
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return "", errQueueClosed
		}

		select {
		case <-q.ready:
		case <-deadline:
			return "", errQueueTimeout
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}
