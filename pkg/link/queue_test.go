// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestLineQueue_FIFO(t *testing.T) {
	q := newLineQueue()
	for i := 0; i < 5; i++ {
		q.push(fmt.Sprintf("line %d", i))
	}

	for i := 0; i < 5; i++ {
		got, err := q.pop(context.Background(), nil)
		if err != nil {
			t.Fatalf("pop() error = %v", err)
		}
		want := fmt.Sprintf("line %d", i)
		if got != want {
			t.Errorf("pop() = %q, want %q", got, want)
		}
	}
	if q.len() != 0 {
		t.Errorf("len() = %d after draining, want 0", q.len())
	}
}

func TestLineQueue_Timeout(t *testing.T) {
	q := newLineQueue()

	start := time.Now()
	_, err := q.pop(context.Background(), time.After(30*time.Millisecond))
	if !errors.Is(err, errQueueTimeout) {
		t.Fatalf("pop() error = %v, want errQueueTimeout", err)
	}
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Errorf("pop() returned after %v, expected to wait for the deadline", elapsed)
	}
}

func TestLineQueue_CloseDrainsRemainingLines(t *testing.T) {
	q := newLineQueue()
	q.push("last words")
	q.close()
	q.push("ignored after close")

	got, err := q.pop(context.Background(), nil)
	if err != nil || got != "last words" {
		t.Fatalf("pop() = %q, %v; want %q, nil", got, err, "last words")
	}
	if _, err := q.pop(context.Background(), nil); !errors.Is(err, errQueueClosed) {
		t.Fatalf("pop() on drained closed queue error = %v, want errQueueClosed", err)
	}
}

func TestLineQueue_ContextCancel(t *testing.T) {
	q := newLineQueue()
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	if _, err := q.pop(ctx, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("pop() error = %v, want context.Canceled", err)
	}
}

func TestLineQueue_BlockingPopWakesOnPush(t *testing.T) {
	q := newLineQueue()
	const total = 200

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; i++ {
			q.push(fmt.Sprintf("%d", i))
			if i%17 == 0 {
				time.Sleep(time.Millisecond)
			}
		}
	}()

	for i := 0; i < total; i++ {
		got, err := q.pop(context.Background(), time.After(2*time.Second))
		if err != nil {
			t.Fatalf("pop() #%d error = %v", i, err)
		}
		if want := fmt.Sprintf("%d", i); got != want {
			t.Fatalf("pop() #%d = %q, want %q", i, got, want)
		}
	}
	wg.Wait()
}
