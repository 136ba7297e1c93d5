// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"strings"
	"sync"
	"testing"
)

func TestStatistics_Counters(t *testing.T) {
	s := NewStatistics()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.commandSent()
			s.lineReceived()
			s.lineReceived()
			s.matched()
			s.discarded()
		}()
	}
	wg.Wait()
	s.deviceError()
	s.timeout()

	snap := s.Snapshot()
	if snap.CommandsSent != 50 {
		t.Errorf("CommandsSent = %d, want 50", snap.CommandsSent)
	}
	if snap.LinesReceived != 100 {
		t.Errorf("LinesReceived = %d, want 100", snap.LinesReceived)
	}
	if snap.Matched != 50 || snap.Discarded != 50 {
		t.Errorf("Matched/Discarded = %d/%d, want 50/50", snap.Matched, snap.Discarded)
	}
	if snap.DeviceErrors != 1 || snap.Timeouts != 1 {
		t.Errorf("DeviceErrors/Timeouts = %d/%d, want 1/1", snap.DeviceErrors, snap.Timeouts)
	}
	if snap.LineRate <= 0 {
		t.Errorf("LineRate = %v, want > 0", snap.LineRate)
	}
}

func TestStatistics_String(t *testing.T) {
	s := NewStatistics()
	s.commandSent()
	s.lineReceived()
	s.matched()

	out := s.String()
	for _, want := range []string{"Commands Sent:", "Matched Replies:", "(100.0%)"} {
		if !strings.Contains(out, want) {
			t.Errorf("String() missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Timeouts:") {
		t.Errorf("String() shows zero timeouts:\n%s", out)
	}
}

func TestStatistics_Reset(t *testing.T) {
	s := NewStatistics()
	s.commandSent()
	s.timeout()
	s.Reset()

	snap := s.Snapshot()
	if snap.CommandsSent != 0 || snap.Timeouts != 0 {
		t.Errorf("Snapshot() after Reset = %+v, want zero counters", snap)
	}
}
