// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"fmt"
	"sync"
	"time"
)

// Statistics tracks protocol traffic on one connection
type Statistics struct {
	mu sync.Mutex

	StartTime time.Time

	// Counters
	LinesReceived uint64
	CommandsSent  uint64
	Matched       uint64
	Discarded     uint64
	DeviceErrors  uint64
	Timeouts      uint64

	// Rates (calculated)
	LineRate  float64 // lines/sec
	ErrorRate float64 // errors/sec
}

// Snapshot is a copy of the counters safe to read without locking
type Snapshot struct {
	Elapsed       time.Duration
	LinesReceived uint64
	CommandsSent  uint64
	Matched       uint64
	Discarded     uint64
	DeviceErrors  uint64
	Timeouts      uint64
	LineRate      float64
	ErrorRate     float64
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	return &Statistics{StartTime: time.Now()}
}

func (s *Statistics) add(counter *uint64) {
	s.mu.Lock()
	*counter++
	s.mu.Unlock()
}

func (s *Statistics) lineReceived() { s.add(&s.LinesReceived) }
func (s *Statistics) commandSent()  { s.add(&s.CommandsSent) }
func (s *Statistics) matched()      { s.add(&s.Matched) }
func (s *Statistics) discarded()    { s.add(&s.Discarded) }
func (s *Statistics) deviceError()  { s.add(&s.DeviceErrors) }
func (s *Statistics) timeout()      { s.add(&s.Timeouts) }

// CalculateRates calculates line and error rates
func (s *Statistics) CalculateRates() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calculateRatesLocked()
}

func (s *Statistics) calculateRatesLocked() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.LineRate = float64(s.LinesReceived) / elapsed
		s.ErrorRate = float64(s.DeviceErrors+s.Timeouts) / elapsed
	}
}

// Snapshot returns a consistent copy of the counters with fresh rates
func (s *Statistics) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calculateRatesLocked()
	return Snapshot{
		Elapsed:       time.Since(s.StartTime),
		LinesReceived: s.LinesReceived,
		CommandsSent:  s.CommandsSent,
		Matched:       s.Matched,
		Discarded:     s.Discarded,
		DeviceErrors:  s.DeviceErrors,
		Timeouts:      s.Timeouts,
		LineRate:      s.LineRate,
		ErrorRate:     s.ErrorRate,
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	snap := s.Snapshot()

	var matchedPercent float64
	if snap.LinesReceived > 0 {
		matchedPercent = float64(snap.Matched) * 100.0 / float64(snap.LinesReceived)
	}

	result := fmt.Sprintf("=== Link Statistics (%.0f seconds) ===\n", snap.Elapsed.Seconds())
	result += fmt.Sprintf("Commands Sent:   %8d\n", snap.CommandsSent)
	result += fmt.Sprintf("Lines Received:  %8d\n", snap.LinesReceived)
	result += fmt.Sprintf("Matched Replies: %8d (%.1f%%)\n", snap.Matched, matchedPercent)

	if snap.Discarded > 0 {
		result += fmt.Sprintf("Discarded Lines: %8d\n", snap.Discarded)
	}
	if snap.DeviceErrors > 0 {
		result += fmt.Sprintf("Device Errors:   %8d\n", snap.DeviceErrors)
	}
	if snap.Timeouts > 0 {
		result += fmt.Sprintf("Timeouts:        %8d\n", snap.Timeouts)
	}

	result += fmt.Sprintf("Line Rate:       %8.1f lines/sec\n", snap.LineRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", snap.ErrorRate)
	result += "=====================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StartTime = time.Now()
	s.LinesReceived = 0
	s.CommandsSent = 0
	s.Matched = 0
	s.Discarded = 0
	s.DeviceErrors = 0
	s.Timeouts = 0
	s.LineRate = 0
	s.ErrorRate = 0
}
