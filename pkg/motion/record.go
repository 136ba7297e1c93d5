// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package motion

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// PositionStore persists the last committed position between runs.
type PositionStore interface {
	// Load returns the saved position and when it was written. A store with
	// nothing saved returns ErrNoRecord.
	Load() (Position, time.Time, error)
	Save(Position) error
}

const (
	recordHeader  = "# chladni scanner position (radial,angular in motor steps)"
	writtenPrefix = "# written "
)

// FileStore keeps the position in a small text file:
//
//	# chladni scanner position (radial,angular in motor steps)
//	# written 2025-06-01T12:00:00Z
//	7300,90
//
// Every save replaces the file atomically.
type FileStore struct {
	path string
	now  func() time.Time
}

// NewFileStore returns a store backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, now: time.Now}
}

// Path returns the record location.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads and parses the record.
func (s *FileStore) Load() (Position, time.Time, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Position{}, time.Time{}, fmt.Errorf("%w at %s", ErrNoRecord, s.path)
	}
	if err != nil {
		return Position{}, time.Time{}, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	return parseRecord(data)
}

func parseRecord(data []byte) (Position, time.Time, error) {
	var written time.Time
	scan := bufio.NewScanner(bytes.NewReader(data))
	for scan.Scan() {
		line := strings.TrimSpace(scan.Text())
		if strings.HasPrefix(line, writtenPrefix) {
			if t, err := time.Parse(time.RFC3339, strings.TrimPrefix(line, writtenPrefix)); err == nil {
				written = t
			}
			continue
		}
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		rs, as, ok := strings.Cut(line, ",")
		if !ok {
			return Position{}, written, fmt.Errorf("%w: %q", ErrCorruptRecord, line)
		}
		r, err := strconv.Atoi(strings.TrimSpace(rs))
		if err != nil {
			return Position{}, written, fmt.Errorf("%w: radial %q", ErrCorruptRecord, rs)
		}
		a, err := strconv.Atoi(strings.TrimSpace(as))
		if err != nil {
			return Position{}, written, fmt.Errorf("%w: angular %q", ErrCorruptRecord, as)
		}
		return Position{Radial: r, Angular: a}, written, nil
	}
	return Position{}, written, fmt.Errorf("%w: no position line", ErrCorruptRecord)
}

// Save writes p to a temporary file beside the record and renames it into
// place, so a crash never leaves a half-written record.
func (s *FileStore) Save(p Position) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create record directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp*")
	if err != nil {
		return fmt.Errorf("failed to create temp record: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := writeRecord(tmp, p, s.now()); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write record: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace record: %w", err)
	}
	return nil
}

func writeRecord(w io.Writer, p Position, written time.Time) error {
	_, err := fmt.Fprintf(w, "%s\n%s%s\n%d,%d\n",
		recordHeader, writtenPrefix, written.UTC().Format(time.RFC3339), p.Radial, p.Angular)
	return err
}

// MemoryStore keeps the position in memory, for tests and simulated runs.
type MemoryStore struct {
	mu      sync.Mutex
	pos     Position
	written time.Time
	saved   bool
	saves   int
}

// NewMemoryStore returns an empty store. Pass a position to start with a
// saved record.
func NewMemoryStore(initial ...Position) *MemoryStore {
	s := &MemoryStore{}
	if len(initial) > 0 {
		s.pos = initial[0]
		s.written = time.Now()
		s.saved = true
	}
	return s
}

func (s *MemoryStore) Load() (Position, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.saved {
		return Position{}, time.Time{}, ErrNoRecord
	}
	return s.pos, s.written, nil
}

func (s *MemoryStore) Save(p Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pos = p
	s.written = time.Now()
	s.saved = true
	s.saves++
	return nil
}

// Saves counts calls to Save.
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}
