package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// logTimestampLayout renders (MM/DD/YYYY, HH:MM:SS AM/PM) log lines.
const logTimestampLayout = "01/02/2006, 03:04:05 PM"

// defaultMaxOpenLogs bounds how many per-process log files stay open at
// once; the generator can mint processes far faster than fds should grow.
const defaultMaxOpenLogs = 64

// LogSink owns the per-process log files under a directory. Files are
// append-only after their header; an LRU of open handles keeps descriptor
// usage bounded, with eviction closing the handle (appends reopen).
type LogSink struct {
	mu      sync.Mutex
	dir     string
	handles *lru.Cache[string, *os.File]
}

// NewLogSink creates the directory and the handle cache.
func NewLogSink(dir string, maxOpen int) (*LogSink, error) {
	if maxOpen < 1 {
		maxOpen = defaultMaxOpenLogs
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir %q: %w", dir, err)
	}
	cache, err := lru.NewWithEvict[string, *os.File](maxOpen, func(_ string, f *os.File) {
		f.Close()
	})
	if err != nil {
		return nil, err
	}
	return &LogSink{dir: dir, handles: cache}, nil
}

// Init truncates the process's log file and writes the two-line header.
// It returns the log path; the file itself stays open in the cache.
func (s *LogSink) Init(processName string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, processName+".txt")
	if f, ok := s.handles.Get(path); ok {
		f.Close()
		s.handles.Remove(path)
	}
	f, err := os.Create(path)
	if err != nil {
		return path, fmt.Errorf("create log %q: %w", path, err)
	}
	if _, err := fmt.Fprintf(f, "Process: %s\nLogs:\n", processName); err != nil {
		f.Close()
		return path, fmt.Errorf("write log header: %w", err)
	}
	s.handles.Add(path, f)
	return path, nil
}

// Append writes one execution log line. I/O failures warn and continue;
// log lines are never rewritten.
func (s *LogSink) Append(path string, ts time.Time, coreID int, text string) {
	if path == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.handles.Get(path)
	if !ok {
		var err error
		f, err = os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			GetLogger().Warnf("could not open log %q: %v", path, err)
			return
		}
		s.handles.Add(path, f)
	}
	if _, err := fmt.Fprintf(f, "(%s) Core:%d \"%s\"\n", ts.Format(logTimestampLayout), coreID, text); err != nil {
		GetLogger().Warnf("log append to %q failed: %v", path, err)
	}
}

// Close releases every cached handle.
func (s *LogSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handles.Purge()
}
