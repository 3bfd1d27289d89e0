// Package memory implements the simulator's physical memory model: a paged
// frame table or a contiguous block list, per-process allocation records,
// fragmentation accounting, and an append-only backing-store journal
// written when a terminated process's frames are paged out.
package memory

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/example/os_sim/policy"
)

// Mode selects the allocation model.
type Mode int

const (
	Paged Mode = iota
	Contiguous
)

func (m Mode) String() string {
	if m == Contiguous {
		return "Flat"
	}
	return "Paging"
}

// Logger is the slice of the ambient logger the manager needs.
type Logger interface {
	Warnf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Warnf(string, ...any) {}

// Frame is a paging cell.
type Frame struct {
	Number      int
	Free        bool
	ProcessID   int
	ProcessName string
	SizeKiB     int
	AllocatedAt time.Time
}

// Block is a contiguous-mode cell. The block list is kept as a sorted,
// gap-free partition of [0, total).
type Block struct {
	Start       int
	SizeKiB     int
	Free        bool
	ProcessID   int
	ProcessName string
	AllocatedAt time.Time
}

// Record is the per-process allocation metadata.
type Record struct {
	ProcessID    int
	ProcessName  string
	RequiredKiB  int
	AllocatedKiB int
	Frames       []int
	StartAddr    int
	NumPages     int
	AllocatedAt  time.Time
}

// Config holds manager construction parameters. Sizes are KiB.
type Config struct {
	TotalKiB      int
	FrameKiB      int
	MinPerProcKiB int
	MaxPerProcKiB int
	Mode          Mode
	Placement     policy.Placement

	// BackingStorePath locates the eviction journal. Empty disables the
	// journal (used by a few tests).
	BackingStorePath string
}

// Stats is a by-value snapshot of the manager's counters.
type Stats struct {
	Mode        Mode
	Policy      string
	TotalKiB    int
	UsedKiB     int
	FreeKiB     int
	Utilization float64

	ActiveProcesses    int
	AllocationFailures int

	// Paged mode
	TotalFrames     int
	UsedFrames      int
	FreeFrames      int
	FrameKiB        int
	PagesPagedIn    int
	PagesPagedOut   int
	InternalFragKiB int

	// Contiguous mode
	BlockCount      int
	ExternalFragKiB int
}

// Manager owns all memory state behind a single mutex.
type Manager struct {
	mu  sync.Mutex
	cfg Config
	log Logger
	now func() time.Time

	frames  []Frame
	blocks  []Block
	records map[int]Record

	usedKiB            int
	activeProcesses    int
	allocationFailures int
	pagesPagedIn       int
	pagesPagedOut      int
}

// Option adjusts manager construction.
type Option func(*Manager)

// WithLogger routes manager warnings through the given logger.
func WithLogger(l Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithNow overrides the timestamp source (tests).
func WithNow(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// New validates cfg, builds the frame table or the initial free block, and
// truncates the backing-store file with its header.
func New(cfg Config, opts ...Option) (*Manager, error) {
	if cfg.TotalKiB < 1 {
		return nil, fmt.Errorf("total memory must be at least 1 KiB, got %d", cfg.TotalKiB)
	}
	if cfg.FrameKiB < 1 || cfg.FrameKiB > cfg.TotalKiB {
		return nil, fmt.Errorf("frame size must be within [1,%d] KiB, got %d", cfg.TotalKiB, cfg.FrameKiB)
	}
	if cfg.MinPerProcKiB < 1 || cfg.MaxPerProcKiB < cfg.MinPerProcKiB || cfg.MaxPerProcKiB > cfg.TotalKiB {
		return nil, fmt.Errorf("per-process range invalid: min=%d max=%d total=%d",
			cfg.MinPerProcKiB, cfg.MaxPerProcKiB, cfg.TotalKiB)
	}
	if cfg.Placement == nil {
		cfg.Placement = policy.FirstFit()
	}

	m := &Manager{
		cfg:     cfg,
		log:     nopLogger{},
		now:     time.Now,
		records: make(map[int]Record),
	}
	for _, opt := range opts {
		opt(m)
	}

	if cfg.Mode == Paged {
		numFrames := cfg.TotalKiB / cfg.FrameKiB
		m.frames = make([]Frame, numFrames)
		for i := range m.frames {
			m.frames[i] = Frame{Number: i, Free: true, ProcessID: -1}
		}
	} else {
		m.blocks = []Block{{Start: 0, SizeKiB: cfg.TotalKiB, Free: true, ProcessID: -1}}
	}

	m.initBackingStore()
	return m, nil
}

func (m *Manager) initBackingStore() {
	if m.cfg.BackingStorePath == "" {
		return
	}
	f, err := os.Create(m.cfg.BackingStorePath)
	if err != nil {
		m.log.Warnf("could not initialize backing store file at %q: %v", m.cfg.BackingStorePath, err)
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "CSOPESY Backing Store\n")
	fmt.Fprintf(f, "FrameSizeKB %d\n", m.cfg.FrameKiB)
	fmt.Fprintf(f, "MaxMemoryKB %d\n\n", m.cfg.TotalKiB)
}

// Allocate reserves memory for a process. It returns false, never an
// error: duplicate pids, and exhaustion all map to a refused allocation,
// with exhaustion ticking the failure counter.
func (m *Manager) Allocate(pid int, name string, requestKiB int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.records[pid]; exists {
		return false
	}

	if requestKiB < m.cfg.MinPerProcKiB {
		requestKiB = m.cfg.MinPerProcKiB
	}
	if requestKiB > m.cfg.MaxPerProcKiB {
		requestKiB = m.cfg.MaxPerProcKiB
	}

	rec := Record{
		ProcessID:   pid,
		ProcessName: name,
		RequiredKiB: requestKiB,
		AllocatedAt: m.now(),
	}

	if m.cfg.Mode == Paged {
		if !m.allocatePagedLocked(&rec) {
			m.allocationFailures++
			return false
		}
	} else {
		if !m.allocateContiguousLocked(&rec) {
			m.allocationFailures++
			return false
		}
	}

	m.usedKiB += rec.AllocatedKiB
	m.activeProcesses++
	m.records[pid] = rec
	return true
}

func (m *Manager) allocatePagedLocked(rec *Record) bool {
	pages := (rec.RequiredKiB + m.cfg.FrameKiB - 1) / m.cfg.FrameKiB

	free := make([]int, 0, pages)
	for i := range m.frames {
		if m.frames[i].Free {
			free = append(free, i)
			if len(free) == pages {
				break
			}
		}
	}
	if len(free) < pages {
		return false
	}

	ts := m.now()
	for i, idx := range free {
		size := m.cfg.FrameKiB
		if i == pages-1 {
			size = rec.RequiredKiB - i*m.cfg.FrameKiB
		}
		m.frames[idx] = Frame{
			Number:      m.frames[idx].Number,
			Free:        false,
			ProcessID:   rec.ProcessID,
			ProcessName: rec.ProcessName,
			SizeKiB:     size,
			AllocatedAt: ts,
		}
		rec.Frames = append(rec.Frames, m.frames[idx].Number)
	}
	rec.NumPages = pages
	rec.AllocatedKiB = pages * m.cfg.FrameKiB
	return true
}

func (m *Manager) allocateContiguousLocked(rec *Record) bool {
	views := make([]policy.BlockView, len(m.blocks))
	for i, b := range m.blocks {
		views[i] = policy.BlockView{Index: i, Size: b.SizeKiB, Free: b.Free}
	}
	idx := m.cfg.Placement.Choose(views, rec.RequiredKiB)
	if idx < 0 || idx >= len(m.blocks) {
		return false
	}

	chosen := &m.blocks[idx]
	rec.StartAddr = chosen.Start
	rec.AllocatedKiB = rec.RequiredKiB

	if chosen.SizeKiB > rec.RequiredKiB {
		rest := Block{
			Start:     chosen.Start + rec.RequiredKiB,
			SizeKiB:   chosen.SizeKiB - rec.RequiredKiB,
			Free:      true,
			ProcessID: -1,
		}
		m.blocks = append(m.blocks, Block{})
		copy(m.blocks[idx+2:], m.blocks[idx+1:])
		m.blocks[idx+1] = rest
		chosen = &m.blocks[idx]
	}

	chosen.SizeKiB = rec.RequiredKiB
	chosen.Free = false
	chosen.ProcessID = rec.ProcessID
	chosen.ProcessName = rec.ProcessName
	chosen.AllocatedAt = m.now()
	return true
}

// Deallocate releases a process's memory. Paged frames are journaled to
// the backing store before being cleared; a journal write failure warns
// but never blocks the in-memory release.
func (m *Manager) Deallocate(pid int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[pid]
	if !ok {
		return false
	}

	if m.cfg.Mode == Paged {
		for _, frameNum := range rec.Frames {
			if m.journalFrameLocked(frameNum) {
				m.pagesPagedOut++
			}
			m.frames[frameNum].Free = true
			m.frames[frameNum].ProcessID = -1
			m.frames[frameNum].ProcessName = ""
			m.frames[frameNum].SizeKiB = 0
		}
	} else {
		for i := range m.blocks {
			if m.blocks[i].ProcessID == pid {
				m.blocks[i].Free = true
				m.blocks[i].ProcessID = -1
				m.blocks[i].ProcessName = ""
				break
			}
		}
		m.coalesceLocked()
	}

	m.usedKiB -= rec.AllocatedKiB
	m.activeProcesses--
	delete(m.records, pid)
	return true
}

// journalFrameLocked appends one FRAME line for a still-owned frame.
func (m *Manager) journalFrameLocked(frameNum int) bool {
	if m.cfg.BackingStorePath == "" {
		return true
	}
	if frameNum < 0 || frameNum >= len(m.frames) {
		return false
	}
	frame := m.frames[frameNum]
	if frame.Free {
		return false
	}

	f, err := os.OpenFile(m.cfg.BackingStorePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		m.log.Warnf("could not open backing store %q for append: %v", m.cfg.BackingStorePath, err)
		return false
	}
	defer f.Close()

	_, err = fmt.Fprintf(f, "FRAME %d PID %d NAME %s SIZEKB %d TIME %s\n",
		frame.Number, frame.ProcessID, frame.ProcessName, frame.SizeKiB,
		m.now().Format(time.ANSIC))
	if err != nil {
		m.log.Warnf("backing store append failed: %v", err)
		return false
	}
	return true
}

// coalesceLocked merges adjacent free block pairs until stable.
func (m *Manager) coalesceLocked() {
	for i := 0; i < len(m.blocks)-1; {
		if m.blocks[i].Free && m.blocks[i+1].Free {
			m.blocks[i].SizeKiB += m.blocks[i+1].SizeKiB
			m.blocks = append(m.blocks[:i+1], m.blocks[i+2:]...)
		} else {
			i++
		}
	}
}

// Allocated reports whether pid currently holds memory.
func (m *Manager) Allocated(pid int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.records[pid]
	return ok
}

// RecordFor returns a copy of the process's allocation record.
func (m *Manager) RecordFor(pid int) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[pid]
	if !ok {
		return Record{}, false
	}
	framesCopy := make([]int, len(rec.Frames))
	copy(framesCopy, rec.Frames)
	rec.Frames = framesCopy
	return rec, true
}

// Frames returns a copy of the frame table (paged mode).
func (m *Manager) Frames() []Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Frame, len(m.frames))
	copy(out, m.frames)
	return out
}

// Blocks returns a copy of the block list (contiguous mode).
func (m *Manager) Blocks() []Block {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Block, len(m.blocks))
	copy(out, m.blocks)
	return out
}

// Snapshot returns the current counters and fragmentation figures.
func (m *Manager) Snapshot() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Stats{
		Mode:               m.cfg.Mode,
		Policy:             m.cfg.Placement.Name(),
		TotalKiB:           m.cfg.TotalKiB,
		UsedKiB:            m.usedKiB,
		FreeKiB:            m.cfg.TotalKiB - m.usedKiB,
		ActiveProcesses:    m.activeProcesses,
		AllocationFailures: m.allocationFailures,
		FrameKiB:           m.cfg.FrameKiB,
	}
	if m.cfg.TotalKiB > 0 {
		st.Utilization = float64(m.usedKiB) / float64(m.cfg.TotalKiB)
	}

	if m.cfg.Mode == Paged {
		st.TotalFrames = len(m.frames)
		for _, f := range m.frames {
			if f.Free {
				st.FreeFrames++
			}
		}
		st.UsedFrames = st.TotalFrames - st.FreeFrames
		st.PagesPagedIn = m.pagesPagedIn
		st.PagesPagedOut = m.pagesPagedOut
		for _, rec := range m.records {
			if rec.AllocatedKiB > rec.RequiredKiB {
				st.InternalFragKiB += rec.AllocatedKiB - rec.RequiredKiB
			}
		}
	} else {
		st.BlockCount = len(m.blocks)
		totalFree := 0
		largestFree := 0
		for _, b := range m.blocks {
			if b.Free {
				totalFree += b.SizeKiB
				if b.SizeKiB > largestFree {
					largestFree = b.SizeKiB
				}
			}
		}
		if largestFree < totalFree {
			st.ExternalFragKiB = totalFree - largestFree
		}
	}
	return st
}

// MinPerProc returns the configured per-process lower bound in KiB.
func (m *Manager) MinPerProc() int { return m.cfg.MinPerProcKiB }

// MaxPerProc returns the configured per-process upper bound in KiB.
func (m *Manager) MaxPerProc() int { return m.cfg.MaxPerProcKiB }
