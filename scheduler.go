package main

import (
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/example/os_sim/hooks"
	"github.com/example/os_sim/memory"
	"github.com/example/os_sim/queue"
)

// SchedulerCounts is the by-value roster summary.
type SchedulerCounts struct {
	Queued       int   `json:"queued"`
	Running      int   `json:"running"`
	Finished     int   `json:"finished"`
	TotalCreated int   `json:"totalCreated"`
	Cycle        int64 `json:"cycle"`
}

// Scheduler owns the cores and the three process lists. One worker drives
// the cycle loop; a second, optional worker generates processes. Lock
// order inside a cycle is always ready queue, then running, then finished.
type Scheduler struct {
	cfg *SystemConfig

	coreMu sync.Mutex
	cores  []*CPUCore

	ready *queue.ReadyQueue[*Process]

	runningMu sync.Mutex
	running   []*Process

	finishedMu sync.Mutex
	finished   []*Process
	swept      map[int]struct{}

	clock  CycleClock
	sink   *LogSink
	broker *hooks.Broker
	mem    *memory.Manager

	generator ProgramGenerator
	rngMu     sync.Mutex
	rng       *rand.Rand

	nextID      atomic.Int64
	cycle       atomic.Int64
	loopRunning atomic.Bool
	generating  atomic.Bool
	startedAt   time.Time
	loopDone    chan struct{}
	genDone     chan struct{}
}

// NewScheduler wires the scheduler. mem may be nil when memory binding is
// not wanted (some tests); broker may be nil to disable events.
func NewScheduler(cfg *SystemConfig, mem *memory.Manager, sink *LogSink, broker *hooks.Broker, clock CycleClock, gen ProgramGenerator, rng *rand.Rand) *Scheduler {
	if clock == nil {
		clock = NewWallClock()
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if gen == nil {
		gen = NewBasicProgramGenerator(rng)
	}
	s := &Scheduler{
		cfg:       cfg,
		ready:     queue.NewReadyQueue[*Process]("ready", queue.UnlimitedCapacity, queue.Hooks[*Process]{}),
		swept:     make(map[int]struct{}),
		clock:     clock,
		sink:      sink,
		broker:    broker,
		mem:       mem,
		generator: gen,
		rng:       rng,
	}
	for i := 0; i < cfg.NumCPUs; i++ {
		s.cores = append(s.cores, NewCPUCore(i))
	}
	return s
}

// CreateProcess mints a process over program, allocates its memory, and
// initializes its log file. It does not submit. memoryKiB is clamped by
// the memory manager; the resulting page records land on the process.
func (s *Scheduler) CreateProcess(name string, program []Instruction, memoryKiB int) (*Process, error) {
	id := int(s.nextID.Add(1) - 1)
	p := NewProcess(id, name, program, memoryKiB, s.clock.Now(), rand.New(rand.NewSource(int64(id)+1)))

	if s.mem != nil {
		if !s.mem.Allocate(id, name, memoryKiB) {
			return nil, fmt.Errorf("memory allocation of %d KiB for %q refused", memoryKiB, name)
		}
		if rec, ok := s.mem.RecordFor(id); ok {
			p.setPageRecords(rec.Frames)
		}
	}

	if s.sink != nil {
		path, err := s.sink.Init(name)
		if err != nil {
			GetLogger().Warnf("log init for %q: %v", name, err)
		}
		p.setLogPath(path)
	}
	return p, nil
}

// Submit enqueues an already-created process. No-op on nil; duplicate
// names are allowed and resolved at lookup time by most-recent.
func (s *Scheduler) Submit(p *Process) {
	if p == nil {
		return
	}
	p.setState(StateReady)
	s.ready.Enqueue(p, int(s.cycle.Load()))
	s.emit(hooks.EventAdmitted, p, -1)
}

// Start launches the cycle worker. Idempotent.
func (s *Scheduler) Start() {
	if !s.loopRunning.CompareAndSwap(false, true) {
		return
	}
	s.startedAt = time.Now()
	s.loopDone = make(chan struct{})
	go func() {
		defer close(s.loopDone)
		for s.loopRunning.Load() {
			s.RunCycle()
			s.clock.WaitCycle()
		}
	}()
}

// Stop ends the cycle loop cooperatively: the worker exits at most one
// cycle after the flag drops. In-flight processes stay Running. Idempotent.
func (s *Scheduler) Stop() {
	if !s.loopRunning.CompareAndSwap(true, false) {
		return
	}
	if s.loopDone != nil {
		<-s.loopDone
	}
	s.StopGeneration()
}

// StartGeneration launches the background process generator. Idempotent.
func (s *Scheduler) StartGeneration() {
	if !s.generating.CompareAndSwap(false, true) {
		return
	}
	s.genDone = make(chan struct{})
	go func() {
		defer close(s.genDone)
		interval := time.Duration(s.cfg.BatchProcessFreq) * time.Second
		for {
			// Sleep in short slices so StopGeneration takes effect quickly.
			deadline := time.Now().Add(interval)
			for time.Now().Before(deadline) {
				if !s.generating.Load() {
					return
				}
				time.Sleep(50 * time.Millisecond)
			}
			if !s.generating.Load() {
				return
			}
			if _, err := s.GenerateOne(); err != nil {
				GetLogger().Warnf("generator: %v", err)
			}
		}
	}()
}

// StopGeneration halts the generator. Idempotent.
func (s *Scheduler) StopGeneration() {
	if !s.generating.CompareAndSwap(true, false) {
		return
	}
	if s.genDone != nil {
		<-s.genDone
	}
}

// Running reports whether the cycle worker is active.
func (s *Scheduler) Running() bool { return s.loopRunning.Load() }

// Generating reports whether the generator worker is active.
func (s *Scheduler) Generating() bool { return s.generating.Load() }

// GenerateOne mints, allocates, and submits one auto-generated process.
func (s *Scheduler) GenerateOne() (*Process, error) {
	s.rngMu.Lock()
	count := s.cfg.MinInstructions + s.rng.Intn(s.cfg.MaxInstructions-s.cfg.MinInstructions+1)
	memKiB := 0
	if s.mem != nil {
		memKiB = s.mem.MinPerProc() + s.rng.Intn(s.mem.MaxPerProc()-s.mem.MinPerProc()+1)
	}
	s.rngMu.Unlock()

	name := fmt.Sprintf("Process_%d", s.nextID.Load())
	program := s.generator.Generate(name, count)
	p, err := s.CreateProcess(name, program, memKiB)
	if err != nil {
		return nil, err
	}
	s.emit(hooks.EventGenerated, p, -1)
	s.Submit(p)
	return p, nil
}

// RunCycle executes one full scheduler cycle: admit, execute, retire,
// preempt. Public so tests (and the step command) can drive cycles
// synchronously on a manual clock; never call it while the loop worker is
// running.
func (s *Scheduler) RunCycle() {
	cycle := int(s.cycle.Add(1))
	now := s.clock.Now()

	s.coreMu.Lock()
	defer s.coreMu.Unlock()

	// Admit: fill idle cores from the queue head.
	for _, core := range s.cores {
		if !core.Idle() {
			continue
		}
		p, ok := s.ready.PopFront(cycle)
		if !ok {
			break
		}
		p.markStarted(now, cycle)
		core.Assign(p)
		s.appendRunning(p)
		s.emit(hooks.EventDispatched, p, core.ID())
	}

	// Execute, then retire or preempt, core by core in id order. A
	// process that finishes exactly at quantum expiry retires; it is not
	// requeued.
	for _, core := range s.cores {
		if core.Idle() {
			continue
		}
		p := core.Process()
		res := core.Tick(s.cfg.DelayPerExec)
		if res.Executed && res.LogText != "" && s.sink != nil {
			msg := res.LogText
			if res.ShowX {
				msg = fmt.Sprintf("%s | X = %d", msg, res.XValue)
			}
			s.sink.Append(p.Snapshot().LogPath, now, core.ID(), msg)
		}

		if core.ProcessFinished() {
			s.retire(core, p, now, cycle)
		} else if s.cfg.SchedulerType == SchedulerRR && core.ExecutedInQuantum() >= s.cfg.QuantumCycles {
			// A quantum expiry with nobody waiting keeps the process on
			// its core; only the counter restarts.
			if s.ready.Len() == 0 {
				core.ResetQuantum()
			} else {
				s.preempt(core, p, cycle)
			}
		}
	}
}

func (s *Scheduler) retire(core *CPUCore, p *Process, now time.Time, cycle int) {
	p.setState(StateFinished)
	p.markFinished(now, cycle)

	s.finishedMu.Lock()
	s.finished = append(s.finished, p)
	s.finishedMu.Unlock()

	s.removeRunning(p)
	core.Release()
	s.emit(hooks.EventRetired, p, core.ID())
}

func (s *Scheduler) preempt(core *CPUCore, p *Process, cycle int) {
	p.setState(StateReady)
	s.removeRunning(p)
	s.ready.Enqueue(p, cycle)
	core.Release()
	s.emit(hooks.EventPreempted, p, core.ID())
}

func (s *Scheduler) appendRunning(p *Process) {
	s.runningMu.Lock()
	s.running = append(s.running, p)
	s.runningMu.Unlock()
}

func (s *Scheduler) removeRunning(p *Process) {
	s.runningMu.Lock()
	for i, q := range s.running {
		if q == p {
			s.running = append(s.running[:i], s.running[i+1:]...)
			break
		}
	}
	s.runningMu.Unlock()
}

func (s *Scheduler) emit(t hooks.EventType, p *Process, coreID int) {
	if s.broker == nil {
		return
	}
	s.broker.Emit(hooks.Event{
		Type:        t,
		Cycle:       int(s.cycle.Load()),
		ProcessID:   p.ID(),
		ProcessName: p.Name(),
		CoreID:      coreID,
	})
}

// Find returns the most recent process with the given name, searching the
// running list first and then the finished list. The ready queue is not
// searchable; it stays opaque.
func (s *Scheduler) Find(name string) (ProcessView, bool) {
	s.runningMu.Lock()
	for i := len(s.running) - 1; i >= 0; i-- {
		if s.running[i].Name() == name {
			p := s.running[i]
			s.runningMu.Unlock()
			return p.Snapshot(), true
		}
	}
	s.runningMu.Unlock()

	s.finishedMu.Lock()
	defer s.finishedMu.Unlock()
	for i := len(s.finished) - 1; i >= 0; i-- {
		if s.finished[i].Name() == name {
			return s.finished[i].Snapshot(), true
		}
	}
	return ProcessView{}, false
}

// SnapshotRunning clones the running roster.
func (s *Scheduler) SnapshotRunning() []ProcessView {
	s.runningMu.Lock()
	procs := make([]*Process, len(s.running))
	copy(procs, s.running)
	s.runningMu.Unlock()

	out := make([]ProcessView, len(procs))
	for i, p := range procs {
		out[i] = p.Snapshot()
	}
	return out
}

// SnapshotFinished clones the finished roster.
func (s *Scheduler) SnapshotFinished() []ProcessView {
	s.finishedMu.Lock()
	procs := make([]*Process, len(s.finished))
	copy(procs, s.finished)
	s.finishedMu.Unlock()

	out := make([]ProcessView, len(procs))
	for i, p := range procs {
		out[i] = p.Snapshot()
	}
	return out
}

// Counts summarizes the rosters.
func (s *Scheduler) Counts() SchedulerCounts {
	s.runningMu.Lock()
	running := len(s.running)
	s.runningMu.Unlock()
	s.finishedMu.Lock()
	finished := len(s.finished)
	s.finishedMu.Unlock()
	return SchedulerCounts{
		Queued:       s.ready.Len(),
		Running:      running,
		Finished:     finished,
		TotalCreated: int(s.nextID.Load()),
		Cycle:        s.cycle.Load(),
	}
}

// CurrentCycle returns the cycle counter.
func (s *Scheduler) CurrentCycle() int64 { return s.cycle.Load() }

// Elapsed returns wall time since Start.
func (s *Scheduler) Elapsed() time.Duration {
	if s.startedAt.IsZero() {
		return 0
	}
	return time.Since(s.startedAt)
}

// CoreStates reports, per core, whether it is busy and which process it
// holds (-1 when idle).
func (s *Scheduler) CoreStates() []CoreState {
	s.coreMu.Lock()
	defer s.coreMu.Unlock()
	out := make([]CoreState, len(s.cores))
	for i, c := range s.cores {
		st := CoreState{ID: c.ID(), Busy: !c.Idle(), ProcessID: -1}
		if p := c.Process(); p != nil {
			st.ProcessID = p.ID()
			st.ProcessName = p.Name()
		}
		out[i] = st
	}
	return out
}

// CoreState is the per-core report row.
type CoreState struct {
	ID          int    `json:"id"`
	Busy        bool   `json:"busy"`
	ProcessID   int    `json:"processId"`
	ProcessName string `json:"processName,omitempty"`
}

// CPUUtilization returns busy cores over total cores, in [0,100].
func (s *Scheduler) CPUUtilization() float64 {
	states := s.CoreStates()
	if len(states) == 0 {
		return 0
	}
	busy := 0
	for _, st := range states {
		if st.Busy {
			busy++
		}
	}
	return float64(busy) / float64(len(states)) * 100
}

// SweepFinished deallocates memory for every finished process not yet
// swept. Idempotent per process id.
func (s *Scheduler) SweepFinished(mem *memory.Manager) int {
	if mem == nil {
		return 0
	}
	s.finishedMu.Lock()
	defer s.finishedMu.Unlock()

	swept := 0
	for _, p := range s.finished {
		if _, done := s.swept[p.ID()]; done {
			continue
		}
		if mem.Deallocate(p.ID()) {
			p.markPagedOut()
			swept++
		}
		s.swept[p.ID()] = struct{}{}
		s.emit(hooks.EventSwept, p, -1)
	}
	return swept
}
