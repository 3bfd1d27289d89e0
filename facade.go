package main

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/example/os_sim/hooks"
	"github.com/example/os_sim/memory"
	"github.com/example/os_sim/policy"
)

// Default file locations, matching the original tool.
const (
	DefaultConfigPath       = "config.txt"
	DefaultLogDir           = "logs"
	DefaultBackingStorePath = "csopesy-backing-store.txt"
	DefaultReportPath       = "csopesy-log.txt"
)

// Custom-program submission limits.
const (
	customProgramMaxInstructions = 50
	customMemMinKiB              = 64
	customMemMaxKiB              = 65536
)

// Facade is the command-facing surface over the scheduler and the memory
// manager. Construction is cheap; nothing runs until Initialize succeeds.
type Facade struct {
	ConfigPath       string
	LogDir           string
	BackingStorePath string
	ReportPath       string

	// Clock overrides the scheduler pacing (tests use a ManualClock).
	Clock CycleClock
	// AutoStart controls whether Initialize starts the cycle worker.
	// Tests that drive cycles through StepCycles leave it false.
	AutoStart bool

	cfg    *SystemConfig
	sched  *Scheduler
	mem    *memory.Manager
	sink   *LogSink
	broker *hooks.Broker
	rng    *rand.Rand
	ready  bool
}

// NewFacade returns a facade with the default paths, auto-starting the
// scheduler on Initialize.
func NewFacade() *Facade {
	return &Facade{
		ConfigPath:       DefaultConfigPath,
		LogDir:           DefaultLogDir,
		BackingStorePath: DefaultBackingStorePath,
		ReportPath:       DefaultReportPath,
		AutoStart:        true,
	}
}

// Ready reports whether Initialize has succeeded.
func (f *Facade) Ready() bool { return f.ready }

// Scheduler exposes the scheduler to the monitor; nil before Initialize.
func (f *Facade) Scheduler() *Scheduler { return f.sched }

// Memory exposes the memory manager; nil before Initialize.
func (f *Facade) Memory() *memory.Manager { return f.mem }

// Broker exposes the event broker; nil before Initialize.
func (f *Facade) Broker() *hooks.Broker { return f.broker }

// Initialize loads and validates the configuration, constructs the memory
// manager (paged, first-fit) and the scheduler, and starts the cycle
// loop when AutoStart is set. A validation failure leaves the system
// un-ready.
func (f *Facade) Initialize() error {
	if f.ready {
		return errors.New("already initialized")
	}

	cfg, err := LoadConfig(f.ConfigPath)
	if err != nil {
		return err
	}
	if err := ValidateConfig(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	mem, err := memory.New(memory.Config{
		TotalKiB:         cfg.MaxOverallMem,
		FrameKiB:         cfg.MemPerFrame,
		MinPerProcKiB:    cfg.MinMemPerProc,
		MaxPerProcKiB:    cfg.MaxMemPerProc,
		Mode:             memory.Paged,
		Placement:        policy.FirstFit(),
		BackingStorePath: f.BackingStorePath,
	}, memory.WithLogger(GetLogger()))
	if err != nil {
		return fmt.Errorf("memory manager: %w", err)
	}

	sink, err := NewLogSink(f.LogDir, defaultMaxOpenLogs)
	if err != nil {
		return err
	}

	f.cfg = cfg
	f.mem = mem
	f.sink = sink
	f.broker = hooks.NewBroker()
	f.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	f.sched = NewScheduler(cfg, mem, sink, f.broker, f.Clock, nil, f.rng)
	f.ready = true

	cfg.Display()
	if f.AutoStart {
		f.sched.Start()
	}
	return nil
}

// Shutdown stops workers and releases file handles.
func (f *Facade) Shutdown() {
	if !f.ready {
		return
	}
	f.sched.Stop()
	f.sink.Close()
	GetLogger().Sync()
}

func (f *Facade) requireReady() error {
	if !f.ready {
		return errors.New("system not initialized; run 'initialize' first")
	}
	return nil
}

// SubmitProcess implements screen -s: allocate, auto-generate a program,
// submit. The instruction count is drawn from the configured range.
func (f *Facade) SubmitProcess(name string, memKiB int) (ProcessView, error) {
	if err := f.requireReady(); err != nil {
		return ProcessView{}, err
	}
	if name == "" {
		return ProcessView{}, errors.New("process name required")
	}
	count := f.cfg.MinInstructions + f.rng.Intn(f.cfg.MaxInstructions-f.cfg.MinInstructions+1)
	program := NewBasicProgramGenerator(f.rng).Generate(name, count)

	p, err := f.sched.CreateProcess(name, program, memKiB)
	if err != nil {
		return ProcessView{}, err
	}
	f.sched.Submit(p)
	return p.Snapshot(), nil
}

// SubmitCustom implements screen -c: a user-authored program of 1..50
// semicolon-separated instructions, with a power-of-two memory request.
func (f *Facade) SubmitCustom(name string, memKiB int, src string) (ProcessView, error) {
	if err := f.requireReady(); err != nil {
		return ProcessView{}, err
	}
	if name == "" {
		return ProcessView{}, errors.New("process name required")
	}
	if memKiB < customMemMinKiB || memKiB > customMemMaxKiB || memKiB&(memKiB-1) != 0 {
		return ProcessView{}, fmt.Errorf("memory size must be a power of two in [%d,%d], got %d",
			customMemMinKiB, customMemMaxKiB, memKiB)
	}
	program := ParseProgram(src)
	if len(program) < 1 || len(program) > customProgramMaxInstructions {
		return ProcessView{}, fmt.Errorf("program must have 1..%d instructions, got %d",
			customProgramMaxInstructions, len(program))
	}

	p, err := f.sched.CreateProcess(name, program, memKiB)
	if err != nil {
		return ProcessView{}, err
	}
	f.sched.Submit(p)
	return p.Snapshot(), nil
}

// Attach implements screen -r: the process info followed by its log.
func (f *Facade) Attach(name string) (string, error) {
	if err := f.requireReady(); err != nil {
		return "", err
	}
	v, ok := f.sched.Find(name)
	if !ok {
		return "", fmt.Errorf("process %q not found", name)
	}
	var b strings.Builder
	b.WriteString(formatProcessInfo(v, f.mem))
	if v.LogPath != "" {
		data, err := os.ReadFile(v.LogPath)
		if err != nil {
			GetLogger().Warnf("could not read log %q: %v", v.LogPath, err)
		} else {
			b.WriteString("\n")
			b.Write(data)
		}
	}
	return b.String(), nil
}

// StartGeneration / StopGeneration toggle the background generator.
func (f *Facade) StartGeneration() error {
	if err := f.requireReady(); err != nil {
		return err
	}
	f.sched.StartGeneration()
	return nil
}

func (f *Facade) StopGeneration() error {
	if err := f.requireReady(); err != nil {
		return err
	}
	f.sched.StopGeneration()
	return nil
}

// ScreenLS renders the process list view.
func (f *Facade) ScreenLS() (string, error) {
	if err := f.requireReady(); err != nil {
		return "", err
	}
	return FormatScreenLS(f.sched), nil
}

// VMStat renders memory statistics, sweeping finished processes first so
// the figures reflect releasable memory.
func (f *Facade) VMStat(verbose bool) (string, error) {
	if err := f.requireReady(); err != nil {
		return "", err
	}
	f.sched.SweepFinished(f.mem)
	return FormatVMStat(f.mem, verbose), nil
}

// ProcessSMI renders the global or per-process overview.
func (f *Facade) ProcessSMI(name string) (string, error) {
	if err := f.requireReady(); err != nil {
		return "", err
	}
	return FormatProcessSMI(f.sched, f.mem, name), nil
}

// ReportUtil writes the utilization report file.
func (f *Facade) ReportUtil() (string, error) {
	if err := f.requireReady(); err != nil {
		return "", err
	}
	if err := WriteUtilizationReport(f.sched, f.mem, f.ReportPath); err != nil {
		return "", err
	}
	return f.ReportPath, nil
}

// Sweep deallocates memory of finished processes (deferred sweep).
func (f *Facade) Sweep() (int, error) {
	if err := f.requireReady(); err != nil {
		return 0, err
	}
	return f.sched.SweepFinished(f.mem), nil
}

// StepCycles drives n cycles synchronously. Only legal while the cycle
// worker is stopped (manual-clock runs).
func (f *Facade) StepCycles(n int) error {
	if err := f.requireReady(); err != nil {
		return err
	}
	if f.sched.Running() {
		return errors.New("cycle worker is running; stop it before stepping")
	}
	for i := 0; i < n; i++ {
		f.sched.RunCycle()
	}
	return nil
}
