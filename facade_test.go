package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFacade(t *testing.T, configBody string) *Facade {
	t.Helper()
	dir := t.TempDir()
	f := NewFacade()
	f.ConfigPath = writeFile(t, "config.txt", configBody)
	f.LogDir = filepath.Join(dir, "logs")
	f.BackingStorePath = filepath.Join(dir, "backing-store.txt")
	f.ReportPath = filepath.Join(dir, "report.txt")
	f.Clock = NewManualClock(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	f.AutoStart = false
	t.Cleanup(f.Shutdown)
	return f
}

const singleCoreConfig = `
num-cpu 1
scheduler fcfs
delay-per-exec 0
min-ins 5
max-ins 5
`

func TestFacadeRequiresInitialization(t *testing.T) {
	f := newTestFacade(t, singleCoreConfig)

	_, err := f.ScreenLS()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not initialized")

	require.NoError(t, f.Initialize())
	_, err = f.ScreenLS()
	assert.NoError(t, err)
}

func TestFacadeRejectsInvalidConfig(t *testing.T) {
	f := newTestFacade(t, "num-cpu 0\n")
	err := f.Initialize()
	require.Error(t, err)
	assert.False(t, f.Ready())
}

func TestCustomProgramEndToEnd(t *testing.T) {
	f := newTestFacade(t, singleCoreConfig)
	require.NoError(t, f.Initialize())

	v, err := f.SubmitCustom("calc", 128, "DECLARE x 5; ADD y x x; PRINT y")
	require.NoError(t, err)
	assert.Equal(t, 3, v.Total)

	require.NoError(t, f.StepCycles(3))

	info, err := f.Attach("calc")
	require.NoError(t, err)
	assert.Contains(t, info, "State: Finished")
	assert.Contains(t, info, `"10"`, "PRINT y logs the computed value")
}

func TestSubmitCustomValidation(t *testing.T) {
	f := newTestFacade(t, singleCoreConfig)
	require.NoError(t, f.Initialize())

	_, err := f.SubmitCustom("p", 100, "PRINT x")
	assert.Error(t, err, "memory must be a power of two")

	_, err = f.SubmitCustom("p", 32, "PRINT x")
	assert.Error(t, err, "memory below the allowed range")

	_, err = f.SubmitCustom("p", 128, "FROB a; NOPE b")
	assert.Error(t, err, "all instructions dropped leaves an empty program")

	long := ""
	for i := 0; i < 51; i++ {
		long += "DECLARE v 1; "
	}
	_, err = f.SubmitCustom("p", 128, long)
	assert.Error(t, err, "more than 50 instructions")
}

func TestSubmitProcessGeneratesProgramAndAllocates(t *testing.T) {
	f := newTestFacade(t, singleCoreConfig)
	require.NoError(t, f.Initialize())

	v, err := f.SubmitProcess("auto", 48)
	require.NoError(t, err)
	assert.Equal(t, 5, v.Total, "min-ins=max-ins=5 pins the length")
	assert.True(t, f.Memory().Allocated(v.ID))

	require.NoError(t, f.StepCycles(5))
	got, ok := f.Scheduler().Find("auto")
	require.True(t, ok)
	assert.Equal(t, StateFinished, got.State)
}

func TestVMStatAndSweep(t *testing.T) {
	f := newTestFacade(t, singleCoreConfig)
	require.NoError(t, f.Initialize())

	v, err := f.SubmitProcess("worker", 64)
	require.NoError(t, err)
	require.NoError(t, f.StepCycles(5))

	// VMStat sweeps finished processes before reporting.
	out, err := f.VMStat(false)
	require.NoError(t, err)
	assert.Contains(t, out, "VM STATISTICS")
	assert.Contains(t, out, "Pages Paged Out:")
	assert.False(t, f.Memory().Allocated(v.ID), "finished process was swept")

	data, err := os.ReadFile(f.BackingStorePath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "FRAME ")
	assert.Contains(t, string(data), "NAME worker")
}

func TestReportUtilWritesFile(t *testing.T) {
	f := newTestFacade(t, singleCoreConfig)
	require.NoError(t, f.Initialize())

	_, err := f.SubmitProcess("r1", 32)
	require.NoError(t, err)
	require.NoError(t, f.StepCycles(2))

	path, err := f.ReportUtil()
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	body := string(data)
	assert.Contains(t, body, "UTILIZATION REPORT")
	assert.Contains(t, body, "CPU Utilization:")
	assert.Contains(t, body, "Current Cycle: 2")
	assert.Contains(t, body, "r1")
	assert.Contains(t, body, "VM STATISTICS")
}

func TestScreenLSShowsCountOnlyForQueue(t *testing.T) {
	f := newTestFacade(t, singleCoreConfig)
	require.NoError(t, f.Initialize())

	for _, name := range []string{"a", "b", "c"} {
		_, err := f.SubmitProcess(name, 32)
		require.NoError(t, err)
	}
	require.NoError(t, f.StepCycles(1))

	out, err := f.ScreenLS()
	require.NoError(t, err)
	assert.Contains(t, out, "Running Processes:")
	assert.Contains(t, out, "Ready Queue (Size: 2):")
	assert.Contains(t, out, "2 processes waiting")
	assert.NotContains(t, out, "  b | ", "queued processes stay opaque")
}

func TestCommandHandlerUnknownAndUninitialized(t *testing.T) {
	f := newTestFacade(t, singleCoreConfig)
	var buf bytes.Buffer
	h := NewCommandHandler(f, &buf)

	h.Execute("frobnicate")
	assert.Contains(t, buf.String(), "Unknown command")

	buf.Reset()
	h.Execute("screen-ls")
	assert.Contains(t, buf.String(), "not initialized")

	buf.Reset()
	h.Execute("initialize")
	assert.Contains(t, buf.String(), "initialization complete")

	buf.Reset()
	h.Execute("vmstat")
	assert.Contains(t, buf.String(), "VM STATISTICS")

	buf.Reset()
	h.Execute(`screen -c calc 128 "DECLARE x 2; PRINT x"`)
	assert.Contains(t, buf.String(), "Created calc (2 instructions, 128 KiB)")

	buf.Reset()
	h.Execute("screen -s")
	assert.Contains(t, buf.String(), "Usage:")

	assert.True(t, h.ShouldContinue())
	buf.Reset()
	h.Execute("exit")
	assert.False(t, h.ShouldContinue())
}

func TestProcessSMIPerProcess(t *testing.T) {
	f := newTestFacade(t, singleCoreConfig)
	require.NoError(t, f.Initialize())

	_, err := f.SubmitProcess("smi-target", 32)
	require.NoError(t, err)
	require.NoError(t, f.StepCycles(1))

	out, err := f.ProcessSMI("smi-target")
	require.NoError(t, err)
	assert.Contains(t, out, "Process: smi-target")
	assert.Contains(t, out, "State: Running")
	assert.Contains(t, out, "Frames:")

	out, err = f.ProcessSMI("")
	require.NoError(t, err)
	assert.Contains(t, out, "PROCESS-SMI")
	assert.Contains(t, out, "CPU Utilization:")

	out, err = f.ProcessSMI("ghost")
	require.NoError(t, err)
	assert.Contains(t, out, "not found")
}
