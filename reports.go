package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/montanaflynn/stats"

	"github.com/example/os_sim/memory"
)

func kib(n int) string {
	return fmt.Sprintf("%d KiB (%s)", n, humanize.IBytes(uint64(n)*1024))
}

// FormatScreenLS renders the process status view: running processes in
// compact form, the ready queue as a count only, and the last ten
// finished processes.
func FormatScreenLS(s *Scheduler) string {
	var b strings.Builder
	counts := s.Counts()

	b.WriteString("========== PROCESS STATUS ==========\n\n")

	b.WriteString("Running Processes:\n")
	running := s.SnapshotRunning()
	if len(running) == 0 {
		b.WriteString("  (None)\n")
	}
	for _, v := range running {
		fmt.Fprintf(&b, "  %s\n", v.CompactLine())
	}

	fmt.Fprintf(&b, "\nReady Queue (Size: %d):\n", counts.Queued)
	if counts.Queued == 0 {
		b.WriteString("  (Empty)\n")
	} else {
		fmt.Fprintf(&b, "  %d processes waiting\n", counts.Queued)
	}

	finished := s.SnapshotFinished()
	fmt.Fprintf(&b, "\nFinished Processes (Total: %d):\n", len(finished))
	if len(finished) == 0 {
		b.WriteString("  (None)\n")
	} else {
		show := finished
		if len(show) > 10 {
			show = show[len(show)-10:]
		}
		for _, v := range show {
			fmt.Fprintf(&b, "  %s\n", v.CompactLine())
		}
		if len(finished) > 10 {
			b.WriteString("  ... (showing last 10)\n")
		}
	}
	b.WriteString("\n====================================\n")
	return b.String()
}

// FormatVMStat renders memory statistics. verbose additionally dumps the
// frame table (first 20 frames) or the full block list.
func FormatVMStat(mem *memory.Manager, verbose bool) string {
	st := mem.Snapshot()
	var b strings.Builder

	b.WriteString("========================================\n")
	b.WriteString("VM STATISTICS\n")
	b.WriteString("========================================\n\n")

	b.WriteString("Memory Overview:\n")
	fmt.Fprintf(&b, "Total Memory: %s\n", kib(st.TotalKiB))
	fmt.Fprintf(&b, "Used Memory: %s\n", kib(st.UsedKiB))
	fmt.Fprintf(&b, "Free Memory: %s\n", kib(st.FreeKiB))
	fmt.Fprintf(&b, "Utilization: %.2f%%\n\n", st.Utilization*100)

	b.WriteString("Process Statistics:\n")
	fmt.Fprintf(&b, "Active Processes: %d\n", st.ActiveProcesses)
	fmt.Fprintf(&b, "Allocation Failures: %d\n\n", st.AllocationFailures)

	if st.Mode == memory.Paged {
		b.WriteString("Paging Information:\n")
		fmt.Fprintf(&b, "Total Frames: %d\n", st.TotalFrames)
		fmt.Fprintf(&b, "Used Frames: %d\n", st.UsedFrames)
		fmt.Fprintf(&b, "Free Frames: %d\n", st.FreeFrames)
		fmt.Fprintf(&b, "Frame Size: %d KiB\n", st.FrameKiB)
		fmt.Fprintf(&b, "Pages Paged In: %d\n", st.PagesPagedIn)
		fmt.Fprintf(&b, "Pages Paged Out: %d\n", st.PagesPagedOut)
		fmt.Fprintf(&b, "Internal Fragmentation: %d KiB\n", st.InternalFragKiB)
	} else {
		fmt.Fprintf(&b, "Memory Blocks: %d\n", st.BlockCount)
		fmt.Fprintf(&b, "External Fragmentation: %d KiB\n", st.ExternalFragKiB)
	}

	if verbose {
		b.WriteString("\n")
		b.WriteString(formatMemoryMap(mem, st))
	}
	b.WriteString("========================================\n")
	return b.String()
}

func formatMemoryMap(mem *memory.Manager, st memory.Stats) string {
	var b strings.Builder
	b.WriteString("Memory Map:\n")
	if st.Mode == memory.Paged {
		frames := mem.Frames()
		shown := frames
		if len(shown) > 20 {
			shown = shown[:20]
		}
		for _, f := range shown {
			if f.Free {
				fmt.Fprintf(&b, "Frame %3d: [FREE]\n", f.Number)
			} else {
				fmt.Fprintf(&b, "Frame %3d: [%s (PID:%d)]\n", f.Number, f.ProcessName, f.ProcessID)
			}
		}
		if len(frames) > 20 {
			fmt.Fprintf(&b, "... (showing first 20 of %d frames)\n", len(frames))
		}
	} else {
		for _, blk := range mem.Blocks() {
			end := blk.Start + blk.SizeKiB - 1
			if blk.Free {
				fmt.Fprintf(&b, "Address %6d - %6d (%5d KiB): [FREE]\n", blk.Start, end, blk.SizeKiB)
			} else {
				fmt.Fprintf(&b, "Address %6d - %6d (%5d KiB): [%s (PID:%d)]\n",
					blk.Start, end, blk.SizeKiB, blk.ProcessName, blk.ProcessID)
			}
		}
	}
	return b.String()
}

// FormatProcessSMI renders the global overview, or a single process when
// name is non-empty.
func FormatProcessSMI(s *Scheduler, mem *memory.Manager, name string) string {
	if name != "" {
		v, ok := s.Find(name)
		if !ok {
			return fmt.Sprintf("Process %q not found.\n", name)
		}
		return formatProcessInfo(v, mem)
	}

	var b strings.Builder
	st := mem.Snapshot()
	counts := s.Counts()
	b.WriteString("=== PROCESS-SMI ===\n")
	fmt.Fprintf(&b, "CPU Utilization: %.2f%%\n", s.CPUUtilization())
	fmt.Fprintf(&b, "Memory: %s / %s (%.2f%%)\n", kib(st.UsedKiB), kib(st.TotalKiB), st.Utilization*100)
	fmt.Fprintf(&b, "Processes: created=%d running=%d queued=%d finished=%d\n",
		counts.TotalCreated, counts.Running, counts.Queued, counts.Finished)
	b.WriteString("\nRunning:\n")
	running := s.SnapshotRunning()
	if len(running) == 0 {
		b.WriteString("  (None)\n")
	}
	for _, v := range running {
		fmt.Fprintf(&b, "  %s\n", v.CompactLine())
	}
	b.WriteString("===================\n")
	return b.String()
}

func formatProcessInfo(v ProcessView, mem *memory.Manager) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Process: %s\n", v.Name)
	fmt.Fprintf(&b, "ID: %d\n", v.ID)
	fmt.Fprintf(&b, "State: %s\n", v.StateName)
	fmt.Fprintf(&b, "Instructions: %d/%d\n", v.Executed, v.Total)
	fmt.Fprintf(&b, "Progress: %.1f%%\n", v.Progress())
	if v.ArrivalTime != "" {
		fmt.Fprintf(&b, "Arrival Time: %s\n", v.ArrivalTime)
	}
	if v.StartTime != "" {
		fmt.Fprintf(&b, "Start Time: %s\n", v.StartTime)
	}
	if v.FinishTime != "" {
		fmt.Fprintf(&b, "Finish Time: %s\n", v.FinishTime)
	}
	if v.AssignedCore >= 0 {
		fmt.Fprintf(&b, "Core: %d\n", v.AssignedCore)
	}
	if rec, ok := mem.RecordFor(v.ID); ok {
		fmt.Fprintf(&b, "Memory: required=%s allocated=%s\n", kib(rec.RequiredKiB), kib(rec.AllocatedKiB))
		if len(rec.Frames) > 0 {
			fmt.Fprintf(&b, "Frames: %v\n", rec.Frames)
		} else {
			fmt.Fprintf(&b, "Address: %d - %d\n", rec.StartAddr, rec.StartAddr+rec.AllocatedKiB-1)
		}
	} else if v.MemoryKiB > 0 {
		fmt.Fprintf(&b, "Memory: required=%s (not resident)\n", kib(v.MemoryKiB))
	}
	return b.String()
}

// turnaroundAggregates computes mean/median/p95 over finished processes.
func turnaroundAggregates(finished []ProcessView) (mean, median, p95 float64, ok bool) {
	samples := make([]float64, 0, len(finished))
	for _, v := range finished {
		if v.FinishCycle >= v.StartCycle && v.FinishTime != "" {
			samples = append(samples, float64(v.FinishCycle-v.StartCycle+1))
		}
	}
	if len(samples) == 0 {
		return 0, 0, 0, false
	}
	mean, _ = stats.Mean(samples)
	median, _ = stats.Median(samples)
	p95, _ = stats.Percentile(samples, 95)
	return mean, median, p95, true
}

// FormatUtilizationReport renders the report-util body.
func FormatUtilizationReport(s *Scheduler, mem *memory.Manager) string {
	var b strings.Builder
	counts := s.Counts()
	states := s.CoreStates()
	busy := 0
	for _, st := range states {
		if st.Busy {
			busy++
		}
	}

	b.WriteString("========== UTILIZATION REPORT ==========\n")
	fmt.Fprintf(&b, "CPU Utilization: %.2f%%\n", s.CPUUtilization())
	fmt.Fprintf(&b, "Cores Used: %d/%d\n", busy, len(states))
	fmt.Fprintf(&b, "Running Time: %d seconds\n", int(s.Elapsed().Seconds()))
	fmt.Fprintf(&b, "Current Cycle: %d\n", counts.Cycle)
	b.WriteString("\nCore Usage:\n")
	for _, st := range states {
		if st.Busy {
			fmt.Fprintf(&b, "  Core %d: %s (PID:%d)\n", st.ID, st.ProcessName, st.ProcessID)
		} else {
			fmt.Fprintf(&b, "  Core %d: idle\n", st.ID)
		}
	}

	b.WriteString("\nProcess Statistics:\n")
	fmt.Fprintf(&b, "  Total Created: %d\n", counts.TotalCreated)
	fmt.Fprintf(&b, "  Currently Running: %d\n", counts.Running)
	fmt.Fprintf(&b, "  In Ready Queue: %d\n", counts.Queued)
	fmt.Fprintf(&b, "  Finished: %d\n", counts.Finished)

	finished := s.SnapshotFinished()
	if mean, median, p95, ok := turnaroundAggregates(finished); ok {
		b.WriteString("\nTurnaround (cycles):\n")
		fmt.Fprintf(&b, "  mean=%.1f median=%.1f p95=%.1f\n", mean, median, p95)
	}
	if len(finished) > 0 {
		executed := make([]float64, len(finished))
		for i, v := range finished {
			executed[i] = float64(v.Executed)
		}
		mean, _ := stats.Mean(executed)
		median, _ := stats.Median(executed)
		p95, _ := stats.Percentile(executed, 95)
		b.WriteString("\nInstructions Executed (finished):\n")
		fmt.Fprintf(&b, "  mean=%.1f median=%.1f p95=%.1f\n", mean, median, p95)
	}

	b.WriteString("\nRunning Processes:\n")
	running := s.SnapshotRunning()
	if len(running) == 0 {
		b.WriteString("  (None)\n")
	}
	for _, v := range running {
		fmt.Fprintf(&b, "  %s\n", v.CompactLine())
	}
	b.WriteString("\nFinished Processes:\n")
	if len(finished) == 0 {
		b.WriteString("  (None)\n")
	}
	for _, v := range finished {
		fmt.Fprintf(&b, "  %s\n", v.CompactLine())
	}

	b.WriteString("\n")
	b.WriteString(FormatVMStat(mem, false))
	return b.String()
}

// WriteUtilizationReport persists the report to path (csopesy-log.txt).
func WriteUtilizationReport(s *Scheduler, mem *memory.Manager, path string) error {
	body := FormatUtilizationReport(s, mem)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return fmt.Errorf("write report %q: %w", path, err)
	}
	return nil
}
