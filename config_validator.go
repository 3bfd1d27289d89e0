package main

import (
	"errors"
	"fmt"
)

// ValidateConfig applies structural checks to SystemConfig. It returns all
// violations joined so the operator sees every problem at once; a non-nil
// error means the system must refuse to initialize.
func ValidateConfig(cfg *SystemConfig) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	var errs []error

	if cfg.NumCPUs < 1 || cfg.NumCPUs > 128 {
		errs = append(errs, fmt.Errorf("num-cpu must be within [1,128], got %d", cfg.NumCPUs))
	}
	if cfg.SchedulerType != SchedulerFCFS && cfg.SchedulerType != SchedulerRR {
		errs = append(errs, fmt.Errorf("scheduler must be %q or %q, got %q",
			SchedulerFCFS, SchedulerRR, cfg.SchedulerType))
	}
	if cfg.SchedulerType == SchedulerRR && cfg.QuantumCycles < 1 {
		errs = append(errs, fmt.Errorf("quantum-cycles must be at least 1 for rr, got %d", cfg.QuantumCycles))
	}
	if cfg.BatchProcessFreq < 1 {
		errs = append(errs, fmt.Errorf("batch-process-freq must be at least 1, got %d", cfg.BatchProcessFreq))
	}
	if cfg.MinInstructions < 1 || cfg.MaxInstructions < cfg.MinInstructions {
		errs = append(errs, fmt.Errorf("instruction range invalid: min=%d max=%d",
			cfg.MinInstructions, cfg.MaxInstructions))
	}
	if cfg.DelayPerExec < 0 {
		errs = append(errs, fmt.Errorf("delay-per-exec must be non-negative, got %d", cfg.DelayPerExec))
	}

	if cfg.MaxOverallMem < 1 {
		errs = append(errs, fmt.Errorf("max-overall-mem must be at least 1, got %d", cfg.MaxOverallMem))
	}
	if cfg.MemPerFrame < 1 || cfg.MemPerFrame > cfg.MaxOverallMem {
		errs = append(errs, fmt.Errorf("mem-per-frame must be within [1,%d], got %d",
			cfg.MaxOverallMem, cfg.MemPerFrame))
	}
	if cfg.MinMemPerProc < 1 || cfg.MaxMemPerProc < cfg.MinMemPerProc || cfg.MaxMemPerProc > cfg.MaxOverallMem {
		errs = append(errs, fmt.Errorf("per-process memory range invalid: min=%d max=%d total=%d",
			cfg.MinMemPerProc, cfg.MaxMemPerProc, cfg.MaxOverallMem))
	}

	return errors.Join(errs...)
}
