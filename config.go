package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// SystemConfig holds every tunable of the simulator. Memory sizes are KiB.
type SystemConfig struct {
	NumCPUs       int    `mapstructure:"num_cpu"`
	SchedulerType string `mapstructure:"scheduler"`
	QuantumCycles int    `mapstructure:"quantum_cycles"`

	BatchProcessFreq int `mapstructure:"batch_process_freq"`
	MinInstructions  int `mapstructure:"min_ins"`
	MaxInstructions  int `mapstructure:"max_ins"`
	DelayPerExec     int `mapstructure:"delay_per_exec"`

	MaxOverallMem int `mapstructure:"max_overall_mem"`
	MemPerFrame   int `mapstructure:"mem_per_frame"`
	MinMemPerProc int `mapstructure:"min_mem_per_proc"`
	MaxMemPerProc int `mapstructure:"max_mem_per_proc"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() *SystemConfig {
	return &SystemConfig{
		NumCPUs:          4,
		SchedulerType:    SchedulerFCFS,
		QuantumCycles:    5,
		BatchProcessFreq: 3,
		MinInstructions:  100,
		MaxInstructions:  1000,
		DelayPerExec:     0,
		MaxOverallMem:    1024,
		MemPerFrame:      16,
		MinMemPerProc:    16,
		MaxMemPerProc:    128,
	}
}

// Scheduler type values (case-insensitive in config files).
const (
	SchedulerFCFS = "fcfs"
	SchedulerRR   = "rr"
)

// keyAliases maps every accepted spelling onto the canonical snake key.
// Unknown keys are ignored at load time.
var keyAliases = map[string]string{
	"num_cpu":            "num_cpu",
	"scheduler":          "scheduler",
	"scheduler_type":     "scheduler",
	"quantum_cycles":     "quantum_cycles",
	"batch_process_freq": "batch_process_freq",
	"min_ins":            "min_ins",
	"min_instructions":   "min_ins",
	"max_ins":            "max_ins",
	"max_instructions":   "max_ins",
	"delay_per_exec":     "delay_per_exec",
	"max_overall_mem":    "max_overall_mem",
	"mem_per_frame":      "mem_per_frame",
	"min_mem_per_proc":   "min_mem_per_proc",
	"max_mem_per_proc":   "max_mem_per_proc",
}

func canonicalKey(key string) (string, bool) {
	k := strings.ToLower(strings.TrimSpace(key))
	k = strings.ReplaceAll(k, "-", "_")
	canon, ok := keyAliases[k]
	return canon, ok
}

// LoadConfig reads configuration from path. Flat "key value" files and
// YAML files (.yaml/.yml) are both accepted. A missing file yields the
// defaults with a warning, matching the original loader.
func LoadConfig(path string) (*SystemConfig, error) {
	raw, err := readConfigValues(path)
	if err != nil {
		if os.IsNotExist(err) {
			GetLogger().Warnf("config file %q not found, using defaults", path)
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("load config %q: %w", path, err)
	}

	cfg := DefaultConfig()
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("config decoder: %w", err)
	}
	if err := dec.Decode(raw); err != nil {
		return nil, fmt.Errorf("decode config %q: %w", path, err)
	}
	cfg.SchedulerType = strings.ToLower(cfg.SchedulerType)
	return cfg, nil
}

func readConfigValues(path string) (map[string]any, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".yaml" || ext == ".yml" {
		return readYAMLValues(path)
	}
	return readFlatValues(path)
}

// readFlatValues parses the original "key value" per-line format. Blank
// lines and #-comments are skipped; keys the alias table does not know are
// dropped.
func readFlatValues(path string) (map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	values := make(map[string]any)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		canon, ok := canonicalKey(fields[0])
		if !ok {
			continue
		}
		values[canon] = fields[1]
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return values, nil
}

func readYAMLValues(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	parsed := make(map[string]any)
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	values := make(map[string]any, len(parsed))
	for key, v := range parsed {
		canon, ok := canonicalKey(key)
		if !ok {
			continue
		}
		values[canon] = v
	}
	return values, nil
}

// Display echoes the effective configuration through the logger.
func (c *SystemConfig) Display() {
	log := GetLogger()
	log.Infof("=== System Configuration ===")
	log.Infof("Number of CPUs: %d", c.NumCPUs)
	log.Infof("CPU Cycle Time: %s (fixed)", CycleDuration)
	log.Infof("Scheduler Type: %s", c.SchedulerType)
	if c.SchedulerType == SchedulerRR {
		log.Infof("Quantum Cycles: %d", c.QuantumCycles)
	}
	log.Infof("Batch Process Frequency: %d s", c.BatchProcessFreq)
	log.Infof("Instructions: %d..%d", c.MinInstructions, c.MaxInstructions)
	if c.DelayPerExec == 0 {
		log.Infof("Delay per Exec: 0 (1 instruction per cycle)")
	} else {
		log.Infof("Delay per Exec: %d cycles busy-wait per instruction", c.DelayPerExec)
	}
	log.Infof("Memory: total=%d KiB frame=%d KiB per-proc=%d..%d KiB",
		c.MaxOverallMem, c.MemPerFrame, c.MinMemPerProc, c.MaxMemPerProc)
}
