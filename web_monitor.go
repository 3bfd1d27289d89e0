package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/example/os_sim/hooks"
	"github.com/example/os_sim/memory"
)

// monitorFrameInterval paces the broadcast of monitor frames.
const monitorFrameInterval = 250 * time.Millisecond

// monitorEventBuffer bounds the recent-event window carried per frame.
const monitorEventBuffer = 64

// MonitorFrame is the JSON snapshot streamed to websocket clients.
type MonitorFrame struct {
	Cycle   int64           `json:"cycle"`
	Counts  SchedulerCounts `json:"counts"`
	CPUUtil float64         `json:"cpuUtil"`
	Cores   []CoreState     `json:"cores"`
	Running []ProcessView   `json:"running"`
	Memory  memory.Stats    `json:"memory"`
	Events  []hooks.Event   `json:"events,omitempty"`
}

// Monitor serves a read-only live view of the simulator: the latest frame
// over HTTP and a frame stream over websockets.
type Monitor struct {
	sched  *Scheduler
	mem    *memory.Manager
	hub    *wsHub
	events <-chan hooks.Event
	stop   chan struct{}
}

// NewMonitor builds a monitor over an initialized facade.
func NewMonitor(f *Facade) *Monitor {
	return &Monitor{
		sched:  f.Scheduler(),
		mem:    f.Memory(),
		events: f.Broker().Subscribe(monitorEventBuffer),
		stop:   make(chan struct{}),
	}
}

// Start begins serving on addr and broadcasting frames. Non-blocking; the
// HTTP server runs on its own goroutine for the life of the process.
func (m *Monitor) Start(addr string) {
	m.hub = newHub()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", m.hub.handle)
	mux.HandleFunc("/frame", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(m.buildFrame(nil))
	})

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			GetLogger().Errorf("monitor server: %v", err)
		}
	}()
	go m.broadcastLoop()

	GetLogger().Infof("monitor listening on %s", addr)
}

// Stop ends the broadcast loop.
func (m *Monitor) Stop() {
	close(m.stop)
}

func (m *Monitor) broadcastLoop() {
	ticker := time.NewTicker(monitorFrameInterval)
	defer ticker.Stop()
	var pending []hooks.Event
	for {
		select {
		case <-m.stop:
			return
		case ev := <-m.events:
			if len(pending) < monitorEventBuffer {
				pending = append(pending, ev)
			}
		case <-ticker.C:
			m.hub.broadcastFrame(m.buildFrame(pending))
			pending = nil
		}
	}
}

func (m *Monitor) buildFrame(events []hooks.Event) *MonitorFrame {
	return &MonitorFrame{
		Cycle:   m.sched.CurrentCycle(),
		Counts:  m.sched.Counts(),
		CPUUtil: m.sched.CPUUtilization(),
		Cores:   m.sched.CoreStates(),
		Running: m.sched.SnapshotRunning(),
		Memory:  m.mem.Snapshot(),
		Events:  events,
	}
}
