package main

// CPUCore holds at most one running process. It executes one eligible
// instruction per cycle and tracks the busy-wait delay between
// instructions and the instruction count of the current dispatch. The
// core never inspects scheduling policy; preemption is the scheduler's
// call.
type CPUCore struct {
	id      int
	process *Process
	idle    bool

	executedInQuantum int
	delayRemaining    int
}

func NewCPUCore(id int) *CPUCore {
	return &CPUCore{id: id, idle: true}
}

func (c *CPUCore) ID() int { return c.id }

// Idle holds exactly when the core has no process.
func (c *CPUCore) Idle() bool { return c.idle }

func (c *CPUCore) Process() *Process { return c.process }

// ExecutedInQuantum counts instruction advances since the last dispatch.
// Busy-wait cycles do not count.
func (c *CPUCore) ExecutedInQuantum() int { return c.executedInQuantum }

func (c *CPUCore) BusyWaiting() bool { return c.delayRemaining > 0 }

// Assign dispatches p onto the core and zeroes the per-dispatch counters.
func (c *CPUCore) Assign(p *Process) {
	c.process = p
	c.idle = p == nil
	c.executedInQuantum = 0
	c.delayRemaining = 0
	if p != nil {
		p.setAssignedCore(c.id)
		p.setState(StateRunning)
	}
}

// Release detaches the process and clears counters.
func (c *CPUCore) Release() {
	if c.process != nil {
		c.process.setAssignedCore(-1)
	}
	c.process = nil
	c.idle = true
	c.executedInQuantum = 0
	c.delayRemaining = 0
}

// Tick runs one cycle: a busy-waiting core only counts down; otherwise the
// interpreter advances one step and the busy-wait is re-armed when more
// instructions remain. The process's sleep gate decrements inside
// tickGate regardless of the busy-wait.
func (c *CPUCore) Tick(delayPerExec int) StepResult {
	if c.idle || c.process == nil {
		return StepResult{}
	}
	busy := c.delayRemaining > 0
	if busy {
		c.delayRemaining--
	}
	res := c.process.tickGate(busy)
	if res.Executed {
		c.executedInQuantum++
		if !c.process.Finished() && delayPerExec > 0 {
			c.delayRemaining = delayPerExec
		}
	}
	return res
}

// ResetQuantum restarts the per-dispatch instruction counter without
// releasing the process (quantum expiry with an empty ready queue).
func (c *CPUCore) ResetQuantum() {
	c.executedInQuantum = 0
}

// ProcessFinished reports whether the resident process has completed.
func (c *CPUCore) ProcessFinished() bool {
	return c.process != nil && c.process.Finished()
}
