package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertCountInvariant(t *testing.T, p *Process) {
	t.Helper()
	v := p.Snapshot()
	assert.Equal(t, len(p.program), v.Executed+v.Remaining,
		"executed+remaining must equal the program length")
}

func TestExecutedPlusRemainingInvariant(t *testing.T) {
	p := newBareProcess(t, ParseProgram("DECLARE a 1; DECLARE b 2; DECLARE c 3"))
	assertCountInvariant(t, p)
	for !p.Finished() {
		p.tickGate(false)
		assertCountInvariant(t, p)
	}
	v := p.Snapshot()
	assert.Equal(t, 3, v.Executed)
	assert.Equal(t, 0, v.Remaining)
}

func TestForExpansionGrowsProgramWithinAuthoredTotal(t *testing.T) {
	program := []Instruction{
		{Op: OpFor, Text: "FOR"},
		{Op: OpAddX, Text: "ADD 1", Value: 1},
		{Op: OpAddX, Text: "ADD 1", Value: 1},
		{Op: OpAddX, Text: "ADD 1", Value: 1},
	}
	p := newBareProcess(t, program)
	require.Equal(t, 4, p.total)

	res := p.tickGate(false)
	require.True(t, res.Executed)

	v := p.Snapshot()
	assert.LessOrEqual(t, v.Remaining, p.total,
		"expansion is clamped so remaining never exceeds the authored total")
	assert.Equal(t, len(p.program), v.Executed+v.Remaining)
	assert.Greater(t, len(p.program), 4, "FOR inserted prints")

	// Inserted instructions are prints placed right after the FOR.
	assert.Equal(t, OpPrintRaw, p.program[1].Op)

	steps := 0
	for !p.Finished() {
		p.tickGate(false)
		assertCountInvariant(t, p)
		steps++
		require.Less(t, steps, 100)
	}
}

func TestForExpansionClampsWhenNoHeadroom(t *testing.T) {
	// remaining == total at the moment FOR runs... after the FOR itself
	// is consumed there is exactly one slot of headroom.
	p := newBareProcess(t, []Instruction{{Op: OpFor, Text: "FOR"}})
	p.tickGate(false)

	v := p.Snapshot()
	assert.LessOrEqual(t, v.Remaining, 1)
	assert.Equal(t, len(p.program), v.Executed+v.Remaining)
}

func TestEmptyProgramIsFinished(t *testing.T) {
	p := newBareProcess(t, nil)
	assert.True(t, p.Finished())
	res := p.tickGate(false)
	assert.False(t, res.Executed)
}

func TestSnapshotIsDetachedCopy(t *testing.T) {
	p := newBareProcess(t, ParseProgram("DECLARE a 1; DECLARE b 2"))
	v1 := p.Snapshot()
	p.tickGate(false)
	v2 := p.Snapshot()
	assert.Equal(t, 0, v1.Executed)
	assert.Equal(t, 1, v2.Executed)
}

func TestCompactLineShape(t *testing.T) {
	p := newBareProcess(t, ParseProgram("DECLARE a 1; DECLARE b 2"))
	p.tickGate(false)
	line := p.Snapshot().CompactLine()
	assert.Contains(t, line, "test")
	assert.Contains(t, line, "1/2")
	assert.Contains(t, line, "50.0%")
	assert.Contains(t, line, "Core: N/A")
}

func TestProgressEmptyProgramIsComplete(t *testing.T) {
	p := newBareProcess(t, nil)
	assert.EqualValues(t, 100, p.Snapshot().Progress())
}
