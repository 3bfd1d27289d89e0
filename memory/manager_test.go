package memory

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/os_sim/policy"
)

func newPaged(t *testing.T, totalKiB, frameKiB, minProc, maxProc int) (*Manager, string) {
	t.Helper()
	backing := filepath.Join(t.TempDir(), "backing-store.txt")
	m, err := New(Config{
		TotalKiB:         totalKiB,
		FrameKiB:         frameKiB,
		MinPerProcKiB:    minProc,
		MaxPerProcKiB:    maxProc,
		Mode:             Paged,
		BackingStorePath: backing,
	})
	require.NoError(t, err)
	return m, backing
}

func newContiguous(t *testing.T, totalKiB int, p policy.Placement) *Manager {
	t.Helper()
	m, err := New(Config{
		TotalKiB:      totalKiB,
		FrameKiB:      1,
		MinPerProcKiB: 1,
		MaxPerProcKiB: totalKiB,
		Mode:          Contiguous,
		Placement:     p,
	})
	require.NoError(t, err)
	return m
}

func TestPagedAllocateUntilExhaustionThenReuse(t *testing.T) {
	m, backing := newPaged(t, 64, 16, 16, 48)

	require.True(t, m.Allocate(1, "p1", 32))
	rec, ok := m.RecordFor(1)
	require.True(t, ok)
	assert.Len(t, rec.Frames, 2)
	assert.Equal(t, 2, rec.NumPages)

	require.True(t, m.Allocate(2, "p2", 32))
	require.False(t, m.Allocate(3, "p3", 16), "no free frames left")
	assert.Equal(t, 1, m.Snapshot().AllocationFailures)

	require.True(t, m.Deallocate(1))
	require.True(t, m.Allocate(3, "p3", 16))

	data, err := os.ReadFile(backing)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.GreaterOrEqual(t, len(lines), 3)
	assert.Equal(t, "CSOPESY Backing Store", lines[0])
	assert.Equal(t, "FrameSizeKB 16", lines[1])
	assert.Equal(t, "MaxMemoryKB 64", lines[2])

	var frameLines []string
	for _, l := range lines {
		if strings.HasPrefix(l, "FRAME ") {
			frameLines = append(frameLines, l)
		}
	}
	require.Len(t, frameLines, 2)
	for _, l := range frameLines {
		assert.Contains(t, l, "PID 1 ")
		assert.Contains(t, l, "NAME p1 ")
		assert.Contains(t, l, "SIZEKB 16 ")
		assert.Contains(t, l, "TIME ")
	}
	assert.Equal(t, 2, m.Snapshot().PagesPagedOut)
}

func TestPagedRoundTripRestoresFreeFrameSet(t *testing.T) {
	m, _ := newPaged(t, 128, 16, 16, 128)

	before := m.Snapshot()
	freeBefore := freeFrameSet(m)

	require.True(t, m.Allocate(7, "p7", 40))
	require.True(t, m.Deallocate(7))

	after := m.Snapshot()
	assert.Equal(t, before.UsedKiB, after.UsedKiB)
	assert.Equal(t, before.FreeFrames, after.FreeFrames)
	assert.Equal(t, before.ActiveProcesses, after.ActiveProcesses)
	assert.Equal(t, freeBefore, freeFrameSet(m))
}

func freeFrameSet(m *Manager) map[int]bool {
	out := make(map[int]bool)
	for _, f := range m.Frames() {
		if f.Free {
			out[f.Number] = true
		}
	}
	return out
}

func TestPagedLastFrameHoldsRemainder(t *testing.T) {
	m, _ := newPaged(t, 64, 16, 1, 64)

	require.True(t, m.Allocate(1, "p1", 40))
	rec, _ := m.RecordFor(1)
	require.Len(t, rec.Frames, 3)

	frames := m.Frames()
	assert.Equal(t, 16, frames[rec.Frames[0]].SizeKiB)
	assert.Equal(t, 16, frames[rec.Frames[1]].SizeKiB)
	assert.Equal(t, 8, frames[rec.Frames[2]].SizeKiB)

	// Frame sizes sum to the requirement; allocation is whole frames.
	assert.Equal(t, 40, rec.RequiredKiB)
	assert.Equal(t, 48, rec.AllocatedKiB)
	assert.Equal(t, 8, m.Snapshot().InternalFragKiB)
}

func TestAllocateClampsAndRejectsDuplicates(t *testing.T) {
	m, _ := newPaged(t, 128, 16, 32, 64)

	// Requests clamp into [min,max].
	require.True(t, m.Allocate(1, "small", 4))
	rec, _ := m.RecordFor(1)
	assert.Equal(t, 32, rec.RequiredKiB)

	require.True(t, m.Allocate(2, "big", 9999))
	rec, _ = m.RecordFor(2)
	assert.Equal(t, 64, rec.RequiredKiB)

	// Duplicate pid is refused silently, without a failure tick.
	failures := m.Snapshot().AllocationFailures
	assert.False(t, m.Allocate(1, "small", 32))
	assert.Equal(t, failures, m.Snapshot().AllocationFailures)
}

func TestContiguousFirstFitSplitAndCoalesce(t *testing.T) {
	m := newContiguous(t, 100, policy.FirstFit())

	require.True(t, m.Allocate(1, "A", 20))
	require.True(t, m.Allocate(2, "B", 30))
	require.True(t, m.Allocate(3, "C", 10))

	require.True(t, m.Deallocate(2))
	require.True(t, m.Allocate(4, "D", 25))

	rec, _ := m.RecordFor(4)
	assert.Equal(t, 20, rec.StartAddr, "D reuses B's former slot")

	// A 5 KiB free remainder sits between D and C.
	blocks := m.Blocks()
	var fiveKiB *Block
	for i := range blocks {
		if blocks[i].Free && blocks[i].SizeKiB == 5 {
			fiveKiB = &blocks[i]
		}
	}
	require.NotNil(t, fiveKiB)
	assert.Equal(t, 45, fiveKiB.Start)

	// Releasing the neighbor coalesces with the 5 KiB block and, through
	// C's slot, with the 40 KiB free tail.
	require.True(t, m.Deallocate(3))
	assertPartition(t, m, 100)
	found := false
	for _, b := range m.Blocks() {
		if b.Free && b.Start == 45 && b.SizeKiB == 55 {
			found = true
		}
	}
	assert.True(t, found, "5+10+40 KiB neighbors merged")

	require.True(t, m.Deallocate(1))
	assertPartition(t, m, 100)
}

// assertPartition checks the gap-free sorted partition invariant and that
// no two adjacent free blocks survive a deallocation.
func assertPartition(t *testing.T, m *Manager, totalKiB int) {
	t.Helper()
	blocks := m.Blocks()
	next := 0
	for i, b := range blocks {
		require.Equal(t, next, b.Start, "block %d starts where the previous ended", i)
		next += b.SizeKiB
		if i > 0 {
			assert.False(t, blocks[i-1].Free && b.Free, "adjacent free blocks at %d", b.Start)
		}
	}
	require.Equal(t, totalKiB, next)
}

func TestContiguousBestAndWorstFit(t *testing.T) {
	m := newContiguous(t, 100, policy.BestFit())
	require.True(t, m.Allocate(1, "a", 10))
	require.True(t, m.Allocate(2, "b", 30))
	require.True(t, m.Allocate(3, "c", 10))
	require.True(t, m.Deallocate(1))
	require.True(t, m.Deallocate(3))
	// Free blocks: 10 KiB at 0, 60 KiB at 40 (c merged with the tail).
	// Best fit for 8 is the 10 KiB block.
	require.True(t, m.Allocate(4, "d", 8))
	rec, _ := m.RecordFor(4)
	assert.Equal(t, 0, rec.StartAddr)

	w := newContiguous(t, 100, policy.WorstFit())
	require.True(t, w.Allocate(1, "a", 10))
	require.True(t, w.Allocate(2, "b", 30))
	require.True(t, w.Allocate(3, "c", 10))
	require.True(t, w.Deallocate(1))
	require.True(t, w.Deallocate(3))
	// Worst fit for 8 takes the 60 KiB block.
	require.True(t, w.Allocate(4, "d", 8))
	rec, _ = w.RecordFor(4)
	assert.Equal(t, 40, rec.StartAddr)
}

func TestContiguousExternalFragmentation(t *testing.T) {
	m := newContiguous(t, 100, policy.FirstFit())
	require.True(t, m.Allocate(1, "a", 20))
	require.True(t, m.Allocate(2, "b", 20))
	require.True(t, m.Allocate(3, "c", 20))
	require.True(t, m.Deallocate(2))

	// Free: 20 KiB hole + 40 KiB tail. Everything beyond the largest
	// free block counts as external fragmentation.
	st := m.Snapshot()
	assert.Equal(t, 20, st.ExternalFragKiB)
	assert.InDelta(t, 0.4, st.Utilization, 1e-9)

	// A request larger than any hole fails even though total free fits.
	require.False(t, m.Allocate(4, "d", 50))
	assert.Equal(t, 1, m.Snapshot().AllocationFailures)
}

func TestDeallocateUnknownPid(t *testing.T) {
	m, _ := newPaged(t, 64, 16, 16, 48)
	assert.False(t, m.Deallocate(42))
}

func TestPagedOwnershipPartition(t *testing.T) {
	m, _ := newPaged(t, 256, 16, 16, 128)
	require.True(t, m.Allocate(1, "a", 48))
	require.True(t, m.Allocate(2, "b", 64))

	owned := make(map[int]int)
	usedKiB := 0
	for _, f := range m.Frames() {
		if !f.Free {
			require.NotEqual(t, -1, f.ProcessID)
			owned[f.Number] = f.ProcessID
			usedKiB += f.SizeKiB
		}
	}
	recA, _ := m.RecordFor(1)
	recB, _ := m.RecordFor(2)
	require.Equal(t, len(owned), len(recA.Frames)+len(recB.Frames))
	for _, n := range recA.Frames {
		assert.Equal(t, 1, owned[n])
	}
	for _, n := range recB.Frames {
		assert.Equal(t, 2, owned[n])
	}
	assert.Equal(t, recA.RequiredKiB+recB.RequiredKiB, usedKiB,
		"frame sizes of owned frames sum to the required totals")
}
