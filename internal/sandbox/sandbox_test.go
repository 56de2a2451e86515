package sandbox

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nanoforge/nanoforge/internal/asm"
	"github.com/nanoforge/nanoforge/internal/execmem"
)

func identityEntry(t *testing.T) (*execmem.Memory, uintptr) {
	t.Helper()
	a := asm.New()
	a.MovRegReg(asm.RAX, asm.RDI)
	a.Ret()
	code, err := a.Finalize()
	require.NoError(t, err)

	mem, err := execmem.New(len(code))
	require.NoError(t, err)
	require.NoError(t, mem.Write(0, code))
	mem.Publish()
	return mem, mem.EntryAddr(0)
}

func TestReadTSCIsMonotonicAcrossCalls(t *testing.T) {
	a := readTSC()
	b := readTSC()
	require.GreaterOrEqual(t, b, a)
}

func TestBenchmarkEntryReportsIterationsAndCycles(t *testing.T) {
	mem, entry := identityEntry(t)
	defer mem.Close()

	res := BenchmarkEntry(entry, 7, 10, 1000)
	require.Equal(t, uint64(1000), res.Iterations)
	require.Greater(t, res.WallTime.Nanoseconds(), int64(0))
	require.Greater(t, res.NsPerOp, float64(0))
}

func TestBenchmarkEntryZeroIterationsDoesNotDivideByZero(t *testing.T) {
	mem, entry := identityEntry(t)
	defer mem.Close()

	res := BenchmarkEntry(entry, 1, 0, 0)
	require.Equal(t, float64(0), res.AvgCycles)
	require.Equal(t, float64(0), res.NsPerOp)
}

func TestPinThreadToCoreRejectsImpossibleCore(t *testing.T) {
	err := PinThreadToCore(1 << 20)
	require.Error(t, err)
}
