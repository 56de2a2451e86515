package crashguard

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nanoforge/nanoforge/internal/asm"
	"github.com/nanoforge/nanoforge/internal/compiler"
	"github.com/nanoforge/nanoforge/internal/execmem"
)

func TestIsWorkerReadsEnvFlag(t *testing.T) {
	require.False(t, IsWorker())

	require.NoError(t, os.Setenv(EnvWorkerFlag, "1"))
	defer os.Unsetenv(EnvWorkerFlag)
	require.True(t, IsWorker())
}

func TestRunJobExecutesSimpleProgram(t *testing.T) {
	job := Job{
		Source: `
fn main() {
    x = 40
    y = x + 2
    return y
}
`,
		ISA:      compiler.ISAScalar,
		OptLevel: 1,
		Fuel:     1_000_000,
		Input:    0,
	}
	result, err := runJob(job)
	require.NoError(t, err)
	require.Equal(t, uint64(42), result.Output)
}

func TestRunJobRejectsBadSource(t *testing.T) {
	_, err := runJob(Job{Source: "not valid nanoforge syntax {{{"})
	require.Error(t, err)
}

func TestRunProductionCallsEntryDirectly(t *testing.T) {
	a := asm.New()
	a.MovRegReg(asm.RAX, asm.RDI)
	a.Ret()
	code, err := a.Finalize()
	require.NoError(t, err)

	mem, err := execmem.New(len(code))
	require.NoError(t, err)
	defer mem.Close()
	require.NoError(t, mem.Write(0, code))
	mem.Publish()

	got := RunProduction(mem.EntryAddr(0), 99)
	require.Equal(t, uint64(99), got)
}

func TestTerminatingSignalReturnsFalseForNonExitError(t *testing.T) {
	_, crashed := terminatingSignal(context.DeadlineExceeded)
	require.False(t, crashed)
}

// TestRunSandboxedReturnsErrorWhenWorkerNotWired exercises the full re-exec path against the
// actual test binary; it only verifies the supervisor can at least
// observe the worker's absence gracefully when this binary has no
// worker entry point wired up, rather than asserting a specific output
// (the test binary isn't nanoforge's real CLI and doesn't call
// RunWorker from its own main).
func TestRunSandboxedReturnsErrorWhenWorkerNotWired(t *testing.T) {
	job := Job{
		Source:   "fn main() { return 1 }",
		ISA:      compiler.ISAScalar,
		OptLevel: 1,
		Fuel:     1000,
		Input:    0,
	}
	_, err := RunSandboxed(context.Background(), job, 2*time.Second)
	require.Error(t, err)
}
