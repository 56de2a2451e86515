package nanoforge

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const addTwoSource = `
fn main() {
    x = 40
    y = x + 2
    return y
}
`

func TestCompileAndCallReturnsExpectedResult(t *testing.T) {
	eng, err := Compile(addTwoSource, nil, 0)
	require.NoError(t, err)
	defer eng.Close()

	require.Equal(t, uint64(42), eng.Call(0))
}

func TestCompileRejectsScriptOverSecurityLimit(t *testing.T) {
	cfg := NewEngineConfig().WithSecurityLimits(SecurityLimits{MaxScriptSize: 4})
	_, err := Compile(addTwoSource, cfg, 0)
	require.Error(t, err)

	var nfErr *Error
	require.True(t, errors.As(err, &nfErr))
	require.Equal(t, SecurityError, nfErr.Kind)
}

func TestCompileRejectsInvalidSource(t *testing.T) {
	_, err := Compile("not valid nanoforge syntax {{{", nil, 0)
	require.Error(t, err)

	var nfErr *Error
	require.True(t, errors.As(err, &nfErr))
	require.Equal(t, ParseError, nfErr.Kind)
}

func TestEngineStatsCoversEveryBucket(t *testing.T) {
	eng, err := Compile(addTwoSource, nil, 0)
	require.NoError(t, err)
	defer eng.Close()

	require.Len(t, eng.Stats(), 5)
}

func TestRebenchmarkKeepsEngineCallable(t *testing.T) {
	eng, err := Compile(addTwoSource, nil, 0)
	require.NoError(t, err)
	defer eng.Close()

	eng.Rebenchmark(128)
	require.Equal(t, uint64(42), eng.Call(0))
}

func TestEngineCloseSavesBrainWhenPathConfigured(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "brain.json")

	cfg := NewEngineConfig().WithBrainPath(path)
	eng, err := Compile(addTwoSource, cfg, 0)
	require.NoError(t, err)
	require.NoError(t, eng.Close())

	_, err = os.Stat(path)
	require.NoError(t, err)
}

func TestEngineConfigFromEnvironmentReadsThresholds(t *testing.T) {
	t.Setenv(envOptThresholdLow, "10")
	t.Setenv(envOptThresholdHigh, "20")
	t.Setenv(envPinnedCore, "not-a-number")

	cfg := EngineConfigFromEnvironment()
	require.Equal(t, uint64(10), cfg.optThresholdLow)
	require.Equal(t, uint64(20), cfg.optThresholdHigh)
	require.False(t, cfg.hasPinnedCore)
}

func TestRunSandboxedReportsFailureForInvalidSource(t *testing.T) {
	eng, err := Compile(addTwoSource, nil, 0)
	require.NoError(t, err)
	defer eng.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err = eng.RunSandboxed(ctx, "not valid {{{", Scalar, 1, 1000, 0, 2*time.Second)
	require.Error(t, err)
}
