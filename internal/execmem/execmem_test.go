package execmem

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRejectsNonPositiveSize(t *testing.T) {
	_, err := New(0)
	require.Error(t, err)
}

func TestWriteAndReadBackThroughExecutableView(t *testing.T) {
	m, err := New(64)
	require.NoError(t, err)
	defer m.Close()

	code := []byte{0xC3} // ret
	require.NoError(t, m.Write(0, code))
	require.Equal(t, code[0], m.Executable()[0])
}

func TestWriteOutOfBoundsErrors(t *testing.T) {
	m, err := New(16)
	require.NoError(t, err)
	defer m.Close()

	err = m.Write(10, make([]byte, 100))
	require.Error(t, err)
}

func TestSizeIsPageRounded(t *testing.T) {
	m, err := New(1)
	require.NoError(t, err)
	defer m.Close()

	require.GreaterOrEqual(t, m.Size(), 4096)
}

func TestEntryAddrNonZero(t *testing.T) {
	m, err := New(32)
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.Write(0, []byte{0x90}))
	require.NotZero(t, m.EntryAddr(0))
}

func TestCloseSucceeds(t *testing.T) {
	m, err := New(32)
	require.NoError(t, err)
	require.NoError(t, m.Close())
}

func TestPublishAfterWriteMakesCodeExecutable(t *testing.T) {
	m, err := New(32)
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.Write(0, []byte{0xC3}))
	m.Publish()
	require.Equal(t, byte(0xC3), m.Executable()[0])
}
