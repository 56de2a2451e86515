package lang

import (
	"testing"

	"github.com/nanoforge/nanoforge/internal/ir"
	"github.com/stretchr/testify/require"
)

func TestParseSumToN(t *testing.T) {
	src := `
fn main(n) {
  sum = 0
  i = 0
  while i < n {
    sum = sum + i
    i = i + 1
  }
  return sum
}
`
	prog, err := Parse(src)
	require.NoError(t, err)
	main, ok := prog.Entry()
	require.True(t, ok)
	require.NotEmpty(t, main.Instrs)
	require.Equal(t, ir.OpRet, main.Instrs[len(main.Instrs)-1].Op)
}

func TestParseFunctionCall(t *testing.T) {
	src := `
fn square(x) {
  r = x * x
  return r
}
fn main(n) {
  out = square(n)
  return out
}
`
	prog, err := Parse(src)
	require.NoError(t, err)
	require.Len(t, prog.Functions, 2)
}

func TestParseArraysAndAlloc(t *testing.T) {
	src := `
fn main(n) {
  buf = alloc(n)
  buf[0] = 42
  v = buf[0]
  free(buf)
  return v
}
`
	prog, err := Parse(src)
	require.NoError(t, err)
	main, _ := prog.Entry()
	var sawAlloc, sawStore, sawLoad, sawFree bool
	for _, instr := range main.Instrs {
		switch instr.Op {
		case ir.OpAlloc:
			sawAlloc = true
		case ir.OpStore:
			sawStore = true
		case ir.OpLoad:
			sawLoad = true
		case ir.OpFree:
			sawFree = true
		}
	}
	require.True(t, sawAlloc)
	require.True(t, sawStore)
	require.True(t, sawLoad)
	require.True(t, sawFree)
}

func TestParseForLoop(t *testing.T) {
	src := `
fn main(n) {
  acc = 0
  for (i = 0; i < n; i = i + 1) {
    acc = acc + i
  }
  return acc
}
`
	prog, err := Parse(src)
	require.NoError(t, err)
	main, _ := prog.Entry()
	require.NotEmpty(t, main.Instrs)
}

func TestParseMissingMainIsError(t *testing.T) {
	_, err := Parse(`fn helper(x) { return x }`)
	require.Error(t, err)
}

func TestParseCommentsAndWhitespaceIgnored(t *testing.T) {
	src := `
# a comment
fn main(n) { # trailing comment
  return n
}
`
	_, err := Parse(src)
	require.NoError(t, err)
}
