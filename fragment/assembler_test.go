package fragment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnfragmentedDeliveredImmediately(t *testing.T) {
	var got []byte
	a := New(func(buf []byte) { got = buf })

	err := a.OnFragment([]byte("hello"), FlagUnfragmented)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)
}

func TestMultiFragmentReassembly(t *testing.T) {
	var got []byte
	calls := 0
	a := New(func(buf []byte) {
		got = buf
		calls++
	})

	require.NoError(t, a.OnFragment([]byte("ab"), FlagBegin))
	assert.Equal(t, 0, calls, "no delivery before END")
	require.NoError(t, a.OnFragment([]byte("cd"), 0))
	require.NoError(t, a.OnFragment([]byte("ef"), FlagEnd))

	assert.Equal(t, 1, calls)
	assert.Equal(t, []byte("abcdef"), got)
}

func TestContinuationWithoutBeginIsInvalid(t *testing.T) {
	a := New(func([]byte) {})
	err := a.OnFragment([]byte("x"), 0)
	assert.Error(t, err)
}

func TestResetDiscardsPartialMessage(t *testing.T) {
	calls := 0
	a := New(func([]byte) { calls++ })

	require.NoError(t, a.OnFragment([]byte("partial"), FlagBegin))
	a.Reset()
	require.NoError(t, a.OnFragment([]byte("new"), FlagUnfragmented))

	assert.Equal(t, 1, calls)
}

func TestAssemblerReusedAcrossMessages(t *testing.T) {
	var results [][]byte
	a := New(func(buf []byte) { results = append(results, buf) })

	require.NoError(t, a.OnFragment([]byte("one"), FlagUnfragmented))
	require.NoError(t, a.OnFragment([]byte("tw"), FlagBegin))
	require.NoError(t, a.OnFragment([]byte("o"), FlagEnd))

	require.Len(t, results, 2)
	assert.Equal(t, []byte("one"), results[0])
	assert.Equal(t, []byte("two"), results[1])
}
