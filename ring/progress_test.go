package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressTrackerMonotonic(t *testing.T) {
	tr := NewProgressTracker(4)

	require.NoError(t, tr.Update(1, 10))
	require.NoError(t, tr.Update(1, 20))
	require.NoError(t, tr.Update(1, 64))

	seq, bytesFilled, ok := tr.Get(1)
	require.True(t, ok)
	assert.EqualValues(t, 1, seq)
	assert.EqualValues(t, 64, bytesFilled)
}

func TestProgressTrackerRejectsRegression(t *testing.T) {
	tr := NewProgressTracker(4)
	require.NoError(t, tr.Update(1, 64))

	err := tr.Update(1, 32)
	assert.Error(t, err)

	_, bytesFilled, _ := tr.Get(1)
	assert.EqualValues(t, 64, bytesFilled, "regression must not mutate state")
}

func TestProgressTrackerWraparoundOverwritesOldEntry(t *testing.T) {
	tr := NewProgressTracker(4)
	require.NoError(t, tr.Update(0, 64))
	require.NoError(t, tr.Update(4, 8))

	seq, bytesFilled, ok := tr.Get(4)
	require.True(t, ok)
	assert.EqualValues(t, 4, seq)
	assert.EqualValues(t, 8, bytesFilled)
}

func TestProgressTrackerRejectsStaleSeq(t *testing.T) {
	tr := NewProgressTracker(4)
	require.NoError(t, tr.Update(4, 10))

	err := tr.Update(0, 999)
	assert.Error(t, err)
}

func TestNewProgressTrackerPanicsOnNonPowerOfTwo(t *testing.T) {
	assert.Panics(t, func() { NewProgressTracker(3) })
}
