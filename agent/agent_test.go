package agent

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunnerDrivesDoWorkUntilStopped(t *testing.T) {
	var calls int64
	r, err := New("test", func() (int, error) {
		atomic.AddInt64(&calls, 1)
		return 1, nil
	}, nil, BusySpin, IdleConfig{})
	require.NoError(t, err)

	require.NoError(t, r.Start())
	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&calls) > 10
	}, time.Second, time.Millisecond)
	require.NoError(t, r.Stop())
}

func TestRunnerStartIsIdempotent(t *testing.T) {
	r, err := New("test", func() (int, error) { return 0, nil }, nil, Noop, IdleConfig{})
	require.NoError(t, err)

	require.NoError(t, r.Start())
	require.NoError(t, r.Start())
	require.NoError(t, r.Stop())
}

func TestRunnerStopIsIdempotent(t *testing.T) {
	r, err := New("test", func() (int, error) { return 0, nil }, nil, Noop, IdleConfig{})
	require.NoError(t, err)

	require.NoError(t, r.Start())
	require.NoError(t, r.Stop())
	require.NoError(t, r.Stop())
}

func TestRunnerCloseInvokesOnCloseOnce(t *testing.T) {
	var closes int64
	r, err := New("test", func() (int, error) { return 0, nil }, func() {
		atomic.AddInt64(&closes, 1)
	}, Noop, IdleConfig{})
	require.NoError(t, err)

	require.NoError(t, r.Start())
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	assert.EqualValues(t, 1, atomic.LoadInt64(&closes))
}

func TestRunnerCannotRestartAfterClose(t *testing.T) {
	r, err := New("test", func() (int, error) { return 0, nil }, nil, Noop, IdleConfig{})
	require.NoError(t, err)

	require.NoError(t, r.Close())
	assert.Error(t, r.Start())
}

func TestRunnerStopsOnDoWorkError(t *testing.T) {
	wantErr := errors.New("boom")
	r, err := New("test", func() (int, error) { return 0, wantErr }, nil, BusySpin, IdleConfig{})
	require.NoError(t, err)

	require.NoError(t, r.Start())
	require.Eventually(t, func() bool {
		return r.Err() != nil
	}, time.Second, time.Millisecond)
	assert.ErrorIs(t, r.Err(), wantErr)
}

func TestNewRejectsNilDoWork(t *testing.T) {
	_, err := New("test", nil, nil, Noop, IdleConfig{})
	assert.Error(t, err)
}

func TestSleepingIdleSkipsSleepOnWork(t *testing.T) {
	s := &sleepingIdle{sleepNs: time.Hour}
	start := time.Now()
	s.idle(1)
	assert.Less(t, time.Since(start), time.Second)
}

func TestBackoffIdleProgressesThroughPhasesAndResets(t *testing.T) {
	b := &backoffIdle{
		maxSpins:  2,
		maxYields: 2,
		minPark:   time.Millisecond,
		maxPark:   4 * time.Millisecond,
	}

	b.idle(0) // spin 1
	b.idle(0) // spin 2, spins exhausted
	assert.EqualValues(t, 2, b.spins)
	assert.EqualValues(t, 0, b.yields)

	b.idle(0) // yield 1
	b.idle(0) // yield 2, yields exhausted
	assert.EqualValues(t, 2, b.yields)

	b.idle(0) // first park: starts at minPark, then doubles to 2ms
	assert.Equal(t, 2*time.Millisecond, b.park)
	b.idle(0) // doubles again to 4ms (== maxPark)
	assert.Equal(t, 4*time.Millisecond, b.park)
	b.idle(0) // would double past maxPark, clamped back to 4ms
	assert.Equal(t, 4*time.Millisecond, b.park)

	b.idle(1) // work resets everything
	assert.EqualValues(t, 0, b.spins)
	assert.EqualValues(t, 0, b.yields)
	assert.Equal(t, time.Duration(0), b.park)
}

func TestNewIdlerDefaultsSleepingSleepNs(t *testing.T) {
	idl := newIdler(Sleeping, IdleConfig{})
	s, ok := idl.(*sleepingIdle)
	require.True(t, ok)
	assert.EqualValues(t, time.Millisecond, s.sleepNs)
}
