package mergemap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tensorpool/tensorpool/joinbarrier"
	"github.com/tensorpool/tensorpool/wire"
)

func TestUpsertSequenceThenFind(t *testing.T) {
	reg, err := New(2)
	require.NoError(t, err)

	m := SequenceMap{
		OutStreamID: 10,
		Epoch:       1,
		Rules:       []wire.SequenceRule{{StreamID: 1, RuleType: wire.SequenceRuleOffset}},
	}
	require.NoError(t, reg.UpsertSequence(m, 1000))

	got, ok := reg.FindSequence(10, 1)
	require.True(t, ok)
	assert.Equal(t, m.Rules, got.Rules)

	_, ok = reg.FindSequence(10, 2)
	assert.False(t, ok, "wrong epoch must not match")
}

func TestUpsertSequenceEvictsOtherEpochForSameStream(t *testing.T) {
	reg, err := New(2)
	require.NoError(t, err)

	require.NoError(t, reg.UpsertSequence(SequenceMap{OutStreamID: 10, Epoch: 1}, 1000))
	require.NoError(t, reg.UpsertSequence(SequenceMap{OutStreamID: 10, Epoch: 2}, 2000))

	_, ok := reg.FindSequence(10, 1)
	assert.False(t, ok, "epoch 1 entry must be evicted by the epoch 2 upsert")

	got, ok := reg.FindSequence(10, 2)
	require.True(t, ok)
	assert.EqualValues(t, 2, got.Epoch)
}

func TestUpsertSequenceSameEpochReplacesInPlace(t *testing.T) {
	reg, err := New(1)
	require.NoError(t, err)

	require.NoError(t, reg.UpsertSequence(SequenceMap{OutStreamID: 10, Epoch: 1, Rules: []wire.SequenceRule{{StreamID: 1}}}, 1000))
	require.NoError(t, reg.UpsertSequence(SequenceMap{OutStreamID: 10, Epoch: 1, Rules: []wire.SequenceRule{{StreamID: 1}, {StreamID: 2}}}, 2000))

	got, ok := reg.FindSequence(10, 1)
	require.True(t, ok)
	assert.Len(t, got.Rules, 2)
}

func TestUpsertRejectsWhenRegistryFull(t *testing.T) {
	reg, err := New(1)
	require.NoError(t, err)

	require.NoError(t, reg.UpsertSequence(SequenceMap{OutStreamID: 1, Epoch: 1}, 1000))
	err = reg.UpsertSequence(SequenceMap{OutStreamID: 2, Epoch: 1}, 1000)
	assert.Error(t, err)
}

func TestSequenceAndTimestampKindsAreIndependentSlots(t *testing.T) {
	reg, err := New(2)
	require.NoError(t, err)

	require.NoError(t, reg.UpsertSequence(SequenceMap{OutStreamID: 1, Epoch: 1}, 1000))
	require.NoError(t, reg.UpsertTimestamp(TimestampMap{OutStreamID: 1, Epoch: 1}, 1000))

	_, ok := reg.FindSequence(1, 1)
	assert.True(t, ok)
	_, ok = reg.FindTimestamp(1, 1)
	assert.True(t, ok)
}

func TestApplyToWiresSequenceMapIntoBarrier(t *testing.T) {
	reg, err := New(1)
	require.NoError(t, err)

	require.NoError(t, reg.UpsertSequence(SequenceMap{
		OutStreamID: 5,
		Epoch:       1,
		Rules:       []wire.SequenceRule{{StreamID: 1, RuleType: wire.SequenceRuleOffset}},
	}, 1000))

	b, err := joinbarrier.New(joinbarrier.KindSequence, 4)
	require.NoError(t, err)

	applied, err := reg.ApplyTo(b, KindSequence, 5, 1)
	require.NoError(t, err)
	assert.True(t, applied)

	require.NoError(t, b.UpdateObservedSeq(1, 3, 1000))
	ready, err := b.IsReadySequence(3, 1000)
	require.NoError(t, err)
	assert.True(t, ready)
}

func TestApplyToReturnsFalseWhenNothingRegistered(t *testing.T) {
	reg, err := New(1)
	require.NoError(t, err)
	b, err := joinbarrier.New(joinbarrier.KindSequence, 1)
	require.NoError(t, err)

	applied, err := reg.ApplyTo(b, KindSequence, 99, 1)
	require.NoError(t, err)
	assert.False(t, applied)
}
