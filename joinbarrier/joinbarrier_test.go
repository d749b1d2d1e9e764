package joinbarrier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tensorpool/tensorpool/wire"
)

func TestSequenceBarrierOffsetReadiness(t *testing.T) {
	b, err := New(KindSequence, 4)
	require.NoError(t, err)

	err = b.ApplySequenceMap(10, 1, []wire.SequenceRule{
		{StreamID: 1, RuleType: wire.SequenceRuleOffset, Value: 0},
		{StreamID: 2, RuleType: wire.SequenceRuleOffset, Value: -1},
	}, MapOptions{})
	require.NoError(t, err)

	ready, err := b.IsReadySequence(5, 1000)
	require.NoError(t, err)
	assert.False(t, ready, "no observed updates yet")

	require.NoError(t, b.UpdateObservedSeq(1, 5, 1000))
	require.NoError(t, b.UpdateObservedSeq(2, 3, 1000))

	ready, err = b.IsReadySequence(5, 1000)
	require.NoError(t, err)
	assert.False(t, ready, "stream 2 needs seq >= 4 (5-1)")

	require.NoError(t, b.UpdateObservedSeq(2, 4, 1000))
	ready, err = b.IsReadySequence(5, 1000)
	require.NoError(t, err)
	assert.True(t, ready)
}

func TestSequenceBarrierWindowReadiness(t *testing.T) {
	b, err := New(KindSequence, 2)
	require.NoError(t, err)
	err = b.ApplySequenceMap(10, 1, []wire.SequenceRule{
		{StreamID: 1, RuleType: wire.SequenceRuleWindow, Value: 4},
	}, MapOptions{})
	require.NoError(t, err)

	require.NoError(t, b.UpdateObservedSeq(1, 2, 1000))
	ready, err := b.IsReadySequence(2, 1000)
	require.NoError(t, err)
	assert.False(t, ready, "window of 4 not yet satisfied at out_seq=2")

	require.NoError(t, b.UpdateObservedSeq(1, 3, 1000))
	ready, err = b.IsReadySequence(3, 1000)
	require.NoError(t, err)
	assert.True(t, ready)
}

func TestUpdateObservedSeqRejectsRegression(t *testing.T) {
	b, err := New(KindSequence, 1)
	require.NoError(t, err)
	require.NoError(t, b.ApplySequenceMap(1, 1, []wire.SequenceRule{{StreamID: 1, RuleType: wire.SequenceRuleOffset}}, MapOptions{}))

	require.NoError(t, b.UpdateObservedSeq(1, 10, 1000))
	err = b.UpdateObservedSeq(1, 9, 1001)
	assert.Error(t, err)
}

func TestSequenceBarrierRequireProcessed(t *testing.T) {
	b, err := New(KindSequence, 1)
	require.NoError(t, err)
	b.SetRequireProcessed(true)
	require.NoError(t, b.ApplySequenceMap(1, 1, []wire.SequenceRule{{StreamID: 1, RuleType: wire.SequenceRuleOffset}}, MapOptions{}))

	require.NoError(t, b.UpdateObservedSeq(1, 5, 1000))
	ready, err := b.IsReadySequence(5, 1000)
	require.NoError(t, err)
	assert.False(t, ready, "processed seq hasn't caught up")

	require.NoError(t, b.UpdateProcessedSeq(1, 5, 1000))
	ready, err = b.IsReadySequence(5, 1000)
	require.NoError(t, err)
	assert.True(t, ready)
}

func TestSequenceBarrierStaleInputSkipped(t *testing.T) {
	b, err := New(KindSequence, 2)
	require.NoError(t, err)
	b.SetAllowStale(true)

	require.NoError(t, b.ApplySequenceMap(1, 1, []wire.SequenceRule{
		{StreamID: 1, RuleType: wire.SequenceRuleOffset},
		{StreamID: 2, RuleType: wire.SequenceRuleOffset},
	}, MapOptions{HasStaleTimeout: true, StaleTimeoutNs: 100}))

	require.NoError(t, b.UpdateObservedSeq(1, 5, 1000))
	require.NoError(t, b.UpdateObservedSeq(2, 5, 1000))

	ready, err := b.IsReadySequence(5, 1050)
	require.NoError(t, err)
	assert.True(t, ready)

	ready, err = b.IsReadySequence(5, 2000)
	require.NoError(t, err)
	assert.True(t, ready, "both inputs stale and skipped")

	stale := b.StaleInputs(2000)
	assert.ElementsMatch(t, []uint32{1, 2}, stale)
}

func TestTimestampBarrierOffsetReadiness(t *testing.T) {
	b, err := New(KindTimestamp, 1)
	require.NoError(t, err)
	require.NoError(t, b.ApplyTimestampMap(1, 1, []wire.TimestampRule{
		{StreamID: 1, RuleType: wire.TimestampRuleOffsetNs, ValueNs: -1_000_000, TimestampSource: wire.TimestampSourceProducerMono},
	}, MapOptions{ClockDomain: 1}))

	require.NoError(t, b.UpdateObservedTime(1, 9_000_000, wire.TimestampSourceProducerMono, 1, 1000))

	ready, err := b.IsReadyTimestamp(10_000_000, 1, 1000)
	require.NoError(t, err)
	assert.True(t, ready)

	ready, err = b.IsReadyTimestamp(20_000_000, 1, 1001)
	require.NoError(t, err)
	assert.False(t, ready, "observed time hasn't caught up to the new out timestamp")
}

func TestTimestampBarrierClockDomainMismatch(t *testing.T) {
	b, err := New(KindTimestamp, 1)
	require.NoError(t, err)
	require.NoError(t, b.ApplyTimestampMap(1, 1, []wire.TimestampRule{
		{StreamID: 1, RuleType: wire.TimestampRuleOffsetNs, TimestampSource: wire.TimestampSourceProducerMono},
	}, MapOptions{ClockDomain: 1}))

	_, err = b.IsReadyTimestamp(10, 2, 1000)
	assert.Error(t, err)
}

func TestUpdateObservedTimeRejectsSourceMismatch(t *testing.T) {
	b, err := New(KindTimestamp, 1)
	require.NoError(t, err)
	require.NoError(t, b.ApplyTimestampMap(1, 1, []wire.TimestampRule{
		{StreamID: 1, RuleType: wire.TimestampRuleOffsetNs, TimestampSource: wire.TimestampSourceProducerMono},
	}, MapOptions{}))

	require.NoError(t, b.UpdateObservedTime(1, 1000, wire.TimestampSourceProducerMono, 0, 1000))
	err = b.UpdateObservedTime(1, 2000, wire.TimestampSourceWallClock, 0, 1001)
	assert.Error(t, err)
}

func TestLatestValueBarrierReadinessAndCollect(t *testing.T) {
	b, err := New(KindLatestValue, 2)
	require.NoError(t, err)
	require.NoError(t, b.ApplySequenceMap(1, 1, []wire.SequenceRule{
		{StreamID: 1, RuleType: wire.SequenceRuleOffset},
		{StreamID: 2, RuleType: wire.SequenceRuleOffset},
	}, MapOptions{}))

	ready, err := b.IsReadyLatest(0, 0, 1000)
	require.NoError(t, err)
	assert.False(t, ready, "neither input has an observed update")

	require.NoError(t, b.UpdateObservedSeq(1, 3, 1000))
	require.NoError(t, b.UpdateObservedSeq(2, 7, 1000))

	ready, err = b.IsReadyLatest(0, 0, 1000)
	require.NoError(t, err)
	assert.True(t, ready)

	sel, err := b.CollectLatest()
	require.NoError(t, err)
	require.Len(t, sel, 2)
	assert.EqualValues(t, 3, sel[0].Seq)
	assert.EqualValues(t, 7, sel[1].Seq)

	require.NoError(t, b.InvalidateLatest(1))
	ready, err = b.IsReadyLatest(0, 0, 1001)
	require.NoError(t, err)
	assert.False(t, ready, "stream 1 invalidated, must block again")
}

func TestApplyMapRejectsWrongKind(t *testing.T) {
	b, err := New(KindTimestamp, 1)
	require.NoError(t, err)
	err = b.ApplySequenceMap(1, 1, []wire.SequenceRule{{StreamID: 1}}, MapOptions{})
	assert.Error(t, err)
}

func TestApplyMapRejectsOverCapacity(t *testing.T) {
	b, err := New(KindSequence, 1)
	require.NoError(t, err)
	err = b.ApplySequenceMap(1, 1, []wire.SequenceRule{{StreamID: 1}, {StreamID: 2}}, MapOptions{})
	assert.Error(t, err)
}

func TestApplyMapClearsPriorState(t *testing.T) {
	b, err := New(KindSequence, 2)
	require.NoError(t, err)
	require.NoError(t, b.ApplySequenceMap(1, 1, []wire.SequenceRule{{StreamID: 1, RuleType: wire.SequenceRuleOffset}}, MapOptions{}))
	require.NoError(t, b.UpdateObservedSeq(1, 99, 1000))

	require.NoError(t, b.ApplySequenceMap(2, 2, []wire.SequenceRule{{StreamID: 1, RuleType: wire.SequenceRuleOffset}}, MapOptions{}))
	ready, err := b.IsReadySequence(0, 1000)
	require.NoError(t, err)
	assert.False(t, ready, "reapplying the map must wipe prior observed state")
}
