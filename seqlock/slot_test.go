package seqlock

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSeqCommitPacking(t *testing.T) {
	for _, seq := range []uint64{0, 1, 1234567, 1 << 62} {
		commit := SeqCommit(seq, true)
		gotSeq, inProgress := SplitSeqCommit(commit)
		require.Equal(t, seq, gotSeq)
		require.True(t, inProgress)

		commit = SeqCommit(seq, false)
		gotSeq, inProgress = SplitSeqCommit(commit)
		require.Equal(t, seq, gotSeq)
		require.False(t, inProgress)
	}
}

func TestSlotReadWriteRoundTrip(t *testing.T) {
	buf := make([]byte, SlotBytes)
	slot := NewSlot(buf)

	h := &Header{
		ValuesLenBytes:   16,
		PayloadSlotIndex: 3,
		PoolID:           7,
		PayloadOffset:    0,
		TimestampNs:      1234,
		MetaVersion:      1,
		Tensor: TensorHeader{
			Dtype: DtypeFloat32,
			Order: RowMajor,
			NDims: 2,
			Dims:  [MaxDims]uint32{2, 2},
		},
	}

	slot.BeginWrite(1)
	slot.WriteFields(h)
	slot.EndWrite(1)

	got, err := slot.Read(1, 64, "test")
	require.NoError(t, err)
	require.Equal(t, uint64(1), got.Seq)
	require.Equal(t, h.ValuesLenBytes, got.ValuesLenBytes)
	require.Equal(t, h.Tensor.Dtype, got.Tensor.Dtype)
	require.Equal(t, h.Tensor.Dims, got.Tensor.Dims)
}

func TestSlotReadGapAndLate(t *testing.T) {
	buf := make([]byte, SlotBytes)
	slot := NewSlot(buf)

	slot.BeginWrite(5)
	slot.WriteFields(&Header{ValuesLenBytes: 0})
	slot.EndWrite(5)

	// Ring holds seq 5: requesting an older seq (3) means it was already
	// overwritten — LATE. Requesting a newer seq (7) means it hasn't
	// been published yet — GAP. See DESIGN.md for why this is the
	// opposite of a literal reading of spec.md §4.1's prose.
	_, err := slot.Read(3, 64, "test")
	require.ErrorIs(t, err, errLate)

	_, err = slot.Read(7, 64, "test")
	require.ErrorIs(t, err, errGap)
}

func TestSlotReadInProgress(t *testing.T) {
	buf := make([]byte, SlotBytes)
	slot := NewSlot(buf)

	slot.BeginWrite(1)
	_, err := slot.Read(1, 64, "test")
	require.ErrorIs(t, err, errInProgress)
}

func TestSlotReadBoundsViolation(t *testing.T) {
	buf := make([]byte, SlotBytes)
	slot := NewSlot(buf)

	slot.BeginWrite(1)
	slot.WriteFields(&Header{ValuesLenBytes: 100, PayloadOffset: 0})
	slot.EndWrite(1)

	_, err := slot.Read(1, 64, "test")
	require.ErrorIs(t, err, errInvalid)
}

// TestSlotPublishAtomicity exercises property 1 from spec.md §8 with a
// concurrent writer and reader: every successful Read returns exactly
// the next seq the reader asked for. It checks the returned seq only;
// it does not compare the timestamp or payload bytes.
func TestSlotPublishAtomicity(t *testing.T) {
	buf := make([]byte, SlotBytes)
	slot := NewSlot(buf)

	const iterations = 20000
	var wg sync.WaitGroup
	wg.Add(2)

	stop := make(chan struct{})

	go func() {
		defer wg.Done()
		rng := rand.New(rand.NewSource(1))
		for seq := uint64(1); seq <= iterations; seq++ {
			ts := rng.Uint64()
			slot.BeginWrite(seq)
			slot.WriteFields(&Header{TimestampNs: ts, ValuesLenBytes: 0})
			slot.EndWrite(seq)
		}
		close(stop)
	}()

	go func() {
		defer wg.Done()
		var lastSeq uint64
		for {
			select {
			case <-stop:
				return
			default:
			}
			h, err := slot.Read(lastSeq+1, 64, "reader")
			if err != nil {
				continue
			}
			if h.Seq != lastSeq+1 {
				t.Errorf("reader observed unexpected seq %d, wanted %d", h.Seq, lastSeq+1)
				return
			}
			lastSeq = h.Seq
			time.Sleep(time.Microsecond)
		}
	}()

	wg.Wait()
}
