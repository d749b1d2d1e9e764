package ring

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tensorpool/tensorpool/seqlock"
	"github.com/tensorpool/tensorpool/shmregion"
	"github.com/tensorpool/tensorpool/tperr"
)

const (
	testNSlots      = 4
	testStreamID    = 1
	testEpoch       = 1
	testPoolID      = 1
	testStrideBytes = 64
)

func provisionTestRing(t *testing.T) (headerPath, poolPath string) {
	t.Helper()
	dir := t.TempDir()
	headerPath = dir + "/header.ring"
	poolPath = dir + "/1.pool"

	require.NoError(t, shmregion.Provision(shmregion.ProvisionSpec{
		Path:        headerPath,
		StreamID:    testStreamID,
		Epoch:       testEpoch,
		RegionType:  shmregion.RegionHeaderRing,
		PoolID:      0,
		SlotCount:   testNSlots,
		SlotBytes:   seqlock.SlotBytes,
		StrideBytes: 0,
		Mode:        0600,
	}))

	require.NoError(t, shmregion.Provision(shmregion.ProvisionSpec{
		Path:        poolPath,
		StreamID:    testStreamID,
		Epoch:       testEpoch,
		RegionType:  shmregion.RegionPayloadPool,
		PoolID:      testPoolID,
		SlotCount:   testNSlots,
		SlotBytes:   testStrideBytes,
		StrideBytes: testStrideBytes,
		Mode:        0600,
	}))

	return headerPath, poolPath
}

func openTestRegions(t *testing.T, headerPath, poolPath string, mode shmregion.Mode) (*shmregion.Region, *shmregion.Region) {
	t.Helper()
	header, err := shmregion.Open(headerPath, mode, testStreamID, testEpoch, shmregion.RegionHeaderRing, 0, seqlock.SlotBytes)
	require.NoError(t, err)
	pool, err := shmregion.Open(poolPath, mode, testStreamID, testEpoch, shmregion.RegionPayloadPool, testPoolID, testStrideBytes)
	require.NoError(t, err)
	return header, pool
}

// TestE1PublishConsumeOneFrame implements spec.md scenario E1.
func TestE1PublishConsumeOneFrame(t *testing.T) {
	headerPath, poolPath := provisionTestRing(t)

	producerHeader, producerPool := openTestRegions(t, headerPath, poolPath, shmregion.ReadWrite)
	defer producerHeader.Close()
	defer producerPool.Close()
	producer := NewProducer(producerHeader, map[uint16]*shmregion.Region{testPoolID: producerPool})

	consumerHeader, consumerPool := openTestRegions(t, headerPath, poolPath, shmregion.ReadOnly)
	defer consumerHeader.Close()
	defer consumerPool.Close()
	consumer := NewConsumer(consumerHeader, map[uint16]*shmregion.Region{testPoolID: consumerPool})

	payload := f32Bytes(1.0, 2.0, 3.0, 4.0)
	seq, err := producer.Publish(Frame{
		PoolID:  testPoolID,
		Payload: payload,
		Tensor: seqlock.TensorHeader{
			Dtype: seqlock.DtypeFloat32,
			Order: seqlock.RowMajor,
			NDims: 2,
			Dims:  [seqlock.MaxDims]uint32{2, 2},
		},
		TimestampNs: 1000,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 0, seq)

	h, got, err := consumer.Read(seq)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.Equal(t, uint32(2), h.Tensor.Dims[0])
	assert.Equal(t, uint32(2), h.Tensor.Dims[1])
}

// TestE2RingRollover implements spec.md scenario E2: 32 publishes over a
// 4-slot ring, reading seq=0 after seq=31 is LATE.
func TestE2RingRollover(t *testing.T) {
	headerPath, poolPath := provisionTestRing(t)

	producerHeader, producerPool := openTestRegions(t, headerPath, poolPath, shmregion.ReadWrite)
	defer producerHeader.Close()
	defer producerPool.Close()
	producer := NewProducer(producerHeader, map[uint16]*shmregion.Region{testPoolID: producerPool})

	consumerHeader, consumerPool := openTestRegions(t, headerPath, poolPath, shmregion.ReadOnly)
	defer consumerHeader.Close()
	defer consumerPool.Close()
	consumer := NewConsumer(consumerHeader, map[uint16]*shmregion.Region{testPoolID: consumerPool})

	for i := 0; i < 32; i++ {
		seq, err := producer.Publish(Frame{PoolID: testPoolID, Payload: f32Bytes(float32(i))})
		require.NoError(t, err)
		require.EqualValues(t, i, seq)

		_, got, err := consumer.Read(seq)
		require.NoError(t, err)
		assert.Equal(t, f32Bytes(float32(i)), got)
	}

	_, _, err := consumer.Read(0)
	var tpErr *tperr.Error
	require.ErrorAs(t, err, &tpErr)
	assert.Equal(t, tperr.Late, tpErr.Kind)
}

func f32Bytes(vs ...float32) []byte {
	out := make([]byte, 0, len(vs)*4)
	for _, v := range vs {
		var b [4]byte
		bits := math.Float32bits(v)
		b[0] = byte(bits)
		b[1] = byte(bits >> 8)
		b[2] = byte(bits >> 16)
		b[3] = byte(bits >> 24)
		out = append(out, b[:]...)
	}
	return out
}
