// Package feed generalizes a family of per-exchange websocket
// ingesters, each of which used to write one hardcoded BBO struct into
// a shared matrix, into a reusable websocket-to-ring-frame producer
// over package ring's tensor-shaped Publish API, plus a random-walk
// synthetic generator for demos and tests that can't reach a real
// upstream.
package feed

import (
	"encoding/binary"
	"math"

	"github.com/tensorpool/tensorpool/ring"
	"github.com/tensorpool/tensorpool/seqlock"
)

// BBO is one top-of-book update: best bid/ask price and size.
type BBO struct {
	BidPrice float64
	BidSize  float64
	AskPrice float64
	AskSize  float64
}

// bboValuesLen is the element count of the flat float64 vector a BBO
// tensorizes to: [bid_price, bid_size, ask_price, ask_size].
const bboValuesLen = 4

// BBOFrame packs a BBO into the 1-D float64 ring.Frame layout every
// feed producer in this package publishes, so consumers see one
// uniform tensor shape regardless of which upstream fed it.
func BBOFrame(poolID uint16, tsNs uint64, metaVersion uint32, bbo BBO) ring.Frame {
	payload := make([]byte, bboValuesLen*8)
	binary.LittleEndian.PutUint64(payload[0:], math.Float64bits(bbo.BidPrice))
	binary.LittleEndian.PutUint64(payload[8:], math.Float64bits(bbo.BidSize))
	binary.LittleEndian.PutUint64(payload[16:], math.Float64bits(bbo.AskPrice))
	binary.LittleEndian.PutUint64(payload[24:], math.Float64bits(bbo.AskSize))

	tensor := seqlock.TensorHeader{
		Dtype:        seqlock.DtypeFloat64,
		Order:        seqlock.RowMajor,
		NDims:        1,
		ProgressUnit: 0,
	}
	tensor.Dims[0] = bboValuesLen
	tensor.Strides[0] = 8

	return ring.Frame{
		PoolID:      poolID,
		Payload:     payload,
		Tensor:      tensor,
		TimestampNs: tsNs,
		MetaVersion: metaVersion,
	}
}
