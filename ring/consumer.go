package ring

import (
	"github.com/tensorpool/tensorpool/seqlock"
	"github.com/tensorpool/tensorpool/shmregion"
	"github.com/tensorpool/tensorpool/tperr"
)

// Consumer reads committed frames off a header ring and its payload
// pools, applying the reader protocol in spec.md §4.1 (gap/late
// detection, bounds validation) via seqlock.Slot.Read.
type Consumer struct {
	header *shmregion.Region
	pools  map[uint16]*shmregion.Region
	nslots uint32
}

// NewConsumer wraps an already-opened, read-only header ring and its
// payload pools.
func NewConsumer(header *shmregion.Region, pools map[uint16]*shmregion.Region) *Consumer {
	sb := header.Superblock()
	return &Consumer{header: header, pools: pools, nslots: sb.SlotCount}
}

// Read locates, validates and copies out the frame at seq. The returned
// byte slice is a copy — safe to retain past the next producer
// wraparound over the same slot.
func (c *Consumer) Read(seq uint64) (seqlock.Header, []byte, error) {
	const op = "ring.Consumer.Read"

	idx := uint32(seq) % c.nslots
	slot := c.header.Slot(idx)
	headerSB := c.header.Superblock()

	h, err := slot.Read(seq, headerSB.SlotBytes, op)
	if err != nil {
		return seqlock.Header{}, nil, err
	}

	pool, ok := c.pools[h.PoolID]
	if !ok {
		return seqlock.Header{}, nil, tperr.New(tperr.Invalid, op, "unknown pool id %d", h.PoolID)
	}
	poolSB := pool.Superblock()
	if h.ValuesLenBytes > poolSB.StrideBytes || uint64(h.PayloadOffset)+uint64(h.ValuesLenBytes) > uint64(poolSB.StrideBytes) {
		return seqlock.Header{}, nil, tperr.New(tperr.Invalid, op, "slot %d payload bounds invalid", idx)
	}

	src := pool.Payload(h.PayloadSlotIndex)
	out := make([]byte, h.ValuesLenBytes)
	copy(out, src[h.PayloadOffset:uint64(h.PayloadOffset)+uint64(h.ValuesLenBytes)])

	return h, out, nil
}
