// Package ring implements the producer claim/write/commit and consumer
// locate/read/validate protocols described in spec.md §4.1, layered on
// top of seqlock.Slot (the commit/publish discipline) and shmregion.Region
// (the mmap'd file backing). This generalizes a single-writer
// mmap'd ring buffer that only ever wrote one BBO struct from one
// hardcoded producer, to an arbitrary-tensor, multi-pool,
// multi-epoch ring.
package ring

import (
	"github.com/tensorpool/tensorpool/seqlock"
	"github.com/tensorpool/tensorpool/shmregion"
	"github.com/tensorpool/tensorpool/tperr"
)

// Producer claims and publishes slots on one stream's header ring,
// spreading payload bytes across one or more payload pools.
type Producer struct {
	header  *shmregion.Region
	pools   map[uint16]*shmregion.Region
	nslots  uint32
	nextSeq uint64
}

// NewProducer wraps an already-opened header ring and its payload pools,
// keyed by pool id, and resumes publishing at seq 0.
func NewProducer(header *shmregion.Region, pools map[uint16]*shmregion.Region) *Producer {
	sb := header.Superblock()
	return &Producer{header: header, pools: pools, nslots: sb.SlotCount}
}

// Frame is one producer-side publish request.
type Frame struct {
	PoolID      uint16
	Payload     []byte
	Tensor      seqlock.TensorHeader
	TimestampNs uint64
	MetaVersion uint32
}

// Publish claims the next sequence number, writes the tensor header and
// copies payload into the chosen pool, then commits, following the
// exact four-step protocol in spec.md §4.1.
func (p *Producer) Publish(f Frame) (seq uint64, err error) {
	const op = "ring.Producer.Publish"

	pool, ok := p.pools[f.PoolID]
	if !ok {
		return 0, tperr.New(tperr.Invalid, op, "unknown pool id %d", f.PoolID)
	}
	poolSB := pool.Superblock()
	if uint32(len(f.Payload)) > poolSB.StrideBytes {
		return 0, tperr.New(tperr.Invalid, op, "payload %d bytes exceeds pool stride %d", len(f.Payload), poolSB.StrideBytes)
	}

	seq = p.nextSeq
	idx := uint32(seq) % p.nslots

	slot := p.header.Slot(idx)
	slot.BeginWrite(seq)

	h := seqlock.Header{
		ValuesLenBytes:   uint32(len(f.Payload)),
		PayloadSlotIndex: idx,
		PoolID:           f.PoolID,
		PayloadOffset:    0,
		TimestampNs:      f.TimestampNs,
		MetaVersion:      f.MetaVersion,
		Tensor:           f.Tensor,
	}
	slot.WriteFields(&h)

	dst := pool.Payload(idx)
	copy(dst, f.Payload)

	slot.EndWrite(seq)
	p.header.TouchActivity(f.TimestampNs)

	p.nextSeq++
	return seq, nil
}

// NextSeq returns the sequence number the next Publish call will use.
func (p *Producer) NextSeq() uint64 { return p.nextSeq }
