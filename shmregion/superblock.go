package shmregion

import (
	"encoding/binary"

	"github.com/tensorpool/tensorpool/tperr"
)

// LayoutVersion is TP_LAYOUT_VERSION from spec.md §4.2: bumping it is a
// breaking change to every ring file on disk.
const LayoutVersion uint32 = 1

// Magic identifies a tensorpool shared-memory region file.
const Magic uint32 = 0x54504f4c // "TPOL"

// RegionType distinguishes a header ring from a payload pool.
type RegionType uint8

const (
	RegionHeaderRing  RegionType = 1
	RegionPayloadPool RegionType = 2
)

// Superblock is the fixed-size leading region of every ring file, per
// spec.md §3.
type Superblock struct {
	Magic            uint32
	LayoutVersion    uint32
	StreamID         uint32
	Epoch            uint64
	RegionType       RegionType
	PoolID           uint16
	SlotCount        uint32
	SlotBytes        uint32
	StrideBytes      uint32
	ProducerPID      uint32
	StartTimestampNs uint64
	LastActivityNs   uint64
}

// SuperblockBytes is the fixed on-disk size of a Superblock, padded to a
// 64-byte cache line.
const SuperblockBytes = 64

const (
	sbOffMagic         = 0
	sbOffLayoutVersion = sbOffMagic + 4
	sbOffStreamID      = sbOffLayoutVersion + 4
	sbOffEpoch         = sbOffStreamID + 4
	sbOffRegionType    = sbOffEpoch + 8
	sbOffPoolID        = sbOffRegionType + 1
	sbOffSlotCount     = sbOffPoolID + 2
	sbOffSlotBytes     = sbOffSlotCount + 4
	sbOffStrideBytes   = sbOffSlotBytes + 4
	sbOffProducerPID   = sbOffStrideBytes + 4
	sbOffStartTs       = sbOffProducerPID + 4
	sbOffLastActivity  = sbOffStartTs + 8
	sbUsedBytes        = sbOffLastActivity + 8
)

func init() {
	if sbUsedBytes > SuperblockBytes {
		panic("shmregion: superblock layout overflows SuperblockBytes")
	}
}

// Marshal writes sb into the first SuperblockBytes of buf.
func (sb *Superblock) Marshal(buf []byte) {
	binary.LittleEndian.PutUint32(buf[sbOffMagic:], sb.Magic)
	binary.LittleEndian.PutUint32(buf[sbOffLayoutVersion:], sb.LayoutVersion)
	binary.LittleEndian.PutUint32(buf[sbOffStreamID:], sb.StreamID)
	binary.LittleEndian.PutUint64(buf[sbOffEpoch:], sb.Epoch)
	buf[sbOffRegionType] = byte(sb.RegionType)
	binary.LittleEndian.PutUint16(buf[sbOffPoolID:], sb.PoolID)
	binary.LittleEndian.PutUint32(buf[sbOffSlotCount:], sb.SlotCount)
	binary.LittleEndian.PutUint32(buf[sbOffSlotBytes:], sb.SlotBytes)
	binary.LittleEndian.PutUint32(buf[sbOffStrideBytes:], sb.StrideBytes)
	binary.LittleEndian.PutUint32(buf[sbOffProducerPID:], sb.ProducerPID)
	binary.LittleEndian.PutUint64(buf[sbOffStartTs:], sb.StartTimestampNs)
	binary.LittleEndian.PutUint64(buf[sbOffLastActivity:], sb.LastActivityNs)
}

// Unmarshal reads a Superblock from the first SuperblockBytes of buf.
func (sb *Superblock) Unmarshal(buf []byte) {
	sb.Magic = binary.LittleEndian.Uint32(buf[sbOffMagic:])
	sb.LayoutVersion = binary.LittleEndian.Uint32(buf[sbOffLayoutVersion:])
	sb.StreamID = binary.LittleEndian.Uint32(buf[sbOffStreamID:])
	sb.Epoch = binary.LittleEndian.Uint64(buf[sbOffEpoch:])
	sb.RegionType = RegionType(buf[sbOffRegionType])
	sb.PoolID = binary.LittleEndian.Uint16(buf[sbOffPoolID:])
	sb.SlotCount = binary.LittleEndian.Uint32(buf[sbOffSlotCount:])
	sb.SlotBytes = binary.LittleEndian.Uint32(buf[sbOffSlotBytes:])
	sb.StrideBytes = binary.LittleEndian.Uint32(buf[sbOffStrideBytes:])
	sb.ProducerPID = binary.LittleEndian.Uint32(buf[sbOffProducerPID:])
	sb.StartTimestampNs = binary.LittleEndian.Uint64(buf[sbOffStartTs:])
	sb.LastActivityNs = binary.LittleEndian.Uint64(buf[sbOffLastActivity:])
}

// Validate checks a superblock read off disk against the expected
// identity, per spec.md §4.2 step 3. A mismatch is always INVALID_PARAMS.
func (sb *Superblock) Validate(wantStreamID uint32, wantEpoch uint64, wantType RegionType, wantPoolID uint16, wantSlotBytes uint32) error {
	const op = "shmregion.Superblock.Validate"

	switch {
	case sb.Magic != Magic:
		return tperr.New(tperr.Invalid, op, "bad magic %#x", sb.Magic)
	case sb.LayoutVersion != LayoutVersion:
		return tperr.New(tperr.Invalid, op, "layout version %d != %d", sb.LayoutVersion, LayoutVersion)
	case sb.StreamID != wantStreamID:
		return tperr.New(tperr.Invalid, op, "stream id %d != %d", sb.StreamID, wantStreamID)
	case sb.Epoch != wantEpoch:
		return tperr.New(tperr.Invalid, op, "epoch %d != %d", sb.Epoch, wantEpoch)
	case sb.RegionType != wantType:
		return tperr.New(tperr.Invalid, op, "region type %d != %d", sb.RegionType, wantType)
	case sb.PoolID != wantPoolID:
		return tperr.New(tperr.Invalid, op, "pool id %d != %d", sb.PoolID, wantPoolID)
	case sb.SlotBytes != wantSlotBytes:
		return tperr.New(tperr.Invalid, op, "slot bytes %d != %d", sb.SlotBytes, wantSlotBytes)
	}
	return nil
}
