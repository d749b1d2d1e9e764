// Package seqlock implements the slot header codec and the sequence-lock
// commit/publish discipline described in spec.md §3-§4.1. It operates on a
// raw byte slice (normally a window into an mmap'd ring file, see
// package shmregion) rather than a Go struct overlay, so the wire layout
// is exact regardless of struct padding rules.
package seqlock

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/tensorpool/tensorpool/tperr"
)

// Dtype identifies the scalar element type of a tensor frame.
type Dtype uint8

const (
	DtypeFloat32 Dtype = 1
	DtypeFloat64 Dtype = 2
	DtypeInt32   Dtype = 3
	DtypeInt64   Dtype = 4
	DtypeUint8   Dtype = 5
	DtypeBFloat16 Dtype = 6
)

// MajorOrder selects row-major vs column-major strides.
type MajorOrder uint8

const (
	RowMajor    MajorOrder = 0
	ColumnMajor MajorOrder = 1
)

// MaxDims is the fixed number of dimension/stride slots carried in the
// embedded tensor header, per spec.md §3 ("up to 8 dims + strides").
const MaxDims = 8

// TensorHeader is the fixed-size tensor metadata blob embedded in every
// slot header.
type TensorHeader struct {
	Dtype        Dtype
	Order        MajorOrder
	NDims        uint8
	ProgressUnit uint8
	Dims         [MaxDims]uint32
	Strides      [MaxDims]uint32
}

// tensorHeaderBytes is the wire size of TensorHeader: 4 scalar bytes plus
// two [8]uint32 arrays.
const tensorHeaderBytes = 4 + MaxDims*4 + MaxDims*4

func (h *TensorHeader) marshal(b []byte) {
	b[0] = byte(h.Dtype)
	b[1] = byte(h.Order)
	b[2] = h.NDims
	b[3] = h.ProgressUnit
	off := 4
	for i := 0; i < MaxDims; i++ {
		binary.LittleEndian.PutUint32(b[off:], h.Dims[i])
		off += 4
	}
	for i := 0; i < MaxDims; i++ {
		binary.LittleEndian.PutUint32(b[off:], h.Strides[i])
		off += 4
	}
}

func (h *TensorHeader) unmarshal(b []byte) {
	h.Dtype = Dtype(b[0])
	h.Order = MajorOrder(b[1])
	h.NDims = b[2]
	h.ProgressUnit = b[3]
	off := 4
	for i := 0; i < MaxDims; i++ {
		h.Dims[i] = binary.LittleEndian.Uint32(b[off:])
		off += 4
	}
	for i := 0; i < MaxDims; i++ {
		h.Strides[i] = binary.LittleEndian.Uint32(b[off:])
		off += 4
	}
}

// Field byte offsets within a slot. SeqCommit must be first: readers and
// writers both address it directly for atomic access.
const (
	offSeqCommit         = 0
	offValuesLenBytes    = offSeqCommit + 8
	offPayloadSlotIndex  = offValuesLenBytes + 4
	offPoolID            = offPayloadSlotIndex + 4
	offPayloadOffset     = offPoolID + 2
	offTimestampNs       = offPayloadOffset + 4
	offMetaVersion       = offTimestampNs + 8
	offTensorHeader      = offMetaVersion + 4
	usedBytes            = offTensorHeader + tensorHeaderBytes
)

// SlotBytes is the implementation-fixed slot header size referenced by
// superblock validation (spec.md §4.2): usedBytes rounded up to a 128-byte
// cache-line-friendly boundary, with the remainder reserved.
const SlotBytes = 128

func init() {
	if usedBytes > SlotBytes {
		panic("seqlock: slot header layout overflows SlotBytes")
	}
}

// Header is a decoded, in-memory copy of one slot header. Seq and InProgress
// are derived from SeqCommit, never stored independently.
type Header struct {
	Seq                uint64
	InProgress         bool
	ValuesLenBytes     uint32
	PayloadSlotIndex   uint32
	PoolID             uint16
	PayloadOffset      uint32
	TimestampNs        uint64
	MetaVersion        uint32
	Tensor             TensorHeader
}

// SeqCommit packs a sequence number and the in-progress bit, per spec.md
// §4.1: "bit 0 = in-progress, high 63 bits = sequence".
func SeqCommit(seq uint64, inProgress bool) uint64 {
	v := seq << 1
	if inProgress {
		v |= 1
	}
	return v
}

// SplitSeqCommit is the inverse of SeqCommit.
func SplitSeqCommit(commit uint64) (seq uint64, inProgress bool) {
	return commit >> 1, commit&1 != 0
}

// Slot is a view over one SlotBytes-sized window of a mapped ring region.
type Slot struct {
	buf []byte
}

// NewSlot wraps a byte window that MUST be at least SlotBytes long and
// 8-byte aligned (mmap'd pages always are).
func NewSlot(buf []byte) *Slot {
	if len(buf) < SlotBytes {
		panic("seqlock: slot buffer shorter than SlotBytes")
	}
	return &Slot{buf: buf}
}

func (s *Slot) seqCommitPtr() *uint64 {
	return (*uint64)(ptr(s.buf[offSeqCommit:]))
}

// LoadSeqCommit performs an acquire load of the synchronization word.
func (s *Slot) LoadSeqCommit() uint64 {
	return atomic.LoadUint64(s.seqCommitPtr())
}

// StoreSeqCommit performs a release store of the synchronization word.
func (s *Slot) StoreSeqCommit(v uint64) {
	atomic.StoreUint64(s.seqCommitPtr(), v)
}

// BeginWrite marks the slot in-progress (producer protocol step 1 in
// spec.md §4.1). Every other field must be written only after this call
// returns and before EndWrite.
func (s *Slot) BeginWrite(seq uint64) {
	s.StoreSeqCommit(SeqCommit(seq, true))
}

// WriteFields writes every slot field except seq_commit and the payload
// bytes themselves (producer protocol step 2).
func (s *Slot) WriteFields(h *Header) {
	binary.LittleEndian.PutUint32(s.buf[offValuesLenBytes:], h.ValuesLenBytes)
	binary.LittleEndian.PutUint32(s.buf[offPayloadSlotIndex:], h.PayloadSlotIndex)
	binary.LittleEndian.PutUint16(s.buf[offPoolID:], h.PoolID)
	binary.LittleEndian.PutUint32(s.buf[offPayloadOffset:], h.PayloadOffset)
	binary.LittleEndian.PutUint64(s.buf[offTimestampNs:], h.TimestampNs)
	binary.LittleEndian.PutUint32(s.buf[offMetaVersion:], h.MetaVersion)
	h.Tensor.marshal(s.buf[offTensorHeader : offTensorHeader+tensorHeaderBytes])
}

// EndWrite clears the in-progress bit with a release store: the publish
// fence from spec.md §4.1 step 4. seq must match the value passed to
// BeginWrite.
func (s *Slot) EndWrite(seq uint64) {
	s.StoreSeqCommit(SeqCommit(seq, false))
}

// Sentinel errors for errors.Is comparisons; tperr.Error.Is only compares
// Kind, so any instance of a given kind matches.
var (
	errGap        = tperr.New(tperr.Gap, "seqlock", "")
	errLate       = tperr.New(tperr.Late, "seqlock", "")
	errInProgress = tperr.New(tperr.InProgress, "seqlock", "")
	errInvalid    = tperr.New(tperr.Invalid, "seqlock", "")
)

// readFields copies every field except seq_commit into h.
func (s *Slot) readFields(h *Header) {
	h.ValuesLenBytes = binary.LittleEndian.Uint32(s.buf[offValuesLenBytes:])
	h.PayloadSlotIndex = binary.LittleEndian.Uint32(s.buf[offPayloadSlotIndex:])
	h.PoolID = binary.LittleEndian.Uint16(s.buf[offPoolID:])
	h.PayloadOffset = binary.LittleEndian.Uint32(s.buf[offPayloadOffset:])
	h.TimestampNs = binary.LittleEndian.Uint64(s.buf[offTimestampNs:])
	h.MetaVersion = binary.LittleEndian.Uint32(s.buf[offMetaVersion:])
	h.Tensor.unmarshal(s.buf[offTensorHeader : offTensorHeader+tensorHeaderBytes])
}

// Read implements the reader protocol of spec.md §4.1 steps 1-4 for a
// requested seq. strideBytes is the owning pool's stride, used to validate
// the bounds invariant (values_len_bytes <= stride, offset+len <= stride).
func (s *Slot) Read(seq uint64, strideBytes uint32, op string) (Header, error) {
	first := s.LoadSeqCommit()
	storedSeq, inProgress := SplitSeqCommit(first)
	if inProgress {
		return Header{}, tperr.New(tperr.InProgress, op, "slot %d in progress", seq)
	}
	// storedSeq > seq: the ring has already wrapped past the requested
	// slot and overwritten it — the reader is LATE. storedSeq < seq: the
	// producer hasn't reached the requested slot yet — there's a GAP.
	// See DESIGN.md for why this is the opposite of a literal reading of
	// spec.md §4.1's prose, which the worked rollover example (§8 E2)
	// contradicts.
	if storedSeq > seq {
		return Header{}, tperr.New(tperr.Late, op, "requested seq %d, ring holds %d", seq, storedSeq)
	}
	if storedSeq < seq {
		return Header{}, tperr.New(tperr.Gap, op, "requested seq %d, ring holds %d", seq, storedSeq)
	}

	var h Header
	h.Seq = storedSeq
	s.readFields(&h)

	second := s.LoadSeqCommit()
	if second != first {
		return Header{}, tperr.New(tperr.InProgress, op, "slot %d changed during read, retry", seq)
	}

	if h.ValuesLenBytes > strideBytes || uint64(h.PayloadOffset)+uint64(h.ValuesLenBytes) > uint64(strideBytes) {
		return Header{}, tperr.New(tperr.Invalid, op, "slot %d fields out of bounds (len=%d offset=%d stride=%d)",
			seq, h.ValuesLenBytes, h.PayloadOffset, strideBytes)
	}

	return h, nil
}
