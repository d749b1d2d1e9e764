package ring

import "github.com/tensorpool/tensorpool/tperr"

// progressEntry is the last seen state for one header-ring slot index.
type progressEntry struct {
	seq         uint64
	hasSeq      bool
	bytesFilled uint32
}

// ProgressTracker enforces that, for a given (stream, epoch, seq), the
// payload_bytes_filled sequence reported by FrameProgress messages is
// monotonically non-decreasing (spec.md §4.1, testable property 2). It
// is sized to the header ring — the key is slot index, so wraparound
// simply overwrites the old entry for a different seq.
type ProgressTracker struct {
	entries []progressEntry
	mask    uint32
}

// NewProgressTracker creates a tracker for a ring of nslots slots, which
// must be a power of two.
func NewProgressTracker(nslots uint32) *ProgressTracker {
	if nslots == 0 || nslots&(nslots-1) != 0 {
		panic("ring: nslots must be a power of two")
	}
	return &ProgressTracker{
		entries: make([]progressEntry, nslots),
		mask:    nslots - 1,
	}
}

// Update records a new payload_bytes_filled observation for seq. A
// smaller seq than the one currently tracked at this slot index is a
// stale/reordered progress message and is rejected without touching
// state; a regression in bytesFilled for the *same* seq is rejected
// too. Both cases return a tperr.Invalid-kind error so the caller (the
// progress poller) can log WARN and drop, per spec.md §7.
func (t *ProgressTracker) Update(seq uint64, bytesFilled uint32) error {
	const op = "ring.ProgressTracker.Update"

	idx := uint32(seq) & t.mask
	e := &t.entries[idx]

	switch {
	case !e.hasSeq || seq > e.seq:
		*e = progressEntry{seq: seq, hasSeq: true, bytesFilled: bytesFilled}
		return nil
	case seq < e.seq:
		return tperr.New(tperr.Invalid, op, "stale progress for seq %d, already at seq %d", seq, e.seq)
	default:
		if bytesFilled < e.bytesFilled {
			return tperr.New(tperr.Invalid, op, "payload_bytes_filled regression for seq %d: %d < %d", seq, bytesFilled, e.bytesFilled)
		}
		e.bytesFilled = bytesFilled
		return nil
	}
}

// Get returns the last tracked (seq, bytesFilled) for the slot index
// seq would map to, and whether any entry is present there.
func (t *ProgressTracker) Get(seq uint64) (uint64, uint32, bool) {
	e := t.entries[uint32(seq)&t.mask]
	return e.seq, e.bytesFilled, e.hasSeq
}
