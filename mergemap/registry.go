// Package mergemap implements the fixed-capacity registry of published
// join-barrier rule sets keyed by (kind, out_stream_id, epoch), per
// spec.md §4.6. Grounded on original_source/src/tp_merge_map.c and
// include/tensor_pool/tp_merge_map.h's tp_merge_map_registry_t: a flat
// array of entries, upsert-by-find-or-allocate-slot, and
// invalidate-on-new-epoch (any entry for the same out_stream_id at a
// different epoch is evicted when a fresh one is upserted). The C
// side's separate aeron_alloc'd sequence_rules/timestamp_rules arrays
// become two typed map fields on each entry, of which only the one
// matching the entry's kind is populated.
package mergemap

import (
	"github.com/tensorpool/tensorpool/joinbarrier"
	"github.com/tensorpool/tensorpool/tperr"
	"github.com/tensorpool/tensorpool/wire"
)

// Kind selects which rule family an entry holds.
type Kind int

const (
	KindSequence Kind = iota + 1
	KindTimestamp
)

// SequenceMap is one upserted sequence merge-map announce plus the
// tuning fields spec.md's wire schema omits (see joinbarrier.MapOptions).
type SequenceMap struct {
	OutStreamID uint32
	Epoch       uint64
	Rules       []wire.SequenceRule
	Options     joinbarrier.MapOptions
}

// TimestampMap is the timestamp equivalent of SequenceMap.
type TimestampMap struct {
	OutStreamID uint32
	Epoch       uint64
	Rules       []wire.TimestampRule
	Options     joinbarrier.MapOptions
}

type entry struct {
	inUse       bool
	kind        Kind
	outStreamID uint32
	epoch       uint64
	lastAnnounceNs int64
	sequence    SequenceMap
	timestamp   TimestampMap
}

// Registry is a fixed-capacity table of merge maps. The zero value is
// not usable; build one with New.
type Registry struct {
	entries []entry
}

// New allocates a registry with room for capacity entries, mirroring
// tp_merge_map_registry_init's fixed-size aeron_alloc.
func New(capacity int) (*Registry, error) {
	if capacity <= 0 {
		return nil, tperr.New(tperr.Invalid, "mergemap.New", "capacity must be > 0")
	}
	return &Registry{entries: make([]entry, capacity)}, nil
}

func (r *Registry) findEntry(kind Kind, outStreamID uint32, epoch uint64) *entry {
	for i := range r.entries {
		e := &r.entries[i]
		if e.inUse && e.kind == kind && e.outStreamID == outStreamID && e.epoch == epoch {
			return e
		}
	}
	return nil
}

// findSlot returns the matching in-use entry if one exists, else the
// first free slot, mirroring tp_merge_map_registry_find_slot.
func (r *Registry) findSlot(kind Kind, outStreamID uint32, epoch uint64) *entry {
	var free *entry
	for i := range r.entries {
		e := &r.entries[i]
		if e.inUse {
			if e.kind == kind && e.outStreamID == outStreamID && e.epoch == epoch {
				return e
			}
			continue
		}
		if free == nil {
			free = e
		}
	}
	return free
}

// invalidateStream evicts any other-epoch entry for (kind,
// outStreamID), mirroring tp_merge_map_registry_invalidate_stream: a
// stream can only have one live epoch's map at a time.
func (r *Registry) invalidateStream(kind Kind, outStreamID uint32, epoch uint64) {
	for i := range r.entries {
		e := &r.entries[i]
		if e.inUse && e.kind == kind && e.outStreamID == outStreamID && e.epoch != epoch {
			*e = entry{}
		}
	}
}

// UpsertSequence installs m, evicting any other-epoch sequence map
// already registered for m.OutStreamID. Returns tperr.Rejected if the
// registry has no free slot for a brand-new (out_stream_id, epoch).
func (r *Registry) UpsertSequence(m SequenceMap, nowNs int64) error {
	const op = "mergemap.Registry.UpsertSequence"
	r.invalidateStream(KindSequence, m.OutStreamID, m.Epoch)
	e := r.findSlot(KindSequence, m.OutStreamID, m.Epoch)
	if e == nil {
		return tperr.New(tperr.Rejected, op, "registry full")
	}

	*e = entry{
		inUse:          true,
		kind:           KindSequence,
		outStreamID:    m.OutStreamID,
		epoch:          m.Epoch,
		lastAnnounceNs: nowNs,
		sequence:       m,
	}
	return nil
}

// UpsertTimestamp installs m, analogous to UpsertSequence.
func (r *Registry) UpsertTimestamp(m TimestampMap, nowNs int64) error {
	const op = "mergemap.Registry.UpsertTimestamp"
	r.invalidateStream(KindTimestamp, m.OutStreamID, m.Epoch)
	e := r.findSlot(KindTimestamp, m.OutStreamID, m.Epoch)
	if e == nil {
		return tperr.New(tperr.Rejected, op, "registry full")
	}

	*e = entry{
		inUse:          true,
		kind:           KindTimestamp,
		outStreamID:    m.OutStreamID,
		epoch:          m.Epoch,
		lastAnnounceNs: nowNs,
		timestamp:      m,
	}
	return nil
}

// FindSequence returns the exact-epoch sequence map for (outStreamID,
// epoch), or false if none is registered.
func (r *Registry) FindSequence(outStreamID uint32, epoch uint64) (SequenceMap, bool) {
	e := r.findEntry(KindSequence, outStreamID, epoch)
	if e == nil {
		return SequenceMap{}, false
	}
	return e.sequence, true
}

// FindTimestamp returns the exact-epoch timestamp map for (outStreamID,
// epoch), or false if none is registered.
func (r *Registry) FindTimestamp(outStreamID uint32, epoch uint64) (TimestampMap, bool) {
	e := r.findEntry(KindTimestamp, outStreamID, epoch)
	if e == nil {
		return TimestampMap{}, false
	}
	return e.timestamp, true
}

// ApplyTo installs the registered map for (kind, outStreamID, epoch)
// onto barrier, wiring a registry lookup directly into a join-barrier
// instance. Returns false if no map is registered for that key.
func (r *Registry) ApplyTo(barrier *joinbarrier.Barrier, kind Kind, outStreamID uint32, epoch uint64) (bool, error) {
	switch kind {
	case KindSequence:
		m, ok := r.FindSequence(outStreamID, epoch)
		if !ok {
			return false, nil
		}
		return true, barrier.ApplySequenceMap(m.OutStreamID, m.Epoch, m.Rules, m.Options)
	case KindTimestamp:
		m, ok := r.FindTimestamp(outStreamID, epoch)
		if !ok {
			return false, nil
		}
		return true, barrier.ApplyTimestampMap(m.OutStreamID, m.Epoch, m.Rules, m.Options)
	default:
		return false, tperr.New(tperr.Invalid, "mergemap.Registry.ApplyTo", "unknown kind %d", kind)
	}
}
