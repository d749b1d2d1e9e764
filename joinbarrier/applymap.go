package joinbarrier

import (
	"github.com/tensorpool/tensorpool/tperr"
	"github.com/tensorpool/tensorpool/wire"
)

// MapOptions carries the barrier-level tuning that rides alongside a
// rule set but isn't itself part of the wire announce (spec.md §6 lists
// only stream id/epoch/rules on SequenceMergeMapAnnounce /
// TimestampMergeMapAnnounce): stale-input timeout, timestamp lateness
// allowance, and clock domain. Mirrors the extra fields
// tp_sequence_merge_map_t/tp_timestamp_merge_map_t carry beyond what's
// on the wire.
type MapOptions struct {
	HasStaleTimeout bool
	StaleTimeoutNs  int64
	LatenessNs      int64
	ClockDomain     uint8
}

func (b *Barrier) clear() {
	b.outStreamID = 0
	b.epoch = 0
	b.hasStaleTimeout = false
	b.staleTimeoutNs = 0
	b.latenessNs = 0
	b.clockDomain = 0
	b.inputs = nil
}

// ApplySequenceMap replaces the barrier's rule set with rules, wiping
// all prior per-input state, per spec.md §4.6 ("apply-map operations
// clear the current state and copy the new rule set in"). Valid on a
// KindSequence or KindLatestValue barrier.
func (b *Barrier) ApplySequenceMap(outStreamID uint32, epoch uint64, rules []wire.SequenceRule, opts MapOptions) error {
	const op = "joinbarrier.Barrier.ApplySequenceMap"
	if b.kind != KindSequence && b.kind != KindLatestValue {
		return tperr.New(tperr.Invalid, op, "barrier kind mismatch")
	}
	if len(rules) > b.ruleCapacity {
		return tperr.New(tperr.Invalid, op, "rule count %d exceeds capacity %d", len(rules), b.ruleCapacity)
	}

	b.clear()
	b.outStreamID = outStreamID
	b.epoch = epoch
	b.hasStaleTimeout = opts.HasStaleTimeout
	b.staleTimeoutNs = opts.StaleTimeoutNs

	b.inputs = make([]input, len(rules))
	for i := range rules {
		b.inputs[i] = input{streamID: rules[i].StreamID, seqRule: &rules[i]}
	}
	return nil
}

// ApplyTimestampMap replaces the barrier's rule set with rules. Valid on
// a KindTimestamp or KindLatestValue barrier.
func (b *Barrier) ApplyTimestampMap(outStreamID uint32, epoch uint64, rules []wire.TimestampRule, opts MapOptions) error {
	const op = "joinbarrier.Barrier.ApplyTimestampMap"
	if b.kind != KindTimestamp && b.kind != KindLatestValue {
		return tperr.New(tperr.Invalid, op, "barrier kind mismatch")
	}
	if len(rules) > b.ruleCapacity {
		return tperr.New(tperr.Invalid, op, "rule count %d exceeds capacity %d", len(rules), b.ruleCapacity)
	}

	b.clear()
	b.outStreamID = outStreamID
	b.epoch = epoch
	b.hasStaleTimeout = opts.HasStaleTimeout
	b.staleTimeoutNs = opts.StaleTimeoutNs
	b.latenessNs = opts.LatenessNs
	b.clockDomain = opts.ClockDomain

	b.inputs = make([]input, len(rules))
	for i := range rules {
		b.inputs[i] = input{streamID: rules[i].StreamID, tsRule: &rules[i], timestampSource: rules[i].TimestampSource}
	}
	return nil
}
