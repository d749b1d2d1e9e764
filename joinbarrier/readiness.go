package joinbarrier

import (
	"github.com/tensorpool/tensorpool/tperr"
	"github.com/tensorpool/tensorpool/wire"
)

// IsReadySequence implements spec.md §4.5's SEQUENCE readiness rule for
// outSeq. Mirrors tp_join_barrier_is_ready_sequence.
func (b *Barrier) IsReadySequence(outSeq uint64, nowNs int64) (bool, error) {
	const op = "joinbarrier.Barrier.IsReadySequence"
	if b.kind != KindSequence {
		return false, tperr.New(tperr.Invalid, op, "barrier kind mismatch")
	}
	if len(b.inputs) == 0 {
		return false, nil
	}

	for i := range b.inputs {
		in := &b.inputs[i]
		if b.isStale(in, nowNs) {
			continue
		}
		if !in.hasObservedSeq {
			return false, nil
		}

		rule := in.seqRule
		var required int64
		switch rule.RuleType {
		case wire.SequenceRuleOffset:
			required = int64(outSeq) + rule.Value
			if required < 0 {
				return false, nil
			}
		case wire.SequenceRuleWindow:
			window := rule.Value
			if window <= 0 {
				return false, nil
			}
			if int64(outSeq)+1 < window {
				return false, nil
			}
			required = int64(outSeq)
		default:
			return false, tperr.New(tperr.Invalid, op, "invalid rule type for stream %d", in.streamID)
		}

		if in.observedSeq < uint64(required) {
			return false, nil
		}
		if b.requireProcessed {
			if !in.hasProcessedSeq || in.processedSeq < uint64(required) {
				return false, nil
			}
		}
	}

	return true, nil
}

// timestampReadyForRule implements tp_join_barrier_timestamp_ready_for_rule.
// Returns (ready, unknownRuleType).
func (b *Barrier) timestampReadyForRule(in *input, rule *wire.TimestampRule, outTimeNs uint64) (bool, bool) {
	if !in.hasObservedTime {
		return false, false
	}

	lateness := b.latenessNs
	var required int64

	switch rule.RuleType {
	case wire.TimestampRuleOffsetNs:
		required = int64(outTimeNs) + rule.ValueNs
		if required < 0 {
			threshold := lateness
			if rule.ValueNs < 0 {
				threshold += -rule.ValueNs
			}
			if int64(outTimeNs) < threshold {
				return false, false
			}
			required = 0
		}
	case wire.TimestampRuleWindowNs:
		window := rule.ValueNs
		if window <= 0 {
			return false, true
		}
		if int64(outTimeNs) < window {
			return false, false
		}
		required = int64(outTimeNs)
	default:
		return false, true
	}

	if int64(in.observedTimeNs)+lateness < required {
		return false, false
	}
	if b.requireProcessed {
		if !in.hasProcessedTime || int64(in.processedTimeNs)+lateness < required {
			return false, false
		}
	}
	return true, false
}

// IsReadyTimestamp implements spec.md §4.5's TIMESTAMP readiness rule.
// Mirrors tp_join_barrier_is_ready_timestamp.
func (b *Barrier) IsReadyTimestamp(outTimeNs uint64, clockDomain uint8, nowNs int64) (bool, error) {
	const op = "joinbarrier.Barrier.IsReadyTimestamp"
	if b.kind != KindTimestamp {
		return false, tperr.New(tperr.Invalid, op, "barrier kind mismatch")
	}
	if len(b.inputs) == 0 {
		return false, nil
	}
	if b.clockDomain != 0 && clockDomain != b.clockDomain {
		return false, tperr.New(tperr.Invalid, op, "clock domain mismatch: got %d want %d", clockDomain, b.clockDomain)
	}

	for i := range b.inputs {
		in := &b.inputs[i]
		if b.isStale(in, nowNs) {
			continue
		}
		ready, invalidRule := b.timestampReadyForRule(in, in.tsRule, outTimeNs)
		if invalidRule {
			return false, tperr.New(tperr.Invalid, op, "invalid rule type for stream %d", in.streamID)
		}
		if !ready {
			return false, nil
		}
	}

	return true, nil
}

// IsReadyLatest implements spec.md §4.5's LATEST_VALUE readiness rule:
// every non-stale input must have at least one observed update. Mirrors
// tp_join_barrier_is_ready_latest.
func (b *Barrier) IsReadyLatest(outTimeNs uint64, clockDomain uint8, nowNs int64) (bool, error) {
	const op = "joinbarrier.Barrier.IsReadyLatest"
	if b.kind != KindLatestValue {
		return false, tperr.New(tperr.Invalid, op, "barrier kind mismatch")
	}
	if len(b.inputs) == 0 {
		return false, nil
	}

	for i := range b.inputs {
		in := &b.inputs[i]
		if b.isStale(in, nowNs) {
			continue
		}
		if b.clockDomain != 0 && clockDomain != b.clockDomain {
			return false, tperr.New(tperr.Invalid, op, "clock domain mismatch: got %d want %d", clockDomain, b.clockDomain)
		}
		if !in.hasObservedSeq && !in.hasObservedTime {
			return false, nil
		}
		if b.clockDomain != 0 && !in.hasObservedTime {
			return false, nil
		}
		if in.hasObservedTime && in.observedTimeNs > 0 && outTimeNs == 0 {
			return false, nil
		}
	}

	return true, nil
}

// InvalidateLatest clears streamID's observed state so the next
// LATEST_VALUE readiness check blocks again until a fresh update
// arrives. Mirrors tp_join_barrier_invalidate_latest.
func (b *Barrier) InvalidateLatest(streamID uint32) error {
	const op = "joinbarrier.Barrier.InvalidateLatest"
	in := b.findInput(streamID)
	if in == nil {
		return tperr.New(tperr.Invalid, op, "stream %d not tracked", streamID)
	}
	in.hasObservedSeq = false
	in.hasObservedTime = false
	return nil
}

// Selection is one input's most recent observed value, as reported by
// CollectLatest.
type Selection struct {
	StreamID        uint32
	Seq             uint64
	TimestampNs     uint64
	TimestampSource wire.TimestampSource
}

// CollectLatest returns the current latest-value selection for every
// input, ordered the way the barrier's rules were applied. Which field
// is meaningful depends on SetLatestOrdering. Mirrors
// tp_join_barrier_collect_latest.
func (b *Barrier) CollectLatest() ([]Selection, error) {
	const op = "joinbarrier.Barrier.CollectLatest"
	if b.kind != KindLatestValue {
		return nil, tperr.New(tperr.Invalid, op, "barrier kind mismatch")
	}

	out := make([]Selection, len(b.inputs))
	for i := range b.inputs {
		in := &b.inputs[i]
		out[i] = Selection{
			StreamID:        in.streamID,
			Seq:             in.observedSeq,
			TimestampNs:     in.observedTimeNs,
			TimestampSource: in.timestampSource,
		}
	}
	return out, nil
}
