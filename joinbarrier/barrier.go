// Package joinbarrier ports the three join-barrier kinds from spec.md
// §4.5 (SEQUENCE, TIMESTAMP, LATEST_VALUE): readiness gates that fan
// multiple input streams into one merged output stream, tracking
// per-input observed/processed progress and staleness. Grounded on
// original_source/src/tp_join_barrier.c and its header
// (include/tensor_pool/tp_join_barrier.h), with the C side's
// aeron_alloc-backed parallel arrays (sequence_rules/timestamp_rules/state,
// all indexed by rule position) replaced by one Go slice of typed input
// structs, whose length is capped by the rule capacity passed to New.
package joinbarrier

import (
	"github.com/tensorpool/tensorpool/tperr"
	"github.com/tensorpool/tensorpool/wire"
)

// Kind selects which of the three barrier algorithms a Barrier runs.
type Kind int

const (
	KindSequence Kind = iota + 1
	KindTimestamp
	KindLatestValue
)

// LatestOrdering selects which field collect_latest reports for a
// LATEST_VALUE barrier's selections.
type LatestOrdering int

const (
	LatestOrderingSequence LatestOrdering = iota + 1
	LatestOrderingTimestamp
)

// input tracks one rule's observed/processed progress. The sequence and
// timestamp rule parallel slices from the C struct collapse into the two
// pointers here, only one of which is populated depending on Kind.
type input struct {
	streamID uint32
	seqRule  *wire.SequenceRule
	tsRule   *wire.TimestampRule

	timestampSource wire.TimestampSource

	hasObservedSeq  bool
	observedSeq     uint64
	hasProcessedSeq bool
	processedSeq    uint64

	hasObservedTime  bool
	observedTimeNs   uint64
	hasProcessedTime bool
	processedTimeNs  uint64

	lastObservedUpdateNs int64
	lastProcessedUpdateNs int64
}

// Barrier is one join-barrier instance. The zero value is not usable;
// build one with New.
type Barrier struct {
	kind Kind

	outStreamID uint32
	epoch       uint64

	staleTimeoutNs int64
	hasStaleTimeout bool
	allowStale      bool
	requireProcessed bool

	latenessNs  int64
	clockDomain uint8

	latestOrdering LatestOrdering

	ruleCapacity int
	inputs       []input
}

// New creates an empty barrier of kind with capacity rule slots, mirroring
// tp_join_barrier_init's rule_capacity allocation.
func New(kind Kind, ruleCapacity int) (*Barrier, error) {
	if ruleCapacity <= 0 {
		return nil, tperr.New(tperr.Invalid, "joinbarrier.New", "rule capacity must be > 0")
	}
	return &Barrier{kind: kind, ruleCapacity: ruleCapacity, latestOrdering: LatestOrderingSequence}, nil
}

// SetAllowStale toggles whether stale_timeout_ns-elapsed inputs are
// skipped from readiness checks instead of blocking them.
func (b *Barrier) SetAllowStale(v bool) { b.allowStale = v }

// SetRequireProcessed toggles whether readiness also requires
// processed_seq/processed_time to have caught up, not just observed.
func (b *Barrier) SetRequireProcessed(v bool) { b.requireProcessed = v }

// SetLatestOrdering selects which field CollectLatest reports.
func (b *Barrier) SetLatestOrdering(o LatestOrdering) { b.latestOrdering = o }

func (b *Barrier) findInput(streamID uint32) *input {
	for i := range b.inputs {
		if b.inputs[i].streamID == streamID {
			return &b.inputs[i]
		}
	}
	return nil
}

func (b *Barrier) isStale(in *input, nowNs int64) bool {
	if !b.allowStale || !b.hasStaleTimeout {
		return false
	}
	if in.lastObservedUpdateNs == 0 {
		return false
	}
	return nowNs-in.lastObservedUpdateNs > b.staleTimeoutNs
}

// UpdateObservedSeq records stream_id's latest observed sequence number,
// rejecting a regression below the previously observed value.
func (b *Barrier) UpdateObservedSeq(streamID uint32, seq uint64, nowNs int64) error {
	const op = "joinbarrier.Barrier.UpdateObservedSeq"
	in := b.findInput(streamID)
	if in == nil {
		return tperr.New(tperr.Invalid, op, "stream %d not tracked", streamID)
	}
	if in.hasObservedSeq && seq < in.observedSeq {
		return tperr.New(tperr.Invalid, op, "seq regression for stream %d: %d < %d", streamID, seq, in.observedSeq)
	}
	in.observedSeq = seq
	in.hasObservedSeq = true
	in.lastObservedUpdateNs = nowNs
	return nil
}

// UpdateProcessedSeq records stream_id's latest processed sequence
// number, rejecting a regression.
func (b *Barrier) UpdateProcessedSeq(streamID uint32, seq uint64, nowNs int64) error {
	const op = "joinbarrier.Barrier.UpdateProcessedSeq"
	in := b.findInput(streamID)
	if in == nil {
		return tperr.New(tperr.Invalid, op, "stream %d not tracked", streamID)
	}
	if in.hasProcessedSeq && seq < in.processedSeq {
		return tperr.New(tperr.Invalid, op, "seq regression for stream %d: %d < %d", streamID, seq, in.processedSeq)
	}
	in.processedSeq = seq
	in.hasProcessedSeq = true
	in.lastProcessedUpdateNs = nowNs
	return nil
}

func (b *Barrier) validateTimestampUpdate(in *input, source wire.TimestampSource, clockDomain uint8) error {
	const op = "joinbarrier.Barrier.validateTimestampUpdate"
	if b.clockDomain != 0 && clockDomain != b.clockDomain {
		return tperr.New(tperr.Invalid, op, "clock domain mismatch: got %d want %d", clockDomain, b.clockDomain)
	}
	if in.timestampSource != 0 && source != in.timestampSource {
		return tperr.New(tperr.Invalid, op, "timestamp source mismatch for stream %d", in.streamID)
	}
	return nil
}

// UpdateObservedTime records stream_id's latest observed timestamp,
// rejecting a clock-domain/source mismatch or a time regression.
func (b *Barrier) UpdateObservedTime(streamID uint32, timestampNs uint64, source wire.TimestampSource, clockDomain uint8, nowNs int64) error {
	const op = "joinbarrier.Barrier.UpdateObservedTime"
	in := b.findInput(streamID)
	if in == nil {
		return tperr.New(tperr.Invalid, op, "stream %d not tracked", streamID)
	}
	if err := b.validateTimestampUpdate(in, source, clockDomain); err != nil {
		return err
	}
	if in.hasObservedTime && timestampNs < in.observedTimeNs {
		return tperr.New(tperr.Invalid, op, "time regression for stream %d", streamID)
	}
	in.observedTimeNs = timestampNs
	in.hasObservedTime = true
	in.timestampSource = source
	in.lastObservedUpdateNs = nowNs
	return nil
}

// UpdateProcessedTime records stream_id's latest processed timestamp.
func (b *Barrier) UpdateProcessedTime(streamID uint32, timestampNs uint64, source wire.TimestampSource, clockDomain uint8, nowNs int64) error {
	const op = "joinbarrier.Barrier.UpdateProcessedTime"
	in := b.findInput(streamID)
	if in == nil {
		return tperr.New(tperr.Invalid, op, "stream %d not tracked", streamID)
	}
	if err := b.validateTimestampUpdate(in, source, clockDomain); err != nil {
		return err
	}
	if in.hasProcessedTime && timestampNs < in.processedTimeNs {
		return tperr.New(tperr.Invalid, op, "time regression for stream %d", streamID)
	}
	in.processedTimeNs = timestampNs
	in.hasProcessedTime = true
	in.lastProcessedUpdateNs = nowNs
	return nil
}

// StaleInputs returns the stream ids currently considered stale (only
// meaningful when allow_stale is set and a stale timeout is configured).
func (b *Barrier) StaleInputs(nowNs int64) []uint32 {
	if !b.allowStale || !b.hasStaleTimeout || len(b.inputs) == 0 {
		return nil
	}
	var out []uint32
	for i := range b.inputs {
		if b.isStale(&b.inputs[i], nowNs) {
			out = append(out, b.inputs[i].streamID)
		}
	}
	return out
}
