package wire

import (
	"github.com/tensorpool/tensorpool/tperr"
)

// SequenceRule is one input's readiness rule inside a sequence merge map,
// per spec.md §4.5.
type SequenceRule struct {
	StreamID         uint32
	RuleType         SequenceRuleType
	Value            int64
	RequireProcessed bool
}

func marshalSequenceRules(w *writer, rules []SequenceRule) {
	w.u16(uint16(len(rules)))
	for _, rl := range rules {
		w.u32(rl.StreamID)
		w.u8(uint8(rl.RuleType))
		w.i64(rl.Value)
		w.bool(rl.RequireProcessed)
	}
}

func unmarshalSequenceRules(r *reader) ([]SequenceRule, error) {
	n, err := r.u16()
	if err != nil {
		return nil, err
	}
	out := make([]SequenceRule, n)
	for i := range out {
		sid, err := r.u32()
		if err != nil {
			return nil, err
		}
		rt, err := r.u8()
		if err != nil {
			return nil, err
		}
		val, err := r.i64()
		if err != nil {
			return nil, err
		}
		req, err := r.boolv()
		if err != nil {
			return nil, err
		}
		out[i] = SequenceRule{StreamID: sid, RuleType: SequenceRuleType(rt), Value: val, RequireProcessed: req}
	}
	return out, nil
}

// SequenceMergeMapAnnounce publishes the rule set for one output stream's
// sequence join barrier, per spec.md §4.6.
type SequenceMergeMapAnnounce struct {
	OutStreamID uint32
	Epoch       uint64
	Rules       []SequenceRule
}

func (m *SequenceMergeMapAnnounce) templateID() TemplateID { return TemplateSequenceMergeMapAnnounce }

func (m *SequenceMergeMapAnnounce) marshalBody() []byte {
	var w writer
	w.u32(m.OutStreamID)
	w.u64(m.Epoch)
	marshalSequenceRules(&w, m.Rules)
	return w.buf
}

func decodeSequenceMergeMapAnnounce(body []byte) (Message, error) {
	r := &reader{buf: body, op: "wire.decodeSequenceMergeMapAnnounce"}
	m := &SequenceMergeMapAnnounce{}
	var err error
	if m.OutStreamID, err = r.u32(); err != nil {
		return nil, err
	}
	if m.Epoch, err = r.u64(); err != nil {
		return nil, err
	}
	if m.Rules, err = unmarshalSequenceRules(r); err != nil {
		return nil, err
	}
	return m, nil
}

// SequenceMergeMapRequest asks the registry owner to (re-)announce the
// current rules for an output stream.
type SequenceMergeMapRequest struct {
	OutStreamID uint32
}

func (m *SequenceMergeMapRequest) templateID() TemplateID { return TemplateSequenceMergeMapRequest }

func (m *SequenceMergeMapRequest) marshalBody() []byte {
	var w writer
	w.u32(m.OutStreamID)
	return w.buf
}

func decodeSequenceMergeMapRequest(body []byte) (Message, error) {
	r := &reader{buf: body, op: "wire.decodeSequenceMergeMapRequest"}
	m := &SequenceMergeMapRequest{}
	var err error
	if m.OutStreamID, err = r.u32(); err != nil {
		return nil, err
	}
	return m, nil
}

// TimestampRule is one input's readiness rule inside a timestamp merge
// map, per spec.md §4.5.
type TimestampRule struct {
	StreamID        uint32
	TimestampSource TimestampSource
	RuleType        TimestampRuleType
	ValueNs         int64
}

func marshalTimestampRules(w *writer, rules []TimestampRule) {
	w.u16(uint16(len(rules)))
	for _, rl := range rules {
		w.u32(rl.StreamID)
		w.u8(uint8(rl.TimestampSource))
		w.u8(uint8(rl.RuleType))
		w.i64(rl.ValueNs)
	}
}

func unmarshalTimestampRules(r *reader) ([]TimestampRule, error) {
	n, err := r.u16()
	if err != nil {
		return nil, err
	}
	out := make([]TimestampRule, n)
	for i := range out {
		sid, err := r.u32()
		if err != nil {
			return nil, err
		}
		src, err := r.u8()
		if err != nil {
			return nil, err
		}
		rt, err := r.u8()
		if err != nil {
			return nil, err
		}
		val, err := r.i64()
		if err != nil {
			return nil, err
		}
		out[i] = TimestampRule{StreamID: sid, TimestampSource: TimestampSource(src), RuleType: TimestampRuleType(rt), ValueNs: val}
	}
	return out, nil
}

// TimestampMergeMapAnnounce publishes the rule set for one output
// stream's timestamp join barrier, per spec.md §4.6.
type TimestampMergeMapAnnounce struct {
	OutStreamID uint32
	Epoch       uint64
	Rules       []TimestampRule
}

func (m *TimestampMergeMapAnnounce) templateID() TemplateID { return TemplateTimestampMergeMapAnnounce }

func (m *TimestampMergeMapAnnounce) marshalBody() []byte {
	var w writer
	w.u32(m.OutStreamID)
	w.u64(m.Epoch)
	marshalTimestampRules(&w, m.Rules)
	return w.buf
}

func decodeTimestampMergeMapAnnounce(body []byte) (Message, error) {
	r := &reader{buf: body, op: "wire.decodeTimestampMergeMapAnnounce"}
	m := &TimestampMergeMapAnnounce{}
	var err error
	if m.OutStreamID, err = r.u32(); err != nil {
		return nil, err
	}
	if m.Epoch, err = r.u64(); err != nil {
		return nil, err
	}
	if m.Rules, err = unmarshalTimestampRules(r); err != nil {
		return nil, err
	}
	return m, nil
}

// TimestampMergeMapRequest asks the registry owner to (re-)announce the
// current rules for an output stream.
type TimestampMergeMapRequest struct {
	OutStreamID uint32
}

func (m *TimestampMergeMapRequest) templateID() TemplateID { return TemplateTimestampMergeMapRequest }

func (m *TimestampMergeMapRequest) marshalBody() []byte {
	var w writer
	w.u32(m.OutStreamID)
	return w.buf
}

func decodeTimestampMergeMapRequest(body []byte) (Message, error) {
	r := &reader{buf: body, op: "wire.decodeTimestampMergeMapRequest"}
	m := &TimestampMergeMapRequest{}
	var err error
	if m.OutStreamID, err = r.u32(); err != nil {
		return nil, err
	}
	return m, nil
}

// TraceLinkSet relates a trace id to one or more parent trace ids, per
// spec.md §6 ("1 parent = alias, >1 = new trace id") and E6.
type TraceLinkSet struct {
	StreamID       uint32
	Epoch          uint64
	Seq            uint64
	TraceID        uint64
	ParentTraceIDs []uint64
}

func (m *TraceLinkSet) templateID() TemplateID { return TemplateTraceLinkSet }

// EncodeTraceLinkSet validates and encodes a TraceLinkSet, rejecting a
// duplicate or zero parent trace id with INVALID, per spec.md E6 — this
// is the one message whose wire encoding can fail validation, so it does
// not go through the plain Encode(Message) path.
func EncodeTraceLinkSet(m *TraceLinkSet) ([]byte, error) {
	const op = "wire.EncodeTraceLinkSet"

	if m.TraceID == 0 {
		return nil, tperr.New(tperr.Invalid, op, "trace id is zero")
	}
	seen := make(map[uint64]bool, len(m.ParentTraceIDs))
	for _, p := range m.ParentTraceIDs {
		if p == 0 {
			return nil, tperr.New(tperr.Invalid, op, "parent trace id is zero")
		}
		if seen[p] {
			return nil, tperr.New(tperr.Invalid, op, "duplicate parent trace id %d", p)
		}
		seen[p] = true
	}
	return Encode(m), nil
}

func (m *TraceLinkSet) marshalBody() []byte {
	var w writer
	w.u32(m.StreamID)
	w.u64(m.Epoch)
	w.u64(m.Seq)
	w.u64(m.TraceID)
	w.u64slice(m.ParentTraceIDs)
	return w.buf
}

func decodeTraceLinkSet(body []byte) (Message, error) {
	const op = "wire.decodeTraceLinkSet"
	r := &reader{buf: body, op: op}
	m := &TraceLinkSet{}
	var err error
	if m.StreamID, err = r.u32(); err != nil {
		return nil, err
	}
	if m.Epoch, err = r.u64(); err != nil {
		return nil, err
	}
	if m.Seq, err = r.u64(); err != nil {
		return nil, err
	}
	if m.TraceID, err = r.u64(); err != nil {
		return nil, err
	}
	if m.ParentTraceIDs, err = r.u64slice(); err != nil {
		return nil, err
	}
	if m.TraceID == 0 {
		return nil, tperr.New(tperr.Invalid, op, "trace id is zero")
	}
	seen := make(map[uint64]bool, len(m.ParentTraceIDs))
	for _, p := range m.ParentTraceIDs {
		if p == 0 {
			return nil, tperr.New(tperr.Invalid, op, "parent trace id is zero")
		}
		if seen[p] {
			return nil, tperr.New(tperr.Invalid, op, "duplicate parent trace id %d", p)
		}
		seen[p] = true
	}
	return m, nil
}

func init() {
	registerDecoder(TemplateSequenceMergeMapAnnounce, decodeSequenceMergeMapAnnounce)
	registerDecoder(TemplateSequenceMergeMapRequest, decodeSequenceMergeMapRequest)
	registerDecoder(TemplateTimestampMergeMapAnnounce, decodeTimestampMergeMapAnnounce)
	registerDecoder(TemplateTimestampMergeMapRequest, decodeTimestampMergeMapRequest)
	registerDecoder(TemplateTraceLinkSet, decodeTraceLinkSet)
}
