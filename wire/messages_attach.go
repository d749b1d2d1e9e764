package wire

import "github.com/tensorpool/tensorpool/tperr"

// AttachRequest is sent client → driver to request a lease, per spec.md
// §4.4 step 2.
type AttachRequest struct {
	CorrelationID         uint64
	StreamID              uint32
	ClientID              uint64
	Role                  Role
	ExpectedLayoutVersion uint32
	PublishMode           PublishMode
	HugepagesPolicy       HugepagesPolicy
	HasDesiredNodeID      bool
	DesiredNodeID         uint32
}

func (m *AttachRequest) templateID() TemplateID { return TemplateAttachRequest }

func (m *AttachRequest) marshalBody() []byte {
	var w writer
	w.u64(m.CorrelationID)
	w.u32(m.StreamID)
	w.u64(m.ClientID)
	w.u8(uint8(m.Role))
	w.u32(m.ExpectedLayoutVersion)
	w.u8(uint8(m.PublishMode))
	w.u8(uint8(m.HugepagesPolicy))
	w.bool(m.HasDesiredNodeID)
	w.u32(m.DesiredNodeID)
	return w.buf
}

func decodeAttachRequest(body []byte) (Message, error) {
	r := &reader{buf: body, op: "wire.decodeAttachRequest"}
	m := &AttachRequest{}
	var err error
	if m.CorrelationID, err = r.u64(); err != nil {
		return nil, err
	}
	if m.StreamID, err = r.u32(); err != nil {
		return nil, err
	}
	if m.ClientID, err = r.u64(); err != nil {
		return nil, err
	}
	role, err := r.u8()
	if err != nil {
		return nil, err
	}
	m.Role = Role(role)
	if m.ExpectedLayoutVersion, err = r.u32(); err != nil {
		return nil, err
	}
	pm, err := r.u8()
	if err != nil {
		return nil, err
	}
	m.PublishMode = PublishMode(pm)
	hp, err := r.u8()
	if err != nil {
		return nil, err
	}
	m.HugepagesPolicy = HugepagesPolicy(hp)
	if m.HasDesiredNodeID, err = r.boolv(); err != nil {
		return nil, err
	}
	if m.DesiredNodeID, err = r.u32(); err != nil {
		return nil, err
	}
	return m, nil
}

// PoolDescriptor describes one payload pool inside an AttachResponse or
// ShmPoolAnnounce, per spec.md §6.
type PoolDescriptor struct {
	PoolID      uint16
	StrideBytes uint32
	NSlots      uint32
	URI         string
}

func (p *PoolDescriptor) marshal(w *writer) {
	w.u16(p.PoolID)
	w.u32(p.StrideBytes)
	w.u32(p.NSlots)
	w.str(p.URI)
}

func unmarshalPoolDescriptor(r *reader) (PoolDescriptor, error) {
	var p PoolDescriptor
	var err error
	if p.PoolID, err = r.u16(); err != nil {
		return p, err
	}
	if p.StrideBytes, err = r.u32(); err != nil {
		return p, err
	}
	if p.NSlots, err = r.u32(); err != nil {
		return p, err
	}
	if p.URI, err = r.str(); err != nil {
		return p, err
	}
	return p, nil
}

func marshalPools(w *writer, pools []PoolDescriptor) {
	w.u16(uint16(len(pools)))
	for i := range pools {
		pools[i].marshal(w)
	}
}

func unmarshalPools(r *reader) ([]PoolDescriptor, error) {
	n, err := r.u16()
	if err != nil {
		return nil, err
	}
	out := make([]PoolDescriptor, n)
	for i := range out {
		p, err := unmarshalPoolDescriptor(r)
		if err != nil {
			return nil, err
		}
		out[i] = p
	}
	return out, nil
}

// AttachResponse answers an AttachRequest. On CodeOK it carries every
// field spec.md §4.4 step 4 requires the client to validate.
type AttachResponse struct {
	CorrelationID   uint64
	Code            ResponseCode
	Message         string
	LeaseID         uint64
	Epoch           uint64
	StreamID        uint32
	HeaderSlotBytes uint32
	HeaderNSlots    uint32
	HeaderRegionURI string
	Pools           []PoolDescriptor
}

func (m *AttachResponse) templateID() TemplateID { return TemplateAttachResponse }

func (m *AttachResponse) marshalBody() []byte {
	var w writer
	w.u64(m.CorrelationID)
	w.u8(uint8(m.Code))
	w.str(m.Message)
	w.u64(m.LeaseID)
	w.u64(m.Epoch)
	w.u32(m.StreamID)
	w.u32(m.HeaderSlotBytes)
	w.u32(m.HeaderNSlots)
	w.str(m.HeaderRegionURI)
	marshalPools(&w, m.Pools)
	return w.buf
}

// Validate implements spec.md §4.4 step 4's OK-payload validation: a
// failure here is downgraded to INVALID_PARAMS and the attach surfaces
// as failed, regardless of the code the driver actually sent.
func (m *AttachResponse) Validate() error {
	const op = "wire.AttachResponse.Validate"
	if m.Code != CodeOK {
		return nil
	}
	switch {
	case m.LeaseID == 0:
		return tperr.New(tperr.Invalid, op, "lease id is null")
	case m.Epoch == 0:
		return tperr.New(tperr.Invalid, op, "epoch is null")
	case m.StreamID == 0:
		return tperr.New(tperr.Invalid, op, "stream id is null")
	case m.HeaderNSlots == 0:
		return tperr.New(tperr.Invalid, op, "header_nslots must be > 0")
	case m.HeaderRegionURI == "":
		return tperr.New(tperr.Invalid, op, "header region uri is empty")
	}
	for _, p := range m.Pools {
		if p.URI == "" {
			return tperr.New(tperr.Invalid, op, "pool %d uri is empty", p.PoolID)
		}
		if p.NSlots != m.HeaderNSlots {
			return tperr.New(tperr.Invalid, op, "pool %d nslots %d != header nslots %d", p.PoolID, p.NSlots, m.HeaderNSlots)
		}
	}
	return nil
}

func decodeAttachResponse(body []byte) (Message, error) {
	r := &reader{buf: body, op: "wire.decodeAttachResponse"}
	m := &AttachResponse{}
	var err error
	if m.CorrelationID, err = r.u64(); err != nil {
		return nil, err
	}
	code, err := r.u8()
	if err != nil {
		return nil, err
	}
	m.Code = ResponseCode(code)
	if m.Message, err = r.str(); err != nil {
		return nil, err
	}
	if m.LeaseID, err = r.u64(); err != nil {
		return nil, err
	}
	if m.Epoch, err = r.u64(); err != nil {
		return nil, err
	}
	if m.StreamID, err = r.u32(); err != nil {
		return nil, err
	}
	if m.HeaderSlotBytes, err = r.u32(); err != nil {
		return nil, err
	}
	if m.HeaderNSlots, err = r.u32(); err != nil {
		return nil, err
	}
	if m.HeaderRegionURI, err = r.str(); err != nil {
		return nil, err
	}
	if m.Pools, err = unmarshalPools(r); err != nil {
		return nil, err
	}
	return m, nil
}

// DetachRequest is sent client → driver to release a lease.
type DetachRequest struct {
	CorrelationID uint64
	LeaseID       uint64
	ClientID      uint64
}

func (m *DetachRequest) templateID() TemplateID { return TemplateDetachRequest }

func (m *DetachRequest) marshalBody() []byte {
	var w writer
	w.u64(m.CorrelationID)
	w.u64(m.LeaseID)
	w.u64(m.ClientID)
	return w.buf
}

func decodeDetachRequest(body []byte) (Message, error) {
	r := &reader{buf: body, op: "wire.decodeDetachRequest"}
	m := &DetachRequest{}
	var err error
	if m.CorrelationID, err = r.u64(); err != nil {
		return nil, err
	}
	if m.LeaseID, err = r.u64(); err != nil {
		return nil, err
	}
	if m.ClientID, err = r.u64(); err != nil {
		return nil, err
	}
	return m, nil
}

// DetachResponse answers a DetachRequest.
type DetachResponse struct {
	CorrelationID uint64
	Code          ResponseCode
	Message       string
}

func (m *DetachResponse) templateID() TemplateID { return TemplateDetachResponse }

func (m *DetachResponse) marshalBody() []byte {
	var w writer
	w.u64(m.CorrelationID)
	w.u8(uint8(m.Code))
	w.str(m.Message)
	return w.buf
}

func decodeDetachResponse(body []byte) (Message, error) {
	r := &reader{buf: body, op: "wire.decodeDetachResponse"}
	m := &DetachResponse{}
	var err error
	if m.CorrelationID, err = r.u64(); err != nil {
		return nil, err
	}
	code, err := r.u8()
	if err != nil {
		return nil, err
	}
	m.Code = ResponseCode(code)
	if m.Message, err = r.str(); err != nil {
		return nil, err
	}
	return m, nil
}

func init() {
	registerDecoder(TemplateAttachRequest, decodeAttachRequest)
	registerDecoder(TemplateAttachResponse, decodeAttachResponse)
	registerDecoder(TemplateDetachRequest, decodeDetachRequest)
	registerDecoder(TemplateDetachResponse, decodeDetachResponse)
}
