package wire

// LeaseKeepalive extends a lease's expiry, per spec.md §4.3.
type LeaseKeepalive struct {
	LeaseID  uint64
	StreamID uint32
	ClientID uint64
	Role     Role
}

func (m *LeaseKeepalive) templateID() TemplateID { return TemplateLeaseKeepalive }

func (m *LeaseKeepalive) marshalBody() []byte {
	var w writer
	w.u64(m.LeaseID)
	w.u32(m.StreamID)
	w.u64(m.ClientID)
	w.u8(uint8(m.Role))
	return w.buf
}

func decodeLeaseKeepalive(body []byte) (Message, error) {
	r := &reader{buf: body, op: "wire.decodeLeaseKeepalive"}
	m := &LeaseKeepalive{}
	var err error
	if m.LeaseID, err = r.u64(); err != nil {
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
	return m, nil
}

// LeaseRevoked notifies a client its lease was torn down, per spec.md §4.3.
type LeaseRevoked struct {
	LeaseID  uint64
	StreamID uint32
	Reason   RevokeReason
	Message  string
}

func (m *LeaseRevoked) templateID() TemplateID { return TemplateLeaseRevoked }

func (m *LeaseRevoked) marshalBody() []byte {
	var w writer
	w.u64(m.LeaseID)
	w.u32(m.StreamID)
	w.u8(uint8(m.Reason))
	w.str(m.Message)
	return w.buf
}

func decodeLeaseRevoked(body []byte) (Message, error) {
	r := &reader{buf: body, op: "wire.decodeLeaseRevoked"}
	m := &LeaseRevoked{}
	var err error
	if m.LeaseID, err = r.u64(); err != nil {
		return nil, err
	}
	if m.StreamID, err = r.u32(); err != nil {
		return nil, err
	}
	reason, err := r.u8()
	if err != nil {
		return nil, err
	}
	m.Reason = RevokeReason(reason)
	if m.Message, err = r.str(); err != nil {
		return nil, err
	}
	return m, nil
}

// DriverShutdown is broadcast to every consumer before the driver tears
// itself down, per spec.md §4.3.
type DriverShutdown struct {
	Reason  ShutdownReason
	Message string
}

func (m *DriverShutdown) templateID() TemplateID { return TemplateDriverShutdown }

func (m *DriverShutdown) marshalBody() []byte {
	var w writer
	w.u8(uint8(m.Reason))
	w.str(m.Message)
	return w.buf
}

func decodeDriverShutdown(body []byte) (Message, error) {
	r := &reader{buf: body, op: "wire.decodeDriverShutdown"}
	m := &DriverShutdown{}
	reason, err := r.u8()
	if err != nil {
		return nil, err
	}
	m.Reason = ShutdownReason(reason)
	if m.Message, err = r.str(); err != nil {
		return nil, err
	}
	return m, nil
}

// ShmPoolAnnounce tells consumers a stream has a new epoch to attach to,
// per spec.md §4.3.
type ShmPoolAnnounce struct {
	StreamID        uint32
	Epoch           uint64
	LayoutVersion   uint32
	HeaderSlotBytes uint32
	HeaderNSlots    uint32
	HeaderRegionURI string
	Pools           []PoolDescriptor
}

func (m *ShmPoolAnnounce) templateID() TemplateID { return TemplateShmPoolAnnounce }

func (m *ShmPoolAnnounce) marshalBody() []byte {
	var w writer
	w.u32(m.StreamID)
	w.u64(m.Epoch)
	w.u32(m.LayoutVersion)
	w.u32(m.HeaderSlotBytes)
	w.u32(m.HeaderNSlots)
	w.str(m.HeaderRegionURI)
	marshalPools(&w, m.Pools)
	return w.buf
}

func decodeShmPoolAnnounce(body []byte) (Message, error) {
	r := &reader{buf: body, op: "wire.decodeShmPoolAnnounce"}
	m := &ShmPoolAnnounce{}
	var err error
	if m.StreamID, err = r.u32(); err != nil {
		return nil, err
	}
	if m.Epoch, err = r.u64(); err != nil {
		return nil, err
	}
	if m.LayoutVersion, err = r.u32(); err != nil {
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

// ConsumerHello announces a consumer to the supervisor, per spec.md §4.9.
type ConsumerHello struct {
	StreamID   uint32
	ConsumerID uint64
	NowNs      uint64
}

func (m *ConsumerHello) templateID() TemplateID { return TemplateConsumerHello }

func (m *ConsumerHello) marshalBody() []byte {
	var w writer
	w.u32(m.StreamID)
	w.u64(m.ConsumerID)
	w.u64(m.NowNs)
	return w.buf
}

func decodeConsumerHello(body []byte) (Message, error) {
	r := &reader{buf: body, op: "wire.decodeConsumerHello"}
	m := &ConsumerHello{}
	var err error
	if m.StreamID, err = r.u32(); err != nil {
		return nil, err
	}
	if m.ConsumerID, err = r.u64(); err != nil {
		return nil, err
	}
	if m.NowNs, err = r.u64(); err != nil {
		return nil, err
	}
	return m, nil
}

// ConsumerConfig is the supervisor's reply to ConsumerHello when
// per-consumer routing is enabled, per spec.md §4.9.
type ConsumerConfig struct {
	StreamID            uint32
	ConsumerID          uint64
	DescriptorStreamID  uint32
	ControlStreamID     uint32
}

func (m *ConsumerConfig) templateID() TemplateID { return TemplateConsumerConfig }

func (m *ConsumerConfig) marshalBody() []byte {
	var w writer
	w.u32(m.StreamID)
	w.u64(m.ConsumerID)
	w.u32(m.DescriptorStreamID)
	w.u32(m.ControlStreamID)
	return w.buf
}

func decodeConsumerConfig(body []byte) (Message, error) {
	r := &reader{buf: body, op: "wire.decodeConsumerConfig"}
	m := &ConsumerConfig{}
	var err error
	if m.StreamID, err = r.u32(); err != nil {
		return nil, err
	}
	if m.ConsumerID, err = r.u64(); err != nil {
		return nil, err
	}
	if m.DescriptorStreamID, err = r.u32(); err != nil {
		return nil, err
	}
	if m.ControlStreamID, err = r.u32(); err != nil {
		return nil, err
	}
	return m, nil
}

func init() {
	registerDecoder(TemplateLeaseKeepalive, decodeLeaseKeepalive)
	registerDecoder(TemplateLeaseRevoked, decodeLeaseRevoked)
	registerDecoder(TemplateDriverShutdown, decodeDriverShutdown)
	registerDecoder(TemplateShmPoolAnnounce, decodeShmPoolAnnounce)
	registerDecoder(TemplateConsumerHello, decodeConsumerHello)
	registerDecoder(TemplateConsumerConfig, decodeConsumerConfig)
}
