package wire

// FrameDescriptor surfaces a newly committed seq to consumers, per
// spec.md §4.1/§4.8.
type FrameDescriptor struct {
	StreamID uint32
	Epoch    uint64
	Seq      uint64
}

func (m *FrameDescriptor) templateID() TemplateID { return TemplateFrameDescriptor }

func (m *FrameDescriptor) marshalBody() []byte {
	var w writer
	w.u32(m.StreamID)
	w.u64(m.Epoch)
	w.u64(m.Seq)
	return w.buf
}

func decodeFrameDescriptor(body []byte) (Message, error) {
	r := &reader{buf: body, op: "wire.decodeFrameDescriptor"}
	m := &FrameDescriptor{}
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
	return m, nil
}

// FrameProgress carries an in-flight frame's fill progress, per spec.md
// §4.1.
type FrameProgress struct {
	StreamID           uint32
	Epoch              uint64
	Seq                uint64
	PayloadBytesFilled uint32
	State              ProgressState
}

func (m *FrameProgress) templateID() TemplateID { return TemplateFrameProgress }

func (m *FrameProgress) marshalBody() []byte {
	var w writer
	w.u32(m.StreamID)
	w.u64(m.Epoch)
	w.u64(m.Seq)
	w.u32(m.PayloadBytesFilled)
	w.u8(uint8(m.State))
	return w.buf
}

func decodeFrameProgress(body []byte) (Message, error) {
	r := &reader{buf: body, op: "wire.decodeFrameProgress"}
	m := &FrameProgress{}
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
	if m.PayloadBytesFilled, err = r.u32(); err != nil {
		return nil, err
	}
	state, err := r.u8()
	if err != nil {
		return nil, err
	}
	m.State = ProgressState(state)
	return m, nil
}

// QosProducer carries producer-side flow statistics.
type QosProducer struct {
	StreamID      uint32
	PublishRateHz float64
	DroppedFrames uint64
}

func (m *QosProducer) templateID() TemplateID { return TemplateQosProducer }

func (m *QosProducer) marshalBody() []byte {
	var w writer
	w.u32(m.StreamID)
	w.f64(m.PublishRateHz)
	w.u64(m.DroppedFrames)
	return w.buf
}

func decodeQosProducer(body []byte) (Message, error) {
	r := &reader{buf: body, op: "wire.decodeQosProducer"}
	m := &QosProducer{}
	var err error
	if m.StreamID, err = r.u32(); err != nil {
		return nil, err
	}
	if m.PublishRateHz, err = r.f64(); err != nil {
		return nil, err
	}
	if m.DroppedFrames, err = r.u64(); err != nil {
		return nil, err
	}
	return m, nil
}

// QosConsumer carries consumer-side flow statistics.
type QosConsumer struct {
	StreamID      uint32
	ConsumerID    uint64
	ReceiveRateHz float64
	GapCount      uint64
	LateCount     uint64
}

func (m *QosConsumer) templateID() TemplateID { return TemplateQosConsumer }

func (m *QosConsumer) marshalBody() []byte {
	var w writer
	w.u32(m.StreamID)
	w.u64(m.ConsumerID)
	w.f64(m.ReceiveRateHz)
	w.u64(m.GapCount)
	w.u64(m.LateCount)
	return w.buf
}

func decodeQosConsumer(body []byte) (Message, error) {
	r := &reader{buf: body, op: "wire.decodeQosConsumer"}
	m := &QosConsumer{}
	var err error
	if m.StreamID, err = r.u32(); err != nil {
		return nil, err
	}
	if m.ConsumerID, err = r.u64(); err != nil {
		return nil, err
	}
	if m.ReceiveRateHz, err = r.f64(); err != nil {
		return nil, err
	}
	if m.GapCount, err = r.u64(); err != nil {
		return nil, err
	}
	if m.LateCount, err = r.u64(); err != nil {
		return nil, err
	}
	return m, nil
}

// DataSourceAnnounce introduces an upstream data source, per spec.md §6.
type DataSourceAnnounce struct {
	StreamID uint32
	SourceID uint64
	Name     string
}

func (m *DataSourceAnnounce) templateID() TemplateID { return TemplateDataSourceAnnounce }

func (m *DataSourceAnnounce) marshalBody() []byte {
	var w writer
	w.u32(m.StreamID)
	w.u64(m.SourceID)
	w.str(m.Name)
	return w.buf
}

func decodeDataSourceAnnounce(body []byte) (Message, error) {
	r := &reader{buf: body, op: "wire.decodeDataSourceAnnounce"}
	m := &DataSourceAnnounce{}
	var err error
	if m.StreamID, err = r.u32(); err != nil {
		return nil, err
	}
	if m.SourceID, err = r.u64(); err != nil {
		return nil, err
	}
	if m.Name, err = r.str(); err != nil {
		return nil, err
	}
	return m, nil
}

// Attr is one key/value pair in a DataSourceMeta attributes group.
type Attr struct {
	Key   string
	Value string
}

// DataSourceMeta carries a repeating group of source attributes, per
// spec.md §6 ("with an attributes repeating group").
type DataSourceMeta struct {
	StreamID uint32
	SourceID uint64
	Attrs    []Attr
}

func (m *DataSourceMeta) templateID() TemplateID { return TemplateDataSourceMeta }

func (m *DataSourceMeta) marshalBody() []byte {
	var w writer
	w.u32(m.StreamID)
	w.u64(m.SourceID)
	w.u16(uint16(len(m.Attrs)))
	for _, a := range m.Attrs {
		w.str(a.Key)
		w.str(a.Value)
	}
	return w.buf
}

func decodeDataSourceMeta(body []byte) (Message, error) {
	r := &reader{buf: body, op: "wire.decodeDataSourceMeta"}
	m := &DataSourceMeta{}
	var err error
	if m.StreamID, err = r.u32(); err != nil {
		return nil, err
	}
	if m.SourceID, err = r.u64(); err != nil {
		return nil, err
	}
	n, err := r.u16()
	if err != nil {
		return nil, err
	}
	m.Attrs = make([]Attr, n)
	for i := range m.Attrs {
		key, err := r.str()
		if err != nil {
			return nil, err
		}
		val, err := r.str()
		if err != nil {
			return nil, err
		}
		m.Attrs[i] = Attr{Key: key, Value: val}
	}
	return m, nil
}

func init() {
	registerDecoder(TemplateFrameDescriptor, decodeFrameDescriptor)
	registerDecoder(TemplateFrameProgress, decodeFrameProgress)
	registerDecoder(TemplateQosProducer, decodeQosProducer)
	registerDecoder(TemplateQosConsumer, decodeQosConsumer)
	registerDecoder(TemplateDataSourceAnnounce, decodeDataSourceAnnounce)
	registerDecoder(TemplateDataSourceMeta, decodeDataSourceMeta)
}
