// Package demux implements the control demux from spec.md §4.8: it
// feeds raw subscription fragments through a fragment.Assembler, decodes
// the reassembled frame with wire.Decode, and dispatches the typed
// result to whichever handler the caller registered for that message
// kind. Unknown template ids or schema versions beyond wire's
// MaxSupportedVersion are logged at WARN and dropped, per spec.md §4.8's
// explicit closing sentence.
//
// Grounded on the Aeron fragment-assembler-plus-dispatch pattern the
// original implementation wraps in src/common/tp_aeron_wrap.c, adapted
// from the fixed void* clientd switch there into a struct of typed Go
// closures — the same typed-callback replacement spec.md §9 calls for
// and fragment.Assembler already established.
package demux

import (
	"log"

	"github.com/tensorpool/tensorpool/fragment"
	"github.com/tensorpool/tensorpool/transport"
	"github.com/tensorpool/tensorpool/wire"
)

// Handlers is the dispatch table from spec.md §4.8. Every field is
// optional; a message whose handler is nil is decoded and silently
// dropped (the caller only cares about a subset of control traffic).
type Handlers struct {
	ShmPoolAnnounce           func(*wire.ShmPoolAnnounce)
	ConsumerHello             func(*wire.ConsumerHello)
	ConsumerConfig            func(*wire.ConsumerConfig)
	AttachResponse            func(*wire.AttachResponse)
	DetachResponse            func(*wire.DetachResponse)
	LeaseRevoked              func(*wire.LeaseRevoked)
	DriverShutdown            func(*wire.DriverShutdown)
	DataSourceAnnounce        func(*wire.DataSourceAnnounce)
	DataSourceMeta            func(*wire.DataSourceMeta)
	FrameDescriptor           func(*wire.FrameDescriptor)
	FrameProgress             func(*wire.FrameProgress)
	QosProducer               func(*wire.QosProducer)
	QosConsumer               func(*wire.QosConsumer)
	SequenceMergeMapAnnounce  func(*wire.SequenceMergeMapAnnounce)
	TimestampMergeMapAnnounce func(*wire.TimestampMergeMapAnnounce)
	TraceLinkSet              func(*wire.TraceLinkSet)

	// AttachRequest/DetachRequest/LeaseKeepalive/SequenceMergeMapRequest/
	// TimestampMergeMapRequest are driver-inbound only; a client-side
	// demux never needs to route them, but the driver wires its own
	// Handlers value with these set instead of the response handlers
	// above.
	AttachRequest             func(*wire.AttachRequest)
	DetachRequest             func(*wire.DetachRequest)
	LeaseKeepalive            func(*wire.LeaseKeepalive)
	SequenceMergeMapRequest   func(*wire.SequenceMergeMapRequest)
	TimestampMergeMapRequest  func(*wire.TimestampMergeMapRequest)
}

// Demux reassembles and routes fragments from one subscription. It is
// not safe for concurrent use, matching fragment.Assembler's own
// single-poller contract.
type Demux struct {
	handlers Handlers
	asm      *fragment.Assembler
	logf     func(format string, args ...any)
}

// New builds a Demux dispatching decoded messages to h.
func New(h Handlers) *Demux {
	d := &Demux{handlers: h, logf: log.Printf}
	d.asm = fragment.New(d.onMessage)
	return d
}

// SetLogger overrides where dropped-message WARN lines are written;
// tests use this to capture log output instead of writing to the
// process-global logger.
func (d *Demux) SetLogger(logf func(format string, args ...any)) {
	d.logf = logf
}

// OnFragment is the fragment.Handler-shaped entry point; most callers
// want a Poller instead, which adapts this onto transport.Subscription.Poll.
func (d *Demux) OnFragment(data []byte, flags fragment.Flags) error {
	return d.asm.OnFragment(data, flags)
}

func (d *Demux) handleFragment(data []byte, flags fragment.Flags) {
	if err := d.OnFragment(data, flags); err != nil {
		d.logf("demux: fragment assembly error: %v", err)
	}
}

// Poller adapts a Demux over a transport.Subscription into the
// conductor's Poller interface — spec.md §4.7's "every poller holds a
// fragment-assembler over its subscription".
type Poller struct {
	sub   transport.Subscription
	demux *Demux
}

// NewPoller builds a Poller dispatching messages received on sub to h.
func NewPoller(sub transport.Subscription, h Handlers) *Poller {
	return &Poller{sub: sub, demux: New(h)}
}

// Demux returns the underlying Demux, e.g. to call SetLogger.
func (p *Poller) Demux() *Demux {
	return p.demux
}

// DoWork polls sub for up to limit fragments, routing each reassembled
// message to the Poller's Handlers.
func (p *Poller) DoWork(limit int) (int, error) {
	return p.sub.Poll(p.demux.handleFragment, limit)
}

func (d *Demux) onMessage(buf []byte) {
	msg, status, err := wire.Decode(buf)
	if status != wire.StatusDecoded {
		if status == wire.StatusInvalid {
			d.logf("demux: dropping frame: %v", err)
		}
		return
	}

	switch m := msg.(type) {
	case *wire.ShmPoolAnnounce:
		if h := d.handlers.ShmPoolAnnounce; h != nil {
			h(m)
		}
	case *wire.ConsumerHello:
		if h := d.handlers.ConsumerHello; h != nil {
			h(m)
		}
	case *wire.ConsumerConfig:
		if h := d.handlers.ConsumerConfig; h != nil {
			h(m)
		}
	case *wire.AttachRequest:
		if h := d.handlers.AttachRequest; h != nil {
			h(m)
		}
	case *wire.AttachResponse:
		if h := d.handlers.AttachResponse; h != nil {
			h(m)
		}
	case *wire.DetachRequest:
		if h := d.handlers.DetachRequest; h != nil {
			h(m)
		}
	case *wire.DetachResponse:
		if h := d.handlers.DetachResponse; h != nil {
			h(m)
		}
	case *wire.LeaseKeepalive:
		if h := d.handlers.LeaseKeepalive; h != nil {
			h(m)
		}
	case *wire.LeaseRevoked:
		if h := d.handlers.LeaseRevoked; h != nil {
			h(m)
		}
	case *wire.DriverShutdown:
		if h := d.handlers.DriverShutdown; h != nil {
			h(m)
		}
	case *wire.DataSourceAnnounce:
		if h := d.handlers.DataSourceAnnounce; h != nil {
			h(m)
		}
	case *wire.DataSourceMeta:
		if h := d.handlers.DataSourceMeta; h != nil {
			h(m)
		}
	case *wire.FrameDescriptor:
		if h := d.handlers.FrameDescriptor; h != nil {
			h(m)
		}
	case *wire.FrameProgress:
		if h := d.handlers.FrameProgress; h != nil {
			h(m)
		}
	case *wire.QosProducer:
		if h := d.handlers.QosProducer; h != nil {
			h(m)
		}
	case *wire.QosConsumer:
		if h := d.handlers.QosConsumer; h != nil {
			h(m)
		}
	case *wire.SequenceMergeMapAnnounce:
		if h := d.handlers.SequenceMergeMapAnnounce; h != nil {
			h(m)
		}
	case *wire.SequenceMergeMapRequest:
		if h := d.handlers.SequenceMergeMapRequest; h != nil {
			h(m)
		}
	case *wire.TimestampMergeMapAnnounce:
		if h := d.handlers.TimestampMergeMapAnnounce; h != nil {
			h(m)
		}
	case *wire.TimestampMergeMapRequest:
		if h := d.handlers.TimestampMergeMapRequest; h != nil {
			h(m)
		}
	case *wire.TraceLinkSet:
		if h := d.handlers.TraceLinkSet; h != nil {
			h(m)
		}
	default:
		d.logf("demux: decoded message of unhandled Go type %T", msg)
	}
}
