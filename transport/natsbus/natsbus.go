// Package natsbus implements transport.MessageTransport over
// github.com/nats-io/nats.go core pub/sub, grounded on the connection
// and subscribe/publish/close lifecycle in
// adred-codev-ws_poc/go-server/pkg/nats/client.go. NATS delivers whole
// messages (no fragmentation), so every Subscription.Poll hands
// fragment.FlagUnfragmented to its handler; the fragment assembler
// layer still runs so the control demux never has to care which
// transport it's plugged into.
package natsbus

import (
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/tensorpool/tensorpool/fragment"
	"github.com/tensorpool/tensorpool/transport"
	"github.com/tensorpool/tensorpool/tperr"
)

// Config mirrors the connection options adred-codev-ws_poc's nats.Client
// exposes, narrowed to what the driver/client actually tune.
type Config struct {
	URL             string
	MaxReconnects   int
	ReconnectWait   time.Duration
	MaxPingsOut     int
	PingInterval    time.Duration
}

// Bus is a transport.MessageTransport backed by one NATS connection.
type Bus struct {
	conn *nats.Conn
}

// Connect dials the NATS server described by cfg.
func Connect(cfg Config) (*Bus, error) {
	const op = "natsbus.Connect"

	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxPingsOutstanding(cfg.MaxPingsOut),
		nats.PingInterval(cfg.PingInterval),
	}
	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, tperr.Wrap(tperr.Internal, op, err, "connect to %s", cfg.URL)
	}
	return &Bus{conn: conn}, nil
}

func subject(channel string, streamID int32) string {
	return channel + "." + itoa32(streamID)
}

func itoa32(v int32) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [12]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

type pub struct {
	conn    *nats.Conn
	subject string
}

// Offer publishes data. NATS's client-side send buffer makes this
// effectively non-blocking; a full buffer surfaces as an error from the
// client library rather than a distinguishable EAGAIN, so it is reported
// as a REJECTED-kind error for the caller to retry.
func (p *pub) Offer(data []byte) error {
	if err := p.conn.Publish(p.subject, data); err != nil {
		return tperr.Wrap(tperr.Rejected, "natsbus.Publication.Offer", err, "publish to %s", p.subject)
	}
	return nil
}

func (p *pub) Close() error { return nil }

type sub struct {
	sub   *nats.Subscription
	queue chan []byte
}

func (s *sub) Poll(handler transport.FragmentHandler, limit int) (int, error) {
	n := 0
	for n < limit {
		select {
		case data := <-s.queue:
			handler(data, fragment.FlagUnfragmented)
			n++
		default:
			return n, nil
		}
	}
	return n, nil
}

func (s *sub) Close() error {
	return s.sub.Unsubscribe()
}

// pendingAdd wraps a value that's already resolved along with an atomic
// status, mirroring the {PENDING, COMPLETE, ERROR} async handle shape of
// tp_aeron_wrap.h's tp_async_status_t even though nats.go's own
// Subscribe/Publish calls are synchronous.
type pendingAdd[T any] struct {
	status atomic.Int32
	value  T
	err    error
}

func newResolved[T any](value T, err error) *pendingAdd[T] {
	p := &pendingAdd[T]{value: value, err: err}
	if err != nil {
		p.status.Store(int32(transport.AddError))
	} else {
		p.status.Store(int32(transport.AddComplete))
	}
	return p
}

func (p *pendingAdd[T]) poll() (transport.AddStatus, T, error) {
	return transport.AddStatus(p.status.Load()), p.value, p.err
}

type pendingPub struct{ *pendingAdd[*pub] }

func (pp *pendingPub) Poll() (transport.AddStatus, transport.Publication, error) {
	status, v, err := pp.poll()
	if v == nil {
		return status, nil, err
	}
	return status, v, err
}

type pendingSub struct{ *pendingAdd[*sub] }

func (ps *pendingSub) Poll() (transport.AddStatus, transport.Subscription, error) {
	status, v, err := ps.poll()
	if v == nil {
		return status, nil, err
	}
	return status, v, err
}

// AddPublication resolves immediately: nats.Conn.Publish requires no
// handshake.
func (b *Bus) AddPublication(channel string, streamID int32) (transport.PendingPublication, error) {
	p := &pub{conn: b.conn, subject: subject(channel, streamID)}
	return &pendingPub{newResolved(p, nil)}, nil
}

// AddSubscription opens a NATS subscription whose callback feeds a
// bounded local queue, bridging NATS's push-callback model to the
// poll-based Subscription interface spec.md's do_work loop expects.
func (b *Bus) AddSubscription(channel string, streamID int32) (transport.PendingSubscription, error) {
	const op = "natsbus.AddSubscription"
	queue := make(chan []byte, 1024)

	natsSub, err := b.conn.Subscribe(subject(channel, streamID), func(msg *nats.Msg) {
		select {
		case queue <- msg.Data:
		default:
			// Slow consumer drops the message rather than blocking NATS's
			// dispatch goroutine.
		}
	})
	if err != nil {
		return &pendingSub{newResolved[*sub](nil, tperr.Wrap(tperr.Rejected, op, err, "subscribe to %s.%d", channel, streamID))}, nil
	}

	return &pendingSub{newResolved(&sub{sub: natsSub, queue: queue}, nil)}, nil
}

func (b *Bus) Close() error {
	b.conn.Close()
	return nil
}
