// Package loopback is an in-process transport.MessageTransport backed by
// buffered Go channels, used in tests and single-process demos in place
// of a real bus. It is grounded on the publish/subscribe channel
// registry pattern in adred-codev-ws_poc (a subject/topic keyed map of
// subscriber queues broadcasting published bytes), simplified to direct
// channel-to-channel delivery since there is no network hop to model.
package loopback

import (
	"fmt"
	"sync"

	"github.com/tensorpool/tensorpool/fragment"
	"github.com/tensorpool/tensorpool/transport"
	"github.com/tensorpool/tensorpool/tperr"
)

const defaultQueueDepth = 1024

type topicKey struct {
	channel  string
	streamID int32
}

// Hub is the shared broadcast fabric; every Bus constructed over the
// same Hub can see every other Bus's publications, modeling one shared
// external bus reachable from many client processes.
type Hub struct {
	mu     sync.Mutex
	topics map[topicKey][]chan []byte
}

// NewHub creates an empty broadcast fabric.
func NewHub() *Hub {
	return &Hub{topics: make(map[topicKey][]chan []byte)}
}

func (h *Hub) subscribe(key topicKey) chan []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan []byte, defaultQueueDepth)
	h.topics[key] = append(h.topics[key], ch)
	return ch
}

func (h *Hub) unsubscribe(key topicKey, ch chan []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.topics[key]
	for i, s := range subs {
		if s == ch {
			h.topics[key] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
}

func (h *Hub) publish(key topicKey, data []byte) {
	h.mu.Lock()
	subs := append([]chan []byte(nil), h.topics[key]...)
	h.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- data:
		default:
			// Slow subscriber drops the message rather than blocking the
			// publisher, matching do_work's "never blocks" contract.
		}
	}
}

// Bus is a transport.MessageTransport view over a shared Hub.
type Bus struct {
	hub *Hub
}

// New creates a Bus attached to hub.
func New(hub *Hub) *Bus {
	return &Bus{hub: hub}
}

type pub struct {
	hub *Hub
	key topicKey
}

func (p *pub) Offer(data []byte) error {
	p.hub.publish(p.key, data)
	return nil
}

func (p *pub) Close() error { return nil }

type sub struct {
	hub *Hub
	key topicKey
	ch  chan []byte
}

func (s *sub) Poll(handler transport.FragmentHandler, limit int) (int, error) {
	n := 0
	for n < limit {
		select {
		case data := <-s.ch:
			handler(data, fragment.FlagUnfragmented)
			n++
		default:
			return n, nil
		}
	}
	return n, nil
}

func (s *sub) Close() error {
	s.hub.unsubscribe(s.key, s.ch)
	return nil
}

type pendingPub struct{ p *pub }

func (pp *pendingPub) Poll() (transport.AddStatus, transport.Publication, error) {
	return transport.AddComplete, pp.p, nil
}

type pendingSub struct{ s *sub }

func (ps *pendingSub) Poll() (transport.AddStatus, transport.Subscription, error) {
	return transport.AddComplete, ps.s, nil
}

// AddPublication resolves immediately: there is no connection handshake
// to await in-process.
func (b *Bus) AddPublication(channel string, streamID int32) (transport.PendingPublication, error) {
	if channel == "" {
		return nil, tperr.New(tperr.Invalid, "loopback.AddPublication", "empty channel")
	}
	key := topicKey{channel: channel, streamID: streamID}
	return &pendingPub{p: &pub{hub: b.hub, key: key}}, nil
}

// AddSubscription resolves immediately.
func (b *Bus) AddSubscription(channel string, streamID int32) (transport.PendingSubscription, error) {
	if channel == "" {
		return nil, tperr.New(tperr.Invalid, "loopback.AddSubscription", "empty channel")
	}
	key := topicKey{channel: channel, streamID: streamID}
	ch := b.hub.subscribe(key)
	return &pendingSub{s: &sub{hub: b.hub, key: key, ch: ch}}, nil
}

func (b *Bus) Close() error { return nil }

func (k topicKey) String() string { return fmt.Sprintf("%s#%d", k.channel, k.streamID) }
