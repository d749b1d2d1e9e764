// Package conductor implements the client's single work loop from
// spec.md §4.7: drain the cross-thread command queue, advance pending
// async adds to completion, then walk the registered pollers. Grounded
// on the Aeron client conductor pattern the original C implementation
// wraps (async add_publication/add_subscription with a poll-to-completion
// handle, a re-entrancy guard around the poller walk) — see
// original_source/src/common/tp_aeron_wrap.c and tp_mpsc_queue.c for the
// command-queue side, and spec.md §5's "Cross-thread communication"
// paragraph for the normative shape.
package conductor

import (
	"sync/atomic"

	"github.com/tensorpool/tensorpool/mpsc"
	"github.com/tensorpool/tensorpool/tperr"
	"github.com/tensorpool/tensorpool/transport"
)

type commandKind int

const (
	cmdAddPublication commandKind = iota + 1
	cmdAddSubscription
)

type command struct {
	kind      commandKind
	channel   string
	streamID  int32
	pubHandle *PubHandle
	subHandle *SubHandle
}

// Poller is one of the conductor's registered poll points (control,
// metadata, QoS, progress, descriptor, driver events per spec.md §4.7).
// Each call should do at most limit units of work and return how many
// it did.
type Poller interface {
	DoWork(limit int) (int, error)
}

type pendingPub struct {
	handle  *PubHandle
	pending transport.PendingPublication
}

type pendingSub struct {
	handle  *SubHandle
	pending transport.PendingSubscription
}

// Conductor is the client-side event loop. The zero value is not
// usable; build one with New.
type Conductor struct {
	transport transport.MessageTransport
	commands  *mpsc.Queue[command]

	pendingPubs []pendingPub
	pendingSubs []pendingSub

	pollers []Poller

	inDoWork atomic.Bool
}

// New builds a Conductor over mt with a command queue of the given
// capacity, which must be a power of two (mpsc.New panics otherwise).
func New(mt transport.MessageTransport, commandQueueCapacity int) *Conductor {
	return &Conductor{
		transport: mt,
		commands:  mpsc.New[command](commandQueueCapacity),
	}
}

// AddPublication enqueues an async add_publication command and returns
// a handle the caller polls (or lets DoWork resolve) to completion.
// Mirrors spec.md §5's async_add_publication API: returns a
// tperr.Rejected-kind error if the command queue is full (EAGAIN).
func (c *Conductor) AddPublication(channel string, streamID int32) (*PubHandle, error) {
	h := &PubHandle{}
	cmd := command{kind: cmdAddPublication, channel: channel, streamID: streamID, pubHandle: h}
	if !c.commands.Offer(cmd) {
		return nil, tperr.New(tperr.Rejected, "conductor.Conductor.AddPublication", "command queue full")
	}
	return h, nil
}

// AddSubscription is the subscription equivalent of AddPublication.
func (c *Conductor) AddSubscription(channel string, streamID int32) (*SubHandle, error) {
	h := &SubHandle{}
	cmd := command{kind: cmdAddSubscription, channel: channel, streamID: streamID, subHandle: h}
	if !c.commands.Offer(cmd) {
		return nil, tperr.New(tperr.Rejected, "conductor.Conductor.AddSubscription", "command queue full")
	}
	return h, nil
}

// AddPoller registers p to be walked by every non-reentrant DoWork call.
func (c *Conductor) AddPoller(p Poller) {
	c.pollers = append(c.pollers, p)
}

// RemovePoller unregisters p. A no-op if p isn't registered.
func (c *Conductor) RemovePoller(p Poller) {
	for i, existing := range c.pollers {
		if existing == p {
			c.pollers = append(c.pollers[:i], c.pollers[i+1:]...)
			return
		}
	}
}

// DoWork runs one bounded pass: drain commands, advance pending adds,
// walk pollers, and return the total work count. Mirrors spec.md
// §4.7's four numbered steps exactly.
func (c *Conductor) DoWork(fragmentLimit int) (int, error) {
	total := 0

	total += c.drainCommands()
	total += c.pollPendingAdds()

	if c.inDoWork.CompareAndSwap(false, true) {
		defer c.inDoWork.Store(false)
		for _, p := range c.pollers {
			n, err := p.DoWork(fragmentLimit)
			if err != nil {
				return total, err
			}
			total += n
		}
	}

	return total, nil
}

func (c *Conductor) drainCommands() int {
	n := 0
	c.commands.DrainInto(func(cmd command) bool {
		n++
		switch cmd.kind {
		case cmdAddPublication:
			pending, err := c.transport.AddPublication(cmd.channel, cmd.streamID)
			if err != nil {
				cmd.pubHandle.fail(err)
				return true
			}
			c.pendingPubs = append(c.pendingPubs, pendingPub{handle: cmd.pubHandle, pending: pending})
		case cmdAddSubscription:
			pending, err := c.transport.AddSubscription(cmd.channel, cmd.streamID)
			if err != nil {
				cmd.subHandle.fail(err)
				return true
			}
			c.pendingSubs = append(c.pendingSubs, pendingSub{handle: cmd.subHandle, pending: pending})
		}
		return true
	})
	return n
}

func (c *Conductor) pollPendingAdds() int {
	n := 0

	remainingPubs := c.pendingPubs[:0]
	for _, pp := range c.pendingPubs {
		status, pub, err := pp.pending.Poll()
		switch status {
		case transport.AddComplete:
			pp.handle.complete(pub)
			n++
		case transport.AddError:
			pp.handle.fail(err)
			n++
		default:
			remainingPubs = append(remainingPubs, pp)
		}
	}
	c.pendingPubs = remainingPubs

	remainingSubs := c.pendingSubs[:0]
	for _, ps := range c.pendingSubs {
		status, sub, err := ps.pending.Poll()
		switch status {
		case transport.AddComplete:
			ps.handle.complete(sub)
			n++
		case transport.AddError:
			ps.handle.fail(err)
			n++
		default:
			remainingSubs = append(remainingSubs, ps)
		}
	}
	c.pendingSubs = remainingSubs

	return n
}

// PendingCommandCount reports how many adds are still awaiting
// transport completion, for tests and diagnostics.
func (c *Conductor) PendingCommandCount() int {
	return len(c.pendingPubs) + len(c.pendingSubs)
}
