// Package transport abstracts the external reliable, ordered,
// fragmentable pub/sub bus spec.md §1 treats as an out-of-scope
// collaborator. It replaces the Aeron opaque-pointer wrappers
// (tp_publication_t/tp_subscription_t in src/common/tp_aeron_wrap.h)
// with the plain interfaces spec.md §9
// calls for: "a trait/interface abstraction MessageTransport exposing
// add_publication, add_subscription, poll, offer". The core (conductor,
// driver, control demux) depends only on these types; concrete
// transports live in transport/natsbus and transport/loopback.
package transport

import "github.com/tensorpool/tensorpool/fragment"

// AddStatus mirrors spec.md's async operation handle states for a
// pending add_publication/add_subscription.
type AddStatus int

const (
	AddPending AddStatus = iota
	AddComplete
	AddError
)

// FragmentHandler receives one raw fragment as delivered by the
// transport, with its BEGIN/END flags, ready to feed into a
// fragment.Assembler.
type FragmentHandler func(data []byte, flags fragment.Flags)

// Publication is a non-blocking, single-writer append point on a
// channel+stream.
type Publication interface {
	// Offer appends one message. It returns a tperr.Rejected-kind error
	// if the transport is applying backpressure (the EAGAIN case spec.md
	// §5 describes); callers retry on a later do_work pass rather than
	// blocking.
	Offer(data []byte) error
	Close() error
}

// Subscription is a non-blocking, single-reader poll point on a
// channel+stream.
type Subscription interface {
	// Poll delivers up to limit fragments to handler and returns how
	// many were delivered. It never blocks.
	Poll(handler FragmentHandler, limit int) (int, error)
	Close() error
}

// PendingPublication is the async handle returned by AddPublication; the
// conductor polls it to completion per spec.md §4.7 step 2.
type PendingPublication interface {
	Poll() (AddStatus, Publication, error)
}

// PendingSubscription is the async handle returned by AddSubscription.
type PendingSubscription interface {
	Poll() (AddStatus, Subscription, error)
}

// MessageTransport is the construction-time-injected abstraction the
// whole core depends on, per spec.md §9.
type MessageTransport interface {
	AddPublication(channel string, streamID int32) (PendingPublication, error)
	AddSubscription(channel string, streamID int32) (PendingSubscription, error)
	Close() error
}
