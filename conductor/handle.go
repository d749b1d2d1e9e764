package conductor

import (
	"sync"

	"github.com/tensorpool/tensorpool/transport"
)

// Status mirrors transport.AddStatus for a client-owned async handle:
// Pending until the conductor's do_work pass resolves it.
type Status int

const (
	Pending Status = iota
	Complete
	Errored
)

// PubHandle is returned by Conductor.AddPublication and resolved by a
// later do_work pass, per spec.md §4.7 step 2 ("on completion, transfer
// ownership of the published object to the handle").
type PubHandle struct {
	mu     sync.Mutex
	status Status
	pub    transport.Publication
	err    error
}

func (h *PubHandle) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Publication returns the completed publication, or nil if not yet
// complete.
func (h *PubHandle) Publication() transport.Publication {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pub
}

func (h *PubHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *PubHandle) complete(pub transport.Publication) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pub = pub
	h.status = Complete
}

func (h *PubHandle) fail(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.err = err
	h.status = Errored
}

// SubHandle is the subscription equivalent of PubHandle.
type SubHandle struct {
	mu     sync.Mutex
	status Status
	sub    transport.Subscription
	err    error
}

func (h *SubHandle) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

func (h *SubHandle) Subscription() transport.Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sub
}

func (h *SubHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *SubHandle) complete(sub transport.Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sub = sub
	h.status = Complete
}

func (h *SubHandle) fail(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.err = err
	h.status = Errored
}
