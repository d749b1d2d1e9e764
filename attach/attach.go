// Package attach implements the client-side attach/detach async state
// machine described in spec.md §4.4: correlation-id matched
// request/response with periodic resend, surfaced to the caller as a
// Pending → (Complete | Error) handle. The pending-request table keyed
// by correlation id, resent on a timer, follows
// tp_driver_client_internal.h; the "resend every retry_interval"
// cadence follows a websocket reconnect loop's retry-on-timer shape.
package attach

import (
	"sync"

	"github.com/tensorpool/tensorpool/clock"
	"github.com/tensorpool/tensorpool/tperr"
	"github.com/tensorpool/tensorpool/transport"
	"github.com/tensorpool/tensorpool/wire"
)

// Status is the async-handle lifecycle state from spec.md §4.4.
type Status int

const (
	Pending Status = iota
	Complete
	Errored
)

// RetryIntervalMs is the resend cadence spec.md §4.4 step 3 mandates.
const RetryIntervalMs = 200

// Handle is one in-flight attach or detach request. The zero value is
// not usable; construct via Table.Attach/Table.Detach.
type Handle struct {
	mu            sync.Mutex
	correlationID uint64
	kind          kind
	status        Status
	attachResp    *wire.AttachResponse
	detachResp    *wire.DetachResponse
	err           error

	encoded    []byte
	lastSentNs int64
}

type kind int

const (
	kindAttach kind = iota
	kindDetach
)

// Status returns the handle's current lifecycle state.
func (h *Handle) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// AttachResult returns the decoded, already-validated AttachResponse
// once Status() reports Complete. Calling it before then returns nil.
func (h *Handle) AttachResult() *wire.AttachResponse {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.attachResp
}

// DetachResult returns the decoded DetachResponse once Status() reports
// Complete.
func (h *Handle) DetachResult() *wire.DetachResponse {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.detachResp
}

// Err returns the failure reason once Status() reports Errored.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Table tracks every in-flight attach/detach handle by correlation id,
// resending unanswered requests on the conductor's tick. It is the
// client-side mirror of the driver's lease table: single-producer
// (the conductor drives Tick and Complete*), single-consumer (the
// caller only ever reads a Handle's Status/Result), matching spec.md
// §4.4's stated concurrency contract.
type Table struct {
	mu            sync.Mutex
	clock         clock.Clock
	nextCorrID    uint64
	byCorrelation map[uint64]*Handle
}

// New builds an empty attach/detach table.
func New(clk clock.Clock) *Table {
	return &Table{clock: clk, byCorrelation: make(map[uint64]*Handle)}
}

func (t *Table) nextCorrelationID() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextCorrID++
	if t.nextCorrID == 0 {
		t.nextCorrID++
	}
	return t.nextCorrID
}

// Attach sends req over pub (after stamping a fresh correlation id) and
// returns a handle that becomes Complete or Errored once a matching
// AttachResponse is delivered via Table.CompleteAttach.
func (t *Table) Attach(pub transport.Publication, req wire.AttachRequest) (*Handle, error) {
	req.CorrelationID = t.nextCorrelationID()
	return t.send(pub, kindAttach, req.CorrelationID, &req)
}

// Detach sends req over pub and returns a handle resolved by
// Table.CompleteDetach.
func (t *Table) Detach(pub transport.Publication, req wire.DetachRequest) (*Handle, error) {
	req.CorrelationID = t.nextCorrelationID()
	return t.send(pub, kindDetach, req.CorrelationID, &req)
}

func (t *Table) send(pub transport.Publication, k kind, corrID uint64, msg wire.Message) (*Handle, error) {
	encoded := wire.Encode(msg)
	if err := pub.Offer(encoded); err != nil {
		return nil, err
	}

	h := &Handle{
		correlationID: corrID,
		kind:          k,
		status:        Pending,
		encoded:       encoded,
		lastSentNs:    t.clock.NowNS(),
	}

	t.mu.Lock()
	t.byCorrelation[corrID] = h
	t.mu.Unlock()
	return h, nil
}

// Tick resends every still-Pending handle whose last send is older than
// RetryIntervalMs, per spec.md §4.4 step 3. Call once per conductor
// do_work invocation.
func (t *Table) Tick(pub transport.Publication) {
	now := t.clock.NowNS()
	retryNs := int64(RetryIntervalMs) * 1_000_000

	t.mu.Lock()
	handles := make([]*Handle, 0, len(t.byCorrelation))
	for _, h := range t.byCorrelation {
		handles = append(handles, h)
	}
	t.mu.Unlock()

	for _, h := range handles {
		h.mu.Lock()
		due := h.status == Pending && now-h.lastSentNs >= retryNs
		encoded := h.encoded
		if due {
			h.lastSentNs = now
		}
		h.mu.Unlock()

		if due {
			_ = pub.Offer(encoded)
		}
	}
}

// CompleteAttach resolves the pending handle for resp.CorrelationID. On
// CodeOK it validates the payload per spec.md §4.4 step 4 and downgrades
// to Errored with an INVALID_PARAMS-equivalent error on validation
// failure; on any other code the handle is simply Errored. Returns false
// if no handle is waiting on this correlation id (a late or duplicate
// response).
func (t *Table) CompleteAttach(resp *wire.AttachResponse) bool {
	h := t.take(resp.CorrelationID)
	if h == nil {
		return false
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if resp.Code != wire.CodeOK {
		h.status = Errored
		h.err = tperr.New(tperr.Rejected, "attach.Table.CompleteAttach", "attach rejected: %s", resp.Message)
		return true
	}

	if err := resp.Validate(); err != nil {
		h.status = Errored
		h.err = err
		return true
	}

	h.status = Complete
	h.attachResp = resp
	return true
}

// CompleteDetach resolves the pending handle for resp.CorrelationID.
// Returns false if no handle was waiting.
func (t *Table) CompleteDetach(resp *wire.DetachResponse) bool {
	h := t.take(resp.CorrelationID)
	if h == nil {
		return false
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if resp.Code != wire.CodeOK {
		h.status = Errored
		h.err = tperr.New(tperr.Rejected, "attach.Table.CompleteDetach", "detach rejected: %s", resp.Message)
		return true
	}

	h.status = Complete
	h.detachResp = resp
	return true
}

func (t *Table) take(corrID uint64) *Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.byCorrelation[corrID]
	if !ok {
		return nil
	}
	delete(t.byCorrelation, corrID)
	return h
}

// Pending reports how many handles are still awaiting a response, for
// tests and metrics.
func (t *Table) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byCorrelation)
}
