// Package lease implements the driver-side lease table described in
// spec.md §4.3: per-client producer/consumer leases with keepalive-based
// expiry, a single-producer-per-stream invariant, and an epoch bump
// whenever a stream's producer changes. Grounded on the flat
// realloc-backed arrays in original_source/src/driver/tp_driver.c
// (tp_driver_lease_t, tp_driver_add_lease/find_lease/remove_lease,
// tp_driver_handle_expired_leases), replaced here with a Go slice plus a
// map index since the growth-by-realloc dance has no Go analogue worth
// keeping.
package lease

import (
	"github.com/tensorpool/tensorpool/clock"
	"github.com/tensorpool/tensorpool/tperr"
	"github.com/tensorpool/tensorpool/wire"
)

// Lease is one outstanding producer or consumer grant on a stream.
type Lease struct {
	ID       uint64
	StreamID uint32
	ClientID uint32
	NodeID   uint32
	Role     wire.Role
	IssuedNs int64
	ExpiryNs int64 // 0 means never expires
}

func (l Lease) expired(now int64) bool {
	return l.ExpiryNs != 0 && now > l.ExpiryNs
}

// Expired is one lease the sweep decided to revoke, together with the
// reason so the caller can emit a LeaseRevoked control message.
type Expired struct {
	Lease  Lease
	Reason wire.RevokeReason
}

// Table holds every outstanding lease plus the node-id reuse cooldown
// list, both process-wide (not sharded per stream), matching the
// single flat driver->leases array in the C original.
type Table struct {
	clock clock.Clock

	leases    []Lease
	byID      map[uint64]int
	idCounter uint64

	cooldowns       []cooldown
	cooldownMs      int64
	keepaliveNs     int64
	expiryIntervals uint32
}

// Config carries the driver-wide tunables the C original reads off
// driver->config for lease issuance.
type Config struct {
	// KeepaliveIntervalMs is the expected interval between LeaseKeepalive
	// messages from an attached client.
	KeepaliveIntervalMs int64
	// ExpiryGraceIntervals is the number of missed keepalive intervals
	// tolerated before a lease is considered expired (tp_client.c
	// defaults this to 3).
	ExpiryGraceIntervals uint32
	// NodeIDCooldownMs is how long a released node id is withheld from
	// reuse; 0 disables cooldown tracking entirely.
	NodeIDCooldownMs int64
}

// New builds an empty lease table.
func New(clk clock.Clock, cfg Config) *Table {
	return &Table{
		clock:           clk,
		byID:            make(map[uint64]int),
		cooldownMs:      cfg.NodeIDCooldownMs,
		keepaliveNs:     cfg.KeepaliveIntervalMs * 1_000_000,
		expiryIntervals: cfg.ExpiryGraceIntervals,
	}
}

// nextLeaseID mirrors tp_driver_next_lease_id: a monotonic counter seeded
// away from zero (lease id 0 means "no lease" throughout the wire
// protocol) that skips zero on wraparound.
func (t *Table) nextLeaseID() uint64 {
	t.idCounter++
	if t.idCounter == 0 {
		t.idCounter++
	}
	return t.idCounter
}

// Issue allocates a new lease for (streamID, clientID, role, nodeID) and
// adds it to the table. The caller has already decided nodeID (desired or
// driver-assigned) and already enforced the single-producer-per-stream
// rule; Issue only owns id allocation, expiry computation and storage.
func (t *Table) Issue(streamID, clientID, nodeID uint32, role wire.Role) Lease {
	now := t.clock.NowNS()
	l := Lease{
		ID:       t.nextLeaseID(),
		StreamID: streamID,
		ClientID: clientID,
		NodeID:   nodeID,
		Role:     role,
		IssuedNs: now,
		ExpiryNs: now + t.keepaliveNs*int64(t.expiryIntervals),
	}
	t.add(l)
	return l
}

func (t *Table) add(l Lease) {
	t.byID[l.ID] = len(t.leases)
	t.leases = append(t.leases, l)
}

// Find returns the lease for leaseID, if any.
func (t *Table) Find(leaseID uint64) (Lease, bool) {
	if leaseID == 0 {
		return Lease{}, false
	}
	idx, ok := t.byID[leaseID]
	if !ok {
		return Lease{}, false
	}
	return t.leases[idx], true
}

// Remove deletes leaseID from the table. It is a no-op if the lease is
// already gone (e.g. detach racing an expiry sweep).
func (t *Table) Remove(leaseID uint64) {
	idx, ok := t.byID[leaseID]
	if !ok {
		return
	}
	last := len(t.leases) - 1
	t.leases[idx] = t.leases[last]
	t.byID[t.leases[idx].ID] = idx
	t.leases = t.leases[:last]
	delete(t.byID, leaseID)
}

// Keepalive refreshes leaseID's expiry from now, per spec.md §4.3's
// keepalive-extends-lease rule. Returns tperr.LeaseExpired if the lease
// is unknown (already expired and swept, or never existed).
func (t *Table) Keepalive(leaseID uint64) error {
	const op = "lease.Table.Keepalive"
	idx, ok := t.byID[leaseID]
	if !ok {
		return tperr.New(tperr.LeaseExpired, op, "lease %d not found", leaseID)
	}
	now := t.clock.NowNS()
	t.leases[idx].IssuedNs = now
	t.leases[idx].ExpiryNs = now + t.keepaliveNs*int64(t.expiryIntervals)
	return nil
}

// NodeIDInUse reports whether some live lease already holds nodeID.
func (t *Table) NodeIDInUse(nodeID uint32) bool {
	if nodeID == 0 {
		return false
	}
	for _, l := range t.leases {
		if l.NodeID == nodeID {
			return true
		}
	}
	return false
}

// ClientIDInUse reports whether clientID already holds a live lease on
// any stream, mirroring tp_driver_client_id_in_use: client id 0 is
// always reported in use since it never names a real client.
func (t *Table) ClientIDInUse(clientID uint32) bool {
	if clientID == 0 {
		return true
	}
	for _, l := range t.leases {
		if l.ClientID == clientID {
			return true
		}
	}
	return false
}

// StreamLeases returns every lease currently open on streamID, for
// callers (driverd) that need to notify consumers on a producer change.
func (t *Table) StreamLeases(streamID uint32) []Lease {
	var out []Lease
	for _, l := range t.leases {
		if l.StreamID == streamID {
			out = append(out, l)
		}
	}
	return out
}

// Sweep walks the table once, evicting every lease past its expiry and
// recording its node id in the reuse cooldown. It returns each evicted
// lease so the caller (driverd) can send LeaseRevoked and, for an
// expired producer lease, bump the stream's epoch. Mirrors
// tp_driver_handle_expired_leases.
func (t *Table) Sweep() []Expired {
	now := t.clock.NowNS()
	var expired []Expired

	live := t.leases[:0:0]
	for _, l := range t.leases {
		if l.expired(now) {
			t.recordCooldown(l.NodeID, now)
			expired = append(expired, Expired{Lease: l, Reason: wire.RevokeExpired})
			delete(t.byID, l.ID)
			continue
		}
		live = append(live, l)
	}
	t.leases = live
	t.reindex()
	return expired
}

func (t *Table) reindex() {
	for i, l := range t.leases {
		t.byID[l.ID] = i
	}
}

// Revoke force-evicts leaseID (e.g. an operator-driven kick or a detach
// request) and records its node id in the reuse cooldown. The second
// return is false if the lease wasn't present. The caller already knows
// why it's revoking and sends the LeaseRevoked control message itself.
func (t *Table) Revoke(leaseID uint64) (Lease, bool) {
	idx, ok := t.byID[leaseID]
	if !ok {
		return Lease{}, false
	}
	l := t.leases[idx]
	t.recordCooldown(l.NodeID, t.clock.NowNS())
	t.Remove(leaseID)
	return l, true
}
