package lease

import "github.com/google/uuid"

// cooldown records a recently-released node id that must not be handed
// out again until expiresNs, per spec.md §4.3's node-id reuse rule.
// Grounded on tp_driver_node_id_cooldown_t / tp_driver_record_node_id_cooldown
// / tp_driver_prune_node_id_cooldowns in tp_driver.c.
type cooldown struct {
	nodeID    uint32
	expiresNs int64
}

// pruneCooldowns drops every cooldown entry that has already elapsed.
func (t *Table) pruneCooldowns(now int64) {
	if len(t.cooldowns) == 0 {
		return
	}
	live := t.cooldowns[:0]
	for _, c := range t.cooldowns {
		if c.expiresNs > now {
			live = append(live, c)
		}
	}
	t.cooldowns = live
}

// NodeIDInCooldown reports whether nodeID is still withheld from reuse.
func (t *Table) NodeIDInCooldown(nodeID uint32) bool {
	if nodeID == 0 {
		return false
	}
	now := t.clock.NowNS()
	t.pruneCooldowns(now)
	for _, c := range t.cooldowns {
		if c.nodeID == nodeID {
			return true
		}
	}
	return false
}

// recordCooldown marks nodeID unavailable for NodeIDCooldownMs from now.
// A no-op when cooldown tracking is disabled (NodeIDCooldownMs == 0) or
// nodeID is the null sentinel.
func (t *Table) recordCooldown(nodeID uint32, now int64) {
	if nodeID == 0 || t.cooldownMs == 0 {
		return
	}
	t.pruneCooldowns(now)
	expiresNs := now + t.cooldownMs*1_000_000

	for i := range t.cooldowns {
		if t.cooldowns[i].nodeID == nodeID {
			t.cooldowns[i].expiresNs = expiresNs
			return
		}
	}
	t.cooldowns = append(t.cooldowns, cooldown{nodeID: nodeID, expiresNs: expiresNs})
}

// nodeIDNull is the wire sentinel for "no node id" (spec.md §6), matching
// tensor_pool_shmAttachResponse_nodeId_null_value() in the C original.
const nodeIDNull = 0xFFFFFFFF

// maxAllocAttempts bounds the random-probe search in AllocateNodeID,
// matching tp_driver_next_node_id's attempts < 1024 loop.
const maxAllocAttempts = 1024

// AllocateNodeID draws a random, currently-unused, not-in-cooldown node
// id. The C original folds an xorshift-style seed down to 32 bits and
// probes up to 1024 candidates; this probes the same way using a fresh
// UUID per attempt as the entropy source. Returns nodeIDNull, false if
// the space is exhausted.
func (t *Table) AllocateNodeID() (uint32, bool) {
	now := t.clock.NowNS()
	t.pruneCooldowns(now)

	for attempt := 0; attempt < maxAllocAttempts; attempt++ {
		id := uuid.New()
		candidate := uint32(id[0])<<24 | uint32(id[1])<<16 | uint32(id[2])<<8 | uint32(id[3])
		candidate ^= uint32(id[4])<<24 | uint32(id[5])<<16 | uint32(id[6])<<8 | uint32(id[7])
		if candidate == 0 || candidate == nodeIDNull {
			continue
		}
		if t.NodeIDInUse(candidate) || t.nodeIDInCooldownLocked(candidate) {
			continue
		}
		return candidate, true
	}
	return nodeIDNull, false
}

// nodeIDInCooldownLocked checks cooldown membership against an
// already-current cooldown list (pruned by the caller), avoiding a
// second prune pass per probe attempt.
func (t *Table) nodeIDInCooldownLocked(nodeID uint32) bool {
	for _, c := range t.cooldowns {
		if c.nodeID == nodeID {
			return true
		}
	}
	return false
}
