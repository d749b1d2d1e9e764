package lease

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tensorpool/tensorpool/clock"
	"github.com/tensorpool/tensorpool/wire"
)

func newTestTable(clk *clock.Fake) *Table {
	return New(clk, Config{
		KeepaliveIntervalMs:  100,
		ExpiryGraceIntervals: 3,
		NodeIDCooldownMs:     1000,
	})
}

func TestIssueAssignsNonZeroIncrementingIDs(t *testing.T) {
	clk := &clock.Fake{}
	table := newTestTable(clk)

	a := table.Issue(1, 10, 100, wire.RoleProducer)
	b := table.Issue(1, 11, 101, wire.RoleConsumer)

	assert.NotZero(t, a.ID)
	assert.NotZero(t, b.ID)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestFindAndRemove(t *testing.T) {
	clk := &clock.Fake{}
	table := newTestTable(clk)

	l := table.Issue(1, 10, 100, wire.RoleProducer)

	got, ok := table.Find(l.ID)
	require.True(t, ok)
	assert.Equal(t, l, got)

	table.Remove(l.ID)
	_, ok = table.Find(l.ID)
	assert.False(t, ok)
}

func TestKeepaliveExtendsExpiry(t *testing.T) {
	clk := &clock.Fake{}
	table := newTestTable(clk)

	l := table.Issue(1, 10, 100, wire.RoleProducer)
	originalExpiry := l.ExpiryNs

	clk.Advance(50_000_000)
	require.NoError(t, table.Keepalive(l.ID))

	got, _ := table.Find(l.ID)
	assert.Greater(t, got.ExpiryNs, originalExpiry)
}

func TestKeepaliveUnknownLeaseIsLeaseExpired(t *testing.T) {
	clk := &clock.Fake{}
	table := newTestTable(clk)

	err := table.Keepalive(999)
	assert.Error(t, err)
}

func TestSweepEvictsExpiredLeasesAndRecordsCooldown(t *testing.T) {
	clk := &clock.Fake{}
	table := newTestTable(clk)

	l := table.Issue(1, 10, 100, wire.RoleProducer)
	require.False(t, table.NodeIDInCooldown(100))

	// grace = 100ms * 3 = 300ms; advance well past it.
	clk.Advance(1_000_000_000)

	expired := table.Sweep()
	require.Len(t, expired, 1)
	assert.Equal(t, l.ID, expired[0].Lease.ID)
	assert.Equal(t, wire.RevokeExpired, expired[0].Reason)

	_, ok := table.Find(l.ID)
	assert.False(t, ok)
	assert.True(t, table.NodeIDInCooldown(100))
}

func TestSweepLeavesUnexpiredLeasesAlone(t *testing.T) {
	clk := &clock.Fake{}
	table := newTestTable(clk)

	l := table.Issue(1, 10, 100, wire.RoleProducer)
	clk.Advance(10_000_000) // well under the 300ms grace window

	expired := table.Sweep()
	assert.Empty(t, expired)

	_, ok := table.Find(l.ID)
	assert.True(t, ok)
}

func TestNodeIDCooldownExpiresAfterWindow(t *testing.T) {
	clk := &clock.Fake{}
	table := newTestTable(clk)

	l := table.Issue(1, 10, 100, wire.RoleProducer)
	table.Revoke(l.ID)
	assert.True(t, table.NodeIDInCooldown(100))

	clk.Advance(2_000_000_000) // past the 1000ms cooldown
	assert.False(t, table.NodeIDInCooldown(100))
}

func TestRevokeRemovesLeaseAndCoolsDownNodeID(t *testing.T) {
	clk := &clock.Fake{}
	table := newTestTable(clk)

	l := table.Issue(1, 10, 100, wire.RoleProducer)
	revoked, ok := table.Revoke(l.ID)
	require.True(t, ok)
	assert.Equal(t, l.ID, revoked.ID)

	_, ok = table.Find(l.ID)
	assert.False(t, ok)

	_, ok = table.Revoke(l.ID)
	assert.False(t, ok)
}

func TestStreamLeasesFiltersByStream(t *testing.T) {
	clk := &clock.Fake{}
	table := newTestTable(clk)

	table.Issue(1, 10, 100, wire.RoleProducer)
	table.Issue(2, 11, 101, wire.RoleConsumer)
	table.Issue(1, 12, 102, wire.RoleConsumer)

	leases := table.StreamLeases(1)
	assert.Len(t, leases, 2)
}

func TestClientIDInUse(t *testing.T) {
	clk := &clock.Fake{}
	table := newTestTable(clk)

	assert.True(t, table.ClientIDInUse(0))
	assert.False(t, table.ClientIDInUse(10))

	table.Issue(1, 10, 100, wire.RoleProducer)
	assert.True(t, table.ClientIDInUse(10))
	assert.False(t, table.ClientIDInUse(11))
}

func TestAllocateNodeIDReturnsNonNullID(t *testing.T) {
	clk := &clock.Fake{}
	table := newTestTable(clk)

	id, ok := table.AllocateNodeID()
	require.True(t, ok)
	assert.NotZero(t, id)
	assert.NotEqual(t, uint32(nodeIDNull), id)
}
