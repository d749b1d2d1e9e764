package attach

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tensorpool/tensorpool/clock"
	"github.com/tensorpool/tensorpool/fragment"
	"github.com/tensorpool/tensorpool/transport"
	"github.com/tensorpool/tensorpool/transport/loopback"
	"github.com/tensorpool/tensorpool/wire"
)

// newLoopbackChannel wires up one topic and returns a publication and
// subscription pair both bound to it, so a test can publish and then
// poll its own traffic.
func newLoopbackChannel(t *testing.T, hub *loopback.Hub, channel string) (transport.Publication, transport.Subscription) {
	t.Helper()
	bus := loopback.New(hub)

	pendingPub, err := bus.AddPublication(channel, 1)
	require.NoError(t, err)
	_, pub, err := pendingPub.Poll()
	require.NoError(t, err)

	pendingSub, err := bus.AddSubscription(channel, 1)
	require.NoError(t, err)
	_, sub, err := pendingSub.Poll()
	require.NoError(t, err)

	return pub, sub
}

func pollOne(t *testing.T, sub transport.Subscription) []byte {
	t.Helper()
	var got []byte
	n, err := sub.Poll(func(data []byte, _ fragment.Flags) {
		got = append([]byte(nil), data...)
	}, 1)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	return got
}

func TestAttachSendsRequestAndCompletesOnOK(t *testing.T) {
	clk := &clock.Fake{}
	table := New(clk)

	hub := loopback.NewHub()
	clientToDriverPub, clientToDriverSub := newLoopbackChannel(t, hub, "control")

	h, err := table.Attach(clientToDriverPub, wire.AttachRequest{
		StreamID:              1,
		ClientID:              42,
		Role:                  wire.RoleProducer,
		ExpectedLayoutVersion: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, Pending, h.Status())
	assert.Equal(t, 1, table.Pending())

	raw := pollOne(t, clientToDriverSub)
	msg, status, err := wire.Decode(raw)
	require.NoError(t, err)
	require.Equal(t, wire.StatusDecoded, status)
	req, ok := msg.(*wire.AttachRequest)
	require.True(t, ok)
	assert.EqualValues(t, 42, req.ClientID)
	assert.NotZero(t, req.CorrelationID)

	ok = table.CompleteAttach(&wire.AttachResponse{
		CorrelationID:   req.CorrelationID,
		Code:            wire.CodeOK,
		LeaseID:         7,
		Epoch:           3,
		StreamID:        1,
		HeaderSlotBytes: 128,
		HeaderNSlots:    4,
		HeaderRegionURI: "shm:file?path=/dev/shm/header.ring",
		Pools: []wire.PoolDescriptor{
			{PoolID: 1, StrideBytes: 64, NSlots: 4, URI: "shm:file?path=/dev/shm/1.pool"},
		},
	})
	assert.True(t, ok)
	assert.Equal(t, Complete, h.Status())
	require.NotNil(t, h.AttachResult())
	assert.EqualValues(t, 7, h.AttachResult().LeaseID)
	assert.Equal(t, 0, table.Pending())
}

func TestAttachCompleteWithInvalidPayloadDowngradesToErrored(t *testing.T) {
	clk := &clock.Fake{}
	table := New(clk)
	hub := loopback.NewHub()
	pub, sub := newLoopbackChannel(t, hub, "control")

	h, err := table.Attach(pub, wire.AttachRequest{StreamID: 1, ClientID: 1, Role: wire.RoleConsumer})
	require.NoError(t, err)

	raw := pollOne(t, sub)
	msg, _, err := wire.Decode(raw)
	require.NoError(t, err)
	req := msg.(*wire.AttachRequest)

	table.CompleteAttach(&wire.AttachResponse{
		CorrelationID: req.CorrelationID,
		Code:          wire.CodeOK,
		LeaseID:       0, // invalid: null lease id
	})

	assert.Equal(t, Errored, h.Status())
	assert.Error(t, h.Err())
}

func TestAttachCompleteWithRejectedCodeIsErrored(t *testing.T) {
	clk := &clock.Fake{}
	table := New(clk)
	hub := loopback.NewHub()
	pub, sub := newLoopbackChannel(t, hub, "control")

	h, err := table.Attach(pub, wire.AttachRequest{StreamID: 1, ClientID: 1, Role: wire.RoleProducer})
	require.NoError(t, err)

	raw := pollOne(t, sub)
	msg, _, _ := wire.Decode(raw)
	req := msg.(*wire.AttachRequest)

	table.CompleteAttach(&wire.AttachResponse{
		CorrelationID: req.CorrelationID,
		Code:          wire.CodeRejected,
		Message:       "producer already attached",
	})

	assert.Equal(t, Errored, h.Status())
	assert.Error(t, h.Err())
}

func TestCompleteAttachUnknownCorrelationIsNoop(t *testing.T) {
	clk := &clock.Fake{}
	table := New(clk)

	ok := table.CompleteAttach(&wire.AttachResponse{CorrelationID: 999, Code: wire.CodeOK})
	assert.False(t, ok)
}

func TestTickResendsAfterRetryInterval(t *testing.T) {
	clk := &clock.Fake{}
	table := New(clk)
	hub := loopback.NewHub()
	pub, sub := newLoopbackChannel(t, hub, "control")

	_, err := table.Attach(pub, wire.AttachRequest{StreamID: 1, ClientID: 1, Role: wire.RoleProducer})
	require.NoError(t, err)
	pollOne(t, sub) // drain the initial send

	table.Tick(pub)
	n, _ := sub.Poll(func(data []byte, _ fragment.Flags) {}, 1)
	assert.Equal(t, 0, n, "must not resend before retry interval elapses")

	clk.Advance(int64(RetryIntervalMs) * 1_000_000)
	table.Tick(pub)
	pollOne(t, sub) // the resend should now be there
}

func TestDetachRoundTrip(t *testing.T) {
	clk := &clock.Fake{}
	table := New(clk)
	hub := loopback.NewHub()
	pub, sub := newLoopbackChannel(t, hub, "control")

	h, err := table.Detach(pub, wire.DetachRequest{LeaseID: 7, ClientID: 42})
	require.NoError(t, err)

	raw := pollOne(t, sub)
	msg, _, err := wire.Decode(raw)
	require.NoError(t, err)
	req := msg.(*wire.DetachRequest)
	assert.EqualValues(t, 7, req.LeaseID)

	table.CompleteDetach(&wire.DetachResponse{CorrelationID: req.CorrelationID, Code: wire.CodeOK})
	assert.Equal(t, Complete, h.Status())
	require.NotNil(t, h.DetachResult())
}
