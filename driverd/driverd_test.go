package driverd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tensorpool/tensorpool/clock"
	"github.com/tensorpool/tensorpool/config"
	"github.com/tensorpool/tensorpool/demux"
	"github.com/tensorpool/tensorpool/fragment"
	"github.com/tensorpool/tensorpool/metrics"
	"github.com/tensorpool/tensorpool/shmregion"
	"github.com/tensorpool/tensorpool/transport"
	"github.com/tensorpool/tensorpool/transport/loopback"
	"github.com/tensorpool/tensorpool/wire"
)

func newLoopbackChannel(t *testing.T, hub *loopback.Hub, channel string) (transport.Publication, transport.Subscription) {
	t.Helper()
	bus := loopback.New(hub)

	pp, err := bus.AddPublication(channel, 1)
	require.NoError(t, err)
	_, pub, err := pp.Poll()
	require.NoError(t, err)

	ps, err := bus.AddSubscription(channel, 1)
	require.NoError(t, err)
	_, sub, err := ps.Poll()
	require.NoError(t, err)

	return pub, sub
}

func pollOne(t *testing.T, sub transport.Subscription, dmx *demux.Demux) {
	t.Helper()
	n, err := sub.Poll(func(data []byte, flags fragment.Flags) {
		require.NoError(t, dmx.OnFragment(data, flags))
	}, 1)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.Defaults()
	cfg.ShmBaseDir = t.TempDir()
	cfg.Profiles = []config.Profile{
		{Name: "default", SlotBytes: 64, StrideBytes: 64, NSlots: 8},
	}
	return &cfg
}

func TestDriverAttachProvisionsStreamAndIssuesLease(t *testing.T) {
	clk := &clock.Fake{Mono: 1, Real: 1_000_000_000}
	d := New(testConfig(t), clk, metrics.New())

	hub := loopback.NewHub()
	driverPub, clientSub := newLoopbackChannel(t, hub, "control")
	clientPub, driverSub := newLoopbackChannel(t, hub, "control-in")
	d.BindPublications(driverPub, driverPub)

	driverDemux := demux.New(d.Handlers())

	req := &wire.AttachRequest{
		CorrelationID: 1,
		StreamID:      7,
		ClientID:      42,
		Role:          wire.RoleProducer,
		PublishMode:   wire.PublishExistingOrCreate,
	}
	require.NoError(t, clientPub.Offer(wire.Encode(req)))
	pollOne(t, driverSub, driverDemux)

	var gotResp *wire.AttachResponse
	n, err := clientSub.Poll(func(data []byte, _ fragment.Flags) {
		msg, status, err := wire.Decode(data)
		require.NoError(t, err)
		require.Equal(t, wire.StatusDecoded, status)
		resp, ok := msg.(*wire.AttachResponse)
		require.True(t, ok)
		gotResp = resp
	}, 1)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.NotNil(t, gotResp)

	assert.Equal(t, wire.CodeOK, gotResp.Code)
	assert.NotZero(t, gotResp.LeaseID)
	assert.NotEmpty(t, gotResp.HeaderRegionURI)
	assert.NotEmpty(t, gotResp.Pools)

	st, ok := d.streams[7]
	require.True(t, ok)
	assert.Equal(t, gotResp.LeaseID, st.producerLeaseID)
}

func TestDriverRejectsSecondProducerAttach(t *testing.T) {
	clk := &clock.Fake{Mono: 1, Real: 1_000_000_000}
	d := New(testConfig(t), clk, metrics.New())

	hub := loopback.NewHub()
	driverPub, clientSub := newLoopbackChannel(t, hub, "control")
	clientPub, driverSub := newLoopbackChannel(t, hub, "control-in")
	d.BindPublications(driverPub, driverPub)
	driverDemux := demux.New(d.Handlers())

	first := &wire.AttachRequest{CorrelationID: 1, StreamID: 9, ClientID: 1, Role: wire.RoleProducer, PublishMode: wire.PublishExistingOrCreate}
	require.NoError(t, clientPub.Offer(wire.Encode(first)))
	pollOne(t, driverSub, driverDemux)
	drainResponses(t, clientSub, 1)

	second := &wire.AttachRequest{CorrelationID: 2, StreamID: 9, ClientID: 2, Role: wire.RoleProducer, PublishMode: wire.PublishExistingOrCreate}
	require.NoError(t, clientPub.Offer(wire.Encode(second)))
	pollOne(t, driverSub, driverDemux)

	resp := drainResponses(t, clientSub, 1)[0]
	assert.Equal(t, wire.CodeRejected, resp.Code)
}

func TestDriverRejectsDuplicateClientIDAttach(t *testing.T) {
	clk := &clock.Fake{Mono: 1, Real: 1_000_000_000}
	d := New(testConfig(t), clk, metrics.New())

	hub := loopback.NewHub()
	driverPub, clientSub := newLoopbackChannel(t, hub, "control")
	clientPub, driverSub := newLoopbackChannel(t, hub, "control-in")
	d.BindPublications(driverPub, driverPub)
	driverDemux := demux.New(d.Handlers())

	first := &wire.AttachRequest{CorrelationID: 1, StreamID: 11, ClientID: 5, Role: wire.RoleProducer, PublishMode: wire.PublishExistingOrCreate}
	require.NoError(t, clientPub.Offer(wire.Encode(first)))
	pollOne(t, driverSub, driverDemux)
	drainResponses(t, clientSub, 1)

	second := &wire.AttachRequest{CorrelationID: 2, StreamID: 11, ClientID: 5, Role: wire.RoleConsumer, PublishMode: wire.PublishExistingOrCreate}
	require.NoError(t, clientPub.Offer(wire.Encode(second)))
	pollOne(t, driverSub, driverDemux)

	resp := drainResponses(t, clientSub, 1)[0]
	assert.Equal(t, wire.CodeRejected, resp.Code)
	assert.Equal(t, "client_id already attached", resp.Message)
}

func TestDriverRejectsLayoutVersionMismatch(t *testing.T) {
	clk := &clock.Fake{Mono: 1, Real: 1_000_000_000}
	d := New(testConfig(t), clk, metrics.New())

	hub := loopback.NewHub()
	driverPub, clientSub := newLoopbackChannel(t, hub, "control")
	clientPub, driverSub := newLoopbackChannel(t, hub, "control-in")
	d.BindPublications(driverPub, driverPub)
	driverDemux := demux.New(d.Handlers())

	req := &wire.AttachRequest{
		CorrelationID:         1,
		StreamID:              13,
		ClientID:              1,
		Role:                  wire.RoleProducer,
		PublishMode:           wire.PublishExistingOrCreate,
		ExpectedLayoutVersion: shmregion.LayoutVersion + 1,
	}
	require.NoError(t, clientPub.Offer(wire.Encode(req)))
	pollOne(t, driverSub, driverDemux)

	resp := drainResponses(t, clientSub, 1)[0]
	assert.Equal(t, wire.CodeRejected, resp.Code)
	assert.Equal(t, "layout version mismatch", resp.Message)
}

func TestDriverRejectsAttachWhenHugepagesUnavailable(t *testing.T) {
	clk := &clock.Fake{Mono: 1, Real: 1_000_000_000}
	cfg := testConfig(t)
	cfg.RequireHugepages = true
	d := New(cfg, clk, metrics.New())

	hub := loopback.NewHub()
	driverPub, clientSub := newLoopbackChannel(t, hub, "control")
	clientPub, driverSub := newLoopbackChannel(t, hub, "control-in")
	d.BindPublications(driverPub, driverPub)
	driverDemux := demux.New(d.Handlers())

	req := &wire.AttachRequest{CorrelationID: 1, StreamID: 17, ClientID: 1, Role: wire.RoleProducer, PublishMode: wire.PublishExistingOrCreate}
	require.NoError(t, clientPub.Offer(wire.Encode(req)))
	pollOne(t, driverSub, driverDemux)

	resp := drainResponses(t, clientSub, 1)[0]
	assert.Equal(t, wire.CodeRejected, resp.Code)
}

func TestDriverAllocatesNodeIDForConsumer(t *testing.T) {
	clk := &clock.Fake{Mono: 1, Real: 1_000_000_000}
	d := New(testConfig(t), clk, metrics.New())

	hub := loopback.NewHub()
	driverPub, clientSub := newLoopbackChannel(t, hub, "control")
	clientPub, driverSub := newLoopbackChannel(t, hub, "control-in")
	d.BindPublications(driverPub, driverPub)
	driverDemux := demux.New(d.Handlers())

	producer := &wire.AttachRequest{CorrelationID: 1, StreamID: 21, ClientID: 1, Role: wire.RoleProducer, PublishMode: wire.PublishExistingOrCreate}
	require.NoError(t, clientPub.Offer(wire.Encode(producer)))
	pollOne(t, driverSub, driverDemux)
	drainResponses(t, clientSub, 1)

	consumer := &wire.AttachRequest{CorrelationID: 2, StreamID: 21, ClientID: 2, Role: wire.RoleConsumer, PublishMode: wire.PublishExistingOrCreate}
	require.NoError(t, clientPub.Offer(wire.Encode(consumer)))
	pollOne(t, driverSub, driverDemux)
	resp := drainResponses(t, clientSub, 1)[0]
	require.Equal(t, wire.CodeOK, resp.Code)

	l, ok := d.leases.Find(resp.LeaseID)
	require.True(t, ok)
	assert.NotZero(t, l.NodeID)
}

func drainResponses(t *testing.T, sub transport.Subscription, limit int) []*wire.AttachResponse {
	t.Helper()
	var out []*wire.AttachResponse
	_, err := sub.Poll(func(data []byte, _ fragment.Flags) {
		msg, status, err := wire.Decode(data)
		require.NoError(t, err)
		require.Equal(t, wire.StatusDecoded, status)
		resp, ok := msg.(*wire.AttachResponse)
		require.True(t, ok)
		out = append(out, resp)
	}, limit)
	require.NoError(t, err)
	return out
}

func TestDriverDetachBumpsEpochAndReleasesProducer(t *testing.T) {
	clk := &clock.Fake{Mono: 1, Real: 1_000_000_000}
	d := New(testConfig(t), clk, metrics.New())

	hub := loopback.NewHub()
	driverPub, clientSub := newLoopbackChannel(t, hub, "control")
	clientPub, driverSub := newLoopbackChannel(t, hub, "control-in")
	d.BindPublications(driverPub, driverPub)
	driverDemux := demux.New(d.Handlers())

	attachReq := &wire.AttachRequest{CorrelationID: 1, StreamID: 3, ClientID: 1, Role: wire.RoleProducer, PublishMode: wire.PublishExistingOrCreate}
	require.NoError(t, clientPub.Offer(wire.Encode(attachReq)))
	pollOne(t, driverSub, driverDemux)
	attachResp := drainResponses(t, clientSub, 1)[0]
	epochBefore := d.streams[3].epoch.Epoch

	detachReq := &wire.DetachRequest{CorrelationID: 2, LeaseID: attachResp.LeaseID, ClientID: 1}
	require.NoError(t, clientPub.Offer(wire.Encode(detachReq)))
	pollOne(t, driverSub, driverDemux)

	var gotDetach *wire.DetachResponse
	_, err := clientSub.Poll(func(data []byte, _ fragment.Flags) {
		msg, _, err := wire.Decode(data)
		require.NoError(t, err)
		resp, ok := msg.(*wire.DetachResponse)
		require.True(t, ok)
		gotDetach = resp
	}, 1)
	require.NoError(t, err)
	require.NotNil(t, gotDetach)
	assert.Equal(t, wire.CodeOK, gotDetach.Code)

	st := d.streams[3]
	assert.Zero(t, st.producerLeaseID)
	assert.NotEqual(t, epochBefore, st.epoch.Epoch)
	_, found := d.leases.Find(attachResp.LeaseID)
	assert.False(t, found)
}

func TestDriverSweepRevokesExpiredLeaseAndBumpsEpoch(t *testing.T) {
	clk := &clock.Fake{Mono: 1, Real: 1_000_000_000}
	cfg := testConfig(t)
	cfg.LeaseKeepaliveIntervalMs = 10
	cfg.LeaseExpiryGraceIntervals = 1
	d := New(cfg, clk, metrics.New())

	hub := loopback.NewHub()
	driverPub, clientSub := newLoopbackChannel(t, hub, "control")
	clientPub, driverSub := newLoopbackChannel(t, hub, "control-in")
	d.BindPublications(driverPub, driverPub)
	driverDemux := demux.New(d.Handlers())

	attachReq := &wire.AttachRequest{CorrelationID: 1, StreamID: 5, ClientID: 1, Role: wire.RoleProducer, PublishMode: wire.PublishExistingOrCreate}
	require.NoError(t, clientPub.Offer(wire.Encode(attachReq)))
	pollOne(t, driverSub, driverDemux)
	attachResp := drainResponses(t, clientSub, 1)[0]
	epochBefore := d.streams[5].epoch.Epoch

	clk.Advance(1_000_000_000)
	n := d.sweepLeases()
	assert.Equal(t, 1, n)

	st := d.streams[5]
	assert.Zero(t, st.producerLeaseID)
	assert.NotEqual(t, epochBefore, st.epoch.Epoch)

	var gotRevoked *wire.LeaseRevoked
	_, err := clientSub.Poll(func(data []byte, _ fragment.Flags) {
		msg, _, err := wire.Decode(data)
		require.NoError(t, err)
		resp, ok := msg.(*wire.LeaseRevoked)
		require.True(t, ok)
		gotRevoked = resp
	}, 1)
	require.NoError(t, err)
	require.NotNil(t, gotRevoked)
	assert.Equal(t, attachResp.LeaseID, gotRevoked.LeaseID)
	assert.Equal(t, wire.RevokeExpired, gotRevoked.Reason)
}
