package conductor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tensorpool/tensorpool/transport"
	"github.com/tensorpool/tensorpool/transport/loopback"
)

type countingPoller struct {
	calls int
	work  int
	err   error
	nested func()
}

func (p *countingPoller) DoWork(limit int) (int, error) {
	p.calls++
	if p.nested != nil {
		p.nested()
	}
	return p.work, p.err
}

func TestAddPublicationResolvesOnDoWork(t *testing.T) {
	hub := loopback.NewHub()
	bus := loopback.New(hub)
	c := New(bus, 8)

	h, err := c.AddPublication("control", 1)
	require.NoError(t, err)
	assert.Equal(t, Pending, h.Status())

	total, err := c.DoWork(10)
	require.NoError(t, err)
	assert.Greater(t, total, 0)
	assert.Equal(t, Complete, h.Status())
	require.NotNil(t, h.Publication())
	assert.Equal(t, 0, c.PendingCommandCount())
}

func TestAddSubscriptionResolvesOnDoWork(t *testing.T) {
	hub := loopback.NewHub()
	bus := loopback.New(hub)
	c := New(bus, 8)

	h, err := c.AddSubscription("control", 1)
	require.NoError(t, err)

	_, err = c.DoWork(10)
	require.NoError(t, err)
	assert.Equal(t, Complete, h.Status())
	require.NotNil(t, h.Subscription())
}

func TestDoWorkWalksRegisteredPollers(t *testing.T) {
	hub := loopback.NewHub()
	bus := loopback.New(hub)
	c := New(bus, 8)

	p1 := &countingPoller{work: 3}
	p2 := &countingPoller{work: 2}
	c.AddPoller(p1)
	c.AddPoller(p2)

	total, err := c.DoWork(10)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Equal(t, 1, p1.calls)
	assert.Equal(t, 1, p2.calls)
}

func TestRemovePoller(t *testing.T) {
	hub := loopback.NewHub()
	bus := loopback.New(hub)
	c := New(bus, 8)

	p1 := &countingPoller{work: 1}
	c.AddPoller(p1)
	c.RemovePoller(p1)

	total, err := c.DoWork(10)
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.Equal(t, 0, p1.calls)
}

func TestDoWorkPropagatesPollerError(t *testing.T) {
	hub := loopback.NewHub()
	bus := loopback.New(hub)
	c := New(bus, 8)

	wantErr := errors.New("boom")
	c.AddPoller(&countingPoller{err: wantErr})

	_, err := c.DoWork(10)
	assert.ErrorIs(t, err, wantErr)
}

func TestReentrantDoWorkSkipsPollerWalk(t *testing.T) {
	hub := loopback.NewHub()
	bus := loopback.New(hub)
	c := New(bus, 8)

	p := &countingPoller{work: 1}
	p.nested = func() {
		n, err := c.DoWork(10)
		require.NoError(t, err)
		assert.Equal(t, 0, n, "reentrant DoWork must skip the poller walk")
	}
	c.AddPoller(p)

	_, err := c.DoWork(10)
	require.NoError(t, err)
	assert.Equal(t, 1, p.calls, "the reentrant call must not walk pollers again")
}

func TestAddPublicationRejectedWhenQueueFull(t *testing.T) {
	hub := loopback.NewHub()
	bus := loopback.New(hub)
	c := New(bus, 1)

	_, err := c.AddPublication("a", 1)
	require.NoError(t, err)
	_, err = c.AddPublication("b", 1)
	assert.Error(t, err)
}

var _ transport.MessageTransport = (*loopback.Bus)(nil)
