package feed

import (
	"context"
	"fmt"
	"log"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/tensorpool/tensorpool/ring"
)

// ReconnectDelay is the fixed backoff between dropped-connection
// retries, matching exchanges.RunConnectionLoop's "reconnecting in 3s".
const ReconnectDelay = 3 * time.Second

// Decoder turns one raw upstream websocket message into a BBO for
// localSymbol, or ok=false if the message should be ignored (a
// heartbeat, a channel this feed doesn't track, an unparseable
// envelope).
type Decoder func(raw []byte) (localSymbol string, tsNs uint64, bbo BBO, ok bool)

// FramePublisher is the one ring.Producer method WSProducer depends on,
// narrowed to an interface so tests can substitute an in-memory fake
// instead of standing up real shared memory.
type FramePublisher interface {
	Publish(f ring.Frame) (uint64, error)
}

// Route publishes every BBO decoded for one local symbol into a single
// pool on a shared ring.
type Route struct {
	Publisher FramePublisher
	PoolID    uint16
}

// WSProducer reconnects to one upstream JSON-over-websocket feed and
// tensorizes every decoded tick into a ring frame on its routed
// Producer, generalizing the per-exchange structs in exchanges/*.go
// into one reusable adapter driven by a Decoder and a symbol→Route map.
type WSProducer struct {
	Name    string
	URL     string
	Decode  Decoder
	Routes  map[string]Route
	Subscribe []any // messages sent immediately after connect, wsjson-encoded

	// MetaVersion is stamped on every published frame; bump it when the
	// upstream schema for this feed changes shape.
	MetaVersion uint32
}

// Run drives the reconnect loop until ctx is canceled, exactly the
// shape exchanges.RunConnectionLoop already established: on any
// non-context error, wait ReconnectDelay and dial again.
func (w *WSProducer) Run(ctx context.Context) error {
	for {
		if err := w.connect(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("feed: %s disconnected (%v), reconnecting in %s...", w.Name, err, ReconnectDelay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(ReconnectDelay):
			}
		}
	}
}

func (w *WSProducer) connect(ctx context.Context) error {
	c, _, err := websocket.Dial(ctx, w.URL, nil)
	if err != nil {
		return fmt.Errorf("feed: dial %s: %w", w.Name, err)
	}
	defer c.CloseNow()

	for _, msg := range w.Subscribe {
		if err := wsjson.Write(ctx, c, msg); err != nil {
			return fmt.Errorf("feed: %s subscribe: %w", w.Name, err)
		}
	}
	log.Printf("feed: %s connected", w.Name)

	for {
		_, raw, err := c.Read(ctx)
		if err != nil {
			return err
		}

		symbol, tsNs, bbo, ok := w.Decode(raw)
		if !ok {
			continue
		}
		route, ok := w.Routes[symbol]
		if !ok {
			continue
		}
		if _, err := route.Publisher.Publish(BBOFrame(route.PoolID, tsNs, w.MetaVersion, bbo)); err != nil {
			log.Printf("feed: %s publish %s: %v", w.Name, symbol, err)
		}
	}
}
