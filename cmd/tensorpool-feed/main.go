// Command tensorpool-feed runs one or more market-data producers, one
// per-exchange websocket ingestion loop each, publishing into
// tensorpool rings instead of a single hardcoded shared matrix: each
// enabled exchange attaches to the driver as a producer, then
// tensorizes its book updates onto the granted region.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tensorpool/tensorpool/attach"
	"github.com/tensorpool/tensorpool/clock"
	"github.com/tensorpool/tensorpool/conductor"
	"github.com/tensorpool/tensorpool/config"
	"github.com/tensorpool/tensorpool/demux"
	"github.com/tensorpool/tensorpool/feed"
	"github.com/tensorpool/tensorpool/ring"
	"github.com/tensorpool/tensorpool/shmregion"
	"github.com/tensorpool/tensorpool/transport"
	"github.com/tensorpool/tensorpool/transport/loopback"
	"github.com/tensorpool/tensorpool/transport/natsbus"
	"github.com/tensorpool/tensorpool/wire"
)

func main() {
	log.Println("tensorpool-feed starting...")

	cfgPath := "feed.toml"
	if p := os.Getenv("TENSORPOOL_FEED_CONFIG"); p != "" {
		cfgPath = p
	}
	envPath := os.Getenv("TENSORPOOL_FEED_ENV")

	cfg, err := config.Load(cfgPath, envPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	mt, err := buildTransport()
	if err != nil {
		log.Fatalf("transport: %v", err)
	}
	defer mt.Close()

	controlPendingPub, err := mt.AddPublication(cfg.ControlChannel.URI, cfg.ControlChannel.StreamID)
	if err != nil {
		log.Fatalf("control publication: %v", err)
	}
	_, controlPub, err := controlPendingPub.Poll()
	if err != nil {
		log.Fatalf("control publication: %v", err)
	}
	controlPendingSub, err := mt.AddSubscription(cfg.ControlChannel.URI, cfg.ControlChannel.StreamID)
	if err != nil {
		log.Fatalf("control subscription: %v", err)
	}
	_, controlSub, err := controlPendingSub.Poll()
	if err != nil {
		log.Fatalf("control subscription: %v", err)
	}

	table := attach.New(clock.System{})
	cond := conductor.New(mt, 256)
	cond.AddPoller(demux.NewPoller(controlSub, demux.Handlers{
		AttachResponse: func(resp *wire.AttachResponse) { table.CompleteAttach(resp) },
		DetachResponse: func(resp *wire.DetachResponse) { table.CompleteDetach(resp) },
	}))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	names := make([]string, 0, len(cfg.Exchanges))
	for name, ex := range cfg.Exchanges {
		if ex.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for gctx.Err() == nil {
			if _, err := cond.DoWork(64); err != nil {
				return err
			}
			table.Tick(controlPub)
			time.Sleep(time.Millisecond)
		}
		return nil
	})

	for i, name := range names {
		name, streamID := name, feedStreamID(cfg, i)
		g.Go(func() error {
			exCfg := cfg.Exchanges[name]
			resp, err := attachProducer(gctx, table, controlPub, streamID)
			if err != nil {
				return fmt.Errorf("%s: attach: %w", name, err)
			}

			producer, err := openProducer(cfg, resp)
			if err != nil {
				return fmt.Errorf("%s: open shm regions: %w", name, err)
			}

			return runWSProducer(gctx, name, exCfg, producer)
		})
	}

	if err := g.Wait(); err != nil && gctx.Err() == nil {
		log.Printf("tensorpool-feed: %v", err)
	}
	log.Println("tensorpool-feed stopped.")
}

func buildTransport() (transport.MessageTransport, error) {
	if url := os.Getenv("TENSORPOOL_NATS_URL"); url != "" {
		return natsbus.Connect(natsbus.Config{URL: url})
	}
	return loopback.New(loopback.NewHub()), nil
}

// feedStreamID derives a producer stream id for the i'th enabled
// exchange from a "feed" entry in cfg.StreamIDRanges, falling back to a
// fixed offset when the operator hasn't reserved one.
func feedStreamID(cfg *config.Config, i int) uint32 {
	for _, r := range cfg.StreamIDRanges {
		if r.Name == "feed" && uint32(i) < r.Count {
			return r.Base + uint32(i)
		}
	}
	return 200 + uint32(i)
}

// attachProducer sends an AttachRequest for streamID and blocks until
// the driver answers or ctx is canceled.
func attachProducer(ctx context.Context, table *attach.Table, pub transport.Publication, streamID uint32) (*wire.AttachResponse, error) {
	h, err := table.Attach(pub, wire.AttachRequest{
		StreamID:    streamID,
		ClientID:    uint64(uuid.New().ID()),
		Role:        wire.RoleProducer,
		PublishMode: wire.PublishExistingOrCreate,
	})
	if err != nil {
		return nil, err
	}

	for {
		switch h.Status() {
		case attach.Complete:
			return h.AttachResult(), nil
		case attach.Errored:
			return nil, h.Err()
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// openProducer mmaps the header ring and every payload pool an
// AttachResponse granted, and wraps them in a ring.Producer.
func openProducer(cfg *config.Config, resp *wire.AttachResponse) (*ring.Producer, error) {
	allowedRoots := []string{cfg.ShmBaseDir}

	headerURI, err := shmregion.ParseURI(resp.HeaderRegionURI)
	if err != nil {
		return nil, err
	}
	headerPath, err := shmregion.ValidatePath(headerURI.Path, allowedRoots)
	if err != nil {
		return nil, err
	}
	header, err := shmregion.Open(headerPath, shmregion.ReadWrite, resp.StreamID, resp.Epoch, shmregion.RegionHeaderRing, 0, resp.HeaderSlotBytes)
	if err != nil {
		return nil, err
	}

	pools := make(map[uint16]*shmregion.Region, len(resp.Pools))
	for _, pd := range resp.Pools {
		poolURI, err := shmregion.ParseURI(pd.URI)
		if err != nil {
			return nil, err
		}
		poolPath, err := shmregion.ValidatePath(poolURI.Path, allowedRoots)
		if err != nil {
			return nil, err
		}
		region, err := shmregion.Open(poolPath, shmregion.ReadWrite, resp.StreamID, resp.Epoch, shmregion.RegionPayloadPool, pd.PoolID, pd.StrideBytes)
		if err != nil {
			return nil, err
		}
		pools[pd.PoolID] = region
	}

	return ring.NewProducer(header, pools), nil
}

func runWSProducer(ctx context.Context, name string, exCfg config.ExchangeConfig, producer feed.FramePublisher) error {
	route := feed.Route{Publisher: producer, PoolID: 0}
	routes := make(map[string]feed.Route, len(exCfg.Symbols))
	for local := range exCfg.Symbols {
		routes[local] = route
	}

	var decode feed.Decoder
	var subscribe []any
	switch name {
	case "hyperliquid":
		decode, subscribe = feed.HyperliquidDecoder(exCfg.Symbols), feed.HyperliquidSubscriptions(exCfg.Symbols)
	case "lighter":
		decode, subscribe = feed.LighterDecoder(exCfg.Symbols), feed.LighterSubscriptions(exCfg.Symbols)
	case "edgex":
		decode, subscribe = feed.EdgeXDecoder(exCfg.Symbols), feed.EdgeXSubscriptions(exCfg.Symbols)
	case "01":
		decode, subscribe = feed.ZeroOneDecoder(exCfg.Symbols), feed.ZeroOneSubscriptions(exCfg.Symbols)
	case "backpack":
		decode, subscribe = feed.BackpackDecoder(exCfg.Symbols), feed.BackpackSubscriptions(exCfg.Symbols)
	default:
		return fmt.Errorf("tensorpool-feed: no decoder registered for exchange %q", name)
	}

	w := &feed.WSProducer{
		Name:      name,
		URL:       exCfg.WSURL,
		Decode:    decode,
		Routes:    routes,
		Subscribe: subscribe,
	}
	log.Printf("tensorpool-feed: %s starting...", name)
	if err := w.Run(ctx); err != nil && ctx.Err() != nil {
		return nil
	}
	return nil
}
