// Command tensorpool-driver runs the tensorpool shared-memory driver
// process described in spec.md §4: it owns every stream's lease table
// and shared-memory lifecycle and answers attach/detach/keepalive
// traffic over the configured control channel.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tensorpool/tensorpool/agent"
	"github.com/tensorpool/tensorpool/clock"
	"github.com/tensorpool/tensorpool/conductor"
	"github.com/tensorpool/tensorpool/config"
	"github.com/tensorpool/tensorpool/demux"
	"github.com/tensorpool/tensorpool/driverd"
	"github.com/tensorpool/tensorpool/metrics"
	"github.com/tensorpool/tensorpool/transport"
	"github.com/tensorpool/tensorpool/transport/loopback"
	"github.com/tensorpool/tensorpool/transport/natsbus"
)

func main() {
	log.Println("tensorpool-driver starting...")

	cfgPath := "driver.toml"
	if p := os.Getenv("TENSORPOOL_DRIVER_CONFIG"); p != "" {
		cfgPath = p
	}
	envPath := os.Getenv("TENSORPOOL_DRIVER_ENV")

	cfg, err := config.Load(cfgPath, envPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	mt, err := buildTransport()
	if err != nil {
		log.Fatalf("transport: %v", err)
	}
	defer mt.Close()

	controlPub, controlSub, err := addChannel(mt, cfg.ControlChannel)
	if err != nil {
		log.Fatalf("control channel: %v", err)
	}
	announcePub, _, err := addChannel(mt, cfg.AnnounceChannel)
	if err != nil {
		log.Fatalf("announce channel: %v", err)
	}

	m := metrics.New()
	drv := driverd.New(cfg, clock.System{}, m)
	drv.BindPublications(
		driverd.NewRateLimitedPublication(controlPub, 2000, 200),
		driverd.NewRateLimitedPublication(announcePub, 100, 20),
	)

	cond := conductor.New(mt, 1024)
	cond.AddPoller(demux.NewPoller(controlSub, drv.Handlers()))

	runner, err := agent.New("tp-driver", func() (int, error) {
		return drv.DoWork(cond, 64)
	}, nil, agent.Sleeping, agent.IdleConfig{SleepNs: uint64(cfg.IdleSleepDurationNs)})
	if err != nil {
		log.Fatalf("agent: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runner.Start()
	})

	srv := &http.Server{Addr: ":9090", Handler: m.Handler()}
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		drv.Shutdown(1, "driver shutting down")
		time.Sleep(50 * time.Millisecond) // let the shutdown frame drain

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
		return runner.Close()
	})

	if err := g.Wait(); err != nil {
		log.Printf("tensorpool-driver: %v", err)
	}
	log.Println("tensorpool-driver stopped.")
}

// buildTransport selects natsbus when TENSORPOOL_NATS_URL is set, else
// falls back to an in-process loopback bus for single-process demos.
func buildTransport() (transport.MessageTransport, error) {
	if url := os.Getenv("TENSORPOOL_NATS_URL"); url != "" {
		return natsbus.Connect(natsbus.Config{URL: url})
	}
	return loopback.New(loopback.NewHub()), nil
}

// addChannel resolves a publication and subscription for cfg in one
// step; both loopback and natsbus complete their pending adds
// synchronously so no conductor round-trip is needed at startup.
func addChannel(mt transport.MessageTransport, cfg config.ChannelConfig) (transport.Publication, transport.Subscription, error) {
	pendingPub, err := mt.AddPublication(cfg.URI, cfg.StreamID)
	if err != nil {
		return nil, nil, err
	}
	_, pub, err := pendingPub.Poll()
	if err != nil {
		return nil, nil, err
	}

	pendingSub, err := mt.AddSubscription(cfg.URI, cfg.StreamID)
	if err != nil {
		return nil, nil, err
	}
	_, sub, err := pendingSub.Poll()
	if err != nil {
		return nil, nil, err
	}

	return pub, sub, nil
}
