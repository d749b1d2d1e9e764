// Command tensorpool-janitor periodically reclaims superseded shared-
// memory epoch directories that a live tensorpool-driver has already
// rotated past, for deployments that run epoch GC out-of-band instead
// of (or in addition to) the driver's own inline tp_driver_gc_stream
// pass. It has no connection to the driver's in-memory lease state, so
// it works purely from what's on disk via shmregion.GCStream.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tensorpool/tensorpool/clock"
	"github.com/tensorpool/tensorpool/config"
	"github.com/tensorpool/tensorpool/shmregion"
)

// sweepGuard is a running-flag guard: a sweep that's still in flight
// when the next tick fires is skipped rather than queued, since two
// overlapping GC passes over the same stream directories would just
// race os.Stat/RemoveAll calls.
type sweepGuard struct {
	mu      sync.Mutex
	running bool
}

func (g *sweepGuard) tryStart() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running {
		return false
	}
	g.running = true
	return true
}

func (g *sweepGuard) finish() {
	g.mu.Lock()
	g.running = false
	g.mu.Unlock()
}

func main() {
	log.Println("tensorpool-janitor starting...")

	cfgPath := "janitor.toml"
	if p := os.Getenv("TENSORPOOL_JANITOR_CONFIG"); p != "" {
		cfgPath = p
	}
	envPath := os.Getenv("TENSORPOOL_JANITOR_ENV")

	cfg, err := config.Load(cfgPath, envPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if !cfg.EpochGCEnabled {
		log.Println("tensorpool-janitor: epoch GC disabled in config, exiting")
		return
	}

	uid := os.Getuid()
	guard := &sweepGuard{}

	c := cron.New(cron.WithLogger(cron.PrintfLogger(log.Default())))
	if _, err := c.AddFunc(cfg.EpochGCScheduleCron, func() { sweepOnce(cfg, uid, guard) }); err != nil {
		log.Fatalf("cron: %v", err)
	}

	if cfg.EpochGCOnStartup {
		sweepOnce(cfg, uid, guard)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	c.Start()
	log.Printf("tensorpool-janitor: scheduled %q", cfg.EpochGCScheduleCron)

	<-ctx.Done()
	log.Println("tensorpool-janitor stopping...")

	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(10 * time.Second):
		log.Println("tensorpool-janitor: timed out waiting for in-flight sweep")
	}
	log.Println("tensorpool-janitor stopped.")
}

// sweepOnce runs one GC pass over every stream id currently provisioned
// under cfg.ShmBaseDir/cfg.ShmNamespace, skipping the pass entirely if
// the previous one hasn't finished yet.
func sweepOnce(cfg *config.Config, uid int, guard *sweepGuard) {
	if !guard.tryStart() {
		log.Println("tensorpool-janitor: sweep already running, skipping tick")
		return
	}
	defer guard.finish()

	ids, err := shmregion.StreamIDsOnDisk(cfg.ShmBaseDir, uid, cfg.ShmNamespace)
	if err != nil {
		log.Printf("tensorpool-janitor: list streams: %v", err)
		return
	}

	now := clock.System{}.NowRealtimeNS()
	total := 0
	for _, streamID := range ids {
		removed, err := shmregion.GCStream(cfg.ShmBaseDir, uid, cfg.ShmNamespace, streamID, cfg.EpochGCKeep, cfg.EpochGCMinAgeNs, now)
		if err != nil {
			log.Printf("tensorpool-janitor: gc stream %d: %v", streamID, err)
			continue
		}
		total += removed
	}
	if total > 0 {
		log.Printf("tensorpool-janitor: removed %d stale epoch directories across %d streams", total, len(ids))
	}
}
