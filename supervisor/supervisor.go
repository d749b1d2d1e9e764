// Package supervisor implements the optional per-consumer routing
// consolidation from spec.md §4.9: a registry of ConsumerHello
// announcements keyed by (stream_id, consumer_id), with routing
// assignment and a periodic staleness sweep. There is no C original for
// this module (spec.md marks it optional and the pack's original_source
// doesn't carry a tp_supervisor.c), so it's grounded structurally on the
// lease package's table-with-periodic-sweep shape (see lease.Table.Sweep)
// since both are "driver-owned registry keyed by an id tuple, swept on a
// timer" concerns.
package supervisor

import (
	"github.com/tensorpool/tensorpool/clock"
	"github.com/tensorpool/tensorpool/wire"
)

// Config controls per-consumer stream id assignment and staleness.
type Config struct {
	DescriptorStreamIDBase  uint32
	DescriptorStreamIDRange uint32
	ControlStreamIDBase     uint32
	ControlStreamIDRange    uint32
	ConsumerStaleMs         int64
}

type key struct {
	streamID   uint32
	consumerID uint64
}

type consumerEntry struct {
	lastSeenNs         int64
	descriptorStreamID uint32
	controlStreamID    uint32
}

// Supervisor consolidates ConsumerHello traffic into per-consumer
// routing assignments. The zero value is not usable; build one with
// New.
type Supervisor struct {
	clock clock.Clock
	cfg   Config

	entries map[key]*consumerEntry
}

// New builds a Supervisor with cfg's routing ranges and stale timeout.
func New(clk clock.Clock, cfg Config) *Supervisor {
	return &Supervisor{clock: clk, cfg: cfg, entries: make(map[key]*consumerEntry)}
}

func (s *Supervisor) assignRoute(consumerID uint64) (descriptorStreamID, controlStreamID uint32) {
	descriptorStreamID = s.cfg.DescriptorStreamIDBase
	controlStreamID = s.cfg.ControlStreamIDBase
	if s.cfg.DescriptorStreamIDRange > 0 {
		descriptorStreamID += uint32(consumerID % uint64(s.cfg.DescriptorStreamIDRange))
	}
	if s.cfg.ControlStreamIDRange > 0 {
		controlStreamID += uint32(consumerID % uint64(s.cfg.ControlStreamIDRange))
	}
	return descriptorStreamID, controlStreamID
}

// HandleHello consolidates hello into the registry (inserting or
// refreshing last_seen_ns) and returns the ConsumerConfig to echo back
// on the control publication, per spec.md §4.9.
func (s *Supervisor) HandleHello(hello wire.ConsumerHello) wire.ConsumerConfig {
	k := key{streamID: hello.StreamID, consumerID: hello.ConsumerID}
	descriptorStreamID, controlStreamID := s.assignRoute(hello.ConsumerID)

	e, ok := s.entries[k]
	if !ok {
		e = &consumerEntry{}
		s.entries[k] = e
	}
	e.lastSeenNs = s.clock.NowNS()
	e.descriptorStreamID = descriptorStreamID
	e.controlStreamID = controlStreamID

	return wire.ConsumerConfig{
		StreamID:           hello.StreamID,
		ConsumerID:         hello.ConsumerID,
		DescriptorStreamID: descriptorStreamID,
		ControlStreamID:    controlStreamID,
	}
}

// Lookup returns the currently registered routing for (streamID,
// consumerID), or false if no hello has been consolidated for it.
func (s *Supervisor) Lookup(streamID uint32, consumerID uint64) (wire.ConsumerConfig, bool) {
	e, ok := s.entries[key{streamID: streamID, consumerID: consumerID}]
	if !ok {
		return wire.ConsumerConfig{}, false
	}
	return wire.ConsumerConfig{
		StreamID:           streamID,
		ConsumerID:         consumerID,
		DescriptorStreamID: e.descriptorStreamID,
		ControlStreamID:    e.controlStreamID,
	}, true
}

// Count reports how many consumers are currently registered.
func (s *Supervisor) Count() int {
	return len(s.entries)
}

// Sweep drops every entry whose last_seen_ns is older than
// consumer_stale_ms, per spec.md §4.9's periodic sweep.
func (s *Supervisor) Sweep() int {
	if s.cfg.ConsumerStaleMs <= 0 {
		return 0
	}
	now := s.clock.NowNS()
	threshold := s.cfg.ConsumerStaleMs * int64(1_000_000)
	dropped := 0
	for k, e := range s.entries {
		if now-e.lastSeenNs > threshold {
			delete(s.entries, k)
			dropped++
		}
	}
	return dropped
}
