package agent

import (
	"runtime"
	"time"
)

// IdleStrategy selects which backoff behavior an agent applies when its
// do_work function reports no work done, per spec.md §4.10.
type IdleStrategy int

const (
	Sleeping IdleStrategy = iota
	Yielding
	BusySpin
	Noop
	Backoff
)

// IdleConfig carries the tuning parameters for Sleeping (SleepNs) and
// Backoff (the rest), per the tp_agent_idle_strategy_config_t fields in
// original_source/include/tensor_pool/common/tp_agent.h.
type IdleConfig struct {
	SleepNs         uint64
	MaxSpins        uint64
	MaxYields       uint64
	MinParkPeriodNs uint64
	MaxParkPeriodNs uint64
}

// idler is invoked once per do_work pass with the work count that pass
// produced; it decides how long (if at all) to back off.
type idler interface {
	idle(workCount int)
}

type sleepingIdle struct {
	sleepNs time.Duration
}

func (s *sleepingIdle) idle(workCount int) {
	if workCount > 0 {
		return
	}
	time.Sleep(s.sleepNs)
}

type yieldingIdle struct{}

func (yieldingIdle) idle(workCount int) {
	if workCount > 0 {
		return
	}
	runtime.Gosched()
}

type busySpinIdle struct{}

func (busySpinIdle) idle(int) {}

type noopIdle struct{}

func (noopIdle) idle(int) {}

// backoffIdle implements spec.md §4.10's BACKOFF strategy: spin up to
// max_spins, then cooperatively yield up to max_yields, then park for a
// period that starts at min_park_period_ns and doubles on every idle
// cycle up to max_park_period_ns, resetting entirely the next time work
// is done.
type backoffIdle struct {
	maxSpins  uint64
	maxYields uint64
	minPark   time.Duration
	maxPark   time.Duration

	spins  uint64
	yields uint64
	park   time.Duration
}

func (b *backoffIdle) idle(workCount int) {
	if workCount > 0 {
		b.spins = 0
		b.yields = 0
		b.park = 0
		return
	}

	switch {
	case b.spins < b.maxSpins:
		b.spins++
	case b.yields < b.maxYields:
		b.yields++
		runtime.Gosched()
	default:
		if b.park == 0 {
			b.park = b.minPark
		}
		time.Sleep(b.park)
		b.park *= 2
		if b.park > b.maxPark {
			b.park = b.maxPark
		}
	}
}

func newIdler(strategy IdleStrategy, cfg IdleConfig) idler {
	switch strategy {
	case Sleeping:
		sleepNs := cfg.SleepNs
		if sleepNs == 0 {
			sleepNs = 1_000_000 // 1ms, matching tp_agent_runner_init's default
		}
		return &sleepingIdle{sleepNs: time.Duration(sleepNs)}
	case Yielding:
		return yieldingIdle{}
	case BusySpin:
		return busySpinIdle{}
	case Backoff:
		return &backoffIdle{
			maxSpins:  cfg.MaxSpins,
			maxYields: cfg.MaxYields,
			minPark:   time.Duration(cfg.MinParkPeriodNs),
			maxPark:   time.Duration(cfg.MaxParkPeriodNs),
		}
	case Noop:
		fallthrough
	default:
		return noopIdle{}
	}
}
