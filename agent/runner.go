// Package agent implements the generic worker-loop runner from
// spec.md §4.10: a goroutine that repeatedly calls a do_work function
// and idles between calls according to one of five strategies.
//
// original_source/include/tensor_pool/common/tp_agent.h declares the
// full five-strategy tp_agent_idle_strategy_t enum and a
// tp_agent_idle_strategy_config_t carrying sleep_ns/max_spins/
// max_yields/min_park_period_ns/max_park_period_ns, but
// src/common/tp_agent.c's tp_agent_runner_init only accepts a single
// idle_sleep_ns parameter and hardcodes aeron_idle_strategy_sleeping_idle
// — the four non-sleeping strategies are declared but never implemented
// in the retrieved C body. This package implements all five from
// spec.md §4.10's prose, keeping tp_agent.h's naming and the
// init/start/stop/close/do_work lifecycle shape.
package agent

import (
	"sync"

	"github.com/tensorpool/tensorpool/tperr"
)

// DoWorkFunc performs one unit of work and reports how much work was
// done (0 means idle). Returning an error stops the runner.
type DoWorkFunc func() (int, error)

// OnCloseFunc is invoked once, on the goroutine that calls Close, after
// the work loop has exited.
type OnCloseFunc func()

type state int

const (
	stateNotStarted state = iota
	stateRunning
	stateStopped
	stateClosed
)

// Runner drives a DoWorkFunc on a dedicated goroutine until stopped,
// applying an IdleStrategy whenever a pass returns zero work. Start,
// Stop, and Close are all idempotent; a closed Runner cannot be
// restarted, per spec.md §4.10.
type Runner struct {
	roleName string
	doWork   DoWorkFunc
	onClose  OnCloseFunc
	idle     idler

	mu       sync.Mutex
	state    state
	stopCh   chan struct{}
	doneCh   chan struct{}
	runErr   error
}

// New builds a Runner for roleName (used only for diagnostics) driving
// doWork with the given idle strategy and configuration. onClose may be
// nil.
func New(roleName string, doWork DoWorkFunc, onClose OnCloseFunc, strategy IdleStrategy, cfg IdleConfig) (*Runner, error) {
	if doWork == nil {
		return nil, tperr.New(tperr.Invalid, "agent.New", "doWork must not be nil")
	}
	return &Runner{
		roleName: roleName,
		doWork:   doWork,
		onClose:  onClose,
		idle:     newIdler(strategy, cfg),
	}, nil
}

// RoleName returns the diagnostic name passed to New.
func (r *Runner) RoleName() string {
	return r.roleName
}

// Start launches the work loop on its own goroutine. Calling Start
// again while already running is a no-op; calling Start on a closed
// Runner returns an error.
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == stateClosed {
		return tperr.New(tperr.Invalid, "agent.Start", "runner is closed")
	}
	if r.state == stateRunning {
		return nil
	}

	r.state = stateRunning
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	go r.run(r.stopCh, r.doneCh)
	return nil
}

func (r *Runner) run(stopCh chan struct{}, doneCh chan struct{}) {
	defer close(doneCh)
	for {
		select {
		case <-stopCh:
			return
		default:
		}

		n, err := r.doWork()
		if err != nil {
			r.mu.Lock()
			r.runErr = err
			r.mu.Unlock()
			return
		}
		r.idle.idle(n)
	}
}

// Stop signals the work loop to exit and blocks until it has. Stop is
// idempotent and safe to call on a Runner that was never started.
func (r *Runner) Stop() error {
	r.mu.Lock()
	if r.state != stateRunning {
		r.mu.Unlock()
		return nil
	}
	stopCh, doneCh := r.stopCh, r.doneCh
	r.state = stateStopped
	r.mu.Unlock()

	close(stopCh)
	<-doneCh
	return nil
}

// Close stops the runner if running, invokes onClose exactly once, and
// marks the Runner unusable for any further Start calls. Close is
// idempotent.
func (r *Runner) Close() error {
	if err := r.Stop(); err != nil {
		return err
	}

	r.mu.Lock()
	if r.state == stateClosed {
		r.mu.Unlock()
		return nil
	}
	r.state = stateClosed
	onClose := r.onClose
	r.mu.Unlock()

	if onClose != nil {
		onClose()
	}
	return nil
}

// Err returns the error that stopped the work loop, if any.
func (r *Runner) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runErr
}
