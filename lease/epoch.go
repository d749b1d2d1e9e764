package lease

import "github.com/tensorpool/tensorpool/clock"

// StreamEpoch tracks the epoch counter for one stream's shared-memory
// generation, per spec.md §4.2/§4.3. A new epoch means a fresh header
// ring and payload pool files. The driver sets the epoch when it first
// provisions a stream and bumps it when the stream's producer lease ends
// (expiry or detach), so stale consumers can detect they're looking at a
// torn-down generation; a producer attaching to an already provisioned
// stream does not bump it. Mirrors tp_driver_stream_state_t's
// epoch/epoch_created_ns fields and tp_driver_bump_epoch.
type StreamEpoch struct {
	Epoch          uint64
	EpochCreatedNs int64
}

// Bump advances epoch forward. tp_driver_bump_epoch prefers the current
// wall-clock time as the new epoch (so epochs roughly correlate with
// when they were created) but falls back to a simple increment if clock
// time hasn't advanced past the current epoch value, guaranteeing
// forward progress even under a stalled or rewound clock.
func (e *StreamEpoch) Bump(clk clock.Clock) {
	now := clk.NowRealtimeNS()
	if now <= int64(e.Epoch) {
		e.Epoch++
	} else {
		e.Epoch = uint64(now)
	}
}

// MarkCreated records when the shared-memory region for the current
// epoch was provisioned.
func (e *StreamEpoch) MarkCreated(clk clock.Clock) {
	e.EpochCreatedNs = clk.NowNS()
}
