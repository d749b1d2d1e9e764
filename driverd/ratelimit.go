package driverd

import (
	"golang.org/x/time/rate"

	"github.com/tensorpool/tensorpool/tperr"
	"github.com/tensorpool/tensorpool/transport"
)

// RateLimitedPublication wraps a transport.Publication with a token
// bucket, so a burst of attach retries or keepalive traffic from many
// clients (attach.Table.Tick resends every RetryIntervalMs per pending
// handle) cannot monopolize the driver's own control-channel send
// budget. Offer returns a tperr.Rejected-kind error when the bucket is
// empty, the same backpressure signal a real transport's EAGAIN would
// produce, so callers already handle it without special-casing.
type RateLimitedPublication struct {
	transport.Publication
	limiter *rate.Limiter
}

// NewRateLimitedPublication paces pub to at most ratePerSec offers per
// second, allowing bursts up to burst.
func NewRateLimitedPublication(pub transport.Publication, ratePerSec float64, burst int) *RateLimitedPublication {
	return &RateLimitedPublication{Publication: pub, limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst)}
}

// Offer sends data if the token bucket allows it, else rejects without
// touching the underlying publication.
func (p *RateLimitedPublication) Offer(data []byte) error {
	if !p.limiter.Allow() {
		return tperr.New(tperr.Rejected, "driverd.RateLimitedPublication.Offer", "control channel send rate exceeded")
	}
	return p.Publication.Offer(data)
}
