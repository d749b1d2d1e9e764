package feed

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// SyntheticSymbol is one random-walk price series a Synthetic generator
// drives, adapted from exchanges/mock.go's hardcoded BTC/ETH walk into a
// reusable, per-symbol configuration.
type SyntheticSymbol struct {
	Route        Route
	StartMid     float64
	MinSpread    float64
	SpreadRange  float64
	MinSize      float64
	SizeRange    float64
	WalkFraction float64 // max fractional move per tick, e.g. 0.0001 = ±0.01%
}

// Synthetic generates BBO updates for streams with no reachable
// upstream, a random walk around each symbol's starting mid price with
// a realistic spread and size, continuing exchanges/mock.go's
// MockFeeder in generalized form (arbitrary symbol set, arbitrary ring
// routes, instead of one exchange id and two hardcoded coins).
type Synthetic struct {
	Name     string
	Symbols  map[string]*SyntheticSymbol
	Interval time.Duration
	Seed     int64

	MetaVersion uint32
}

// Run drives the random walk until ctx is canceled, publishing one BBO
// per symbol per tick.
func (s *Synthetic) Run(ctx context.Context) error {
	interval := s.Interval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	rng := rand.New(rand.NewSource(s.Seed))
	mids := make(map[string]float64, len(s.Symbols))
	for name, sym := range s.Symbols {
		mids[name] = sym.StartMid
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			tsNs := uint64(time.Now().UnixNano())
			for name, sym := range s.Symbols {
				mid := mids[name]
				mid += mid * (rng.Float64() - 0.5) * 2 * sym.WalkFraction
				mids[name] = mid

				spread := sym.MinSpread + rng.Float64()*sym.SpreadRange
				bidSz := sym.MinSize + rng.Float64()*sym.SizeRange
				askSz := sym.MinSize + rng.Float64()*sym.SizeRange

				bbo := BBO{
					BidPrice: round2(mid - spread/2),
					BidSize:  bidSz,
					AskPrice: round2(mid + spread/2),
					AskSize:  askSz,
				}

				if _, err := sym.Route.Publisher.Publish(BBOFrame(sym.Route.PoolID, tsNs, s.MetaVersion, bbo)); err != nil {
					return err
				}
			}
		}
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
