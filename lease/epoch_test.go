package lease

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tensorpool/tensorpool/clock"
)

func TestStreamEpochBumpUsesWallClockWhenAhead(t *testing.T) {
	clk := &clock.Fake{Real: 1000}
	var e StreamEpoch
	e.Epoch = 5

	e.Bump(clk)
	assert.EqualValues(t, 1000, e.Epoch)
}

func TestStreamEpochBumpIncrementsWhenClockNotAhead(t *testing.T) {
	clk := &clock.Fake{Real: 5}
	var e StreamEpoch
	e.Epoch = 1000

	e.Bump(clk)
	assert.EqualValues(t, 1001, e.Epoch)
}

func TestStreamEpochBumpAlwaysAdvances(t *testing.T) {
	clk := &clock.Fake{Real: 100}
	var e StreamEpoch
	for i := 0; i < 5; i++ {
		prev := e.Epoch
		e.Bump(clk)
		assert.Greater(t, e.Epoch, prev)
	}
}
