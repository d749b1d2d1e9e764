package mpsc

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOfferPollFIFO(t *testing.T) {
	q := New[int](8)
	for i := 0; i < 8; i++ {
		require.True(t, q.Offer(i))
	}
	require.False(t, q.Offer(99), "queue at capacity should reject")

	for i := 0; i < 8; i++ {
		v, ok := q.Poll()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	_, ok := q.Poll()
	assert.False(t, ok, "drained queue should be empty")
}

func TestNewPanicsOnNonPowerOfTwo(t *testing.T) {
	assert.Panics(t, func() { New[int](3) })
}

func TestDrainInto(t *testing.T) {
	q := New[string](4)
	q.Offer("a")
	q.Offer("b")
	q.Offer("c")

	var got []string
	n := q.DrainInto(func(s string) bool {
		got = append(got, s)
		return true
	})

	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"a", "b", "c"}, got)

	_, ok := q.Poll()
	assert.False(t, ok)
}

func TestDrainIntoStopsEarly(t *testing.T) {
	q := New[int](4)
	q.Offer(1)
	q.Offer(2)
	q.Offer(3)

	n := q.DrainInto(func(v int) bool { return v != 2 })
	assert.Equal(t, 2, n)

	v, ok := q.Poll()
	require.True(t, ok)
	assert.Equal(t, 3, v)
}

// TestConcurrentProducers exercises the MPSC contract: many producers
// offering concurrently, one consumer polling, no item lost or duplicated.
func TestConcurrentProducers(t *testing.T) {
	const producers = 8
	const perProducer = 2000
	const capacity = 1024

	q := New[int](capacity)
	var wg sync.WaitGroup
	wg.Add(producers)

	for p := 0; p < producers; p++ {
		go func(base int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				for !q.Offer(base*perProducer + i) {
					// queue momentarily full, spin until consumer drains
				}
			}
		}(p)
	}

	seen := make(map[int]bool, producers*perProducer)
	var mu sync.Mutex
	done := make(chan struct{})

	go func() {
		defer close(done)
		want := producers * perProducer
		for len(seen) < want {
			if v, ok := q.Poll(); ok {
				mu.Lock()
				seen[v] = true
				mu.Unlock()
			}
		}
	}()

	wg.Wait()
	<-done

	assert.Len(t, seen, producers*perProducer)
}
