package pool

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestErrorWindowCountsWithinWindow(t *testing.T) {
	w := NewErrorWindow(15 * time.Second)
	start := time.Unix(1_000, 0)

	assert.True(t, w.Allow(start, 2))

	w.Add(start)
	assert.Equal(t, int64(1), w.Count(start))
	assert.True(t, w.Allow(start, 2))

	w.Add(start.Add(3 * time.Second))
	assert.Equal(t, int64(2), w.Count(start.Add(3*time.Second)))
	assert.False(t, w.Allow(start.Add(3*time.Second), 2))

	// first event ages out, second is still inside the window
	assert.Equal(t, int64(1), w.Count(start.Add(15*time.Second)))
	assert.True(t, w.Allow(start.Add(15*time.Second), 2))

	assert.Equal(t, int64(0), w.Count(start.Add(18*time.Second)))
}

func TestErrorWindowBucketReuse(t *testing.T) {
	w := NewErrorWindow(2 * time.Second)
	start := time.Unix(500, 0)

	w.Add(start)
	w.Add(start)
	// same bucket index two windows later must start from zero
	later := start.Add(4 * time.Second)
	w.Add(later)

	assert.Equal(t, int64(1), w.Count(later))
}

func TestErrorWindowConcurrentAdds(t *testing.T) {
	w := NewErrorWindow(5 * time.Second)
	now := time.Unix(2_000, 0)

	// the bucket still holds an older second and has to roll over exactly once
	w.Add(now.Add(-5 * time.Second))

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				w.Add(now)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(3200), w.Count(now))

	// a late event for the old second does not take the bucket back
	w.Add(now.Add(-5 * time.Second))
	assert.Equal(t, int64(3200), w.Count(now))
}

func TestErrorWindowRoundsUp(t *testing.T) {
	w := NewErrorWindow(1500 * time.Millisecond)
	assert.Len(t, w.buckets, 2)

	w = NewErrorWindow(0)
	assert.Len(t, w.buckets, 1)
}
