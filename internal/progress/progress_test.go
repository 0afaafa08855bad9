package progress

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_ConcurrentCompleteIsMonotonic(t *testing.T) {
	const workers, perWorker = 16, 250
	total := workers * perWorker

	var mu sync.Mutex
	var seen []int64
	tr := NewTracker(total, SinkFunc(func(completed, tot int64) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, int64(total), tot)
		seen = append(seen, completed)
	}))

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				tr.Complete()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int64(total), tr.Completed())
	require.InDelta(t, 1.0, tr.Ratio(), 1e-9)
	require.NotEmpty(t, seen)
	for i := 1; i < len(seen); i++ {
		require.Greater(t, seen[i], seen[i-1], "sink saw a non-increasing value at %d", i)
	}
	require.Equal(t, int64(total), seen[len(seen)-1])
}

func TestTracker_EmptyBatch(t *testing.T) {
	tr := NewTracker(0, nil)
	assert.Equal(t, int64(0), tr.Total())
	assert.Equal(t, 1.0, tr.Ratio())
}

func TestMulti(t *testing.T) {
	var a, b int64
	s := Multi(SinkFunc(func(c, _ int64) { a = c }), nil, SinkFunc(func(c, _ int64) { b = c }))
	s.Update(3, 4)
	assert.Equal(t, int64(3), a)
	assert.Equal(t, int64(3), b)
}

func TestPrometheusSink(t *testing.T) {
	reg := prometheus.NewRegistry()
	s, err := NewPrometheusSink(reg, "backup")
	require.NoError(t, err)
	s.Update(2, 5)

	// A second sink on the same registry reuses the collectors.
	again, err := NewPrometheusSink(reg, "restore")
	require.NoError(t, err)
	again.Update(1, 1)

	assert.Equal(t, 2.0, testutil.ToFloat64(s.completed.WithLabelValues("backup")))
	assert.Equal(t, 5.0, testutil.ToFloat64(s.total.WithLabelValues("backup")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.completed.WithLabelValues("restore")))
}
