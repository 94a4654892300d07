package budget

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RejectsNonPositive(t *testing.T) {
	_, err := New(0)
	assert.Error(t, err)

	_, err = New(-1)
	assert.Error(t, err)
}

func TestBudget_AcquireRelease(t *testing.T) {
	b, err := New(100)
	require.NoError(t, err)

	assert.True(t, b.TryAcquire(60))
	assert.True(t, b.TryAcquire(40))
	assert.False(t, b.TryAcquire(1), "budget is full")
	assert.Equal(t, int64(100), b.InUse())

	b.Release(60)
	assert.True(t, b.TryAcquire(50))

	stats := b.Stats()
	assert.Equal(t, int64(90), stats.InUse)
	assert.Equal(t, int64(3), stats.Acquisitions)
	assert.Equal(t, int64(1), stats.Releases)
	assert.Equal(t, int64(1), stats.Rejections)
	assert.Equal(t, int64(2), stats.Outstanding())
}

func TestBudget_OversizedRequest(t *testing.T) {
	b, err := New(10)
	require.NoError(t, err)

	assert.False(t, b.TryAcquire(11))
	assert.False(t, b.TryAcquire(-1))
	assert.Equal(t, int64(2), b.Stats().Rejections)
	assert.Zero(t, b.InUse())
}

func TestBudget_OverReleaseIgnored(t *testing.T) {
	b, err := New(10)
	require.NoError(t, err)

	require.True(t, b.TryAcquire(5))
	b.Release(5)
	b.Release(5)

	stats := b.Stats()
	assert.Zero(t, stats.InUse)
	assert.Equal(t, int64(1), stats.Releases)
	assert.Equal(t, int64(1), stats.OverReleases)
	assert.Equal(t, int64(10), stats.Capacity)
}

func TestBudget_Concurrent(t *testing.T) {
	b, err := New(1 << 20)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 500 {
				if b.TryAcquire(64) {
					b.Release(64)
				}
			}
		}()
	}
	wg.Wait()

	stats := b.Stats()
	assert.Zero(t, stats.InUse)
	assert.Zero(t, stats.Outstanding())
	assert.Zero(t, stats.OverReleases)
}
