// Package budget provides a byte budget for owned message copies.
//
// A Budget bounds the memory held by clones that are waiting for delivery
// confirmation. Acquisition never blocks: when the budget cannot cover a
// request, TryAcquire reports false and the caller treats it as resource
// exhaustion.
package budget

import (
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Allocator hands out and takes back byte charges
type Allocator interface {
	TryAcquire(n int64) bool
	Release(n int64)
}

// Stats is a snapshot of budget accounting
type Stats struct {
	Capacity     int64
	InUse        int64
	Acquisitions int64
	Releases     int64
	Rejections   int64
	OverReleases int64
}

// Outstanding returns acquisitions not yet matched by a release
func (s Stats) Outstanding() int64 {
	return s.Acquisitions - s.Releases
}

// Budget is a semaphore-backed Allocator that counts every operation
type Budget struct {
	sem      *semaphore.Weighted
	capacity int64

	inUse        atomic.Int64
	acquisitions atomic.Int64
	releases     atomic.Int64
	rejections   atomic.Int64
	overReleases atomic.Int64
}

// New creates a budget of capacity bytes
func New(capacity int64) (*Budget, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("budget capacity must be positive, got %d", capacity)
	}
	return &Budget{
		sem:      semaphore.NewWeighted(capacity),
		capacity: capacity,
	}, nil
}

// TryAcquire charges n bytes if the budget can cover them
func (b *Budget) TryAcquire(n int64) bool {
	if n < 0 || n > b.capacity || !b.sem.TryAcquire(n) {
		b.rejections.Add(1)
		return false
	}
	b.inUse.Add(n)
	b.acquisitions.Add(1)
	return true
}

// Release returns n bytes. Releasing more than is in use is counted and
// ignored instead of corrupting the semaphore.
func (b *Budget) Release(n int64) {
	for {
		current := b.inUse.Load()
		if n < 0 || n > current {
			b.overReleases.Add(1)
			return
		}
		if b.inUse.CompareAndSwap(current, current-n) {
			break
		}
	}
	b.sem.Release(n)
	b.releases.Add(1)
}

// InUse returns the bytes currently charged
func (b *Budget) InUse() int64 { return b.inUse.Load() }

// Capacity returns the total budget size
func (b *Budget) Capacity() int64 { return b.capacity }

// Stats returns a snapshot of the counters
func (b *Budget) Stats() Stats {
	return Stats{
		Capacity:     b.capacity,
		InUse:        b.inUse.Load(),
		Acquisitions: b.acquisitions.Load(),
		Releases:     b.releases.Load(),
		Rejections:   b.rejections.Load(),
		OverReleases: b.overReleases.Load(),
	}
}
