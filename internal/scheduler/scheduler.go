// Package scheduler bounds how many remote stage calls run at once. One pool
// is shared by every active packet; a worker slot covers exactly one stage
// call from acquire to release, so no packet can starve another by holding
// slots across stages.
package scheduler

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

const (
	MinConcurrency = 1
	MaxConcurrency = 10
)

type Pool struct {
	sem      *semaphore.Weighted
	limit    int
	inFlight atomic.Int64
	peak     atomic.Int64
}

// NewPool builds a pool with the given concurrency, clamped to [1, 10].
func NewPool(limit int) *Pool {
	if limit < MinConcurrency {
		limit = MinConcurrency
	}
	if limit > MaxConcurrency {
		limit = MaxConcurrency
	}
	return &Pool{sem: semaphore.NewWeighted(int64(limit)), limit: limit}
}

func (p *Pool) Limit() int { return p.limit }

// Do runs fn under a worker slot. Acquisition is FIFO; a cancelled context
// aborts the wait without consuming a slot.
func (p *Pool) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	cur := p.inFlight.Add(1)
	for {
		peak := p.peak.Load()
		if cur <= peak || p.peak.CompareAndSwap(peak, cur) {
			break
		}
	}
	defer func() {
		p.inFlight.Add(-1)
		p.sem.Release(1)
	}()
	return fn(ctx)
}

// InFlight reports how many stage calls hold a slot right now.
func (p *Pool) InFlight() int { return int(p.inFlight.Load()) }

// Peak reports the high-water mark of concurrent stage calls. Used by tests
// asserting the concurrency bound was never breached.
func (p *Pool) Peak() int { return int(p.peak.Load()) }
