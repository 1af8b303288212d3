// Package gate bounds how many job attempts may execute at once.
package gate

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// DefaultLimit is the number of attempts allowed to run concurrently.
const DefaultLimit = 2

// Gate is a counting semaphore with N permits.
type Gate struct {
	sem   *semaphore.Weighted
	limit int
	inUse atomic.Int64
}

// New creates a Gate with limit permits. A limit below 1 is treated as 1.
func New(limit int) *Gate {
	if limit < 1 {
		limit = 1
	}
	return &Gate{
		sem:   semaphore.NewWeighted(int64(limit)),
		limit: limit,
	}
}

// Acquire blocks until a permit is free or ctx is done.
// Waiters are served in the order they called Acquire.
func (g *Gate) Acquire(ctx context.Context) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	g.inUse.Add(1)
	return nil
}

// Release returns a permit.
func (g *Gate) Release() {
	g.inUse.Add(-1)
	g.sem.Release(1)
}

// Limit returns the number of permits.
func (g *Gate) Limit() int { return g.limit }

// InUse returns the number of permits currently held.
func (g *Gate) InUse() int { return int(g.inUse.Load()) }
