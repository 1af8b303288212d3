// ============================================================================
// genqueue Admission Channel - unbounded FIFO of job ids
// ============================================================================
//
// Package: internal/admission
// File: admission.go
// Function: Hands job ids from Enqueue (many writers) to the worker loop
//           (single reader) in submission order
//
// How it works:
//   ┌──────────┐ Push(id) ┌───────────────┐ Pop(ctx) ┌─────────────┐
//   │ Enqueue  │ ───────→ │ items []JobID │ ───────→ │ Worker loop │
//   └──────────┘          └───────────────┘          └─────────────┘
//                               notify (cap 1)
//
//   - Push appends under the mutex and pokes the notify channel without blocking
//   - Pop takes the head if present, otherwise waits on notify or ctx
//   - The buffer is unbounded, so Push never blocks the caller
//
// Shutdown:
//   - Close rejects further Push calls with ErrClosed
//   - Pop keeps draining what was already admitted, then returns ErrClosed
//
// ============================================================================

package admission

import (
	"context"
	"errors"
	"sync"

	"github.com/ChuLiYu/genqueue/pkg/types"
)

// ErrClosed is returned by Push after Close, and by Pop once the channel is closed and drained.
var ErrClosed = errors.New("admission channel is closed")

// Channel is an unbounded multi-writer, single-reader FIFO.
type Channel struct {
	mu     sync.Mutex
	items  []types.JobID
	notify chan struct{}
	closed bool
}

// New creates an empty Channel.
func New() *Channel {
	return &Channel{
		items:  make([]types.JobID, 0, 16),
		notify: make(chan struct{}, 1),
	}
}

// Push appends id to the tail. It never blocks.
func (c *Channel) Push(id types.JobID) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.items = append(c.items, id)
	c.mu.Unlock()

	c.wake()
	return nil
}

// Pop removes and returns the head, waiting until one is available.
func (c *Channel) Pop(ctx context.Context) (types.JobID, error) {
	for {
		c.mu.Lock()
		if len(c.items) > 0 {
			id := c.items[0]
			c.items[0] = ""
			c.items = c.items[1:]
			c.mu.Unlock()
			return id, nil
		}
		closed := c.closed
		c.mu.Unlock()

		if closed {
			return "", ErrClosed
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-c.notify:
		}
	}
}

// Len returns the number of ids waiting to be popped.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Close stops admission. Safe to call more than once.
func (c *Channel) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.wake()
}

func (c *Channel) wake() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}
