// Package batch aggregates the state of a group of jobs the way a batch
// orchestrator does: enqueue N jobs, then poll each one.
package batch

import (
	"context"
	"sync"
	"time"

	"github.com/ChuLiYu/genqueue/pkg/types"
)

// DefaultPollInterval is used by Wait when poll is not positive.
const DefaultPollInterval = 100 * time.Millisecond

// Source looks up a job by id. *queue.Queue satisfies it.
type Source interface {
	Get(id types.JobID) (types.Job, bool)
}

// Batch is a client-side grouping of job ids.
type Batch struct {
	src Source

	mu  sync.Mutex
	ids []types.JobID
}

// New creates a batch over src.
func New(src Source, ids ...types.JobID) *Batch {
	b := &Batch{src: src}
	b.Add(ids...)
	return b
}

// Add appends ids to the batch.
func (b *Batch) Add(ids ...types.JobID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ids = append(b.ids, ids...)
}

// IDs returns the ids in insertion order.
func (b *Batch) IDs() []types.JobID {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]types.JobID, len(b.ids))
	copy(out, b.ids)
	return out
}

// Jobs returns the current state of every known job in the batch.
func (b *Batch) Jobs() []types.Job {
	ids := b.IDs()
	out := make([]types.Job, 0, len(ids))
	for _, id := range ids {
		if job, ok := b.src.Get(id); ok {
			out = append(out, job)
		}
	}
	return out
}

// Progress averages job progress. Terminal jobs count as complete.
// An empty batch reports 1.
func (b *Batch) Progress() float64 {
	ids := b.IDs()
	if len(ids) == 0 {
		return 1
	}
	var sum float64
	for _, id := range ids {
		job, ok := b.src.Get(id)
		switch {
		case !ok:
		case job.Status.IsTerminal():
			sum++
		default:
			sum += job.Progress
		}
	}
	return sum / float64(len(ids))
}

// Done reports whether every job in the batch is terminal.
// Unknown ids count as not done.
func (b *Batch) Done() bool {
	for _, id := range b.IDs() {
		job, ok := b.src.Get(id)
		if !ok || !job.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// Summary counts jobs per status.
type Summary struct {
	Total  int                     `json:"total"`
	Counts map[types.JobStatus]int `json:"counts"`
}

// Succeeded reports whether every job succeeded.
func (s Summary) Succeeded() bool {
	return s.Total > 0 && s.Counts[types.StatusSucceeded] == s.Total
}

// Summary returns per-status counts.
func (b *Batch) Summary() Summary {
	jobs := b.Jobs()
	s := Summary{Total: len(b.IDs()), Counts: make(map[types.JobStatus]int)}
	for _, job := range jobs {
		s.Counts[job.Status]++
	}
	return s
}

// Wait polls until Done or ctx ends. onTick, if set, receives the aggregate
// progress after each poll.
func (b *Batch) Wait(ctx context.Context, poll time.Duration, onTick func(float64)) (Summary, error) {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		if onTick != nil {
			onTick(b.Progress())
		}
		if b.Done() {
			return b.Summary(), nil
		}
		select {
		case <-ctx.Done():
			return b.Summary(), ctx.Err()
		case <-ticker.C:
		}
	}
}
