package batch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/genqueue/pkg/types"
)

// fakeSource is an in-memory job lookup
type fakeSource struct {
	mu   sync.Mutex
	jobs map[types.JobID]types.Job
}

func newFakeSource(jobs ...types.Job) *fakeSource {
	s := &fakeSource{jobs: make(map[types.JobID]types.Job)}
	for _, j := range jobs {
		s.jobs[j.ID] = j
	}
	return s
}

func (s *fakeSource) Get(id types.JobID) (types.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	return j, ok
}

func (s *fakeSource) set(id types.JobID, status types.JobStatus, progress float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.jobs[id]
	j.Status = status
	j.Progress = progress
	s.jobs[id] = j
}

func job(id string, status types.JobStatus, progress float64) types.Job {
	return types.Job{ID: types.JobID(id), Status: status, Progress: progress}
}

func TestProgressAndDone(t *testing.T) {
	src := newFakeSource(
		job("a", types.StatusRunning, 0.5),
		job("b", types.StatusFailed, 0.2),
		job("c", types.StatusQueued, 0),
	)
	b := New(src, "a", "b", "c")

	assert.InDelta(t, 0.5, b.Progress(), 1e-9)
	assert.False(t, b.Done())

	src.set("a", types.StatusSucceeded, 1)
	src.set("c", types.StatusCanceled, 0)
	assert.True(t, b.Done())
	assert.Equal(t, 1.0, b.Progress())
}

func TestEmptyBatch(t *testing.T) {
	b := New(newFakeSource())
	assert.True(t, b.Done())
	assert.Equal(t, 1.0, b.Progress())
	assert.False(t, b.Summary().Succeeded())
}

func TestUnknownIDNotDone(t *testing.T) {
	b := New(newFakeSource(), "ghost")
	assert.False(t, b.Done())
	assert.Zero(t, b.Progress())
}

func TestSummary(t *testing.T) {
	src := newFakeSource(
		job("a", types.StatusSucceeded, 1),
		job("b", types.StatusSucceeded, 1),
		job("c", types.StatusFailed, 0),
	)
	b := New(src, "a", "b")
	assert.True(t, b.Summary().Succeeded())

	b.Add("c")
	s := b.Summary()
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 2, s.Counts[types.StatusSucceeded])
	assert.Equal(t, 1, s.Counts[types.StatusFailed])
	assert.False(t, s.Succeeded())
}

func TestWait(t *testing.T) {
	src := newFakeSource(job("a", types.StatusRunning, 0.1))
	b := New(src, "a")

	go func() {
		time.Sleep(30 * time.Millisecond)
		src.set("a", types.StatusSucceeded, 1)
	}()

	var ticks []float64
	s, err := b.Wait(context.Background(), 5*time.Millisecond, func(p float64) { ticks = append(ticks, p) })
	require.NoError(t, err)
	assert.True(t, s.Succeeded())
	require.NotEmpty(t, ticks)
	assert.Equal(t, 1.0, ticks[len(ticks)-1])
}

func TestWaitContextDone(t *testing.T) {
	b := New(newFakeSource(job("a", types.StatusRunning, 0)), "a")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := b.Wait(ctx, 5*time.Millisecond, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
