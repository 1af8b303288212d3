package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ChuLiYu/genqueue/internal/events"
	"github.com/ChuLiYu/genqueue/pkg/types"
)

// execute runs the attempt loop for one job. It is called with a gate permit
// held and never returns an error: every outcome is recorded on the job.
func (q *Queue) execute(id types.JobID) {
	log := q.log.With("job_id", id)

	h := q.lookupHandle(id)
	if h == nil || h.runner == nil {
		msg := fmt.Sprintf("%s for job %s", ErrMissingExecutor, id)
		if _, ok := q.commit(id, func(j *types.Job) bool {
			return markTerminal(j, types.StatusFailed, msg, q.now())
		}, events.JobFailed); ok {
			log.Warn("job failed without running", "error", msg)
		}
		return
	}
	defer q.dropHandle(id)

	for {
		job, ok := q.commit(id, q.startAttempt, events.JobStarted)
		if !ok {
			// terminal or rejected; nothing left to run
			return
		}
		attempt := job.Attempt
		log.Debug("attempt started", "attempt", attempt, "max_attempts", job.MaxAttempts)

		err := q.runAttempt(h, job)

		switch {
		case err == nil:
			q.commit(id, func(j *types.Job) bool {
				j.Progress = 1
				return markTerminal(j, types.StatusSucceeded, "", q.now())
			}, events.JobSucceeded)
			log.Info("job succeeded", "attempt", attempt)
			return

		case isCancellation(h.ctx, err):
			q.finishCanceled(id)
			log.Info("job canceled", "attempt", attempt)
			return

		case attempt >= job.MaxAttempts:
			msg := err.Error()
			q.commit(id, func(j *types.Job) bool {
				return markTerminal(j, types.StatusFailed, msg, q.now())
			}, events.JobFailed)
			log.Warn("job failed", "attempt", attempt, "error", msg)
			return
		}

		msg := err.Error()
		q.commit(id, func(j *types.Job) bool {
			j.Status = types.StatusRetrying
			j.Error = msg
			return true
		}, events.JobRetrying)

		delay := q.backoff.Delay(attempt)
		log.Debug("attempt failed, retrying", "attempt", attempt, "delay", delay, "error", msg)

		if !sleepCtx(h.ctx, delay) {
			q.finishCanceled(id)
			log.Info("job canceled during retry delay", "attempt", attempt)
			return
		}
	}
}

// startAttempt moves a job into its next running attempt.
// Progress is carried over from the previous attempt until the runner reports.
func (q *Queue) startAttempt(j *types.Job) bool {
	if j.Attempt >= j.MaxAttempts {
		return false
	}
	now := q.now()
	j.Attempt++
	j.Error = ""
	j.Status = types.StatusRunning
	if j.StartedAt == nil {
		j.StartedAt = &now
	}
	return true
}

// runAttempt invokes the runner through the middleware chain.
func (q *Queue) runAttempt(h *handle, job types.Job) error {
	progress := q.progressSink(job.ID, job.Attempt)
	final := func(ctx context.Context) error {
		return h.runner(ctx, progress)
	}
	return Chain(q.middleware...)(h.ctx, job, final)
}

func (q *Queue) finishCanceled(id types.JobID) {
	q.commit(id, func(j *types.Job) bool {
		return markTerminal(j, types.StatusCanceled, types.CanceledMessage, q.now())
	}, events.JobCanceled)
}

// markTerminal sets a terminal status. CompletedAt is only ever written here.
func markTerminal(j *types.Job, status types.JobStatus, msg string, now time.Time) bool {
	if j.Status.IsTerminal() {
		return false
	}
	j.Status = status
	j.Error = msg
	j.CompletedAt = &now
	return true
}

// isCancellation reports whether a runner error means the job was canceled.
// A runner that returns any error after its job context was canceled counts
// as having observed the cancellation.
func isCancellation(jobCtx context.Context, err error) bool {
	if errors.Is(err, ErrCanceled) || errors.Is(err, context.Canceled) {
		return true
	}
	return jobCtx.Err() != nil
}

// sleepCtx waits for d or until ctx is done. It returns false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
