package queue

import (
	"math"

	"github.com/ChuLiYu/genqueue/internal/events"
	"github.com/ChuLiYu/genqueue/pkg/types"
)

// ProgressFunc receives progress reports from a runner. Values are clamped to [0,1].
type ProgressFunc func(float64)

// ClampProgress coerces NaN to 0 and limits v to [0,1].
func ClampProgress(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// progressSink returns the ProgressFunc handed to one attempt. Reports are
// dropped once that attempt is no longer the job's running attempt.
func (q *Queue) progressSink(id types.JobID, attempt int) ProgressFunc {
	return func(v float64) {
		v = ClampProgress(v)
		q.commitWith(id, func(j *types.Job) bool {
			if j.Attempt != attempt || j.Status != types.StatusRunning {
				return false
			}
			if j.Progress == v {
				return false
			}
			j.Progress = v
			return true
		}, events.JobProgress, false)
	}
}
