package runners

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ChuLiYu/genqueue/internal/queue"
)

// KindSleep simulates provider work in fixed steps.
const KindSleep = "sleep"

// NewSleep builds a simulated runner.
//
// Params:
//   - steps: number of progress steps (default 5)
//   - step: duration per step, "200ms" or integer milliseconds (default 100ms)
//   - fail_attempts: how many leading attempts fail (default 0)
//   - fail_message: error text for failing attempts
func NewSleep(params map[string]any) (queue.Runner, error) {
	steps, err := intParam(params, "steps", 5)
	if err != nil {
		return nil, err
	}
	if steps < 1 {
		return nil, errors.New("steps must be at least 1")
	}
	step, err := durationParam(params, "step", 100*time.Millisecond)
	if err != nil {
		return nil, err
	}
	failAttempts, err := intParam(params, "fail_attempts", 0)
	if err != nil {
		return nil, err
	}
	failMessage, err := stringParam(params, "fail_message", "simulated provider failure")
	if err != nil {
		return nil, err
	}

	var calls atomic.Int32
	return func(ctx context.Context, progress queue.ProgressFunc) error {
		attempt := int(calls.Add(1))
		timer := time.NewTimer(step)
		defer timer.Stop()

		for i := 1; i <= steps; i++ {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
			}

			if attempt <= failAttempts && i == (steps+1)/2 {
				return fmt.Errorf("%s (attempt %d)", failMessage, attempt)
			}
			progress(float64(i) / float64(steps))
			timer.Reset(step)
		}
		return nil
	}, nil
}
