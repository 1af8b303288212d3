package queue

import (
	"log/slog"
	"time"

	"github.com/ChuLiYu/genqueue/internal/events"
	"github.com/ChuLiYu/genqueue/internal/history"
)

// Strategy computes the delay before the retry that follows a failed attempt.
type Strategy interface {
	Delay(attempt int) time.Duration
}

// Constant always waits the same interval.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) {
		if l != nil {
			q.log = l
		}
	}
}

// WithHistory sets the history backend. Without it nothing is persisted.
func WithHistory(s history.Store) Option {
	return func(q *Queue) { q.store = s }
}

// WithBus replaces the internal event bus.
func WithBus(b *events.Bus) Option {
	return func(q *Queue) {
		if b != nil {
			q.bus = b
		}
	}
}

// WithMiddleware appends attempt middleware. The first one is the outermost.
func WithMiddleware(mws ...Middleware) Option {
	return func(q *Queue) { q.middleware = append(q.middleware, mws...) }
}
