// Package runners builds queue runners from declarative specs, so jobs can be
// submitted over HTTP or from a job file.
package runners

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/ChuLiYu/genqueue/internal/queue"
)

// ErrUnknownKind is returned by Build for an unregistered kind.
var ErrUnknownKind = errors.New("unknown runner kind")

// Spec describes a runner.
type Spec struct {
	Kind   string         `json:"kind" yaml:"kind" validate:"required"`
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// Factory creates a runner from params. Each call returns a fresh runner,
// so per-job state (like attempt counters) is not shared between jobs.
type Factory func(params map[string]any) (queue.Runner, error)

// Registry maps runner kinds to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Default returns a registry with the built-in kinds.
func Default() *Registry {
	r := NewRegistry()
	r.Register(KindSleep, NewSleep)
	r.Register(KindExec, NewExec)
	return r
}

// Register adds or replaces a factory.
func (r *Registry) Register(kind string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = f
}

// Kinds lists registered kinds in sorted order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for k := range r.factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Build creates a runner for spec.
func (r *Registry) Build(spec Spec) (queue.Runner, error) {
	r.mu.RLock()
	f, ok := r.factories[spec.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, spec.Kind)
	}
	runner, err := f(spec.Params)
	if err != nil {
		return nil, fmt.Errorf("build %s runner: %w", spec.Kind, err)
	}
	return runner, nil
}

// ============================================================================
// param helpers
// ============================================================================

// intParam reads an integer that may have been decoded from JSON (float64),
// YAML (int) or a string.
func intParam(params map[string]any, key string, def int) (int, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("param %s: %v is not an integer", key, n)
		}
		return int(n), nil
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, fmt.Errorf("param %s: %w", key, err)
		}
		return i, nil
	}
	return 0, fmt.Errorf("param %s: unsupported type %T", key, v)
}

func stringParam(params map[string]any, key, def string) (string, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("param %s: expected string, got %T", key, v)
	}
	return s, nil
}

// durationParam accepts "1.5s" style strings or integer milliseconds.
func durationParam(params map[string]any, key string, def time.Duration) (time.Duration, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return def, nil
	}
	if s, ok := v.(string); ok {
		if d, err := time.ParseDuration(s); err == nil {
			return d, nil
		}
	}
	ms, err := intParam(params, key, 0)
	if err != nil {
		return 0, err
	}
	return time.Duration(ms) * time.Millisecond, nil
}
