package hooks

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrEmptyHookName is returned by Execute when called with an empty Point.
var ErrEmptyHookName = errors.New("hooks: empty hook name")

// BeforeFunc observes a hook point before its task runs.
type BeforeFunc func(ctx context.Context, info *Info) error

// AfterFunc observes a hook point after its task succeeded, receiving the
// task's result.
type AfterFunc func(ctx context.Context, info *Info, result any) error

// Task is the unit of work wrapped by a hook point.
type Task func(ctx context.Context) (any, error)

// Phase identifies the chain an observer belongs to.
type Phase string

const (
	PhaseBefore Phase = "before"
	PhaseAfter  Phase = "after"
)

// ObserverError reports the observer that stopped a chain.
type ObserverError struct {
	Point Point
	Phase Phase
	// Index is the observer's position in its chain.
	Index int
	Err   error
}

func (e *ObserverError) Error() string {
	return fmt.Sprintf("hook %s.%s[%d]: %v", e.Point, e.Phase, e.Index, e.Err)
}

func (e *ObserverError) Unwrap() error { return e.Err }

type chains struct {
	before []BeforeFunc
	after  []AfterFunc
}

// Registry maps hook points to their observer chains. Points are created on
// first registration and never removed. The zero value is not usable; call New.
type Registry struct {
	mu     sync.RWMutex
	points map[Point]*chains
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{points: make(map[Point]*chains)}
}

// Before appends fn to the before chain of p. A nil fn is ignored.
func (r *Registry) Before(p Point, fn BeforeFunc) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.chainsLocked(p)
	c.before = append(c.before, fn)
}

// After appends fn to the after chain of p. A nil fn is ignored.
func (r *Registry) After(p Point, fn AfterFunc) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.chainsLocked(p)
	c.after = append(c.after, fn)
}

// Len returns the number of before and after observers registered for p.
func (r *Registry) Len(p Point) (before, after int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.points[p]; ok {
		return len(c.before), len(c.after)
	}
	return 0, 0
}

// Execute runs the before chain of p, then task, then the after chain, and
// returns task's result. Observers registered while Execute is running are
// picked up by the next call.
func (r *Registry) Execute(ctx context.Context, p Point, task Task, info *Info) (any, error) {
	if p == "" {
		return nil, ErrEmptyHookName
	}
	if info == nil {
		info = &Info{}
	}

	before, after := r.snapshot(p)

	for i, fn := range before {
		if err := fn(ctx, info); err != nil {
			return nil, &ObserverError{Point: p, Phase: PhaseBefore, Index: i, Err: err}
		}
	}

	var result any
	if task != nil {
		var err error
		if result, err = task(ctx); err != nil {
			return result, err
		}
	}

	for i, fn := range after {
		if err := fn(ctx, info, result); err != nil {
			return result, &ObserverError{Point: p, Phase: PhaseAfter, Index: i, Err: err}
		}
	}

	return result, nil
}

func (r *Registry) snapshot(p Point) ([]BeforeFunc, []AfterFunc) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.points[p]
	if !ok {
		return nil, nil
	}
	// Chains are append-only, so the returned slices stay valid.
	return c.before, c.after
}

func (r *Registry) chainsLocked(p Point) *chains {
	c, ok := r.points[p]
	if !ok {
		c = &chains{}
		r.points[p] = c
	}
	return c
}
