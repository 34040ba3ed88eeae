// Package reactive holds observable values. Changing a value marks every
// subscribed scheduler job dirty, so consumers recompute once per batch of
// changes instead of once per change.
package reactive

import (
	"sync"

	"github.com/recera/livecanvas/pkg/scheduler"
)

// Scheduler is the part of scheduler.Loop that values notify.
type Scheduler interface {
	MarkDirty(job *scheduler.Job)
}

// Source is anything a Computed can depend on.
type Source interface {
	Watch(fn func()) (stop func())
}

// Signal is the interface for reactive values.
type Signal[T any] interface {
	Get() T
	Subscribe(job *scheduler.Job)
	Unsubscribe(job *scheduler.Job)
}

// dependents tracks the jobs and watchers of one value.
type dependents struct {
	mu       sync.RWMutex
	jobs     map[uint32]*scheduler.Job
	watchers map[int]func()
	nextID   int
}

func newDependents() dependents {
	return dependents{
		jobs:     make(map[uint32]*scheduler.Job),
		watchers: make(map[int]func()),
	}
}

func (d *dependents) subscribe(job *scheduler.Job) {
	if job == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.jobs[job.ID()] = job
}

func (d *dependents) unsubscribe(job *scheduler.Job) {
	if job == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.jobs, job.ID())
}

func (d *dependents) watch(fn func()) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextID
	d.nextID++
	d.watchers[id] = fn
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.watchers, id)
	}
}

func (d *dependents) count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.jobs) + len(d.watchers)
}

// notify runs watchers and marks jobs dirty outside the lock.
func (d *dependents) notify(sched Scheduler) {
	d.mu.RLock()
	jobs := make([]*scheduler.Job, 0, len(d.jobs))
	for _, job := range d.jobs {
		jobs = append(jobs, job)
	}
	watchers := make([]func(), 0, len(d.watchers))
	for _, fn := range d.watchers {
		watchers = append(watchers, fn)
	}
	d.mu.RUnlock()

	for _, fn := range watchers {
		fn()
	}
	if sched == nil {
		return
	}
	for _, job := range jobs {
		sched.MarkDirty(job)
	}
}

// State represents a reactive state value.
type State[T any] struct {
	value T
	mu    sync.RWMutex

	deps      dependents
	scheduler Scheduler
}

var _ Signal[int] = (*State[int])(nil)

// NewState creates a new reactive state.
func NewState[T any](initial T, sched Scheduler) *State[T] {
	return &State[T]{
		value:     initial,
		deps:      newDependents(),
		scheduler: sched,
	}
}

// Get returns the current value.
func (s *State[T]) Get() T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}

// Set updates the value and marks dependent jobs dirty.
func (s *State[T]) Set(value T) {
	s.mu.Lock()
	s.value = value
	s.mu.Unlock()

	s.deps.notify(s.scheduler)
}

// Update atomically reads, modifies, and writes the value.
func (s *State[T]) Update(fn func(T) T) {
	s.mu.Lock()
	s.value = fn(s.value)
	s.mu.Unlock()

	s.deps.notify(s.scheduler)
}

// Subscribe marks job dirty on every change.
func (s *State[T]) Subscribe(job *scheduler.Job) {
	s.deps.subscribe(job)
}

// Unsubscribe removes a job.
func (s *State[T]) Unsubscribe(job *scheduler.Job) {
	s.deps.unsubscribe(job)
}

// Watch calls fn synchronously after every change.
func (s *State[T]) Watch(fn func()) func() {
	return s.deps.watch(fn)
}

// Dependents returns the number of subscribed jobs and watchers.
func (s *State[T]) Dependents() int {
	return s.deps.count()
}

// Computed represents a memoized value derived from other sources.
type Computed[T any] struct {
	compute func() T
	value   T
	valid   bool
	mu      sync.Mutex

	stops     []func()
	deps      dependents
	scheduler Scheduler
}

var _ Signal[int] = (*Computed[int])(nil)

// NewComputed creates a computed value that is invalidated whenever one of
// sources changes.
func NewComputed[T any](compute func() T, sched Scheduler, sources ...Source) *Computed[T] {
	c := &Computed[T]{
		compute:   compute,
		deps:      newDependents(),
		scheduler: sched,
	}
	for _, src := range sources {
		c.stops = append(c.stops, src.Watch(c.Invalidate))
	}
	return c
}

// Get returns the computed value, recalculating if necessary.
func (c *Computed[T]) Get() T {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.valid {
		c.value = c.compute()
		c.valid = true
	}
	return c.value
}

// Invalidate marks the value as needing recalculation and notifies
// dependents.
func (c *Computed[T]) Invalidate() {
	c.mu.Lock()
	c.valid = false
	c.mu.Unlock()

	c.deps.notify(c.scheduler)
}

// Subscribe marks job dirty whenever the value is invalidated.
func (c *Computed[T]) Subscribe(job *scheduler.Job) {
	c.deps.subscribe(job)
}

// Unsubscribe removes a job.
func (c *Computed[T]) Unsubscribe(job *scheduler.Job) {
	c.deps.unsubscribe(job)
}

// Watch calls fn synchronously after every invalidation.
func (c *Computed[T]) Watch(fn func()) func() {
	return c.deps.watch(fn)
}

// Dispose detaches the computed value from its sources.
func (c *Computed[T]) Dispose() {
	c.mu.Lock()
	stops := c.stops
	c.stops = nil
	c.mu.Unlock()

	for _, stop := range stops {
		stop()
	}
}
