// Package scheduler runs a participant's work on a single goroutine.
//
// Everything that touches interaction state (keys, pointer events, ticks,
// remote presence notifications) is posted to one Loop and executed strictly
// in order. Jobs are coalescing tasks: marking a job dirty any number of times
// before it runs results in a single run.
package scheduler

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// ErrStopped is returned when work is submitted to a loop that is not
// accepting it anymore.
var ErrStopped = errors.New("scheduler: loop stopped")

// ErrorHandler handles panics recovered from tasks and jobs.
// For jobs, returning false removes the job from the loop.
type ErrorHandler func(job *Job, err error) bool

// Job is a coalescing unit of work.
type Job struct {
	id   uint32
	name string
	run  func()

	dirty   atomic.Bool
	removed atomic.Bool
	onError ErrorHandler
}

// ID returns the job's unique ID.
func (j *Job) ID() uint32 {
	return j.id
}

// Name returns the name the job was created with.
func (j *Job) Name() string {
	return j.name
}

// Dirty reports whether the job is waiting to run.
func (j *Job) Dirty() bool {
	return j.dirty.Load()
}

// SetErrorHandler sets a custom error handler for this job.
func (j *Job) SetErrorHandler(handler ErrorHandler) {
	j.onError = handler
}

// Loop executes posted tasks in order on one goroutine.
type Loop struct {
	mu     sync.Mutex
	jobs   map[uint32]*Job
	nextID uint32
	queue  []func()
	wake   chan struct{}

	running  atomic.Bool
	stopped  atomic.Bool
	done     chan struct{}
	doneOnce sync.Once

	logger       *slog.Logger
	defaultError ErrorHandler
}

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the logger used for debug output and unhandled panics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Loop) { s.logger = l }
}

// WithErrorHandler sets the default error handler.
func WithErrorHandler(h ErrorHandler) Option {
	return func(s *Loop) { s.defaultError = h }
}

// NewLoop creates a loop. Tasks may be posted before Start; they run once
// the loop starts.
func NewLoop(opts ...Option) *Loop {
	s := &Loop{
		jobs:   make(map[uint32]*Job),
		nextID: 1,
		queue:  make([]func(), 0, 64),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "scheduler")
	return s
}

// SetDefaultErrorHandler sets the handler used for tasks and for jobs that
// have none of their own.
func (s *Loop) SetDefaultErrorHandler(handler ErrorHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaultError = handler
}

// NewJob registers a coalescing job.
func (s *Loop) NewJob(name string, run func()) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++

	job := &Job{
		id:   id,
		name: name,
		run:  run,
	}
	s.jobs[id] = job
	return job
}

// RemoveJob unregisters a job. A pending run is dropped.
func (s *Loop) RemoveJob(job *Job) {
	if job == nil {
		return
	}
	job.removed.Store(true)

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, job.id)
}

// JobCount returns the number of registered jobs.
func (s *Loop) JobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// MarkDirty schedules job to run. Marks made while the job is already
// pending are coalesced.
func (s *Loop) MarkDirty(job *Job) {
	if job == nil || job.removed.Load() {
		return
	}
	if !job.dirty.CompareAndSwap(false, true) {
		return
	}
	if err := s.Post(func() { s.processJob(job) }); err != nil {
		job.dirty.Store(false)
		s.logger.Debug("job dropped", "job", job.name, "error", err)
	}
}

// Post queues fn to run on the loop goroutine. It never blocks.
func (s *Loop) Post(fn func()) error {
	if fn == nil {
		return nil
	}
	if s.stopped.Load() {
		return ErrStopped
	}

	s.mu.Lock()
	s.queue = append(s.queue, fn)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// Call posts fn and waits for it to finish. It must not be called from a
// task running on the same loop.
func (s *Loop) Call(fn func()) error {
	finished := make(chan struct{})
	if err := s.Post(func() {
		defer close(finished)
		fn()
	}); err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-s.done:
		return ErrStopped
	}
}

// Start begins the loop goroutine.
func (s *Loop) Start() {
	if s.stopped.Load() {
		return
	}
	if s.running.CompareAndSwap(false, true) {
		s.logger.Debug("loop starting")
		go s.loop()
	}
}

// Stop makes the loop exit after the task in progress. Queued tasks are
// dropped. Stop does not wait; use Done for that.
func (s *Loop) Stop() {
	if !s.stopped.CompareAndSwap(false, true) {
		return
	}
	if !s.running.Load() {
		s.finish()
		return
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Done is closed once the loop goroutine has exited.
func (s *Loop) Done() <-chan struct{} {
	return s.done
}

func (s *Loop) finish() {
	s.doneOnce.Do(func() { close(s.done) })
}

// IsRunning returns whether the loop is running.
func (s *Loop) IsRunning() bool {
	return s.running.Load() && !s.stopped.Load()
}

func (s *Loop) loop() {
	defer func() {
		s.running.Store(false)
		s.finish()
		s.logger.Debug("loop ended")
	}()

	for {
		if s.stopped.Load() {
			return
		}

		batch := s.drain()
		if len(batch) == 0 {
			<-s.wake
			continue
		}

		for _, task := range batch {
			if s.stopped.Load() {
				return
			}
			s.runTask(task)
		}
	}
}

// drain takes every queued task at once so tasks posted while a batch runs
// land in the next batch.
func (s *Loop) drain() []func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil
	}
	batch := s.queue
	s.queue = make([]func(), 0, cap(batch))
	return batch
}

func (s *Loop) runTask(task func()) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("task panic: %v\n%s", r, debug.Stack())
			s.handleError(nil, err)
		}
	}()
	task()
}

func (s *Loop) processJob(job *Job) {
	// A job marked again while running gets another pass.
	if !job.dirty.CompareAndSwap(true, false) {
		return
	}
	if job.removed.Load() {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("job %d (%s) panic: %v\n%s", job.id, job.name, r, debug.Stack())
			if !s.handleError(job, err) {
				s.RemoveJob(job)
			}
		}
	}()
	job.run()
}

// handleError reports err and returns whether the job should keep running.
func (s *Loop) handleError(job *Job, err error) bool {
	handler := s.errorHandler()
	if job != nil && job.onError != nil {
		handler = job.onError
	}
	if handler == nil {
		s.logger.Error("recovered panic", "error", err)
		return true
	}
	return handler(job, err)
}

func (s *Loop) errorHandler() ErrorHandler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.defaultError
}
