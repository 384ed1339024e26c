// Package autosave turns a stream of change signals into a bounded number of
// durable writes: a save runs once edits pause for the debounce interval, or
// at the latest when the bound after the first edit of a burst elapses.
package autosave

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Defaults for the debounce and bound intervals.
const (
	DefaultDebounce = 1500 * time.Millisecond
	DefaultBound    = 4 * time.Second
)

// State is the scheduler state.
type State int

const (
	Idle State = iota
	Pending
	Saving
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Pending:
		return "pending"
	case Saving:
		return "saving"
	default:
		return "unknown"
	}
}

// SaveFunc performs one durable write. run reports whether the write is
// still wanted when the implementation is ready to commit it.
type SaveFunc func(ctx context.Context, run Run) error

// Run identifies one save started by the scheduler.
type Run struct {
	s     *Scheduler
	epoch uint64
}

// Live reports whether Cancel has not been called since the save began.
func (r Run) Live() bool {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.epoch == r.epoch
}

// Scheduler coalesces change signals into saves.
//
// The scheduler never holds its own mutex while calling save, so save may
// take other locks freely.
type Scheduler struct {
	save     SaveFunc
	clock    Clock
	debounce time.Duration
	bound    time.Duration
	onError  func(error)
	logger   *slog.Logger

	mu       sync.Mutex
	state    State
	lastEdit time.Time
	deadline time.Time
	gen      uint64 // bumped whenever an armed timer becomes stale
	epoch    uint64 // bumped by Cancel
	timer    Timer
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithClock(c Clock) Option { return func(s *Scheduler) { s.clock = c } }

// WithIntervals sets the debounce and bound. Non-positive values keep the defaults.
func WithIntervals(debounce, bound time.Duration) Option {
	return func(s *Scheduler) {
		if debounce > 0 {
			s.debounce = debounce
		}
		if bound > 0 {
			s.bound = bound
		}
	}
}

// WithErrorHandler receives errors from timer-driven saves.
func WithErrorHandler(fn func(error)) Option { return func(s *Scheduler) { s.onError = fn } }

func WithLogger(l *slog.Logger) Option { return func(s *Scheduler) { s.logger = l } }

// New creates an idle scheduler.
func New(save SaveFunc, opts ...Option) *Scheduler {
	s := &Scheduler{
		save:     save,
		clock:    SystemClock{},
		debounce: DefaultDebounce,
		bound:    DefaultBound,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.bound < s.debounce {
		s.bound = s.debounce
	}
	return s
}

// State returns the current state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Changed records an edit. The first edit after Idle or Saving starts a new
// burst whose save is due no later than now plus the bound.
func (s *Scheduler) Changed() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if s.state != Pending {
		s.state = Pending
		s.deadline = now.Add(s.bound)
	}
	s.lastEdit = now
	s.armLocked(now)
}

// Flush disarms any pending timer and saves exactly once.
func (s *Scheduler) Flush(ctx context.Context) error {
	s.mu.Lock()
	run := s.beginSaveLocked()
	s.mu.Unlock()
	return s.runSave(ctx, run)
}

// FlushPending saves unless the scheduler is Idle. A timer save still in
// flight counts as pending: the extra save runs after it and covers edits
// it may not have seen. So does a save that failed. It reports whether a
// save ran.
func (s *Scheduler) FlushPending(ctx context.Context) (bool, error) {
	s.mu.Lock()
	if s.state == Idle {
		s.mu.Unlock()
		return false, nil
	}
	run := s.beginSaveLocked()
	s.mu.Unlock()
	return true, s.runSave(ctx, run)
}

// Cancel disarms the scheduler without saving. Saves already running see
// their Run go stale.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	s.state = Idle
	s.epoch++
}

func (s *Scheduler) dueLocked() time.Time {
	due := s.lastEdit.Add(s.debounce)
	if s.deadline.Before(due) {
		return s.deadline
	}
	return due
}

func (s *Scheduler) armLocked(now time.Time) {
	s.stopLocked()
	gen := s.gen
	s.timer = s.clock.AfterFunc(s.dueLocked().Sub(now), func() { s.fire(gen) })
}

func (s *Scheduler) stopLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
}

func (s *Scheduler) beginSaveLocked() Run {
	s.stopLocked()
	s.state = Saving
	return Run{s: s, epoch: s.epoch}
}

func (s *Scheduler) fire(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.state != Pending {
		s.mu.Unlock()
		return
	}
	now := s.clock.Now()
	if now.Before(s.dueLocked()) {
		s.armLocked(now)
		s.mu.Unlock()
		return
	}
	run := s.beginSaveLocked()
	s.mu.Unlock()

	if err := s.runSave(context.Background(), run); err != nil {
		s.logger.Warn("autosave: save failed", slog.String("error", err.Error()))
		if s.onError != nil {
			s.onError(err)
		}
	}
}

// runSave leaves the scheduler Pending when the save fails, with no timer
// armed, so the next edit or flush retries.
func (s *Scheduler) runSave(ctx context.Context, run Run) error {
	err := s.save(ctx, run)

	s.mu.Lock()
	if s.state == Saving && s.epoch == run.epoch {
		if err != nil {
			s.state = Pending
		} else {
			s.state = Idle
		}
	}
	s.mu.Unlock()
	return err
}
