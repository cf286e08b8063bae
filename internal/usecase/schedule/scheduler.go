// Package schedule runs the periodic pipeline tasks: change detection,
// alert dispatch, digests, cleanup, health checks.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"billtracker/internal/infra/metrics"
)

var (
	// ErrUnknownTask is returned for task names that were never registered.
	ErrUnknownTask = errors.New("unknown task")
	// ErrTaskDisabled is returned when a disabled task is run explicitly.
	ErrTaskDisabled = errors.New("task disabled")
)

// TaskFunc is one schedulable unit of work.
type TaskFunc func(ctx context.Context) error

// Config carries the scheduler tunables.
type Config struct {
	Tick      time.Duration
	MaxErrors int
}

// DefaultConfig returns the production scheduler settings.
func DefaultConfig() Config {
	return Config{Tick: time.Minute, MaxErrors: 3}
}

type task struct {
	name       string
	fn         TaskFunc
	interval   time.Duration
	lastRun    time.Time
	nextRun    time.Time
	enabled    bool
	errorCount int
}

// TaskStatus is a point-in-time snapshot of one task.
type TaskStatus struct {
	Name       string
	Interval   time.Duration
	LastRun    time.Time
	NextRun    time.Time
	Enabled    bool
	ErrorCount int
}

// Status is a point-in-time snapshot of the scheduler.
type Status struct {
	Running     bool
	StartTime   time.Time
	Tasks       []TaskStatus
	TotalRuns   int
	TotalErrors int
	LastCheck   time.Time
}

// Scheduler drives registered tasks on their intervals. Tasks failing
// MaxErrors consecutive times are auto-disabled until an operator re-enables
// them.
type Scheduler struct {
	cfg Config
	log zerolog.Logger
	now func() time.Time

	mu          sync.Mutex
	tasks       []*task
	running     bool
	startTime   time.Time
	lastCheck   time.Time
	totalRuns   int
	totalErrors int

	stop chan struct{}
	done chan struct{}
}

// NewScheduler creates an empty scheduler.
func NewScheduler(cfg Config, logger zerolog.Logger) *Scheduler {
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultConfig().Tick
	}
	if cfg.MaxErrors <= 0 {
		cfg.MaxErrors = DefaultConfig().MaxErrors
	}
	return &Scheduler{cfg: cfg, log: logger, now: time.Now}
}

// Register adds a task. Must be called before Start.
func (s *Scheduler) Register(name string, interval time.Duration, fn TaskFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, &task{
		name:     name,
		fn:       fn,
		interval: interval,
		enabled:  true,
	})
}

// Start launches the tick loop. Safe to call once; a second call while
// running is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.log.Warn().Msg("schedule: already running")
		return
	}
	s.running = true
	s.startTime = s.now()
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	for _, t := range s.tasks {
		t.nextRun = s.startTime.Add(t.interval)
	}
	active := s.activeCountLocked()
	s.mu.Unlock()

	go s.loop(ctx)
	s.log.Info().Int("tasks", active).Msg("schedule: scheduler started")
}

// Stop halts the tick loop and waits for it to exit. A task already in
// flight finishes its current run.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	done := s.done
	s.mu.Unlock()

	<-done
	s.log.Info().Msg("schedule: scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.runPending(ctx)
		}
	}
}

// runPending runs every enabled task whose next-run time has arrived. Tasks
// run sequentially; a slow task delays later ones rather than overlapping
// itself.
func (s *Scheduler) runPending(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	s.lastCheck = now
	var due []*task
	for _, t := range s.tasks {
		if t.enabled && !t.nextRun.After(now) {
			due = append(due, t)
		}
	}
	s.mu.Unlock()

	for _, t := range due {
		s.runTask(ctx, t)
	}
}

// RunTaskNow executes one task immediately, outside its schedule.
func (s *Scheduler) RunTaskNow(ctx context.Context, name string) error {
	s.mu.Lock()
	t := s.findLocked(name)
	if t == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	if !t.enabled {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTaskDisabled, name)
	}
	s.mu.Unlock()

	return s.runTask(ctx, t)
}

func (s *Scheduler) runTask(ctx context.Context, t *task) (err error) {
	s.log.Info().Str("task", t.name).Msg("schedule: running task")

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", t.name, r)
		}
		s.finishTask(t, err)
	}()

	s.mu.Lock()
	t.lastRun = s.now()
	s.mu.Unlock()

	err = t.fn(ctx)
	return err
}

func (s *Scheduler) finishTask(t *task, err error) {
	metrics.ObserveSchedulerTask(t.name, err)

	s.mu.Lock()
	defer s.mu.Unlock()

	t.nextRun = s.now().Add(t.interval)
	if err == nil {
		t.errorCount = 0
		s.totalRuns++
		s.log.Info().Str("task", t.name).Msg("schedule: task completed")
		return
	}

	t.errorCount++
	s.totalErrors++
	s.log.Error().Err(err).Str("task", t.name).Int("error_count", t.errorCount).Msg("schedule: task failed")

	if t.errorCount >= s.cfg.MaxErrors {
		t.enabled = false
		s.log.Error().Str("task", t.name).Msg("schedule: task disabled due to repeated errors")
	}
}

// EnableTask re-enables a task and resets its error count.
func (s *Scheduler) EnableTask(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.findLocked(name)
	if t == nil {
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	t.enabled = true
	t.errorCount = 0
	t.nextRun = s.now().Add(t.interval)
	return nil
}

// DisableTask pauses a task without removing it.
func (s *Scheduler) DisableTask(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.findLocked(name)
	if t == nil {
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	t.enabled = false
	return nil
}

// Status reports the scheduler and per-task state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks := make([]TaskStatus, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, TaskStatus{
			Name:       t.name,
			Interval:   t.interval,
			LastRun:    t.lastRun,
			NextRun:    t.nextRun,
			Enabled:    t.enabled,
			ErrorCount: t.errorCount,
		})
	}
	return Status{
		Running:     s.running,
		StartTime:   s.startTime,
		Tasks:       tasks,
		TotalRuns:   s.totalRuns,
		TotalErrors: s.totalErrors,
		LastCheck:   s.lastCheck,
	}
}

func (s *Scheduler) findLocked(name string) *task {
	for _, t := range s.tasks {
		if t.name == name {
			return t
		}
	}
	return nil
}

func (s *Scheduler) activeCountLocked() int {
	n := 0
	for _, t := range s.tasks {
		if t.enabled {
			n++
		}
	}
	return n
}
