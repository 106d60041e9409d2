// Package scheduler runs the periodic control-plane jobs (session reconciliation, expiration sweep)
// on fixed intervals. A job never overlaps itself: the next tick is counted from the end of the
// previous run, and manual triggers share the same per-job lock.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cdr.dev/slog"
	"github.com/coder/quartz"

	telemetryotel "hotspot-control-plane/backend/internal/telemetry/otel"
)

var (
	// ErrJobRunning is returned by RunNow while the job is already running.
	ErrJobRunning = errors.New("scheduler: job already running")
	// ErrUnknownJob is returned for a name that was never added.
	ErrUnknownJob = errors.New("scheduler: unknown job")
	// ErrStarted is returned by Add after Start.
	ErrStarted = errors.New("scheduler: already started")
)

const defaultTimeout = 2 * time.Minute

// Job is a named periodic task.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
	// RunOnStart runs the job once right after Start instead of waiting a full interval.
	RunOnStart bool
}

// Locker coordinates runs across replicas. Acquire reports false when another holder has the key.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// Options are the optional collaborators of a Scheduler.
type Options struct {
	// Timeout bounds a single run; 2m when zero.
	Timeout time.Duration
	// Locker, when set, makes each run take a cross-replica lease of LockTTL.
	Locker  Locker
	LockTTL time.Duration
	Metrics *telemetryotel.Metrics
}

type job struct {
	Job
	running sync.Mutex
}

// Scheduler owns the job loops.
type Scheduler struct {
	clock   quartz.Clock
	log     slog.Logger
	opts    Options
	jobs    map[string]*job
	order   []string
	started bool

	mu      sync.Mutex
	base    context.Context
	cancel  context.CancelFunc
	waiters []quartz.Waiter
	runs    sync.WaitGroup
}

// New returns a Scheduler. clock is quartz.NewReal() outside tests.
func New(clock quartz.Clock, logger slog.Logger, opts Options) *Scheduler {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = opts.Timeout
	}
	return &Scheduler{
		clock: clock,
		log:   logger.Named("scheduler"),
		opts:  opts,
		jobs:  map[string]*job{},
	}
}

// Add registers a job. Jobs must be added before Start.
func (s *Scheduler) Add(j Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrStarted
	}
	if j.Name == "" || j.Run == nil {
		return errors.New("scheduler: job needs a name and a run function")
	}
	if j.Interval <= 0 {
		return fmt.Errorf("scheduler: job %s: interval must be positive", j.Name)
	}
	if _, ok := s.jobs[j.Name]; ok {
		return fmt.Errorf("scheduler: job %s already added", j.Name)
	}
	s.jobs[j.Name] = &job{Job: j}
	s.order = append(s.order, j.Name)
	return nil
}

// Start launches one ticker loop per job. Loops stop when ctx is cancelled or Close is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	// Runs outlive ctx so Close can let an in-flight cycle finish.
	s.base = context.WithoutCancel(ctx)
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for _, name := range s.order {
		j := s.jobs[name]
		if j.RunOnStart {
			s.runs.Add(1)
			go func() {
				defer s.runs.Done()
				s.tick(j)
			}()
		}
		w := s.clock.TickerFunc(loopCtx, j.Interval, func() error {
			s.tick(j)
			return nil
		}, "scheduler", j.Name)
		s.waiters = append(s.waiters, w)
		s.log.Info(ctx, "job scheduled", slog.F("job", j.Name), slog.F("interval", j.Interval.String()))
	}
}

// RunNow runs the named job synchronously, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return ErrUnknownJob
	}
	if !j.running.TryLock() {
		return ErrJobRunning
	}
	defer j.running.Unlock()
	return s.run(ctx, j)
}

// Close stops the loops and waits for in-flight runs, each bounded by the run timeout.
func (s *Scheduler) Close() {
	s.mu.Lock()
	cancel := s.cancel
	waiters := s.waiters
	s.waiters = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	for _, w := range waiters {
		_ = w.Wait()
	}
	s.runs.Wait()
}

// tick is a scheduled run; it is skipped while a manual run holds the job.
func (s *Scheduler) tick(j *job) {
	if !j.running.TryLock() {
		s.log.Debug(s.base, "job still running, skipping tick", slog.F("job", j.Name))
		return
	}
	defer j.running.Unlock()
	// Errors are logged by run; the next tick retries.
	_ = s.run(s.base, j)
}

func (s *Scheduler) run(ctx context.Context, j *job) error {
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.Timeout)
	defer cancel()

	if s.opts.Locker != nil {
		release, ok, err := s.opts.Locker.Acquire(runCtx, lockKey(j.Name), s.opts.LockTTL)
		if err != nil {
			s.log.Warn(runCtx, "job lock unavailable, skipping run", slog.F("job", j.Name), slog.Error(err))
			s.opts.Metrics.RecordJobRun(runCtx, j.Name, false)
			return fmt.Errorf("scheduler: lock job %s: %w", j.Name, err)
		}
		if !ok {
			s.log.Debug(runCtx, "job held by another replica", slog.F("job", j.Name))
			return nil
		}
		defer release()
	}

	start := s.clock.Now()
	err := j.Run(runCtx)
	s.opts.Metrics.RecordJobRun(runCtx, j.Name, err == nil)
	if err != nil {
		s.log.Error(runCtx, "job failed", slog.F("job", j.Name),
			slog.F("elapsed", s.clock.Since(start).String()), slog.Error(err))
		return err
	}
	s.log.Debug(runCtx, "job finished", slog.F("job", j.Name), slog.F("elapsed", s.clock.Since(start).String()))
	return nil
}

func lockKey(name string) string {
	return "hotspot:scheduler:" + name
}
