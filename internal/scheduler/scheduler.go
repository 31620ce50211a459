// Package scheduler runs the sync pass on a fixed interval.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is one scheduled run.
type Job func(ctx context.Context) error

// Scheduler owns a single recurring job. A trigger that fires while the
// previous run is still active is skipped, not queued.
type Scheduler struct {
	mu       sync.Mutex
	cron     *cron.Cron
	job      cron.Job
	entry    cron.EntryID
	interval time.Duration
	running  bool

	ctx    context.Context
	cancel context.CancelFunc
	log    *slog.Logger
}

func New(job Job, interval time.Duration) *Scheduler {
	log := slog.With("component", "scheduler")
	logger := cronLogger{log: log}
	ctx, cancel := context.WithCancel(context.Background())

	s := &Scheduler{
		cron:     cron.New(cron.WithLogger(logger)),
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
		log:      log,
	}

	// wrapping once shares one skip guard across reschedules
	s.job = cron.NewChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)).Then(cron.FuncJob(func() {
		started := time.Now()
		err := job(s.ctx)
		if err != nil {
			s.log.Error("scheduled run failed", "error", err, "duration", time.Since(started))
			return
		}
		s.log.Info("scheduled run finished", "duration", time.Since(started))
	}))
	return s
}

// Start schedules the job and starts the timer.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	err := s.scheduleLocked(s.interval)
	if err != nil {
		return err
	}
	s.cron.Start()
	s.running = true
	s.log.Info("scheduler started", "interval", s.interval)
	return nil
}

// Stop halts the timer, cancels a running job and waits for it to return
// or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	done := s.cron.Stop()
	s.cancel()

	select {
	case <-done.Done():
		s.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reschedule replaces the interval. The next run is one full interval away.
func (s *Scheduler) Reschedule(interval time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if interval < time.Minute {
		return fmt.Errorf("interval %v is below one minute", interval)
	}
	if interval == s.interval && s.entry != 0 {
		return nil
	}

	s.interval = interval
	if s.entry == 0 {
		return nil
	}
	s.cron.Remove(s.entry)
	s.entry = 0
	err := s.scheduleLocked(interval)
	if err != nil {
		return err
	}
	s.log.Info("scheduler rescheduled", "interval", interval)
	return nil
}

// RunNow triggers the job outside the timer, still honouring the skip guard.
func (s *Scheduler) RunNow() {
	go s.job.Run()
}

func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Next reports when the job fires next; zero when not scheduled.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entry == 0 {
		return time.Time{}
	}
	return s.cron.Entry(s.entry).Next
}

func (s *Scheduler) scheduleLocked(interval time.Duration) error {
	if interval < time.Minute {
		return errors.New("interval must be at least one minute")
	}
	s.entry = s.cron.Schedule(cron.Every(interval), s.job)
	return nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append(keysAndValues, "error", err)...)
}
