// Package scheduler runs ingestion jobs on a fixed interval.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Job is a named task run on every tick.
type Job struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Scheduler runs jobs at a fixed interval until its context ends or Stop
// is called.
type Scheduler struct {
	jobs     []Job
	logger   *slog.Logger
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a new scheduler.
func New() *Scheduler {
	return &Scheduler{
		logger: slog.Default(),
		done:   make(chan struct{}),
	}
}

// Add registers a job with the scheduler.
func (s *Scheduler) Add(job Job) {
	s.jobs = append(s.jobs, job)
}

// RunOnce executes all registered jobs in order. A failing job does not
// prevent the remaining jobs from running; all failures are returned joined.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	var errs []error
	for _, job := range s.jobs {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		s.logger.Info("running job", "name", job.Name)
		start := time.Now()
		if err := job.Fn(ctx); err != nil {
			s.logger.Error("job failed", "name", job.Name, "error", err, "duration", time.Since(start))
			errs = append(errs, fmt.Errorf("%s: %w", job.Name, err))
			continue
		}
		s.logger.Info("job completed", "name", job.Name, "duration", time.Since(start))
	}
	return errors.Join(errs...)
}

// Start runs the jobs immediately and then every interval. It blocks until
// ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("invalid interval %s", interval)
	}
	s.logger.Info("scheduler started", "interval", interval, "jobs", len(s.jobs))

	s.RunOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case <-s.done:
			s.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// Stop stops the scheduler. It is safe to call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
}
