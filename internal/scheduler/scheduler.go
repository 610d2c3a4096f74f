// Package scheduler runs the bot's periodic tasks (market scans, book
// refreshes, status reports, resolution polling, lease refresh) from one
// owner so shutdown cancels all of them together.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Task is a named periodic job.
type Task struct {
	Name     string
	Interval time.Duration
	// RunImmediately runs Fn once before the first tick.
	RunImmediately bool
	// Fatal makes an error from Fn stop the scheduler. Non-fatal errors
	// are logged and the task keeps its schedule.
	Fatal bool
	Fn    func(ctx context.Context) error
}

// Scheduler owns a fixed set of tasks.
type Scheduler struct {
	tasks  []Task
	logger *slog.Logger
}

// New creates a Scheduler.
func New(logger *slog.Logger, tasks ...Task) *Scheduler {
	return &Scheduler{
		tasks:  tasks,
		logger: logger.With(slog.String("component", "scheduler")),
	}
}

// Add registers another task. It must be called before Run.
func (s *Scheduler) Add(t Task) {
	s.tasks = append(s.tasks, t)
}

// Run starts every task and blocks until ctx is cancelled or a fatal task
// fails. Cancellation is a clean stop and returns nil.
func (s *Scheduler) Run(ctx context.Context) error {
	for _, t := range s.tasks {
		if t.Interval <= 0 {
			return fmt.Errorf("scheduler: task %q: interval must be positive", t.Name)
		}
		if t.Fn == nil {
			return fmt.Errorf("scheduler: task %q: nil func", t.Name)
		}
	}

	s.logger.Info("scheduler starting", slog.Int("tasks", len(s.tasks)))

	g, ctx := errgroup.WithContext(ctx)
	for _, t := range s.tasks {
		g.Go(func() error {
			return s.loop(ctx, t)
		})
	}

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("scheduler stopped with error", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("scheduler stopped cleanly")
	return nil
}

func (s *Scheduler) loop(ctx context.Context, t Task) error {
	if t.RunImmediately {
		if err := s.runOnce(ctx, t); err != nil {
			return err
		}
	}

	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.runOnce(ctx, t); err != nil {
				return err
			}
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, t Task) error {
	err := t.Fn(ctx)
	if err == nil || ctx.Err() != nil {
		return nil
	}
	if t.Fatal {
		return fmt.Errorf("scheduler: task %q: %w", t.Name, err)
	}
	s.logger.Warn("task failed",
		slog.String("task", t.Name),
		slog.String("error", err.Error()),
	)
	return nil
}
