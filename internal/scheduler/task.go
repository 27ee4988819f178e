package scheduler

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Task is a periodically executed unit of work.
type Task struct {
	// Name is a human-readable identifier used in log messages.
	Name string
	// Interval is the period between successive runs.
	Interval time.Duration
	// RunFunc is executed each tick. Errors are logged and do not stop the loop.
	RunFunc func(ctx context.Context) error
	logger  *logrus.Entry
}

// NewTask creates a new periodic task.
func NewTask(name string, interval time.Duration, runFunc func(ctx context.Context) error, logger *logrus.Entry) *Task {
	return &Task{
		Name:     name,
		Interval: interval,
		RunFunc:  runFunc,
		logger:   logger.WithField("task", name),
	}
}

// RefreshAllTask returns a task that refreshes every host reported by hosts
// on each tick.
func RefreshAllTask(interval time.Duration, hosts func() []string, refreshAll func(ctx context.Context, hosts []string) error, logger *logrus.Entry) *Task {
	return NewTask("refresh-all", interval, func(ctx context.Context) error {
		return refreshAll(ctx, hosts())
	}, logger)
}

// Run executes the task in a loop. It fires immediately on entry, then waits
// for Interval between subsequent invocations. The loop exits when ctx is done.
func (t *Task) Run(ctx context.Context) {
	t.logger.WithField("interval", t.Interval).Info("task started")

	t.execute(ctx)

	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("task stopping (context cancelled)")
			return
		case <-ticker.C:
			t.execute(ctx)
		}
	}
}

func (t *Task) execute(ctx context.Context) {
	start := time.Now()
	err := t.RunFunc(ctx)
	entry := t.logger.WithField("duration", time.Since(start).Round(time.Millisecond))
	if err != nil {
		entry.WithError(err).Warn("task execution failed")
		return
	}
	entry.Debug("task execution completed")
}
