// Package scheduler runs the optional built-in refresh loop: periodic tasks
// plus a queue of hosts awaiting an on-demand refresh.
package scheduler

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Scheduler manages a set of periodic tasks and an optional refresh queue,
// running each in its own goroutine.
type Scheduler struct {
	tasks  []*Task
	queue  *RefreshQueue
	logger *logrus.Entry
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewScheduler creates a new scheduler.
func NewScheduler(logger *logrus.Entry) *Scheduler {
	return &Scheduler{
		logger: logger.WithField("component", "scheduler"),
	}
}

// AddTask registers a task to be started when Start is called.
// It must be called before Start.
func (s *Scheduler) AddTask(task *Task) {
	s.tasks = append(s.tasks, task)
}

// SetQueue registers the refresh queue to drain once started.
// It must be called before Start.
func (s *Scheduler) SetQueue(q *RefreshQueue) {
	s.queue = q
}

// Start launches a goroutine for every registered task and for the queue.
// They run until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.logger.WithFields(logrus.Fields{
		"task_count": len(s.tasks),
		"queue":      s.queue != nil,
	}).Info("starting scheduler")

	for _, t := range s.tasks {
		s.wg.Add(1)
		go func(task *Task) {
			defer s.wg.Done()
			task.Run(ctx)
		}(t)
	}

	if s.queue != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.queue.Start(ctx)
		}()
	}
}

// Stop cancels all running tasks and blocks until every goroutine has returned.
func (s *Scheduler) Stop() {
	s.logger.Info("stopping scheduler")
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}
