package scheduler

import (
	"context"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// RefreshFunc refreshes a single host.
type RefreshFunc func(ctx context.Context, host string)

// RefreshQueue is an in-memory FIFO of hosts awaiting an on-demand refresh.
// A host already waiting in the queue is not queued twice.
type RefreshQueue struct {
	ch      chan string
	refresh RefreshFunc
	logger  *logrus.Entry

	mu      sync.Mutex
	pending map[string]struct{}
}

// NewRefreshQueue creates a queue with the given buffer size that hands each
// host to refresh.
func NewRefreshQueue(bufferSize int, refresh RefreshFunc, logger *logrus.Entry) *RefreshQueue {
	if bufferSize < 1 {
		bufferSize = 64
	}
	return &RefreshQueue{
		ch:      make(chan string, bufferSize),
		refresh: refresh,
		logger:  logger.WithField("component", "refresh_queue"),
		pending: make(map[string]struct{}),
	}
}

// Enqueue adds host to the queue. It reports false when the host is already
// pending or the queue is full.
func (q *RefreshQueue) Enqueue(host string) bool {
	host = strings.ToLower(host)

	q.mu.Lock()
	if _, ok := q.pending[host]; ok {
		q.mu.Unlock()
		q.logger.WithField("host", host).Debug("refresh already queued")
		return false
	}
	q.pending[host] = struct{}{}
	q.mu.Unlock()

	select {
	case q.ch <- host:
		q.logger.WithField("host", host).Debug("refresh enqueued")
		return true
	default:
		q.mu.Lock()
		delete(q.pending, host)
		q.mu.Unlock()
		q.logger.WithField("host", host).Warn("refresh queue full, dropping host")
		return false
	}
}

// EnqueueAll queues every host and returns how many were accepted.
func (q *RefreshQueue) EnqueueAll(hosts []string) int {
	n := 0
	for _, h := range hosts {
		if q.Enqueue(h) {
			n++
		}
	}
	return n
}

// Pending returns the number of hosts waiting to be refreshed.
func (q *RefreshQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Start processes queued hosts sequentially until ctx is cancelled.
func (q *RefreshQueue) Start(ctx context.Context) {
	q.logger.Info("refresh queue started")
	for {
		select {
		case <-ctx.Done():
			q.logger.Info("refresh queue stopping (context cancelled)")
			return
		case host := <-q.ch:
			q.mu.Lock()
			delete(q.pending, host)
			q.mu.Unlock()
			q.run(ctx, host)
		}
	}
}

func (q *RefreshQueue) run(ctx context.Context, host string) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.WithFields(logrus.Fields{"host": host, "panic": r}).Error("queued refresh panicked")
		}
	}()
	q.refresh(ctx, host)
}
