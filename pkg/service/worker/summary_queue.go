package worker

import (
	"context"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/hypomnema/pkg/domain/model"
	"github.com/secmon-lab/hypomnema/pkg/utils/async"
	"github.com/secmon-lab/hypomnema/pkg/utils/errutil"
	"github.com/secmon-lab/hypomnema/pkg/utils/logging"
)

// SummaryTask asks for the summary of the chunk ending at MessageCount
type SummaryTask struct {
	ConversationID model.ConversationID
	UserID         string
	MessageCount   int64
}

// SummaryHandler processes one task. Its error is logged, never returned to the enqueuer.
type SummaryHandler func(ctx context.Context, task SummaryTask) error

var (
	// ErrQueueStopped is returned by Enqueue after Stop
	ErrQueueStopped = goerr.New("summary queue is stopped")
	// ErrQueueNotStarted is returned by Enqueue before Start. Without workers a full queue would block forever.
	ErrQueueNotStarted = goerr.New("summary queue is not started")
)

// SummaryQueue is a bounded work queue for background summary generation.
// Enqueue blocks while the queue is full, giving callers backpressure.
//
// Architecture assumptions:
// - Single process (tasks are not persisted; pending tasks are lost on crash)
// - Two tasks for overlapping windows of one conversation may run concurrently
type SummaryQueue struct {
	handler SummaryHandler
	workers int
	tasks   chan SummaryTask

	mu      sync.RWMutex
	started bool
	stopped bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewSummaryQueue creates a queue holding up to size pending tasks consumed by workers goroutines
func NewSummaryQueue(handler SummaryHandler, size, workers int) *SummaryQueue {
	if size <= 0 {
		size = 1
	}
	if workers <= 0 {
		workers = 1
	}
	return &SummaryQueue{
		handler: handler,
		workers: workers,
		tasks:   make(chan SummaryTask, size),
		stopCh:  make(chan struct{}),
	}
}

// Start launches the workers. Tasks run with a context detached from ctx's
// cancellation but carrying its logger. Starting twice is a no-op.
func (q *SummaryQueue) Start(ctx context.Context) error {
	if q.handler == nil {
		return goerr.New("summary handler is required")
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return ErrQueueStopped
	}
	if q.started {
		return nil
	}
	q.started = true

	logging.From(ctx).Info("summary queue starting",
		"workers", q.workers,
		"capacity", cap(q.tasks))

	bgCtx := async.Detach(ctx)
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.run(bgCtx)
	}
	return nil
}

// Enqueue schedules a task, blocking while the queue is full until ctx is done
func (q *SummaryQueue) Enqueue(ctx context.Context, task SummaryTask) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.stopped {
		return goerr.Wrap(ErrQueueStopped, "failed to enqueue summary task", goerr.V(model.ConversationIDKey, task.ConversationID))
	}
	if !q.started {
		return goerr.Wrap(ErrQueueNotStarted, "failed to enqueue summary task", goerr.V(model.ConversationIDKey, task.ConversationID))
	}

	select {
	case q.tasks <- task:
		return nil
	case <-ctx.Done():
		return goerr.Wrap(ctx.Err(), "summary queue is full", goerr.V(model.ConversationIDKey, task.ConversationID))
	}
}

// Stop rejects new tasks, waits for pending tasks to finish and stops the workers
func (q *SummaryQueue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	close(q.stopCh)
	q.mu.Unlock()

	q.wg.Wait()
	logging.Default().Info("summary queue stopped")
}

// Pending returns the number of queued tasks
func (q *SummaryQueue) Pending() int {
	return len(q.tasks)
}

func (q *SummaryQueue) run(ctx context.Context) {
	defer q.wg.Done()

	for {
		select {
		case task := <-q.tasks:
			q.handle(ctx, task)

		case <-q.stopCh:
			for {
				select {
				case task := <-q.tasks:
					q.handle(ctx, task)
				default:
					return
				}
			}
		}
	}
}

func (q *SummaryQueue) handle(ctx context.Context, task SummaryTask) {
	defer func() {
		if r := recover(); r != nil {
			logging.From(ctx).Error("panic in summary task",
				"panic", r,
				"conversation_id", task.ConversationID)
		}
	}()

	if err := q.handler(ctx, task); err != nil {
		_ = errutil.Handle(ctx, goerr.Wrap(err, "summary task failed",
			goerr.V(model.ConversationIDKey, task.ConversationID),
			goerr.V("message_count", task.MessageCount)), "background summary generation failed")
	}
}
