package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vstu/timetable-tracker/internal/ctxkeys"
	"github.com/vstu/timetable-tracker/internal/logger"
	"github.com/vstu/timetable-tracker/internal/metrics"
	"github.com/vstu/timetable-tracker/internal/model"
	"github.com/vstu/timetable-tracker/internal/repository"
)

var (
	ErrQueueFull   = errors.New("task queue is full")
	ErrQueueClosed = errors.New("task queue is closed")
)

const (
	msgUnknownAction = "unknown action"
	msgShutdown      = "cancelled on shutdown"
	msgInterrupted   = "interrupted by restart"
)

type Queue struct {
	repo     repository.TaskRepository
	registry *Registry
	jobs     chan *model.Task
	workers  int

	mu      sync.Mutex
	closed  bool
	started bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    *slog.Logger
}

func NewQueue(repo repository.TaskRepository, registry *Registry, workers, size int) *Queue {
	if workers < 1 {
		workers = 1
	}
	if size < 1 {
		size = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		repo:     repo,
		registry: registry,
		jobs:     make(chan *model.Task, size),
		workers:  workers,
		ctx:      ctx,
		cancel:   cancel,
		log:      slog.With("component", "tasks"),
	}
}

// Start closes out tasks a previous process left running and launches the workers.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return nil
	}

	n, err := q.repo.FailRunning(ctx, msgInterrupted)
	if err != nil {
		return fmt.Errorf("failed to close stale tasks: %w", err)
	}
	if n > 0 {
		q.log.Warn("marked stale tasks as failed", "count", n)
	}

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.runLoop(i + 1)
	}
	q.started = true
	q.log.Info("task workers started", "workers", q.workers, "queue", cap(q.jobs))
	return nil
}

// Submit records a running task for params and enqueues it. The returned
// task is the submitted state; poll Get for progress. An unknown action is
// recorded and failed at once.
func (q *Queue) Submit(ctx context.Context, params model.JSON) (*model.Task, error) {
	if params == nil {
		params = model.JSON{}
	}
	t := &model.Task{
		ID:        uuid.New().String(),
		Params:    params,
		Status:    model.TaskStatusRunning,
		CreatedAt: time.Now().UTC(),
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrQueueClosed
	}

	err := q.repo.Create(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	metrics.TasksSubmitted.WithLabelValues(t.Action()).Inc()

	if _, ok := q.registry.Get(t.Action()); !ok {
		q.finish(ctx, t, nil, fmt.Errorf("%s: %q", msgUnknownAction, t.Action()))
		return t, nil
	}

	// the worker owns its own copy; t stays a read-only snapshot for the caller
	queued := *t
	select {
	case q.jobs <- &queued:
		q.log.Info("task queued", "task_id", t.ID, "action", t.Action())
		return t, nil
	default:
		q.finish(ctx, t, nil, ErrQueueFull)
		return t, ErrQueueFull
	}
}

func (q *Queue) Get(ctx context.Context, id string) (*model.Task, error) {
	return q.repo.ByID(ctx, id)
}

// Stop cancels running tasks, fails the queued ones and waits for the
// workers until ctx expires.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()

	q.cancel()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	// workers exit on cancel, so whatever is still buffered never ran
	for t := range q.jobs {
		q.finish(ctx, t, nil, errors.New(msgShutdown))
	}
	q.log.Info("task workers stopped")
	return nil
}

func (q *Queue) runLoop(workerID int) {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case t, ok := <-q.jobs:
			if !ok {
				return
			}
			if q.ctx.Err() != nil {
				q.finish(context.Background(), t, nil, errors.New(msgShutdown))
				return
			}
			q.run(workerID, t)
		}
	}
}

func (q *Queue) run(workerID int, t *model.Task) {
	ctx := ctxkeys.WithTaskID(q.ctx, t.ID)
	ctx = ctxkeys.WithTrigger(ctx, "task")
	log := logger.From(ctx).With("component", "tasks", "worker_id", workerID, "action", t.Action())

	h, ok := q.registry.Get(t.Action())
	if !ok {
		q.finish(ctx, t, nil, fmt.Errorf("%s: %q", msgUnknownAction, t.Action()))
		return
	}

	started := time.Now()
	var result model.JSON
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error("task handler panic", "panic", r)
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		result, err = h.Run(ctx, t)
	}()

	if err != nil {
		log.Error("task failed", "error", err, "duration", time.Since(started))
	} else {
		log.Info("task finished", "duration", time.Since(started))
	}
	// the terminal write must land even when shutdown cancelled the task
	q.finish(context.WithoutCancel(ctx), t, result, err)
}

func (q *Queue) finish(ctx context.Context, t *model.Task, result model.JSON, runErr error) {
	status := model.TaskStatusSuccess
	var msg *string
	if runErr != nil {
		status = model.TaskStatusError
		m := runErr.Error()
		msg = &m
		if result == nil {
			result = model.JSON{"error": m}
		}
	}

	err := q.repo.Finish(ctx, t.ID, status, result, msg)
	if err != nil {
		q.log.Error("failed to record task result", "task_id", t.ID, "error", err)
		return
	}
	now := time.Now().UTC()
	t.Status, t.Result, t.ErrorMessage, t.FinishedAt = status, result, msg, &now
	metrics.TasksFinished.WithLabelValues(t.Action(), status).Inc()
}
