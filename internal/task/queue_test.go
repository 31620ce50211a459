package task

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vstu/timetable-tracker/internal/model"
	"github.com/vstu/timetable-tracker/internal/repository"
	"github.com/vstu/timetable-tracker/internal/testutil"
)

type funcHandler struct {
	action string
	run    func(ctx context.Context, t *model.Task) (model.JSON, error)
}

func (h funcHandler) Action() string { return h.action }

func (h funcHandler) Run(ctx context.Context, t *model.Task) (model.JSON, error) {
	return h.run(ctx, t)
}

func newQueue(t *testing.T, workers, size int, handlers ...Handler) (*Queue, repository.TaskRepository) {
	t.Helper()
	repo := repository.NewTaskRepository(testutil.DB(t))
	reg := NewRegistry()
	for _, h := range handlers {
		if err := reg.Register(h); err != nil {
			t.Fatal(err)
		}
	}
	return NewQueue(repo, reg, workers, size), repo
}

func waitFinished(t *testing.T, q *Queue, id string) *model.Task {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, err := q.Get(context.Background(), id)
		if err != nil {
			t.Fatal(err)
		}
		if got.IsFinished() {
			return got
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("task %s did not finish", id)
	return nil
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	reg := NewRegistry()
	h := funcHandler{action: "dell"}
	if err := reg.Register(h); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(h); err == nil {
		t.Fatal("expected duplicate registration error")
	}
	if err := reg.Register(funcHandler{}); err == nil {
		t.Fatal("expected empty action error")
	}
	if got := reg.Actions(); len(got) != 1 || got[0] != "dell" {
		t.Fatalf("Actions = %v", got)
	}
}

func TestSubmitSuccessAndError(t *testing.T) {
	ctx := context.Background()
	q, _ := newQueue(t, 2, 4,
		funcHandler{action: "ok", run: func(ctx context.Context, t *model.Task) (model.JSON, error) {
			return model.JSON{"finished": "yes"}, nil
		}},
		funcHandler{action: "fail", run: func(ctx context.Context, t *model.Task) (model.JSON, error) {
			return nil, errors.New("update already running")
		}},
		funcHandler{action: "panic", run: func(ctx context.Context, t *model.Task) (model.JSON, error) {
			panic("boom")
		}},
	)
	if err := q.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = q.Stop(ctx) }()

	ok, err := q.Submit(ctx, model.JSON{"action": "ok"})
	if err != nil {
		t.Fatal(err)
	}
	if ok.Status != model.TaskStatusRunning {
		t.Fatalf("submitted task status = %s", ok.Status)
	}
	fail, _ := q.Submit(ctx, model.JSON{"action": "fail"})
	boom, _ := q.Submit(ctx, model.JSON{"action": "panic"})

	got := waitFinished(t, q, ok.ID)
	if got.Status != model.TaskStatusSuccess || got.Result.String("finished") != "yes" {
		t.Fatalf("ok task = %+v", got)
	}

	got = waitFinished(t, q, fail.ID)
	if got.Status != model.TaskStatusError || got.ErrorMessage == nil || *got.ErrorMessage != "update already running" {
		t.Fatalf("failed task = %+v", got)
	}

	got = waitFinished(t, q, boom.ID)
	if got.Status != model.TaskStatusError {
		t.Fatalf("panicking task = %+v", got)
	}
}

func TestSubmittedTaskIsNotSharedWithWorker(t *testing.T) {
	ctx := context.Background()
	done := make(chan struct{})
	q, _ := newQueue(t, 1, 1, funcHandler{action: "ok", run: func(ctx context.Context, t *model.Task) (model.JSON, error) {
		defer close(done)
		return model.JSON{}, nil
	}})
	if err := q.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = q.Stop(ctx) }()

	submitted, err := q.Submit(ctx, model.JSON{"action": "ok"})
	if err != nil {
		t.Fatal(err)
	}
	// read while the worker is finishing; run with -race
	status := submitted.Status
	<-done
	waitFinished(t, q, submitted.ID)

	if status != model.TaskStatusRunning || submitted.Status != model.TaskStatusRunning || submitted.FinishedAt != nil {
		t.Fatalf("submitted snapshot changed: %+v", submitted)
	}
}

func TestSubmitUnknownAction(t *testing.T) {
	ctx := context.Background()
	q, _ := newQueue(t, 1, 1)

	got, err := q.Submit(ctx, model.JSON{"action": "launch"})
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.TaskStatusError {
		t.Fatalf("status = %s", got.Status)
	}
	stored, _ := q.Get(ctx, got.ID)
	if stored.Status != model.TaskStatusError || stored.ErrorMessage == nil {
		t.Fatalf("stored = %+v", stored)
	}
}

func TestQueueFull(t *testing.T) {
	ctx := context.Background()
	// not started, so nothing drains the single slot
	q, _ := newQueue(t, 1, 1, funcHandler{action: "ok", run: func(ctx context.Context, t *model.Task) (model.JSON, error) {
		return nil, nil
	}})

	if _, err := q.Submit(ctx, model.JSON{"action": "ok"}); err != nil {
		t.Fatal(err)
	}
	second, err := q.Submit(ctx, model.JSON{"action": "ok"})
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	stored, _ := q.Get(ctx, second.ID)
	if stored.Status != model.TaskStatusError {
		t.Fatalf("overflow task status = %s", stored.Status)
	}
}

func TestStopCancelsAndDrains(t *testing.T) {
	ctx := context.Background()
	started := make(chan struct{})
	var once sync.Once

	q, repo := newQueue(t, 1, 4, funcHandler{action: "slow", run: func(ctx context.Context, t *model.Task) (model.JSON, error) {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return nil, ctx.Err()
	}})
	if err := q.Start(ctx); err != nil {
		t.Fatal(err)
	}

	first, _ := q.Submit(ctx, model.JSON{"action": "slow"})
	<-started
	queued, _ := q.Submit(ctx, model.JSON{"action": "slow"})

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := q.Stop(stopCtx); err != nil {
		t.Fatal(err)
	}

	for _, id := range []string{first.ID, queued.ID} {
		got, err := repo.ByID(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != model.TaskStatusError {
			t.Fatalf("task %s status = %s after shutdown", id, got.Status)
		}
	}

	if _, err := q.Submit(ctx, model.JSON{"action": "slow"}); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("Submit after Stop = %v", err)
	}
}

func TestStartFailsStaleTasks(t *testing.T) {
	ctx := context.Background()
	q, repo := newQueue(t, 1, 1)

	stale := &model.Task{ID: "stale", Params: model.JSON{"action": "dell"}, Status: model.TaskStatusRunning, CreatedAt: time.Now().UTC()}
	if err := repo.Create(ctx, stale); err != nil {
		t.Fatal(err)
	}
	if err := q.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = q.Stop(ctx) }()

	got, _ := repo.ByID(ctx, "stale")
	if got.Status != model.TaskStatusError {
		t.Fatalf("stale task status = %s", got.Status)
	}
}
