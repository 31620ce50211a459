package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/vstu/timetable-tracker/internal/model"
)

var (
	ErrTaskNotFound        = errors.New("task not found")
	ErrTaskAlreadyFinished = errors.New("task already finished")
)

type TaskRepository interface {
	Create(ctx context.Context, task *model.Task) error
	ByID(ctx context.Context, id string) (*model.Task, error)
	Finish(ctx context.Context, id, status string, result model.JSON, errorMessage *string) error
	FailRunning(ctx context.Context, message string) (int64, error)
}

type taskRepository struct {
	db sqlx.ExtContext
}

func NewTaskRepository(db sqlx.ExtContext) *taskRepository {
	return &taskRepository{db: db}
}

func (r *taskRepository) Create(ctx context.Context, task *model.Task) error {
	query := `INSERT INTO tasks (id, params, status, result, error_message, created_at, finished_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.ExecContext(ctx, query,
		task.ID,
		task.Params,
		task.Status,
		task.Result,
		task.ErrorMessage,
		task.CreatedAt,
		task.FinishedAt,
	)

	return err
}

func (r *taskRepository) ByID(ctx context.Context, id string) (*model.Task, error) {
	task := &model.Task{}
	query := `SELECT * FROM tasks WHERE id = $1`

	err := sqlx.GetContext(ctx, r.db, task, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}

	return task, nil
}

// Finish writes the terminal state. Only a running task can be finished, so
// the first writer wins and later calls get ErrTaskAlreadyFinished.
func (r *taskRepository) Finish(ctx context.Context, id, status string, result model.JSON, errorMessage *string) error {
	query := `UPDATE tasks SET status = $1, result = $2, error_message = $3, finished_at = $4
	          WHERE id = $5 AND status = $6`

	res, err := r.db.ExecContext(ctx, query,
		status,
		result,
		errorMessage,
		time.Now().UTC(),
		id,
		model.TaskStatusRunning,
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		_, err = r.ByID(ctx, id)
		if err != nil {
			return err
		}
		return ErrTaskAlreadyFinished
	}
	return nil
}

// FailRunning closes out tasks left running by a previous process.
func (r *taskRepository) FailRunning(ctx context.Context, message string) (int64, error) {
	query := `UPDATE tasks SET status = $1, error_message = $2, finished_at = $3 WHERE status = $4`

	res, err := r.db.ExecContext(ctx, query,
		model.TaskStatusError,
		message,
		time.Now().UTC(),
		model.TaskStatusRunning,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
