package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/vstu/timetable-tracker/internal/model"
	"github.com/vstu/timetable-tracker/internal/repository"
	"github.com/vstu/timetable-tracker/internal/task"
)

type TaskHandler struct {
	queue *task.Queue
}

func NewTaskHandler(queue *task.Queue) *TaskHandler {
	return &TaskHandler{queue: queue}
}

// Create queues the action named in the request and answers with the task id.
func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	params, err := readParams(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.submit(w, r, model.JSON(params))
}

// Status reports the state of a task.
func (h *TaskHandler) Status(w http.ResponseWriter, r *http.Request) {
	h.status(w, r, r.PathValue("id"))
}

// UpdateTimetable starts a pass (POST) or polls one by process_id (GET).
func (h *TaskHandler) UpdateTimetable(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		id := r.URL.Query().Get("process_id")
		if id == "" {
			writeError(w, http.StatusBadRequest, "process_id is required")
			return
		}
		h.status(w, r, id)
		return
	}

	h.submit(w, r, model.JSON{"action": model.TaskActionUpdateTimetable})
}

func (h *TaskHandler) submit(w http.ResponseWriter, r *http.Request, params model.JSON) {
	if params.String("action") == "" {
		writeError(w, http.StatusBadRequest, "action is required")
		return
	}

	t, err := h.queue.Submit(r.Context(), params)
	if errors.Is(err, task.ErrQueueFull) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":        model.TaskStatusError,
			"id":            t.ID,
			"error_message": err.Error(),
		})
		return
	}
	if errors.Is(err, task.ErrQueueClosed) {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if err != nil {
		slog.Error("failed to submit task", "error", err, "action", params.String("action"))
		writeError(w, http.StatusInternalServerError, "failed to create task")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"status": t.Status, "id": t.ID})
}

func (h *TaskHandler) status(w http.ResponseWriter, r *http.Request, id string) {
	t, err := h.queue.Get(r.Context(), id)
	if errors.Is(err, repository.ErrTaskNotFound) {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		slog.Error("failed to load task", "error", err, "task_id", id)
		writeError(w, http.StatusInternalServerError, "failed to load task")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":        t.Status,
		"result":        t.Result,
		"error_message": t.ErrorMessage,
	})
}
