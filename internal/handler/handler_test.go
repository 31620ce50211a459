package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/vstu/timetable-tracker/internal/config"
	"github.com/vstu/timetable-tracker/internal/model"
	"github.com/vstu/timetable-tracker/internal/repository"
	"github.com/vstu/timetable-tracker/internal/service"
	"github.com/vstu/timetable-tracker/internal/storage"
	"github.com/vstu/timetable-tracker/internal/task"
	"github.com/vstu/timetable-tracker/internal/testutil"
)

type echoHandler struct{}

func (echoHandler) Action() string { return "echo" }

func (echoHandler) Run(ctx context.Context, t *model.Task) (model.JSON, error) {
	return model.JSON{"echo": t.Params.String("value")}, nil
}

type updateHandler struct{}

func (updateHandler) Action() string { return model.TaskActionUpdateTimetable }

func (updateHandler) Run(ctx context.Context, t *model.Task) (model.JSON, error) {
	return model.JSON{"finished": time.Now().UTC().Format(time.RFC3339)}, nil
}

func taskMux(t *testing.T, started bool, size int) *http.ServeMux {
	t.Helper()
	reg := task.NewRegistry()
	for _, h := range []task.Handler{echoHandler{}, updateHandler{}} {
		if err := reg.Register(h); err != nil {
			t.Fatal(err)
		}
	}
	q := task.NewQueue(repository.NewTaskRepository(testutil.DB(t)), reg, 1, size)
	if started {
		if err := q.Start(context.Background()); err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = q.Stop(ctx)
		})
	}

	h := NewTaskHandler(q)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /admin/tasks", h.Create)
	mux.HandleFunc("GET /admin/tasks/{id}", h.Status)
	mux.HandleFunc("GET /admin/update_timetable", h.UpdateTimetable)
	mux.HandleFunc("POST /admin/update_timetable", h.UpdateTimetable)
	return mux
}

func do(t *testing.T, h http.Handler, req *http.Request) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	body := map[string]any{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %s %s: %v (%q)", req.Method, req.URL, err, rec.Body.String())
	}
	return rec.Code, body
}

func postJSON(path, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func postForm(path string, values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func waitStatus(t *testing.T, mux http.Handler, path string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		code, body := do(t, mux, httptest.NewRequest(http.MethodGet, path, nil))
		if code != http.StatusOK {
			t.Fatalf("GET %s = %d %v", path, code, body)
		}
		if body["status"] != model.TaskStatusRunning {
			return body
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("%s still running", path)
	return nil
}

func TestTaskCreateAndStatus(t *testing.T) {
	mux := taskMux(t, true, 4)

	code, body := do(t, mux, postJSON("/admin/tasks", `{"action":"echo","value":"hi"}`))
	if code != http.StatusAccepted {
		t.Fatalf("create = %d %v", code, body)
	}
	id, _ := body["id"].(string)
	if id == "" || body["status"] != model.TaskStatusRunning {
		t.Fatalf("create body = %v", body)
	}

	got := waitStatus(t, mux, "/admin/tasks/"+id)
	if got["status"] != model.TaskStatusSuccess {
		t.Fatalf("status = %v", got)
	}
	result, _ := got["result"].(map[string]any)
	if result["echo"] != "hi" {
		t.Fatalf("result = %v", got["result"])
	}
}

func TestTaskCreateValidation(t *testing.T) {
	mux := taskMux(t, true, 4)

	code, _ := do(t, mux, postJSON("/admin/tasks", `{"value":"no action"}`))
	if code != http.StatusBadRequest {
		t.Fatalf("missing action = %d", code)
	}
	code, _ = do(t, mux, postJSON("/admin/tasks", `{not json`))
	if code != http.StatusBadRequest {
		t.Fatalf("bad json = %d", code)
	}

	code, body := do(t, mux, postForm("/admin/tasks", url.Values{"action": {"unknown"}}))
	if code != http.StatusAccepted {
		t.Fatalf("unknown action = %d %v", code, body)
	}
	got := waitStatus(t, mux, "/admin/tasks/"+body["id"].(string))
	if got["status"] != model.TaskStatusError || got["error_message"] == "" {
		t.Fatalf("unknown action status = %v", got)
	}

	code, body = do(t, mux, httptest.NewRequest(http.MethodGet, "/admin/tasks/missing", nil))
	if code != http.StatusNotFound || body["status"] != "error" {
		t.Fatalf("missing task = %d %v", code, body)
	}
}

func TestTaskQueueFull(t *testing.T) {
	mux := taskMux(t, false, 1)

	code, _ := do(t, mux, postJSON("/admin/tasks", `{"action":"echo"}`))
	if code != http.StatusAccepted {
		t.Fatalf("first submit = %d", code)
	}
	code, body := do(t, mux, postJSON("/admin/tasks", `{"action":"echo"}`))
	if code != http.StatusServiceUnavailable || body["id"] == "" {
		t.Fatalf("second submit = %d %v", code, body)
	}
}

func TestUpdateTimetableAlias(t *testing.T) {
	mux := taskMux(t, true, 4)

	code, body := do(t, mux, httptest.NewRequest(http.MethodPost, "/admin/update_timetable", nil))
	if code != http.StatusAccepted {
		t.Fatalf("start = %d %v", code, body)
	}
	got := waitStatus(t, mux, "/admin/update_timetable?process_id="+body["id"].(string))
	if got["status"] != model.TaskStatusSuccess {
		t.Fatalf("poll = %v", got)
	}

	code, _ = do(t, mux, httptest.NewRequest(http.MethodGet, "/admin/update_timetable", nil))
	if code != http.StatusBadRequest {
		t.Fatalf("poll without id = %d", code)
	}
}

func newSettings(t *testing.T, database *sqlx.DB) *service.SettingsService {
	t.Helper()
	cfg := &config.Config{
		UpdateMinutes:   config.DefaultUpdateMinutes,
		AnalyzeURL:      config.DefaultAnalyzeURL,
		DownloadStorage: storage.TypeLocal,
	}
	return service.NewSettingsService(repository.NewSettingRepository(database), cfg, []string{storage.TypeLocal})
}

func TestSettingsUpdate(t *testing.T) {
	database := testutil.DB(t)
	settings := newSettings(t, database)
	h := NewSettingsHandler(settings)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /admin/settings", h.List)
	mux.HandleFunc("POST /admin/settings", h.Update)
	ctx := context.Background()

	code, body := do(t, mux, postForm("/admin/settings", url.Values{"scanFrequency": {"45"}}))
	if code != http.StatusOK || body["status"] != "success" {
		t.Fatalf("update = %d %v", code, body)
	}
	if got := settings.UpdateInterval(ctx); got != 45*time.Minute {
		t.Fatalf("interval = %v", got)
	}

	code, _ = do(t, mux, postForm("/admin/settings", url.Values{"password": {"x"}}))
	if code != http.StatusBadRequest {
		t.Fatalf("unknown key = %d", code)
	}

	// one invalid value keeps the valid one from being stored
	code, _ = do(t, mux, postJSON("/admin/settings", `{"time_update":"10","download_storage":"ftp"}`))
	if code != http.StatusBadRequest {
		t.Fatalf("invalid storage = %d", code)
	}
	if got := settings.UpdateInterval(ctx); got != 45*time.Minute {
		t.Fatalf("interval changed to %v by a rejected update", got)
	}

	code, body = do(t, mux, httptest.NewRequest(http.MethodGet, "/admin/settings", nil))
	if code != http.StatusOK {
		t.Fatalf("list = %d", code)
	}
	list, _ := body["settings"].([]any)
	if len(list) != len(model.AvailableSettings) {
		t.Fatalf("settings = %v", body)
	}
}

func TestSnapshotLatest(t *testing.T) {
	database := testutil.DB(t)
	dir := t.TempDir()
	snapshots := service.NewSnapshotService(repository.NewSnapshotRepository(database), service.SnapshotConfig{
		Dir:       filepath.Join(dir, "snapshots"),
		PublicURL: "http://tracker.test",
		LocalRoot: filepath.Join(dir, "files"),
	})
	h := NewSnapshotHandler(snapshots)

	code, body := do(t, http.HandlerFunc(h.Latest), httptest.NewRequest(http.MethodGet, "/admin/snapshots/latest?type=database", nil))
	if code != http.StatusOK || body["url"] != "" {
		t.Fatalf("empty latest = %d %v", code, body)
	}

	snap, err := snapshots.Create(context.Background(), service.SnapshotDatabase)
	if err != nil {
		t.Fatal(err)
	}
	code, body = do(t, http.HandlerFunc(h.Latest), httptest.NewRequest(http.MethodGet, "/admin/snapshots/latest?snapshot_type=database", nil))
	if code != http.StatusOK || body["url"] != snap.URL {
		t.Fatalf("latest = %d %v, want %s", code, body, snap.URL)
	}

	code, _ = do(t, http.HandlerFunc(h.Latest), httptest.NewRequest(http.MethodGet, "/admin/snapshots/latest", nil))
	if code != http.StatusBadRequest {
		t.Fatalf("missing type = %d", code)
	}
}

func TestTimetableParamsUnknownTag(t *testing.T) {
	database := testutil.DB(t)
	local, err := storage.NewLocalStorage(t.TempDir(), "http://tracker.test")
	if err != nil {
		t.Fatal(err)
	}
	tags := repository.NewTagRepository(database, repository.NewTagCache(16))
	listing := service.NewListingService(
		repository.NewResourceRepository(database),
		tags,
		repository.NewFileVersionRepository(database),
		repository.NewStorageRepository(database),
		storage.NewSet(local),
		newSettings(t, database),
	)
	h := NewTimetableHandler(listing)

	req := httptest.NewRequest(http.MethodGet, "/api/timetable/params?"+model.TagCategoryFaculty+"=ФЭВТ&page=2", nil)
	code, body := do(t, http.HandlerFunc(h.Params), req)
	if code != http.StatusOK || body["result"] != service.ListingFiles {
		t.Fatalf("params = %d %v", code, body)
	}
}

func TestHealth(t *testing.T) {
	h := NewHealthHandler(testutil.DB(t), "sqlite")
	code, body := do(t, http.HandlerFunc(h.Health), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("health = %d %v", code, body)
	}
	if v, _ := body["migration_version"].(float64); v < 1 {
		t.Fatalf("migration_version = %v", body["migration_version"])
	}
}
