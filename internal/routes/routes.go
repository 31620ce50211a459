package routes

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vstu/timetable-tracker/internal/app"
	"github.com/vstu/timetable-tracker/internal/handler"
	"github.com/vstu/timetable-tracker/internal/middleware"
)

func SetupRoutes(app *app.App) http.Handler {
	// Handlers
	tasks := handler.NewTaskHandler(app.Tasks)
	settings := handler.NewSettingsHandler(app.SettingsService)
	snapshots := handler.NewSnapshotHandler(app.SnapshotService)
	timetable := handler.NewTimetableHandler(app.ListingService)
	health := handler.NewHealthHandler(app.DB, app.Cfg.DBDriver)

	mux := http.NewServeMux()

	// ============================================================================
	// PUBLIC ROUTES
	// ============================================================================

	// Replica and snapshot downloads
	mux.Handle("GET /files/", http.StripPrefix("/files/", http.FileServer(http.Dir(app.LocalStorage.Root()))))
	mux.Handle("GET /snapshots/", http.StripPrefix("/snapshots/", http.FileServer(http.Dir(app.Cfg.SnapshotDir))))

	// Timetable drill-down
	mux.HandleFunc("GET /api/timetable/params", timetable.Params)

	// Operations
	mux.HandleFunc("GET /healthz", health.Health)
	mux.Handle("GET /metrics", promhttp.Handler())

	// ============================================================================
	// ADMIN ROUTES (rate limited)
	// ============================================================================

	rateLimiter := middleware.RateLimit(app.Cfg.RateLimit, app.Cfg.RateLimitWindow)

	// Tasks
	mux.HandleFunc("POST /admin/tasks", rateLimiter(tasks.Create))
	mux.HandleFunc("GET /admin/tasks/{id}", tasks.Status)
	mux.HandleFunc("POST /admin/update_timetable", rateLimiter(tasks.UpdateTimetable))
	mux.HandleFunc("GET /admin/update_timetable", tasks.UpdateTimetable)

	// Settings
	mux.HandleFunc("GET /admin/settings", settings.List)
	mux.HandleFunc("POST /admin/settings", rateLimiter(settings.Update))

	// Snapshots
	mux.HandleFunc("GET /admin/snapshots/latest", snapshots.Latest)

	return middleware.Chain(mux,
		middleware.RequestID,
		middleware.RequestLogging,
		middleware.Recover,
	)
}
