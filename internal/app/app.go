package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/vstu/timetable-tracker/internal/apperr"
	"github.com/vstu/timetable-tracker/internal/config"
	"github.com/vstu/timetable-tracker/internal/crawler"
	"github.com/vstu/timetable-tracker/internal/ctxkeys"
	"github.com/vstu/timetable-tracker/internal/db"
	"github.com/vstu/timetable-tracker/internal/highlight"
	"github.com/vstu/timetable-tracker/internal/lock"
	"github.com/vstu/timetable-tracker/internal/model"
	"github.com/vstu/timetable-tracker/internal/repository"
	"github.com/vstu/timetable-tracker/internal/scheduler"
	"github.com/vstu/timetable-tracker/internal/service"
	"github.com/vstu/timetable-tracker/internal/storage"
	"github.com/vstu/timetable-tracker/internal/task"
)

type App struct {
	Cfg                  *config.Config
	DB                   *sqlx.DB
	Backends             *storage.Set
	LocalStorage         *storage.LocalStorage
	SettingsService      *service.SettingsService
	SyncService          *service.SyncService
	VisualizationService *service.VisualizationService
	ListingService       *service.ListingService
	SnapshotService      *service.SnapshotService
	CleanupService       *service.CleanupService
	Tasks                *task.Queue
	Scheduler            *scheduler.Scheduler
}

// Options override collaborators, mainly for the CLI and tests.
type Options struct {
	Crawler crawler.Crawler
}

func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	// Initialize database
	database, err := db.Init(cfg.DBDriver, cfg.DBConnection)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %v", err)
	}

	// Run database migrations
	err = db.RunMigrations(ctx, database.DB, cfg.DBDriver)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to run migrations: %v", err)
	}

	// Repositories
	tagCache := repository.NewTagCache(512)
	resourceRepository := repository.NewResourceRepository(database)
	tagRepository := repository.NewTagRepository(database, tagCache)
	fileVersionRepository := repository.NewFileVersionRepository(database)
	storageRepository := repository.NewStorageRepository(database)
	taskRepository := repository.NewTaskRepository(database)
	settingRepository := repository.NewSettingRepository(database)
	snapshotRepository := repository.NewSnapshotRepository(database)

	// Settings come first: the drive backend reads its credentials path from them
	settingsService := service.NewSettingsService(settingRepository, cfg, cfg.StorageBackends)

	// Storage
	backends, local, err := newBackends(ctx, cfg, settingsService)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to initialize storage: %v", err)
	}

	// Services
	store := service.NewVersionStore(database, tagCache)
	replicator := service.NewReplicator(backends, storageRepository)
	visualizationService := service.NewVisualizationService(fileVersionRepository, storageRepository, store, replicator, service.VisualizationConfig{
		VisDir:        cfg.VisDir,
		TempDir:       cfg.TempDir,
		SourceStorage: cfg.DiffSourceStorage,
		Highlight: highlight.Options{
			ExpirationDays: cfg.ExpirationDays,
			AgeFrom:        cfg.HighlightAgeFrom,
		},
	})

	c := opts.Crawler
	if c == nil {
		c = crawler.NewIndex(cfg.DownloadTimeout, cfg.UserAgent)
	}
	syncService := service.NewSyncService(
		c,
		settingsService,
		store,
		resourceRepository,
		replicator,
		visualizationService,
		lock.ForDriver(cfg.DBDriver, database),
		service.SyncConfig{TempDir: cfg.TempDir, StartPaths: cfg.StartPaths},
	)
	listingService := service.NewListingService(resourceRepository, tagRepository, fileVersionRepository, storageRepository, backends, settingsService)
	snapshotService := service.NewSnapshotService(snapshotRepository, service.SnapshotConfig{
		Dir:       cfg.SnapshotDir,
		PublicURL: publicURL(cfg),
		LocalRoot: cfg.LocalRoot,
		VisDir:    cfg.VisDir,
	})
	cleanupService := service.NewCleanupService(database, storageRepository, backends, tagCache)

	// Tasks
	registry := task.NewRegistry()
	for _, h := range []task.Handler{
		service.NewUpdateTimetableHandler(syncService),
		service.NewSnapshotHandler(snapshotService),
		service.NewClearHandler(cleanupService),
	} {
		err = registry.Register(h)
		if err != nil {
			database.Close()
			return nil, err
		}
	}
	queue := task.NewQueue(taskRepository, registry, cfg.TaskWorkers, cfg.TaskQueueSize)

	// Scheduler
	sched := scheduler.New(func(ctx context.Context) error {
		ctx = ctxkeys.WithTrigger(ctx, "scheduler")
		_, err := syncService.Run(ctx)
		if errors.Is(err, service.ErrPassInProgress) {
			slog.Warn("scheduled pass skipped, another pass is running")
			return nil
		}
		return err
	}, settingsService.UpdateInterval(ctx))

	settingsService.OnChange(func(ctx context.Context, key, value string) error {
		if key != model.SettingTimeUpdate {
			return nil
		}
		return sched.Reschedule(settingsService.UpdateInterval(ctx))
	})

	return &App{
		Cfg:                  cfg,
		DB:                   database,
		Backends:             backends,
		LocalStorage:         local,
		SettingsService:      settingsService,
		SyncService:          syncService,
		VisualizationService: visualizationService,
		ListingService:       listingService,
		SnapshotService:      snapshotService,
		CleanupService:       cleanupService,
		Tasks:                queue,
		Scheduler:            sched,
	}, nil
}

// Start launches the task workers and, when enabled, the scheduler.
func (a *App) Start(ctx context.Context) error {
	err := a.Tasks.Start(ctx)
	if err != nil {
		return err
	}
	if !a.Cfg.SchedulerOn {
		slog.Info("scheduler disabled")
		return nil
	}
	return a.Scheduler.Start()
}

// Shutdown stops the scheduler and the task workers, waiting until ctx expires.
func (a *App) Shutdown(ctx context.Context) error {
	return errors.Join(
		a.Scheduler.Stop(ctx),
		a.Tasks.Stop(ctx),
	)
}

func (a *App) Close() error {
	if a.DB != nil {
		return a.DB.Close()
	}
	return nil
}

func publicURL(cfg *config.Config) string {
	if cfg.LocalPublicURL != "" {
		return cfg.LocalPublicURL
	}
	return cfg.AppURL
}

// newBackends builds the configured replication targets. A remote backend
// that cannot be configured is logged and left out; the local one is required.
func newBackends(ctx context.Context, cfg *config.Config, settings *service.SettingsService) (*storage.Set, *storage.LocalStorage, error) {
	local, err := storage.NewLocalStorage(cfg.LocalRoot, publicURL(cfg))
	if err != nil {
		return nil, nil, err
	}

	var backends []storage.Backend
	for _, name := range cfg.StorageBackends {
		switch name {
		case storage.TypeLocal:
			backends = append(backends, local)
		case storage.TypeGoogleDrive:
			drive, err := storage.NewGoogleDrive(ctx, storage.GoogleDriveConfig{
				CredentialsFile: settings.GoogleJSONDir(ctx),
				RootFolderID:    cfg.DriveRootFolderID,
				Timeout:         cfg.UploadTimeout,
			})
			if err != nil {
				slog.Error("google drive backend disabled", "error", apperr.Configuration("google drive", err))
				continue
			}
			backends = append(backends, drive)
		case storage.TypeS3:
			s3, err := storage.NewS3Storage(ctx, storage.S3Config{
				Region:        cfg.S3Region,
				Bucket:        cfg.S3Bucket,
				AccessKey:     cfg.S3AccessKey,
				SecretKey:     cfg.S3SecretKey,
				Endpoint:      cfg.S3Endpoint,
				PublicURL:     cfg.S3PublicURL,
				PresignExpiry: cfg.S3PresignExpiry,
				Timeout:       cfg.UploadTimeout,
			})
			if err != nil {
				slog.Error("s3 backend disabled", "error", apperr.Configuration("s3", err))
				continue
			}
			backends = append(backends, s3)
		default:
			slog.Warn("unknown storage backend ignored", "backend", name)
		}
	}

	if len(backends) == 0 {
		slog.Warn("no storage backend configured, falling back to local")
		backends = append(backends, local)
	}
	slog.Info("storage backends ready", "backends", storage.NewSet(backends...).Types())
	return storage.NewSet(backends...), local, nil
}

// RunPass runs one pass synchronously under the given trigger name.
func (a *App) RunPass(ctx context.Context, trigger string) (*service.PassResult, error) {
	ctx = ctxkeys.WithTrigger(ctx, trigger)
	started := time.Now()
	result, err := a.SyncService.Run(ctx)
	if err != nil {
		return result, err
	}
	slog.Info("pass complete", "trigger", trigger, "duration", time.Since(started))
	return result, nil
}
