package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/vstu/timetable-tracker/internal/db"
	"github.com/vstu/timetable-tracker/internal/model"
	"github.com/vstu/timetable-tracker/internal/repository"
	"github.com/vstu/timetable-tracker/internal/storage"
)

const (
	ComponentAllStorages = "all_storages"
	ComponentSystem      = "system"
)

var ErrUnknownComponent = errors.New("unknown component")

// CleanupService removes replicas and, on request, the whole version history.
type CleanupService struct {
	db       *sqlx.DB
	storages repository.StorageRepository
	backends *storage.Set
	tagCache *repository.TagCache
}

func NewCleanupService(database *sqlx.DB, storages repository.StorageRepository, backends *storage.Set, tagCache *repository.TagCache) *CleanupService {
	return &CleanupService{db: database, storages: storages, backends: backends, tagCache: tagCache}
}

// Clear deletes what component names: one backend's replicas, every
// replica (all_storages) or every replica plus all resources (system).
// It returns the number of replica rows removed.
func (s *CleanupService) Clear(ctx context.Context, component string) (int, error) {
	var replicas []*model.Storage
	var err error

	switch component {
	case ComponentAllStorages, ComponentSystem:
		replicas, err = s.storages.All(ctx)
	default:
		if _, ok := s.backends.Get(component); !ok {
			return 0, fmt.Errorf("%w: %q", ErrUnknownComponent, component)
		}
		replicas, err = s.storages.ByType(ctx, component)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to list replicas: %w", err)
	}

	removed := 0
	// moved versions share their predecessor's objects
	deleted := make(map[[2]string]bool, len(replicas))
	for _, st := range replicas {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		object := [2]string{st.StorageType, st.Path}
		if !deleted[object] {
			s.deleteReplica(ctx, st)
			deleted[object] = true
		}

		err = s.storages.Delete(ctx, st.ID)
		if err != nil {
			return removed, fmt.Errorf("failed to delete replica row: %w", err)
		}
		removed++
	}

	if component == ComponentSystem {
		err = s.wipe(ctx)
		if err != nil {
			return removed, err
		}
	}

	slog.Info("storage cleared", "component", component, "replicas", removed)
	return removed, nil
}

// deleteReplica removes the backend object. Objects already gone or held by
// backends without delete support are skipped.
func (s *CleanupService) deleteReplica(ctx context.Context, st *model.Storage) {
	b, ok := s.backends.Get(st.StorageType)
	if !ok {
		return
	}
	d, ok := b.(storage.Deleter)
	if !ok {
		return
	}
	err := d.Delete(ctx, st)
	if err != nil {
		slog.Warn("failed to delete replica object", "storage", st.StorageType, "path", st.Path, "error", err)
	}
}

func (s *CleanupService) wipe(ctx context.Context) error {
	err := db.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		err := repository.NewStorageRepository(tx).DeleteAll(ctx)
		if err != nil {
			return err
		}
		err = repository.NewFileVersionRepository(tx).DeleteAll(ctx)
		if err != nil {
			return err
		}
		err = repository.NewTagRepository(tx, s.tagCache).DeleteAll(ctx)
		if err != nil {
			return err
		}
		return repository.NewResourceRepository(tx).DeleteAll(ctx)
	})
	s.tagCache.Purge()
	if err != nil {
		return fmt.Errorf("failed to wipe version history: %w", err)
	}
	return nil
}

// ClearHandler runs the dell task.
type ClearHandler struct {
	cleanup *CleanupService
}

func NewClearHandler(cleanup *CleanupService) *ClearHandler {
	return &ClearHandler{cleanup: cleanup}
}

func (h *ClearHandler) Action() string {
	return model.TaskActionClear
}

func (h *ClearHandler) Run(ctx context.Context, t *model.Task) (model.JSON, error) {
	component := t.Params.String("component")
	if component == "" {
		return nil, errors.New("component is required")
	}
	removed, err := h.cleanup.Clear(ctx, component)
	if err != nil {
		return nil, err
	}
	return model.JSON{"component": component, "removed": removed}, nil
}
