package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/vstu/timetable-tracker/internal/apperr"
	"github.com/vstu/timetable-tracker/internal/logger"
	"github.com/vstu/timetable-tracker/internal/metrics"
	"github.com/vstu/timetable-tracker/internal/model"
	"github.com/vstu/timetable-tracker/internal/repository"
	"github.com/vstu/timetable-tracker/internal/storage"
	"golang.org/x/sync/errgroup"
)

// Replicator mirrors a version into every configured backend.
type Replicator struct {
	backends *storage.Set
	storages repository.StorageRepository
}

func NewReplicator(backends *storage.Set, storages repository.StorageRepository) *Replicator {
	return &Replicator{backends: backends, storages: storages}
}

// Replicate uploads file to each backend that holds no replica of version
// yet. Backends are independent: one failing leaves its row absent while the
// rest are recorded. The returned error joins the per-backend failures.
func (r *Replicator) Replicate(ctx context.Context, file string, res *model.Resource, version *model.FileVersion) ([]*model.Storage, error) {
	log := logger.From(ctx).With("component", "replicate", "resource", res.Name, "version_id", version.ID)

	existing, err := r.storages.ByFileVersion(ctx, version.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load replicas: %w", err)
	}
	have := make(map[string]bool, len(existing))
	for _, st := range existing {
		have[st.StorageType] = true
	}

	var (
		mu      sync.Mutex
		created []*model.Storage
		errs    []error
	)
	var g errgroup.Group
	for _, b := range r.backends.All() {
		if have[b.StorageType()] {
			continue
		}
		g.Go(func() error {
			st, err := b.Put(ctx, file, res, version)
			if err == nil {
				err = r.storages.Create(ctx, st)
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil && !errors.Is(err, repository.ErrStorageExists) {
				metrics.ReplicationsTotal.WithLabelValues(b.StorageType(), "failed").Inc()
				log.Error("failed to replicate version", "storage", b.StorageType(), "error", err)
				errs = append(errs, apperr.Replication(b.StorageType(), err))
				return nil
			}
			metrics.ReplicationsTotal.WithLabelValues(b.StorageType(), "ok").Inc()
			log.Debug("replicated version", "storage", b.StorageType(), "path", st.Path)
			created = append(created, st)
			return nil
		})
	}
	_ = g.Wait()

	if len(created) > 0 {
		log.Info("version replicated", slog.Int("replicas", len(created)), slog.Int("failed", len(errs)))
	}
	return created, errors.Join(errs...)
}

// Fetch pulls a replica of version to dst, preferring the preferred backend
// type and falling back to any other backend that can read back.
func (r *Replicator) Fetch(ctx context.Context, replicas []*model.Storage, preferred, dst string) error {
	ordered := make([]*model.Storage, 0, len(replicas))
	for _, st := range replicas {
		if st.StorageType == preferred {
			ordered = append([]*model.Storage{st}, ordered...)
		} else {
			ordered = append(ordered, st)
		}
	}

	var errs []error
	for _, st := range ordered {
		b, ok := r.backends.Get(st.StorageType)
		if !ok {
			continue
		}
		f, ok := b.(storage.Fetcher)
		if !ok {
			continue
		}
		err := f.Fetch(ctx, st, dst)
		if err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", st.StorageType, err))
	}
	if len(errs) == 0 {
		return errNoReplica
	}
	return apperr.TransientIO("fetch replica", errors.Join(errs...))
}

var errNoReplica = errors.New("no readable replica")
