package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/vstu/timetable-tracker/internal/apperr"
	"github.com/vstu/timetable-tracker/internal/diff"
	"github.com/vstu/timetable-tracker/internal/highlight"
	"github.com/vstu/timetable-tracker/internal/logger"
	"github.com/vstu/timetable-tracker/internal/metrics"
	"github.com/vstu/timetable-tracker/internal/model"
	"github.com/vstu/timetable-tracker/internal/repository"
	"golang.org/x/sync/errgroup"
)

const VisSuffix = "_Виз.xlsx"

// VisName is the name of the visualization artifact of a resource.
func VisName(resourceName string) string {
	return resourceName + VisSuffix
}

type VisualizationConfig struct {
	VisDir        string
	TempDir       string
	SourceStorage string
	Highlight     highlight.Options
}

// VisualizationService rebuilds the change visualization of a resource from
// all of its stored versions.
type VisualizationService struct {
	versions   repository.FileVersionRepository
	storages   repository.StorageRepository
	store      *VersionStore
	replicator *Replicator
	cfg        VisualizationConfig
}

func NewVisualizationService(versions repository.FileVersionRepository, storages repository.StorageRepository, store *VersionStore, replicator *Replicator, cfg VisualizationConfig) *VisualizationService {
	return &VisualizationService{
		versions:   versions,
		storages:   storages,
		store:      store,
		replicator: replicator,
		cfg:        cfg,
	}
}

// Visualize diffs every version of res, highlights latest and records the
// artifact as a new version of the derived resource. latestFile, when set, is
// a local copy of latest used if no replica can be read back. A nil version
// and nil error mean there was not enough history to compare.
func (s *VisualizationService) Visualize(ctx context.Context, res *model.Resource, latest *model.FileVersion, latestFile string) (*model.FileVersion, error) {
	log := logger.From(ctx).With("component", "visualization", "resource", res.Name)

	versions, err := s.versions.ByResource(ctx, res.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	if len(versions) < 2 {
		log.Info("not enough versions to visualize", "versions", len(versions))
		return nil, nil
	}

	err = os.MkdirAll(s.cfg.TempDir, 0755)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	dir, err := os.MkdirTemp(s.cfg.TempDir, "diff-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create diff dir: %w", err)
	}
	defer func() {
		err := os.RemoveAll(dir)
		if err != nil {
			log.Warn("failed to clean diff dir", "dir", dir, "error", err)
		}
	}()

	revisions, latestPath, err := s.fetchRevisions(ctx, dir, versions, latest, latestFile)
	if err != nil {
		return nil, err
	}
	if len(revisions) < 2 || latestPath == "" {
		log.Warn("not enough downloadable versions to visualize", "downloaded", len(revisions))
		metrics.VisualizationsTotal.WithLabelValues("skipped").Inc()
		return nil, nil
	}

	history, err := diff.CompareAll(ctx, revisions)
	if err != nil {
		metrics.VisualizationsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	err = os.MkdirAll(s.cfg.VisDir, 0755)
	if err != nil {
		return nil, fmt.Errorf("failed to create visualization dir: %w", err)
	}
	out := filepath.Join(s.cfg.VisDir, VisName(res.Name))

	painted, err := highlight.Apply(ctx, latestPath, out, history, s.cfg.Highlight)
	if err != nil {
		metrics.VisualizationsTotal.WithLabelValues("failed").Inc()
		return nil, apperr.Diff("highlight "+res.Name, err)
	}

	hash, err := Hashsum(out)
	if err != nil {
		return nil, err
	}
	derived, version, err := s.store.RecordDerived(ctx, res, latest, VisName(res.Name), hash)
	if err != nil {
		return nil, fmt.Errorf("failed to record visualization: %w", err)
	}

	_, err = s.replicator.Replicate(ctx, out, derived, version)
	if err != nil {
		log.Warn("visualization partially replicated", "error", err)
	}

	metrics.VisualizationsTotal.WithLabelValues("ok").Inc()
	log.Info("visualization created", "revisions", len(revisions), "cells", painted, "path", out)
	return version, nil
}

// fetchRevisions downloads every version into dir concurrently. Versions
// without a readable replica are left out.
func (s *VisualizationService) fetchRevisions(ctx context.Context, dir string, versions []*model.FileVersion, latest *model.FileVersion, latestFile string) ([]diff.Revision, string, error) {
	log := logger.From(ctx).With("component", "visualization")

	ids := make([]string, 0, len(versions))
	for _, v := range versions {
		ids = append(ids, v.ID)
	}
	replicas, err := s.storages.ByFileVersions(ctx, ids)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load replicas: %w", err)
	}

	var (
		mu         sync.Mutex
		revisions  []diff.Revision
		latestPath string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, v := range versions {
		g.Go(func() error {
			dst := filepath.Join(dir, fmt.Sprintf("%03d_%s.xlsx", i, v.ID))
			err := s.replicator.Fetch(gctx, replicas[v.ID], s.cfg.SourceStorage, dst)
			if err != nil && v.ID == latest.ID && latestFile != "" {
				err = copyLocal(latestFile, dst)
			}
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				log.Warn("skipping version without readable replica", "version_id", v.ID, "error", err)
				return nil
			}

			mu.Lock()
			defer mu.Unlock()
			revisions = append(revisions, diff.Revision{Path: dst, Timestamp: v.LastChanged})
			if v.ID == latest.ID {
				latestPath = dst
			}
			return nil
		})
	}
	err = g.Wait()
	if err != nil {
		return nil, "", err
	}
	return revisions, latestPath, nil
}

func copyLocal(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	_, err = io.Copy(out, in)
	return errors.Join(err, out.Close())
}
