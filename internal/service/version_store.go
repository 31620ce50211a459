package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/vstu/timetable-tracker/internal/db"
	"github.com/vstu/timetable-tracker/internal/model"
	"github.com/vstu/timetable-tracker/internal/repository"
)

// Outcome is the dedup decision for one ingested workbook.
type Outcome string

const (
	OutcomeNew       Outcome = "new"
	OutcomeChanged   Outcome = "changed"   // same url, content differs from the latest version
	OutcomeRelinked  Outcome = "relinked"  // new url and new content
	OutcomeMoved     Outcome = "moved"     // same content published under a new url
	OutcomeUnchanged Outcome = "unchanged" // same url and content
)

// Ingest describes a downloaded workbook. Path and Name are expected to be
// normalized with ResourceKey.
type Ingest struct {
	Path        string
	Name        string
	Tags        []model.Tag
	URL         string
	Hashsum     string
	LastChanged time.Time
}

type IngestResult struct {
	Outcome  Outcome
	Resource *model.Resource
	// Version is the newly recorded version, nil when Outcome is unchanged.
	Version *model.FileVersion
	// Previous is the latest version before this ingest, nil for new resources.
	Previous *model.FileVersion
}

// Replicate reports whether the new version needs uploading to the backends.
func (r *IngestResult) Replicate() bool {
	return r.Outcome == OutcomeNew || r.Outcome == OutcomeChanged || r.Outcome == OutcomeRelinked
}

// Visualize reports whether the version should get a fresh change
// visualization. Only content edits behind an unchanged url qualify.
func (r *IngestResult) Visualize() bool {
	return r.Outcome == OutcomeChanged && r.Previous != nil
}

// VersionStore makes the dedup decision and persists its result. Every
// per-resource mutation runs inside a single transaction.
type VersionStore struct {
	db       *sqlx.DB
	tagCache *repository.TagCache
}

func NewVersionStore(db *sqlx.DB, tagCache *repository.TagCache) *VersionStore {
	return &VersionStore{db: db, tagCache: tagCache}
}

// Ingest records in against the resource lineage for (in.Path, in.Name).
// A deprecated lineage is reactivated instead of duplicated.
func (s *VersionStore) Ingest(ctx context.Context, in Ingest) (*IngestResult, error) {
	var result *IngestResult
	err := s.withTx(ctx, func(resources repository.ResourceRepository, versions repository.FileVersionRepository, tags repository.TagRepository, storages repository.StorageRepository) error {
		now := time.Now().UTC()

		res, err := resources.ByKey(ctx, in.Path, in.Name)
		if errors.Is(err, repository.ErrResourceNotFound) {
			res = &model.Resource{
				ID:        uuid.New().String(),
				Path:      in.Path,
				Name:      in.Name,
				CreatedAt: now,
				UpdatedAt: now,
			}
			err = resources.Create(ctx, res)
			if err != nil {
				return fmt.Errorf("failed to create resource: %w", err)
			}
			version, err := s.addVersion(ctx, versions, res.ID, in, now)
			if err != nil {
				return err
			}
			result = &IngestResult{Outcome: OutcomeNew, Resource: res, Version: version}
			return s.setTags(ctx, tags, res, in.Tags)
		}
		if err != nil {
			return fmt.Errorf("failed to look up resource: %w", err)
		}

		latest, err := versions.Latest(ctx, res.ID)
		if err != nil && !errors.Is(err, repository.ErrFileVersionNotFound) {
			return fmt.Errorf("failed to load latest version: %w", err)
		}

		result = &IngestResult{Resource: res, Previous: latest}
		switch {
		case latest == nil:
			result.Outcome = OutcomeChanged
		case latest.URL != in.URL && latest.Hashsum == in.Hashsum:
			result.Outcome = OutcomeMoved
		case latest.URL != in.URL:
			result.Outcome = OutcomeRelinked
		case latest.Hashsum != in.Hashsum:
			result.Outcome = OutcomeChanged
		default:
			result.Outcome = OutcomeUnchanged
		}

		if result.Outcome != OutcomeUnchanged {
			result.Version, err = s.addVersion(ctx, versions, res.ID, in, now)
			if err != nil {
				return err
			}
		}
		if result.Outcome == OutcomeMoved {
			err = cloneStorages(ctx, storages, latest.ID, result.Version.ID)
			if err != nil {
				return err
			}
		}

		err = resources.SetDeprecated(ctx, res.ID, false)
		if err != nil {
			return fmt.Errorf("failed to refresh resource: %w", err)
		}
		res.Deprecated = false
		res.UpdatedAt = now

		return s.setTags(ctx, tags, res, in.Tags)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RecordDerived attaches a new version of the visualization artifact built
// from source, creating the derived resource on first use.
func (s *VersionStore) RecordDerived(ctx context.Context, source *model.Resource, sourceVersion *model.FileVersion, name, hashsum string) (*model.Resource, *model.FileVersion, error) {
	var derived *model.Resource
	var version *model.FileVersion

	err := s.withTx(ctx, func(resources repository.ResourceRepository, versions repository.FileVersionRepository, tags repository.TagRepository, _ repository.StorageRepository) error {
		now := time.Now().UTC()

		var err error
		derived, err = resources.DerivedFrom(ctx, source.ID)
		if errors.Is(err, repository.ErrResourceNotFound) {
			sourceID := source.ID
			derived = &model.Resource{
				ID:          uuid.New().String(),
				Path:        source.Path,
				Name:        name,
				DerivedFrom: &sourceID,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			err = resources.Create(ctx, derived)
			if err != nil {
				return fmt.Errorf("failed to create derived resource: %w", err)
			}
		} else if err != nil {
			return fmt.Errorf("failed to look up derived resource: %w", err)
		}

		version, err = s.addVersion(ctx, versions, derived.ID, Ingest{
			URL:         sourceVersion.URL,
			Hashsum:     hashsum,
			LastChanged: sourceVersion.LastChanged,
		}, now)
		if err != nil {
			return err
		}

		sourceTags, err := tags.ResourceTags(ctx, source.ID)
		if err != nil {
			return fmt.Errorf("failed to load source tags: %w", err)
		}
		return s.setTags(ctx, tags, derived, sourceTags)
	})
	if err != nil {
		return nil, nil, err
	}
	return derived, version, nil
}

func (s *VersionStore) withTx(ctx context.Context, fn func(repository.ResourceRepository, repository.FileVersionRepository, repository.TagRepository, repository.StorageRepository) error) error {
	err := db.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		return fn(
			repository.NewResourceRepository(tx),
			repository.NewFileVersionRepository(tx),
			repository.NewTagRepository(tx, s.tagCache),
			repository.NewStorageRepository(tx),
		)
	})
	if err != nil {
		// tags created inside the rolled back transaction may be cached
		s.tagCache.Purge()
	}
	return err
}

func (s *VersionStore) addVersion(ctx context.Context, versions repository.FileVersionRepository, resourceID string, in Ingest, now time.Time) (*model.FileVersion, error) {
	lastChanged := in.LastChanged
	if lastChanged.IsZero() {
		lastChanged = now
	}
	version := &model.FileVersion{
		ID:          uuid.New().String(),
		ResourceID:  resourceID,
		URL:         in.URL,
		Hashsum:     in.Hashsum,
		LastChanged: lastChanged.UTC(),
		Timestamp:   now,
	}
	err := versions.Create(ctx, version)
	if err != nil {
		return nil, fmt.Errorf("failed to create file version: %w", err)
	}
	return version, nil
}

func (s *VersionStore) setTags(ctx context.Context, tags repository.TagRepository, res *model.Resource, want []model.Tag) error {
	ids := make([]string, 0, len(want))
	resolved := make([]model.Tag, 0, len(want))
	for _, t := range want {
		if t.Category == "" || t.Name == "" {
			continue
		}
		tag, err := tags.Ensure(ctx, t.Category, t.Name)
		if err != nil {
			return fmt.Errorf("failed to ensure tag %s=%s: %w", t.Category, t.Name, err)
		}
		ids = append(ids, tag.ID)
		resolved = append(resolved, *tag)
	}

	err := tags.SetResourceTags(ctx, res.ID, ids)
	if err != nil {
		return fmt.Errorf("failed to set resource tags: %w", err)
	}
	res.Tags = resolved
	return nil
}

// cloneStorages points the replicas of an identical earlier version at the new one.
func cloneStorages(ctx context.Context, storages repository.StorageRepository, fromVersionID, toVersionID string) error {
	existing, err := storages.ByFileVersion(ctx, fromVersionID)
	if err != nil {
		return fmt.Errorf("failed to load replicas: %w", err)
	}
	for _, st := range existing {
		clone := *st
		clone.ID = uuid.New().String()
		clone.FileVersionID = toVersionID
		clone.CreatedAt = time.Now().UTC()
		err = storages.Create(ctx, &clone)
		if err != nil && !errors.Is(err, repository.ErrStorageExists) {
			return fmt.Errorf("failed to clone replica: %w", err)
		}
	}
	return nil
}
