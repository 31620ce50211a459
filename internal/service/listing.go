package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/vstu/timetable-tracker/internal/model"
	"github.com/vstu/timetable-tracker/internal/repository"
	"github.com/vstu/timetable-tracker/internal/storage"
)

const (
	ListingSelector = "selector"
	ListingFiles    = "files"

	lastUpdateLayout = "02/01/2006 15:04"
)

// SelectorOrder is the drill-down order of tag categories with the prompt
// shown for each.
var SelectorOrder = []struct {
	Category    string
	Description string
}{
	{model.TagCategoryEducationForm, "Выбрать форму обучения"},
	{model.TagCategoryFaculty, "Выбрать факультет"},
	{model.TagCategoryCourse, "Выбрать курс"},
}

type Listing struct {
	Result              string      `json:"result"`
	SelectorName        string      `json:"selector_name,omitempty"`
	SelectorDescription string      `json:"selector_description,omitempty"`
	SelectorItems       []string    `json:"selector_items,omitempty"`
	Files               []FileEntry `json:"files,omitempty"`
}

type FileEntry struct {
	Name           string            `json:"name"`
	LastUpdate     string            `json:"last_update"`
	DownloadURL    string            `json:"download_url"`
	ViewURLs       map[string]string `json:"view_urls"`
	ArchiveURLs    map[string]string `json:"archive_urls"`
	VisViewURL     *string           `json:"vis_view_url"`
	LastLastUpdate *time.Time        `json:"last_last_update,omitempty"`
}

// ListingService answers the public timetable drill-down.
type ListingService struct {
	resources repository.ResourceRepository
	tags      repository.TagRepository
	versions  repository.FileVersionRepository
	storages  repository.StorageRepository
	backends  *storage.Set
	settings  *SettingsService
}

func NewListingService(
	resources repository.ResourceRepository,
	tags repository.TagRepository,
	versions repository.FileVersionRepository,
	storages repository.StorageRepository,
	backends *storage.Set,
	settings *SettingsService,
) *ListingService {
	return &ListingService{
		resources: resources,
		tags:      tags,
		versions:  versions,
		storages:  storages,
		backends:  backends,
		settings:  settings,
	}
}

// Params filters active resources by category=name pairs. While a drill-down
// category is still open it returns the next selector, otherwise the files.
func (s *ListingService) Params(ctx context.Context, filters map[string]string) (*Listing, error) {
	tagIDs := make([]string, 0, len(filters))
	for category, name := range filters {
		tag, err := s.tags.ByName(ctx, category, name)
		if errors.Is(err, repository.ErrTagNotFound) {
			return &Listing{Result: ListingFiles, Files: []FileEntry{}}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to resolve tag: %w", err)
		}
		tagIDs = append(tagIDs, tag.ID)
	}

	resources, err := s.resources.WithTags(ctx, tagIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to filter resources: %w", err)
	}

	ids := make([]string, 0, len(resources))
	for _, r := range resources {
		ids = append(ids, r.ID)
	}
	related, err := s.tags.TagsForResources(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load related tags: %w", err)
	}

	open := make(map[string]map[string]bool)
	for _, tags := range related {
		for _, t := range tags {
			if _, used := filters[t.Category]; used {
				continue
			}
			if open[t.Category] == nil {
				open[t.Category] = make(map[string]bool)
			}
			open[t.Category][t.Name] = true
		}
	}

	for _, sel := range SelectorOrder {
		names, ok := open[sel.Category]
		if !ok {
			continue
		}
		items := make([]string, 0, len(names))
		for n := range names {
			items = append(items, n)
		}
		sort.Strings(items)
		return &Listing{
			Result:              ListingSelector,
			SelectorName:        sel.Category,
			SelectorDescription: sel.Description,
			SelectorItems:       items,
		}, nil
	}

	files, err := s.files(ctx, resources)
	if err != nil {
		return nil, err
	}
	return &Listing{Result: ListingFiles, Files: files}, nil
}

func (s *ListingService) files(ctx context.Context, resources []*model.Resource) ([]FileEntry, error) {
	downloadStorage := s.settings.DownloadStorage(ctx)
	files := make([]FileEntry, 0, len(resources))

	for _, res := range resources {
		if res.IsDerived() {
			continue
		}
		versions, err := s.versions.ByResource(ctx, res.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load versions of %s: %w", res.Name, err)
		}
		if len(versions) == 0 {
			continue
		}
		sort.SliceStable(versions, func(i, j int) bool {
			if !versions[i].LastChanged.Equal(versions[j].LastChanged) {
				return versions[i].LastChanged.After(versions[j].LastChanged)
			}
			return versions[i].Timestamp.After(versions[j].Timestamp)
		})
		latest := versions[0]

		replicas, err := s.storages.ByFileVersion(ctx, latest.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load replicas of %s: %w", res.Name, err)
		}

		entry := FileEntry{
			Name:        res.Name,
			LastUpdate:  latest.LastChanged.Format(lastUpdateLayout),
			ViewURLs:    map[string]string{},
			ArchiveURLs: map[string]string{},
		}
		for _, st := range replicas {
			if st.StorageType == downloadStorage {
				entry.DownloadURL = s.downloadURL(st)
			}
			if st.ResourceURL != nil {
				entry.ViewURLs[st.StorageType] = *st.ResourceURL
			}
			if st.ArchiveURL != nil {
				entry.ArchiveURLs[st.StorageType] = *st.ArchiveURL
			}
		}
		if len(versions) > 2 {
			ts := versions[1].Timestamp
			entry.LastLastUpdate = &ts
		}

		entry.VisViewURL, err = s.visViewURL(ctx, res)
		if err != nil {
			return nil, err
		}
		files = append(files, entry)
	}
	return files, nil
}

// downloadURL asks the backend for a fresh link so presigned urls do not expire in listings.
func (s *ListingService) downloadURL(st *model.Storage) string {
	if b, ok := s.backends.Get(st.StorageType); ok {
		if u := b.DownloadURL(st); u != "" {
			return u
		}
	}
	return st.DownloadURL
}

// visViewURL prefers the Google Drive view link of the latest visualization.
func (s *ListingService) visViewURL(ctx context.Context, res *model.Resource) (*string, error) {
	vis, err := s.resources.DerivedFrom(ctx, res.ID)
	if errors.Is(err, repository.ErrResourceNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load visualization of %s: %w", res.Name, err)
	}
	version, err := s.versions.Latest(ctx, vis.ID)
	if errors.Is(err, repository.ErrFileVersionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	replicas, err := s.storages.ByFileVersion(ctx, version.ID)
	if err != nil {
		return nil, err
	}

	var fallback *string
	for _, st := range replicas {
		if st.ResourceURL == nil {
			continue
		}
		if st.StorageType == storage.TypeGoogleDrive {
			return st.ResourceURL, nil
		}
		if fallback == nil {
			fallback = st.ResourceURL
		}
	}
	return fallback, nil
}
