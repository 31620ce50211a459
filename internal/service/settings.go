package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/vstu/timetable-tracker/internal/config"
	"github.com/vstu/timetable-tracker/internal/model"
	"github.com/vstu/timetable-tracker/internal/repository"
	"github.com/vstu/timetable-tracker/internal/validation"
)

// SettingsService reads runtime settings from the database, falling back to
// the values the process was started with.
type SettingsService struct {
	repo     repository.SettingRepository
	defaults map[string]string
	storages []string

	mu        sync.RWMutex
	listeners []func(ctx context.Context, key, value string) error
}

func NewSettingsService(repo repository.SettingRepository, cfg *config.Config, storageTypes []string) *SettingsService {
	return &SettingsService{
		repo: repo,
		defaults: map[string]string{
			model.SettingTimeUpdate:      strconv.Itoa(cfg.UpdateMinutes),
			model.SettingAnalyzeURL:      cfg.AnalyzeURL,
			model.SettingGoogleJSONDir:   cfg.GoogleJSONDir,
			model.SettingDownloadStorage: cfg.DownloadStorage,
		},
		storages: storageTypes,
	}
}

// OnChange registers fn to run after a setting is stored. An error from fn
// is returned by Set; the new value stays stored.
func (s *SettingsService) OnChange(fn func(ctx context.Context, key, value string) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Get returns the stored value of key or its default.
func (s *SettingsService) Get(ctx context.Context, key string) string {
	setting, err := s.repo.Get(ctx, key)
	if err == nil {
		return setting.Value
	}
	if !errors.Is(err, repository.ErrSettingNotFound) {
		slog.Warn("failed to read setting, using default", "key", key, "error", err)
	}
	return s.defaults[key]
}

// All lists every available setting with its effective value.
func (s *SettingsService) All(ctx context.Context) ([]*model.Setting, error) {
	stored, err := s.repo.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	byKey := make(map[string]*model.Setting, len(stored))
	for _, st := range stored {
		byKey[st.Key] = st
	}

	out := make([]*model.Setting, 0, len(model.AvailableSettings))
	for key, description := range model.AvailableSettings {
		if st, ok := byKey[key]; ok {
			out = append(out, st)
			continue
		}
		out = append(out, &model.Setting{Key: key, Value: s.defaults[key], Description: description})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Validate checks value for key without storing it.
func (s *SettingsService) Validate(key, value string) error {
	return validation.ValidateSetting(key, strings.TrimSpace(value), s.storages)
}

// Set validates and stores a setting, then notifies listeners.
func (s *SettingsService) Set(ctx context.Context, key, value string) error {
	value = strings.TrimSpace(value)
	err := s.Validate(key, value)
	if err != nil {
		return err
	}

	err = s.repo.Upsert(ctx, &model.Setting{
		Key:         key,
		Value:       value,
		Description: model.AvailableSettings[key],
		UpdatedAt:   time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to store setting: %w", err)
	}
	slog.Info("setting updated", "key", key, "value", value)

	s.mu.RLock()
	listeners := append([]func(context.Context, string, string) error(nil), s.listeners...)
	s.mu.RUnlock()

	var errs []error
	for _, fn := range listeners {
		errs = append(errs, fn(ctx, key, value))
	}
	return errors.Join(errs...)
}

// UpdateInterval is the scheduler period. A malformed stored value falls
// back to the default with a warning.
func (s *SettingsService) UpdateInterval(ctx context.Context) time.Duration {
	raw := s.Get(ctx, model.SettingTimeUpdate)
	minutes, ok := config.ParseMinutes(raw)
	if !ok {
		slog.Warn("invalid time_update, using default", "value", raw, "default", config.DefaultUpdateMinutes)
		minutes = config.DefaultUpdateMinutes
	}
	return time.Duration(minutes) * time.Minute
}

// AnalyzeURLs returns the source roots to crawl.
func (s *SettingsService) AnalyzeURLs(ctx context.Context) []string {
	urls := config.SplitList(s.Get(ctx, model.SettingAnalyzeURL))
	if len(urls) == 0 {
		return []string{config.DefaultAnalyzeURL}
	}
	return urls
}

// DownloadStorage is the backend whose links listings hand out.
func (s *SettingsService) DownloadStorage(ctx context.Context) string {
	return s.Get(ctx, model.SettingDownloadStorage)
}

func (s *SettingsService) GoogleJSONDir(ctx context.Context) string {
	return s.Get(ctx, model.SettingGoogleJSONDir)
}
