package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vstu/timetable-tracker/internal/apperr"
	"github.com/vstu/timetable-tracker/internal/convert"
	"github.com/vstu/timetable-tracker/internal/crawler"
	"github.com/vstu/timetable-tracker/internal/ctxkeys"
	"github.com/vstu/timetable-tracker/internal/lock"
	"github.com/vstu/timetable-tracker/internal/logger"
	"github.com/vstu/timetable-tracker/internal/metrics"
	"github.com/vstu/timetable-tracker/internal/model"
	"github.com/vstu/timetable-tracker/internal/repository"
	"github.com/vstu/timetable-tracker/internal/validation"
)

var ErrPassInProgress = errors.New("update already running")

// Source is one crawl root and the section path timetables live under.
type Source struct {
	Root      string
	StartPath string
}

// PassResult summarizes one sync pass.
type PassResult struct {
	PassID     string
	Started    time.Time
	Finished   time.Time
	Candidates int
	New        int
	Changed    int
	Relinked   int
	Moved      int
	Unchanged  int
	Failed     int
	Visualized int
	Deprecated []string
}

func (r *PassResult) count(o Outcome) {
	switch o {
	case OutcomeNew:
		r.New++
	case OutcomeChanged:
		r.Changed++
	case OutcomeRelinked:
		r.Relinked++
	case OutcomeMoved:
		r.Moved++
	case OutcomeUnchanged:
		r.Unchanged++
	}
}

type SyncConfig struct {
	TempDir    string
	StartPaths []string
}

// SyncService runs sync passes: crawl, dedup, persist, replicate,
// visualize changed resources and deprecate the ones that disappeared.
type SyncService struct {
	crawler    crawler.Crawler
	settings   *SettingsService
	store      *VersionStore
	resources  repository.ResourceRepository
	replicator *Replicator
	visualizer *VisualizationService
	lock       lock.PassLock
	cfg        SyncConfig
}

func NewSyncService(
	c crawler.Crawler,
	settings *SettingsService,
	store *VersionStore,
	resources repository.ResourceRepository,
	replicator *Replicator,
	visualizer *VisualizationService,
	passLock lock.PassLock,
	cfg SyncConfig,
) *SyncService {
	return &SyncService{
		crawler:    c,
		settings:   settings,
		store:      store,
		resources:  resources,
		replicator: replicator,
		visualizer: visualizer,
		lock:       passLock,
		cfg:        cfg,
	}
}

// Sources pairs each configured root with its start path. Roots beyond the
// configured start paths reuse the last one.
func (s *SyncService) Sources(ctx context.Context) []Source {
	roots := s.settings.AnalyzeURLs(ctx)
	starts := s.cfg.StartPaths
	if len(starts) == 0 {
		starts = []string{""}
	}

	sources := make([]Source, 0, len(roots))
	for i, root := range roots {
		start := starts[min(i, len(starts)-1)]
		sources = append(sources, Source{Root: root, StartPath: start})
	}
	return sources
}

// Run executes one pass. It fails fast with ErrPassInProgress when another
// pass holds the lock. A crawl failure aborts the pass before deprecation.
func (s *SyncService) Run(ctx context.Context) (*PassResult, error) {
	unlock, err := s.lock.TryLock(ctx)
	if errors.Is(err, lock.ErrLocked) {
		return nil, ErrPassInProgress
	}
	if err != nil {
		return nil, fmt.Errorf("failed to acquire pass lock: %w", err)
	}
	defer unlock()

	result := &PassResult{PassID: uuid.New().String(), Started: time.Now().UTC()}
	ctx = ctxkeys.WithPassID(ctx, result.PassID)
	log := logger.From(ctx).With("component", "sync")

	trigger := ctxkeys.Trigger(ctx)
	if trigger == "" {
		trigger = "manual"
	}

	err = s.run(ctx, result)
	result.Finished = time.Now().UTC()
	if err != nil {
		metrics.PassesTotal.WithLabelValues(trigger, "failed").Inc()
		log.Error("sync pass failed", "error", err, "candidates", result.Candidates)
		return result, err
	}

	metrics.PassesTotal.WithLabelValues(trigger, "ok").Inc()
	metrics.PassDuration.Observe(result.Finished.Sub(result.Started).Seconds())
	log.Info("sync pass finished",
		slog.Int("candidates", result.Candidates),
		slog.Int("new", result.New),
		slog.Int("changed", result.Changed),
		slog.Int("relinked", result.Relinked),
		slog.Int("moved", result.Moved),
		slog.Int("unchanged", result.Unchanged),
		slog.Int("failed", result.Failed),
		slog.Int("visualized", result.Visualized),
		slog.Int("deprecated", len(result.Deprecated)),
		slog.Duration("duration", result.Finished.Sub(result.Started)),
	)
	return result, nil
}

func (s *SyncService) run(ctx context.Context, result *PassResult) error {
	log := logger.From(ctx).With("component", "sync")

	err := os.MkdirAll(s.cfg.TempDir, 0755)
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	scratch, err := os.MkdirTemp(s.cfg.TempDir, "pass-*")
	if err != nil {
		return fmt.Errorf("failed to create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	touched := make(map[string]bool)
	for _, src := range s.Sources(ctx) {
		log.Info("crawling source", "root", src.Root, "start_path", src.StartPath)

		candidates, err := s.crawler.Crawl(ctx, src.Root, src.StartPath)
		if err != nil {
			return fmt.Errorf("failed to crawl %s: %w", src.Root, err)
		}

		for c := range candidates {
			if err := ctx.Err(); err != nil {
				return err
			}
			result.Candidates++

			id, outcome, visualized, err := s.processCandidate(ctx, scratch, c)
			if err != nil {
				result.Failed++
				metrics.CandidatesTotal.WithLabelValues("failed").Inc()
				log.Error("failed to process workbook", "name", c.Name, "path", c.Path, "url", c.URL, "error", err)
				continue
			}
			metrics.CandidatesTotal.WithLabelValues(string(outcome)).Inc()
			result.count(outcome)
			if visualized {
				result.Visualized++
			}
			touched[id] = true
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if len(touched) == 0 {
		log.Warn("no resources touched, skipping deprecation")
		return nil
	}

	ids := make([]string, 0, len(touched))
	for id := range touched {
		ids = append(ids, id)
	}
	deprecated, err := s.resources.DeprecateUntouched(ctx, ids)
	if err != nil {
		return fmt.Errorf("failed to deprecate resources: %w", err)
	}
	if len(deprecated) > 0 {
		metrics.DeprecatedTotal.Add(float64(len(deprecated)))
		log.Info("resources deprecated", "count", len(deprecated))
	}
	result.Deprecated = deprecated
	return nil
}

// processCandidate ingests one workbook. The downloaded file is removed on
// every path out.
func (s *SyncService) processCandidate(ctx context.Context, scratch string, c crawler.Candidate) (string, Outcome, bool, error) {
	log := logger.From(ctx).With("component", "sync", "name", c.Name)

	fetched, err := c.Download(ctx, scratch)
	if err != nil {
		return "", "", false, err
	}
	file := fetched.Path
	defer func() {
		_ = os.Remove(file)
	}()

	format, err := validation.ValidateSpreadsheet(file)
	if err != nil {
		return "", "", false, err
	}
	if format == validation.FormatXLS {
		converted, err := convert.XLSToXLSX(file)
		if err != nil {
			// the legacy file is still stored, it just cannot be diffed
			log.Warn("keeping legacy workbook", "error", err)
		} else {
			file = converted
		}
	}

	hash, err := Hashsum(file)
	if err != nil {
		return "", "", false, apperr.TransientIO("hash "+c.Name, err)
	}

	path, name := ResourceKey(c.Path, c.Name)
	res, err := s.store.Ingest(ctx, Ingest{
		Path:        path,
		Name:        name,
		Tags:        c.Tags,
		URL:         c.URL,
		Hashsum:     hash,
		LastChanged: fetched.LastModified,
	})
	if err != nil {
		return "", "", false, err
	}
	log.Debug("workbook ingested", "outcome", res.Outcome, "resource_id", res.Resource.ID)

	if res.Outcome == OutcomeUnchanged {
		return res.Resource.ID, res.Outcome, false, nil
	}

	// moved versions already carry cloned replicas; this only fills gaps
	_, err = s.replicator.Replicate(ctx, file, res.Resource, res.Version)
	if err != nil {
		log.Warn("version partially replicated", "error", err)
	}

	visualized := false
	if res.Visualize() && s.visualizer != nil && isXLSX(file) {
		v, err := s.visualizer.Visualize(ctx, res.Resource, res.Version, file)
		if err != nil {
			log.Error("failed to build visualization", "error", err)
		}
		visualized = v != nil
	}

	return res.Resource.ID, res.Outcome, visualized, nil
}

func isXLSX(file string) bool {
	return strings.EqualFold(filepath.Ext(file), ".xlsx")
}

// UpdateTimetableHandler runs a pass as the update_timetable task.
type UpdateTimetableHandler struct {
	sync *SyncService
}

func NewUpdateTimetableHandler(sync *SyncService) *UpdateTimetableHandler {
	return &UpdateTimetableHandler{sync: sync}
}

func (h *UpdateTimetableHandler) Action() string {
	return model.TaskActionUpdateTimetable
}

func (h *UpdateTimetableHandler) Run(ctx context.Context, _ *model.Task) (model.JSON, error) {
	result, err := h.sync.Run(ctx)
	if err != nil {
		return nil, err
	}
	return model.JSON{
		"finished":   result.Finished.Format(time.RFC3339),
		"pass_id":    result.PassID,
		"candidates": result.Candidates,
		"new":        result.New,
		"changed":    result.Changed,
		"relinked":   result.Relinked,
		"failed":     result.Failed,
		"deprecated": len(result.Deprecated),
	}, nil
}
