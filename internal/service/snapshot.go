package service

import (
	"archive/tar"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/vstu/timetable-tracker/internal/model"
	"github.com/vstu/timetable-tracker/internal/repository"
)

const (
	SnapshotSystem   = "system"
	SnapshotDatabase = "database"
	SnapshotLocal    = "local"
)

var ErrUnknownSnapshot = errors.New("unknown snapshot type")

type SnapshotConfig struct {
	Dir       string
	PublicURL string
	LocalRoot string
	VisDir    string
}

// SnapshotService archives the database and the local replica tree as
// zstd compressed tarballs.
type SnapshotService struct {
	repo repository.SnapshotRepository
	cfg  SnapshotConfig
}

func NewSnapshotService(repo repository.SnapshotRepository, cfg SnapshotConfig) *SnapshotService {
	return &SnapshotService{repo: repo, cfg: cfg}
}

// Create writes a snapshot of the given type and records it.
func (s *SnapshotService) Create(ctx context.Context, snapshotType string) (*model.Snapshot, error) {
	switch snapshotType {
	case SnapshotSystem, SnapshotDatabase, SnapshotLocal:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSnapshot, snapshotType)
	}

	err := os.MkdirAll(s.cfg.Dir, 0755)
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot dir: %w", err)
	}

	now := time.Now().UTC()
	name := fmt.Sprintf("%s_%s.tar.zst", snapshotType, now.Format("20060102T150405"))
	dst := filepath.Join(s.cfg.Dir, name)
	tmp := dst + ".tmp"

	err = s.write(ctx, tmp, snapshotType)
	if err != nil {
		_ = os.Remove(tmp)
		return nil, err
	}
	err = os.Rename(tmp, dst)
	if err != nil {
		_ = os.Remove(tmp)
		return nil, fmt.Errorf("failed to finalize snapshot: %w", err)
	}

	snap := &model.Snapshot{
		ID:        uuid.New().String(),
		Type:      snapshotType,
		Path:      dst,
		URL:       s.cfg.PublicURL + "/snapshots/" + url.PathEscape(name),
		CreatedAt: now,
	}
	err = s.repo.Create(ctx, snap)
	if err != nil {
		return nil, fmt.Errorf("failed to record snapshot: %w", err)
	}

	slog.Info("snapshot created", "type", snapshotType, "path", dst)
	return snap, nil
}

func (s *SnapshotService) Latest(ctx context.Context, snapshotType string) (*model.Snapshot, error) {
	return s.repo.Latest(ctx, snapshotType)
}

func (s *SnapshotService) write(ctx context.Context, dst, snapshotType string) error {
	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create snapshot file: %w", err)
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		return fmt.Errorf("failed to start compression: %w", err)
	}
	tw := tar.NewWriter(zw)

	if snapshotType == SnapshotDatabase || snapshotType == SnapshotSystem {
		err = s.addDatabase(ctx, tw)
		if err != nil {
			return err
		}
	}
	if snapshotType == SnapshotLocal || snapshotType == SnapshotSystem {
		err = addTree(ctx, tw, s.cfg.LocalRoot, "files")
		if err != nil {
			return err
		}
	}
	if snapshotType == SnapshotSystem && s.cfg.VisDir != "" {
		err = addTree(ctx, tw, s.cfg.VisDir, "visualizations")
		if err != nil {
			return err
		}
	}

	err = tw.Close()
	if err != nil {
		return fmt.Errorf("failed to finish archive: %w", err)
	}
	err = zw.Close()
	if err != nil {
		return fmt.Errorf("failed to finish compression: %w", err)
	}
	return f.Sync()
}

// addDatabase stores each table as database/<table>.json.
func (s *SnapshotService) addDatabase(ctx context.Context, tw *tar.Writer) error {
	for _, table := range repository.DumpTables {
		rows, err := s.repo.Dump(ctx, table)
		if err != nil {
			return fmt.Errorf("failed to dump %s: %w", table, err)
		}
		if rows == nil {
			rows = []map[string]any{}
		}
		data, err := json.MarshalIndent(rows, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", table, err)
		}

		err = tw.WriteHeader(&tar.Header{
			Name:    "database/" + table + ".json",
			Mode:    0644,
			Size:    int64(len(data)),
			ModTime: time.Now(),
		})
		if err != nil {
			return err
		}
		_, err = tw.Write(data)
		if err != nil {
			return err
		}
	}
	return nil
}

// addTree copies the regular files under root into the archive below prefix.
// A missing root adds nothing.
func addTree(ctx context.Context, tw *tar.Writer, root, prefix string) error {
	if root == "" {
		return nil
	}
	if _, err := os.Stat(root); errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() || strings.HasSuffix(p, ".tmp") {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = prefix + "/" + filepath.ToSlash(rel)

		err = tw.WriteHeader(hdr)
		if err != nil {
			return err
		}
		src, err := os.Open(p)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(tw, src)
		return err
	})
}

// SnapshotHandler runs the make_new task.
type SnapshotHandler struct {
	snapshots *SnapshotService
}

func NewSnapshotHandler(snapshots *SnapshotService) *SnapshotHandler {
	return &SnapshotHandler{snapshots: snapshots}
}

func (h *SnapshotHandler) Action() string {
	return model.TaskActionSnapshot
}

func (h *SnapshotHandler) Run(ctx context.Context, t *model.Task) (model.JSON, error) {
	snapshotType := t.Params.String("snapshot")
	if snapshotType == "" {
		snapshotType = SnapshotSystem
	}
	snap, err := h.snapshots.Create(ctx, snapshotType)
	if err != nil {
		return nil, err
	}
	return model.JSON{"url": snap.URL, "type": snap.Type}, nil
}
