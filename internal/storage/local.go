package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vstu/timetable-tracker/internal/model"
)

// LocalStorage keeps replicas under a directory served at <publicURL>/files/.
type LocalStorage struct {
	root      string
	publicURL string
}

func NewLocalStorage(root, publicURL string) (*LocalStorage, error) {
	err := os.MkdirAll(root, 0755)
	if err != nil {
		return nil, fmt.Errorf("failed to create local storage root: %w", err)
	}
	return &LocalStorage{
		root:      root,
		publicURL: strings.TrimSuffix(publicURL, "/"),
	}, nil
}

func (s *LocalStorage) StorageType() string {
	return TypeLocal
}

func (s *LocalStorage) Root() string {
	return s.root
}

func (s *LocalStorage) Put(ctx context.Context, localFile string, resource *model.Resource, version *model.FileVersion) (*model.Storage, error) {
	key := ObjectKey(resource, version, localFile)
	dst := filepath.Join(s.root, filepath.FromSlash(key))

	err := copyFile(ctx, localFile, dst)
	if err != nil {
		return nil, err
	}

	archive := s.urlFor(path.Dir(key)) + "/"
	return &model.Storage{
		ID:            uuid.New().String(),
		FileVersionID: version.ID,
		StorageType:   TypeLocal,
		Path:          key,
		DownloadURL:   s.urlFor(key),
		ArchiveURL:    &archive,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

func (s *LocalStorage) DownloadURL(storage *model.Storage) string {
	return s.urlFor(storage.Path)
}

func (s *LocalStorage) Fetch(ctx context.Context, storage *model.Storage, dst string) error {
	return copyFile(ctx, filepath.Join(s.root, filepath.FromSlash(storage.Path)), dst)
}

func (s *LocalStorage) Delete(ctx context.Context, storage *model.Storage) error {
	err := os.Remove(filepath.Join(s.root, filepath.FromSlash(storage.Path)))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete local replica: %w", err)
	}
	return nil
}

func (s *LocalStorage) urlFor(key string) string {
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return s.publicURL + "/files/" + strings.Join(segments, "/")
}

// copyFile writes src to dst through a temp file and rename, so readers never
// see a partial replica.
func copyFile(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer in.Close()

	err = os.MkdirAll(filepath.Dir(dst), 0755)
	if err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	_, err = io.Copy(tmp, in)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("failed to copy: %w", err)
	}
	err = tmp.Close()
	if err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	err = os.Rename(tmp.Name(), dst)
	if err != nil {
		return fmt.Errorf("failed to move into place: %w", err)
	}
	return nil
}
