package storage

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/vstu/timetable-tracker/internal/model"
)

const (
	TypeLocal       = "local"
	TypeGoogleDrive = "google drive"
	TypeS3          = "s3"
)

// Backend is a replication target for file versions.
type Backend interface {
	StorageType() string
	// Put stores localFile as a replica of version and returns the Storage row to record.
	Put(ctx context.Context, localFile string, resource *model.Resource, version *model.FileVersion) (*model.Storage, error)
	DownloadURL(storage *model.Storage) string
}

// Fetcher is implemented by backends that can pull a replica back to local disk.
type Fetcher interface {
	Fetch(ctx context.Context, storage *model.Storage, dst string) error
}

// Deleter is implemented by backends that can remove a replica.
type Deleter interface {
	Delete(ctx context.Context, storage *model.Storage) error
}

// Set is an ordered collection of backends keyed by storage type.
type Set struct {
	backends []Backend
}

func NewSet(backends ...Backend) *Set {
	s := &Set{}
	for _, b := range backends {
		if b != nil {
			s.backends = append(s.backends, b)
		}
	}
	return s
}

func (s *Set) All() []Backend {
	return s.backends
}

func (s *Set) Get(storageType string) (Backend, bool) {
	for _, b := range s.backends {
		if b.StorageType() == storageType {
			return b, true
		}
	}
	return nil, false
}

func (s *Set) Types() []string {
	types := make([]string, 0, len(s.backends))
	for _, b := range s.backends {
		types = append(types, b.StorageType())
	}
	return types
}

// ObjectKey is the backend-neutral location of a version:
// <resource path>/<resource name>/<ingested>_<hash prefix>_<file name>.
func ObjectKey(resource *model.Resource, version *model.FileVersion, localFile string) string {
	hash := version.Hashsum
	if len(hash) > 12 {
		hash = hash[:12]
	}
	file := fmt.Sprintf("%s_%s_%s",
		version.Timestamp.UTC().Format("20060102T150405"),
		hash,
		filepath.Base(localFile),
	)
	return path.Join(cleanSegments(resource.Path), cleanSegments(resource.Name), file)
}

// cleanSegments drops empty and dot segments so a key can never climb out of its root.
func cleanSegments(p string) string {
	var out []string
	for _, seg := range strings.Split(filepath.ToSlash(p), "/") {
		seg = strings.TrimSpace(seg)
		if seg == "" || seg == "." || seg == ".." {
			continue
		}
		out = append(out, seg)
	}
	if len(out) == 0 {
		return "_"
	}
	return path.Join(out...)
}
