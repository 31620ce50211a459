package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vstu/timetable-tracker/internal/model"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

const folderMimeType = "application/vnd.google-apps.folder"

// GoogleDriveConfig holds configuration for the Drive backend
type GoogleDriveConfig struct {
	CredentialsFile string // service account JSON
	RootFolderID    string // empty means the service account's own root
	Timeout         time.Duration
}

// GoogleDrive replicates versions into one Drive folder per resource and
// shares every uploaded file with anyone holding the link.
type GoogleDrive struct {
	service *drive.Service
	root    string
	timeout time.Duration

	mu      sync.Mutex
	folders map[string]string // resource folder path -> folder id
}

func NewGoogleDrive(ctx context.Context, cfg GoogleDriveConfig, opts ...option.ClientOption) (*GoogleDrive, error) {
	if cfg.CredentialsFile != "" {
		data, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read drive credentials: %w", err)
		}
		jwtCfg, err := google.JWTConfigFromJSON(data, drive.DriveScope)
		if err != nil {
			return nil, fmt.Errorf("failed to parse drive credentials: %w", err)
		}
		opts = append(opts, option.WithHTTPClient(jwtCfg.Client(ctx)))
	} else if len(opts) == 0 {
		return nil, fmt.Errorf("drive credentials file is not configured")
	}

	service, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create drive client: %w", err)
	}

	root := cfg.RootFolderID
	if root == "" {
		root = "root"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = time.Minute
	}

	return &GoogleDrive{
		service: service,
		root:    root,
		timeout: timeout,
		folders: make(map[string]string),
	}, nil
}

func (g *GoogleDrive) StorageType() string {
	return TypeGoogleDrive
}

func (g *GoogleDrive) Put(ctx context.Context, localFile string, resource *model.Resource, version *model.FileVersion) (*model.Storage, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	key := ObjectKey(resource, version, localFile)
	folderID, err := g.ensureFolderPath(ctx, path.Dir(key))
	if err != nil {
		return nil, err
	}

	f, err := os.Open(localFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	created, err := g.service.Files.Create(&drive.File{
		Name:    path.Base(key),
		Parents: []string{folderID},
	}).Media(f).Fields("id", "webViewLink", "webContentLink").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to upload to drive: %w", err)
	}

	_, err = g.service.Permissions.Create(created.Id, &drive.Permission{
		Type: "anyone",
		Role: "reader",
	}).Context(ctx).Do()
	if err != nil {
		// the file is useless to students without the permission
		if delErr := g.service.Files.Delete(created.Id).Context(ctx).Do(); delErr != nil {
			slog.Warn("failed to remove unshared drive file", "file_id", created.Id, "error", delErr)
		}
		return nil, fmt.Errorf("failed to share drive file: %w", err)
	}

	view := created.WebViewLink
	archive := FolderLink(folderID)
	download := created.WebContentLink
	if download == "" {
		download = ContentLink(created.Id)
	}

	return &model.Storage{
		ID:            uuid.New().String(),
		FileVersionID: version.ID,
		StorageType:   TypeGoogleDrive,
		Path:          created.Id,
		DownloadURL:   download,
		ResourceURL:   &view,
		ArchiveURL:    &archive,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

func (g *GoogleDrive) DownloadURL(storage *model.Storage) string {
	if storage.DownloadURL != "" {
		return storage.DownloadURL
	}
	return ContentLink(storage.Path)
}

func (g *GoogleDrive) Fetch(ctx context.Context, storage *model.Storage, dst string) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.service.Files.Get(storage.Path).Context(ctx).Download()
	if err != nil {
		return fmt.Errorf("failed to download from drive: %w", err)
	}
	defer resp.Body.Close()

	return writeFile(dst, resp.Body)
}

func (g *GoogleDrive) Delete(ctx context.Context, storage *model.Storage) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	err := g.service.Files.Delete(storage.Path).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to delete from drive: %w", err)
	}
	return nil
}

// ensureFolderPath walks dir segment by segment below the root folder,
// creating missing folders and caching their ids.
func (g *GoogleDrive) ensureFolderPath(ctx context.Context, dir string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if id, ok := g.folders[dir]; ok {
		return id, nil
	}

	parent := g.root
	walked := ""
	for _, seg := range strings.Split(dir, "/") {
		walked = path.Join(walked, seg)
		if id, ok := g.folders[walked]; ok {
			parent = id
			continue
		}

		id, err := g.findOrCreateFolder(ctx, parent, seg)
		if err != nil {
			return "", err
		}
		g.folders[walked] = id
		parent = id
	}
	return parent, nil
}

func (g *GoogleDrive) findOrCreateFolder(ctx context.Context, parent, name string) (string, error) {
	q := fmt.Sprintf("name = '%s' and mimeType = '%s' and '%s' in parents and trashed = false",
		EscapeQuery(name), folderMimeType, EscapeQuery(parent))

	list, err := g.service.Files.List().Q(q).Fields("files(id)").PageSize(1).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to look up drive folder %q: %w", name, err)
	}
	if len(list.Files) > 0 {
		return list.Files[0].Id, nil
	}

	folder, err := g.service.Files.Create(&drive.File{
		Name:     name,
		MimeType: folderMimeType,
		Parents:  []string{parent},
	}).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to create drive folder %q: %w", name, err)
	}
	return folder.Id, nil
}

// EscapeQuery quotes a value for a Drive search query string literal.
func EscapeQuery(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	return strings.ReplaceAll(v, `'`, `\'`)
}

func FolderLink(folderID string) string {
	return "https://drive.google.com/drive/folders/" + folderID
}

func ContentLink(fileID string) string {
	return "https://drive.google.com/uc?id=" + fileID + "&export=download"
}
