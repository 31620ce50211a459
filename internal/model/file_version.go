package model

import (
	"time"
)

// FileVersion is one ingested revision of a Resource. Hashsum is the dedup key.
type FileVersion struct {
	ID          string    `db:"id"`
	ResourceID  string    `db:"resource_id"`
	URL         string    `db:"url"`
	Hashsum     string    `db:"hashsum"`
	LastChanged time.Time `db:"last_changed"`
	Timestamp   time.Time `db:"ingested_at"`
}

// Storage is a replica of a FileVersion in one backend.
type Storage struct {
	ID            string    `db:"id"`
	FileVersionID string    `db:"file_version_id"`
	StorageType   string    `db:"storage_type"`
	Path          string    `db:"path"` // backend object key or file id
	DownloadURL   string    `db:"download_url"`
	ResourceURL   *string   `db:"resource_url"`
	ArchiveURL    *string   `db:"archive_url"`
	CreatedAt     time.Time `db:"created_at"`
}
