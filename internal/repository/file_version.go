package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/vstu/timetable-tracker/internal/model"
)

var (
	ErrFileVersionNotFound = errors.New("file version not found")
)

type FileVersionRepository interface {
	Create(ctx context.Context, version *model.FileVersion) error
	ByID(ctx context.Context, id string) (*model.FileVersion, error)
	Latest(ctx context.Context, resourceID string) (*model.FileVersion, error)
	ByResource(ctx context.Context, resourceID string) ([]*model.FileVersion, error)
	Count(ctx context.Context, resourceID string) (int, error)
	CountAll(ctx context.Context) (int, error)
	DeleteAll(ctx context.Context) error
}

type fileVersionRepository struct {
	db sqlx.ExtContext
}

func NewFileVersionRepository(db sqlx.ExtContext) *fileVersionRepository {
	return &fileVersionRepository{db: db}
}

func (r *fileVersionRepository) Create(ctx context.Context, version *model.FileVersion) error {
	query := `INSERT INTO file_versions (id, resource_id, url, hashsum, last_changed, ingested_at)
	          VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.db.ExecContext(ctx, query,
		version.ID,
		version.ResourceID,
		version.URL,
		version.Hashsum,
		version.LastChanged,
		version.Timestamp,
	)

	return err
}

func (r *fileVersionRepository) ByID(ctx context.Context, id string) (*model.FileVersion, error) {
	version := &model.FileVersion{}
	query := `SELECT * FROM file_versions WHERE id = $1`

	err := sqlx.GetContext(ctx, r.db, version, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrFileVersionNotFound
	}
	if err != nil {
		return nil, err
	}

	return version, nil
}

// Latest returns the most recent version by last_changed, then ingestion time.
func (r *fileVersionRepository) Latest(ctx context.Context, resourceID string) (*model.FileVersion, error) {
	version := &model.FileVersion{}
	query := `SELECT * FROM file_versions WHERE resource_id = $1
	          ORDER BY last_changed DESC, ingested_at DESC LIMIT 1`

	err := sqlx.GetContext(ctx, r.db, version, query, resourceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrFileVersionNotFound
	}
	if err != nil {
		return nil, err
	}

	return version, nil
}

// ByResource returns the version chain oldest first.
func (r *fileVersionRepository) ByResource(ctx context.Context, resourceID string) ([]*model.FileVersion, error) {
	var versions []*model.FileVersion
	query := `SELECT * FROM file_versions WHERE resource_id = $1
	          ORDER BY ingested_at ASC, last_changed ASC`

	err := sqlx.SelectContext(ctx, r.db, &versions, query, resourceID)
	if err != nil {
		return nil, err
	}

	return versions, nil
}

func (r *fileVersionRepository) Count(ctx context.Context, resourceID string) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, r.db, &n, `SELECT COUNT(*) FROM file_versions WHERE resource_id = $1`, resourceID)
	return n, err
}

func (r *fileVersionRepository) CountAll(ctx context.Context) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, r.db, &n, `SELECT COUNT(*) FROM file_versions`)
	return n, err
}

func (r *fileVersionRepository) DeleteAll(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM file_versions`)
	return err
}
