package repository

import (
	"context"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/vstu/timetable-tracker/internal/model"
)

var (
	ErrStorageExists = errors.New("storage replica already recorded")
)

type StorageRepository interface {
	Create(ctx context.Context, storage *model.Storage) error
	ByFileVersion(ctx context.Context, fileVersionID string) ([]*model.Storage, error)
	ByFileVersions(ctx context.Context, fileVersionIDs []string) (map[string][]*model.Storage, error)
	ByType(ctx context.Context, storageType string) ([]*model.Storage, error)
	All(ctx context.Context) ([]*model.Storage, error)
	Delete(ctx context.Context, id string) error
	DeleteAll(ctx context.Context) error
}

type storageRepository struct {
	db sqlx.ExtContext
}

func NewStorageRepository(db sqlx.ExtContext) *storageRepository {
	return &storageRepository{db: db}
}

// Create records a replica. A second replica of the same version in the same
// backend yields ErrStorageExists.
func (r *storageRepository) Create(ctx context.Context, storage *model.Storage) error {
	query := `INSERT INTO storages (id, file_version_id, storage_type, path, download_url, resource_url, archive_url, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	          ON CONFLICT (file_version_id, storage_type) DO NOTHING`

	res, err := r.db.ExecContext(ctx, query,
		storage.ID,
		storage.FileVersionID,
		storage.StorageType,
		storage.Path,
		storage.DownloadURL,
		storage.ResourceURL,
		storage.ArchiveURL,
		storage.CreatedAt,
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStorageExists
	}
	return nil
}

func (r *storageRepository) ByFileVersion(ctx context.Context, fileVersionID string) ([]*model.Storage, error) {
	var storages []*model.Storage
	query := `SELECT * FROM storages WHERE file_version_id = $1 ORDER BY storage_type`

	err := sqlx.SelectContext(ctx, r.db, &storages, query, fileVersionID)
	if err != nil {
		return nil, err
	}

	return storages, nil
}

func (r *storageRepository) ByFileVersions(ctx context.Context, fileVersionIDs []string) (map[string][]*model.Storage, error) {
	out := make(map[string][]*model.Storage, len(fileVersionIDs))
	if len(fileVersionIDs) == 0 {
		return out, nil
	}

	query, args, err := sqlx.In(`SELECT * FROM storages WHERE file_version_id IN (?) ORDER BY storage_type`, fileVersionIDs)
	if err != nil {
		return nil, err
	}

	var storages []*model.Storage
	err = sqlx.SelectContext(ctx, r.db, &storages, r.db.Rebind(query), args...)
	if err != nil {
		return nil, err
	}

	for _, s := range storages {
		out[s.FileVersionID] = append(out[s.FileVersionID], s)
	}
	return out, nil
}

func (r *storageRepository) ByType(ctx context.Context, storageType string) ([]*model.Storage, error) {
	var storages []*model.Storage
	query := `SELECT * FROM storages WHERE storage_type = $1 ORDER BY created_at`

	err := sqlx.SelectContext(ctx, r.db, &storages, query, storageType)
	if err != nil {
		return nil, err
	}

	return storages, nil
}

func (r *storageRepository) All(ctx context.Context) ([]*model.Storage, error) {
	var storages []*model.Storage
	err := sqlx.SelectContext(ctx, r.db, &storages, `SELECT * FROM storages ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	return storages, nil
}

func (r *storageRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM storages WHERE id = $1`, id)
	return err
}

func (r *storageRepository) DeleteAll(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM storages`)
	return err
}
