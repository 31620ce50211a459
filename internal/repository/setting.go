package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/vstu/timetable-tracker/internal/model"
)

var (
	ErrSettingNotFound = errors.New("setting not found")
)

type SettingRepository interface {
	Get(ctx context.Context, key string) (*model.Setting, error)
	All(ctx context.Context) ([]*model.Setting, error)
	Upsert(ctx context.Context, setting *model.Setting) error
}

type settingRepository struct {
	db sqlx.ExtContext
}

func NewSettingRepository(db sqlx.ExtContext) *settingRepository {
	return &settingRepository{db: db}
}

func (r *settingRepository) Get(ctx context.Context, key string) (*model.Setting, error) {
	setting := &model.Setting{}
	query := `SELECT * FROM settings WHERE key = $1`

	err := sqlx.GetContext(ctx, r.db, setting, query, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSettingNotFound
	}
	if err != nil {
		return nil, err
	}

	return setting, nil
}

func (r *settingRepository) All(ctx context.Context) ([]*model.Setting, error) {
	var settings []*model.Setting
	err := sqlx.SelectContext(ctx, r.db, &settings, `SELECT * FROM settings ORDER BY key`)
	if err != nil {
		return nil, err
	}
	return settings, nil
}

func (r *settingRepository) Upsert(ctx context.Context, setting *model.Setting) error {
	query := `INSERT INTO settings (key, value, description, updated_at)
	          VALUES ($1, $2, $3, $4)
	          ON CONFLICT (key) DO UPDATE SET value = excluded.value, description = excluded.description, updated_at = excluded.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		setting.Key,
		setting.Value,
		setting.Description,
		setting.UpdatedAt,
	)

	return err
}
