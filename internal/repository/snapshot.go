package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/vstu/timetable-tracker/internal/model"
)

var (
	ErrSnapshotNotFound = errors.New("snapshot not found")
)

// DumpTables lists the tables included in a database snapshot, parents first.
var DumpTables = []string{"resources", "tags", "resource_tags", "file_versions", "storages", "settings"}

type SnapshotRepository interface {
	Create(ctx context.Context, snapshot *model.Snapshot) error
	Latest(ctx context.Context, snapshotType string) (*model.Snapshot, error)
	Dump(ctx context.Context, table string) ([]map[string]any, error)
}

type snapshotRepository struct {
	db sqlx.ExtContext
}

func NewSnapshotRepository(db sqlx.ExtContext) *snapshotRepository {
	return &snapshotRepository{db: db}
}

func (r *snapshotRepository) Create(ctx context.Context, snapshot *model.Snapshot) error {
	query := `INSERT INTO snapshots (id, type, path, url, created_at) VALUES ($1, $2, $3, $4, $5)`

	_, err := r.db.ExecContext(ctx, query,
		snapshot.ID,
		snapshot.Type,
		snapshot.Path,
		snapshot.URL,
		snapshot.CreatedAt,
	)

	return err
}

func (r *snapshotRepository) Latest(ctx context.Context, snapshotType string) (*model.Snapshot, error) {
	snapshot := &model.Snapshot{}
	query := `SELECT * FROM snapshots WHERE type = $1 ORDER BY created_at DESC LIMIT 1`

	err := sqlx.GetContext(ctx, r.db, snapshot, query, snapshotType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, err
	}

	return snapshot, nil
}

// Dump reads every row of one of the DumpTables as a column map.
func (r *snapshotRepository) Dump(ctx context.Context, table string) ([]map[string]any, error) {
	allowed := false
	for _, t := range DumpTables {
		if t == table {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, fmt.Errorf("table %q is not dumpable", table)
	}

	rows, err := r.db.QueryxContext(ctx, "SELECT * FROM "+table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		row := map[string]any{}
		err = rows.MapScan(row)
		if err != nil {
			return nil, err
		}
		for k, v := range row {
			if b, ok := v.([]byte); ok {
				row[k] = string(b)
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
