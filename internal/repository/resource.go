package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/vstu/timetable-tracker/internal/model"
)

var (
	ErrResourceNotFound = errors.New("resource not found")
)

type ResourceRepository interface {
	Create(ctx context.Context, resource *model.Resource) error
	ByID(ctx context.Context, id string) (*model.Resource, error)
	ByKey(ctx context.Context, path, name string) (*model.Resource, error)
	DerivedFrom(ctx context.Context, sourceID string) (*model.Resource, error)
	SetDeprecated(ctx context.Context, id string, deprecated bool) error
	DeprecateUntouched(ctx context.Context, touched []string) ([]string, error)
	Active(ctx context.Context) ([]*model.Resource, error)
	WithTags(ctx context.Context, tagIDs []string) ([]*model.Resource, error)
	All(ctx context.Context) ([]*model.Resource, error)
	DeleteAll(ctx context.Context) error
}

type resourceRepository struct {
	db sqlx.ExtContext
}

func NewResourceRepository(db sqlx.ExtContext) *resourceRepository {
	return &resourceRepository{db: db}
}

func (r *resourceRepository) Create(ctx context.Context, resource *model.Resource) error {
	query := `INSERT INTO resources (id, path, name, deprecated, derived_from, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.ExecContext(ctx, query,
		resource.ID,
		resource.Path,
		resource.Name,
		resource.Deprecated,
		resource.DerivedFrom,
		resource.CreatedAt,
		resource.UpdatedAt,
	)

	return err
}

func (r *resourceRepository) ByID(ctx context.Context, id string) (*model.Resource, error) {
	resource := &model.Resource{}
	query := `SELECT * FROM resources WHERE id = $1`

	err := sqlx.GetContext(ctx, r.db, resource, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrResourceNotFound
	}
	if err != nil {
		return nil, err
	}

	return resource, nil
}

// ByKey finds the source lineage for (path, name) whether or not it is deprecated.
// Derived resources never match.
func (r *resourceRepository) ByKey(ctx context.Context, path, name string) (*model.Resource, error) {
	resource := &model.Resource{}
	query := `SELECT * FROM resources
	          WHERE path = $1 AND name = $2 AND derived_from IS NULL
	          ORDER BY deprecated ASC, updated_at DESC LIMIT 1`

	err := sqlx.GetContext(ctx, r.db, resource, query, path, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrResourceNotFound
	}
	if err != nil {
		return nil, err
	}

	return resource, nil
}

func (r *resourceRepository) DerivedFrom(ctx context.Context, sourceID string) (*model.Resource, error) {
	resource := &model.Resource{}
	query := `SELECT * FROM resources WHERE derived_from = $1 ORDER BY created_at DESC LIMIT 1`

	err := sqlx.GetContext(ctx, r.db, resource, query, sourceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrResourceNotFound
	}
	if err != nil {
		return nil, err
	}

	return resource, nil
}

func (r *resourceRepository) SetDeprecated(ctx context.Context, id string, deprecated bool) error {
	query := `UPDATE resources SET deprecated = $1, updated_at = $2 WHERE id = $3`
	res, err := r.db.ExecContext(ctx, query, deprecated, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrResourceNotFound
	}
	return nil
}

// DeprecateUntouched marks every active source resource outside touched as
// deprecated and returns the ids it changed.
func (r *resourceRepository) DeprecateUntouched(ctx context.Context, touched []string) ([]string, error) {
	query := `SELECT id FROM resources WHERE deprecated = FALSE AND derived_from IS NULL`
	args := []any{}
	if len(touched) > 0 {
		var err error
		query, args, err = sqlx.In(query+` AND id NOT IN (?)`, touched)
		if err != nil {
			return nil, err
		}
	}

	var ids []string
	err := sqlx.SelectContext(ctx, r.db, &ids, r.db.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	update, args, err := sqlx.In(`UPDATE resources SET deprecated = TRUE, updated_at = ? WHERE id IN (?)`, time.Now().UTC(), ids)
	if err != nil {
		return nil, err
	}
	_, err = r.db.ExecContext(ctx, r.db.Rebind(update), args...)
	if err != nil {
		return nil, err
	}

	return ids, nil
}

// Active lists non-deprecated source resources.
func (r *resourceRepository) Active(ctx context.Context) ([]*model.Resource, error) {
	var resources []*model.Resource
	query := `SELECT * FROM resources WHERE deprecated = FALSE AND derived_from IS NULL ORDER BY path, name`

	err := sqlx.SelectContext(ctx, r.db, &resources, query)
	if err != nil {
		return nil, err
	}

	return resources, nil
}

// WithTags lists active source resources carrying every tag in tagIDs.
func (r *resourceRepository) WithTags(ctx context.Context, tagIDs []string) ([]*model.Resource, error) {
	if len(tagIDs) == 0 {
		return r.Active(ctx)
	}

	query, args, err := sqlx.In(`SELECT r.* FROM resources r
	          JOIN resource_tags rt ON rt.resource_id = r.id
	          WHERE rt.tag_id IN (?) AND r.deprecated = FALSE AND r.derived_from IS NULL
	          GROUP BY r.id
	          HAVING COUNT(DISTINCT rt.tag_id) = ?
	          ORDER BY r.path, r.name`, tagIDs, len(tagIDs))
	if err != nil {
		return nil, err
	}

	var resources []*model.Resource
	err = sqlx.SelectContext(ctx, r.db, &resources, r.db.Rebind(query), args...)
	if err != nil {
		return nil, err
	}

	return resources, nil
}

func (r *resourceRepository) All(ctx context.Context) ([]*model.Resource, error) {
	var resources []*model.Resource
	query := `SELECT * FROM resources ORDER BY created_at`

	err := sqlx.SelectContext(ctx, r.db, &resources, query)
	if err != nil {
		return nil, err
	}

	return resources, nil
}

func (r *resourceRepository) DeleteAll(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM resources`)
	return err
}
