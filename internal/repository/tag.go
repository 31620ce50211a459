package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jmoiron/sqlx"
	"github.com/vstu/timetable-tracker/internal/model"
)

var (
	ErrTagNotFound = errors.New("tag not found")
)

type TagRepository interface {
	Ensure(ctx context.Context, category, name string) (*model.Tag, error)
	ByName(ctx context.Context, category, name string) (*model.Tag, error)
	SetResourceTags(ctx context.Context, resourceID string, tagIDs []string) error
	ResourceTags(ctx context.Context, resourceID string) ([]model.Tag, error)
	TagsForResources(ctx context.Context, resourceIDs []string) (map[string][]model.Tag, error)
	DeleteAll(ctx context.Context) error
}

// TagCache memoizes (category, name) lookups. Tags are never renamed, so
// entries only go stale when a transaction that created them rolls back;
// callers Purge in that case.
type TagCache struct {
	cache *lru.Cache[string, model.Tag]
}

func NewTagCache(size int) *TagCache {
	cache, err := lru.New[string, model.Tag](size)
	if err != nil {
		// only fails for a non-positive size
		cache, _ = lru.New[string, model.Tag](256)
	}
	return &TagCache{cache: cache}
}

func (c *TagCache) Purge() {
	if c != nil {
		c.cache.Purge()
	}
}

func (c *TagCache) get(category, name string) (model.Tag, bool) {
	if c == nil {
		return model.Tag{}, false
	}
	return c.cache.Get(category + "\x00" + name)
}

func (c *TagCache) add(tag model.Tag) {
	if c != nil {
		c.cache.Add(tag.Category+"\x00"+tag.Name, tag)
	}
}

type tagRepository struct {
	db    sqlx.ExtContext
	cache *TagCache
}

func NewTagRepository(db sqlx.ExtContext, cache *TagCache) *tagRepository {
	return &tagRepository{db: db, cache: cache}
}

// Ensure returns the tag for (category, name), creating it when missing.
func (r *tagRepository) Ensure(ctx context.Context, category, name string) (*model.Tag, error) {
	tag, err := r.ByName(ctx, category, name)
	if err == nil {
		return tag, nil
	}
	if !errors.Is(err, ErrTagNotFound) {
		return nil, err
	}

	query := `INSERT INTO tags (id, category, name) VALUES ($1, $2, $3)
	          ON CONFLICT (category, name) DO NOTHING`
	_, err = r.db.ExecContext(ctx, query, uuid.New().String(), category, name)
	if err != nil {
		return nil, err
	}

	return r.ByName(ctx, category, name)
}

func (r *tagRepository) ByName(ctx context.Context, category, name string) (*model.Tag, error) {
	if tag, ok := r.cache.get(category, name); ok {
		return &tag, nil
	}

	tag := &model.Tag{}
	query := `SELECT * FROM tags WHERE category = $1 AND name = $2`

	err := sqlx.GetContext(ctx, r.db, tag, query, category, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTagNotFound
	}
	if err != nil {
		return nil, err
	}

	r.cache.add(*tag)
	return tag, nil
}

// SetResourceTags replaces the tag set of a resource.
func (r *tagRepository) SetResourceTags(ctx context.Context, resourceID string, tagIDs []string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM resource_tags WHERE resource_id = $1`, resourceID)
	if err != nil {
		return err
	}

	seen := make(map[string]bool, len(tagIDs))
	for _, tagID := range tagIDs {
		if seen[tagID] {
			continue
		}
		seen[tagID] = true

		_, err = r.db.ExecContext(ctx,
			`INSERT INTO resource_tags (resource_id, tag_id) VALUES ($1, $2)`,
			resourceID, tagID)
		if err != nil {
			return err
		}
	}

	return nil
}

func (r *tagRepository) ResourceTags(ctx context.Context, resourceID string) ([]model.Tag, error) {
	var tags []model.Tag
	query := `SELECT t.* FROM tags t
	          JOIN resource_tags rt ON rt.tag_id = t.id
	          WHERE rt.resource_id = $1
	          ORDER BY t.category, t.name`

	err := sqlx.SelectContext(ctx, r.db, &tags, query, resourceID)
	if err != nil {
		return nil, err
	}

	return tags, nil
}

type resourceTagRow struct {
	ResourceID string `db:"resource_id"`
	model.Tag
}

func (r *tagRepository) TagsForResources(ctx context.Context, resourceIDs []string) (map[string][]model.Tag, error) {
	out := make(map[string][]model.Tag, len(resourceIDs))
	if len(resourceIDs) == 0 {
		return out, nil
	}

	query, args, err := sqlx.In(`SELECT rt.resource_id, t.id, t.category, t.name FROM tags t
	          JOIN resource_tags rt ON rt.tag_id = t.id
	          WHERE rt.resource_id IN (?)
	          ORDER BY t.category, t.name`, resourceIDs)
	if err != nil {
		return nil, err
	}

	var rows []resourceTagRow
	err = sqlx.SelectContext(ctx, r.db, &rows, r.db.Rebind(query), args...)
	if err != nil {
		return nil, err
	}

	for _, row := range rows {
		out[row.ResourceID] = append(out[row.ResourceID], row.Tag)
	}
	return out, nil
}

func (r *tagRepository) DeleteAll(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM resource_tags`)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `DELETE FROM tags`)
	if err != nil {
		return err
	}
	r.cache.Purge()
	return nil
}
