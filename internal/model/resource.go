package model

import (
	"time"
)

const (
	TagCategoryEducationForm = "education_form"
	TagCategoryFaculty       = "faculty"
	TagCategoryCourse        = "course"
	TagCategoryTypeTimetable = "type_timetable"
	TagCategoryDegree        = "degree"
)

// Resource is a named timetable artifact tracked across revisions.
// Visualization artifacts point back at their source through DerivedFrom.
type Resource struct {
	ID          string    `db:"id"`
	Path        string    `db:"path"`
	Name        string    `db:"name"`
	Deprecated  bool      `db:"deprecated"`
	DerivedFrom *string   `db:"derived_from"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`

	Tags []Tag `db:"-"`
}

func (r *Resource) IsDerived() bool {
	return r.DerivedFrom != nil
}

type Tag struct {
	ID       string `db:"id"`
	Category string `db:"category"`
	Name     string `db:"name"`
}
