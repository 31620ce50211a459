// Package crawler discovers timetable workbooks published by a source site.
package crawler

import (
	"context"
	"fmt"
	"io"
	"iter"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vstu/timetable-tracker/internal/apperr"
	"github.com/vstu/timetable-tracker/internal/model"
)

const TypeTimetableLessons = "Занятия"

// Crawler yields the workbooks published under one source root.
// An error means the source as a whole could not be read.
type Crawler interface {
	Crawl(ctx context.Context, root, startPath string) (iter.Seq[Candidate], error)
}

// Candidate is one discovered workbook.
type Candidate struct {
	URL  string
	Path string
	Name string
	Tags []model.Tag

	fetch func(ctx context.Context, dir string) (Fetched, error)
}

// Fetched is a candidate downloaded to scratch storage.
type Fetched struct {
	Path         string
	LastModified time.Time
}

// Download stores the candidate under dir.
func (c Candidate) Download(ctx context.Context, dir string) (Fetched, error) {
	if c.fetch == nil {
		return Fetched{}, fmt.Errorf("candidate %q has no source", c.Name)
	}
	return c.fetch(ctx, dir)
}

// TagsFor derives tags from the section chain below the start path. Degree
// names are recognised anywhere; the remaining sections map by depth to
// education form, faculty and course.
func TagsFor(sections []string, typeTimetable string) []model.Tag {
	var tags []model.Tag
	depth := []string{model.TagCategoryEducationForm, model.TagCategoryFaculty, model.TagCategoryCourse}

	i := 0
	for _, s := range sections {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if isDegree(s) {
			tags = append(tags, model.Tag{Category: model.TagCategoryDegree, Name: s})
			continue
		}
		if i < len(depth) {
			tags = append(tags, model.Tag{Category: depth[i], Name: s})
			i++
		}
	}
	if typeTimetable != "" {
		tags = append(tags, model.Tag{Category: model.TagCategoryTypeTimetable, Name: typeTimetable})
	}
	return tags
}

func isDegree(s string) bool {
	l := strings.ToLower(s)
	for _, k := range []string{"бакалавриат", "магистратура", "специалитет", "аспирантура"} {
		if strings.Contains(l, k) {
			return true
		}
	}
	return false
}

// httpDownload fetches url into a uniquely named file under dir, keeping the
// url's extension so the format check sees the right name.
func httpDownload(ctx context.Context, client *http.Client, userAgent, url, dir string) (Fetched, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Fetched{}, err
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		return Fetched{}, apperr.TransientIO("download "+url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Fetched{}, apperr.TransientIO("download "+url, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	ext := strings.ToLower(filepath.Ext(strings.SplitN(url, "?", 2)[0]))
	dst := filepath.Join(dir, uuid.New().String()+ext)
	f, err := os.Create(dst)
	if err != nil {
		return Fetched{}, apperr.TransientIO("create scratch file", err)
	}
	_, err = io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dst)
		return Fetched{}, apperr.TransientIO("download "+url, err)
	}

	modified := time.Now().UTC()
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			modified = t.UTC()
		}
	}
	return Fetched{Path: dst, LastModified: modified}, nil
}
