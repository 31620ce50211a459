package crawler

import (
	"context"
	"io"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vstu/timetable-tracker/internal/validation"
)

// StaticItem is one workbook served by a Static crawler from local disk.
type StaticItem struct {
	Sections []string // below the start path
	Name     string
	Source   string // local file
	URL      string // recorded url; defaults to a file:// url of Source
	Modified time.Time
}

// Static serves a fixed list of local workbooks.
type Static struct {
	Items         []StaticItem
	TypeTimetable string
	Err           error // returned by Crawl when set
}

func (s *Static) Crawl(ctx context.Context, root, startPath string) (iter.Seq[Candidate], error) {
	if s.Err != nil {
		return nil, s.Err
	}
	typeTimetable := s.TypeTimetable
	if typeTimetable == "" {
		typeTimetable = TypeTimetableLessons
	}
	start := splitSections(startPath)
	items := append([]StaticItem(nil), s.Items...)

	return func(yield func(Candidate) bool) {
		for _, item := range items {
			if ctx.Err() != nil {
				return
			}
			u := item.URL
			if u == "" {
				abs, _ := filepath.Abs(item.Source)
				u = "file://" + filepath.ToSlash(abs)
			}
			name := item.Name
			if name == "" {
				name = filepath.Base(item.Source)
			}

			c := Candidate{
				URL:  u,
				Path: strings.Join(append(append([]string{}, start...), item.Sections...), "/"),
				Name: name,
				Tags: TagsFor(item.Sections, typeTimetable),
				fetch: func(ctx context.Context, dir string) (Fetched, error) {
					return copyItem(ctx, item, dir)
				},
			}
			if !yield(c) {
				return
			}
		}
	}, nil
}

// Dir builds a Static crawler from the workbooks found under root; each
// file's directory chain relative to root becomes its sections.
func Dir(root string) (*Static, error) {
	s := &Static{}
	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !validation.IsSpreadsheetName(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(root, filepath.Dir(p))
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		var sections []string
		if rel != "." {
			sections = strings.Split(filepath.ToSlash(rel), "/")
		}
		s.Items = append(s.Items, StaticItem{
			Sections: sections,
			Name:     d.Name(),
			Source:   p,
			Modified: info.ModTime().UTC(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func copyItem(ctx context.Context, item StaticItem, dir string) (Fetched, error) {
	if err := ctx.Err(); err != nil {
		return Fetched{}, err
	}

	in, err := os.Open(item.Source)
	if err != nil {
		return Fetched{}, err
	}
	defer in.Close()

	dst := filepath.Join(dir, uuid.New().String()+strings.ToLower(filepath.Ext(item.Source)))
	out, err := os.Create(dst)
	if err != nil {
		return Fetched{}, err
	}
	_, err = io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dst)
		return Fetched{}, err
	}

	modified := item.Modified
	if modified.IsZero() {
		modified = time.Now().UTC()
	}
	return Fetched{Path: dst, LastModified: modified}, nil
}
