package crawler

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/vstu/timetable-tracker/internal/apperr"
	"github.com/vstu/timetable-tracker/internal/validation"
	"golang.org/x/net/html"
)

// Index crawls an HTML index page. Workbook links become candidates whose
// path is the start path followed by the headings above the link; links to
// pages below the root are followed up to MaxDepth, their link text becoming
// one more section.
type Index struct {
	Client        *http.Client
	UserAgent     string
	MaxDepth      int
	TypeTimetable string
}

func NewIndex(timeout time.Duration, userAgent string) *Index {
	return &Index{
		Client:        &http.Client{Timeout: timeout},
		UserAgent:     userAgent,
		MaxDepth:      2,
		TypeTimetable: TypeTimetableLessons,
	}
}

type link struct {
	href     *url.URL
	text     string
	sections []string
}

func (ix *Index) Crawl(ctx context.Context, root, startPath string) (iter.Seq[Candidate], error) {
	base, err := url.Parse(root)
	if err != nil {
		return nil, fmt.Errorf("invalid root url %q: %w", root, err)
	}

	links, err := ix.page(ctx, base)
	if err != nil {
		return nil, err
	}

	start := splitSections(startPath)
	log := slog.With("component", "crawler", "root", root)

	return func(yield func(Candidate) bool) {
		seen := map[string]bool{base.String(): true}
		type pending struct {
			links  []link
			prefix []string
			depth  int
		}
		queue := []pending{{links: links, depth: 0}}

		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]

			for _, l := range cur.links {
				target := l.href.String()
				if seen[target] {
					continue
				}
				seen[target] = true

				sections := append(append([]string{}, cur.prefix...), l.sections...)

				if validation.IsSpreadsheetName(l.href.Path) {
					if !yield(ix.candidate(l, start, sections)) {
						return
					}
					continue
				}

				if cur.depth+1 > ix.MaxDepth || !below(base, l.href) {
					continue
				}
				if ctx.Err() != nil {
					return
				}

				sub, err := ix.page(ctx, l.href)
				if err != nil {
					log.Warn("failed to crawl sub page", "url", target, "error", err)
					continue
				}
				queue = append(queue, pending{
					links:  sub,
					prefix: append(sections, l.text),
					depth:  cur.depth + 1,
				})
			}
		}
	}, nil
}

func (ix *Index) candidate(l link, start, sections []string) Candidate {
	href := l.href.String()
	name := path.Base(l.href.Path)
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}

	return Candidate{
		URL:  href,
		Path: strings.Join(append(append([]string{}, start...), sections...), "/"),
		Name: name,
		Tags: TagsFor(sections, ix.TypeTimetable),
		fetch: func(ctx context.Context, dir string) (Fetched, error) {
			return httpDownload(ctx, ix.Client, ix.UserAgent, href, dir)
		},
	}
}

// page fetches one HTML page and returns its links with their heading chain.
func (ix *Index) page(ctx context.Context, u *url.URL) ([]link, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	if ix.UserAgent != "" {
		req.Header.Set("User-Agent", ix.UserAgent)
	}

	resp, err := ix.Client.Do(req)
	if err != nil {
		return nil, apperr.TransientIO("fetch "+u.String(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperr.TransientIO("fetch "+u.String(), fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", u, err)
	}

	var links []link
	headings := make([]string, 6)
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if level := headingLevel(n.Data); level > 0 {
				headings[level-1] = textOf(n)
				for i := level; i < len(headings); i++ {
					headings[i] = ""
				}
				return
			}
			if n.Data == "a" {
				if href := attr(n, "href"); href != "" && !strings.HasPrefix(href, "#") {
					target, err := u.Parse(href)
					if err == nil && (target.Scheme == "http" || target.Scheme == "https") {
						target.Fragment = ""
						links = append(links, link{
							href:     target,
							text:     textOf(n),
							sections: compact(headings),
						})
					}
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return links, nil
}

func headingLevel(tag string) int {
	if len(tag) == 2 && tag[0] == 'h' && tag[1] >= '1' && tag[1] <= '6' {
		return int(tag[1] - '0')
	}
	return 0
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

func compact(in []string) []string {
	var out []string
	for _, s := range in {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func splitSections(p string) []string {
	var out []string
	for _, s := range strings.Split(p, "/") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// below reports whether u lives on base's host under base's directory.
func below(base, u *url.URL) bool {
	if u.Host != base.Host {
		return false
	}
	dir := base.Path
	if !strings.HasSuffix(dir, "/") {
		dir = path.Dir(dir) + "/"
	}
	return strings.HasPrefix(u.Path, dir)
}
