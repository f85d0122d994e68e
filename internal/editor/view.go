package editor

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/rulekeeper/rulekeeper/internal/rules"
	"github.com/rulekeeper/rulekeeper/internal/store"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 500
)

type ViewOptions struct {
	// Kinds restricts the listing; empty means every kind.
	Kinds    []rules.Kind
	Page     int
	PageSize int
}

type Listing struct {
	File   string
	Items  []rules.Indexed
	Page   int
	Pages  int
	Total  int
	Counts map[rules.Kind]int
}

type FileStats struct {
	File   string
	Total  int
	Counts map[rules.Kind]int
}

// Percent is the share of kind among the active rules, truncated to an integer.
func (s FileStats) Percent(kind rules.Kind) int {
	if s.Total == 0 {
		return 0
	}
	return s.Counts[kind] * 100 / s.Total
}

// View lists the active rules sorted for display. Page is 1-based and is
// clamped to the available range.
func (e *Editor) View(ctx context.Context, file string, opts ViewOptions) (Listing, error) {
	path, err := e.path(file)
	if err != nil {
		return Listing{}, err
	}
	_, doc, err := e.load(ctx, path)
	if err != nil {
		return Listing{}, err
	}

	all := rules.List(doc)
	items := all
	if len(opts.Kinds) > 0 {
		items = nil
		for _, it := range all {
			if containsKind(opts.Kinds, it.Rule.Kind) {
				items = append(items, it)
			}
		}
	}
	items = rules.SortForDisplay(items)

	size := opts.PageSize
	if size <= 0 {
		size = DefaultPageSize
	}
	size = min(size, MaxPageSize)
	pages := (len(items) + size - 1) / size
	if pages == 0 {
		pages = 1
	}
	page := opts.Page
	if page < 1 {
		page = 1
	}
	if page > pages {
		page = pages
	}
	from := (page - 1) * size
	to := from + size
	if to > len(items) {
		to = len(items)
	}

	return Listing{
		File:   file,
		Items:  items[from:to],
		Page:   page,
		Pages:  pages,
		Total:  len(items),
		Counts: rules.CountByKind(doc),
	}, nil
}

// Search returns the rules matching the query, its host or the host's
// registrable domain, plus IP-CIDR rules containing an address query.
func (e *Editor) Search(ctx context.Context, file, query string) ([]rules.Indexed, error) {
	path, err := e.path(file)
	if err != nil {
		return nil, err
	}
	_, doc, err := e.load(ctx, path)
	if err != nil {
		return nil, err
	}
	return rules.Filter(rules.List(doc), e.normalizer.SearchTokens(query)), nil
}

// Stats counts active rules per kind in every named file. Files are
// fetched concurrently; the first failure cancels the rest.
func (e *Editor) Stats(ctx context.Context, files ...string) ([]FileStats, error) {
	if len(files) == 0 {
		files = e.Files()
	}
	out := make([]FileStats, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, file := range files {
		path, err := e.path(file)
		if err != nil {
			return nil, err
		}
		g.Go(func() error {
			_, doc, err := e.load(ctx, path)
			if err != nil {
				return err
			}
			counts := rules.CountByKind(doc)
			total := 0
			for _, n := range counts {
				total += n
			}
			out[i] = FileStats{File: file, Total: total, Counts: counts}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Raw returns the file exactly as stored.
func (e *Editor) Raw(ctx context.Context, file string) (store.File, error) {
	path, err := e.path(file)
	if err != nil {
		return store.File{}, err
	}
	f, err := e.store.Fetch(ctx, path)
	if err != nil {
		return store.File{}, fmt.Errorf("fetch %s: %w", path, err)
	}
	return f, nil
}

// Recent lists the latest commits that touched the file.
func (e *Editor) Recent(ctx context.Context, file string, limit int) ([]store.CommitInfo, error) {
	path, err := e.path(file)
	if err != nil {
		return nil, err
	}
	commits, err := e.store.RecentCommits(ctx, path, limit)
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", path, err)
	}
	return commits, nil
}

func containsKind(kinds []rules.Kind, k rules.Kind) bool {
	for _, want := range kinds {
		if want == k {
			return true
		}
	}
	return false
}
