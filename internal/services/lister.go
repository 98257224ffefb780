package services

import (
	"context"
	"fmt"
	"log"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/fairwaygolf/assetsync/pkg/validation"
)

// ListError records a sub-folder listing that failed and was treated as empty.
type ListError struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// Listing is the result of a recursive walk. Walked holds every folder whose
// listing succeeded; files outside those folders were not observed.
type Listing struct {
	Root     string          `json:"root"`
	Files    []StoredObject  `json:"files"`
	Folders  []string        `json:"folders"`
	Walked   map[string]bool `json:"-"`
	Partial  bool            `json:"partial"`
	MaxDepth int             `json:"max_depth"`
	Errors   []ListError     `json:"errors,omitempty"`
	Elapsed  time.Duration   `json:"elapsed"`

	seen map[string]bool
}

// Observed reports whether the folder at dir was listed successfully.
func (l *Listing) Observed(dir string) bool {
	return l.Walked[cleanDir(dir)]
}

// Covers reports whether the listing shows what dir holds: dir itself was
// listed, or its nearest listed ancestor had no such sub-folder.
func (l *Listing) Covers(dir string) bool {
	d := cleanDir(dir)
	if l.Walked[d] {
		return true
	}
	for d != "" {
		parent := cleanDir(path.Dir(d))
		if l.Walked[parent] {
			return !l.seen[d]
		}
		d = parent
	}
	return false
}

func cleanDir(dir string) string {
	dir = strings.Trim(dir, "/")
	if dir == "." {
		return ""
	}
	return dir
}

type Lister struct {
	store     ObjectStore
	batchSize int
	now       func() time.Time
}

func NewLister(store ObjectStore, batchSize int) *Lister {
	if batchSize < 1 {
		batchSize = 10
	}
	return &Lister{store: store, batchSize: batchSize, now: time.Now}
}

// WithClock replaces the wall clock used for deadline checks.
func (l *Lister) WithClock(now func() time.Time) *Lister {
	l.now = now
	return l
}

// ListFolder returns the immediate children of path
func (l *Lister) ListFolder(ctx context.Context, path string, opts ListOptions) ([]StoredObject, error) {
	if !validation.ValidateStoragePath(path) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	return l.store.ListFolder(ctx, validation.NormalizePath(path), opts)
}

// ListAllRecursive walks root breadth-first. Sub-folder listings of one level
// run concurrently in batches of batchSize. maxDepth counts folder levels
// below root (0 lists root only). The walk stops before a new batch once the
// deadline has passed or ctx is done and returns what it has with Partial set.
// A failing sub-listing is logged and its branch is treated as empty.
func (l *Lister) ListAllRecursive(ctx context.Context, root string, maxDepth int, deadline time.Time) *Listing {
	start := l.now()
	root = validation.NormalizePath(root)
	res := &Listing{Root: root, Walked: make(map[string]bool), seen: make(map[string]bool), MaxDepth: maxDepth}
	defer func() { res.Elapsed = l.now().Sub(start) }()

	level := []string{root}
	for depth := 0; len(level) > 0; depth++ {
		var next []string
		for i := 0; i < len(level); i += l.batchSize {
			if l.exhausted(ctx, deadline) {
				res.Partial = true
				return res
			}
			end := i + l.batchSize
			if end > len(level) {
				end = len(level)
			}
			batch := level[i:end]
			results := make([][]StoredObject, len(batch))
			errs := make([]error, len(batch))

			var wg sync.WaitGroup
			for j, dir := range batch {
				wg.Add(1)
				go func(j int, dir string) {
					defer wg.Done()
					results[j], errs[j] = l.store.ListFolder(ctx, dir, ListOptions{})
				}(j, dir)
			}
			wg.Wait()

			for j, dir := range batch {
				if errs[j] != nil {
					log.Printf("Lister: listing %q failed, skipping branch: %v", dir, errs[j])
					res.Errors = append(res.Errors, ListError{Path: dir, Error: errs[j].Error()})
					continue
				}
				res.Walked[dir] = true
				for _, obj := range results[j] {
					if obj.IsFolder {
						res.Folders = append(res.Folders, obj.Path)
						res.seen[obj.Path] = true
						if depth < maxDepth {
							next = append(next, obj.Path)
						}
						continue
					}
					res.Files = append(res.Files, obj)
				}
			}
		}
		level = next
	}
	return res
}

func (l *Lister) exhausted(ctx context.Context, deadline time.Time) bool {
	if ctx.Err() != nil {
		return true
	}
	return !deadline.IsZero() && !l.now().Before(deadline)
}
