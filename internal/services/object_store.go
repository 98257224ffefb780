package services

import (
	"context"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/facette/natsort"
)

// StoredObject is one entry of a folder listing. Files carry an identity
// (their object key); folders are derived from common prefixes.
type StoredObject struct {
	Path         string    `json:"path"`
	Name         string    `json:"name"`
	Size         int64     `json:"size"`
	ContentType  string    `json:"content_type,omitempty"`
	LastModified time.Time `json:"last_modified,omitempty"`
	IsFolder     bool      `json:"is_folder"`
}

// ListOptions controls a single-folder listing.
type ListOptions struct {
	Limit  int
	SortBy string // name | size | updated
}

// ObjectStore is the object-storage surface the reconciler depends on.
type ObjectStore interface {
	ListFolder(ctx context.Context, prefix string, opts ListOptions) ([]StoredObject, error)
	Upload(ctx context.Context, key string, body io.Reader, contentType string) error
	Delete(ctx context.Context, keys ...string) error
	Move(ctx context.Context, from, to string) error
	Exists(ctx context.Context, key string) (bool, error)
	PublicURL(key string) string
}

// placeholderNames are zero-byte markers some storage consoles create to keep
// empty folders visible.
var placeholderNames = map[string]bool{
	".emptyFolderPlaceholder": true,
	".keep":                   true,
}

// IsPlaceholder reports whether key names a folder placeholder object.
func IsPlaceholder(key string) bool {
	return placeholderNames[path.Base(key)]
}

// SortObjects orders a listing in place. Folders come before files; names use
// natural order so "img-2" sorts before "img-10".
func SortObjects(objs []StoredObject, sortBy string) {
	sort.SliceStable(objs, func(i, j int) bool {
		a, b := objs[i], objs[j]
		if a.IsFolder != b.IsFolder {
			return a.IsFolder
		}
		switch sortBy {
		case "size":
			if a.Size != b.Size {
				return a.Size > b.Size
			}
		case "updated":
			if !a.LastModified.Equal(b.LastModified) {
				return a.LastModified.After(b.LastModified)
			}
		}
		return natsort.Compare(a.Name, b.Name)
	})
}

// JoinPath joins storage path segments, ignoring empty ones.
func JoinPath(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.Trim(p, "/"); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "/")
}

// ContentTypeFor returns the content type based on file extension
func ContentTypeFor(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".webp":
		return "image/webp"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".svg":
		return "image/svg+xml"
	case ".avif":
		return "image/avif"
	default:
		return "application/octet-stream"
	}
}
