package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/fairwaygolf/assetsync/internal/config"
)

// StorageService keeps the image bucket in a local directory. It mirrors the
// S3 semantics the reconciler relies on and is used for local runs and tests.
type StorageService struct {
	root      string
	bucket    string
	publicURL string
}

var _ ObjectStore = (*StorageService)(nil)

func NewStorageService(cfg *config.Config) *StorageService {
	return NewLocalStore(cfg.LocalStoragePath, cfg.StorageBucket, cfg.StoragePublicBaseURL)
}

func NewLocalStore(root, bucket, publicURL string) *StorageService {
	// ensure local path exists
	_ = os.MkdirAll(root, 0o755)
	return &StorageService{root: root, bucket: bucket, publicURL: strings.TrimRight(publicURL, "/")}
}

func (s *StorageService) abs(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(strings.Trim(key, "/")))
}

// ListFolder lists the immediate children of prefix. A missing prefix is an
// empty folder, as it is on S3.
func (s *StorageService) ListFolder(ctx context.Context, prefix string, opts ListOptions) ([]StoredObject, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix = strings.Trim(prefix, "/")
	entries, err := os.ReadDir(s.abs(prefix))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", prefix, err)
	}

	out := make([]StoredObject, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if strings.HasSuffix(name, ".part") || IsPlaceholder(name) {
			continue
		}
		key := JoinPath(prefix, name)
		if e.IsDir() {
			out = append(out, StoredObject{Path: key, Name: name, IsFolder: true})
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, StoredObject{
			Path:         key,
			Name:         name,
			Size:         info.Size(),
			ContentType:  ContentTypeFor(name),
			LastModified: info.ModTime().UTC(),
		})
	}

	SortObjects(out, opts.SortBy)
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// Upload saves an incoming stream under key
func (s *StorageService) Upload(ctx context.Context, key string, body io.Reader, contentType string) error {
	_, _, _, err := s.SaveStream(ctx, key, body)
	return err
}

// SaveStream saves an incoming stream to local storage and returns absolute path, size and checksum
func (s *StorageService) SaveStream(ctx context.Context, key string, r io.Reader) (string, int64, string, error) {
	absPath := s.abs(key)
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return "", 0, "", err
	}

	tmp := absPath + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return "", 0, "", err
	}
	defer f.Close()

	hasher := sha256.New()
	n, err := io.Copy(io.MultiWriter(f, hasher), r)
	if err != nil {
		_ = os.Remove(tmp)
		return "", 0, "", err
	}

	if err := f.Sync(); err != nil {
		_ = os.Remove(tmp)
		return "", 0, "", err
	}

	if err := os.Rename(tmp, absPath); err != nil {
		_ = os.Remove(tmp)
		return "", 0, "", err
	}

	checksum := hex.EncodeToString(hasher.Sum(nil))
	return absPath, n, checksum, nil
}

// Delete removes files; missing keys are ignored. Emptied folders are pruned
// so they disappear from listings like S3 prefixes do.
func (s *StorageService) Delete(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := os.Remove(s.abs(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("delete %s: %w", key, err)
		}
		s.pruneEmptyParents(key)
	}
	return nil
}

// Move renames an object within the store
func (s *StorageService) Move(ctx context.Context, from, to string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dst := s.abs(to)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if err := os.Rename(s.abs(from), dst); err != nil {
		return fmt.Errorf("move %s -> %s: %w", from, to, err)
	}
	s.pruneEmptyParents(from)
	return nil
}

func (s *StorageService) Exists(ctx context.Context, key string) (bool, error) {
	info, err := os.Stat(s.abs(key))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !info.IsDir(), nil
}

func (s *StorageService) PublicURL(key string) string {
	return PublicObjectURL(s.publicURL, s.bucket, key)
}

func (s *StorageService) pruneEmptyParents(key string) {
	dir := path.Dir(strings.Trim(key, "/"))
	for dir != "." && dir != "/" && dir != "" {
		if err := os.Remove(s.abs(dir)); err != nil {
			return
		}
		dir = path.Dir(dir)
	}
}
