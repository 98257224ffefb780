package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fairwaygolf/assetsync/internal/models"
	"gorm.io/gorm"
)

const testPublicBase = "https://cdn.test/storage/v1/object/public"

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := models.OpenSQLite(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := models.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func newTestStore(t *testing.T) *StorageService {
	t.Helper()
	return NewLocalStore(t.TempDir(), "blog-images", testPublicBase)
}

func putObject(t *testing.T, store ObjectStore, key string, size int) {
	t.Helper()
	if err := store.Upload(context.Background(), key, bytes.NewReader(bytes.Repeat([]byte{0xff}, size)), ContentTypeFor(key)); err != nil {
		t.Fatalf("upload %s: %v", key, err)
	}
}

func seedCustomer(t *testing.T, db *gorm.DB, id int64, name, folder string) {
	t.Helper()
	c := models.Customer{ID: id, Name: name}
	if folder != "" {
		c.FolderName = &folder
	}
	if err := db.Create(&c).Error; err != nil {
		t.Fatalf("seed customer: %v", err)
	}
}

func seedRecord(t *testing.T, db *gorm.DB, rec *models.ImageMetadata) *models.ImageMetadata {
	t.Helper()
	if err := db.Create(rec).Error; err != nil {
		t.Fatalf("seed record %s: %v", rec.FilePath, err)
	}
	return rec
}

func allRecords(t *testing.T, db *gorm.DB) []models.ImageMetadata {
	t.Helper()
	var rows []models.ImageMetadata
	if err := db.Order("file_path").Find(&rows).Error; err != nil {
		t.Fatalf("load records: %v", err)
	}
	return rows
}

func strPtr(s string) *string { return &s }

type testEnv struct {
	db         *gorm.DB
	store      *StorageService
	classifier *Classifier
	lister     *Lister
	audit      *AuditService
	reconciler *Reconciler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := newTestDB(t)
	store := newTestStore(t)
	classifier := MustDefaultClassifier("originals/customers")
	lister := NewLister(store, 4)
	audit := NewAuditService(db)
	return &testEnv{
		db:         db,
		store:      store,
		classifier: classifier,
		lister:     lister,
		audit:      audit,
		reconciler: NewReconciler(db, store, lister, classifier, audit),
	}
}

// fakeClock is a settable clock safe for concurrent use.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// treeStore is an in-memory ObjectStore. Listing a folder in failing returns
// an error; onList runs before every listing.
type treeStore struct {
	mu      sync.Mutex
	objects map[string]int64
	failing map[string]bool
	onList  func(prefix string)
	listed  []string
}

func newTreeStore(keys ...string) *treeStore {
	s := &treeStore{objects: make(map[string]int64), failing: make(map[string]bool)}
	for _, k := range keys {
		s.objects[k] = 10
	}
	return s
}

func (s *treeStore) ListFolder(ctx context.Context, prefix string, opts ListOptions) ([]StoredObject, error) {
	if s.onList != nil {
		s.onList(prefix)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listed = append(s.listed, prefix)
	if s.failing[prefix] {
		return nil, fmt.Errorf("list %q: %w", prefix, errors.New("connection reset"))
	}
	folders := make(map[string]bool)
	var out []StoredObject
	for key, size := range s.objects {
		rest := key
		if prefix != "" {
			var ok bool
			if rest, ok = strings.CutPrefix(key, prefix+"/"); !ok {
				continue
			}
		}
		if name, _, nested := strings.Cut(rest, "/"); nested {
			if !folders[name] {
				folders[name] = true
				out = append(out, StoredObject{Path: JoinPath(prefix, name), Name: name, IsFolder: true})
			}
			continue
		}
		out = append(out, StoredObject{Path: key, Name: path.Base(key), Size: size, ContentType: ContentTypeFor(key)})
	}
	SortObjects(out, opts.SortBy)
	return out, nil
}

func (s *treeStore) Upload(ctx context.Context, key string, body io.Reader, contentType string) error {
	n, err := io.Copy(io.Discard, body)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = n
	return nil
}

func (s *treeStore) Delete(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.objects, k)
	}
	return nil
}

func (s *treeStore) Move(ctx context.Context, from, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	size, ok := s.objects[from]
	if !ok {
		return fmt.Errorf("move %s: no such object", from)
	}
	delete(s.objects, from)
	s.objects[to] = size
	return nil
}

func (s *treeStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok, nil
}

func (s *treeStore) PublicURL(key string) string {
	return PublicObjectURL(testPublicBase, "blog-images", key)
}

func (s *treeStore) listedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listed)
}
