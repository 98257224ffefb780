package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"os"
	"strings"
	"testing"

	"github.com/fairwaygolf/assetsync/internal/config"
	"github.com/fairwaygolf/assetsync/internal/models"
	"github.com/google/uuid"
)

var pngData = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 64)...)

func newMediaService(t *testing.T, store ObjectStore) (*MediaService, *testEnv) {
	t.Helper()
	env := newTestEnv(t)
	cfg := &config.Config{UploadMaxImageSize: 1024, StorageUploadRetries: 1}
	lister := NewLister(store, 4)
	rec := NewReconciler(env.db, store, lister, env.classifier, env.audit)
	return NewMediaService(env.db, cfg, store, rec, env.audit, NewFolderCacheService(nil, 0)), env
}

func TestUploadImageCreatesTaggedRecord(t *testing.T) {
	store := newTestStore(t)
	media, env := newMediaService(t, store)
	seedCustomer(t, env.db, 7, "Kim", "kim-7")
	ctx := context.Background()

	rec, err := media.UploadImage(ctx, "originals/customers/kim-7/2026-02-01", "swing.png", pngData, "admin")
	if err != nil {
		t.Fatalf("UploadImage: %v", err)
	}
	if rec.FilePath != "originals/customers/kim-7/2026-02-01/swing.png" || rec.SizeBytes != int64(len(pngData)) {
		t.Fatalf("record = %+v", rec)
	}
	if !rec.HasTag("customer-7") || !rec.HasTag("visit-2026-02-01") || rec.ContentType != "image/png" {
		t.Fatalf("record = %+v", rec)
	}
	if ok, _ := store.Exists(ctx, rec.FilePath); !ok {
		t.Fatal("object not stored")
	}

	again, err := media.UploadImage(ctx, "originals/customers/kim-7/2026-02-01", "swing.png", pngData, "admin")
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != rec.ID {
		t.Fatalf("re-upload must keep the row id: %s vs %s", again.ID, rec.ID)
	}
	if n := len(allRecords(t, env.db)); n != 1 {
		t.Fatalf("rows = %d", n)
	}
	if _, total, _ := env.audit.GetAuditLogs(ctx, ActionUploadImage, "", 10, 0); total != 2 {
		t.Fatalf("uploads audited %d times", total)
	}
}

func TestUploadImageValidation(t *testing.T) {
	media, _ := newMediaService(t, newTestStore(t))
	ctx := context.Background()

	tests := []struct {
		name     string
		folder   string
		filename string
		data     []byte
		want     error
	}{
		{"extension", "blog", "notes.txt", pngData, ErrInvalidInput},
		{"content", "blog", "fake.png", []byte("hello world, not an image"), ErrInvalidInput},
		{"size", "blog", "big.png", append(pngData, make([]byte, 2048)...), ErrInvalidInput},
		{"folder", "", "a.png", pngData, ErrInvalidPath},
		{"traversal", "blog/../etc", "a.png", pngData, ErrInvalidPath},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := media.UploadImage(ctx, tt.folder, tt.filename, tt.data, "admin"); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

// flakyStore fails the first n uploads.
type flakyStore struct {
	*treeStore
	failures int
}

func (f *flakyStore) Upload(ctx context.Context, key string, body io.Reader, contentType string) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("503 slow down")
	}
	return f.treeStore.Upload(ctx, key, body, contentType)
}

func TestUploadImageRetries(t *testing.T) {
	store := &flakyStore{treeStore: newTreeStore(), failures: 1}
	media, _ := newMediaService(t, store)
	if _, err := media.UploadImage(context.Background(), "blog", "a.png", pngData, "admin"); err != nil {
		t.Fatalf("upload should succeed on retry: %v", err)
	}

	store.failures = 2
	if _, err := media.UploadImage(context.Background(), "blog", "b.png", pngData, "admin"); err == nil {
		t.Fatal("upload should fail once retries are used up")
	}
}

func TestMoveImage(t *testing.T) {
	store := newTestStore(t)
	media, env := newMediaService(t, store)
	seedCustomer(t, env.db, 7, "Kim", "kim-7")
	ctx := context.Background()

	rec, err := media.UploadImage(ctx, "originals/customers/kim-7/2026-02-01", "swing.png", pngData, "admin")
	if err != nil {
		t.Fatal(err)
	}
	moved, err := media.MoveImage(ctx, rec.ID, "originals/customers/kim-7/2026-02-03", "admin")
	if err != nil {
		t.Fatalf("MoveImage: %v", err)
	}
	if moved.FilePath != "originals/customers/kim-7/2026-02-03/swing.png" {
		t.Fatalf("file_path = %q", moved.FilePath)
	}
	if moved.HasTag("visit-2026-02-01") || !moved.HasTag("visit-2026-02-03") || !moved.HasTag("customer-7") {
		t.Fatalf("tags = %v", moved.AITags)
	}
	if ok, _ := store.Exists(ctx, "originals/customers/kim-7/2026-02-01/swing.png"); ok {
		t.Fatal("old object still present")
	}
	stored, _ := media.GetImage(ctx, rec.ID)
	if stored.FilePath != moved.FilePath || stored.CDNURLValue() != store.PublicURL(moved.FilePath) {
		t.Fatalf("stored = %+v", stored)
	}

	other, err := media.UploadImage(ctx, "originals/customers/kim-7/2026-02-01", "swing.png", pngData, "admin")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := media.MoveImage(ctx, other.ID, "originals/customers/kim-7/2026-02-03", "admin"); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("err = %v", err)
	}
}

func TestDeleteImage(t *testing.T) {
	store := newTestStore(t)
	media, env := newMediaService(t, store)
	ctx := context.Background()

	rec, err := media.UploadImage(ctx, "blog", "a.png", pngData, "admin")
	if err != nil {
		t.Fatal(err)
	}
	if err := media.DeleteImage(ctx, rec.ID, "admin"); err != nil {
		t.Fatalf("DeleteImage: %v", err)
	}
	if ok, _ := store.Exists(ctx, "blog/a.png"); ok {
		t.Fatal("object still present")
	}
	if _, err := media.GetImage(ctx, rec.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
	logs, total, _ := env.audit.GetAuditLogs(ctx, ActionDeleteImage, rec.ID.String(), 10, 0)
	if total != 1 || logs[0].Actor != "admin" {
		t.Fatalf("delete not audited: %+v", logs)
	}
	if err := media.DeleteImage(ctx, uuid.New(), "admin"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestUpdateTagsAndListImages(t *testing.T) {
	media, env := newMediaService(t, newTestStore(t))
	ctx := context.Background()
	a := seedRecord(t, env.db, &models.ImageMetadata{Filename: "a.webp", FilePath: "blog/a.webp", AITags: []string{"hero"}, ImageType: models.ImageTypeDetail})
	seedRecord(t, env.db, &models.ImageMetadata{Filename: "b.webp", FilePath: "blog_x/b.webp", AITags: []string{"hero-2"}, ImageType: models.ImageTypeGallery})
	seedRecord(t, env.db, &models.ImageMetadata{Filename: "c.webp", FilePath: "blog/sub/c.webp", ImageType: models.ImageTypeGallery})

	updated, err := media.UpdateTags(ctx, a.ID, []string{"featured", "hero"}, []string{"missing"})
	if err != nil {
		t.Fatal(err)
	}
	if len(updated.AITags) != 2 || !updated.HasTag("featured") {
		t.Fatalf("tags = %v", updated.AITags)
	}
	if _, err := media.UpdateTags(ctx, a.ID, []string{"bad tag!"}, nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v", err)
	}

	imgs, total, err := media.ListImages(ctx, ImageFilter{Folder: "blog"})
	if err != nil || total != 2 {
		t.Fatalf("folder filter: total=%d err=%v", total, err)
	}
	for _, img := range imgs {
		if img.FilePath == "blog_x/b.webp" {
			t.Fatal("LIKE wildcard leaked into folder filter")
		}
	}

	_, total, err = media.ListImages(ctx, ImageFilter{Tag: "hero"})
	if err != nil || total != 1 {
		t.Fatalf("tag filter must match exactly: total=%d err=%v", total, err)
	}
	_, total, _ = media.ListImages(ctx, ImageFilter{ImageType: models.ImageTypeGallery})
	if total != 2 {
		t.Fatalf("type filter total = %d", total)
	}
}

func TestRepairImageAndRepairPaths(t *testing.T) {
	store := newTestStore(t)
	media, env := newMediaService(t, store)
	ctx := context.Background()
	putObject(t, store, "blog/2026-01-28/a.webp", 10)

	fixable := seedRecord(t, env.db, &models.ImageMetadata{Filename: "a.webp", FilePath: "blog/2026-01-28"})
	orphan := seedRecord(t, env.db, &models.ImageMetadata{Filename: "b.webp", FilePath: "blog/2026-01-29/"})
	seedRecord(t, env.db, &models.ImageMetadata{Filename: "c.webp", FilePath: "blog/c.webp"})

	if _, _, err := media.RepairImage(ctx, orphan.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v", err)
	}

	dry, err := media.RepairPaths(ctx, "blog", true)
	if err != nil || dry.Checked != 2 || dry.Repaired != 1 || dry.Skipped != 1 {
		t.Fatalf("dry run = %+v err=%v", dry, err)
	}
	if got, _ := media.GetImage(ctx, fixable.ID); got.FilePath != "blog/2026-01-28" {
		t.Fatal("dry run must not write")
	}

	res, err := media.RepairPaths(ctx, "blog", false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Checked != 2 || res.Repaired != 1 || res.Skipped != 1 || len(res.Errors) != 0 {
		t.Fatalf("result = %+v", res)
	}
	got, _ := media.GetImage(ctx, fixable.ID)
	if got.FilePath != "blog/2026-01-28/a.webp" || got.CDNURLValue() != store.PublicURL(got.FilePath) {
		t.Fatalf("repaired = %+v", got)
	}
	if _, changed, err := media.RepairImage(ctx, fixable.ID); err != nil || changed {
		t.Fatalf("second repair: changed=%v err=%v", changed, err)
	}
}

// existsFailStore cannot answer existence checks.
type existsFailStore struct {
	*treeStore
}

func (s *existsFailStore) Exists(ctx context.Context, key string) (bool, error) {
	return false, errors.New("403 forbidden")
}

func TestRepairPathsDryRunChecksObjects(t *testing.T) {
	store := &existsFailStore{treeStore: newTreeStore("blog/2026-01-28/a.webp")}
	media, env := newMediaService(t, store)
	ctx := context.Background()
	seedRecord(t, env.db, &models.ImageMetadata{Filename: "a.webp", FilePath: "blog/2026-01-28"})

	dry, err := media.RepairPaths(ctx, "blog", true)
	if err != nil {
		t.Fatal(err)
	}
	if dry.Checked != 1 || dry.Repaired != 0 || len(dry.Errors) != 1 || dry.Errors[0].Op != "exists" {
		t.Fatalf("dry run = %+v", dry)
	}

	res, err := media.RepairPaths(ctx, "blog", false)
	if err != nil || res.Repaired != 0 || len(res.Errors) != 1 {
		t.Fatalf("result = %+v err=%v", res, err)
	}
}

func TestUploadImageSurvivesAuditFailure(t *testing.T) {
	store := newTreeStore()
	media, env := newMediaService(t, store)
	if err := env.db.Migrator().DropTable(&models.AuditLog{}); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	rec, err := media.UploadImage(context.Background(), "blog", "a.png", pngData, "admin")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if rec.FilePath != "blog/a.png" {
		t.Fatalf("record = %+v", rec)
	}
	if !strings.Contains(buf.String(), `audit of upload "blog/a.png" failed`) {
		t.Fatalf("log = %q", buf.String())
	}
}
