package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/fairwaygolf/assetsync/internal/config"
	"github.com/fairwaygolf/assetsync/internal/models"
	"github.com/fairwaygolf/assetsync/pkg/validation"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ImageFilter narrows ListImages.
type ImageFilter struct {
	Folder    string
	Tag       string
	ImageType string
	Limit     int
	Offset    int
}

// MediaService manages single image_metadata rows together with the objects
// they describe.
type MediaService struct {
	db         *gorm.DB
	cfg        *config.Config
	store      ObjectStore
	reconciler *Reconciler
	audit      *AuditService
	cache      *FolderCacheService
}

func NewMediaService(db *gorm.DB, cfg *config.Config, store ObjectStore, reconciler *Reconciler, audit *AuditService, cache *FolderCacheService) *MediaService {
	return &MediaService{
		db:         db,
		cfg:        cfg,
		store:      store,
		reconciler: reconciler,
		audit:      audit,
		cache:      cache,
	}
}

var allowedImageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".webp": true, ".gif": true, ".avif": true,
}

// ListImages returns metadata rows with pagination, newest first.
func (s *MediaService) ListImages(ctx context.Context, f ImageFilter) ([]models.ImageMetadata, int64, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	if f.Folder != "" && !validation.ValidateStoragePath(f.Folder) {
		return nil, 0, fmt.Errorf("%w: %q", ErrInvalidPath, f.Folder)
	}

	query := s.db.WithContext(ctx).Model(&models.ImageMetadata{}).
		Scopes(scopeUnderRoot(f.Folder), scopeHasTag(f.Tag))
	if f.ImageType != "" {
		query = query.Where("image_type = ?", f.ImageType)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var images []models.ImageMetadata
	if err := query.Order("created_at DESC").Limit(f.Limit).Offset(f.Offset).Find(&images).Error; err != nil {
		return nil, 0, err
	}
	return images, total, nil
}

// GetImage returns a single row by id
func (s *MediaService) GetImage(ctx context.Context, id uuid.UUID) (*models.ImageMetadata, error) {
	var rec models.ImageMetadata
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// UpdateTags adds and removes exact tags on a row.
func (s *MediaService) UpdateTags(ctx context.Context, id uuid.UUID, add, remove []string) (*models.ImageMetadata, error) {
	for _, t := range add {
		if !validation.ValidateTag(t) {
			return nil, fmt.Errorf("%w: tag %q", ErrInvalidInput, t)
		}
	}
	rec, err := s.GetImage(ctx, id)
	if err != nil {
		return nil, err
	}
	tags, removed := RemoveExactTags(rec.AITags, remove...)
	changed := removed
	for _, t := range add {
		var added bool
		tags, added = EnsureMembershipTag(tags, t)
		changed = changed || added
	}
	if !changed {
		return rec, nil
	}
	rec.AITags = tags
	if err := s.db.WithContext(ctx).Model(rec).Select("ai_tags", "updated_at").Updates(rec).Error; err != nil {
		return nil, fmt.Errorf("failed to update tags: %w", err)
	}
	return rec, nil
}

// DeleteImage removes the object first, then the row, so a failure never
// leaves an object without metadata.
func (s *MediaService) DeleteImage(ctx context.Context, id uuid.UUID, actor string) error {
	rec, err := s.GetImage(ctx, id)
	if err != nil {
		return err
	}
	if !IsMalformedFilePath(rec.FilePath) {
		if err := s.store.Delete(ctx, rec.FilePath); err != nil {
			return fmt.Errorf("failed to delete object %q: %w", rec.FilePath, err)
		}
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&models.ImageMetadata{}, "id = ?", rec.ID).Error; err != nil {
			return err
		}
		return s.audit.LogAction(ctx, tx, actor, ActionDeleteImage, "image_metadata", rec.ID.String(), snapshot(rec))
	})
	if err != nil {
		return fmt.Errorf("failed to delete image record: %w", err)
	}
	s.cache.InvalidatePath(ctx, path.Dir(rec.FilePath))
	return nil
}

// MoveImage moves the object into folder and re-derives the row from its new
// location, dropping the visit tag of the old date folder.
func (s *MediaService) MoveImage(ctx context.Context, id uuid.UUID, folder, actor string) (*models.ImageMetadata, error) {
	if folder == "" || !validation.ValidateStoragePath(folder) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, folder)
	}
	rec, err := s.GetImage(ctx, id)
	if err != nil {
		return nil, err
	}
	from := rec.FilePath
	to := JoinPath(folder, rec.Filename)
	if from == to {
		return rec, nil
	}
	exists, err := s.store.Exists(ctx, to)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: %q", ErrAlreadyExists, to)
	}
	if err := s.store.Move(ctx, from, to); err != nil {
		return nil, fmt.Errorf("failed to move object: %w", err)
	}

	obj := StoredObject{Path: to, Name: rec.Filename, Size: rec.SizeBytes, ContentType: rec.ContentType}
	if err := s.reconciler.Describe(ctx, rec, obj, from); err != nil {
		return nil, err
	}
	if err := UpdateByID(ctx, s.db, rec); err != nil {
		// metadata lags the object; the next reconcile re-points it
		log.Printf("Media: moved %q to %q but record %s was not updated: %v", from, to, rec.ID, err)
		return nil, fmt.Errorf("failed to update image record: %w", err)
	}
	if err := s.audit.LogAction(ctx, nil, actor, ActionMoveImage, "image_metadata", rec.ID.String(), map[string]interface{}{
		"from": from,
		"to":   to,
	}); err != nil {
		log.Printf("Media: audit of move %s failed: %v", rec.ID, err)
	}
	s.cache.InvalidatePath(ctx, path.Dir(from))
	s.cache.InvalidatePath(ctx, folder)
	return rec, nil
}

// UploadImage stores data under folder/filename and upserts its row. A failed
// upload is retried StorageUploadRetries times.
func (s *MediaService) UploadImage(ctx context.Context, folder, filename string, data []byte, actor string) (*models.ImageMetadata, error) {
	filename = path.Base(strings.TrimSpace(filename))
	if folder == "" || !validation.ValidateStoragePath(folder) || !validation.ValidateStoragePath(filename) {
		return nil, fmt.Errorf("%w: %q/%q", ErrInvalidPath, folder, filename)
	}

	ext := strings.ToLower(path.Ext(filename))
	if !allowedImageExts[ext] {
		return nil, fmt.Errorf("%w: unsupported image extension %q", ErrInvalidInput, ext)
	}
	if int64(len(data)) > s.cfg.UploadMaxImageSize {
		return nil, fmt.Errorf("%w: image too large: %d bytes (max: %d)", ErrInvalidInput, len(data), s.cfg.UploadMaxImageSize)
	}
	mimeType := http.DetectContentType(data)
	if !strings.HasPrefix(mimeType, "image/") && ext != ".avif" {
		return nil, fmt.Errorf("%w: expected image, got %s", ErrInvalidInput, mimeType)
	}
	contentType := ContentTypeFor(filename)

	key := JoinPath(folder, filename)
	var err error
	for attempt := 0; attempt <= s.cfg.StorageUploadRetries; attempt++ {
		if attempt > 0 {
			log.Printf("Media: upload %q failed (%v), retrying", key, err)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}
		if err = s.store.Upload(ctx, key, bytes.NewReader(data), contentType); err == nil {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to upload %q: %w", key, err)
	}

	rec := &models.ImageMetadata{}
	var existing models.ImageMetadata
	if err := s.db.WithContext(ctx).Where("file_path = ?", key).First(&existing).Error; err == nil {
		rec = &existing
	}
	obj := StoredObject{Path: key, Name: filename, Size: int64(len(data)), ContentType: contentType}
	if err := s.reconciler.Describe(ctx, rec, obj, ""); err != nil {
		return nil, err
	}
	isNew := rec.ID == uuid.Nil
	write := UpsertByPath
	if !isNew {
		write = UpdateByID
	}
	if err := write(ctx, s.db, rec); err != nil {
		if isNew {
			if derr := s.store.Delete(ctx, key); derr != nil {
				log.Printf("Media: object %q left without a record: %v", key, derr)
			}
		}
		return nil, fmt.Errorf("failed to create image record: %w", err)
	}
	if err := s.audit.LogAction(ctx, nil, actor, ActionUploadImage, "image_metadata", key, map[string]interface{}{
		"size": len(data),
	}); err != nil {
		log.Printf("Media: audit of upload %q failed: %v", key, err)
	}
	s.cache.InvalidatePath(ctx, folder)
	return rec, nil
}

// RepairImage fixes a folder-like file_path when an object exists at the
// repaired location. It reports whether the row changed.
func (s *MediaService) RepairImage(ctx context.Context, id uuid.UUID) (*models.ImageMetadata, bool, error) {
	rec, err := s.GetImage(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if !RepairFilePath(rec, s.store.PublicURL) {
		return rec, false, nil
	}
	exists, err := s.store.Exists(ctx, rec.FilePath)
	if err != nil {
		return nil, false, err
	}
	if !exists {
		return nil, false, fmt.Errorf("%w: no object at %q", ErrNotFound, rec.FilePath)
	}
	if err := UpdateByID(ctx, s.db, rec); err != nil {
		return nil, false, fmt.Errorf("failed to update image record: %w", err)
	}
	return rec, true, nil
}

// RepairResult is the outcome of RepairPaths.
type RepairResult struct {
	Checked  int         `json:"checked"`
	Repaired int         `json:"repaired"`
	Skipped  int         `json:"skipped"`
	Errors   []ItemError `json:"errors,omitempty"`
}

// RepairPaths repairs every folder-like file_path under root whose repaired
// location holds an object. Rows without a backing object are skipped and
// left for the reconciler.
func (s *MediaService) RepairPaths(ctx context.Context, root string, dryRun bool) (*RepairResult, error) {
	if !validation.ValidateStoragePath(root) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, root)
	}
	var rows []models.ImageMetadata
	if err := s.db.WithContext(ctx).Scopes(scopeUnderRoot(validation.NormalizePath(root))).
		Order("file_path").Find(&rows).Error; err != nil {
		return nil, err
	}

	res := &RepairResult{}
	for i := range rows {
		rec := &rows[i]
		if !IsMalformedFilePath(rec.FilePath) {
			continue
		}
		res.Checked++
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if dryRun {
			preview := *rec
			if !RepairFilePath(&preview, s.store.PublicURL) {
				continue
			}
			exists, err := s.store.Exists(ctx, preview.FilePath)
			switch {
			case err != nil:
				res.Errors = append(res.Errors, ItemError{Path: rec.FilePath, RecordID: rec.ID.String(), Op: "exists", Error: err.Error()})
			case !exists:
				res.Skipped++
			default:
				res.Repaired++
			}
			continue
		}
		_, changed, err := s.RepairImage(ctx, rec.ID)
		switch {
		case errors.Is(err, ErrNotFound):
			res.Skipped++
		case err != nil:
			res.Errors = append(res.Errors, ItemError{Path: rec.FilePath, RecordID: rec.ID.String(), Op: "repair", Error: err.Error()})
		case changed:
			res.Repaired++
		}
	}
	log.Printf("Media: repair under %q checked=%d repaired=%d skipped=%d errors=%d (dry_run=%v)",
		root, res.Checked, res.Repaired, res.Skipped, len(res.Errors), dryRun)
	return res, nil
}
