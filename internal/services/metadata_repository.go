package services

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/fairwaygolf/assetsync/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var upsertColumns = []string{
	"filename", "cdn_url", "ai_tags", "image_type", "folder_key",
	"size_bytes", "content_type", "updated_at",
}

// UpsertByPath writes rec keyed by file_path in one conditional statement.
// Other rows still holding the same cdn_url under a different path are
// cleared first so the unique cdn_url index cannot reject the write.
func UpsertByPath(ctx context.Context, tx *gorm.DB, rec *models.ImageMetadata) error {
	return tx.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := evictCDNURL(tx, rec); err != nil {
			return err
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "file_path"}},
			DoUpdates: clause.AssignmentColumns(upsertColumns),
		}).Create(rec).Error
	})
}

// UpdateByID rewrites an existing row, including its file_path.
func UpdateByID(ctx context.Context, tx *gorm.DB, rec *models.ImageMetadata) error {
	return tx.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := evictCDNURL(tx, rec); err != nil {
			return err
		}
		cols := append([]string{"file_path"}, upsertColumns...)
		return tx.Model(rec).Select(cols).Updates(rec).Error
	})
}

func evictCDNURL(tx *gorm.DB, rec *models.ImageMetadata) error {
	if rec.CDNURL == nil || *rec.CDNURL == "" {
		return nil
	}
	return tx.Model(&models.ImageMetadata{}).
		Where("cdn_url = ? AND file_path <> ?", *rec.CDNURL, rec.FilePath).
		Update("cdn_url", nil).Error
}

// escapeLike escapes LIKE wildcards; queries pair it with ESCAPE '\'.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// scopeUnderRoot restricts a query to file_path values inside root.
func scopeUnderRoot(root string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		root = strings.Trim(root, "/")
		if root == "" {
			return db
		}
		return db.Where(`(file_path = ? OR file_path LIKE ? ESCAPE '\')`, root, escapeLike(root)+"/%")
	}
}

// scopeHasTag filters rows whose ai_tags JSON array contains tag.
func scopeHasTag(tag string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if tag == "" {
			return db
		}
		if db.Dialector.Name() == "postgres" {
			raw, _ := json.Marshal([]string{tag})
			return db.Where("ai_tags::jsonb @> ?::jsonb", string(raw))
		}
		return db.Where("EXISTS (SELECT 1 FROM json_each(image_metadata.ai_tags) WHERE json_each.value = ?)", tag)
	}
}

// loadRecords returns rows under root plus rows elsewhere whose filename is
// one of names, deduplicated by id.
func loadRecords(ctx context.Context, db *gorm.DB, root string, names []string) ([]*models.ImageMetadata, error) {
	var under []*models.ImageMetadata
	if err := db.WithContext(ctx).Scopes(scopeUnderRoot(root)).Order("created_at ASC").Find(&under).Error; err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(under))
	for _, r := range under {
		seen[r.ID.String()] = true
	}
	for start := 0; start < len(names); start += 500 {
		end := start + 500
		if end > len(names) {
			end = len(names)
		}
		var more []*models.ImageMetadata
		if err := db.WithContext(ctx).Where("filename IN ?", names[start:end]).Find(&more).Error; err != nil {
			return nil, err
		}
		for _, r := range more {
			if !seen[r.ID.String()] {
				seen[r.ID.String()] = true
				under = append(under, r)
			}
		}
	}
	return under, nil
}
