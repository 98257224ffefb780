package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Image types assigned by the filename classifier.
const (
	ImageTypeDetail      = "detail"
	ImageTypeGallery     = "gallery"
	ImageTypeComposition = "composition"
)

// ImageMetadata describes one object in the image bucket.
// FilePath is the natural key and mirrors the object's storage path.
type ImageMetadata struct {
	ID          uuid.UUID                   `gorm:"type:uuid;primaryKey" json:"id"`
	Filename    string                      `gorm:"size:255;index" json:"filename"`
	FilePath    string                      `gorm:"column:file_path;size:1024;uniqueIndex" json:"file_path"`
	CDNURL      *string                     `gorm:"column:cdn_url;size:2048;uniqueIndex" json:"cdn_url"`
	AITags      datatypes.JSONSlice[string] `gorm:"column:ai_tags" json:"ai_tags"`
	ImageType   string                      `gorm:"size:32" json:"image_type"`
	FolderKey   string                      `gorm:"size:255;index" json:"folder_key"`
	SizeBytes   int64                       `json:"size_bytes"`
	ContentType string                      `gorm:"size:120" json:"content_type"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (ImageMetadata) TableName() string {
	return "image_metadata"
}

// BeforeCreate generates a UUID if not set
func (m *ImageMetadata) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// HasTag reports whether tag is present verbatim.
func (m *ImageMetadata) HasTag(tag string) bool {
	for _, t := range m.AITags {
		if t == tag {
			return true
		}
	}
	return false
}

// CDNURLValue returns the cdn url or "" when unset.
func (m *ImageMetadata) CDNURLValue() string {
	if m.CDNURL == nil {
		return ""
	}
	return *m.CDNURL
}
