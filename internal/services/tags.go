package services

import (
	"fmt"
	"path"
	"strings"

	"github.com/fairwaygolf/assetsync/internal/models"
)

func CustomerTag(id int64) string { return fmt.Sprintf("customer-%d", id) }

func VisitTag(date string) string { return "visit-" + date }

// EnsureMembershipTag appends tag when it is not already present verbatim.
// Near-duplicates (another visit-<date>) are left alone.
func EnsureMembershipTag(tags []string, tag string) ([]string, bool) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return tags, false
	}
	for _, t := range tags {
		if t == tag {
			return tags, false
		}
	}
	return append(tags, tag), true
}

// RemoveExactTags drops tags equal to one of stale. No pattern matching.
func RemoveExactTags(tags []string, stale ...string) ([]string, bool) {
	if len(stale) == 0 {
		return tags, false
	}
	drop := make(map[string]bool, len(stale))
	for _, s := range stale {
		drop[s] = true
	}
	out := tags[:0:0]
	for _, t := range tags {
		if !drop[t] {
			out = append(out, t)
		}
	}
	return out, len(out) != len(tags)
}

// UnionTags appends the tags of extra that base lacks, keeping base order.
func UnionTags(base []string, extra ...[]string) []string {
	out := append([]string(nil), base...)
	for _, tags := range extra {
		for _, t := range tags {
			out, _ = EnsureMembershipTag(out, t)
		}
	}
	return out
}

// IsMalformedFilePath reports whether a record's file_path points at a folder:
// the last segment is a date folder or has no extension.
func IsMalformedFilePath(p string) bool {
	p = strings.Trim(p, "/")
	if p == "" {
		return true
	}
	last := path.Base(p)
	return IsDateSegment(last) || !strings.Contains(last, ".")
}

// RepairFilePath appends the record's filename to a folder-like file_path and
// recomputes cdn_url with publicURL. It returns false when nothing changed.
func RepairFilePath(rec *models.ImageMetadata, publicURL func(string) string) bool {
	if rec.Filename == "" || !IsMalformedFilePath(rec.FilePath) {
		return false
	}
	folder := strings.Trim(rec.FilePath, "/")
	if path.Base(folder) == rec.Filename {
		// extension-less filename already in place
		return false
	}
	rec.FilePath = JoinPath(folder, rec.Filename)
	u := publicURL(rec.FilePath)
	rec.CDNURL = &u
	return true
}
