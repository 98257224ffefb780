package services

import (
	"reflect"
	"testing"

	"github.com/fairwaygolf/assetsync/internal/models"
)

func TestEnsureMembershipTag(t *testing.T) {
	tags, added := EnsureMembershipTag([]string{"customer-1"}, "visit-2026-01-26")
	if !added || !reflect.DeepEqual(tags, []string{"customer-1", "visit-2026-01-26"}) {
		t.Fatalf("got %v, %v", tags, added)
	}
	tags, added = EnsureMembershipTag(tags, "visit-2026-01-26")
	if added || len(tags) != 2 {
		t.Fatalf("duplicate must not be added: %v", tags)
	}
	// a near-duplicate visit tag is kept
	tags, _ = EnsureMembershipTag(tags, "visit-2026-01-27")
	if len(tags) != 3 {
		t.Fatalf("near-duplicate must be appended: %v", tags)
	}
	if _, added := EnsureMembershipTag(nil, "  "); added {
		t.Fatal("blank tag must be ignored")
	}
}

func TestRemoveExactTags(t *testing.T) {
	in := []string{"customer-1", "visit-2026-01-20", "visit-2026-01-2"}
	out, removed := RemoveExactTags(in, "visit-2026-01-2")
	if !removed || !reflect.DeepEqual(out, []string{"customer-1", "visit-2026-01-20"}) {
		t.Fatalf("got %v, %v", out, removed)
	}
	if len(in) != 3 {
		t.Fatal("input slice must not be modified")
	}
	if _, removed := RemoveExactTags(in, "visit-*"); removed {
		t.Fatal("patterns must not match")
	}
}

func TestUnionTags(t *testing.T) {
	got := UnionTags([]string{"a", "b"}, []string{"b", "c"}, nil, []string{"a", "d"})
	if !reflect.DeepEqual(got, []string{"a", "b", "c", "d"}) {
		t.Fatalf("got %v", got)
	}
}

func TestIsMalformedFilePath(t *testing.T) {
	tests := map[string]bool{
		"originals/customers/kim/2026-01-28":          true,
		"originals/customers/kim/2026-01-28/":         true,
		"originals/customers/kim/2026.01.28":          true,
		"originals/customers/kim/photos":              true,
		"":                                            true,
		"originals/customers/kim/2026-01-28/a.webp":   false,
		"originals/customers/kim/2026-01-28/v1.2.jpg": false,
	}
	for p, want := range tests {
		if got := IsMalformedFilePath(p); got != want {
			t.Errorf("IsMalformedFilePath(%q) = %v, want %v", p, got, want)
		}
	}
}

func TestRepairFilePath(t *testing.T) {
	publicURL := func(k string) string { return "https://cdn/" + k }
	rec := &models.ImageMetadata{
		Filename: "ahnhuija-S1-20260128-01.webp",
		FilePath: "originals/customers/ahnhuija/2026-01-28/",
	}
	if !RepairFilePath(rec, publicURL) {
		t.Fatal("expected repair")
	}
	if rec.FilePath != "originals/customers/ahnhuija/2026-01-28/ahnhuija-S1-20260128-01.webp" {
		t.Fatalf("file_path = %q", rec.FilePath)
	}
	if rec.CDNURLValue() != "https://cdn/"+rec.FilePath {
		t.Fatalf("cdn_url = %q", rec.CDNURLValue())
	}
	if RepairFilePath(rec, publicURL) {
		t.Fatal("repair must be idempotent")
	}

	noName := &models.ImageMetadata{FilePath: "a/2026-01-28"}
	if RepairFilePath(noName, publicURL) {
		t.Fatal("cannot repair without filename")
	}
}

func TestTagHelpers(t *testing.T) {
	if CustomerTag(6003) != "customer-6003" || VisitTag("2026-01-26") != "visit-2026-01-26" {
		t.Fatal("unexpected tag format")
	}
}
