package validation

import (
	"regexp"
	"strings"
)

var (
	segmentRegex = regexp.MustCompile(`^[\p{L}\p{N}._\- ()]+$`)
	tagRegex     = regexp.MustCompile(`^[\p{L}\p{N}][\p{L}\p{N}._:\-]{0,63}$`)
)

// NormalizePath trims surrounding slashes and whitespace from a storage path
func NormalizePath(path string) string {
	return strings.Trim(strings.TrimSpace(path), "/")
}

// ValidateStoragePath checks that a slash-delimited storage path has no
// empty, relative or control-character segments. The empty path (bucket root)
// is valid.
func ValidateStoragePath(path string) bool {
	path = NormalizePath(path)
	if path == "" {
		return true
	}
	if len(path) > 1024 {
		return false
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return false
		}
		if !segmentRegex.MatchString(seg) {
			return false
		}
	}
	return true
}

// ValidateFolderKey validates a single folder segment such as a customer folder name
func ValidateFolderKey(key string) bool {
	key = strings.TrimSpace(key)
	if key == "" || len(key) > 255 || strings.Contains(key, "/") {
		return false
	}
	return ValidateStoragePath(key)
}

// ValidateTag validates a free-text ai_tags label
func ValidateTag(tag string) bool {
	return tagRegex.MatchString(strings.TrimSpace(tag))
}

// ValidateUsername validates username format
func ValidateUsername(username string) bool {
	username = strings.TrimSpace(username)
	if len(username) < 3 || len(username) > 30 {
		return false
	}
	// Allow alphanumeric, underscore, and hyphen
	matched, _ := regexp.MatchString("^[a-zA-Z0-9_-]+$", username)
	return matched
}

// SanitizeString removes potentially harmful characters
func SanitizeString(input string) string {
	// Basic sanitization
	input = strings.TrimSpace(input)
	// Remove null bytes
	input = strings.ReplaceAll(input, "\x00", "")
	return input
}
