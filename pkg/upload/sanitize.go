package upload

import (
	"path"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/tidestore/tidestore/pkg/errs"
)

// maxFilenameLen caps sanitized filenames.
const maxFilenameLen = 255

// ViolationPathTraversal marks rejections the abuse gate scores against the
// client IP. It travels in the error context.
const ViolationPathTraversal = "path_traversal"

// specialChars are replaced with underscores in filenames.
const specialChars = `<>:"/\|?*`

// SanitizeFilename normalizes a client-supplied filename and rejects
// traversal attempts. The function is idempotent: feeding its output back in
// returns the same string.
//
// Rejected outright: empty input, null bytes, any ".." sequence, URL-encoded
// path separators or dot-dot, and names that reduce to "", ".", or "..".
func SanitizeFilename(name string) (string, error) {
	if name == "" {
		return "", errs.Validation("filename is empty")
	}
	if strings.ContainsRune(name, 0) {
		return "", errs.Validation("filename contains null byte")
	}
	if strings.Contains(name, "..") {
		return "", errs.Validation("filename contains path traversal").
			With("violation", ViolationPathTraversal)
	}
	lower := strings.ToLower(name)
	for _, enc := range []string{"%2e%2e", "%2f", "%5c", "%00"} {
		if strings.Contains(lower, enc) {
			return "", errs.Validation("filename contains encoded path sequence").
				With("violation", ViolationPathTraversal)
		}
	}

	// Basename across both separator conventions
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))

	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if r < 0x20 || r == 0x7f || strings.ContainsRune(specialChars, r) {
			b.WriteRune('_')
			continue
		}
		b.WriteRune(r)
	}
	name = strings.TrimSpace(b.String())

	if len(name) > maxFilenameLen {
		// Truncate on a rune boundary, then re-trim; the cap may have
		// exposed trailing whitespace
		name = strings.TrimSpace(truncateRunes(name, maxFilenameLen))
	}
	if name == "" || name == "." || name == ".." {
		return "", errs.Validation("filename reduces to nothing")
	}
	return name, nil
}

// truncateRunes cuts s to at most max bytes without splitting a rune.
func truncateRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// extensionOf returns the dotted suffix of a filename, or "" when absent.
func extensionOf(filename string) string {
	return strings.ToLower(filepath.Ext(filename))
}
