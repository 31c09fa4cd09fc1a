package folder

import (
	"strings"
	"unicode/utf8"

	"github.com/tidestore/tidestore/pkg/errs"
)

const maxNameLen = 255

const specialChars = `<>:"/\|?*`

// SanitizeName normalizes a folder name: special characters and control
// characters are replaced with underscores, whitespace is trimmed, and the
// result is capped at 255 characters. Names that reduce to "", ".", or ".."
// are rejected.
func SanitizeName(name string) (string, error) {
	if name == "" {
		return "", errs.Validation("folder name is empty")
	}

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

	if len(name) > maxNameLen {
		// Truncate on a rune boundary, then re-trim; the cap may have
		// exposed trailing whitespace
		cut := maxNameLen
		for cut > 0 && !utf8.RuneStart(name[cut]) {
			cut--
		}
		name = strings.TrimSpace(name[:cut])
	}
	if name == "" || name == "." || name == ".." {
		return "", errs.Validation("folder name reduces to nothing")
	}
	return name, nil
}
