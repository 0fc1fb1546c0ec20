package sanitizer

import (
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/donmikel/rangeserve/applications/server/interfaces"
)

const maxNameBytes = 255

const reserved = `/\:*?"<>|`

type sanitizer struct {
	maxBytes int
}

func New() interfaces.FilenameSanitizer {
	return &sanitizer{maxBytes: maxNameBytes}
}

func (s *sanitizer) Sanitize(name string) string {
	name = strings.ToValidUTF8(name, "")
	// Clients on Windows send backslash separated paths.
	name = strings.ReplaceAll(name, `\`, "/")
	name = filepath.Base(name)

	var b strings.Builder
	space := false
	for _, r := range name {
		switch {
		case unicode.IsControl(r) || strings.ContainsRune(reserved, r):
			continue
		case unicode.IsSpace(r):
			if !space {
				b.WriteRune(' ')
			}
			space = true
			continue
		}
		space = false
		b.WriteRune(r)
	}

	clean := strings.Trim(b.String(), ". ")
	if clean == "" {
		return ""
	}

	return truncate(clean, s.maxBytes)
}

// truncate cuts name to max bytes keeping the extension and rune boundaries.
func truncate(name string, max int) string {
	if len(name) <= max {
		return name
	}

	ext := filepath.Ext(name)
	if len(ext) >= max {
		ext = ""
	}

	base := name[:len(name)-len(ext)]
	limit := max - len(ext)
	for limit > 0 && !utf8.RuneStart(base[limit]) {
		limit--
	}

	return base[:limit] + ext
}
