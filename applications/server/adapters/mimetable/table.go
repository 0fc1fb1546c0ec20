// Package mimetable is the process-wide extension <-> MIME lookup table.
//
// The table is parsed once from the embedded mime.types file when the
// package is initialised and is never written to afterwards, so it is shared
// between requests without locking.
package mimetable

import (
	"bufio"
	_ "embed"
	"fmt"
	"mime"
	"strings"

	"github.com/donmikel/rangeserve/applications/server/interfaces"
)

//go:embed mime.types
var mimeTypes string

var defaultTable = mustParse(mimeTypes)

type table struct {
	byExt  map[string]string
	byType map[string]string
}

// New returns the shared table.
func New() interfaces.MimeResolver {
	return defaultTable
}

func mustParse(data string) *table {
	t, err := parse(data)
	if err != nil {
		panic(err)
	}

	return t
}

func parse(data string) (*table, error) {
	t := &table{
		byExt:  map[string]string{},
		byType: map[string]string{},
	}

	sc := bufio.NewScanner(strings.NewReader(data))
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		fields := strings.Fields(text)
		if len(fields) < 2 {
			return nil, fmt.Errorf("mime.types line %d: type without extensions", line)
		}

		mimeType := strings.ToLower(fields[0])
		for _, ext := range fields[1:] {
			ext = normalizeExt(ext)
			if _, ok := t.byExt[ext]; !ok {
				t.byExt[ext] = mimeType
			}
		}

		if _, ok := t.byType[mimeType]; !ok {
			t.byType[mimeType] = normalizeExt(fields[1])
		}
	}

	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("can't read mime.types: %w", err)
	}

	return t, nil
}

func (t *table) ByExtension(ext string) (string, bool) {
	m, ok := t.byExt[normalizeExt(ext)]

	return m, ok
}

func (t *table) Extension(mimeType string) (string, bool) {
	mediaType, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return "", false
	}

	ext, ok := t.byType[mediaType]

	return ext, ok
}

func normalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}
