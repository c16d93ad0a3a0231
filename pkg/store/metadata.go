package store

import (
	"unicode/utf8"

	"github.com/byessilyurt/polish-legal-assistant/internal/models"
)

// MaxMetadataContent caps the chunk text copied into index metadata.
const MaxMetadataContent = 1000

// IndexMetadata is the metadata written next to a chunk embedding: the flat
// chunk metadata plus a prefix of the chunk text. Nil values are dropped.
func IndexMetadata(chunk models.Chunk) map[string]any {
	meta := chunk.Metadata.Map()
	for k, v := range meta {
		if v == nil {
			delete(meta, k)
		}
	}
	meta[models.KeyContent] = truncateRunes(sanitizeUTF8(chunk.Content), MaxMetadataContent)
	return meta
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// sanitizeUTF8 drops invalid bytes, which Postgres rejects in text columns.
func sanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	v := make([]rune, 0, len(s))
	for i, r := range s {
		if r == utf8.RuneError {
			_, size := utf8.DecodeRuneInString(s[i:])
			if size == 1 {
				continue
			}
		}
		v = append(v, r)
	}
	return string(v)
}

func clampScore(s float64) float64 {
	switch {
	case s < 0:
		return 0
	case s > 1:
		return 1
	default:
		return s
	}
}
