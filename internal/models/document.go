package models

import (
	"encoding/json"
	"fmt"
)

// Metadata keys shared by documents, chunks and index records.
const (
	KeyTitle            = "title"
	KeyOrganization     = "organization"
	KeyCategory         = "category"
	KeyURL              = "url"
	KeyLastVerified     = "last_verified"
	KeyChunkIndex       = "chunk_index"
	KeyTotalChunks      = "total_chunks"
	KeyParentDocumentID = "parent_document_id"
	KeyTokenCount       = "token_count"
	KeyContent          = "content"
)

// DocumentMetadata describes the source of a document. Attributes without a
// named field are kept in Extra so they survive a round trip through the index.
type DocumentMetadata struct {
	Title        string `validate:"required"`
	Organization string
	Category     string
	URL          string `validate:"omitempty,url"`
	LastVerified string `validate:"omitempty,datetime=2006-01-02"`
	Extra        map[string]any
}

type Document struct {
	ID       string           `json:"id" validate:"required"`
	Content  string           `json:"content" validate:"required"`
	Metadata DocumentMetadata `json:"metadata"`
}

// Map flattens the metadata into a single map. Named fields win over Extra
// entries with the same key and empty optional fields are omitted.
func (m DocumentMetadata) Map() map[string]any {
	out := make(map[string]any, len(m.Extra)+5)
	for k, v := range m.Extra {
		if v != nil {
			out[k] = v
		}
	}
	out[KeyTitle] = m.Title
	setIfNotEmpty(out, KeyOrganization, m.Organization)
	setIfNotEmpty(out, KeyCategory, m.Category)
	setIfNotEmpty(out, KeyURL, m.URL)
	setIfNotEmpty(out, KeyLastVerified, m.LastVerified)
	return out
}

// MetadataFromMap is the inverse of Map. Known keys with non-string values
// are formatted with %v.
func MetadataFromMap(raw map[string]any) DocumentMetadata {
	var m DocumentMetadata
	for k, v := range raw {
		switch k {
		case KeyTitle:
			m.Title = stringValue(v)
		case KeyOrganization:
			m.Organization = stringValue(v)
		case KeyCategory:
			m.Category = stringValue(v)
		case KeyURL:
			m.URL = stringValue(v)
		case KeyLastVerified:
			m.LastVerified = stringValue(v)
		default:
			if m.Extra == nil {
				m.Extra = make(map[string]any)
			}
			m.Extra[k] = v
		}
	}
	return m
}

func (m DocumentMetadata) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Map())
}

func (m *DocumentMetadata) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = MetadataFromMap(raw)
	return nil
}

func setIfNotEmpty(m map[string]any, key, value string) {
	if value != "" {
		m[key] = value
	}
}

func stringValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}
