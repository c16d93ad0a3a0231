package models

const unknown = "Unknown"

// RetrievedDocument is a query-scoped view of one index match. Score is the
// similarity reported by the index and is never recomputed.
type RetrievedDocument struct {
	ID           string  `json:"id"`
	Score        float64 `json:"score"`
	Title        string  `json:"title"`
	Content      string  `json:"content"`
	Organization string  `json:"organization"`
	URL          string  `json:"url,omitempty"`
	Category     string  `json:"category,omitempty"`
	LastVerified string  `json:"last_verified,omitempty"`
}

// Match is a single nearest-neighbour hit as returned by a vector index.
type Match struct {
	ID       string
	Score    float64
	Metadata map[string]any
}

// NewRetrievedDocument builds a RetrievedDocument from an index match.
func NewRetrievedDocument(m Match) RetrievedDocument {
	meta := MetadataFromMap(m.Metadata)
	doc := RetrievedDocument{
		ID:           m.ID,
		Score:        m.Score,
		Title:        meta.Title,
		Organization: meta.Organization,
		URL:          meta.URL,
		Category:     meta.Category,
		LastVerified: meta.LastVerified,
	}
	if content, ok := m.Metadata[KeyContent].(string); ok {
		doc.Content = content
	}
	if doc.Title == "" {
		doc.Title = unknown
	}
	if doc.Organization == "" {
		doc.Organization = unknown
	}
	return doc
}
