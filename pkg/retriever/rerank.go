package retriever

import (
	"sort"

	"github.com/byessilyurt/polish-legal-assistant/internal/models"
)

// Reranker orders retrieved documents for a query. Implementations must be
// stable: documents that compare equal keep their index order.
type Reranker interface {
	Rerank(query string, docs []models.RetrievedDocument) []models.RetrievedDocument
}

// ScoreReranker sorts by descending similarity score.
type ScoreReranker struct{}

func (ScoreReranker) Rerank(_ string, docs []models.RetrievedDocument) []models.RetrievedDocument {
	sort.SliceStable(docs, func(i, j int) bool {
		return docs[i].Score > docs[j].Score
	})
	return docs
}

// RecencyReranker breaks score ties with the most recently verified document
// first. Documents without a verification date sort after dated ones.
type RecencyReranker struct{}

func (RecencyReranker) Rerank(_ string, docs []models.RetrievedDocument) []models.RetrievedDocument {
	sort.SliceStable(docs, func(i, j int) bool {
		if docs[i].Score != docs[j].Score {
			return docs[i].Score > docs[j].Score
		}
		// ISO dates compare lexically; empty sorts last.
		return docs[i].LastVerified > docs[j].LastVerified
	})
	return docs
}
