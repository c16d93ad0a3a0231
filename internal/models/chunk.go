package models

import "fmt"

// ChunkMetadata is the parent document's metadata plus the chunk's position.
type ChunkMetadata struct {
	DocumentMetadata
	ChunkIndex       int
	TotalChunks      int
	ParentDocumentID string
	TokenCount       int
}

type Chunk struct {
	ID       string
	Content  string
	Metadata ChunkMetadata
}

// ChunkID derives the identifier of the index-th chunk of a document.
func ChunkID(documentID string, index int) string {
	return fmt.Sprintf("%s__chunk_%d", documentID, index)
}

func (m ChunkMetadata) Map() map[string]any {
	out := m.DocumentMetadata.Map()
	out[KeyChunkIndex] = m.ChunkIndex
	out[KeyTotalChunks] = m.TotalChunks
	out[KeyParentDocumentID] = m.ParentDocumentID
	out[KeyTokenCount] = m.TokenCount
	return out
}

// EmbeddedChunk pairs a chunk with its embedding, ready for upsert.
type EmbeddedChunk struct {
	Chunk
	Embedding []float32
}
