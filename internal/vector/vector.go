// Package vector stores chunk embeddings and serves similarity search,
// keyed by the owning knowledge base's collection identifier.
package vector

import (
	"context"

	"github.com/openkb/knowbase/internal/chunk"
)

// Store is the vector-backend boundary. The default implementation keeps
// embeddings in SQLite with brute-force cosine search; a server-backed
// implementation (Milvus and friends) would plug in behind the same
// interface, one collection per knowledge base.
type Store interface {
	// StoreChunksBatch embeds and persists chunks into the collection,
	// returning how many chunks were written.
	StoreChunksBatch(ctx context.Context, collection string, chunks []chunk.Chunk) (int, error)

	// DeleteByDocumentName removes every chunk of the named document,
	// returning how many were removed. Absent documents are not an error.
	DeleteByDocumentName(ctx context.Context, collection, documentName string) (int, error)

	// DropCollection removes the whole collection.
	DropCollection(ctx context.Context, collection string) error

	// Search returns the top-K chunks most similar to the query.
	Search(ctx context.Context, collection, query string, topK int) ([]ScoredChunk, error)

	// Count returns the number of stored chunks in the collection.
	Count(ctx context.Context, collection string) (int, error)
}

// ScoredChunk is one search hit.
type ScoredChunk struct {
	ID           string
	DocumentName string
	Index        int
	Text         string
	Score        float32
}
