// Package rag implements the retrieval-augmented generation core: chunking
// and indexing of species records, semantic retrieval, query intent
// classification, and the orchestrator that turns chat messages into
// grounded bot replies.
package rag

import (
	"context"

	"github.com/intothewild/wildchat/internal/vectordb/pinecone"
)

// Domain selects a knowledge base.
type Domain string

const (
	DomainPlant  Domain = "plant"
	DomainAnimal Domain = "animal"
)

// Embedder generates embeddings for queries and documents. The two modes
// are not interchangeable.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	EmbedDocument(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// VectorIndex is the vector store surface the RAG core depends on.
type VectorIndex interface {
	EnsureIndex(ctx context.Context, name string, dimension int) error
	Upsert(ctx context.Context, index string, vectors []pinecone.Vector) error
	Query(ctx context.Context, index string, vector []float32, topK int, includeMetadata bool) ([]pinecone.Match, error)
}

// LLMClient generates text, optionally conditioned on an image.
type LLMClient interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
	GenerateVision(ctx context.Context, prompt string, imageData []byte, mimeType string) (string, error)
}

// HistoryEntry is one prior message handed to the orchestrator for prompt
// context.
type HistoryEntry struct {
	AuthorName string
	IsBot      bool
	Text       string
}
