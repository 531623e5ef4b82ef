// Package llm holds the model handles used across the system: a chat model
// for summarization and an embedder for vector storage and semantic chunking.
// Both are backed by OpenAI-compatible endpoints via langchaingo.
package llm

import "context"

// Model generates a completion for a plain-text prompt.
type Model interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Embedder produces embedding vectors for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}
