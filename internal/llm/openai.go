package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/sync/errgroup"
)

// embedBatchSize bounds how many texts go into one embedding API call.
const embedBatchSize = 16

// ChatModel implements Model against an OpenAI-compatible chat endpoint.
type ChatModel struct {
	llm *openai.LLM
}

// NewChatModel creates a chat model handle. token may be empty for local
// endpoints that do not authenticate.
func NewChatModel(baseURL, token, model string) (*ChatModel, error) {
	client, err := openai.New(
		openai.WithBaseURL(baseURL),
		openai.WithToken(orNone(token)),
		openai.WithModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("creating chat model client: %w", err)
	}
	return &ChatModel{llm: client}, nil
}

// Generate returns the completion for a single plain-text prompt.
func (m *ChatModel) Generate(ctx context.Context, prompt string) (string, error) {
	out, err := llms.GenerateFromSinglePrompt(ctx, m.llm, prompt)
	if err != nil {
		return "", fmt.Errorf("generating completion: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// OpenAIEmbedder implements Embedder against an OpenAI-compatible
// embeddings endpoint.
type OpenAIEmbedder struct {
	embedder embeddings.Embedder
}

// NewEmbedder creates an embedder handle.
func NewEmbedder(baseURL, token, model string) (*OpenAIEmbedder, error) {
	client, err := openai.New(
		openai.WithBaseURL(baseURL),
		openai.WithToken(orNone(token)),
		openai.WithEmbeddingModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("creating embedding client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	return &OpenAIEmbedder{embedder: embedder}, nil
}

// Embed returns the embedding vector for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	return vec, nil
}

// EmbedBatch embeds texts in bounded-size batches, up to four batches in
// flight at once. Returns nil (not error) for empty input.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for start := 0; start < len(texts); start += embedBatchSize {
		start := start
		end := start + embedBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		g.Go(func() error {
			vecs, err := e.embedder.EmbedDocuments(gCtx, texts[start:end])
			if err != nil {
				return fmt.Errorf("embedding batch at %d: %w", start, err)
			}
			copy(results[start:], vecs)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// orNone substitutes a placeholder token for local services that skip auth;
// the OpenAI client rejects a fully empty token.
func orNone(token string) string {
	if token == "" {
		return "none"
	}
	return token
}
