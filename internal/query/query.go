// Package query answers questions against a knowledge base: retrieve the
// most similar chunks, fold in conversation memory, prompt the chat model.
// One Engine per collection lives in the runtime pool.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/openkb/knowbase/internal/memory"
	"github.com/openkb/knowbase/internal/pool"
	"github.com/openkb/knowbase/internal/vector"
)

const defaultTopK = 5

// Retriever finds relevant chunks in a collection.
type Retriever interface {
	Search(ctx context.Context, collection, query string, topK int) ([]vector.ScoredChunk, error)
}

// ContextProvider assembles conversation history for the prompt.
type ContextProvider interface {
	GetContext(ctx context.Context, conversationID string) memory.Context
}

// Generator produces the final answer text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Answer is one answered question with the chunks that grounded it.
type Answer struct {
	Text    string               `json:"text"`
	Sources []vector.ScoredChunk `json:"sources"`
}

// Engine answers questions for one collection. It is safe for concurrent
// use; Close is idempotent.
type Engine struct {
	collectionID string
	retriever    Retriever
	memory       ContextProvider
	model        Generator
	logger       *slog.Logger
	closeOnce    sync.Once
}

// NewEngine creates an Engine bound to a collection. For
// pool.NoCollectionID the engine skips retrieval and answers from
// conversation memory alone.
func NewEngine(collectionID string, retriever Retriever, memory ContextProvider, model Generator, logger *slog.Logger) *Engine {
	return &Engine{
		collectionID: collectionID,
		retriever:    retriever,
		memory:       memory,
		model:        model,
		logger:       logger,
	}
}

// Close releases the engine. Engines hold no exclusive resources today, the
// method exists so the pool can manage richer runtimes without changing
// callers.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.logger.Debug("engine closed", "collection", e.collectionID)
	})
	return nil
}

const answerPrompt = `You are a helpful assistant answering questions from a knowledge base.
Use the provided context to answer. If the context does not contain the
answer, say so instead of guessing.

%s%sQuestion: %s

Answer:`

// Answer responds to a question. conversationID may be empty for one-shot
// questions; topK <= 0 uses the default.
func (e *Engine) Answer(ctx context.Context, conversationID, question string, topK int) (Answer, error) {
	if strings.TrimSpace(question) == "" {
		return Answer{}, fmt.Errorf("question is empty")
	}
	if topK <= 0 {
		topK = defaultTopK
	}

	var sources []vector.ScoredChunk
	if e.collectionID != pool.NoCollectionID {
		var err error
		sources, err = e.retriever.Search(ctx, e.collectionID, question, topK)
		if err != nil {
			return Answer{}, fmt.Errorf("retrieving chunks: %w", err)
		}
	}

	var docSection string
	if len(sources) > 0 {
		var b strings.Builder
		b.WriteString("Context:\n")
		for _, s := range sources {
			b.WriteString("---\n")
			b.WriteString(s.Text)
			b.WriteString("\n")
		}
		b.WriteString("\n")
		docSection = b.String()
	}

	var memorySection string
	if conversationID != "" {
		memorySection = formatHistory(e.memory.GetContext(ctx, conversationID))
	}

	text, err := e.model.Generate(ctx, fmt.Sprintf(answerPrompt, docSection, memorySection, question))
	if err != nil {
		return Answer{}, fmt.Errorf("generating answer: %w", err)
	}
	return Answer{Text: strings.TrimSpace(text), Sources: sources}, nil
}

// formatHistory renders conversation context as a prompt section: the
// summary of older turns first, then the recent messages verbatim.
func formatHistory(hist memory.Context) string {
	if len(hist.Messages) == 0 && !hist.HasSummary {
		return ""
	}

	var b strings.Builder
	if hist.HasSummary {
		b.WriteString("Summary of earlier conversation:\n")
		b.WriteString(hist.Summary)
		b.WriteString("\n\n")
	}
	if len(hist.Messages) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, msg := range hist.Messages {
			b.WriteString(msg.Role)
			b.WriteString(": ")
			b.WriteString(msg.Content)
			b.WriteByte('\n')
		}
		b.WriteString("\n")
	}
	return b.String()
}

// Service routes questions through the runtime pool so engines get reused
// across requests for the same collection.
type Service struct {
	pool *pool.Pool
}

// NewService wraps a pool whose factory produces *Engine values.
func NewService(p *pool.Pool) *Service {
	return &Service{pool: p}
}

// Factory returns a pool factory producing engines over the given stores.
func Factory(retriever Retriever, memory ContextProvider, model Generator, logger *slog.Logger) pool.Factory {
	return func(ctx context.Context, collectionID string) (pool.Runtime, error) {
		return NewEngine(collectionID, retriever, memory, model, logger), nil
	}
}

// Answer acquires the collection's engine and answers with it. An empty
// collectionID answers from conversation memory alone.
func (s *Service) Answer(ctx context.Context, collectionID, conversationID, question string, topK int) (Answer, error) {
	rt, err := s.pool.Acquire(ctx, collectionID)
	if err != nil {
		return Answer{}, err
	}
	engine, ok := rt.(*Engine)
	if !ok {
		return Answer{}, fmt.Errorf("pool produced %T, want *query.Engine", rt)
	}
	return engine.Answer(ctx, conversationID, question, topK)
}
