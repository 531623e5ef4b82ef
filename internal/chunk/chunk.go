// Package chunk splits raw document text into bounded-size chunks for
// embedding and retrieval. A strategy performs the primary split; a second
// pass re-splits any chunk that exceeds the configured ceiling so that every
// emitted chunk fits the embedding model regardless of strategy choice.
package chunk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
)

// Strategy selects the primary splitting algorithm.
type Strategy string

const (
	// StrategyMarkdown splits on markdown header boundaries, one section per chunk.
	StrategyMarkdown Strategy = "markdown"
	// StrategyRecursive splits recursively on paragraph/line/word boundaries
	// targeting a fixed size with overlap.
	StrategyRecursive Strategy = "recursive"
	// StrategySemantic splits at embedding-scored topic boundaries. Requires
	// an embedding function.
	StrategySemantic Strategy = "semantic"
	// StrategyCharacter splits on a single separator targeting a fixed size.
	StrategyCharacter Strategy = "character"
)

// ParseStrategy maps a request string to a Strategy, defaulting to markdown
// for unknown values.
func ParseStrategy(s string) Strategy {
	switch Strategy(s) {
	case StrategyRecursive, StrategySemantic, StrategyCharacter:
		return Strategy(s)
	default:
		return StrategyMarkdown
	}
}

var (
	// ErrEmptyContent means there was nothing to chunk. Empty input is a
	// failure, never an empty-but-successful result.
	ErrEmptyContent = errors.New("document content is empty")
	// ErrEmptyChunkResult means the strategy produced no chunks.
	ErrEmptyChunkResult = errors.New("chunking produced no chunks")
	// ErrNoEmbedder means the semantic strategy was requested without an
	// embedding function.
	ErrNoEmbedder = errors.New("semantic strategy requires an embedding function")
)

// Config tunes the primary split. Zero values take per-strategy defaults.
type Config struct {
	ChunkSize            int
	ChunkOverlap         int
	Separator            string  // character strategy only
	BreakpointPercentile float64 // semantic strategy only
}

// Chunk is one bounded slice of a document's text.
type Chunk struct {
	DocumentName string
	Index        int
	Text         string
	Size         int
}

// EmbedFunc produces one embedding vector per input text.
type EmbedFunc func(ctx context.Context, texts []string) ([][]float32, error)

const (
	// DefaultMaxChunkSize is the hard ceiling in characters, sized to stay
	// well inside common embedding model input limits.
	DefaultMaxChunkSize = 4000

	defaultChunkSize            = 500
	defaultChunkOverlap         = 50
	defaultSeparator            = "\n\n"
	defaultBreakpointPercentile = 90

	// Oversized chunks are re-split with these fixed parameters, independent
	// of the primary strategy's configuration.
	fallbackChunkSize    = 500
	fallbackChunkOverlap = 50
)

// Chunker performs two-pass document splitting.
type Chunker struct {
	embed        EmbedFunc
	maxChunkSize int
	logger       *slog.Logger
}

// New creates a Chunker. embed may be nil, in which case the semantic
// strategy is unavailable. maxChunkSize <= 0 selects DefaultMaxChunkSize.
func New(embed EmbedFunc, maxChunkSize int) *Chunker {
	if maxChunkSize <= 0 {
		maxChunkSize = DefaultMaxChunkSize
	}
	return &Chunker{
		embed:        embed,
		maxChunkSize: maxChunkSize,
		logger:       slog.Default(),
	}
}

// MaxChunkSize returns the configured ceiling.
func (c *Chunker) MaxChunkSize() int {
	return c.maxChunkSize
}

// Split chunks content with the given strategy, then re-splits any piece
// longer than the ceiling using the recursive strategy, splicing the
// sub-chunks into the output in place.
func (c *Chunker) Split(ctx context.Context, content, documentName string, strategy Strategy, cfg Config) ([]Chunk, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}

	applyDefaults(&cfg, strategy)

	pieces, err := c.splitOnce(ctx, content, strategy, cfg)
	if err != nil {
		return nil, fmt.Errorf("splitting with %s strategy: %w", strategy, err)
	}
	pieces = dropBlank(pieces)
	if len(pieces) == 0 {
		return nil, ErrEmptyChunkResult
	}

	pieces, err = c.enforceCeiling(pieces)
	if err != nil {
		return nil, err
	}

	chunks := make([]Chunk, len(pieces))
	for i, text := range pieces {
		chunks[i] = Chunk{
			DocumentName: documentName,
			Index:        i,
			Text:         text,
			Size:         len(text),
		}
	}
	return chunks, nil
}

func applyDefaults(cfg *Config, strategy Strategy) {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultChunkSize
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = defaultChunkOverlap
	}
	if strategy == StrategyCharacter && cfg.Separator == "" {
		cfg.Separator = defaultSeparator
	}
	if strategy == StrategySemantic && cfg.BreakpointPercentile <= 0 {
		cfg.BreakpointPercentile = defaultBreakpointPercentile
	}
}

func (c *Chunker) splitOnce(ctx context.Context, content string, strategy Strategy, cfg Config) ([]string, error) {
	switch strategy {
	case StrategyMarkdown:
		return splitMarkdownSections(content), nil
	case StrategyRecursive:
		sp := textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(cfg.ChunkSize),
			textsplitter.WithChunkOverlap(cfg.ChunkOverlap),
		)
		return sp.SplitText(content)
	case StrategyCharacter:
		sp := textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(cfg.ChunkSize),
			textsplitter.WithChunkOverlap(cfg.ChunkOverlap),
			textsplitter.WithSeparators([]string{cfg.Separator}),
		)
		return sp.SplitText(content)
	case StrategySemantic:
		return c.splitSemantic(ctx, content, cfg.BreakpointPercentile)
	default:
		return nil, fmt.Errorf("unknown strategy %q", strategy)
	}
}

// enforceCeiling re-splits every piece exceeding the ceiling with the
// recursive strategy at fixed size/overlap, preserving overall order.
func (c *Chunker) enforceCeiling(pieces []string) ([]string, error) {
	oversized := 0
	for _, p := range pieces {
		if len(p) > c.maxChunkSize {
			oversized++
		}
	}
	if oversized == 0 {
		return pieces, nil
	}
	c.logger.Info("re-splitting oversized chunks", "count", oversized, "ceiling", c.maxChunkSize)

	// A ceiling below the fallback size would defeat the re-split, so the
	// fallback never targets more than the ceiling itself.
	size := fallbackChunkSize
	if size > c.maxChunkSize {
		size = c.maxChunkSize
	}
	overlap := fallbackChunkOverlap
	if overlap >= size {
		overlap = size / 10
	}
	sp := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(size),
		textsplitter.WithChunkOverlap(overlap),
	)

	out := make([]string, 0, len(pieces)+oversized)
	for _, p := range pieces {
		if len(p) <= c.maxChunkSize {
			out = append(out, p)
			continue
		}
		subs, err := sp.SplitText(p)
		if err != nil {
			return nil, fmt.Errorf("re-splitting oversized chunk: %w", err)
		}
		out = append(out, dropBlank(subs)...)
	}
	return out, nil
}

func dropBlank(pieces []string) []string {
	out := pieces[:0]
	for _, p := range pieces {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitMarkdownSections splits content at markdown header lines, keeping each
// header with its section body. Headers inside fenced code blocks are ignored.
// Content before the first header forms its own section.
func splitMarkdownSections(content string) []string {
	lines := strings.Split(content, "\n")

	var sections []string
	var current []string
	inFence := false

	flush := func() {
		if len(current) == 0 {
			return
		}
		sections = append(sections, strings.Join(current, "\n"))
		current = current[:0]
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
		}
		if !inFence && isMarkdownHeader(trimmed) {
			flush()
		}
		current = append(current, line)
	}
	flush()

	return sections
}

func isMarkdownHeader(line string) bool {
	if !strings.HasPrefix(line, "#") {
		return false
	}
	i := 0
	for i < len(line) && line[i] == '#' {
		i++
	}
	return i <= 6 && i < len(line) && line[i] == ' '
}
