package chunk

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"
)

// splitSemantic groups consecutive sentences until the embedding distance
// between neighbours crosses the percentile threshold, marking a topic
// boundary. The whole sentence set is embedded in one batch call.
func (c *Chunker) splitSemantic(ctx context.Context, content string, percentile float64) ([]string, error) {
	if c.embed == nil {
		return nil, ErrNoEmbedder
	}

	sentences := splitSentences(content)
	if len(sentences) <= 1 {
		return []string{content}, nil
	}

	vectors, err := c.embed(ctx, sentences)
	if err != nil {
		return nil, fmt.Errorf("embedding sentences: %w", err)
	}
	if len(vectors) != len(sentences) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d sentences", len(vectors), len(sentences))
	}

	distances := make([]float64, len(sentences)-1)
	for i := range distances {
		distances[i] = 1 - cosineSimilarity(vectors[i], vectors[i+1])
	}
	threshold := percentileOf(distances, percentile)

	var groups []string
	var current []string
	for i, s := range sentences {
		current = append(current, s)
		if i < len(distances) && distances[i] > threshold {
			groups = append(groups, strings.Join(current, " "))
			current = nil
		}
	}
	if len(current) > 0 {
		groups = append(groups, strings.Join(current, " "))
	}
	return groups, nil
}

// splitSentences breaks text on sentence-ending punctuation followed by
// whitespace, and on blank lines.
func splitSentences(text string) []string {
	var sentences []string
	var b strings.Builder

	flush := func() {
		s := strings.TrimSpace(b.String())
		if s != "" {
			sentences = append(sentences, s)
		}
		b.Reset()
	}

	runes := []rune(text)
	for i, r := range runes {
		b.WriteRune(r)
		if isSentenceEnd(r) {
			if i+1 >= len(runes) || unicode.IsSpace(runes[i+1]) {
				flush()
			}
		} else if r == '\n' && i+1 < len(runes) && runes[i+1] == '\n' {
			flush()
		}
	}
	flush()
	return sentences
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？':
		return true
	}
	return false
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, aNorm, bNorm float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		aNorm += float64(a[i]) * float64(a[i])
		bNorm += float64(b[i]) * float64(b[i])
	}
	if aNorm == 0 || bNorm == 0 {
		return 0
	}
	return dot / (math.Sqrt(aNorm) * math.Sqrt(bNorm))
}

// percentileOf returns the p-th percentile of values with linear
// interpolation between ranks.
func percentileOf(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	pos := p / 100 * float64(len(sorted)-1)
	lower := int(math.Floor(pos))
	if lower >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := pos - float64(lower)
	return sorted[lower] + frac*(sorted[lower+1]-sorted[lower])
}
