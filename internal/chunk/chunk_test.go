package chunk

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestSplit_EmptyContent(t *testing.T) {
	c := New(nil, 0)

	for _, content := range []string{"", "   ", "\n\t\n"} {
		_, err := c.Split(context.Background(), content, "doc", StrategyMarkdown, Config{})
		if !errors.Is(err, ErrEmptyContent) {
			t.Errorf("Split(%q): got %v, want ErrEmptyContent", content, err)
		}
	}
}

func TestSplit_MarkdownSections(t *testing.T) {
	content := "intro text\n\n# First\nbody one\n\n## Second\nbody two\n"
	c := New(nil, 0)

	chunks, err := c.Split(context.Background(), content, "doc.md", StrategyMarkdown, Config{})
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	if !strings.HasPrefix(chunks[1].Text, "# First") {
		t.Errorf("chunk 1 = %q, want section starting with # First", chunks[1].Text)
	}
	if !strings.Contains(chunks[2].Text, "body two") {
		t.Errorf("chunk 2 = %q, want section containing body two", chunks[2].Text)
	}
	for i, ch := range chunks {
		if ch.Index != i {
			t.Errorf("chunk %d has Index %d", i, ch.Index)
		}
		if ch.DocumentName != "doc.md" {
			t.Errorf("chunk %d DocumentName = %q", i, ch.DocumentName)
		}
		if ch.Size != len(ch.Text) {
			t.Errorf("chunk %d Size = %d, want %d", i, ch.Size, len(ch.Text))
		}
	}
}

func TestSplit_MarkdownIgnoresHeadersInCodeFences(t *testing.T) {
	content := "# Real\ntext\n```\n# not a header\n```\nmore text\n"
	c := New(nil, 0)

	chunks, err := c.Split(context.Background(), content, "doc", StrategyMarkdown, Config{})
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
}

func TestSplit_RecursiveBounded(t *testing.T) {
	content := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 100)
	c := New(nil, 0)

	chunks, err := c.Split(context.Background(), content, "doc", StrategyRecursive, Config{ChunkSize: 200, ChunkOverlap: 20})
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want several", len(chunks))
	}
	for i, ch := range chunks {
		if len(ch.Text) > 250 {
			t.Errorf("chunk %d length %d exceeds target by too much", i, len(ch.Text))
		}
	}
}

func TestSplit_CharacterSeparator(t *testing.T) {
	content := "alpha\n\nbeta\n\ngamma"
	c := New(nil, 0)

	chunks, err := c.Split(context.Background(), content, "doc", StrategyCharacter, Config{ChunkSize: 10, ChunkOverlap: 0})
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
}

// ceilingTestDoc builds a markdown document with a middle section that
// exceeds the given ceiling.
func ceilingTestDoc(ceiling int) string {
	var b strings.Builder
	b.WriteString("# Small A\nshort intro.\n\n")
	b.WriteString("# Oversized B\n")
	for b.Len() < ceiling*2 {
		b.WriteString("This sentence pads the oversized middle section with content. ")
	}
	b.WriteString("\n\n# Small C\nshort outro.\n")
	return b.String()
}

func TestSplit_CeilingEnforcedForAllStrategies(t *testing.T) {
	const ceiling = 1000
	content := ceilingTestDoc(ceiling)

	embed := func(ctx context.Context, texts []string) ([][]float32, error) {
		vecs := make([][]float32, len(texts))
		for i := range texts {
			vecs[i] = []float32{1, 0, 0}
		}
		return vecs, nil
	}

	strategies := []Strategy{StrategyMarkdown, StrategyRecursive, StrategySemantic, StrategyCharacter}
	for _, strategy := range strategies {
		t.Run(string(strategy), func(t *testing.T) {
			c := New(embed, ceiling)
			chunks, err := c.Split(context.Background(), content, "doc", strategy, Config{})
			if err != nil {
				t.Fatalf("Split: %v", err)
			}
			if len(chunks) < 2 {
				t.Fatalf("got %d chunks, want several", len(chunks))
			}
			for i, ch := range chunks {
				if len(ch.Text) > ceiling {
					t.Errorf("chunk %d length %d exceeds ceiling %d", i, len(ch.Text), ceiling)
				}
			}
		})
	}
}

func TestSplit_CeilingBelowFallbackSize(t *testing.T) {
	const ceiling = 100
	content := ceilingTestDoc(ceiling)

	c := New(nil, ceiling)
	chunks, err := c.Split(context.Background(), content, "doc", StrategyMarkdown, Config{})
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	for i, ch := range chunks {
		if len(ch.Text) > ceiling {
			t.Errorf("chunk %d length %d exceeds ceiling %d", i, len(ch.Text), ceiling)
		}
	}
}

func TestSplit_CeilingPreservesOrder(t *testing.T) {
	const ceiling = 1000
	content := ceilingTestDoc(ceiling)
	c := New(nil, ceiling)

	chunks, err := c.Split(context.Background(), content, "doc", StrategyMarkdown, Config{})
	if err != nil {
		t.Fatalf("Split: %v", err)
	}

	// Sub-chunks of the oversized middle section must splice between the
	// surrounding small sections.
	if !strings.Contains(chunks[0].Text, "Small A") {
		t.Errorf("first chunk = %q, want Small A section", chunks[0].Text)
	}
	last := chunks[len(chunks)-1]
	if !strings.Contains(last.Text, "Small C") {
		t.Errorf("last chunk = %q, want Small C section", last.Text)
	}
	for i, ch := range chunks {
		if ch.Index != i {
			t.Errorf("chunk %d has Index %d, ordinals must be contiguous", i, ch.Index)
		}
	}
}

func TestSplit_SemanticBreakpoints(t *testing.T) {
	content := "Dogs are loyal. Dogs love walks. Compilers parse source code. Compilers emit machine code."

	// Two topic clusters: the embedding flips between orthogonal vectors.
	embed := func(ctx context.Context, texts []string) ([][]float32, error) {
		vecs := make([][]float32, len(texts))
		for i := range texts {
			if strings.Contains(texts[i], "Compilers") {
				vecs[i] = []float32{0, 1, 0}
			} else {
				vecs[i] = []float32{1, 0, 0}
			}
		}
		return vecs, nil
	}

	c := New(embed, 0)
	chunks, err := c.Split(context.Background(), content, "doc", StrategySemantic, Config{BreakpointPercentile: 60})
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2 topic groups", len(chunks))
	}
	if strings.Contains(chunks[0].Text, "Compilers") {
		t.Errorf("first group leaked the second topic: %q", chunks[0].Text)
	}
}

func TestSplit_SemanticWithoutEmbedder(t *testing.T) {
	c := New(nil, 0)
	_, err := c.Split(context.Background(), "some text", "doc", StrategySemantic, Config{})
	if !errors.Is(err, ErrNoEmbedder) {
		t.Errorf("got %v, want ErrNoEmbedder", err)
	}
}

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		in   string
		want Strategy
	}{
		{"markdown", StrategyMarkdown},
		{"recursive", StrategyRecursive},
		{"semantic", StrategySemantic},
		{"character", StrategyCharacter},
		{"", StrategyMarkdown},
		{"bogus", StrategyMarkdown},
	}
	for _, tt := range tests {
		if got := ParseStrategy(tt.in); got != tt.want {
			t.Errorf("ParseStrategy(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSplitSentences(t *testing.T) {
	got := splitSentences("One. Two! Three?\n\nFour")
	want := []string{"One.", "Two!", "Three?", "Four"}
	if len(got) != len(want) {
		t.Fatalf("got %d sentences %v, want %d", len(got), got, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sentence %d = %q, want %q", i, got[i], want[i])
		}
	}
}
