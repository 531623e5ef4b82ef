package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/openkb/knowbase/internal/storage"
)

type fakeStore struct {
	conv     storage.Conversation
	convErr  error
	messages []storage.Message
	listErr  error

	savedSummary string
	savedAt      time.Time
	saveCalls    int
}

func (f *fakeStore) GetConversation(id string) (storage.Conversation, error) {
	return f.conv, f.convErr
}

func (f *fakeStore) ListMessages(conversationID string) ([]storage.Message, error) {
	return f.messages, f.listErr
}

func (f *fakeStore) UpdateConversationSummary(id, summary string, updatedAt time.Time) error {
	f.savedSummary = summary
	f.savedAt = updatedAt
	f.saveCalls++
	f.conv.Summary = summary
	f.conv.SummaryUpdatedAt = updatedAt
	return nil
}

type fakeSummarizer struct {
	summary string
	err     error
	calls   int
	prompts []string
}

func (f *fakeSummarizer) Generate(ctx context.Context, prompt string) (string, error) {
	f.calls++
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	return f.summary, nil
}

func makeMessages(n int) []storage.Message {
	messages := make([]storage.Message, n)
	for i := range messages {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		messages[i] = storage.Message{
			ID:      fmt.Sprintf("m%d", i+1),
			Role:    role,
			Content: fmt.Sprintf("message %d", i+1),
		}
	}
	return messages
}

func contentIDs(messages []storage.Message) []string {
	ids := make([]string, len(messages))
	for i, m := range messages {
		ids[i] = m.ID
	}
	return ids
}

func newTestManager(store *fakeStore, sum *fakeSummarizer) *Manager {
	m := New(store, sum, slog.New(slog.NewTextHandler(new(strings.Builder), nil)))
	m.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return m
}

func TestGetContext_Empty(t *testing.T) {
	m := newTestManager(&fakeStore{}, &fakeSummarizer{})
	got := m.GetContext(context.Background(), "c1")
	if got.TotalCount != 0 || len(got.Messages) != 0 || got.HasSummary {
		t.Errorf("context for empty conversation = %+v, want zero", got)
	}
}

func TestGetContext_WithinWindowNoSummary(t *testing.T) {
	store := &fakeStore{messages: makeMessages(10)}
	sum := &fakeSummarizer{summary: "unused"}
	m := newTestManager(store, sum)

	got := m.GetContext(context.Background(), "c1")
	if sum.calls != 0 {
		t.Errorf("summarizer called %d times for a window-sized conversation", sum.calls)
	}
	if got.HasSummary {
		t.Error("summary appeared without overflow")
	}
	if got.TotalCount != 10 {
		t.Errorf("TotalCount = %d, want 10", got.TotalCount)
	}
	if len(got.Messages) != 10 {
		t.Fatalf("got %d messages, want all 10", len(got.Messages))
	}
	if got.Messages[0].Content != "message 1" || got.Messages[9].Content != "message 10" {
		t.Errorf("window contents wrong: %v", contentIDs(got.Messages))
	}
}

func TestGetContext_OverflowSummarizesOlder(t *testing.T) {
	store := &fakeStore{messages: makeMessages(11)}
	sum := &fakeSummarizer{summary: "they discussed the first message"}
	m := newTestManager(store, sum)

	got := m.GetContext(context.Background(), "c1")
	if sum.calls != 1 {
		t.Fatalf("summarizer called %d times, want 1", sum.calls)
	}
	// Only the single overflow message goes into the summary prompt.
	if !strings.Contains(sum.prompts[0], "message 1") || strings.Contains(sum.prompts[0], "message 2\n") {
		t.Errorf("summary prompt covered the wrong messages:\n%s", sum.prompts[0])
	}
	if !got.HasSummary || got.Summary != "they discussed the first message" {
		t.Errorf("summary = %q (has=%v)", got.Summary, got.HasSummary)
	}
	if got.TotalCount != 11 {
		t.Errorf("TotalCount = %d, want 11", got.TotalCount)
	}
	if len(got.Messages) != 10 {
		t.Fatalf("window holds %d messages, want 10", len(got.Messages))
	}
	if got.Messages[0].ID != "m2" || got.Messages[9].ID != "m11" {
		t.Errorf("window = %v, want m2..m11", contentIDs(got.Messages))
	}
	if store.saveCalls != 1 {
		t.Errorf("summary persisted %d times, want 1", store.saveCalls)
	}
}

func TestGetContext_FiltersNonChatRoles(t *testing.T) {
	messages := makeMessages(3)
	messages = append(messages, storage.Message{ID: "sys", Role: "system", Content: "be terse"})
	store := &fakeStore{messages: messages}
	m := newTestManager(store, &fakeSummarizer{})

	got := m.GetContext(context.Background(), "c1")
	if got.TotalCount != 3 {
		t.Errorf("TotalCount = %d, want 3 (system turn must not count)", got.TotalCount)
	}
	for _, msg := range got.Messages {
		if msg.Role != "user" && msg.Role != "assistant" {
			t.Errorf("role %q leaked into the window", msg.Role)
		}
	}
}

func TestGetContext_FreshSummaryReused(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{
		messages: makeMessages(15),
		conv: storage.Conversation{
			ID:               "c1",
			Summary:          "stored summary",
			SummaryUpdatedAt: now.Add(-10 * time.Minute),
		},
	}
	sum := &fakeSummarizer{summary: "fresh summary"}
	m := newTestManager(store, sum)

	got := m.GetContext(context.Background(), "c1")
	if sum.calls != 0 {
		t.Errorf("summarizer ran despite a fresh stored summary")
	}
	if got.Summary != "stored summary" {
		t.Errorf("summary = %q, want the stored one", got.Summary)
	}
}

func TestGetContext_StaleSummaryRegenerated(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{
		messages: makeMessages(15),
		conv: storage.Conversation{
			ID:               "c1",
			Summary:          "stale summary",
			SummaryUpdatedAt: now.Add(-31 * time.Minute),
		},
	}
	sum := &fakeSummarizer{summary: "regenerated summary"}
	m := newTestManager(store, sum)

	got := m.GetContext(context.Background(), "c1")
	if sum.calls != 1 {
		t.Fatalf("summarizer called %d times for a stale summary, want 1", sum.calls)
	}
	if got.Summary != "regenerated summary" {
		t.Errorf("summary = %q", got.Summary)
	}
	if store.savedSummary != "regenerated summary" {
		t.Errorf("persisted summary = %q", store.savedSummary)
	}
}

func TestGetContext_SummarizerFailureFallsBack(t *testing.T) {
	messages := makeMessages(14)
	messages[0].Content = "tell me about migration planning for the warehouse because it matters"
	store := &fakeStore{messages: messages}
	sum := &fakeSummarizer{err: fmt.Errorf("model offline")}
	m := newTestManager(store, sum)

	got := m.GetContext(context.Background(), "c1")
	if !got.HasSummary || !strings.HasPrefix(got.Summary, fallbackPrefix) {
		t.Fatalf("fallback summary missing: %q", got.Summary)
	}
	// First topic is the first user message cut to 50 characters.
	want := messages[0].Content[:50]
	if !strings.Contains(got.Summary, want) {
		t.Errorf("fallback topic %q missing", want)
	}
	if strings.Contains(got.Summary, messages[0].Content) {
		t.Error("fallback topic was not truncated")
	}
	if store.saveCalls != 0 {
		t.Error("fallback summary must not be persisted")
	}
}

func TestGetContext_StoreFailureReturnsEmpty(t *testing.T) {
	store := &fakeStore{listErr: fmt.Errorf("db locked")}
	m := newTestManager(store, &fakeSummarizer{})
	got := m.GetContext(context.Background(), "c1")
	if got.TotalCount != 0 || len(got.Messages) != 0 {
		t.Errorf("context = %+v on store failure, want zero", got)
	}
}

func TestTruncateRunes(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 3, "hel"},
		{"héllo wörld, ünïcode ähead here ok", 5, "héllo"},
		{"日本語のテキストです", 3, "日本語"},
		{"", 3, ""},
	}
	for _, tt := range tests {
		if got := truncateRunes(tt.in, tt.n); got != tt.want {
			t.Errorf("truncateRunes(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestFallbackSummary_NoUserMessages(t *testing.T) {
	msgs := []storage.Message{{Role: "assistant", Content: "hello"}}
	if got := fallbackSummary(msgs); got != "" {
		t.Errorf("fallback = %q with no user messages, want empty", got)
	}
}
