// Package memory assembles the conversational context handed to the chat
// model: a rolling window of recent messages plus an LLM-generated summary
// of everything older.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openkb/knowbase/internal/storage"
)

// Window and summary tuning. The window holds the most recent messages
// verbatim; older messages only survive through the summary, which is
// regenerated when it goes stale.
const (
	DefaultWindowSize    = 10
	DefaultSummaryExpire = 30 * time.Minute

	// Fallback summary shape when the model is unavailable.
	fallbackTopics   = 3
	fallbackTopicLen = 50
	fallbackPrefix   = "Earlier topics: "
)

const summaryPrompt = `Summarize the following conversation in 2-3 sentences.
Keep the facts, decisions and open questions; drop greetings and filler.
Answer in English.

Conversation:
%s

Summary:`

// ConversationStore is the subset of the relational store the manager needs.
type ConversationStore interface {
	GetConversation(id string) (storage.Conversation, error)
	ListMessages(conversationID string) ([]storage.Message, error)
	UpdateConversationSummary(id, summary string, updatedAt time.Time) error
}

// Summarizer produces a short summary from a prompt.
type Summarizer interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Context is the assembled conversation context: the most recent messages
// verbatim plus a summary covering everything older. TotalCount counts all
// user and assistant messages, not just the window.
type Context struct {
	Messages   []storage.Message
	Summary    string
	HasSummary bool
	TotalCount int
}

// Manager builds conversation context. Summary persistence is
// last-writer-wins: two concurrent requests may both summarize, the later
// write sticks, and both still return correct context.
type Manager struct {
	store      ConversationStore
	summarizer Summarizer
	window     int
	expire     time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a Manager with the default window and summary lifetime.
func New(store ConversationStore, summarizer Summarizer, logger *slog.Logger) *Manager {
	return &Manager{
		store:      store,
		summarizer: summarizer,
		window:     DefaultWindowSize,
		expire:     DefaultSummaryExpire,
		logger:     logger,
		now:        time.Now,
	}
}

// GetContext returns the context for a conversation. Degraded inputs degrade
// the output, never fail it: a broken store yields an empty context, a broken
// summarizer yields a crude topic list instead of a summary.
func (m *Manager) GetContext(ctx context.Context, conversationID string) Context {
	all, err := m.store.ListMessages(conversationID)
	if err != nil {
		m.logger.Warn("loading conversation history failed", "conversation", conversationID, "error", err)
		return Context{}
	}
	messages := chatMessages(all)
	if len(messages) == 0 {
		return Context{}
	}

	out := Context{TotalCount: len(messages)}
	if len(messages) <= m.window {
		out.Messages = messages
		return out
	}

	older := messages[:len(messages)-m.window]
	out.Messages = messages[len(messages)-m.window:]

	if summary := m.summaryFor(ctx, conversationID, older); summary != "" {
		out.Summary = summary
		out.HasSummary = true
	}
	return out
}

// chatMessages keeps only user and assistant turns; system or tool records
// never enter the window or the summary.
func chatMessages(messages []storage.Message) []storage.Message {
	out := make([]storage.Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == "user" || msg.Role == "assistant" {
			out = append(out, msg)
		}
	}
	return out
}

// summaryFor returns a summary covering the older messages, reusing the
// stored one while it is fresh.
func (m *Manager) summaryFor(ctx context.Context, conversationID string, older []storage.Message) string {
	conv, err := m.store.GetConversation(conversationID)
	if err == nil && conv.Summary != "" && m.now().Sub(conv.SummaryUpdatedAt) < m.expire {
		return conv.Summary
	}
	if err != nil {
		m.logger.Warn("loading conversation failed", "conversation", conversationID, "error", err)
	}

	summary, err := m.summarizer.Generate(ctx, fmt.Sprintf(summaryPrompt, formatMessages(older)))
	if err != nil {
		m.logger.Warn("summarization failed, using topic fallback", "conversation", conversationID, "error", err)
		return fallbackSummary(older)
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return fallbackSummary(older)
	}

	if err := m.store.UpdateConversationSummary(conversationID, summary, m.now()); err != nil {
		m.logger.Warn("persisting summary failed", "conversation", conversationID, "error", err)
	}
	return summary
}

// fallbackSummary lists the first few user messages as topics when no model
// is available to summarize properly.
func fallbackSummary(messages []storage.Message) string {
	var topics []string
	for _, msg := range messages {
		if msg.Role != "user" {
			continue
		}
		topic := truncateRunes(strings.TrimSpace(msg.Content), fallbackTopicLen)
		if topic != "" {
			topics = append(topics, topic)
		}
		if len(topics) == fallbackTopics {
			break
		}
	}
	if len(topics) == 0 {
		return ""
	}
	return fallbackPrefix + strings.Join(topics, "; ")
}

// truncateRunes cuts s to at most n runes, never splitting a rune.
func truncateRunes(s string, n int) string {
	for i := range s {
		if n == 0 {
			return s[:i]
		}
		n--
	}
	return s
}

// formatMessages renders messages as "role: content" lines for the
// summarization prompt.
func formatMessages(messages []storage.Message) string {
	var b strings.Builder
	for i, msg := range messages {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(msg.Role)
		b.WriteString(": ")
		b.WriteString(msg.Content)
	}
	return b.String()
}
