package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist or the
// caller does not own it. The two cases are deliberately indistinguishable.
var ErrNotFound = errors.New("not found")

// Document types.
const (
	DocTypeLink = "link"
	DocTypeFile = "file"
)

// Library is a user-owned knowledge base. CollectionID names the vector-store
// collection and, when EnableGraph is set, the graph-store workspace.
// EnableGraph is fixed at creation; IsActive is the soft-delete marker.
type Library struct {
	ID            int64
	Title         string
	Description   string
	UserID        string
	CollectionID  string
	EnableGraph   bool
	IsActive      bool
	DocumentCount int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Document is the authoritative record of one ingested document.
// IsProcessed flips to true only after every store write succeeded.
type Document struct {
	ID          int64
	LibraryID   int64
	Name        string
	Type        string // DocTypeLink or DocTypeFile
	URL         string
	FilePath    string
	FileSize    int64
	IsProcessed bool
	CreatedAt   time.Time
}

// Conversation caches the rolling summary for one chat thread.
// SummaryUpdatedAt is zero when no summary has ever been generated.
type Conversation struct {
	ID               string
	UserID           string
	Summary          string
	SummaryUpdatedAt time.Time
	CreatedAt        time.Time
}

type Message struct {
	ID             string
	ConversationID string
	Role           string
	Content        string
	CreatedAt      time.Time
}
