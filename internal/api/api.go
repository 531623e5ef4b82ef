// Package api exposes the knowledge-base service over HTTP. All routes
// except the health check require a bearer token and an X-User-ID header;
// libraries and conversations are scoped to that user.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/openkb/knowbase/internal/chunk"
	"github.com/openkb/knowbase/internal/crawl"
	"github.com/openkb/knowbase/internal/ingest"
	"github.com/openkb/knowbase/internal/jobstatus"
	"github.com/openkb/knowbase/internal/library"
	"github.com/openkb/knowbase/internal/pool"
	"github.com/openkb/knowbase/internal/query"
	"github.com/openkb/knowbase/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB
const maxUploadSize = 20 << 20     // 20MB

// LibraryService manages knowledge-base lifecycle.
type LibraryService interface {
	Create(ctx context.Context, req library.CreateRequest) (storage.Library, error)
	Get(id int64, userID string) (storage.Library, error)
	List(userID string) ([]storage.Library, error)
	Update(id int64, userID string, title, description *string) (storage.Library, error)
	Delete(ctx context.Context, id int64, userID string) error
}

// IngestService writes and removes documents across the stores.
type IngestService interface {
	AddDocument(ctx context.Context, req ingest.AddRequest) (ingest.Result, error)
	DeleteDocument(ctx context.Context, library storage.Library, doc storage.Document) error
}

// DocumentStore reads document rows.
type DocumentStore interface {
	GetDocument(id int64, userID string) (storage.Document, storage.Library, error)
	ListDocuments(libraryID int64) ([]storage.Document, error)
}

// ConversationStore reads and writes conversations.
type ConversationStore interface {
	EnsureConversation(id, userID string) error
	GetConversation(id string) (storage.Conversation, error)
	AppendMessage(m storage.Message) error
	ListMessages(conversationID string) ([]storage.Message, error)
}

// QueryService answers questions through the runtime pool.
type QueryService interface {
	Answer(ctx context.Context, collectionID, conversationID, question string, topK int) (query.Answer, error)
}

// JobTracker reads crawl job status.
type JobTracker interface {
	Get(ctx context.Context, collectionID string) (jobstatus.Record, bool, error)
	All(ctx context.Context) (map[string]jobstatus.Record, error)
}

// CrawlRunner executes a crawl job to completion.
type CrawlRunner interface {
	Run(ctx context.Context, job crawl.Job)
}

// RuntimePool exposes pool maintenance for the monitoring routes.
type RuntimePool interface {
	Stats() []pool.EntryStats
	Size() int
	ClearAll()
}

// Deps carries everything the handlers need.
type Deps struct {
	Libraries     LibraryService
	Ingest        IngestService
	Documents     DocumentStore
	Conversations ConversationStore
	Query         QueryService
	Jobs          JobTracker
	Crawler       CrawlRunner
	Pool          RuntimePool
	Token         string
	Logger        *slog.Logger
}

// NewHandler builds the HTTP routing tree.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Use(RequireUser)

		r.Route("/libraries", func(r chi.Router) {
			r.Post("/", handleCreateLibrary(deps))
			r.Get("/", handleListLibraries(deps))
			r.Get("/{id}", handleGetLibrary(deps))
			r.Patch("/{id}", handleUpdateLibrary(deps))
			r.Delete("/{id}", handleDeleteLibrary(deps))

			r.Get("/{id}/documents", handleListDocuments(deps))
			r.Post("/{id}/documents", handleUploadDocument(deps))
			r.Delete("/{id}/documents/{docID}", handleDeleteDocument(deps))

			r.Post("/{id}/crawl", handleStartCrawl(deps))
			r.Get("/{id}/crawl/status", handleCrawlStatus(deps))

			r.Post("/{id}/query", handleQueryLibrary(deps))
		})

		r.Post("/query", handleQueryNoLibrary(deps))

		r.Route("/conversations/{id}", func(r chi.Router) {
			r.Get("/messages", handleListConversationMessages(deps))
		})

		r.Route("/monitor", func(r chi.Router) {
			r.Get("/pool", handlePoolStats(deps))
			r.Delete("/pool", handlePoolClear(deps))
			r.Get("/jobs", handleAllJobs(deps))
		})
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func respondJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

// pathID parses the {id} route parameter.
func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}

// chunkingFromRequest builds chunking options from optional request fields.
func chunkingFromRequest(strategy string, size, overlap int, separator string) (chunk.Strategy, chunk.Config) {
	return chunk.ParseStrategy(strategy), chunk.Config{
		ChunkSize:    size,
		ChunkOverlap: overlap,
		Separator:    separator,
	}
}
