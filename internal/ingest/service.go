// Package ingest coordinates document writes across the relational store,
// the vector index and the optional graph service. The relational store is
// authoritative: a document row with is_processed = true means its chunks
// are in the index, and a failed ingestion leaves no row behind.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/openkb/knowbase/internal/chunk"
	"github.com/openkb/knowbase/internal/storage"
)

// ErrGraphEnabled is returned when a single document is deleted from a
// graph-enabled library. The graph service only supports dropping whole
// workspaces, so removing one document would leave stale graph data.
var ErrGraphEnabled = errors.New("ingest: cannot delete single documents from a graph-enabled library")

// DocumentStore is the subset of the relational store the service needs.
type DocumentStore interface {
	CreateDocument(d storage.Document) (storage.Document, error)
	MarkDocumentProcessed(id int64) error
	DeleteDocument(id int64) error
}

// VectorStore writes and removes chunk embeddings.
type VectorStore interface {
	StoreChunksBatch(ctx context.Context, collection string, chunks []chunk.Chunk) (int, error)
	DeleteByDocumentName(ctx context.Context, collection, documentName string) (int, error)
	DropCollection(ctx context.Context, collection string) error
}

// GraphStore indexes documents into graph workspaces.
type GraphStore interface {
	InsertText(ctx context.Context, workspace, documentName, content string) error
	DropWorkspace(ctx context.Context, workspace string) error
}

// Splitter turns document content into chunks.
type Splitter interface {
	Split(ctx context.Context, content, documentName string, strategy chunk.Strategy, cfg chunk.Config) ([]chunk.Chunk, error)
}

// Service runs the cross-store write protocol.
type Service struct {
	docs     DocumentStore
	vectors  VectorStore
	graph    GraphStore
	splitter Splitter
	logger   *slog.Logger
}

// New creates a Service. graph may be nil when no graph service is deployed;
// graph-enabled libraries then fail ingestion instead of silently skipping
// the graph index.
func New(docs DocumentStore, vectors VectorStore, graph GraphStore, splitter Splitter, logger *slog.Logger) *Service {
	return &Service{
		docs:     docs,
		vectors:  vectors,
		graph:    graph,
		splitter: splitter,
		logger:   logger,
	}
}

// AddRequest describes one document to ingest into a library.
type AddRequest struct {
	Library  storage.Library
	Name     string
	Type     string
	URL      string
	FilePath string
	FileSize int64
	Content  string
	Strategy chunk.Strategy
	Chunking chunk.Config
}

// Result reports what an ingestion produced.
type Result struct {
	Document   storage.Document
	ChunkCount int
}

// AddDocument ingests one document: row first, then chunks, then the graph
// when the library wants it, then the processed flag. Each completed step is
// undone in reverse order when a later step fails, so a failed ingestion is
// indistinguishable from one that never started. Graph entries for failed
// documents cannot be removed individually and are tolerated as orphans.
func (s *Service) AddDocument(ctx context.Context, req AddRequest) (Result, error) {
	doc, err := s.docs.CreateDocument(storage.Document{
		LibraryID: req.Library.ID,
		Name:      req.Name,
		Type:      req.Type,
		URL:       req.URL,
		FilePath:  req.FilePath,
		FileSize:  req.FileSize,
	})
	if err != nil {
		return Result{}, fmt.Errorf("creating document row: %w", err)
	}

	var compensations []func()
	undo := func() {
		for i := len(compensations) - 1; i >= 0; i-- {
			compensations[i]()
		}
	}
	compensations = append(compensations, func() {
		if err := s.docs.DeleteDocument(doc.ID); err != nil {
			s.logger.Error("rollback: deleting document row failed", "document", doc.ID, "error", err)
		}
	})

	chunks, err := s.splitter.Split(ctx, req.Content, req.Name, req.Strategy, req.Chunking)
	if err != nil {
		undo()
		return Result{}, fmt.Errorf("chunking %s: %w", req.Name, err)
	}

	stored, err := s.vectors.StoreChunksBatch(ctx, req.Library.CollectionID, chunks)
	if err != nil {
		undo()
		return Result{}, fmt.Errorf("indexing %s: %w", req.Name, err)
	}
	compensations = append(compensations, func() {
		if _, err := s.vectors.DeleteByDocumentName(context.WithoutCancel(ctx), req.Library.CollectionID, req.Name); err != nil {
			s.logger.Error("rollback: deleting chunks failed", "document", req.Name, "error", err)
		}
	})

	if req.Library.EnableGraph {
		if s.graph == nil {
			undo()
			return Result{}, fmt.Errorf("library %d requires graph indexing but no graph service is configured", req.Library.ID)
		}
		if err := s.graph.InsertText(ctx, req.Library.CollectionID, req.Name, req.Content); err != nil {
			undo()
			return Result{}, fmt.Errorf("graph indexing %s: %w", req.Name, err)
		}
	}

	if err := s.docs.MarkDocumentProcessed(doc.ID); err != nil {
		undo()
		return Result{}, fmt.Errorf("marking %s processed: %w", req.Name, err)
	}

	doc.IsProcessed = true
	s.logger.Info("document ingested",
		"document", req.Name, "library", req.Library.ID, "chunks", stored)
	return Result{Document: doc, ChunkCount: stored}, nil
}

// DeleteDocument removes one document's chunks and its row. Refused for
// graph-enabled libraries; delete the whole library instead. The relational
// delete is authoritative: a failed chunk delete is logged and does not keep
// the row alive, since DeleteLibraryData reclaims leaked chunks with the
// collection.
func (s *Service) DeleteDocument(ctx context.Context, library storage.Library, doc storage.Document) error {
	if library.EnableGraph {
		return ErrGraphEnabled
	}

	deleted, err := s.vectors.DeleteByDocumentName(ctx, library.CollectionID, doc.Name)
	if err != nil {
		s.logger.Warn("chunks not removed",
			"document", doc.Name, "collection_id", library.CollectionID, "error", err)
	}
	if err := s.docs.DeleteDocument(doc.ID); err != nil {
		return fmt.Errorf("deleting document row %d: %w", doc.ID, err)
	}

	s.logger.Info("document deleted", "document", doc.Name, "library", library.ID, "chunks", deleted)
	return nil
}

// DeleteLibraryData removes everything ingested for a library: its vector
// collection and, when graph-enabled, its graph workspace. The vector drop
// must succeed; the graph drop is best effort since the relational store is
// authoritative and a leaked workspace only wastes graph storage. Document
// rows cascade when the caller deletes the library itself.
func (s *Service) DeleteLibraryData(ctx context.Context, library storage.Library) error {
	if err := s.vectors.DropCollection(ctx, library.CollectionID); err != nil {
		return fmt.Errorf("dropping collection %s: %w", library.CollectionID, err)
	}
	if library.EnableGraph && s.graph != nil {
		if err := s.graph.DropWorkspace(ctx, library.CollectionID); err != nil {
			s.logger.Warn("graph workspace not removed",
				"collection_id", library.CollectionID, "error", err)
		}
	}
	return nil
}
