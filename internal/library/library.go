// Package library owns knowledge-base lifecycle: create, update, list and
// the multi-store teardown when one is deleted.
package library

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openkb/knowbase/internal/storage"
)

// ErrTitleExists is returned when a user already has a library with the
// requested title.
var ErrTitleExists = errors.New("library: title already in use")

// Store is the subset of the relational store the service needs.
type Store interface {
	CreateLibrary(l storage.Library) (storage.Library, error)
	SetLibraryCollectionID(id int64, collectionID string) error
	GetLibrary(id int64, userID string) (storage.Library, error)
	ListLibraries(userID string) ([]storage.Library, error)
	TitleExists(userID, title string, excludeID int64) (bool, error)
	UpdateLibrary(id int64, userID string, title, description *string) (storage.Library, error)
	DeleteLibrary(id int64) error
}

// Ingestor tears down a library's indexed data.
type Ingestor interface {
	DeleteLibraryData(ctx context.Context, library storage.Library) error
}

// RuntimeEvictor drops cached runtimes for a collection.
type RuntimeEvictor interface {
	Remove(collectionID string)
}

// JobCleaner removes job status records for a collection.
type JobCleaner interface {
	Clear(ctx context.Context, collectionID string) error
}

// Service manages libraries.
type Service struct {
	store   Store
	ingest  Ingestor
	pool    RuntimeEvictor
	jobs    JobCleaner
	logger  *slog.Logger
	nowUnix func() int64
}

// New creates a Service.
func New(store Store, ingest Ingestor, pool RuntimeEvictor, jobs JobCleaner, logger *slog.Logger) *Service {
	return &Service{
		store:   store,
		ingest:  ingest,
		pool:    pool,
		jobs:    jobs,
		logger:  logger,
		nowUnix: func() int64 { return time.Now().UnixMilli() },
	}
}

// CreateRequest describes a new library.
type CreateRequest struct {
	UserID      string
	Title       string
	Description string
	EnableGraph bool
}

// Create makes a new library. The collection ID is derived from the row ID
// and creation instant, so it is unique even across delete-and-recreate of
// the same title.
func (s *Service) Create(ctx context.Context, req CreateRequest) (storage.Library, error) {
	exists, err := s.store.TitleExists(req.UserID, req.Title, 0)
	if err != nil {
		return storage.Library{}, fmt.Errorf("checking title: %w", err)
	}
	if exists {
		return storage.Library{}, ErrTitleExists
	}

	lib, err := s.store.CreateLibrary(storage.Library{
		Title:       req.Title,
		Description: req.Description,
		UserID:      req.UserID,
		EnableGraph: req.EnableGraph,
		IsActive:    true,
	})
	if err != nil {
		return storage.Library{}, fmt.Errorf("creating library: %w", err)
	}

	collectionID := fmt.Sprintf("kb%d_%d", lib.ID, s.nowUnix())
	if err := s.store.SetLibraryCollectionID(lib.ID, collectionID); err != nil {
		return storage.Library{}, fmt.Errorf("assigning collection id: %w", err)
	}
	lib.CollectionID = collectionID

	s.logger.Info("library created", "library", lib.ID, "collection", collectionID, "user", req.UserID)
	return lib, nil
}

// Get returns one library owned by the user, or storage.ErrNotFound.
func (s *Service) Get(id int64, userID string) (storage.Library, error) {
	return s.store.GetLibrary(id, userID)
}

// List returns the user's libraries.
func (s *Service) List(userID string) ([]storage.Library, error) {
	return s.store.ListLibraries(userID)
}

// Update changes title and/or description. A nil field is left unchanged.
func (s *Service) Update(id int64, userID string, title, description *string) (storage.Library, error) {
	if title != nil {
		exists, err := s.store.TitleExists(userID, *title, id)
		if err != nil {
			return storage.Library{}, fmt.Errorf("checking title: %w", err)
		}
		if exists {
			return storage.Library{}, ErrTitleExists
		}
	}
	return s.store.UpdateLibrary(id, userID, title, description)
}

// Delete tears a library down across every store: indexed data first, then
// the cached runtime and job record, then the rows. Index teardown failure
// aborts the delete so the library stays visible and retryable; runtime and
// job cleanup failures only log, the orphans are harmless and expire.
func (s *Service) Delete(ctx context.Context, id int64, userID string) error {
	lib, err := s.store.GetLibrary(id, userID)
	if err != nil {
		return err
	}

	if err := s.ingest.DeleteLibraryData(ctx, lib); err != nil {
		return fmt.Errorf("removing indexed data: %w", err)
	}

	s.pool.Remove(lib.CollectionID)
	if err := s.jobs.Clear(ctx, lib.CollectionID); err != nil {
		s.logger.Warn("clearing job record failed", "collection", lib.CollectionID, "error", err)
	}

	if err := s.store.DeleteLibrary(id); err != nil {
		return fmt.Errorf("deleting library rows: %w", err)
	}

	s.logger.Info("library deleted", "library", id, "collection", lib.CollectionID, "user", userID)
	return nil
}
