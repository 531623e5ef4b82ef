package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/openkb/knowbase/internal/crawl"
	"github.com/openkb/knowbase/internal/extract"
	"github.com/openkb/knowbase/internal/ingest"
	"github.com/openkb/knowbase/internal/jobstatus"
	"github.com/openkb/knowbase/internal/storage"
)

func handleListDocuments(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lib, ok := ownedLibrary(deps, w, r)
		if !ok {
			return
		}

		docs, err := deps.Documents.ListDocuments(lib.ID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list documents: %v", err)
			return
		}
		if docs == nil {
			docs = []storage.Document{}
		}
		respondJSON(w, http.StatusOK, docs)
	}
}

type uploadResponse struct {
	Document   storage.Document `json:"document"`
	ChunkCount int              `json:"chunk_count"`
}

// handleUploadDocument ingests one document synchronously. Multipart uploads
// carry the file in the "file" field; JSON bodies carry name and content
// inline. Chunking options ride along in either form.
func handleUploadDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lib, ok := ownedLibrary(deps, w, r)
		if !ok {
			return
		}

		var req ingest.AddRequest
		var err error
		if isMultipart(r) {
			req, err = uploadFromMultipart(r)
		} else {
			req, err = uploadFromJSON(w, r)
		}
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		req.Library = lib

		res, ingestErr := deps.Ingest.AddDocument(r.Context(), req)
		if ingestErr != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to ingest document: %v", ingestErr)
			return
		}
		respondJSON(w, http.StatusCreated, uploadResponse{Document: res.Document, ChunkCount: res.ChunkCount})
	}
}

func isMultipart(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data")
}

func uploadFromMultipart(r *http.Request) (ingest.AddRequest, error) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		return ingest.AddRequest{}, errors.New("invalid multipart form")
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return ingest.AddRequest{}, errors.New("file field is required")
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadSize))
	if err != nil {
		return ingest.AddRequest{}, errors.New("failed to read file")
	}

	content, err := extract.FromUpload(header.Filename, data)
	if err != nil {
		return ingest.AddRequest{}, err
	}

	strategy, cfg := chunkingFromRequest(
		r.FormValue("strategy"),
		formInt(r, "chunk_size"),
		formInt(r, "chunk_overlap"),
		r.FormValue("separator"),
	)
	return ingest.AddRequest{
		Name:     header.Filename,
		Type:     storage.DocTypeFile,
		FileSize: int64(len(data)),
		Content:  content,
		Strategy: strategy,
		Chunking: cfg,
	}, nil
}

// formInt reads a non-negative int form field, zero when absent or invalid.
func formInt(r *http.Request, key string) int {
	v, err := strconv.Atoi(r.FormValue(key))
	if err != nil || v < 0 {
		return 0
	}
	return v
}

type uploadDocumentRequest struct {
	Name         string `json:"name"`
	Content      string `json:"content"`
	Strategy     string `json:"strategy"`
	ChunkSize    int    `json:"chunk_size"`
	ChunkOverlap int    `json:"chunk_overlap"`
	Separator    string `json:"separator"`
}

func uploadFromJSON(w http.ResponseWriter, r *http.Request) (ingest.AddRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	var req uploadDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return ingest.AddRequest{}, errors.New("invalid request body")
	}
	if req.Name == "" || req.Content == "" {
		return ingest.AddRequest{}, errors.New("name and content are required")
	}

	strategy, cfg := chunkingFromRequest(req.Strategy, req.ChunkSize, req.ChunkOverlap, req.Separator)
	return ingest.AddRequest{
		Name:     req.Name,
		Type:     storage.DocTypeFile,
		FileSize: int64(len(req.Content)),
		Content:  req.Content,
		Strategy: strategy,
		Chunking: cfg,
	}, nil
}

func handleDeleteDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docID, err := pathID(r, "docID")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid document id")
			return
		}

		doc, lib, err := deps.Documents.GetDocument(docID, requestUser(r))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "document not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get document: %v", err)
			return
		}

		err = deps.Ingest.DeleteDocument(r.Context(), lib, doc)
		if errors.Is(err, ingest.ErrGraphEnabled) {
			httpError(w, http.StatusConflict, "conflict",
				"documents in graph-enabled libraries cannot be deleted individually; delete the library instead")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete document: %v", err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

type startCrawlRequest struct {
	URLs         []string `json:"urls"`
	Strategy     string   `json:"strategy"`
	ChunkSize    int      `json:"chunk_size"`
	ChunkOverlap int      `json:"chunk_overlap"`
	Separator    string   `json:"separator"`
}

// handleStartCrawl kicks off a background crawl and returns immediately.
// Progress is polled from the status endpoint.
func handleStartCrawl(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lib, ok := ownedLibrary(deps, w, r)
		if !ok {
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req startCrawlRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if len(req.URLs) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "urls is required")
			return
		}

		strategy, cfg := chunkingFromRequest(req.Strategy, req.ChunkSize, req.ChunkOverlap, req.Separator)
		job := crawl.Job{
			Library:  lib,
			URLs:     req.URLs,
			Strategy: strategy,
			Chunking: cfg,
		}
		// The job outlives the request; detach it from the request context.
		go deps.Crawler.Run(context.Background(), job)

		respondJSON(w, http.StatusAccepted, map[string]any{
			"status":        jobstatus.StatusProcessing,
			"collection_id": lib.CollectionID,
			"url_count":     len(req.URLs),
		})
	}
}

func handleCrawlStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lib, ok := ownedLibrary(deps, w, r)
		if !ok {
			return
		}

		rec, found, err := deps.Jobs.Get(r.Context(), lib.CollectionID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read job status: %v", err)
			return
		}
		if !found {
			httpError(w, http.StatusNotFound, "not_found", "no crawl job for this library")
			return
		}
		respondJSON(w, http.StatusOK, rec)
	}
}

// ownedLibrary resolves {id} to a library owned by the requesting user,
// writing the error response itself when that fails.
func ownedLibrary(deps Deps, w http.ResponseWriter, r *http.Request) (storage.Library, bool) {
	id, err := pathID(r, "id")
	if err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid library id")
		return storage.Library{}, false
	}
	lib, err := deps.Libraries.Get(id, requestUser(r))
	if errors.Is(err, storage.ErrNotFound) {
		httpError(w, http.StatusNotFound, "not_found", "library not found")
		return storage.Library{}, false
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to get library: %v", err)
		return storage.Library{}, false
	}
	return lib, true
}
