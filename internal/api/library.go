package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/openkb/knowbase/internal/library"
	"github.com/openkb/knowbase/internal/storage"
)

type createLibraryRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	EnableGraph bool   `json:"enable_graph"`
}

func handleCreateLibrary(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req createLibraryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Title == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "title is required")
			return
		}

		lib, err := deps.Libraries.Create(r.Context(), library.CreateRequest{
			UserID:      requestUser(r),
			Title:       req.Title,
			Description: req.Description,
			EnableGraph: req.EnableGraph,
		})
		if errors.Is(err, library.ErrTitleExists) {
			httpError(w, http.StatusConflict, "conflict", "a library with this title already exists")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create library: %v", err)
			return
		}

		respondJSON(w, http.StatusCreated, lib)
	}
}

func handleListLibraries(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		libs, err := deps.Libraries.List(requestUser(r))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list libraries: %v", err)
			return
		}
		if libs == nil {
			libs = []storage.Library{}
		}
		respondJSON(w, http.StatusOK, libs)
	}
}

func handleGetLibrary(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid library id")
			return
		}

		lib, err := deps.Libraries.Get(id, requestUser(r))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "library not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get library: %v", err)
			return
		}
		respondJSON(w, http.StatusOK, lib)
	}
}

type updateLibraryRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
}

func handleUpdateLibrary(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid library id")
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req updateLibraryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Title == nil && req.Description == nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "nothing to update")
			return
		}
		if req.Title != nil && *req.Title == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "title must not be empty")
			return
		}

		lib, err := deps.Libraries.Update(id, requestUser(r), req.Title, req.Description)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "library not found")
			return
		}
		if errors.Is(err, library.ErrTitleExists) {
			httpError(w, http.StatusConflict, "conflict", "a library with this title already exists")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to update library: %v", err)
			return
		}
		respondJSON(w, http.StatusOK, lib)
	}
}

func handleDeleteLibrary(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid library id")
			return
		}

		err = deps.Libraries.Delete(r.Context(), id, requestUser(r))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "library not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete library: %v", err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}
