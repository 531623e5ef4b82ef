package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/openkb/knowbase/internal/storage"
)

type queryRequest struct {
	Question       string `json:"question"`
	ConversationID string `json:"conversation_id"`
	TopK           int    `json:"top_k"`
}

// handleQueryLibrary answers a question against one library. When a
// conversation ID is supplied, the exchange is recorded and prior turns
// inform the answer.
func handleQueryLibrary(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lib, ok := ownedLibrary(deps, w, r)
		if !ok {
			return
		}
		answerQuery(deps, w, r, lib.CollectionID)
	}
}

// handleQueryNoLibrary answers from conversation memory alone, with no
// knowledge-base retrieval.
func handleQueryNoLibrary(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		answerQuery(deps, w, r, "")
	}
}

func answerQuery(deps Deps, w http.ResponseWriter, r *http.Request, collectionID string) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return
	}
	if req.Question == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "question is required")
		return
	}

	userID := requestUser(r)
	if req.ConversationID != "" {
		if err := deps.Conversations.EnsureConversation(req.ConversationID, userID); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to open conversation: %v", err)
			return
		}
		if conv, err := deps.Conversations.GetConversation(req.ConversationID); err == nil && conv.UserID != userID {
			httpError(w, http.StatusNotFound, "not_found", "conversation not found")
			return
		}
	}

	ans, err := deps.Query.Answer(r.Context(), collectionID, req.ConversationID, req.Question, req.TopK)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to answer: %v", err)
		return
	}

	if req.ConversationID != "" {
		recordExchange(deps, req.ConversationID, req.Question, ans.Text)
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"answer":          ans.Text,
		"sources":         ans.Sources,
		"conversation_id": req.ConversationID,
	})
}

// recordExchange appends the question and answer to the conversation. Write
// failures lose history, not the answer, so they are not surfaced.
func recordExchange(deps Deps, conversationID, question, answer string) {
	now := time.Now().UTC()
	for _, m := range []storage.Message{
		{ID: uuid.New().String(), ConversationID: conversationID, Role: "user", Content: question, CreatedAt: now},
		{ID: uuid.New().String(), ConversationID: conversationID, Role: "assistant", Content: answer, CreatedAt: now},
	} {
		if err := deps.Conversations.AppendMessage(m); err != nil {
			deps.Logger.Warn("appending message failed", "conversation", conversationID, "error", err)
			return
		}
	}
}

func handleListConversationMessages(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conversationID := chi.URLParam(r, "id")

		conv, err := deps.Conversations.GetConversation(conversationID)
		if errors.Is(err, storage.ErrNotFound) || (err == nil && conv.UserID != requestUser(r)) {
			httpError(w, http.StatusNotFound, "not_found", "conversation not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get conversation: %v", err)
			return
		}

		messages, err := deps.Conversations.ListMessages(conversationID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list messages: %v", err)
			return
		}
		if messages == nil {
			messages = []storage.Message{}
		}
		respondJSON(w, http.StatusOK, messages)
	}
}
