package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
	User   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
			User:   r.Header.Get("X-User-ID"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		userID:     "test-user",
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

func TestCreateLibrary(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /api/v1/libraries": `{"ID":7,"Title":"Research","CollectionID":"kb7_1700000000000"}`,
	})

	client := ts.client()

	resp, err := client.post(ctx, "/api/v1/libraries", map[string]any{
		"title":        "Research",
		"enable_graph": true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var lib libraryView
	if err := decodeJSON(resp, &lib); err != nil {
		t.Fatalf("decode error: %v", err)
	}

	if lib.ID != 7 {
		t.Errorf("ID = %d, want 7", lib.ID)
	}
	if lib.CollectionID != "kb7_1700000000000" {
		t.Errorf("CollectionID = %q, want kb7_1700000000000", lib.CollectionID)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}

	r := ts.requests[0]
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", r.Auth)
	}
	if r.User != "test-user" {
		t.Errorf("user header = %q, want test-user", r.User)
	}

	var body map[string]any
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["title"] != "Research" {
		t.Errorf("body.title = %v, want Research", body["title"])
	}
	if body["enable_graph"] != true {
		t.Errorf("body.enable_graph = %v, want true", body["enable_graph"])
	}
}

func TestIngestCommand_MissingArgs(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"ingest", "--library", "1"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for missing args")
	}
	if !strings.Contains(err.Error(), "required") {
		t.Errorf("error = %q, want it to mention 'required'", err.Error())
	}
}

func TestIngestCommand_MissingLibrary(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	// Flag values persist across Execute calls, so clear --library explicitly.
	rootCmd.SetArgs([]string{"ingest", "--library", "", "--text", "hello"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for missing --library")
	}
	if !strings.Contains(err.Error(), "--library") {
		t.Errorf("error = %q, want it to mention --library", err.Error())
	}
}

func TestQueryResponse(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /api/v1/libraries/3/query": `{
			"answer": "Use explicit error returns.",
			"sources": [{"DocumentName":"conventions.md","Score":0.91}],
			"conversation_id": "conv-1"
		}`,
	})

	client := ts.client()
	resp, err := client.post(ctx, "/api/v1/libraries/3/query", map[string]any{
		"question":        "how are errors handled?",
		"conversation_id": "conv-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result struct {
		Answer  string `json:"answer"`
		Sources []struct {
			DocumentName string
			Score        float64
		} `json:"sources"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}

	if result.Answer != "Use explicit error returns." {
		t.Errorf("answer = %q", result.Answer)
	}
	if len(result.Sources) != 1 || result.Sources[0].DocumentName != "conventions.md" {
		t.Errorf("sources = %+v", result.Sources)
	}
}

func TestCrawlStatus(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /api/v1/libraries/2/crawl/status": `{"status":"processing","count":4}`,
	})

	client := ts.client()
	resp, err := client.get(ctx, "/api/v1/libraries/2/crawl/status")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var rec struct {
		Status string `json:"status"`
		Count  int    `json:"count"`
	}
	if err := decodeJSON(resp, &rec); err != nil {
		t.Fatalf("decode error: %v", err)
	}

	if rec.Status != "processing" || rec.Count != 4 {
		t.Errorf("record = %+v, want processing/4", rec)
	}
}

func TestDecodeJSON_ServerError(t *testing.T) {
	ts := newTestServer(t, nil)

	client := ts.client()
	resp, err := client.get(ctx, "/api/v1/missing")
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}

	var out map[string]any
	err = decodeJSON(resp, &out)
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("error = %q, want it to mention 404", err.Error())
	}
}
