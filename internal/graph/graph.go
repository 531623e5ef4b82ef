// Package graph talks to an optional knowledge-graph indexing service.
// Graph indexing is per-library opt-in; libraries without it never touch
// this package.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Store indexes document text into a graph workspace and tears workspaces
// down when their library is deleted. One workspace maps to one collection.
type Store interface {
	InsertText(ctx context.Context, workspace, documentName, content string) error
	DropWorkspace(ctx context.Context, workspace string) error
	Healthy(ctx context.Context) bool
}

// Client is the HTTP implementation of Store against a LightRAG-compatible
// graph service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

var _ Store = (*Client)(nil)

// New creates a Client targeting the given graph service base URL.
// apiKey may be empty for unauthenticated deployments.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			// Graph extraction runs an LLM pass per document; allow long calls.
			Timeout: 5 * time.Minute,
		},
	}
}

// insertTextRequest is the JSON body for POST /documents/text.
type insertTextRequest struct {
	Text       string `json:"text"`
	FileSource string `json:"file_source,omitempty"`
	Workspace  string `json:"workspace"`
}

// InsertText submits document content for graph extraction in the workspace.
func (c *Client) InsertText(ctx context.Context, workspace, documentName, content string) error {
	body, err := json.Marshal(insertTextRequest{
		Text:       content,
		FileSource: documentName,
		Workspace:  workspace,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/documents/text", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating insert request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("graph insert for %s: %w", documentName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("graph insert for %s: unexpected status %d", documentName, resp.StatusCode)
	}
	return nil
}

// DropWorkspace deletes the workspace and all graph data derived from it.
func (c *Client) DropWorkspace(ctx context.Context, workspace string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/workspaces/"+workspace, nil)
	if err != nil {
		return fmt.Errorf("creating drop request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("dropping workspace %s: %w", workspace, err)
	}
	defer resp.Body.Close()

	// A workspace that was never created is fine to "drop".
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("dropping workspace %s: unexpected status %d", workspace, resp.StatusCode)
	}
	return nil
}

// Healthy returns true if the graph service responds to GET /health with 200.
func (c *Client) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	c.setHeaders(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
}
