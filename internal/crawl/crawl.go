// Package crawl ingests web pages into a library as a background job,
// reporting progress through the job status tracker.
package crawl

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openkb/knowbase/internal/chunk"
	"github.com/openkb/knowbase/internal/extract"
	"github.com/openkb/knowbase/internal/ingest"
	"github.com/openkb/knowbase/internal/storage"
)

// fetchConcurrency bounds parallel page fetches per job.
const fetchConcurrency = 4

// maxPageBytes caps one fetched page at 10MB.
const maxPageBytes = 10 * 1024 * 1024

// Page is one fetched document. Fetchers fill whichever representations the
// source offers; ingestion prefers Markdown, then HTML and finally Text.
type Page struct {
	URL      string
	Markdown string
	HTML     string
	Text     string
}

// Fetcher retrieves one page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Page, error)
}

// Ingestor writes one document into a library.
type Ingestor interface {
	AddDocument(ctx context.Context, req ingest.AddRequest) (ingest.Result, error)
}

// Tracker reports job progress keyed by collection ID.
type Tracker interface {
	Init(ctx context.Context, collectionID string) error
	Increment(ctx context.Context, collectionID string, delta int) error
	Complete(ctx context.Context, collectionID string, count int) error
	Fail(ctx context.Context, collectionID, message string) error
}

// Worker runs crawl jobs.
type Worker struct {
	fetcher Fetcher
	ingest  Ingestor
	tracker Tracker
	logger  *slog.Logger
}

// NewWorker creates a Worker.
func NewWorker(fetcher Fetcher, ingestor Ingestor, tracker Tracker, logger *slog.Logger) *Worker {
	return &Worker{
		fetcher: fetcher,
		ingest:  ingestor,
		tracker: tracker,
		logger:  logger,
	}
}

// Job describes one crawl: which library to fill and from which URLs.
type Job struct {
	Library  storage.Library
	URLs     []string
	Strategy chunk.Strategy
	Chunking chunk.Config
}

// Run executes the job to completion. Individual page failures are logged
// and skipped; the job only ends in the error state when every page failed
// or the whole run was cut short. Callers run this on its own goroutine with
// a context independent of the triggering request.
func (w *Worker) Run(ctx context.Context, job Job) {
	collectionID := job.Library.CollectionID
	if err := w.tracker.Init(ctx, collectionID); err != nil {
		w.logger.Error("initializing job status failed", "collection", collectionID, "error", err)
		return
	}

	var processed atomic.Int64
	var firstErr atomic.Value

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for _, url := range job.URLs {
		url := url
		g.Go(func() error {
			if err := w.processPage(gctx, job, url); err != nil {
				w.logger.Warn("page failed", "url", url, "error", err)
				firstErr.CompareAndSwap(nil, fmt.Errorf("%s: %w", url, err))
				// Skip, do not cancel the sibling pages.
				return nil
			}
			processed.Add(1)
			if err := w.tracker.Increment(gctx, collectionID, 1); err != nil {
				w.logger.Warn("incrementing job count failed", "collection", collectionID, "error", err)
			}
			return nil
		})
	}
	g.Wait()

	count := int(processed.Load())
	if count == 0 && len(job.URLs) > 0 {
		msg := "all pages failed"
		if err, ok := firstErr.Load().(error); ok {
			msg = err.Error()
		}
		if err := w.tracker.Fail(ctx, collectionID, msg); err != nil {
			w.logger.Error("marking job failed errored", "collection", collectionID, "error", err)
		}
		return
	}
	if err := w.tracker.Complete(ctx, collectionID, count); err != nil {
		w.logger.Error("marking job complete errored", "collection", collectionID, "error", err)
	}
	w.logger.Info("crawl finished", "collection", collectionID, "pages", count, "requested", len(job.URLs))
}

func (w *Worker) processPage(ctx context.Context, job Job, url string) error {
	page, err := w.fetcher.Fetch(ctx, url)
	if err != nil {
		return fmt.Errorf("fetching: %w", err)
	}

	content, err := pageContent(page)
	if err != nil {
		return err
	}

	_, err = w.ingest.AddDocument(ctx, ingest.AddRequest{
		Library:  job.Library,
		Name:     url,
		Type:     storage.DocTypeLink,
		URL:      url,
		Content:  content,
		Strategy: job.Strategy,
		Chunking: job.Chunking,
	})
	return err
}

// pageContent picks the richest representation the fetcher produced.
func pageContent(page Page) (string, error) {
	if strings.TrimSpace(page.Markdown) != "" {
		return page.Markdown, nil
	}
	if strings.TrimSpace(page.HTML) != "" {
		return extract.FromHTML([]byte(page.HTML))
	}
	if strings.TrimSpace(page.Text) != "" {
		return page.Text, nil
	}
	return "", fmt.Errorf("page has no content")
}

// HTTPFetcher fetches pages directly over HTTP.
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher creates an HTTPFetcher with a 30 second per-page timeout.
func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{client: &http.Client{Timeout: 30 * time.Second}}
}

// Fetch downloads one URL and classifies the body by Content-Type.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Page{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", "knowbase-crawler/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return Page{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Page{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return Page{}, fmt.Errorf("reading body: %w", err)
	}

	page := Page{URL: url}
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch mediaType {
	case "text/markdown":
		page.Markdown = string(body)
	case "text/html", "application/xhtml+xml":
		page.HTML = string(body)
	default:
		page.Text = string(body)
	}
	return page, nil
}
