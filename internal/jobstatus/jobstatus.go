// Package jobstatus tracks the progress of long-running ingestion jobs in a
// shared key-value store so any API instance can answer status polls.
package jobstatus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openkb/knowbase/internal/kv"
)

// Job statuses. A job starts in StatusProcessing and ends in exactly one of
// StatusCompleted or StatusError.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusError      = "error"
)

const keyPrefix = "crawl_status:"

// Record is the stored state of one job, keyed by collection ID.
type Record struct {
	Status     string    `json:"status"`
	Count      int       `json:"count"`
	Message    string    `json:"message,omitempty"`
	StartTime  time.Time `json:"start_time"`
	LastUpdate time.Time `json:"last_update"`
}

// KV is the subset of the key-value client the tracker needs.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, pattern string) ([]string, error)
}

// Tracker reads and writes job records. Records have no TTL; completed and
// errored records stay until the next job for the same collection overwrites
// them, so a client polling after completion still sees the final state.
type Tracker struct {
	kv  KV
	now func() time.Time
}

// New creates a Tracker backed by the given key-value store.
func New(store KV) *Tracker {
	return &Tracker{kv: store, now: time.Now}
}

// Patch describes a partial update to a record. Nil fields are left as-is.
type Patch struct {
	Status  *string
	Message *string
	Count   *int
}

// Init writes a fresh processing record for the collection, replacing any
// record from a previous job.
func (t *Tracker) Init(ctx context.Context, collectionID string) error {
	now := t.now().UTC()
	return t.put(ctx, collectionID, Record{
		Status:     StatusProcessing,
		Count:      0,
		StartTime:  now,
		LastUpdate: now,
	})
}

// Update applies a patch to the record. A missing record is an error; jobs
// must be initialized before they report progress.
func (t *Tracker) Update(ctx context.Context, collectionID string, p Patch) error {
	rec, ok, err := t.Get(ctx, collectionID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no job record for collection %s", collectionID)
	}
	if p.Status != nil {
		rec.Status = *p.Status
	}
	if p.Message != nil {
		rec.Message = *p.Message
	}
	if p.Count != nil {
		rec.Count = *p.Count
	}
	rec.LastUpdate = t.now().UTC()
	return t.put(ctx, collectionID, rec)
}

// Increment adds delta to the record's count.
func (t *Tracker) Increment(ctx context.Context, collectionID string, delta int) error {
	rec, ok, err := t.Get(ctx, collectionID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no job record for collection %s", collectionID)
	}
	rec.Count += delta
	rec.LastUpdate = t.now().UTC()
	return t.put(ctx, collectionID, rec)
}

// Complete marks the job finished with the final processed count.
func (t *Tracker) Complete(ctx context.Context, collectionID string, count int) error {
	status := StatusCompleted
	return t.Update(ctx, collectionID, Patch{Status: &status, Count: &count})
}

// Fail marks the job errored with a human-readable message.
func (t *Tracker) Fail(ctx context.Context, collectionID, message string) error {
	status := StatusError
	return t.Update(ctx, collectionID, Patch{Status: &status, Message: &message})
}

// Get returns the record for a collection. When no record exists the second
// return value is false and err is nil.
func (t *Tracker) Get(ctx context.Context, collectionID string) (Record, bool, error) {
	raw, err := t.kv.Get(ctx, keyPrefix+collectionID)
	if errors.Is(err, kv.ErrNotFound) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return Record{}, false, fmt.Errorf("corrupt job record for %s: %w", collectionID, err)
	}
	return rec, true, nil
}

// All returns every job record keyed by collection ID.
func (t *Tracker) All(ctx context.Context) (map[string]Record, error) {
	keys, err := t.kv.Keys(ctx, keyPrefix+"*")
	if err != nil {
		return nil, err
	}
	records := make(map[string]Record, len(keys))
	for _, key := range keys {
		collectionID := strings.TrimPrefix(key, keyPrefix)
		rec, ok, err := t.Get(ctx, collectionID)
		if err != nil {
			return nil, err
		}
		if ok {
			records[collectionID] = rec
		}
	}
	return records, nil
}

// Clear removes the record for a collection, used when its library is deleted.
func (t *Tracker) Clear(ctx context.Context, collectionID string) error {
	return t.kv.Delete(ctx, keyPrefix+collectionID)
}

func (t *Tracker) put(ctx context.Context, collectionID string, rec Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return t.kv.Set(ctx, keyPrefix+collectionID, string(raw), 0)
}
