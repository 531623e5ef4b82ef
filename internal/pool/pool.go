// Package pool caches per-collection runtime contexts so repeated queries
// against the same knowledge base reuse one set of retrieval resources
// instead of rebuilding them per request.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// NoCollectionID keys the runtime used for conversations that are not bound
// to any knowledge base.
const NoCollectionID = "__no_collection__"

// Default lifecycle tuning. Idle runtimes are evicted lazily: the sweep runs
// piggybacked on Acquire once per SweepInterval, so an idle deployment holds
// entries a little longer than MaxIdle but never needs a background goroutine.
const (
	DefaultMaxIdle       = time.Hour
	DefaultSweepInterval = 10 * time.Minute
)

// Runtime is one cached per-collection context. Close releases its resources
// and is safe to call more than once.
type Runtime interface {
	Close() error
}

// Factory builds the runtime for a collection on first use.
type Factory func(ctx context.Context, collectionID string) (Runtime, error)

// entry tracks a cached runtime and when it was last handed out.
type entry struct {
	runtime    Runtime
	lastAccess time.Time
}

// Pool caches runtimes keyed by collection ID.
type Pool struct {
	mu            sync.Mutex
	entries       map[string]*entry
	factory       Factory
	maxIdle       time.Duration
	sweepInterval time.Duration
	lastSweep     time.Time
	now           func() time.Time
}

// New creates a Pool that builds missing runtimes with factory. Non-positive
// maxIdle or sweepInterval fall back to the defaults.
func New(factory Factory, maxIdle, sweepInterval time.Duration) *Pool {
	if maxIdle <= 0 {
		maxIdle = DefaultMaxIdle
	}
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	return &Pool{
		entries:       make(map[string]*entry),
		factory:       factory,
		maxIdle:       maxIdle,
		sweepInterval: sweepInterval,
		now:           time.Now,
	}
}

// Acquire returns the cached runtime for the collection, building it on first
// use. An empty collectionID maps to NoCollectionID. The runtime stays owned
// by the pool; callers must not Close it.
//
// Construction runs inside the critical section: concurrent first requests
// for the same new id must not race to build duplicate runtimes, and that
// guarantee is worth serializing the occasional build.
func (p *Pool) Acquire(ctx context.Context, collectionID string) (Runtime, error) {
	if collectionID == "" {
		collectionID = NoCollectionID
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.sweepLocked()
	if e, ok := p.entries[collectionID]; ok {
		e.lastAccess = p.now()
		return e.runtime, nil
	}

	rt, err := p.factory(ctx, collectionID)
	if err != nil {
		return nil, fmt.Errorf("building runtime for %s: %w", collectionID, err)
	}
	p.entries[collectionID] = &entry{runtime: rt, lastAccess: p.now()}
	return rt, nil
}

// Remove evicts and closes the runtime for a collection, used when its
// library is deleted or re-indexed. Removing a missing entry is a no-op.
func (p *Pool) Remove(collectionID string) {
	if collectionID == "" {
		collectionID = NoCollectionID
	}
	p.mu.Lock()
	e, ok := p.entries[collectionID]
	if ok {
		delete(p.entries, collectionID)
	}
	p.mu.Unlock()
	if ok {
		e.runtime.Close()
	}
}

// ClearAll evicts and closes every runtime.
func (p *Pool) ClearAll() {
	p.mu.Lock()
	evicted := p.entries
	p.entries = make(map[string]*entry)
	p.mu.Unlock()
	for _, e := range evicted {
		e.runtime.Close()
	}
}

// EntryStats describes one cached runtime for the monitoring endpoint.
type EntryStats struct {
	CollectionID string    `json:"collection_id"`
	LastAccess   time.Time `json:"last_access"`
	IdleFor      string    `json:"idle_for"`
}

// Stats returns a snapshot of the pool's contents.
func (p *Pool) Stats() []EntryStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	stats := make([]EntryStats, 0, len(p.entries))
	for id, e := range p.entries {
		stats = append(stats, EntryStats{
			CollectionID: id,
			LastAccess:   e.lastAccess,
			IdleFor:      now.Sub(e.lastAccess).Round(time.Second).String(),
		})
	}
	return stats
}

// Size returns the number of cached runtimes.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// sweepLocked evicts entries idle longer than maxIdle. Caller holds p.mu.
// Runs at most once per sweepInterval.
func (p *Pool) sweepLocked() {
	now := p.now()
	if now.Sub(p.lastSweep) < p.sweepInterval {
		return
	}
	p.lastSweep = now
	for id, e := range p.entries {
		if now.Sub(e.lastAccess) > p.maxIdle {
			delete(p.entries, id)
			// Close under the lock is fine: runtimes close quickly and the
			// sweep runs at most once per interval.
			e.runtime.Close()
		}
	}
}
