// Package authors memoizes owner display info for cached feed items.
package authors

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/bryan-buckman/feedwindow/internal/model"
)

// Directory is the external author/display-info service.
type Directory interface {
	// Fetch returns display info for ownerID, or an error wrapping
	// model.ErrNotFound when the owner is unknown.
	Fetch(ctx context.Context, ownerID string) (model.AuthorSnapshot, error)
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger injects a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Cache is a process-wide memo from owner id to display info. Entries are
// only ever added; there is no eviction, so memory grows with the number of
// distinct owners seen. Failed lookups are not memoized.
type Cache struct {
	dir    Directory
	logger *slog.Logger

	entries sync.Map // owner id -> model.AuthorSnapshot
	group   singleflight.Group

	mu      sync.Mutex
	loading map[string]int
}

// New creates a cache over dir.
func New(dir Directory, opts ...Option) *Cache {
	c := &Cache{
		dir:     dir,
		logger:  slog.Default(),
		loading: make(map[string]int),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetOrFetch returns the memoized snapshot for ownerID, fetching it on a
// miss. Concurrent misses for the same owner share one directory call.
func (c *Cache) GetOrFetch(ctx context.Context, ownerID string) (model.AuthorSnapshot, error) {
	if v, ok := c.entries.Load(ownerID); ok {
		return v.(model.AuthorSnapshot), nil
	}

	c.markLoading(ownerID, 1)
	defer c.markLoading(ownerID, -1)

	v, err, _ := c.group.Do(ownerID, func() (interface{}, error) {
		if v, ok := c.entries.Load(ownerID); ok {
			return v, nil
		}
		snap, err := c.dir.Fetch(ctx, ownerID)
		if err != nil {
			return nil, fmt.Errorf("fetch author %s: %w", ownerID, err)
		}
		stored, _ := c.entries.LoadOrStore(ownerID, snap)
		return stored, nil
	})
	if err != nil {
		c.logger.DebugContext(ctx, "author lookup failed", "owner", ownerID, "error", err)
		return model.AuthorSnapshot{}, err
	}
	return v.(model.AuthorSnapshot), nil
}

func (c *Cache) markLoading(ownerID string, delta int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.loading[ownerID] + delta
	if n <= 0 {
		delete(c.loading, ownerID)
		return
	}
	c.loading[ownerID] = n
}

// State reports the display state for ownerID.
func (c *Cache) State(ownerID string) model.AuthorState {
	if v, ok := c.entries.Load(ownerID); ok {
		return model.AuthorLoaded{Snapshot: v.(model.AuthorSnapshot)}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loading[ownerID] > 0 {
		return model.AuthorLoading{}
	}
	return model.AuthorUnknown{}
}

// Resolve returns the memoized snapshot or the unknown-author placeholder.
func (c *Cache) Resolve(ownerID string) model.AuthorSnapshot {
	if v, ok := c.entries.Load(ownerID); ok {
		return v.(model.AuthorSnapshot)
	}
	return model.UnknownAuthor
}

// Len returns the number of memoized owners.
func (c *Cache) Len() int {
	n := 0
	c.entries.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

// StaticDirectory serves display info from a fixed map.
type StaticDirectory map[string]model.AuthorSnapshot

func (d StaticDirectory) Fetch(_ context.Context, ownerID string) (model.AuthorSnapshot, error) {
	snap, ok := d[ownerID]
	if !ok {
		return model.AuthorSnapshot{}, model.ErrNotFound
	}
	return snap, nil
}
