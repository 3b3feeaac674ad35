// Package window keeps a bounded, ordered cache of feed items per scope.
//
// Each scope's window is held in memory, sorted newest first with ties broken
// by id, and mirrored into a database.Store. The in-memory copy is
// authoritative for readers: when a commit to the store fails the failure is
// reported to the event sink and the window keeps its new contents, so the
// persisted copy can lag until the next successful commit.
package window

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/bryan-buckman/feedwindow/internal/database"
	"github.com/bryan-buckman/feedwindow/internal/events"
	"github.com/bryan-buckman/feedwindow/internal/model"
)

// Option configures a Cache.
type Option func(*Cache)

// WithCapacity sets the maximum window size N.
func WithCapacity(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// WithPageSize sets the eviction page size P.
func WithPageSize(p int) Option {
	return func(c *Cache) {
		if p > 0 {
			c.pageSize = p
		}
	}
}

// WithLogger injects a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithSink routes cache write failures to an event sink.
func WithSink(sink events.Sink) Option {
	return func(c *Cache) {
		if sink != nil {
			c.sink = sink
		}
	}
}

// Change reports what a mutation did to a window.
type Change struct {
	Inserted []string
	Evicted  []string
}

// EvictedID reports whether id was evicted.
func (ch Change) EvictedID(id string) bool {
	for _, e := range ch.Evicted {
		if e == id {
			return true
		}
	}
	return false
}

// Cache is the local window cache.
type Cache struct {
	store    database.Store
	capacity int
	pageSize int
	logger   *slog.Logger
	sink     events.Sink

	mu      sync.Mutex
	windows map[string][]model.CachedFeedItem
}

// New creates a window cache persisted through store.
func New(store database.Store, opts ...Option) *Cache {
	c := &Cache{
		store:    store,
		capacity: model.DefaultCapacity,
		pageSize: model.DefaultPageSize,
		logger:   slog.Default(),
		sink:     events.Discard,
		windows:  make(map[string][]model.CachedFeedItem),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Capacity returns N.
func (c *Cache) Capacity() int { return c.capacity }

// PageSize returns P.
func (c *Cache) PageSize() int { return c.pageSize }

// Load warms the in-memory window for scope from the persisted store.
func (c *Cache) Load(ctx context.Context, scope string) error {
	items, err := c.store.Fetch(ctx, database.Predicate{Scope: scope}, database.NewestFirst, c.capacity)
	if err != nil {
		return err
	}
	sortWindow(items)
	c.mu.Lock()
	c.windows[scope] = items
	c.mu.Unlock()
	return nil
}

// Replace discards the scope's window and fills it with the first N of items.
func (c *Cache) Replace(ctx context.Context, scope string, items []model.FeedItem) Change {
	c.mu.Lock()
	defer c.mu.Unlock()

	var ch Change
	ch.Evicted = model.IDs(c.windows[scope])

	fresh := make([]model.CachedFeedItem, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		if _, dup := seen[it.ID]; dup {
			continue
		}
		seen[it.ID] = struct{}{}
		fresh = append(fresh, model.CachedFeedItem{FeedItem: it})
	}
	sortWindow(fresh)
	if len(fresh) > c.capacity {
		fresh = fresh[:c.capacity]
	}
	c.windows[scope] = fresh
	ch.Inserted = model.IDs(fresh)

	c.store.Delete(database.Predicate{Scope: scope})
	for _, it := range fresh {
		c.store.Insert(it)
	}
	c.commit(ctx, scope, "replace")
	return ch
}

// Append grows the window toward older items. When evictPage is set, the P
// newest items are dropped before inserting. Items whose id is already
// cached are skipped. Any excess over N is then trimmed from the newest end.
func (c *Cache) Append(ctx context.Context, scope string, items []model.FeedItem, evictPage bool) Change {
	return c.grow(ctx, scope, items, evictPage, model.Forward)
}

// AppendReverse grows the window toward newer items, evicting from the
// oldest end instead.
func (c *Cache) AppendReverse(ctx context.Context, scope string, items []model.FeedItem, evictPage bool) Change {
	return c.grow(ctx, scope, items, evictPage, model.Backward)
}

func (c *Cache) grow(ctx context.Context, scope string, items []model.FeedItem, evictPage bool, dir model.Direction) Change {
	c.mu.Lock()
	defer c.mu.Unlock()

	var ch Change
	win := c.windows[scope]
	if evictPage {
		var dropped []model.CachedFeedItem
		win, dropped = trim(win, c.pageSize, dir)
		ch.Evicted = append(ch.Evicted, model.IDs(dropped)...)
	}

	present := make(map[string]struct{}, len(win)+len(items))
	for _, it := range win {
		present[it.ID] = struct{}{}
	}
	for _, it := range items {
		if _, ok := present[it.ID]; ok {
			continue
		}
		present[it.ID] = struct{}{}
		win = append(win, model.CachedFeedItem{FeedItem: it})
		ch.Inserted = append(ch.Inserted, it.ID)
	}
	sortWindow(win)

	if over := len(win) - c.capacity; over > 0 {
		var dropped []model.CachedFeedItem
		win, dropped = trim(win, over, dir)
		for _, it := range dropped {
			ch.Evicted = append(ch.Evicted, it.ID)
		}
		ch.Inserted = without(ch.Inserted, model.IDs(dropped))
	}
	c.windows[scope] = win

	if len(ch.Evicted) > 0 {
		c.store.Delete(database.Predicate{Scope: scope, IDs: ch.Evicted})
	}
	inserted := make(map[string]struct{}, len(ch.Inserted))
	for _, id := range ch.Inserted {
		inserted[id] = struct{}{}
	}
	for _, it := range win {
		if _, ok := inserted[it.ID]; ok {
			c.store.Insert(it)
		}
	}
	if len(ch.Evicted) > 0 || len(ch.Inserted) > 0 {
		c.commit(ctx, scope, "append "+dir.String())
	}
	return ch
}

// trim removes n items from the end opposite to growth direction dir:
// forward growth drops the newest items, backward growth the oldest.
func trim(win []model.CachedFeedItem, n int, dir model.Direction) (kept, dropped []model.CachedFeedItem) {
	if n > len(win) {
		n = len(win)
	}
	if dir == model.Forward {
		dropped = append([]model.CachedFeedItem(nil), win[:n]...)
		kept = append([]model.CachedFeedItem(nil), win[n:]...)
		return kept, dropped
	}
	dropped = append([]model.CachedFeedItem(nil), win[len(win)-n:]...)
	kept = append([]model.CachedFeedItem(nil), win[:len(win)-n]...)
	return kept, dropped
}

func without(ids, remove []string) []string {
	if len(remove) == 0 {
		return ids
	}
	drop := make(map[string]struct{}, len(remove))
	for _, id := range remove {
		drop[id] = struct{}{}
	}
	out := ids[:0]
	for _, id := range ids {
		if _, ok := drop[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

// Boundary returns the oldest item (Forward) or newest item (Backward).
func (c *Cache) Boundary(scope string, dir model.Direction) (model.CachedFeedItem, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	win := c.windows[scope]
	if len(win) == 0 {
		return model.CachedFeedItem{}, false
	}
	if dir == model.Forward {
		return win[len(win)-1], true
	}
	return win[0], true
}

// Items returns a copy of the scope's window, newest first.
func (c *Cache) Items(scope string) []model.CachedFeedItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.CachedFeedItem(nil), c.windows[scope]...)
}

// Len returns the measured window size for scope.
func (c *Cache) Len(scope string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.windows[scope])
}

// Contains reports whether id is currently cached in scope.
func (c *Cache) Contains(scope, id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return indexOf(c.windows[scope], id) >= 0
}

// SetAuthors attaches an author snapshot to the cached items named by ids
// and commits them together. Ids no longer in the window are skipped; the
// number of items written is returned.
func (c *Cache) SetAuthors(ctx context.Context, scope string, ids []string, snap model.AuthorSnapshot) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	win := c.windows[scope]
	n := 0
	for _, id := range ids {
		i := indexOf(win, id)
		if i < 0 {
			continue
		}
		s := snap
		win[i].Author = &s
		c.store.Insert(win[i])
		n++
	}
	if n > 0 {
		c.commit(ctx, scope, "set author")
	}
	return n
}

// Scopes lists the scopes that currently hold a window.
func (c *Cache) Scopes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.windows))
	for scope := range c.windows {
		out = append(out, scope)
	}
	sort.Strings(out)
	return out
}

// Clear drops one scope's window.
func (c *Cache) Clear(ctx context.Context, scope string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.windows, scope)
	c.store.Delete(database.Predicate{Scope: scope})
	c.commit(ctx, scope, "clear")
}

// ClearAll drops every window, as on logout.
func (c *Cache) ClearAll(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.windows = make(map[string][]model.CachedFeedItem)
	c.store.Delete(database.Predicate{})
	c.commit(ctx, "", "clear all")
}

// commit saves staged store operations. Must be called with c.mu held.
func (c *Cache) commit(ctx context.Context, scope, op string) {
	err := c.store.Save(ctx)
	if err == nil {
		return
	}
	werr := &model.CacheWriteError{Scope: scope, Op: op, Err: err}
	c.logger.ErrorContext(ctx, "cache write failed", "scope", scope, "op", op, "error", err)
	ev := events.New(events.KindCacheWriteFailed, scope)
	ev.Message = werr.Error()
	c.sink.Emit(ctx, ev)
}

func indexOf(win []model.CachedFeedItem, id string) int {
	for i, it := range win {
		if it.ID == id {
			return i
		}
	}
	return -1
}

func sortWindow(win []model.CachedFeedItem) {
	sort.SliceStable(win, func(i, j int) bool { return win[i].Before(win[j].FeedItem) })
}
