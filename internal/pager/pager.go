// Package pager coordinates paging a remote scoped feed into the local
// window cache.
//
// Each scope has one load slot shared by both directions: while any load
// for a scope is in flight, further LoadMore and LoadMoreReverse calls are
// rejected rather than queued. Page results are applied to the window under
// the coordinator lock, so window mutations for a scope never interleave.
package pager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bryan-buckman/feedwindow/internal/events"
	"github.com/bryan-buckman/feedwindow/internal/model"
	"github.com/bryan-buckman/feedwindow/internal/remote"
	"github.com/bryan-buckman/feedwindow/internal/window"
)

// Gateway is the remote page source.
type Gateway interface {
	FetchPage(ctx context.Context, scope string, cursor *model.Cursor, dir model.Direction, pageSize int) (remote.Page, error)
	ResolveCursor(ctx context.Context, scope string, item model.FeedItem, dir model.Direction) (*model.Cursor, error)
}

// Window is the local window cache.
type Window interface {
	Replace(ctx context.Context, scope string, items []model.FeedItem) window.Change
	Append(ctx context.Context, scope string, items []model.FeedItem, evictPage bool) window.Change
	AppendReverse(ctx context.Context, scope string, items []model.FeedItem, evictPage bool) window.Change
	Boundary(scope string, dir model.Direction) (model.CachedFeedItem, bool)
	Len(scope string) int
	Contains(scope, id string) bool
	SetAuthors(ctx context.Context, scope string, ids []string, snap model.AuthorSnapshot) int
	Scopes() []string
	Clear(ctx context.Context, scope string)
	ClearAll(ctx context.Context)
}

// AuthorLookup resolves owner display info.
type AuthorLookup interface {
	GetOrFetch(ctx context.Context, ownerID string) (model.AuthorSnapshot, error)
}

// Phase is the load state of one scope.
type Phase int

const (
	Idle Phase = iota
	LoadingInitial
	LoadingMoreForward
	LoadingMoreBackward
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case LoadingInitial:
		return "loading_initial"
	case LoadingMoreForward:
		return "loading_more_forward"
	case LoadingMoreBackward:
		return "loading_more_backward"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

func loadingPhase(dir model.Direction) Phase {
	if dir == model.Backward {
		return LoadingMoreBackward
	}
	return LoadingMoreForward
}

const defaultFanoutTimeout = 15 * time.Second

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithPageSize sets P.
func WithPageSize(p int) Option {
	return func(c *Coordinator) {
		if p > 0 {
			c.pageSize = p
		}
	}
}

// WithCapacity sets N.
func WithCapacity(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// WithLogger injects a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithSink routes load events to an event sink.
func WithSink(sink events.Sink) Option {
	return func(c *Coordinator) {
		if sink != nil {
			c.sink = sink
		}
	}
}

// WithFanoutTimeout bounds each background author lookup.
func WithFanoutTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.fanoutTimeout = d
		}
	}
}

type scopeState struct {
	phase      Phase
	generation uint64
	cursors    [2]*model.Cursor
	hasMore    [2]bool
	lastErr    string
}

// State is a point-in-time view of one scope.
type State struct {
	Scope          string `json:"scope"`
	Phase          string `json:"phase"`
	Active         bool   `json:"active"`
	ForwardCursor  string `json:"forward_cursor,omitempty"`
	BackwardCursor string `json:"backward_cursor,omitempty"`
	HasMore        bool   `json:"has_more"`
	HasMoreNewer   bool   `json:"has_more_newer"`
	WindowSize     int    `json:"window_size"`
	Generation     uint64 `json:"generation"`
	Error          string `json:"error,omitempty"`
}

// Result describes one load call. Accepted is false when a guard turned the
// call into a no-op. Superseded is set when a newer LoadInitial or a clear
// replaced the scope while this call was fetching; its page was discarded.
type Result struct {
	Accepted   bool
	Superseded bool
	Fetched    int
	Inserted   int
	Evicted    int

	// CursorErr is a non-fatal *model.CursorResolutionError raised while
	// re-deriving cursors after the page was applied.
	CursorErr error
}

// Coordinator is the pagination state machine.
type Coordinator struct {
	gateway       Gateway
	window        Window
	authors       AuthorLookup
	pageSize      int
	capacity      int
	logger        *slog.Logger
	sink          events.Sink
	fanoutTimeout time.Duration

	mu         sync.Mutex
	active     string
	states     map[string]*scopeState
	generation uint64

	fanoutCtx    context.Context
	cancelFanout context.CancelFunc
	fanout       sync.WaitGroup
}

// New creates a coordinator.
func New(gateway Gateway, win Window, authors AuthorLookup, opts ...Option) *Coordinator {
	c := &Coordinator{
		gateway:       gateway,
		window:        win,
		authors:       authors,
		pageSize:      model.DefaultPageSize,
		capacity:      model.DefaultCapacity,
		logger:        slog.Default(),
		sink:          events.Discard,
		fanoutTimeout: defaultFanoutTimeout,
		states:        make(map[string]*scopeState),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.fanoutCtx, c.cancelFanout = context.WithCancel(context.Background())
	return c
}

// ActiveScope returns the scope of the most recent LoadInitial.
func (c *Coordinator) ActiveScope() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Snapshot returns the current state of scope.
func (c *Coordinator) Snapshot(scope string) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := State{
		Scope:      scope,
		Phase:      Idle.String(),
		Active:     scope != "" && scope == c.active,
		WindowSize: c.window.Len(scope),
	}
	st, ok := c.states[scope]
	if !ok {
		return s
	}
	s.Phase = st.phase.String()
	s.ForwardCursor = st.cursors[model.Forward].Encode()
	s.BackwardCursor = st.cursors[model.Backward].Encode()
	s.HasMore = st.hasMore[model.Forward]
	s.HasMoreNewer = st.hasMore[model.Backward]
	s.Generation = st.generation
	s.Error = st.lastErr
	return s
}

// LoadInitial resets scope and replaces its window with the first page.
// It may be called in any phase; an in-flight load for the same scope is
// superseded. Switching to a different scope while the active scope is
// loading returns model.ErrScopeSwitch. Windows of every other scope,
// including ones warmed from the local store, are dropped.
func (c *Coordinator) LoadInitial(ctx context.Context, scope string) (Result, error) {
	if scope == "" {
		return Result{}, model.ErrEmptyScope
	}

	c.mu.Lock()
	if c.active != scope {
		if prev, ok := c.states[c.active]; ok && prev.phase != Idle {
			c.mu.Unlock()
			return Result{}, fmt.Errorf("%w: %q is %s", model.ErrScopeSwitch, c.active, prev.phase)
		}
		if c.active != "" {
			c.logger.InfoContext(ctx, "switching scope", "from", c.active, "to", scope)
		}
		for _, other := range c.window.Scopes() {
			if other != scope {
				c.window.Clear(ctx, other)
			}
		}
		delete(c.states, c.active)
	}
	c.active = scope
	c.generation++
	st := &scopeState{
		phase:      LoadingInitial,
		generation: c.generation,
		hasMore:    [2]bool{true, true},
	}
	c.states[scope] = st
	gen := st.generation
	c.mu.Unlock()

	page, err := c.gateway.FetchPage(ctx, scope, nil, model.Forward, c.pageSize)

	c.mu.Lock()
	if !c.current(scope, st, gen) {
		c.mu.Unlock()
		return Result{Accepted: true, Superseded: true}, nil
	}
	if err != nil {
		st.phase = Idle
		st.hasMore = [2]bool{false, false}
		st.lastErr = err.Error()
		c.mu.Unlock()
		c.emitFailure(ctx, scope, model.Forward, err)
		return Result{Accepted: true}, err
	}

	ch := c.window.Replace(ctx, scope, page.Items)
	st.hasMore[model.Forward] = page.Raw == c.pageSize
	if oldest, ok := c.window.Boundary(scope, model.Forward); ok {
		st.cursors[model.Forward] = model.CursorFor(scope, model.Forward, oldest.FeedItem)
	}
	if newest, ok := c.window.Boundary(scope, model.Backward); ok {
		st.cursors[model.Backward] = model.CursorFor(scope, model.Backward, newest.FeedItem)
	}
	st.phase = Idle
	st.lastErr = ""
	c.mu.Unlock()

	c.emitLoaded(ctx, scope, model.Forward, len(page.Items))
	c.startFanout(scope, gen, page.Items, ch.Inserted)
	return Result{
		Accepted: true,
		Fetched:  len(page.Items),
		Inserted: len(ch.Inserted),
		Evicted:  len(ch.Evicted),
	}, nil
}

// LoadMore loads the next page of older items.
func (c *Coordinator) LoadMore(ctx context.Context, scope string) (Result, error) {
	return c.loadMore(ctx, scope, model.Forward)
}

// LoadMoreReverse loads the next page of newer items.
func (c *Coordinator) LoadMoreReverse(ctx context.Context, scope string) (Result, error) {
	return c.loadMore(ctx, scope, model.Backward)
}

func (c *Coordinator) loadMore(ctx context.Context, scope string, dir model.Direction) (Result, error) {
	if scope == "" {
		return Result{}, nil
	}

	c.mu.Lock()
	st, ok := c.states[scope]
	if !ok || scope != c.active || st.phase != Idle || !st.hasMore[dir] {
		c.mu.Unlock()
		return Result{}, nil
	}
	st.phase = loadingPhase(dir)
	gen := st.generation
	cursor := st.cursors[dir]
	c.mu.Unlock()

	page, err := c.gateway.FetchPage(ctx, scope, cursor, dir, c.pageSize)

	c.mu.Lock()
	if !c.current(scope, st, gen) {
		c.mu.Unlock()
		return Result{Accepted: true, Superseded: true}, nil
	}
	if err != nil {
		st.phase = Idle
		st.lastErr = err.Error()
		c.mu.Unlock()
		c.emitFailure(ctx, scope, dir, err)
		return Result{Accepted: true}, err
	}
	if len(page.Items) == 0 {
		st.hasMore[dir] = false
		st.phase = Idle
		st.lastErr = ""
		c.mu.Unlock()
		return Result{Accepted: true}, nil
	}

	fresh := 0
	for _, it := range page.Items {
		if !c.window.Contains(scope, it.ID) {
			fresh++
		}
	}
	evictPage := c.window.Len(scope)+fresh-c.capacity >= c.pageSize

	var ch window.Change
	if dir == model.Forward {
		ch = c.window.Append(ctx, scope, page.Items, evictPage)
	} else {
		ch = c.window.AppendReverse(ctx, scope, page.Items, evictPage)
	}
	st.hasMore[dir] = page.Raw == c.pageSize
	st.lastErr = ""

	opp := dir.Opposite()
	oppEvicted := st.cursors[opp] != nil && ch.EvictedID(st.cursors[opp].ID)
	own, _ := c.window.Boundary(scope, dir)
	oppBoundary, _ := c.window.Boundary(scope, opp)
	c.mu.Unlock()

	// The slot stays held while cursors are re-resolved against the remote
	// store, so no other load for this scope can observe a stale cursor.
	ownCursor, ownErr := c.gateway.ResolveCursor(ctx, scope, own.FeedItem, dir)
	if ownErr == nil && regressed(ownCursor, own.FeedItem, dir) {
		ownErr = &model.CursorResolutionError{Scope: scope, Direction: dir, ItemID: own.ID, Err: model.ErrCursorMoved}
	}
	var oppCursor *model.Cursor
	var oppErr error
	if oppEvicted {
		oppCursor, oppErr = c.gateway.ResolveCursor(ctx, scope, oppBoundary.FeedItem, opp)
		if oppErr == nil && regressed(oppCursor, oppBoundary.FeedItem, opp) {
			oppErr = &model.CursorResolutionError{Scope: scope, Direction: opp, ItemID: oppBoundary.ID, Err: model.ErrCursorMoved}
		}
	}

	c.mu.Lock()
	if !c.current(scope, st, gen) {
		c.mu.Unlock()
		return Result{Accepted: true, Superseded: true}, nil
	}
	res := Result{
		Accepted: true,
		Fetched:  len(page.Items),
		Inserted: len(ch.Inserted),
		Evicted:  len(ch.Evicted),
	}
	if ownErr != nil {
		// Keep the old cursor but stop paging with it.
		st.hasMore[dir] = false
		st.lastErr = ownErr.Error()
		res.CursorErr = ownErr
	} else {
		st.cursors[dir] = ownCursor
	}
	if oppEvicted {
		if oppErr != nil {
			st.hasMore[opp] = false
			st.lastErr = oppErr.Error()
			res.CursorErr = errors.Join(res.CursorErr, oppErr)
		} else {
			st.cursors[opp] = oppCursor
			// The evicted page is still remote, so the opposite direction
			// can page back into it.
			st.hasMore[opp] = true
		}
	}
	st.phase = Idle
	c.mu.Unlock()

	for _, cerr := range []error{ownErr, oppErr} {
		if cerr != nil {
			c.emitCursorUnresolved(ctx, scope, cerr)
		}
	}
	c.emitLoaded(ctx, scope, dir, len(page.Items))
	c.startFanout(scope, gen, page.Items, ch.Inserted)
	return res, nil
}

// regressed reports whether a re-resolved cursor points back into the window
// instead of at or past the boundary item it was derived from. Paging from
// such a cursor would fetch pages that are already cached.
func regressed(cur *model.Cursor, boundary model.FeedItem, dir model.Direction) bool {
	anchor := model.FeedItem{ID: cur.ID, Timestamp: cur.Timestamp}
	if dir == model.Forward {
		return anchor.Before(boundary)
	}
	return boundary.Before(anchor)
}

// current reports whether st is still the live state for scope at gen.
// Must be called with c.mu held.
func (c *Coordinator) current(scope string, st *scopeState, gen uint64) bool {
	live, ok := c.states[scope]
	return ok && live == st && st.generation == gen && c.active == scope
}

// Clear drops every window and all paging state, as on logout. Loads in
// flight are superseded and pending author writes are discarded.
func (c *Coordinator) Clear(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states = make(map[string]*scopeState)
	c.active = ""
	c.generation++
	c.window.ClearAll(ctx)
}

// Wait blocks until every background author lookup has finished.
func (c *Coordinator) Wait() {
	c.fanout.Wait()
}

// Close cancels outstanding author lookups and waits for them to exit.
func (c *Coordinator) Close() {
	c.cancelFanout()
	c.fanout.Wait()
}

// startFanout resolves authors for inserted items in the background. One
// goroutine runs per distinct owner.
func (c *Coordinator) startFanout(scope string, gen uint64, items []model.FeedItem, inserted []string) {
	if c.authors == nil || len(inserted) == 0 {
		return
	}
	want := make(map[string]struct{}, len(inserted))
	for _, id := range inserted {
		want[id] = struct{}{}
	}
	byOwner := make(map[string][]string)
	var owners []string
	for _, it := range items {
		if _, ok := want[it.ID]; !ok || it.OwnerID == "" {
			continue
		}
		if _, seen := byOwner[it.OwnerID]; !seen {
			owners = append(owners, it.OwnerID)
		}
		byOwner[it.OwnerID] = append(byOwner[it.OwnerID], it.ID)
	}
	for _, owner := range owners {
		c.fanout.Add(1)
		go c.fillAuthor(scope, gen, owner, byOwner[owner])
	}
}

func (c *Coordinator) fillAuthor(scope string, gen uint64, owner string, ids []string) {
	defer c.fanout.Done()
	ctx, cancel := context.WithTimeout(c.fanoutCtx, c.fanoutTimeout)
	defer cancel()

	snap, err := c.authors.GetOrFetch(ctx, owner)
	if err != nil {
		// Readers fall back to the unknown-author placeholder.
		c.logger.DebugContext(ctx, "author fan-out failed", "scope", scope, "owner", owner, "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[scope]
	if !ok || st.generation != gen || c.active != scope {
		return
	}
	c.window.SetAuthors(ctx, scope, ids, snap)
}

func (c *Coordinator) emitFailure(ctx context.Context, scope string, dir model.Direction, err error) {
	c.logger.WarnContext(ctx, "page load failed", "scope", scope, "direction", dir, "error", err)
	ev := events.New(events.KindFetchFailed, scope)
	ev.Direction = dir.String()
	ev.Message = err.Error()
	c.sink.Emit(ctx, ev)
}

func (c *Coordinator) emitCursorUnresolved(ctx context.Context, scope string, err error) {
	c.logger.WarnContext(ctx, "cursor unresolved", "scope", scope, "error", err)
	ev := events.New(events.KindCursorUnresolved, scope)
	var cre *model.CursorResolutionError
	if errors.As(err, &cre) {
		ev.Direction = cre.Direction.String()
	}
	ev.Message = err.Error()
	c.sink.Emit(ctx, ev)
}

func (c *Coordinator) emitLoaded(ctx context.Context, scope string, dir model.Direction, n int) {
	ev := events.New(events.KindPageLoaded, scope)
	ev.Direction = dir.String()
	ev.Count = n
	c.sink.Emit(ctx, ev)
}
