package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/bryan-buckman/feedwindow/internal/events"
	"github.com/bryan-buckman/feedwindow/internal/model"
)

// Page is one fetched page. Items are always newest first. Raw counts every
// document the store returned, including ones dropped for decode failures.
type Page struct {
	Items []model.FeedItem
	Raw   int
	Next  *model.Cursor
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the gateway logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithSink routes decode failures to an event sink.
func WithSink(sink events.Sink) Option {
	return func(g *Gateway) {
		if sink != nil {
			g.sink = sink
		}
	}
}

// Gateway issues cursor-based page queries against a DocumentStore.
type Gateway struct {
	store  DocumentStore
	logger *slog.Logger
	sink   events.Sink

	decodeFailures atomic.Int64
}

// NewGateway creates a gateway over store.
func NewGateway(store DocumentStore, opts ...Option) *Gateway {
	g := &Gateway{
		store:  store,
		logger: slog.Default(),
		sink:   events.Discard,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// DecodeFailures returns how many documents have been dropped so far.
func (g *Gateway) DecodeFailures() int64 {
	return g.decodeFailures.Load()
}

// FetchPage fetches the page following cursor in dir. A nil cursor fetches
// the first page. Forward pages query newest first; backward pages query
// oldest first and are reversed before returning, while Next still anchors
// on the newest item fetched.
func (g *Gateway) FetchPage(ctx context.Context, scope string, cursor *model.Cursor, dir model.Direction, pageSize int) (Page, error) {
	if scope == "" {
		return Page{}, model.ErrEmptyScope
	}
	if cursor != nil && !cursor.Valid(scope, dir) {
		return Page{}, fmt.Errorf("%w: have %s/%s, want %s/%s",
			model.ErrCursorMismatch, cursor.Scope, cursor.Direction, scope, dir)
	}

	q := Query{Scope: scope, Order: Desc, Limit: pageSize}
	if dir == model.Backward {
		q.Order = Asc
	}
	if cursor != nil {
		q.StartAfter = &Anchor{Timestamp: cursor.Timestamp, ID: cursor.ID}
	}

	docs, err := g.store.Query(ctx, q)
	if err != nil {
		return Page{}, &model.FetchError{Scope: scope, Direction: dir, Err: err}
	}

	items := make([]model.FeedItem, 0, len(docs))
	var dropped int
	for _, doc := range docs {
		item, err := decodeDocument(scope, doc)
		if err != nil {
			dropped++
			g.decodeFailures.Add(1)
			g.logger.DebugContext(ctx, "dropping undecodable document", "scope", scope, "id", doc.ID, "error", err)
			continue
		}
		items = append(items, item)
	}
	if dropped > 0 {
		ev := events.New(events.KindDecodeFailed, scope)
		ev.Direction = dir.String()
		ev.Count = dropped
		g.sink.Emit(ctx, ev)
	}

	page := Page{Items: items, Raw: len(docs)}
	if len(items) > 0 {
		// The last decoded item in query order is the extremal one in dir.
		page.Next = model.CursorFor(scope, dir, items[len(items)-1])
	}
	if dir == model.Backward {
		reverse(page.Items)
	}
	return page, nil
}

// ResolveCursor re-reads item from the store and derives a fresh cursor from
// the stored copy. Any lookup failure yields a *model.CursorResolutionError.
func (g *Gateway) ResolveCursor(ctx context.Context, scope string, item model.FeedItem, dir model.Direction) (*model.Cursor, error) {
	doc, err := g.store.Lookup(ctx, scope, item.ID)
	if err != nil {
		return nil, &model.CursorResolutionError{Scope: scope, Direction: dir, ItemID: item.ID, Err: err}
	}
	fresh, err := decodeDocument(scope, doc)
	if err != nil {
		return nil, &model.CursorResolutionError{Scope: scope, Direction: dir, ItemID: item.ID, Err: err}
	}
	return model.CursorFor(scope, dir, fresh), nil
}

var errMissingTimestamp = errors.New("missing timestamp")

func decodeDocument(scope string, doc Document) (model.FeedItem, error) {
	var item model.FeedItem
	if err := json.Unmarshal(doc.Data, &item); err != nil {
		return model.FeedItem{}, &model.DecodeError{Scope: scope, DocID: doc.ID, Err: err}
	}
	if item.ID == "" {
		item.ID = doc.ID
	}
	if item.ID != doc.ID {
		return model.FeedItem{}, &model.DecodeError{Scope: scope, DocID: doc.ID, Err: fmt.Errorf("payload id %q", item.ID)}
	}
	if item.ScopeKey == "" {
		item.ScopeKey = scope
	}
	if item.ScopeKey != scope {
		return model.FeedItem{}, &model.DecodeError{Scope: scope, DocID: doc.ID, Err: fmt.Errorf("payload scope %q", item.ScopeKey)}
	}
	if item.Timestamp.IsZero() {
		item.Timestamp = doc.Timestamp
	}
	if item.Timestamp.IsZero() {
		return model.FeedItem{}, &model.DecodeError{Scope: scope, DocID: doc.ID, Err: errMissingTimestamp}
	}
	return item, nil
}

// EncodeItem builds the stored document for item.
func EncodeItem(item model.FeedItem) (Document, error) {
	data, err := json.Marshal(item)
	if err != nil {
		return Document{}, fmt.Errorf("encode item %s: %w", item.ID, err)
	}
	return Document{ID: item.ID, Timestamp: item.Timestamp, Data: data}, nil
}

func reverse(items []model.FeedItem) {
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
}
