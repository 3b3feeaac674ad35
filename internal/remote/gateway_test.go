package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bryan-buckman/feedwindow/internal/events"
	"github.com/bryan-buckman/feedwindow/internal/model"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

// seed stores n items in scope; item i is i minutes newer than t0, so the
// highest index is the newest.
func seed(t *testing.T, store *MemoryDocuments, scope string, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		item := model.FeedItem{
			ID:        fmt.Sprintf("%s-%02d", scope, i),
			OwnerID:   fmt.Sprintf("owner-%d", i%3),
			ScopeKey:  scope,
			Text:      fmt.Sprintf("post %d", i),
			Timestamp: t0.Add(time.Duration(i) * time.Minute),
		}
		if err := store.PutItems(context.Background(), item); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

func ids(items []model.FeedItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func TestFetchPage_ForwardWalksOlder(t *testing.T) {
	store := NewMemoryDocuments()
	seed(t, store, "s", 25)
	g := NewGateway(store)
	ctx := context.Background()

	first, err := g.FetchPage(ctx, "s", nil, model.Forward, 10)
	if err != nil {
		t.Fatalf("first page: %v", err)
	}
	if got := ids(first.Items); got[0] != "s-25" || got[9] != "s-16" {
		t.Fatalf("first page must be the 10 newest, got %v", got)
	}
	if first.Next == nil || first.Next.ID != "s-16" || first.Next.Direction != model.Forward {
		t.Fatalf("next cursor must anchor on the oldest item: %#v", first.Next)
	}

	second, _ := g.FetchPage(ctx, "s", first.Next, model.Forward, 10)
	third, _ := g.FetchPage(ctx, "s", second.Next, model.Forward, 10)
	if got := ids(second.Items); got[0] != "s-15" || got[9] != "s-06" {
		t.Fatalf("second page: %v", got)
	}
	if len(third.Items) != 5 || third.Raw != 5 {
		t.Fatalf("third page must be short: %v", ids(third.Items))
	}
}

func TestFetchPage_BackwardReturnsNewestFirstAndAnchorsOnNewest(t *testing.T) {
	store := NewMemoryDocuments()
	seed(t, store, "s", 30)
	g := NewGateway(store)
	cur := model.CursorFor("s", model.Backward, model.FeedItem{ID: "s-10", Timestamp: t0.Add(10 * time.Minute)})

	page, err := g.FetchPage(context.Background(), "s", cur, model.Backward, 5)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	want := []string{"s-15", "s-14", "s-13", "s-12", "s-11"}
	if got := ids(page.Items); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("got %v want %v", got, want)
	}
	if page.Next.ID != "s-15" || page.Next.Direction != model.Backward {
		t.Fatalf("backward cursor must anchor on the newest fetched item: %#v", page.Next)
	}
}

func TestFetchPage_TiesBreakByID(t *testing.T) {
	store := NewMemoryDocuments()
	ctx := context.Background()
	for _, id := range []string{"c", "a", "b", "d"} {
		_ = store.PutItems(ctx, model.FeedItem{ID: id, ScopeKey: "s", Timestamp: t0})
	}
	g := NewGateway(store)

	p1, _ := g.FetchPage(ctx, "s", nil, model.Forward, 2)
	p2, _ := g.FetchPage(ctx, "s", p1.Next, model.Forward, 2)
	got := append(ids(p1.Items), ids(p2.Items)...)
	if strings.Join(got, "") != "abcd" {
		t.Fatalf("equal timestamps must page by id without loss or repeat, got %v", got)
	}

	back := model.CursorFor("s", model.Backward, model.FeedItem{ID: "d", Timestamp: t0})
	p3, _ := g.FetchPage(ctx, "s", back, model.Backward, 2)
	if strings.Join(ids(p3.Items), "") != "bc" {
		t.Fatalf("backward from d must yield b,c newest-first order, got %v", ids(p3.Items))
	}
}

func TestFetchPage_DropsUndecodableDocuments(t *testing.T) {
	store := NewMemoryDocuments()
	seed(t, store, "s", 3)
	ctx := context.Background()
	_ = store.Put(ctx, "s", Document{ID: "bad-json", Timestamp: t0.Add(time.Hour), Data: []byte("{not json")})
	_ = store.Put(ctx, "s", Document{ID: "wrong-scope", Timestamp: t0.Add(2 * time.Hour), Data: []byte(`{"id":"wrong-scope","scope_key":"other","timestamp":"2024-03-01T11:00:00Z"}`)})
	rec := &events.Recorder{}
	g := NewGateway(store, WithSink(rec))

	page, err := g.FetchPage(ctx, "s", nil, model.Forward, 10)
	if err != nil {
		t.Fatalf("decode failures must not fail the page: %v", err)
	}
	if len(page.Items) != 3 || page.Raw != 5 {
		t.Fatalf("expected 3 items out of 5 raw, got %d/%d", len(page.Items), page.Raw)
	}
	if g.DecodeFailures() != 2 {
		t.Fatalf("expected 2 counted failures, got %d", g.DecodeFailures())
	}
	if rec.Count(events.KindDecodeFailed) != 1 {
		t.Fatalf("expected one decode event per page")
	}
}

func TestFetchPage_TransportFailureIsFetchError(t *testing.T) {
	store := NewMemoryDocuments()
	store.FailQueries(errors.New("connection refused"))
	g := NewGateway(store)

	_, err := g.FetchPage(context.Background(), "s", nil, model.Forward, 10)
	var fe *model.FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FetchError, got %v", err)
	}
	if fe.Scope != "s" || !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestFetchPage_RejectsForeignCursor(t *testing.T) {
	g := NewGateway(NewMemoryDocuments())
	cur := &model.Cursor{Scope: "a", Direction: model.Forward, ID: "x", Timestamp: t0}

	if _, err := g.FetchPage(context.Background(), "b", cur, model.Forward, 10); !errors.Is(err, model.ErrCursorMismatch) {
		t.Fatalf("cursor from another scope: %v", err)
	}
	if _, err := g.FetchPage(context.Background(), "a", cur, model.Backward, 10); !errors.Is(err, model.ErrCursorMismatch) {
		t.Fatalf("cursor from another direction: %v", err)
	}
	if _, err := g.FetchPage(context.Background(), "", nil, model.Forward, 10); !errors.Is(err, model.ErrEmptyScope) {
		t.Fatalf("empty scope: %v", err)
	}
}

func TestResolveCursor(t *testing.T) {
	store := NewMemoryDocuments()
	seed(t, store, "s", 3)
	g := NewGateway(store)
	ctx := context.Background()

	cur, err := g.ResolveCursor(ctx, "s", model.FeedItem{ID: "s-02"}, model.Forward)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cur.ID != "s-02" || !cur.Timestamp.Equal(t0.Add(2*time.Minute)) {
		t.Fatalf("cursor must carry the stored timestamp: %#v", cur)
	}

	store.Remove("s", "s-02")
	_, err = g.ResolveCursor(ctx, "s", model.FeedItem{ID: "s-02"}, model.Forward)
	var cre *model.CursorResolutionError
	if !errors.As(err, &cre) || !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected CursorResolutionError wrapping ErrNotFound, got %v", err)
	}
}

func TestBuildQuery(t *testing.T) {
	anchor := &Anchor{Timestamp: t0, ID: "x"}
	tests := []struct {
		name    string
		q       Query
		want    string
		numArgs int
	}{
		{
			name:    "first desc page",
			q:       Query{Scope: "s", Order: Desc, Limit: 10},
			want:    "SELECT id, ts, payload FROM feed_documents WHERE scope = $1 ORDER BY ts DESC, id ASC LIMIT $2",
			numArgs: 2,
		},
		{
			name:    "desc after anchor",
			q:       Query{Scope: "s", Order: Desc, Limit: 10, StartAfter: anchor},
			want:    "SELECT id, ts, payload FROM feed_documents WHERE scope = $1 AND (ts < $2 OR (ts = $2 AND id > $3)) ORDER BY ts DESC, id ASC LIMIT $4",
			numArgs: 4,
		},
		{
			name:    "asc after anchor without limit",
			q:       Query{Scope: "s", Order: Asc, StartAfter: anchor},
			want:    "SELECT id, ts, payload FROM feed_documents WHERE scope = $1 AND (ts > $2 OR (ts = $2 AND id < $3)) ORDER BY ts ASC, id DESC",
			numArgs: 3,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, args := buildQuery(tt.q)
			if got != tt.want {
				t.Fatalf("query:\n got %s\nwant %s", got, tt.want)
			}
			if len(args) != tt.numArgs {
				t.Fatalf("args: got %d want %d", len(args), tt.numArgs)
			}
		})
	}
}

func TestMemoryPutKeepsFirstCopy(t *testing.T) {
	store := NewMemoryDocuments()
	ctx := context.Background()
	orig := model.FeedItem{ID: "x", ScopeKey: "s", Text: "first", Timestamp: t0}
	again := orig
	again.Text = "second"
	again.Timestamp = t0.Add(time.Hour)
	if err := store.PutItems(ctx, orig, again); err != nil {
		t.Fatalf("put: %v", err)
	}

	cur, err := NewGateway(store).ResolveCursor(ctx, "s", orig, model.Forward)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !cur.Timestamp.Equal(t0) {
		t.Fatalf("stored timestamp changed to %s", cur.Timestamp)
	}
	docs, _ := store.Query(ctx, Query{Scope: "s", Order: Desc})
	if len(docs) != 1 || !strings.Contains(string(docs[0].Data), "first") {
		t.Fatalf("expected the first copy only, got %d docs", len(docs))
	}
}
