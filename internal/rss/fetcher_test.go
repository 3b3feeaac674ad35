package rss

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/bryan-buckman/feedwindow/internal/model"
	"github.com/bryan-buckman/feedwindow/internal/opml"
	"github.com/bryan-buckman/feedwindow/internal/remote"
)

const sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Example Blog</title>
    <link>https://blog.example</link>
    <image><url>https://blog.example/logo.png</url><title>Example</title><link>https://blog.example</link></image>
    <item>
      <title>Newest post</title>
      <guid>post-3</guid>
      <pubDate>Mon, 03 Jun 2024 10:00:00 +0000</pubDate>
      <enclosure url="https://blog.example/3.mp3" length="10" type="audio/mpeg"/>
    </item>
    <item>
      <title>Middle post</title>
      <link>https://blog.example/2</link>
      <pubDate>Sun, 02 Jun 2024 10:00:00 +0000</pubDate>
    </item>
    <item>
      <description>No title, no link, no guid</description>
    </item>
  </channel>
</rss>`

func serveRSS(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, sampleRSS)
	}))
	t.Cleanup(srv.Close)
	return srv
}

type authorLog struct {
	mu    sync.Mutex
	snaps map[string]model.AuthorSnapshot
}

func (a *authorLog) Put(_ context.Context, owner string, snap model.AuthorSnapshot) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.snaps == nil {
		a.snaps = make(map[string]model.AuthorSnapshot)
	}
	a.snaps[owner] = snap
	return nil
}

func TestToFeedItem(t *testing.T) {
	now := time.Date(2024, 6, 5, 0, 0, 0, 0, time.UTC)
	pub := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		item   *gofeed.Item
		wantOK bool
		check  func(t *testing.T, it model.FeedItem)
	}{
		{
			name:   "guid wins",
			item:   &gofeed.Item{GUID: "g1", Link: "https://x/1", Title: " Hello ", PublishedParsed: &pub},
			wantOK: true,
			check: func(t *testing.T, it model.FeedItem) {
				if it.ID != "g1" || it.Text != "Hello" || !it.Timestamp.Equal(pub) {
					t.Errorf("unexpected item %+v", it)
				}
			},
		},
		{
			name:   "link hashed when guid missing",
			item:   &gofeed.Item{Link: "https://x/2", Description: "body"},
			wantOK: true,
			check: func(t *testing.T, it model.FeedItem) {
				again, _ := ToFeedItem("s", "o", &gofeed.Item{Link: "https://x/2"}, now)
				if it.ID == "" || it.ID != again.ID {
					t.Errorf("link ids must be stable: %q vs %q", it.ID, again.ID)
				}
				if it.Text != "body" || !it.Timestamp.Equal(now) {
					t.Errorf("fallbacks not applied: %+v", it)
				}
			},
		},
		{
			name:   "no identity",
			item:   &gofeed.Item{Title: "orphan"},
			wantOK: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			it, ok := ToFeedItem("s", "o", tt.item, now)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if tt.check != nil {
				if it.ScopeKey != "s" || it.OwnerID != "o" {
					t.Errorf("scope/owner not set: %+v", it)
				}
				tt.check(t, it)
			}
		})
	}
}

func TestSeedFeedStoresItemsUnderFolderScope(t *testing.T) {
	srv := serveRSS(t)
	docs := remote.NewMemoryDocuments()
	authors := &authorLog{}
	s := NewSeeder(docs, WithAuthors(authors), WithDomainDelay(0))
	feed := opml.FeedEntry{FolderPath: []string{"Tech"}, Title: "Blog", URL: srv.URL + "/feed"}

	n, err := s.SeedFeed(context.Background(), feed)
	if err != nil {
		t.Fatalf("SeedFeed() error: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 items written, got %d", n)
	}

	page, err := remote.NewGateway(docs).FetchPage(context.Background(), "tech", nil, model.Forward, 10)
	if err != nil {
		t.Fatalf("FetchPage() error: %v", err)
	}
	if len(page.Items) != 2 || page.Items[0].ID != "post-3" {
		t.Fatalf("unexpected page %+v", page.Items)
	}
	found := false
	for _, ref := range page.Items[0].MediaRefs {
		found = found || ref == "https://blog.example/3.mp3"
	}
	if !found {
		t.Errorf("enclosure should become a media ref: %+v", page.Items[0].MediaRefs)
	}

	snap, ok := authors.snaps[OwnerID(feed.URL)]
	if !ok || snap.DisplayName != "Example Blog" || snap.AvatarURL != "https://blog.example/logo.png" {
		t.Errorf("feed author not recorded: %+v", authors.snaps)
	}
}

const undatedRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Undated</title>
    <item><title>Whenever</title><link>https://undated.example/1</link></item>
  </channel>
</rss>`

func TestReseedingKeepsFirstSeenTimestamp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, undatedRSS)
	}))
	t.Cleanup(srv.Close)

	docs := remote.NewMemoryDocuments()
	s := NewSeeder(docs, WithDomainDelay(0))
	feed := opml.FeedEntry{Title: "Undated", URL: srv.URL}
	gw := remote.NewGateway(docs)
	ctx := context.Background()

	stamp := func() time.Time {
		t.Helper()
		if _, err := s.SeedFeed(ctx, feed); err != nil {
			t.Fatalf("SeedFeed() error: %v", err)
		}
		page, err := gw.FetchPage(ctx, feed.Scope(), nil, model.Forward, 10)
		if err != nil || len(page.Items) != 1 {
			t.Fatalf("expected one stored item: %+v %v", page.Items, err)
		}
		return page.Items[0].Timestamp
	}
	first := stamp()
	time.Sleep(5 * time.Millisecond)
	if second := stamp(); !second.Equal(first) {
		t.Fatalf("re-seeding moved a stored item from %s to %s", first, second)
	}
}

func TestSeedAllSkipsBrokenFeeds(t *testing.T) {
	srv := serveRSS(t)
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	t.Cleanup(broken.Close)

	s := NewSeeder(remote.NewMemoryDocuments(), WithWorkers(2), WithDomainDelay(0))
	added := s.AddFeeds(
		opml.FeedEntry{Title: "ok", URL: srv.URL + "/a"},
		opml.FeedEntry{Title: "bad", URL: broken.URL + "/b"},
		opml.FeedEntry{Title: "dup", URL: srv.URL + "/a"},
	)
	if added != 2 {
		t.Fatalf("duplicates must be ignored, added %d", added)
	}

	results, err := s.SeedAll(context.Background())
	if err != nil {
		t.Fatalf("SeedAll() error: %v", err)
	}
	if len(results) != 1 || results[srv.URL+"/a"] != 2 {
		t.Fatalf("unexpected results %v", results)
	}
}

func TestMaxPerFeed(t *testing.T) {
	srv := serveRSS(t)
	s := NewSeeder(remote.NewMemoryDocuments(), WithMaxPerFeed(1), WithDomainDelay(0))
	n, err := s.SeedFeed(context.Background(), opml.FeedEntry{URL: srv.URL})
	if err != nil || n != 1 {
		t.Fatalf("expected a single item, got %d %v", n, err)
	}
}

func TestDomainLimiterCancel(t *testing.T) {
	dl := newDomainLimiter(time.Hour)
	ctx := context.Background()
	if err := dl.acquire(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	dl.release("a")

	ctx, cancel := context.WithCancel(ctx)
	cancel()
	if err := dl.acquire(ctx, "a"); err == nil {
		t.Fatal("expected cancellation while waiting out the domain delay")
	}
	dl.mu.Lock()
	defer dl.mu.Unlock()
	if len(dl.semaphores["a"]) != 0 {
		t.Fatal("cancelled acquire must give its slot back")
	}
}
