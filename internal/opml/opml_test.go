package opml

import (
	"bytes"
	"strings"
	"testing"
)

const sample = `<?xml version="1.0" encoding="UTF-8"?>
<opml version="2.0">
  <head><title>subs</title></head>
  <body>
    <outline text="Tech News">
      <outline text="Ars" xmlUrl="https://arstechnica.com/feed/"/>
      <outline text="Google">
        <outline title="Go Blog" text="go" xmlUrl="https://go.dev/blog/feed.atom"/>
      </outline>
    </outline>
    <outline text="Loose" xmlUrl="https://example.com/rss"/>
  </body>
</opml>`

func TestParseFlattensFolders(t *testing.T) {
	entries, err := Parse(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 feeds, got %d", len(entries))
	}

	byURL := make(map[string]FeedEntry)
	for _, e := range entries {
		byURL[e.URL] = e
	}
	goBlog := byURL["https://go.dev/blog/feed.atom"]
	if goBlog.Title != "Go Blog" || strings.Join(goBlog.FolderPath, "/") != "Tech News/Google" {
		t.Errorf("nested feed parsed wrong: %+v", goBlog)
	}
	if goBlog.Scope() != "tech-news" {
		t.Errorf("nested feeds use the top-level folder scope, got %q", goBlog.Scope())
	}
	if loose := byURL["https://example.com/rss"]; loose.Scope() != DefaultScope {
		t.Errorf("folderless feed scope = %q", loose.Scope())
	}
}

func TestScopeKey(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Tech", "tech"},
		{"  World / Politics ", "world-politics"},
		{"C++ & Go!", "c-go"},
		{"日本", "日本"},
		{"---", DefaultScope},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ScopeKey(tt.in); got != tt.want {
				t.Errorf("ScopeKey(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestExportParsesBack(t *testing.T) {
	in := []FeedEntry{
		{FolderPath: []string{"Tech"}, Title: "B", URL: "https://b.example/feed"},
		{FolderPath: []string{"Tech"}, Title: "A", URL: "https://a.example/feed"},
		{Title: "Root", URL: "https://root.example/feed"},
	}
	data, err := Export("feedwindow", in)
	if err != nil {
		t.Fatalf("Export() error: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("<?xml")) {
		t.Fatalf("missing xml header")
	}

	out, err := Parse(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Parse(Export()) error: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(out))
	}
	if out[0].URL != "https://root.example/feed" || out[1].URL != "https://a.example/feed" {
		t.Errorf("export order not stable: %+v", out)
	}
	if out[1].Scope() != "tech" {
		t.Errorf("folder lost on round trip: %+v", out[1])
	}
}
