// Package opml imports and exports the feed list used to seed scopes.
//
// Each top-level folder of an OPML outline becomes one scope key; feeds
// outside any folder land in DefaultScope.
package opml

import (
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
	"unicode"
)

// DefaultScope holds feeds that are not inside a folder.
const DefaultScope = "default"

// OPML represents the root of an OPML document.
type OPML struct {
	XMLName xml.Name `xml:"opml"`
	Version string   `xml:"version,attr"`
	Head    Head     `xml:"head"`
	Body    Body     `xml:"body"`
}

// Head contains OPML metadata.
type Head struct {
	Title       string `xml:"title,omitempty"`
	DateCreated string `xml:"dateCreated,omitempty"`
}

// Body contains the outlines.
type Body struct {
	Outlines []Outline `xml:"outline"`
}

// Outline represents a single outline element (folder or feed).
type Outline struct {
	Text     string    `xml:"text,attr"`
	Title    string    `xml:"title,attr,omitempty"`
	Type     string    `xml:"type,attr,omitempty"`
	XMLURL   string    `xml:"xmlUrl,attr,omitempty"`
	HTMLURL  string    `xml:"htmlUrl,attr,omitempty"`
	Outlines []Outline `xml:"outline,omitempty"`
}

// FeedEntry is a flattened feed with its folder path.
type FeedEntry struct {
	FolderPath []string `json:"folder_path,omitempty"` // e.g., ["Tech", "Google"]
	Title      string   `json:"title"`
	URL        string   `json:"url"`
}

// Scope returns the scope key the entry's items are stored under.
func (e FeedEntry) Scope() string {
	if len(e.FolderPath) == 0 {
		return DefaultScope
	}
	return ScopeKey(e.FolderPath[0])
}

// ScopeKey normalizes a folder name into a scope key: lower case, with runs
// of anything other than letters and digits collapsed to a single dash.
func ScopeKey(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	key := strings.TrimSuffix(b.String(), "-")
	if key == "" {
		return DefaultScope
	}
	return key
}

// Parse reads an OPML document and returns a flat list of FeedEntry.
func Parse(r io.Reader) ([]FeedEntry, error) {
	var doc OPML
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode opml: %w", err)
	}
	var entries []FeedEntry
	var walk func(outlines []Outline, path []string)
	walk = func(outlines []Outline, path []string) {
		for _, o := range outlines {
			if o.XMLURL != "" {
				title := o.Title
				if title == "" {
					title = o.Text
				}
				entries = append(entries, FeedEntry{
					FolderPath: append([]string{}, path...),
					Title:      title,
					URL:        o.XMLURL,
				})
			} else if len(o.Outlines) > 0 {
				name := o.Text
				if name == "" {
					name = o.Title
				}
				walk(o.Outlines, append(path, name))
			}
		}
	}
	walk(doc.Body.Outlines, nil)
	return entries, nil
}

// Export writes entries as an OPML document with one folder per top-level
// folder name. Folders and feeds are sorted so output is stable.
func Export(title string, entries []FeedEntry) ([]byte, error) {
	doc := OPML{
		Version: "2.0",
		Head: Head{
			Title:       title,
			DateCreated: time.Now().Format(time.RFC1123Z),
		},
	}

	sorted := append([]FeedEntry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].URL < sorted[j].URL
	})

	folders := make(map[string]*Outline)
	var names []string
	var root []Outline
	for _, e := range sorted {
		feed := Outline{Text: e.Title, Title: e.Title, Type: "rss", XMLURL: e.URL}
		if len(e.FolderPath) == 0 {
			root = append(root, feed)
			continue
		}
		name := e.FolderPath[0]
		fo, ok := folders[name]
		if !ok {
			fo = &Outline{Text: name, Title: name}
			folders[name] = fo
			names = append(names, name)
		}
		fo.Outlines = append(fo.Outlines, feed)
	}
	sort.Strings(names)
	for _, name := range names {
		root = append(root, *folders[name])
	}
	doc.Body.Outlines = root

	output, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), output...), nil
}
