package model

import (
	"errors"
	"sort"
	"testing"
	"time"
)

func TestFeedItemBefore_OrdersNewestFirstThenID(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	items := []FeedItem{
		{ID: "b", Timestamp: base},
		{ID: "c", Timestamp: base.Add(time.Minute)},
		{ID: "a", Timestamp: base},
		{ID: "d", Timestamp: base.Add(-time.Minute)},
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Before(items[j]) })

	want := []string{"c", "a", "b", "d"}
	for i, it := range items {
		if it.ID != want[i] {
			t.Fatalf("position %d: got %q want %q (order %v)", i, it.ID, want[i], items)
		}
	}
}

func TestCursor_EncodeDecodeKeepsAnchor(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 123, time.UTC)
	c := CursorFor("ward-7", Backward, FeedItem{ID: "p1", Timestamp: ts})

	token := c.Encode()
	if token == "" {
		t.Fatalf("expected opaque token")
	}
	got, err := DecodeCursor(token)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Scope != "ward-7" || got.Direction != Backward || got.ID != "p1" || !got.Timestamp.Equal(ts) {
		t.Fatalf("unexpected cursor: %#v", got)
	}
	if !got.Valid("ward-7", Backward) {
		t.Fatalf("cursor must be valid for its own scope and direction")
	}
	if got.Valid("ward-8", Backward) || got.Valid("ward-7", Forward) {
		t.Fatalf("cursor must not be valid for another scope or direction")
	}
}

func TestDecodeCursor_EmptyMeansFirstPage(t *testing.T) {
	c, err := DecodeCursor("")
	if err != nil || c != nil {
		t.Fatalf("expected nil cursor and nil error, got %#v %v", c, err)
	}
}

func TestDecodeCursor_RejectsGarbage(t *testing.T) {
	for _, token := range []string{"%%%", "bm90LWpzb24", "e30"} {
		if _, err := DecodeCursor(token); !errors.Is(err, ErrInvalidCursor) {
			t.Fatalf("token %q: expected ErrInvalidCursor, got %v", token, err)
		}
	}
}

func TestParseDirection(t *testing.T) {
	tests := []struct {
		in   string
		want Direction
		ok   bool
	}{
		{"forward", Forward, true},
		{"older", Forward, true},
		{"backward", Backward, true},
		{"newer", Backward, true},
		{"sideways", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDirection(tt.in)
			if (err == nil) != tt.ok {
				t.Fatalf("ParseDirection(%q) err = %v", tt.in, err)
			}
			if tt.ok && got != tt.want {
				t.Fatalf("ParseDirection(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestDisplaySnapshot_CoversEveryState(t *testing.T) {
	loaded := AuthorLoaded{Snapshot: AuthorSnapshot{DisplayName: "Ada"}}
	if got := DisplaySnapshot(loaded); got.DisplayName != "Ada" {
		t.Fatalf("loaded: %#v", got)
	}
	if got := DisplaySnapshot(AuthorUnknown{}); got != UnknownAuthor {
		t.Fatalf("unknown: %#v", got)
	}
	if got := StateName(AuthorLoading{}); got != "loading" {
		t.Fatalf("loading name: %q", got)
	}
}

func TestFetchError_Unwraps(t *testing.T) {
	cause := errors.New("connection reset")
	err := error(&FetchError{Scope: "s", Direction: Forward, Err: cause})
	if !errors.Is(err, cause) {
		t.Fatalf("expected FetchError to unwrap to cause")
	}
	var fe *FetchError
	if !errors.As(err, &fe) || fe.Scope != "s" {
		t.Fatalf("expected errors.As to find FetchError")
	}
}
