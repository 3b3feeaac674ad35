// Package model defines shared data structures.
package model

import (
	"strings"
	"time"
)

// Default window geometry.
const (
	DefaultCapacity = 20
	DefaultPageSize = 10
)

// Counters holds the engagement counts carried on a feed item.
type Counters struct {
	Likes    int `json:"likes"`
	Comments int `json:"comments"`
}

// FeedItem is a single document fetched from the remote store.
// Items are immutable once fetched and unique by ID within a scope.
type FeedItem struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	ScopeKey  string    `json:"scope_key"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Counters  Counters  `json:"counters"`
	MediaRefs []string  `json:"media_refs,omitempty"`
}

// Before reports whether a sorts ahead of b in a window: newest first,
// ties broken by ID ascending.
func (a FeedItem) Before(b FeedItem) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.After(b.Timestamp)
	}
	return strings.Compare(a.ID, b.ID) < 0
}

// AuthorSnapshot is the denormalized display info for an item owner.
type AuthorSnapshot struct {
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
}

// UnknownAuthor is shown when an owner's display info could not be loaded.
var UnknownAuthor = AuthorSnapshot{DisplayName: "unknown author"}

// CachedFeedItem is a FeedItem held in the local window for one scope.
// Author is nil until the background lookup completes.
type CachedFeedItem struct {
	FeedItem
	Author *AuthorSnapshot `json:"author,omitempty"`
}

// IDs returns the item IDs in order.
func IDs(items []CachedFeedItem) []string {
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	return ids
}
