// Package database provides the local persistent store for cached feed windows.
package database

import (
	"context"

	"github.com/bryan-buckman/feedwindow/internal/model"
)

// Predicate selects cached items. An empty Scope matches every scope; an
// empty IDs list matches every item in the selected scopes.
type Predicate struct {
	Scope string
	IDs   []string
}

// Sort orders fetched items by timestamp.
type Sort int

const (
	NewestFirst Sort = iota
	OldestFirst
)

// Store defines the local persistence contract. Insert and Delete are
// buffered; Save applies everything pending in one transaction, so callers
// see either all of a batch or none of it.
type Store interface {
	Close() error

	// Insert stages an upsert keyed by (scope, id).
	Insert(item model.CachedFeedItem)

	// Delete stages removal of every item matching p.
	Delete(p Predicate)

	// Fetch reads committed items. limit <= 0 means no limit.
	Fetch(ctx context.Context, p Predicate, sort Sort, limit int) ([]model.CachedFeedItem, error)

	// Save commits staged operations. Staged operations are dropped on
	// failure.
	Save(ctx context.Context) error

	// Scopes lists every scope with at least one committed item.
	Scopes(ctx context.Context) ([]string, error)
}
