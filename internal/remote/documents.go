// Package remote pages scoped feed documents out of the remote store.
package remote

import (
	"context"
	"time"
)

// Order is the timestamp ordering of a query.
type Order int

const (
	// Desc returns newest first; ties by id ascending.
	Desc Order = iota
	// Asc returns oldest first; ties by id descending.
	Asc
)

func (o Order) String() string {
	if o == Asc {
		return "asc"
	}
	return "desc"
}

// Anchor is the position a query resumes after.
type Anchor struct {
	Timestamp time.Time
	ID        string
}

// Query selects one page of documents in a scope.
type Query struct {
	Scope      string
	Order      Order
	Limit      int
	StartAfter *Anchor
}

// Document is a raw stored document. Data holds the JSON-encoded item.
type Document struct {
	ID        string
	Timestamp time.Time
	Data      []byte
}

// DocumentStore is the remote store query contract.
type DocumentStore interface {
	// Query returns at most q.Limit documents ordered by q.Order, strictly
	// after q.StartAfter when it is set.
	Query(ctx context.Context, q Query) ([]Document, error)

	// Lookup fetches one document; it returns model.ErrNotFound when the
	// document does not exist.
	Lookup(ctx context.Context, scope, id string) (Document, error)

	// Put stores a document if its id is not already present in scope.
	Put(ctx context.Context, scope string, doc Document) error
}

// after reports whether d sorts strictly after a in order o.
func after(d Document, a Anchor, o Order) bool {
	if !d.Timestamp.Equal(a.Timestamp) {
		if o == Desc {
			return d.Timestamp.Before(a.Timestamp)
		}
		return d.Timestamp.After(a.Timestamp)
	}
	if o == Desc {
		return d.ID > a.ID
	}
	return d.ID < a.ID
}
