package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates a document or author does not exist.
	ErrNotFound = errors.New("not found")

	// ErrEmptyScope indicates an operation was called without a scope key.
	ErrEmptyScope = errors.New("scope key is empty")

	// ErrScopeSwitch indicates a scope change was attempted while a load is in flight.
	ErrScopeSwitch = errors.New("cannot switch scope while a load is in flight")

	// ErrInvalidCursor indicates a cursor token could not be decoded.
	ErrInvalidCursor = errors.New("invalid cursor")

	// ErrCursorMismatch indicates a cursor was used for another scope or direction.
	ErrCursorMismatch = errors.New("cursor does not match scope or direction")

	// ErrCursorMoved indicates a boundary item's stored position moved back
	// into the window, so a cursor derived from it would repeat pages.
	ErrCursorMoved = errors.New("boundary item moved behind the window edge")
)

// FetchError aborts a page load. It wraps the transport failure.
type FetchError struct {
	Scope     string
	Direction Direction
	Err       error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s page for %q: %v", e.Direction, e.Scope, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// DecodeError describes one remote document that could not be decoded.
// The document is dropped from its page.
type DecodeError struct {
	Scope string
	DocID string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode document %q in %q: %v", e.DocID, e.Scope, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// CursorResolutionError means a boundary item vanished before its cursor
// could be re-derived.
type CursorResolutionError struct {
	Scope     string
	Direction Direction
	ItemID    string
	Err       error
}

func (e *CursorResolutionError) Error() string {
	return fmt.Sprintf("resolve %s cursor for %q at item %q: %v", e.Direction, e.Scope, e.ItemID, e.Err)
}

func (e *CursorResolutionError) Unwrap() error { return e.Err }

// CacheWriteError is a failed commit to the local persistent store.
type CacheWriteError struct {
	Scope string
	Op    string
	Err   error
}

func (e *CacheWriteError) Error() string {
	return fmt.Sprintf("cache %s for %q: %v", e.Op, e.Scope, e.Err)
}

func (e *CacheWriteError) Unwrap() error { return e.Err }
