package model

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// Direction selects which end of the feed a page extends.
type Direction int

const (
	// Forward pages toward older items.
	Forward Direction = iota
	// Backward pages toward newer items.
	Backward
)

func (d Direction) String() string {
	switch d {
	case Forward:
		return "forward"
	case Backward:
		return "backward"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// Opposite returns the other direction.
func (d Direction) Opposite() Direction {
	if d == Forward {
		return Backward
	}
	return Forward
}

// ParseDirection accepts "forward"/"older" and "backward"/"newer".
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "forward", "older":
		return Forward, nil
	case "backward", "newer":
		return Backward, nil
	}
	return 0, fmt.Errorf("unknown direction %q", s)
}

// Cursor anchors the next page fetch on one boundary item. It is only valid
// for the scope and direction it was derived from.
type Cursor struct {
	Scope     string    `json:"s"`
	Direction Direction `json:"d"`
	Timestamp time.Time `json:"t"`
	ID        string    `json:"i"`
}

// CursorFor derives a cursor anchored on item.
func CursorFor(scope string, dir Direction, item FeedItem) *Cursor {
	return &Cursor{Scope: scope, Direction: dir, Timestamp: item.Timestamp, ID: item.ID}
}

// Valid reports whether c may be used to page scope in dir.
func (c *Cursor) Valid(scope string, dir Direction) bool {
	return c != nil && c.Scope == scope && c.Direction == dir
}

// Encode returns the opaque token form of c.
func (c *Cursor) Encode() string {
	if c == nil {
		return ""
	}
	data, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(data)
}

// DecodeCursor parses a token produced by Encode. An empty token yields a nil
// cursor, which means "first page".
func DecodeCursor(token string) (*Cursor, error) {
	if token == "" {
		return nil, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if c.Scope == "" || c.ID == "" {
		return nil, ErrInvalidCursor
	}
	return &c, nil
}
