// Package events publishes cache lifecycle events to observability sinks.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind names an event type.
type Kind string

const (
	KindPageLoaded       Kind = "page_loaded"
	KindFetchFailed      Kind = "fetch_failed"
	KindDecodeFailed     Kind = "decode_failed"
	KindCacheWriteFailed Kind = "cache_write_failed"
	KindCursorUnresolved Kind = "cursor_unresolved"
)

// Event is a single observable occurrence.
type Event struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Scope     string    `json:"scope"`
	Direction string    `json:"direction,omitempty"`
	Message   string    `json:"message,omitempty"`
	Count     int       `json:"count,omitempty"`
	At        time.Time `json:"at"`
}

// New stamps an event with an ID and time.
func New(kind Kind, scope string) Event {
	return Event{
		ID:    uuid.NewString(),
		Kind:  kind,
		Scope: scope,
		At:    time.Now().UTC(),
	}
}

// Sink receives events. Implementations must not block the caller for long
// and must be safe for concurrent use.
type Sink interface {
	Emit(ctx context.Context, ev Event)
}

// Discard drops every event.
var Discard Sink = discard{}

type discard struct{}

func (discard) Emit(context.Context, Event) {}

// LogSink writes events to a structured logger. Failures log at warn level.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Emit(ctx context.Context, ev Event) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	level := slog.LevelDebug
	if ev.Kind != KindPageLoaded {
		level = slog.LevelWarn
	}
	logger.Log(ctx, level, "feed event",
		"kind", ev.Kind,
		"scope", ev.Scope,
		"direction", ev.Direction,
		"count", ev.Count,
		"message", ev.Message,
	)
}

// Multi fans one event out to several sinks.
type Multi []Sink

func (m Multi) Emit(ctx context.Context, ev Event) {
	for _, s := range m {
		s.Emit(ctx, ev)
	}
}

// Recorder keeps emitted events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(_ context.Context, ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Count returns how many events of kind were recorded.
func (r *Recorder) Count(kind Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}
