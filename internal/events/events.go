// Package events defines the structured observability events emitted by the
// retrieval core: cache hits and misses, retrievals, and recorded errors.
// Events are delivered synchronously to an Emitter; emission must never fail
// in a way that affects retrieval correctness, so Emit returns nothing.
package events

import (
	"context"
	"log/slog"
)

// Type identifies the kind of event.
type Type string

// Event types emitted by the retrieval core.
const (
	// TypeCacheHit is emitted when a document's embeddings were already
	// resident. Value carries "source": "memory" or "store".
	TypeCacheHit Type = "cache_hit"
	// TypeCacheMiss is emitted when a document's embeddings had to be
	// generated.
	TypeCacheMiss Type = "cache_miss"
	// TypeRetrieval is emitted once per retrieval request. Value carries the
	// mode, result count, and latency.
	TypeRetrieval Type = "retrieval"
	// TypeError is emitted for recorded, non-fatal failures such as a single
	// document failing to embed during a batch.
	TypeError Type = "error"
)

// Event is a single structured observability record.
type Event struct {
	// Type is the event kind.
	Type Type
	// SessionID is the conversation session involved, if any.
	SessionID string
	// DocumentID is the document involved, if any.
	DocumentID string
	// Value holds event-specific attributes.
	Value map[string]any
}

// Emitter receives events. Implementations must not block retrieval and must
// swallow their own failures.
type Emitter interface {
	Emit(ev Event)
}

// LogEmitter writes events to a structured logger at DEBUG level (INFO for
// errors). It is the default emitter when no external collector is wired in.
type LogEmitter struct {
	log *slog.Logger
}

// NewLogEmitter constructs a LogEmitter. A nil logger falls back to
// slog.Default.
func NewLogEmitter(log *slog.Logger) *LogEmitter {
	if log == nil {
		log = slog.Default()
	}
	return &LogEmitter{log: log}
}

// Emit writes the event as a structured log record.
func (e *LogEmitter) Emit(ev Event) {
	attrs := make([]slog.Attr, 0, 3+len(ev.Value))
	attrs = append(attrs, slog.String("type", string(ev.Type)))
	if ev.SessionID != "" {
		attrs = append(attrs, slog.String("session_id", ev.SessionID))
	}
	if ev.DocumentID != "" {
		attrs = append(attrs, slog.String("document_id", ev.DocumentID))
	}
	for k, v := range ev.Value {
		attrs = append(attrs, slog.Any(k, v))
	}

	level := slog.LevelDebug
	if ev.Type == TypeError {
		level = slog.LevelInfo
	}
	e.log.LogAttrs(context.Background(), level, "event", attrs...)
}

// Nop is an Emitter that discards all events.
type Nop struct{}

// Emit discards the event.
func (Nop) Emit(Event) {}
