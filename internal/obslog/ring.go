// Package obslog provides structured logging with a bounded live-tail
// buffer and coalescing of repeated identical failures.
package obslog

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Entry is one captured log record.
type Entry struct {
	Time      time.Time              `json:"time"`
	Level     string                 `json:"level"`
	Message   string                 `json:"msg"`
	Component string                 `json:"component,omitempty"`
	Attrs     map[string]interface{} `json:"attrs,omitempty"`
}

// RingBuffer stores the most recent log entries and fans them out to
// live subscribers (e.g. a websocket tail endpoint).
type RingBuffer struct {
	entries []Entry
	size    int
	head    int
	count   int
	mu      sync.RWMutex

	subscribers map[chan Entry]bool
	subMu       sync.RWMutex
}

// NewRingBuffer creates a ring buffer holding at most size entries.
func NewRingBuffer(size int) *RingBuffer {
	return &RingBuffer{
		entries:     make([]Entry, size),
		size:        size,
		subscribers: make(map[chan Entry]bool),
	}
}

// Add appends an entry, overwriting the oldest once full, and notifies
// subscribers.
func (rb *RingBuffer) Add(entry Entry) {
	rb.mu.Lock()
	rb.entries[rb.head] = entry
	rb.head = (rb.head + 1) % rb.size
	if rb.count < rb.size {
		rb.count++
	}
	rb.mu.Unlock()

	rb.subMu.RLock()
	for ch := range rb.subscribers {
		select {
		case ch <- entry:
		default:
		}
	}
	rb.subMu.RUnlock()
}

// GetRecent returns up to n of the most recently added entries, oldest first.
func (rb *RingBuffer) GetRecent(n int) []Entry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n > rb.count {
		n = rb.count
	}

	result := make([]Entry, n)
	start := (rb.head - n + rb.size) % rb.size
	for i := 0; i < n; i++ {
		result[i] = rb.entries[(start+i)%rb.size]
	}
	return result
}

// Subscribe returns a channel that receives entries as they are added.
func (rb *RingBuffer) Subscribe() chan Entry {
	ch := make(chan Entry, 100)
	rb.subMu.Lock()
	rb.subscribers[ch] = true
	rb.subMu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscription channel.
func (rb *RingBuffer) Unsubscribe(ch chan Entry) {
	rb.subMu.Lock()
	delete(rb.subscribers, ch)
	rb.subMu.Unlock()
	close(ch)
}

// Handler is an slog.Handler that captures records into a RingBuffer,
// coalescing repeated identical failures, and forwards every record the
// coalescer does not suppress to a fallback JSON handler.
type Handler struct {
	buffer   *RingBuffer
	coalescer *Coalescer
	fallback slog.Handler
	level    slog.Level
	attrs    []slog.Attr
	groups   []string
}

// NewHandler builds a Handler writing JSON to fallback at level, capturing
// into buffer, and coalescing repeats via c.
func NewHandler(buffer *RingBuffer, c *Coalescer, fallback io.Writer, level slog.Level) *Handler {
	return &Handler{
		buffer:    buffer,
		coalescer: c,
		fallback:  slog.NewJSONHandler(fallback, &slog.HandlerOptions{Level: level}),
		level:     level,
	}
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	attrs := make(map[string]interface{})
	var component string

	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "component" {
			component = a.Value.String()
		} else {
			attrs[a.Key] = a.Value.Any()
		}
		return true
	})
	for _, a := range h.attrs {
		if a.Key == "component" {
			component = a.Value.String()
		} else {
			attrs[a.Key] = a.Value.Any()
		}
	}

	entry := Entry{
		Time:      r.Time,
		Level:     r.Level.String(),
		Message:   r.Message,
		Component: component,
		Attrs:     attrs,
	}

	if r.Level >= slog.LevelError && h.coalescer != nil {
		if suppressed := h.coalescer.Observe(component, r.Message); suppressed {
			return nil
		}
	}

	h.buffer.Add(entry)
	return h.fallback.Handle(ctx, r)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{
		buffer:    h.buffer,
		coalescer: h.coalescer,
		fallback:  h.fallback.WithAttrs(attrs),
		level:     h.level,
		attrs:     append(append([]slog.Attr(nil), h.attrs...), attrs...),
		groups:    h.groups,
	}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{
		buffer:    h.buffer,
		coalescer: h.coalescer,
		fallback:  h.fallback.WithGroup(name),
		level:     h.level,
		attrs:     h.attrs,
		groups:    append(append([]string(nil), h.groups...), name),
	}
}

// EntryToJSON renders an entry as a JSON string, for websocket framing.
func EntryToJSON(entry Entry) string {
	data, _ := json.Marshal(entry)
	return string(data)
}
