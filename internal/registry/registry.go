// Package registry is the Writer Registry: it is the only place a
// Capture Worker's current segstore.Writer is reachable from, enforcing
// the detach-then-close discipline so nothing ever closes a writer
// while another goroutine still holds a reference to it (spec §4.4,
// Design Notes §9).
package registry

import (
	"sync"

	"github.com/lightnvr/engine/internal/ring"
	"github.com/lightnvr/engine/internal/segstore"
)

// Registry owns one writer slot per stream.
type Registry struct {
	mu      sync.RWMutex
	writers map[string]*segstore.Writer
}

// New creates an empty Writer Registry.
func New() *Registry {
	return &Registry{writers: make(map[string]*segstore.Writer)}
}

// Arm installs w as the current writer for stream, detaching any
// previous writer and returning it so the caller can close it outside
// the registry's lock. If preroll is non-nil, its frames are pushed
// into w before Arm returns, so the new writer opens with its buffered
// pre-roll already written — but only when preroll starts on a
// keyframe, matching ring.DrainKeyframeAligned's contract.
func (r *Registry) Arm(stream string, w *segstore.Writer, preroll []ring.Frame) (previous *segstore.Writer) {
	r.mu.Lock()
	previous = r.writers[stream]
	r.writers[stream] = w
	r.mu.Unlock()

	if len(preroll) > 0 && preroll[0].Keyframe {
		for _, f := range preroll {
			_ = w.Push(f)
		}
	}
	return previous
}

// Handle returns the stream's current writer, or nil if none is armed.
// The returned pointer remains valid after the lock is released — the
// detach-then-close discipline in Arm/Disarm is what keeps that safe,
// not reference counting.
func (r *Registry) Handle(stream string) *segstore.Writer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.writers[stream]
}

// Disarm removes and returns the stream's writer, or nil if none was
// armed. The caller is responsible for closing it.
func (r *Registry) Disarm(stream string) *segstore.Writer {
	r.mu.Lock()
	defer r.mu.Unlock()
	w := r.writers[stream]
	delete(r.writers, stream)
	return w
}

// Armed reports whether stream currently has a writer.
func (r *Registry) Armed(stream string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.writers[stream]
	return ok
}
