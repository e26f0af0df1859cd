// Package controlapi is the thin HTTP control surface (spec §6.3): one
// chi.Router implementing the streams/segments/timeline/recording
// operation set as JSON handlers over the catalog and engine, and
// nothing else — no business logic lives here.
package controlapi

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/lightnvr/engine/internal/catalog"
	"github.com/lightnvr/engine/internal/retention"
	"github.com/lightnvr/engine/internal/timeline"
)

// Engine is the subset of the owning engine's API the control surface
// drives; kept as a narrow interface so this package never imports
// internal/engine directly.
type Engine interface {
	EnableStream(streamName string) error
	DisableStream(streamName string) error
	TriggerDetection(streamName string, confidence float64) error
	TriggerCleanupNow() (retention.Stats, error)
	SetCleanupInterval(d time.Duration)
	SegmentPath(segmentID string) (path string, mime string, size int64, err error)
}

// Server wires the catalog, timeline builder, and engine into chi
// routes.
type Server struct {
	store    *catalog.Store
	timeline *timeline.Builder
	engine   Engine
	manifestRoot string
}

// New builds a Server. manifestRoot is where built HLS playlists are
// written.
func New(store *catalog.Store, tb *timeline.Builder, eng Engine, manifestRoot string) *Server {
	return &Server{store: store, timeline: tb, engine: eng, manifestRoot: manifestRoot}
}

// Routes returns the assembled chi.Router, with permissive CORS the
// same way the teacher's entrypoint wires it.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Route("/streams", func(r chi.Router) {
		r.Get("/", s.listStreams)
		r.Post("/", s.createStream)
		r.Get("/{name}", s.getStream)
		r.Put("/{name}", s.updateStream)
		r.Delete("/{name}", s.deleteStream)
	})

	r.Route("/segments", func(r chi.Router) {
		r.Get("/", s.listSegmentsByRange)
		r.Get("/{id}", s.getSegment)
		r.Delete("/{id}", s.deleteSegment)
		r.Get("/{id}/read", s.openForRead)
	})

	r.Get("/timeline/{stream}/manifest", s.buildManifest)

	r.Route("/recording", func(r chi.Router) {
		r.Post("/{stream}/enable", s.enableRecording)
		r.Post("/{stream}/disable", s.disableRecording)
		r.Put("/{stream}/config", s.updateStream)
		r.Post("/{stream}/trigger_detection", s.triggerDetection)
		r.Post("/trigger_cleanup_now", s.triggerCleanupNow)
		r.Put("/cleanup_interval", s.setCleanupInterval)
	})

	return r
}
