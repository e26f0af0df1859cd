package controlapi

import (
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lightnvr/engine/internal/catalog"
	"github.com/lightnvr/engine/internal/timeline"
)

type streamPayload struct {
	Name             string `json:"name"`
	URL              string `json:"url"`
	Enabled          bool   `json:"enabled"`
	RecordingEnabled bool   `json:"recording_enabled"`
	SegmentSeconds   int    `json:"segment_seconds"`
	PreRollSeconds   int    `json:"pre_roll_seconds"`
	PostRollSeconds  int    `json:"post_roll_seconds"`
	FPS              int    `json:"fps"`
	RecordAudio      bool   `json:"record_audio"`
}

func (s *Server) listStreams(w http.ResponseWriter, r *http.Request) {
	streams, err := s.store.ListStreams(r.Context(), r.URL.Query().Get("include_deleted") == "true")
	if err != nil {
		writeCatalogError(w, err)
		return
	}
	ok(w, streams)
}

func (s *Server) createStream(w http.ResponseWriter, r *http.Request) {
	var p streamPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if p.SegmentSeconds <= 0 {
		badRequest(w, "segment_seconds must be positive")
		return
	}

	st := &catalog.Stream{
		Name: p.Name, URL: p.URL, Enabled: p.Enabled, RecordingEnabled: p.RecordingEnabled,
		SegmentSeconds: p.SegmentSeconds, PreRollSeconds: p.PreRollSeconds,
		PostRollSeconds: p.PostRollSeconds, FPS: p.FPS, RecordAudio: p.RecordAudio,
	}
	if err := s.store.UpsertStream(r.Context(), st); err != nil {
		writeCatalogError(w, err)
		return
	}
	created(w, st)
}

func (s *Server) getStream(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	st, err := s.store.GetStream(r.Context(), name)
	if err != nil {
		writeCatalogError(w, err)
		return
	}
	ok(w, st)
}

func (s *Server) updateStream(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var p streamPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	p.Name = name

	st := &catalog.Stream{
		Name: p.Name, URL: p.URL, Enabled: p.Enabled, RecordingEnabled: p.RecordingEnabled,
		SegmentSeconds: p.SegmentSeconds, PreRollSeconds: p.PreRollSeconds,
		PostRollSeconds: p.PostRollSeconds, FPS: p.FPS, RecordAudio: p.RecordAudio,
	}
	if err := s.store.UpsertStream(r.Context(), st); err != nil {
		writeCatalogError(w, err)
		return
	}
	ok(w, st)
}

func (s *Server) deleteStream(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.store.SoftDeleteStream(r.Context(), name); err != nil {
		writeCatalogError(w, err)
		return
	}
	noContent(w)
}

func (s *Server) listSegmentsByRange(w http.ResponseWriter, r *http.Request) {
	opts := catalog.ListSegmentsOptions{
		StreamName: r.URL.Query().Get("stream"),
		Limit:      50,
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			opts.Limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			opts.Offset = n
		}
	}
	if v := r.URL.Query().Get("t0"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			opts.Since = &t
		}
	}
	if v := r.URL.Query().Get("t1"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			opts.Until = &t
		}
	}

	segs, err := s.store.ListSegments(r.Context(), opts)
	if err != nil {
		writeCatalogError(w, err)
		return
	}
	writeJSONWithMeta(w, http.StatusOK, segs, &Meta{Limit: opts.Limit, Offset: opts.Offset, Total: len(segs)})
}

func (s *Server) getSegment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	seg, err := s.store.GetSegment(r.Context(), id)
	if err != nil {
		writeCatalogError(w, err)
		return
	}
	ok(w, seg)
}

func (s *Server) deleteSegment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	seg, err := s.store.GetSegment(r.Context(), id)
	if err != nil {
		writeCatalogError(w, err)
		return
	}
	if err := os.Remove(seg.Path); err != nil && !os.IsNotExist(err) {
		writeError(w, http.StatusServiceUnavailable, "TRANSIENT_IO", err.Error())
		return
	}
	if err := s.store.DeleteSegment(r.Context(), id); err != nil {
		writeCatalogError(w, err)
		return
	}
	noContent(w)
}

func (s *Server) openForRead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	path, mime, size, err := s.engine.SegmentPath(id)
	if err != nil {
		writeCatalogError(w, err)
		return
	}
	ok(w, map[string]interface{}{"path": path, "mime": mime, "size": size})
}

func (s *Server) buildManifest(w http.ResponseWriter, r *http.Request) {
	stream := chi.URLParam(r, "stream")
	t0, err1 := time.Parse(time.RFC3339, r.URL.Query().Get("t0"))
	t1, err2 := time.Parse(time.RFC3339, r.URL.Query().Get("t1"))
	if err1 != nil || err2 != nil {
		badRequest(w, "t0 and t1 must be RFC3339 timestamps")
		return
	}

	m, err := s.timeline.BuildManifest(r.Context(), stream, t0, t1)
	if err != nil {
		writeCatalogError(w, err)
		return
	}

	path, err := timeline.WritePlaylist(s.manifestRoot, m)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "FATAL_IO", err.Error())
		return
	}
	ok(w, map[string]string{"manifest_path": path})
}

func (s *Server) enableRecording(w http.ResponseWriter, r *http.Request) {
	stream := chi.URLParam(r, "stream")
	if err := s.engine.EnableStream(stream); err != nil {
		writeCatalogError(w, err)
		return
	}
	noContent(w)
}

func (s *Server) disableRecording(w http.ResponseWriter, r *http.Request) {
	stream := chi.URLParam(r, "stream")
	if err := s.engine.DisableStream(stream); err != nil {
		writeCatalogError(w, err)
		return
	}
	noContent(w)
}

func (s *Server) triggerDetection(w http.ResponseWriter, r *http.Request) {
	stream := chi.URLParam(r, "stream")
	var body struct {
		Confidence float64 `json:"confidence"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if err := s.engine.TriggerDetection(stream, body.Confidence); err != nil {
		writeCatalogError(w, err)
		return
	}
	noContent(w)
}

func (s *Server) triggerCleanupNow(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.TriggerCleanupNow()
	if err != nil {
		writeCatalogError(w, err)
		return
	}
	ok(w, stats)
}

func (s *Server) setCleanupInterval(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Seconds int `json:"seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Seconds <= 0 {
		badRequest(w, "seconds must be a positive integer")
		return
	}
	s.engine.SetCleanupInterval(time.Duration(body.Seconds) * time.Second)
	noContent(w)
}
