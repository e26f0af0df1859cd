package controlapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lightnvr/engine/internal/catalog"
	"github.com/lightnvr/engine/internal/retention"
	"github.com/lightnvr/engine/internal/timeline"
)

type fakeEngine struct {
	enabled           map[string]bool
	detections        map[string]float64
	cleanupIntervalS  time.Duration
	segmentPathErr    error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{enabled: make(map[string]bool), detections: make(map[string]float64)}
}

func (f *fakeEngine) EnableStream(name string) error          { f.enabled[name] = true; return nil }
func (f *fakeEngine) DisableStream(name string) error         { f.enabled[name] = false; return nil }
func (f *fakeEngine) TriggerDetection(name string, c float64) error {
	f.detections[name] = c
	return nil
}
func (f *fakeEngine) TriggerCleanupNow() (retention.Stats, error) {
	return retention.Stats{SegmentsDeleted: 2}, nil
}
func (f *fakeEngine) SetCleanupInterval(d time.Duration) { f.cleanupIntervalS = d }
func (f *fakeEngine) SegmentPath(id string) (string, string, int64, error) {
	if f.segmentPathErr != nil {
		return "", "", 0, f.segmentPathErr
	}
	return "/data/cam1/" + id + ".mp4", "video/mp4", 1024, nil
}

func setupTestServer(t *testing.T) (*Server, *catalog.Store, *fakeEngine) {
	t.Helper()
	dir := t.TempDir()

	db, err := catalog.Open(catalog.DefaultConfig(dir))
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := catalog.NewMigrator(db).Run(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	store := catalog.New(db)
	tb := timeline.New(store)
	eng := newFakeEngine()
	return New(store, tb, eng, dir), store, eng
}

func TestCreateAndGetStream(t *testing.T) {
	s, _, _ := setupTestServer(t)
	r := s.Routes()

	body, _ := json.Marshal(streamPayload{Name: "cam1", URL: "rtsp://a", SegmentSeconds: 30})
	req := httptest.NewRequest(http.MethodPost, "/streams/", bytes.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/streams/cam1", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestGetStream_NotFoundMapsTo404(t *testing.T) {
	s, _, _ := setupTestServer(t)
	r := s.Routes()

	req := httptest.NewRequest(http.MethodGet, "/streams/missing", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestEnableRecording_DrivesEngine(t *testing.T) {
	s, _, eng := setupTestServer(t)
	r := s.Routes()

	req := httptest.NewRequest(http.MethodPost, "/recording/cam1/enable", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", w.Code, w.Body.String())
	}
	if !eng.enabled["cam1"] {
		t.Fatal("expected engine.EnableStream to have been called")
	}
}

func TestTriggerDetection_PassesConfidence(t *testing.T) {
	s, _, eng := setupTestServer(t)
	r := s.Routes()

	body, _ := json.Marshal(map[string]float64{"confidence": 0.87})
	req := httptest.NewRequest(http.MethodPost, "/recording/cam1/trigger_detection", bytes.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", w.Code, w.Body.String())
	}
	if eng.detections["cam1"] != 0.87 {
		t.Fatalf("expected confidence 0.87 recorded, got %v", eng.detections["cam1"])
	}
}

func TestBuildManifest_RequiresRFC3339Timestamps(t *testing.T) {
	s, store, _ := setupTestServer(t)
	_ = store.UpsertStream(context.Background(), &catalog.Stream{Name: "cam1", URL: "rtsp://a", SegmentSeconds: 30})
	r := s.Routes()

	req := httptest.NewRequest(http.MethodGet, "/timeline/cam1/manifest?t0=not-a-time&t1=also-not", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
