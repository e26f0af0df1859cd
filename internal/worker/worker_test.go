package worker

import (
	"context"
	"testing"
	"time"

	"github.com/lightnvr/engine/internal/registry"
	"github.com/lightnvr/engine/internal/ring"
)

func newTestWorker(t *testing.T) *Worker {
	t.Helper()
	cfg := Config{StreamName: "cam1", URL: "rtsp://example/cam1", SegmentSeconds: 30, FPS: 15}
	return New(cfg, ring.NewPool(), registry.New(), nil, t.TempDir())
}

func TestWorker_InitialStateIdle(t *testing.T) {
	w := newTestWorker(t)
	if w.State() != StateIdle {
		t.Fatalf("expected idle, got %s", w.State())
	}
}

func TestWorker_NotifyDetectionDropsWhenFull(t *testing.T) {
	w := newTestWorker(t)
	for i := 0; i < 100; i++ {
		w.NotifyDetection(DetectionEvent{Confidence: 0.9, At: time.Now()})
	}
	if len(w.inbox) != cap(w.inbox) {
		t.Fatalf("expected inbox to be full at capacity, got %d/%d", len(w.inbox), cap(w.inbox))
	}
}

func TestRecentErrors_DropsStale(t *testing.T) {
	old := time.Now().Add(-1 * time.Minute)
	recent := time.Now()
	out := recentErrors([]time.Time{old, recent})
	if len(out) != 1 {
		t.Fatalf("expected only the recent error to survive, got %d", len(out))
	}
}

func TestBuildFFmpegArgs_EmptyURL(t *testing.T) {
	args := buildFFmpegArgs(context.Background(), Config{})
	if args != nil {
		t.Fatalf("expected nil args for empty URL, got %v", args)
	}
}

func TestBuildFFmpegArgs_RTSPAddsTCPTransport(t *testing.T) {
	args := buildFFmpegArgs(context.Background(), Config{URL: "rtsp://cam/1"})
	found := false
	for i, a := range args {
		if a == "-rtsp_transport" && i+1 < len(args) && args[i+1] == "tcp" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected -rtsp_transport tcp in args: %v", args)
	}
}
