package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/lightnvr/engine/internal/catalog"
	"github.com/lightnvr/engine/internal/config"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	dir := t.TempDir()

	cfg := &config.Config{
		System: config.SystemConfig{
			StoragePath:  dir,
			ManifestPath: dir,
			CatalogPath:  filepath.Join(dir, "catalog.db"),
			Bus:          config.BusConfig{Host: "127.0.0.1", Port: -1},
		},
		Retention: config.RetentionConfig{DefaultDays: 30, EventDays: 60, CleanupIntervalS: 3600},
	}

	e, err := New(cfg)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(func() { _ = e.db.Close() })
	return e
}

func TestNew_OpensCatalogAndWiresSubsystems(t *testing.T) {
	e := testEngine(t)
	if e.store == nil || e.cleaner == nil || e.timeline == nil {
		t.Fatal("expected store, cleaner, and timeline to be wired")
	}
}

func TestEnableStream_NotFoundPropagatesCatalogError(t *testing.T) {
	e := testEngine(t)
	if err := catalog.NewMigrator(e.db).Run(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	if err := e.EnableStream("missing"); err == nil {
		t.Fatal("expected error enabling unknown stream")
	}
}

func TestEnableStream_StartsWorkerWhenRecordingEnabled(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	if err := catalog.NewMigrator(e.db).Run(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	if err := e.store.UpsertStream(ctx, &catalog.Stream{
		Name: "cam1", URL: "rtsp://a", SegmentSeconds: 30,
		RecordingEnabled: true,
	}); err != nil {
		t.Fatalf("upsert stream: %v", err)
	}

	if err := e.EnableStream("cam1"); err != nil {
		t.Fatalf("enable stream: %v", err)
	}

	e.mu.Lock()
	_, running := e.workers["cam1"]
	e.mu.Unlock()
	if !running {
		t.Fatal("expected worker to have been started")
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := e.stopWorker(stopCtx, "cam1"); err != nil {
		t.Fatalf("stop worker: %v", err)
	}
}

func TestDisableStream_StopsRunningWorker(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	if err := catalog.NewMigrator(e.db).Run(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	st := &catalog.Stream{Name: "cam1", URL: "rtsp://a", SegmentSeconds: 30, Enabled: true, RecordingEnabled: true}
	if err := e.store.UpsertStream(ctx, st); err != nil {
		t.Fatalf("upsert stream: %v", err)
	}
	if err := e.startWorker(ctx, *st); err != nil {
		t.Fatalf("start worker: %v", err)
	}

	if err := e.DisableStream("cam1"); err != nil {
		t.Fatalf("disable stream: %v", err)
	}

	e.mu.Lock()
	_, running := e.workers["cam1"]
	e.mu.Unlock()
	if running {
		t.Fatal("expected worker to have been removed")
	}
}

func TestTriggerDetection_NoRunningWorkerIsNotFound(t *testing.T) {
	e := testEngine(t)
	if err := catalog.NewMigrator(e.db).Run(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	if err := e.TriggerDetection("cam1", 0.9); err == nil {
		t.Fatal("expected error triggering detection on unknown worker")
	}
}

func TestSegmentPath_ResolvesFromCatalog(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	if err := catalog.NewMigrator(e.db).Run(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := e.store.UpsertStream(ctx, &catalog.Stream{Name: "cam1", URL: "rtsp://a", SegmentSeconds: 30}); err != nil {
		t.Fatalf("upsert stream: %v", err)
	}
	id, err := e.store.OpenSegment(ctx, "cam1", "/data/cam1/seg1.mp4", time.Now(), 1920, 1080, 15, "h264", catalog.TriggerContinuous)
	if err != nil {
		t.Fatalf("open segment: %v", err)
	}

	path, mime, _, err := e.SegmentPath(id)
	if err != nil {
		t.Fatalf("segment path: %v", err)
	}
	if path != "/data/cam1/seg1.mp4" || mime != "video/mp4" {
		t.Fatalf("unexpected segment path result: %s %s", path, mime)
	}
}

func TestTriggerCleanupNow_RunsRetentionCycle(t *testing.T) {
	e := testEngine(t)
	if err := catalog.NewMigrator(e.db).Run(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	if _, err := e.TriggerCleanupNow(); err != nil {
		t.Fatalf("trigger cleanup: %v", err)
	}
}
