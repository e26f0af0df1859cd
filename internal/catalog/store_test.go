package catalog

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func setupTestStore(t *testing.T) (*Store, *DB) {
	t.Helper()
	sqlDB, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	db := &DB{DB: sqlDB, path: ":memory:", logger: slog.Default()}

	m := NewMigrator(db)
	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	return New(db), db
}

func TestStore_UpsertAndGetStream(t *testing.T) {
	s, db := setupTestStore(t)
	defer db.Close()

	ctx := context.Background()
	st := &Stream{Name: "front-door", URL: "rtsp://cam/1", Enabled: true, RecordingEnabled: true, SegmentSeconds: 60, FPS: 15}
	if err := s.UpsertStream(ctx, st); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	got, err := s.GetStream(ctx, "front-door")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.URL != st.URL || got.SegmentSeconds != 60 {
		t.Fatalf("unexpected stream: %+v", got)
	}
}

func TestStore_GetStreamNotFound(t *testing.T) {
	s, db := setupTestStore(t)
	defer db.Close()

	_, err := s.GetStream(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_SoftDeleteExcludesFromList(t *testing.T) {
	s, db := setupTestStore(t)
	defer db.Close()
	ctx := context.Background()

	_ = s.UpsertStream(ctx, &Stream{Name: "cam1", URL: "rtsp://a", SegmentSeconds: 30})
	_ = s.UpsertStream(ctx, &Stream{Name: "cam2", URL: "rtsp://b", SegmentSeconds: 30})

	if err := s.SoftDeleteStream(ctx, "cam1"); err != nil {
		t.Fatalf("soft delete failed: %v", err)
	}

	streams, err := s.ListStreams(ctx, false)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(streams) != 1 || streams[0].Name != "cam2" {
		t.Fatalf("expected only cam2, got %+v", streams)
	}

	all, err := s.ListStreams(ctx, true)
	if err != nil || len(all) != 2 {
		t.Fatalf("expected both streams with includeDeleted, got %+v err=%v", all, err)
	}
}

func TestStore_OpenCloseSegment(t *testing.T) {
	s, db := setupTestStore(t)
	defer db.Close()
	ctx := context.Background()

	_ = s.UpsertStream(ctx, &Stream{Name: "cam1", URL: "rtsp://a", SegmentSeconds: 30})

	id, err := s.OpenSegment(ctx, "cam1", "/data/cam1/seg1.mp4.part", time.Now(), 1920, 1080, 15, "h264", TriggerContinuous)
	if err != nil {
		t.Fatalf("open segment failed: %v", err)
	}

	if err := s.CloseSegment(ctx, id, time.Now(), 1024, SegmentClosed); err != nil {
		t.Fatalf("close segment failed: %v", err)
	}

	segs, err := s.ListSegments(ctx, ListSegmentsOptions{StreamName: "cam1"})
	if err != nil || len(segs) != 1 {
		t.Fatalf("expected 1 segment, got %d err=%v", len(segs), err)
	}
	if segs[0].Status != SegmentClosed || segs[0].SizeBytes != 1024 {
		t.Fatalf("unexpected segment state: %+v", segs[0])
	}
}

func TestStore_HardDeleteStreamCascades(t *testing.T) {
	s, db := setupTestStore(t)
	defer db.Close()
	ctx := context.Background()

	_ = s.UpsertStream(ctx, &Stream{Name: "cam1", URL: "rtsp://a", SegmentSeconds: 30})
	_, _ = s.OpenSegment(ctx, "cam1", "/data/cam1/seg1.mp4.part", time.Now(), 1920, 1080, 15, "h264", TriggerContinuous)

	if err := s.HardDeleteStream(ctx, "cam1"); err != nil {
		t.Fatalf("hard delete failed: %v", err)
	}

	count, err := s.CountSegments(ctx, "cam1", "")
	if err != nil || count != 0 {
		t.Fatalf("expected 0 segments after cascade, got %d err=%v", count, err)
	}
}

func TestStore_RecordEventCoalesces(t *testing.T) {
	s, db := setupTestStore(t)
	defer db.Close()
	ctx := context.Background()

	_ = s.UpsertStream(ctx, &Stream{Name: "cam1", URL: "rtsp://a", SegmentSeconds: 30})

	for i := 0; i < 3; i++ {
		if err := s.RecordEvent(ctx, "cam1", "connect_failed", "dial timeout"); err != nil {
			t.Fatalf("record event failed: %v", err)
		}
	}

	var count int
	if err := db.QueryRowContext(ctx, "SELECT count FROM events WHERE stream_name = 'cam1'").Scan(&count); err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected coalesced count 3, got %d", count)
	}
}

func TestStore_TotalSizeBytes(t *testing.T) {
	s, db := setupTestStore(t)
	defer db.Close()
	ctx := context.Background()

	_ = s.UpsertStream(ctx, &Stream{Name: "cam1", URL: "rtsp://a", SegmentSeconds: 30})
	id1, _ := s.OpenSegment(ctx, "cam1", "/data/cam1/a.mp4.part", time.Now(), 1920, 1080, 15, "h264", TriggerContinuous)
	id2, _ := s.OpenSegment(ctx, "cam1", "/data/cam1/b.mp4.part", time.Now(), 1920, 1080, 15, "h264", TriggerContinuous)
	_ = s.CloseSegment(ctx, id1, time.Now(), 500, SegmentClosed)
	_ = s.CloseSegment(ctx, id2, time.Now(), 700, SegmentClosed)

	total, err := s.TotalSizeBytes(ctx, "cam1")
	if err != nil || total != 1200 {
		t.Fatalf("expected 1200, got %d err=%v", total, err)
	}
}
