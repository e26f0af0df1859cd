package timeline

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/lightnvr/engine/internal/catalog"
)

func setupTestBuilder(t *testing.T) (*Builder, *catalog.Store) {
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
	return New(store), store
}

func TestBuildManifest_EmptyRangeIsOneGap(t *testing.T) {
	b, store := setupTestBuilder(t)
	ctx := context.Background()
	_ = store.UpsertStream(ctx, &catalog.Stream{Name: "cam1", URL: "rtsp://a", SegmentSeconds: 30})

	start := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	m, err := b.BuildManifest(ctx, "cam1", start, end)
	if err != nil {
		t.Fatalf("build manifest: %v", err)
	}
	if len(m.Entries) != 1 || m.Entries[0].Type != EntryGap {
		t.Fatalf("expected single gap entry, got %+v", m.Entries)
	}
}

func TestBuildManifest_MergesAdjacentSegments(t *testing.T) {
	b, store := setupTestBuilder(t)
	ctx := context.Background()
	_ = store.UpsertStream(ctx, &catalog.Stream{Name: "cam1", URL: "rtsp://a", SegmentSeconds: 30})

	start := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)

	id1, _ := store.OpenSegment(ctx, "cam1", "/d/a.mp4", start, 1920, 1080, 15, "h264", catalog.TriggerContinuous)
	_ = store.CloseSegment(ctx, id1, start.Add(30*time.Second), 100, catalog.SegmentClosed)

	id2, _ := store.OpenSegment(ctx, "cam1", "/d/b.mp4", start.Add(30*time.Second), 1920, 1080, 15, "h264", catalog.TriggerContinuous)
	_ = store.CloseSegment(ctx, id2, start.Add(60*time.Second), 100, catalog.SegmentClosed)

	m, err := b.BuildManifest(ctx, "cam1", start, start.Add(time.Minute))
	if err != nil {
		t.Fatalf("build manifest: %v", err)
	}

	recording := 0
	for _, e := range m.Entries {
		if e.Type == EntryRecording {
			recording++
			if len(e.SegmentIDs) != 2 {
				t.Fatalf("expected merged segment to carry both ids, got %v", e.SegmentIDs)
			}
		}
	}
	if recording != 1 {
		t.Fatalf("expected exactly one merged recording entry, got %d entries: %+v", recording, m.Entries)
	}
}

func TestBuildManifest_GapBetweenSegments(t *testing.T) {
	b, store := setupTestBuilder(t)
	ctx := context.Background()
	_ = store.UpsertStream(ctx, &catalog.Stream{Name: "cam1", URL: "rtsp://a", SegmentSeconds: 30})

	start := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)

	id1, _ := store.OpenSegment(ctx, "cam1", "/d/a.mp4", start, 1920, 1080, 15, "h264", catalog.TriggerContinuous)
	_ = store.CloseSegment(ctx, id1, start.Add(10*time.Second), 100, catalog.SegmentClosed)

	id2, _ := store.OpenSegment(ctx, "cam1", "/d/b.mp4", start.Add(40*time.Second), 1920, 1080, 15, "h264", catalog.TriggerContinuous)
	_ = store.CloseSegment(ctx, id2, start.Add(50*time.Second), 100, catalog.SegmentClosed)

	m, err := b.BuildManifest(ctx, "cam1", start, start.Add(time.Minute))
	if err != nil {
		t.Fatalf("build manifest: %v", err)
	}

	var types []EntryType
	for _, e := range m.Entries {
		types = append(types, e.Type)
	}
	if len(types) < 3 {
		t.Fatalf("expected recording/gap/recording/gap, got %v", types)
	}
}

func TestCoverage_FullyRecordedIsOne(t *testing.T) {
	b, store := setupTestBuilder(t)
	ctx := context.Background()
	_ = store.UpsertStream(ctx, &catalog.Stream{Name: "cam1", URL: "rtsp://a", SegmentSeconds: 30})

	start := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	end := start.Add(time.Minute)

	id, _ := store.OpenSegment(ctx, "cam1", "/d/a.mp4", start, 1920, 1080, 15, "h264", catalog.TriggerContinuous)
	_ = store.CloseSegment(ctx, id, end, 100, catalog.SegmentClosed)

	cov, err := b.Coverage(ctx, "cam1", start, end)
	if err != nil {
		t.Fatalf("coverage: %v", err)
	}
	if cov != 1.0 {
		t.Fatalf("expected full coverage, got %f", cov)
	}
}

func TestWritePlaylist_WritesFileWithExtinf(t *testing.T) {
	b, store := setupTestBuilder(t)
	ctx := context.Background()
	_ = store.UpsertStream(ctx, &catalog.Stream{Name: "cam1", URL: "rtsp://a", SegmentSeconds: 30})

	start := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	id, _ := store.OpenSegment(ctx, "cam1", "/d/a.mp4", start, 1920, 1080, 15, "h264", catalog.TriggerContinuous)
	_ = store.CloseSegment(ctx, id, start.Add(30*time.Second), 100, catalog.SegmentClosed)

	m, err := b.BuildManifest(ctx, "cam1", start, start.Add(time.Minute))
	if err != nil {
		t.Fatalf("build manifest: %v", err)
	}

	root := t.TempDir()
	path, err := WritePlaylist(root, m)
	if err != nil {
		t.Fatalf("write playlist: %v", err)
	}
	if filepath.Dir(path) != filepath.Join(root, "cam1") {
		t.Fatalf("unexpected playlist path: %s", path)
	}
}
