package registry

import (
	"path/filepath"
	"testing"

	"github.com/lightnvr/engine/internal/segstore"
)

func TestRegistry_ArmDetachesPrevious(t *testing.T) {
	r := New()
	dir := t.TempDir()

	w1, err := segstore.NewWriter(filepath.Join(dir, "cam1", "2026-07-30", "10-00-00.mp4"), 640, 480)
	if err != nil {
		t.Fatalf("writer 1: %v", err)
	}
	w2, err := segstore.NewWriter(filepath.Join(dir, "cam1", "2026-07-30", "10-05-00.mp4"), 640, 480)
	if err != nil {
		t.Fatalf("writer 2: %v", err)
	}

	prev := r.Arm("cam1", w1, nil)
	if prev != nil {
		t.Fatal("expected no previous writer on first arm")
	}

	prev = r.Arm("cam1", w2, nil)
	if prev != w1 {
		t.Fatal("expected Arm to return the previous writer for the caller to close")
	}
	_ = prev.Abandon()

	if r.Handle("cam1") != w2 {
		t.Fatal("expected handle to return the newly armed writer")
	}
	_ = w2.Abandon()
}

func TestRegistry_DisarmRemoves(t *testing.T) {
	r := New()
	dir := t.TempDir()

	w, err := segstore.NewWriter(filepath.Join(dir, "cam1", "2026-07-30", "10-00-00.mp4"), 640, 480)
	if err != nil {
		t.Fatalf("writer: %v", err)
	}
	r.Arm("cam1", w, nil)

	disarmed := r.Disarm("cam1")
	if disarmed != w {
		t.Fatal("expected disarm to return the armed writer")
	}
	if r.Armed("cam1") {
		t.Fatal("expected stream to have no armed writer after disarm")
	}
	_ = w.Abandon()
}
