package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_AppliesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	content := `
version: "1.0"
streams:
  - name: cam1
    url: rtsp://cam1/stream
    enabled: true
    recording_enabled: true
    segment_seconds: 60
    fps: 15
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.System.StoragePath == "" || cfg.System.Bus.Port != 4222 {
		t.Fatalf("expected defaults applied, got %+v", cfg.System)
	}
	if cfg.Retention.DefaultDays != 30 || cfg.Retention.EventDays != 60 {
		t.Fatalf("expected retention defaults, got %+v", cfg.Retention)
	}
	if len(cfg.Streams) != 1 || cfg.Streams[0].Name != "cam1" {
		t.Fatalf("expected cam1 parsed, got %+v", cfg.Streams)
	}
}

func TestUpsertStream_PersistsAndReloads(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("version: \"1.0\"\nstreams: []\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if err := cfg.UpsertStream(StreamConfig{Name: "cam1", URL: "rtsp://a", SegmentSeconds: 30}); err != nil {
		t.Fatalf("upsert stream: %v", err)
	}

	reloaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("reload config: %v", err)
	}
	if got := reloaded.GetStream("cam1"); got == nil || got.URL != "rtsp://a" {
		t.Fatalf("expected persisted stream, got %+v", got)
	}
}

func TestUpsertStream_EncryptsPasswordOnDisk(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("version: \"1.0\"\nstreams: []\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if err := cfg.UpsertStream(StreamConfig{Name: "cam1", URL: "rtsp://a", Password: "s3cret", SegmentSeconds: 30}); err != nil {
		t.Fatalf("upsert stream: %v", err)
	}

	raw, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("read config file: %v", err)
	}
	if contains(string(raw), "s3cret") {
		t.Fatal("expected plaintext password not to appear on disk")
	}

	reloaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("reload config: %v", err)
	}
	if got := reloaded.GetStream("cam1"); got == nil || got.Password != "s3cret" {
		t.Fatalf("expected password decrypted on load, got %+v", got)
	}
}

func contains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}

func TestRemoveStream_NotFound(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("version: \"1.0\"\nstreams: []\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if err := cfg.RemoveStream("missing"); err == nil {
		t.Fatal("expected error removing unknown stream")
	}
}
