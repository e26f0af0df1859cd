package segstore

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
)

// IndexEntry records one flushed sample (frame) so CrashFinalize can
// rebuild a moov sample table without re-parsing the moof/mdat boxes it
// already wrote. A GOP flush appends one entry per frame it contains.
type IndexEntry struct {
	Offset       int64  `json:"offset"`
	Size         uint32 `json:"size"`
	DurationMS   uint32 `json:"duration_ms"`
	Keyframe     bool   `json:"keyframe"`
	TotalWritten int64  `json:"total_written"` // file size immediately after this GOP was flushed
}

// sidecarWriter appends one JSON line per frame to a .part.idx file.
// Entries for a GOP are written together and fsynced once the GOP's
// mdat write returns, so the index never runs ahead of the data (the
// data may be ahead of the index, never behind it), which is what makes
// truncate-to-last-attested-offset safe during crash finalize.
type sidecarWriter struct {
	f *os.File
}

func openSidecarWriter(path string) (*sidecarWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open sidecar index %s: %w", path, err)
	}
	return &sidecarWriter{f: f}, nil
}

func (s *sidecarWriter) append(e IndexEntry) error {
	return s.appendBatch([]IndexEntry{e})
}

// appendBatch writes every entry as its own JSON line, then fsyncs once
// for the whole batch — used to record one entry per frame for a GOP
// without paying a fsync per frame.
func (s *sidecarWriter) appendBatch(entries []IndexEntry) error {
	for _, e := range entries {
		line, err := json.Marshal(e)
		if err != nil {
			return err
		}
		line = append(line, '\n')
		if _, err := s.f.Write(line); err != nil {
			return fmt.Errorf("write sidecar entry: %w", err)
		}
	}
	return s.f.Sync()
}

func (s *sidecarWriter) close() error { return s.f.Close() }

// readSidecar loads every complete JSON line from a sidecar index. A
// trailing partial line (the process died mid-write) is silently
// dropped rather than treated as corruption — the GOP it describes
// never finished anyway.
func readSidecar(path string) ([]IndexEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []IndexEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var e IndexEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}
