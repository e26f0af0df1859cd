package segstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lightnvr/engine/internal/ring"
	"github.com/lightnvr/engine/internal/segstore/mp4"
)

const trackTimescale = 90000 // 90kHz, matches common H.264 PTS timescale

// Writer owns one in-flight segment file. It is created holding only
// the ftyp header (the Writer Registry's Arm pushes any keyframe-aligned
// ring buffer drain into it) and accumulates GOPs until Close finalizes
// the file. A Writer is
// not safe for concurrent use by more than one goroutine at a time — the
// Writer Registry's detach-then-close discipline guarantees that.
type Writer struct {
	mu sync.Mutex

	finalPath string
	partPath  string
	file      *os.File
	sidecar   *sidecarWriter

	sequence   uint32
	written    int64
	gop        []ring.Frame
	track      mp4.TrackInfo
	closed     bool
	firstPTS   time.Duration
	lastPTS    time.Duration
}

// NewWriter opens a new .part file at finalPath (via PartPath), writing
// the ftyp header immediately.
func NewWriter(finalPath string, width, height int) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(finalPath), 0755); err != nil {
		return nil, fmt.Errorf("create segment directory: %w", err)
	}

	partPath := PartPath(finalPath)
	f, err := os.OpenFile(partPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("open segment part file: %w", err)
	}

	sidecar, err := openSidecarWriter(IndexPath(partPath))
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	n, err := mp4.WriteFtyp(f)
	if err != nil {
		_ = f.Close()
		_ = sidecar.close()
		return nil, fmt.Errorf("write ftyp: %w", err)
	}

	return &Writer{
		finalPath: finalPath,
		partPath:  partPath,
		file:      f,
		sidecar:   sidecar,
		written:   n,
		track: mp4.TrackInfo{
			TrackID:   1,
			Timescale: trackTimescale,
			Width:     uint16(width),
			Height:    uint16(height),
		},
	}, nil
}

// Push buffers a frame. Video keyframes close out the previous GOP (if
// any) and flush it as a moof/mdat pair before starting a new one, so
// rotation can always cut on a GOP boundary.
func (w *Writer) Push(f ring.Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("segstore: write to closed writer")
	}

	if f.Kind == ring.FrameVideo && f.Keyframe && len(w.gop) > 0 {
		if err := w.flushGOP(); err != nil {
			return err
		}
	}

	if len(w.gop) == 0 {
		w.firstPTS = f.PTS
	}
	w.lastPTS = f.PTS
	w.gop = append(w.gop, f)
	return nil
}

// flushGOP writes the buffered GOP as one moof/mdat pair and appends one
// sidecar index entry per frame. Caller must hold w.mu.
func (w *Writer) flushGOP() error {
	if len(w.gop) == 0 {
		return nil
	}

	var data []byte
	var samples []mp4.Sample
	var durationsMS []uint32
	for i, f := range w.gop {
		dur := uint32(0)
		durMS := uint32(0)
		if i+1 < len(w.gop) {
			dur = uint32((w.gop[i+1].PTS - f.PTS).Seconds() * trackTimescale)
			durMS = uint32((w.gop[i+1].PTS - f.PTS).Milliseconds())
		}
		samples = append(samples, mp4.Sample{Size: uint32(len(f.Data)), Duration: dur, Keyframe: f.Keyframe && i == 0})
		durationsMS = append(durationsMS, durMS)
		data = append(data, f.Data...)
	}

	offsetBeforeMoof := w.written
	w.sequence++
	n, err := mp4.WriteMoof(w.file, w.sequence, w.track.TrackID, samples, data)
	if err != nil {
		return fmt.Errorf("write fragment: %w", err)
	}
	w.written += n

	w.track.Samples = append(w.track.Samples, samples...)
	mdatHeaderAndMoofLen := w.written - offsetBeforeMoof - int64(len(data))
	sampleOffset := offsetBeforeMoof + mdatHeaderAndMoofLen

	// One sidecar entry per frame (not per GOP): crash finalize rebuilds
	// the recovered moov's sample table from these entries directly, and
	// it needs per-sample offsets/sizes to match the live writer's own
	// w.track.Samples/Offsets above.
	entries := make([]IndexEntry, len(samples))
	for i, s := range samples {
		w.track.Offsets = append(w.track.Offsets, sampleOffset)
		entries[i] = IndexEntry{
			Offset:       sampleOffset,
			Size:         s.Size,
			DurationMS:   durationsMS[i],
			Keyframe:     s.Keyframe,
			TotalWritten: w.written,
		}
		sampleOffset += int64(s.Size)
	}
	w.track.Duration = uint64((w.lastPTS - w.firstPTS).Seconds() * trackTimescale)

	if err := w.sidecar.appendBatch(entries); err != nil {
		return err
	}

	w.gop = w.gop[:0]
	return nil
}

// Close flushes any buffered GOP, synthesizes and appends the moov box,
// fsyncs, and renames the file off its .part suffix. If flushing,
// writing the moov, fsync or close fails, Close returns that error
// without attempting the rename, leaving the .part file and its sidecar
// for CrashFinalize on next boot.
func (w *Writer) Close() (sizeBytes int64, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return w.written, nil
	}
	w.closed = true

	if err := w.flushGOP(); err != nil {
		return w.written, err
	}

	n, err := mp4.WriteMoov(w.file, w.track)
	if err != nil {
		return w.written, fmt.Errorf("write moov: %w", err)
	}
	w.written += n

	if err := w.file.Sync(); err != nil {
		return w.written, fmt.Errorf("fsync segment: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return w.written, fmt.Errorf("close segment file: %w", err)
	}
	_ = w.sidecar.close()
	_ = os.Remove(IndexPath(w.partPath))

	if err := os.Rename(w.partPath, w.finalPath); err != nil {
		return w.written, fmt.Errorf("finalize segment rename: %w", err)
	}

	return w.written, nil
}

// Abandon closes the underlying file without finalizing it, leaving the
// .part file and its sidecar for CrashFinalize to repair. Any GOP still
// buffered in memory is discarded.
func (w *Writer) Abandon() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	_ = w.sidecar.close()
	return w.file.Close()
}

// Path returns the final (post-rename) path this writer is producing.
func (w *Writer) Path() string { return w.finalPath }
