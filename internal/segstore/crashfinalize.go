package segstore

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/lightnvr/engine/internal/segstore/mp4"
)

// CrashFinalizeResult reports what happened to one recovered segment.
type CrashFinalizeResult struct {
	PartPath    string
	FinalPath   string
	Recovered   bool
	Quarantined bool
	SizeBytes   int64
}

// CrashFinalize walks root for .part files left behind by a process
// that died mid-segment, and repairs each one: the sidecar index
// attests exactly how many bytes of the .part file are known-complete
// GOPs, so the file is truncated to that boundary, a moov is
// synthesized from the attested sample table, and the result is renamed
// off .part. A .part file with a missing or empty sidecar cannot be
// trusted at all and is quarantined to .corrupt instead (§4.2, §7
// FatalIO path).
func CrashFinalize(root string) ([]CrashFinalizeResult, error) {
	logger := slog.Default().With("component", "segstore")
	var results []CrashFinalizeResult

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, partSuffix) {
			return nil
		}

		finalPath := strings.TrimSuffix(path, partSuffix)
		res, ferr := finalizeOne(path, finalPath)
		if ferr != nil {
			logger.Error("crash finalize failed, quarantining", "path", path, "error", ferr)
			quarantine(path, finalPath)
			results = append(results, CrashFinalizeResult{PartPath: path, FinalPath: CorruptPath(finalPath), Quarantined: true})
			return nil
		}

		logger.Info("crash finalized segment", "path", finalPath, "size", res.SizeBytes)
		results = append(results, res)
		return nil
	})
	if err != nil {
		return results, fmt.Errorf("walk segment root %s: %w", root, err)
	}
	return results, nil
}

func finalizeOne(partPath, finalPath string) (CrashFinalizeResult, error) {
	entries, err := readSidecar(IndexPath(partPath))
	if err != nil || len(entries) == 0 {
		return CrashFinalizeResult{}, fmt.Errorf("no usable sidecar index: %v", err)
	}

	last := entries[len(entries)-1]
	truncateTo := last.TotalWritten

	f, err := os.OpenFile(partPath, os.O_RDWR, 0644)
	if err != nil {
		return CrashFinalizeResult{}, fmt.Errorf("reopen part file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return CrashFinalizeResult{}, err
	}
	if info.Size() < truncateTo {
		return CrashFinalizeResult{}, fmt.Errorf("part file shorter than sidecar attests: %d < %d", info.Size(), truncateTo)
	}
	if err := f.Truncate(truncateTo); err != nil {
		return CrashFinalizeResult{}, fmt.Errorf("truncate to attested boundary: %w", err)
	}
	if _, err := f.Seek(0, 2); err != nil {
		return CrashFinalizeResult{}, err
	}

	track := mp4.TrackInfo{TrackID: 1, Timescale: trackTimescale}
	for _, e := range entries {
		track.Samples = append(track.Samples, mp4.Sample{Size: e.Size, Duration: e.DurationMS * trackTimescale / 1000, Keyframe: e.Keyframe})
		track.Offsets = append(track.Offsets, e.Offset)
		track.Duration += uint64(e.DurationMS) * trackTimescale / 1000
	}

	n, err := mp4.WriteMoov(f, track)
	if err != nil {
		return CrashFinalizeResult{}, fmt.Errorf("write recovered moov: %w", err)
	}
	if err := f.Sync(); err != nil {
		return CrashFinalizeResult{}, fmt.Errorf("fsync recovered segment: %w", err)
	}
	if err := f.Close(); err != nil {
		return CrashFinalizeResult{}, err
	}
	_ = os.Remove(IndexPath(partPath))

	if err := os.Rename(partPath, finalPath); err != nil {
		return CrashFinalizeResult{}, fmt.Errorf("rename recovered segment: %w", err)
	}

	return CrashFinalizeResult{
		PartPath:  partPath,
		FinalPath: finalPath,
		Recovered: true,
		SizeBytes: truncateTo + n,
	}, nil
}

func quarantine(partPath, finalPath string) {
	_ = os.Rename(partPath, CorruptPath(finalPath))
	_ = os.Remove(IndexPath(partPath))
}
