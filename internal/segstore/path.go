// Package segstore is the Segment Store: it owns the on-disk layout of
// recorded segment files, the fragmented-MP4 writer each Capture Worker
// arms a Writer Registry entry with, and the boot-time crash-finalize
// pass that repairs anything still mid-write from a previous process.
package segstore

import (
	"path/filepath"
	"time"
)

const (
	partSuffix    = ".part"
	corruptSuffix = ".corrupt"
	indexSuffix   = ".idx"
)

// SegmentPath returns the path a new segment for streamName starting at
// start should be written to under root, before any .part suffix is
// applied. Layout matches spec §6.2: <root>/<stream>/<YYYY-MM-DD>/<HH-MM-SS>.mp4.
func SegmentPath(root, streamName string, start time.Time) string {
	day := start.UTC().Format("2006-01-02")
	name := start.UTC().Format("15-04-05") + ".mp4"
	return filepath.Join(root, streamName, day, name)
}

// PartPath returns the in-progress write path for a final segment path.
func PartPath(finalPath string) string { return finalPath + partSuffix }

// CorruptPath returns the quarantine path for a final segment path.
func CorruptPath(finalPath string) string { return finalPath + corruptSuffix }

// IndexPath returns the sidecar index path for a .part file.
func IndexPath(partPath string) string { return partPath + indexSuffix }
