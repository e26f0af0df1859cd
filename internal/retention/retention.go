// Package retention is the Retention Cleaner (spec §4.6): it runs the
// age pass, the quota pass, and the orphan pass in that order, always
// unlinking a segment's file before deleting its catalog row so a crash
// mid-cleanup leaves at worst a catalog row pointing at a missing file,
// which the next orphan pass removes, never an untracked file on disk.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lightnvr/engine/internal/catalog"
)

// Policy holds the per-stream retention parameters and overall storage
// cap the cleaner enforces.
type Policy struct {
	DefaultDays  int
	EventDays    int
	MaxStorageGB int
}

// Stats summarizes one cleanup cycle.
type Stats struct {
	SegmentsDeleted int
	BytesFreed      int64
	OrphansRemoved  int
}

// Cleaner runs retention passes against the catalog and the segment
// root on a fixed interval, or on demand.
type Cleaner struct {
	store  *catalog.Store
	root   string
	policy Policy
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// New builds a Cleaner bound to store and root, enforcing policy.
func New(store *catalog.Store, root string, policy Policy) *Cleaner {
	return &Cleaner{
		store:  store,
		root:   root,
		policy: policy,
		logger: slog.Default().With("component", "retention"),
	}
}

// Start runs the cleanup loop on interval until ctx is cancelled or
// Stop is called.
func (c *Cleaner) Start(ctx context.Context, interval time.Duration) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.stopCh = make(chan struct{})
	c.mu.Unlock()

	go c.loop(ctx, interval)
}

// Stop halts the cleanup loop.
func (c *Cleaner) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	close(c.stopCh)
	c.running = false
}

// RunNow triggers an immediate cleanup cycle and returns its stats,
// useful for the recording.trigger_cleanup_now control-surface operation.
func (c *Cleaner) RunNow(ctx context.Context) (Stats, error) {
	return c.runCycle(ctx)
}

func (c *Cleaner) loop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if _, err := c.runCycle(ctx); err != nil {
		c.logger.Error("initial retention cleanup failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			if _, err := c.runCycle(ctx); err != nil {
				c.logger.Error("retention cleanup failed", "error", err)
			}
		}
	}
}

func (c *Cleaner) runCycle(ctx context.Context) (Stats, error) {
	c.logger.Info("starting retention cleanup")
	var stats Stats

	streams, err := c.store.ListStreams(ctx, false)
	if err != nil {
		return stats, fmt.Errorf("list streams: %w", err)
	}

	perStreamQuota := make(map[string]bool)

	for _, st := range streams {
		override, err := c.store.GetMotionConfig(ctx, st.Name)
		if err != nil {
			c.logger.Error("load motion config failed", "stream", st.Name, "error", err)
			override = nil
		}

		s, err := c.agePass(ctx, st.Name, override)
		if err != nil {
			c.logger.Error("age pass failed", "stream", st.Name, "error", err)
			continue
		}
		stats.SegmentsDeleted += s.SegmentsDeleted
		stats.BytesFreed += s.BytesFreed

		if override != nil && override.MaxStorageMB > 0 {
			perStreamQuota[st.Name] = true
			s, err := c.perStreamQuotaPass(ctx, st.Name, override)
			if err != nil {
				c.logger.Error("per-stream quota pass failed", "stream", st.Name, "error", err)
			} else {
				stats.SegmentsDeleted += s.SegmentsDeleted
				stats.BytesFreed += s.BytesFreed
			}
		}
	}

	if c.policy.MaxStorageGB > 0 {
		s, err := c.quotaPass(ctx, perStreamQuota)
		if err != nil {
			c.logger.Error("quota pass failed", "error", err)
		} else {
			stats.SegmentsDeleted += s.SegmentsDeleted
			stats.BytesFreed += s.BytesFreed
		}
	}

	orphans, err := c.orphanPass(ctx)
	if err != nil {
		c.logger.Error("orphan pass failed", "error", err)
	} else {
		stats.OrphansRemoved = orphans
	}

	c.logger.Info("retention cleanup completed",
		"segments_deleted", stats.SegmentsDeleted,
		"bytes_freed", stats.BytesFreed,
		"orphans_removed", stats.OrphansRemoved,
	)
	return stats, nil
}

// agePass deletes a stream's segments whose start time is older than
// the configured default retention, and its detection-triggered
// segments separately against the (longer) event retention window. A
// non-nil override's RetentionDays supersedes the process-wide
// Policy.DefaultDays for this stream (§3, §6.1's motion_recording_config
// per-stream override), leaving EventDays to the global policy since
// the per-stream schema has no separate event-retention column.
func (c *Cleaner) agePass(ctx context.Context, streamName string, override *catalog.StreamRetentionPolicy) (Stats, error) {
	var stats Stats

	defaultDays := c.policy.DefaultDays
	if defaultDays <= 0 {
		defaultDays = 30
	}
	if override != nil && override.RetentionDays > 0 {
		defaultDays = override.RetentionDays
	}
	eventDays := c.policy.EventDays
	if eventDays <= 0 {
		eventDays = defaultDays * 2
	}

	now := time.Now()

	cutoff := now.AddDate(0, 0, -defaultDays)
	segs, err := c.store.ListSegments(ctx, catalog.ListSegmentsOptions{StreamName: streamName, Until: &cutoff, Limit: 1000})
	if err != nil {
		return stats, fmt.Errorf("list aged segments: %w", err)
	}
	for _, seg := range segs {
		if seg.TriggeredBy == catalog.TriggerDetection {
			continue
		}
		if err := c.deleteSegment(ctx, seg); err != nil {
			c.logger.Error("delete aged segment failed", "id", seg.ID, "error", err)
			continue
		}
		stats.SegmentsDeleted++
		stats.BytesFreed += seg.SizeBytes
	}

	eventCutoff := now.AddDate(0, 0, -eventDays)
	eventSegs, err := c.store.ListSegments(ctx, catalog.ListSegmentsOptions{StreamName: streamName, Until: &eventCutoff, Limit: 1000})
	if err != nil {
		return stats, fmt.Errorf("list aged event segments: %w", err)
	}
	for _, seg := range eventSegs {
		if seg.TriggeredBy != catalog.TriggerDetection {
			continue
		}
		if err := c.deleteSegment(ctx, seg); err != nil {
			c.logger.Error("delete aged event segment failed", "id", seg.ID, "error", err)
			continue
		}
		stats.SegmentsDeleted++
		stats.BytesFreed += seg.SizeBytes
	}

	return stats, nil
}

// quotaPass deletes the oldest segments across every stream not
// already handled by its own per-stream quota (skip), roughly
// proportionally, until total usage falls back under 90% of the
// configured cap. Streams with their own max_storage_mb override are
// excluded from both the usage total and the proportional split so
// they aren't double-counted against the global pool.
func (c *Cleaner) quotaPass(ctx context.Context, skip map[string]bool) (Stats, error) {
	var stats Stats

	maxBytes := int64(c.policy.MaxStorageGB) * 1024 * 1024 * 1024

	streams, err := c.store.ListStreams(ctx, false)
	if err != nil {
		return stats, err
	}

	var total int64
	usage := make(map[string]int64, len(streams))
	for _, st := range streams {
		if skip[st.Name] {
			continue
		}
		used, err := c.store.TotalSizeBytes(ctx, st.Name)
		if err != nil {
			continue
		}
		usage[st.Name] = used
		total += used
	}

	if total <= maxBytes {
		return stats, nil
	}

	c.logger.Warn("storage quota exceeded", "used_gb", float64(total)/(1<<30), "max_gb", c.policy.MaxStorageGB)

	target := int64(float64(maxBytes) * 0.9)
	toFree := total - target

	for _, st := range streams {
		if toFree <= 0 {
			break
		}
		used := usage[st.Name]
		if used == 0 {
			continue
		}
		share := int64(float64(toFree) * (float64(used) / float64(total)))
		freed, err := c.freeSpaceForStream(ctx, st.Name, share)
		if err != nil {
			c.logger.Error("free space for stream failed", "stream", st.Name, "error", err)
			continue
		}
		stats.SegmentsDeleted += freed.SegmentsDeleted
		stats.BytesFreed += freed.BytesFreed
		toFree -= freed.BytesFreed
	}

	return stats, nil
}

// perStreamQuotaPass enforces one stream's own max_storage_mb override,
// independent of the process-wide MaxStorageGB cap.
func (c *Cleaner) perStreamQuotaPass(ctx context.Context, streamName string, override *catalog.StreamRetentionPolicy) (Stats, error) {
	var stats Stats

	maxBytes := int64(override.MaxStorageMB) * 1024 * 1024
	used, err := c.store.TotalSizeBytes(ctx, streamName)
	if err != nil {
		return stats, fmt.Errorf("total size for %s: %w", streamName, err)
	}
	if used <= maxBytes {
		return stats, nil
	}

	c.logger.Warn("per-stream storage quota exceeded", "stream", streamName, "used_mb", used/(1<<20), "max_mb", override.MaxStorageMB)

	target := int64(float64(maxBytes) * 0.9)
	return c.freeSpaceForStream(ctx, streamName, used-target)
}

func (c *Cleaner) freeSpaceForStream(ctx context.Context, streamName string, bytesToFree int64) (Stats, error) {
	var stats Stats
	var freed int64
	offset := 0
	const batchSize = 100

	for freed < bytesToFree {
		segs, err := c.store.ListSegments(ctx, catalog.ListSegmentsOptions{StreamName: streamName, Limit: batchSize, Offset: offset})
		if err != nil {
			return stats, err
		}
		if len(segs) == 0 {
			break
		}

		for _, seg := range segs {
			if freed >= bytesToFree {
				break
			}
			if err := c.deleteSegment(ctx, seg); err != nil {
				c.logger.Error("delete segment for quota failed", "id", seg.ID, "error", err)
				offset++
				continue
			}
			stats.SegmentsDeleted++
			stats.BytesFreed += seg.SizeBytes
			freed += seg.SizeBytes
		}
	}

	return stats, nil
}

// orphanPass compares on-disk files under root against catalog-known
// paths: .mp4 files the catalog has no record of are unlinked, and
// closed catalog rows whose file is missing are deleted. Open rows are
// skipped, since their file is still being written under its .part
// name. Only .mp4 files are considered for unlinking; .part, .idx and
// .corrupt files are left in place. This is the pass the teacher
// repository never implemented.
func (c *Cleaner) orphanPass(ctx context.Context) (int, error) {
	streams, err := c.store.ListStreams(ctx, true)
	if err != nil {
		return 0, err
	}

	known := make(map[string]bool)
	for _, st := range streams {
		segs, err := c.store.ListSegments(ctx, catalog.ListSegmentsOptions{StreamName: st.Name, Limit: 100000})
		if err != nil {
			continue
		}
		for _, seg := range segs {
			known[seg.Path] = true
			if seg.Status == catalog.SegmentOpen {
				continue
			}

			if _, err := os.Stat(seg.Path); os.IsNotExist(err) {
				if derr := c.store.DeleteSegment(ctx, seg.ID); derr != nil {
					c.logger.Error("delete missing-file segment row failed", "id", seg.ID, "error", derr)
				}
			}
		}
	}

	removed := 0
	err = filepath.WalkDir(c.root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if filepath.Ext(path) != ".mp4" {
			return nil
		}
		if known[path] {
			return nil
		}
		c.logger.Warn("removing orphaned segment file", "path", path)
		if rmErr := os.Remove(path); rmErr == nil {
			removed++
		}
		return nil
	})
	return removed, err
}

// deleteSegment unlinks the segment's file (ignoring a missing file —
// the invariant only requires the file be gone by the time the row is)
// before removing its catalog row, preserving I1 across a crash between
// the two steps.
func (c *Cleaner) deleteSegment(ctx context.Context, seg catalog.Segment) error {
	if err := os.Remove(seg.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("unlink segment file: %w", err)
	}
	if err := c.store.DeleteSegment(ctx, seg.ID); err != nil {
		return fmt.Errorf("delete segment row: %w", err)
	}
	return nil
}
