// Package timeline builds the gap-filled segment/recording manifest a
// client uses to scrub a stream's history, and an HLS-style playlist
// covering the same range.
package timeline

import (
	"context"
	"sort"
	"time"

	"github.com/lightnvr/engine/internal/catalog"
)

// EntryType distinguishes a manifest entry backed by a real segment
// from a gap where nothing was recorded.
type EntryType string

const (
	EntryRecording EntryType = "recording"
	EntryGap       EntryType = "gap"
)

// Entry is one contiguous span of the manifest: either a recording
// (possibly merged from several adjacent segments) or a gap.
type Entry struct {
	StartTime  time.Time
	EndTime    time.Time
	Type       EntryType
	SegmentIDs []string
	HasEvents  bool
}

// Manifest is the gap-filled view of a stream's recording history over
// a requested range.
type Manifest struct {
	StreamName string
	StartTime  time.Time
	EndTime    time.Time
	Entries    []Entry
	TotalBytes int64
	TotalHours float64
}

// Builder constructs manifests from the catalog.
type Builder struct {
	store *catalog.Store
}

// New builds a Builder bound to store.
func New(store *catalog.Store) *Builder {
	return &Builder{store: store}
}

// BuildManifest returns the gap-filled manifest for streamName across
// [start, end), merging adjacent or overlapping segments into a single
// recording entry the way the teacher's BuildTimeline does.
func (b *Builder) BuildManifest(ctx context.Context, streamName string, start, end time.Time) (*Manifest, error) {
	segs, err := b.store.ListSegments(ctx, catalog.ListSegmentsOptions{
		StreamName: streamName,
		Since:      &start,
		Until:      &end,
		Limit:      100000,
	})
	if err != nil {
		return nil, err
	}

	m := &Manifest{StreamName: streamName, StartTime: start, EndTime: end}

	if len(segs) == 0 {
		m.Entries = append(m.Entries, Entry{StartTime: start, EndTime: end, Type: EntryGap})
		return m, nil
	}

	sort.Slice(segs, func(i, j int) bool { return segs[i].StartTime.Before(segs[j].StartTime) })

	current := start
	var totalSize int64
	var totalDuration time.Duration

	for _, seg := range segs {
		segStart := seg.StartTime
		segEnd := segEndOrNow(seg)
		if segStart.Before(start) {
			segStart = start
		}
		if segEnd.After(end) {
			segEnd = end
		}
		if !segEnd.After(segStart) {
			continue
		}

		if current.Before(segStart) {
			m.Entries = append(m.Entries, Entry{StartTime: current, EndTime: segStart, Type: EntryGap})
		}

		if n := len(m.Entries); n > 0 {
			last := &m.Entries[n-1]
			if last.Type == EntryRecording && !last.EndTime.Before(segStart) {
				if segEnd.After(last.EndTime) {
					last.EndTime = segEnd
				}
				last.SegmentIDs = append(last.SegmentIDs, seg.ID)
				if seg.TriggeredBy == catalog.TriggerDetection {
					last.HasEvents = true
				}
				current = segEnd
				totalSize += seg.SizeBytes
				totalDuration += segEnd.Sub(segStart)
				continue
			}
		}

		m.Entries = append(m.Entries, Entry{
			StartTime:  segStart,
			EndTime:    segEnd,
			Type:       EntryRecording,
			SegmentIDs: []string{seg.ID},
			HasEvents:  seg.TriggeredBy == catalog.TriggerDetection,
		})
		current = segEnd
		totalSize += seg.SizeBytes
		totalDuration += segEnd.Sub(segStart)
	}

	if current.Before(end) {
		m.Entries = append(m.Entries, Entry{StartTime: current, EndTime: end, Type: EntryGap})
	}

	m.TotalBytes = totalSize
	m.TotalHours = totalDuration.Hours()
	return m, nil
}

// Coverage returns the fraction (0-1) of [start, end) with a recording
// entry.
func (b *Builder) Coverage(ctx context.Context, streamName string, start, end time.Time) (float64, error) {
	m, err := b.BuildManifest(ctx, streamName, start, end)
	if err != nil {
		return 0, err
	}
	total := end.Sub(start)
	if total <= 0 {
		return 0, nil
	}
	var recorded time.Duration
	for _, e := range m.Entries {
		if e.Type == EntryRecording {
			recorded += e.EndTime.Sub(e.StartTime)
		}
	}
	return float64(recorded) / float64(total), nil
}

// DailyStats summarizes one stream's recording activity for a single
// calendar day (teacher's GetDailyStats, rebound to the catalog).
type DailyStats struct {
	Date         time.Time
	StreamName   string
	TotalSeconds float64
	TotalBytes   int64
	SegmentCount int
	EventCount   int
	Coverage     float64
}

// DailyStats computes aggregate statistics for streamName on the
// calendar day containing date, in date's location.
func (b *Builder) DailyStats(ctx context.Context, streamName string, date time.Time) (*DailyStats, error) {
	start := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	end := start.Add(24 * time.Hour)

	segs, err := b.store.ListSegments(ctx, catalog.ListSegmentsOptions{StreamName: streamName, Since: &start, Until: &end, Limit: 100000})
	if err != nil {
		return nil, err
	}

	stats := &DailyStats{Date: start, StreamName: streamName}
	for _, seg := range segs {
		dur := segEndOrNow(seg).Sub(seg.StartTime).Seconds()
		stats.TotalSeconds += dur
		stats.TotalBytes += seg.SizeBytes
		stats.SegmentCount++
		if seg.TriggeredBy == catalog.TriggerDetection {
			stats.EventCount++
		}
	}
	stats.Coverage = stats.TotalSeconds / (24 * 3600)
	return stats, nil
}

func segEndOrNow(seg catalog.Segment) time.Time {
	if seg.EndTime != nil {
		return *seg.EndTime
	}
	return time.Now()
}
