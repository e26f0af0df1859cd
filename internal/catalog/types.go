package catalog

import "time"

// Stream is the persisted configuration for one capture worker. It is
// the spec's Stream configuration record (name, URL, recording
// parameters, detection wiring, transport) plus the soft-delete marker
// the Catalog Store needs for upsert/list/soft-delete/hard-delete
// semantics (§6.1).
type Stream struct {
	Name                    string
	URL                     string
	Enabled                 bool
	StreamingEnabled        bool
	RecordingEnabled        bool
	Width                   int
	Height                  int
	FPS                     int
	Codec                   string
	Priority                int
	SegmentSeconds          int
	PreRollSeconds          int
	PostRollSeconds         int
	RecordAudio             bool
	DetectionBasedRecording bool
	DetectionModel          string
	DetectionThreshold      float64
	DetectionInterval       int
	Protocol                string
	IsONVIF                 bool
	CreatedAt               time.Time
	UpdatedAt               time.Time
	DeletedAt               *time.Time
}

// SegmentStatus tracks a segment row's lifecycle independent of the
// file on disk. The Capture Worker opens rows as SegmentOpen and moves
// them to SegmentClosed when their writer closes cleanly; the Segment
// Store's crash finalize renames or quarantines files without updating
// any row, and no code path sets SegmentCorrupt.
type SegmentStatus string

const (
	SegmentOpen    SegmentStatus = "open"
	SegmentClosed  SegmentStatus = "closed"
	SegmentCorrupt SegmentStatus = "corrupt"
)

// TriggerKind records why a segment exists: continuous recording or a
// detection-triggered clip (§6.4).
type TriggerKind string

const (
	TriggerContinuous TriggerKind = "continuous"
	TriggerDetection  TriggerKind = "detection"
)

// Segment is one catalog row for a recorded file, including the
// recorded resolution, frame rate, and codec actually used for this
// file (§4.1).
type Segment struct {
	ID          string
	StreamName  string
	Path        string
	StartTime   time.Time
	EndTime     *time.Time
	Width       int
	Height      int
	FPS         int
	Codec       string
	SizeBytes   int64
	Status      SegmentStatus
	TriggeredBy TriggerKind
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ListSegmentsOptions filters and paginates ListSegments.
type ListSegmentsOptions struct {
	StreamName string
	Since      *time.Time
	Until      *time.Time
	Status     SegmentStatus
	Limit      int
	Offset     int
}

// Event is a coalesced catalog-level audit entry (§7).
type Event struct {
	ID         string
	StreamName string
	Type       string
	Message    string
	Count      int
	FirstAt    time.Time
	LastAt     time.Time
}

// StreamRetentionPolicy is a stream's per-stream retention/detection
// override, the motion_recording_config row (§3, §6.1). A stream with
// no row here follows the Retention Cleaner's process-wide Policy.
type StreamRetentionPolicy struct {
	StreamName        string
	Enabled           bool
	PreBufferSeconds  int
	PostBufferSeconds int
	MaxFileDuration   int
	Codec             string
	Quality           string
	RetentionDays     int
	MaxStorageMB      int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
