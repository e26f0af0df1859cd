package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store is the Catalog Store (spec §4.1): the single entry point the
// rest of the engine uses to read and mutate stream and segment state.
// A single RWMutex serializes writes against the write lock while reads
// take the read lock, matching the store's documented concurrency rule
// — SQLite's own locking handles cross-process safety, this mutex exists
// to keep the schema-column cache and callers' read-modify-write
// sequences coherent within one process.
type Store struct {
	db *DB

	mu      sync.RWMutex
	columns map[string]map[string]bool // table -> column -> exists
}

// New wraps db as a Store. Run migrations before constructing a Store
// so the schema-column cache reflects the final schema.
func New(db *DB) *Store {
	return &Store{db: db, columns: make(map[string]map[string]bool)}
}

// HasColumn reports whether table has the named column, caching the
// result of PRAGMA table_info after the first lookup so hot paths never
// re-query it.
func (s *Store) HasColumn(ctx context.Context, table, column string) (bool, error) {
	s.mu.RLock()
	cols, ok := s.columns[table]
	s.mu.RUnlock()
	if ok {
		return cols[column], nil
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("%w: table_info(%s): %v", ErrTransientIO, table, err)
	}
	defer rows.Close()

	cols = make(map[string]bool)
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, err
		}
		cols[name] = true
	}

	s.mu.Lock()
	s.columns[table] = cols
	s.mu.Unlock()

	return cols[column], nil
}

const streamColumns = `
	name, url, enabled, streaming_enabled, recording_enabled,
	width, height, fps, codec, priority,
	segment_seconds, pre_roll_seconds, post_roll_seconds, record_audio,
	detection_based_recording, detection_model, detection_threshold, detection_interval,
	protocol, is_onvif,
	created_at, updated_at, deleted_at
`

const segmentColumns = `
	id, stream_name, path, start_time, end_time,
	width, height, fps, codec,
	size_bytes, status, triggered_by, created_at, updated_at
`

// defaultStream fills in the recorded-resolution, codec, and transport
// fields callers left zero-valued, so the catalog row — not a hardcoded
// constant in the engine — is always the source of truth for what a
// stream actually records at.
func defaultStream(st *Stream) {
	if st.Width == 0 {
		st.Width = 1920
	}
	if st.Height == 0 {
		st.Height = 1080
	}
	if st.FPS == 0 {
		st.FPS = 15
	}
	if st.Codec == "" {
		st.Codec = "h264"
	}
	if st.Protocol == "" {
		st.Protocol = "rtsp"
	}
}

// UpsertStream inserts or replaces a stream's configuration row.
func (s *Store) UpsertStream(ctx context.Context, st *Stream) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	defaultStream(st)

	now := time.Now()
	if st.CreatedAt.IsZero() {
		st.CreatedAt = now
	}
	st.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO streams (
			name, url, enabled, streaming_enabled, recording_enabled,
			width, height, fps, codec, priority,
			segment_seconds, pre_roll_seconds, post_roll_seconds, record_audio,
			detection_based_recording, detection_model, detection_threshold, detection_interval,
			protocol, is_onvif,
			created_at, updated_at, deleted_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
		ON CONFLICT(name) DO UPDATE SET
			url = excluded.url,
			enabled = excluded.enabled,
			streaming_enabled = excluded.streaming_enabled,
			recording_enabled = excluded.recording_enabled,
			width = excluded.width,
			height = excluded.height,
			fps = excluded.fps,
			codec = excluded.codec,
			priority = excluded.priority,
			segment_seconds = excluded.segment_seconds,
			pre_roll_seconds = excluded.pre_roll_seconds,
			post_roll_seconds = excluded.post_roll_seconds,
			record_audio = excluded.record_audio,
			detection_based_recording = excluded.detection_based_recording,
			detection_model = excluded.detection_model,
			detection_threshold = excluded.detection_threshold,
			detection_interval = excluded.detection_interval,
			protocol = excluded.protocol,
			is_onvif = excluded.is_onvif,
			updated_at = excluded.updated_at,
			deleted_at = NULL
	`,
		st.Name, st.URL, boolToInt(st.Enabled), boolToInt(st.StreamingEnabled), boolToInt(st.RecordingEnabled),
		st.Width, st.Height, st.FPS, st.Codec, st.Priority,
		st.SegmentSeconds, st.PreRollSeconds, st.PostRollSeconds, boolToInt(st.RecordAudio),
		boolToInt(st.DetectionBasedRecording), st.DetectionModel, st.DetectionThreshold, st.DetectionInterval,
		st.Protocol, boolToInt(st.IsONVIF),
		st.CreatedAt.Unix(), st.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("%w: upsert stream %s: %v", ErrTransientIO, st.Name, err)
	}
	return nil
}

// GetStream returns a stream by name, including soft-deleted rows.
func (s *Store) GetStream(ctx context.Context, name string) (*Stream, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+streamColumns+" FROM streams WHERE name = ?", name)

	return scanStream(row)
}

// ListStreams returns every non-deleted stream unless includeDeleted is
// true, ordered by name.
func (s *Store) ListStreams(ctx context.Context, includeDeleted bool) ([]Stream, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT " + streamColumns + " FROM streams"
	if !includeDeleted {
		query += " WHERE deleted_at IS NULL"
	}
	query += " ORDER BY name"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: list streams: %v", ErrTransientIO, err)
	}
	defer rows.Close()

	var out []Stream
	for rows.Next() {
		st, err := scanStreamRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

// SoftDeleteStream marks a stream deleted without removing its segment
// history; retention and listing treat it as gone but DeleteSegment etc.
// still work against its historical rows.
func (s *Store) SoftDeleteStream(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE streams SET deleted_at = ?, updated_at = ? WHERE name = ? AND deleted_at IS NULL
	`, time.Now().Unix(), time.Now().Unix(), name)
	if err != nil {
		return fmt.Errorf("%w: soft delete stream %s: %v", ErrTransientIO, name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: stream %s", ErrNotFound, name)
	}
	return nil
}

// HardDeleteStream removes a stream and all its segment rows. Callers
// must have already unlinked the segment files (I1) before calling
// this; this method does not touch the filesystem.
func (s *Store) HardDeleteStream(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM segments WHERE stream_name = ?", name); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM motion_recording_config WHERE stream_name = ?", name); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM events WHERE stream_name = ?", name); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM streams WHERE name = ?", name)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// GetMotionConfig returns a stream's per-stream retention/detection
// override, or nil if none has been set — "no row" is the normal case,
// not an error, and callers should fall back to the process-wide
// default policy in that case.
func (s *Store) GetMotionConfig(ctx context.Context, streamName string) (*StreamRetentionPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT stream_name, enabled, pre_buffer_seconds, post_buffer_seconds, max_file_duration,
			codec, quality, retention_days, max_storage_mb, created_at, updated_at
		FROM motion_recording_config WHERE stream_name = ?
	`, streamName)

	var p StreamRetentionPolicy
	var enabled int
	var createdAt, updatedAt int64
	err := row.Scan(
		&p.StreamName, &enabled, &p.PreBufferSeconds, &p.PostBufferSeconds, &p.MaxFileDuration,
		&p.Codec, &p.Quality, &p.RetentionDays, &p.MaxStorageMB, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get motion config %s: %v", ErrTransientIO, streamName, err)
	}
	p.Enabled = enabled != 0
	p.CreatedAt = time.Unix(createdAt, 0)
	p.UpdatedAt = time.Unix(updatedAt, 0)
	return &p, nil
}

// UpsertMotionConfig inserts or replaces a stream's per-stream
// retention/detection override.
func (s *Store) UpsertMotionConfig(ctx context.Context, p *StreamRetentionPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO motion_recording_config (
			stream_name, enabled, pre_buffer_seconds, post_buffer_seconds, max_file_duration,
			codec, quality, retention_days, max_storage_mb, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(stream_name) DO UPDATE SET
			enabled = excluded.enabled,
			pre_buffer_seconds = excluded.pre_buffer_seconds,
			post_buffer_seconds = excluded.post_buffer_seconds,
			max_file_duration = excluded.max_file_duration,
			codec = excluded.codec,
			quality = excluded.quality,
			retention_days = excluded.retention_days,
			max_storage_mb = excluded.max_storage_mb,
			updated_at = excluded.updated_at
	`,
		p.StreamName, boolToInt(p.Enabled), p.PreBufferSeconds, p.PostBufferSeconds, p.MaxFileDuration,
		p.Codec, p.Quality, p.RetentionDays, p.MaxStorageMB, p.CreatedAt.Unix(), p.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("%w: upsert motion config %s: %v", ErrTransientIO, p.StreamName, err)
	}
	return nil
}

// OpenSegment creates a new segment row in the open state, recording
// the resolution, frame rate, and codec this segment is actually being
// written at, and returning the row's generated ID.
func (s *Store) OpenSegment(ctx context.Context, streamName, path string, start time.Time, width, height, fps int, codec string, trigger TriggerKind) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.New().String()
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO segments (
			id, stream_name, path, start_time, end_time,
			width, height, fps, codec,
			size_bytes, status, triggered_by, created_at, updated_at
		) VALUES (?, ?, ?, ?, NULL, ?, ?, ?, ?, 0, ?, ?, ?, ?)
	`, id, streamName, path, start.Unix(), width, height, fps, codec, SegmentOpen, trigger, now.Unix(), now.Unix())
	if err != nil {
		return "", fmt.Errorf("%w: open segment for %s: %v", ErrTransientIO, streamName, err)
	}
	return id, nil
}

// CloseSegment finalizes a segment row: sets end time, size, and status.
func (s *Store) CloseSegment(ctx context.Context, id string, end time.Time, sizeBytes int64, status SegmentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE segments SET end_time = ?, size_bytes = ?, status = ?, updated_at = ?
		WHERE id = ?
	`, end.Unix(), sizeBytes, status, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("%w: close segment %s: %v", ErrTransientIO, id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: segment %s", ErrNotFound, id)
	}
	return nil
}

// GetSegment returns a single segment by id.
func (s *Store) GetSegment(ctx context.Context, id string) (*Segment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+segmentColumns+" FROM segments WHERE id = ?", id)

	seg, err := scanSegmentRow(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: segment %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return seg, nil
}

// ListSegments returns segments matching opts, oldest first.
func (s *Store) ListSegments(ctx context.Context, opts ListSegmentsOptions) ([]Segment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var conditions []string
	var args []interface{}

	if opts.StreamName != "" {
		conditions = append(conditions, "stream_name = ?")
		args = append(args, opts.StreamName)
	}
	if opts.Since != nil {
		conditions = append(conditions, "start_time >= ?")
		args = append(args, opts.Since.Unix())
	}
	if opts.Until != nil {
		conditions = append(conditions, "start_time <= ?")
		args = append(args, opts.Until.Unix())
	}
	if opts.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, opts.Status)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 500
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM segments %s
		ORDER BY start_time ASC
		LIMIT ? OFFSET ?
	`, segmentColumns, where)
	args = append(args, limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list segments: %v", ErrTransientIO, err)
	}
	defer rows.Close()

	var out []Segment
	for rows.Next() {
		seg, err := scanSegmentRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *seg)
	}
	return out, rows.Err()
}

// CountSegments counts segments for a stream, optionally filtered by
// status.
func (s *Store) CountSegments(ctx context.Context, streamName string, status SegmentStatus) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT COUNT(*) FROM segments WHERE stream_name = ?"
	args := []interface{}{streamName}
	if status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: count segments for %s: %v", ErrTransientIO, streamName, err)
	}
	return count, nil
}

// DeleteSegment removes a segment row. Callers must unlink the
// underlying file first: a crash between the two steps then leaves a
// row for a missing file, which the orphan pass removes, rather than a
// file on disk that no row tracks.
func (s *Store) DeleteSegment(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM segments WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("%w: delete segment %s: %v", ErrTransientIO, id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: segment %s", ErrNotFound, id)
	}
	return nil
}

// TotalSizeBytes sums size_bytes across all segments for a stream, or
// across every stream if streamName is empty.
func (s *Store) TotalSizeBytes(ctx context.Context, streamName string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total sql.NullInt64
	var err error
	if streamName == "" {
		err = s.db.QueryRowContext(ctx, "SELECT SUM(size_bytes) FROM segments").Scan(&total)
	} else {
		err = s.db.QueryRowContext(ctx, "SELECT SUM(size_bytes) FROM segments WHERE stream_name = ?", streamName).Scan(&total)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: total size bytes: %v", ErrTransientIO, err)
	}
	return total.Int64, nil
}

// RecordEvent inserts an event, or — if an identical (type, stream,
// message) tuple was last recorded within the 60s coalescing window
// (§7) — bumps its count and last_at instead of inserting a duplicate
// row.
func (s *Store) RecordEvent(ctx context.Context, streamName, typ, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-60 * time.Second).Unix()

	var id string
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM events
		WHERE stream_name = ? AND type = ? AND message = ? AND last_at >= ?
		ORDER BY last_at DESC LIMIT 1
	`, streamName, typ, message, cutoff).Scan(&id)

	switch {
	case err == sql.ErrNoRows:
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO events (id, stream_name, type, message, count, first_at, last_at)
			VALUES (?, ?, ?, ?, 1, ?, ?)
		`, uuid.New().String(), streamName, typ, message, now.Unix(), now.Unix())
		if err != nil {
			return fmt.Errorf("%w: record event: %v", ErrTransientIO, err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("%w: coalesce lookup: %v", ErrTransientIO, err)
	default:
		_, err = s.db.ExecContext(ctx, "UPDATE events SET count = count + 1, last_at = ? WHERE id = ?", now.Unix(), id)
		if err != nil {
			return fmt.Errorf("%w: coalesce event: %v", ErrTransientIO, err)
		}
		return nil
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanStream(row rowScanner) (*Stream, error) {
	st, err := scanStreamRow(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: stream", ErrNotFound)
	}
	return st, err
}

func scanStreamRow(row rowScanner) (*Stream, error) {
	var st Stream
	var enabled, streamingEnabled, recEnabled, recordAudio, detectionBased, isONVIF int
	var createdAt, updatedAt int64
	var deletedAt sql.NullInt64

	err := row.Scan(
		&st.Name, &st.URL, &enabled, &streamingEnabled, &recEnabled,
		&st.Width, &st.Height, &st.FPS, &st.Codec, &st.Priority,
		&st.SegmentSeconds, &st.PreRollSeconds, &st.PostRollSeconds, &recordAudio,
		&detectionBased, &st.DetectionModel, &st.DetectionThreshold, &st.DetectionInterval,
		&st.Protocol, &isONVIF,
		&createdAt, &updatedAt, &deletedAt,
	)
	if err != nil {
		return nil, err
	}

	st.Enabled = enabled != 0
	st.StreamingEnabled = streamingEnabled != 0
	st.RecordingEnabled = recEnabled != 0
	st.RecordAudio = recordAudio != 0
	st.DetectionBasedRecording = detectionBased != 0
	st.IsONVIF = isONVIF != 0
	st.CreatedAt = time.Unix(createdAt, 0)
	st.UpdatedAt = time.Unix(updatedAt, 0)
	if deletedAt.Valid {
		t := time.Unix(deletedAt.Int64, 0)
		st.DeletedAt = &t
	}
	return &st, nil
}

func scanSegmentRow(row rowScanner) (*Segment, error) {
	var seg Segment
	var startTime, createdAt, updatedAt int64
	var endTime sql.NullInt64

	err := row.Scan(
		&seg.ID, &seg.StreamName, &seg.Path, &startTime, &endTime,
		&seg.Width, &seg.Height, &seg.FPS, &seg.Codec,
		&seg.SizeBytes, &seg.Status, &seg.TriggeredBy, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	seg.StartTime = time.Unix(startTime, 0)
	if endTime.Valid {
		t := time.Unix(endTime.Int64, 0)
		seg.EndTime = &t
	}
	seg.CreatedAt = time.Unix(createdAt, 0)
	seg.UpdatedAt = time.Unix(updatedAt, 0)
	return &seg, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
