// Package worker implements the Capture Worker: one goroutine per
// stream running the state machine from spec §4.5 — Idle, Connecting,
// Streaming, Rotating, Backoff, Stopping — driving ffmpeg as a raw
// elementary-stream source, feeding frames into the ring buffer pool
// and the currently armed segment writer, and rotating segments on
// keyframe boundaries.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lightnvr/engine/internal/catalog"
	"github.com/lightnvr/engine/internal/registry"
	"github.com/lightnvr/engine/internal/ring"
	"github.com/lightnvr/engine/internal/segstore"
	"github.com/lightnvr/engine/internal/video"
)

// State is one node of the Capture Worker's state machine.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateStreaming  State = "streaming"
	StateRotating   State = "rotating"
	StateBackoff    State = "backoff"
	StateStopping   State = "stopping"
)

const (
	minBackoff        = time.Second
	maxBackoff        = 30 * time.Second
	errorBurstWindow  = 10 * time.Second
	errorBurstLimit   = 5
)

// DetectionEvent is a notify_detection message (§6.4) delivered to a
// worker's inbox.
type DetectionEvent struct {
	Confidence float64
	At         time.Time
}

// Config is the subset of a Stream's catalog configuration a worker
// needs. It is captured once when the worker is constructed; reconnect
// attempts reuse it, so a changed catalog row takes effect only when a
// new worker is created for the stream.
type Config struct {
	StreamName      string
	URL             string
	SegmentSeconds  int
	PreRollSeconds  int
	PostRollSeconds int
	FPS             int
	RecordAudio     bool
	Width           int
	Height          int
	Codec           string
	DetectionOnly   bool // true: only record while a detection window is open
}

// Worker drives one stream's capture lifecycle.
type Worker struct {
	cfg      Config
	ringPool *ring.Pool
	writers  *registry.Registry
	catalog  *catalog.Store
	root     string
	inbox    chan DetectionEvent
	logger   *slog.Logger

	mu        sync.RWMutex
	state     State
	lastError string
	startedAt time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Worker. It does not start capturing until Start is
// called.
func New(cfg Config, ringPool *ring.Pool, writers *registry.Registry, store *catalog.Store, root string) *Worker {
	return &Worker{
		cfg:      cfg,
		ringPool: ringPool,
		writers:  writers,
		catalog:  store,
		root:     root,
		inbox:    make(chan DetectionEvent, 64),
		logger:   slog.Default().With("component", "worker", "stream", cfg.StreamName),
		state:    StateIdle,
		done:     make(chan struct{}),
	}
}

// State returns the worker's current state machine node.
func (w *Worker) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// NotifyDetection delivers a detection trigger to the worker's inbox.
// The inbox is bounded; when it is full, the oldest queued event is
// dropped to make room for ev.
func (w *Worker) NotifyDetection(ev DetectionEvent) {
	select {
	case w.inbox <- ev:
		return
	default:
	}
	select {
	case <-w.inbox:
		w.logger.Warn("detection inbox full, dropping oldest event")
	default:
	}
	select {
	case w.inbox <- ev:
	default:
		w.logger.Warn("detection inbox full, dropping event")
	}
}

// Start launches the worker's run loop in a new goroutine and returns
// immediately.
func (w *Worker) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.cancel = cancel
	w.startedAt = time.Now()
	w.mu.Unlock()

	if w.cfg.PreRollSeconds > 0 {
		w.ringPool.Enable(w.cfg.StreamName, w.cfg.PreRollSeconds, w.cfg.FPS)
	}

	go w.run(ctx)
}

// Stop requests the worker's run loop to exit and waits for it, closing
// out any in-flight segment on the way down.
func (w *Worker) Stop(ctx context.Context) error {
	w.setState(StateStopping)
	w.mu.RLock()
	cancel := w.cancel
	w.mu.RUnlock()
	if cancel != nil {
		cancel()
	}

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)
	defer w.setState(StateIdle)

	backoff := minBackoff
	var errorTimes []time.Time

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		w.setState(StateConnecting)
		source, err := newFFmpegSource(ctx, w.cfg, w.logger)
		if err != nil {
			w.recordFailure(err)
			if !w.sleepBackoff(ctx, &backoff) {
				return
			}
			continue
		}

		backoff = minBackoff
		w.setState(StateStreaming)
		err = w.stream(ctx, source, &errorTimes)
		_ = source.close()

		if ctx.Err() != nil {
			w.closeCurrentSegment(ctx)
			return
		}

		if err != nil {
			w.recordFailure(err)
			w.setState(StateBackoff)
			if !w.sleepBackoff(ctx, &backoff) {
				return
			}
		}
	}
}

// stream reads frames from source until it ends or errors, pushing
// each into the ring buffer and, if armed, the current writer. It
// rotates the writer on segment-duration boundaries or detection
// window edges, always cutting on a keyframe.
func (w *Worker) stream(ctx context.Context, source *ffmpegSource, errorTimes *[]time.Time) error {
	var segmentStart time.Time
	var lastTrigger time.Time
	var rearmOnKeyframe bool
	hardCeiling := time.Duration(w.cfg.SegmentSeconds*2) * time.Second

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-w.inbox:
			if w.cfg.DetectionOnly {
				lastTrigger = ev.At
				if w.armForDetection(ctx, ev) {
					segmentStart = time.Now()
				}
			}
		default:
		}

		frame, err := source.nextFrame()
		if err != nil {
			*errorTimes = append(*errorTimes, time.Now())
			*errorTimes = recentErrors(*errorTimes)
			if len(*errorTimes) >= errorBurstLimit {
				return fmt.Errorf("error burst: %w", err)
			}
			continue
		}

		if buf, ok := w.ringPool.Get(w.cfg.StreamName); ok {
			buf.Push(frame)
		}

		if w.cfg.DetectionOnly && !w.writers.Armed(w.cfg.StreamName) {
			continue
		}

		if segmentStart.IsZero() {
			if rearmOnKeyframe && !(frame.Kind == ring.FrameVideo && frame.Keyframe) {
				continue
			}
			rearmOnKeyframe = false
			segmentStart = time.Now()
			if err := w.openSegment(ctx, segmentStart); err != nil {
				return err
			}
		}

		if handle := w.writers.Handle(w.cfg.StreamName); handle != nil {
			if err := handle.Push(frame); err != nil {
				w.logger.Warn("writer push failed, disarming", "error", err)
				w.closeCurrentSegment(ctx)
				segmentStart = time.Time{}
				rearmOnKeyframe = true
				continue
			}
		}

		// Detection-triggered segments rotate on their own post-roll
		// expiry, not on the continuous-mode duration check below —
		// S2: disarm post_detection_buffer seconds after the last
		// trigger instead of recording indefinitely.
		if w.cfg.DetectionOnly {
			postRoll := time.Duration(w.cfg.PostRollSeconds) * time.Second
			if frame.Kind == ring.FrameVideo && frame.Keyframe && time.Since(lastTrigger) >= postRoll {
				w.setState(StateRotating)
				w.closeCurrentSegment(ctx)
				segmentStart = time.Time{}
				w.setState(StateStreaming)
			}
			continue
		}

		due := frame.Kind == ring.FrameVideo && frame.Keyframe &&
			time.Since(segmentStart) >= time.Duration(w.cfg.SegmentSeconds)*time.Second
		forced := time.Since(segmentStart) >= hardCeiling

		if due || forced {
			w.setState(StateRotating)
			w.closeCurrentSegment(ctx)
			segmentStart = time.Time{}
			w.setState(StateStreaming)
		}
	}
}

// armForDetection arms a writer with a keyframe-aligned pre-roll drain
// when a detection event arrives and none is currently armed. It
// reports whether it newly armed a writer, so the caller can treat the
// segment as already open instead of falling through to the
// continuous-mode open-on-next-frame path.
func (w *Worker) armForDetection(ctx context.Context, ev DetectionEvent) bool {
	if w.writers.Armed(w.cfg.StreamName) {
		return false
	}
	if err := w.openSegmentTriggered(ctx, time.Now(), catalog.TriggerDetection); err != nil {
		w.logger.Warn("failed to arm detection-triggered segment", "error", err)
		return false
	}
	return true
}

func (w *Worker) openSegment(ctx context.Context, start time.Time) error {
	return w.openSegmentTriggered(ctx, start, catalog.TriggerContinuous)
}

func (w *Worker) openSegmentTriggered(ctx context.Context, start time.Time, trigger catalog.TriggerKind) error {
	path := segstore.SegmentPath(w.root, w.cfg.StreamName, start)
	writer, err := segstore.NewWriter(path, w.cfg.Width, w.cfg.Height)
	if err != nil {
		return fmt.Errorf("open segment writer: %w", err)
	}

	var preroll []ring.Frame
	if r, ok := w.ringPool.Get(w.cfg.StreamName); ok {
		preroll = r.DrainKeyframeAligned()
	}

	previous := w.writers.Arm(w.cfg.StreamName, writer, preroll)
	if previous != nil {
		go w.finalizeDetached(ctx, previous)
	}

	if _, err := w.catalog.OpenSegment(ctx, w.cfg.StreamName, path, start, w.cfg.Width, w.cfg.Height, w.cfg.FPS, w.cfg.Codec, trigger); err != nil {
		w.logger.Warn("catalog open segment failed", "error", err)
	}
	return nil
}

func (w *Worker) closeCurrentSegment(ctx context.Context) {
	writer := w.writers.Disarm(w.cfg.StreamName)
	if writer == nil {
		return
	}
	w.finalizeDetached(ctx, writer)
}

// finalizeDetached closes a detached writer and records its result in
// the catalog. It runs independently of the registry lock, which is
// the entire point of the detach-then-close discipline.
func (w *Worker) finalizeDetached(ctx context.Context, writer *segstore.Writer) {
	size, err := writer.Close()
	if err != nil {
		w.logger.Error("segment finalize failed", "path", writer.Path(), "error", err)
		_ = w.catalog.RecordEvent(ctx, w.cfg.StreamName, "segment_finalize_failed", err.Error())
		return
	}

	segs, err := w.catalog.ListSegments(ctx, catalog.ListSegmentsOptions{StreamName: w.cfg.StreamName, Status: catalog.SegmentOpen, Limit: 1000})
	if err != nil {
		return
	}
	for _, seg := range segs {
		if seg.Path == writer.Path() {
			_ = w.catalog.CloseSegment(ctx, seg.ID, time.Now(), size, catalog.SegmentClosed)
			break
		}
	}
}

func (w *Worker) recordFailure(err error) {
	w.mu.Lock()
	w.lastError = err.Error()
	w.mu.Unlock()
	w.logger.Error("capture failure", "error", err)
	_ = w.catalog.RecordEvent(context.Background(), w.cfg.StreamName, "capture_failed", err.Error())
}

func (w *Worker) sleepBackoff(ctx context.Context, backoff *time.Duration) bool {
	w.setState(StateBackoff)
	select {
	case <-ctx.Done():
		return false
	case <-time.After(*backoff):
	}
	*backoff *= 2
	if *backoff > maxBackoff {
		*backoff = maxBackoff
	}
	return true
}

func recentErrors(times []time.Time) []time.Time {
	cutoff := time.Now().Add(-errorBurstWindow)
	out := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

// HardwareAccelArgs returns the ffmpeg decode-side args the worker
// should use for this stream, reusing the global detector so every
// worker shares the same one-time probe.
func HardwareAccelArgs(ctx context.Context) []string {
	detector := video.GetGlobalDetector()
	recommended := detector.GetRecommended(ctx)
	if recommended == video.HWAccelNone {
		return nil
	}
	return video.GetFFmpegHWAccelArgs(recommended)
}
