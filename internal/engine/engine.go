// Package engine owns every long-lived subsystem of a running recorder
// process: the catalog, the capture workers, the retention cleaner, the
// embedded message bus, and the control surface wired against them.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lightnvr/engine/internal/bus"
	"github.com/lightnvr/engine/internal/catalog"
	"github.com/lightnvr/engine/internal/config"
	"github.com/lightnvr/engine/internal/registry"
	"github.com/lightnvr/engine/internal/retention"
	"github.com/lightnvr/engine/internal/ring"
	"github.com/lightnvr/engine/internal/segstore"
	"github.com/lightnvr/engine/internal/timeline"
	"github.com/lightnvr/engine/internal/worker"
)

const stopGracePeriod = 10 * time.Second

// Engine is the single structure a process entrypoint constructs and
// drives: Start brings every subsystem up in dependency order, Shutdown
// tears them down in reverse with a bounded grace period.
type Engine struct {
	cfg   *config.Config
	db    *catalog.DB
	store *catalog.Store

	ringPool *ring.Pool
	writers  *registry.Registry
	cleaner  *retention.Cleaner
	timeline *timeline.Builder
	bus      *bus.Bus

	root   string
	logger *slog.Logger

	mu      sync.Mutex
	workers map[string]*worker.Worker
}

// New wires an Engine from a loaded configuration. It opens the catalog
// database but does not start any subsystem.
func New(cfg *config.Config) (*Engine, error) {
	catalogCfg := catalog.DefaultConfig("")
	catalogCfg.Path = cfg.System.CatalogPath
	db, err := catalog.Open(catalogCfg)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}

	store := catalog.New(db)
	e := &Engine{
		cfg:      cfg,
		db:       db,
		store:    store,
		ringPool: ring.NewPool(),
		writers:  registry.New(),
		timeline: timeline.New(store),
		root:     cfg.System.StoragePath,
		logger:   slog.Default().With("component", "engine"),
		workers:  make(map[string]*worker.Worker),
	}

	policy := retention.Policy{
		DefaultDays:  cfg.Retention.DefaultDays,
		EventDays:    cfg.Retention.EventDays,
		MaxStorageGB: cfg.Retention.MaxStorageGB,
	}
	e.cleaner = retention.New(store, e.root, policy)

	return e, nil
}

// Start runs catalog migrations, reconciles any segment left open by an
// unclean shutdown, starts the retention cleaner and message bus, then
// launches a worker for every enabled, recording-enabled stream.
func (e *Engine) Start(ctx context.Context) error {
	if err := catalog.NewMigrator(e.db).Run(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	results, err := segstore.CrashFinalize(e.root)
	if err != nil {
		e.logger.Error("crash finalize scan failed", "error", err)
	}
	for _, r := range results {
		e.logger.Info("crash-recovered segment", "path", r.FinalPath, "size_bytes", r.SizeBytes, "quarantined", r.Quarantined)
	}

	e.cleaner.Start(ctx, time.Duration(e.cfg.Retention.CleanupIntervalS)*time.Second)

	b, err := bus.New(bus.Config{Host: e.cfg.System.Bus.Host, Port: e.cfg.System.Bus.Port}, e.logger)
	if err != nil {
		return fmt.Errorf("start bus: %w", err)
	}
	e.bus = b

	streams, err := e.store.ListStreams(ctx, false)
	if err != nil {
		return fmt.Errorf("list streams: %w", err)
	}
	for _, st := range streams {
		if !st.Enabled || !st.RecordingEnabled {
			continue
		}
		if err := e.startWorker(ctx, st); err != nil {
			e.logger.Error("failed to start worker", "stream", st.Name, "error", err)
		}
	}

	e.logger.Info("engine started", "streams", len(e.workers))
	return nil
}

// Shutdown stops every worker in parallel within a grace period, then
// re-runs crash finalization (any writer that didn't close cleanly
// leaves a .part file behind) and stops the bus.
func (e *Engine) Shutdown(ctx context.Context) error {
	stopCtx, cancel := context.WithTimeout(ctx, stopGracePeriod)
	defer cancel()

	e.mu.Lock()
	workers := make(map[string]*worker.Worker, len(e.workers))
	for name, w := range e.workers {
		workers[name] = w
	}
	e.mu.Unlock()

	var wg sync.WaitGroup
	for name, w := range workers {
		wg.Add(1)
		go func(name string, w *worker.Worker) {
			defer wg.Done()
			if err := w.Stop(stopCtx); err != nil {
				e.logger.Error("worker stop failed", "stream", name, "error", err)
			}
		}(name, w)
	}
	wg.Wait()

	e.cleaner.Stop()

	if _, err := segstore.CrashFinalize(e.root); err != nil {
		e.logger.Error("shutdown crash finalize failed", "error", err)
	}

	if e.bus != nil {
		e.bus.Stop()
	}

	return e.db.Close()
}

func (e *Engine) startWorker(ctx context.Context, st catalog.Stream) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.workers[st.Name]; exists {
		return nil
	}

	detectionOnly := st.DetectionBasedRecording
	if sc := e.cfg.GetStream(st.Name); sc != nil && sc.DetectionOnly {
		detectionOnly = true
	}

	w := worker.New(worker.Config{
		StreamName:      st.Name,
		URL:             st.URL,
		SegmentSeconds:  st.SegmentSeconds,
		PreRollSeconds:  st.PreRollSeconds,
		PostRollSeconds: st.PostRollSeconds,
		FPS:             st.FPS,
		RecordAudio:     st.RecordAudio,
		Width:           st.Width,
		Height:          st.Height,
		Codec:           st.Codec,
		DetectionOnly:   detectionOnly,
	}, e.ringPool, e.writers, e.store, e.root)

	w.Start(ctx)
	e.workers[st.Name] = w
	return nil
}

// EnableStream marks a stream enabled in the catalog and starts its
// worker if recording is also enabled. Implements controlapi.Engine.
func (e *Engine) EnableStream(streamName string) error {
	ctx := context.Background()
	st, err := e.store.GetStream(ctx, streamName)
	if err != nil {
		return err
	}
	st.Enabled = true
	if err := e.store.UpsertStream(ctx, st); err != nil {
		return err
	}
	if st.RecordingEnabled {
		return e.startWorker(ctx, *st)
	}
	return nil
}

// DisableStream marks a stream disabled and stops its worker, if running.
// Implements controlapi.Engine.
func (e *Engine) DisableStream(streamName string) error {
	ctx := context.Background()
	st, err := e.store.GetStream(ctx, streamName)
	if err != nil {
		return err
	}
	st.Enabled = false
	if err := e.store.UpsertStream(ctx, st); err != nil {
		return err
	}
	return e.stopWorker(ctx, streamName)
}

func (e *Engine) stopWorker(ctx context.Context, streamName string) error {
	e.mu.Lock()
	w, exists := e.workers[streamName]
	if exists {
		delete(e.workers, streamName)
	}
	e.mu.Unlock()

	if !exists {
		return nil
	}
	stopCtx, cancel := context.WithTimeout(ctx, stopGracePeriod)
	defer cancel()
	return w.Stop(stopCtx)
}

// TriggerDetection delivers a detection event to the named stream's
// worker inbox. Implements controlapi.Engine.
func (e *Engine) TriggerDetection(streamName string, confidence float64) error {
	e.mu.Lock()
	w, exists := e.workers[streamName]
	e.mu.Unlock()

	if !exists {
		return fmt.Errorf("%w: stream %s has no running worker", catalog.ErrNotFound, streamName)
	}

	w.NotifyDetection(worker.DetectionEvent{Confidence: confidence, At: time.Now()})
	if e.bus != nil {
		_ = e.bus.Publish(bus.DetectionSubject(streamName), bus.DetectionEvent{Confidence: confidence, At: time.Now()})
	}
	return nil
}

// TriggerCleanupNow runs one retention cycle immediately and publishes
// its result on the bus. Implements controlapi.Engine.
func (e *Engine) TriggerCleanupNow() (retention.Stats, error) {
	stats, err := e.cleaner.RunNow(context.Background())
	if err != nil {
		return stats, err
	}
	if e.bus != nil {
		_ = e.bus.Publish(bus.SubjectRetentionRan, bus.RetentionRanEvent{
			SegmentsDeleted: stats.SegmentsDeleted,
			BytesFreed:      stats.BytesFreed,
			OrphansRemoved:  stats.OrphansRemoved,
			At:              time.Now(),
		})
	}
	return stats, nil
}

// SetCleanupInterval changes the retention cleaner's cadence by
// restarting its loop. Implements controlapi.Engine.
func (e *Engine) SetCleanupInterval(d time.Duration) {
	e.cleaner.Stop()
	e.cleaner.Start(context.Background(), d)
}

// SegmentPath resolves a segment's file path, MIME type, and size for a
// playback/download handler. Implements controlapi.Engine.
func (e *Engine) SegmentPath(segmentID string) (path string, mime string, size int64, err error) {
	seg, err := e.store.GetSegment(context.Background(), segmentID)
	if err != nil {
		return "", "", 0, err
	}
	return seg.Path, "video/mp4", seg.SizeBytes, nil
}

// Store exposes the catalog store for wiring into the control surface.
func (e *Engine) Store() *catalog.Store {
	return e.store
}

// Timeline exposes the timeline builder for wiring into the control surface.
func (e *Engine) Timeline() *timeline.Builder {
	return e.timeline
}
