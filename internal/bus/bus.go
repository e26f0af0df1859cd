// Package bus is the engine's pub/sub backbone (spec §6.4, §9): an
// embedded NATS server on which the engine publishes detection triggers
// and retention-ran events for anything that cares to subscribe.
// Capture Workers receive their triggers through a direct
// NotifyDetection call, not through this bus, and nothing in the engine
// currently publishes the segment opened/closed subjects.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

// Subject constants for the engine's lifecycle events.
const (
	SubjectSegmentOpened = "segment.opened"
	SubjectSegmentClosed = "segment.closed"
	SubjectRetentionRan  = "retention.ran"
)

// DetectionSubject returns the per-stream subject the engine publishes
// a stream's detection triggers on.
func DetectionSubject(streamName string) string {
	return "detect." + streamName
}

// Config controls the embedded NATS server.
type Config struct {
	Host string
	Port int
}

// DefaultConfig binds the embedded server to localhost only; nothing
// outside the process needs to reach it.
func DefaultConfig() Config {
	return Config{Host: "127.0.0.1", Port: 4222}
}

// Bus wraps an embedded NATS server and a client connection to it.
type Bus struct {
	server *server.Server
	conn   *nats.Conn
	logger *slog.Logger
}

// New starts an embedded NATS server and connects a client to it.
func New(cfg Config, logger *slog.Logger) (*Bus, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}

	opts := &server.Options{
		Host:   cfg.Host,
		Port:   cfg.Port,
		NoSigs: true,
		NoLog:  true,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create embedded nats server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(2 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("nats server not ready after 2s (port %d)", cfg.Port)
	}

	nc, err := nats.Connect(ns.ClientURL())
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("connect to embedded nats: %w", err)
	}

	logger.Info("event bus started", "url", ns.ClientURL())

	return &Bus{server: ns, conn: nc, logger: logger.With("component", "bus")}, nil
}

// Publish JSON-marshals payload and publishes it on subject.
func (b *Bus) Publish(subject string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload for %s: %w", subject, err)
	}
	return b.conn.Publish(subject, data)
}

// Subscribe registers handler for subject, returning the subscription
// so the caller can unsubscribe on teardown.
func (b *Bus) Subscribe(subject string, handler func(*nats.Msg)) (*nats.Subscription, error) {
	return b.conn.Subscribe(subject, handler)
}

// Health reports whether the client connection is active.
func (b *Bus) Health(ctx context.Context) error {
	if !b.conn.IsConnected() {
		return fmt.Errorf("nats connection not active")
	}
	return nil
}

// Stop drains the client connection and shuts down the embedded server.
func (b *Bus) Stop() {
	_ = b.conn.Drain()
	b.server.Shutdown()
	b.logger.Info("event bus stopped")
}

// SegmentLifecycleEvent is the payload shape for SubjectSegmentOpened/
// Closed.
type SegmentLifecycleEvent struct {
	StreamName string    `json:"stream_name"`
	SegmentID  string    `json:"segment_id"`
	Path       string    `json:"path"`
	At         time.Time `json:"at"`
}

// RetentionRanEvent is published after a retention cleanup cycle.
type RetentionRanEvent struct {
	SegmentsDeleted int       `json:"segments_deleted"`
	BytesFreed      int64     `json:"bytes_freed"`
	OrphansRemoved  int       `json:"orphans_removed"`
	At              time.Time `json:"at"`
}

// DetectionEvent is published to DetectionSubject(stream) by
// Engine.TriggerDetection.
type DetectionEvent struct {
	Confidence float64   `json:"confidence"`
	At         time.Time `json:"at"`
}
