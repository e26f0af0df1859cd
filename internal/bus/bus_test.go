package bus

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	b, err := New(Config{Host: "127.0.0.1", Port: -1}, slog.Default())
	if err != nil {
		t.Fatalf("new bus: %v", err)
	}
	t.Cleanup(b.Stop)
	return b
}

func TestBus_PublishSubscribeRoundTrip(t *testing.T) {
	b := newTestBus(t)

	received := make(chan SegmentLifecycleEvent, 1)
	sub, err := b.Subscribe(SubjectSegmentOpened, func(msg *nats.Msg) {
		received <- SegmentLifecycleEvent{Path: string(msg.Data)}
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	if err := b.Publish(SubjectSegmentOpened, "\"/data/cam1/seg1.mp4\""); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published message")
	}
}

func TestBus_DetectionSubjectIsPerStream(t *testing.T) {
	if DetectionSubject("cam1") == DetectionSubject("cam2") {
		t.Fatal("expected distinct subjects per stream")
	}
}

func TestBus_Health(t *testing.T) {
	b := newTestBus(t)
	if err := b.Health(context.Background()); err != nil {
		t.Fatalf("expected healthy connection, got %v", err)
	}
}
