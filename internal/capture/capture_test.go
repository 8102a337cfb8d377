package capture

import (
	"context"
	"testing"
	"time"

	"doorcam/internal/events"
	"doorcam/internal/frame"
	"doorcam/internal/logging"
	"doorcam/internal/ring"
	"doorcam/internal/storage"
	"doorcam/internal/wal"
)

func pushFrame(buf *ring.Buffer, bus *events.Bus, id uint64, ts time.Time) {
	f := frame.Frame{ID: id, Timestamp: ts, Width: 4, Height: 4, Format: frame.FormatRGB24, Payload: []byte{1, 2, 3}}
	buf.Push(f)
	bus.Publish(events.Event{Kind: events.KindFrameReady, FrameID: id, Timestamp: ts})
}

// A MotionDetected while Idle drains the preroll window into a fresh WAL
// and publishes CaptureStarted.
func TestEngineStartsCaptureOnMotion(t *testing.T) {
	buf := ring.New(64)
	bus := events.New()
	layout := storage.NewLayout(t.TempDir())
	e := NewEngine(Config{PrerollSeconds: time.Second, PostrollSeconds: time.Second}, buf, bus, layout, logging.NewTestLogger())

	sub := bus.Subscribe(context.Background())
	defer sub.Close()

	now := time.Now()
	for i := 0; i < 5; i++ {
		pushFrame(buf, bus, uint64(i), now.Add(time.Duration(i)*200*time.Millisecond))
	}

	e.onMotion(events.Event{Kind: events.KindMotionDetected, Timestamp: now.Add(900 * time.Millisecond)})

	if e.State() != Recording {
		t.Fatalf("state = %v, want Recording", e.State())
	}
	if e.EventID() == "" {
		t.Fatal("expected a non-empty event id after capture start")
	}
	if e.FrameCount() == 0 {
		t.Fatal("expected preroll frames to have been drained into the wal")
	}

	result, err := wal.ReadFile(layout.WALPath(e.EventID()))
	if err != nil {
		t.Fatalf("read wal: %v", err)
	}
	if len(result.Records) != e.FrameCount() {
		t.Fatalf("wal has %d records, engine counted %d", len(result.Records), e.FrameCount())
	}
}

// Continued motion during Recording keeps appending frames and accumulates
// motion-area samples.
func TestEngineAppendsFramesWhileRecording(t *testing.T) {
	buf := ring.New(64)
	bus := events.New()
	layout := storage.NewLayout(t.TempDir())
	e := NewEngine(Config{PrerollSeconds: time.Second, PostrollSeconds: time.Second}, buf, bus, layout, logging.NewTestLogger())

	now := time.Now()
	pushFrame(buf, bus, 0, now)
	e.onMotion(events.Event{Kind: events.KindMotionDetected, Timestamp: now})
	startCount := e.FrameCount()

	for i := 1; i <= 3; i++ {
		ts := now.Add(time.Duration(i) * 100 * time.Millisecond)
		pushFrame(buf, bus, uint64(i), ts)
		e.handleEvent(events.Event{Kind: events.KindFrameReady, FrameID: uint64(i), Timestamp: ts})
		e.onMotion(events.Event{Kind: events.KindMotionDetected, Area: 100, Timestamp: ts})
	}

	if e.FrameCount() <= startCount {
		t.Fatalf("frame count did not advance: started at %d, now %d", startCount, e.FrameCount())
	}
	if len(e.motionAreas) != 3 {
		t.Fatalf("motionAreas = %d samples, want 3", len(e.motionAreas))
	}
}

// Once postroll elapses without further motion, tick() finalizes the event:
// the engine returns to Idle and a metadata document is written.
func TestEngineFinalizesAfterPostroll(t *testing.T) {
	buf := ring.New(64)
	bus := events.New()
	layout := storage.NewLayout(t.TempDir())
	e := NewEngine(Config{PrerollSeconds: time.Second, PostrollSeconds: time.Second}, buf, bus, layout, logging.NewTestLogger())

	now := time.Now()
	pushFrame(buf, bus, 0, now)
	e.onMotion(events.Event{Kind: events.KindMotionDetected, Timestamp: now})
	eventID := e.EventID()
	if eventID == "" {
		t.Fatal("expected capture to start")
	}

	e.tick(now.Add(2 * time.Second))

	if e.State() != Idle {
		t.Fatalf("state = %v, want Idle after postroll elapses", e.State())
	}
	if e.EventID() != "" {
		t.Fatal("expected event id to clear after finalize")
	}

	meta, err := storage.ReadMetadata(layout.MetadataPath(eventID))
	if err != nil {
		t.Fatalf("read metadata: %v", err)
	}
	if meta.EventID != eventID {
		t.Fatalf("metadata event_id = %q, want %q", meta.EventID, eventID)
	}
	if meta.Truncated {
		t.Fatal("did not expect a truncated finalize")
	}
}

// MotionDetected arriving during Finalizing is queued and, if it lands
// within the requeue window after reaching Idle, re-enters Preroll rather
// than being discarded.
func TestEngineRequeuesMotionDuringFinalize(t *testing.T) {
	buf := ring.New(64)
	bus := events.New()
	layout := storage.NewLayout(t.TempDir())
	e := NewEngine(Config{PrerollSeconds: time.Second, PostrollSeconds: time.Second, RequeueWindow: 2 * time.Second}, buf, bus, layout, logging.NewTestLogger())

	now := time.Now()
	pushFrame(buf, bus, 0, now)
	e.onMotion(events.Event{Kind: events.KindMotionDetected, Timestamp: now})

	e.state = Finalizing
	queuedAt := now.Add(500 * time.Millisecond)
	e.onMotion(events.Event{Kind: events.KindMotionDetected, Timestamp: queuedAt})

	if !e.queuedMotion {
		t.Fatal("expected motion during Finalizing to be queued, not dropped")
	}

	e.finalize(now.Add(600 * time.Millisecond))
	if e.State() != Idle {
		t.Fatalf("state = %v, want Idle immediately after finalize", e.State())
	}

	e.tick(queuedAt.Add(100 * time.Millisecond))

	if e.State() != Recording {
		t.Fatalf("state = %v, want Recording after requeued motion re-enters within the window", e.State())
	}
}

// A requeued motion arriving after the requeue window has elapsed is
// dropped instead of restarting a capture.
func TestEngineDropsStaleRequeuedMotion(t *testing.T) {
	buf := ring.New(64)
	bus := events.New()
	layout := storage.NewLayout(t.TempDir())
	e := NewEngine(Config{PrerollSeconds: time.Second, PostrollSeconds: time.Second, RequeueWindow: time.Second}, buf, bus, layout, logging.NewTestLogger())

	now := time.Now()
	e.state = Finalizing
	e.onMotion(events.Event{Kind: events.KindMotionDetected, Timestamp: now})
	if !e.queuedMotion {
		t.Fatal("expected motion to be queued while Finalizing")
	}

	e.state = Idle
	e.tick(now.Add(5 * time.Second))

	if e.State() != Idle {
		t.Fatalf("state = %v, want Idle: stale requeued motion should not restart a capture", e.State())
	}
}

// Run must drain any in-progress capture to a finalized state when ctx is
// cancelled mid-recording, rather than leaving a dangling WAL.
func TestEngineRunFinalizesOnShutdown(t *testing.T) {
	buf := ring.New(64)
	bus := events.New()
	layout := storage.NewLayout(t.TempDir())
	e := NewEngine(Config{PrerollSeconds: time.Second, PostrollSeconds: 10 * time.Second}, buf, bus, layout, logging.NewTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	now := time.Now()
	pushFrame(buf, bus, 0, now)
	bus.Publish(events.Event{Kind: events.KindMotionDetected, Timestamp: now})

	// Give the Run loop's event-subscriber goroutine a moment to observe
	// the motion event before cancelling.
	time.Sleep(50 * time.Millisecond)
	eventID := e.EventID()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}

	if e.State() != Idle {
		t.Fatalf("state = %v, want Idle after shutdown finalize", e.State())
	}
	if eventID != "" {
		if _, err := storage.ReadMetadata(layout.MetadataPath(eventID)); err != nil {
			t.Fatalf("expected metadata to be written on shutdown finalize: %v", err)
		}
	}
}
