// Package capture implements the motion-triggered capture state machine:
// Idle -> Preroll -> Recording -> Finalizing -> Idle. It drains the ring
// buffer's preroll window into a write-ahead log on motion, keeps appending
// live frames while motion continues, and finalizes into JPEG frames plus a
// metadata document once postroll has elapsed quietly. The state machine's
// shape follows the teacher's own event-driven worker loops (subscribe,
// switch on event kind, mutate a small piece of owned state) adapted from
// internal/events' publish/subscribe pattern rather than any single teacher
// file, since the teacher has no analogous capture/record concept.
package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"doorcam/internal/events"
	"doorcam/internal/frame"
	"doorcam/internal/logging"
	"doorcam/internal/ring"
	"doorcam/internal/storage"
	"doorcam/internal/wal"
)

// State names the capture engine's position in its state machine.
type State int

const (
	Idle State = iota
	Preroll
	Recording
	Finalizing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Preroll:
		return "preroll"
	case Recording:
		return "recording"
	case Finalizing:
		return "finalizing"
	default:
		return "unknown"
	}
}

// Config tunes the capture engine's timing and output behavior.
type Config struct {
	PrerollSeconds  time.Duration
	PostrollSeconds time.Duration
	JPEGQuality     int
	// RequeueWindow bounds how long a MotionDetected arriving during
	// Finalizing may re-enter Preroll immediately after reaching Idle.
	RequeueWindow time.Duration
	// EmitFrameJPEGs writes each WAL frame out as a JPEG under the event's
	// frames/ directory during finalization, decoding non-MJPEG payloads.
	EmitFrameJPEGs bool
}

// Engine owns the capture state machine for exactly one active event at a
// time.
type Engine struct {
	cfg    Config
	buf    *ring.Buffer
	bus    *events.Bus
	layout storage.Layout
	log    *logging.Logger

	state        State
	eventID      string
	writer       *wal.Writer
	startedAt    time.Time
	lastMotionAt time.Time
	frameCount   int
	motionAreas  []storage.MotionSample
	truncated    bool

	queuedMotion   bool
	queuedAt       time.Time
	lastAppendedID uint64
	haveAppended   bool
}

// NewEngine constructs an idle capture Engine.
func NewEngine(cfg Config, buf *ring.Buffer, bus *events.Bus, layout storage.Layout, log *logging.Logger) *Engine {
	if cfg.RequeueWindow <= 0 {
		cfg.RequeueWindow = 2 * time.Second
	}
	if log == nil {
		log = logging.L()
	}
	return &Engine{cfg: cfg, buf: buf, bus: bus, layout: layout, log: log, state: Idle}
}

// State reports the engine's current state, for diagnostics.
func (e *Engine) State() State { return e.state }

// EventID reports the capture event ID currently in progress, or "" if Idle.
func (e *Engine) EventID() string { return e.eventID }

// FrameCount reports how many frames have been appended to the in-progress
// capture event.
func (e *Engine) FrameCount() int { return e.frameCount }

// Run subscribes to the bus and drives the state machine until ctx is
// cancelled.
func (e *Engine) Run(ctx context.Context) error {
	sub := e.bus.Subscribe(ctx)
	defer sub.Close()

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if e.state != Idle {
				e.finalize(time.Now())
			}
			return nil
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			e.handleEvent(ev)
		case <-ticker.C:
			e.tick(time.Now())
		}
	}
}

func (e *Engine) handleEvent(ev events.Event) {
	switch ev.Kind {
	case events.KindFrameReady:
		if e.state == Preroll || e.state == Recording {
			e.appendFrame(ev.FrameID)
		}
	case events.KindMotionDetected:
		e.onMotion(ev)
	}
}

func (e *Engine) onMotion(ev events.Event) {
	switch e.state {
	case Idle:
		e.startCapture(ev)
	case Preroll, Recording:
		e.lastMotionAt = ev.Timestamp
		e.motionAreas = append(e.motionAreas, storage.MotionSample{
			Timestamp: ev.Timestamp.UTC().Format(time.RFC3339Nano),
			Area:      ev.Area,
		})
		e.state = Recording
	case Finalizing:
		// Queued rather than discarded: spec.md's 2s re-entry window.
		e.queuedMotion = true
		e.queuedAt = ev.Timestamp
	}
}

func (e *Engine) startCapture(ev events.Event) {
	eventID := storage.NewEventID(ev.Timestamp)
	walPath := e.layout.WALPath(eventID)
	if err := os.MkdirAll(filepath.Dir(walPath), 0o755); err != nil {
		e.log.Error("capture: failed to create wal directory", logging.String("event_id", eventID), logging.Error(err))
		e.bus.Publish(events.Event{Kind: events.KindComponentError, Component: "capture", Message: err.Error()})
		return
	}
	writer, err := wal.Create(walPath)
	if err != nil {
		e.log.Error("capture: failed to open wal", logging.String("event_id", eventID), logging.Error(err))
		e.bus.Publish(events.Event{Kind: events.KindComponentError, Component: "capture", Message: err.Error()})
		return
	}

	e.eventID = eventID
	e.writer = writer
	e.startedAt = ev.Timestamp
	e.lastMotionAt = ev.Timestamp
	e.frameCount = 0
	e.motionAreas = nil
	e.truncated = false
	e.haveAppended = false
	e.state = Preroll

	for _, f := range e.buf.Preroll(ev.Timestamp, e.cfg.PrerollSeconds) {
		e.writeFrame(f)
	}

	e.bus.Publish(events.Event{Kind: events.KindCaptureStarted, CaptureEventID: eventID, Timestamp: ev.Timestamp})
	e.state = Recording
}

func (e *Engine) appendFrame(id uint64) {
	if e.haveAppended && id == e.lastAppendedID {
		return
	}
	f, ok := e.buf.Get(id)
	if !ok {
		return
	}
	e.writeFrame(f)
}

func (e *Engine) writeFrame(f frame.Frame) {
	if e.writer == nil {
		return
	}
	if err := e.writer.AppendFrame(f); err != nil {
		e.log.Error("capture: wal append failed", logging.String("event_id", e.eventID), logging.Error(err))
		e.bus.Publish(events.Event{Kind: events.KindComponentError, Component: "capture", Message: err.Error()})
		e.truncated = true
		e.finalize(f.Timestamp)
		return
	}
	e.frameCount++
	e.lastAppendedID = f.ID
	e.haveAppended = true
}

func (e *Engine) tick(now time.Time) {
	switch e.state {
	case Recording:
		if now.Sub(e.lastMotionAt) >= e.cfg.PostrollSeconds {
			e.state = Finalizing
			e.finalize(now)
		}
	case Finalizing:
		// finalize() transitions back to Idle synchronously, so this state is
		// reachable on tick only if finalize was interrupted earlier; run it
		// again to complete the transition.
		e.finalize(now)
	case Idle:
		if e.queuedMotion && now.Sub(e.queuedAt) <= e.cfg.RequeueWindow {
			e.queuedMotion = false
			e.startCapture(events.Event{Kind: events.KindMotionDetected, Timestamp: e.queuedAt})
		} else {
			e.queuedMotion = false
		}
	}
}

func (e *Engine) finalize(now time.Time) {
	if e.writer == nil {
		e.state = Idle
		return
	}

	eventID := e.eventID
	if err := e.writer.Close(); err != nil {
		e.log.Warn("capture: wal close failed", logging.String("event_id", eventID), logging.Error(err))
		e.truncated = true
	}

	artifacts := []storage.Artifact{
		{Kind: "wal", Path: e.layout.WALPath(eventID)},
	}
	if e.cfg.EmitFrameJPEGs && !e.truncated {
		if paths, err := e.writeFrameJPEGs(eventID); err != nil {
			e.log.Warn("capture: frame extraction failed", logging.String("event_id", eventID), logging.Error(err))
		} else {
			for _, p := range paths {
				artifacts = append(artifacts, storage.Artifact{Kind: "frame", Path: p})
			}
		}
	}

	meta := storage.Metadata{
		EventID:     eventID,
		StartedAt:   e.startedAt.UTC().Format(time.RFC3339Nano),
		EndedAt:     now.UTC().Format(time.RFC3339Nano),
		FrameCount:  e.frameCount,
		MotionAreas: e.motionAreas,
		Truncated:   e.truncated,
		Artifacts:   artifacts,
	}

	if err := storage.WriteMetadata(e.layout.MetadataPath(eventID), meta); err != nil {
		e.log.Error("capture: metadata write failed", logging.String("event_id", eventID), logging.Error(err))
	}

	e.bus.Publish(events.Event{
		Kind:           events.KindCaptureCompleted,
		CaptureEventID: eventID,
		FrameCount:     e.frameCount,
		Timestamp:      now,
	})

	e.writer = nil
	e.eventID = ""
	e.state = Idle
}

// writeFrameJPEGs re-reads the just-closed WAL and writes each record out as
// a JPEG under the event's frames directory, decoding non-MJPEG payloads.
func (e *Engine) writeFrameJPEGs(eventID string) ([]string, error) {
	read, err := wal.ReadFile(e.layout.WALPath(eventID))
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(read.Records))
	for i, f := range read.Records {
		jpegBytes, err := f.EncodeJPEG(e.cfg.JPEGQuality)
		if err != nil {
			return paths, fmt.Errorf("encode frame %d: %w", f.ID, err)
		}
		path := e.layout.FramePath(eventID, i)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return paths, err
		}
		if err := os.WriteFile(path, jpegBytes, 0o644); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}
