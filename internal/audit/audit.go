// Package audit mirrors every event-bus publish to a best-effort,
// snappy-compressed JSONL sidecar for post-hoc debugging, independent of
// the write-ahead log. It subscribes to the bus like any other consumer —
// lossy, never blocking the publisher — and is purely diagnostic: losing
// the audit trail never affects capture correctness. The append-line/flush
// sequencing over a snappy.NewBufferedWriter sink is carried over from the
// teacher's own replay event stream (internal/replay/writer.go's
// AppendEvent), retargeted from a per-match replay bundle onto one
// long-lived sidecar file for the whole pipeline's lifetime.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang/snappy"

	"doorcam/internal/events"
	"doorcam/internal/logging"
)

// Record is one line of the audit sidecar.
type Record struct {
	Seq       uint64         `json:"seq"`
	Kind      string         `json:"kind"`
	Timestamp string         `json:"ts"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Logger appends Records to a snappy-compressed JSONL file.
type Logger struct {
	mu     sync.Mutex
	file   *os.File
	stream *snappy.Writer
	seq    uint64
	log    *logging.Logger
}

// Open creates (or truncates) the audit sidecar at path.
func Open(path string, log *logging.Logger) (*Logger, error) {
	if log == nil {
		log = logging.L()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("audit: mkdir: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("audit: create %s: %w", path, err)
	}
	return &Logger{file: file, stream: snappy.NewBufferedWriter(file), log: log}, nil
}

// Append writes one record, flushing immediately so a reader tailing the
// file always sees up-to-date data. Write failures are logged but never
// returned to the bus subscriber loop: the audit trail is best-effort.
func (l *Logger) Append(kind string, ts time.Time, fields map[string]any) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq++
	record := Record{Seq: l.seq, Kind: kind, Timestamp: ts.UTC().Format(time.RFC3339Nano), Fields: fields}
	line, err := json.Marshal(record)
	if err != nil {
		l.log.Warn("audit: marshal failed", logging.Error(err))
		return
	}
	if _, err := l.stream.Write(append(line, '\n')); err != nil {
		l.log.Warn("audit: write failed", logging.Error(err))
		return
	}
	if err := l.stream.Flush(); err != nil {
		l.log.Warn("audit: flush failed", logging.Error(err))
	}
}

// Close flushes and releases the underlying file.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.stream.Close(); err != nil {
		l.file.Close()
		return err
	}
	return l.file.Close()
}

// eventFields projects an events.Event onto the sparse field set relevant
// to its kind, omitting zero values so lines stay compact.
func eventFields(e events.Event) map[string]any {
	fields := make(map[string]any, 4)
	if e.FrameID != 0 {
		fields["frame_id"] = e.FrameID
	}
	if e.Area != 0 {
		fields["area"] = e.Area
	}
	if e.CaptureEventID != "" {
		fields["capture_event_id"] = e.CaptureEventID
	}
	if e.FrameCount != 0 {
		fields["frame_count"] = e.FrameCount
	}
	if e.Component != "" {
		fields["component"] = e.Component
	}
	if e.Message != "" {
		fields["message"] = e.Message
	}
	if len(fields) == 0 {
		return nil
	}
	return fields
}

// Attach subscribes l to bus, mirroring every event until ctx is cancelled.
// It uses SubscribeFunc so a slow or stalled sidecar write can never back
// up the publisher.
func Attach(ctx context.Context, bus *events.Bus, l *Logger) {
	if bus == nil || l == nil {
		return
	}
	bus.SubscribeFunc(ctx, func(e events.Event) {
		ts := e.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		l.Append(string(e.Kind), ts, eventFields(e))
	})
}
