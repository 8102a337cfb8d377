package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang/snappy"

	"doorcam/internal/events"
)

func TestAppendWritesCompressedJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl.sz")
	logger, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	logger.Append(string(events.KindMotionDetected), now, map[string]any{"area": 42.0})
	logger.Append(string(events.KindShutdownRequested), now, nil)

	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open written file: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(snappy.NewReader(f))
	var records []Record
	for scanner.Scan() {
		var r Record
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			t.Fatalf("unmarshal record: %v", err)
		}
		records = append(records, r)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}

	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Seq != 1 || records[1].Seq != 2 {
		t.Fatalf("expected sequential seq numbers, got %d and %d", records[0].Seq, records[1].Seq)
	}
	if records[0].Kind != string(events.KindMotionDetected) {
		t.Fatalf("unexpected kind %q", records[0].Kind)
	}
}

func TestAttachMirrorsBusEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl.sz")
	logger, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer logger.Close()

	bus := events.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	Attach(ctx, bus, logger)
	bus.Publish(events.Event{Kind: events.KindTouchDetected, Timestamp: time.Now()})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		logger.mu.Lock()
		seq := logger.seq
		logger.mu.Unlock()
		if seq >= 1 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("expected attached audit logger to observe the published event")
}
