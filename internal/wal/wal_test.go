package wal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"doorcam/internal/frame"
)

func sampleFrames(n int) []frame.Frame {
	start := time.Now().UTC()
	frames := make([]frame.Frame, n)
	for i := 0; i < n; i++ {
		frames[i] = frame.Frame{
			ID:        uint64(i),
			Timestamp: start.Add(time.Duration(i) * 33 * time.Millisecond),
			Width:     4,
			Height:    4,
			Format:    frame.FormatRGB24,
			Payload:   []byte{byte(i), byte(i + 1), byte(i + 2)},
		}
	}
	return frames
}

// P5: WAL round-trip without truncation yields the exact frame sequence.
func TestRoundTripWithoutTruncation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "event.wal")

	w, err := Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	frames := sampleFrames(100)
	for _, f := range frames {
		if err := w.AppendFrame(f); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	result, err := ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if result.Truncated {
		t.Fatal("unexpected truncation")
	}
	if len(result.Records) != len(frames) {
		t.Fatalf("got %d records, want %d", len(result.Records), len(frames))
	}
	for i, f := range result.Records {
		if f.ID != frames[i].ID {
			t.Fatalf("record %d id = %d, want %d", i, f.ID, frames[i].ID)
		}
	}
}

// Scenario 4: truncate the last 17 bytes of a 100-record WAL and verify
// recovery yields the first 99 records plus a partial flag.
func TestTruncatedTailRecoversLeadingRecords(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "event.wal")

	w, err := Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	frames := sampleFrames(100)
	for _, f := range frames {
		if err := w.AppendFrame(f); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if err := os.Truncate(path, info.Size()-17); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	result, err := ReadFile(path)
	if err != nil {
		t.Fatalf("read after truncation: %v", err)
	}
	if !result.Truncated {
		t.Fatal("expected partial flag after truncation")
	}
	if len(result.Records) != 99 {
		t.Fatalf("got %d records, want 99", len(result.Records))
	}
}

func TestEmptyFileReportsTruncated(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.wal")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	result, err := ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !result.Truncated || len(result.Records) != 0 {
		t.Fatalf("got %+v, want empty truncated result", result)
	}
}

func TestBadMagicRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.wal")
	if err := os.WriteFile(path, []byte("XXXXX"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ReadFile(path); err == nil {
		t.Fatal("expected error for bad magic")
	}
}
