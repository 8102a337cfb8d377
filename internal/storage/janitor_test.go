package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

// P6: the Janitor never deletes an entry whose parsed timestamp is within
// retention_seconds of now.
func TestJanitorKeepsRecentEvents(t *testing.T) {
	root := t.TempDir()
	layout := NewLayout(root)

	recentID := NewEventID(time.Now().UTC())
	writeFile(t, layout.WALPath(recentID), []byte("wal"))

	j := NewJanitor(layout, time.Hour, 0, nil)
	j.RunOnce()

	if _, err := os.Stat(layout.WALPath(recentID)); err != nil {
		t.Fatalf("recent event was removed: %v", err)
	}
}

func TestJanitorRemovesAgedEvents(t *testing.T) {
	root := t.TempDir()
	layout := NewLayout(root)

	oldTime := time.Now().UTC().Add(-2 * time.Hour)
	oldID := NewEventID(oldTime)
	writeFile(t, layout.WALPath(oldID), []byte("wal"))
	writeFile(t, layout.MetadataPath(oldID), []byte("{}"))

	j := NewJanitor(layout, time.Hour, 0, nil)
	j.RunOnce()

	if _, err := os.Stat(layout.WALPath(oldID)); !os.IsNotExist(err) {
		t.Fatalf("expected aged wal to be removed, stat err = %v", err)
	}
	if _, err := os.Stat(layout.MetadataPath(oldID)); !os.IsNotExist(err) {
		t.Fatalf("expected aged metadata to be removed, stat err = %v", err)
	}
}

func TestJanitorSkipsUnparsableNames(t *testing.T) {
	root := t.TempDir()
	layout := NewLayout(root)
	writeFile(t, layout.WALPath("not-a-timestamp"), []byte("wal"))

	j := NewJanitor(layout, time.Hour, 0, nil)
	j.RunOnce()

	if _, err := os.Stat(layout.WALPath("not-a-timestamp")); err != nil {
		t.Fatalf("expected unparsable entry to survive sweep: %v", err)
	}
	if j.Stats().EventsKept != 1 {
		t.Fatalf("expected 1 kept event, got %d", j.Stats().EventsKept)
	}
}

func TestJanitorArchivesFinalizedWAL(t *testing.T) {
	root := t.TempDir()
	layout := NewLayout(root)

	id := NewEventID(time.Now().UTC().Add(-10 * time.Minute))
	writeFile(t, layout.WALPath(id), []byte("some wal bytes"))
	writeFile(t, layout.MetadataPath(id), []byte("{}"))

	j := NewJanitor(layout, time.Hour, time.Minute, nil)
	j.RunOnce()

	if _, err := os.Stat(layout.WALPath(id) + ".zst"); err != nil {
		t.Fatalf("expected archived wal: %v", err)
	}
	if _, err := os.Stat(layout.WALPath(id)); !os.IsNotExist(err) {
		t.Fatal("expected original wal to be removed after archival")
	}
	if j.Stats().Archived != 1 {
		t.Fatalf("archived count = %d, want 1", j.Stats().Archived)
	}
}

func TestParseEventTimestampRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	id := NewEventID(now)
	got, err := ParseEventTimestamp(id)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !got.Equal(now) {
		t.Fatalf("got %v, want %v", got, now)
	}
}
