package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"doorcam/internal/logging"
)

// Stats summarises the last retention sweep.
type Stats struct {
	EventsKept    int
	EventsRemoved int
	Archived      int
	LastSweep     time.Time
}

// Janitor enumerates capture-event artifacts on a schedule, deletes those
// older than the configured retention window, and archives WAL files of
// finalized events that have aged past the (shorter) archival threshold.
// The sweep/removal structure mirrors the teacher's replay retention
// cleaner; the per-event-id grouping and archival step are new.
type Janitor struct {
	mu           sync.RWMutex
	layout       Layout
	retention    time.Duration
	archiveAfter time.Duration
	log          *logging.Logger
	now          func() time.Time
	stats        Stats
}

// NewJanitor constructs a Janitor for the given layout.
func NewJanitor(layout Layout, retention, archiveAfter time.Duration, logger *logging.Logger) *Janitor {
	if logger == nil {
		logger = logging.L()
	}
	return &Janitor{layout: layout, retention: retention, archiveAfter: archiveAfter, log: logger, now: time.Now}
}

// Run executes retention sweeps on interval until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context, interval time.Duration) {
	if j == nil || ctx == nil {
		return
	}
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	j.sweep()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.sweep()
		}
	}
}

// RunOnce performs a single sweep, primarily for tests.
func (j *Janitor) RunOnce() { j.sweep() }

// Stats returns the most recent sweep's statistics.
func (j *Janitor) Stats() Stats {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.stats
}

func (j *Janitor) sweep() {
	ids := j.collectEventIDs()
	now := j.now()
	stats := Stats{LastSweep: now}

	finalized := j.finalizedIDs()

	for _, id := range ids {
		ts, err := ParseEventTimestamp(id)
		if err != nil {
			// Parse failures skip the entry rather than risk deleting
			// something the janitor cannot date.
			j.log.Warn("janitor: skipping unparsable event id", logging.String("event_id", id), logging.Error(err))
			stats.EventsKept++
			continue
		}
		age := now.Sub(ts)
		if j.retention > 0 && age > j.retention {
			j.removeEvent(id)
			stats.EventsRemoved++
			continue
		}
		stats.EventsKept++
		if finalized[id] && j.archiveAfter > 0 && age > j.archiveAfter {
			if j.archiveWAL(id) {
				stats.Archived++
			}
		}
	}

	j.mu.Lock()
	j.stats = stats
	j.mu.Unlock()
}

func (j *Janitor) collectEventIDs() []string {
	seen := make(map[string]struct{})
	add := func(name string) {
		seen[name] = struct{}{}
	}

	walDir := filepath.Join(j.layout.root, "wal")
	if entries, err := os.ReadDir(walDir); err == nil {
		for _, e := range entries {
			name := e.Name()
			name = strings.TrimSuffix(name, ".wal.zst")
			name = strings.TrimSuffix(name, ".wal")
			add(name)
		}
	}
	if entries, err := os.ReadDir(j.layout.root); err == nil {
		for _, e := range entries {
			name := e.Name()
			switch {
			case e.IsDir() && name != "wal" && name != "metadata":
				add(name)
			case strings.HasSuffix(name, ".mp4"):
				add(strings.TrimSuffix(name, ".mp4"))
			}
		}
	}
	metaDir := filepath.Join(j.layout.root, "metadata")
	if entries, err := os.ReadDir(metaDir); err == nil {
		for _, e := range entries {
			add(strings.TrimSuffix(e.Name(), ".json"))
		}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (j *Janitor) finalizedIDs() map[string]bool {
	out := make(map[string]bool)
	metaDir := filepath.Join(j.layout.root, "metadata")
	entries, err := os.ReadDir(metaDir)
	if err != nil {
		return out
	}
	for _, e := range entries {
		out[strings.TrimSuffix(e.Name(), ".json")] = true
	}
	return out
}

func (j *Janitor) removeEvent(id string) {
	paths := []string{
		j.layout.WALPath(id),
		j.layout.WALPath(id) + ".zst",
		filepath.Join(j.layout.root, id),
		j.layout.ArtifactPath(id),
		j.layout.MetadataPath(id),
	}
	for _, p := range paths {
		if err := os.RemoveAll(p); err != nil && !os.IsNotExist(err) {
			j.log.Warn("janitor: removal failed", logging.String("path", p), logging.Error(err))
		}
	}
}

func (j *Janitor) archiveWAL(id string) bool {
	src := j.layout.WALPath(id)
	if _, err := os.Stat(src); err != nil {
		return false
	}
	dst := src + ".zst"
	if _, err := os.Stat(dst); err == nil {
		return false
	}
	if err := compressFile(src, dst); err != nil {
		j.log.Warn("janitor: archive failed", logging.String("event_id", id), logging.Error(err))
		return false
	}
	if err := os.Remove(src); err != nil {
		j.log.Warn("janitor: archive cleanup failed", logging.String("event_id", id), logging.Error(err))
	}
	return true
}

func compressFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()
	enc, err := zstd.NewWriter(out)
	if err != nil {
		return err
	}
	buf := make([]byte, 64*1024)
	for {
		n, readErr := in.Read(buf)
		if n > 0 {
			if _, writeErr := enc.Write(buf[:n]); writeErr != nil {
				enc.Close()
				return writeErr
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			enc.Close()
			return readErr
		}
	}
	return enc.Close()
}
