// Package storage lays out capture-event artifacts on disk and prunes them
// on a retention schedule. The directory walk and removal pattern is
// adapted from the teacher's replay retention cleaner; the layout itself
// (wal/<event_id>.wal, <event_id>/frames/*.jpg, <event_id>.mp4,
// metadata/<event_id>.json) is fixed by the event-storage contract.
package storage

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

// eventIDLayout matches the UTC-timestamp-named retention records:
// YYYYMMDD_HHMMSS_mmm, optionally suffixed with "-N" for a same-millisecond
// disambiguator.
const eventIDLayout = "20060102_150405.000"

var disambiguatorPattern = regexp.MustCompile(`^(\d{8}_\d{6}_\d{3})(?:-(\d+))?$`)

var idMu sync.Mutex
var lastMillis int64
var lastSeq int

// NewEventID allocates a timestamp-named event id, guaranteeing uniqueness
// across same-millisecond triggers via a monotonic disambiguator.
func NewEventID(t time.Time) string {
	idMu.Lock()
	defer idMu.Unlock()

	millis := t.UTC().UnixMilli()
	base := formatMillis(millis)
	if millis == lastMillis {
		lastSeq++
		return fmt.Sprintf("%s-%d", base, lastSeq)
	}
	lastMillis = millis
	lastSeq = 0
	return base
}

func formatMillis(millis int64) string {
	t := time.UnixMilli(millis).UTC()
	return fmt.Sprintf("%s_%s_%03d", t.Format("20060102"), t.Format("150405"), t.Nanosecond()/1_000_000)
}

// ParseEventTimestamp extracts the UTC instant encoded in an event id,
// tolerating the monotonic disambiguator suffix.
func ParseEventTimestamp(eventID string) (time.Time, error) {
	m := disambiguatorPattern.FindStringSubmatch(eventID)
	if m == nil {
		return time.Time{}, fmt.Errorf("storage: %q does not match event id layout", eventID)
	}
	parts := strings.SplitN(m[1], "_", 3)
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf("storage: malformed event id %q", eventID)
	}
	raw := fmt.Sprintf("%s_%s.%s", parts[0], parts[1], parts[2])
	return time.ParseInLocation(eventIDLayout, raw, time.UTC)
}

// Layout resolves the on-disk paths for a capture event rooted at root.
type Layout struct {
	root string
}

// NewLayout constructs a Layout rooted at the given storage directory.
func NewLayout(root string) Layout { return Layout{root: root} }

// Root returns the storage root directory.
func (l Layout) Root() string { return l.root }

// WALPath returns <root>/wal/<event_id>.wal.
func (l Layout) WALPath(eventID string) string {
	return filepath.Join(l.root, "wal", eventID+".wal")
}

// FramesDir returns <root>/<event_id>/frames.
func (l Layout) FramesDir(eventID string) string {
	return filepath.Join(l.root, eventID, "frames")
}

// FramePath returns the zero-padded JPEG path for a frame within an event.
func (l Layout) FramePath(eventID string, frameIndex int) string {
	return filepath.Join(l.FramesDir(eventID), fmt.Sprintf("%010d.jpg", frameIndex))
}

// ArtifactPath returns <root>/<event_id>.mp4.
func (l Layout) ArtifactPath(eventID string) string {
	return filepath.Join(l.root, eventID+".mp4")
}

// MetadataPath returns <root>/metadata/<event_id>.json.
func (l Layout) MetadataPath(eventID string) string {
	return filepath.Join(l.root, "metadata", eventID+".json")
}
