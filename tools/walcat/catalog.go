// Package walcat walks a storage root and lists every retained capture
// event's metadata for operator inspection. It performs no mutation and has
// no bearing on retention or recovery semantics; the directory-walk and
// stable-sort pattern is adapted from the teacher's replay catalog tool.
package walcat

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"doorcam/internal/storage"
)

// Entry pairs a capture event id with whatever metadata could be loaded.
type Entry struct {
	EventID     string            `json:"event_id"`
	WALPath     string            `json:"wal_path,omitempty"`
	MetaPath    string            `json:"metadata_path,omitempty"`
	HasMetadata bool              `json:"has_metadata"`
	Metadata    storage.Metadata  `json:"metadata,omitempty"`
}

// List walks root and returns one entry per discovered WAL file (live or
// archived), enriched with metadata when the capture has finalized.
func List(root string) ([]Entry, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("root directory must be provided")
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root must be a directory")
	}

	walDir := filepath.Join(root, "wal")
	layout := storage.NewLayout(root)

	var entries []Entry
	err = filepath.WalkDir(walDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if os.IsNotExist(walkErr) {
				return nil
			}
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		eventID := strings.TrimSuffix(strings.TrimSuffix(name, ".zst"), ".wal")
		if eventID == name {
			return nil
		}
		entry := Entry{EventID: eventID, WALPath: path, MetaPath: layout.MetadataPath(eventID)}
		if meta, err := storage.ReadMetadata(entry.MetaPath); err == nil {
			entry.HasMetadata = true
			entry.Metadata = meta
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].EventID < entries[j].EventID })
	return entries, nil
}

// MarshalEntries produces stable, indented JSON for CLI output.
func MarshalEntries(entries []Entry) ([]byte, error) {
	return json.MarshalIndent(entries, "", "  ")
}
