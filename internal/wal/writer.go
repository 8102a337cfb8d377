package wal

import (
	"fmt"
	"hash/crc32"
	"os"
	"sync"

	"doorcam/internal/frame"
)

// Writer is a single-writer, append-only WAL sink for one capture event.
// Every record is flushed to the OS immediately after write and the file is
// fsynced on Close, matching the recovery contract: a crash mid-append can
// only lose the tail of the file, never corrupt an already-flushed record.
type Writer struct {
	mu      sync.Mutex
	file    *os.File
	path    string
	count   int
	closed  bool
}

// Create opens a new WAL file at path, writing the magic/version header.
func Create(path string) (*Writer, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: create %s: %w", path, err)
	}
	header := make([]byte, headerSize)
	writeHeader(header)
	if _, err := file.Write(header); err != nil {
		file.Close()
		return nil, fmt.Errorf("wal: write header: %w", err)
	}
	return &Writer{file: file, path: path}, nil
}

// Path returns the WAL file's path on disk.
func (w *Writer) Path() string {
	if w == nil {
		return ""
	}
	return w.path
}

// Count returns the number of records appended so far.
func (w *Writer) Count() int {
	if w == nil {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// AppendFrame writes one frame as a WAL record, flushing immediately.
func (w *Writer) AppendFrame(f frame.Frame) error {
	if w == nil {
		return fmt.Errorf("wal: writer not initialised")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("wal: writer closed")
	}

	record := Record{
		Kind:    RecordFrame,
		FrameID: f.ID,
		TSNanos: f.Timestamp.UnixNano(),
		Format:  f.Format,
		Width:   f.Width,
		Height:  f.Height,
		Payload: f.Payload,
	}

	buf := make([]byte, recordFixedSize+len(record.Payload)+crcSize)
	encodeRecordFixed(buf[:recordFixedSize], record)
	copy(buf[recordFixedSize:recordFixedSize+len(record.Payload)], record.Payload)
	checksum := crc32.ChecksumIEEE(buf[:recordFixedSize+len(record.Payload)])
	buf[len(buf)-4] = byte(checksum)
	buf[len(buf)-3] = byte(checksum >> 8)
	buf[len(buf)-2] = byte(checksum >> 16)
	buf[len(buf)-1] = byte(checksum >> 24)

	if _, err := w.file.Write(buf); err != nil {
		return fmt.Errorf("wal: append frame %d: %w", f.ID, err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("wal: flush frame %d: %w", f.ID, err)
	}
	w.count++
	return nil
}

// Close fsyncs and releases the underlying file handle.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return fmt.Errorf("wal: close sync: %w", err)
	}
	return w.file.Close()
}
