// Package wal implements the door-camera write-ahead log: an append-only,
// per-capture-event binary frame log with CRC32-checked, length-prefixed
// records and truncation-tolerant recovery. The framing technique (a fixed
// header plus length-prefixed binary records, flushed synchronously and
// fsynced on close) is carried over from the teacher's replay writer; the
// wire format itself is new and fixed by the frame-flow core's recovery
// contract rather than left to a general-purpose envelope.
package wal

import (
	"encoding/binary"
	"fmt"

	"doorcam/internal/frame"
)

// Magic identifies a doorcam WAL file.
var Magic = [4]byte{'D', 'C', 'W', 'L'}

// Version is the current WAL format revision.
const Version uint8 = 1

// RecordKind tags WAL entries. Only frame records exist today; the byte is
// reserved so a future control record (e.g. a mid-stream marker) can be
// added without changing the header.
type RecordKind uint8

const (
	// RecordFrame carries a single captured frame.
	RecordFrame RecordKind = 1
)

// headerSize is magic(4) + version(1).
const headerSize = 5

// recordFixedSize is kind(1) + length(u32) + frame_id(u64) + ts_nanos(i64)
// + format(u8) + width(u16) + height(u16), i.e. everything before payload.
const recordFixedSize = 1 + 4 + 8 + 8 + 1 + 2 + 2

// crcSize is the trailing CRC32 field.
const crcSize = 4

// MaxFrameBytes bounds a single record's payload so a corrupt length field
// can never cause the reader to attempt an unbounded allocation.
const MaxFrameBytes = 32 << 20

// Record is the in-memory representation of one WAL entry.
type Record struct {
	Kind      RecordKind
	FrameID   uint64
	TSNanos   int64
	Format    frame.PixelFormat
	Width     uint16
	Height    uint16
	Payload   []byte
}

func writeHeader(buf []byte) {
	copy(buf[0:4], Magic[:])
	buf[4] = Version
}

func validateHeader(buf []byte) error {
	if len(buf) < headerSize {
		return fmt.Errorf("wal: truncated header (%d bytes)", len(buf))
	}
	if buf[0] != Magic[0] || buf[1] != Magic[1] || buf[2] != Magic[2] || buf[3] != Magic[3] {
		return fmt.Errorf("wal: bad magic %v", buf[0:4])
	}
	if buf[4] != Version {
		return fmt.Errorf("wal: unsupported version %d", buf[4])
	}
	return nil
}

func encodeRecordFixed(buf []byte, r Record) {
	buf[0] = byte(r.Kind)
	binary.LittleEndian.PutUint32(buf[1:5], uint32(len(r.Payload)))
	binary.LittleEndian.PutUint64(buf[5:13], r.FrameID)
	binary.LittleEndian.PutUint64(buf[13:21], uint64(r.TSNanos))
	buf[21] = byte(r.Format)
	binary.LittleEndian.PutUint16(buf[22:24], r.Width)
	binary.LittleEndian.PutUint16(buf[24:26], r.Height)
}

func decodeRecordFixed(buf []byte) (kind RecordKind, length uint32, r Record) {
	kind = RecordKind(buf[0])
	length = binary.LittleEndian.Uint32(buf[1:5])
	r.Kind = kind
	r.FrameID = binary.LittleEndian.Uint64(buf[5:13])
	r.TSNanos = int64(binary.LittleEndian.Uint64(buf[13:21]))
	r.Format = frame.PixelFormat(buf[21])
	r.Width = binary.LittleEndian.Uint16(buf[22:24])
	r.Height = binary.LittleEndian.Uint16(buf[24:26])
	return kind, length, r
}
