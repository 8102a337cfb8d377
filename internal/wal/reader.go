package wal

import (
	"bufio"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"doorcam/internal/frame"
)

// ReadResult carries every record that could be recovered plus whether the
// stream was truncated (a CRC or length failure was found before EOF).
type ReadResult struct {
	Records   []frame.Frame
	Truncated bool
}

// ReadFile recovers frames from a WAL file. It transparently decompresses
// archived ".wal.zst" inputs produced by the Janitor (see internal/storage)
// before applying the same framed-record reader used for live files, so
// recovery and tooling never need to know whether a file was archived.
func ReadFile(path string) (ReadResult, error) {
	file, err := os.Open(path)
	if err != nil {
		return ReadResult{}, fmt.Errorf("wal: open %s: %w", path, err)
	}
	defer file.Close()

	var r io.Reader = bufio.NewReader(file)
	if strings.HasSuffix(path, ".zst") {
		dec, err := zstd.NewReader(r)
		if err != nil {
			return ReadResult{}, fmt.Errorf("wal: init zstd reader: %w", err)
		}
		defer dec.Close()
		r = dec
	}
	return Read(r)
}

// Read streams records from r, stopping gracefully (and reporting
// Truncated) at the first malformed record: a short read, a bad length
// bound, or a CRC mismatch. This is the crash-recovery rule from the WAL
// contract — a crash mid-append loses only the tail.
func Read(r io.Reader) (ReadResult, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return ReadResult{Truncated: true}, nil
		}
		return ReadResult{}, fmt.Errorf("wal: read header: %w", err)
	}
	if err := validateHeader(header); err != nil {
		return ReadResult{}, err
	}

	var result ReadResult
	fixed := make([]byte, recordFixedSize)
	for {
		if _, err := io.ReadFull(r, fixed); err != nil {
			if err == io.EOF {
				return result, nil
			}
			// Short read mid-fixed-header: the tail is lost but everything
			// read so far is good.
			result.Truncated = true
			return result, nil
		}
		kind, length, rec := decodeRecordFixed(fixed)
		if kind != RecordFrame {
			result.Truncated = true
			return result, nil
		}
		if length > MaxFrameBytes {
			result.Truncated = true
			return result, nil
		}
		payload := make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			result.Truncated = true
			return result, nil
		}
		crcBuf := make([]byte, crcSize)
		if _, err := io.ReadFull(r, crcBuf); err != nil {
			result.Truncated = true
			return result, nil
		}
		want := uint32(crcBuf[0]) | uint32(crcBuf[1])<<8 | uint32(crcBuf[2])<<16 | uint32(crcBuf[3])<<24

		sum := crc32.NewIEEE()
		sum.Write(fixed)
		sum.Write(payload)
		got := sum.Sum32()
		if got != want {
			result.Truncated = true
			return result, nil
		}

		result.Records = append(result.Records, frame.Frame{
			ID:        rec.FrameID,
			Timestamp: time.Unix(0, rec.TSNanos).UTC(),
			Width:     rec.Width,
			Height:    rec.Height,
			Format:    rec.Format,
			Payload:   payload,
		})
	}
}
