// Package frame defines the immutable image record shared by every stage of
// the pipeline: the camera producer writes it, the ring buffer stores it,
// and the analyzer/capture/stream/display consumers read it without ever
// mutating the payload.
package frame

import (
	"fmt"
	"time"
)

// PixelFormat tags the encoding of a Frame's payload.
type PixelFormat uint8

const (
	// FormatMJPEG indicates the payload is already a complete JPEG image.
	FormatMJPEG PixelFormat = iota
	// FormatYUYV indicates the payload is packed YUYV 4:2:2 samples.
	FormatYUYV
	// FormatRGB24 indicates the payload is packed 8-bit RGB triples.
	FormatRGB24
)

func (f PixelFormat) String() string {
	switch f {
	case FormatMJPEG:
		return "MJPEG"
	case FormatYUYV:
		return "YUYV"
	case FormatRGB24:
		return "RGB24"
	default:
		return "UNKNOWN"
	}
}

// ParsePixelFormat maps a configuration string onto a PixelFormat.
func ParsePixelFormat(raw string) (PixelFormat, error) {
	switch raw {
	case "MJPEG", "":
		return FormatMJPEG, nil
	case "YUYV":
		return FormatYUYV, nil
	case "RGB24":
		return FormatRGB24, nil
	default:
		return 0, fmt.Errorf("unknown pixel format %q", raw)
	}
}

// Frame is an immutable captured image. Payload is shared by reference
// across every consumer; nobody but the camera producer may write to it.
type Frame struct {
	ID        uint64
	Timestamp time.Time
	Width     uint16
	Height    uint16
	Format    PixelFormat
	Payload   []byte
}

// BytesPerPixel reports the packed sample size for raw (non-MJPEG) formats.
func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case FormatYUYV:
		return 2
	case FormatRGB24:
		return 3
	default:
		return 0
	}
}
