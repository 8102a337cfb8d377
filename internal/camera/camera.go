// Package camera defines the frame-producer boundary the pipeline's core
// depends on. The hardware driver itself is an external collaborator (out of
// scope): this package only specifies the Producer contract and ships one
// concrete, dependency-free implementation — a synthetic generator — so the
// rest of the pipeline has something real to run against in development and
// in tests.
package camera

import (
	"context"
	"fmt"
	"math"
	"time"

	"doorcam/internal/frame"
	"doorcam/internal/ring"
)

// Config describes how a Producer should shape the frames it emits.
type Config struct {
	Width    uint16
	Height   uint16
	MaxFPS   uint32
	Format   frame.PixelFormat
	Rotation int // one of 0, 90, 180, 270
}

// FrameReadyFunc is invoked once per pushed frame so callers can publish the
// FrameReady event without the producer importing the event bus directly.
type FrameReadyFunc func(f frame.Frame)

// Producer pushes frames into a ring buffer until ctx is cancelled or the
// device fails. Run returns a non-nil error on device failure so the
// orchestrator's backoff/retry loop can restart it; a nil error only ever
// means ctx was cancelled.
type Producer interface {
	Run(ctx context.Context, buf *ring.Buffer, onFrame FrameReadyFunc) error
}

// Synthetic is a software Producer used when no physical camera is attached:
// local development, CI, and demoing the pipeline end to end. It produces a
// deterministic moving gradient so the motion analyzer has something to
// react to.
type Synthetic struct {
	cfg   Config
	nowFn func() time.Time
}

// NewSynthetic builds a Synthetic producer from cfg. A zero-value MaxFPS or
// dimension is rejected since the ring buffer's capacity is sized from them.
func NewSynthetic(cfg Config) (*Synthetic, error) {
	if cfg.Width == 0 || cfg.Height == 0 {
		return nil, fmt.Errorf("camera: width and height must be positive")
	}
	if cfg.MaxFPS == 0 {
		return nil, fmt.Errorf("camera: max_fps must be positive")
	}
	return &Synthetic{cfg: cfg, nowFn: time.Now}, nil
}

// Run generates frames at cfg.MaxFPS until ctx is cancelled.
func (s *Synthetic) Run(ctx context.Context, buf *ring.Buffer, onFrame FrameReadyFunc) error {
	if buf == nil {
		return fmt.Errorf("camera: ring buffer must not be nil")
	}
	interval := time.Second / time.Duration(s.cfg.MaxFPS)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var id uint64
	var phase float64
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			payload := s.renderRGB24(phase)
			phase += 0.05

			// ID must equal the ring's write index before this push (ring.Buffer
			// assigns slots purely from its own atomic counter, so the two
			// numbering schemes have to agree for Get/Preroll to ever find a
			// frame by ID).
			f := frame.Frame{
				ID:        id,
				Timestamp: s.nowFn(),
				Width:     s.cfg.Width,
				Height:    s.cfg.Height,
				Format:    frame.FormatRGB24,
				Payload:   payload,
			}
			buf.Push(f)
			id++
			if onFrame != nil {
				onFrame(f)
			}
		}
	}
}

// renderRGB24 paints a horizontally-scrolling sine gradient so consecutive
// frames differ enough for the motion analyzer to register change without
// needing an actual camera.
func (s *Synthetic) renderRGB24(phase float64) []byte {
	w, h := int(s.cfg.Width), int(s.cfg.Height)
	out := make([]byte, w*h*3)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(128 + 96*math.Sin(float64(x)/16+phase))
			o := (y*w + x) * 3
			out[o] = v
			out[o+1] = v
			out[o+2] = v
		}
	}
	return out
}
