// Package analyzer implements the motion-analysis stage: it samples the
// ring buffer's latest frame, maintains a slowly-adapting background model
// at reduced resolution, and publishes MotionDetected when a thresholded
// difference region grows large enough. The downscale/blur pipeline is built
// on disintegration/imaging the way the pack's camera-adjacent repos use it
// for exactly this kind of "resize then filter a decoded image" work.
package analyzer

import (
	"context"
	"image"
	"time"

	"github.com/disintegration/imaging"

	"doorcam/internal/events"
	"doorcam/internal/ring"
)

const (
	analysisWidth  = 320
	analysisHeight = 240
	blurSigma      = 3.2 // approximates a 21x21 Gaussian kernel at this resolution
)

// Config tunes the analyzer's sensitivity and cadence.
type Config struct {
	MaxFPS               uint32
	DeltaThreshold       uint8
	ContourMinimumArea   int
	WarmupFrames         int
	BackgroundHistory    int    // samples; alpha derived as 1/history
	UndistortLensProfile string // carried from config; not applied by the analyzer
}

// Analyzer runs the motion-detection loop against a ring buffer, publishing
// MotionDetected onto the bus.
type Analyzer struct {
	cfg      Config
	buf      *ring.Buffer
	bus      *events.Bus
	lastID   uint64
	haveLast bool
	bg       []float64 // analysisWidth*analysisHeight background luminance
	frames   int
	nowFn    func() time.Time
}

// New constructs an Analyzer. cfg.BackgroundHistory defaults to 200 and
// cfg.WarmupFrames to 30 if left zero, matching the algorithm's own example
// values.
func New(cfg Config, buf *ring.Buffer, bus *events.Bus) *Analyzer {
	if cfg.BackgroundHistory <= 0 {
		cfg.BackgroundHistory = 200
	}
	if cfg.WarmupFrames <= 0 {
		cfg.WarmupFrames = 30
	}
	return &Analyzer{cfg: cfg, buf: buf, bus: bus, nowFn: time.Now}
}

// Run ticks at cfg.MaxFPS until ctx is cancelled, analyzing whichever frame
// is newest at each tick and skipping ticks where the ring hasn't advanced.
func (a *Analyzer) Run(ctx context.Context) error {
	fps := a.cfg.MaxFPS
	if fps == 0 {
		fps = 10
	}
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.tick()
		}
	}
}

func (a *Analyzer) tick() {
	f, ok := a.buf.Latest()
	if !ok {
		return
	}
	if a.haveLast && f.ID == a.lastID {
		return
	}
	a.haveLast = true
	a.lastID = f.ID

	img, err := (&f).ToImage()
	if err != nil {
		return
	}

	gray := a.downscaleLuminance(img)
	a.frames++

	maxArea := a.updateAndThreshold(gray)

	if a.frames <= a.cfg.WarmupFrames {
		return
	}
	if maxArea >= a.cfg.ContourMinimumArea {
		a.bus.Publish(events.Event{
			Kind:      events.KindMotionDetected,
			FrameID:   f.ID,
			Area:      float64(maxArea),
			Timestamp: f.Timestamp,
		})
	}
}

// downscaleLuminance resizes to the analysis resolution and returns
// row-major 8-bit luminance samples.
func (a *Analyzer) downscaleLuminance(img image.Image) []uint8 {
	small := imaging.Resize(img, analysisWidth, analysisHeight, imaging.Box)
	blurred := imaging.Blur(small, blurSigma)
	gray := imaging.Grayscale(blurred)

	out := make([]uint8, analysisWidth*analysisHeight)
	b := gray.Bounds()
	for y := 0; y < b.Dy() && y < analysisHeight; y++ {
		for x := 0; x < b.Dx() && x < analysisWidth; x++ {
			r, _, _, _ := gray.At(b.Min.X+x, b.Min.Y+y).RGBA()
			out[y*analysisWidth+x] = uint8(r >> 8)
		}
	}
	return out
}

// updateAndThreshold advances the exponential background model, thresholds
// the absolute difference, and returns the largest 4-connected region's
// pixel area.
func (a *Analyzer) updateAndThreshold(gray []uint8) int {
	if a.bg == nil {
		a.bg = make([]float64, len(gray))
		for i, v := range gray {
			a.bg[i] = float64(v)
		}
		return 0
	}

	alpha := 1.0 / float64(a.cfg.BackgroundHistory)
	mask := make([]bool, len(gray))
	threshold := float64(a.cfg.DeltaThreshold)

	for i, v := range gray {
		diff := float64(v) - a.bg[i]
		if diff < 0 {
			diff = -diff
		}
		mask[i] = diff >= threshold
		a.bg[i] = a.bg[i]*(1-alpha) + float64(v)*alpha
	}

	return largestConnectedArea(mask, analysisWidth, analysisHeight)
}

// largestConnectedArea runs an iterative flood fill over a boolean grid and
// returns the pixel count of its largest 4-connected true-valued region.
func largestConnectedArea(mask []bool, width, height int) int {
	visited := make([]bool, len(mask))
	best := 0
	stack := make([]int, 0, 256)

	for start := range mask {
		if !mask[start] || visited[start] {
			continue
		}
		area := 0
		stack = stack[:0]
		stack = append(stack, start)
		visited[start] = true
		for len(stack) > 0 {
			idx := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			area++
			x, y := idx%width, idx/width
			neighbors := [4][2]int{{x - 1, y}, {x + 1, y}, {x, y - 1}, {x, y + 1}}
			for _, n := range neighbors {
				if n[0] < 0 || n[0] >= width || n[1] < 0 || n[1] >= height {
					continue
				}
				ni := n[1]*width + n[0]
				if mask[ni] && !visited[ni] {
					visited[ni] = true
					stack = append(stack, ni)
				}
			}
		}
		if area > best {
			best = area
		}
	}
	return best
}
