// Package display implements the local framebuffer display controller:
// an active/expiry window triggered by motion or touch, a timed render loop
// that converts the ring buffer's latest frame to the framebuffer's pixel
// format (with optional rotation) and writes it out, and backlight
// enable/disable bracketing the active window. The framebuffer, backlight
// and touch devices themselves are external collaborators — this package
// only defines the interfaces they must satisfy, following the same
// activation/ticker control-loop shape the teacher's own ambient-light
// brightness controller uses for its backlight ramp.
package display

import (
	"context"
	"image"
	"time"

	"github.com/disintegration/imaging"

	"doorcam/internal/events"
	"doorcam/internal/frame"
	"doorcam/internal/logging"
	"doorcam/internal/ring"
)

// Framebuffer is the single-writer raw display device. Write receives a
// byte buffer already rotated and pixel-converted to the device's native
// format; Bounds reports the device's native resolution so the controller
// knows what to convert to.
type Framebuffer interface {
	Bounds() (width, height int)
	Write(buf []byte) error
	Close() error
}

// Backlight is the single-writer backlight device.
type Backlight interface {
	Enable() error
	Disable() error
}

// TouchSource is the touch input subtask's device collaborator. Events
// fires once per significant input event; Close releases the device.
type TouchSource interface {
	Events() <-chan time.Time
	Close() error
}

// Config tunes the controller's activation window and rendering cadence.
type Config struct {
	ActivationPeriod time.Duration
	DisplayFPS       uint32
	Rotation         int // degrees, one of 0/90/180/270
}

// Controller drives a Framebuffer/Backlight pair from ring buffer frames and
// bus-published motion/touch events.
type Controller struct {
	cfg       Config
	buf       *ring.Buffer
	bus       *events.Bus
	log       *logging.Logger
	fb        Framebuffer
	backlight Backlight
	touch     TouchSource
	active    bool
	backlit   bool
	expiresAt time.Time
}

// New constructs a display Controller. touch may be nil if no touch device
// is configured, in which case only motion activates the display.
func New(cfg Config, buf *ring.Buffer, bus *events.Bus, log *logging.Logger, fb Framebuffer, backlight Backlight, touch TouchSource) *Controller {
	if log == nil {
		log = logging.L()
	}
	if cfg.DisplayFPS == 0 {
		cfg.DisplayFPS = 15
	}
	if cfg.ActivationPeriod <= 0 {
		cfg.ActivationPeriod = 30 * time.Second
	}
	return &Controller{cfg: cfg, buf: buf, bus: bus, log: log, fb: fb, backlight: backlight, touch: touch}
}

// Run subscribes to the bus and renders frames while active, until ctx is
// cancelled. It never blocks the ring or the bus: a framebuffer write that
// is slow only delays this controller's own next tick.
func (c *Controller) Run(ctx context.Context) error {
	sub := c.bus.Subscribe(ctx)
	defer sub.Close()

	if c.touch != nil {
		go c.runTouch(ctx)
	}

	ticker := time.NewTicker(time.Second / time.Duration(c.cfg.DisplayFPS))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.disable()
			return nil
		case e, ok := <-sub.Events():
			if !ok {
				return nil
			}
			c.handleEvent(e)
		case <-ticker.C:
			c.tick()
		}
	}
}

func (c *Controller) handleEvent(e events.Event) {
	switch e.Kind {
	case events.KindMotionDetected, events.KindTouchDetected:
		c.activate()
	}
}

func (c *Controller) activate() {
	c.active = true
	c.expiresAt = time.Now().Add(c.cfg.ActivationPeriod)
	c.enable()
}

func (c *Controller) enable() {
	if c.backlit || c.backlight == nil {
		return
	}
	if err := c.backlight.Enable(); err != nil {
		c.log.Warn("display: backlight enable failed", logging.Error(err))
		return
	}
	c.backlit = true
}

func (c *Controller) disable() {
	c.active = false
	if !c.backlit || c.backlight == nil {
		return
	}
	if err := c.backlight.Disable(); err != nil {
		c.log.Warn("display: backlight disable failed", logging.Error(err))
		return
	}
	c.backlit = false
}

func (c *Controller) tick() {
	if !c.active {
		return
	}
	if time.Now().After(c.expiresAt) {
		c.disable()
		return
	}

	f, ok := c.buf.Latest()
	if !ok {
		return
	}
	buf, err := c.render(f)
	if err != nil {
		c.log.Warn("display: render failed", logging.Error(err))
		return
	}
	if err := c.fb.Write(buf); err != nil {
		c.log.Warn("display: framebuffer write failed", logging.Error(err))
	}
}

// render decodes f, rotates it per configuration, resizes to the
// framebuffer's native bounds, and packs it to RGB565 — the common raw
// pixel format accepted by small embedded display panels.
func (c *Controller) render(f frame.Frame) ([]byte, error) {
	img, err := f.ToImage()
	if err != nil {
		return nil, err
	}

	switch c.cfg.Rotation {
	case 90:
		img = imaging.Rotate90(img)
	case 180:
		img = imaging.Rotate180(img)
	case 270:
		img = imaging.Rotate270(img)
	}

	width, height := c.fb.Bounds()
	if width > 0 && height > 0 {
		img = imaging.Fit(img, width, height, imaging.Lanczos)
	}

	return toRGB565(img), nil
}

func (c *Controller) runTouch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ts, ok := <-c.touch.Events():
			if !ok {
				return
			}
			c.bus.Publish(events.Event{Kind: events.KindTouchDetected, Timestamp: ts})
		}
	}
}

// toRGB565 packs a decoded image into little-endian RGB565 samples. No pack
// dependency converts to this format; it is the conventional wire format
// for the SPI/parallel panels this controller targets.
func toRGB565(img image.Image) []byte {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out := make([]byte, w*h*2)
	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			r5 := uint16(r>>11) & 0x1F
			g6 := uint16(g>>10) & 0x3F
			b5 := uint16(b>>11) & 0x1F
			px := r5<<11 | g6<<5 | b5
			out[i] = byte(px)
			out[i+1] = byte(px >> 8)
			i += 2
		}
	}
	return out
}
