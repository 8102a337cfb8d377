package display

import (
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"bytes"
	"sync"
	"testing"
	"time"

	"doorcam/internal/events"
	"doorcam/internal/frame"
	"doorcam/internal/ring"
)

type fakeFramebuffer struct {
	mu     sync.Mutex
	writes int
	w, h   int
}

func (f *fakeFramebuffer) Bounds() (int, int) { return f.w, f.h }
func (f *fakeFramebuffer) Write(buf []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	return nil
}
func (f *fakeFramebuffer) Close() error { return nil }

func (f *fakeFramebuffer) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

type fakeBacklight struct {
	mu      sync.Mutex
	enabled bool
}

func (b *fakeBacklight) Enable() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enabled = true
	return nil
}
func (b *fakeBacklight) Disable() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enabled = false
	return nil
}
func (b *fakeBacklight) isEnabled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.enabled
}

func jpegFrame(id uint64) frame.Frame {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.RGBA{R: 255, A: 255})
		}
	}
	var buf bytes.Buffer
	_ = jpeg.Encode(&buf, img, nil)
	return frame.Frame{ID: id, Timestamp: time.Now(), Width: 4, Height: 4, Format: frame.FormatMJPEG, Payload: buf.Bytes()}
}

func TestControllerActivatesOnMotionAndExpires(t *testing.T) {
	buf := ring.New(4)
	buf.Push(jpegFrame(1))

	bus := events.New()
	fb := &fakeFramebuffer{w: 8, h: 8}
	bl := &fakeBacklight{}

	cfg := Config{ActivationPeriod: 60 * time.Millisecond, DisplayFPS: 200}
	ctrl := New(cfg, buf, bus, nil, fb, bl, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go ctrl.Run(ctx)
	time.Sleep(5 * time.Millisecond)

	bus.Publish(events.Event{Kind: events.KindMotionDetected, Area: 10, Timestamp: time.Now()})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && !bl.isEnabled() {
		time.Sleep(time.Millisecond)
	}
	if !bl.isEnabled() {
		t.Fatal("expected backlight to be enabled after MotionDetected")
	}
	if fb.writeCount() == 0 {
		t.Fatal("expected at least one framebuffer write while active")
	}

	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) && bl.isEnabled() {
		time.Sleep(time.Millisecond)
	}
	if bl.isEnabled() {
		t.Fatal("expected backlight to disable after activation period expires")
	}
}

func TestToRGB565PacksExpectedLength(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 3, 2))
	out := toRGB565(img)
	if len(out) != 3*2*2 {
		t.Fatalf("expected %d bytes, got %d", 3*2*2, len(out))
	}
}
