package ring

import (
	"testing"
	"time"

	"doorcam/internal/frame"
)

func pushN(b *Buffer, start time.Time, n int, interval time.Duration) {
	for i := 0; i < n; i++ {
		b.Push(frame.Frame{
			ID:        uint64(i),
			Timestamp: start.Add(time.Duration(i) * interval),
			Width:     8,
			Height:    8,
			Format:    frame.FormatRGB24,
		})
	}
}

// P2: after C pushes with distinct ids, latest().id == last pushed id.
func TestLatestReturnsLastPushed(t *testing.T) {
	b := New(30)
	start := time.Now()
	pushN(b, start, 30, 100*time.Millisecond)

	got, ok := b.Latest()
	if !ok {
		t.Fatal("expected latest frame present")
	}
	if got.ID != 29 {
		t.Fatalf("latest id = %d, want 29", got.ID)
	}
}

// Scenario 1: preroll correctness.
func TestPrerollCorrectness(t *testing.T) {
	b := New(30)
	start := time.Now()
	pushN(b, start, 30, 100*time.Millisecond)

	now := start.Add(3 * time.Second)
	frames := b.Preroll(now, 2*time.Second)

	if len(frames) != 20 {
		t.Fatalf("got %d frames, want 20", len(frames))
	}
	for i, f := range frames {
		if i > 0 && f.ID <= frames[i-1].ID {
			t.Fatalf("frames not in strictly increasing id order at %d", i)
		}
		cutoff := now.Add(-2 * time.Second)
		if f.Timestamp.Before(cutoff) {
			t.Fatalf("frame %d timestamp %v before cutoff %v", f.ID, f.Timestamp, cutoff)
		}
	}
	if frames[len(frames)-1].ID != 29 {
		t.Fatalf("last preroll frame id = %d, want 29", frames[len(frames)-1].ID)
	}
}

// P3: preroll never returns ids >= write_index, and respects capacity bound.
func TestPrerollBoundedByCapacity(t *testing.T) {
	b := New(10)
	start := time.Now()
	pushN(b, start, 100, 10*time.Millisecond)

	frames := b.Preroll(start.Add(2*time.Second), 10*time.Second)
	if len(frames) > 10 {
		t.Fatalf("preroll returned %d frames, want <= capacity 10", len(frames))
	}
	writeIdx := b.WriteIndex()
	for _, f := range frames {
		if f.ID >= writeIdx {
			t.Fatalf("preroll frame id %d >= write_index %d", f.ID, writeIdx)
		}
	}
}

func TestLatestEmptyRing(t *testing.T) {
	b := New(4)
	if _, ok := b.Latest(); ok {
		t.Fatal("expected no latest frame on empty ring")
	}
}

func TestGetOverwrittenSlotMisses(t *testing.T) {
	b := New(4)
	start := time.Now()
	pushN(b, start, 10, time.Millisecond)
	if _, ok := b.Get(0); ok {
		t.Fatal("expected id 0 to be overwritten and unreachable")
	}
	if f, ok := b.Get(9); !ok || f.ID != 9 {
		t.Fatal("expected most recent id to remain reachable")
	}
}
