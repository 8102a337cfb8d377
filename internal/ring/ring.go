// Package ring implements the fixed-capacity, single-writer/many-reader
// frame store described for the door-camera pipeline: a producer publishes
// frames with release ordering, readers load the write index with acquire
// ordering before touching a slot, and a slot is never torn because each
// one holds a single atomic pointer rather than a mutable struct.
package ring

import (
	"sync/atomic"
	"time"

	"doorcam/internal/frame"
)

// Buffer is a lock-free, fixed-capacity ring of frames.
type Buffer struct {
	slots      []atomic.Pointer[frame.Frame]
	writeIndex atomic.Uint64
	capacity   uint64
}

// New constructs a ring with the given capacity. Capacity should be
// ceil(fps * (preroll_seconds + slack)) per the sizing rule in the
// configuration contract; New enforces a floor of 1 slot.
func New(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{
		slots:    make([]atomic.Pointer[frame.Frame], capacity),
		capacity: uint64(capacity),
	}
}

// Capacity returns the fixed slot count.
func (b *Buffer) Capacity() int { return int(b.capacity) }

// Push publishes a new frame, overwriting the slot at the new write index.
// It never blocks and never fails: the caller is the sole writer.
func (b *Buffer) Push(f frame.Frame) {
	clone := f
	idx := b.writeIndex.Load() % b.capacity
	b.slots[idx].Store(&clone)
	b.writeIndex.Add(1)
}

// Latest returns the most recently pushed frame, or false if the ring is
// still empty. The returned frame is never torn: it is either the frame
// that was current before a concurrent Push or the one just published.
func (b *Buffer) Latest() (frame.Frame, bool) {
	writeIdx := b.writeIndex.Load()
	if writeIdx == 0 {
		return frame.Frame{}, false
	}
	idx := (writeIdx - 1) % b.capacity
	p := b.slots[idx].Load()
	if p == nil {
		return frame.Frame{}, false
	}
	return *p, true
}

// Preroll scans backward from the current write index and returns, in
// strictly increasing id order, every frame whose timestamp is at or after
// now-duration. It stops at the first frame older than the cutoff and never
// returns more than Capacity frames.
func (b *Buffer) Preroll(now time.Time, duration time.Duration) []frame.Frame {
	writeIdx := b.writeIndex.Load()
	if writeIdx == 0 || duration <= 0 {
		return nil
	}
	cutoff := now.Add(-duration)
	out := make([]frame.Frame, 0, b.capacity)
	seen := make(map[uint64]struct{}, b.capacity)

	limit := b.capacity
	if writeIdx < limit {
		limit = writeIdx
	}
	for i := uint64(0); i < limit; i++ {
		pos := writeIdx - 1 - i
		idx := pos % b.capacity
		p := b.slots[idx].Load()
		if p == nil {
			break
		}
		f := *p
		if f.ID >= writeIdx {
			// Overwritten mid-scan by a concurrent Push; stop rather than
			// risk returning a frame from a future write_index generation.
			break
		}
		if f.Timestamp.Before(cutoff) {
			break
		}
		if _, dup := seen[f.ID]; dup {
			continue
		}
		seen[f.ID] = struct{}{}
		out = append(out, f)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// WriteIndex exposes the total number of pushes for diagnostics and
// capacity-sizing decisions; it is monotonically non-decreasing.
func (b *Buffer) WriteIndex() uint64 { return b.writeIndex.Load() }

// Get retrieves a specific frame id if it still occupies its slot.
func (b *Buffer) Get(id uint64) (frame.Frame, bool) {
	writeIdx := b.writeIndex.Load()
	if writeIdx == 0 || id >= writeIdx {
		return frame.Frame{}, false
	}
	idx := id % b.capacity
	p := b.slots[idx].Load()
	if p == nil || p.ID != id {
		return frame.Frame{}, false
	}
	return *p, true
}
