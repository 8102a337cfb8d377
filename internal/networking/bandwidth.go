// Package networking holds transport-adjacent utilities shared by the
// door-camera pipeline's network-facing components. Today that is a single
// per-client token-bucket throttle used by the MJPEG stream server (§4.6 of
// the pipeline spec) so one fast client cannot claim more than its
// configured share of outbound bytes; the ring buffer itself never blocks
// on a throttled client, only this package's bookkeeping does.
package networking

import (
	"math"
	"sync"
	"time"
)

// DefaultMaxBytesPerSecond is the fallback per-client cap (48 kbps,
// decimal) applied when a stream client throttle is constructed with a
// non-positive rate.
const DefaultMaxBytesPerSecond = 48000.0 / 8.0

// ClientThroughput reports the current throttling state for one stream
// client, as returned by Snapshot for diagnostics.
type ClientThroughput struct {
	ClientID         string
	AvailableBytes   float64
	BytesPerSecond   float64
	ObservedSeconds  float64
	DeniedDeliveries int64
	LastSeen         time.Time
}

// clientBudget is one client's token bucket: tokens refill continuously at
// the configured rate and are spent one MJPEG part at a time.
type clientBudget struct {
	tokens      float64
	lastRefill  time.Time
	windowStart time.Time
	bytesSent   int64
	deniedCount int64
}

// StreamThrottle enforces a per-client byte-rate budget across every
// concurrent MJPEG viewer. Each client gets its own bucket so one slow or
// bandwidth-capped viewer never borrows from, or is penalised by, another.
type StreamThrottle struct {
	mu       sync.Mutex
	clients  map[string]*clientBudget
	capacity float64
	refill   float64
	now      func() time.Time
}

// NewStreamThrottle constructs a throttle enforcing targetBytesPerSecond
// per client (falling back to DefaultMaxBytesPerSecond when non-positive).
// clock is injectable for tests; nil defaults to time.Now.
func NewStreamThrottle(targetBytesPerSecond float64, clock func() time.Time) *StreamThrottle {
	if targetBytesPerSecond <= 0 {
		targetBytesPerSecond = DefaultMaxBytesPerSecond
	}
	if clock == nil {
		clock = time.Now
	}
	return &StreamThrottle{
		clients:  make(map[string]*clientBudget),
		capacity: targetBytesPerSecond,
		refill:   targetBytesPerSecond,
		now:      clock,
	}
}

// refresh tops up a bucket's tokens for the elapsed time since its last
// refill, capped at the bucket's full capacity.
func (t *StreamThrottle) refresh(b *clientBudget, now time.Time) {
	if b == nil || now.Before(b.lastRefill) {
		return
	}
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		b.lastRefill = now
		return
	}
	b.tokens += elapsed * t.refill
	if b.tokens > t.capacity {
		b.tokens = t.capacity
	}
	b.lastRefill = now
}

// Allow charges payloadBytes against clientID's budget, returning false if
// the client's bucket cannot cover it. A client's first call always seeds a
// full bucket so an MJPEG viewer can send its opening frame immediately.
func (t *StreamThrottle) Allow(clientID string, payloadBytes int) bool {
	if t == nil || clientID == "" || payloadBytes <= 0 {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	b := t.clients[clientID]
	if b == nil {
		b = &clientBudget{tokens: t.capacity, lastRefill: now, windowStart: now}
		t.clients[clientID] = b
	}
	t.refresh(b, now)

	request := float64(payloadBytes)
	if request > b.tokens {
		b.deniedCount++
		return false
	}
	b.tokens -= request
	b.bytesSent += int64(payloadBytes)
	if b.windowStart.IsZero() {
		b.windowStart = now
	}
	return true
}

// Forget drops a disconnected client's bucket so it stops appearing in
// later snapshots.
func (t *StreamThrottle) Forget(clientID string) {
	if t == nil || clientID == "" {
		return
	}
	t.mu.Lock()
	delete(t.clients, clientID)
	t.mu.Unlock()
}

// Snapshot reports the current throughput sample for every tracked client.
func (t *StreamThrottle) Snapshot() map[string]ClientThroughput {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.clients) == 0 {
		return nil
	}

	now := t.now()
	out := make(map[string]ClientThroughput, len(t.clients))
	for clientID, b := range t.clients {
		if b == nil {
			continue
		}
		t.refresh(b, now)

		observed := math.Max(now.Sub(b.windowStart).Seconds(), 0)
		rate := 0.0
		if observed > 0 {
			rate = float64(b.bytesSent) / observed
		}
		out[clientID] = ClientThroughput{
			ClientID:         clientID,
			AvailableBytes:   math.Max(b.tokens, 0),
			BytesPerSecond:   rate,
			ObservedSeconds:  observed,
			DeniedDeliveries: b.deniedCount,
			LastSeen:         b.lastRefill,
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
