// Package stream implements the MJPEG HTTP stream server: a minimal HTML
// viewer at "/", a multipart/x-mixed-replace feed at "/stream.mjpg", and a
// liveness probe at "/health". Each client runs its own independent poll
// loop against the ring buffer — there is no shared per-client lock beyond
// the ring itself, matching spec.md §4.6's backpressure contract: a slow
// client's TCP write blocking never stalls the ring or any other client.
package stream

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"doorcam/internal/logging"
	"doorcam/internal/networking"
	"doorcam/internal/ring"
)

const boundary = "FRAME"

// Config tunes the stream server's network address and per-client cadence.
type Config struct {
	IP                string
	Port              int
	TargetFPS         uint32
	JPEGQuality       int
	MaxBytesPerSecond int64
}

// Server serves MJPEG multipart streams from a ring buffer's latest frames.
type Server struct {
	cfg       Config
	buf       *ring.Buffer
	log       *logging.Logger
	bandwidth *networking.StreamThrottle
	clients   atomic.Int64
	startedAt time.Time
}

// New constructs a stream Server. A MaxBytesPerSecond of zero disables
// per-client throttling.
func New(cfg Config, buf *ring.Buffer, log *logging.Logger) *Server {
	if log == nil {
		log = logging.L()
	}
	var throttle *networking.StreamThrottle
	if cfg.MaxBytesPerSecond > 0 {
		throttle = networking.NewStreamThrottle(float64(cfg.MaxBytesPerSecond), nil)
	}
	return &Server{cfg: cfg, buf: buf, log: log, bandwidth: throttle, startedAt: time.Now()}
}

// ActiveClients reports the number of currently streaming clients.
func (s *Server) ActiveClients() int { return int(s.clients.Load()) }

// Addr returns the configured listen address.
func (s *Server) Addr() string { return fmt.Sprintf("%s:%d", s.cfg.IP, s.cfg.Port) }

// Run starts the HTTP server and blocks until ctx is cancelled or the
// listener fails, giving connected clients up to 5s to drain on shutdown.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/stream.mjpg", s.handleStream)
	mux.HandleFunc("/health", s.handleHealth)

	httpServer := &http.Server{
		Addr:              s.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, `<!DOCTYPE html><html><head><title>doorcam</title></head>`+
		`<body style="margin:0;background:#000"><img src="/stream.mjpg" style="width:100%;height:100%;object-fit:contain">`+
		`</body></html>`)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	clientID := r.RemoteAddr
	s.clients.Add(1)
	defer s.clients.Add(-1)
	defer s.bandwidth.Forget(clientID)

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+boundary)
	w.Header().Set("Cache-Control", "no-cache, private")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	fps := s.cfg.TargetFPS
	if fps == 0 {
		fps = 10
	}
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	ctx := r.Context()
	var lastID uint64
	haveLast := false

	s.log.Debug("stream: client connected", logging.String("client", clientID))
	defer s.log.Debug("stream: client disconnected", logging.String("client", clientID))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f, ok := s.buf.Latest()
			if !ok {
				continue
			}
			if haveLast && f.ID == lastID {
				continue
			}

			payload, err := f.EncodeJPEG(s.cfg.JPEGQuality)
			if err != nil {
				continue
			}
			if s.bandwidth != nil && !s.bandwidth.Allow(clientID, len(payload)) {
				// Ring never blocks for this client; simply skip this tick's
				// delivery and let the next one try again.
				continue
			}

			haveLast = true
			lastID = f.ID

			if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", boundary, len(payload)); err != nil {
				return
			}
			if _, err := w.Write(payload); err != nil {
				return
			}
			if _, err := w.Write([]byte("\r\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
