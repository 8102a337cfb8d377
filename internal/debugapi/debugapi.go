// Package debugapi implements the loopback-only debug control API: a
// read-only status document, a live event-bus tail over WebSocket, and two
// bearer-token gated control actions (manual capture trigger, shutdown).
// It runs on its own HTTP server, separate from the stream server, so the
// public streaming surface's attack area is unchanged by enabling it.
package debugapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"doorcam/internal/capture"
	"doorcam/internal/events"
	"doorcam/internal/logging"
	"doorcam/internal/ring"
)

// Config tunes the debug API's listen address and authentication.
type Config struct {
	Listen     string
	AdminToken string
}

// StatusProvider reports the live pipeline state the status document and
// the orchestrator both need. The orchestrator implements it directly
// rather than this package depending on the orchestrator package.
type StatusProvider interface {
	Degraded() bool
	StartedAt() time.Time
}

// Server serves the debug control API.
type Server struct {
	cfg      Config
	buf      *ring.Buffer
	bus      *events.Bus
	capture  *capture.Engine
	status   StatusProvider
	log      *logging.Logger
	upgrader websocket.Upgrader
	limiter  *AdminActionLimiter
}

// New constructs a debug API Server.
func New(cfg Config, buf *ring.Buffer, bus *events.Bus, captureEngine *capture.Engine, status StatusProvider, log *logging.Logger) *Server {
	if log == nil {
		log = logging.L()
	}
	return &Server{
		cfg:     cfg,
		buf:     buf,
		bus:     bus,
		capture: captureEngine,
		status:  status,
		log:     log,
		// Loopback clients only; CheckOrigin would otherwise reject the
		// same-origin WebSocket upgrade browsers can legitimately issue.
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		limiter:  NewAdminActionLimiter(time.Minute, 30, nil),
	}
}

// Run starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/status", s.handleStatus)
	mux.HandleFunc("/debug/events", s.handleEvents)
	mux.HandleFunc("/debug/trigger-capture", s.handleTriggerCapture)
	mux.HandleFunc("/debug/shutdown", s.handleShutdown)

	httpServer := &http.Server{
		Addr:              s.cfg.Listen,
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

// statusDocument is the JSON shape of GET /debug/status.
type statusDocument struct {
	UptimeSeconds float64       `json:"uptime_seconds"`
	Ring          ringStatus    `json:"ring"`
	Capture       captureStatus `json:"capture"`
	Clients       int           `json:"clients"`
	Degraded      bool          `json:"degraded"`
}

type ringStatus struct {
	Capacity int    `json:"capacity"`
	Count    uint64 `json:"count"`
	LatestID uint64 `json:"latest_id"`
}

type captureStatus struct {
	State      string `json:"state"`
	EventID    string `json:"event_id"`
	FrameCount int    `json:"frame_count"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeIndex := s.buf.WriteIndex()
	var latestID uint64
	if writeIndex > 0 {
		latestID = writeIndex - 1
	}
	doc := statusDocument{
		Ring: ringStatus{
			Capacity: s.buf.Capacity(),
			Count:    writeIndex,
			LatestID: latestID,
		},
		Clients: s.bus.SubscriberCount(),
	}
	if s.capture != nil {
		doc.Capture = captureStatus{
			State:      s.capture.State().String(),
			EventID:    s.capture.EventID(),
			FrameCount: s.capture.FrameCount(),
		}
	}
	if s.status != nil {
		doc.UptimeSeconds = time.Since(s.status.StartedAt()).Seconds()
		doc.Degraded = s.status.Degraded()
	}
	writeJSON(w, http.StatusOK, doc)
}

// handleEvents upgrades to a WebSocket and streams every bus event as a
// JSON line until the client disconnects or the server shuts down. This
// read-only feed requires no auth: it is loopback-bound and carries only
// the same small event values the rest of the pipeline already shares.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("debugapi: websocket upgrade failed", logging.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	sub := s.bus.Subscribe(ctx)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		}
	}
}

// handleTriggerCapture synthesizes a manual MotionDetected event so
// operator-triggered captures obey the same state machine and idempotence
// rules as camera-detected motion.
func (s *Server) handleTriggerCapture(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorise(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !s.limiter.Allow() {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return
	}
	s.bus.Publish(events.Event{Kind: events.KindMotionDetected, Area: 0, Timestamp: time.Now()})
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
}

// handleShutdown publishes ShutdownRequested so the orchestrator drains and
// stops every component through the same path a SIGTERM would take.
func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorise(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !s.limiter.Allow() {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return
	}
	s.bus.Publish(events.Event{Kind: events.KindShutdownRequested, Timestamp: time.Now()})
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "shutdown_requested"})
}

// authorise accepts the admin token via an Authorization: Bearer header, an
// X-Admin-Token header, or a token query parameter, comparing in constant
// time to avoid a timing side channel on the configured secret.
func (s *Server) authorise(r *http.Request) bool {
	if s.cfg.AdminToken == "" {
		return false
	}
	candidate := bearerToken(r)
	if candidate == "" {
		candidate = r.Header.Get("X-Admin-Token")
	}
	if candidate == "" {
		candidate = r.URL.Query().Get("token")
	}
	if candidate == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(s.cfg.AdminToken)) == 1
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimPrefix(header, prefix)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		fmt.Fprintf(w, `{"error":%q}`, err.Error())
	}
}
