// Package orchestrator owns the door-camera pipeline's lifecycle: it wires
// the ring buffer and event bus to every consumer component, supervises
// each one per spec.md §4.9's recovery rules (camera backoff-and-degrade,
// restart-on-error for analyzer/stream/display, self-healing for
// capture/storage), and drains everything on ShutdownRequested. Components
// never hold references to each other — only to the bus and the ring, per
// spec.md §9's cyclic-reference resolution — so this package is the only
// place that knows the full component graph.
package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"doorcam/internal/analyzer"
	"doorcam/internal/audit"
	"doorcam/internal/camera"
	"doorcam/internal/capture"
	"doorcam/internal/config"
	"doorcam/internal/debugapi"
	"doorcam/internal/display"
	"doorcam/internal/doorerr"
	"doorcam/internal/events"
	"doorcam/internal/frame"
	"doorcam/internal/logging"
	"doorcam/internal/ring"
	"doorcam/internal/storage"
	"doorcam/internal/stream"
)

// componentStopTimeout bounds how long a single component is given to
// observe context cancellation and return, per spec.md §5.
const componentStopTimeout = 5 * time.Second

// cameraBackoffMaxAttempts mirrors spec.md §4.9's retry budget: base 500ms,
// cap 30s, at most 10 attempts before the camera is declared down and the
// pipeline goes degraded.
const cameraBackoffMaxAttempts = 10

// Orchestrator wires every pipeline component to the shared ring buffer and
// event bus, and supervises their lifecycles.
type Orchestrator struct {
	cfg *config.Config
	log *logging.Logger

	bus *events.Bus
	buf *ring.Buffer

	producer  camera.Producer
	analyzer  *analyzer.Analyzer
	captureEn *capture.Engine
	streamSrv *stream.Server
	display   *display.Controller
	debugSrv  *debugapi.Server
	janitor   *storage.Janitor
	auditLog  *audit.Logger

	startedAt time.Time
	degraded  atomic.Bool

	shutdownOnce sync.Once
	cancel       context.CancelFunc

	// Camera retry tuning, defaulted in New() to spec.md §4.9's budget
	// (base 500ms, cap 30s, 10 attempts) but overridable by tests in this
	// package so the reconnect-exhaustion path doesn't require a real
	// multi-second sleep to exercise.
	cameraMaxAttempts     int
	cameraInitialInterval time.Duration
	cameraMaxInterval     time.Duration
}

// New constructs an Orchestrator from a fully-resolved configuration. It
// builds a synthetic camera producer (spec.md §1 treats a real driver as an
// external collaborator) and, when the corresponding device paths are
// configured, the display controller's framebuffer/backlight/touch
// devices. A missing display device path simply leaves the display
// controller disabled rather than failing construction, since local
// display is optional hardware.
func New(cfg *config.Config, log *logging.Logger) (*Orchestrator, error) {
	if log == nil {
		log = logging.L()
	}

	buf := ring.New(cfg.RingCapacity())
	bus := events.New()

	producer, err := camera.NewSynthetic(camera.Config{
		Width:    cfg.Camera.Width,
		Height:   cfg.Camera.Height,
		MaxFPS:   cfg.Camera.MaxFPS,
		Format:   cfg.Camera.Format,
		Rotation: cfg.Camera.Rotation,
	})
	if err != nil {
		return nil, doorerr.New(doorerr.Config, "camera", err)
	}

	layout := storage.NewLayout(cfg.Capture.Path)

	o := &Orchestrator{
		cfg:      cfg,
		log:      log,
		bus:      bus,
		buf:      buf,
		producer: producer,
		analyzer: analyzer.New(analyzer.Config{
			MaxFPS:               cfg.Analyzer.MaxFPS,
			DeltaThreshold:       cfg.Analyzer.DeltaThreshold,
			ContourMinimumArea:   cfg.Analyzer.ContourMinimumArea,
			WarmupFrames:         cfg.Analyzer.WarmupFrames,
			BackgroundHistory:    cfg.Analyzer.BackgroundHistory,
			UndistortLensProfile: cfg.Analyzer.UndistortLensProfile,
		}, buf, bus),
		captureEn: capture.NewEngine(capture.Config{
			PrerollSeconds:  cfg.Event.PrerollSeconds,
			PostrollSeconds: cfg.Event.PostrollSeconds,
			EmitFrameJPEGs:  cfg.Capture.KeepImages,
		}, buf, bus, layout, log),
		streamSrv: stream.New(stream.Config{
			IP:                cfg.Stream.IP,
			Port:              cfg.Stream.Port,
			TargetFPS:         cfg.Camera.MaxFPS,
			MaxBytesPerSecond: cfg.Stream.MaxBytesPerSecond,
		}, buf, log),
		janitor: storage.NewJanitor(layout, cfg.System.RetentionSeconds, cfg.System.ArchiveAfterSeconds, log),

		cameraMaxAttempts:     cameraBackoffMaxAttempts,
		cameraInitialInterval: backoff.DefaultInitialInterval,
		cameraMaxInterval:     30 * time.Second,
	}
	o.startedAt = time.Now()

	if cfg.Capture.SaveMetadata {
		auditPath := filepath.Join(cfg.Capture.Path, "audit.jsonl")
		auditLog, err := audit.Open(auditPath, log)
		if err != nil {
			log.Warn("orchestrator: audit sidecar disabled", logging.Error(err))
		} else {
			o.auditLog = auditLog
		}
	}

	if cfg.Display.FramebufferDevice != "" {
		fb, err := display.OpenFileFramebuffer(cfg.Display.FramebufferDevice, int(cfg.Camera.Width), int(cfg.Camera.Height))
		if err != nil {
			log.Warn("orchestrator: display disabled, framebuffer open failed", logging.Error(err))
		} else {
			var backlight display.Backlight
			if cfg.Display.BacklightDevice != "" {
				backlight = display.NewSysfsBacklight(cfg.Display.BacklightDevice, "")
			}
			var touch display.TouchSource
			if cfg.Display.TouchDevice != "" {
				if t, err := display.OpenEvdevTouchSource(cfg.Display.TouchDevice); err != nil {
					log.Warn("orchestrator: touch input disabled", logging.Error(err))
				} else {
					touch = t
				}
			}
			o.display = display.New(display.Config{
				ActivationPeriod: cfg.Display.ActivationPeriodSeconds,
				Rotation:         cfg.Display.Rotation,
			}, buf, bus, log, fb, backlight, touch)
		}
	}

	if cfg.Debug.Enabled {
		o.debugSrv = debugapi.New(debugapi.Config{
			Listen:     cfg.Debug.Listen,
			AdminToken: cfg.Debug.AdminToken,
		}, buf, bus, o.captureEn, o, log)
	}

	return o, nil
}

// Bus exposes the event bus so main can publish ShutdownRequested on signal
// receipt, per spec.md §9: "signal handlers only publish events."
func (o *Orchestrator) Bus() *events.Bus { return o.bus }

// Degraded reports whether the camera has exhausted its reconnect budget.
// Implements debugapi.StatusProvider.
func (o *Orchestrator) Degraded() bool { return o.degraded.Load() }

// StartedAt reports when the orchestrator began running. Implements
// debugapi.StatusProvider.
func (o *Orchestrator) StartedAt() time.Time { return o.startedAt }

// Run starts every component and blocks until ShutdownRequested is observed
// on the bus (or ctx is cancelled directly), then drains components with a
// 5s grace window before returning.
func (o *Orchestrator) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	defer cancel()

	shutdownSub := o.bus.Subscribe(runCtx)
	defer shutdownSub.Close()
	go func() {
		for {
			select {
			case <-runCtx.Done():
				return
			case ev, ok := <-shutdownSub.Events():
				if !ok {
					return
				}
				if ev.Kind == events.KindShutdownRequested {
					o.requestShutdown()
				}
			}
		}
	}()

	var wg sync.WaitGroup

	o.spawn(&wg, "camera", func() { o.runCamera(runCtx) })
	o.spawn(&wg, "analyzer", func() { o.supervise(runCtx, "analyzer", o.analyzer.Run) })
	o.spawn(&wg, "capture", func() { o.supervise(runCtx, "capture", o.captureEn.Run) })
	o.spawn(&wg, "stream", func() { o.supervise(runCtx, "stream", o.streamSrv.Run) })
	o.spawn(&wg, "janitor", func() {
		o.janitor.Run(runCtx, o.cfg.System.CleanupIntervalSeconds)
	})

	if o.display != nil {
		o.spawn(&wg, "display", func() { o.supervise(runCtx, "display", o.display.Run) })
	}
	if o.debugSrv != nil {
		o.spawn(&wg, "debugapi", func() { o.supervise(runCtx, "debugapi", o.debugSrv.Run) })
	}
	if o.auditLog != nil {
		audit.Attach(runCtx, o.bus, o.auditLog)
	}

	<-runCtx.Done()

	drained := make(chan struct{})
	go func() {
		wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(componentStopTimeout):
		o.log.Warn("orchestrator: force-stop after drain timeout")
	}

	if o.auditLog != nil {
		if err := o.auditLog.Close(); err != nil {
			o.log.Warn("orchestrator: audit close failed", logging.Error(err))
		}
	}
	return nil
}

// requestShutdown cancels the run context exactly once; further
// ShutdownRequested events are no-ops, satisfying spec.md §4.10's
// idempotence rule.
func (o *Orchestrator) requestShutdown() {
	o.shutdownOnce.Do(func() {
		if o.cancel != nil {
			o.cancel()
		}
	})
}

func (o *Orchestrator) spawn(wg *sync.WaitGroup, name string, fn func()) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		fn()
	}()
}

// supervise restarts fn whenever it returns a non-nil error while runCtx is
// still live, per spec.md §4.9: "log and restart the component; other
// components continue." A nil return (context cancellation) ends the loop.
func (o *Orchestrator) supervise(ctx context.Context, name string, fn func(context.Context) error) {
	for {
		if ctx.Err() != nil {
			return
		}
		err := fn(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			return
		}
		o.log.Error("orchestrator: component error, restarting", logging.String("component", name), logging.Error(err))
		o.bus.Publish(events.Event{
			Kind:      events.KindComponentError,
			Component: name,
			Message:   err.Error(),
			Timestamp: time.Now(),
		})
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

// runCamera drives the camera producer with exponential backoff on
// failure, following the same manual ExponentialBackOff-plus-select retry
// shape the pack's own gRPC-reconnect loop uses (sakateka-yanet2's
// bird-adapter service). Once cameraBackoffMaxAttempts is exhausted without
// a successful run, the pipeline is marked degraded and the camera is not
// retried again this process lifetime — spec.md §4.9 treats that as a
// terminal condition for the current run, surfaced via ComponentError and
// the debug status document's degraded flag.
func (o *Orchestrator) runCamera(ctx context.Context) {
	maxAttempts := o.cameraMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = cameraBackoffMaxAttempts
	}
	initialInterval := o.cameraInitialInterval
	if initialInterval <= 0 {
		initialInterval = backoff.DefaultInitialInterval
	}
	maxInterval := o.cameraMaxInterval
	if maxInterval <= 0 {
		maxInterval = 30 * time.Second
	}

	eb := backoff.ExponentialBackOff{
		InitialInterval:     initialInterval,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         maxInterval,
	}
	eb.Reset()
	attempts := 0

	for {
		if ctx.Err() != nil {
			return
		}
		runErr := o.producer.Run(ctx, o.buf, func(fr frame.Frame) {
			o.bus.Publish(events.Event{
				Kind:      events.KindFrameReady,
				FrameID:   fr.ID,
				Timestamp: fr.Timestamp,
			})
		})
		if ctx.Err() != nil {
			return
		}
		if runErr == nil {
			return
		}

		attempts++
		o.log.Warn("orchestrator: camera run failed, will retry",
			logging.Int("attempt", attempts), logging.Error(runErr))

		if attempts >= maxAttempts {
			o.degraded.Store(true)
			o.log.Error("orchestrator: camera exhausted reconnect attempts, degraded", logging.Error(runErr))
			o.bus.Publish(events.Event{
				Kind:      events.KindComponentError,
				Component: "camera",
				Message:   fmt.Sprintf("reconnect budget exhausted: %v", runErr),
				Timestamp: time.Now(),
			})
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(eb.NextBackOff()):
		}
	}
}
