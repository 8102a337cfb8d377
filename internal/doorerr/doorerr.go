// Package doorerr carries the door-camera error taxonomy (spec.md §7) as
// typed data rather than as a sentinel per call site: every leaf component
// wraps its failure in an *Error tagged with a Kind and the owning
// component name, so the orchestrator's recovery rules (retry, restart,
// finalize-as-truncated, fatal) can dispatch on Kind instead of on
// convention.
package doorerr

import "fmt"

// Kind tags the taxonomy of failure described in spec.md §7. Only Config
// errors are fatal at startup; every other kind is handled locally by the
// owning component.
type Kind string

const (
	// Config marks invalid settings discovered at startup. Fatal.
	Config Kind = "config"
	// DeviceOpen marks a camera/framebuffer/touch device that failed to
	// open. Retryable with backoff.
	DeviceOpen Kind = "device_open"
	// DeviceIO marks a transient device read/write failure. Retryable.
	DeviceIO Kind = "device_io"
	// Decode marks a pixel-format conversion failure. The frame is skipped.
	Decode Kind = "decode"
	// Encode marks a JPEG/video encode failure. The frame or artifact is
	// skipped.
	Encode Kind = "encode"
	// WALWrite marks a write-ahead-log filesystem failure. The active
	// capture event is finalized as truncated.
	WALWrite Kind = "wal_write"
	// Network marks a client socket failure. The client connection is
	// dropped; other clients are unaffected.
	Network Kind = "network"
	// Internal marks a bug. The owning component is logged and restarted.
	Internal Kind = "internal"
)

// Error wraps an underlying error with the taxonomy kind and the component
// that raised it.
type Error struct {
	Kind      Kind
	Component string
	Err       error
}

// New constructs a tagged Error.
func New(kind Kind, component string, err error) *Error {
	return &Error{Kind: kind, Component: component, Err: err}
}

func (e *Error) Error() string {
	if e == nil || e.Err == nil {
		return fmt.Sprintf("doorerr: %s (%s)", e.Kind, e.Component)
	}
	return fmt.Sprintf("%s: %s: %v", e.Component, e.Kind, e.Err)
}

// Unwrap exposes the wrapped error to errors.Is/errors.As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Fatal reports whether this error's kind should abort startup, per
// spec.md §7: only Config errors propagate to the orchestrator as fatal.
func (e *Error) Fatal() bool {
	return e != nil && e.Kind == Config
}

// Retryable reports whether the orchestrator's backoff loop should retry
// the operation that produced this error.
func (e *Error) Retryable() bool {
	return e != nil && (e.Kind == DeviceOpen || e.Kind == DeviceIO)
}
