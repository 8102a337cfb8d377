package doorerr

import (
	"errors"
	"testing"
)

func TestErrorUnwrapAndMessage(t *testing.T) {
	cause := errors.New("disk full")
	err := New(WALWrite, "capture", cause)

	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to find the wrapped cause")
	}
	if got := err.Error(); got == "" {
		t.Fatal("expected a non-empty error message")
	}
}

func TestFatalOnlyForConfig(t *testing.T) {
	tests := map[string]struct {
		kind  Kind
		fatal bool
	}{
		"config":      {Config, true},
		"device_open": {DeviceOpen, false},
		"device_io":   {DeviceIO, false},
		"internal":    {Internal, false},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			err := New(tc.kind, "test", errors.New("boom"))
			if got := err.Fatal(); got != tc.fatal {
				t.Fatalf("Fatal() = %v, want %v", got, tc.fatal)
			}
		})
	}
}

func TestRetryableKinds(t *testing.T) {
	tests := map[string]struct {
		kind      Kind
		retryable bool
	}{
		"device_open": {DeviceOpen, true},
		"device_io":   {DeviceIO, true},
		"config":      {Config, false},
		"network":     {Network, false},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			err := New(tc.kind, "test", errors.New("boom"))
			if got := err.Retryable(); got != tc.retryable {
				t.Fatalf("Retryable() = %v, want %v", got, tc.retryable)
			}
		})
	}
}
