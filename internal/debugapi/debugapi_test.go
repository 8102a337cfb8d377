package debugapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"doorcam/internal/events"
	"doorcam/internal/ring"
)

func TestHandleStatusReportsRingAndClients(t *testing.T) {
	buf := ring.New(4)
	bus := events.New()
	s := New(Config{}, buf, bus, nil, nil, nil)
	client := bus.Subscribe(nil)
	defer client.Close()

	req := httptest.NewRequest(http.MethodGet, "/debug/status", nil)
	rec := httptest.NewRecorder()
	s.handleStatus(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var doc statusDocument
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("unmarshal status: %v", err)
	}
	if doc.Ring.Capacity != 4 {
		t.Fatalf("expected ring capacity 4, got %d", doc.Ring.Capacity)
	}
	if doc.Clients != 1 {
		t.Fatalf("expected 1 client, got %d", doc.Clients)
	}
}

func TestTriggerCaptureRequiresToken(t *testing.T) {
	buf := ring.New(4)
	bus := events.New()
	s := New(Config{AdminToken: "secret"}, buf, bus, nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/debug/trigger-capture", nil)
	rec := httptest.NewRecorder()
	s.handleTriggerCapture(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/debug/trigger-capture", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()

	sub := bus.Subscribe(nil)
	s.handleTriggerCapture(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 with valid token, got %d", rec.Code)
	}

	select {
	case e := <-sub.Events():
		if e.Kind != events.KindMotionDetected {
			t.Fatalf("expected MotionDetected, got %v", e.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a MotionDetected event to be published")
	}
}

func TestShutdownRequiresToken(t *testing.T) {
	buf := ring.New(4)
	bus := events.New()
	s := New(Config{AdminToken: "secret"}, buf, bus, nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/debug/shutdown", nil)
	rec := httptest.NewRecorder()
	s.handleShutdown(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/debug/shutdown", nil)
	req.Header.Set("X-Admin-Token", "secret")
	rec = httptest.NewRecorder()

	sub := bus.Subscribe(nil)
	s.handleShutdown(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	select {
	case e := <-sub.Events():
		if e.Kind != events.KindShutdownRequested {
			t.Fatalf("expected ShutdownRequested, got %v", e.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a ShutdownRequested event to be published")
	}
}
