package stream

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/corvid-labs/envsim/internal/events"
	"github.com/gorilla/websocket"
)

func TestHandleWSBroadcastsBusEvents(t *testing.T) {
	hub := NewHub(nil)
	bus := events.New()
	stop := make(chan struct{})
	defer close(stop)

	go hub.Run(stop)
	go hub.Forward(bus, stop)

	server := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	// Drain the welcome message.
	var welcome Envelope
	if err := conn.ReadJSON(&welcome); err != nil {
		t.Fatalf("read welcome: %v", err)
	}
	if welcome.Type != "connected" {
		t.Errorf("welcome.Type = %q, want connected", welcome.Type)
	}

	// Give the hub a moment to register the connection before publishing.
	deadline := time.Now().Add(time.Second)
	for hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if hub.ClientCount() != 1 {
		t.Fatalf("ClientCount() = %d, want 1", hub.ClientCount())
	}

	bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceEngine,
		Kind:      events.KindExecuted,
		Data:      map[string]any{"event_id": "evt_1", "modality": "location"},
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read broadcast: %v", err)
	}
	if env.Type != events.KindExecuted {
		t.Errorf("Type = %q, want %q", env.Type, events.KindExecuted)
	}
	if env.EventID != "evt_1" {
		t.Errorf("EventID = %q, want evt_1", env.EventID)
	}
	if env.Modality != "location" {
		t.Errorf("Modality = %q, want location", env.Modality)
	}
}

func TestHandleWSDisconnectRemovesClient(t *testing.T) {
	hub := NewHub(nil)
	bus := events.New()
	stop := make(chan struct{})
	defer close(stop)

	go hub.Run(stop)
	go hub.Forward(bus, stop)

	server := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}

	var welcome Envelope
	conn.ReadJSON(&welcome)

	deadline := time.Now().Add(time.Second)
	for hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	conn.Close()

	deadline = time.Now().Add(time.Second)
	for hub.ClientCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if hub.ClientCount() != 0 {
		t.Errorf("ClientCount() after disconnect = %d, want 0", hub.ClientCount())
	}
}
