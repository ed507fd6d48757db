package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/corvid-labs/envsim/internal/engine"
	"github.com/corvid-labs/envsim/internal/modality"
	"github.com/corvid-labs/envsim/internal/modality/calendar"
	"github.com/corvid-labs/envsim/internal/modality/chat"
	"github.com/corvid-labs/envsim/internal/modality/email"
	"github.com/corvid-labs/envsim/internal/modality/location"
	"github.com/corvid-labs/envsim/internal/modality/sms"
	"github.com/corvid-labs/envsim/internal/modality/timeprefs"
	"github.com/corvid-labs/envsim/internal/modality/weather"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	registry := modality.NewRegistry(
		email.New(), sms.New(), chat.New(), calendar.New(),
		location.New(), weather.New(), timeprefs.New(),
	)
	eng := engine.New(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), registry)
	if _, err := eng.Start(false, 1.0); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return NewServer("", 0, eng, nil, nil, discardLogger())
}

// newTestMux registers the same route table Start builds, without
// opening a listening socket.
func newTestMux(s *Server) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /simulation/start", s.handleSimulationStart)
	mux.HandleFunc("POST /simulation/stop", s.handleSimulationStop)
	mux.HandleFunc("POST /simulation/reset", s.handleSimulationReset)
	mux.HandleFunc("POST /simulation/clear", s.handleSimulationClear)
	mux.HandleFunc("GET /simulation/status", s.handleSimulationStatus)
	mux.HandleFunc("GET /simulator/time", s.handleTimeGet)
	mux.HandleFunc("POST /simulator/time/advance", s.handleTimeAdvance)
	mux.HandleFunc("POST /simulator/time/set", s.handleTimeSet)
	mux.HandleFunc("POST /simulator/time/skip-to-next", s.handleTimeSkipToNext)
	mux.HandleFunc("POST /simulator/time/pause", s.handleTimePause)
	mux.HandleFunc("POST /simulator/time/resume", s.handleTimeResume)
	mux.HandleFunc("POST /simulator/time/set-scale", s.handleTimeSetScale)
	mux.HandleFunc("POST /events", s.handleEventCreate)
	mux.HandleFunc("POST /events/immediate", s.handleEventImmediate)
	mux.HandleFunc("GET /events", s.handleEventList)
	mux.HandleFunc("GET /events/next", s.handleEventNext)
	mux.HandleFunc("GET /events/summary", s.handleEventSummary)
	mux.HandleFunc("GET /events/{id}", s.handleEventGet)
	mux.HandleFunc("DELETE /events/{id}", s.handleEventCancel)
	mux.HandleFunc("GET /environment/state", s.handleEnvironmentState)
	mux.HandleFunc("GET /environment/modalities", s.handleEnvironmentModalities)
	mux.HandleFunc("GET /environment/modalities/{name}", s.handleEnvironmentModalityGet)
	mux.HandleFunc("POST /environment/modalities/{name}/query", s.handleEnvironmentModalityQuery)
	mux.HandleFunc("POST /environment/validate", s.handleEnvironmentValidate)
	mux.HandleFunc("POST /simulator/undo", s.handleUndo)
	mux.HandleFunc("POST /simulator/redo", s.handleRedo)
	mux.HandleFunc("POST /email/{action}", s.handleEmailAction)
	mux.HandleFunc("POST /sms/{action}", s.handleSMSAction)
	mux.HandleFunc("POST /chat/send", s.handleChatSend)
	mux.HandleFunc("POST /chat/query", s.handleChatQuery)
	mux.HandleFunc("POST /calendar/{action}", s.handleCalendarAction)
	mux.HandleFunc("POST /location/update", s.handleLocationUpdate)
	mux.HandleFunc("GET /location/state", s.handleLocationState)
	mux.HandleFunc("POST /weather/update", s.handleWeatherUpdate)
	mux.HandleFunc("POST /weather/query", s.handleWeatherQuery)
	return mux
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	r := httptest.NewRequest(method, path, reader)
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	newTestMux(s).ServeHTTP(w, r)
	return w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func TestSimulationStartReportsRunning(t *testing.T) {
	s := newTestServer(t)
	w := doJSON(t, s, "POST", "/simulation/start", map[string]any{"auto_advance": false})
	if w.Code != 200 {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	resp := decodeResponse(t, w)
	if resp["status"] != "running" {
		t.Errorf("status = %v, want running", resp["status"])
	}
}

func TestEventCreateAndGet(t *testing.T) {
	s := newTestServer(t)
	createResp := doJSON(t, s, "POST", "/events", map[string]any{
		"scheduled_time": "2026-01-01T01:00:00Z",
		"modality":       "location",
		"data":           map[string]any{"latitude": 10.0, "longitude": 20.0},
	})
	if createResp.Code != 200 {
		t.Fatalf("create status = %d, body = %s", createResp.Code, createResp.Body.String())
	}
	created := decodeResponse(t, createResp)
	id, _ := created["event_id"].(string)
	if id == "" {
		t.Fatal("event_id missing from response")
	}
	if created["status"] != "pending" {
		t.Errorf("status = %v, want pending", created["status"])
	}

	getResp := doJSON(t, s, "GET", "/events/"+id, nil)
	if getResp.Code != 200 {
		t.Fatalf("get status = %d, body = %s", getResp.Code, getResp.Body.String())
	}
}

func TestEventCreateUnknownModalityReturns404(t *testing.T) {
	s := newTestServer(t)
	w := doJSON(t, s, "POST", "/events", map[string]any{
		"scheduled_time": "2026-01-01T01:00:00Z",
		"modality":       "does-not-exist",
		"data":           map[string]any{},
	})
	if w.Code != 404 {
		t.Errorf("status = %d, want 404, body = %s", w.Code, w.Body.String())
	}
}

func TestEventCreatePastScheduledReturns409(t *testing.T) {
	s := newTestServer(t)
	w := doJSON(t, s, "POST", "/events", map[string]any{
		"scheduled_time": "2020-01-01T00:00:00Z",
		"modality":       "location",
		"data":           map[string]any{"latitude": 1.0, "longitude": 1.0},
	})
	if w.Code != 409 {
		t.Errorf("status = %d, want 409, body = %s", w.Code, w.Body.String())
	}
}

func TestTimeAdvanceZeroSecondsRejected(t *testing.T) {
	s := newTestServer(t)
	w := doJSON(t, s, "POST", "/simulator/time/advance", map[string]any{"seconds": 0})
	if w.Code != 400 {
		t.Errorf("status = %d, want 400, body = %s", w.Code, w.Body.String())
	}
}

func TestTimeAdvanceWhilePausedReturns400(t *testing.T) {
	s := newTestServer(t)
	s.engine.Pause()
	w := doJSON(t, s, "POST", "/simulator/time/advance", map[string]any{"seconds": 5})
	if w.Code != 400 {
		t.Errorf("status = %d, want 400, body = %s", w.Code, w.Body.String())
	}
}

func TestLocationConvenienceRouteExecutesImmediately(t *testing.T) {
	s := newTestServer(t)
	w := doJSON(t, s, "POST", "/location/update", map[string]any{"latitude": 40.0, "longitude": -70.0})
	if w.Code != 200 {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	resp := decodeResponse(t, w)
	if resp["status"] != "executed" {
		t.Errorf("status = %v, want executed", resp["status"])
	}
	if resp["modality"] != "location" {
		t.Errorf("modality = %v, want location", resp["modality"])
	}
}

func TestLocationStateReflectsConvenienceUpdate(t *testing.T) {
	s := newTestServer(t)
	doJSON(t, s, "POST", "/location/update", map[string]any{"latitude": 5.0, "longitude": 6.0})

	w := doJSON(t, s, "GET", "/location/state", nil)
	if w.Code != 200 {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	resp := decodeResponse(t, w)
	state, _ := resp["state"].(map[string]any)
	if state["current_latitude"] != 5.0 {
		t.Errorf("current_latitude = %v, want 5", state["current_latitude"])
	}
}

func TestEnvironmentModalitiesListsAllSeven(t *testing.T) {
	s := newTestServer(t)
	w := doJSON(t, s, "GET", "/environment/modalities", nil)
	resp := decodeResponse(t, w)
	if resp["count"] != 7.0 {
		t.Errorf("count = %v, want 7", resp["count"])
	}
}

func TestEventCancelNonPendingReturns400(t *testing.T) {
	s := newTestServer(t)
	createResp := doJSON(t, s, "POST", "/location/update", map[string]any{"latitude": 1.0, "longitude": 1.0})
	created := decodeResponse(t, createResp)
	id, _ := created["event_id"].(string)

	w := doJSON(t, s, "DELETE", "/events/"+id, nil)
	if w.Code != 400 {
		t.Errorf("status = %d, want 400, body = %s", w.Code, w.Body.String())
	}
}

func TestEventCancelUnknownReturns404(t *testing.T) {
	s := newTestServer(t)
	w := doJSON(t, s, "DELETE", "/events/does-not-exist", nil)
	if w.Code != 404 {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestCalendarCreateViaConvenienceRouteAcceptsJSONTimestamps(t *testing.T) {
	s := newTestServer(t)
	w := doJSON(t, s, "POST", "/calendar/create", map[string]any{
		"title":      "Standup",
		"start_time": "2026-01-01T09:00:00Z",
		"end_time":   "2026-01-01T09:30:00Z",
	})
	if w.Code != 200 {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	resp := decodeResponse(t, w)
	if resp["status"] != "executed" {
		t.Errorf("status = %v, want executed", resp["status"])
	}

	state := doJSON(t, s, "GET", "/environment/modalities/calendar", nil)
	if state.Code != 200 {
		t.Fatalf("modality get status = %d, body = %s", state.Code, state.Body.String())
	}
}

func TestCalendarCreateViaEventsEndpointAcceptsJSONTimestamps(t *testing.T) {
	s := newTestServer(t)
	w := doJSON(t, s, "POST", "/events", map[string]any{
		"scheduled_time": "2026-01-01T01:00:00Z",
		"modality":       "calendar",
		"data": map[string]any{
			"title":      "Planning",
			"start_time": "2026-01-01T10:00:00Z",
			"end_time":   "2026-01-01T11:00:00Z",
		},
	})
	if w.Code != 200 {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestCalendarCreateThenUndoViaHTTP(t *testing.T) {
	s := newTestServer(t)
	create := doJSON(t, s, "POST", "/calendar/create", map[string]any{
		"title":      "One-off",
		"start_time": "2026-01-01T09:00:00Z",
		"end_time":   "2026-01-01T09:30:00Z",
	})
	if create.Code != 200 {
		t.Fatalf("create status = %d, body = %s", create.Code, create.Body.String())
	}

	undo := doJSON(t, s, "POST", "/simulator/undo", map[string]any{"count": 1})
	if undo.Code != 200 {
		t.Fatalf("undo status = %d, body = %s", undo.Code, undo.Body.String())
	}
}
