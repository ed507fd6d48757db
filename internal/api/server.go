// Package api implements the simulator's HTTP surface: simulation
// lifecycle, clock control, event scheduling, environment/modality
// reads, per-modality convenience routes, the websocket event stream,
// and optional snapshot export (spec §6).
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/corvid-labs/envsim/internal/apierr"
	"github.com/corvid-labs/envsim/internal/buildinfo"
	"github.com/corvid-labs/envsim/internal/engine"
	"github.com/corvid-labs/envsim/internal/event"
	"github.com/corvid-labs/envsim/internal/queue"
	"github.com/corvid-labs/envsim/internal/snapshot"
	"github.com/corvid-labs/envsim/internal/stream"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response,
// which is not actionable but worth tracking for debugging.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the simulator's HTTP API server.
type Server struct {
	address       string
	port          int
	engine        *engine.Engine
	hub           *stream.Hub
	snapshotStore *snapshot.Store
	simulationID  string
	logger        *slog.Logger
	server        *http.Server
}

// NewServer creates a new API server bound to a running Engine. hub and
// snapshotStore may be nil: the stream route answers 503 without a hub,
// and snapshot persistence degrades to an in-memory-only export without
// a store (see internal/snapshot's nil-safety).
func NewServer(address string, port int, eng *engine.Engine, hub *stream.Hub, snapshotStore *snapshot.Store, logger *slog.Logger) *Server {
	return &Server{
		address:       address,
		port:          port,
		engine:        eng,
		hub:           hub,
		snapshotStore: snapshotStore,
		simulationID:  event.NewID(),
		logger:        logger,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /version", s.handleVersion)

	// Simulation lifecycle
	mux.HandleFunc("POST /simulation/start", s.handleSimulationStart)
	mux.HandleFunc("POST /simulation/stop", s.handleSimulationStop)
	mux.HandleFunc("POST /simulation/reset", s.handleSimulationReset)
	mux.HandleFunc("POST /simulation/clear", s.handleSimulationClear)
	mux.HandleFunc("GET /simulation/status", s.handleSimulationStatus)

	// Clock
	mux.HandleFunc("GET /simulator/time", s.handleTimeGet)
	mux.HandleFunc("POST /simulator/time/advance", s.handleTimeAdvance)
	mux.HandleFunc("POST /simulator/time/set", s.handleTimeSet)
	mux.HandleFunc("POST /simulator/time/skip-to-next", s.handleTimeSkipToNext)
	mux.HandleFunc("POST /simulator/time/pause", s.handleTimePause)
	mux.HandleFunc("POST /simulator/time/resume", s.handleTimeResume)
	mux.HandleFunc("POST /simulator/time/set-scale", s.handleTimeSetScale)

	// Events
	mux.HandleFunc("POST /events", s.handleEventCreate)
	mux.HandleFunc("POST /events/immediate", s.handleEventImmediate)
	mux.HandleFunc("GET /events", s.handleEventList)
	mux.HandleFunc("GET /events/next", s.handleEventNext)
	mux.HandleFunc("GET /events/summary", s.handleEventSummary)
	mux.HandleFunc("GET /events/{id}", s.handleEventGet)
	mux.HandleFunc("DELETE /events/{id}", s.handleEventCancel)

	// Environment / modalities
	mux.HandleFunc("GET /environment/state", s.handleEnvironmentState)
	mux.HandleFunc("GET /environment/modalities", s.handleEnvironmentModalities)
	mux.HandleFunc("GET /environment/modalities/{name}", s.handleEnvironmentModalityGet)
	mux.HandleFunc("POST /environment/modalities/{name}/query", s.handleEnvironmentModalityQuery)
	mux.HandleFunc("POST /environment/validate", s.handleEnvironmentValidate)

	// Undo / redo
	mux.HandleFunc("POST /simulator/undo", s.handleUndo)
	mux.HandleFunc("POST /simulator/redo", s.handleRedo)

	// Per-modality convenience routes
	mux.HandleFunc("POST /email/{action}", s.handleEmailAction)
	mux.HandleFunc("POST /sms/{action}", s.handleSMSAction)
	mux.HandleFunc("POST /chat/send", s.handleChatSend)
	mux.HandleFunc("POST /chat/query", s.handleChatQuery)
	mux.HandleFunc("POST /calendar/{action}", s.handleCalendarAction)
	mux.HandleFunc("POST /location/update", s.handleLocationUpdate)
	mux.HandleFunc("GET /location/state", s.handleLocationState)
	mux.HandleFunc("POST /weather/update", s.handleWeatherUpdate)
	mux.HandleFunc("POST /weather/query", s.handleWeatherQuery)

	// Event stream and snapshot export
	mux.HandleFunc("GET /simulator/stream", s.handleStream)
	mux.HandleFunc("POST /simulation/snapshot", s.handleSnapshotCreate)
	mux.HandleFunc("GET /simulation/snapshot/{id}", s.handleSnapshotGet)

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.withLogging(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

// errorResponse writes the spec's {"detail": ...} error envelope.
func (s *Server) errorResponse(w http.ResponseWriter, code int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{"detail": detail}, s.logger)
}

// apiError surfaces err using apierr's default status mapping.
func (s *Server) apiError(w http.ResponseWriter, err error) {
	s.errorResponse(w, apierr.StatusCode(err), err.Error())
}

// apiErrorConflictAs400 surfaces err the same way apiError does, except
// a StateConflict is reported as 400 rather than 409. A handful of
// routes document 400 for a conflict that every other route treats as
// 409 (advance while paused/stopped, a backwards time set, cancelling a
// non-pending event) — see spec §6.1.
func (s *Server) apiErrorConflictAs400(w http.ResponseWriter, err error) {
	code := apierr.StatusCode(err)
	if _, ok := err.(*apierr.StateConflict); ok {
		code = http.StatusBadRequest
	}
	s.errorResponse(w, code, err.Error())
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "envsim",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "healthy"}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.RuntimeInfo(), s.logger)
}

// decodeBody reads a JSON object body into a map, tolerating an empty
// body as an empty map (several convenience routes accept no fields).
func decodeBody(r *http.Request) (map[string]any, error) {
	body := map[string]any{}
	if r.ContentLength == 0 {
		return body, nil
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, apierr.NewValidationf("invalid request body: %v", err)
	}
	return body, nil
}

func parseRFC3339(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, apierr.NewValidationf("invalid timestamp %q: %v", value, err)
	}
	return t, nil
}

// toMap round-trips v through JSON to get a generic, spec-shaped map
// for response bodies built from internal structs that carry json tags.
func toMap(v any) map[string]any {
	data, err := json.Marshal(v)
	if err != nil {
		return map[string]any{}
	}
	var m map[string]any
	_ = json.Unmarshal(data, &m)
	return m
}

func eventsToMaps(evs []*event.Event) []map[string]any {
	out := make([]map[string]any, len(evs))
	for i, ev := range evs {
		out[i] = toMap(ev)
	}
	return out
}

// --- Simulation lifecycle ---

type startRequest struct {
	AutoAdvance bool    `json:"auto_advance"`
	TimeScale   float64 `json:"time_scale"`
}

func (s *Server) handleSimulationStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.errorResponse(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	result, err := s.engine.Start(req.AutoAdvance, req.TimeScale)
	if err != nil {
		s.apiError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"simulation_id": s.simulationID,
		"status":        string(result.Status),
		"current_time":  result.CurrentTime,
		"auto_advance":  result.AutoAdvance,
		"time_scale":    result.TimeScale,
	}, s.logger)
}

func (s *Server) handleSimulationStop(w http.ResponseWriter, r *http.Request) {
	wasRunning := s.engine.Status().IsRunning
	result := s.engine.Stop()

	resp := map[string]any{
		"simulation_id": s.simulationID,
		"status":        string(result.Status),
		"final_time":    result.FinalTime,
	}
	if wasRunning {
		resp["total_events"] = result.TotalEvents
		resp["events_executed"] = result.EventsExecuted
		resp["events_failed"] = result.EventsFailed
	} else {
		resp["total_events"] = nil
		resp["events_executed"] = nil
		resp["events_failed"] = nil
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, resp, s.logger)
}

func (s *Server) handleSimulationReset(w http.ResponseWriter, r *http.Request) {
	cleared := s.engine.Reset()
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"status":        "reset",
		"cleared_events": cleared,
		"message":       fmt.Sprintf("reset %d event(s) to pending", cleared),
	}, s.logger)
}

type clearRequest struct {
	ResetTimeTo string `json:"reset_time_to"`
}

func (s *Server) handleSimulationClear(w http.ResponseWriter, r *http.Request) {
	var req clearRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.errorResponse(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	var resetTo *time.Time
	if req.ResetTimeTo != "" {
		t, err := parseRFC3339(req.ResetTimeTo)
		if err != nil {
			s.apiError(w, err)
			return
		}
		resetTo = &t
	}

	result := s.engine.Clear(resetTo)
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"status":             "cleared",
		"events_removed":     result.EventsRemoved,
		"modalities_cleared": result.ModalitiesCleared,
		"time_reset":         result.TimeReset,
		"current_time":       result.CurrentTime,
	}, s.logger)
}

func (s *Server) handleSimulationStatus(w http.ResponseWriter, r *http.Request) {
	status := s.engine.Status()
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"is_running":      status.IsRunning,
		"current_time":    status.CurrentTime,
		"is_paused":       status.IsPaused,
		"time_scale":      status.TimeScale,
		"pending_events":  status.PendingEvents,
		"executed_events": status.ExecutedEvents,
		"failed_events":   status.FailedEvents,
		"next_event_time": status.NextEventTime,
	}, s.logger)
}

// --- Clock ---

func (s *Server) handleTimeGet(w http.ResponseWriter, r *http.Request) {
	t := s.engine.Time()
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"current_time": t.CurrentTime,
		"time_scale":   t.TimeScale,
		"is_paused":    t.IsPaused,
		"auto_advance": t.AutoAdvance,
	}, s.logger)
}

type advanceRequest struct {
	Seconds float64 `json:"seconds"`
}

func (s *Server) handleTimeAdvance(w http.ResponseWriter, r *http.Request) {
	var req advanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Seconds <= 0 {
		s.errorResponse(w, http.StatusBadRequest, "seconds must be a positive number")
		return
	}

	result, err := s.engine.Advance(req.Seconds)
	if err != nil {
		s.apiErrorConflictAs400(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"current_time":    result.CurrentTime,
		"events_executed": result.EventsExecuted,
		"events_failed":   result.EventsFailed,
	}, s.logger)
}

type setTimeRequest struct {
	TargetTime string `json:"target_time"`
}

func (s *Server) handleTimeSet(w http.ResponseWriter, r *http.Request) {
	var req setTimeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	target, err := parseRFC3339(req.TargetTime)
	if err != nil {
		s.apiError(w, err)
		return
	}

	result, err := s.engine.SetTime(target)
	if err != nil {
		s.apiErrorConflictAs400(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"current_time":    result.CurrentTime,
		"previous_time":   result.PreviousTime,
		"skipped_events":  result.SkippedEvents,
		"executed_events": result.ExecutedEvents,
	}, s.logger)
}

func (s *Server) handleTimeSkipToNext(w http.ResponseWriter, r *http.Request) {
	result, err := s.engine.SkipToNext()
	if err != nil {
		s.apiError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"current_time":    result.CurrentTime,
		"events_executed": result.EventsExecuted,
		"next_event_time": result.NextEventTime,
	}, s.logger)
}

func (s *Server) handleTimePause(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"is_paused": s.engine.Pause()}, s.logger)
}

func (s *Server) handleTimeResume(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"is_paused": s.engine.Resume()}, s.logger)
}

type setScaleRequest struct {
	Scale float64 `json:"scale"`
}

func (s *Server) handleTimeSetScale(w http.ResponseWriter, r *http.Request) {
	var req setScaleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.engine.SetTimeScale(req.Scale); err != nil {
		s.apiError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"time_scale": req.Scale}, s.logger)
}

// --- Events ---

type eventCreateRequest struct {
	ScheduledTime string         `json:"scheduled_time"`
	Modality      string         `json:"modality"`
	Data          map[string]any `json:"data"`
	Priority      *int           `json:"priority"`
	Metadata      map[string]any `json:"metadata"`
	AgentID       string         `json:"agent_id"`
}

func (s *Server) handleEventCreate(w http.ResponseWriter, r *http.Request) {
	var req eventCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	scheduledTime, err := parseRFC3339(req.ScheduledTime)
	if err != nil {
		s.apiError(w, err)
		return
	}

	ev, err := s.engine.Schedule(event.Request{
		ScheduledTime: scheduledTime,
		Modality:      req.Modality,
		Payload:       req.Data,
		Priority:      req.Priority,
		Metadata:      req.Metadata,
		AgentID:       req.AgentID,
	})
	if err != nil {
		s.apiError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, toMap(ev), s.logger)
}

type eventImmediateRequest struct {
	Modality string         `json:"modality"`
	Data     map[string]any `json:"data"`
	Metadata map[string]any `json:"metadata"`
	AgentID  string         `json:"agent_id"`
}

func (s *Server) handleEventImmediate(w http.ResponseWriter, r *http.Request) {
	var req eventImmediateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ev, err := s.engine.ScheduleImmediate(req.Modality, req.Data, req.Metadata, req.AgentID)
	if err != nil {
		s.apiError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, toMap(ev), s.logger)
}

func (s *Server) handleEventList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := queue.Filter{
		Status:   event.Status(q.Get("status")),
		Modality: q.Get("modality"),
	}
	if v := q.Get("start_time"); v != "" {
		t, err := parseRFC3339(v)
		if err != nil {
			s.apiError(w, err)
			return
		}
		filter.StartTime = &t
	}
	if v := q.Get("end_time"); v != "" {
		t, err := parseRFC3339(v)
		if err != nil {
			s.apiError(w, err)
			return
		}
		filter.EndTime = &t
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	evs, total := s.engine.ListEvents(filter)
	summary := s.engine.EventsSummary()

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"events":   eventsToMaps(evs),
		"total":    total,
		"pending":  summary.ByStatus[event.StatusPending],
		"executed": summary.ByStatus[event.StatusExecuted],
		"failed":   summary.ByStatus[event.StatusFailed],
		"skipped":  summary.ByStatus[event.StatusSkipped],
	}, s.logger)
}

func (s *Server) handleEventNext(w http.ResponseWriter, r *http.Request) {
	ev := s.engine.NextEvent()
	if ev == nil {
		s.errorResponse(w, http.StatusNotFound, "no pending events")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, toMap(ev), s.logger)
}

func (s *Server) handleEventSummary(w http.ResponseWriter, r *http.Request) {
	summary := s.engine.EventsSummary()
	byModality := make(map[string]int, len(summary.ByModality))
	for k, v := range summary.ByModality {
		byModality[k] = v
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"total":           summary.Total,
		"pending":         summary.ByStatus[event.StatusPending],
		"executed":        summary.ByStatus[event.StatusExecuted],
		"failed":          summary.ByStatus[event.StatusFailed],
		"skipped":         summary.ByStatus[event.StatusSkipped],
		"by_modality":     byModality,
		"next_event_time": summary.NextEventTime,
	}, s.logger)
}

func (s *Server) handleEventGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ev := s.engine.GetEvent(id)
	if ev == nil {
		s.errorResponse(w, http.StatusNotFound, fmt.Sprintf("event %q not found", id))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, toMap(ev), s.logger)
}

func (s *Server) handleEventCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.engine.CancelEvent(id); err != nil {
		s.apiErrorConflictAs400(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"cancelled": true, "event_id": id}, s.logger)
}

// --- Environment / modalities ---

func (s *Server) handleEnvironmentState(w http.ResponseWriter, r *http.Request) {
	env := s.engine.Environment()
	summary := env.Summary()
	summaryOut := make([]map[string]any, len(summary))
	for i, ms := range summary {
		summaryOut[i] = toMap(ms)
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"current_time": env.Clock().Now(),
		"modalities":   env.AllStates(),
		"summary":      summaryOut,
	}, s.logger)
}

func (s *Server) handleEnvironmentModalities(w http.ResponseWriter, r *http.Request) {
	names := s.engine.Environment().ModalityNames()
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"modalities": names, "count": len(names)}, s.logger)
}

func (s *Server) handleEnvironmentModalityGet(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	state, err := s.engine.Environment().GetState(name)
	if err != nil {
		s.apiError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, state, s.logger)
}

func (s *Server) handleEnvironmentModalityQuery(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	params, err := decodeBody(r)
	if err != nil {
		s.apiError(w, err)
		return
	}
	result, err := s.engine.Environment().Query(name, params)
	if err != nil {
		s.apiError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, result, s.logger)
}

func (s *Server) handleEnvironmentValidate(w http.ResponseWriter, r *http.Request) {
	valid, errs := s.engine.ValidateEnvironment()
	if errs == nil {
		errs = []string{}
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"valid":      valid,
		"errors":     errs,
		"checked_at": s.engine.Environment().CheckedAt(),
	}, s.logger)
}

// --- Undo / redo ---

type undoRedoRequest struct {
	Count int `json:"count"`
}

func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	req := undoRedoRequest{Count: 1}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.errorResponse(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	ids, err := s.engine.Undo(req.Count)
	if err != nil {
		s.apiError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"undone": ids, "count": len(ids)}, s.logger)
}

func (s *Server) handleRedo(w http.ResponseWriter, r *http.Request) {
	req := undoRedoRequest{Count: 1}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.errorResponse(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	ids, err := s.engine.Redo(req.Count)
	if err != nil {
		s.apiError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"redone": ids, "count": len(ids)}, s.logger)
}

// --- Per-modality convenience routes ---

// smsActionNames maps the convenience route's verb to sms's internal
// Apply action, where they diverge (spec §6.1 lists "send"/"receive";
// the modality's Apply cases are "send_message"/"receive_message").
var smsActionNames = map[string]string{
	"send":    "send_message",
	"receive": "receive_message",
}

// respondConvenience writes the shared response shape every convenience
// route returns: the synthesized event plus a human-readable message
// (spec §6.1 "All convenience routes ...").
func (s *Server) respondConvenience(w http.ResponseWriter, ev *event.Event, message string) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"event_id":       ev.ID,
		"scheduled_time": ev.ScheduledTime,
		"status":         string(ev.Status),
		"message":        message,
		"modality":       ev.Modality,
	}, s.logger)
}

func (s *Server) executeConvenience(w http.ResponseWriter, modalityName, action string, body map[string]any) {
	agentID, _ := body["agent_id"].(string)
	delete(body, "agent_id")
	metadata, _ := body["metadata"].(map[string]any)
	delete(body, "metadata")
	if action != "" {
		body["action"] = action
	}

	ev, err := s.engine.ExecuteNow(modalityName, body, metadata, agentID)
	if err != nil {
		s.apiError(w, err)
		return
	}
	s.respondConvenience(w, ev, fmt.Sprintf("%s %s applied", modalityName, action))
}

func (s *Server) handleEmailAction(w http.ResponseWriter, r *http.Request) {
	action := r.PathValue("action")
	body, err := decodeBody(r)
	if err != nil {
		s.apiError(w, err)
		return
	}
	s.executeConvenience(w, "email", action, body)
}

func (s *Server) handleSMSAction(w http.ResponseWriter, r *http.Request) {
	action := r.PathValue("action")
	if mapped, ok := smsActionNames[action]; ok {
		action = mapped
	}
	body, err := decodeBody(r)
	if err != nil {
		s.apiError(w, err)
		return
	}
	s.executeConvenience(w, "sms", action, body)
}

func (s *Server) handleChatSend(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r)
	if err != nil {
		s.apiError(w, err)
		return
	}
	s.executeConvenience(w, "chat", "send_message", body)
}

func (s *Server) handleChatQuery(w http.ResponseWriter, r *http.Request) {
	params, err := decodeBody(r)
	if err != nil {
		s.apiError(w, err)
		return
	}
	result, err := s.engine.Environment().Query("chat", params)
	if err != nil {
		s.apiError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, result, s.logger)
}

func (s *Server) handleCalendarAction(w http.ResponseWriter, r *http.Request) {
	action := r.PathValue("action")
	body, err := decodeBody(r)
	if err != nil {
		s.apiError(w, err)
		return
	}
	if action == "query" {
		result, err := s.engine.Environment().Query("calendar", body)
		if err != nil {
			s.apiError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		writeJSON(w, result, s.logger)
		return
	}
	s.executeConvenience(w, "calendar", action, body)
}

func (s *Server) handleLocationUpdate(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r)
	if err != nil {
		s.apiError(w, err)
		return
	}
	s.executeConvenience(w, "location", "update", body)
}

func (s *Server) handleLocationState(w http.ResponseWriter, r *http.Request) {
	state, err := s.engine.Environment().GetState("location")
	if err != nil {
		s.apiError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, state, s.logger)
}

func (s *Server) handleWeatherUpdate(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r)
	if err != nil {
		s.apiError(w, err)
		return
	}
	s.executeConvenience(w, "weather", "update", body)
}

func (s *Server) handleWeatherQuery(w http.ResponseWriter, r *http.Request) {
	params, err := decodeBody(r)
	if err != nil {
		s.apiError(w, err)
		return
	}
	result, err := s.engine.Environment().Query("weather", params)
	if err != nil {
		s.apiError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, result, s.logger)
}

// --- Stream and snapshot ---

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "event stream not configured")
		return
	}
	s.hub.HandleWS(w, r)
}

func (s *Server) buildSnapshot() *snapshot.Snapshot {
	env := s.engine.Environment()
	evs, _ := s.engine.ListEvents(queue.Filter{})
	summary := s.engine.EventsSummary()

	byStatus := make(map[string]int, len(summary.ByStatus))
	for k, v := range summary.ByStatus {
		byStatus[string(k)] = v
	}

	return &snapshot.Snapshot{
		SimulationID: s.simulationID,
		CurrentTime:  env.Clock().Now(),
		TakenAt:      time.Now().UTC(),
		Modalities:   env.AllStates(),
		Events:       eventsToMaps(evs),
		QueueSummary: map[string]any{
			"total":           summary.Total,
			"by_status":       byStatus,
			"by_modality":     summary.ByModality,
			"next_event_time": summary.NextEventTime,
		},
		UndoStack: toMap(s.engine.UndoSummary()),
		RedoStack: toMap(s.engine.RedoSummary()),
	}
}

func (s *Server) handleSnapshotCreate(w http.ResponseWriter, r *http.Request) {
	snap := s.buildSnapshot()

	var snapID string
	if s.snapshotStore != nil {
		id, err := s.snapshotStore.Save(snap)
		if err != nil {
			s.logger.Warn("snapshot persist failed", "error", err)
		}
		snapID = id
	}

	checksum, err := snap.Checksum()
	if err != nil {
		s.apiError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"snapshot_id": snapID,
		"checksum":    checksum,
		"snapshot":    snap,
	}, s.logger)
}

func (s *Server) handleSnapshotGet(w http.ResponseWriter, r *http.Request) {
	if s.snapshotStore == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "snapshot persistence not configured")
		return
	}
	id := r.PathValue("id")
	snap, err := s.snapshotStore.Get(id)
	if err != nil {
		s.errorResponse(w, http.StatusNotFound, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, snap, s.logger)
}
