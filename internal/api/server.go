// Package api serves the dashboard's HTTP surface: device state and
// commands, alerts, the event history, and the live WebSocket feed.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mfeltner/homelink/internal/alert"
	"github.com/mfeltner/homelink/internal/broker"
	"github.com/mfeltner/homelink/internal/camera"
	"github.com/mfeltner/homelink/internal/device"
	"github.com/mfeltner/homelink/internal/events"
	"github.com/mfeltner/homelink/internal/storage/postgres"
)

// BrokerStatus reports the broker connection state for /health and /metrics.
type BrokerStatus interface {
	State() broker.State
}

// EventHistory queries the persisted event log. Optional; when absent the
// in-memory ring buffer serves /api/events instead.
type EventHistory interface {
	QueryEvents(ctx context.Context, limit int) ([]postgres.EventRow, error)
}

// Server holds the HTTP surface and its collaborators.
type Server struct {
	homeName string
	events   *events.Log
	coord    *device.Coordinator
	cache    *device.StateCache
	alerts   *alert.Pipeline
	feed     *camera.Feed
	status   BrokerStatus
	history  EventHistory

	startTime time.Time

	mu   sync.Mutex
	http *http.Server
}

// NewServer wires the API against its collaborators. feed, status, and
// history may be nil; the corresponding endpoints degrade gracefully.
func NewServer(homeName string, log *events.Log, coord *device.Coordinator, cache *device.StateCache, alerts *alert.Pipeline, feed *camera.Feed, status BrokerStatus, history EventHistory) *Server {
	return &Server{
		homeName:  homeName,
		events:    log,
		coord:     coord,
		cache:     cache,
		alerts:    alerts,
		feed:      feed,
		status:    status,
		history:   history,
		startTime: time.Now(),
	}
}

// Router builds the chi router with all routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/", dashboardHandler)
	r.Get("/health", s.healthHandler)
	r.Get("/metrics", s.metricsHandler)
	r.Get("/ws", s.wsHandler)

	r.Route("/api", func(r chi.Router) {
		r.Get("/devices", RequireMember(s.listDevicesHandler))
		r.Get("/devices/{deviceID}", RequireMember(s.getDeviceHandler))
		r.Post("/devices/{deviceID}/toggle", RequireMember(s.toggleHandler))
		r.Post("/devices/{deviceID}/brightness", RequireMember(s.brightnessHandler))
		r.Post("/devices/{deviceID}/power", RequireMember(s.powerHandler))
		r.Post("/devices/{deviceID}/mode", RequireMember(s.modeHandler))
		r.Post("/devices/{deviceID}/cancel", RequireMember(s.cancelHandler))

		r.Get("/alerts", RequireMember(s.listAlertsHandler))
		r.Delete("/alerts/{alertID}", RequireMember(s.dismissAlertHandler))

		r.Get("/events", RequireAdmin(s.eventsHandler))

		r.Post("/cameras/{deviceID}/watch", RequireMember(s.watchCameraHandler))
		r.Delete("/cameras/{deviceID}/watch", RequireMember(s.unwatchCameraHandler))
	})

	return r
}

// ListenAndServe starts the server on the given port, with TLS when
// configured. It blocks until the server exits. A configured but broken
// certificate fails startup instead of downgrading to plain HTTP.
func (s *Server) ListenAndServe(port int) error {
	tlsCfg, err := LoadTLSConfig()
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:      fmt.Sprintf(":%d", port),
		Handler:   s.Router(),
		TLSConfig: tlsCfg,
	}

	s.mu.Lock()
	s.http = srv
	s.mu.Unlock()

	if tlsCfg != nil {
		log.Printf("API listening on %s (TLS)", srv.Addr)
		err = srv.ListenAndServeTLS("", "")
	} else {
		log.Printf("API listening on %s", srv.Addr)
		err = srv.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.http
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// commandStatus maps coordinator errors onto HTTP status codes.
func commandStatus(err error) int {
	switch {
	case errors.Is(err, device.ErrUnknownDevice):
		return http.StatusNotFound
	case errors.Is(err, device.ErrCommandPending):
		return http.StatusConflict
	case errors.Is(err, device.ErrInvalidBrightness), errors.Is(err, device.ErrWrongType):
		return http.StatusBadRequest
	case errors.Is(err, device.ErrUpdateFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type healthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Home      string `json:"home"`
	Hostname  string `json:"hostname"`
	Broker    string `json:"broker"`
	Timestamp string `json:"ts"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	host, _ := os.Hostname()
	brokerState := "unknown"
	if s.status != nil {
		brokerState = s.status.State().String()
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Service:   "homelink",
		Home:      s.homeName,
		Hostname:  host,
		Broker:    brokerState,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (s *Server) listDevicesHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cache.Snapshot())
}

func (s *Server) getDeviceHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "deviceID")
	d, ok := s.cache.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown device: "+id)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) toggleHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "deviceID")
	d, err := s.coord.ToggleLight(r.Context(), id)
	if err != nil {
		writeError(w, commandStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type brightnessRequest struct {
	Brightness int `json:"brightness"`
}

func (s *Server) brightnessHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "deviceID")

	var req brightnessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	d, err := s.coord.SetBrightness(r.Context(), id, req.Brightness)
	if err != nil {
		writeError(w, commandStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type powerRequest struct {
	On bool `json:"on"`
}

func (s *Server) powerHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "deviceID")

	var req powerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	d, err := s.coord.SetCameraPower(r.Context(), id, req.On)
	if err != nil {
		writeError(w, commandStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type modeRequest struct {
	ModeID string `json:"mode_id"`
}

func (s *Server) modeHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "deviceID")

	var req modeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.ModeID == "" {
		writeError(w, http.StatusBadRequest, "mode_id required")
		return
	}

	d, err := s.coord.SetAutomationMode(r.Context(), id, req.ModeID)
	if err != nil {
		writeError(w, commandStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type cancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

func (s *Server) cancelHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "deviceID")
	writeJSON(w, http.StatusOK, cancelResponse{Cancelled: s.coord.Cancel(id)})
}

func (s *Server) listAlertsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.alerts.Alerts())
}

func (s *Server) dismissAlertHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "alertID")
	if err := s.alerts.Dismiss(r.Context(), id); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	limit := 200
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	if s.history != nil {
		rows, err := s.history.QueryEvents(r.Context(), limit)
		if err != nil {
			log.Printf("event history query failed: %v", err)
			writeError(w, http.StatusBadGateway, "event history unavailable")
			return
		}
		if rows == nil {
			rows = []postgres.EventRow{}
		}
		writeJSON(w, http.StatusOK, rows)
		return
	}

	writeJSON(w, http.StatusOK, s.events.Recent(limit))
}

func (s *Server) watchCameraHandler(w http.ResponseWriter, r *http.Request) {
	if s.feed == nil {
		writeError(w, http.StatusServiceUnavailable, "camera feed unavailable")
		return
	}
	id := chi.URLParam(r, "deviceID")
	if d, ok := s.cache.Get(id); !ok || d.Type != device.TypeCamera {
		writeError(w, http.StatusNotFound, "unknown camera: "+id)
		return
	}
	if err := s.feed.Watch(id); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) unwatchCameraHandler(w http.ResponseWriter, r *http.Request) {
	if s.feed == nil {
		writeError(w, http.StatusServiceUnavailable, "camera feed unavailable")
		return
	}
	s.feed.Unwatch(chi.URLParam(r, "deviceID"))
	w.WriteHeader(http.StatusNoContent)
}
