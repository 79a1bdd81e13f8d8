package api

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/lucid-vigil/nids-watch/pkg/actions"
	dashboarderrors "github.com/lucid-vigil/nids-watch/pkg/errors"
	"github.com/lucid-vigil/nids-watch/pkg/events"
	"github.com/lucid-vigil/nids-watch/pkg/monitors/base"
	"github.com/lucid-vigil/nids-watch/pkg/state"
	"github.com/lucid-vigil/nids-watch/pkg/view"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

//go:embed templates/dashboard.html
var templateFS embed.FS

const (
	chartWidth  = 600
	chartHeight = 240
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS allows every origin
	},
}

// ActionRunner executes named dashboard actions.
type ActionRunner interface {
	Execute(ctx context.Context, name string, data map[string]interface{}) error
	Names() []string
}

// StatusProvider reports a monitor's state.
type StatusProvider interface {
	Status() base.Status
}

// BusMetrics reports event bus counters.
type BusMetrics interface {
	GetMetrics() events.EventMetrics
}

// Options carries the server's collaborators. Bus, Errors and Monitors may
// be nil.
type Options struct {
	Store    *state.Store
	Actions  ActionRunner
	Bus      BusMetrics
	Errors   dashboarderrors.ErrorCollector
	Monitors func() []StatusProvider
	Location *time.Location
	Logger   zerolog.Logger
}

// Server serves the dashboard page, its JSON API and the live websocket.
type Server struct {
	opts   Options
	hub    *Hub
	page   *template.Template
	router *mux.Router
	logger zerolog.Logger
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Monitors    []base.Status               `json:"monitors"`
	EventBus    *events.EventMetrics        `json:"event_bus,omitempty"`
	Errors      *dashboarderrors.ErrorStats `json:"errors,omitempty"`
	ViewClients int                         `json:"view_clients"`
	Actions     []string                    `json:"actions"`
	State       map[string]interface{}      `json:"state"`
}

// NewServer builds the router. The returned server's Hub must be run and
// subscribed to the event bus by the caller.
func NewServer(opts Options) (*Server, error) {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	logger := opts.Logger.With().Str("component", "api").Logger()

	page, err := template.New("dashboard.html").Funcs(template.FuncMap{
		"chartWidth":  func() int { return chartWidth },
		"chartHeight": func() int { return chartHeight },
		"yFor":        yFor,
		"points":      points,
	}).ParseFS(templateFS, "templates/dashboard.html")
	if err != nil {
		return nil, fmt.Errorf("parse dashboard template: %w", err)
	}

	s := &Server{
		opts:   opts,
		page:   page,
		router: mux.NewRouter(),
		logger: logger,
	}
	s.hub = NewHub(s.Model, opts.Logger)
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	r := s.router
	r.Use(s.accessLog)

	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWS).Methods(http.MethodGet)
	r.HandleFunc("/healthz", healthzHandler).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	apiRouter := r.PathPrefix("/api").Subrouter()
	apiRouter.HandleFunc("/state", s.handleState).Methods(http.MethodGet)
	apiRouter.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	apiRouter.HandleFunc("/threshold", s.handleThreshold).Methods(http.MethodPost)
	apiRouter.HandleFunc("/actions/{name}", s.handleAction).Methods(http.MethodPost)
}

// accessLog attaches the logger to the request and logs one line per
// request.
func (s *Server) accessLog(next http.Handler) http.Handler {
	h := hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("HTTP request")
	})(next)
	h = hlog.RemoteAddrHandler("ip")(h)
	h = hlog.RequestIDHandler("req_id", "Request-Id")(h)
	return hlog.NewHandler(s.logger)(h)
}

// Handler returns the router wrapped in CORS handling.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(s.router)
}

// Hub returns the websocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Model renders the current state.
func (s *Server) Model() view.Model {
	return view.Build(s.opts.Store.Snapshot(), s.opts.Location)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.page.Execute(w, s.Model()); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Failed to render dashboard")
	}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Model())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.opts.Store.Snapshot()
	resp := StatusResponse{
		Monitors:    []base.Status{},
		ViewClients: s.hub.GetClientCount(),
		Actions:     s.opts.Actions.Names(),
		State: map[string]interface{}{
			"version":          snap.Version,
			"samples":          len(snap.Samples),
			"stream_connected": snap.StreamConnected,
			"heal_loading":     snap.HealLoading,
			"updated_at":       snap.UpdatedAt,
		},
	}
	if s.opts.Monitors != nil {
		for _, m := range s.opts.Monitors() {
			resp.Monitors = append(resp.Monitors, m.Status())
		}
	}
	if s.opts.Bus != nil {
		m := s.opts.Bus.GetMetrics()
		resp.EventBus = &m
	}
	if s.opts.Errors != nil {
		stats := s.opts.Errors.GetErrorStats()
		resp.Errors = &stats
	}
	writeJSON(w, http.StatusOK, resp)
}

type thresholdRequest struct {
	Threshold *float64 `json:"threshold"`
}

func (s *Server) handleThreshold(w http.ResponseWriter, r *http.Request) {
	var req thresholdRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1024))
	if err := dec.Decode(&req); err != nil || req.Threshold == nil {
		writeError(w, http.StatusBadRequest, "body must be {\"threshold\": <number>}")
		return
	}

	if err := s.opts.Store.SetThreshold(*req.Threshold); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	hlog.FromRequest(r).Info().Float64("threshold", *req.Threshold).Msg("Threshold changed")
	writeJSON(w, http.StatusOK, s.Model())
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	err := s.opts.Actions.Execute(r.Context(), name, nil)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "action": name})
	case errors.Is(err, actions.ErrUnknownAction):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, actions.ErrRateLimited):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, actions.ErrActionsDisabled):
		writeError(w, http.StatusForbidden, err.Error())
	default:
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := newClient(s.hub, conn)
	if !s.hub.join(client) {
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func yFor(p float64) string {
	return strconv.FormatFloat(chartHeight-p*chartHeight, 'f', 1, 64)
}

func points(chart []view.ChartPoint) string {
	if len(chart) == 0 {
		return ""
	}
	step := 0.0
	if len(chart) > 1 {
		step = float64(chartWidth) / float64(len(chart)-1)
	}
	parts := make([]string, len(chart))
	for i, c := range chart {
		parts[i] = strconv.FormatFloat(float64(i)*step, 'f', 1, 64) + "," + yFor(c.Probability)
	}
	return strings.Join(parts, " ")
}
