package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/markus-lassfolk/acsd/pkg/acs"
	"github.com/markus-lassfolk/acsd/pkg/logx"
	"github.com/markus-lassfolk/acsd/pkg/metrics"
	"github.com/markus-lassfolk/acsd/pkg/store"
	"github.com/markus-lassfolk/acsd/pkg/wifi"
)

// Config holds API server configuration
type Config struct {
	Listen string `json:"listen"`
	APIKey string `json:"api_key"`
	// AllowEHT clears eht_enabled on requests when false
	AllowEHT bool `json:"allow_eht"`
}

// ConnectionTable is the mutable connection view behind the policy provider
type ConnectionTable interface {
	Set(c acs.Connection) error
	Remove(iface string) bool
	Snapshot() acs.ConnectionSnapshot
}

// Resolver accepts external selector answers
type Resolver interface {
	Resolve(jobID string, freq uint32) error
}

// HistoryReader reads the selection audit log
type HistoryReader interface {
	Recent(iface string, limit int) ([]store.HistoryEntry, error)
}

// RadarMarker takes a channel out of use after radar was detected on it
type RadarMarker interface {
	MarkRadar(freq uint32)
}

// EventPublisher forwards control events, usually to MQTT
type EventPublisher interface {
	PublishEvent(ctx context.Context, kind, iface string, fields map[string]interface{}) error
}

// Deps are the collaborators of the server. Only Engine and Table are
// required.
type Deps struct {
	Engine   *acs.Engine
	Table    ConnectionTable
	Resolver Resolver
	History  HistoryReader
	Events   EventPublisher
	Radar    RadarMarker
	Metrics  *metrics.Collector
	Logger   *logx.Logger
}

// Server is the HTTP control API of acsd
type Server struct {
	engine   *acs.Engine
	table    ConnectionTable
	resolver Resolver
	history  HistoryReader
	events   EventPublisher
	radar    RadarMarker
	metrics  *metrics.Collector
	logger   *logx.Logger
	config   *Config

	// selections outlive the HTTP request that started them
	ctx       context.Context
	startTime time.Time
	router    chi.Router
}

// NewServer creates the API server and its routes
func NewServer(deps Deps, config *Config) *Server {
	if config == nil {
		config = &Config{Listen: "127.0.0.1:8095"}
	}
	logger := deps.Logger
	if logger == nil {
		logger = logx.NewLogger("info", "api")
	}
	s := &Server{
		engine:    deps.Engine,
		table:     deps.Table,
		resolver:  deps.Resolver,
		history:   deps.History,
		events:    deps.Events,
		radar:     deps.Radar,
		metrics:   deps.Metrics,
		logger:    logger,
		config:    config,
		ctx:       context.Background(),
		startTime: time.Now(),
	}
	s.router = s.routes()
	return s
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/api/health", s.handleHealth)
	if g := s.metrics.Gatherer(); g != nil {
		r.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(api chi.Router) {
		api.Use(s.authMiddleware)

		api.Get("/interfaces", s.handleListInterfaces)
		api.Route("/interfaces/{iface}", func(ir chi.Router) {
			ir.Get("/", s.handleStatus)
			ir.Delete("/", s.handleRemoveInterface)
			ir.Post("/acs", s.handleDoACS)
			ir.Post("/reselect", s.handleReselect)
			ir.Post("/radar", s.handleRadar)
		})

		api.Post("/acs/reply", s.handleReply)

		api.Get("/connections", s.handleListConnections)
		api.Put("/connections/{iface}", s.handleSetConnection)
		api.Delete("/connections/{iface}", s.handleDeleteConnection)

		api.Get("/history", s.handleHistory)
	})
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	s.ctx = ctx
	srv := &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting acsd API server", "address", s.config.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}
	s.logger.Info("acsd API server stopped")
	return nil
}

// authMiddleware checks X-API-Key or a bearer token when a key is configured
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.APIKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get("X-API-Key")
		if key == "" {
			key = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.config.APIKey)) != 1 {
			s.logger.Warn("Invalid authentication attempt", "remote_addr", r.RemoteAddr)
			s.sendErrorResponse(w, http.StatusUnauthorized, "Unauthorized", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("API request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSONResponse(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"selector":   s.engine.SelectorName(),
		"interfaces": len(s.engine.Interfaces()),
		"uptime_s":   int64(time.Since(s.startTime).Seconds()),
	})
}

func (s *Server) handleListInterfaces(w http.ResponseWriter, r *http.Request) {
	names := s.engine.Interfaces()
	out := make([]acs.SessionStatus, 0, len(names))
	for _, name := range names {
		st, err := s.engine.Status(name)
		if err != nil {
			// removed between the two calls
			continue
		}
		out = append(out, st)
	}
	s.sendJSONResponse(w, http.StatusOK, map[string]interface{}{"interfaces": out})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.Status(chi.URLParam(r, "iface"))
	if err != nil {
		s.sendEngineError(w, err)
		return
	}
	s.sendJSONResponse(w, http.StatusOK, st)
}

func (s *Server) handleDoACS(w http.ResponseWriter, r *http.Request) {
	iface := chi.URLParam(r, "iface")

	var req acs.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if !s.config.AllowEHT {
		req.EHTEnabled = false
	}

	out, err := s.engine.DoACS(s.ctx, iface, &req)
	if err != nil {
		s.sendEngineError(w, err)
		return
	}
	s.sendOutcome(w, out)
}

type reselectBody struct {
	Reason string `json:"reason"`
	Freq   uint32 `json:"freq,omitempty"`
}

func (s *Server) handleReselect(w http.ResponseWriter, r *http.Request) {
	var body reselectBody
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			s.sendErrorResponse(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}
	s.forceReselect(w, chi.URLParam(r, "iface"), body.Reason, body.Freq)
}

func (s *Server) handleRadar(w http.ResponseWriter, r *http.Request) {
	var body reselectBody
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			s.sendErrorResponse(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}
	iface := chi.URLParam(r, "iface")

	// no frequency means radar on the current operating channel
	freq := body.Freq
	if freq == 0 {
		st, err := s.engine.Status(iface)
		if err != nil {
			s.sendEngineError(w, err)
			return
		}
		if st.Last != nil {
			freq = st.Last.Primary
		}
	}
	if freq != 0 && !wifi.OnChannelGrid(freq) {
		s.sendErrorResponse(w, http.StatusBadRequest, "Invalid radar frequency", fmt.Errorf("%d MHz is not a wifi channel", freq))
		return
	}
	if freq != 0 && s.radar != nil {
		s.engine.UpdateDevice(func() { s.radar.MarkRadar(freq) })
		s.logger.Info("Radar channel placed on non-occupancy list", "iface", iface, "freq", freq)
	}
	s.forceReselect(w, iface, "radar_detected", freq)
}

func (s *Server) forceReselect(w http.ResponseWriter, iface, reason string, freq uint32) {
	if reason == "" {
		reason = "forced_reselect"
	}
	s.publishEvent(reason, iface, map[string]interface{}{"freq": freq})

	out, err := s.engine.ForceReselect(s.ctx, iface, reason)
	if err != nil {
		s.sendEngineError(w, err)
		return
	}
	s.sendOutcome(w, out)
}

func (s *Server) handleRemoveInterface(w http.ResponseWriter, r *http.Request) {
	iface := chi.URLParam(r, "iface")
	if err := s.engine.RemoveInterface(iface); err != nil {
		s.sendEngineError(w, err)
		return
	}
	s.engine.UpdateDevice(func() { s.table.Remove(iface) })
	s.publishEvent("interface_removed", iface, nil)
	w.WriteHeader(http.StatusNoContent)
}

type replyBody struct {
	JobID string `json:"job_id"`
	Freq  uint32 `json:"freq"`
}

func (s *Server) handleReply(w http.ResponseWriter, r *http.Request) {
	if s.resolver == nil {
		s.sendErrorResponse(w, http.StatusNotImplemented, "External selector is not configured", nil)
		return
	}

	var body replyBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if body.JobID == "" || body.Freq == 0 {
		s.sendErrorResponse(w, http.StatusBadRequest, "job_id and freq are required", nil)
		return
	}

	if err := s.resolver.Resolve(body.JobID, body.Freq); err != nil {
		s.sendEngineError(w, err)
		return
	}
	s.sendJSONResponse(w, http.StatusAccepted, map[string]interface{}{"success": true, "job_id": body.JobID})
}

func (s *Server) handleListConnections(w http.ResponseWriter, r *http.Request) {
	s.sendJSONResponse(w, http.StatusOK, s.table.Snapshot())
}

func (s *Server) handleSetConnection(w http.ResponseWriter, r *http.Request) {
	var c acs.Connection
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	c.Iface = chi.URLParam(r, "iface")

	var err error
	s.engine.UpdateDevice(func() { err = s.table.Set(c) })
	if err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Invalid connection", err)
		return
	}
	s.sendJSONResponse(w, http.StatusOK, c)
}

func (s *Server) handleDeleteConnection(w http.ResponseWriter, r *http.Request) {
	iface := chi.URLParam(r, "iface")
	var removed bool
	s.engine.UpdateDevice(func() { removed = s.table.Remove(iface) })
	if !removed {
		s.sendErrorResponse(w, http.StatusNotFound, "Unknown connection", nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.sendErrorResponse(w, http.StatusNotImplemented, "History is disabled", nil)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.sendErrorResponse(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}

	entries, err := s.history.Recent(r.URL.Query().Get("iface"), limit)
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError, "Failed to read history", err)
		return
	}
	s.sendJSONResponse(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

func (s *Server) publishEvent(kind, iface string, fields map[string]interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishEvent(s.ctx, kind, iface, fields); err != nil {
		s.logger.Warn("Failed to publish event", "event", kind, "iface", iface, "error", err)
	}
}

// sendOutcome answers 200 with a synchronous result or 202 while the
// selector works
func (s *Server) sendOutcome(w http.ResponseWriter, out *acs.Outcome) {
	if out.Pending {
		s.sendJSONResponse(w, http.StatusAccepted, out)
		return
	}
	s.sendJSONResponse(w, http.StatusOK, out)
}

// StatusFor maps engine errors to HTTP status codes
func StatusFor(err error) int {
	switch {
	case errors.Is(err, acs.ErrInvalidChannelList), errors.Is(err, acs.ErrMalformedRequest):
		return http.StatusBadRequest
	case errors.Is(err, acs.ErrSelectionInProgress):
		return http.StatusConflict
	case errors.Is(err, acs.ErrConcurrencyInconsistent), errors.Is(err, acs.ErrNoUsableChannel):
		return http.StatusUnprocessableEntity
	case errors.Is(err, acs.ErrUnknownInterface), errors.Is(err, acs.ErrUnknownJob):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) sendEngineError(w http.ResponseWriter, err error) {
	code := StatusFor(err)
	if code == http.StatusInternalServerError {
		s.logger.Error("Engine request failed", "error", err)
	}
	s.sendErrorResponse(w, code, http.StatusText(code), err)
}

// sendJSONResponse sends a JSON response
func (s *Server) sendJSONResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response", "error", err)
	}
}

// sendErrorResponse sends an error response
func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, message string, err error) {
	response := map[string]interface{}{
		"success": false,
		"error":   message,
	}
	if err != nil {
		response["details"] = err.Error()
	}
	s.sendJSONResponse(w, statusCode, response)
}
