package api

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/Prathamesh0903/CollabQuest-sub000/internal/config"
	"github.com/Prathamesh0903/CollabQuest-sub000/internal/engine"
	"github.com/Prathamesh0903/CollabQuest-sub000/internal/events"
	"github.com/Prathamesh0903/CollabQuest-sub000/internal/monitor"
	"github.com/Prathamesh0903/CollabQuest-sub000/internal/results"
	"github.com/Prathamesh0903/CollabQuest-sub000/internal/runtime"
	"github.com/Prathamesh0903/CollabQuest-sub000/internal/sandbox"
)

// Server is the HTTP front for the execution engine.
type Server struct {
	httpServer *http.Server
	handlers   *Handlers
	cfg        *config.Config
	backend    sandbox.Backend
	db         *results.DB
	startTime  time.Time
}

// NewServer wires routes and the middleware chain.
func NewServer(
	cfg *config.Config,
	eng *engine.Engine,
	bus *events.Bus,
	runtimes *runtime.Registry,
	backend sandbox.Backend,
	db *results.DB,
	metrics *monitor.Metrics,
) *Server {
	handlers := NewHandlers(eng, bus, runtimes, metrics)

	s := &Server{
		handlers:  handlers,
		cfg:       cfg,
		backend:   backend,
		db:        db,
		startTime: time.Now(),
	}

	if len(cfg.Security.AllowedKeys) == 0 {
		log.Warn().Msg("no API keys configured, all requests will be accepted")
	}

	// Room API, behind auth.
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("POST /rooms/{roomID}/executions", handlers.HandleSubmit)
	apiMux.HandleFunc("DELETE /rooms/{roomID}/executions", handlers.HandleCancel)
	apiMux.HandleFunc("GET /rooms/{roomID}/status", handlers.HandleRoomStatus)
	apiMux.HandleFunc("GET /rooms/{roomID}/history", handlers.HandleHistory)
	apiMux.HandleFunc("GET /rooms/{roomID}/events", handlers.HandleRoomEvents)
	apiMux.HandleFunc("GET /rooms/{roomID}/ws", handlers.HandleRoomWS)
	apiMux.HandleFunc("GET /executions/{id}", handlers.HandleGetResult)
	apiMux.HandleFunc("GET /statistics", handlers.HandleStatistics)
	apiMux.HandleFunc("GET /languages", handlers.HandleLanguages)

	authedAPI := AuthMiddleware(cfg.Security.APIKeyHeader, cfg.Security.AllowedKeys)(apiMux)

	// Health and metrics bypass auth.
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	}
	mux.Handle("/", authedAPI)

	// Middleware chain, outermost first.
	var handler http.Handler = mux
	handler = MetricsMiddleware(metrics)(handler)
	handler = RateLimitMiddleware(cfg.Security.RateLimitRPS, cfg.Security.RateLimitBurst)(handler)
	handler = MaxBodyMiddleware(cfg.Server.MaxRequestBody)(handler)
	handler = SecurityHeadersMiddleware(handler)
	handler = LoggingMiddleware(handler)
	handler = RequestIDMiddleware(handler)
	handler = RecoveryMiddleware(handler)

	s.httpServer = &http.Server{
		Addr:        cfg.Address(),
		Handler:     handler,
		ReadTimeout: cfg.Server.ReadTimeout,
		// WriteTimeout must outlive ?wait=true submissions and is
		// unsuitable for the SSE/WS streams, so it is enforced per
		// handler via request contexts instead.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

// Start begins listening for requests.
func (s *Server) Start() error {
	log.Info().
		Str("addr", s.httpServer.Addr).
		Msg("starting HTTP server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := s.db == nil || s.db.Healthy(r.Context())
	backendOK := s.backend != nil && s.backend.Healthy(r.Context())

	resp := HealthResponse{
		Status:   "ok",
		Backend:  backendOK,
		Database: dbOK,
		Uptime:   time.Since(s.startTime).Round(time.Second).String(),
	}
	status := http.StatusOK
	if !dbOK || !backendOK {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
