package api

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"ecoroute/internal/config"
	"ecoroute/internal/events"
	"ecoroute/internal/logging"
	"ecoroute/internal/metrics"
	"ecoroute/internal/service"
)

type Server struct {
	Svc    *service.Service
	Broker events.Broker
	Log    logging.Logger
	Config config.Config

	planLimiter *rate.Limiter
}

// NewServer wires the HTTP layer. A zero plan rate disables limiting.
func NewServer(svc *service.Service, broker events.Broker, log logging.Logger, cfg config.Config) *Server {
	if log == nil {
		log = logging.Noop()
	}
	s := &Server{Svc: svc, Broker: broker, Log: log, Config: cfg}
	if cfg.Server.PlanRate > 0 {
		s.planLimiter = rate.NewLimiter(rate.Limit(cfg.Server.PlanRate), max(1, cfg.Server.PlanBurst))
	}
	return s
}

// Routes returns the full handler tree wrapped in request middleware.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	// Hotspots
	mux.HandleFunc("POST /v1/hotspots/extract", s.ExtractHandler)
	mux.HandleFunc("GET /v1/hotspots", s.HotspotsHandler)
	mux.HandleFunc("GET /v1/hotspots/nearest", s.NearestHandler)
	mux.HandleFunc("GET /v1/generations", s.GenerationsHandler)
	mux.HandleFunc("GET /v1/generations/{id}", s.GenerationByIDHandler)

	// Pins
	mux.HandleFunc("GET /v1/sessions/{id}/pins", s.PinsHandler)
	mux.HandleFunc("PUT /v1/sessions/{id}/pins", s.PinsHandler)

	// Plans
	mux.Handle("POST /v1/plans", s.rateLimited(http.HandlerFunc(s.CreatePlanHandler)))
	mux.HandleFunc("GET /v1/plans", s.PlansIndexHandler)
	mux.HandleFunc("GET /v1/plans/{id}", s.PlanByIDHandler)
	mux.HandleFunc("GET /v1/plans/{id}/report", s.PlanReportHandler)
	mux.HandleFunc("GET /v1/optimizer/config", s.OptimizerConfigHandler)

	// Streams
	mux.HandleFunc("GET /v1/events/stream", s.EventStreamHandler)
	mux.HandleFunc("GET /v1/events/ws", s.EventsWSHandler)

	// Ops
	mux.HandleFunc("GET /healthz", s.HealthHandler)
	mux.HandleFunc("GET /readyz", s.ReadyHandler)
	mux.HandleFunc("GET /debug/config", s.DebugJSON)
	mux.HandleFunc("GET /openapi.yaml", s.OpenAPIHandler)
	mux.HandleFunc("GET /docs", s.DocsHandler)
	mux.Handle("GET /metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	return s.requestMiddleware(mux)
}

type pinger interface{ Ping(ctx context.Context) error }
