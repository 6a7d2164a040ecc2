package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the service
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, route, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// Extractions counts clustering runs by outcome (ok, empty, insufficient, invalid)
	Extractions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "hotspot_extractions_total", Help: "Hotspot extraction runs by outcome."},
		[]string{"outcome"},
	)
	// HotspotsPerGeneration tracks how many hotspots each generation holds
	HotspotsPerGeneration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "hotspots_per_generation", Help: "Hotspots minted per generation.", Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 250, 500}},
	)
	// Plans counts planning calls by outcome (ok, timeout, infeasible, error)
	Plans = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "route_plans_total", Help: "Route planning calls by outcome."},
		[]string{"outcome"},
	)
	// PlanDuration records end-to-end planning latency in seconds
	PlanDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "route_plan_duration_seconds", Help: "Route planning duration in seconds.", Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10}},
	)
	// OptimizerSweeps records local search sweeps per plan
	OptimizerSweeps = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "optimizer_sweeps", Help: "Local search sweeps per plan.", Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 50, 100}},
	)
	// OptimizerMoves counts accepted moves by kind (two_opt, relocate, exchange)
	OptimizerMoves = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "optimizer_moves_total", Help: "Accepted local search moves by kind."},
		[]string{"kind"},
	)
	// OptimizerTimeouts counts plans whose search hit the time budget
	OptimizerTimeouts = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "optimizer_timeouts_total", Help: "Plans whose local search reached the time budget."},
	)
	// Unassigned counts hotspots left off every route, by reason
	Unassigned = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "unassigned_hotspots_total", Help: "Pinned hotspots left unassigned, by reason."},
		[]string{"reason"},
	)
	// EventsPublished counts broker publishes by topic
	EventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "events_published_total", Help: "Events published by topic."},
		[]string{"topic"},
	)
	// WebhookDeliveries counts webhook attempts by outcome (delivered, retry, failed)
	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook delivery attempts by outcome."},
		[]string{"outcome"},
	)
)

// RegisterDefault registers collectors to Registry once.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(Extractions)
		Registry.MustRegister(HotspotsPerGeneration)
		Registry.MustRegister(Plans)
		Registry.MustRegister(PlanDuration)
		Registry.MustRegister(OptimizerSweeps)
		Registry.MustRegister(OptimizerMoves)
		Registry.MustRegister(OptimizerTimeouts)
		Registry.MustRegister(Unassigned)
		Registry.MustRegister(EventsPublished)
		Registry.MustRegister(WebhookDeliveries)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
