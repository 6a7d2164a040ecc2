// Package service hosts the clustering and routing core: it persists
// generations and plans in the catalog, publishes events, records metrics
// and logs outcomes.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ecoroute/internal/catalog"
	"ecoroute/internal/config"
	"ecoroute/internal/errs"
	"ecoroute/internal/events"
	"ecoroute/internal/geo"
	"ecoroute/internal/hotspot"
	"ecoroute/internal/logging"
	"ecoroute/internal/metrics"
	"ecoroute/internal/opt"
	"ecoroute/internal/spatial"
)

// Service is safe for concurrent use; it holds no per-call state.
type Service struct {
	catalog catalog.Catalog
	broker  events.Broker
	log     logging.Logger
	params  hotspot.Params
	optim   config.Optimizer
}

// New wires a service. A nil logger logs nothing.
func New(cat catalog.Catalog, broker events.Broker, log logging.Logger, params hotspot.Params, optim config.Optimizer) *Service {
	if log == nil {
		log = logging.Noop()
	}
	return &Service{catalog: cat, broker: broker, log: log.With(logging.String("component", "service")), params: params, optim: optim}
}

// Catalog exposes the backing catalog for read-only handlers.
func (s *Service) Catalog() catalog.Catalog { return s.catalog }

// Params returns the default clustering parameters.
func (s *Service) Params() hotspot.Params { return s.params }

// Optimizer returns the default optimizer settings.
func (s *Service) Optimizer() config.Optimizer { return s.optim }

// ExtractHotspots clusters observations into a new generation, stores it and
// announces it on the hotspots topic. A nil params uses the defaults.
func (s *Service) ExtractHotspots(ctx context.Context, observations []hotspot.Observation, params *hotspot.Params) (hotspot.Result, error) {
	p := s.params
	if params != nil {
		p = *params
	}
	res, err := hotspot.Extract(observations, p)
	if err != nil {
		metrics.Extractions.WithLabelValues(extractOutcome(err)).Inc()
		s.log.Info(ctx, "hotspot extraction rejected", logging.Int("observations", len(observations)), logging.Err(err))
		return hotspot.Result{}, err
	}
	gen := catalog.FromResult(res, len(observations))
	if err := s.catalog.SaveGeneration(ctx, gen); err != nil {
		metrics.Extractions.WithLabelValues("error").Inc()
		s.log.Error(ctx, "save generation failed", logging.String("generation", gen.ID), logging.Err(err))
		return hotspot.Result{}, fmt.Errorf("extract hotspots: %w", err)
	}
	metrics.Extractions.WithLabelValues("ok").Inc()
	metrics.HotspotsPerGeneration.Observe(float64(len(res.Hotspots)))
	s.log.Info(ctx, "generation created",
		logging.String("generation", res.GenerationID),
		logging.Int("observations", len(observations)),
		logging.Int("hotspots", len(res.Hotspots)),
		logging.Int("noise", res.NoiseCount))
	s.publish(ctx, events.TopicHotspots, events.Event{
		Type: events.TypeGenerationCreated,
		At:   res.CreatedAt,
		Data: map[string]any{"generationId": res.GenerationID, "hotspots": len(res.Hotspots), "noise": res.NoiseCount},
	})
	return res, nil
}

func extractOutcome(err error) string {
	var empty *errs.EmptyInputError
	var insufficient *errs.InsufficientDataError
	switch {
	case errors.As(err, &empty):
		return "empty"
	case errors.As(err, &insufficient):
		return "insufficient"
	case errors.Is(err, hotspot.ErrInvalidParams):
		return "invalid"
	}
	return "error"
}

// Generation loads id, or the current generation when id is empty.
func (s *Service) Generation(ctx context.Context, id string) (catalog.Generation, error) {
	if id == "" {
		g, err := s.catalog.CurrentGeneration(ctx)
		if err != nil {
			return catalog.Generation{}, fmt.Errorf("current generation: %w", err)
		}
		return g, nil
	}
	g, err := s.catalog.Generation(ctx, id)
	if err != nil {
		return catalog.Generation{}, fmt.Errorf("generation %s: %w", id, err)
	}
	return g, nil
}

// SetPins replaces a session's pin set after checking every ID resolves.
func (s *Service) SetPins(ctx context.Context, sessionID, generationID string, ids []string) (catalog.Pins, error) {
	if sessionID == "" {
		return catalog.Pins{}, &errs.EmptyInputError{Input: "session id"}
	}
	g, err := s.Generation(ctx, generationID)
	if err != nil {
		return catalog.Pins{}, err
	}
	known := make(map[string]struct{}, len(g.Hotspots))
	for _, h := range g.Hotspots {
		known[h.ID] = struct{}{}
	}
	var unknown []string
	for _, id := range ids {
		if _, ok := known[id]; !ok {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) > 0 {
		return catalog.Pins{}, &errs.UnknownHotspotError{Generation: g.ID, IDs: unknown}
	}
	return s.catalog.SetPins(ctx, sessionID, g.ID, ids)
}

// NearestHotspot is a k-nearest query result.
type NearestHotspot struct {
	Hotspot    hotspot.Hotspot `json:"hotspot"`
	DistanceKm float64         `json:"distanceKm"`
}

// Nearest returns the k hotspots of a generation closest to p.
func (s *Service) Nearest(ctx context.Context, generationID string, p geo.Point, k int) ([]NearestHotspot, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("%w: query point %s out of range", hotspot.ErrInvalidParams, p)
	}
	g, err := s.Generation(ctx, generationID)
	if err != nil {
		return nil, err
	}
	pts := make([]geo.Point, len(g.Hotspots))
	for i, h := range g.Hotspots {
		pts[i] = h.Centroid
	}
	si := spatial.NewIndex(g.Params.NeighborhoodRadius)
	si.Build(pts)
	nbs, err := si.Nearest(p, k)
	if err != nil {
		return nil, err
	}
	out := make([]NearestHotspot, len(nbs))
	for i, nb := range nbs {
		h := g.Hotspots[nb.Index]
		out[i] = NearestHotspot{Hotspot: h, DistanceKm: geo.HaversineKm(p, h.Centroid)}
	}
	return out, nil
}

// PlanInput is a planning call. When PinnedIDs is empty the session's pins
// are used; when GenerationID is empty the pins' generation, then the
// current generation, is used. Zero tuning fields take service defaults.
type PlanInput struct {
	GenerationID   string
	SessionID      string
	PinnedIDs      []string
	Vehicles       []opt.Vehicle
	TimeBudget     time.Duration
	CircuityFactor float64
	ReturnToDepot  *bool
	MaxSweeps      int
	Seed           opt.SeedStrategy
}

// Plan builds, stores and announces a route plan.
func (s *Service) Plan(ctx context.Context, in PlanInput) (opt.Report, error) {
	start := time.Now()
	rep, err := s.plan(ctx, in)
	metrics.PlanDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.Plans.WithLabelValues("error").Inc()
		s.log.Info(ctx, "plan rejected", logging.Err(err))
		return opt.Report{}, err
	}
	return rep, nil
}

func (s *Service) plan(ctx context.Context, in PlanInput) (opt.Report, error) {
	genID, ids := in.GenerationID, in.PinnedIDs
	if len(ids) == 0 && in.SessionID != "" {
		pins, err := s.catalog.Pins(ctx, in.SessionID)
		if err != nil {
			return opt.Report{}, fmt.Errorf("session %s pins: %w", in.SessionID, err)
		}
		if genID != "" && genID != pins.GenerationID {
			return opt.Report{}, fmt.Errorf("%w: session %s pins belong to generation %s", opt.ErrInvalidRequest, in.SessionID, pins.GenerationID)
		}
		genID, ids = pins.GenerationID, pins.HotspotIDs
	}
	if len(ids) == 0 {
		return opt.Report{}, &errs.EmptyInputError{Input: "pinned hotspots"}
	}
	g, err := s.Generation(ctx, genID)
	if err != nil {
		return opt.Report{}, err
	}

	req := opt.Request{
		GenerationID:   g.ID,
		PinnedIDs:      ids,
		Vehicles:       in.Vehicles,
		TimeBudget:     in.TimeBudget,
		CircuityFactor: in.CircuityFactor,
		ReturnToDepot:  in.ReturnToDepot,
		MaxSweeps:      in.MaxSweeps,
		Workers:        s.optim.Workers,
		Seed:           in.Seed,
	}
	if req.TimeBudget == 0 {
		req.TimeBudget = s.optim.TimeBudget
	}
	if req.CircuityFactor == 0 {
		req.CircuityFactor = s.optim.CircuityFactor
	}
	if req.ReturnToDepot == nil {
		closed := s.optim.ReturnToDepot
		req.ReturnToDepot = &closed
	}
	if req.MaxSweeps == 0 {
		req.MaxSweeps = s.optim.MaxSweeps
	}
	if req.Seed == "" {
		req.Seed = opt.SeedStrategy(s.optim.Seed)
	}

	rep, err := opt.Plan(ctx, g.Snapshot(), req)
	if err != nil {
		return opt.Report{}, err
	}
	s.record(ctx, rep)
	if err := s.catalog.SavePlan(ctx, rep); err != nil {
		s.log.Error(ctx, "save plan failed", logging.String("plan", rep.Plan.ID), logging.Err(err))
		return opt.Report{}, fmt.Errorf("save plan: %w", err)
	}

	data := map[string]any{
		"planId":        rep.Plan.ID,
		"generationId":  rep.Plan.GenerationID,
		"routes":        len(rep.Plan.Routes),
		"unassigned":    len(rep.Plan.Unassigned),
		"totalDistance": rep.TotalDistance,
		"feasible":      rep.Feasible,
	}
	s.publish(ctx, events.TopicPlans, events.Event{Type: events.TypePlanGenerated, At: rep.Plan.GeneratedAt, Data: data})
	if rep.Stats != nil && rep.Stats.TimedOut {
		s.publish(ctx, events.TopicPlans, events.Event{Type: events.TypePlanTimeout, At: rep.Plan.GeneratedAt, Data: map[string]any{"planId": rep.Plan.ID, "sweeps": rep.Stats.Sweeps}})
	}
	return rep, nil
}

// record emits metrics and logs for a finished plan.
func (s *Service) record(ctx context.Context, rep opt.Report) {
	outcome := "ok"
	st := rep.Stats
	if st != nil {
		metrics.OptimizerSweeps.Observe(float64(st.Sweeps))
		metrics.OptimizerMoves.WithLabelValues("two_opt").Add(float64(st.TwoOptMoves))
		metrics.OptimizerMoves.WithLabelValues("relocate").Add(float64(st.RelocateMoves))
		metrics.OptimizerMoves.WithLabelValues("exchange").Add(float64(st.ExchangeMoves))
		if st.TimedOut {
			outcome = "timeout"
			metrics.OptimizerTimeouts.Inc()
			s.log.Warn(ctx, "optimizer timeout",
				logging.String("plan", rep.Plan.ID),
				logging.Int("sweeps", st.Sweeps),
				logging.Float("startDistance", st.StartDistance),
				logging.Float("finalDistance", st.FinalDistance))
		}
		if st.Cancelled {
			outcome = "cancelled"
		}
	}
	if !rep.Feasible {
		outcome = "infeasible"
		s.log.Error(ctx, "plan failed evaluation", logging.String("plan", rep.Plan.ID), logging.Any("issues", rep.Issues))
	}
	for _, u := range rep.Plan.Unassigned {
		metrics.Unassigned.WithLabelValues(string(u.Reason)).Inc()
	}
	metrics.Plans.WithLabelValues(outcome).Inc()
	s.log.Info(ctx, "plan generated",
		logging.String("plan", rep.Plan.ID),
		logging.String("generation", rep.Plan.GenerationID),
		logging.Int("routes", len(rep.Plan.Routes)),
		logging.Int("unassigned", len(rep.Plan.Unassigned)),
		logging.Float("totalDistanceKm", rep.TotalDistance),
		logging.Float("totalLoadKg", rep.TotalLoadKg))
}

func (s *Service) publish(ctx context.Context, topic string, evt events.Event) {
	if s.broker == nil {
		return
	}
	if err := s.broker.Publish(ctx, topic, evt); err != nil {
		s.log.Warn(ctx, "publish event failed", logging.String("topic", topic), logging.String("type", evt.Type), logging.Err(err))
		return
	}
	metrics.EventsPublished.WithLabelValues(topic).Inc()
}
