package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"ecoroute/internal/buildinfo"
	"ecoroute/internal/geo"
	"ecoroute/internal/hotspot"
	"ecoroute/internal/model"
	"ecoroute/internal/opt"
)

// maxBodyBytes caps request bodies; observation batches are the largest.
const maxBodyBytes = 32 << 20

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return false
	}
	return true
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return n, nil
}

// ExtractHandler handles POST /v1/hotspots/extract
func (s *Server) ExtractHandler(w http.ResponseWriter, r *http.Request) {
	var req model.ExtractRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	obs, params := req.Convert()
	res, err := s.Svc.ExtractHotspots(r.Context(), obs, params)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// HotspotsHandler handles GET /v1/hotspots?generation=&risk=
func (s *Server) HotspotsHandler(w http.ResponseWriter, r *http.Request) {
	g, err := s.Svc.Generation(r.Context(), r.URL.Query().Get("generation"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	risk := hotspot.RiskLevel(r.URL.Query().Get("risk"))
	items := []hotspot.Hotspot{}
	for _, h := range g.Hotspots {
		if risk == "" || h.RiskLevel == risk {
			items = append(items, h)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"generationId": g.ID, "items": items})
}

// NearestHandler handles GET /v1/hotspots/nearest?lat=&lon=&k=&generation=
func (s *Server) NearestHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	lon, errLon := strconv.ParseFloat(q.Get("lon"), 64)
	if errLat != nil || errLon != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid request", "lat and lon are required numbers", r.URL.Path)
		return
	}
	k, err := queryInt(r, "k", 5)
	if err != nil || k < 1 {
		writeProblem(w, http.StatusBadRequest, "Invalid request", "k must be a positive integer", r.URL.Path)
		return
	}
	items, err := s.Svc.Nearest(r.Context(), q.Get("generation"), geo.Point{Lat: lat, Lon: lon}, k)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// GenerationsHandler handles GET /v1/generations
func (s *Server) GenerationsHandler(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid request", err.Error(), r.URL.Path)
		return
	}
	items, err := s.Svc.Catalog().ListGenerations(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// GenerationByIDHandler handles GET /v1/generations/{id}
func (s *Server) GenerationByIDHandler(w http.ResponseWriter, r *http.Request) {
	g, err := s.Svc.Generation(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// PinsHandler handles GET/PUT /v1/sessions/{id}/pins
func (s *Server) PinsHandler(w http.ResponseWriter, r *http.Request) {
	session := r.PathValue("id")
	switch r.Method {
	case http.MethodGet:
		p, err := s.Svc.Catalog().Pins(r.Context(), session)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	case http.MethodPut:
		var req model.PinsRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		p, err := s.Svc.SetPins(r.Context(), session, req.GenerationID, req.HotspotIDs)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// CreatePlanHandler handles POST /v1/plans
func (s *Server) CreatePlanHandler(w http.ResponseWriter, r *http.Request) {
	var req model.PlanRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := validatePlanRequest(&req, s.Config.Optimizer.MaxTimeBudget); err != nil {
		writeError(w, r, err)
		return
	}
	rep, err := s.Svc.Plan(r.Context(), req.Input())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rep)
}

// PlansIndexHandler handles GET /v1/plans?generation=&limit=
func (s *Server) PlansIndexHandler(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid request", err.Error(), r.URL.Path)
		return
	}
	items, err := s.Svc.Catalog().ListPlans(r.Context(), r.URL.Query().Get("generation"), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model.ListResponse[opt.Report]{Items: items})
}

// PlanByIDHandler handles GET /v1/plans/{id}
func (s *Server) PlanByIDHandler(w http.ResponseWriter, r *http.Request) {
	rep, err := s.Svc.Catalog().GetPlan(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// PlanReportHandler handles GET /v1/plans/{id}/report as text/plain
func (s *Server) PlanReportHandler(w http.ResponseWriter, r *http.Request) {
	rep, err := s.Svc.Catalog().GetPlan(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(rep.Text()))
}

// OptimizerConfigHandler returns the effective clustering and optimizer defaults
func (s *Server) OptimizerConfigHandler(w http.ResponseWriter, r *http.Request) {
	o := s.Svc.Optimizer()
	writeJSON(w, http.StatusOK, map[string]any{
		"defaults": map[string]any{
			"timeBudgetMs":   o.TimeBudget.Milliseconds(),
			"circuityFactor": o.CircuityFactor,
			"returnToDepot":  o.ReturnToDepot,
			"maxSweeps":      o.MaxSweeps,
			"workers":        o.Workers,
			"seed":           o.Seed,
		},
		"hotspots": s.Svc.Params(),
	})
}

// Health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "build": buildinfo.Info()})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	checks := map[string]any{"catalog": s.Svc.Catalog()}
	if s.Broker != nil {
		checks["events"] = s.Broker
	}
	for name, dep := range checks {
		p, ok := dep.(pinger)
		if !ok {
			continue
		}
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		err := p.Ping(ctx)
		cancel()
		if err != nil {
			writeProblem(w, http.StatusServiceUnavailable, "Not Ready", name+": "+err.Error(), r.URL.Path)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
