package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"ecoroute/internal/opt"
)

// Memory is the in-process catalog used when no database is configured.
type Memory struct {
	mu      sync.RWMutex
	gens    map[string]Generation
	order   []string // generation ids by CreatedAt, oldest first
	pins    map[string]Pins
	plans   map[string]opt.Report
	planSeq []string // plan ids by GeneratedAt, oldest first
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		gens:  map[string]Generation{},
		pins:  map[string]Pins{},
		plans: map[string]opt.Report{},
		now:   time.Now,
	}
}

func (m *Memory) SaveGeneration(_ context.Context, g Generation) error {
	if g.ID == "" {
		return fmt.Errorf("catalog: generation id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.gens[g.ID]; !ok {
		m.order = append(m.order, g.ID)
	}
	m.gens[g.ID] = g.clone()
	sort.SliceStable(m.order, func(a, b int) bool {
		return m.gens[m.order[a]].CreatedAt.Before(m.gens[m.order[b]].CreatedAt)
	})
	return nil
}

func (m *Memory) Generation(_ context.Context, id string) (Generation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.gens[id]
	if !ok {
		return Generation{}, ErrNotFound
	}
	return g.clone(), nil
}

// CurrentGeneration returns the generation with the latest CreatedAt.
func (m *Memory) CurrentGeneration(_ context.Context) (Generation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.order) == 0 {
		return Generation{}, ErrNotFound
	}
	return m.gens[m.order[len(m.order)-1]].clone(), nil
}

// ListGenerations returns summaries newest first.
func (m *Memory) ListGenerations(_ context.Context, limit int) ([]GenerationInfo, error) {
	limit = clampLimit(limit)
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []GenerationInfo{}
	for i := len(m.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.gens[m.order[i]].Info())
	}
	return out, nil
}

func (m *Memory) SetPins(_ context.Context, sessionID, generationID string, hotspotIDs []string) (Pins, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.gens[generationID]; !ok {
		return Pins{}, ErrNotFound
	}
	p := Pins{SessionID: sessionID, GenerationID: generationID, HotspotIDs: hotspotIDs, UpdatedAt: m.now().UTC()}.clone()
	m.pins[sessionID] = p
	return p.clone(), nil
}

func (m *Memory) Pins(_ context.Context, sessionID string) (Pins, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pins[sessionID]
	if !ok {
		return Pins{}, ErrNotFound
	}
	return p.clone(), nil
}

func (m *Memory) SavePlan(_ context.Context, rep opt.Report) error {
	if rep.Plan.ID == "" {
		return fmt.Errorf("catalog: plan id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.plans[rep.Plan.ID]; !ok {
		m.planSeq = append(m.planSeq, rep.Plan.ID)
	}
	m.plans[rep.Plan.ID] = clonePlan(rep)
	sort.SliceStable(m.planSeq, func(a, b int) bool {
		return m.plans[m.planSeq[a]].Plan.GeneratedAt.Before(m.plans[m.planSeq[b]].Plan.GeneratedAt)
	})
	return nil
}

func (m *Memory) GetPlan(_ context.Context, id string) (opt.Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rep, ok := m.plans[id]
	if !ok {
		return opt.Report{}, ErrNotFound
	}
	return clonePlan(rep), nil
}

// ListPlans returns plans newest first, optionally filtered by generation.
func (m *Memory) ListPlans(_ context.Context, generationID string, limit int) ([]opt.Report, error) {
	limit = clampLimit(limit)
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []opt.Report{}
	for i := len(m.planSeq) - 1; i >= 0 && len(out) < limit; i-- {
		rep := m.plans[m.planSeq[i]]
		if generationID != "" && rep.Plan.GenerationID != generationID {
			continue
		}
		out = append(out, clonePlan(rep))
	}
	return out, nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
