package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ecoroute/internal/catalog"
	"ecoroute/internal/config"
	"ecoroute/internal/errs"
	"ecoroute/internal/events"
	"ecoroute/internal/geo"
	"ecoroute/internal/hotspot"
	"ecoroute/internal/logging"
	"ecoroute/internal/opt"
)

func observations() []hotspot.Observation {
	ts := time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)
	var out []hotspot.Observation
	add := func(lat, lon, density float64) {
		out = append(out, hotspot.Observation{Location: geo.Point{Lat: lat, Lon: lon}, WasteDensity: density, Timestamp: ts})
	}
	// two clusters ~5 km apart plus one stray reading
	add(12.9700, 77.5900, 8)
	add(12.9702, 77.5901, 9)
	add(12.9701, 77.5903, 7)
	add(12.9703, 77.5902, 10)
	add(13.0150, 77.5900, 3)
	add(13.0151, 77.5902, 2)
	add(13.0152, 77.5901, 4)
	add(13.2000, 77.9000, 1)
	return out
}

func newTestService(t *testing.T) (*Service, *events.Memory) {
	t.Helper()
	cfg := config.Default()
	cfg.Optimizer.TimeBudget = time.Second
	broker := events.NewMemory()
	t.Cleanup(func() { _ = broker.Close() })
	return New(catalog.NewMemory(), broker, logging.Noop(), cfg.Hotspots.Params(), cfg.Optimizer), broker
}

func TestExtractStoresAndPublishes(t *testing.T) {
	svc, broker := newTestService(t)
	ch := broker.Subscribe(events.TopicHotspots)
	ctx := context.Background()

	res, err := svc.ExtractHotspots(ctx, observations(), nil)
	require.NoError(t, err)
	require.Len(t, res.Hotspots, 2)
	assert.Equal(t, 1, res.NoiseCount)
	// mean density 8.5 of max 10, then 3 of 10
	assert.Equal(t, hotspot.RiskHigh, res.Hotspots[0].RiskLevel)
	assert.Equal(t, hotspot.RiskLow, res.Hotspots[1].RiskLevel)

	g, err := svc.Generation(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, res.GenerationID, g.ID)
	assert.Equal(t, 8, g.ObservationCount)

	select {
	case evt := <-ch:
		assert.Equal(t, events.TypeGenerationCreated, evt.Type)
		assert.Equal(t, res.GenerationID, evt.Data["generationId"])
	case <-time.After(time.Second):
		t.Fatal("no generation event")
	}
}

func TestExtractErrors(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.ExtractHotspots(context.Background(), nil, nil)
	var empty *errs.EmptyInputError
	assert.True(t, errors.As(err, &empty))

	_, err = svc.ExtractHotspots(context.Background(), observations()[:2], nil)
	var insufficient *errs.InsufficientDataError
	assert.True(t, errors.As(err, &insufficient))

	_, err = svc.ExtractHotspots(context.Background(), observations(), &hotspot.Params{NeighborhoodRadius: -1, MinPoints: 3})
	assert.ErrorIs(t, err, hotspot.ErrInvalidParams)

	_, err = svc.Generation(context.Background(), "")
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestPlanFromSessionPins(t *testing.T) {
	svc, broker := newTestService(t)
	ctx := context.Background()
	res, err := svc.ExtractHotspots(ctx, observations(), nil)
	require.NoError(t, err)

	_, err = svc.SetPins(ctx, "s1", "", []string{res.Hotspots[0].ID, "bogus"})
	var unknown *errs.UnknownHotspotError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, []string{"bogus"}, unknown.IDs)

	pins, err := svc.SetPins(ctx, "s1", "", []string{res.Hotspots[0].ID, res.Hotspots[1].ID})
	require.NoError(t, err)
	assert.Equal(t, res.GenerationID, pins.GenerationID)

	plans := broker.Subscribe(events.TopicPlans)
	rep, err := svc.Plan(ctx, PlanInput{
		SessionID: "s1",
		Vehicles:  []opt.Vehicle{{ID: "truck-1", CapacityKg: 100, Depot: geo.Point{Lat: 12.99, Lon: 77.59}}},
	})
	require.NoError(t, err)
	assert.True(t, rep.Feasible)
	assert.Equal(t, res.GenerationID, rep.Plan.GenerationID)
	require.Len(t, rep.Plan.Routes, 1)
	assert.Len(t, rep.Plan.Routes[0].Stops, 2)
	assert.Empty(t, rep.Plan.Unassigned)

	stored, err := svc.Catalog().GetPlan(ctx, rep.Plan.ID)
	require.NoError(t, err)
	assert.Equal(t, rep.TotalDistance, stored.TotalDistance)

	select {
	case evt := <-plans:
		assert.Equal(t, events.TypePlanGenerated, evt.Type)
		assert.Equal(t, rep.Plan.ID, evt.Data["planId"])
	case <-time.After(time.Second):
		t.Fatal("no plan event")
	}
}

func TestPlanErrors(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	vehicles := []opt.Vehicle{{ID: "v1", CapacityKg: 10}}

	_, err := svc.Plan(ctx, PlanInput{PinnedIDs: []string{"x"}, Vehicles: vehicles})
	assert.ErrorIs(t, err, catalog.ErrNotFound)

	res, err := svc.ExtractHotspots(ctx, observations(), nil)
	require.NoError(t, err)

	_, err = svc.Plan(ctx, PlanInput{Vehicles: vehicles})
	var empty *errs.EmptyInputError
	assert.True(t, errors.As(err, &empty))

	_, err = svc.Plan(ctx, PlanInput{GenerationID: res.GenerationID, PinnedIDs: []string{"nope"}, Vehicles: vehicles})
	var unknown *errs.UnknownHotspotError
	assert.True(t, errors.As(err, &unknown))

	_, err = svc.Plan(ctx, PlanInput{SessionID: "ghost", Vehicles: vehicles})
	assert.ErrorIs(t, err, catalog.ErrNotFound)

	// capacity too small for either hotspot: soft failure, not an error
	rep, err := svc.Plan(ctx, PlanInput{PinnedIDs: []string{res.Hotspots[0].ID}, Vehicles: []opt.Vehicle{{ID: "v1", CapacityKg: 1}}})
	require.NoError(t, err)
	assert.Equal(t, []opt.Unassigned{{HotspotID: res.Hotspots[0].ID, Reason: opt.ReasonNoVehicleAvailable}}, rep.Plan.Unassigned)
}

func TestNearest(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	res, err := svc.ExtractHotspots(ctx, observations(), nil)
	require.NoError(t, err)

	got, err := svc.Nearest(ctx, "", geo.Point{Lat: 13.016, Lon: 77.59}, 5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, res.Hotspots[1].ID, got[0].Hotspot.ID)
	assert.Less(t, got[0].DistanceKm, got[1].DistanceKm)

	_, err = svc.Nearest(ctx, "", geo.Point{Lat: 120}, 1)
	assert.ErrorIs(t, err, hotspot.ErrInvalidParams)
}
