package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"ecoroute/internal/catalog"
	"ecoroute/internal/config"
	"ecoroute/internal/events"
	"ecoroute/internal/logging"
	"ecoroute/internal/service"
)

func newTestServer(t *testing.T, mutate ...func(*config.Config)) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.Server.PlanRate = 0
	cfg.Optimizer.TimeBudget = time.Second
	for _, m := range mutate {
		m(&cfg)
	}
	broker := events.NewMemory()
	t.Cleanup(func() { _ = broker.Close() })
	svc := service.New(catalog.NewMemory(), broker, logging.Noop(), cfg.Hotspots.Params(), cfg.Optimizer)
	return NewServer(svc, broker, logging.Noop(), cfg)
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case string:
		rd = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

// twoClusters returns two tight groups of four observations plus one
// isolated point.
func twoClusters() map[string]any {
	obs := []map[string]any{}
	add := func(lat, lon, d float64) {
		obs = append(obs, map[string]any{"lat": lat, "lon": lon, "wasteDensity": d})
	}
	for i := 0; i < 4; i++ {
		add(40.0+float64(i)*0.001, -74.0, 10)
		add(40.1+float64(i)*0.001, -74.1, 2)
	}
	add(41, -75, 1)
	return map[string]any{"observations": obs}
}

type extractResp struct {
	GenerationID string `json:"generationId"`
	Hotspots     []struct {
		ID        string `json:"id"`
		RiskLevel string `json:"riskLevel"`
	} `json:"hotspots"`
	NoiseCount int `json:"noiseCount"`
}

func extract(t *testing.T, h http.Handler) extractResp {
	t.Helper()
	rr := do(t, h, http.MethodPost, "/v1/hotspots/extract", twoClusters())
	if rr.Code != http.StatusCreated {
		t.Fatalf("extract: got %d %s", rr.Code, rr.Body.String())
	}
	var res extractResp
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode extract: %v", err)
	}
	if len(res.Hotspots) != 2 || res.NoiseCount != 1 {
		t.Fatalf("extract: got %d hotspots, %d noise", len(res.Hotspots), res.NoiseCount)
	}
	return res
}

func problemOf(t *testing.T, rr *httptest.ResponseRecorder) Problem {
	t.Helper()
	if ct := rr.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Fatalf("content type: got %q", ct)
	}
	var p Problem
	if err := json.Unmarshal(rr.Body.Bytes(), &p); err != nil {
		t.Fatalf("decode problem: %v", err)
	}
	return p
}

func TestHealthReady(t *testing.T) {
	s := newTestServer(t)
	rr := httptest.NewRecorder()
	s.HealthHandler(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != 200 {
		t.Fatalf("health: got %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	s.ReadyHandler(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != 200 {
		t.Fatalf("ready: got %d", rr.Code)
	}
}

func TestRequestIDHeader(t *testing.T) {
	h := newTestServer(t).Routes()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "req-123")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if got := rr.Header().Get("X-Request-Id"); got != "req-123" {
		t.Fatalf("request id: got %q", got)
	}
	rr = do(t, h, http.MethodGet, "/healthz", nil)
	if rr.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected generated request id")
	}
}

func TestExtractPinPlanReport(t *testing.T) {
	h := newTestServer(t).Routes()
	gen := extract(t, h)
	if gen.Hotspots[0].RiskLevel != "High" {
		t.Fatalf("first hotspot risk: got %s", gen.Hotspots[0].RiskLevel)
	}

	rr := do(t, h, http.MethodGet, "/v1/hotspots?risk=High", nil)
	if rr.Code != 200 {
		t.Fatalf("hotspots: got %d", rr.Code)
	}
	var list struct {
		GenerationID string            `json:"generationId"`
		Items        []json.RawMessage `json:"items"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &list)
	if list.GenerationID != gen.GenerationID || len(list.Items) != 1 {
		t.Fatalf("hotspots filter: got gen %s, %d items", list.GenerationID, len(list.Items))
	}

	ids := []string{gen.Hotspots[0].ID, gen.Hotspots[1].ID}
	rr = do(t, h, http.MethodPut, "/v1/sessions/s1/pins", map[string]any{"hotspotIds": ids})
	if rr.Code != 200 {
		t.Fatalf("pins put: got %d %s", rr.Code, rr.Body.String())
	}
	rr = do(t, h, http.MethodGet, "/v1/sessions/s1/pins", nil)
	if rr.Code != 200 || !strings.Contains(rr.Body.String(), ids[1]) {
		t.Fatalf("pins get: got %d %s", rr.Code, rr.Body.String())
	}

	plan := map[string]any{
		"sessionId": "s1",
		"vehicles": []map[string]any{
			{"id": "truck-1", "capacityKg": 1000, "depot": map[string]float64{"lat": 40.05, "lon": -74.05}},
		},
		"timeBudgetMs": 500,
	}
	rr = do(t, h, http.MethodPost, "/v1/plans", plan)
	if rr.Code != http.StatusCreated {
		t.Fatalf("plan: got %d %s", rr.Code, rr.Body.String())
	}
	var rep struct {
		Plan struct {
			ID           string `json:"id"`
			GenerationID string `json:"generationId"`
			Routes       []struct {
				VehicleID string            `json:"vehicleId"`
				Stops     []json.RawMessage `json:"stops"`
			} `json:"routes"`
			Unassigned []json.RawMessage `json:"unassigned"`
		} `json:"plan"`
		Feasible bool `json:"feasible"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &rep); err != nil {
		t.Fatalf("decode plan: %v", err)
	}
	if !rep.Feasible || rep.Plan.GenerationID != gen.GenerationID {
		t.Fatalf("plan: feasible=%v gen=%s", rep.Feasible, rep.Plan.GenerationID)
	}
	if len(rep.Plan.Routes) != 1 || len(rep.Plan.Routes[0].Stops) != 2 || len(rep.Plan.Unassigned) != 0 {
		t.Fatalf("plan shape: %s", rr.Body.String())
	}

	rr = do(t, h, http.MethodGet, "/v1/plans/"+rep.Plan.ID, nil)
	if rr.Code != 200 {
		t.Fatalf("plan get: got %d", rr.Code)
	}
	rr = do(t, h, http.MethodGet, "/v1/plans/"+rep.Plan.ID+"/report", nil)
	if rr.Code != 200 || !strings.HasPrefix(rr.Header().Get("Content-Type"), "text/plain") {
		t.Fatalf("report: got %d %s", rr.Code, rr.Header().Get("Content-Type"))
	}
	if !strings.Contains(rr.Body.String(), "truck-1") {
		t.Fatalf("report missing vehicle: %s", rr.Body.String())
	}
	rr = do(t, h, http.MethodGet, "/v1/plans?generation="+gen.GenerationID, nil)
	if rr.Code != 200 || !strings.Contains(rr.Body.String(), rep.Plan.ID) {
		t.Fatalf("plans index: got %d %s", rr.Code, rr.Body.String())
	}
}

func TestNearestAndGenerations(t *testing.T) {
	h := newTestServer(t).Routes()
	gen := extract(t, h)

	rr := do(t, h, http.MethodGet, "/v1/hotspots/nearest?lat=40.1&lon=-74.1&k=1", nil)
	if rr.Code != 200 {
		t.Fatalf("nearest: got %d %s", rr.Code, rr.Body.String())
	}
	var near struct {
		Items []struct {
			Hotspot struct {
				ID string `json:"id"`
			} `json:"hotspot"`
		} `json:"items"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &near)
	if len(near.Items) != 1 || near.Items[0].Hotspot.ID != gen.Hotspots[1].ID {
		t.Fatalf("nearest: %s", rr.Body.String())
	}
	rr = do(t, h, http.MethodGet, "/v1/hotspots/nearest?lat=abc&lon=1", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("nearest bad lat: got %d", rr.Code)
	}

	rr = do(t, h, http.MethodGet, "/v1/generations", nil)
	if rr.Code != 200 || !strings.Contains(rr.Body.String(), gen.GenerationID) {
		t.Fatalf("generations: got %d %s", rr.Code, rr.Body.String())
	}
	rr = do(t, h, http.MethodGet, "/v1/generations/"+gen.GenerationID, nil)
	if rr.Code != 200 {
		t.Fatalf("generation by id: got %d", rr.Code)
	}
}

func TestErrorMapping(t *testing.T) {
	h := newTestServer(t).Routes()

	// no generation yet
	rr := do(t, h, http.MethodGet, "/v1/hotspots", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("hotspots before extract: got %d", rr.Code)
	}

	rr = do(t, h, http.MethodPost, "/v1/hotspots/extract", map[string]any{"observations": []any{}})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("empty extract: got %d", rr.Code)
	}
	rr = do(t, h, http.MethodPost, "/v1/hotspots/extract", `{"observations":[{"lat":1,"lon":1,"wasteDensity":1},{"lat":1,"lon":1,"wasteDensity":1}]}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("insufficient extract: got %d", rr.Code)
	}
	if p := problemOf(t, rr); p.Status != http.StatusUnprocessableEntity {
		t.Fatalf("problem status: got %d", p.Status)
	}
	rr = do(t, h, http.MethodPost, "/v1/hotspots/extract", `{"observations":[`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("malformed json: got %d", rr.Code)
	}

	gen := extract(t, h)

	rr = do(t, h, http.MethodPut, "/v1/sessions/s1/pins", map[string]any{"hotspotIds": []string{gen.Hotspots[0].ID, "nope"}})
	if rr.Code != http.StatusConflict {
		t.Fatalf("unknown pin: got %d", rr.Code)
	}
	if p := problemOf(t, rr); len(p.UnknownIDs) != 1 || p.UnknownIDs[0] != "nope" {
		t.Fatalf("unknownIds: got %v", p.UnknownIDs)
	}

	rr = do(t, h, http.MethodPost, "/v1/plans", map[string]any{"pinnedIds": []string{}, "vehicles": []any{}})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("empty pins: got %d", rr.Code)
	}
	rr = do(t, h, http.MethodPost, "/v1/plans", map[string]any{"pinnedIds": []string{gen.Hotspots[0].ID}, "seed": "random"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad seed: got %d", rr.Code)
	}
	rr = do(t, h, http.MethodPost, "/v1/plans", map[string]any{"pinnedIds": []string{gen.Hotspots[0].ID}, "circuityFactor": 0.5})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad circuity: got %d", rr.Code)
	}
	rr = do(t, h, http.MethodPost, "/v1/plans", map[string]any{"pinnedIds": []string{"ghost"}})
	if rr.Code != http.StatusConflict {
		t.Fatalf("unknown plan pin: got %d", rr.Code)
	}
	rr = do(t, h, http.MethodPost, "/v1/plans", map[string]any{"generationId": "missing", "pinnedIds": []string{"x"}})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("missing generation: got %d", rr.Code)
	}

	rr = do(t, h, http.MethodGet, "/v1/plans/missing", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("missing plan: got %d", rr.Code)
	}
	rr = do(t, h, http.MethodGet, "/v1/sessions/unknown/pins", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("missing pins: got %d", rr.Code)
	}
}

func TestPlanRateLimit(t *testing.T) {
	h := newTestServer(t, func(c *config.Config) {
		c.Server.PlanRate = 0.001
		c.Server.PlanBurst = 1
	}).Routes()
	rr := do(t, h, http.MethodPost, "/v1/plans", `{}`)
	if rr.Code == http.StatusTooManyRequests {
		t.Fatalf("first request limited")
	}
	rr = do(t, h, http.MethodPost, "/v1/plans", `{}`)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Fatalf("missing Retry-After")
	}
}

func TestOpsEndpoints(t *testing.T) {
	h := newTestServer(t, func(c *config.Config) {
		c.Catalog.DSN = "postgres://app:secret@db:5432/eco"
	}).Routes()
	rr := do(t, h, http.MethodGet, "/debug/config", nil)
	if rr.Code != 200 {
		t.Fatalf("debug: got %d", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "secret") {
		t.Fatalf("debug leaks password: %s", rr.Body.String())
	}
	rr = do(t, h, http.MethodGet, "/openapi.yaml", nil)
	if rr.Code != 200 || !strings.Contains(rr.Body.String(), "/v1/plans") {
		t.Fatalf("openapi: got %d", rr.Code)
	}
	rr = do(t, h, http.MethodGet, "/v1/optimizer/config", nil)
	if rr.Code != 200 || !strings.Contains(rr.Body.String(), "circuityFactor") {
		t.Fatalf("optimizer config: got %d %s", rr.Code, rr.Body.String())
	}
	rr = do(t, h, http.MethodGet, "/metrics", nil)
	if rr.Code != 200 {
		t.Fatalf("metrics: got %d", rr.Code)
	}
}

func TestEventStreamSSE(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Routes())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/v1/events/stream?topic=plans", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type: got %q", ct)
	}
	rd := bufio.NewReader(resp.Body)
	line, err := rd.ReadString('\n')
	if err != nil || strings.TrimSpace(line) != "event: heartbeat" {
		t.Fatalf("first line: %q %v", line, err)
	}

	// heartbeat is written after subscribing
	_ = s.Broker.Publish(ctx, events.TopicPlans, events.Event{Type: events.TypePlanGenerated, At: time.Now(), Data: map[string]any{"planId": "p1"}})
	for {
		line, err := rd.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		if strings.TrimSpace(line) == "event: "+events.TypePlanGenerated {
			data, _ := rd.ReadString('\n')
			if !strings.Contains(data, `"planId":"p1"`) {
				t.Fatalf("data: %q", data)
			}
			return
		}
	}
}

func TestEventStreamUnknownTopic(t *testing.T) {
	h := newTestServer(t).Routes()
	rr := do(t, h, http.MethodGet, "/v1/events/stream?topic=nope", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unknown topic: got %d", rr.Code)
	}
}

func TestEventsWS(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Routes())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/events/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	read := func() wsMessage {
		t.Helper()
		var m wsMessage
		if err := conn.ReadJSON(&m); err != nil {
			t.Fatalf("read: %v", err)
		}
		return m
	}

	if err := conn.WriteJSON(wsMessage{Type: "connection_init"}); err != nil {
		t.Fatalf("write init: %v", err)
	}
	if m := read(); m.Type != "connection_ack" {
		t.Fatalf("expected ack, got %s", m.Type)
	}
	_ = conn.WriteJSON(wsMessage{Type: "subscribe", ID: "1", Payload: json.RawMessage(`{"topic":"hotspots"}`)})
	// messages are handled in order, so the pong means the subscription exists
	_ = conn.WriteJSON(wsMessage{Type: "ping"})
	if m := read(); m.Type != "pong" {
		t.Fatalf("expected pong, got %s", m.Type)
	}

	_ = s.Broker.Publish(context.Background(), events.TopicHotspots, events.Event{Type: events.TypeGenerationCreated, At: time.Now(), Data: map[string]any{"generationId": "g1"}})
	m := read()
	if m.Type != "next" || m.ID != "1" {
		t.Fatalf("expected next for 1, got %s %s", m.Type, m.ID)
	}
	var evt events.Event
	if err := json.Unmarshal(m.Payload, &evt); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if evt.Type != events.TypeGenerationCreated || evt.Data["generationId"] != "g1" {
		t.Fatalf("event: %+v", evt)
	}

	_ = conn.WriteJSON(wsMessage{Type: "complete", ID: "1"})
	if m := read(); m.Type != "complete" || m.ID != "1" {
		t.Fatalf("expected complete, got %s %s", m.Type, m.ID)
	}
	_ = conn.WriteJSON(wsMessage{Type: "subscribe", ID: "2", Payload: json.RawMessage(`{"topic":"bogus"}`)})
	if m := read(); m.Type != "error" || m.ID != "2" {
		t.Fatalf("expected error, got %s", m.Type)
	}
}
