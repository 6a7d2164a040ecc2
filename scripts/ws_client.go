// Package main runs a demo WebSocket client for plan events.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func post(url string, body any, out any) error {
	b, _ := json.Marshal(body)
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("POST %s: %s", url, resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	// Seed a generation with two small clusters
	obs := []map[string]any{}
	for i := 0; i < 4; i++ {
		obs = append(obs,
			map[string]any{"lat": 40.70 + float64(i)*0.001, "lon": -74.00, "wasteDensity": 8},
			map[string]any{"lat": 40.75 + float64(i)*0.001, "lon": -73.98, "wasteDensity": 3})
	}
	var gen struct {
		GenerationID string `json:"generationId"`
		Hotspots     []struct {
			ID string `json:"id"`
		} `json:"hotspots"`
	}
	if err := post(base+"/v1/hotspots/extract", map[string]any{"observations": obs}, &gen); err != nil {
		log.Fatal(err)
	}
	log.Printf("Generation ID: %s (%d hotspots)", gen.GenerationID, len(gen.Hotspots))

	// Connect WS
	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/events/ws"}
	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	if err := c.WriteJSON(wsMessage{Type: "connection_init"}); err != nil {
		log.Fatal(err)
	}
	if err := c.WriteJSON(wsMessage{Type: "subscribe", ID: "1", Payload: json.RawMessage(`{"topic":"plans"}`)}); err != nil {
		log.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m wsMessage
			if err := c.ReadJSON(&m); err != nil {
				log.Printf("read: %v", err)
				return
			}
			log.Printf("WS <- %s: %s", m.Type, string(m.Payload))
		}
	}()

	// Trigger a plan event
	time.Sleep(500 * time.Millisecond)
	ids := make([]string, 0, len(gen.Hotspots))
	for _, h := range gen.Hotspots {
		ids = append(ids, h.ID)
	}
	plan := map[string]any{
		"generationId": gen.GenerationID,
		"pinnedIds":    ids,
		"vehicles": []map[string]any{
			{"id": "truck-1", "capacityKg": 500, "depot": map[string]float64{"lat": 40.72, "lon": -73.99}},
		},
		"timeBudgetMs": 500,
	}
	if err := post(base+"/v1/plans", plan, nil); err != nil {
		log.Printf("plan: %v", err)
	}

	// Wait briefly to receive a few messages
	select {
	case <-time.After(2 * time.Second):
	case <-done:
	}
}
