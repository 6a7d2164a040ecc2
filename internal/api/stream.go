package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"ecoroute/internal/events"
)

const sseHeartbeat = 15 * time.Second

func validTopic(topic string) bool {
	return topic == events.TopicPlans || topic == events.TopicHotspots
}

// EventStreamHandler streams events for ?topic= (plans by default) as SSE.
func (s *Server) EventStreamHandler(w http.ResponseWriter, r *http.Request) {
	if s.Broker == nil {
		writeProblem(w, http.StatusServiceUnavailable, "Events unavailable", "no broker configured", r.URL.Path)
		return
	}
	topic := r.URL.Query().Get("topic")
	if topic == "" {
		topic = events.TopicPlans
	}
	if !validTopic(topic) {
		writeProblem(w, http.StatusBadRequest, "Invalid request", "unknown topic "+topic, r.URL.Path)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ch := s.Broker.Subscribe(topic)
	defer s.Broker.Unsubscribe(topic, ch)

	_, _ = fmt.Fprintf(w, "event: heartbeat\ndata: {}\n\n")
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			b, _ := json.Marshal(evt)
			_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, b)
			flusher.Flush()
		case <-time.After(sseHeartbeat):
			_, _ = fmt.Fprintf(w, "event: heartbeat\ndata: {}\n\n")
			flusher.Flush()
		}
	}
}
