// Package webhooks forwards broker events to configured HTTP endpoints as
// signed JSON POSTs, retrying failures with exponential backoff.
package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"ecoroute/internal/events"
	"ecoroute/internal/logging"
	"ecoroute/internal/metrics"
)

// Delivery is one pending POST of an event to one URL.
type Delivery struct {
	ID        string
	URL       string
	EventType string
	Payload   []byte
	Attempts  int
	NextAt    time.Time
}

type Worker struct {
	URLs        []string
	Secret      string
	HTTP        *http.Client
	MaxAttempts int
	Interval    time.Duration
	Log         logging.Logger

	mu    sync.Mutex
	queue []*Delivery
	now   func() time.Time
}

func NewWorker(urls []string, secret string, maxAttempts int, log logging.Logger) *Worker {
	if maxAttempts < 1 {
		maxAttempts = 10
	}
	if log == nil {
		log = logging.Noop()
	}
	return &Worker{
		URLs:        urls,
		Secret:      secret,
		HTTP:        &http.Client{Timeout: 5 * time.Second},
		MaxAttempts: maxAttempts,
		Interval:    time.Second,
		Log:         log,
		now:         time.Now,
	}
}

// Enqueue schedules evt for immediate delivery to every URL.
func (w *Worker) Enqueue(evt events.Event) {
	body, err := json.Marshal(map[string]any{
		"id":   uuid.New().String(),
		"type": evt.Type,
		"ts":   evt.At.UTC().Format(time.RFC3339Nano),
		"data": evt.Data,
	})
	if err != nil {
		w.Log.Warn(context.Background(), "webhook payload", logging.String("type", evt.Type), logging.Err(err))
		return
	}
	now := w.now()
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, u := range w.URLs {
		w.queue = append(w.queue, &Delivery{ID: uuid.New().String(), URL: u, EventType: evt.Type, Payload: body, NextAt: now})
	}
}

// Pending returns the number of queued deliveries.
func (w *Worker) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

// Run subscribes to topics and delivers events until ctx is done.
func (w *Worker) Run(ctx context.Context, broker events.Broker, topics ...string) {
	var wg sync.WaitGroup
	for _, topic := range topics {
		ch := broker.Subscribe(topic)
		wg.Add(1)
		go func(topic string) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					broker.Unsubscribe(topic, ch)
					return
				case evt, ok := <-ch:
					if !ok {
						return
					}
					w.Enqueue(evt)
				}
			}
		}(topic)
	}

	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case <-ticker.C:
			w.processOnce(ctx)
		}
	}
}

// processOnce attempts every due delivery. Successes and deliveries out of
// attempts leave the queue; the rest are rescheduled.
func (w *Worker) processOnce(ctx context.Context) {
	now := w.now()
	w.mu.Lock()
	var due []*Delivery
	keep := w.queue[:0]
	for _, d := range w.queue {
		if d.NextAt.After(now) {
			keep = append(keep, d)
			continue
		}
		due = append(due, d)
	}
	w.queue = keep
	w.mu.Unlock()

	var retry []*Delivery
	for _, d := range due {
		code, err := w.post(ctx, d)
		d.Attempts++
		if err == nil && code >= 200 && code < 300 {
			metrics.WebhookDeliveries.WithLabelValues("delivered").Inc()
			continue
		}
		fields := []logging.Field{
			logging.String("delivery", d.ID),
			logging.String("url", d.URL),
			logging.Int("attempts", d.Attempts),
			logging.Int("status", code),
		}
		if err != nil {
			fields = append(fields, logging.Err(err))
		}
		if d.Attempts >= w.MaxAttempts {
			metrics.WebhookDeliveries.WithLabelValues("failed").Inc()
			w.Log.Error(ctx, "webhook delivery failed", fields...)
			continue
		}
		metrics.WebhookDeliveries.WithLabelValues("retry").Inc()
		w.Log.Warn(ctx, "webhook delivery retry", fields...)
		d.NextAt = w.now().Add(nextBackoff(d.Attempts))
		retry = append(retry, d)
	}
	if len(retry) > 0 {
		w.mu.Lock()
		w.queue = append(w.queue, retry...)
		w.mu.Unlock()
	}
}

func (w *Worker) post(ctx context.Context, d *Delivery) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.URL, bytes.NewReader(d.Payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Ecoroute-Event", d.EventType)
	req.Header.Set("X-Ecoroute-Delivery", d.ID)
	if w.Secret != "" {
		req.Header.Set("X-Ecoroute-Signature", Sign(w.Secret, d.Payload))
	}
	resp, err := w.HTTP.Do(req)
	if err != nil {
		return 0, err
	}
	_ = resp.Body.Close()
	return resp.StatusCode, nil
}

// nextBackoff doubles from one second per attempt, capped at an hour.
func nextBackoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 10 {
		attempts = 10
	}
	base := time.Second * time.Duration(1<<attempts)
	if base > time.Hour {
		base = time.Hour
	}
	return base
}
