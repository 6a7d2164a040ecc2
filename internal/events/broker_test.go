package events

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"ecoroute/internal/logging"
)

func TestMemoryPublishSubscribe(t *testing.T) {
	b := NewMemory()
	ch := b.Subscribe(TopicPlans)
	other := b.Subscribe(TopicHotspots)

	evt := Event{Type: TypePlanGenerated, Data: map[string]any{"planId": "p1"}}
	if err := b.Publish(context.Background(), TopicPlans, evt); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case got := <-ch:
		if got.Type != evt.Type {
			t.Fatalf("got type %s, want %s", got.Type, evt.Type)
		}
		if got.Data["planId"] != "p1" {
			t.Fatalf("bad payload: %+v", got.Data)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
	select {
	case got := <-other:
		t.Fatalf("unexpected event on other topic: %+v", got)
	default:
	}

	b.Unsubscribe(TopicPlans, ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}
	// a second unsubscribe must not panic on a closed channel
	b.Unsubscribe(TopicPlans, ch)
	_ = b.Close()
	if _, ok := <-other; ok {
		t.Fatal("close should close remaining subscribers")
	}
}

func TestMemoryDropsWhenSubscriberIsSlow(t *testing.T) {
	b := NewMemory()
	ch := b.Subscribe(TopicPlans)
	for i := 0; i < 20; i++ {
		_ = b.Publish(context.Background(), TopicPlans, Event{Type: TypePlanGenerated})
	}
	if len(ch) != cap(ch) {
		t.Fatalf("buffer len %d, want %d", len(ch), cap(ch))
	}
}

func TestRedisBroker(t *testing.T) {
	mr := miniredis.RunT(t)
	b, err := NewRedis("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	defer b.Close()
	if err := b.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}

	ch := b.Subscribe(TopicHotspots)
	evt := Event{Type: TypeGenerationCreated, At: time.Now().UTC(), Data: map[string]any{"hotspots": 3.0}}
	if err := b.Publish(context.Background(), TopicHotspots, evt); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case got := <-ch:
		if got.Type != TypeGenerationCreated || got.Data["hotspots"] != 3.0 {
			t.Fatalf("bad event: %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for redis event")
	}

	b.Unsubscribe(TopicHotspots, ch)
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("channel should be closed after unsubscribe")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after unsubscribe")
	}
}

func TestRedisBadURL(t *testing.T) {
	if _, err := NewRedis("not-a-url"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestRedisSubscribeFailureIsLogged(t *testing.T) {
	mr := miniredis.RunT(t)
	b, err := NewRedis("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	defer b.Close()
	var buf bytes.Buffer
	b.WithLogger(logging.New(logging.Config{Level: "debug", Format: "json", Output: &buf}))
	mr.Close()

	ch := b.Subscribe(TopicPlans)
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel left open after failed subscribe")
	}
	if !strings.Contains(buf.String(), "redis subscribe failed") || !strings.Contains(buf.String(), `"topic":"plans"`) {
		t.Fatalf("missing log line: %s", buf.String())
	}
}
