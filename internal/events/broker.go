// Package events fans service events out to stream subscribers, either in
// process or across instances through Redis Pub/Sub.
package events

import (
	"context"
	"sync"
	"time"
)

// Topics.
const (
	TopicHotspots = "hotspots"
	TopicPlans    = "plans"
)

// Event types.
const (
	TypeGenerationCreated = "generation.created"
	TypePlanGenerated     = "plan.generated"
	TypePlanTimeout       = "plan.timeout"
)

// Event is one stream message.
type Event struct {
	Type string         `json:"type"`
	At   time.Time      `json:"at"`
	Data map[string]any `json:"data"`
}

// Broker delivers events published on a topic to its current subscribers.
// Delivery is best effort: a subscriber that is not keeping up misses events.
// After Unsubscribe the channel is closed.
type Broker interface {
	Subscribe(topic string) chan Event
	Unsubscribe(topic string, ch chan Event)
	Publish(ctx context.Context, topic string, evt Event) error
	Close() error
}

// Memory is the in-process broker.
type Memory struct {
	mu   sync.Mutex
	subs map[string]map[chan Event]struct{} // topic -> set of channels
}

func NewMemory() *Memory {
	return &Memory{subs: map[string]map[chan Event]struct{}{}}
}

func (b *Memory) Subscribe(topic string) chan Event {
	ch := make(chan Event, 8)
	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = map[chan Event]struct{}{}
	}
	b.subs[topic][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Memory) Unsubscribe(topic string, ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.subs[topic]
	if _, ok := m[ch]; !ok {
		return
	}
	delete(m, ch)
	if len(m) == 0 {
		delete(b.subs, topic)
	}
	close(ch)
}

func (b *Memory) Publish(_ context.Context, topic string, evt Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[topic] {
		select {
		case ch <- evt:
		default:
		}
	}
	return nil
}

// Close closes every subscriber channel.
func (b *Memory) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for topic, m := range b.subs {
		for ch := range m {
			close(ch)
		}
		delete(b.subs, topic)
	}
	return nil
}
