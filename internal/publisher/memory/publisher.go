// Package memory keeps artifact events in process memory for local runs and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/winerank-crawler/internal/crawler"
)

// Publisher records crawler.ArtifactEvent payloads per topic. A resumed job
// can publish the same saved artifact twice; repeats of an entity/hash pair
// return the original message ID and are not appended again.
type Publisher struct {
	mu     sync.RWMutex
	events map[string][]crawler.ArtifactEvent
	ids    map[string]string
	next   int
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{
		events: make(map[string][]crawler.ArtifactEvent),
		ids:    make(map[string]string),
	}
}

// Publish records an artifact event and returns its message ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	event, ok := payload.(crawler.ArtifactEvent)
	if !ok {
		return "", fmt.Errorf("publish to %s: unsupported payload %T", topic, payload)
	}
	key := topic + "\x00" + event.EntityID + "\x00" + event.ContentHash

	p.mu.Lock()
	defer p.mu.Unlock()
	if id, seen := p.ids[key]; seen {
		return id, nil
	}
	p.next++
	id := fmt.Sprintf("memory-%d", p.next)
	p.ids[key] = id
	p.events[topic] = append(p.events[topic], event)
	return id, nil
}

// Events returns the events published on topic in publish order.
func (p *Publisher) Events(topic string) []crawler.ArtifactEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]crawler.ArtifactEvent, len(p.events[topic]))
	copy(out, p.events[topic])
	return out
}
