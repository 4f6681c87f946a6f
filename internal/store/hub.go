// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package store

import (
	"sync"

	"grimm.is/netwarden/internal/metrics"
)

// DefaultQueueSize bounds each subscriber's pending-message queue.
const DefaultQueueSize = 64

// Hub fans messages out to subscribers. Each subscriber gets a bounded
// queue; when it fills, the oldest pending message is dropped so a slow
// consumer never blocks the publisher.
type Hub struct {
	mu        sync.Mutex
	subs      map[*Subscriber]struct{}
	queueSize int
	metrics   *metrics.Metrics
}

// Subscriber is one hub subscription.
type Subscriber struct {
	hub *Hub
	ch  chan []byte

	closeOnce sync.Once
}

// NewHub creates a hub with the given per-subscriber queue size.
func NewHub(queueSize int, m *metrics.Metrics) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Hub{
		subs:      make(map[*Subscriber]struct{}),
		queueSize: queueSize,
		metrics:   m,
	}
}

// Subscribe registers a new subscriber.
func (h *Hub) Subscribe() *Subscriber {
	sub := &Subscriber{hub: h, ch: make(chan []byte, h.queueSize)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.Subscribers.Inc()
	}
	return sub
}

// Publish queues msg on every subscriber.
func (h *Hub) Publish(msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		for {
			select {
			case sub.ch <- msg:
			default:
				// Queue full: drop the oldest and retry.
				select {
				case <-sub.ch:
					if h.metrics != nil {
						h.metrics.SubscriberDrops.Inc()
					}
				default:
				}
				continue
			}
			break
		}
	}
}

// Len reports the current subscriber count.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// C is the subscriber's receive channel. It is closed by Close.
func (s *Subscriber) C() <-chan []byte { return s.ch }

// Close unregisters the subscriber and closes its channel.
func (s *Subscriber) Close() {
	s.closeOnce.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s)
		s.hub.mu.Unlock()
		if s.hub.metrics != nil {
			s.hub.metrics.Subscribers.Dec()
		}
		close(s.ch)
	})
}
