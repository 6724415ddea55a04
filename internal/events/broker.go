package events

import (
	"context"
	"log/slog"
	"sync"

	"hozon/internal/consts"
	"hozon/internal/observability"
)

// Broker fans events out to per-request subscribers.
type Broker struct {
	log     *slog.Logger
	metrics *observability.Metrics
	buffer  int

	mu   sync.RWMutex
	subs map[string]map[*subscriber]struct{}
}

type subscriber struct {
	ch   chan Event
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.ch) })
}

// NewBroker creates a broker whose subscriber channels hold consts.DefaultSubscriberBuffer events.
func NewBroker(log *slog.Logger, metrics *observability.Metrics) *Broker {
	return &Broker{
		log:     log.With(slog.String("package", "events")),
		metrics: metrics,
		buffer:  consts.DefaultSubscriberBuffer,
		subs:    make(map[string]map[*subscriber]struct{}),
	}
}

// Subscribe returns a channel of events for requestID and a function that
// releases it. The channel is closed after the result event or on release.
func (b *Broker) Subscribe(requestID string) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, b.buffer)}

	b.mu.Lock()
	if b.subs[requestID] == nil {
		b.subs[requestID] = make(map[*subscriber]struct{})
	}

	b.subs[requestID][sub] = struct{}{}
	b.mu.Unlock()

	return sub.ch, func() { b.remove(requestID, sub) }
}

// Publish implements Sink. A subscriber with a full buffer misses the event,
// except for the result: it evicts the oldest buffered events until it fits.
// The result event closes every stream of the request.
func (b *Broker) Publish(ctx context.Context, ev Event) {
	b.metrics.RecordEvent(string(ev.Name))

	// sends happen under the read lock so remove cannot close a channel mid-send
	b.mu.RLock()
	for sub := range b.subs[ev.RequestID] {
		if ev.Name == NameResult {
			b.deliver(ctx, sub, ev)

			continue
		}

		select {
		case sub.ch <- ev:
		default:
			b.metrics.RecordEventDropped()
			b.log.DebugContext(ctx, "subscriber buffer full, event dropped", slog.Any("event", ev))
		}
	}
	b.mu.RUnlock()

	if ev.Name != NameResult {
		return
	}

	b.mu.Lock()
	for sub := range b.subs[ev.RequestID] {
		sub.close()
	}

	delete(b.subs, ev.RequestID)
	b.mu.Unlock()
}

// deliver sends ev to sub, evicting buffered events while the buffer is full.
func (b *Broker) deliver(ctx context.Context, sub *subscriber, ev Event) {
	for {
		select {
		case sub.ch <- ev:
			return
		default:
		}

		select {
		case old := <-sub.ch:
			b.metrics.RecordEventDropped()
			b.log.DebugContext(ctx, "subscriber buffer full, event evicted", slog.Any("event", old))
		default:
		}
	}
}

// Subscribers reports how many streams are open for requestID.
func (b *Broker) Subscribers(requestID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.subs[requestID])
}

func (b *Broker) remove(requestID string, sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if set, ok := b.subs[requestID]; ok {
		delete(set, sub)

		if len(set) == 0 {
			delete(b.subs, requestID)
		}
	}

	sub.close()
}
