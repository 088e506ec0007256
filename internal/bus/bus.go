// Package bus fans node events out to in-process listeners by topic.
//
// Topics are the connectors.Topic* names. A listener that falls behind stalls
// publishers once its buffer of EventBuffer events is full.
package bus

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/cskr/pubsub"
)

// EventBuffer is the per-subscription channel depth.
const EventBuffer = 128

// Subscription delivers published events until it is unsubscribed or the bus
// closes.
type Subscription chan any

type MessageBus interface {
	Publish(topic string, msg any)
	Subscribe(topics ...string) Subscription
	Unsubscribe(ch Subscription, topics ...string)
	Close()
}

// PubSubBus is a MessageBus over cskr/pubsub. Calls made after Close are
// dropped instead of reaching the closed broker.
type PubSubBus struct {
	log *slog.Logger

	mu     sync.RWMutex
	ps     *pubsub.PubSub
	closed bool
}

func New(logger *slog.Logger) *PubSubBus {
	if logger == nil {
		logger = slog.Default()
	}

	return &PubSubBus{
		log: logger.With("component", "bus"),
		ps:  pubsub.New(EventBuffer),
	}
}

func (b *PubSubBus) Publish(topic string, msg any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		b.log.Debug("event after close dropped", "topic", topic)

		return
	}
	b.log.Debug("event", "topic", topic, "type", fmt.Sprintf("%T", msg))
	b.ps.Pub(msg, topic)
}

// Subscribe listens on topics. On a closed bus the returned channel is
// already closed.
func (b *PubSubBus) Subscribe(topics ...string) Subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		ch := make(Subscription)
		close(ch)

		return ch
	}
	b.log.Debug("listener added", "topics", topics)

	return b.ps.Sub(topics...)
}

// Unsubscribe detaches ch from topics, or from everything when none are given.
func (b *PubSubBus) Unsubscribe(ch Subscription, topics ...string) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	b.ps.Unsub(ch, topics...)
	b.log.Debug("listener removed", "topics", topics)
}

// Close shuts the broker down and closes every subscription. It is safe to
// call more than once.
func (b *PubSubBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.ps.Shutdown()
}
