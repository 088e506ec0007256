package domain

import (
	"context"

	"github.com/skobkin/sensornet/internal/bus"
	"github.com/skobkin/sensornet/internal/connectors"
)

// WriteQueue serializes persistence writes from async domain events.
type WriteQueue interface {
	Enqueue(name string, fn func(context.Context) error)
}

// StartPersistenceProjection stores every merged node published on
// TopicNodeInfo.
func StartPersistenceProjection(ctx context.Context, b bus.MessageBus, queue WriteQueue, repo NodeRepository) {
	sub := b.Subscribe(connectors.TopicNodeInfo)

	go func() {
		defer b.Unsubscribe(sub, connectors.TopicNodeInfo)
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-sub:
				if !ok {
					return
				}
				update, ok := raw.(NodeUpdate)
				if !ok {
					continue
				}
				n := update.Node
				queue.Enqueue("upsert_node", func(writeCtx context.Context) error {
					return repo.Upsert(writeCtx, n)
				})
			}
		}
	}()
}
