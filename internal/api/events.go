package api

import (
	"context"

	"github.com/starford/notehub/internal/sse"
)

// StreamViews forwards every view published by sess to the broker until ctx
// is done or the session closes.
func StreamViews(ctx context.Context, sess Session, broker *sse.Broker) {
	ch := sess.Subscribe()
	defer sess.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-ch:
			if !ok {
				return
			}
			broker.Publish(sse.Event{Type: sse.TypeView, Data: v})
		}
	}
}
