package progress

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/curioworks/curio/pkg/bus"
)

// Listener subscribes to every task channel on Redis and dispatches
// incoming events to the local Hub. One pattern subscription covers all
// tasks, so the hub never has to manage upstream subscriptions.
type Listener struct {
	rdb *redis.Client
	hub *Hub

	cancelLoop context.CancelFunc
	loopDone   chan struct{}
}

// NewListener creates a listener over the bus's Redis client.
func NewListener(rdb *redis.Client, hub *Hub) *Listener {
	return &Listener{rdb: rdb, hub: hub}
}

// Start opens the pattern subscription and begins the receive loop.
func (l *Listener) Start(ctx context.Context) error {
	sub := l.rdb.PSubscribe(ctx, bus.TaskChannelPattern)
	// Confirm the subscription before reporting started, so events
	// published after Start returns are not silently missed.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	l.cancelLoop = cancel
	l.loopDone = make(chan struct{})
	go func() {
		defer close(l.loopDone)
		l.receiveLoop(loopCtx, sub)
	}()

	slog.Info("Progress listener started", "pattern", bus.TaskChannelPattern)
	return nil
}

// receiveLoop dispatches messages until the context is cancelled. go-redis
// reconnects the subscription internally; the loop only has to keep
// reading. A closed channel (client shut down) ends the loop after a short
// retry window.
func (l *Listener) receiveLoop(ctx context.Context, sub *redis.PubSub) {
	defer func() { _ = sub.Close() }()
	ch := sub.Channel()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				select {
				case <-ctx.Done():
				case <-time.After(time.Second):
					slog.Error("Progress subscription channel closed")
				}
				return
			}
			// Cancel side-channels are worker-internal.
			if strings.HasSuffix(msg.Channel, ":cancel") {
				continue
			}
			l.hub.Broadcast(msg.Channel, []byte(msg.Payload))
		}
	}
}

// Stop ends the receive loop and closes the subscription.
func (l *Listener) Stop() {
	if l.cancelLoop != nil {
		l.cancelLoop()
	}
	if l.loopDone != nil {
		<-l.loopDone
	}
}
