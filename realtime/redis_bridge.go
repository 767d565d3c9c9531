package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Channel is the redis pub/sub channel shared by all instances.
const Channel = "productflow:events"

// RedisBridge relays hub events between instances over redis pub/sub.
// Events carry the publishing instance as Origin so an instance never
// delivers its own events twice.
type RedisBridge struct {
	client  *redis.Client
	hub     *Hub
	channel string
	origin  string
	log     *logrus.Entry
}

func NewRedisBridge(client *redis.Client, hub *Hub) *RedisBridge {
	return &RedisBridge{
		client:  client,
		hub:     hub,
		channel: Channel,
		origin:  uuid.NewString(),
		log:     logrus.WithField("component", "realtime_bridge"),
	}
}

// Forward publishes ev to the shared channel.
func (b *RedisBridge) Forward(ev Event) error {
	ev.Origin = b.origin
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	return b.client.Publish(context.Background(), b.channel, payload).Err()
}

// Run subscribes to the shared channel and delivers foreign events to the
// hub until ctx is cancelled.
func (b *RedisBridge) Run(ctx context.Context) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to %s: %w", b.channel, err)
	}
	b.hub.SetForwarder(b)
	defer b.hub.SetForwarder(nil)
	b.log.WithField("channel", b.channel).Info("Realtime bridge started")

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			b.log.Info("Realtime bridge stopped")
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			b.handle(msg.Payload)
		}
	}
}

func (b *RedisBridge) handle(payload string) {
	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		b.log.WithError(err).Warn("Dropping malformed event")
		return
	}
	if ev.Origin == b.origin {
		return
	}
	b.hub.Deliver(ev)
}
