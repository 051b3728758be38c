package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	channelPrefix  = "realtime:"
	roomChannel    = channelPrefix + "room:"
	allChannel     = channelPrefix + "all"
	publishTimeout = 5 * time.Second
)

// redisPayload is the message published to Redis for cross-instance broadcast.
type redisPayload struct {
	Origin string          `json:"origin"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data"`
	At     int64           `json:"at"`
}

// RemoteDeliverer receives broadcasts published by other instances.
type RemoteDeliverer interface {
	DeliverRemote(room, event string, data json.RawMessage)
}

// RedisPubSub implements Publisher using Redis pub/sub. Messages carry the publishing
// instance id so an instance never re-delivers its own broadcasts.
type RedisPubSub struct {
	client     *redis.Client
	instanceID string
	logger     *zap.Logger
}

// NewRedisPubSub creates a Redis pub/sub bridge for room broadcasts.
func NewRedisPubSub(client *redis.Client, instanceID string, logger *zap.Logger) *RedisPubSub {
	return &RedisPubSub{client: client, instanceID: instanceID, logger: logger}
}

// Publish sends a broadcast to other instances. An empty room addresses every channel.
func (r *RedisPubSub) Publish(ctx context.Context, room, event string, data []byte) error {
	topic := allChannel
	if room != "" {
		topic = roomChannel + room
	}
	body, err := json.Marshal(redisPayload{Origin: r.instanceID, Event: event, Data: data, At: time.Now().Unix()})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	return r.client.Publish(ctx, topic, body).Err()
}

// Run subscribes to all realtime topics and hands foreign broadcasts to d until ctx is done.
func (r *RedisPubSub) Run(ctx context.Context, d RemoteDeliverer) error {
	pubsub := r.client.PSubscribe(ctx, channelPrefix+"*")
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe: %w", err)
	}
	r.logger.Info("realtime fanout subscribed", zap.String("instance_id", r.instanceID))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var p redisPayload
			if err := json.Unmarshal([]byte(msg.Payload), &p); err != nil {
				r.logger.Debug("ignoring malformed fanout message", zap.String("channel", msg.Channel))
				continue
			}
			if p.Origin == r.instanceID {
				continue
			}
			room := ""
			if strings.HasPrefix(msg.Channel, roomChannel) {
				room = strings.TrimPrefix(msg.Channel, roomChannel)
			} else if msg.Channel != allChannel {
				continue
			}
			d.DeliverRemote(room, p.Event, p.Data)
		}
	}
}
