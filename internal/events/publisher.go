package events

import (
	"context"
	"encoding/json"

	"carecall-platform/internal/provider"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the pub/sub channel live consumers subscribe to.
const DefaultChannel = "carecall:call-events"

// RedisPublisher fans applied provider events out over Redis pub/sub for live
// consumers (dashboards, activity feeds). Delivery is best effort; nothing in
// the scheduling core depends on it.
type RedisPublisher struct {
	rdb     *redis.Client
	channel string
}

func NewRedisPublisher(rdb *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{rdb: rdb, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, ev provider.Event) error {
	payload, err := json.Marshal(struct {
		Event          provider.EventType `json:"event"`
		ProviderCallID string             `json:"provider_call_id"`
		Status         string             `json:"status,omitempty"`
	}{
		Event:          ev.Type,
		ProviderCallID: ev.Call.ProviderCallID,
		Status:         ev.Call.Status,
	})
	if err != nil {
		return err
	}
	return p.rdb.Publish(ctx, p.channel, payload).Err()
}
