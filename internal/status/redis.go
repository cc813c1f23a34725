package status

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tolgaunal/openday-relay/internal/logger"
	"go.uber.org/zap"
)

const publishTimeout = 2 * time.Second

// RedisBridge republishes every event to a Redis channel so co-located
// consumers (kiosk screens, a supervisor process) can follow the relay
// without polling it. Delivery is best effort: a failed publish is logged
// and dropped, never retried, and never blocks the pipeline.
type RedisBridge struct {
	rdb     *redis.Client
	channel string
	stop    func()
}

// NewRedisBridge subscribes to p and starts forwarding. The publish happens
// off the notifying goroutine; publisher callbacks must not block.
func NewRedisBridge(p *Publisher, rdb *redis.Client, channel string) *RedisBridge {
	b := &RedisBridge{rdb: rdb, channel: channel}
	b.stop = p.Subscribe(func(ev Event) { go b.forward(ev) })

	return b
}

func (b *RedisBridge) forward(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		logger.Log.Warn("status: marshal event", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := b.rdb.Publish(ctx, b.channel, payload).Err(); err != nil {
		logger.Log.Warn("status: redis publish failed",
			zap.String("channel", b.channel),
			zap.Error(err),
		)
	}
}

// Close detaches the bridge from the publisher. The Redis client itself is
// owned by the caller.
func (b *RedisBridge) Close() {
	b.stop()
}
