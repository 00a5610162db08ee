package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mossy-p/call-gateway/internal/models"
)

const channel = "callgw:notices"

// Redis implements Bus over a Redis Pub/Sub channel shared by all gateway
// processes.
type Redis struct {
	rdb *redis.Client
	log *zap.Logger
}

func NewRedis(rdb *redis.Client, log *zap.Logger) *Redis {
	return &Redis{rdb: rdb, log: log}
}

func (b *Redis) Publish(ctx context.Context, n models.Notice) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("bus: marshal notice: %w", err)
	}
	if err := b.rdb.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("bus: publish: %w", err)
	}
	return nil
}

func (b *Redis) Subscribe(ctx context.Context, fn Handler) error {
	sub := b.rdb.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("bus: subscribe: %w", err)
	}
	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var n models.Notice
				if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
					b.log.Warn("bus: malformed notice", zap.Error(err))
					continue
				}
				if !n.Type.Known() {
					b.log.Warn("bus: unknown notice type", zap.String("noticeType", string(n.Type)))
					continue
				}
				fn(n)
			}
		}
	}()
	return nil
}
