package notify

import (
	"context"
	"fmt"
	"time"

	"servicehub/internal/events"

	"github.com/redis/go-redis/v9"
)

// RedisStream appends events to a capped redis stream.
type RedisStream struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewRedisStream(client *redis.Client, stream string, maxLen int64) *RedisStream {
	return &RedisStream{client: client, stream: stream, maxLen: maxLen}
}

func (p *RedisStream) Publish(ctx context.Context, event *events.Event) error {
	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{
			"id":         event.ID,
			"type":       event.Type,
			"payload":    string(event.Payload),
			"created_at": event.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", p.stream, err)
	}
	return nil
}

// Close is a no-op; the redis client is shared and closed by its owner.
func (p *RedisStream) Close() error {
	return nil
}
