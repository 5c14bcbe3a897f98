// Package notify hands engine events to an external dispatcher. Delivery to
// end users happens outside this service.
package notify

import (
	"context"
	"fmt"

	"servicehub/internal/config"
	"servicehub/internal/events"

	"github.com/redis/go-redis/v9"
)

const (
	BackendNone  = "none"
	BackendRedis = "redis"
	BackendAMQP  = "amqp"
)

// Publisher delivers one event to the external dispatcher.
type Publisher interface {
	Publish(ctx context.Context, event *events.Event) error
	Close() error
}

// New builds the publisher selected by cfg.Backend. It returns nil for the
// none backend.
func New(cfg config.NotifyConfig, redisClient *redis.Client) (Publisher, error) {
	switch cfg.Backend {
	case "", BackendNone:
		return nil, nil
	case BackendRedis:
		if redisClient == nil {
			return nil, fmt.Errorf("notify: redis backend requires a redis client")
		}
		return NewRedisStream(redisClient, cfg.Stream, cfg.MaxLen), nil
	case BackendAMQP:
		return NewAMQP(cfg.AMQPURL, cfg.Exchange)
	default:
		return nil, fmt.Errorf("notify: unsupported backend %q", cfg.Backend)
	}
}
