package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"servicehub/internal/config"
	"servicehub/internal/models"

	"github.com/redis/go-redis/v9"
)

// RedisReferenceCache keeps reference data under <prefix>:service:<id> and
// <prefix>:rule:active.
type RedisReferenceCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisClient builds a redis client from configuration.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}

	return redis.NewClient(options)
}

func NewRedisReferenceCache(client *redis.Client, prefix string, ttl time.Duration) *RedisReferenceCache {
	if prefix == "" {
		prefix = "servicehub:ref"
	}
	return &RedisReferenceCache{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (r *RedisReferenceCache) serviceKey(id int64) string {
	return fmt.Sprintf("%s:service:%d", r.prefix, id)
}

func (r *RedisReferenceCache) ruleKey() string {
	return r.prefix + ":rule:active"
}

func (r *RedisReferenceCache) GetService(ctx context.Context, id int64) (*models.Service, error) {
	var svc models.Service
	ok, err := r.get(ctx, r.serviceKey(id), &svc)
	if err != nil || !ok {
		return nil, err
	}
	return &svc, nil
}

func (r *RedisReferenceCache) SetService(ctx context.Context, svc *models.Service) error {
	return r.set(ctx, r.serviceKey(svc.ID), svc)
}

func (r *RedisReferenceCache) GetRule(ctx context.Context) (*models.PayoutRule, error) {
	var rule models.PayoutRule
	ok, err := r.get(ctx, r.ruleKey(), &rule)
	if err != nil || !ok {
		return nil, err
	}
	return &rule, nil
}

func (r *RedisReferenceCache) SetRule(ctx context.Context, rule *models.PayoutRule) error {
	return r.set(ctx, r.ruleKey(), rule)
}

// Invalidate drops every key under the prefix.
func (r *RedisReferenceCache) Invalidate(ctx context.Context) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	iter := r.client.Scan(ctx, 0, r.prefix+":*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan cache keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete cache keys: %w", err)
	}
	return nil
}

func (r *RedisReferenceCache) get(ctx context.Context, key string, dest interface{}) (bool, error) {
	if r.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	val, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get %s from redis: %w", key, err)
	}
	if err := json.Unmarshal(val, dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return true, nil
}

func (r *RedisReferenceCache) set(ctx context.Context, key string, value interface{}) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if err := r.client.Set(ctx, key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s in redis: %w", key, err)
	}
	return nil
}

// Ping checks the redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close closes the redis connection.
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
