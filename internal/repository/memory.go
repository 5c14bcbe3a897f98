package repository

import (
	"context"
	"sync"
	"time"

	"servicehub/internal/models"
)

type memoryEntry struct {
	value     interface{}
	expiresAt time.Time
}

// MemoryReferenceCache is the in-process fallback for the redis cache.
type MemoryReferenceCache struct {
	entries sync.Map
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryReferenceCache(ttl time.Duration) *MemoryReferenceCache {
	return &MemoryReferenceCache{
		ttl: ttl,
		now: time.Now,
	}
}

func (r *MemoryReferenceCache) load(key interface{}) (interface{}, bool) {
	val, ok := r.entries.Load(key)
	if !ok {
		return nil, false
	}
	entry := val.(*memoryEntry)
	if r.ttl > 0 && r.now().After(entry.expiresAt) {
		r.entries.Delete(key)
		return nil, false
	}
	return entry.value, true
}

func (r *MemoryReferenceCache) store(key, value interface{}) {
	r.entries.Store(key, &memoryEntry{value: value, expiresAt: r.now().Add(r.ttl)})
}

func (r *MemoryReferenceCache) GetService(ctx context.Context, id int64) (*models.Service, error) {
	val, ok := r.load(id)
	if !ok {
		return nil, nil
	}
	svc := *val.(*models.Service)
	return &svc, nil
}

func (r *MemoryReferenceCache) SetService(ctx context.Context, svc *models.Service) error {
	cp := *svc
	r.store(svc.ID, &cp)
	return nil
}

type activeRuleKey struct{}

func (r *MemoryReferenceCache) GetRule(ctx context.Context) (*models.PayoutRule, error) {
	val, ok := r.load(activeRuleKey{})
	if !ok {
		return nil, nil
	}
	rule := *val.(*models.PayoutRule)
	return &rule, nil
}

func (r *MemoryReferenceCache) SetRule(ctx context.Context, rule *models.PayoutRule) error {
	cp := *rule
	r.store(activeRuleKey{}, &cp)
	return nil
}

func (r *MemoryReferenceCache) Invalidate(ctx context.Context) error {
	r.entries.Range(func(key, _ interface{}) bool {
		r.entries.Delete(key)
		return true
	})
	return nil
}
