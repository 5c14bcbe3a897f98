package repository

import (
	"context"
	"sync/atomic"
	"time"

	"servicehub/internal/domain"
	"servicehub/internal/models"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverReferenceCache serves from primary and switches to fallback after
// a primary error. The primary is retried once per recoveryInterval.
type FailoverReferenceCache struct {
	primary   domain.ReferenceCache
	fallback  domain.ReferenceCache
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
	now       func() time.Time
}

func NewFailoverReferenceCache(primary, fallback domain.ReferenceCache, logger *zerolog.Logger) *FailoverReferenceCache {
	return &FailoverReferenceCache{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		now:      time.Now,
	}
}

func (r *FailoverReferenceCache) markDown(err error) {
	if !r.isDown.Swap(true) {
		r.logger.Error().Err(err).Msg("Primary reference cache failed, falling back to memory")
	}
	r.lastCheck.Store(r.now().UnixNano())
}

func (r *FailoverReferenceCache) recoveryDue() bool {
	return r.now().Sub(time.Unix(0, r.lastCheck.Load())) > recoveryInterval
}

func call[T any](r *FailoverReferenceCache, fn func(domain.ReferenceCache) (T, error)) (T, error) {
	if !r.isDown.Load() || r.recoveryDue() {
		wasDown := r.isDown.Load()
		v, err := fn(r.primary)
		if err == nil {
			if wasDown {
				r.isDown.Store(false)
				r.logger.Info().Msg("Primary reference cache recovered")
			}
			return v, nil
		}
		r.markDown(err)
	}
	return fn(r.fallback)
}

func (r *FailoverReferenceCache) GetService(ctx context.Context, id int64) (*models.Service, error) {
	return call(r, func(c domain.ReferenceCache) (*models.Service, error) {
		return c.GetService(ctx, id)
	})
}

func (r *FailoverReferenceCache) SetService(ctx context.Context, svc *models.Service) error {
	_, err := call(r, func(c domain.ReferenceCache) (struct{}, error) {
		return struct{}{}, c.SetService(ctx, svc)
	})
	return err
}

func (r *FailoverReferenceCache) GetRule(ctx context.Context) (*models.PayoutRule, error) {
	return call(r, func(c domain.ReferenceCache) (*models.PayoutRule, error) {
		return c.GetRule(ctx)
	})
}

func (r *FailoverReferenceCache) SetRule(ctx context.Context, rule *models.PayoutRule) error {
	_, err := call(r, func(c domain.ReferenceCache) (struct{}, error) {
		return struct{}{}, c.SetRule(ctx, rule)
	})
	return err
}

// Invalidate clears both layers so a recovered primary never serves entries
// written before the outage.
func (r *FailoverReferenceCache) Invalidate(ctx context.Context) error {
	if err := r.fallback.Invalidate(ctx); err != nil {
		return err
	}
	if r.isDown.Load() {
		return nil
	}
	if err := r.primary.Invalidate(ctx); err != nil {
		r.markDown(err)
	}
	return nil
}
