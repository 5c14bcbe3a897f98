package repository

import (
	"context"

	"servicehub/internal/domain"
	"servicehub/internal/models"

	"github.com/rs/zerolog"
)

// CachedReferenceData is a read-through cache in front of the database.
// Cache errors are logged and bypassed; the source stays authoritative.
type CachedReferenceData struct {
	source domain.ReferenceData
	cache  domain.ReferenceCache
	logger *zerolog.Logger
}

func NewCachedReferenceData(source domain.ReferenceData, cache domain.ReferenceCache, logger *zerolog.Logger) *CachedReferenceData {
	return &CachedReferenceData{source: source, cache: cache, logger: logger}
}

func (c *CachedReferenceData) GetService(ctx context.Context, id int64) (*models.Service, error) {
	svc, err := c.cache.GetService(ctx, id)
	if err != nil {
		c.logger.Warn().Err(err).Int64("service_id", id).Msg("Reference cache read failed")
	}
	if svc != nil {
		return svc, nil
	}

	svc, err = c.source.GetService(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := c.cache.SetService(ctx, svc); err != nil {
		c.logger.Warn().Err(err).Int64("service_id", id).Msg("Reference cache write failed")
	}
	return svc, nil
}

func (c *CachedReferenceData) GetActiveRule(ctx context.Context) (*models.PayoutRule, error) {
	rule, err := c.cache.GetRule(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Reference cache read failed")
	}
	if rule != nil {
		return rule, nil
	}

	rule, err = c.source.GetActiveRule(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.cache.SetRule(ctx, rule); err != nil {
		c.logger.Warn().Err(err).Msg("Reference cache write failed")
	}
	return rule, nil
}

// Invalidate drops cached entries after catalog or rule edits.
func (c *CachedReferenceData) Invalidate(ctx context.Context) error {
	return c.cache.Invalidate(ctx)
}
