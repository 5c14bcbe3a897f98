package repository

import (
	"context"
	"testing"
	"time"

	"servicehub/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisReferenceCache(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	client := redis.NewClient(&redis.Options{
		Addr: s.Addr(),
	})
	defer client.Close()

	cache := NewRedisReferenceCache(client, "test:ref", time.Hour)
	ctx := context.Background()

	t.Run("SetAndGetService", func(t *testing.T) {
		bonus := decimal.NewFromInt(15)
		svc := &models.Service{
			ID: 7, Name: "Deep clean", Price: decimal.RequireFromString("150.50"),
			ProviderFee: decimal.NewFromInt(100), CommissionPct: decimal.NewFromInt(20),
			WeekendBonus: &bonus, IsActive: true,
		}
		require.NoError(t, cache.SetService(ctx, svc))
		assert.True(t, s.Exists("test:ref:service:7"))

		got, err := cache.GetService(ctx, 7)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "Deep clean", got.Name)
		assert.True(t, got.Price.Equal(svc.Price))
		require.NotNil(t, got.WeekendBonus)
		assert.True(t, got.WeekendBonus.Equal(bonus))
	})

	t.Run("Miss", func(t *testing.T) {
		got, err := cache.GetService(ctx, 999)
		require.NoError(t, err)
		assert.Nil(t, got)

		rule, err := cache.GetRule(ctx)
		require.NoError(t, err)
		assert.Nil(t, rule)
	})

	t.Run("Rule", func(t *testing.T) {
		rule := &models.PayoutRule{ID: 3, Name: "weekly", Frequency: models.FrequencyWeekly, PayoutDay: 5,
			MinimumPayoutAmount: decimal.NewFromInt(50), IsActive: true}
		require.NoError(t, cache.SetRule(ctx, rule))

		got, err := cache.GetRule(ctx)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, int64(3), got.ID)
		assert.True(t, got.MinimumPayoutAmount.Equal(rule.MinimumPayoutAmount))
	})

	t.Run("Expiry", func(t *testing.T) {
		require.NoError(t, cache.SetService(ctx, &models.Service{ID: 8, Name: "Windows"}))
		s.FastForward(time.Hour + time.Second)

		got, err := cache.GetService(ctx, 8)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("Invalidate", func(t *testing.T) {
		require.NoError(t, cache.SetService(ctx, &models.Service{ID: 9}))
		require.NoError(t, cache.SetRule(ctx, &models.PayoutRule{ID: 4}))
		require.NoError(t, s.Set("other:key", "kept"))

		require.NoError(t, cache.Invalidate(ctx))
		assert.False(t, s.Exists("test:ref:service:9"))
		assert.False(t, s.Exists("test:ref:rule:active"))
		assert.True(t, s.Exists("other:key"))
	})

	t.Run("NilClient", func(t *testing.T) {
		cache := NewRedisReferenceCache(nil, "", time.Hour)
		_, err := cache.GetService(ctx, 1)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "redis client is nil")
	})

	t.Run("Ping", func(t *testing.T) {
		err := Ping(ctx, client)
		assert.NoError(t, err)
	})

	t.Run("Close", func(t *testing.T) {
		err := Close(client)
		assert.NoError(t, err)
	})
}
