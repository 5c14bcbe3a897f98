package repository

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"servicehub/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockCache struct {
	mock.Mock
}

func (m *mockCache) GetService(ctx context.Context, id int64) (*models.Service, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Service), args.Error(1)
}

func (m *mockCache) SetService(ctx context.Context, svc *models.Service) error {
	return m.Called(ctx, svc).Error(0)
}

func (m *mockCache) GetRule(ctx context.Context) (*models.PayoutRule, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PayoutRule), args.Error(1)
}

func (m *mockCache) SetRule(ctx context.Context, rule *models.PayoutRule) error {
	return m.Called(ctx, rule).Error(0)
}

func (m *mockCache) Invalidate(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func TestFailoverReferenceCache(t *testing.T) {
	primary := new(mockCache)
	fallback := new(mockCache)
	logger := zerolog.New(io.Discard)
	cache := NewFailoverReferenceCache(primary, fallback, &logger)
	ctx := context.Background()

	t.Run("PrimarySuccess", func(t *testing.T) {
		svc := &models.Service{ID: 1}
		primary.On("GetService", ctx, int64(1)).Return(svc, nil).Once()

		got, err := cache.GetService(ctx, 1)
		assert.NoError(t, err)
		assert.Equal(t, svc, got)
		primary.AssertExpectations(t)
	})

	t.Run("PrimaryFailFallbackSuccess", func(t *testing.T) {
		svc := &models.Service{ID: 2}
		primary.On("GetService", ctx, int64(2)).Return(nil, errors.New("fail")).Once()
		fallback.On("GetService", ctx, int64(2)).Return(svc, nil).Once()

		got, err := cache.GetService(ctx, 2)
		assert.NoError(t, err)
		assert.Equal(t, svc, got)
		assert.True(t, cache.isDown.Load())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("AlreadyDown", func(t *testing.T) {
		cache.isDown.Store(true)
		cache.lastCheck.Store(time.Now().UnixNano())
		rule := &models.PayoutRule{ID: 5}
		fallback.On("SetRule", ctx, rule).Return(nil).Once()

		assert.NoError(t, cache.SetRule(ctx, rule))
		fallback.AssertExpectations(t)
		primary.AssertNotCalled(t, "SetRule", ctx, rule)
	})

	t.Run("RecoveryAttempt", func(t *testing.T) {
		cache.isDown.Store(true)
		cache.lastCheck.Store(time.Now().Add(-2 * time.Minute).UnixNano())

		rule := &models.PayoutRule{ID: 3}
		primary.On("GetRule", ctx).Return(rule, nil).Once()

		got, err := cache.GetRule(ctx)
		assert.NoError(t, err)
		assert.Equal(t, rule, got)
		assert.False(t, cache.isDown.Load())
		primary.AssertExpectations(t)
	})

	t.Run("RecoveryAttemptFail", func(t *testing.T) {
		cache.isDown.Store(true)
		cache.lastCheck.Store(time.Now().Add(-2 * time.Minute).UnixNano())

		primary.On("GetService", ctx, int64(33)).Return(nil, errors.New("still fail")).Once()
		fallback.On("GetService", ctx, int64(33)).Return(nil, nil).Once()

		_, err := cache.GetService(ctx, 33)
		assert.NoError(t, err)
		assert.True(t, cache.isDown.Load())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("SetServiceFailover", func(t *testing.T) {
		cache.isDown.Store(false)
		svc := &models.Service{ID: 4}
		primary.On("SetService", ctx, svc).Return(errors.New("fail")).Once()
		fallback.On("SetService", ctx, svc).Return(nil).Once()

		assert.NoError(t, cache.SetService(ctx, svc))
		assert.True(t, cache.isDown.Load())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("InvalidateBothLayers", func(t *testing.T) {
		cache.isDown.Store(false)
		fallback.On("Invalidate", ctx).Return(nil).Once()
		primary.On("Invalidate", ctx).Return(nil).Once()

		assert.NoError(t, cache.Invalidate(ctx))
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})
}
