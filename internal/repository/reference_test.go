package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"servicehub/internal/domain"
	"servicehub/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type countingSource struct {
	services map[int64]*models.Service
	rule     *models.PayoutRule
	calls    int
}

func (s *countingSource) GetService(ctx context.Context, id int64) (*models.Service, error) {
	s.calls++
	svc, ok := s.services[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return svc, nil
}

func (s *countingSource) GetActiveRule(ctx context.Context) (*models.PayoutRule, error) {
	s.calls++
	if s.rule == nil {
		return nil, domain.ErrNoActiveRule
	}
	return s.rule, nil
}

func TestCachedReferenceDataReadThrough(t *testing.T) {
	logger := zerolog.Nop()
	src := &countingSource{services: map[int64]*models.Service{1: {ID: 1, Name: "Lawn"}}}
	refs := NewCachedReferenceData(src, NewMemoryReferenceCache(time.Hour), &logger)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		svc, err := refs.GetService(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, "Lawn", svc.Name)
	}
	assert.Equal(t, 1, src.calls)

	_, err := refs.GetService(ctx, 2)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = refs.GetActiveRule(ctx)
	assert.ErrorIs(t, err, domain.ErrNoActiveRule)

	src.rule = &models.PayoutRule{ID: 9}
	rule, err := refs.GetActiveRule(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(9), rule.ID)

	calls := src.calls
	require.NoError(t, refs.Invalidate(ctx))
	_, err = refs.GetService(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, calls+1, src.calls)
}

func TestCachedReferenceDataBypassesBrokenCache(t *testing.T) {
	logger := zerolog.Nop()
	src := &countingSource{services: map[int64]*models.Service{1: {ID: 1, Name: "Lawn"}}}
	broken := new(mockCache)
	broken.On("GetService", mock.Anything, int64(1)).Return(nil, errors.New("connection refused"))
	broken.On("SetService", mock.Anything, mock.Anything).Return(errors.New("connection refused"))

	refs := NewCachedReferenceData(src, broken, &logger)
	svc, err := refs.GetService(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "Lawn", svc.Name)
	broken.AssertExpectations(t)
}
