package database

import (
	"context"
	"testing"
	"time"

	"servicehub/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListSettledBookings(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	paid := completedBooking(t, db, 42, decimal.NewFromInt(100), testNow)

	unpaid := newPendingBooking(100, testNow)
	_, err := db.CreateBooking(ctx, unpaid, nil)
	require.NoError(t, err)
	require.NoError(t, db.AssignProvider(ctx, unpaid.ID, 43, testNow))
	require.NoError(t, db.StartBooking(ctx, unpaid.ID, 43, testNow))
	require.NoError(t, db.CompleteBooking(ctx, unpaid.ID, 43, models.Completion{Notes: "ok", QualityScore: 4}, nil, testNow))

	// completed outside the range
	completedBooking(t, db, 42, decimal.NewFromInt(100), testNow.AddDate(0, 0, 2))

	from := testNow.Add(-time.Hour)
	to := testNow.Add(time.Hour)

	settled, err := db.ListSettledBookings(ctx, from, to)
	require.NoError(t, err)
	require.Len(t, settled, 2)

	byID := map[int64]models.SettledBooking{}
	for _, s := range settled {
		byID[s.Booking.ID] = s
	}
	require.NotNil(t, byID[paid.ID].Payout)
	assert.True(t, byID[paid.ID].Payout.Amount.Equal(decimal.NewFromInt(100)))
	assert.Nil(t, byID[unpaid.ID].Payout)

	payouts, err := db.ListPayoutsCreated(ctx, from, to)
	require.NoError(t, err)
	assert.Len(t, payouts, 1)

	// the range is half-open
	settled, err = db.ListSettledBookings(ctx, from, testNow)
	require.NoError(t, err)
	assert.Empty(t, settled)
}
