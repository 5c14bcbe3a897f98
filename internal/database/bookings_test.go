package database

import (
	"context"
	"testing"
	"time"

	"servicehub/internal/domain"
	"servicehub/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBookingLifecycle(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	b := newPendingBooking(100, testNow)
	credit, err := db.CreateBooking(ctx, b, nil)
	require.NoError(t, err)
	assert.Nil(t, credit)
	assert.NotZero(t, b.ID)
	assert.Equal(t, int64(1), b.Version)

	got, err := db.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Nil(t, got.ProviderID)
	assert.True(t, got.TotalAmount.Equal(decimal.NewFromInt(150)))
	assert.True(t, got.AcceptanceDeadline.Equal(testNow.Add(2*time.Hour)))

	require.NoError(t, db.AssignProvider(ctx, b.ID, 42, testNow))
	assert.ErrorIs(t, db.AssignProvider(ctx, b.ID, 43, testNow), domain.ErrConcurrentModification)

	assert.ErrorIs(t, db.StartBooking(ctx, b.ID, 43, testNow), domain.ErrConcurrentModification)
	require.NoError(t, db.StartBooking(ctx, b.ID, 42, testNow))

	payout := &models.Payout{Kind: models.PayoutKindJob, Amount: decimal.NewFromInt(100), BaseAmount: decimal.NewFromInt(100)}
	completion := models.Completion{Notes: "All rooms done", PhotoRefs: []string{"p1.jpg", "p2.jpg"}, QualityScore: 5}
	require.NoError(t, db.CompleteBooking(ctx, b.ID, 42, completion, payout, testNow.Add(3*time.Hour)))
	assert.NotZero(t, payout.ID)

	got, err = db.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	require.NotNil(t, got.ProviderID)
	assert.Equal(t, int64(42), *got.ProviderID)
	assert.Equal(t, models.StringList{"p1.jpg", "p2.jpg"}, got.PhotoRefs)
	require.NotNil(t, got.QualityScore)
	assert.Equal(t, 5, *got.QualityScore)
	assert.True(t, got.ProviderPayout.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, int64(4), got.Version)

	// a second completion matches no row and writes no second payout
	dup := &models.Payout{Kind: models.PayoutKindJob, Amount: decimal.NewFromInt(100)}
	assert.ErrorIs(t, db.CompleteBooking(ctx, b.ID, 42, completion, dup, testNow), domain.ErrConcurrentModification)

	p, err := db.GetPayoutByBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, payout.ID, p.ID)
	assert.Equal(t, models.PayoutPending, p.Status)

	require.NoError(t, db.RateBooking(ctx, b.ID, 100, 4, "good", testNow))
	assert.ErrorIs(t, db.RateBooking(ctx, b.ID, 100, 5, "again", testNow), domain.ErrConcurrentModification)
}

func TestAssignAfterDeadline(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	b := newPendingBooking(100, testNow)
	_, err := db.CreateBooking(ctx, b, nil)
	require.NoError(t, err)

	err = db.AssignProvider(ctx, b.ID, 42, testNow.Add(3*time.Hour))
	assert.ErrorIs(t, err, domain.ErrConcurrentModification)

	got, err := db.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
}

func TestCancelBooking(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	b := newPendingBooking(100, testNow)
	_, err := db.CreateBooking(ctx, b, nil)
	require.NoError(t, err)
	require.NoError(t, db.AssignProvider(ctx, b.ID, 42, testNow))

	actor := models.Actor{Role: models.RoleClient, ID: 100}
	require.NoError(t, db.CancelBooking(ctx, b.ID, actor, "changed plans", testNow))
	assert.ErrorIs(t, db.CancelBooking(ctx, b.ID, actor, "again", testNow), domain.ErrConcurrentModification)

	got, err := db.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)
	assert.Equal(t, "client", got.CancelledBy)
	assert.Equal(t, "changed plans", got.CancelReason)

	// in-progress bookings cannot be cancelled
	b2 := newPendingBooking(100, testNow)
	_, err = db.CreateBooking(ctx, b2, nil)
	require.NoError(t, err)
	require.NoError(t, db.AssignProvider(ctx, b2.ID, 42, testNow))
	require.NoError(t, db.StartBooking(ctx, b2.ID, 42, testNow))
	assert.ErrorIs(t, db.CancelBooking(ctx, b2.ID, actor, "late", testNow), domain.ErrConcurrentModification)
}

func TestListAvailableBookings(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	open := newPendingBooking(100, testNow)
	_, err := db.CreateBooking(ctx, open, nil)
	require.NoError(t, err)

	expired := newPendingBooking(101, testNow)
	expired.AcceptanceDeadline = testNow.Add(-time.Minute)
	_, err = db.CreateBooking(ctx, expired, nil)
	require.NoError(t, err)

	taken := newPendingBooking(102, testNow)
	_, err = db.CreateBooking(ctx, taken, nil)
	require.NoError(t, err)
	require.NoError(t, db.AssignProvider(ctx, taken.ID, 42, testNow))

	available, err := db.ListAvailableBookings(ctx, testNow, 0)
	require.NoError(t, err)
	require.Len(t, available, 1)
	assert.Equal(t, open.ID, available[0].ID)

	mine, err := db.ListProviderBookings(ctx, 42, models.StatusAccepted)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, taken.ID, mine[0].ID)
}

func TestCompleteWithoutPayout(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	b := newPendingBooking(100, testNow)
	_, err := db.CreateBooking(ctx, b, nil)
	require.NoError(t, err)
	require.NoError(t, db.AssignProvider(ctx, b.ID, 42, testNow))
	require.NoError(t, db.StartBooking(ctx, b.ID, 42, testNow))
	require.NoError(t, db.CompleteBooking(ctx, b.ID, 42, models.Completion{Notes: "ok", QualityScore: 3}, nil, testNow))

	got, err := db.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, got.PayoutEligible)

	_, err = db.GetPayoutByBooking(ctx, b.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
