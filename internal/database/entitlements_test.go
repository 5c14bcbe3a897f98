package database

import (
	"context"
	"testing"

	"servicehub/internal/domain"
	"servicehub/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCreditBooking(t *testing.T) *models.Booking {
	t.Helper()
	b := newPendingBooking(500, testNow)
	pkgID := int64(10)
	b.PackageID = &pkgID
	b.FundingSource = models.FundingPackageCredit
	b.TotalAmount = decimal.Zero
	return b
}

func monthlyDraw() *domain.CreditDraw {
	return &domain.CreditDraw{PackageID: 10, ServiceID: 1, ClientID: 500, Cycle: "2026-03", Granted: 4}
}

func TestCreateBookingConsumesCredit(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		b := newCreditBooking(t)
		credit, err := db.CreateBooking(ctx, b, monthlyDraw())
		require.NoError(t, err)
		assert.Equal(t, 3-i, credit.Remaining)
		require.NotNil(t, credit.UsageLog.BookingID)
		assert.Equal(t, b.ID, *credit.UsageLog.BookingID)
	}

	// the fifth attempt fails and leaves no booking behind
	fifth := newCreditBooking(t)
	_, err := db.CreateBooking(ctx, fifth, monthlyDraw())
	assert.ErrorIs(t, err, domain.ErrNoEntitlement)
	assert.Zero(t, fifth.ID)

	var bookings int
	require.NoError(t, db.GetContext(ctx, &bookings, `SELECT COUNT(*) FROM bookings`))
	assert.Equal(t, 4, bookings)

	used, err := db.CountUsage(ctx, 10, 1, "2026-03")
	require.NoError(t, err)
	assert.Equal(t, 4, used)

	ent, err := db.GetEntitlement(ctx, 10, 1, "2026-03")
	require.NoError(t, err)
	assert.Equal(t, 4, ent.Consumed)
	assert.Equal(t, 0, ent.Remaining())

	// a new cycle starts from the full grant
	draw := monthlyDraw()
	draw.Cycle = "2026-04"
	credit, err := db.ConsumeCredit(ctx, draw, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, credit.Remaining)
	assert.Nil(t, credit.UsageLog.BookingID)
}

func TestRestoreCredit(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	b := newCreditBooking(t)
	_, err := db.CreateBooking(ctx, b, monthlyDraw())
	require.NoError(t, err)

	// only cancelled bookings can be restored
	_, err = db.RestoreCredit(ctx, b.ID, "admin", testNow)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	require.NoError(t, db.CancelBooking(ctx, b.ID, models.Actor{Role: models.RoleClient, ID: 500}, "sick", testNow))

	log, err := db.RestoreCredit(ctx, b.ID, "admin", testNow)
	require.NoError(t, err)
	require.NotNil(t, log.RestoredAt)
	assert.Equal(t, "admin", log.RestoredBy)

	ent, err := db.GetEntitlement(ctx, 10, 1, "2026-03")
	require.NoError(t, err)
	assert.Equal(t, 0, ent.Consumed)

	used, err := db.CountUsage(ctx, 10, 1, "2026-03")
	require.NoError(t, err)
	assert.Equal(t, 0, used)

	_, err = db.RestoreCredit(ctx, b.ID, "admin", testNow)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "a credit is restored at most once")

	usage, err := db.GetUsageByBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.NotNil(t, usage.RestoredAt)
}

func TestRestoreCreditRejectsPayPerJob(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	b := newPendingBooking(100, testNow)
	_, err := db.CreateBooking(ctx, b, nil)
	require.NoError(t, err)
	require.NoError(t, db.CancelBooking(ctx, b.ID, models.Actor{Role: models.RoleAdmin}, "", testNow))

	_, err = db.RestoreCredit(ctx, b.ID, "admin", testNow)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = db.RestoreCredit(ctx, 9999, "admin", testNow)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
