package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"servicehub/internal/config"
	"servicehub/internal/domain"
	"servicehub/internal/models"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func seedCatalog(t *testing.T, db *DB) {
	t.Helper()
	ctx := context.Background()
	services := []models.Service{
		{
			ID: 1, Name: "Deep cleaning", Price: decimal.NewFromInt(150), ProviderFee: decimal.NewFromInt(100),
			CommissionPct: decimal.NewFromInt(20), DurationMinutes: 120, IsActive: true,
		},
		{
			ID: 2, Name: "Window cleaning", Price: decimal.NewFromInt(80), ProviderFee: decimal.NewFromInt(60),
			CommissionPct: decimal.NewFromInt(25), DurationMinutes: 60, IsActive: true,
		},
	}
	packages := []models.Package{{
		ID: 10, ClientID: 500, Name: "Monthly care", BillingCycle: models.CycleMonthly,
		StartsAt: testNow.AddDate(0, -1, 0),
		Items:    []models.PackageItem{{ServiceID: 1, Quantity: 4}},
	}}
	rule := &models.PayoutRule{
		Name: "default", Frequency: models.FrequencyWeekly, PayoutDay: 5,
		MinimumPayoutAmount: decimal.NewFromInt(50), AutoApproveUnderAmount: decimal.NewFromInt(100),
		RatingWindowDays: 30,
	}
	require.NoError(t, db.Seed(ctx, services, packages, rule, testNow))
}

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	logger := zerolog.Nop()
	db, err := NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	seedCatalog(t, db)
	return db
}

// setupFileDB is used where several connections must race each other.
func setupFileDB(t *testing.T) *DB {
	t.Helper()
	logger := zerolog.Nop()
	db, err := NewDB(filepath.Join(t.TempDir(), "servicehub.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	seedCatalog(t, db)
	return db
}

func newPendingBooking(clientID int64, now time.Time) *models.Booking {
	return &models.Booking{
		ClientID:           clientID,
		ServiceID:          1,
		FundingSource:      models.FundingPayPerJob,
		ScheduledAt:        now.Add(48 * time.Hour),
		DurationMinutes:    120,
		Status:             models.StatusPending,
		TotalAmount:        decimal.NewFromInt(150),
		ServicePrice:       decimal.NewFromInt(150),
		ProviderFee:        decimal.NewFromInt(100),
		CommissionPct:      decimal.NewFromInt(20),
		WeekendBonus:       decimal.Zero,
		AcceptanceDeadline: now.Add(2 * time.Hour),
		PayoutEligible:     true,
		CreatedAt:          now,
	}
}

// completedBooking drives a fresh booking through to completion with a job
// payout of the given amount.
func completedBooking(t *testing.T, db *DB, providerID int64, amount decimal.Decimal, now time.Time) *models.Booking {
	t.Helper()
	ctx := context.Background()

	b := newPendingBooking(700, now)
	_, err := db.CreateBooking(ctx, b, nil)
	require.NoError(t, err)
	require.NoError(t, db.AssignProvider(ctx, b.ID, providerID, now))
	require.NoError(t, db.StartBooking(ctx, b.ID, providerID, now))

	payout := &models.Payout{Kind: models.PayoutKindJob, Amount: amount, BaseAmount: amount, Status: models.PayoutPending, CreatedBy: "system"}
	completion := models.Completion{Notes: "done", QualityScore: 5}
	require.NoError(t, db.CompleteBooking(ctx, b.ID, providerID, completion, payout, now))

	got, err := db.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	return got
}

func TestNewDB_DirectoryCreation(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "test.db")
	logger := zerolog.Nop()

	db, err := NewDB(dbPath, &logger)
	require.NoError(t, err)
	defer db.Close()

	assert.FileExists(t, dbPath)
	assert.Equal(t, DriverSQLite, db.Driver())
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	logger := zerolog.Nop()
	_, err := Open(config.DatabaseConfig{Driver: "oracle"}, &logger)
	assert.Error(t, err)
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	assert.NoError(t, db.migrate(context.Background()))
}

func TestCatalog(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	svc, err := db.GetService(ctx, 1)
	require.NoError(t, err)
	assert.True(t, svc.Price.Equal(decimal.NewFromInt(150)))
	assert.Nil(t, svc.WeekendBonus)

	bonus := decimal.NewFromInt(15)
	svc.WeekendBonus = &bonus
	svc.Price = decimal.NewFromInt(175)
	require.NoError(t, db.UpsertService(ctx, svc, testNow))

	svc, err = db.GetService(ctx, 1)
	require.NoError(t, err)
	assert.True(t, svc.Price.Equal(decimal.NewFromInt(175)))
	require.NotNil(t, svc.WeekendBonus)
	assert.True(t, svc.WeekendBonus.Equal(bonus))

	_, err = db.GetService(ctx, 99)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	services, err := db.ListServices(ctx)
	require.NoError(t, err)
	assert.Len(t, services, 2)

	pkg, err := db.GetPackage(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, models.PackageActive, pkg.Status)
	assert.Equal(t, 4, pkg.Quantity(1))
	assert.Equal(t, 0, pkg.Quantity(2))

	pkgs, err := db.ListClientPackages(ctx, 500)
	require.NoError(t, err)
	assert.Len(t, pkgs, 1)
}

func TestActiveRule(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	rule, err := db.GetActiveRule(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.FrequencyWeekly, rule.Frequency)
	assert.True(t, rule.MinimumPayoutAmount.Equal(decimal.NewFromInt(50)))

	next := &models.PayoutRule{Name: "monthly", Frequency: models.FrequencyMonthly, PayoutDay: 1, RatingWindowDays: 30}
	require.NoError(t, db.SetActiveRule(ctx, next, testNow))

	rule, err = db.GetActiveRule(ctx)
	require.NoError(t, err)
	assert.Equal(t, next.ID, rule.ID)
	assert.Equal(t, "monthly", rule.Name)

	// seeding again keeps the rule chosen at runtime
	require.NoError(t, db.Seed(ctx, nil, nil, &models.PayoutRule{Name: "other", Frequency: models.FrequencyWeekly}, testNow))
	rule, err = db.GetActiveRule(ctx)
	require.NoError(t, err)
	assert.Equal(t, "monthly", rule.Name)
}

func TestClaimRuleRun(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	rule, err := db.GetActiveRule(ctx)
	require.NoError(t, err)
	periodStart := rule.PeriodStart(testNow)

	ok, err := db.ClaimRuleRun(ctx, rule.ID, periodStart, testNow)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = db.ClaimRuleRun(ctx, rule.ID, periodStart, testNow.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "second claim in the same period must lose")

	nextPeriod := periodStart.AddDate(0, 0, 7)
	ok, err = db.ClaimRuleRun(ctx, rule.ID, nextPeriod, nextPeriod.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, ok)
}
