package settlement

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"servicehub/internal/database"
	"servicehub/internal/domain"
	"servicehub/internal/events"
	"servicehub/internal/models"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC) // Tuesday

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func defaultRule() *models.PayoutRule {
	return &models.PayoutRule{
		Name: "weekly", Frequency: models.FrequencyWeekly, PayoutDay: 5,
		MinimumPayoutAmount: dec("50"), AutoApproveUnderAmount: dec("100"),
		RatingWindowDays: 30,
	}
}

func setupEngine(t *testing.T) (*Engine, *database.DB, *events.EventBus) {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "settlement.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	services := []models.Service{{
		ID: 1, Name: "Deep cleaning", Price: dec("150"), ProviderFee: dec("100"),
		CommissionPct: dec("20"), DurationMinutes: 120, IsActive: true,
	}}
	require.NoError(t, db.Seed(context.Background(), services, nil, defaultRule(), testNow))

	bus := events.NewEventBus(&logger)
	engine := NewEngine(db, db, bus, time.UTC, &logger).WithClock(func() time.Time { return testNow })
	return engine, db, bus
}

// completeJob stores a completed booking for providerID whose job payout
// is amount.
func completeJob(t *testing.T, db *database.DB, providerID int64, amount string) *models.Booking {
	t.Helper()
	ctx := context.Background()
	b := &models.Booking{
		ClientID: 700, ServiceID: 1, FundingSource: models.FundingPayPerJob,
		ScheduledAt: testNow.Add(-24 * time.Hour), DurationMinutes: 120, Status: models.StatusPending,
		TotalAmount: dec("150"), ServicePrice: dec("150"), ProviderFee: dec(amount), CommissionPct: dec("20"),
		WeekendBonus: decimal.Zero, AcceptanceDeadline: testNow.Add(time.Hour), PayoutEligible: true,
		CreatedAt: testNow.Add(-time.Hour),
	}
	_, err := db.CreateBooking(ctx, b, nil)
	require.NoError(t, err)
	require.NoError(t, db.AssignProvider(ctx, b.ID, providerID, testNow.Add(-time.Hour)))
	require.NoError(t, db.StartBooking(ctx, b.ID, providerID, testNow.Add(-time.Hour)))
	p := &models.Payout{Kind: models.PayoutKindJob, Amount: dec(amount), BaseAmount: dec(amount), Status: models.PayoutPending, CreatedBy: models.RoleSystem}
	require.NoError(t, db.CompleteBooking(ctx, b.ID, providerID, models.Completion{Notes: "done", QualityScore: 5}, p, testNow.Add(-time.Hour)))
	return b
}

func TestRunAutomatedThresholds(t *testing.T) {
	engine, db, _ := setupEngine(t)
	ctx := context.Background()

	below := completeJob(t, db, 42, "30")
	completeJob(t, db, 43, "50")
	completeJob(t, db, 43, "30")

	summary, err := engine.RunAutomated(ctx, RunOptions{})
	require.NoError(t, err)
	assert.True(t, summary.Ran)

	require.Len(t, summary.Skipped, 1)
	assert.Equal(t, int64(42), summary.Skipped[0].ProviderID)
	assert.Equal(t, skipBelowMinimum, summary.Skipped[0].Reason)

	require.Len(t, summary.Batches, 1)
	batch := summary.Batches[0]
	assert.Equal(t, int64(43), batch.ProviderID)
	assert.True(t, batch.TotalAmount.Equal(dec("80")))
	assert.Equal(t, 2, batch.PayoutCount)
	assert.Equal(t, models.BatchApproved, batch.Status)

	payouts, err := db.ListBatchPayouts(ctx, batch.BatchID)
	require.NoError(t, err)
	for _, p := range payouts {
		assert.Equal(t, models.PayoutProcessing, p.Status)
	}

	// below-minimum payouts roll forward untouched
	p, err := db.GetPayoutByBooking(ctx, below.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PayoutPending, p.Status)
	assert.Nil(t, p.BatchID)
}

func TestRunAutomatedLargeBatchNeedsApproval(t *testing.T) {
	engine, db, bus := setupEngine(t)
	ctx := context.Background()

	var approvedEvents int
	bus.Subscribe(events.EventBatchApproved, func(*events.Event) error {
		approvedEvents++
		return nil
	})

	completeJob(t, db, 42, "70")
	completeJob(t, db, 42, "60")

	summary, err := engine.RunAutomated(ctx, RunOptions{})
	require.NoError(t, err)
	require.Len(t, summary.Batches, 1)
	assert.Equal(t, models.BatchPending, summary.Batches[0].Status)
	id := summary.Batches[0].BatchID

	_, err = engine.ApproveBatch(ctx, id, "")
	assert.ErrorIs(t, err, domain.ErrValidation)

	approved, err := engine.ApproveBatch(ctx, id, "finance")
	require.NoError(t, err)
	assert.Equal(t, models.BatchApproved, approved.Status)

	again, err := engine.ApproveBatch(ctx, id, "someone-else")
	require.NoError(t, err, "approving twice is a no-op")
	assert.Equal(t, "finance", again.ApprovedBy)
	assert.Equal(t, 1, approvedEvents)

	processing, err := engine.ProcessBatch(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.BatchProcessing, processing.Status)

	done, err := engine.CompleteBatch(ctx, id, "wire-2026-03-10")
	require.NoError(t, err)
	assert.Equal(t, models.BatchCompleted, done.Status)
	assert.True(t, done.TotalAmount.Equal(dec("130")))

	payouts, err := db.ListBatchPayouts(ctx, id)
	require.NoError(t, err)
	require.Len(t, payouts, 2)
	for _, p := range payouts {
		assert.Equal(t, models.PayoutCompleted, p.Status)
		assert.NotNil(t, p.PaidAt)
	}
}

func TestRunAutomatedOncePerPeriod(t *testing.T) {
	engine, db, _ := setupEngine(t)
	ctx := context.Background()
	completeJob(t, db, 42, "60")

	first, err := engine.RunAutomated(ctx, RunOptions{})
	require.NoError(t, err)
	assert.True(t, first.Ran)
	assert.Len(t, first.Batches, 1)

	completeJob(t, db, 42, "60")
	second, err := engine.RunAutomated(ctx, RunOptions{})
	require.NoError(t, err)
	assert.False(t, second.Ran)
	assert.Empty(t, second.Batches)

	forced, err := engine.RunAutomated(ctx, RunOptions{Force: true})
	require.NoError(t, err)
	assert.True(t, forced.Ran)
	require.Len(t, forced.Batches, 1, "late arrivals are picked up by the next run")
	assert.True(t, forced.Batches[0].TotalAmount.Equal(dec("60")))
}

func TestConcurrentForcedRunsProduceOneBatch(t *testing.T) {
	engine, db, _ := setupEngine(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		completeJob(t, db, 42, "20")
	}

	const runs = 6
	var wg sync.WaitGroup
	wg.Add(runs)
	for i := 0; i < runs; i++ {
		go func() {
			defer wg.Done()
			_, err := engine.RunAutomated(ctx, RunOptions{Force: true})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	batches, err := db.ListBatches(ctx, "")
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.True(t, batches[0].TotalAmount.Equal(dec("100")))
	assert.Equal(t, 5, batches[0].PayoutCount)
}

func TestPerformanceBonus(t *testing.T) {
	engine, db, _ := setupEngine(t)
	ctx := context.Background()

	threshold := dec("4.5")
	rule := defaultRule()
	rule.PerformanceBonusThreshold = &threshold
	rule.PerformanceBonusPct = dec("10")
	require.NoError(t, db.SetActiveRule(ctx, rule, testNow))

	b := completeJob(t, db, 42, "80")
	require.NoError(t, db.RateBooking(ctx, b.ID, 700, 5, "spotless", testNow))
	low := completeJob(t, db, 43, "80")
	require.NoError(t, db.RateBooking(ctx, low.ID, 700, 3, "", testNow))

	summary, err := engine.RunAutomated(ctx, RunOptions{})
	require.NoError(t, err)
	require.Len(t, summary.Batches, 2)

	byProvider := map[int64]BatchSummary{}
	for _, s := range summary.Batches {
		byProvider[s.ProviderID] = s
	}

	rated := byProvider[42]
	assert.True(t, rated.Bonus.Equal(dec("8")))
	assert.True(t, rated.TotalAmount.Equal(dec("88")))
	assert.Equal(t, 2, rated.PayoutCount)
	assert.Equal(t, models.BatchApproved, rated.Status)

	assert.True(t, byProvider[43].Bonus.IsZero())
	assert.True(t, byProvider[43].TotalAmount.Equal(dec("80")))
}

func TestRejectedBatchRollsForward(t *testing.T) {
	engine, db, _ := setupEngine(t)
	ctx := context.Background()
	completeJob(t, db, 42, "120")

	summary, err := engine.RunAutomated(ctx, RunOptions{})
	require.NoError(t, err)
	require.Len(t, summary.Batches, 1)
	id := summary.Batches[0].BatchID

	rejected, err := engine.RejectBatch(ctx, id, "finance", "wrong bank details")
	require.NoError(t, err)
	assert.Equal(t, models.BatchRejected, rejected.Status)
	assert.True(t, rejected.TotalAmount.IsZero())

	_, err = engine.ApproveBatch(ctx, id, "finance")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	next, err := engine.RunAutomated(ctx, RunOptions{Force: true})
	require.NoError(t, err)
	require.Len(t, next.Batches, 1)
	assert.True(t, next.Batches[0].TotalAmount.Equal(dec("120")))
}

func TestPayProviders(t *testing.T) {
	engine, db, _ := setupEngine(t)
	ctx := context.Background()

	completeJob(t, db, 42, "30")
	completeJob(t, db, 43, "45")

	_, err := engine.PayProviders(ctx, ManualPayoutRequest{ProviderIDs: []int64{42}})
	assert.ErrorIs(t, err, domain.ErrValidation, "confirmation required")

	result, err := engine.PayProviders(ctx, ManualPayoutRequest{
		ProviderIDs: []int64{42, 43, 42, 99}, ConfirmedBy: "ops-lead", PaymentMethod: "bank_transfer",
	})
	require.NoError(t, err)
	assert.True(t, result.Total.Equal(dec("75")), "thresholds do not apply to manual payouts")
	require.Len(t, result.PerProvider, 2)

	for _, s := range result.PerProvider {
		assert.Equal(t, models.BatchCompleted, s.Status)
		payouts, err := db.ListBatchPayouts(ctx, s.BatchID)
		require.NoError(t, err)
		for _, p := range payouts {
			assert.Equal(t, models.PayoutCompleted, p.Status)
			assert.Equal(t, "bank_transfer", p.PaymentMethod)
		}
	}

	again, err := engine.PayProviders(ctx, ManualPayoutRequest{ProviderIDs: []int64{42}, ConfirmedBy: "ops-lead"})
	require.NoError(t, err)
	assert.True(t, again.Total.IsZero())
	assert.Empty(t, again.PerProvider)
}

func TestPayProvidersTakesOverAwaitingBatch(t *testing.T) {
	engine, db, _ := setupEngine(t)
	ctx := context.Background()

	first := completeJob(t, db, 42, "70")
	second := completeJob(t, db, 42, "60")

	summary, err := engine.RunAutomated(ctx, RunOptions{})
	require.NoError(t, err)
	require.Len(t, summary.Batches, 1)
	require.Equal(t, models.BatchPending, summary.Batches[0].Status)
	awaiting := summary.Batches[0].BatchID

	result, err := engine.PayProviders(ctx, ManualPayoutRequest{ProviderIDs: []int64{42}, ConfirmedBy: "ops"})
	require.NoError(t, err)
	assert.True(t, result.Total.Equal(dec("130")))
	require.Len(t, result.PerProvider, 1)
	assert.Equal(t, models.BatchCompleted, result.PerProvider[0].Status)
	assert.Equal(t, 2, result.PerProvider[0].PayoutCount)

	for _, b := range []*models.Booking{first, second} {
		p, err := db.GetPayoutByBooking(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, models.PayoutCompleted, p.Status)
		require.NotNil(t, p.BatchID)
		assert.Equal(t, result.PerProvider[0].BatchID, *p.BatchID)
	}

	old, err := db.GetBatch(ctx, awaiting)
	require.NoError(t, err)
	assert.Equal(t, models.BatchRejected, old.Status)
	assert.True(t, old.TotalAmount.IsZero())
	assert.Equal(t, 0, old.PayoutCount)

	_, err = engine.ApproveBatch(ctx, awaiting, "finance")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestPayProvidersLeavesApprovedBatch(t *testing.T) {
	engine, db, _ := setupEngine(t)
	ctx := context.Background()

	completeJob(t, db, 42, "80")
	summary, err := engine.RunAutomated(ctx, RunOptions{})
	require.NoError(t, err)
	require.Len(t, summary.Batches, 1)
	require.Equal(t, models.BatchApproved, summary.Batches[0].Status)

	result, err := engine.PayProviders(ctx, ManualPayoutRequest{ProviderIDs: []int64{42}, ConfirmedBy: "ops"})
	require.NoError(t, err)
	assert.True(t, result.Total.IsZero(), "payouts already in flight are not paid twice")

	approved, err := db.GetBatch(ctx, summary.Batches[0].BatchID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchApproved, approved.Status)
	assert.True(t, approved.TotalAmount.Equal(dec("80")))
}

func TestMarkBookingPaid(t *testing.T) {
	engine, db, _ := setupEngine(t)
	ctx := context.Background()
	b := completeJob(t, db, 42, "100")

	_, err := engine.MarkBookingPaid(ctx, ManualOverrideRequest{BookingID: b.ID, Amount: dec("90")})
	assert.ErrorIs(t, err, domain.ErrValidation)

	p, err := engine.MarkBookingPaid(ctx, ManualOverrideRequest{
		BookingID: b.ID, Amount: dec("90"), PaymentMethod: "cash", Note: "paid on site", Actor: "ops-lead",
	})
	require.NoError(t, err)
	assert.True(t, p.ManualOverride)
	assert.Equal(t, models.PayoutCompleted, p.Status)
	assert.True(t, p.Amount.Equal(dec("90")))

	_, err = engine.MarkBookingPaid(ctx, ManualOverrideRequest{BookingID: b.ID, Amount: dec("90"), Actor: "ops-lead"})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	got, err := db.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, got.ProviderPayout.Equal(dec("90")))
}

func TestSchedulerTick(t *testing.T) {
	engine, db, _ := setupEngine(t)
	ctx := context.Background()
	completeJob(t, db, 42, "60")

	logger := zerolog.Nop()
	s := NewScheduler(engine, db, "", time.UTC, &logger)
	s.Tick(ctx)

	batches, err := db.ListBatches(ctx, "")
	require.NoError(t, err)
	require.Len(t, batches, 1)

	rule, err := db.GetActiveRule(ctx)
	require.NoError(t, err)
	require.NotNil(t, rule.LastRunAt)
	assert.False(t, rule.IsDue(testNow))

	completeJob(t, db, 42, "60")
	s.Tick(ctx)
	batches, err = db.ListBatches(ctx, "")
	require.NoError(t, err)
	assert.Len(t, batches, 1, "not due again until the next period")
}

func TestSchedulerRejectsBadSchedule(t *testing.T) {
	engine, db, _ := setupEngine(t)
	logger := zerolog.Nop()
	s := NewScheduler(engine, db, "every now and then", time.UTC, &logger)
	assert.Error(t, s.Start(context.Background()))
}
