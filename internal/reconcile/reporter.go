// Package reconcile audits a closed period: revenue collected against
// payouts created, and the observed platform margin against the margin
// implied by each service's commission percentage.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"servicehub/internal/domain"
	"servicehub/internal/events"
	"servicehub/internal/metrics"
	"servicehub/internal/models"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// DefaultTolerance absorbs rounding noise.
var DefaultTolerance = decimal.RequireFromString("0.01")

// Report is a reconciliation result. Discrepancies are reported, never
// corrected.
type Report struct {
	models.ReconciliationReport
}

// Err returns ErrDiscrepancyDetected when the report flagged a mismatch.
func (r *Report) Err() error {
	if r == nil || !r.DiscrepancyDetected {
		return nil
	}
	return fmt.Errorf("%w: observed commission %s, expected %s, %d unpaid bookings",
		domain.ErrDiscrepancyDetected, r.ObservedCommission.StringFixed(2), r.ExpectedCommission.StringFixed(2),
		len(r.UnpaidBookings))
}

type Reporter struct {
	store     domain.ReportStore
	eventBus  domain.EventPublisher
	tolerance decimal.Decimal
	now       func() time.Time
	logger    *zerolog.Logger
}

func NewReporter(store domain.ReportStore, eventBus domain.EventPublisher, tolerance decimal.Decimal, logger *zerolog.Logger) *Reporter {
	if !tolerance.IsPositive() {
		tolerance = DefaultTolerance
	}
	return &Reporter{store: store, eventBus: eventBus, tolerance: tolerance, now: time.Now, logger: logger}
}

// WithClock overrides the wall clock, for tests.
func (r *Reporter) WithClock(now func() time.Time) *Reporter {
	r.now = now
	return r
}

// Report reconciles the half-open range [from, to). The range must be
// closed: to may not lie in the future.
func (r *Reporter) Report(ctx context.Context, from, to time.Time) (*Report, error) {
	now := r.now()
	switch {
	case from.IsZero() || to.IsZero():
		return nil, domain.Invalid("range", "from and to are required")
	case !from.Before(to):
		return nil, domain.Invalid("range", "from must be before to")
	case to.After(now):
		return nil, domain.Invalid("to", "the period is not closed yet")
	}

	settled, err := r.store.ListSettledBookings(ctx, from, to)
	if err != nil {
		return nil, err
	}
	payouts, err := r.store.ListPayoutsCreated(ctx, from, to)
	if err != nil {
		return nil, err
	}

	rep := &Report{models.ReconciliationReport{
		From:               from,
		To:                 to,
		GeneratedAt:        now,
		TotalRevenue:       decimal.Zero,
		TotalPayouts:       decimal.Zero,
		PackagePayouts:     decimal.Zero,
		BonusPayouts:       decimal.Zero,
		ExpectedCommission: decimal.Zero,
		ObservedCommission: decimal.Zero,
		Tolerance:          r.tolerance,
		Discrepancies:      []models.BookingDiscrepancy{},
		UnpaidBookings:     []int64{},
	}}

	creditFunded := make(map[int64]bool)
	for _, s := range settled {
		b := s.Booking
		rep.CompletedBookings++
		if b.CreditFunded() {
			creditFunded[b.ID] = true
		}

		if s.Payout == nil {
			if b.PayoutEligible {
				rep.UnpaidBookings = append(rep.UnpaidBookings, b.ID)
			}
			if !b.CreditFunded() {
				rep.TotalRevenue = rep.TotalRevenue.Add(b.TotalAmount)
			}
			continue
		}
		if b.CreditFunded() {
			continue
		}

		rep.TotalRevenue = rep.TotalRevenue.Add(b.TotalAmount)
		d := compare(&b, s.Payout)
		rep.ExpectedCommission = rep.ExpectedCommission.Add(d.ExpectedCommission)
		rep.ObservedCommission = rep.ObservedCommission.Add(d.ObservedCommission)
		if d.Difference.Abs().GreaterThan(r.tolerance) {
			rep.Discrepancies = append(rep.Discrepancies, d)
		}
	}

	for _, p := range payouts {
		rep.TotalPayouts = rep.TotalPayouts.Add(p.Amount)
		switch {
		case p.Kind == models.PayoutKindPerformanceBonus:
			rep.BonusPayouts = rep.BonusPayouts.Add(p.Amount)
		case p.BookingID != nil && creditFunded[*p.BookingID]:
			rep.PackagePayouts = rep.PackagePayouts.Add(p.Amount)
		}
	}

	rep.PlatformCommission = rep.TotalRevenue.Sub(rep.TotalPayouts)
	rep.Discrepancy = rep.ObservedCommission.Sub(rep.ExpectedCommission).Abs()
	// a completed, payout-eligible booking without a payout row is a broken ledger too
	rep.DiscrepancyDetected = rep.Discrepancy.GreaterThan(r.tolerance) || len(rep.Discrepancies) > 0 ||
		len(rep.UnpaidBookings) > 0

	ev := r.logger.Info()
	if rep.DiscrepancyDetected {
		ev = r.logger.Warn()
	}
	ev.Time("from", from).Time("to", to).Int("bookings", rep.CompletedBookings).Int("unpaid", len(rep.UnpaidBookings)).
		Str("revenue", rep.TotalRevenue.String()).Str("payouts", rep.TotalPayouts.String()).
		Str("discrepancy", rep.Discrepancy.String()).Int("flagged", len(rep.Discrepancies)).
		Msg("Reconciliation report")

	if rep.DiscrepancyDetected {
		metrics.IncDiscrepancy()
		r.publish(rep)
	}
	return rep, nil
}

// compare derives the expected and observed margin of one pay-per-job
// booking. The weekend/emergency bonus is a known deduction from margin.
func compare(b *models.Booking, p *models.Payout) models.BookingDiscrepancy {
	expected := b.TotalAmount.Mul(b.CommissionPct).Div(decimal.NewFromInt(100)).Round(2)
	if b.IsWeekend || b.IsEmergency {
		expected = expected.Sub(b.WeekendBonus)
	}
	observed := b.TotalAmount.Sub(p.Amount)

	var providerID int64
	if b.ProviderID != nil {
		providerID = *b.ProviderID
	}
	return models.BookingDiscrepancy{
		BookingID:          b.ID,
		ServiceID:          b.ServiceID,
		ProviderID:         providerID,
		TotalAmount:        b.TotalAmount,
		PayoutAmount:       p.Amount,
		ExpectedCommission: expected,
		ObservedCommission: observed,
		Difference:         observed.Sub(expected),
		ManualOverride:     p.ManualOverride,
	}
}

func (r *Reporter) publish(rep *Report) {
	if r.eventBus == nil {
		return
	}
	ids := make([]int64, 0, len(rep.Discrepancies))
	for _, d := range rep.Discrepancies {
		ids = append(ids, d.BookingID)
	}
	payload := events.DiscrepancyEventPayload{
		From:               rep.From,
		To:                 rep.To,
		ExpectedCommission: rep.ExpectedCommission,
		ObservedCommission: rep.ObservedCommission,
		Discrepancy:        rep.Discrepancy,
		BookingIDs:         ids,
		UnpaidBookingIDs:   rep.UnpaidBookings,
	}
	if err := r.eventBus.PublishJSON(events.EventDiscrepancy, payload); err != nil {
		r.logger.Error().Err(err).Msg("publish event error")
	}
}
