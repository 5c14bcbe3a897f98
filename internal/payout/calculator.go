// Package payout computes what a provider earns for a completed booking.
// It is pure: no storage, no clock.
package payout

import (
	"time"

	"servicehub/internal/models"

	"github.com/shopspring/decimal"
)

const (
	BonusFixed   = "fixed"
	BonusPercent = "percent"
)

var hundred = decimal.NewFromInt(100)

// Policy is the platform-wide bonus configuration.
type Policy struct {
	WeekendBonus    decimal.Decimal
	BonusMode       string
	NonStandardDays []time.Weekday
	Location        *time.Location
}

// Quote is the breakdown of a provider payout.
type Quote struct {
	Base   decimal.Decimal `json:"base"`
	Bonus  decimal.Decimal `json:"bonus"`
	Amount decimal.Decimal `json:"amount"`
}

type Calculator struct {
	policy Policy
}

func NewCalculator(policy Policy) *Calculator {
	if policy.Location == nil {
		policy.Location = time.UTC
	}
	if policy.NonStandardDays == nil {
		policy.NonStandardDays = []time.Weekday{time.Saturday, time.Sunday}
	}
	if policy.BonusMode == "" {
		policy.BonusMode = BonusFixed
	}
	return &Calculator{policy: policy}
}

// IsNonStandardDay reports whether t falls on a configured weekend day in
// the policy location.
func (c *Calculator) IsNonStandardDay(t time.Time) bool {
	day := t.In(c.policy.Location).Weekday()
	for _, d := range c.policy.NonStandardDays {
		if d == day {
			return true
		}
	}
	return false
}

// BonusFor returns the weekend/emergency bonus a booking of svc earns,
// before knowing whether the booking qualifies. A per-service bonus
// overrides the policy amount.
func (c *Calculator) BonusFor(fee decimal.Decimal, svc *models.Service) decimal.Decimal {
	amount := c.policy.WeekendBonus
	if svc != nil && svc.WeekendBonus != nil {
		amount = *svc.WeekendBonus
	}
	if c.policy.BonusMode == BonusPercent {
		return fee.Mul(amount).Div(hundred).Round(2)
	}
	return amount.Round(2)
}

// Calculate prices a booking from the fee snapshot taken when it was
// created: Amount = ProviderFee + bonus when the booking is on a
// non-standard day or an emergency.
func (c *Calculator) Calculate(b *models.Booking) Quote {
	base := b.ProviderFee.Round(2)
	bonus := decimal.Zero
	if b.IsWeekend || b.IsEmergency {
		bonus = b.WeekendBonus.Round(2)
	}
	return Quote{Base: base, Bonus: bonus, Amount: base.Add(bonus)}
}

// Snapshot copies the pricing inputs of svc onto a new booking so later
// catalog edits never change what the booking pays.
func (c *Calculator) Snapshot(b *models.Booking, svc *models.Service) {
	b.ServicePrice = svc.Price
	b.ProviderFee = svc.ProviderFee
	b.CommissionPct = svc.CommissionPct
	b.IsWeekend = c.IsNonStandardDay(b.ScheduledAt)
	b.WeekendBonus = decimal.Zero
	if b.IsWeekend || b.IsEmergency {
		b.WeekendBonus = c.BonusFor(svc.ProviderFee, svc)
	}
}

// PerformanceBonus is pct percent of the batch subtotal.
func PerformanceBonus(subtotal, pct decimal.Decimal) decimal.Decimal {
	if !pct.IsPositive() || !subtotal.IsPositive() {
		return decimal.Zero
	}
	return subtotal.Mul(pct).Div(hundred).Round(2)
}
