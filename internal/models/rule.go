package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PayoutRule is the active payout automation policy.
type PayoutRule struct {
	ID                        int64            `yaml:"id" json:"id" db:"id"`
	Name                      string           `yaml:"name" json:"name" db:"name"`
	MinimumPayoutAmount       decimal.Decimal  `yaml:"minimum_payout_amount" json:"minimum_payout_amount" db:"minimum_payout_amount"`
	Frequency                 string           `yaml:"frequency" json:"frequency" db:"frequency"`
	PayoutDay                 int              `yaml:"payout_day" json:"payout_day" db:"payout_day"`
	AutoApproveUnderAmount    decimal.Decimal  `yaml:"auto_approve_under_amount" json:"auto_approve_under_amount" db:"auto_approve_under_amount"`
	PerformanceBonusThreshold *decimal.Decimal `yaml:"performance_bonus_threshold" json:"performance_bonus_threshold,omitempty" db:"performance_bonus_threshold"`
	PerformanceBonusPct       decimal.Decimal  `yaml:"performance_bonus_pct" json:"performance_bonus_pct" db:"performance_bonus_pct"`
	RatingWindowDays          int              `yaml:"rating_window_days" json:"rating_window_days" db:"rating_window_days"`
	IsActive                  bool             `yaml:"is_active" json:"is_active" db:"is_active"`
	LastRunAt                 *time.Time       `yaml:"-" json:"last_run_at,omitempty" db:"last_run_at"`
	CreatedAt                 time.Time        `yaml:"-" json:"created_at" db:"created_at"`
}

// HasPerformanceBonus reports whether the rule pays a rating-based bonus.
func (r *PayoutRule) HasPerformanceBonus() bool {
	return r.PerformanceBonusThreshold != nil && r.PerformanceBonusPct.IsPositive()
}

// PeriodStart returns the start of the payout period containing now.
// Weekly and bi-weekly periods begin on PayoutDay (a weekday); bi-weekly
// periods are anchored to even ISO weeks. Monthly periods begin on
// PayoutDay of the month.
func (r *PayoutRule) PeriodStart(now time.Time) time.Time {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	switch r.Frequency {
	case FrequencyMonthly:
		payDay := r.PayoutDay
		if payDay < 1 {
			payDay = 1
		}
		if payDay > 28 {
			payDay = 28
		}
		start := time.Date(now.Year(), now.Month(), payDay, 0, 0, 0, 0, now.Location())
		if now.Before(start) {
			start = start.AddDate(0, -1, 0)
		}
		return start
	default:
		weekday := time.Weekday(((r.PayoutDay % 7) + 7) % 7)
		back := (int(day.Weekday()) - int(weekday) + 7) % 7
		start := day.AddDate(0, 0, -back)
		if r.Frequency == FrequencyBiWeekly {
			if _, week := start.ISOWeek(); week%2 == 1 {
				start = start.AddDate(0, 0, -7)
			}
		}
		return start
	}
}

// IsDue reports whether an automated run has not yet happened in the
// current period.
func (r *PayoutRule) IsDue(now time.Time) bool {
	if !r.IsActive {
		return false
	}
	start := r.PeriodStart(now)
	if now.Before(start) {
		return false
	}
	return r.LastRunAt == nil || r.LastRunAt.Before(start)
}
