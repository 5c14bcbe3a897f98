package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Booking struct {
	ID                 int64           `json:"id" db:"id"`
	ClientID           int64           `json:"client_id" db:"client_id"`
	ProviderID         *int64          `json:"provider_id,omitempty" db:"provider_id"`
	ServiceID          int64           `json:"service_id" db:"service_id"`
	PackageID          *int64          `json:"package_id,omitempty" db:"package_id"`
	FundingSource      string          `json:"funding_source" db:"funding_source"` // pay_per_job, package_credit
	ScheduledAt        time.Time       `json:"scheduled_at" db:"scheduled_at"`
	DurationMinutes    int             `json:"duration_minutes" db:"duration_minutes"`
	Status             string          `json:"status" db:"status"` // pending, accepted, in_progress, completed, cancelled
	TotalAmount        decimal.Decimal `json:"total_amount" db:"total_amount"`
	ServicePrice       decimal.Decimal `json:"service_price" db:"service_price"`
	ProviderFee        decimal.Decimal `json:"provider_fee" db:"provider_fee"`
	CommissionPct      decimal.Decimal `json:"commission_pct" db:"commission_pct"`
	WeekendBonus       decimal.Decimal `json:"weekend_bonus" db:"weekend_bonus"`
	ProviderPayout     decimal.Decimal `json:"provider_payout" db:"provider_payout"`
	IsEmergency        bool            `json:"is_emergency" db:"is_emergency"`
	IsWeekend          bool            `json:"is_weekend" db:"is_weekend"`
	AcceptanceDeadline time.Time       `json:"acceptance_deadline" db:"acceptance_deadline"`
	AcceptedAt         *time.Time      `json:"accepted_at,omitempty" db:"accepted_at"`
	StartedAt          *time.Time      `json:"started_at,omitempty" db:"started_at"`
	CompletedAt        *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
	CancelledAt        *time.Time      `json:"cancelled_at,omitempty" db:"cancelled_at"`
	CancelledBy        string          `json:"cancelled_by,omitempty" db:"cancelled_by"`
	CancelReason       string          `json:"cancel_reason,omitempty" db:"cancel_reason"`
	CompletionNotes    string          `json:"completion_notes,omitempty" db:"completion_notes"`
	PhotoRefs          StringList      `json:"photo_refs,omitempty" db:"photo_refs"`
	QualityScore       *int            `json:"quality_score,omitempty" db:"quality_score"`
	Rating             *int            `json:"rating,omitempty" db:"rating"`
	Review             string          `json:"review,omitempty" db:"review"`
	PayoutEligible     bool            `json:"payout_eligible" db:"payout_eligible"`
	Version            int64           `json:"version" db:"version"`
	CreatedAt          time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at" db:"updated_at"`
}

// IsTerminal reports whether the booking can no longer change state.
func (b *Booking) IsTerminal() bool {
	return IsTerminalStatus(b.Status)
}

// AssignedTo reports whether providerID is the booking's assigned provider.
func (b *Booking) AssignedTo(providerID int64) bool {
	return b.ProviderID != nil && *b.ProviderID == providerID
}

// CreditFunded reports whether the booking drew a package credit.
func (b *Booking) CreditFunded() bool {
	return b.FundingSource == FundingPackageCredit
}

// Completion is the visit documentation a provider submits when finishing a job.
type Completion struct {
	Notes        string   `json:"notes"`
	PhotoRefs    []string `json:"photo_refs"`
	QualityScore int      `json:"quality_score"`
}

// Actor identifies who requested a change (client, provider or admin).
type Actor struct {
	Role string `json:"role"`
	ID   int64  `json:"id"`
}

func (a Actor) String() string {
	if a.Role == "" {
		return "system"
	}
	return a.Role
}
