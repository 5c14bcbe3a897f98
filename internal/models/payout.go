package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payout is money owed to a provider for one completed booking, a manual
// override or a performance bonus.
type Payout struct {
	ID             int64           `json:"id" db:"id"`
	ProviderID     int64           `json:"provider_id" db:"provider_id"`
	BookingID      *int64          `json:"booking_id,omitempty" db:"booking_id"`
	BatchID        *int64          `json:"batch_id,omitempty" db:"batch_id"`
	Kind           string          `json:"kind" db:"kind"`
	Amount         decimal.Decimal `json:"amount" db:"amount"`
	BaseAmount     decimal.Decimal `json:"base_amount" db:"base_amount"`
	WeekendBonus   decimal.Decimal `json:"weekend_bonus" db:"weekend_bonus"`
	Status         string          `json:"status" db:"status"`
	PaymentMethod  string          `json:"payment_method,omitempty" db:"payment_method"`
	ManualOverride bool            `json:"manual_override" db:"manual_override"`
	Note           string          `json:"note,omitempty" db:"note"`
	CreatedBy      string          `json:"created_by" db:"created_by"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	ProcessedAt    *time.Time      `json:"processed_at,omitempty" db:"processed_at"`
	PaidAt         *time.Time      `json:"paid_at,omitempty" db:"paid_at"`
}

// PayoutBatch groups payouts that are approved and paid together.
type PayoutBatch struct {
	ID          int64           `json:"id" db:"id"`
	Reference   string          `json:"reference" db:"reference"`
	BatchType   string          `json:"batch_type" db:"batch_type"`
	RuleID      *int64          `json:"rule_id,omitempty" db:"rule_id"`
	ProviderID  int64           `json:"provider_id" db:"provider_id"`
	TotalAmount decimal.Decimal `json:"total_amount" db:"total_amount"`
	PayoutCount int             `json:"payout_count" db:"payout_count"`
	Status      string          `json:"status" db:"status"`
	ApprovedBy  string          `json:"approved_by,omitempty" db:"approved_by"`
	ApprovedAt  *time.Time      `json:"approved_at,omitempty" db:"approved_at"`
	PaymentRef  string          `json:"payment_ref,omitempty" db:"payment_ref"`
	Note        string          `json:"note,omitempty" db:"note"`
	CompletedAt *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// IsApprovedOrLater reports whether approving the batch again would be a no-op.
func (b *PayoutBatch) IsApprovedOrLater() bool {
	switch b.Status {
	case BatchApproved, BatchProcessing, BatchCompleted:
		return true
	}
	return false
}

// ProviderBalance is the pending, unbatched money owed to one provider.
type ProviderBalance struct {
	ProviderID int64           `json:"provider_id" db:"provider_id"`
	Total      decimal.Decimal `json:"total"`
	Count      int             `json:"count"`
}
