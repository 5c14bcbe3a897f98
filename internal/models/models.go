package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// StringList is persisted as a JSON array.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	raw, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func (l *StringList) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("unsupported type for StringList: %T", src)
	}
	if len(raw) == 0 {
		*l = nil
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("decode string list: %w", err)
	}
	*l = out
	return nil
}

// ReconciliationReport audits revenue against payouts for a closed period.
type ReconciliationReport struct {
	From                time.Time            `json:"from"`
	To                  time.Time            `json:"to"`
	GeneratedAt         time.Time            `json:"generated_at"`
	CompletedBookings   int                  `json:"completed_bookings"`
	TotalRevenue        decimal.Decimal      `json:"total_revenue"`
	TotalPayouts        decimal.Decimal      `json:"total_payouts"`
	PackagePayouts      decimal.Decimal      `json:"package_payouts"`
	BonusPayouts        decimal.Decimal      `json:"bonus_payouts"`
	PlatformCommission  decimal.Decimal      `json:"platform_commission"`
	ExpectedCommission  decimal.Decimal      `json:"expected_commission"`
	ObservedCommission  decimal.Decimal      `json:"observed_commission"`
	Discrepancy         decimal.Decimal      `json:"discrepancy"`
	Tolerance           decimal.Decimal      `json:"tolerance"`
	DiscrepancyDetected bool                 `json:"discrepancy_detected"`
	Discrepancies       []BookingDiscrepancy `json:"discrepancies"`
	UnpaidBookings      []int64              `json:"unpaid_bookings"`
}

// BookingDiscrepancy is one booking whose observed margin diverges from
// its configured commission.
type BookingDiscrepancy struct {
	BookingID          int64           `json:"booking_id"`
	ServiceID          int64           `json:"service_id"`
	ProviderID         int64           `json:"provider_id"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
	PayoutAmount       decimal.Decimal `json:"payout_amount"`
	ExpectedCommission decimal.Decimal `json:"expected_commission"`
	ObservedCommission decimal.Decimal `json:"observed_commission"`
	Difference         decimal.Decimal `json:"difference"`
	ManualOverride     bool            `json:"manual_override"`
}

// SettledBooking joins a completed booking with its payout for reporting.
type SettledBooking struct {
	Booking Booking
	Payout  *Payout
}
