package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Service is a catalog entry. Price, fee and commission are edited
// independently by administrators.
type Service struct {
	ID              int64            `yaml:"id" json:"id" db:"id"`
	Name            string           `yaml:"name" json:"name" db:"name"`
	Price           decimal.Decimal  `yaml:"price" json:"price" db:"price"`
	ProviderFee     decimal.Decimal  `yaml:"provider_fee" json:"provider_fee" db:"provider_fee"`
	CommissionPct   decimal.Decimal  `yaml:"commission_pct" json:"commission_pct" db:"commission_pct"`
	DurationMinutes int              `yaml:"duration_minutes" json:"duration_minutes" db:"duration_minutes"`
	WeekendBonus    *decimal.Decimal `yaml:"weekend_bonus" json:"weekend_bonus,omitempty" db:"weekend_bonus"`
	IsActive        bool             `yaml:"is_active" json:"is_active" db:"is_active"`
	CreatedAt       time.Time        `yaml:"-" json:"created_at" db:"created_at"`
	UpdatedAt       time.Time        `yaml:"-" json:"updated_at" db:"updated_at"`
}

// ExpectedCommission is the platform margin implied by the commission percentage.
func (s *Service) ExpectedCommission(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(s.CommissionPct).Div(decimal.NewFromInt(100)).Round(2)
}

// Package is a client's prepaid subscription.
type Package struct {
	ID           int64         `yaml:"id" json:"id" db:"id"`
	ClientID     int64         `yaml:"client_id" json:"client_id" db:"client_id"`
	Name         string        `yaml:"name" json:"name" db:"name"`
	Status       string        `yaml:"status" json:"status" db:"status"`
	BillingCycle string        `yaml:"billing_cycle" json:"billing_cycle" db:"billing_cycle"`
	StartsAt     time.Time     `yaml:"starts_at" json:"starts_at" db:"starts_at"`
	EndsAt       *time.Time    `yaml:"ends_at" json:"ends_at,omitempty" db:"ends_at"`
	Items        []PackageItem `yaml:"items" json:"items" db:"-"`
	CreatedAt    time.Time     `yaml:"-" json:"created_at" db:"created_at"`
}

// PackageItem grants Quantity credits of a service per billing cycle.
type PackageItem struct {
	PackageID int64 `yaml:"-" json:"package_id" db:"package_id"`
	ServiceID int64 `yaml:"service_id" json:"service_id" db:"service_id"`
	Quantity  int   `yaml:"quantity" json:"quantity" db:"quantity"`
}

// ActiveAt reports whether the package can be drawn from at t.
func (p *Package) ActiveAt(t time.Time) bool {
	if p.Status != PackageActive {
		return false
	}
	if t.Before(p.StartsAt) {
		return false
	}
	return p.EndsAt == nil || t.Before(*p.EndsAt)
}

// Quantity returns the per-cycle grant for a service, zero when not covered.
func (p *Package) Quantity(serviceID int64) int {
	for _, it := range p.Items {
		if it.ServiceID == serviceID {
			return it.Quantity
		}
	}
	return 0
}

// Entitlement is the compare-and-swap row backing one package/service/cycle grant.
type Entitlement struct {
	PackageID int64     `json:"package_id" db:"package_id"`
	ServiceID int64     `json:"service_id" db:"service_id"`
	Cycle     string    `json:"cycle" db:"cycle"`
	Granted   int       `json:"granted" db:"granted"`
	Consumed  int       `json:"consumed" db:"consumed"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

func (e *Entitlement) Remaining() int {
	if e.Consumed >= e.Granted {
		return 0
	}
	return e.Granted - e.Consumed
}

// UsageLog records one credit consumption.
type UsageLog struct {
	ID         int64      `json:"id" db:"id"`
	PackageID  int64      `json:"package_id" db:"package_id"`
	ServiceID  int64      `json:"service_id" db:"service_id"`
	ClientID   int64      `json:"client_id" db:"client_id"`
	BookingID  *int64     `json:"booking_id,omitempty" db:"booking_id"`
	Cycle      string     `json:"cycle" db:"cycle"`
	ConsumedAt time.Time  `json:"consumed_at" db:"consumed_at"`
	RestoredAt *time.Time `json:"restored_at,omitempty" db:"restored_at"`
	RestoredBy string     `json:"restored_by,omitempty" db:"restored_by"`
}
