package domain

import (
	"context"
	"time"

	"servicehub/internal/models"

	"github.com/shopspring/decimal"
)

// CreditDraw asks storage to consume one package credit.
type CreditDraw struct {
	PackageID int64
	ServiceID int64
	ClientID  int64
	Cycle     string
	Granted   int
}

// CreditResult reports a successful consumption.
type CreditResult struct {
	UsageLog  *models.UsageLog
	Remaining int
}

type BookingStore interface {
	// CreateBooking inserts the booking; when draw is non-nil the credit is
	// consumed in the same transaction and nothing is persisted on failure.
	CreateBooking(ctx context.Context, booking *models.Booking, draw *CreditDraw) (*CreditResult, error)
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	AssignProvider(ctx context.Context, id, providerID int64, now time.Time) error
	StartBooking(ctx context.Context, id, providerID int64, now time.Time) error
	// CompleteBooking marks the booking completed and inserts payout (when
	// non-nil) atomically.
	CompleteBooking(ctx context.Context, id, providerID int64, completion models.Completion, payout *models.Payout, now time.Time) error
	CancelBooking(ctx context.Context, id int64, actor models.Actor, reason string, now time.Time) error
	RateBooking(ctx context.Context, id, clientID int64, rating int, review string, now time.Time) error
	ListAvailableBookings(ctx context.Context, now time.Time, limit int) ([]*models.Booking, error)
	GetPayoutByBooking(ctx context.Context, bookingID int64) (*models.Payout, error)
}

type LedgerStore interface {
	ConsumeCredit(ctx context.Context, draw *CreditDraw, bookingID *int64) (*CreditResult, error)
	GetEntitlement(ctx context.Context, packageID, serviceID int64, cycle string) (*models.Entitlement, error)
	CountUsage(ctx context.Context, packageID, serviceID int64, cycle string) (int, error)
	RestoreCredit(ctx context.Context, bookingID int64, actor string, now time.Time) (*models.UsageLog, error)
	GetPackage(ctx context.Context, id int64) (*models.Package, error)
	ListClientPackages(ctx context.Context, clientID int64) ([]*models.Package, error)
}

// ReferenceData is read-mostly catalog and policy data that may be cached.
type ReferenceData interface {
	GetService(ctx context.Context, id int64) (*models.Service, error)
	GetActiveRule(ctx context.Context) (*models.PayoutRule, error)
}

// BatchPlan is the policy decision applied to the payouts a batch attached.
type BatchPlan struct {
	Bonus         decimal.Decimal
	Status        string
	PaymentMethod string
}

// BatchPlanner decides, inside the batch transaction, what to do with the
// payouts actually attached. Returning false discards the batch.
type BatchPlanner func(attached decimal.Decimal, count int) (BatchPlan, bool)

type PayoutStore interface {
	ListProviderBalances(ctx context.Context, providerIDs []int64) ([]models.ProviderBalance, error)
	CreateBatch(ctx context.Context, batch *models.PayoutBatch, plan BatchPlanner, now time.Time) (*models.PayoutBatch, error)
	GetBatch(ctx context.Context, id int64) (*models.PayoutBatch, error)
	ListBatchPayouts(ctx context.Context, batchID int64) ([]*models.Payout, error)
	ApproveBatch(ctx context.Context, id int64, approver string, now time.Time) (*models.PayoutBatch, error)
	ProcessBatch(ctx context.Context, id int64, now time.Time) (*models.PayoutBatch, error)
	CompleteBatch(ctx context.Context, id int64, paymentRef string, now time.Time) (*models.PayoutBatch, error)
	RejectBatch(ctx context.Context, id int64, actor, reason string, now time.Time) (*models.PayoutBatch, error)
	OverridePayout(ctx context.Context, bookingID int64, payout *models.Payout, now time.Time) (*models.Payout, error)
	AverageRating(ctx context.Context, providerID int64, since time.Time) (decimal.Decimal, int, error)
	ClaimRuleRun(ctx context.Context, ruleID int64, periodStart, now time.Time) (bool, error)
	GetPayoutByBooking(ctx context.Context, bookingID int64) (*models.Payout, error)
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
}

type ReportStore interface {
	ListSettledBookings(ctx context.Context, from, to time.Time) ([]models.SettledBooking, error)
	ListPayoutsCreated(ctx context.Context, from, to time.Time) ([]*models.Payout, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// ReferenceCache stores snapshots of reference data. A miss is (nil, nil).
type ReferenceCache interface {
	GetService(ctx context.Context, id int64) (*models.Service, error)
	SetService(ctx context.Context, svc *models.Service) error
	GetRule(ctx context.Context) (*models.PayoutRule, error)
	SetRule(ctx context.Context, rule *models.PayoutRule) error
	Invalidate(ctx context.Context) error
}
