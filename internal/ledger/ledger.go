// Package ledger tracks prepaid package credits. Consumption is a
// compare-and-swap on the per-cycle entitlement counter performed by the
// store, so concurrent draws can never exceed the grant.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"servicehub/internal/domain"
	"servicehub/internal/metrics"
	"servicehub/internal/models"

	"github.com/rs/zerolog"
)

// CycleKey names the billing cycle containing t: "2006-01" for monthly
// packages, ISO week "2006-W02" for weekly ones.
func CycleKey(billingCycle string, t time.Time) string {
	if billingCycle == models.CycleWeekly {
		year, week := t.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", year, week)
	}
	return t.Format("2006-01")
}

type Ledger struct {
	store    domain.LedgerStore
	location *time.Location
	now      func() time.Time
	logger   *zerolog.Logger
}

func New(store domain.LedgerStore, location *time.Location, logger *zerolog.Logger) *Ledger {
	if location == nil {
		location = time.UTC
	}
	return &Ledger{store: store, location: location, now: time.Now, logger: logger}
}

// WithClock overrides the wall clock, for tests.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

type ConsumeRequest struct {
	ClientID  int64     `json:"client_id"`
	ServiceID int64     `json:"service_id"`
	PackageID int64     `json:"package_id"`
	BookingID *int64    `json:"booking_id,omitempty"`
	At        time.Time `json:"at"` // selects the cycle; defaults to now
}

type Consumption struct {
	UsageLogID int64  `json:"usage_log_id"`
	Cycle      string `json:"cycle"`
	Remaining  int    `json:"remaining"`
}

// PrepareDraw checks that the package belongs to the client, is active at
// the given time and covers the service, and returns the draw to perform.
func (l *Ledger) PrepareDraw(ctx context.Context, clientID, serviceID, packageID int64, at time.Time) (*domain.CreditDraw, error) {
	pkg, err := l.store.GetPackage(ctx, packageID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.Invalid("package_id", "does not exist")
	}
	if err != nil {
		return nil, err
	}
	if pkg.ClientID != clientID {
		return nil, domain.Invalid("package_id", "does not belong to this client")
	}
	return l.drawFrom(pkg, clientID, serviceID, at)
}

func (l *Ledger) drawFrom(pkg *models.Package, clientID, serviceID int64, at time.Time) (*domain.CreditDraw, error) {
	if !pkg.ActiveAt(at) {
		return nil, fmt.Errorf("package %d is %s: %w", pkg.ID, pkg.Status, domain.ErrNoEntitlement)
	}
	granted := pkg.Quantity(serviceID)
	if granted <= 0 {
		return nil, fmt.Errorf("package %d does not cover service %d: %w", pkg.ID, serviceID, domain.ErrNoEntitlement)
	}
	return &domain.CreditDraw{
		PackageID: pkg.ID,
		ServiceID: serviceID,
		ClientID:  clientID,
		Cycle:     CycleKey(pkg.BillingCycle, at.In(l.location)),
		Granted:   granted,
	}, nil
}

// FindDraw looks for an active package of the client with credits left for
// the service. It returns nil when the booking has to be paid per job.
func (l *Ledger) FindDraw(ctx context.Context, clientID, serviceID int64, at time.Time) (*domain.CreditDraw, error) {
	packages, err := l.store.ListClientPackages(ctx, clientID)
	if err != nil {
		return nil, err
	}
	for _, pkg := range packages {
		draw, err := l.drawFrom(pkg, clientID, serviceID, at)
		if err != nil {
			continue
		}
		remaining, err := l.remaining(ctx, draw)
		if err != nil {
			return nil, err
		}
		if remaining > 0 {
			return draw, nil
		}
	}
	return nil, nil
}

// TryConsume draws one credit outside of booking creation.
func (l *Ledger) TryConsume(ctx context.Context, req ConsumeRequest) (*Consumption, error) {
	at := req.At
	if at.IsZero() {
		at = l.now()
	}
	draw, err := l.PrepareDraw(ctx, req.ClientID, req.ServiceID, req.PackageID, at)
	if err != nil {
		metrics.IncConsumption("rejected")
		return nil, err
	}

	result, err := l.store.ConsumeCredit(ctx, draw, req.BookingID)
	if err != nil {
		if errors.Is(err, domain.ErrNoEntitlement) {
			metrics.IncConsumption("exhausted")
			l.logger.Info().Int64("package_id", draw.PackageID).Int64("service_id", draw.ServiceID).
				Str("cycle", draw.Cycle).Msg("No credits left")
		}
		return nil, err
	}

	metrics.IncConsumption("ok")
	return &Consumption{UsageLogID: result.UsageLog.ID, Cycle: draw.Cycle, Remaining: result.Remaining}, nil
}

// Remaining reports the credits left for a package, service and cycle.
func (l *Ledger) Remaining(ctx context.Context, packageID, serviceID int64, cycle string) (int, error) {
	pkg, err := l.store.GetPackage(ctx, packageID)
	if err != nil {
		return 0, err
	}
	return l.remaining(ctx, &domain.CreditDraw{
		PackageID: packageID, ServiceID: serviceID, Cycle: cycle, Granted: pkg.Quantity(serviceID),
	})
}

func (l *Ledger) remaining(ctx context.Context, draw *domain.CreditDraw) (int, error) {
	ent, err := l.store.GetEntitlement(ctx, draw.PackageID, draw.ServiceID, draw.Cycle)
	if errors.Is(err, domain.ErrNotFound) {
		return draw.Granted, nil
	}
	if err != nil {
		return 0, err
	}
	return ent.Remaining(), nil
}

// RestoreCredit is the explicit compensating operation for a cancelled
// credit-funded booking. It is never invoked automatically.
func (l *Ledger) RestoreCredit(ctx context.Context, bookingID int64, actor string) (*models.UsageLog, error) {
	if actor == "" {
		return nil, domain.Invalid("actor", "is required")
	}
	log, err := l.store.RestoreCredit(ctx, bookingID, actor, l.now())
	if err != nil {
		return nil, err
	}
	l.logger.Info().Int64("booking_id", bookingID).Int64("package_id", log.PackageID).
		Str("cycle", log.Cycle).Str("actor", actor).Msg("Credit restored")
	return log, nil
}
