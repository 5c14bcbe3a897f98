package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"servicehub/internal/domain"
	"servicehub/internal/models"

	"github.com/jmoiron/sqlx"
)

const usageLogColumns = `id, package_id, service_id, client_id, booking_id, cycle, consumed_at, restored_at, restored_by`

// ConsumeCredit draws one credit in its own transaction.
func (db *DB) ConsumeCredit(ctx context.Context, draw *domain.CreditDraw, bookingID *int64) (*domain.CreditResult, error) {
	var result *domain.CreditResult
	err := db.inTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		result, err = consumeCredit(ctx, tx, draw, bookingID, time.Now())
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// consumeCredit is the compare-and-swap at the heart of the ledger: the
// counter only moves while consumed < granted, so concurrent callers can
// never overdraw a cycle.
func consumeCredit(ctx context.Context, tx *sqlx.Tx, draw *domain.CreditDraw, bookingID *int64, now time.Time) (*domain.CreditResult, error) {
	now = utc(now)

	_, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO entitlements (package_id, service_id, cycle, granted, consumed, updated_at)
		VALUES (?, ?, ?, ?, 0, ?)
		ON CONFLICT (package_id, service_id, cycle) DO NOTHING`),
		draw.PackageID, draw.ServiceID, draw.Cycle, draw.Granted, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open entitlement: %w", err)
	}

	err = execCAS(ctx, tx, `UPDATE entitlements SET consumed = consumed + 1, updated_at = ?
		WHERE package_id = ? AND service_id = ? AND cycle = ? AND consumed < granted`,
		now, draw.PackageID, draw.ServiceID, draw.Cycle,
	)
	if errors.Is(err, domain.ErrConcurrentModification) {
		return nil, fmt.Errorf("package %d service %d cycle %s: %w", draw.PackageID, draw.ServiceID, draw.Cycle, domain.ErrNoEntitlement)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume entitlement: %w", err)
	}

	log := &models.UsageLog{
		PackageID:  draw.PackageID,
		ServiceID:  draw.ServiceID,
		ClientID:   draw.ClientID,
		BookingID:  bookingID,
		Cycle:      draw.Cycle,
		ConsumedAt: now,
	}
	log.ID, err = insertID(ctx, tx, `INSERT INTO usage_logs (package_id, service_id, client_id, booking_id, cycle, consumed_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		log.PackageID, log.ServiceID, log.ClientID, log.BookingID, log.Cycle, log.ConsumedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert usage log: %w", err)
	}

	var ent models.Entitlement
	if err := getOne(ctx, tx, &ent, `SELECT package_id, service_id, cycle, granted, consumed, updated_at
		FROM entitlements WHERE package_id = ? AND service_id = ? AND cycle = ?`,
		draw.PackageID, draw.ServiceID, draw.Cycle); err != nil {
		return nil, fmt.Errorf("failed to read entitlement: %w", err)
	}

	return &domain.CreditResult{UsageLog: log, Remaining: ent.Remaining()}, nil
}

func (db *DB) GetEntitlement(ctx context.Context, packageID, serviceID int64, cycle string) (*models.Entitlement, error) {
	var ent models.Entitlement
	err := getOne(ctx, db, &ent, `SELECT package_id, service_id, cycle, granted, consumed, updated_at
		FROM entitlements WHERE package_id = ? AND service_id = ? AND cycle = ?`,
		packageID, serviceID, cycle)
	if err != nil {
		return nil, fmt.Errorf("failed to get entitlement: %w", err)
	}
	return &ent, nil
}

// CountUsage counts live (not restored) usage log rows for a cycle.
func (db *DB) CountUsage(ctx context.Context, packageID, serviceID int64, cycle string) (int, error) {
	var count int
	err := getOne(ctx, db, &count, `SELECT COUNT(*) FROM usage_logs
		WHERE package_id = ? AND service_id = ? AND cycle = ? AND restored_at IS NULL`,
		packageID, serviceID, cycle)
	if err != nil {
		return 0, fmt.Errorf("failed to count usage: %w", err)
	}
	return count, nil
}

func (db *DB) GetUsageByBooking(ctx context.Context, bookingID int64) (*models.UsageLog, error) {
	var log models.UsageLog
	err := getOne(ctx, db, &log, `SELECT `+usageLogColumns+` FROM usage_logs WHERE booking_id = ? ORDER BY id LIMIT 1`, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to get usage for booking %d: %w", bookingID, err)
	}
	return &log, nil
}

// RestoreCredit returns the credit drawn by a cancelled booking. The usage
// log is stamped first so a second restore for the same booking matches no
// row and fails.
func (db *DB) RestoreCredit(ctx context.Context, bookingID int64, actor string, now time.Time) (*models.UsageLog, error) {
	now = utc(now)
	var restored models.UsageLog

	err := db.inTx(ctx, func(tx *sqlx.Tx) error {
		var status, funding string
		row := tx.QueryRowxContext(ctx, tx.Rebind(`SELECT status, funding_source FROM bookings WHERE id = ?`), bookingID)
		if err := row.Scan(&status, &funding); err != nil {
			return fmt.Errorf("failed to get booking %d: %w", bookingID, notFound(err))
		}
		if funding != models.FundingPackageCredit {
			return domain.Invalid("booking_id", "booking was not paid with a package credit")
		}
		if status != models.StatusCancelled {
			return &domain.TransitionError{Entity: "credit", ID: bookingID, From: status, To: "restored"}
		}

		err := execCAS(ctx, tx, `UPDATE usage_logs SET restored_at = ?, restored_by = ?
			WHERE booking_id = ? AND restored_at IS NULL`, now, actor, bookingID)
		if errors.Is(err, domain.ErrConcurrentModification) {
			return &domain.TransitionError{Entity: "credit", ID: bookingID, From: "restored", To: "restored"}
		}
		if err != nil {
			return fmt.Errorf("failed to stamp usage log: %w", err)
		}

		if err := getOne(ctx, tx, &restored, `SELECT `+usageLogColumns+` FROM usage_logs WHERE booking_id = ?`, bookingID); err != nil {
			return fmt.Errorf("failed to read usage log: %w", err)
		}

		err = execCAS(ctx, tx, `UPDATE entitlements SET consumed = consumed - 1, updated_at = ?
			WHERE package_id = ? AND service_id = ? AND cycle = ? AND consumed > 0`,
			now, restored.PackageID, restored.ServiceID, restored.Cycle)
		if err != nil {
			return fmt.Errorf("failed to restore entitlement: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &restored, nil
}
