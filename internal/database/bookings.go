package database

import (
	"context"
	"fmt"
	"time"

	"servicehub/internal/domain"
	"servicehub/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

const bookingColumns = `id, client_id, provider_id, service_id, package_id, funding_source, scheduled_at,
	duration_minutes, status, total_amount, service_price, provider_fee, commission_pct, weekend_bonus,
	provider_payout, is_emergency, is_weekend, acceptance_deadline, accepted_at, started_at, completed_at,
	cancelled_at, cancelled_by, cancel_reason, completion_notes, photo_refs, quality_score, rating, review,
	payout_eligible, version, created_at, updated_at`

// CreateBooking inserts a booking. When draw is set the package credit is
// consumed in the same transaction, so a failed draw leaves no booking row.
func (db *DB) CreateBooking(ctx context.Context, booking *models.Booking, draw *domain.CreditDraw) (*domain.CreditResult, error) {
	now := utc(booking.CreatedAt)
	if booking.CreatedAt.IsZero() {
		now = utc(time.Now())
	}

	var credit *domain.CreditResult
	err := db.inTx(ctx, func(tx *sqlx.Tx) error {
		id, err := insertID(ctx, tx, `INSERT INTO bookings (
				client_id, provider_id, service_id, package_id, funding_source, scheduled_at,
				duration_minutes, status, total_amount, service_price, provider_fee, commission_pct,
				weekend_bonus, provider_payout, is_emergency, is_weekend, acceptance_deadline,
				photo_refs, payout_eligible, version, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			booking.ClientID, booking.ProviderID, booking.ServiceID, booking.PackageID, booking.FundingSource,
			utc(booking.ScheduledAt), booking.DurationMinutes, booking.Status, booking.TotalAmount,
			booking.ServicePrice, booking.ProviderFee, booking.CommissionPct, booking.WeekendBonus,
			decimal.Zero, booking.IsEmergency, booking.IsWeekend, utc(booking.AcceptanceDeadline),
			booking.PhotoRefs, booking.PayoutEligible, 1, now, now,
		)
		if err != nil {
			return fmt.Errorf("failed to insert booking: %w", err)
		}

		if draw != nil {
			credit, err = consumeCredit(ctx, tx, draw, &id, now)
			if err != nil {
				return err
			}
		}

		booking.ID = id
		return nil
	})
	if err != nil {
		return nil, err
	}

	booking.ProviderPayout = decimal.Zero
	booking.Version = 1
	booking.CreatedAt = now
	booking.UpdatedAt = now
	return credit, nil
}

func (db *DB) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	return getBooking(ctx, db, id)
}

func getBooking(ctx context.Context, q sqlx.ExtContext, id int64) (*models.Booking, error) {
	var booking models.Booking
	if err := getOne(ctx, q, &booking, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("failed to get booking %d: %w", id, err)
	}
	return &booking, nil
}

// AssignProvider claims a pending booking. The guard on provider_id and the
// deadline makes the claim a single compare-and-swap: exactly one provider
// can win.
func (db *DB) AssignProvider(ctx context.Context, id, providerID int64, now time.Time) error {
	now = utc(now)
	return execCAS(ctx, db, `UPDATE bookings
		SET provider_id = ?, status = ?, accepted_at = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND status = ? AND provider_id IS NULL AND acceptance_deadline > ?`,
		providerID, models.StatusAccepted, now, now,
		id, models.StatusPending, now,
	)
}

func (db *DB) StartBooking(ctx context.Context, id, providerID int64, now time.Time) error {
	now = utc(now)
	return execCAS(ctx, db, `UPDATE bookings
		SET status = ?, started_at = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND status = ? AND provider_id = ?`,
		models.StatusInProgress, now, now,
		id, models.StatusAccepted, providerID,
	)
}

// CompleteBooking closes the booking and records its payout atomically. A
// nil payout marks the booking payout-ineligible.
func (db *DB) CompleteBooking(ctx context.Context, id, providerID int64, completion models.Completion, payout *models.Payout, now time.Time) error {
	now = utc(now)
	amount := decimal.Zero
	if payout != nil {
		amount = payout.Amount
	}

	return db.inTx(ctx, func(tx *sqlx.Tx) error {
		err := execCAS(ctx, tx, `UPDATE bookings
			SET status = ?, completed_at = ?, completion_notes = ?, photo_refs = ?, quality_score = ?,
				provider_payout = ?, payout_eligible = ?, updated_at = ?, version = version + 1
			WHERE id = ? AND status = ? AND provider_id = ?`,
			models.StatusCompleted, now, completion.Notes, models.StringList(completion.PhotoRefs),
			completion.QualityScore, amount, payout != nil, now,
			id, models.StatusInProgress, providerID,
		)
		if err != nil {
			return err
		}

		if payout == nil {
			return nil
		}
		payout.BookingID = &id
		payout.ProviderID = providerID
		payout.CreatedAt = now
		if err := insertPayout(ctx, tx, payout); err != nil {
			return fmt.Errorf("failed to record payout for booking %d: %w", id, err)
		}
		return nil
	})
}

func (db *DB) CancelBooking(ctx context.Context, id int64, actor models.Actor, reason string, now time.Time) error {
	now = utc(now)
	return execCAS(ctx, db, `UPDATE bookings
		SET status = ?, cancelled_at = ?, cancelled_by = ?, cancel_reason = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND status IN (?, ?)`,
		models.StatusCancelled, now, actor.String(), reason, now,
		id, models.StatusPending, models.StatusAccepted,
	)
}

func (db *DB) RateBooking(ctx context.Context, id, clientID int64, rating int, review string, now time.Time) error {
	now = utc(now)
	return execCAS(ctx, db, `UPDATE bookings
		SET rating = ?, review = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND client_id = ? AND status = ? AND rating IS NULL`,
		rating, review, now,
		id, clientID, models.StatusCompleted,
	)
}

// ListAvailableBookings returns pending, unexpired bookings nearest first.
func (db *DB) ListAvailableBookings(ctx context.Context, now time.Time, limit int) ([]*models.Booking, error) {
	if limit <= 0 {
		limit = models.DefaultAvailablePageSize
	}
	var bookings []*models.Booking
	err := selectAll(ctx, db, &bookings, `SELECT `+bookingColumns+` FROM bookings
		WHERE status = ? AND provider_id IS NULL AND acceptance_deadline > ?
		ORDER BY scheduled_at ASC, id ASC
		LIMIT ?`,
		models.StatusPending, utc(now), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list available bookings: %w", err)
	}
	return bookings, nil
}

func (db *DB) ListProviderBookings(ctx context.Context, providerID int64, status string) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE provider_id = ?`
	args := []interface{}{providerID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY scheduled_at DESC`

	var bookings []*models.Booking
	if err := selectAll(ctx, db, &bookings, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list provider bookings: %w", err)
	}
	return bookings, nil
}
