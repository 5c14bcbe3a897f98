package database

import (
	"context"
	"fmt"
	"time"

	"servicehub/internal/models"

	"github.com/jmoiron/sqlx"
)

// ListSettledBookings returns bookings completed in [from, to) joined with
// their live payout, if any.
func (db *DB) ListSettledBookings(ctx context.Context, from, to time.Time) ([]models.SettledBooking, error) {
	var bookings []models.Booking
	err := selectAll(ctx, db, &bookings, `SELECT `+bookingColumns+` FROM bookings
		WHERE status = ? AND completed_at >= ? AND completed_at < ?
		ORDER BY completed_at, id`,
		models.StatusCompleted, utc(from), utc(to))
	if err != nil {
		return nil, fmt.Errorf("failed to list completed bookings: %w", err)
	}
	if len(bookings) == 0 {
		return nil, nil
	}

	ids := make([]int64, len(bookings))
	for i := range bookings {
		ids[i] = bookings[i].ID
	}
	query, args, err := sqlx.In(`SELECT `+payoutColumns+` FROM payouts
		WHERE status <> ? AND booking_id IN (?)`, models.PayoutVoided, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to build payout query: %w", err)
	}
	var payouts []*models.Payout
	if err := selectAll(ctx, db, &payouts, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list booking payouts: %w", err)
	}

	byBooking := make(map[int64]*models.Payout, len(payouts))
	for _, p := range payouts {
		if p.BookingID != nil {
			byBooking[*p.BookingID] = p
		}
	}

	settled := make([]models.SettledBooking, len(bookings))
	for i := range bookings {
		settled[i] = models.SettledBooking{Booking: bookings[i], Payout: byBooking[bookings[i].ID]}
	}
	return settled, nil
}

// ListPayoutsCreated returns live payouts created in [from, to).
func (db *DB) ListPayoutsCreated(ctx context.Context, from, to time.Time) ([]*models.Payout, error) {
	var payouts []*models.Payout
	err := selectAll(ctx, db, &payouts, `SELECT `+payoutColumns+` FROM payouts
		WHERE status <> ? AND created_at >= ? AND created_at < ?
		ORDER BY id`,
		models.PayoutVoided, utc(from), utc(to))
	if err != nil {
		return nil, fmt.Errorf("failed to list payouts: %w", err)
	}
	return payouts, nil
}
