package database

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"servicehub/internal/domain"
	"servicehub/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

const payoutColumns = `id, provider_id, booking_id, batch_id, kind, amount, base_amount, weekend_bonus, status,
	payment_method, manual_override, note, created_by, created_at, processed_at, paid_at`

func insertPayout(ctx context.Context, q sqlx.ExtContext, p *models.Payout) error {
	if p.Status == "" {
		p.Status = models.PayoutPending
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	p.CreatedAt = utc(p.CreatedAt)

	id, err := insertID(ctx, q, `INSERT INTO payouts (
			provider_id, booking_id, batch_id, kind, amount, base_amount, weekend_bonus, status,
			payment_method, manual_override, note, created_by, created_at, processed_at, paid_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ProviderID, p.BookingID, p.BatchID, p.Kind, p.Amount, p.BaseAmount, p.WeekendBonus, p.Status,
		p.PaymentMethod, p.ManualOverride, p.Note, p.CreatedBy, p.CreatedAt, utcPtr(p.ProcessedAt), utcPtr(p.PaidAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("booking already has a payout: %w", domain.ErrConcurrentModification)
		}
		return err
	}
	p.ID = id
	return nil
}

// GetPayoutByBooking returns the live (non-voided) payout of a booking.
func (db *DB) GetPayoutByBooking(ctx context.Context, bookingID int64) (*models.Payout, error) {
	return getPayoutByBooking(ctx, db, bookingID)
}

func getPayoutByBooking(ctx context.Context, q sqlx.ExtContext, bookingID int64) (*models.Payout, error) {
	var p models.Payout
	err := getOne(ctx, q, &p, `SELECT `+payoutColumns+` FROM payouts WHERE booking_id = ? AND status <> ?`,
		bookingID, models.PayoutVoided)
	if err != nil {
		return nil, fmt.Errorf("failed to get payout for booking %d: %w", bookingID, err)
	}
	return &p, nil
}

func (db *DB) ListProviderPayouts(ctx context.Context, providerID int64) ([]*models.Payout, error) {
	var payouts []*models.Payout
	err := selectAll(ctx, db, &payouts, `SELECT `+payoutColumns+` FROM payouts WHERE provider_id = ? ORDER BY id`, providerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payouts: %w", err)
	}
	return payouts, nil
}

// ListProviderBalances sums pending, unbatched job payouts of completed
// bookings per provider. An empty providerIDs lists every provider.
func (db *DB) ListProviderBalances(ctx context.Context, providerIDs []int64) ([]models.ProviderBalance, error) {
	query := `SELECT p.provider_id, p.amount FROM payouts p
		JOIN bookings b ON b.id = p.booking_id
		WHERE p.status = ? AND p.batch_id IS NULL AND p.kind = ? AND b.status = ?`
	args := []interface{}{models.PayoutPending, models.PayoutKindJob, models.StatusCompleted}
	if len(providerIDs) > 0 {
		query += ` AND p.provider_id IN (?)`
		args = append(args, providerIDs)
	}

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to build balance query: %w", err)
	}

	var rows []struct {
		ProviderID int64           `db:"provider_id"`
		Amount     decimal.Decimal `db:"amount"`
	}
	if err := selectAll(ctx, db, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list provider balances: %w", err)
	}

	byProvider := make(map[int64]*models.ProviderBalance)
	for _, row := range rows {
		bal, ok := byProvider[row.ProviderID]
		if !ok {
			bal = &models.ProviderBalance{ProviderID: row.ProviderID, Total: decimal.Zero}
			byProvider[row.ProviderID] = bal
		}
		bal.Total = bal.Total.Add(row.Amount)
		bal.Count++
	}

	balances := make([]models.ProviderBalance, 0, len(byProvider))
	for _, bal := range byProvider {
		balances = append(balances, *bal)
	}
	sort.Slice(balances, func(i, j int) bool { return balances[i].ProviderID < balances[j].ProviderID })
	return balances, nil
}

// OverridePayout is the administrator escape hatch: it always leaves a
// completed payout row for the booking, either by overriding the pending
// one or by inserting a manual payout.
func (db *DB) OverridePayout(ctx context.Context, bookingID int64, payout *models.Payout, now time.Time) (*models.Payout, error) {
	now = utc(now)
	var result *models.Payout

	err := db.inTx(ctx, func(tx *sqlx.Tx) error {
		booking, err := getBooking(ctx, tx, bookingID)
		if err != nil {
			return err
		}
		if booking.Status != models.StatusCompleted || booking.ProviderID == nil {
			return &domain.TransitionError{Entity: "booking", ID: bookingID, From: booking.Status, To: "paid"}
		}

		existing, err := getPayoutByBooking(ctx, tx, bookingID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			p := &models.Payout{
				ProviderID:     *booking.ProviderID,
				BookingID:      &bookingID,
				Kind:           models.PayoutKindManual,
				Amount:         payout.Amount,
				BaseAmount:     booking.ProviderFee,
				Status:         models.PayoutCompleted,
				PaymentMethod:  payout.PaymentMethod,
				ManualOverride: true,
				Note:           payout.Note,
				CreatedBy:      payout.CreatedBy,
				CreatedAt:      now,
				ProcessedAt:    &now,
				PaidAt:         &now,
			}
			if err := insertPayout(ctx, tx, p); err != nil {
				return fmt.Errorf("failed to insert manual payout: %w", err)
			}
			result = p
		case err != nil:
			return err
		case existing.Status != models.PayoutPending:
			return &domain.TransitionError{Entity: "payout", ID: existing.ID, From: existing.Status, To: models.PayoutCompleted}
		default:
			err := execCAS(ctx, tx, `UPDATE payouts
				SET amount = ?, status = ?, payment_method = ?, manual_override = ?, note = ?,
					created_by = ?, batch_id = NULL, processed_at = ?, paid_at = ?
				WHERE id = ? AND status = ?`,
				payout.Amount, models.PayoutCompleted, payout.PaymentMethod, true, payout.Note,
				payout.CreatedBy, now, now,
				existing.ID, models.PayoutPending,
			)
			if err != nil {
				return fmt.Errorf("failed to override payout %d: %w", existing.ID, err)
			}
			if existing.BatchID != nil {
				if err := refreshBatchTotals(ctx, tx, *existing.BatchID, now); err != nil {
					return err
				}
			}
			if result, err = getPayoutByBooking(ctx, tx, bookingID); err != nil {
				return err
			}
		}

		_, err = tx.ExecContext(ctx, tx.Rebind(`UPDATE bookings
			SET provider_payout = ?, payout_eligible = ?, updated_at = ?, version = version + 1
			WHERE id = ?`), payout.Amount, true, now, bookingID)
		if err != nil {
			return fmt.Errorf("failed to update booking payout: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// AverageRating returns the mean client rating of a provider's bookings
// completed since the given time, and how many ratings it is based on.
func (db *DB) AverageRating(ctx context.Context, providerID int64, since time.Time) (decimal.Decimal, int, error) {
	var ratings []int
	err := selectAll(ctx, db, &ratings, `SELECT rating FROM bookings
		WHERE provider_id = ? AND status = ? AND rating IS NOT NULL AND completed_at >= ?`,
		providerID, models.StatusCompleted, utc(since))
	if err != nil {
		return decimal.Zero, 0, fmt.Errorf("failed to load ratings: %w", err)
	}
	if len(ratings) == 0 {
		return decimal.Zero, 0, nil
	}
	sum := 0
	for _, r := range ratings {
		sum += r
	}
	avg := decimal.NewFromInt(int64(sum)).Div(decimal.NewFromInt(int64(len(ratings)))).Round(2)
	return avg, len(ratings), nil
}
