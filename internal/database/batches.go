package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"servicehub/internal/domain"
	"servicehub/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

const batchColumns = `id, reference, batch_type, rule_id, provider_id, total_amount, payout_count, status,
	approved_by, approved_at, payment_ref, note, completed_at, created_at, updated_at`

var errBatchDiscarded = errors.New("batch discarded by planner")

// CreateBatch opens a batch for batch.ProviderID, attaches every pending
// unbatched job payout of a completed booking, and lets plan decide the
// outcome from what was actually attached. Returns (nil, nil) when the plan
// discards the batch; nothing is persisted in that case.
//
// A manual batch first takes over the provider's payouts held by batches
// still awaiting approval.
func (db *DB) CreateBatch(ctx context.Context, batch *models.PayoutBatch, plan domain.BatchPlanner, now time.Time) (*models.PayoutBatch, error) {
	now = utc(now)
	var created *models.PayoutBatch

	err := db.inTx(ctx, func(tx *sqlx.Tx) error {
		id, err := insertID(ctx, tx, `INSERT INTO payout_batches (
				reference, batch_type, rule_id, provider_id, total_amount, payout_count, status,
				approved_by, note, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			batch.Reference, batch.BatchType, batch.RuleID, batch.ProviderID, decimal.Zero, 0,
			models.BatchDraft, "", batch.Note, now, now,
		)
		if err != nil {
			return fmt.Errorf("failed to insert batch: %w", err)
		}

		if batch.BatchType == models.BatchTypeManual {
			if err := supersedeAwaitingBatches(ctx, tx, batch.ProviderID, id, batch.Reference, now); err != nil {
				return err
			}
		}

		// conditional attach: payouts claimed by a concurrent run are skipped
		_, err = tx.ExecContext(ctx, tx.Rebind(`UPDATE payouts SET batch_id = ?
			WHERE provider_id = ? AND status = ? AND batch_id IS NULL AND kind = ?
			AND booking_id IN (SELECT id FROM bookings WHERE status = ?)`),
			id, batch.ProviderID, models.PayoutPending, models.PayoutKindJob, models.StatusCompleted,
		)
		if err != nil {
			return fmt.Errorf("failed to attach payouts: %w", err)
		}

		attached, count, err := sumBatchPayouts(ctx, tx, id)
		if err != nil {
			return err
		}

		decision, ok := plan(attached, count)
		if !ok {
			return errBatchDiscarded
		}

		total := attached
		if decision.Bonus.IsPositive() {
			bonus := &models.Payout{
				ProviderID: batch.ProviderID,
				BatchID:    &id,
				Kind:       models.PayoutKindPerformanceBonus,
				Amount:     decision.Bonus,
				BaseAmount: attached,
				Status:     models.PayoutPending,
				CreatedBy:  models.RoleSystem,
				CreatedAt:  now,
			}
			if err := insertPayout(ctx, tx, bonus); err != nil {
				return fmt.Errorf("failed to insert performance bonus: %w", err)
			}
			total = total.Add(decision.Bonus)
			count++
		}

		if err := applyBatchStatus(ctx, tx, id, decision, batch.ApprovedBy, now); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, tx.Rebind(`UPDATE payout_batches SET total_amount = ?, payout_count = ? WHERE id = ?`),
			total, count, id)
		if err != nil {
			return fmt.Errorf("failed to set batch total: %w", err)
		}

		if err := verifyBatchTotal(ctx, tx, id); err != nil {
			return err
		}

		created, err = getBatch(ctx, tx, id)
		return err
	})
	if errors.Is(err, errBatchDiscarded) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return created, nil
}

// supersedeAwaitingBatches rejects the provider's draft and pending batches
// in favour of manual batch byID, releasing their job payouts and voiding
// their performance bonus. Batches approved meanwhile are left alone.
func supersedeAwaitingBatches(ctx context.Context, tx *sqlx.Tx, providerID, byID int64, reference string, now time.Time) error {
	var ids []int64
	err := selectAll(ctx, tx, &ids, `SELECT id FROM payout_batches
		WHERE provider_id = ? AND status IN (?, ?) AND id <> ? ORDER BY id`,
		providerID, models.BatchDraft, models.BatchPending, byID)
	if err != nil {
		return fmt.Errorf("failed to list awaiting batches: %w", err)
	}

	for _, id := range ids {
		res, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE payout_batches SET status = ?, note = ?, updated_at = ?
			WHERE id = ? AND status IN (?, ?)`),
			models.BatchRejected, "superseded by manual payout "+reference, now,
			id, models.BatchDraft, models.BatchPending)
		if err != nil {
			return fmt.Errorf("failed to supersede batch %d: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			continue
		}
		if err := releaseBatchPayouts(ctx, tx, id); err != nil {
			return err
		}
		if err := refreshBatchTotals(ctx, tx, id, now); err != nil {
			return err
		}
		if err := verifyBatchTotal(ctx, tx, id); err != nil {
			return err
		}
	}
	return nil
}

// releaseBatchPayouts detaches pending job payouts so the next batch can
// claim them and voids the pending performance bonus.
func releaseBatchPayouts(ctx context.Context, tx *sqlx.Tx, batchID int64) error {
	if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE payouts SET batch_id = NULL
		WHERE batch_id = ? AND status = ? AND kind = ?`),
		batchID, models.PayoutPending, models.PayoutKindJob); err != nil {
		return fmt.Errorf("failed to release batch payouts: %w", err)
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE payouts SET status = ?
		WHERE batch_id = ? AND status = ? AND kind = ?`),
		models.PayoutVoided, batchID, models.PayoutPending, models.PayoutKindPerformanceBonus); err != nil {
		return fmt.Errorf("failed to void batch bonus: %w", err)
	}
	return nil
}

func applyBatchStatus(ctx context.Context, tx *sqlx.Tx, id int64, plan domain.BatchPlan, actor string, now time.Time) error {
	switch plan.Status {
	case models.BatchPending:
		_, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE payout_batches SET status = ? WHERE id = ?`), models.BatchPending, id)
		return err
	case models.BatchApproved:
		_, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE payout_batches
			SET status = ?, approved_by = ?, approved_at = ? WHERE id = ?`),
			models.BatchApproved, actor, now, id)
		if err != nil {
			return fmt.Errorf("failed to approve batch: %w", err)
		}
		return setBatchPayoutStatus(ctx, tx, id, models.PayoutPending, models.PayoutProcessing, "", now)
	case models.BatchCompleted:
		_, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE payout_batches
			SET status = ?, approved_by = ?, approved_at = ?, completed_at = ? WHERE id = ?`),
			models.BatchCompleted, actor, now, now, id)
		if err != nil {
			return fmt.Errorf("failed to complete batch: %w", err)
		}
		return setBatchPayoutStatus(ctx, tx, id, models.PayoutPending, models.PayoutCompleted, plan.PaymentMethod, now)
	default:
		return fmt.Errorf("unsupported batch status %q", plan.Status)
	}
}

func setBatchPayoutStatus(ctx context.Context, tx *sqlx.Tx, batchID int64, from, to, method string, now time.Time) error {
	var query string
	var args []interface{}
	switch to {
	case models.PayoutProcessing:
		query = `UPDATE payouts SET status = ?, processed_at = ? WHERE batch_id = ? AND status = ?`
		args = []interface{}{to, now, batchID, from}
	case models.PayoutCompleted:
		query = `UPDATE payouts SET status = ?, processed_at = COALESCE(processed_at, ?), paid_at = ?,
			payment_method = CASE WHEN ? = '' THEN payment_method ELSE ? END
			WHERE batch_id = ? AND status = ?`
		args = []interface{}{to, now, now, method, method, batchID, from}
	default:
		return fmt.Errorf("unsupported payout status %q", to)
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
		return fmt.Errorf("failed to move batch %d payouts to %s: %w", batchID, to, err)
	}
	return nil
}

func sumBatchPayouts(ctx context.Context, q sqlx.ExtContext, batchID int64) (decimal.Decimal, int, error) {
	var amounts []decimal.Decimal
	err := selectAll(ctx, q, &amounts, `SELECT amount FROM payouts WHERE batch_id = ? AND status <> ?`,
		batchID, models.PayoutVoided)
	if err != nil {
		return decimal.Zero, 0, fmt.Errorf("failed to sum batch payouts: %w", err)
	}
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total, len(amounts), nil
}

// verifyBatchTotal enforces total_amount == sum of live constituent payouts.
func verifyBatchTotal(ctx context.Context, q sqlx.ExtContext, batchID int64) error {
	var stored decimal.Decimal
	if err := getOne(ctx, q, &stored, `SELECT total_amount FROM payout_batches WHERE id = ?`, batchID); err != nil {
		return fmt.Errorf("failed to read batch total: %w", err)
	}
	sum, _, err := sumBatchPayouts(ctx, q, batchID)
	if err != nil {
		return err
	}
	if !stored.Equal(sum) {
		return fmt.Errorf("batch %d total %s, payouts %s: %w", batchID, stored.StringFixed(2), sum.StringFixed(2), domain.ErrBatchTotalMismatch)
	}
	return nil
}

func refreshBatchTotals(ctx context.Context, tx *sqlx.Tx, batchID int64, now time.Time) error {
	total, count, err := sumBatchPayouts(ctx, tx, batchID)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, tx.Rebind(`UPDATE payout_batches SET total_amount = ?, payout_count = ?, updated_at = ? WHERE id = ?`),
		total, count, now, batchID)
	if err != nil {
		return fmt.Errorf("failed to refresh batch %d totals: %w", batchID, err)
	}
	return nil
}

func (db *DB) GetBatch(ctx context.Context, id int64) (*models.PayoutBatch, error) {
	return getBatch(ctx, db, id)
}

func getBatch(ctx context.Context, q sqlx.ExtContext, id int64) (*models.PayoutBatch, error) {
	var batch models.PayoutBatch
	if err := getOne(ctx, q, &batch, `SELECT `+batchColumns+` FROM payout_batches WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("failed to get batch %d: %w", id, err)
	}
	return &batch, nil
}

func (db *DB) ListBatches(ctx context.Context, status string) ([]*models.PayoutBatch, error) {
	query := `SELECT ` + batchColumns + ` FROM payout_batches`
	var args []interface{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY id`

	var batches []*models.PayoutBatch
	if err := selectAll(ctx, db, &batches, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	return batches, nil
}

func (db *DB) ListBatchPayouts(ctx context.Context, batchID int64) ([]*models.Payout, error) {
	var payouts []*models.Payout
	err := selectAll(ctx, db, &payouts, `SELECT `+payoutColumns+` FROM payouts WHERE batch_id = ? ORDER BY id`, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list batch payouts: %w", err)
	}
	return payouts, nil
}

// moveBatch performs a guarded batch status change. noop lists states in
// which the request is already satisfied and the current batch is returned
// unchanged.
func (db *DB) moveBatch(ctx context.Context, id int64, to string, from, noop []string,
	apply func(tx *sqlx.Tx, batch *models.PayoutBatch) error,
) (*models.PayoutBatch, error) {
	var result *models.PayoutBatch
	err := db.inTx(ctx, func(tx *sqlx.Tx) error {
		batch, err := getBatch(ctx, tx, id)
		if err != nil {
			return err
		}
		if contains(noop, batch.Status) {
			result = batch
			return nil
		}
		if !contains(from, batch.Status) {
			return &domain.TransitionError{Entity: "batch", ID: id, From: batch.Status, To: to}
		}

		if err := apply(tx, batch); err != nil {
			return err
		}
		if err := verifyBatchTotal(ctx, tx, id); err != nil {
			return err
		}
		result, err = getBatch(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ApproveBatch approves a pending batch. Approving an already approved (or
// later) batch is a no-op.
func (db *DB) ApproveBatch(ctx context.Context, id int64, approver string, now time.Time) (*models.PayoutBatch, error) {
	now = utc(now)
	return db.moveBatch(ctx, id, models.BatchApproved,
		[]string{models.BatchPending},
		[]string{models.BatchApproved, models.BatchProcessing, models.BatchCompleted},
		func(tx *sqlx.Tx, batch *models.PayoutBatch) error {
			var notCompleted int
			err := getOne(ctx, tx, &notCompleted, `SELECT COUNT(*) FROM payouts p
				LEFT JOIN bookings b ON b.id = p.booking_id
				WHERE p.batch_id = ? AND p.status <> ? AND p.booking_id IS NOT NULL
				AND (b.id IS NULL OR b.status <> ?)`,
				id, models.PayoutVoided, models.StatusCompleted)
			if err != nil {
				return fmt.Errorf("failed to check batch eligibility: %w", err)
			}
			if notCompleted > 0 {
				return fmt.Errorf("batch %d: %d payouts: %w", id, notCompleted, domain.ErrBatchIneligible)
			}

			err = execCAS(ctx, tx, `UPDATE payout_batches SET status = ?, approved_by = ?, approved_at = ?, updated_at = ?
				WHERE id = ? AND status = ?`,
				models.BatchApproved, approver, now, now, id, models.BatchPending)
			if err != nil {
				return fmt.Errorf("failed to approve batch %d: %w", id, err)
			}
			return setBatchPayoutStatus(ctx, tx, id, models.PayoutPending, models.PayoutProcessing, "", now)
		})
}

func (db *DB) ProcessBatch(ctx context.Context, id int64, now time.Time) (*models.PayoutBatch, error) {
	now = utc(now)
	return db.moveBatch(ctx, id, models.BatchProcessing,
		[]string{models.BatchApproved},
		[]string{models.BatchProcessing, models.BatchCompleted},
		func(tx *sqlx.Tx, batch *models.PayoutBatch) error {
			err := execCAS(ctx, tx, `UPDATE payout_batches SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
				models.BatchProcessing, now, id, models.BatchApproved)
			if err != nil {
				return fmt.Errorf("failed to process batch %d: %w", id, err)
			}
			return nil
		})
}

// CompleteBatch records the external payment confirmation for a batch.
func (db *DB) CompleteBatch(ctx context.Context, id int64, paymentRef string, now time.Time) (*models.PayoutBatch, error) {
	now = utc(now)
	return db.moveBatch(ctx, id, models.BatchCompleted,
		[]string{models.BatchApproved, models.BatchProcessing},
		[]string{models.BatchCompleted},
		func(tx *sqlx.Tx, batch *models.PayoutBatch) error {
			err := execCAS(ctx, tx, `UPDATE payout_batches
				SET status = ?, payment_ref = ?, completed_at = ?, updated_at = ?
				WHERE id = ? AND status IN (?, ?)`,
				models.BatchCompleted, paymentRef, now, now, id, models.BatchApproved, models.BatchProcessing)
			if err != nil {
				return fmt.Errorf("failed to complete batch %d: %w", id, err)
			}
			return setBatchPayoutStatus(ctx, tx, id, models.PayoutProcessing, models.PayoutCompleted, "", now)
		})
}

// RejectBatch releases job payouts for the next run and voids the
// batch's performance bonus.
func (db *DB) RejectBatch(ctx context.Context, id int64, actor, reason string, now time.Time) (*models.PayoutBatch, error) {
	now = utc(now)
	return db.moveBatch(ctx, id, models.BatchRejected,
		[]string{models.BatchPending},
		[]string{models.BatchRejected},
		func(tx *sqlx.Tx, batch *models.PayoutBatch) error {
			err := execCAS(ctx, tx, `UPDATE payout_batches SET status = ?, approved_by = ?, note = ?, updated_at = ?
				WHERE id = ? AND status = ?`,
				models.BatchRejected, actor, reason, now, id, models.BatchPending)
			if err != nil {
				return fmt.Errorf("failed to reject batch %d: %w", id, err)
			}
			if err := releaseBatchPayouts(ctx, tx, id); err != nil {
				return err
			}
			return refreshBatchTotals(ctx, tx, id, now)
		})
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
