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

const serviceColumns = `id, name, price, provider_fee, commission_pct, duration_minutes,
	weekend_bonus, is_active, created_at, updated_at`

func (db *DB) UpsertService(ctx context.Context, svc *models.Service, now time.Time) error {
	now = utc(now)
	query := `INSERT INTO services (` + serviceColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			price = excluded.price,
			provider_fee = excluded.provider_fee,
			commission_pct = excluded.commission_pct,
			duration_minutes = excluded.duration_minutes,
			weekend_bonus = excluded.weekend_bonus,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at`
	_, err := db.ExecContext(ctx, db.Rebind(query),
		svc.ID, svc.Name, svc.Price, svc.ProviderFee, svc.CommissionPct, svc.DurationMinutes,
		svc.WeekendBonus, svc.IsActive, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert service %d: %w", svc.ID, err)
	}
	svc.UpdatedAt = now
	return nil
}

func (db *DB) GetService(ctx context.Context, id int64) (*models.Service, error) {
	var svc models.Service
	err := getOne(ctx, db, &svc, `SELECT `+serviceColumns+` FROM services WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get service %d: %w", id, err)
	}
	return &svc, nil
}

func (db *DB) ListServices(ctx context.Context) ([]models.Service, error) {
	var services []models.Service
	if err := selectAll(ctx, db, &services, `SELECT `+serviceColumns+` FROM services ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to list services: %w", err)
	}
	return services, nil
}

const packageColumns = `id, client_id, name, status, billing_cycle, starts_at, ends_at, created_at`

// UpsertPackage stores a package and replaces its items.
func (db *DB) UpsertPackage(ctx context.Context, pkg *models.Package, now time.Time) error {
	now = utc(now)
	if pkg.CreatedAt.IsZero() {
		pkg.CreatedAt = now
	}
	return db.inTx(ctx, func(tx *sqlx.Tx) error {
		query := `INSERT INTO packages (` + packageColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				client_id = excluded.client_id,
				name = excluded.name,
				status = excluded.status,
				billing_cycle = excluded.billing_cycle,
				starts_at = excluded.starts_at,
				ends_at = excluded.ends_at`
		_, err := tx.ExecContext(ctx, tx.Rebind(query),
			pkg.ID, pkg.ClientID, pkg.Name, pkg.Status, pkg.BillingCycle,
			utc(pkg.StartsAt), utcPtr(pkg.EndsAt), utc(pkg.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert package %d: %w", pkg.ID, err)
		}

		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM package_items WHERE package_id = ?`), pkg.ID); err != nil {
			return fmt.Errorf("failed to clear package items: %w", err)
		}
		for i := range pkg.Items {
			pkg.Items[i].PackageID = pkg.ID
			_, err := tx.ExecContext(ctx,
				tx.Rebind(`INSERT INTO package_items (package_id, service_id, quantity) VALUES (?, ?, ?)`),
				pkg.ID, pkg.Items[i].ServiceID, pkg.Items[i].Quantity,
			)
			if err != nil {
				return fmt.Errorf("failed to insert package item: %w", err)
			}
		}
		return nil
	})
}

func (db *DB) GetPackage(ctx context.Context, id int64) (*models.Package, error) {
	return getPackage(ctx, db, id)
}

func getPackage(ctx context.Context, q sqlx.ExtContext, id int64) (*models.Package, error) {
	var pkg models.Package
	if err := getOne(ctx, q, &pkg, `SELECT `+packageColumns+` FROM packages WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("failed to get package %d: %w", id, err)
	}
	if err := selectAll(ctx, q, &pkg.Items,
		`SELECT package_id, service_id, quantity FROM package_items WHERE package_id = ? ORDER BY service_id`, id); err != nil {
		return nil, fmt.Errorf("failed to get package items: %w", err)
	}
	return &pkg, nil
}

func (db *DB) ListClientPackages(ctx context.Context, clientID int64) ([]*models.Package, error) {
	var ids []int64
	if err := selectAll(ctx, db, &ids, `SELECT id FROM packages WHERE client_id = ? ORDER BY id`, clientID); err != nil {
		return nil, fmt.Errorf("failed to list packages: %w", err)
	}
	packages := make([]*models.Package, 0, len(ids))
	for _, id := range ids {
		pkg, err := db.GetPackage(ctx, id)
		if err != nil {
			return nil, err
		}
		packages = append(packages, pkg)
	}
	return packages, nil
}

const ruleColumns = `id, name, minimum_payout_amount, frequency, payout_day, auto_approve_under_amount,
	performance_bonus_threshold, performance_bonus_pct, rating_window_days, is_active, last_run_at, created_at`

func (db *DB) GetActiveRule(ctx context.Context) (*models.PayoutRule, error) {
	var rule models.PayoutRule
	err := getOne(ctx, db, &rule,
		`SELECT `+ruleColumns+` FROM payout_rules WHERE is_active = ? ORDER BY id DESC LIMIT 1`, true)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrNoActiveRule
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active rule: %w", err)
	}
	return &rule, nil
}

// SetActiveRule stores rule as the only active payout rule.
func (db *DB) SetActiveRule(ctx context.Context, rule *models.PayoutRule, now time.Time) error {
	now = utc(now)
	return db.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE payout_rules SET is_active = ? WHERE is_active = ?`), false, true); err != nil {
			return fmt.Errorf("failed to deactivate rules: %w", err)
		}
		id, err := insertID(ctx, tx, `INSERT INTO payout_rules (
				name, minimum_payout_amount, frequency, payout_day, auto_approve_under_amount,
				performance_bonus_threshold, performance_bonus_pct, rating_window_days, is_active,
				last_run_at, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rule.Name, rule.MinimumPayoutAmount, rule.Frequency, rule.PayoutDay, rule.AutoApproveUnderAmount,
			rule.PerformanceBonusThreshold, rule.PerformanceBonusPct, rule.RatingWindowDays, true,
			utcPtr(rule.LastRunAt), now,
		)
		if err != nil {
			return fmt.Errorf("failed to insert payout rule: %w", err)
		}
		rule.ID = id
		rule.IsActive = true
		rule.CreatedAt = now
		return nil
	})
}

// ClaimRuleRun records an automated run for the rule in the period that
// began at periodStart. Only one caller per period wins.
func (db *DB) ClaimRuleRun(ctx context.Context, ruleID int64, periodStart, now time.Time) (bool, error) {
	err := execCAS(ctx, db,
		`UPDATE payout_rules SET last_run_at = ?
		WHERE id = ? AND is_active = ? AND (last_run_at IS NULL OR last_run_at < ?)`,
		utc(now), ruleID, true, utc(periodStart))
	if errors.Is(err, domain.ErrConcurrentModification) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to claim rule run: %w", err)
	}
	return true, nil
}

// Seed loads catalog data from configuration. The default rule is only
// installed when no rule is active yet.
func (db *DB) Seed(ctx context.Context, services []models.Service, packages []models.Package, rule *models.PayoutRule, now time.Time) error {
	for i := range services {
		if err := db.UpsertService(ctx, &services[i], now); err != nil {
			return err
		}
	}
	for i := range packages {
		if packages[i].Status == "" {
			packages[i].Status = models.PackageActive
		}
		if packages[i].BillingCycle == "" {
			packages[i].BillingCycle = models.CycleMonthly
		}
		if err := db.UpsertPackage(ctx, &packages[i], now); err != nil {
			return err
		}
	}
	if rule == nil {
		return nil
	}
	_, err := db.GetActiveRule(ctx)
	if errors.Is(err, domain.ErrNoActiveRule) {
		return db.SetActiveRule(ctx, rule, now)
	}
	return err
}
