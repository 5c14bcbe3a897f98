package database

import (
	"context"
	"fmt"
	"strings"
)

// Column types differ per dialect; the DDL below is written with
// placeholders and expanded for the active driver.
var dialectTypes = map[string]*strings.Replacer{
	DriverSQLite: strings.NewReplacer(
		"{{pk}}", "INTEGER PRIMARY KEY AUTOINCREMENT",
		"{{ts}}", "DATETIME",
		"{{money}}", "TEXT",
		"{{bool}}", "BOOLEAN",
	),
	DriverPostgres: strings.NewReplacer(
		"{{pk}}", "BIGSERIAL PRIMARY KEY",
		"{{ts}}", "TIMESTAMPTZ",
		"{{money}}", "NUMERIC(14,2)",
		"{{bool}}", "BOOLEAN",
	),
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS services (
		id BIGINT PRIMARY KEY,
		name TEXT NOT NULL,
		price {{money}} NOT NULL,
		provider_fee {{money}} NOT NULL,
		commission_pct {{money}} NOT NULL,
		duration_minutes INTEGER NOT NULL DEFAULT 60,
		weekend_bonus {{money}},
		is_active {{bool}} NOT NULL DEFAULT TRUE,
		created_at {{ts}} NOT NULL,
		updated_at {{ts}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS packages (
		id BIGINT PRIMARY KEY,
		client_id BIGINT NOT NULL,
		name TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		billing_cycle TEXT NOT NULL DEFAULT 'monthly',
		starts_at {{ts}} NOT NULL,
		ends_at {{ts}},
		created_at {{ts}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS package_items (
		package_id BIGINT NOT NULL,
		service_id BIGINT NOT NULL,
		quantity INTEGER NOT NULL,
		PRIMARY KEY (package_id, service_id)
	)`,
	`CREATE TABLE IF NOT EXISTS entitlements (
		package_id BIGINT NOT NULL,
		service_id BIGINT NOT NULL,
		cycle TEXT NOT NULL,
		granted INTEGER NOT NULL,
		consumed INTEGER NOT NULL DEFAULT 0,
		updated_at {{ts}} NOT NULL,
		PRIMARY KEY (package_id, service_id, cycle),
		CHECK (consumed >= 0 AND consumed <= granted)
	)`,
	`CREATE TABLE IF NOT EXISTS usage_logs (
		id {{pk}},
		package_id BIGINT NOT NULL,
		service_id BIGINT NOT NULL,
		client_id BIGINT NOT NULL,
		booking_id BIGINT,
		cycle TEXT NOT NULL,
		consumed_at {{ts}} NOT NULL,
		restored_at {{ts}},
		restored_by TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS bookings (
		id {{pk}},
		client_id BIGINT NOT NULL,
		provider_id BIGINT,
		service_id BIGINT NOT NULL,
		package_id BIGINT,
		funding_source TEXT NOT NULL,
		scheduled_at {{ts}} NOT NULL,
		duration_minutes INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		total_amount {{money}} NOT NULL,
		service_price {{money}} NOT NULL,
		provider_fee {{money}} NOT NULL,
		commission_pct {{money}} NOT NULL,
		weekend_bonus {{money}} NOT NULL DEFAULT '0',
		provider_payout {{money}} NOT NULL DEFAULT '0',
		is_emergency {{bool}} NOT NULL DEFAULT FALSE,
		is_weekend {{bool}} NOT NULL DEFAULT FALSE,
		acceptance_deadline {{ts}} NOT NULL,
		accepted_at {{ts}},
		started_at {{ts}},
		completed_at {{ts}},
		cancelled_at {{ts}},
		cancelled_by TEXT NOT NULL DEFAULT '',
		cancel_reason TEXT NOT NULL DEFAULT '',
		completion_notes TEXT NOT NULL DEFAULT '',
		photo_refs TEXT NOT NULL DEFAULT '[]',
		quality_score INTEGER,
		rating INTEGER,
		review TEXT NOT NULL DEFAULT '',
		payout_eligible {{bool}} NOT NULL DEFAULT TRUE,
		version BIGINT NOT NULL DEFAULT 1,
		created_at {{ts}} NOT NULL,
		updated_at {{ts}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS payout_rules (
		id {{pk}},
		name TEXT NOT NULL,
		minimum_payout_amount {{money}} NOT NULL DEFAULT '0',
		frequency TEXT NOT NULL,
		payout_day INTEGER NOT NULL DEFAULT 0,
		auto_approve_under_amount {{money}} NOT NULL DEFAULT '0',
		performance_bonus_threshold {{money}},
		performance_bonus_pct {{money}} NOT NULL DEFAULT '0',
		rating_window_days INTEGER NOT NULL DEFAULT 30,
		is_active {{bool}} NOT NULL DEFAULT TRUE,
		last_run_at {{ts}},
		created_at {{ts}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS payout_batches (
		id {{pk}},
		reference TEXT NOT NULL UNIQUE,
		batch_type TEXT NOT NULL,
		rule_id BIGINT,
		provider_id BIGINT NOT NULL,
		total_amount {{money}} NOT NULL DEFAULT '0',
		payout_count INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		approved_by TEXT NOT NULL DEFAULT '',
		approved_at {{ts}},
		payment_ref TEXT NOT NULL DEFAULT '',
		note TEXT NOT NULL DEFAULT '',
		completed_at {{ts}},
		created_at {{ts}} NOT NULL,
		updated_at {{ts}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS payouts (
		id {{pk}},
		provider_id BIGINT NOT NULL,
		booking_id BIGINT,
		batch_id BIGINT,
		kind TEXT NOT NULL,
		amount {{money}} NOT NULL,
		base_amount {{money}} NOT NULL DEFAULT '0',
		weekend_bonus {{money}} NOT NULL DEFAULT '0',
		status TEXT NOT NULL,
		payment_method TEXT NOT NULL DEFAULT '',
		manual_override {{bool}} NOT NULL DEFAULT FALSE,
		note TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL DEFAULT '',
		created_at {{ts}} NOT NULL,
		processed_at {{ts}},
		paid_at {{ts}}
	)`,

	`CREATE INDEX IF NOT EXISTS idx_bookings_status_deadline ON bookings(status, acceptance_deadline)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_provider ON bookings(provider_id)`,
	`CREATE INDEX IF NOT EXISTS idx_bookings_completed_at ON bookings(completed_at)`,
	`CREATE INDEX IF NOT EXISTS idx_package_client ON packages(client_id)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_logs_booking ON usage_logs(booking_id)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_logs_cycle ON usage_logs(package_id, service_id, cycle)`,
	`CREATE INDEX IF NOT EXISTS idx_payouts_provider_status ON payouts(provider_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_payouts_batch ON payouts(batch_id)`,
	`CREATE INDEX IF NOT EXISTS idx_payouts_created_at ON payouts(created_at)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_payouts_booking_live ON payouts(booking_id) WHERE status <> 'voided' AND booking_id IS NOT NULL`,
}

func (db *DB) migrate(ctx context.Context) error {
	replacer, ok := dialectTypes[db.driver]
	if !ok {
		return fmt.Errorf("no schema for driver %q", db.driver)
	}
	for _, stmt := range schema {
		query := replacer.Replace(stmt)
		if _, err := db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}
