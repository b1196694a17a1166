package storage

import (
	"context"
	"fmt"
	"time"
)

// schema sticks to SQL that both MySQL and sqlite accept. Times are unix
// nanoseconds (0 for unset) and decimals are their string form.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS orders (
		id VARCHAR(64) NOT NULL PRIMARY KEY,
		customer_id VARCHAR(64) NOT NULL,
		currency VARCHAR(3) NOT NULL,
		total_amount BIGINT NOT NULL,
		status VARCHAR(16) NOT NULL,
		delivery_address TEXT NOT NULL,
		payment_method VARCHAR(64) NOT NULL,
		special_instructions TEXT NOT NULL,
		tracking_number VARCHAR(64) NOT NULL,
		delivery_date BIGINT NOT NULL,
		shipped_at BIGINT NOT NULL,
		delivered_at BIGINT NOT NULL,
		cancelled_at BIGINT NOT NULL,
		completed_at BIGINT NOT NULL,
		version INT NOT NULL,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS order_items (
		order_id VARCHAR(64) NOT NULL,
		id VARCHAR(64) NOT NULL,
		position INT NOT NULL,
		product_id VARCHAR(64) NOT NULL,
		quantity INT NOT NULL,
		currency VARCHAR(3) NOT NULL,
		unit_price BIGINT NOT NULL,
		weight VARCHAR(32) NOT NULL,
		PRIMARY KEY (order_id, id)
	)`,
	`CREATE TABLE IF NOT EXISTS shipping_costs (
		order_id VARCHAR(64) NOT NULL PRIMARY KEY,
		weight VARCHAR(32) NOT NULL,
		length VARCHAR(32) NOT NULL,
		width VARCHAR(32) NOT NULL,
		height VARCHAR(32) NOT NULL,
		express_delivery BOOLEAN NOT NULL,
		fragile_handling BOOLEAN NOT NULL,
		insurance BOOLEAN NOT NULL,
		currency VARCHAR(3) NOT NULL,
		calculated_cost BIGINT NOT NULL,
		version INT NOT NULL,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS parcels (
		id VARCHAR(64) NOT NULL PRIMARY KEY,
		order_id VARCHAR(64) NOT NULL,
		shipping_cost_id VARCHAR(64) NOT NULL,
		tracking_number VARCHAR(64) NOT NULL,
		weight VARCHAR(32) NOT NULL,
		length VARCHAR(32) NOT NULL,
		width VARCHAR(32) NOT NULL,
		height VARCHAR(32) NOT NULL,
		created_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS parcel_items (
		order_id VARCHAR(64) NOT NULL,
		item_id VARCHAR(64) NOT NULL,
		parcel_id VARCHAR(64) NOT NULL,
		position INT NOT NULL,
		PRIMARY KEY (order_id, item_id)
	)`,
	`CREATE TABLE IF NOT EXISTS repayment_preferences (
		order_id VARCHAR(64) NOT NULL PRIMARY KEY,
		id VARCHAR(64) NOT NULL,
		customer_id VARCHAR(64) NOT NULL,
		frequency VARCHAR(16) NOT NULL,
		repayment_type VARCHAR(16) NOT NULL,
		has_bank_account BOOLEAN NOT NULL,
		account_prefix VARCHAR(16) NOT NULL,
		account_number VARCHAR(34) NOT NULL,
		bank_code VARCHAR(16) NOT NULL,
		iban VARCHAR(34) NOT NULL,
		bic VARCHAR(11) NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
}

// Migrate creates the command-side tables if they are missing.
func (m *MySQLAdapter) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
