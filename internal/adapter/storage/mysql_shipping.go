package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/rl1809/order-fulfillment/internal/core/domain"
)

func (m *MySQLAdapter) GetShippingCost(ctx context.Context, orderID string) (domain.ShippingCost, error) {
	var (
		sc               domain.ShippingCost
		weight           string
		l, w, h          string
		created, updated int64
	)
	err := m.db.QueryRowContext(ctx, `
		SELECT order_id, weight, length, width, height, express_delivery, fragile_handling,
			insurance, currency, calculated_cost, version, created_at, updated_at
		FROM shipping_costs WHERE order_id = ?`, orderID,
	).Scan(&sc.OrderID, &weight, &l, &w, &h, &sc.Options.ExpressDelivery, &sc.Options.FragileHandling,
		&sc.Options.Insurance, &sc.CalculatedCost.Currency, &sc.CalculatedCost.Amount, &sc.Version,
		&created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ShippingCost{}, domain.NewNotFoundError("shipping cost", orderID)
	}
	if err != nil {
		return domain.ShippingCost{}, domain.WrapPersistence("query shipping cost "+orderID, err)
	}

	sc.ID = sc.OrderID
	sc.CreatedAt = fromNanos(created)
	sc.UpdatedAt = fromNanos(updated)
	if sc.Weight, err = decimal.NewFromString(weight); err != nil {
		return domain.ShippingCost{}, domain.WrapPersistence("decode shipping weight", err)
	}
	if sc.Dimensions, err = parseDimensions(l, w, h); err != nil {
		return domain.ShippingCost{}, domain.WrapPersistence("decode shipping dimensions", err)
	}

	rows, err := m.db.QueryContext(ctx, `SELECT id FROM parcels WHERE order_id = ? ORDER BY created_at, id`, orderID)
	if err != nil {
		return domain.ShippingCost{}, domain.WrapPersistence("query parcels", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return domain.ShippingCost{}, domain.WrapPersistence("scan parcel", err)
		}
		sc.ParcelIDs = append(sc.ParcelIDs, id)
	}
	if err := rows.Err(); err != nil {
		return domain.ShippingCost{}, domain.WrapPersistence("query parcels", err)
	}
	return sc, nil
}

func (m *MySQLAdapter) SaveShippingCost(ctx context.Context, cost domain.ShippingCost) error {
	return m.inTx(ctx, "save shipping cost "+cost.OrderID, func(tx *sql.Tx) error {
		return saveShippingCost(ctx, tx, cost)
	})
}

// CreateParcel stores the parcel, claims its items and bumps the shipping
// cost it hangs off, all or nothing.
func (m *MySQLAdapter) CreateParcel(ctx context.Context, parcel domain.Parcel, cost domain.ShippingCost) error {
	return m.inTx(ctx, "create parcel "+parcel.ID, func(tx *sql.Tx) error {
		if err := saveShippingCost(ctx, tx, cost); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO parcels (id, order_id, shipping_cost_id, tracking_number, weight, length, width, height, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			parcel.ID, parcel.OrderID, parcel.ShippingCostID, parcel.TrackingNumber, parcel.Weight.String(),
			parcel.Dimensions.Length.String(), parcel.Dimensions.Width.String(), parcel.Dimensions.Height.String(),
			toNanos(parcel.CreatedAt),
		)
		if isDuplicate(err) {
			return domain.NewConflictError("parcel", parcel.ID)
		}
		if err != nil {
			return fmt.Errorf("insert parcel: %w", err)
		}

		for i, itemID := range parcel.ItemIDs {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO parcel_items (order_id, item_id, parcel_id, position) VALUES (?, ?, ?, ?)`,
				parcel.OrderID, itemID, parcel.ID, i,
			)
			if isDuplicate(err) {
				return domain.NewValidationError("item %s is already packed", itemID)
			}
			if err != nil {
				return fmt.Errorf("insert parcel item: %w", err)
			}
		}
		return nil
	})
}

func (m *MySQLAdapter) ParcelAssignments(ctx context.Context, orderID string) (map[string]string, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT item_id, parcel_id FROM parcel_items WHERE order_id = ?`, orderID)
	if err != nil {
		return nil, domain.WrapPersistence("query parcel items", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var itemID, parcelID string
		if err := rows.Scan(&itemID, &parcelID); err != nil {
			return nil, domain.WrapPersistence("scan parcel item", err)
		}
		out[itemID] = parcelID
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapPersistence("query parcel items", err)
	}
	return out, nil
}

func (m *MySQLAdapter) GetRepaymentPreferences(ctx context.Context, orderID string) (domain.RepaymentPreferences, error) {
	var (
		p       domain.RepaymentPreferences
		acct    domain.BankAccount
		hasAcct bool
		updated int64
	)
	err := m.db.QueryRowContext(ctx, `
		SELECT order_id, id, customer_id, frequency, repayment_type, has_bank_account,
			account_prefix, account_number, bank_code, iban, bic, updated_at
		FROM repayment_preferences WHERE order_id = ?`, orderID,
	).Scan(&p.OrderID, &p.ID, &p.CustomerID, &p.Frequency, &p.Type, &hasAcct,
		&acct.Prefix, &acct.AccountNumber, &acct.BankCode, &acct.IBAN, &acct.BIC, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RepaymentPreferences{}, domain.NewNotFoundError("repayment preferences", orderID)
	}
	if err != nil {
		return domain.RepaymentPreferences{}, domain.WrapPersistence("query repayment preferences", err)
	}
	if hasAcct {
		p.BankAccount = &acct
	}
	p.UpdatedAt = fromNanos(updated)
	return p, nil
}

func (m *MySQLAdapter) SaveRepaymentPreferences(ctx context.Context, prefs domain.RepaymentPreferences) error {
	return m.inTx(ctx, "save repayment preferences "+prefs.OrderID, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM repayment_preferences WHERE order_id = ?`, prefs.OrderID); err != nil {
			return fmt.Errorf("delete repayment preferences: %w", err)
		}
		var acct domain.BankAccount
		if prefs.BankAccount != nil {
			acct = *prefs.BankAccount
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO repayment_preferences (order_id, id, customer_id, frequency, repayment_type,
				has_bank_account, account_prefix, account_number, bank_code, iban, bic, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			prefs.OrderID, prefs.ID, prefs.CustomerID, string(prefs.Frequency), string(prefs.Type),
			prefs.BankAccount != nil, acct.Prefix, acct.AccountNumber, acct.BankCode, acct.IBAN, acct.BIC,
			toNanos(prefs.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("insert repayment preferences: %w", err)
		}
		return nil
	})
}

// saveShippingCost inserts version 1 or moves an existing row forward by
// exactly one version.
func saveShippingCost(ctx context.Context, tx *sql.Tx, cost domain.ShippingCost) error {
	args := []any{
		cost.Weight.String(), cost.Dimensions.Length.String(), cost.Dimensions.Width.String(),
		cost.Dimensions.Height.String(), cost.Options.ExpressDelivery, cost.Options.FragileHandling,
		cost.Options.Insurance, cost.CalculatedCost.Currency, cost.CalculatedCost.Amount,
		cost.Version, toNanos(cost.UpdatedAt),
	}

	if cost.Version == 1 {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO shipping_costs (weight, length, width, height, express_delivery, fragile_handling,
				insurance, currency, calculated_cost, version, updated_at, created_at, order_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			append(args, toNanos(cost.CreatedAt), cost.OrderID)...,
		)
		if isDuplicate(err) {
			return domain.NewConflictError("shipping cost", cost.OrderID)
		}
		if err != nil {
			return fmt.Errorf("insert shipping cost: %w", err)
		}
		return nil
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE shipping_costs
		SET weight = ?, length = ?, width = ?, height = ?, express_delivery = ?, fragile_handling = ?,
			insurance = ?, currency = ?, calculated_cost = ?, version = ?, updated_at = ?
		WHERE order_id = ? AND version = ?`,
		append(args, cost.OrderID, cost.Version-1)...,
	)
	if err != nil {
		return fmt.Errorf("update shipping cost: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.NewConflictError("shipping cost", cost.OrderID)
	}
	return nil
}

func parseDimensions(l, w, h string) (domain.Dimensions, error) {
	var (
		d   domain.Dimensions
		err error
	)
	if d.Length, err = decimal.NewFromString(l); err != nil {
		return d, err
	}
	if d.Width, err = decimal.NewFromString(w); err != nil {
		return d, err
	}
	d.Height, err = decimal.NewFromString(h)
	return d, err
}
