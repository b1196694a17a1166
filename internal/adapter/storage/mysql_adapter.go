package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/rl1809/order-fulfillment/internal/core/domain"
)

const mysqlDuplicateEntry = 1062

// MySQLAdapter is the command-side store. It backs the order, shipping and
// repayment repositories with one *sql.DB.
type MySQLAdapter struct {
	db  *sql.DB
	log *logrus.Logger
}

func NewMySQLAdapter(db *sql.DB, log *logrus.Logger) *MySQLAdapter {
	return &MySQLAdapter{db: db, log: log}
}

func (m *MySQLAdapter) Create(ctx context.Context, order domain.Order) error {
	return m.inTx(ctx, "create order "+order.ID, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO orders (id, customer_id, currency, total_amount, status, delivery_address,
				payment_method, special_instructions, tracking_number, delivery_date, shipped_at,
				delivered_at, cancelled_at, completed_at, version, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			order.ID, order.CustomerID, order.TotalAmount.Currency, order.TotalAmount.Amount,
			string(order.Status), order.DeliveryAddress, order.PaymentMethod, order.SpecialInstructions,
			order.TrackingNumber, toNanos(order.DeliveryDate), toNanos(order.ShippedAt),
			toNanos(order.DeliveredAt), toNanos(order.CancelledAt), toNanos(order.CompletedAt),
			order.Version, toNanos(order.CreatedAt), toNanos(order.UpdatedAt),
		)
		if isDuplicate(err) {
			return domain.NewConflictError("order", order.ID)
		}
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		return insertItems(ctx, tx, order)
	})
}

func (m *MySQLAdapter) Get(ctx context.Context, id string) (domain.Order, error) {
	var o domain.Order
	var status string
	var deliveryDate, shipped, delivered, cancelled, completed, created, updated int64
	err := m.db.QueryRowContext(ctx, `
		SELECT id, customer_id, currency, total_amount, status, delivery_address, payment_method,
			special_instructions, tracking_number, delivery_date, shipped_at, delivered_at,
			cancelled_at, completed_at, version, created_at, updated_at
		FROM orders WHERE id = ?`, id,
	).Scan(&o.ID, &o.CustomerID, &o.TotalAmount.Currency, &o.TotalAmount.Amount, &status,
		&o.DeliveryAddress, &o.PaymentMethod, &o.SpecialInstructions, &o.TrackingNumber,
		&deliveryDate, &shipped, &delivered, &cancelled, &completed, &o.Version, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, domain.NewNotFoundError("order", id)
	}
	if err != nil {
		return domain.Order{}, domain.WrapPersistence("query order "+id, err)
	}

	o.Status = domain.OrderStatus(status)
	o.DeliveryDate = fromNanos(deliveryDate)
	o.ShippedAt = fromNanos(shipped)
	o.DeliveredAt = fromNanos(delivered)
	o.CancelledAt = fromNanos(cancelled)
	o.CompletedAt = fromNanos(completed)
	o.CreatedAt = fromNanos(created)
	o.UpdatedAt = fromNanos(updated)

	o.Items, err = m.loadItems(ctx, id)
	if err != nil {
		return domain.Order{}, domain.WrapPersistence("query items of order "+id, err)
	}
	return o, nil
}

// Update writes the order only if the stored version is the one it was
// derived from.
func (m *MySQLAdapter) Update(ctx context.Context, order domain.Order) error {
	return m.inTx(ctx, "update order "+order.ID, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE orders
			SET status = ?, delivery_address = ?, payment_method = ?, special_instructions = ?,
				tracking_number = ?, delivery_date = ?, shipped_at = ?, delivered_at = ?,
				cancelled_at = ?, completed_at = ?, version = ?, updated_at = ?
			WHERE id = ? AND version = ?`,
			string(order.Status), order.DeliveryAddress, order.PaymentMethod, order.SpecialInstructions,
			order.TrackingNumber, toNanos(order.DeliveryDate), toNanos(order.ShippedAt),
			toNanos(order.DeliveredAt), toNanos(order.CancelledAt), toNanos(order.CompletedAt),
			order.Version, toNanos(order.UpdatedAt),
			order.ID, order.Version-1,
		)
		if err != nil {
			return fmt.Errorf("update order: %w", err)
		}

		rows, _ := result.RowsAffected()
		if rows == 0 {
			var exists int
			err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders WHERE id = ?`, order.ID).Scan(&exists)
			if err != nil {
				return fmt.Errorf("check order: %w", err)
			}
			if exists == 0 {
				return domain.NewNotFoundError("order", order.ID)
			}
			return domain.NewConflictError("order", order.ID)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM order_items WHERE order_id = ?`, order.ID); err != nil {
			return fmt.Errorf("delete items: %w", err)
		}
		return insertItems(ctx, tx, order)
	})
}

func (m *MySQLAdapter) loadItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, product_id, quantity, currency, unit_price, weight
		FROM order_items WHERE order_id = ? ORDER BY position`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.OrderItem
	for rows.Next() {
		var (
			item   domain.OrderItem
			weight string
		)
		if err := rows.Scan(&item.ID, &item.ProductID, &item.Quantity, &item.UnitPrice.Currency, &item.UnitPrice.Amount, &weight); err != nil {
			return nil, err
		}
		if item.Weight, err = decimal.NewFromString(weight); err != nil {
			return nil, fmt.Errorf("item %s weight: %w", item.ID, err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func insertItems(ctx context.Context, tx *sql.Tx, order domain.Order) error {
	for i, item := range order.Items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, id, position, product_id, quantity, currency, unit_price, weight)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			order.ID, item.ID, i, item.ProductID, item.Quantity,
			item.UnitPrice.Currency, item.UnitPrice.Amount, item.Weight.String(),
		)
		if err != nil {
			return fmt.Errorf("insert item %s: %w", item.ID, err)
		}
	}
	return nil
}

// inTx runs fn in a transaction. Domain errors pass through untouched, any
// other failure becomes a persistence error.
func (m *MySQLAdapter) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.WrapPersistence(op, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		var derr *domain.Error
		if errors.As(err, &derr) {
			return err
		}
		m.log.WithFields(logrus.Fields{"op": op, "error": err}).Error("command store write failed")
		return domain.WrapPersistence(op, err)
	}
	if err := tx.Commit(); err != nil {
		return domain.WrapPersistence(op, fmt.Errorf("commit: %w", err))
	}
	return nil
}

func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDuplicateEntry
	}
	// sqlite reports constraint violations only through the message.
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
