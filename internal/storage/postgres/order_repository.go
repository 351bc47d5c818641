package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

const selectOrderColumns = `
	SELECT id, order_number, order_type, status, customer_id, company_id, currency,
	       subtotal, discount, tax, shipping, total, note,
	       shipping_address_id, billing_address_id, version, created_at, updated_at
	FROM orders
	WHERE id = $1`

type orderRepository struct {
	u *unitOfWork
}

func (r orderRepository) Create(ctx context.Context, order domain.Order) error {
	_, err := r.u.tx.ExecContext(ctx, `
		INSERT INTO orders (
			id, order_number, order_type, status, customer_id, company_id, currency,
			subtotal, discount, tax, shipping, total, note,
			shipping_address_id, billing_address_id, version, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
	`,
		order.ID, order.Number, string(order.Type), string(order.Status), order.CustomerID, order.CompanyID, order.Currency,
		order.Subtotal, order.Discount, order.Tax, order.Shipping, order.Total, order.Note,
		order.ShippingAddressID, order.BillingAddressID, order.Version, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		switch {
		case isUniqueViolation(err, orderNumberIndex):
			return fmt.Errorf("insert order %s: %w", order.Number, domain.ErrOrderNumberConflict)
		case isUniqueViolation(err, ""):
			return domain.ErrOrderVersionConflict
		}
		return fmt.Errorf("insert order: %w", mapTxErr(err))
	}

	for position, item := range order.Items {
		if _, err := r.u.tx.ExecContext(ctx, `
			INSERT INTO order_items (
				id, order_id, variant_id, product_name, quantity, unit_price, line_total, position, created_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`,
			item.ID, order.ID, item.VariantID, item.ProductName, item.Quantity,
			item.UnitPrice, item.LineTotal, position, item.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert order item: %w", mapTxErr(err))
		}
	}

	return nil
}

func (r orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	return r.load(ctx, selectOrderColumns, id)
}

func (r orderRepository) GetForUpdate(ctx context.Context, id string) (domain.Order, error) {
	order, err := r.load(ctx, selectOrderColumns+" FOR UPDATE", id)
	if err != nil {
		return domain.Order{}, err
	}
	r.u.markOrderLocked(id)
	return order, nil
}

func (r orderRepository) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus, updatedAt time.Time) error {
	if !r.u.orderLocked(id) {
		return fmt.Errorf("update order %s: %w", id, domain.ErrLockNotHeld)
	}

	res, err := r.u.tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $2,
		    version = version + 1,
		    updated_at = $3
		WHERE id = $1
	`, id, string(status), updatedAt)
	if err != nil {
		return fmt.Errorf("update order status: %w", mapTxErr(err))
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func (r orderRepository) CountForYear(ctx context.Context, year int) (int64, error) {
	from := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(1, 0, 0)

	var count int64
	if err := r.u.tx.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM orders
		WHERE created_at >= $1 AND created_at < $2
	`, from, to).Scan(&count); err != nil {
		return 0, fmt.Errorf("count orders for year: %w", mapTxErr(err))
	}
	return count, nil
}

func (r orderRepository) load(ctx context.Context, query, id string) (domain.Order, error) {
	var (
		order     domain.Order
		orderType string
		status    string
	)

	err := r.u.tx.QueryRowContext(ctx, query, id).Scan(
		&order.ID, &order.Number, &orderType, &status, &order.CustomerID, &order.CompanyID, &order.Currency,
		&order.Subtotal, &order.Discount, &order.Tax, &order.Shipping, &order.Total, &order.Note,
		&order.ShippingAddressID, &order.BillingAddressID, &order.Version, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", mapTxErr(err))
	}
	order.Type = domain.OrderType(orderType)
	order.Status = domain.OrderStatus(status)
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()

	items, err := r.loadItems(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items

	return order, nil
}

func (r orderRepository) loadItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := r.u.tx.QueryContext(ctx, `
		SELECT id, variant_id, product_name, quantity, unit_price, line_total, created_at
		FROM order_items
		WHERE order_id = $1
		ORDER BY position ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", mapTxErr(err))
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(
			&item.ID, &item.VariantID, &item.ProductName, &item.Quantity,
			&item.UnitPrice, &item.LineTotal, &item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		item.CreatedAt = item.CreatedAt.UTC()
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}

	return items, nil
}
