package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

type variantRepository struct {
	u *unitOfWork
}

// GetForUpdate берёт эксклюзивную блокировку строки склада до конца транзакции.
func (r variantRepository) GetForUpdate(ctx context.Context, id int64) (domain.Variant, error) {
	var v domain.Variant
	err := r.u.tx.QueryRowContext(ctx, `
		SELECT id, sku, product_name, price, stock_quantity, version, updated_at
		FROM product_variants
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&v.ID, &v.SKU, &v.ProductName, &v.Price, &v.StockQuantity, &v.Version, &v.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Variant{}, domain.ErrVariantNotFound
		}
		return domain.Variant{}, fmt.Errorf("lock variant: %w", mapTxErr(err))
	}
	v.UpdatedAt = v.UpdatedAt.UTC()
	r.u.markVariantLocked(id)
	return v, nil
}

func (r variantRepository) SetStock(ctx context.Context, id int64, quantity int32) error {
	if !r.u.variantLocked(id) {
		return fmt.Errorf("set stock for variant %d: %w", id, domain.ErrLockNotHeld)
	}
	if quantity < 0 {
		return fmt.Errorf("set stock for variant %d: %w", id, domain.ErrInvalidQuantity)
	}

	res, err := r.u.tx.ExecContext(ctx, `
		UPDATE product_variants
		SET stock_quantity = $2,
		    version = version + 1,
		    updated_at = NOW()
		WHERE id = $1
	`, id, quantity)
	if err != nil {
		return fmt.Errorf("update stock: %w", mapTxErr(err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrVariantNotFound
	}
	return nil
}

// GetPrices читает цены без блокировки строк.
// Снимок цены для заказа берётся из строки, заблокированной GetForUpdate, поэтому разделяемая
// блокировка здесь не нужна. Она к тому же вела к взаимоблокировке при последующем FOR UPDATE.
func (r variantRepository) GetPrices(ctx context.Context, ids []int64) (map[int64]domain.Variant, error) {
	result := make(map[int64]domain.Variant, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := r.u.tx.QueryContext(ctx, `
		SELECT id, sku, product_name, price, stock_quantity, version, updated_at
		FROM product_variants
		WHERE id = ANY($1)
		ORDER BY id
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("select prices: %w", mapTxErr(err))
	}
	defer rows.Close()

	for rows.Next() {
		var v domain.Variant
		if err := rows.Scan(&v.ID, &v.SKU, &v.ProductName, &v.Price, &v.StockQuantity, &v.Version, &v.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan variant: %w", err)
		}
		v.UpdatedAt = v.UpdatedAt.UTC()
		result[v.ID] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate variants: %w", err)
	}
	return result, nil
}

// UpsertVariant добавляет или обновляет строку склада вне бизнес-транзакций (сидинг, админка).
func (s *Store) UpsertVariant(ctx context.Context, v domain.Variant) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO product_variants (id, sku, product_name, price, stock_quantity, version, updated_at)
		VALUES ($1,$2,$3,$4,$5,0,NOW())
		ON CONFLICT (id) DO UPDATE
		SET sku = EXCLUDED.sku,
		    product_name = EXCLUDED.product_name,
		    price = EXCLUDED.price,
		    stock_quantity = EXCLUDED.stock_quantity,
		    version = product_variants.version + 1,
		    updated_at = NOW()
	`, v.ID, v.SKU, v.ProductName, v.Price, v.StockQuantity); err != nil {
		return fmt.Errorf("upsert variant %d: %w", v.ID, err)
	}
	return nil
}
