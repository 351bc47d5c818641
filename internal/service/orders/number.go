package orders

import (
	"context"
	"fmt"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

const numberPrefix = "ORD"

// FormatOrderNumber собирает номер вида ORD-{year}-{000001}.
func FormatOrderNumber(year int, seq int64) string {
	return fmt.Sprintf("%s-%d-%06d", numberPrefix, year, seq)
}

// CountSequence выдаёт номер как количество заказов года плюс один.
// Гонку между параллельными транзакциями закрывает уникальный индекс на номере и повтор попытки.
type CountSequence struct{}

// Next возвращает следующий порядковый номер в пределах года.
func (CountSequence) Next(ctx context.Context, tx domain.Tx, year int) (int64, error) {
	count, err := tx.Orders().CountForYear(ctx, year)
	if err != nil {
		return 0, fmt.Errorf("count orders for %d: %w", year, err)
	}
	return count + 1, nil
}

var _ domain.OrderSequence = CountSequence{}
