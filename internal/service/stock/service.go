// Package stock резервирует и возвращает остатки вариантов внутри транзакции вызывающего.
package stock

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

// Service блокирует строки склада и меняет остатки.
// Сам транзакции не открывает и не фиксирует, откатом управляет вызывающий.
type Service struct {
	logger *log.Entry
	now    func() time.Time
}

// Option настраивает Service.
type Option func(*Service)

// WithLogger задаёт logger сервиса.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock подменяет источник времени (используется в тестах).
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService создаёт сервис резервирования.
func NewService(options ...Option) *Service {
	s := &Service{
		logger: log.WithField("component", "stock-reservation"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// ReserveStock резервирует все позиции или ни одной.
//
// Позиции обрабатываются в порядке запроса: строка варианта блокируется,
// остаток сравнивается с запрошенным и уменьшается. Первая позиция без
// достаточного остатка завершает вызов неуспешным результатом; уже сделанные
// списания отменит откат транзакции вызывающего.
//
// Ошибка возвращается только для инфраструктурных проблем вроде отсутствующего
// варианта или отмены контекста. Нехватка остатка возвращается как результат.
// Каждая зарезервированная позиция несёт цену и название из заблокированной строки.
func (s *Service) ReserveStock(ctx context.Context, tx domain.Tx, items []domain.StockReservationItem) (domain.StockReservationResult, error) {
	if err := domain.ValidateReservationItems(items); err != nil {
		return domain.StockReservationResult{}, err
	}

	variants := tx.Variants()
	reserved := make([]domain.ReservedItem, 0, len(items))
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return domain.StockReservationResult{}, err
		}

		variant, err := variants.GetForUpdate(ctx, item.VariantID)
		if err != nil {
			return domain.StockReservationResult{}, fmt.Errorf("lock variant %d: %w", item.VariantID, err)
		}

		if variant.StockQuantity < item.Quantity {
			s.logger.WithFields(log.Fields{
				"variant_id": item.VariantID,
				"requested":  item.Quantity,
				"available":  variant.StockQuantity,
			}).Warn("insufficient stock")
			return domain.StockReservationResult{
				Failure: &domain.StockNotAvailableError{
					VariantID: item.VariantID,
					Requested: item.Quantity,
					Available: variant.StockQuantity,
				},
			}, nil
		}

		if err := variants.SetStock(ctx, item.VariantID, variant.StockQuantity-item.Quantity); err != nil {
			return domain.StockReservationResult{}, fmt.Errorf("decrement variant %d: %w", item.VariantID, err)
		}
		reserved = append(reserved, domain.ReservedItem{
			VariantID:   item.VariantID,
			ProductName: variant.ProductName,
			UnitPrice:   variant.Price,
			Quantity:    item.Quantity,
			ReservedAt:  s.now(),
		})
	}

	return domain.StockReservationResult{Success: true, Items: reserved}, nil
}

// ReleaseStock возвращает количество на склад (например, при отмене заказа).
func (s *Service) ReleaseStock(ctx context.Context, tx domain.Tx, items []domain.StockReservationItem) error {
	if err := domain.ValidateReservationItems(items); err != nil {
		return err
	}

	variants := tx.Variants()
	for _, item := range items {
		variant, err := variants.GetForUpdate(ctx, item.VariantID)
		if err != nil {
			return fmt.Errorf("lock variant %d: %w", item.VariantID, err)
		}
		if err := variants.SetStock(ctx, item.VariantID, variant.StockQuantity+item.Quantity); err != nil {
			return fmt.Errorf("restock variant %d: %w", item.VariantID, err)
		}
	}

	s.logger.WithField("lines", len(items)).Debug("stock released")
	return nil
}

var _ domain.StockReleaser = (*Service)(nil)
