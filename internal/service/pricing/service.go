// Package pricing сверяет цены корзины с авторитетными ценами вариантов.
package pricing

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

const percentagePlaces = 4

var hundred = decimal.NewFromInt(100)

// Service проверяет дрейф цен внутри транзакции вызывающего.
type Service struct {
	logger *log.Entry
}

// NewService создаёт сервис проверки цен.
func NewService(logger *log.Entry) *Service {
	if logger == nil {
		logger = log.WithField("component", "price-validation")
	}
	return &Service{logger: logger}
}

// ValidatePrices сравнивает ожидаемые цены с текущими точным равенством decimal.
// Результат невалиден, если расходится хотя бы одна позиция; в нём перечислены все расхождения.
func (s *Service) ValidatePrices(ctx context.Context, tx domain.Tx, items []domain.PriceCheckItem) (domain.PriceValidationResult, error) {
	if len(items) == 0 {
		return domain.PriceValidationResult{}, domain.ErrItemsRequired
	}
	if err := ctx.Err(); err != nil {
		return domain.PriceValidationResult{}, err
	}

	ids := make([]int64, 0, len(items))
	seen := make(map[int64]struct{}, len(items))
	for _, item := range items {
		if _, ok := seen[item.VariantID]; ok {
			continue
		}
		seen[item.VariantID] = struct{}{}
		ids = append(ids, item.VariantID)
	}

	current, err := tx.Variants().GetPrices(ctx, ids)
	if err != nil {
		return domain.PriceValidationResult{}, fmt.Errorf("load current prices: %w", err)
	}

	var changes []domain.PriceChangeDetail
	for _, item := range items {
		variant, ok := current[item.VariantID]
		if !ok {
			return domain.PriceValidationResult{}, fmt.Errorf("variant %d: %w", item.VariantID, domain.ErrVariantNotFound)
		}
		if variant.Price.Equal(item.ExpectedPrice) {
			continue
		}
		changes = append(changes, NewChangeDetail(variant, item.ExpectedPrice))
	}

	if len(changes) > 0 {
		s.logger.WithField("changed_items", len(changes)).Info("price drift detected")
		return domain.PriceValidationResult{Changes: changes}, nil
	}
	return domain.PriceValidationResult{Valid: true}, nil
}

// NewChangeDetail описывает расхождение цены варианта с ожидаемой.
func NewChangeDetail(variant domain.Variant, expected decimal.Decimal) domain.PriceChangeDetail {
	return domain.PriceChangeDetail{
		VariantID:        variant.ID,
		ProductName:      variant.ProductName,
		ExpectedPrice:    expected,
		CurrentPrice:     variant.Price,
		Difference:       variant.Price.Sub(expected).Abs(),
		PercentageChange: PercentageChange(expected, variant.Price),
	}
}

// PercentageChange возвращает (current - expected) / expected * 100 с точностью до 4 знаков.
// Для нулевой ожидаемой цены любое положительное значение считается ростом на 100%.
func PercentageChange(expected, current decimal.Decimal) decimal.Decimal {
	if expected.IsZero() {
		switch {
		case current.IsPositive():
			return hundred
		case current.IsNegative():
			return hundred.Neg()
		default:
			return decimal.Zero
		}
	}
	return current.Sub(expected).Div(expected).Mul(hundred).Round(percentagePlaces)
}
