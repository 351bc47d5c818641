package domain

import "github.com/shopspring/decimal"

// PriceCheckItem несёт ожидаемую цену варианта, зафиксированную в корзине.
type PriceCheckItem struct {
	VariantID     int64
	ExpectedPrice decimal.Decimal
}

// PriceChangeDetail описывает расхождение ожидаемой и текущей цены.
type PriceChangeDetail struct {
	VariantID     int64
	ProductName   string
	ExpectedPrice decimal.Decimal
	CurrentPrice  decimal.Decimal
	// Абсолютная разница |current - expected|.
	Difference decimal.Decimal
	// Изменение в процентах со знаком, (current - expected) / expected * 100.
	PercentageChange decimal.Decimal
}

// PriceValidationResult вычисляется на каждый вызов и не сохраняется.
type PriceValidationResult struct {
	Valid   bool
	Changes []PriceChangeDetail
}

// Err превращает неуспешный результат в *PriceChangedError.
func (r PriceValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	return &PriceChangedError{Changes: r.Changes}
}
