package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Variant описывает строку склада с авторитетными ценой и остатком конкретного варианта товара.
type Variant struct {
	ID            int64
	SKU           string
	ProductName   string
	Price         decimal.Decimal
	StockQuantity int32
	Version       int64
	UpdatedAt     time.Time
}

// StockReservationItem описывает запрос на резерв одного варианта и не сохраняется.
type StockReservationItem struct {
	VariantID int64
	Quantity  int32
}

// ReservedItem подтверждает зарезервированное количество.
// ProductName и UnitPrice прочитаны из заблокированной строки и служат снимком для позиции заказа.
type ReservedItem struct {
	VariantID   int64
	ProductName string
	UnitPrice   decimal.Decimal
	Quantity    int32
	ReservedAt  time.Time
}

// StockReservationResult содержит итог резервирования: все позиции или ни одной.
type StockReservationResult struct {
	Success bool
	Items   []ReservedItem
	// Failure заполнен, когда Success == false, и указывает первый вариант без остатка.
	Failure *StockNotAvailableError
}

// Err превращает неуспешный результат в типизированный отказ.
func (r StockReservationResult) Err() error {
	if r.Success {
		return nil
	}
	if r.Failure != nil {
		return r.Failure
	}
	return ErrStockNotAvailable
}

// ValidateReservationItems проверяет запрос на резерв до взятия блокировок.
func ValidateReservationItems(items []StockReservationItem) error {
	if len(items) == 0 {
		return ErrItemsRequired
	}
	seen := make(map[int64]struct{}, len(items))
	for _, item := range items {
		if item.Quantity <= 0 {
			return ErrInvalidQuantity
		}
		if _, dup := seen[item.VariantID]; dup {
			return ErrDuplicateVariant
		}
		seen[item.VariantID] = struct{}{}
	}
	return nil
}
