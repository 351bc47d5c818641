package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderType задаёт канал продаж заказа.
type OrderType string

const (
	// Заказ розничного покупателя.
	OrderTypeB2C OrderType = "B2C"
	// Заказ бизнес-клиента, требует согласования (Approved).
	OrderTypeB2B OrderType = "B2B"
)

// Valid проверяет, что тип заказа поддерживается.
func (t OrderType) Valid() bool {
	return t == OrderTypeB2C || t == OrderTypeB2B
}

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// Начальный статус любого нового заказа.
	OrderStatusPending OrderStatus = "Pending"
	// B2B-заказ согласован.
	OrderStatusApproved OrderStatus = "Approved"
	// Заказ собирается на складе.
	OrderStatusProcessing OrderStatus = "Processing"
	// Заказ передан в доставку.
	OrderStatusShipped OrderStatus = "Shipped"
	// Заказ получен клиентом.
	OrderStatusDelivered OrderStatus = "Delivered"
	// Заказ отменён, резерв возвращён на склад.
	OrderStatusCancelled OrderStatus = "Cancelled"
	// Доставленный заказ возвращён.
	OrderStatusReturned OrderStatus = "Returned"
)

// AllOrderStatuses перечисляет статусы в порядке конвейера.
var AllOrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusApproved,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
	OrderStatusReturned,
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	for _, status := range AllOrderStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// Terminal сообщает, что заказ вышел из конвейера исполнения.
// Из Delivered допускается только возврат (Returned), остальные терминальные статусы конечны.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusDelivered, OrderStatusCancelled, OrderStatusReturned:
		return true
	default:
		return false
	}
}

// OrderItem представляет одну позицию заказа.
type OrderItem struct {
	ID          string
	VariantID   int64
	ProductName string
	Quantity    int32
	// Снимок цены на момент оформления, дальше не меняется.
	UnitPrice decimal.Decimal
	LineTotal decimal.Decimal
	CreatedAt time.Time
}

// Order агрегирует состояние заказа и его позиции.
type Order struct {
	ID                string
	Number            string
	Type              OrderType
	Status            OrderStatus
	CustomerID        string
	CompanyID         string
	Currency          string
	Subtotal          decimal.Decimal
	Discount          decimal.Decimal
	Tax               decimal.Decimal
	Shipping          decimal.Decimal
	Total             decimal.Decimal
	Note              string
	ShippingAddressID int64
	BillingAddressID  int64
	Items             []OrderItem
	Version           int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// LineTotal считает сумму позиции как quantity * unit price.
func LineTotal(qty int32, unitPrice decimal.Decimal) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt32(qty))
}

// OrderTotal считает итог как subtotal - discount + tax + shipping.
func OrderTotal(subtotal, discount, tax, shipping decimal.Decimal) decimal.Decimal {
	return subtotal.Sub(discount).Add(tax).Add(shipping)
}

// ReservationItems возвращает позиции заказа в виде запроса на резерв.
func (o *Order) ReservationItems() []StockReservationItem {
	items := make([]StockReservationItem, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, StockReservationItem{VariantID: item.VariantID, Quantity: item.Quantity})
	}
	return items
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.CustomerID == "" {
		errs = append(errs, ErrCustomerRequired)
	}
	if o.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	if !o.Type.Valid() {
		errs = append(errs, ErrOrderTypeInvalid)
	}
	if o.Type == OrderTypeB2B && o.CompanyID == "" {
		errs = append(errs, ErrCompanyRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	for _, amount := range []decimal.Decimal{o.Subtotal, o.Discount, o.Tax, o.Shipping, o.Total} {
		if amount.IsNegative() {
			errs = append(errs, ErrAmountNegative)
			break
		}
	}

	// Сверяем subtotal с суммой позиций qty * price.
	calc := decimal.Zero
	for _, item := range o.Items {
		if item.Quantity <= 0 {
			errs = append(errs, ErrInvalidQuantity)
		}
		if item.UnitPrice.IsNegative() {
			errs = append(errs, ErrItemPriceInvalid)
		}
		if !item.LineTotal.Equal(LineTotal(item.Quantity, item.UnitPrice)) {
			errs = append(errs, ErrAmountMismatch)
		}
		calc = calc.Add(item.LineTotal)
	}
	if !calc.Equal(o.Subtotal) {
		errs = append(errs, ErrAmountMismatch)
	}
	if !o.Total.Equal(OrderTotal(o.Subtotal, o.Discount, o.Tax, o.Shipping)) {
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}
