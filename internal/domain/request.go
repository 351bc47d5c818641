package domain

import "github.com/shopspring/decimal"

// OrderLineRequest описывает позицию корзины с ценой, которую видел покупатель.
type OrderLineRequest struct {
	VariantID         int64
	Quantity          int32
	ExpectedUnitPrice decimal.Decimal
}

// CreateOrderRequest содержит входные данные оформления заказа.
// Скидка, налог и доставка считаются вне ядра и приходят готовыми суммами.
type CreateOrderRequest struct {
	CustomerID        string
	Currency          string
	Items             []OrderLineRequest
	Discount          decimal.Decimal
	Tax               decimal.Decimal
	Shipping          decimal.Decimal
	Note              string
	ShippingAddressID int64
	BillingAddressID  int64
}

// ExpectedSubtotal считает сумму позиций по ценам корзины.
func (r CreateOrderRequest) ExpectedSubtotal() decimal.Decimal {
	subtotal := decimal.Zero
	for _, item := range r.Items {
		subtotal = subtotal.Add(LineTotal(item.Quantity, item.ExpectedUnitPrice))
	}
	return subtotal
}

// ExpectedTotal считает итог заказа по ценам корзины.
func (r CreateOrderRequest) ExpectedTotal() decimal.Decimal {
	return OrderTotal(r.ExpectedSubtotal(), r.Discount, r.Tax, r.Shipping)
}

// PriceCheckItems возвращает позиции для проверки цен.
func (r CreateOrderRequest) PriceCheckItems() []PriceCheckItem {
	items := make([]PriceCheckItem, 0, len(r.Items))
	for _, item := range r.Items {
		items = append(items, PriceCheckItem{VariantID: item.VariantID, ExpectedPrice: item.ExpectedUnitPrice})
	}
	return items
}

// ReservationItems возвращает позиции для резерва склада.
func (r CreateOrderRequest) ReservationItems() []StockReservationItem {
	items := make([]StockReservationItem, 0, len(r.Items))
	for _, item := range r.Items {
		items = append(items, StockReservationItem{VariantID: item.VariantID, Quantity: item.Quantity})
	}
	return items
}
