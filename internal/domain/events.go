package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// AggregateOrder задаёт тип агрегата для событий заказа в outbox.
const AggregateOrder = "order"

// OrderCreatedPayload это тело события OrderCreated.
type OrderCreatedPayload struct {
	OrderID    string          `json:"order_id"`
	Number     string          `json:"order_number"`
	Type       OrderType       `json:"order_type"`
	Status     OrderStatus     `json:"status"`
	CustomerID string          `json:"customer_id"`
	CompanyID  string          `json:"company_id,omitempty"`
	Currency   string          `json:"currency"`
	Total      decimal.Decimal `json:"total"`
	Lines      int             `json:"lines"`
	CreatedAt  time.Time       `json:"created_at"`
}

// OrderStatusChangedPayload это тело события OrderStatusChanged.
type OrderStatusChangedPayload struct {
	OrderID    string      `json:"order_id"`
	Number     string      `json:"order_number"`
	Type       OrderType   `json:"order_type"`
	From       OrderStatus `json:"from"`
	To         OrderStatus `json:"to"`
	Reason     string      `json:"reason,omitempty"`
	ActorID    string      `json:"actor_id,omitempty"`
	OccurredAt time.Time   `json:"occurred_at"`
}

// NewOrderCreatedMessage собирает outbox-сообщение о создании заказа.
func NewOrderCreatedMessage(order Order) (OutboxMessage, error) {
	return newOrderMessage(order.ID, EventOrderCreated, OrderCreatedPayload{
		OrderID:    order.ID,
		Number:     order.Number,
		Type:       order.Type,
		Status:     order.Status,
		CustomerID: order.CustomerID,
		CompanyID:  order.CompanyID,
		Currency:   order.Currency,
		Total:      order.Total,
		Lines:      len(order.Items),
		CreatedAt:  order.CreatedAt,
	}, order.CreatedAt)
}

// NewStatusChangedMessage собирает outbox-сообщение о смене статуса.
func NewStatusChangedMessage(order Order, entry StatusHistoryEntry) (OutboxMessage, error) {
	return newOrderMessage(order.ID, EventOrderStatusChanged, OrderStatusChangedPayload{
		OrderID:    order.ID,
		Number:     order.Number,
		Type:       order.Type,
		From:       entry.From,
		To:         entry.To,
		Reason:     entry.Reason,
		ActorID:    entry.ActorID,
		OccurredAt: entry.OccurredAt,
	}, entry.OccurredAt)
}

func newOrderMessage(orderID, eventType string, payload any, at time.Time) (OutboxMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return OutboxMessage{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return OutboxMessage{
		AggregateType: AggregateOrder,
		AggregateID:   orderID,
		EventType:     eventType,
		Payload:       data,
		CreatedAt:     at,
	}, nil
}
