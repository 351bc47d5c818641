package domain

import "time"

// StatusHistoryEntry это запись append-only журнала смены статусов.
type StatusHistoryEntry struct {
	ID      string
	OrderID string
	// From пуст для записи о создании заказа.
	From       OrderStatus
	To         OrderStatus
	Reason     string
	ActorID    string
	OccurredAt time.Time
}
