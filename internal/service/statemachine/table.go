package statemachine

import (
	"iter"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

type transitionKey struct {
	from      domain.OrderStatus
	orderType domain.OrderType
}

// transitions остаётся единственным источником правды о допустимых переходах.
// Порядок в срезе задаёт порядок выдачи ValidNextStates: сначала движение по конвейеру, затем отмена.
var transitions = map[transitionKey][]domain.OrderStatus{
	{domain.OrderStatusPending, domain.OrderTypeB2C}:    {domain.OrderStatusProcessing, domain.OrderStatusCancelled},
	{domain.OrderStatusProcessing, domain.OrderTypeB2C}: {domain.OrderStatusShipped, domain.OrderStatusCancelled},
	{domain.OrderStatusShipped, domain.OrderTypeB2C}:    {domain.OrderStatusDelivered},
	{domain.OrderStatusDelivered, domain.OrderTypeB2C}:  {domain.OrderStatusReturned},

	{domain.OrderStatusPending, domain.OrderTypeB2B}:    {domain.OrderStatusApproved, domain.OrderStatusCancelled},
	{domain.OrderStatusApproved, domain.OrderTypeB2B}:   {domain.OrderStatusProcessing, domain.OrderStatusCancelled},
	{domain.OrderStatusProcessing, domain.OrderTypeB2B}: {domain.OrderStatusShipped, domain.OrderStatusCancelled},
	{domain.OrderStatusShipped, domain.OrderTypeB2B}:    {domain.OrderStatusDelivered},
	{domain.OrderStatusDelivered, domain.OrderTypeB2B}:  {domain.OrderStatusReturned},
}

func allowed(from, to domain.OrderStatus, orderType domain.OrderType) bool {
	for next := range ValidNextStates(from, orderType) {
		if next == to {
			return true
		}
	}
	return false
}

// ValidNextStates перечисляет строку таблицы переходов. Последовательность конечна и ленива.
func ValidNextStates(current domain.OrderStatus, orderType domain.OrderType) iter.Seq[domain.OrderStatus] {
	return func(yield func(domain.OrderStatus) bool) {
		for _, next := range transitions[transitionKey{from: current, orderType: orderType}] {
			if !yield(next) {
				return
			}
		}
	}
}
